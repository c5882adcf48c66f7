// Package halsim provides an in-memory hal.OS double so devicecore,
// device, and registry can be exercised deterministically off Darwin and
// without real hardware. It lets tests script OS convergence delays,
// inject property-change notifications, and drive the I/O proc directly,
// which is exactly the set of seams the test suites need.
package halsim

import (
	"fmt"
	"sync"

	"github.com/ColonelBlimp/audiobridge/internal/hal"
)

// Device is the scriptable per-device OS state a FakeOS device id maps to.
type Device struct {
	Name               string
	InputChannels      int
	OutputChannels     int
	InputStreams       []hal.StreamLayout
	OutputStreams      []hal.StreamLayout
	SampleRate         float64
	BufferFrameSize    uint32
	SampleRateRanges   []hal.SampleRateRange
	BufferFrameRanges  []hal.BufferFrameRange
	InputLatency       uint32
	OutputLatency      uint32
	Alive              bool
	Running            bool
	DataSourceNames    []string
	CurrentDataSource  int
	Related            []hal.DeviceID
	PendingSampleRate  float64 // set-once target; convergence delay below
	PendingBufferSize  uint32
	ConvergeAfterPolls int // refreshFromOS reads required before pending values apply

	pollsSoFar int
	rateReads  int
	ioproc     hal.IOProc
	ioprocTok  hal.IOProcToken
	listener   hal.PropertyListener
	listenTok  hal.ListenerToken
}

// FakeOS implements hal.OS entirely in memory.
type FakeOS struct {
	mu      sync.Mutex
	devices map[hal.DeviceID]*Device
	nextTok uint64

	DefaultInput  hal.DeviceID
	DefaultOutput hal.DeviceID

	deviceListListeners map[hal.ListenerToken]func()
}

// New creates an empty FakeOS; use AddDevice to populate it.
func New() *FakeOS {
	return &FakeOS{
		devices:             make(map[hal.DeviceID]*Device),
		deviceListListeners: make(map[hal.ListenerToken]func()),
	}
}

// AddDevice registers dev under id, overwriting sensible defaults for any
// zero-value fields so tests only need to set what they care about.
func (f *FakeOS) AddDevice(id hal.DeviceID, dev *Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dev.SampleRateRanges == nil {
		dev.SampleRateRanges = []hal.SampleRateRange{{Min: 44100, Max: 48000}, {Min: 88200, Max: 192000}}
	}
	if dev.BufferFrameRanges == nil {
		dev.BufferFrameRanges = []hal.BufferFrameRange{{Min: 32, Max: 4096}}
	}
	if dev.SampleRate == 0 {
		dev.SampleRate = 48000
	}
	if dev.BufferFrameSize == 0 {
		dev.BufferFrameSize = 512
	}
	dev.Alive = true
	dev.CurrentDataSource = -1
	if len(dev.DataSourceNames) > 0 {
		dev.CurrentDataSource = 0
	}
	f.devices[id] = dev
}

func (f *FakeOS) get(id hal.DeviceID) (*Device, error) {
	dev, ok := f.devices[id]
	if !ok {
		return nil, fmt.Errorf("fake device %d not found", id)
	}
	return dev, nil
}

func (f *FakeOS) DeviceList() ([]hal.DeviceID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]hal.DeviceID, 0, len(f.devices))
	for id := range f.devices {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *FakeOS) DefaultDevice(dir hal.Direction) (hal.DeviceID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dir == hal.Input {
		return f.DefaultInput, nil
	}
	return f.DefaultOutput, nil
}

func (f *FakeOS) DeviceName(id hal.DeviceID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return "", err
	}
	return dev.Name, nil
}

func (f *FakeOS) ChannelCount(id hal.DeviceID, dir hal.Direction) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return 0, err
	}
	if dir == hal.Input {
		return dev.InputChannels, nil
	}
	return dev.OutputChannels, nil
}

func (f *FakeOS) IsAlive(id hal.DeviceID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return false
	}
	return dev.Alive
}

func (f *FakeOS) NominalSampleRate(id hal.DeviceID) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return 0, err
	}
	dev.rateReads++
	f.advanceConvergence(dev)
	return dev.SampleRate, nil
}

// NominalRateReads reports how many times NominalSampleRate has been read
// for id. Tests use it to count refresh passes, since every refresh reads
// the nominal rate exactly once.
func (f *FakeOS) NominalRateReads(id hal.DeviceID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return 0
	}
	return dev.rateReads
}

func (f *FakeOS) advanceConvergence(dev *Device) {
	if dev.PendingSampleRate == 0 && dev.PendingBufferSize == 0 {
		return
	}
	dev.pollsSoFar++
	if dev.pollsSoFar < dev.ConvergeAfterPolls {
		return
	}
	if dev.PendingSampleRate != 0 {
		dev.SampleRate = dev.PendingSampleRate
	}
	if dev.PendingBufferSize != 0 {
		dev.BufferFrameSize = dev.PendingBufferSize
	}
	dev.PendingSampleRate = 0
	dev.PendingBufferSize = 0
}

func (f *FakeOS) SetNominalSampleRate(id hal.DeviceID, rate float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return err
	}
	if dev.ConvergeAfterPolls > 0 {
		dev.PendingSampleRate = rate
		dev.pollsSoFar = 0
	} else {
		dev.SampleRate = rate
	}
	return nil
}

func (f *FakeOS) BufferFrameSize(id hal.DeviceID) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return 0, err
	}
	f.advanceConvergence(dev)
	return dev.BufferFrameSize, nil
}

func (f *FakeOS) SetBufferFrameSize(id hal.DeviceID, frames uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return err
	}
	if dev.ConvergeAfterPolls > 0 {
		dev.PendingBufferSize = frames
		dev.pollsSoFar = 0
	} else {
		dev.BufferFrameSize = frames
	}
	return nil
}

func (f *FakeOS) AvailableSampleRateRanges(id hal.DeviceID) ([]hal.SampleRateRange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return nil, err
	}
	return dev.SampleRateRanges, nil
}

func (f *FakeOS) AvailableBufferFrameRanges(id hal.DeviceID) ([]hal.BufferFrameRange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return nil, err
	}
	return dev.BufferFrameRanges, nil
}

func (f *FakeOS) Latency(id hal.DeviceID, dir hal.Direction) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return 0, err
	}
	if dir == hal.Input {
		return dev.InputLatency, nil
	}
	return dev.OutputLatency, nil
}

func (f *FakeOS) StreamLayouts(id hal.DeviceID, dir hal.Direction) ([]hal.StreamLayout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return nil, err
	}
	if dir == hal.Input {
		return dev.InputStreams, nil
	}
	return dev.OutputStreams, nil
}

func (f *FakeOS) IsRunning(id hal.DeviceID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return false, err
	}
	return dev.Running, nil
}

func (f *FakeOS) DataSources(id hal.DeviceID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return nil, err
	}
	return dev.DataSourceNames, nil
}

func (f *FakeOS) CurrentDataSourceIndex(id hal.DeviceID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return -1, err
	}
	return dev.CurrentDataSource, nil
}

func (f *FakeOS) SetCurrentDataSourceIndex(id hal.DeviceID, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(dev.DataSourceNames) {
		return fmt.Errorf("data source index %d out of range", index)
	}
	dev.CurrentDataSource = index
	return nil
}

func (f *FakeOS) RelatedDevices(id hal.DeviceID) ([]hal.DeviceID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return nil, err
	}
	return dev.Related, nil
}

func (f *FakeOS) AddIOProc(id hal.DeviceID, proc hal.IOProc) (hal.IOProcToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return 0, err
	}
	if dev.ioproc != nil {
		return 0, fmt.Errorf("device %d already has an io proc installed", id)
	}
	f.nextTok++
	dev.ioproc = proc
	dev.ioprocTok = hal.IOProcToken(f.nextTok)
	return dev.ioprocTok, nil
}

func (f *FakeOS) RemoveIOProc(id hal.DeviceID, token hal.IOProcToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return err
	}
	if dev.ioprocTok != token {
		return fmt.Errorf("io proc token mismatch for device %d", id)
	}
	dev.ioproc = nil
	dev.ioprocTok = 0
	return nil
}

func (f *FakeOS) StartDevice(id hal.DeviceID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return err
	}
	if dev.ioproc == nil {
		return fmt.Errorf("device %d has no io proc installed", id)
	}
	dev.Running = true
	return nil
}

func (f *FakeOS) StopDevice(id hal.DeviceID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return err
	}
	dev.Running = false
	return nil
}

func (f *FakeOS) AddPropertyListener(id hal.DeviceID, listener hal.PropertyListener) (hal.ListenerToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return 0, err
	}
	f.nextTok++
	dev.listener = listener
	dev.listenTok = hal.ListenerToken(f.nextTok)
	return dev.listenTok, nil
}

func (f *FakeOS) RemovePropertyListener(id hal.DeviceID, token hal.ListenerToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, err := f.get(id)
	if err != nil {
		return err
	}
	if dev.listenTok != token {
		return fmt.Errorf("listener token mismatch for device %d", id)
	}
	dev.listener = nil
	dev.listenTok = 0
	return nil
}

// Fire invokes id's installed IOProc directly, simulating one hardware
// interrupt. It is the realtime-path test entry point for the
// interleave/deinterleave round-trip tests.
func (f *FakeOS) Fire(id hal.DeviceID, in []hal.Buffer, out []hal.Buffer, frameCount int) {
	f.mu.Lock()
	dev, err := f.get(id)
	if err != nil {
		f.mu.Unlock()
		return
	}
	proc := dev.ioproc
	f.mu.Unlock()
	if proc != nil {
		proc(in, out, frameCount)
	}
}

// Notify invokes id's installed property listener, simulating an
// OS-initiated property change notification.
func (f *FakeOS) Notify(id hal.DeviceID, selector hal.PropertySelector) {
	f.mu.Lock()
	dev, err := f.get(id)
	if err != nil {
		f.mu.Unlock()
		return
	}
	listener := dev.listener
	f.mu.Unlock()
	if listener != nil {
		listener(selector)
	}
}

// AddDeviceListListener registers a system-wide device-list-changed
// listener, independent of any single device's per-property listener.
func (f *FakeOS) AddDeviceListListener(listener func()) (hal.ListenerToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTok++
	token := hal.ListenerToken(f.nextTok)
	f.deviceListListeners[token] = listener
	return token, nil
}

func (f *FakeOS) RemoveDeviceListListener(token hal.ListenerToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.deviceListListeners[token]; !ok {
		return fmt.Errorf("unknown device-list listener token %d", token)
	}
	delete(f.deviceListListeners, token)
	return nil
}

// FireDevicesChanged invokes every registered device-list listener,
// simulating the OS hardware object's DevicesChanged notification.
func (f *FakeOS) FireDevicesChanged() {
	f.mu.Lock()
	listeners := make([]func(), 0, len(f.deviceListListeners))
	for _, l := range f.deviceListListeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()
	for _, l := range listeners {
		l()
	}
}

// SetAlive flips the scripted device-alive flag for id.
func (f *FakeOS) SetAlive(id hal.DeviceID, alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dev, err := f.get(id); err == nil {
		dev.Alive = alive
	}
}
