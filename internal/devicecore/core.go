package devicecore

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ColonelBlimp/audiobridge/internal/hal"
)

// DeviceCore is one instance per physical device. It owns all per-device
// state, mediates every OS property read/write, runs the real-time I/O
// proc, and performs the interleave/deinterleave.
type DeviceCore struct {
	id  hal.DeviceID
	os  hal.OS
	log *log.Logger

	valid bool // false if the OS rejected id at construction; every op then no-ops

	// role: standalone unless slave is set (master) or isSlaveDevice is
	// true (slave). The slave is exclusively owned by the master and
	// holds no pointer back to it.
	isSlaveDevice bool
	slave         *DeviceCore

	// --- fields guarded by mu, the realtime lock ---
	mu               sync.Mutex
	client           RealtimeClient
	callbacksAllowed bool
	started          bool

	numInputChans     int
	numOutputChans    int
	activeInputChans  uint64
	activeOutputChans uint64

	inputRouting   [MaxChannels]ChannelRouting
	inputRoutingN  int
	outputRouting  [MaxChannels]ChannelRouting
	outputRoutingN int

	bufferSize int // frames

	tempBacking       []float32
	tempInputBuffers  [][]float32 // compacted logical order, length numInputChans
	tempOutputBuffers [][]float32 // compacted logical order, length numOutputChans
	// --- end realtime-lock-guarded fields ---

	sampleRate           float64
	availableSampleRates []float64
	availableBufferSizes []int
	inChanNames          []string
	outChanNames         []string
	inputLatency         uint32
	outputLatency        uint32
	lastError            string

	ioProcToken   hal.IOProcToken
	listenerToken hal.ListenerToken

	refreshTimer *debounceTimer
}

// New constructs a DeviceCore for id. If the OS rejects id, lastError is
// populated and the returned core is inert: every subsequent operation is
// a no-op. Otherwise it installs a property listener
// and performs an initial refreshFromOS.
func New(id hal.DeviceID, osIface hal.OS, logger *log.Logger) *DeviceCore {
	if logger == nil {
		logger = log.Default()
	}
	c := &DeviceCore{id: id, os: osIface, log: logger}

	if _, err := osIface.DeviceName(id); err != nil {
		c.lastError = errOpenFailurePrefix + err.Error()
		return c
	}
	c.valid = true
	c.callbacksAllowed = true

	c.refreshTimer = newDebounceTimer(debounceDelay*time.Millisecond, c.onDebouncedRefresh)

	token, err := osIface.AddPropertyListener(id, c.onPropertyChanged)
	if err != nil {
		c.log.Warn("add property listener failed", "device", id, "err", err)
	} else {
		c.listenerToken = token
	}

	if err := c.refreshFromOS(); err != nil {
		c.lastError = err.Error()
	}

	c.log.Debug("device core ready", "device", id, "name", c.nameOrFallback(),
		"rate", c.sampleRate, "size", c.bufferSize)
	return c
}

// ID returns the OS device handle this core wraps.
func (c *DeviceCore) ID() hal.DeviceID { return c.id }

// Valid reports whether the OS accepted this device id at construction.
func (c *DeviceCore) Valid() bool { return c.valid }

// LastError returns the most recently recorded error string, or "".
func (c *DeviceCore) LastError() string { return c.lastError }

// IsSlaveDevice reports whether this core plays the slave role in a
// master/slave aggregation.
func (c *DeviceCore) IsSlaveDevice() bool { return c.isSlaveDevice }

// Slave returns the paired slave core, or nil for a standalone/slave core.
func (c *DeviceCore) Slave() *DeviceCore { return c.slave }

// SetSlave installs slave as this core's slave and marks slave accordingly.
// Only called by the registry while constructing a CombinedDevice.
func (c *DeviceCore) SetSlave(slave *DeviceCore) {
	if slave != nil {
		slave.isSlaveDevice = true
	}
	c.slave = slave
}

func (c *DeviceCore) nameOrFallback() string {
	if name, err := c.os.DeviceName(c.id); err == nil {
		return name
	}
	return fmt.Sprintf("device %d", c.id)
}

// SampleRate returns the last-observed nominal sample rate.
func (c *DeviceCore) SampleRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampleRate
}

// BufferSize returns the last-observed buffer size in frames.
func (c *DeviceCore) BufferSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bufferSize
}

// NumInputChans / NumOutputChans return the active channel counts.
func (c *DeviceCore) NumInputChans() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numInputChans
}

func (c *DeviceCore) NumOutputChans() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numOutputChans
}

// ActiveInputChans / ActiveOutputChans return the current active-channel
// bitmasks (bit i set means device channel i is active).
func (c *DeviceCore) ActiveInputChans() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeInputChans
}

func (c *DeviceCore) ActiveOutputChans() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeOutputChans
}

// InputChannelNames / OutputChannelNames return the full per-device
// channel name lists (length == total channel count, not just active).
func (c *DeviceCore) InputChannelNames() []string { return append([]string(nil), c.inChanNames...) }
func (c *DeviceCore) OutputChannelNames() []string { return append([]string(nil), c.outChanNames...) }

// AvailableSampleRates / AvailableBufferSizes expose the refreshed lists.
func (c *DeviceCore) AvailableSampleRates() []float64 {
	return append([]float64(nil), c.availableSampleRates...)
}

func (c *DeviceCore) AvailableBufferSizes() []int {
	return append([]int(nil), c.availableBufferSizes...)
}

// InputLatency / OutputLatency return the last-observed OS latency, in
// frames, excluding the facade's empirical round-trip correction.
func (c *DeviceCore) InputLatency() uint32  { return c.inputLatency }
func (c *DeviceCore) OutputLatency() uint32 { return c.outputLatency }

// IsStarted reports whether the I/O proc is currently installed and running.
func (c *DeviceCore) IsStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// refreshFromOS halts the pending refresh timer and, under the realtime
// lock, re-reads everything the OS reports about this device: nominal
// sample rate, buffer frame size, available ranges filtered against the
// candidate sets, latency, and the per-direction stream layout rebuilt
// into channel names + routings.
func (c *DeviceCore) refreshFromOS() error {
	if !c.valid {
		return nil
	}
	c.refreshTimer.stop()

	snap, err := hal.Snapshot(c.os, c.id)
	if err != nil {
		return fmt.Errorf("refresh from OS: %w", err)
	}

	rateRanges := snap.SampleRateRanges
	var availableRates []float64
	for _, candidate := range hal.CandidateSampleRates {
		for _, r := range rateRanges {
			if r.Contains(candidate) {
				availableRates = append(availableRates, candidate)
				break
			}
		}
	}
	if len(availableRates) == 0 {
		availableRates = []float64{snap.NominalSampleRate}
	}

	var sizeGrid []int
	for _, r := range snap.BufferFrameRanges {
		for _, v := range hal.BuildBufferSizeGrid(r.Min, r.Max) {
			sizeGrid = append(sizeGrid, int(v))
		}
	}
	sizeGrid = dedupInts(sizeGrid)
	if len(sizeGrid) == 0 {
		sizeGrid = []int{int(snap.BufferFrameSize)}
	} else {
		found := false
		for _, v := range sizeGrid {
			if v == int(snap.BufferFrameSize) {
				found = true
				break
			}
		}
		if !found {
			sizeGrid = append(sizeGrid, int(snap.BufferFrameSize))
		}
	}

	c.mu.Lock()
	activeIn, activeOut := c.activeInputChans, c.activeOutputChans
	c.mu.Unlock()
	inNames, inRouting := rebuildRouting("input", snap.InputStreams, activeIn)
	outNames, outRouting := rebuildRouting("output", snap.OutputStreams, activeOut)

	c.mu.Lock()
	c.sampleRate = snap.NominalSampleRate
	c.bufferSize = int(snap.BufferFrameSize)
	c.numInputChans = len(inRouting)
	c.numOutputChans = len(outRouting)
	c.inputRoutingN = copy(c.inputRouting[:], inRouting)
	c.outputRoutingN = copy(c.outputRouting[:], outRouting)
	c.reallocateTempBuffersLocked()
	c.mu.Unlock()

	c.availableSampleRates = availableRates
	c.availableBufferSizes = sizeGrid
	c.inChanNames = inNames
	c.outChanNames = outNames
	c.inputLatency = snap.InputLatencyFrames
	c.outputLatency = snap.OutputLatencyFrames

	return nil
}

// rebuildRouting walks the OS buffer-list entries for one direction and
// produces (a) the full per-channel name list, 1-indexed over the whole
// device, and (b) the compacted routing list for channels selected by
// activeMask.
func rebuildRouting(label string, layouts []hal.StreamLayout, activeMask uint64) ([]string, []ChannelRouting) {
	var names []string
	var routing []ChannelRouting
	chanNum := 0
	for streamNum, layout := range layouts {
		for within := 0; within < layout.NumChannels; within++ {
			names = append(names, fmt.Sprintf("%s %d", label, chanNum+1))
			if activeMask&(uint64(1)<<uint(chanNum)) != 0 {
				routing = append(routing, ChannelRouting{
					SourceChannelNum:  chanNum,
					StreamNum:         streamNum,
					DataOffsetSamples: within,
					DataStrideSamples: layout.NumChannels,
				})
			}
			chanNum++
		}
	}
	return names, routing
}

// reallocateTempBuffersLocked rebuilds the contiguous temp audio buffer
// and its per-channel views. Must be called with mu held. The whole thing
// is one contiguous allocation: a 32-slot
// cache-alignment pad followed by numInputChans+numOutputChans channel
// blocks of bufferSize floats each.
func (c *DeviceCore) reallocateTempBuffersLocked() {
	const pad = 32
	total := pad + (c.numInputChans+c.numOutputChans)*c.bufferSize
	c.tempBacking = make([]float32, total)

	c.tempInputBuffers = make([][]float32, c.numInputChans)
	offset := pad
	for i := 0; i < c.numInputChans; i++ {
		c.tempInputBuffers[i] = c.tempBacking[offset : offset+c.bufferSize]
		offset += c.bufferSize
	}
	c.tempOutputBuffers = make([][]float32, c.numOutputChans)
	for i := 0; i < c.numOutputChans; i++ {
		c.tempOutputBuffers[i] = c.tempBacking[offset : offset+c.bufferSize]
		offset += c.bufferSize
	}
}

// Reopen is the exported entry point device.Device calls; it delegates to
// reopen. See reopen for the full algorithm.
func (c *DeviceCore) Reopen(inputMask, outputMask uint64, sampleRate float64, bufferSize int) string {
	return c.reopen(inputMask, outputMask, sampleRate, bufferSize)
}

// Start is the exported entry point device.Device calls; it delegates to
// start. See start for the full algorithm.
func (c *DeviceCore) Start(cb RealtimeClient) bool {
	return c.start(cb)
}

// Stop is the exported entry point device.Device calls; it delegates to
// stop. See stop for the full algorithm.
func (c *DeviceCore) Stop(leaveInterruptRunning bool) {
	c.stop(leaveInterruptRunning)
}

// reopen stops the device, reassigns the active masks, requests the new
// sample rate and buffer size on the OS device, polls for convergence,
// and recurses into the slave. Returns the resulting lastError (empty on
// success). Must not be called from the OS I/O thread.
func (c *DeviceCore) reopen(inputMask, outputMask uint64, sampleRate float64, bufferSize int) string {
	if !c.valid {
		return c.lastError
	}

	c.mu.Lock()
	c.callbacksAllowed = false
	c.mu.Unlock()
	c.refreshTimer.stop()
	c.stop(false)

	// Truncate to this device's own channel counts, but hand the slave the
	// caller's untruncated masks: an output-only master has zero input
	// channels, and truncating by those would strip the slave's inputs.
	totalIn, _ := c.os.ChannelCount(c.id, hal.Input)
	totalOut, _ := c.os.ChannelCount(c.id, hal.Output)
	c.mu.Lock()
	c.activeInputChans = truncateMask(inputMask, totalIn)
	c.activeOutputChans = truncateMask(outputMask, totalOut)
	c.mu.Unlock()

	c.lastError = ""

	if err := c.os.SetNominalSampleRate(c.id, sampleRate); err != nil {
		c.log.Warn("set nominal sample rate failed", "device", c.id, "rate", sampleRate, "err", err)
	}
	if err := c.os.SetBufferFrameSize(c.id, uint32(bufferSize)); err != nil {
		c.log.Warn("set buffer frame size failed", "device", c.id, "size", bufferSize, "err", err)
	}

	converged := false
	for i := 0; i < reopenMaxPolls; i++ {
		if err := c.refreshFromOS(); err != nil {
			c.lastError = err.Error()
			break
		}
		if c.sampleRate == sampleRate && c.bufferSize == bufferSize {
			converged = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if c.lastError == "" && !converged {
		c.lastError = errReconfigureFailed
	}
	if c.lastError == "" && len(c.availableSampleRates) == 0 {
		c.lastError = errNoSampleRates
	}
	if c.lastError == "" && len(c.availableBufferSizes) == 0 {
		c.lastError = errNoBufferSizes
	}

	if c.lastError == "" && c.slave != nil {
		if slaveErr := c.slave.reopen(inputMask, outputMask, sampleRate, bufferSize); slaveErr != "" {
			c.lastError = errSlaveFailurePrefix + slaveErr
		}
	}

	c.mu.Lock()
	c.callbacksAllowed = true
	c.mu.Unlock()

	c.log.Info("reopen complete", "device", c.id, "rate", c.sampleRate, "size", c.bufferSize, "error", c.lastError)
	return c.lastError
}

func truncateMask(mask uint64, numChans int) uint64 {
	if numChans >= 64 {
		return mask
	}
	return mask & ((uint64(1) << uint(numChans)) - 1)
}

// start installs the OS I/O proc (if not already installed), binds client
// under the realtime lock, and recursively starts the slave. Returns true
// iff this core and its slave (if any) both report started.
func (c *DeviceCore) start(cb RealtimeClient) bool {
	if !c.valid {
		return false
	}

	if !c.started {
		token, err := c.os.AddIOProc(c.id, c.audioCallback)
		if err != nil {
			c.lastError = errStartFailurePrefix + err.Error()
			return false
		}
		c.ioProcToken = token
		if err := c.os.StartDevice(c.id); err != nil {
			_ = c.os.RemoveIOProc(c.id, token)
			c.lastError = errStartFailurePrefix + err.Error()
			c.started = false
			return false
		}
		c.started = true
	}

	c.mu.Lock()
	c.client = cb
	c.mu.Unlock()

	slaveOK := true
	if c.slave != nil {
		slaveOK = c.slave.start(cb)
		// The slave's I/O proc is informational only: it never invokes a
		// client, it only keeps tempInputBuffers current for the master
		// to read. Clear the client binding the line above just set.
		c.slave.mu.Lock()
		c.slave.client = nil
		c.slave.mu.Unlock()
	}

	return c.started && slaveOK
}

// stop clears the client binding, optionally stops the OS device and
// removes the I/O proc, and polls for quiescence. Must not be called from
// the OS I/O thread.
func (c *DeviceCore) stop(leaveInterruptRunning bool) {
	if !c.valid {
		return
	}

	c.mu.Lock()
	c.client = nil
	c.mu.Unlock()

	if c.started && !leaveInterruptRunning {
		if err := c.os.StopDevice(c.id); err != nil {
			c.log.Warn("stop device failed", "device", c.id, "err", err)
		}
		if err := c.os.RemoveIOProc(c.id, c.ioProcToken); err != nil {
			c.log.Warn("remove io proc failed", "device", c.id, "err", err)
		}
		c.started = false

		for i := 0; i < stopPollMax; i++ {
			running, err := c.os.IsRunning(c.id)
			if err == nil && !running {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
	}

	if c.slave != nil {
		c.slave.stop(leaveInterruptRunning)
	}
}

// audioCallback is the OS I/O proc: invoked on the OS real-time thread. It
// acquires the realtime lock, deinterleaves active input channels into
// tempInputBuffers, invokes the bound client (or zero-fills outputs if
// none is bound), and interleaves tempOutputBuffers back out. It must not
// allocate.
func (c *DeviceCore) audioCallback(in []hal.Buffer, out []hal.Buffer, frameCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if frameCount > c.bufferSize {
		frameCount = c.bufferSize
	}

	if c.isSlaveDevice {
		c.deinterleaveInputLocked(in, frameCount)
		return
	}

	c.deinterleaveInputLocked(in, frameCount)

	if c.client == nil || !c.callbacksAllowed {
		c.zeroFillOutputLocked(out, frameCount)
		return
	}

	clientIn := c.tempInputBuffers
	numIn := c.numInputChans
	if c.slave != nil {
		c.slave.mu.Lock()
		clientIn = c.slave.tempInputBuffers
		numIn = c.slave.numInputChans
		c.slave.mu.Unlock()
	}

	c.client.AudioDeviceIOCallback(clientIn, numIn, c.tempOutputBuffers, c.numOutputChans, frameCount)
	c.interleaveOutputLocked(out, frameCount)
}

func (c *DeviceCore) deinterleaveInputLocked(in []hal.Buffer, frameCount int) {
	for i := 0; i < c.inputRoutingN; i++ {
		r := c.inputRouting[i]
		if !r.valid() || r.StreamNum >= len(in) {
			continue
		}
		stream := in[r.StreamNum]
		dst := c.tempInputBuffers[i]
		for k := 0; k < frameCount; k++ {
			idx := r.DataOffsetSamples + k*r.DataStrideSamples
			if idx >= len(stream) {
				break
			}
			dst[k] = stream[idx]
		}
	}
}

func (c *DeviceCore) interleaveOutputLocked(out []hal.Buffer, frameCount int) {
	for i := 0; i < c.outputRoutingN; i++ {
		r := c.outputRouting[i]
		if !r.valid() || r.StreamNum >= len(out) {
			continue
		}
		stream := out[r.StreamNum]
		src := c.tempOutputBuffers[i]
		for k := 0; k < frameCount; k++ {
			idx := r.DataOffsetSamples + k*r.DataStrideSamples
			if idx >= len(stream) {
				break
			}
			stream[idx] = src[k]
		}
	}
}

func (c *DeviceCore) zeroFillOutputLocked(out []hal.Buffer, frameCount int) {
	for i := 0; i < c.outputRoutingN; i++ {
		r := c.outputRouting[i]
		if !r.valid() || r.StreamNum >= len(out) {
			continue
		}
		stream := out[r.StreamNum]
		for k := 0; k < frameCount; k++ {
			idx := r.DataOffsetSamples + k*r.DataStrideSamples
			if idx >= len(stream) {
				break
			}
			stream[idx] = 0
		}
	}
}

// onPropertyChanged is the OS property-listener callback. Only the
// whitelisted selectors route to deviceDetailsChanged;
// everything else (volume, mute, data-source, is-running) is ignored.
func (c *DeviceCore) onPropertyChanged(selector hal.PropertySelector) {
	switch selector {
	case hal.SelectorNominalSampleRate, hal.SelectorBufferFrameSize, hal.SelectorStreamFormat, hal.SelectorDeviceIsAlive:
		c.deviceDetailsChanged()
	default:
		// Volume/mute/data-source/is-running changes are intentionally ignored here.
	}
}

// NotifyDevicesChanged is the registry's hardware-listener fanout entry
// point: the registry forwards the OS-wide DevicesChanged notification to
// every live core via this method, which routes it through the same
// debounced refresh as a per-device property change.
func (c *DeviceCore) NotifyDevicesChanged() {
	c.deviceDetailsChanged()
}

// deviceDetailsChanged (re)arms the debounced one-shot refresh timer. A
// burst of notifications within the debounce window coalesces to a single
// refresh.
func (c *DeviceCore) deviceDetailsChanged() {
	c.mu.Lock()
	allowed := c.callbacksAllowed
	c.mu.Unlock()
	if allowed {
		c.refreshTimer.arm()
	}
}

// onDebouncedRefresh fires once after the debounce window: it
// snapshots old rate/size, refreshes, and if either changed, disables
// callbacks, stops the device, refreshes again and re-enables callbacks.
// It does not reopen the device.
func (c *DeviceCore) onDebouncedRefresh() {
	if !c.valid {
		return
	}
	oldRate, oldSize := c.sampleRate, c.bufferSize

	if err := c.refreshFromOS(); err != nil {
		c.log.Warn("debounced refresh failed", "device", c.id, "err", err)
		return
	}

	if c.sampleRate != oldRate || c.bufferSize != oldSize {
		c.log.Info("device reconfigured by OS", "device", c.id,
			"old_rate", oldRate, "new_rate", c.sampleRate, "old_size", oldSize, "new_size", c.bufferSize)
		c.mu.Lock()
		c.callbacksAllowed = false
		c.mu.Unlock()
		c.stop(false)
		if err := c.refreshFromOS(); err != nil {
			c.log.Warn("post-stop refresh failed", "device", c.id, "err", err)
		}
		c.mu.Lock()
		c.callbacksAllowed = true
		c.mu.Unlock()
	}
}

// Sources / CurrentSourceIndex / SetCurrentSourceIndex pass through to the
// OS DataSources property.
func (c *DeviceCore) Sources() []string {
	if !c.valid {
		return nil
	}
	names, err := c.os.DataSources(c.id)
	if err != nil {
		return nil
	}
	return names
}

func (c *DeviceCore) CurrentSourceIndex() int {
	if !c.valid {
		return -1
	}
	idx, err := c.os.CurrentDataSourceIndex(c.id)
	if err != nil {
		return -1
	}
	return idx
}

func (c *DeviceCore) SetCurrentSourceIndex(index int) error {
	if !c.valid {
		return fmt.Errorf("device %d is inert", c.id)
	}
	return c.os.SetCurrentDataSourceIndex(c.id, index)
}

// Close removes the property listener, stops the I/O proc, and releases
// the slave. The listener is removed
// first, before anything else, so the window in which the OS could invoke
// a callback on a dead core is empty.
func (c *DeviceCore) Close() {
	if !c.valid {
		return
	}
	if c.listenerToken != 0 {
		if err := c.os.RemovePropertyListener(c.id, c.listenerToken); err != nil {
			c.log.Warn("remove property listener failed", "device", c.id, "err", err)
		}
	}
	c.refreshTimer.stop()
	c.stop(false)
	if c.slave != nil {
		c.slave.Close()
		c.slave = nil
	}
}

// FindComplementaryDevice returns the first related device that is
// non-self, non-zero, and has a complementary
// direction (this device is input-only XOR the candidate is input-only).
// It constructs a temporary core to probe the candidate's channel counts
// and discards it; a core construction error discards that candidate.
func FindComplementaryDevice(osIface hal.OS, id hal.DeviceID) (hal.DeviceID, bool) {
	related, err := osIface.RelatedDevices(id)
	if err != nil {
		return hal.InvalidDeviceID, false
	}

	selfInputOnly := isInputOnly(osIface, id)

	for _, candidate := range related {
		if candidate == id || candidate == hal.InvalidDeviceID {
			continue
		}
		probe := New(candidate, osIface, log.Default())
		if !probe.Valid() {
			continue
		}
		candidateInputOnly := isInputOnly(osIface, candidate)
		probe.Close()
		if selfInputOnly != candidateInputOnly {
			return candidate, true
		}
	}
	return hal.InvalidDeviceID, false
}

func isInputOnly(osIface hal.OS, id hal.DeviceID) bool {
	in, _ := osIface.ChannelCount(id, hal.Input)
	out, _ := osIface.ChannelCount(id, hal.Output)
	return in > 0 && out == 0
}

func dedupInts(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := in[:0]
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
