//go:build darwin

package hal

/*
#cgo LDFLAGS: -framework CoreAudio -framework AudioToolbox -framework CoreFoundation
#include <CoreAudio/CoreAudio.h>
#include <AudioToolbox/AudioToolbox.h>

extern void goPropertyListenerTrampoline(AudioObjectID inObjectID, UInt32 inNumberAddresses,
                                          const AudioObjectPropertyAddress *inAddresses, void *inClientData);
extern OSStatus goIOProcTrampoline(AudioObjectID inDevice, const AudioTimeStamp *inNow,
                                    const AudioBufferList *inInputData, const AudioTimeStamp *inInputTime,
                                    AudioBufferList *outOutputData, const AudioTimeStamp *inOutputTime,
                                    void *inClientData);

static OSStatus ca_get_u32(AudioObjectID id, AudioObjectPropertySelector sel, AudioObjectPropertyScope scope, UInt32 *out) {
	AudioObjectPropertyAddress addr = { sel, scope, kAudioObjectPropertyElementMain };
	UInt32 size = sizeof(UInt32);
	return AudioObjectGetPropertyData(id, &addr, 0, NULL, &size, out);
}

static OSStatus ca_set_u32(AudioObjectID id, AudioObjectPropertySelector sel, AudioObjectPropertyScope scope, UInt32 v) {
	AudioObjectPropertyAddress addr = { sel, scope, kAudioObjectPropertyElementMain };
	return AudioObjectSetPropertyData(id, &addr, 0, NULL, sizeof(UInt32), &v);
}

static OSStatus ca_get_f64(AudioObjectID id, AudioObjectPropertySelector sel, AudioObjectPropertyScope scope, Float64 *out) {
	AudioObjectPropertyAddress addr = { sel, scope, kAudioObjectPropertyElementMain };
	UInt32 size = sizeof(Float64);
	return AudioObjectGetPropertyData(id, &addr, 0, NULL, &size, out);
}

static OSStatus ca_set_f64(AudioObjectID id, AudioObjectPropertySelector sel, AudioObjectPropertyScope scope, Float64 v) {
	AudioObjectPropertyAddress addr = { sel, scope, kAudioObjectPropertyElementMain };
	return AudioObjectSetPropertyData(id, &addr, 0, NULL, sizeof(Float64), &v);
}

static UInt32 ca_property_size(AudioObjectID id, AudioObjectPropertySelector sel, AudioObjectPropertyScope scope) {
	AudioObjectPropertyAddress addr = { sel, scope, kAudioObjectPropertyElementMain };
	UInt32 size = 0;
	if (AudioObjectGetPropertyDataSize(id, &addr, 0, NULL, &size) != noErr) {
		return 0;
	}
	return size;
}

static OSStatus ca_get_raw(AudioObjectID id, AudioObjectPropertySelector sel, AudioObjectPropertyScope scope, void *buf, UInt32 *size) {
	AudioObjectPropertyAddress addr = { sel, scope, kAudioObjectPropertyElementMain };
	return AudioObjectGetPropertyData(id, &addr, 0, NULL, size, buf);
}

static OSStatus ca_add_listener(AudioObjectID id, AudioObjectPropertySelector sel, AudioObjectPropertyScope scope, void *clientData) {
	AudioObjectPropertyAddress addr = { sel, scope, kAudioObjectPropertyElementMain };
	return AudioObjectAddPropertyListener(id, &addr, goPropertyListenerTrampoline, clientData);
}

static OSStatus ca_remove_listener(AudioObjectID id, AudioObjectPropertySelector sel, AudioObjectPropertyScope scope, void *clientData) {
	AudioObjectPropertyAddress addr = { sel, scope, kAudioObjectPropertyElementMain };
	return AudioObjectRemovePropertyListener(id, &addr, goPropertyListenerTrampoline, clientData);
}

static OSStatus ca_create_ioproc(AudioObjectID id, void *clientData, AudioDeviceIOProcID *outProcID) {
	return AudioDeviceCreateIOProcID(id, goIOProcTrampoline, clientData, outProcID);
}
*/
import "C"

import (
	"fmt"
	"runtime/cgo"
	"sync"
	"unsafe"
)

// scopeFor maps our Direction to the CoreAudio property scope. Input
// properties live in kAudioDevicePropertyScopeInput, output in
// kAudioDevicePropertyScopeOutput.
func scopeFor(dir Direction) C.AudioObjectPropertyScope {
	if dir == Input {
		return C.kAudioDevicePropertyScopeInput
	}
	return C.kAudioDevicePropertyScopeOutput
}

func statusErr(op string, status C.OSStatus) error {
	if status == C.noErr {
		return nil
	}
	return fmt.Errorf("%s: osstatus %d", op, int32(status))
}

// CoreAudioOS is the real hal.OS binding against the macOS CoreAudio HAL.
// It is the one piece of this module permitted to call into cgo; every
// other package talks to OS exclusively through the hal.OS interface.
type CoreAudioOS struct {
	mu                  sync.Mutex
	listeners           map[ListenerToken]cgo.Handle
	deviceListListeners map[ListenerToken]cgo.Handle
	ioprocs             map[IOProcToken]cgoIOProcEntry
	nextToken           uint64
}

type cgoIOProcEntry struct {
	device DeviceID
	handle cgo.Handle
	procID C.AudioDeviceIOProcID
}

// NewCoreAudioOS constructs a binding against the live CoreAudio HAL.
func NewCoreAudioOS() *CoreAudioOS {
	return &CoreAudioOS{
		listeners:           make(map[ListenerToken]cgo.Handle),
		deviceListListeners: make(map[ListenerToken]cgo.Handle),
		ioprocs:             make(map[IOProcToken]cgoIOProcEntry),
	}
}

func (c *CoreAudioOS) DeviceList() ([]DeviceID, error) {
	size := C.ca_property_size(C.kAudioObjectSystemObject, C.kAudioHardwarePropertyDevices, C.kAudioObjectPropertyScopeGlobal)
	if size == 0 {
		return nil, nil
	}
	count := int(size) / int(unsafe.Sizeof(C.AudioObjectID(0)))
	buf := make([]C.AudioObjectID, count)
	outSize := size
	status := C.ca_get_raw(C.kAudioObjectSystemObject, C.kAudioHardwarePropertyDevices, C.kAudioObjectPropertyScopeGlobal,
		unsafe.Pointer(&buf[0]), &outSize)
	if err := statusErr("device list", status); err != nil {
		return nil, err
	}
	ids := make([]DeviceID, count)
	for i, id := range buf {
		ids[i] = DeviceID(id)
	}
	return ids, nil
}

func (c *CoreAudioOS) DefaultDevice(dir Direction) (DeviceID, error) {
	sel := C.AudioObjectPropertySelector(C.kAudioHardwarePropertyDefaultInputDevice)
	if dir == Output {
		sel = C.kAudioHardwarePropertyDefaultOutputDevice
	}
	var id C.UInt32
	status := C.ca_get_u32(C.kAudioObjectSystemObject, sel, C.kAudioObjectPropertyScopeGlobal, &id)
	if err := statusErr("default device", status); err != nil {
		return InvalidDeviceID, err
	}
	return DeviceID(id), nil
}

func (c *CoreAudioOS) DeviceName(id DeviceID) (string, error) {
	size := C.ca_property_size(C.AudioObjectID(id), C.kAudioObjectPropertyName, C.kAudioObjectPropertyScopeGlobal)
	if size == 0 {
		return "", fmt.Errorf("device %d: no name property", id)
	}
	var cfstr C.CFStringRef
	outSize := C.UInt32(unsafe.Sizeof(cfstr))
	status := C.ca_get_raw(C.AudioObjectID(id), C.kAudioObjectPropertyName, C.kAudioObjectPropertyScopeGlobal,
		unsafe.Pointer(&cfstr), &outSize)
	if err := statusErr("device name", status); err != nil {
		return "", err
	}
	return cfStringToGo(cfstr), nil
}

func (c *CoreAudioOS) ChannelCount(id DeviceID, dir Direction) (int, error) {
	layouts, err := c.StreamLayouts(id, dir)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, l := range layouts {
		total += l.NumChannels
	}
	return total, nil
}

func (c *CoreAudioOS) IsAlive(id DeviceID) bool {
	var v C.UInt32
	status := C.ca_get_u32(C.AudioObjectID(id), C.kAudioDevicePropertyDeviceIsAlive, C.kAudioObjectPropertyScopeGlobal, &v)
	return status == C.noErr && v != 0
}

func (c *CoreAudioOS) NominalSampleRate(id DeviceID) (float64, error) {
	var v C.Float64
	status := C.ca_get_f64(C.AudioObjectID(id), C.kAudioDevicePropertyNominalSampleRate, C.kAudioObjectPropertyScopeGlobal, &v)
	return float64(v), statusErr("nominal sample rate", status)
}

func (c *CoreAudioOS) SetNominalSampleRate(id DeviceID, rate float64) error {
	status := C.ca_set_f64(C.AudioObjectID(id), C.kAudioDevicePropertyNominalSampleRate, C.kAudioObjectPropertyScopeGlobal, C.Float64(rate))
	return statusErr("set nominal sample rate", status)
}

func (c *CoreAudioOS) BufferFrameSize(id DeviceID) (uint32, error) {
	var v C.UInt32
	status := C.ca_get_u32(C.AudioObjectID(id), C.kAudioDevicePropertyBufferFrameSize, C.kAudioObjectPropertyScopeGlobal, &v)
	return uint32(v), statusErr("buffer frame size", status)
}

func (c *CoreAudioOS) SetBufferFrameSize(id DeviceID, frames uint32) error {
	status := C.ca_set_u32(C.AudioObjectID(id), C.kAudioDevicePropertyBufferFrameSize, C.kAudioObjectPropertyScopeGlobal, C.UInt32(frames))
	return statusErr("set buffer frame size", status)
}

func (c *CoreAudioOS) AvailableSampleRateRanges(id DeviceID) ([]SampleRateRange, error) {
	size := C.ca_property_size(C.AudioObjectID(id), C.kAudioDevicePropertyAvailableNominalSampleRates, C.kAudioObjectPropertyScopeGlobal)
	if size == 0 {
		return nil, nil
	}
	count := int(size) / int(unsafe.Sizeof(C.AudioValueRange{}))
	buf := make([]C.AudioValueRange, count)
	outSize := size
	status := C.ca_get_raw(C.AudioObjectID(id), C.kAudioDevicePropertyAvailableNominalSampleRates, C.kAudioObjectPropertyScopeGlobal,
		unsafe.Pointer(&buf[0]), &outSize)
	if err := statusErr("sample rate ranges", status); err != nil {
		return nil, err
	}
	ranges := make([]SampleRateRange, count)
	for i, r := range buf {
		ranges[i] = SampleRateRange{Min: float64(r.mMinimum), Max: float64(r.mMaximum)}
	}
	return ranges, nil
}

func (c *CoreAudioOS) AvailableBufferFrameRanges(id DeviceID) ([]BufferFrameRange, error) {
	size := C.ca_property_size(C.AudioObjectID(id), C.kAudioDevicePropertyBufferFrameSizeRange, C.kAudioObjectPropertyScopeGlobal)
	if size == 0 {
		return nil, nil
	}
	count := int(size) / int(unsafe.Sizeof(C.AudioValueRange{}))
	buf := make([]C.AudioValueRange, count)
	outSize := size
	status := C.ca_get_raw(C.AudioObjectID(id), C.kAudioDevicePropertyBufferFrameSizeRange, C.kAudioObjectPropertyScopeGlobal,
		unsafe.Pointer(&buf[0]), &outSize)
	if err := statusErr("buffer frame ranges", status); err != nil {
		return nil, err
	}
	ranges := make([]BufferFrameRange, count)
	for i, r := range buf {
		ranges[i] = BufferFrameRange{Min: uint32(r.mMinimum), Max: uint32(r.mMaximum)}
	}
	return ranges, nil
}

func (c *CoreAudioOS) Latency(id DeviceID, dir Direction) (uint32, error) {
	var device, stream C.UInt32
	statusDev := C.ca_get_u32(C.AudioObjectID(id), C.kAudioDevicePropertyLatency, scopeFor(dir), &device)
	if err := statusErr("device latency", statusDev); err != nil {
		return 0, err
	}
	// Stream latency is optional; a device with no streams of this
	// direction reports zero here rather than failing the whole read.
	_ = C.ca_get_u32(C.AudioObjectID(id), C.kAudioStreamPropertyLatency, scopeFor(dir), &stream)
	return uint32(device) + uint32(stream), nil
}

func (c *CoreAudioOS) StreamLayouts(id DeviceID, dir Direction) ([]StreamLayout, error) {
	size := C.ca_property_size(C.AudioObjectID(id), C.kAudioDevicePropertyStreamConfiguration, scopeFor(dir))
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	outSize := size
	status := C.ca_get_raw(C.AudioObjectID(id), C.kAudioDevicePropertyStreamConfiguration, scopeFor(dir),
		unsafe.Pointer(&buf[0]), &outSize)
	if err := statusErr("stream configuration", status); err != nil {
		return nil, err
	}
	bufferList := (*C.AudioBufferList)(unsafe.Pointer(&buf[0]))
	numBuffers := int(bufferList.mNumberBuffers)
	layouts := make([]StreamLayout, numBuffers)
	buffers := (*[1 << 16]C.AudioBuffer)(unsafe.Pointer(&bufferList.mBuffers[0]))[:numBuffers:numBuffers]
	for i, b := range buffers {
		layouts[i] = StreamLayout{NumChannels: int(b.mNumberChannels)}
	}
	return layouts, nil
}

func (c *CoreAudioOS) IsRunning(id DeviceID) (bool, error) {
	var v C.UInt32
	status := C.ca_get_u32(C.AudioObjectID(id), C.kAudioDevicePropertyDeviceIsRunning, C.kAudioObjectPropertyScopeGlobal, &v)
	return v != 0, statusErr("device is running", status)
}

func (c *CoreAudioOS) DataSources(id DeviceID) ([]string, error) {
	size := C.ca_property_size(C.AudioObjectID(id), C.kAudioDevicePropertyDataSources, C.kAudioObjectPropertyScopeGlobal)
	if size == 0 {
		return nil, nil
	}
	count := int(size) / int(unsafe.Sizeof(C.UInt32(0)))
	ids := make([]C.UInt32, count)
	outSize := size
	status := C.ca_get_raw(C.AudioObjectID(id), C.kAudioDevicePropertyDataSources, C.kAudioObjectPropertyScopeGlobal,
		unsafe.Pointer(&ids[0]), &outSize)
	if err := statusErr("data sources", status); err != nil {
		return nil, err
	}
	names := make([]string, count)
	for i, sourceID := range ids {
		names[i] = c.dataSourceName(id, sourceID)
	}
	return names, nil
}

func (c *CoreAudioOS) dataSourceName(id DeviceID, sourceID C.UInt32) string {
	var translation C.AudioValueTranslation
	var cfstr C.CFStringRef
	translation.mInputData = unsafe.Pointer(&sourceID)
	translation.mInputDataSize = C.UInt32(unsafe.Sizeof(sourceID))
	translation.mOutputData = unsafe.Pointer(&cfstr)
	translation.mOutputDataSize = C.UInt32(unsafe.Sizeof(cfstr))
	size := C.UInt32(unsafe.Sizeof(translation))
	status := C.ca_get_raw(C.AudioObjectID(id), C.kAudioDevicePropertyDataSourceNameForIDCFString,
		C.kAudioObjectPropertyScopeGlobal, unsafe.Pointer(&translation), &size)
	if status != C.noErr {
		return fmt.Sprintf("source %d", uint32(sourceID))
	}
	return cfStringToGo(cfstr)
}

func (c *CoreAudioOS) CurrentDataSourceIndex(id DeviceID) (int, error) {
	var current C.UInt32
	status := C.ca_get_u32(C.AudioObjectID(id), C.kAudioDevicePropertyDataSource, C.kAudioObjectPropertyScopeGlobal, &current)
	if err := statusErr("current data source", status); err != nil {
		return -1, err
	}
	size := C.ca_property_size(C.AudioObjectID(id), C.kAudioDevicePropertyDataSources, C.kAudioObjectPropertyScopeGlobal)
	count := int(size) / int(unsafe.Sizeof(C.UInt32(0)))
	ids := make([]C.UInt32, count)
	outSize := size
	if C.ca_get_raw(C.AudioObjectID(id), C.kAudioDevicePropertyDataSources, C.kAudioObjectPropertyScopeGlobal,
		unsafe.Pointer(&ids[0]), &outSize) != C.noErr {
		return -1, nil
	}
	for i, v := range ids {
		if v == current {
			return i, nil
		}
	}
	return -1, nil
}

func (c *CoreAudioOS) SetCurrentDataSourceIndex(id DeviceID, index int) error {
	size := C.ca_property_size(C.AudioObjectID(id), C.kAudioDevicePropertyDataSources, C.kAudioObjectPropertyScopeGlobal)
	count := int(size) / int(unsafe.Sizeof(C.UInt32(0)))
	if index < 0 || index >= count {
		return fmt.Errorf("data source index %d out of range (have %d)", index, count)
	}
	ids := make([]C.UInt32, count)
	outSize := size
	if status := C.ca_get_raw(C.AudioObjectID(id), C.kAudioDevicePropertyDataSources, C.kAudioObjectPropertyScopeGlobal,
		unsafe.Pointer(&ids[0]), &outSize); status != C.noErr {
		return statusErr("data sources", status)
	}
	status := C.ca_set_u32(C.AudioObjectID(id), C.kAudioDevicePropertyDataSource, C.kAudioObjectPropertyScopeGlobal, ids[index])
	return statusErr("set data source", status)
}

func (c *CoreAudioOS) RelatedDevices(id DeviceID) ([]DeviceID, error) {
	size := C.ca_property_size(C.AudioObjectID(id), C.kAudioDevicePropertyRelatedDevices, C.kAudioObjectPropertyScopeGlobal)
	if size == 0 {
		return nil, nil
	}
	count := int(size) / int(unsafe.Sizeof(C.AudioObjectID(0)))
	buf := make([]C.AudioObjectID, count)
	outSize := size
	status := C.ca_get_raw(C.AudioObjectID(id), C.kAudioDevicePropertyRelatedDevices, C.kAudioObjectPropertyScopeGlobal,
		unsafe.Pointer(&buf[0]), &outSize)
	if err := statusErr("related devices", status); err != nil {
		return nil, err
	}
	ids := make([]DeviceID, count)
	for i, v := range buf {
		ids[i] = DeviceID(v)
	}
	return ids, nil
}

//export goIOProcTrampoline
func goIOProcTrampoline(device C.AudioObjectID, now *C.AudioTimeStamp,
	inData *C.AudioBufferList, inTime *C.AudioTimeStamp,
	outData *C.AudioBufferList, outTime *C.AudioTimeStamp, clientData unsafe.Pointer) C.OSStatus {
	handle := cgo.Handle(uintptr(clientData))
	proc, ok := handle.Value().(IOProc)
	if !ok {
		return C.noErr
	}
	in := bufferListToGo(inData)
	out := bufferListToGo(outData)
	frameCount := 0
	if len(in) > 0 {
		frameCount = len(in[0])
	} else if len(out) > 0 {
		frameCount = len(out[0])
	}
	proc(in, out, frameCount)
	return C.noErr
}

//export goPropertyListenerTrampoline
func goPropertyListenerTrampoline(object C.AudioObjectID, numAddresses C.UInt32,
	addresses *C.AudioObjectPropertyAddress, clientData unsafe.Pointer) {
	handle := cgo.Handle(uintptr(clientData))
	listener, ok := handle.Value().(PropertyListener)
	if !ok {
		return
	}
	addrSlice := (*[1 << 10]C.AudioObjectPropertyAddress)(unsafe.Pointer(addresses))[:numAddresses:numAddresses]
	for _, addr := range addrSlice {
		if sel, ok := selectorFromCA(addr.mSelector); ok {
			listener(sel)
		}
	}
}

func selectorFromCA(sel C.AudioObjectPropertySelector) (PropertySelector, bool) {
	switch sel {
	case C.kAudioDevicePropertyNominalSampleRate:
		return SelectorNominalSampleRate, true
	case C.kAudioDevicePropertyBufferFrameSize:
		return SelectorBufferFrameSize, true
	case C.kAudioStreamPropertyVirtualFormat, C.kAudioStreamPropertyPhysicalFormat:
		return SelectorStreamFormat, true
	case C.kAudioDevicePropertyDeviceIsAlive:
		return SelectorDeviceIsAlive, true
	case C.kAudioDevicePropertyVolumeScalar:
		return SelectorVolume, true
	case C.kAudioDevicePropertyMute:
		return SelectorMute, true
	case C.kAudioDevicePropertyDataSource:
		return SelectorDataSource, true
	case C.kAudioDevicePropertyDeviceIsRunning:
		return SelectorDeviceIsRunning, true
	case C.kAudioHardwarePropertyDevices:
		return SelectorDeviceListChanged, true
	case C.kAudioHardwarePropertyDefaultInputDevice:
		return SelectorDefaultInputDevice, true
	case C.kAudioHardwarePropertyDefaultOutputDevice:
		return SelectorDefaultOutputDevice, true
	default:
		return 0, false
	}
}

func bufferListToGo(list *C.AudioBufferList) []Buffer {
	if list == nil {
		return nil
	}
	numBuffers := int(list.mNumberBuffers)
	if numBuffers == 0 {
		return nil
	}
	cBuffers := (*[1 << 16]C.AudioBuffer)(unsafe.Pointer(&list.mBuffers[0]))[:numBuffers:numBuffers]
	out := make([]Buffer, numBuffers)
	for i, b := range cBuffers {
		frameCount := int(b.mDataByteSize) / 4
		if frameCount == 0 || b.mData == nil {
			continue
		}
		out[i] = unsafe.Slice((*float32)(b.mData), frameCount)
	}
	return out
}

// monitoredSelectors lists the CoreAudio selector+scope pairs
// AddPropertyListener subscribes to. Only nominal sample rate, buffer
// frame size, stream format, and device-alive are installed;
// volume/mute/data-source/is-running are not subscribed and are read on
// demand instead.
var monitoredSelectors = []struct {
	sel   C.AudioObjectPropertySelector
	scope C.AudioObjectPropertyScope
}{
	{C.kAudioDevicePropertyNominalSampleRate, C.kAudioObjectPropertyScopeGlobal},
	{C.kAudioDevicePropertyBufferFrameSize, C.kAudioObjectPropertyScopeGlobal},
	{C.kAudioStreamPropertyVirtualFormat, C.kAudioObjectPropertyScopeInput},
	{C.kAudioStreamPropertyVirtualFormat, C.kAudioObjectPropertyScopeOutput},
	{C.kAudioDevicePropertyDeviceIsAlive, C.kAudioObjectPropertyScopeGlobal},
}

func (c *CoreAudioOS) AddPropertyListener(id DeviceID, listener PropertyListener) (ListenerToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handle := cgo.NewHandle(listener)
	clientData := unsafe.Pointer(uintptr(handle))
	for _, m := range monitoredSelectors {
		status := C.ca_add_listener(C.AudioObjectID(id), m.sel, m.scope, clientData)
		if err := statusErr("add property listener", status); err != nil {
			handle.Delete()
			return 0, err
		}
	}
	c.nextToken++
	token := ListenerToken(c.nextToken)
	c.listeners[token] = handle
	return token, nil
}

func (c *CoreAudioOS) RemovePropertyListener(id DeviceID, token ListenerToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	handle, ok := c.listeners[token]
	if !ok {
		return fmt.Errorf("unknown listener token %d", token)
	}
	clientData := unsafe.Pointer(uintptr(handle))
	var firstErr error
	for _, m := range monitoredSelectors {
		status := C.ca_remove_listener(C.AudioObjectID(id), m.sel, m.scope, clientData)
		if err := statusErr("remove property listener", status); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	handle.Delete()
	delete(c.listeners, token)
	return firstErr
}

// AddDeviceListListener subscribes to kAudioHardwarePropertyDevices on the
// system object, independent of any single device's per-property listener
// set. It is how the registry learns of hardware hot-plug/unplug.
func (c *CoreAudioOS) AddDeviceListListener(listener func()) (ListenerToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wrapped := PropertyListener(func(sel PropertySelector) {
		if sel == SelectorDeviceListChanged {
			listener()
		}
	})
	handle := cgo.NewHandle(wrapped)
	clientData := unsafe.Pointer(uintptr(handle))
	status := C.ca_add_listener(C.kAudioObjectSystemObject, C.kAudioHardwarePropertyDevices, C.kAudioObjectPropertyScopeGlobal, clientData)
	if err := statusErr("add device list listener", status); err != nil {
		handle.Delete()
		return 0, err
	}
	c.nextToken++
	token := ListenerToken(c.nextToken)
	c.deviceListListeners[token] = handle
	return token, nil
}

func (c *CoreAudioOS) RemoveDeviceListListener(token ListenerToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	handle, ok := c.deviceListListeners[token]
	if !ok {
		return fmt.Errorf("unknown device-list listener token %d", token)
	}
	clientData := unsafe.Pointer(uintptr(handle))
	status := C.ca_remove_listener(C.kAudioObjectSystemObject, C.kAudioHardwarePropertyDevices, C.kAudioObjectPropertyScopeGlobal, clientData)
	err := statusErr("remove device list listener", status)
	handle.Delete()
	delete(c.deviceListListeners, token)
	return err
}

func (c *CoreAudioOS) AddIOProc(id DeviceID, proc IOProc) (IOProcToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handle := cgo.NewHandle(proc)
	var procID C.AudioDeviceIOProcID
	status := C.ca_create_ioproc(C.AudioObjectID(id), unsafe.Pointer(uintptr(handle)), &procID)
	if err := statusErr("create io proc", status); err != nil {
		handle.Delete()
		return 0, err
	}
	c.nextToken++
	token := IOProcToken(c.nextToken)
	c.ioprocs[token] = cgoIOProcEntry{device: id, handle: handle, procID: procID}
	return token, nil
}

func (c *CoreAudioOS) RemoveIOProc(id DeviceID, token IOProcToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.ioprocs[token]
	if !ok {
		return fmt.Errorf("unknown io proc token %d", token)
	}
	if entry.device != id {
		return fmt.Errorf("io proc token %d belongs to device %d, not %d", token, entry.device, id)
	}
	status := C.AudioDeviceDestroyIOProcID(C.AudioObjectID(id), entry.procID)
	entry.handle.Delete()
	delete(c.ioprocs, token)
	return statusErr("destroy io proc", status)
}

func (c *CoreAudioOS) StartDevice(id DeviceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.ioprocs {
		if entry.device != id {
			continue
		}
		status := C.AudioDeviceStart(C.AudioObjectID(id), entry.procID)
		if err := statusErr("start device", status); err != nil {
			return err
		}
	}
	return nil
}

func (c *CoreAudioOS) StopDevice(id DeviceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.ioprocs {
		if entry.device != id {
			continue
		}
		status := C.AudioDeviceStop(C.AudioObjectID(id), entry.procID)
		if err := statusErr("stop device", status); err != nil {
			return err
		}
	}
	return nil
}

func cfStringToGo(s C.CFStringRef) string {
	if s == 0 {
		return ""
	}
	defer C.CFRelease(C.CFTypeRef(s))
	length := C.CFStringGetLength(s)
	if length == 0 {
		return ""
	}
	maxBytes := C.CFStringGetMaximumSizeForEncoding(length, C.kCFStringEncodingUTF8) + 1
	buf := make([]byte, int(maxBytes))
	ok := C.CFStringGetCString(s, (*C.char)(unsafe.Pointer(&buf[0])), maxBytes, C.kCFStringEncodingUTF8)
	if ok == 0 {
		return ""
	}
	return C.GoString((*C.char)(unsafe.Pointer(&buf[0])))
}
