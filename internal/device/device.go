// Package device implements the outward-facing facade: the stable
// object the external device manager holds. It wraps one
// or two devicecore.DeviceCore instances and exposes channel names,
// available sample rates and buffer sizes, and the open/close/start/stop
// lifecycle.
package device

import (
	"sort"

	"github.com/charmbracelet/log"

	"github.com/ColonelBlimp/audiobridge/internal/devicecore"
)

// defaultBufferSize is returned by GetDefaultBufferSize when no available
// size is >= 512.
const defaultBufferSize = 512

// IOCallback is the full upward contract the facade drives: one call to
// AudioDeviceAboutToStart before the first AudioDeviceIOCallback, zero or
// more real-time AudioDeviceIOCallback invocations, then exactly one
// AudioDeviceStopped. Any devicecore.RealtimeClient implementation that
// also implements these two extra methods satisfies this interface.
type IOCallback interface {
	devicecore.RealtimeClient
	AudioDeviceAboutToStart(d *Device)
	AudioDeviceStopped()
}

// Device is the facade wrapping a master core and, when present, a slave
// core forming a combined duplex device.
type Device struct {
	master *devicecore.DeviceCore
	slave  *devicecore.DeviceCore
	log    *log.Logger

	closed    bool
	isStarted bool
	client    IOCallback
}

// New wraps master (and optionally slave) in a facade. Ownership of both
// cores transfers to the facade; Destroy tears them down.
func New(master, slave *devicecore.DeviceCore, logger *log.Logger) *Device {
	if logger == nil {
		logger = log.Default()
	}
	return &Device{master: master, slave: slave, log: logger}
}

// inputCore returns the core that should answer input-direction queries:
// the slave when present, else the master.
func (d *Device) inputCore() *devicecore.DeviceCore {
	if d.slave != nil {
		return d.slave
	}
	return d.master
}

// GetInputChannelNames returns the input channel name list, preferring
// the slave device when one is present.
func (d *Device) GetInputChannelNames() []string {
	return d.inputCore().InputChannelNames()
}

// GetOutputChannelNames returns the master device's output channel names.
func (d *Device) GetOutputChannelNames() []string {
	return d.master.OutputChannelNames()
}

// GetNumSampleRates returns how many sample rates the master device
// currently reports as available.
func (d *Device) GetNumSampleRates() int {
	return len(d.master.AvailableSampleRates())
}

// GetSampleRate returns the i'th available sample rate, or 0 if out of
// range.
func (d *Device) GetSampleRate(i int) float64 {
	rates := d.master.AvailableSampleRates()
	if i < 0 || i >= len(rates) {
		return 0
	}
	return rates[i]
}

// GetNumBufferSizesAvailable returns how many buffer sizes the master
// device currently reports as available.
func (d *Device) GetNumBufferSizesAvailable() int {
	return len(d.master.AvailableBufferSizes())
}

// GetBufferSizeSamples returns the i'th available buffer size in frames,
// or 0 if out of range.
func (d *Device) GetBufferSizeSamples(i int) int {
	sizes := d.master.AvailableBufferSizes()
	if i < 0 || i >= len(sizes) {
		return 0
	}
	return sizes[i]
}

// GetDefaultBufferSize returns the smallest available buffer size >= 512,
// or 512 if none qualifies.
func (d *Device) GetDefaultBufferSize() int {
	sizes := append([]int(nil), d.master.AvailableBufferSizes()...)
	sort.Ints(sizes)
	for _, s := range sizes {
		if s >= defaultBufferSize {
			return s
		}
	}
	return defaultBufferSize
}

// GetCurrentSampleRate and GetCurrentBufferSizeSamples expose the master
// core's live OS-observed state.
func (d *Device) GetCurrentSampleRate() float64 { return d.master.SampleRate() }
func (d *Device) GetCurrentBufferSizeSamples() int { return d.master.BufferSize() }

// Open requests inputMask/outputMask active channels at sampleRate and
// bufferSize. If bufferSize <= 0, the default buffer size is substituted.
// Returns the resulting lastError, empty on success.
func (d *Device) Open(inputMask, outputMask uint64, sampleRate float64, bufferSize int) string {
	if bufferSize <= 0 {
		bufferSize = d.GetDefaultBufferSize()
	}
	return d.master.Reopen(inputMask, outputMask, sampleRate, bufferSize)
}

// Close marks the facade closed. It does not itself stop the device;
// Stop must be called separately first if the device is running.
func (d *Device) Close() {
	d.closed = true
}

// Closed reports whether Close has been called.
func (d *Device) Closed() bool { return d.closed }

// Start notifies cb that the device is about to start, then starts the
// underlying core(s). Returns true iff the master (and slave, if any)
// both report started.
func (d *Device) Start(cb IOCallback) bool {
	cb.AudioDeviceAboutToStart(d)
	d.client = cb
	ok := d.master.Start(cb)
	d.isStarted = ok
	return ok
}

// Stop stops the core with leaveInterruptRunning=true (the interrupt may
// continue briefly to drain in flight frames), then notifies the
// previously bound client that it has stopped exactly once.
func (d *Device) Stop() {
	oldClient := d.client
	d.master.Stop(true)
	d.isStarted = false
	d.client = nil
	if oldClient != nil {
		oldClient.AudioDeviceStopped()
	}
}

// IsStarted reports whether Start has succeeded and Stop has not since
// been called.
func (d *Device) IsStarted() bool { return d.isStarted }

// GetOutputLatencyInSamples and GetInputLatencyInSamples return the
// OS-reported latency plus an empirical round-trip correction of
// 2 * bufferSize.
func (d *Device) GetOutputLatencyInSamples() uint32 {
	return d.master.OutputLatency() + uint32(2*d.master.BufferSize())
}

func (d *Device) GetInputLatencyInSamples() uint32 {
	return d.inputCore().InputLatency() + uint32(2*d.inputCore().BufferSize())
}

// GetCurrentBitDepth always reports 32: every sample crossing this
// boundary is float32.
func (d *Device) GetCurrentBitDepth() int { return 32 }

// GetActiveInputChannels returns the union of the master's and slave's
// active-input channel masks.
func (d *Device) GetActiveInputChannels() uint64 {
	mask := d.master.ActiveInputChans()
	if d.slave != nil {
		mask |= d.slave.ActiveInputChans()
	}
	return mask
}

// GetActiveOutputChannels returns the master's active-output channel
// mask.
func (d *Device) GetActiveOutputChannels() uint64 {
	return d.master.ActiveOutputChans()
}

// Sources / CurrentSourceIndex / SetCurrentSourceIndex pass through to
// the master core's data-source selection.
func (d *Device) Sources() []string { return d.master.Sources() }

func (d *Device) CurrentSourceIndex() int {
	sources := d.master.Sources()
	idx := d.master.CurrentSourceIndex()
	if idx < 0 || idx >= len(sources) {
		return -1
	}
	return idx
}

func (d *Device) SetCurrentSourceIndex(index int) error {
	return d.master.SetCurrentSourceIndex(index)
}

// Destroy stops and releases the underlying core(s).
func (d *Device) Destroy() {
	if d.isStarted {
		d.Stop()
	}
	d.master.Close()
}
