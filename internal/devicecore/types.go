// Package devicecore implements the per-device real-time I/O core: one
// instance per physical device, owning all OS-mediated state, the
// interleave/deinterleave data path, and master/slave aggregation of two
// physical devices into one logical duplex device.
package devicecore

import "github.com/ColonelBlimp/audiobridge/internal/hal"

// MaxChannels bounds every fixed-capacity array touched from the realtime
// callback. Dynamic growth only ever happens in refreshFromOS.
const MaxChannels = hal.MaxChannels

// ChannelRouting locates one active logical channel inside an OS buffer
// list: within buffer-list entry StreamNum, the channel's samples begin at
// DataOffsetSamples and advance by DataStrideSamples per frame.
// DataStrideSamples == 0 marks the entry invalid; callers must skip it.
type ChannelRouting struct {
	SourceChannelNum  int
	StreamNum         int
	DataOffsetSamples int
	DataStrideSamples int
}

func (r ChannelRouting) valid() bool { return r.DataStrideSamples != 0 }

// RealtimeClient is the subset of the upward IOCallback contract the core
// itself invokes from the OS audio thread. The full three-method contract
// (adding AudioDeviceAboutToStart/AudioDeviceStopped) lives one layer up in
// internal/device, since those two notifications are driven by the facade,
// not the core. Any internal/device.IOCallback implementation already
// satisfies this interface structurally.
type RealtimeClient interface {
	// AudioDeviceIOCallback is real-time: it must not block or allocate.
	// inputs[i] and outputs[i] are deinterleaved float32 views of exactly
	// frameCount samples. Contents of outputs on entry are undefined; the
	// callee must write the full buffer or zero it.
	AudioDeviceIOCallback(inputs [][]float32, numInputChans int, outputs [][]float32, numOutputChans int, frameCount int)
}

// Error strings surfaced via lastError and returned from open/reopen.
// These are plain strings rather than
// `error` sentinels because lastError crosses the OS callback boundary as
// state, not as a raised exception; the audio callback path never
// receives or propagates an error value.
const (
	errReconfigureFailed   = "Couldn't change sample rate/buffer size"
	errNoSampleRates       = "Device has no available sample-rates"
	errNoBufferSizes       = "Device has no available buffer-sizes"
	errSlaveFailurePrefix  = "slave device failed: "
	errStartFailurePrefix  = "couldn't start device: "
	errOpenFailurePrefix   = "couldn't open device: "
)

// reopenMaxPolls bounds the convergence wait in reopen: polled at 100ms
// intervals, 3s total.
const (
	reopenMaxPolls = 30
)

// stopPollMax bounds the quiescence wait in stop: 40 polls at 50ms.
const stopPollMax = 40

// debounceDelay is the one-shot refresh timer's coalescing window.
const debounceDelay = 100 // milliseconds, see timer.go
