// Package hal defines the downward-facing interface between the device
// core and the operating system's audio hardware abstraction layer. It is
// the only package in this module that is allowed to know about a concrete
// OS audio API; everything above it (internal/devicecore, internal/device,
// internal/registry) is written against the OS interface and a DeviceID
// equality handle, so it can be exercised on any platform with a fake.
package hal

import "fmt"

// DeviceID is an opaque handle assigned by the OS. Only equality is
// meaningful. It mirrors CoreAudio's AudioObjectID (a uint32), but nothing
// above this package should assume a numeric encoding.
type DeviceID uint32

// InvalidDeviceID is never a valid device handle.
const InvalidDeviceID DeviceID = 0

// MaxChannels bounds every fixed-capacity array used on the realtime path.
// No device in practice exposes more channels than this in one direction.
const MaxChannels = 96

// Direction selects input or output on a device.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// CandidateSampleRates is the fixed set of nominal rates refreshFromOS
// filters the OS-reported ranges against.
var CandidateSampleRates = [...]float64{44100, 48000, 88200, 96000, 176400, 192000}

// BuildBufferSizeGrid builds the coarse buffer-size grid refreshFromOS
// intersects against the OS-reported ranges: {min, 32, 64, 96, ..., 8192},
// keeping only values within [min, max]; "min" depends on the device's
// reported range.
func BuildBufferSizeGrid(min, max uint32) []uint32 {
	grid := make([]uint32, 0, 8+2)
	if min > 0 {
		grid = append(grid, min)
	}
	for v := uint32(32); v <= 8192; v += 32 {
		if v >= min && v <= max {
			grid = append(grid, v)
		}
	}
	return dedupUint32(grid)
}

func dedupUint32(in []uint32) []uint32 {
	out := in[:0]
	var last uint32
	for i, v := range in {
		if i == 0 || v != last {
			out = append(out, v)
		}
		last = v
	}
	return out
}

// SampleRateRange and BufferFrameRange describe the OS-reported ranges for
// nominal sample rate and buffer frame size respectively. A device reports
// one or more disjoint ranges (e.g. a device that locks to 44.1/48kHz
// families but not the values in between).
type SampleRateRange struct{ Min, Max float64 }

// Contains reports whether rate falls within the range, with the 2 Hz
// tolerance the candidate-set filter allows.
func (r SampleRateRange) Contains(rate float64) bool {
	const tolerance = 2.0
	return rate >= r.Min-tolerance && rate <= r.Max+tolerance
}

type BufferFrameRange struct{ Min, Max uint32 }

// StreamLayout describes one OS buffer-list entry for one direction: an
// interleaved block carrying NumChannels channels.
type StreamLayout struct {
	NumChannels int
}

// DeviceSnapshot is everything refreshFromOS reads from the OS in one pass,
// under the realtime lock, for a single device id.
type DeviceSnapshot struct {
	Name                string
	NominalSampleRate   float64
	BufferFrameSize     uint32
	SampleRateRanges    []SampleRateRange
	BufferFrameRanges   []BufferFrameRange
	InputLatencyFrames  uint32
	OutputLatencyFrames uint32
	InputStreams        []StreamLayout
	OutputStreams       []StreamLayout
	Alive               bool
}

// Buffer is one OS buffer-list entry: an interleaved block of float32
// samples for a single stream, handed to/from the I/O proc. Its length is
// NumChannels(stream) * frameCount.
type Buffer []float32

// IOProc is the OS real-time callback contract: it is invoked once per
// hardware interrupt with the input buffer list and a same-shaped output
// buffer list to fill. It must not allocate or block beyond whatever
// locking the caller supplies.
type IOProc func(in []Buffer, out []Buffer, frameCount int)

// IOProcToken identifies an installed I/O proc so it can be removed later.
type IOProcToken uint64

// PropertySelector enumerates the OS property IDs a listener can fire for.
// Only a whitelisted subset reaches DeviceCore.deviceDetailsChanged; the
// rest exist so the listener routing itself is testable.
type PropertySelector int

const (
	SelectorNominalSampleRate PropertySelector = iota
	SelectorBufferFrameSize
	SelectorStreamFormat
	SelectorDeviceIsAlive
	SelectorVolume
	SelectorMute
	SelectorDataSource
	SelectorDeviceIsRunning
	SelectorDeviceListChanged
	SelectorDefaultInputDevice
	SelectorDefaultOutputDevice
)

// PropertyListener is invoked on the OS property-listener thread whenever a
// subscribed property changes.
type PropertyListener func(selector PropertySelector)

// ListenerToken identifies an installed property listener so it can be
// removed later.
type ListenerToken uint64

// OS is the complete downward surface the core needs from the operating
// system: device enumeration,
// per-device state, stream configuration, data sources, latency,
// running/alive queries, I/O proc lifecycle, and property listeners.
//
// Every method may be called from the control thread. AddIOProc installs a
// callback that will subsequently be invoked from the OS real-time thread;
// implementations must not invoke the installed IOProc synchronously from
// AddIOProc itself.
type OS interface {
	DeviceList() ([]DeviceID, error)
	DefaultDevice(dir Direction) (DeviceID, error)
	DeviceName(id DeviceID) (string, error)
	ChannelCount(id DeviceID, dir Direction) (int, error)
	IsAlive(id DeviceID) bool

	NominalSampleRate(id DeviceID) (float64, error)
	SetNominalSampleRate(id DeviceID, rate float64) error
	BufferFrameSize(id DeviceID) (uint32, error)
	SetBufferFrameSize(id DeviceID, frames uint32) error
	AvailableSampleRateRanges(id DeviceID) ([]SampleRateRange, error)
	AvailableBufferFrameRanges(id DeviceID) ([]BufferFrameRange, error)
	Latency(id DeviceID, dir Direction) (uint32, error)
	StreamLayouts(id DeviceID, dir Direction) ([]StreamLayout, error)
	IsRunning(id DeviceID) (bool, error)

	DataSources(id DeviceID) ([]string, error)
	CurrentDataSourceIndex(id DeviceID) (int, error)
	SetCurrentDataSourceIndex(id DeviceID, index int) error

	RelatedDevices(id DeviceID) ([]DeviceID, error)

	AddIOProc(id DeviceID, proc IOProc) (IOProcToken, error)
	RemoveIOProc(id DeviceID, token IOProcToken) error
	StartDevice(id DeviceID) error
	StopDevice(id DeviceID) error

	AddPropertyListener(id DeviceID, listener PropertyListener) (ListenerToken, error)
	RemovePropertyListener(id DeviceID, token ListenerToken) error

	// AddDeviceListListener subscribes to the system-wide device list
	// changing (devices added or removed), independent of any single
	// device id. RemoveDeviceListListener reverses it.
	AddDeviceListListener(listener func()) (ListenerToken, error)
	RemoveDeviceListListener(token ListenerToken) error
}

// Snapshot gathers a DeviceSnapshot for id from os. It is a convenience
// used by devicecore.refreshFromOS so the field-by-field OS round trips
// live in one place and are easy to keep in sync with the OS interface.
func Snapshot(os OS, id DeviceID) (DeviceSnapshot, error) {
	var snap DeviceSnapshot

	name, err := os.DeviceName(id)
	if err != nil {
		return snap, fmt.Errorf("device name: %w", err)
	}
	snap.Name = name

	rate, err := os.NominalSampleRate(id)
	if err != nil {
		return snap, fmt.Errorf("nominal sample rate: %w", err)
	}
	snap.NominalSampleRate = rate

	size, err := os.BufferFrameSize(id)
	if err != nil {
		return snap, fmt.Errorf("buffer frame size: %w", err)
	}
	snap.BufferFrameSize = size

	rateRanges, err := os.AvailableSampleRateRanges(id)
	if err != nil {
		return snap, fmt.Errorf("sample rate ranges: %w", err)
	}
	snap.SampleRateRanges = rateRanges

	sizeRanges, err := os.AvailableBufferFrameRanges(id)
	if err != nil {
		return snap, fmt.Errorf("buffer frame ranges: %w", err)
	}
	snap.BufferFrameRanges = sizeRanges

	inLatency, err := os.Latency(id, Input)
	if err != nil {
		return snap, fmt.Errorf("input latency: %w", err)
	}
	snap.InputLatencyFrames = inLatency

	outLatency, err := os.Latency(id, Output)
	if err != nil {
		return snap, fmt.Errorf("output latency: %w", err)
	}
	snap.OutputLatencyFrames = outLatency

	inStreams, err := os.StreamLayouts(id, Input)
	if err != nil {
		return snap, fmt.Errorf("input stream layouts: %w", err)
	}
	snap.InputStreams = inStreams

	outStreams, err := os.StreamLayouts(id, Output)
	if err != nil {
		return snap, fmt.Errorf("output stream layouts: %w", err)
	}
	snap.OutputStreams = outStreams

	snap.Alive = os.IsAlive(id)

	return snap, nil
}
