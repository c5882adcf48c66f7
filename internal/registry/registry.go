// Package registry implements the device-type registry: it scans the
// hardware for available devices, maintains the input/output name tables,
// and constructs device.Device facades on demand.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/ColonelBlimp/audiobridge/internal/device"
	"github.com/ColonelBlimp/audiobridge/internal/devicecore"
	"github.com/ColonelBlimp/audiobridge/internal/hal"
)

// Descriptor is one scanned device: its OS id, display name (disambiguated
// if a duplicate), and channel counts in each direction.
type Descriptor struct {
	Name              string
	ID                hal.DeviceID
	NumInputChannels  int
	NumOutputChannels int
}

// Registry is the device-type registry. It must be scanned with Scan
// before any other accessor is called.
type Registry struct {
	os  hal.OS
	log *log.Logger

	mu        sync.Mutex
	scanned   bool
	inputs    []Descriptor
	outputs   []Descriptor
	listeners map[hal.DeviceID]*devicecore.DeviceCore

	deviceListToken hal.ListenerToken
}

// New constructs a Registry against os. Call Scan before use.
func New(osIface hal.OS, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	r := &Registry{os: osIface, log: logger, listeners: make(map[hal.DeviceID]*devicecore.DeviceCore)}
	if token, err := osIface.AddDeviceListListener(r.onDevicesChanged); err != nil {
		logger.Warn("add device list listener failed", "err", err)
	} else {
		r.deviceListToken = token
	}
	return r
}

// Scan queries the OS device list, partitions devices into the input and
// output tables, and disambiguates duplicate names by suffixing " (n)"
// with ascending n. Must be called before any other accessor.
func (r *Registry) Scan() error {
	ids, err := r.os.DeviceList()
	if err != nil {
		return fmt.Errorf("scan for devices: %w", err)
	}

	var inputs, outputs []Descriptor
	seenNames := make(map[string]int)

	for _, id := range ids {
		name, err := r.os.DeviceName(id)
		if err != nil {
			r.log.Warn("device name failed during scan", "device", id, "err", err)
			continue
		}
		seenNames[name]++
		if n := seenNames[name]; n > 1 {
			name = fmt.Sprintf("%s (%d)", name, n-1)
		}

		numIn, err := r.os.ChannelCount(id, hal.Input)
		if err != nil {
			numIn = 0
		}
		numOut, err := r.os.ChannelCount(id, hal.Output)
		if err != nil {
			numOut = 0
		}

		desc := Descriptor{Name: name, ID: id, NumInputChannels: numIn, NumOutputChannels: numOut}
		if numIn > 0 {
			inputs = append(inputs, desc)
		}
		if numOut > 0 {
			outputs = append(outputs, desc)
		}
	}

	sort.SliceStable(inputs, func(i, j int) bool { return inputs[i].Name < inputs[j].Name })
	sort.SliceStable(outputs, func(i, j int) bool { return outputs[i].Name < outputs[j].Name })

	r.mu.Lock()
	r.inputs = inputs
	r.outputs = outputs
	r.scanned = true
	r.mu.Unlock()
	return nil
}

func (r *Registry) table(wantInput bool) []Descriptor {
	if wantInput {
		return r.inputs
	}
	return r.outputs
}

// assertScanned panics if Scan has not yet run; accessors fail fast
// rather than silently answering from empty tables.
func (r *Registry) assertScanned() {
	if !r.scanned {
		panic("registry: accessor called before Scan")
	}
}

// GetDeviceNames returns the ordered name list for the input or output
// table.
func (r *Registry) GetDeviceNames(wantInput bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assertScanned()

	table := r.table(wantInput)
	names := make([]string, len(table))
	for i, d := range table {
		names[i] = d.Name
	}
	return names
}

// GetDefaultDeviceIndex returns the index of the OS default input/output
// device within the corresponding table, or 0 if the default is absent
// from it.
func (r *Registry) GetDefaultDeviceIndex(forInput bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assertScanned()

	dir := hal.Output
	if forInput {
		dir = hal.Input
	}
	defaultID, err := r.os.DefaultDevice(dir)
	if err != nil {
		return 0
	}
	for i, d := range r.table(forInput) {
		if d.ID == defaultID {
			return i
		}
	}
	return 0
}

// GetIndexOfDevice returns the index of name within the corresponding
// table, or -1 if not present.
func (r *Registry) GetIndexOfDevice(wantInput bool, name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assertScanned()

	for i, d := range r.table(wantInput) {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// HasSeparateInputsAndOutputs always reports true: the registry never
// collapses the two tables, even when one device happens to appear in
// both.
func (r *Registry) HasSeparateInputsAndOutputs() bool { return true }

func (r *Registry) idForName(wantInput bool, name string) (hal.DeviceID, bool) {
	for _, d := range r.table(wantInput) {
		if d.Name == name {
			return d.ID, true
		}
	}
	return hal.InvalidDeviceID, false
}

// CreateDevice resolves outputName/inputName to OS ids and constructs a
// device.Device facade:
//   - empty outputName: the input id alone is used for both directions
//     (an inert output channel count of 0).
//   - both names resolve to the same id: one DeviceCore covers both
//     directions.
//   - names resolve to different ids: outputName becomes master,
//     inputName becomes slave. If the master fails to open, creation
//     fails with the master's lastError. If the slave fails, the master
//     is kept and the device is output-only.
//   - neither name resolves: returns an error (the intended fix for the
//     stale-index bug noted in the source this was distilled from).
func (r *Registry) CreateDevice(outputName, inputName string) (*device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assertScanned()

	outputID, outputFound := hal.InvalidDeviceID, false
	if outputName != "" {
		outputID, outputFound = r.idForName(false, outputName)
	}
	inputID, inputFound := r.idForName(true, inputName)

	if !outputFound && !inputFound {
		return nil, fmt.Errorf("neither output device %q nor input device %q resolved", outputName, inputName)
	}

	if outputName == "" {
		core := devicecore.New(inputID, r.os, r.log)
		if !core.Valid() {
			return nil, fmt.Errorf("open device %q: %s", inputName, core.LastError())
		}
		r.listeners[inputID] = core
		return device.New(core, nil, r.log), nil
	}

	if outputFound && inputFound && outputID == inputID {
		core := devicecore.New(outputID, r.os, r.log)
		if !core.Valid() {
			return nil, fmt.Errorf("open device %q: %s", outputName, core.LastError())
		}
		r.listeners[outputID] = core
		return device.New(core, nil, r.log), nil
	}

	master := devicecore.New(outputID, r.os, r.log)
	if !master.Valid() {
		return nil, fmt.Errorf("open output device %q: %s", outputName, master.LastError())
	}
	r.listeners[outputID] = master

	if !inputFound {
		return device.New(master, nil, r.log), nil
	}

	slave := devicecore.New(inputID, r.os, r.log)
	if !slave.Valid() {
		r.log.Warn("slave device failed to open; keeping master output-only", "device", inputName, "err", slave.LastError())
		return device.New(master, nil, r.log), nil
	}
	master.SetSlave(slave)
	r.listeners[inputID] = slave

	return device.New(master, slave, r.log), nil
}

// onDevicesChanged is the OS DevicesChanged handler: it notifies every
// live DeviceCore so each can re-derive its own state. Default-device
// changes are intentionally not handled here; the external device
// manager owns re-selection policy.
func (r *Registry) onDevicesChanged() {
	r.mu.Lock()
	cores := make([]*devicecore.DeviceCore, 0, len(r.listeners))
	for _, c := range r.listeners {
		cores = append(cores, c)
	}
	r.mu.Unlock()

	for _, c := range cores {
		c.NotifyDevicesChanged()
	}
}

// Close tears down the registry's own OS subscriptions. It does not close
// devices it has constructed; those are owned by whoever called
// CreateDevice.
func (r *Registry) Close() {
	if r.deviceListToken != 0 {
		if err := r.os.RemoveDeviceListListener(r.deviceListToken); err != nil {
			r.log.Warn("remove device list listener failed", "err", err)
		}
	}
}
