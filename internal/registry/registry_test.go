package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ColonelBlimp/audiobridge/internal/hal"
	"github.com/ColonelBlimp/audiobridge/internal/halsim"
)

func oneStream(numChans int) []hal.StreamLayout {
	return []hal.StreamLayout{{NumChannels: numChans}}
}

func buildSim() *halsim.FakeOS {
	sim := halsim.New()
	sim.AddDevice(1, &halsim.Device{Name: "Built-in Microphone", InputChannels: 2, InputStreams: oneStream(2)})
	sim.AddDevice(2, &halsim.Device{Name: "Built-in Output", OutputChannels: 2, OutputStreams: oneStream(2)})
	sim.AddDevice(3, &halsim.Device{Name: "Built-in Output", InputChannels: 2, OutputChannels: 2, InputStreams: oneStream(2), OutputStreams: oneStream(2)})
	sim.AddDevice(4, &halsim.Device{Name: "USB Interface", InputChannels: 2, OutputChannels: 2, InputStreams: oneStream(2), OutputStreams: oneStream(2)})
	sim.DefaultInput = 1
	sim.DefaultOutput = 2
	return sim
}

func TestRegistry_ScanPartitionsAndDisambiguates(t *testing.T) {
	sim := buildSim()
	reg := New(sim, nil)
	require.NoError(t, reg.Scan())

	outputs := reg.GetDeviceNames(false)
	require.Len(t, outputs, 3)
	require.Contains(t, outputs, "Built-in Output")
	require.Contains(t, outputs, "Built-in Output (1)")
	require.Contains(t, outputs, "USB Interface")

	inputs := reg.GetDeviceNames(true)
	require.Len(t, inputs, 3)
}

func TestRegistry_GetDefaultDeviceIndex(t *testing.T) {
	sim := buildSim()
	reg := New(sim, nil)
	require.NoError(t, reg.Scan())

	idx := reg.GetDefaultDeviceIndex(true)
	require.GreaterOrEqual(t, idx, 0)
	names := reg.GetDeviceNames(true)
	require.Equal(t, "Built-in Microphone", names[idx])
}

func TestRegistry_AssertScannedPanics(t *testing.T) {
	sim := halsim.New()
	reg := New(sim, nil)
	require.Panics(t, func() { reg.GetDeviceNames(true) })
}

func TestRegistry_CreateDeviceSameID(t *testing.T) {
	sim := buildSim()
	reg := New(sim, nil)
	require.NoError(t, reg.Scan())

	d, err := reg.CreateDevice("USB Interface", "USB Interface")
	require.NoError(t, err)
	require.NotNil(t, d)
}

func TestRegistry_CreateDeviceMasterSlave(t *testing.T) {
	sim := buildSim()
	reg := New(sim, nil)
	require.NoError(t, reg.Scan())

	d, err := reg.CreateDevice("Built-in Output", "Built-in Microphone")
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Equal(t, []string{"input 1", "input 2"}, d.GetInputChannelNames())
}

func TestRegistry_CreateDeviceNeitherResolves(t *testing.T) {
	sim := buildSim()
	reg := New(sim, nil)
	require.NoError(t, reg.Scan())

	_, err := reg.CreateDevice("Nonexistent Output", "Nonexistent Input")
	require.Error(t, err)
}

func TestRegistry_HardwareListenerForwardsToCore(t *testing.T) {
	sim := buildSim()
	reg := New(sim, nil)
	require.NoError(t, reg.Scan())

	d, err := reg.CreateDevice("", "Built-in Microphone")
	require.NoError(t, err)
	require.NotNil(t, d)

	// Must not panic even though no assertions are made about refresh
	// timing here; the debounce timer itself is covered in devicecore.
	require.NotPanics(t, func() { sim.FireDevicesChanged() })
}
