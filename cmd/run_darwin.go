//go:build darwin

// cmd/run_darwin.go
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/audiobridge/internal/config"
	"github.com/ColonelBlimp/audiobridge/internal/cw"
	"github.com/ColonelBlimp/audiobridge/internal/device"
	"github.com/ColonelBlimp/audiobridge/internal/dsp"
	"github.com/ColonelBlimp/audiobridge/internal/hal"
	"github.com/ColonelBlimp/audiobridge/internal/registry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the configured output/input device pair and bridge audio between them",
	RunE:  runBridge,
}

// bridgeClient implements device.IOCallback. It copies input channels
// straight through to the matching output channel, and when monitoring is
// enabled also feeds channel 0 through the Goertzel tone detector and CW
// decoder.
type bridgeClient struct {
	logger   *log.Logger
	detector *dsp.Detector
	decoder  *cw.Decoder
}

func (c *bridgeClient) AudioDeviceAboutToStart(d *device.Device) {
	c.logger.Info("device starting",
		"sampleRate", d.GetCurrentSampleRate(), "bufferSize", d.GetCurrentBufferSizeSamples())
}

func (c *bridgeClient) AudioDeviceStopped() {
	c.logger.Info("device stopped")
}

func (c *bridgeClient) AudioDeviceIOCallback(inputs [][]float32, numIn int, outputs [][]float32, numOut int, frameCount int) {
	n := numIn
	if numOut < n {
		n = numOut
	}
	for ch := 0; ch < n; ch++ {
		copy(outputs[ch][:frameCount], inputs[ch][:frameCount])
	}
	for ch := n; ch < numOut; ch++ {
		for f := 0; f < frameCount; f++ {
			outputs[ch][f] = 0
		}
	}
	if c.detector != nil && numIn > 0 {
		c.detector.Process(inputs[0][:frameCount])
	}
}

func runBridge(_ *cobra.Command, _ []string) error {
	settings, err := config.Get()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.Default()
	if settings.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	reg := registry.New(hal.NewCoreAudioOS(), logger)
	if err := reg.Scan(); err != nil {
		return fmt.Errorf("scan devices: %w", err)
	}

	d, err := reg.CreateDevice(settings.OutputDevice, settings.InputDevice)
	if err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	defer d.Destroy()

	if settings.SampleRate <= 0 {
		settings.SampleRate = d.GetCurrentSampleRate()
	}
	if settings.BufferSize <= 0 {
		settings.BufferSize = d.GetDefaultBufferSize()
	}

	inMask := fullMask(len(d.GetInputChannelNames()))
	outMask := fullMask(len(d.GetOutputChannelNames()))
	if errStr := d.Open(inMask, outMask, settings.SampleRate, settings.BufferSize); errStr != "" {
		return fmt.Errorf("open device: %s", errStr)
	}

	client := &bridgeClient{logger: logger}
	if settings.Monitor {
		if err := wireMonitor(client, settings); err != nil {
			return fmt.Errorf("wire monitor mode: %w", err)
		}
	}

	logger.Info("starting bridge", "output", settings.OutputDevice, "input", settings.InputDevice)
	if !d.Start(client) {
		return fmt.Errorf("start device failed")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	d.Stop()
	logger.Info("bridge stopped")
	return nil
}

// fullMask returns a bitmask with the low n bits set, activating every
// channel the device exposes.
func fullMask(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(n)) - 1
}

// wireMonitor builds the Goertzel detector and CW decoder chain and binds
// it to client.detector so channel 0 gets decoded on every callback.
func wireMonitor(client *bridgeClient, settings *config.Settings) error {
	goertzel, err := dsp.NewGoertzel(dsp.GoertzelConfig{
		TargetFrequency: settings.ToneFrequency,
		SampleRate:      settings.SampleRate,
		BlockSize:       settings.BlockSize,
	})
	if err != nil {
		return fmt.Errorf("init goertzel: %w", err)
	}

	detector, err := dsp.NewDetector(dsp.DetectorConfig{
		Threshold:       settings.Threshold,
		Hysteresis:      settings.Hysteresis,
		OverlapPct:      settings.OverlapPct,
		AGCEnabled:      settings.AGCEnabled,
		AGCDecay:        settings.AGCDecay,
		AGCAttack:       settings.AGCAttack,
		AGCWarmupBlocks: settings.AGCWarmupBlocks,
	}, goertzel)
	if err != nil {
		return fmt.Errorf("init detector: %w", err)
	}

	decoder, err := cw.NewDecoder(cw.DecoderConfig{
		InitialWPM:        settings.WPM,
		AdaptiveTiming:    settings.AdaptiveTiming,
		AdaptiveSmoothing: settings.AdaptiveSmoothing,
		DitDahBoundary:    settings.DitDahBoundary,
		CharWordBoundary:  settings.CharWordBoundary,
		FarnsworthWPM:     settings.FarnsworthWPM,
	})
	if err != nil {
		return fmt.Errorf("init cw decoder: %w", err)
	}

	decoder.SetCallback(func(output cw.DecodedOutput) {
		if output.IsWordSpace {
			fmt.Print(" ")
		} else if output.Character != 0 {
			fmt.Print(string(output.Character))
		}
	})
	detector.SetCallback(func(event dsp.ToneEvent) {
		decoder.HandleToneEvent(event)
	})

	client.detector = detector
	client.decoder = decoder
	return nil
}
