// Package diag provides a cross-platform audio device lister for the CLI's
// diagnostic "devices" subcommand. It exists alongside internal/hal's
// CoreAudio-specific binding because malgo's portable device-enumeration
// API has no way to report the per-stream routing, data-source lists, or
// related-device links the real adapter needs, but it remains the right
// tool for a quick "what does this machine see" listing on any platform,
// including the one the adapter itself does not run on.
package diag

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// DeviceInfo is one enumerated device, reduced to what a diagnostic
// listing needs.
type DeviceInfo struct {
	Name       string
	IsCapture  bool
	IsPlayback bool
}

// Lister enumerates audio devices visible to the host's default audio
// backend (CoreAudio, WASAPI, ALSA/PulseAudio, depending on platform).
type Lister struct {
	ctx *malgo.AllocatedContext
}

// NewLister initializes the backend context. Call Close when done.
func NewLister() (*Lister, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Lister{ctx: ctx}, nil
}

// Close releases the backend context.
func (l *Lister) Close() error {
	if l.ctx == nil {
		return nil
	}
	if err := l.ctx.Uninit(); err != nil {
		return fmt.Errorf("uninit audio context: %w", err)
	}
	l.ctx.Free()
	l.ctx = nil
	return nil
}

// ListCaptureDevices returns every capture-capable device the backend
// reports.
func (l *Lister) ListCaptureDevices() ([]DeviceInfo, error) {
	return l.list(malgo.Capture)
}

// ListPlaybackDevices returns every playback-capable device the backend
// reports.
func (l *Lister) ListPlaybackDevices() ([]DeviceInfo, error) {
	return l.list(malgo.Playback)
}

func (l *Lister) list(deviceType malgo.DeviceType) ([]DeviceInfo, error) {
	if l.ctx == nil {
		return nil, fmt.Errorf("diag: lister is closed")
	}
	infos, err := l.ctx.Devices(deviceType)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	out := make([]DeviceInfo, len(infos))
	for i, info := range infos {
		out[i] = DeviceInfo{
			Name:       info.Name(),
			IsCapture:  deviceType == malgo.Capture,
			IsPlayback: deviceType == malgo.Playback,
		}
	}
	return out, nil
}
