// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	AppName       = "audiobridge"
	ConfigType    = "yaml"
	DefaultConfig = `# audiobridge configuration

# Device selection (names as reported by "audiobridge devices"; empty = OS default)
output_device: ""
input_device: ""

# Device settings
sample_rate: 48000      # Nominal sample rate in Hz, 0 = keep the device's current rate
buffer_size: 256         # Buffer size in frames, 0 = device default (smallest available >= 512)

# Monitor mode: pipes input channel 0 through the tone detector/CW decoder
monitor: false
tone_frequency: 600     # Goertzel detector center frequency in Hz
block_size: 512         # Goertzel block size (samples per detection window)
overlap_pct: 50         # Block overlap percentage (0-99)
threshold: 0.4          # Detection threshold (0.0-1.0)
hysteresis: 5           # Consecutive blocks required to confirm a state change
agc_enabled: true       # Enable automatic gain control ahead of detection
agc_decay: 0.9995       # AGC peak decay factor per detection block
agc_attack: 0.1         # AGC attack rate (0.0-1.0)
agc_warmup_blocks: 10   # Blocks processed before detection is enabled
wpm: 15                 # Initial WPM estimate for the adaptive timing model
adaptive_timing: true   # Adapt to sender's speed
adaptive_smoothing: 0.1 # EMA smoothing factor for timing adaptation
dit_dah_boundary: 2.0   # Threshold ratio between dit and dah durations
char_word_boundary: 5.0 # Threshold ratio between character and word spacing
farnsworth_wpm: 0       # Effective spacing WPM (0 = same as wpm)

# Output
debug: false            # Enable debug-level logging
`
)

// Settings holds all application configuration.
type Settings struct {
	// Device selection
	OutputDevice string `mapstructure:"output_device"`
	InputDevice  string `mapstructure:"input_device"`

	// Device settings
	SampleRate float64 `mapstructure:"sample_rate"`
	BufferSize int     `mapstructure:"buffer_size"`

	// Monitor mode (wires the kept Goertzel/CW decoder into channel 0)
	Monitor           bool    `mapstructure:"monitor"`
	ToneFrequency     float64 `mapstructure:"tone_frequency"`
	BlockSize         int     `mapstructure:"block_size"`
	OverlapPct        int     `mapstructure:"overlap_pct"`
	Threshold         float64 `mapstructure:"threshold"`
	Hysteresis        int     `mapstructure:"hysteresis"`
	AGCEnabled        bool    `mapstructure:"agc_enabled"`
	AGCDecay          float64 `mapstructure:"agc_decay"`
	AGCAttack         float64 `mapstructure:"agc_attack"`
	AGCWarmupBlocks   int     `mapstructure:"agc_warmup_blocks"`
	WPM               int     `mapstructure:"wpm"`
	AdaptiveTiming    bool    `mapstructure:"adaptive_timing"`
	AdaptiveSmoothing float64 `mapstructure:"adaptive_smoothing"`
	DitDahBoundary    float64 `mapstructure:"dit_dah_boundary"`
	CharWordBoundary  float64 `mapstructure:"char_word_boundary"`
	FarnsworthWPM     int     `mapstructure:"farnsworth_wpm"`

	// Output
	Debug bool `mapstructure:"debug"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/audiobridge/
func Init() error {
	viper.SetDefault("output_device", "")
	viper.SetDefault("input_device", "")
	viper.SetDefault("sample_rate", 48000)
	viper.SetDefault("buffer_size", 256)
	viper.SetDefault("monitor", false)
	viper.SetDefault("tone_frequency", 600)
	viper.SetDefault("block_size", 512)
	viper.SetDefault("overlap_pct", 50)
	viper.SetDefault("threshold", 0.4)
	viper.SetDefault("hysteresis", 5)
	viper.SetDefault("agc_enabled", true)
	viper.SetDefault("agc_decay", 0.9995)
	viper.SetDefault("agc_attack", 0.1)
	viper.SetDefault("agc_warmup_blocks", 10)
	viper.SetDefault("wpm", 15)
	viper.SetDefault("adaptive_timing", true)
	viper.SetDefault("adaptive_smoothing", 0.1)
	viper.SetDefault("dit_dah_boundary", 2.0)
	viper.SetDefault("char_word_boundary", 5.0)
	viper.SetDefault("farnsworth_wpm", 0)
	viper.SetDefault("debug", false)

	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			xdgConfigPath := filepath.Join(configDir, AppName)
			if err = ensureConfigExists(xdgConfigPath); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings.
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks that all settings are within acceptable ranges.
func (s *Settings) Validate() error {
	var errs []error

	if s.SampleRate != 0 && (s.SampleRate < 8000 || s.SampleRate > 192000) {
		errs = append(errs, fmt.Errorf("sample_rate must be 0 (device default) or between 8000 and 192000 Hz, got %v", s.SampleRate))
	}
	if s.BufferSize != 0 && (s.BufferSize < 32 || s.BufferSize > 8192) {
		errs = append(errs, fmt.Errorf("buffer_size must be 0 (device default) or between 32 and 8192, got %d", s.BufferSize))
	}

	if s.Monitor {
		if s.ToneFrequency < 100 || s.ToneFrequency > 3000 {
			errs = append(errs, fmt.Errorf("tone_frequency must be between 100 and 3000 Hz, got %v", s.ToneFrequency))
		}
		if s.BlockSize < 32 || s.BlockSize > 4096 {
			errs = append(errs, fmt.Errorf("block_size must be between 32 and 4096, got %d", s.BlockSize))
		}
		if s.BlockSize&(s.BlockSize-1) != 0 {
			errs = append(errs, fmt.Errorf("block_size should be a power of 2, got %d", s.BlockSize))
		}
		if s.Threshold < 0.0 || s.Threshold > 1.0 {
			errs = append(errs, fmt.Errorf("threshold must be between 0.0 and 1.0, got %v", s.Threshold))
		}
		if s.Hysteresis < 1 || s.Hysteresis > 50 {
			errs = append(errs, fmt.Errorf("hysteresis must be between 1 and 50, got %d", s.Hysteresis))
		}
		if s.AGCDecay < 0.99 || s.AGCDecay > 0.99999 {
			errs = append(errs, fmt.Errorf("agc_decay must be between 0.99 and 0.99999, got %v", s.AGCDecay))
		}
		if s.AGCAttack < 0.0 || s.AGCAttack > 1.0 {
			errs = append(errs, fmt.Errorf("agc_attack must be between 0.0 and 1.0, got %v", s.AGCAttack))
		}
		if s.WPM < 5 || s.WPM > 60 {
			errs = append(errs, fmt.Errorf("wpm must be between 5 and 60, got %d", s.WPM))
		}
		if s.SampleRate != 0 && s.ToneFrequency >= s.SampleRate/2 {
			errs = append(errs, fmt.Errorf("tone_frequency (%v Hz) must be less than Nyquist frequency (%v Hz)", s.ToneFrequency, s.SampleRate/2))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
