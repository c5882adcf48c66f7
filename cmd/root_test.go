package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func resetViperForTest() {
	viper.Reset()
}

func TestRootCmd_HasExpectedPersistentFlags(t *testing.T) {
	flags := rootCmd.PersistentFlags()

	tests := []struct {
		name      string
		shorthand string
	}{
		{"debug", "D"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := flags.Lookup(tt.name)
			if flag == nil {
				t.Errorf("flag %q not found", tt.name)
				return
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("flag %q shorthand = %q, want %q", tt.name, flag.Shorthand, tt.shorthand)
			}
		})
	}
}

func TestRunCmd_HasExpectedFlags(t *testing.T) {
	flags := runCmd.Flags()

	tests := []struct {
		name      string
		shorthand string
	}{
		{"output", "o"},
		{"input", "i"},
		{"sample-rate", "r"},
		{"buffer-size", "b"},
		{"monitor", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := flags.Lookup(tt.name)
			if flag == nil {
				t.Errorf("flag %q not found", tt.name)
				return
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("flag %q shorthand = %q, want %q", tt.name, flag.Shorthand, tt.shorthand)
			}
		})
	}
}

func TestRunCmd_FlagDefaults(t *testing.T) {
	flags := runCmd.Flags()

	tests := []struct {
		name         string
		defaultValue string
	}{
		{"output", ""},
		{"input", ""},
		{"sample-rate", "0"},
		{"buffer-size", "0"},
		{"monitor", "false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := flags.Lookup(tt.name)
			if flag == nil {
				t.Fatalf("flag %q not found", tt.name)
			}
			if flag.DefValue != tt.defaultValue {
				t.Errorf("flag %q default = %q, want %q", tt.name, flag.DefValue, tt.defaultValue)
			}
		})
	}
}

func TestRunCmd_FlagDescriptions(t *testing.T) {
	flags := runCmd.Flags()

	flagsToCheck := []string{"output", "input", "sample-rate", "buffer-size", "monitor"}

	for _, name := range flagsToCheck {
		t.Run(name, func(t *testing.T) {
			flag := flags.Lookup(name)
			if flag == nil {
				t.Fatalf("flag %q not found", name)
			}
			if flag.Usage == "" {
				t.Errorf("flag %q has no description", name)
			}
		})
	}
}

func TestRootCmd_Properties(t *testing.T) {
	if rootCmd.Use != "audiobridge" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "audiobridge")
	}
	if rootCmd.Short == "" {
		t.Error("rootCmd.Short is empty")
	}
	if rootCmd.Long == "" {
		t.Error("rootCmd.Long is empty")
	}
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	for _, want := range []string{"devices", "run"} {
		found := false
		for _, sub := range rootCmd.Commands() {
			if sub.Name() == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", want)
		}
	}
}

func TestRootCmd_HelpOutput(t *testing.T) {
	resetViperForTest()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"--help"})

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("Execute() with --help error = %v", err)
	}

	output := buf.String()
	if !bytes.Contains([]byte(output), []byte("audiobridge")) {
		t.Errorf("help output should contain 'audiobridge'")
	}
	if !bytes.Contains([]byte(output), []byte("devices")) {
		t.Errorf("help output should list the 'devices' subcommand")
	}
	if !bytes.Contains([]byte(output), []byte("run")) {
		t.Errorf("help output should list the 'run' subcommand")
	}
}

func TestInitConfig(t *testing.T) {
	resetViperForTest()

	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	configDir := filepath.Join(tmpDir, ".config", "audiobridge")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte("buffer_size: 128"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	// Should not panic
	initConfig()

	// Verify config was loaded
	if viper.GetInt("buffer_size") != 128 {
		t.Errorf("viper.GetInt(buffer_size) = %d, want 128", viper.GetInt("buffer_size"))
	}
}
