// cmd/devices.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/audiobridge/internal/diag"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio devices visible to the host's default audio backend",
	RunE:  runDevices,
}

func runDevices(_ *cobra.Command, _ []string) error {
	lister, err := diag.NewLister()
	if err != nil {
		return fmt.Errorf("init device lister: %w", err)
	}
	defer func() {
		if err := lister.Close(); err != nil {
			fmt.Println("warning: error closing device lister:", err)
		}
	}()

	captures, err := lister.ListCaptureDevices()
	if err != nil {
		return fmt.Errorf("list capture devices: %w", err)
	}
	playbacks, err := lister.ListPlaybackDevices()
	if err != nil {
		return fmt.Errorf("list playback devices: %w", err)
	}

	fmt.Println("Input devices:")
	for i, d := range captures {
		fmt.Printf("  [%d] %s\n", i, d.Name)
	}
	fmt.Println("Output devices:")
	for i, d := range playbacks {
		fmt.Printf("  [%d] %s\n", i, d.Name)
	}
	return nil
}
