//go:build !darwin

// cmd/run_other.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the configured output/input device pair and bridge audio between them",
	RunE:  runBridge,
}

func runBridge(_ *cobra.Command, _ []string) error {
	return fmt.Errorf("run: CoreAudio device bridging is only available on darwin; use 'devices' to list what this platform's backend sees")
}
