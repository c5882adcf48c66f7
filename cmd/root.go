// cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/audiobridge/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "audiobridge",
	Short: "CoreAudio device bridge and diagnostic tool",
	Long:  `audiobridge lists and bridges audio devices through a master/slave duplex adapter, optionally decoding CW tones from channel 0.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "execution error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")
	cobra.CheckErr(viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")))

	runCmd.Flags().StringP("output", "o", "", "output device name (empty = OS default)")
	runCmd.Flags().StringP("input", "i", "", "input device name (empty = OS default)")
	runCmd.Flags().Float64P("sample-rate", "r", 0, "nominal sample rate in Hz (0 = config default)")
	runCmd.Flags().IntP("buffer-size", "b", 0, "buffer size in frames (0 = device default)")
	runCmd.Flags().Bool("monitor", false, "pipe input channel 0 through the tone detector/CW decoder")
	cobra.CheckErr(viper.BindPFlag("output_device", runCmd.Flags().Lookup("output")))
	cobra.CheckErr(viper.BindPFlag("input_device", runCmd.Flags().Lookup("input")))
	cobra.CheckErr(viper.BindPFlag("sample_rate", runCmd.Flags().Lookup("sample-rate")))
	cobra.CheckErr(viper.BindPFlag("buffer_size", runCmd.Flags().Lookup("buffer-size")))
	cobra.CheckErr(viper.BindPFlag("monitor", runCmd.Flags().Lookup("monitor")))

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(runCmd)
}

func initConfig() {
	if err := config.Init(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}
