package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-firmboot/internal/device"
	"github.com/deploymenttheory/go-firmboot/pkg/app"
)

var (
	// Global output flags
	verbose      bool
	quiet        bool
	outputFormat string

	// Host configuration file, overrides the search paths
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "firmboot",
	Short: "FIRM chain-loader and patch engine",
	Long: `firmboot resolves which firmware to boot, loads it from the selected
NAND or an SD override, patches it and hands off to the ARM9 and ARM11 cores.

On a host the devices are modelled: the SD card is a directory or FAT32 image,
NAND partitions are directory trees and physical memory is simulated.

Commands:
  boot        Run one boot against the configured host devices
  patch       Patch a FIRM image offline
  inspect     Show the layout of a FIRM image
  config      Show or edit the configuration record on the SD card`,
	Version:       "0.1.0-dev",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "host configuration file (default: firmboot.yaml in ., ./config, $HOME/.firmboot, /etc/firmboot)")
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verbose
}

// GetQuiet returns the quiet flag value
func GetQuiet() bool {
	return quiet
}

// GetOutputFormat returns the output format
func GetOutputFormat() string {
	return outputFormat
}

// newContext creates the application context from the global flags
func newContext() *app.Context {
	ctx := app.NewContext()
	ctx.OutputFormat = GetOutputFormat()
	ctx.Verbose = GetVerbose()
	ctx.Quiet = GetQuiet()
	ctx.ConfigFile = configFile
	if ctx.Verbose && !ctx.Quiet {
		ctx.SetProgress(func(message string, percent int) {
			ctx.Logger().Debugf("[%3d%%] %s", percent, message)
		})
	}
	return ctx
}

// sdFlags are the SD card overrides shared by boot and config
type sdFlags struct {
	path  string
	image string
}

func (f *sdFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "sd", "", "SD card directory")
	cmd.Flags().StringVar(&f.image, "sd-image", "", "SD card FAT32 image")
}

func (f *sdFlags) apply(cmd *cobra.Command, cfg *device.HostConfig) {
	if cmd.Flags().Changed("sd") {
		cfg.SDPath = f.path
	}
	if cmd.Flags().Changed("sd-image") {
		cfg.SDImage = f.image
		if !cmd.Flags().Changed("sd") {
			cfg.SDPath = ""
		}
	}
}

// loadHost reads the host configuration and applies the SD overrides
func loadHost(cmd *cobra.Command, ctx *app.Context, sd *sdFlags) (*device.HostConfig, error) {
	cfg, err := device.LoadHostConfig(ctx.ConfigFile)
	if err != nil {
		return nil, app.NewError(app.ErrCodeInvalidInput, "failed to load host configuration", err)
	}
	sd.apply(cmd, cfg)
	return cfg, nil
}
