package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-firmboot/pkg/app/bootconfig"
)

var (
	configSD sdFlags

	configNand       string
	configFirmSource string
	configEnable     []string
	configDisable    []string
	configReset      bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or edit the configuration record on the SD card",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the configuration record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfig(cmd, &bootconfig.Request{})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Edit the configuration record",
	Long: fmt.Sprintf(`Edit the configuration record. Unchanged bits are kept unless --reset
is given.

Preferences: %s

Examples:
  # Autoboot sysNAND and show the splash screen
  firmboot config set --enable autoboot-sys,splash

  # Start over with the second emuNAND as the default
  firmboot config set --reset --enable second-emunand`, strings.Join(bootconfig.KnownPreferences(), ", ")),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfig(cmd, &bootconfig.Request{
			Reset:      configReset,
			Nand:       configNand,
			FirmSource: configFirmSource,
			Enable:     configEnable,
			Disable:    configDisable,
		})
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetCmd)

	configSD.register(configShowCmd)
	configSD.register(configSetCmd)

	configSetCmd.Flags().StringVar(&configNand, "nand", "", "last booted NAND (sysnand, emunand1, emunand2)")
	configSetCmd.Flags().StringVar(&configFirmSource, "firm-source", "", "last FIRM source (sysnand, emunand1)")
	configSetCmd.Flags().StringSliceVar(&configEnable, "enable", nil, "preferences to turn on")
	configSetCmd.Flags().StringSliceVar(&configDisable, "disable", nil, "preferences to turn off")
	configSetCmd.Flags().BoolVar(&configReset, "reset", false, "start from an empty record")
}

func runConfig(cmd *cobra.Command, request *bootconfig.Request) error {
	ctx := newContext()

	cfg, err := loadHost(cmd, ctx, &configSD)
	if err != nil {
		return err
	}
	request.Host = cfg

	response, err := bootconfig.Handle(ctx, request)
	if err != nil {
		return err
	}

	return bootconfig.FormatOutput(ctx.Out, response, ctx.OutputFormat)
}
