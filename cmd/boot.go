package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-firmboot/pkg/app"
	"github.com/deploymenttheory/go-firmboot/pkg/app/boot"
)

var (
	bootSD sdFlags

	bootCTRNAND  string
	bootEmuNAND  string
	bootPayloads string
	bootOutDir   string
	bootConsole  string

	// Hardware state
	bootButtons []string
	bootA9LH    bool
	bootScreens bool
	bootEnv     uint32

	// Relaunch flag region
	bootRelaunch string
	bootByte     uint8

	bootMenuPrefs  uint32
	bootDevMode    bool
	bootWriteImage bool
)

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Run one boot against the configured host devices",
	Long: `Run the full boot flow once: read the configuration record, resolve the
boot decision from buttons and the relaunch region, load and patch the FIRM,
then record the handoff.

Host devices come from firmboot.yaml (see --config); flags override it.

Examples:
  # Cold boot with nothing held
  firmboot boot --sd ./sd --ctrnand ./ctrnand

  # Hold R to boot the first emuNAND
  firmboot boot --buttons r

  # Simulate a TWL_FIRM launch from the home menu and keep the image
  firmboot boot --relaunch twl --write-image --out ./out`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBoot(cmd)
	},
}

func init() {
	rootCmd.AddCommand(bootCmd)

	bootSD.register(bootCmd)
	bootCmd.Flags().StringVar(&bootCTRNAND, "ctrnand", "", "CTRNAND directory of the physical NAND")
	bootCmd.Flags().StringVar(&bootEmuNAND, "emunand", "", "directory holding emunand1/ and emunand2/ trees")
	bootCmd.Flags().StringVar(&bootPayloads, "payloads", "", "directory with reboot.bin, emunand.bin and injector.bin")
	bootCmd.Flags().StringVar(&bootOutDir, "out", "", "directory the patched image is written to")
	bootCmd.Flags().StringVar(&bootConsole, "console", "", "console family (o3ds, n3ds)")

	bootCmd.Flags().StringSliceVar(&bootButtons, "buttons", nil, "buttons held at boot (a,b,select,start,right,left,up,down,r,l,x,y)")
	bootCmd.Flags().BoolVar(&bootA9LH, "a9lh", false, "boot through a protection device")
	bootCmd.Flags().BoolVar(&bootScreens, "screens", false, "screens were initialized by an earlier stage")
	bootCmd.Flags().Uint32Var(&bootEnv, "boot-env", 0, "CFG_BOOTENV value")

	bootCmd.Flags().StringVar(&bootRelaunch, "relaunch", "", "simulate a firmlaunch of this firmware (native, twl, agb, safe)")
	bootCmd.Flags().Uint8Var(&bootByte, "boot-byte", 0, "packed boot byte left by the previous boot")

	bootCmd.Flags().Uint32Var(&bootMenuPrefs, "menu-prefs", 0, "preference bits the configuration menu returns")
	bootCmd.Flags().BoolVar(&bootDevMode, "dev", false, "developer mode")
	bootCmd.Flags().BoolVar(&bootWriteImage, "write-image", false, "write the patched FIRM to the output directory")
}

func runBoot(cmd *cobra.Command) error {
	ctx := newContext()

	cfg, err := loadHost(cmd, ctx, &bootSD)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("ctrnand") {
		cfg.CTRNANDPath = bootCTRNAND
	}
	if flags.Changed("emunand") {
		cfg.EmuNANDPath = bootEmuNAND
	}
	if flags.Changed("payloads") {
		cfg.PayloadDir = bootPayloads
	}
	if flags.Changed("out") {
		cfg.OutputDir = bootOutDir
	}
	if flags.Changed("console") {
		cfg.Console = bootConsole
	}
	if flags.Changed("buttons") {
		cfg.Buttons = bootButtons
	}
	if flags.Changed("a9lh") {
		cfg.Straps.A9LHBoot = bootA9LH
	}
	if flags.Changed("screens") {
		cfg.Straps.ScreensInitialized = bootScreens
	}
	if flags.Changed("boot-env") {
		cfg.BootEnv = bootEnv
	}
	if flags.Changed("relaunch") {
		target := app.BootTarget{FirmType: bootRelaunch}
		ft, err := target.ParseFirmType()
		if err != nil {
			return err
		}
		cfg.Relaunch.FirmType = int(ft)
	}
	if flags.Changed("boot-byte") {
		cfg.Relaunch.BootByte = bootByte
	}
	if flags.Changed("menu-prefs") {
		cfg.Menu.Preferences = bootMenuPrefs
	}
	if flags.Changed("dev") {
		cfg.DevMode = bootDevMode
	}

	request := &boot.Request{
		Host:       cfg,
		WriteImage: bootWriteImage,
	}

	response, err := boot.Handle(ctx, request)
	if err != nil {
		return err
	}

	return boot.FormatOutput(ctx.Out, response, ctx.OutputFormat)
}
