package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-firmboot/pkg/app"
	"github.com/deploymenttheory/go-firmboot/pkg/app/patch"
)

var (
	patchWrite string

	// Boot target
	patchFirmType   string
	patchConsole    string
	patchNand       string
	patchProtection string

	patchEmuOffset     uint32
	patchEmuHeader     uint32
	patchUpdatedSys    bool
	patchDevMode       bool
	patchAGBBootScreen bool
	patchPayloads      string
)

var patchCmd = &cobra.Command{
	Use:   "patch [firm-path]",
	Short: "Patch a FIRM image offline",
	Long: `Apply the patch set the loader would apply for a given boot target to a
FIRM image or a decrypted FIRM title, and list every instruction word changed.

Examples:
  # Patch an N3DS NATIVE_FIRM for an emuNAND at sector 0x200000
  firmboot patch native.firm --console n3ds --nand emunand1 --emu-offset 0x200000 --emu-header 0x1D7800 --payloads ./payloads -w patched.firm

  # Show what TWL_FIRM patching would change, as JSON
  firmboot patch twl.firm --firm twl -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPatch(args[0])
	},
}

func init() {
	rootCmd.AddCommand(patchCmd)

	patchCmd.Flags().StringVarP(&patchWrite, "write", "w", "", "write the patched image to this path")

	patchCmd.Flags().StringVar(&patchFirmType, "firm", "native", "firmware type (native, twl, agb, safe)")
	patchCmd.Flags().StringVar(&patchConsole, "console", "o3ds", "console family (o3ds, n3ds)")
	patchCmd.Flags().StringVar(&patchNand, "nand", "sysnand", "target NAND (sysnand, emunand1, emunand2)")
	patchCmd.Flags().StringVar(&patchProtection, "protection", "off", "protection mode (off, standard, enhanced)")

	patchCmd.Flags().Uint32Var(&patchEmuOffset, "emu-offset", 0, "emuNAND offset in sectors")
	patchCmd.Flags().Uint32Var(&patchEmuHeader, "emu-header", 0, "emuNAND NCSD header sector")
	patchCmd.Flags().BoolVar(&patchUpdatedSys, "updated-sys", false, "sysNAND runs an updated system")
	patchCmd.Flags().BoolVar(&patchDevMode, "dev", false, "apply developer patches")
	patchCmd.Flags().BoolVar(&patchAGBBootScreen, "agb-boot-screen", false, "keep the GBA boot screen in AGB_FIRM")
	patchCmd.Flags().StringVar(&patchPayloads, "payloads", "", "directory with reboot.bin, emunand.bin and injector.bin")
}

func runPatch(inputPath string) error {
	ctx := newContext()

	request := &patch.Request{
		InputPath:  inputPath,
		OutputPath: patchWrite,
		Target: app.BootTarget{
			FirmType:   patchFirmType,
			Console:    patchConsole,
			Nand:       patchNand,
			Protection: patchProtection,
		},
		EmuOffset:         patchEmuOffset,
		EmuHeader:         patchEmuHeader,
		UpdatedSys:        patchUpdatedSys,
		DevMode:           patchDevMode,
		ShowAGBBootScreen: patchAGBBootScreen,
		PayloadDir:        patchPayloads,
	}

	response, err := patch.Handle(ctx, request)
	if err != nil {
		return err
	}

	return patch.FormatOutput(ctx.Out, response, ctx.OutputFormat)
}
