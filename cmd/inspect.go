package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-firmboot/pkg/app/inspect"
)

var inspectListing int

var inspectCmd = &cobra.Command{
	Use:   "inspect [firm-path]",
	Short: "Show the layout of a FIRM image",
	Long: `Show the FIRM header, the section table, the sysmodules packed in
section 0, the Process9 code segment and a disassembly at the ARM9 entry.

Examples:
  firmboot inspect native.firm
  firmboot inspect 00000000.app --count 32 -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().IntVar(&inspectListing, "count", inspect.DefaultListing, "instructions to disassemble at the ARM9 entry")
}

func runInspect(inputPath string) error {
	ctx := newContext()

	response, err := inspect.Handle(ctx, &inspect.Request{
		InputPath: inputPath,
		Listing:   inspectListing,
	})
	if err != nil {
		return err
	}

	return inspect.FormatOutput(ctx.Out, response, ctx.OutputFormat)
}
