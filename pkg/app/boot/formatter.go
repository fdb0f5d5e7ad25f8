package boot

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/deploymenttheory/go-firmboot/pkg/app"
)

// FormatOutput formats boot results according to output format
func FormatOutput(w io.Writer, response *Response, format string) error {
	if format == "table" {
		return formatTable(w, response)
	}
	return app.Encode(w, response, format)
}

// formatTable prints the decision followed by one row per patch
func formatTable(out io.Writer, response *Response) error {
	fmt.Fprintf(out, "Session:  %s (%s)\n", response.SessionID, response.Console)
	fmt.Fprintf(out, "Outcome:  %s\n", response.Outcome)

	if d := response.Decision; d != nil {
		fmt.Fprintf(out, "Firmware: %s, %s boot\n", d.FirmType, d.Mode)
		fmt.Fprintf(out, "NAND:     %s (FIRM from %s)\n", d.Nand, d.FirmSource)
		if d.Nand.IsEmulated() || d.FirmSource.IsEmulated() {
			fmt.Fprintf(out, "emuNAND:  offset 0x%X, header 0x%X\n", d.EmuOffset, d.EmuHeader)
		}
		fmt.Fprintf(out, "Protect:  %s\n", d.Protection)
	}
	if response.Config != nil {
		fmt.Fprintf(out, "Config:   0x%08X\n", response.Config.Word)
	}
	if response.Payload != "" {
		fmt.Fprintf(out, "Payload:  %s\n", response.Payload)
	}
	if h := response.Handoff; h != nil {
		fmt.Fprintf(out, "ARM9:     0x%08X\n", h.Arm9Entry)
		fmt.Fprintf(out, "ARM11:    0x%08X (slot 0x%08X)\n", h.Arm11Entry, h.Arm11EntrySlot)
	}

	if len(response.Patches) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "PATCH\tSTATUS\tSECTION\tOFFSET\tREASON\n")
		fmt.Fprintf(w, "-----\t------\t-------\t------\t------\n")
		for _, p := range response.Patches {
			status := "skipped"
			offset := "-"
			if p.Applied {
				status = "applied"
				offset = fmt.Sprintf("0x%X", p.Offset)
			}
			section := "-"
			if p.Section >= 0 {
				section = fmt.Sprintf("%d", p.Section)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Name, status, section, offset, p.Reason)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%d of %d patches applied\n", response.AppliedCount(), len(response.Patches))
	}

	if response.ImagePath != "" {
		fmt.Fprintf(out, "Patched image written to %s\n", response.ImagePath)
	}
	return nil
}
