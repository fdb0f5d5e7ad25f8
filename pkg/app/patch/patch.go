// Package patch applies the boot-time patch set to a FIRM file offline.
package patch

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/deploymenttheory/go-firmboot/internal/device"
	"github.com/deploymenttheory/go-firmboot/internal/disasm"
	"github.com/deploymenttheory/go-firmboot/internal/parsers/firm"
	"github.com/deploymenttheory/go-firmboot/internal/patches"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
	"github.com/deploymenttheory/go-firmboot/pkg/app"
)

// MaxChanges bounds the word-level change listing in a response.
const MaxChanges = 256

// Request represents an offline patch run
type Request struct {
	InputPath  string
	OutputPath string
	Target     app.BootTarget

	EmuOffset  uint32
	EmuHeader  uint32
	UpdatedSys bool
	DevMode    bool

	// ShowAGBBootScreen keeps the GBA boot screen in AGB_FIRM
	ShowAGBBootScreen bool

	PayloadDir string
}

// Response represents the patched image
type Response struct {
	InputPath  string                `json:"input_path" yaml:"input_path"`
	OutputPath string                `json:"output_path,omitempty" yaml:"output_path,omitempty"`
	FirmType   string                `json:"firm_type" yaml:"firm_type"`
	Console    string                `json:"console" yaml:"console"`
	Arm9Entry  uint32                `json:"arm9_entry" yaml:"arm9_entry"`
	Patches    []session.PatchResult `json:"patches" yaml:"patches"`
	Changes    []string              `json:"changes,omitempty" yaml:"changes,omitempty"`
	Truncated  bool                  `json:"truncated" yaml:"truncated"`
}

// Validate validates a patch request
func (r *Request) Validate() error {
	if r.InputPath == "" {
		return app.NewError(app.ErrCodeInvalidInput, "input path is required", nil)
	}
	if err := r.Target.Validate(); err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid boot target", err)
	}
	nand, _ := r.Target.ParseNand()
	if nand.IsEmulated() && r.EmuOffset == 0 && r.EmuHeader == 0 {
		return app.NewError(app.ErrCodeInvalidInput, "emuNAND targets need --emu-offset or --emu-header", nil)
	}
	return nil
}

// Handle patches the input image and writes the result when an output path is set
func Handle(ctx *app.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := ctx.Logger()

	raw, err := os.ReadFile(req.InputPath)
	if err != nil {
		return nil, app.NewError(app.ErrCodeStorageAccess, "failed to read input", err)
	}
	data, err := device.PlainExeFS{}.DecryptExeFS(raw)
	if err != nil {
		return nil, app.NewError(app.ErrCodeNotFirm, "input is neither a FIRM nor a FIRM title", err)
	}
	original := append([]byte(nil), data...)
	img, err := firm.Parse(data)
	if err != nil {
		return nil, app.NewError(app.ErrCodeNotFirm, "failed to parse FIRM", err)
	}

	ft, _ := req.Target.ParseFirmType()
	nand, _ := req.Target.ParseNand()
	protection, _ := req.Target.ParseProtection()
	console, _ := types.ParseConsoleFamily(req.Target.Console)

	s := session.New(console, log)
	s.DevMode = req.DevMode
	s.Image = img
	s.Decision = &types.BootDecision{
		FirmType:   ft,
		Nand:       nand,
		FirmSource: nand,
		Protection: protection,
		UpdatedSys: req.UpdatedSys,
		EmuOffset:  req.EmuOffset,
		EmuHeader:  req.EmuHeader,
	}
	s.Config = &types.BootConfig{}
	s.Config.SetPref(types.PrefShowAGBBootScreen, req.ShowAGBBootScreen)

	var payloads patches.Payloads
	if req.PayloadDir != "" {
		if payloads, err = device.LoadPayloads(req.PayloadDir); err != nil {
			return nil, app.NewError(app.ErrCodeStorageAccess, "failed to load payloads", err)
		}
	}
	engine, err := patches.NewEngine(payloads, device.PlainArm9Bin{})
	if err != nil {
		return nil, app.NewError(app.ErrCodePatchFailed, "failed to create patch engine", err)
	}

	ctx.Progress("Patching...", 40)
	if err := engine.Apply(s); err != nil {
		return nil, app.NewError(app.ErrCodePatchFailed, "failed to patch FIRM", err)
	}

	resp := &Response{
		InputPath: req.InputPath,
		FirmType:  ft.String(),
		Console:   console.String(),
		Arm9Entry: img.Arm9Entry(),
		Patches:   s.Patches,
	}
	resp.Changes, resp.Truncated = diffWords(original, img.Bytes(), MaxChanges)

	if req.OutputPath != "" {
		ctx.Progress("Writing image...", 90)
		if err := os.WriteFile(req.OutputPath, img.Bytes(), 0o644); err != nil {
			return nil, app.NewError(app.ErrCodeStorageAccess, "failed to write output", err)
		}
		resp.OutputPath = req.OutputPath
	}

	ctx.Progress("Complete", 100)
	return resp, nil
}

// diffWords disassembles every aligned word that differs between before and after.
func diffWords(before, after []byte, limit int) ([]string, bool) {
	var out []string
	n := min(len(before), len(after)) &^ 3
	for off := 0; off < n; off += 4 {
		b := binary.LittleEndian.Uint32(before[off:])
		a := binary.LittleEndian.Uint32(after[off:])
		if a == b {
			continue
		}
		if len(out) == limit {
			return out, true
		}
		out = append(out, disasm.Change(off, b, a))
	}
	return out, false
}

// FormatOutput formats patch results according to output format
func FormatOutput(out io.Writer, response *Response, format string) error {
	if format != "table" {
		return app.Encode(out, response, format)
	}

	fmt.Fprintf(out, "%s (%s), ARM9 entry 0x%08X\n\n", response.FirmType, response.Console, response.Arm9Entry)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "PATCH\tSTATUS\tOFFSET\tREASON\n")
	for _, p := range response.Patches {
		if p.Applied {
			fmt.Fprintf(w, "%s\tapplied\t0x%X\t\n", p.Name, p.Offset)
		} else {
			fmt.Fprintf(w, "%s\tskipped\t-\t%s\n", p.Name, p.Reason)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(response.Changes) > 0 {
		fmt.Fprintf(out, "\nChanged words:\n")
		for _, c := range response.Changes {
			fmt.Fprintf(out, "  %s\n", c)
		}
		if response.Truncated {
			fmt.Fprintf(out, "  ... (first %d shown)\n", len(response.Changes))
		}
	}
	if response.OutputPath != "" {
		fmt.Fprintf(out, "\nWritten to %s\n", response.OutputPath)
	}
	return nil
}
