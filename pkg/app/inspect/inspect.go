// Package inspect reports the layout of a FIRM image: header, sections,
// packed sysmodules, Process9 and the code at the ARM9 entry point.
package inspect

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/deploymenttheory/go-firmboot/internal/device"
	"github.com/deploymenttheory/go-firmboot/internal/disasm"
	"github.com/deploymenttheory/go-firmboot/internal/parsers/firm"
	"github.com/deploymenttheory/go-firmboot/internal/parsers/ncch"
	"github.com/deploymenttheory/go-firmboot/internal/patches"
	"github.com/deploymenttheory/go-firmboot/internal/types"
	"github.com/deploymenttheory/go-firmboot/pkg/app"
)

// DefaultListing is the number of ARM words disassembled at the ARM9 entry.
const DefaultListing = 16

// Request represents an inspect request
type Request struct {
	InputPath string
	Listing   int
}

// Response describes a FIRM image
type Response struct {
	InputPath     string        `json:"input_path" yaml:"input_path"`
	Size          int           `json:"size" yaml:"size"`
	Arm9Entry     uint32        `json:"arm9_entry" yaml:"arm9_entry"`
	Arm11Entry    uint32        `json:"arm11_entry" yaml:"arm11_entry"`
	ConsoleMarker uint32        `json:"console_marker" yaml:"console_marker"`
	Console       string        `json:"console,omitempty" yaml:"console,omitempty"`
	NativeVersion string        `json:"native_version,omitempty" yaml:"native_version,omitempty"`
	Sections      []SectionInfo `json:"sections" yaml:"sections"`
	Modules       []ncch.Module `json:"modules,omitempty" yaml:"modules,omitempty"`
	Process9      *Process9Info `json:"process9,omitempty" yaml:"process9,omitempty"`
	Entry         []string      `json:"entry,omitempty" yaml:"entry,omitempty"`
}

// SectionInfo is one present section
type SectionInfo struct {
	Index      int    `json:"index" yaml:"index"`
	Offset     uint32 `json:"offset" yaml:"offset"`
	Address    uint32 `json:"address" yaml:"address"`
	Size       uint32 `json:"size" yaml:"size"`
	CopyMethod uint32 `json:"copy_method" yaml:"copy_method"`
	Hash       string `json:"hash" yaml:"hash"`
}

// Process9Info locates the Process9 code segment
type Process9Info struct {
	Offset  int    `json:"offset" yaml:"offset"`
	Size    int    `json:"size" yaml:"size"`
	MemAddr uint32 `json:"mem_addr" yaml:"mem_addr"`
}

// Validate validates an inspect request
func (r *Request) Validate() error {
	if r.InputPath == "" {
		return app.NewError(app.ErrCodeInvalidInput, "input path is required", nil)
	}
	if r.Listing < 0 {
		return app.NewError(app.ErrCodeInvalidInput, "listing length cannot be negative", nil)
	}
	return nil
}

// Handle parses the image and collects everything the loader looks at
func Handle(ctx *app.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(req.InputPath)
	if err != nil {
		return nil, app.NewError(app.ErrCodeStorageAccess, "failed to read input", err)
	}
	data, err := device.PlainExeFS{}.DecryptExeFS(raw)
	if err != nil {
		return nil, app.NewError(app.ErrCodeNotFirm, "input is neither a FIRM nor a FIRM title", err)
	}
	img, err := firm.Parse(data)
	if err != nil {
		return nil, app.NewError(app.ErrCodeNotFirm, "failed to parse FIRM", err)
	}
	ctx.Log(fmt.Sprintf("Parsed FIRM with %d sections", len(img.PresentSections())))

	resp := &Response{
		InputPath:     req.InputPath,
		Size:          len(data),
		Arm9Entry:     img.Arm9Entry(),
		Arm11Entry:    img.Arm11Entry(),
		ConsoleMarker: img.ConsoleMarker(),
	}

	for _, n := range img.PresentSections() {
		h := img.SectionHeader(n)
		resp.Sections = append(resp.Sections, SectionInfo{
			Index:      n,
			Offset:     h.Offset,
			Address:    h.Address,
			Size:       h.Size,
			CopyMethod: h.CopyMethod,
			Hash:       hex.EncodeToString(h.Hash[:]),
		})
	}

	console, known := consoleFromMarker(resp.ConsoleMarker)
	if known {
		resp.Console = console.String()
		if v, err := patches.DetectNativeVersion(img, console); err == nil {
			resp.NativeVersion = versionName(v)
		}
	}

	if sec, err := img.Section(types.SectionArm11Modules); err == nil {
		resp.Modules = ncch.Modules(sec)
	}
	if arm9, err := img.Section(types.SectionArm9); err == nil {
		if p9, err := ncch.LocateProcess9(arm9); err == nil {
			resp.Process9 = &Process9Info{Offset: p9.Offset, Size: p9.Size, MemAddr: p9.MemAddr}
		}
	}

	count := req.Listing
	if count == 0 {
		count = DefaultListing
	}
	resp.Entry = entryListing(img, resp.Arm9Entry, count)
	return resp, nil
}

func consoleFromMarker(marker uint32) (types.ConsoleFamily, bool) {
	switch marker {
	case types.Arm9AddressMarkerO3DS:
		return types.ConsoleO3DS, true
	case types.Arm9AddressMarkerN3DS:
		return types.ConsoleN3DS, true
	}
	return 0, false
}

func versionName(v patches.NativeVersion) string {
	switch v {
	case patches.NativeVersion90:
		return "9.0"
	case patches.NativeVersionN3DS11:
		return "n3ds-loader-v2"
	default:
		return "current"
	}
}

// entryListing disassembles from the ARM9 entry inside whichever section is
// loaded over it.
func entryListing(img *firm.Image, entry uint32, count int) []string {
	for _, n := range img.PresentSections() {
		h := img.SectionHeader(n)
		if entry < h.Address || uint64(entry) >= uint64(h.Address)+uint64(h.Size) {
			continue
		}
		sec, err := img.Section(n)
		if err != nil {
			return nil
		}
		return disasm.Listing(sec.Bytes(), int(entry-h.Address), count)
	}
	return nil
}

// FormatOutput formats an inspect response according to output format
func FormatOutput(out io.Writer, response *Response, format string) error {
	if format != "table" {
		return app.Encode(out, response, format)
	}

	fmt.Fprintf(out, "File:     %s (%d bytes)\n", response.InputPath, response.Size)
	fmt.Fprintf(out, "ARM9:     0x%08X\n", response.Arm9Entry)
	fmt.Fprintf(out, "ARM11:    0x%08X\n", response.Arm11Entry)
	console := response.Console
	if console == "" {
		console = "unknown"
	}
	fmt.Fprintf(out, "Marker:   0x%02X (%s)\n", response.ConsoleMarker, console)
	if response.NativeVersion != "" {
		fmt.Fprintf(out, "Version:  %s\n", response.NativeVersion)
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "SECTION\tOFFSET\tADDRESS\tSIZE\tMETHOD\tHASH\n")
	for _, s := range response.Sections {
		fmt.Fprintf(w, "%d\t0x%X\t0x%08X\t0x%X\t%d\t%.16s...\n", s.Index, s.Offset, s.Address, s.Size, s.CopyMethod, s.Hash)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(response.Modules) > 0 {
		fmt.Fprintf(out, "\nModules:\n")
		for _, m := range response.Modules {
			fmt.Fprintf(out, "  %-8s 0x%06X 0x%X\n", m.Name, m.Offset, m.Size)
		}
	}
	if p := response.Process9; p != nil {
		fmt.Fprintf(out, "\nProcess9: .code at 0x%X (0x%X bytes), runs at 0x%08X\n", p.Offset, p.Size, p.MemAddr)
	}
	if len(response.Entry) > 0 {
		fmt.Fprintf(out, "\nARM9 entry:\n")
		for _, line := range response.Entry {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
	return nil
}
