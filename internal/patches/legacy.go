package patches

import (
	_ "embed"
	"encoding/hex"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/deploymenttheory/go-firmboot/internal/buffer"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

//go:embed legacy_patches.yaml
var legacyPatchesYAML []byte

// Legacy patch kinds.
const (
	LegacyKindBytes         = "bytes"
	LegacyKindHalfword      = "halfword"
	LegacyKindHalfwordClear = "halfword-clear"
)

// LegacyOffsets holds the per-console offset of one legacy patch.
type LegacyOffsets struct {
	O3DS uint32 `yaml:"o3ds"`
	N3DS uint32 `yaml:"n3ds"`
}

// For returns the offset for the given console family.
func (o LegacyOffsets) For(c types.ConsoleFamily) uint32 {
	if c == types.ConsoleN3DS {
		return o.N3DS
	}
	return o.O3DS
}

// LegacyPatch is one fixed-offset patch of TWL_FIRM or AGB_FIRM.
type LegacyPatch struct {
	Name   string        `yaml:"name"`
	Offset LegacyOffsets `yaml:"offset"`
	Kind   string        `yaml:"kind"`
	Data   string        `yaml:"data,omitempty"`
	Value  uint16        `yaml:"value,omitempty"`

	// BootScreen entries are applied only when the GBA boot screen preference is set.
	BootScreen bool `yaml:"boot_screen,omitempty"`

	raw []byte
}

// LegacyTable holds the patch lists of both legacy firmwares.
type LegacyTable struct {
	TWL []LegacyPatch `yaml:"twl"`
	AGB []LegacyPatch `yaml:"agb"`
}

// LoadLegacyTable decodes the built-in legacy patch table.
func LoadLegacyTable() (*LegacyTable, error) {
	return ParseLegacyTable(legacyPatchesYAML)
}

// ParseLegacyTable decodes and validates a legacy patch table.
func ParseLegacyTable(data []byte) (*LegacyTable, error) {
	var t LegacyTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode legacy patch table: %w", err)
	}

	for _, list := range [][]LegacyPatch{t.TWL, t.AGB} {
		for i := range list {
			if err := list[i].validate(); err != nil {
				return nil, err
			}
		}
	}
	return &t, nil
}

func (p *LegacyPatch) validate() error {
	switch p.Kind {
	case LegacyKindBytes:
		raw, err := hex.DecodeString(strings.ReplaceAll(p.Data, " ", ""))
		if err != nil {
			return fmt.Errorf("legacy patch %q: invalid data: %w", p.Name, err)
		}
		if len(raw) == 0 {
			return fmt.Errorf("legacy patch %q: empty data", p.Name)
		}
		p.raw = raw
	case LegacyKindHalfword, LegacyKindHalfwordClear:
	default:
		return fmt.Errorf("legacy patch %q: unknown kind %q", p.Name, p.Kind)
	}
	return nil
}

// Patches returns the list for the given legacy firmware type.
func (t *LegacyTable) Patches(ft types.FirmwareType) ([]LegacyPatch, error) {
	switch ft {
	case types.FirmTypeTWL:
		return t.TWL, nil
	case types.FirmTypeAGB:
		return t.AGB, nil
	default:
		return nil, fmt.Errorf("%s is not a legacy firmware", ft)
	}
}

// ApplyLegacyPatches writes every entry of the table for ft into the whole FIRM
// image. Entries that would fall outside the image are skipped.
func ApplyLegacyPatches(image *buffer.Buffer, table *LegacyTable, ft types.FirmwareType, console types.ConsoleFamily, showBootScreen bool) ([]session.PatchResult, error) {
	list, err := table.Patches(ft)
	if err != nil {
		return nil, err
	}

	results := make([]session.PatchResult, 0, len(list))
	for _, p := range list {
		name := NameLegacy + ":" + ft.String() + ":" + p.Name
		if p.BootScreen && !showBootScreen {
			continue
		}

		off := int(p.Offset.For(console))
		var werr error
		switch p.Kind {
		case LegacyKindBytes:
			werr = image.Write(off, p.raw)
		case LegacyKindHalfwordClear:
			if !image.Contains(off, 4) {
				werr = &buffer.BoundsError{Offset: off, Length: 4, Size: image.Len()}
				break
			}
			_ = image.PutUint16(off+2, 0)
			werr = image.PutUint16(off, p.Value)
		case LegacyKindHalfword:
			werr = image.PutUint16(off, p.Value)
		}

		if werr != nil {
			results = append(results, skipped(name, -1, "%v", werr))
			continue
		}
		results = append(results, applied(name, -1, off))
	}
	return results, nil
}
