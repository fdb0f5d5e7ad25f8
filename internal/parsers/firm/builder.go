package firm

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-firmboot/internal/types"
)

// SectionSpec describes one section for Build.
type SectionSpec struct {
	Address    uint32
	CopyMethod uint32
	Hash       [0x20]byte
	Data       []byte
}

// Build assembles a FIRM image from up to four sections, laid out back to back
// after the header. It is used by the patch command to re-emit images and by tests.
func Build(arm11Entry, arm9Entry uint32, sections ...SectionSpec) ([]byte, error) {
	if len(sections) > types.FirmSectionCount {
		return nil, fmt.Errorf("a FIRM holds at most %d sections, got %d", types.FirmSectionCount, len(sections))
	}

	hdr := types.FirmHeaderT{
		Arm11Entry: arm11Entry,
		Arm9Entry:  arm9Entry,
	}
	copy(hdr.Magic[:], types.FirmMagic)

	offset := uint32(types.FirmHeaderSize)
	for i, s := range sections {
		hdr.Sections[i] = types.FirmSectionHeaderT{
			Offset:     offset,
			Address:    s.Address,
			Size:       uint32(len(s.Data)),
			CopyMethod: s.CopyMethod,
			Hash:       s.Hash,
		}
		offset += uint32(len(s.Data))
	}

	var out bytes.Buffer
	out.Grow(int(offset))
	if err := binary.Write(&out, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("failed to encode FIRM header: %w", err)
	}
	for _, s := range sections {
		out.Write(s.Data)
	}

	return out.Bytes(), nil
}
