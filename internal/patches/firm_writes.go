package patches

import (
	"github.com/deploymenttheory/go-firmboot/internal/buffer"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

var (
	// "exe:" follows the FIRM partition writer in Process9.
	firmWriterAnchor = []byte("exe:")

	// cmp r0, #0; bge: the branch taken when the FIRM partition write may proceed.
	firmWriteCheckPattern = []byte{0x00, 0x28, 0x01, 0xDA}

	// SAFE_FIRM variant: subs r4, r0, #0; blt.
	firmWriteSafePattern = []byte{0x04, 0x1E, 0x1D, 0xDB}
)

// firmWriteWindow is how far before the anchor the write check is searched for.
const firmWriteWindow = 0x100

// PatchFirmWrites stops Process9 from writing the FIRM0/FIRM1 partitions, which a
// protection device relies on staying intact. section is the index reported in
// the result: Process9 lives in section 2.
func PatchFirmWrites(code *buffer.Buffer, section int) session.PatchResult {
	anchor := code.Search(firmWriterAnchor)
	if anchor == buffer.NotFound {
		return skipped(NameFirmWrites, section, "FIRM writer anchor not found")
	}

	off := code.SearchRange(anchor-firmWriteWindow, firmWriteWindow, firmWriteCheckPattern)
	if off == buffer.NotFound {
		return skipped(NameFirmWrites, section, "FIRM write check not found before anchor")
	}

	if err := code.PutUint16(off, thumbMovsR0); err != nil {
		return skipped(NameFirmWrites, section, "%v", err)
	}
	if err := code.PutUint16(off+2, thumbNop); err != nil {
		return skipped(NameFirmWrites, section, "%v", err)
	}
	return applied(NameFirmWrites, section, off)
}

// PatchFirmWriteSafe is the SAFE_FIRM flavour of PatchFirmWrites. It works on the
// whole ARM9 section because SAFE_FIRM's Process9 is not split out.
func PatchFirmWriteSafe(arm9 *buffer.Buffer) session.PatchResult {
	off := arm9.Search(firmWriteSafePattern)
	if off == buffer.NotFound {
		return skipped(NameFirmWriteSafe, types.SectionArm9, "SAFE_FIRM write check not found")
	}

	if err := arm9.PutUint16(off, thumbMovsR4); err != nil {
		return skipped(NameFirmWriteSafe, types.SectionArm9, "%v", err)
	}
	if err := arm9.PutUint16(off+2, 0xE01D); err != nil { // b over the write
		return skipped(NameFirmWriteSafe, types.SectionArm9, "%v", err)
	}
	return applied(NameFirmWriteSafe, types.SectionArm9, off)
}
