package patches

import (
	"github.com/deploymenttheory/go-firmboot/internal/buffer"
	"github.com/deploymenttheory/go-firmboot/internal/parsers/ncch"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

var (
	// add r1, sp, #0x378 inside the firmlaunch routine, 0x10 bytes past its fopen call.
	firmlaunchPattern = []byte{0xDE, 0x1F, 0x8D, 0xE2}

	// rebootFOpenMarker is the placeholder the reboot payload leaves for the address
	// of Process9's fopen.
	rebootFOpenMarker = []byte("OPEN")
)

const firmlaunchCallBack = 0x10

// PatchFirmlaunches replaces Process9's firmlaunch routine with the reboot payload,
// so a firmlaunch re-enters the loader instead of booting the NAND FIRM directly.
// The payload calls back into Process9's own fopen, whose run address is taken
// from the BLX that precedes the pattern.
func PatchFirmlaunches(p9 *ncch.Process9, reboot []byte) session.PatchResult {
	if len(reboot) == 0 {
		return skipped(NameFirmlaunch, types.SectionArm9, "reboot payload not available")
	}
	marker := buffer.Search(reboot, rebootFOpenMarker)
	if marker == buffer.NotFound {
		return skipped(NameFirmlaunch, types.SectionArm9, "reboot payload has no fopen placeholder")
	}

	code := p9.Code
	match := code.Search(firmlaunchPattern)
	if match == buffer.NotFound {
		return skipped(NameFirmlaunch, types.SectionArm9, "firmlaunch routine not found")
	}

	off := match - firmlaunchCallBack
	call, err := code.Uint32(off)
	if err != nil {
		return skipped(NameFirmlaunch, types.SectionArm9, "fopen call out of bounds: %v", err)
	}
	if call>>25 != 0x7D {
		return skipped(NameFirmlaunch, types.SectionArm9, "expected BLX to fopen at 0x%X, found 0x%08X", off, call)
	}
	if !code.Contains(off, len(reboot)) {
		return skipped(NameFirmlaunch, types.SectionArm9, "reboot payload of 0x%X bytes does not fit at 0x%X", len(reboot), off)
	}

	// fopen is Thumb code.
	fOpen := branchTarget(p9.MemAddr+uint32(off), call) | 1

	if err := code.Write(off, reboot); err != nil {
		return skipped(NameFirmlaunch, types.SectionArm9, "%v", err)
	}
	if err := code.PutUint32(off+marker, fOpen); err != nil {
		return skipped(NameFirmlaunch, types.SectionArm9, "%v", err)
	}

	return applied(NameFirmlaunch, types.SectionArm9, p9.Offset+off)
}
