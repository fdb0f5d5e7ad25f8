package patches

import (
	"github.com/deploymenttheory/go-firmboot/internal/buffer"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

// MMU setup of the ARM11 kernel: the FCRAM/VRAM descriptor is the second word.
var kernelMMUConfigPattern = []byte{
	0xC4, 0xDD, 0xFA, 0x1F,
	0x16, 0x64, 0x01, 0x00,
	0xBC, 0xDD, 0xFA, 0x1F,
	0x00, 0x50, 0xFF, 0x1F,
}

const mmuXNBit uint32 = 1 << 4

// movne r1, #1 where Process9 derives UNITINFO from the dev flag.
var unitInfoPattern = []byte{0x01, 0x10, 0xA0, 0x13}

// PatchKernelFCRAMAndVRAMMappingPermissions clears the execute-never bit of the
// kernel's FCRAM mapping, which also covers VRAM.
func PatchKernelFCRAMAndVRAMMappingPermissions(kernel *buffer.Buffer) session.PatchResult {
	match := kernel.Search(kernelMMUConfigPattern)
	if match == buffer.NotFound {
		return skipped(NameKernelMapPermissions, types.SectionArm11Kernel, "MMU configuration table not found")
	}

	desc, _ := kernel.Uint32(match + 4)
	if err := kernel.PutUint32(match+4, desc&^mmuXNBit); err != nil {
		return skipped(NameKernelMapPermissions, types.SectionArm11Kernel, "%v", err)
	}
	return applied(NameKernelMapPermissions, types.SectionArm11Kernel, match+4)
}

// PatchUnitInfoValueSet turns the conditional UNITINFO assignment into an
// unconditional one so Process9 always reports a development unit.
func PatchUnitInfoValueSet(arm9 *buffer.Buffer) session.PatchResult {
	match := arm9.Search(unitInfoPattern)
	if match == buffer.NotFound {
		return skipped(NameUnitInfo, types.SectionArm9, "UNITINFO assignment not found")
	}

	// Condition field NE (0x1) becomes AL (0xE).
	if err := arm9.PutByte(match+3, 0xE3); err != nil {
		return skipped(NameUnitInfo, types.SectionArm9, "%v", err)
	}
	return applied(NameUnitInfo, types.SectionArm9, match+3)
}
