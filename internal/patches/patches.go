// Package patches rewrites the staged FIRM so it boots with signature checks
// disabled, storage redirected to an emuNAND when requested, and firmlaunches
// routed back through the loader.
//
// Every patch locates its target by an exact byte pattern inside a bounded
// section view. A missing pattern means the firmware build does not contain that
// code; the patch is skipped and the boot continues.
package patches

import (
	"fmt"

	"github.com/deploymenttheory/go-firmboot/internal/session"
)

// Patch names, as recorded in session.PatchResult.
const (
	NameArm9LoaderBypass     = "arm9loader-bypass"
	NameExceptionVectors     = "exception-vectors"
	NameSignatureChecks      = "signature-checks"
	NameTitleMinVersion      = "title-install-min-version"
	NameEmuNAND              = "emunand-redirection"
	NameFirmWrites           = "firm-write-protection"
	NameFirmWriteSafe        = "firm-write-protection-safe"
	NameFirmlaunch           = "firmlaunch"
	NameSvcBackdoor          = "svc-backdoor"
	NameUnitInfo             = "unitinfo"
	NameKernelMapPermissions = "kernel-fcram-vram-xn"
	NameLegacy               = "legacy"
)

// ARM/Thumb encodings written by several patches.
const (
	armNop       uint32 = 0xE1A00000 // mov r0, r0
	thumbMovsR0  uint16 = 0x2000     // movs r0, #0
	thumbBxLr    uint16 = 0x4770     // bx lr
	thumbNop     uint16 = 0x46C0     // mov r8, r8
	thumbMovsR4  uint16 = 0x2400     // movs r4, #0
	thumbLdrR4Pc uint16 = 0x4C00     // ldr r4, [pc, #0]
	thumbBlxR4   uint16 = 0x47A0     // blx r4
)

func applied(name string, section, offset int) session.PatchResult {
	return session.PatchResult{Name: name, Applied: true, Section: section, Offset: offset}
}

func skipped(name string, section int, format string, args ...interface{}) session.PatchResult {
	return session.PatchResult{Name: name, Section: section, Offset: -1, Reason: fmt.Sprintf(format, args...)}
}

// signExtend26 sign-extends a 26-bit branch displacement.
func signExtend26(v uint32) int32 {
	return int32(v<<6) >> 6
}

// branchTarget decodes an ARM B/BL/BLX(immediate) at pc and returns its target.
// For BLX the H bit adds a halfword and the target is Thumb.
func branchTarget(pc uint32, word uint32) uint32 {
	disp := signExtend26((word & 0x00FFFFFF) << 2)
	target := pc + 8 + uint32(disp)
	if word>>25 == 0x7D { // 1111 101H: BLX immediate
		target += (word >> 24 & 1) << 1
	}
	return target
}
