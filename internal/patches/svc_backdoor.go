package patches

import (
	"github.com/deploymenttheory/go-firmboot/internal/buffer"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

const (
	// Kernel virtual addresses of the ARM11 kernel image and its exception page.
	kernelBaseVA     uint32 = 0xFFF00000
	exceptionsPageVA uint32 = 0xFFFF0000

	svcBackdoorIndex = 0x7B

	// The pattern sits 0x2C bytes into the exception page.
	exceptionsPagePatternOff = 0x2C

	freeSpaceWord uint32 = 0xFFFFFFFF
)

// ldr r11, [r12]
var exceptionsPagePattern = []byte{0x00, 0xB0, 0x9C, 0xE5}

// svcBackdoorCode runs the function in r0 in supervisor mode on the SVC stack.
var svcBackdoorCode = []uint32{
	0xE3CD10FF, // bic   r1, sp, #0xff
	0xE3811C0F, // orr   r1, r1, #0xf00
	0xE2811028, // add   r1, r1, #0x28
	0xE5912000, // ldr   r2, [r1]
	0xE9226000, // stmdb r2!, {sp, lr}
	0xE1A0D002, // mov   sp, r2
	0xE12FFF30, // blx   r0
	0xE8BD0003, // pop   {r0, r1}
	0xE1A0D000, // mov   sp, r0
	0xE12FFF11, // bx    r1
}

// ReimplementSvcBackdoor restores SVC 0x7B in the ARM11 kernel when the firmware
// removed it. The handler is placed in the free tail of the exception page and the
// SVC table entry pointed at it. Running it twice is harmless: a populated entry is
// left untouched.
func ReimplementSvcBackdoor(kernel *buffer.Buffer) session.PatchResult {
	match := kernel.Search(exceptionsPagePattern)
	if match == buffer.NotFound {
		return skipped(NameSvcBackdoor, types.SectionArm11Kernel, "exception page not found")
	}
	exOff := match - exceptionsPagePatternOff
	if exOff < 0 {
		return skipped(NameSvcBackdoor, types.SectionArm11Kernel, "exception page starts before the section")
	}

	// The SVC vector branches to a stub whose literal holds the SVC handler address.
	branch, err := kernel.Uint32(exOff + 8)
	if err != nil {
		return skipped(NameSvcBackdoor, types.SectionArm11Kernel, "%v", err)
	}
	stubVA := branchTarget(exceptionsPageVA+8, branch)
	handlerVA, err := kernel.Uint32(int(stubVA + 8 - kernelBaseVA))
	if err != nil {
		return skipped(NameSvcBackdoor, types.SectionArm11Kernel, "SVC handler literal out of bounds: %v", err)
	}

	// The SVC table follows the handler; entry 0 is the first null word.
	table := findWord(kernel, int(handlerVA-kernelBaseVA), 0)
	if table == buffer.NotFound {
		return skipped(NameSvcBackdoor, types.SectionArm11Kernel, "SVC table not found")
	}
	entry := table + svcBackdoorIndex*4
	current, err := kernel.Uint32(entry)
	if err != nil {
		return skipped(NameSvcBackdoor, types.SectionArm11Kernel, "SVC table entry out of bounds: %v", err)
	}
	if current != 0 {
		return skipped(NameSvcBackdoor, types.SectionArm11Kernel, "svcBackdoor already present")
	}

	free := findWord(kernel, exOff, freeSpaceWord)
	if free == buffer.NotFound || !isFree(kernel, free, len(svcBackdoorCode)*4) {
		return skipped(NameSvcBackdoor, types.SectionArm11Kernel, "no free space in the exception page")
	}

	for i, w := range svcBackdoorCode {
		if err := kernel.PutUint32(free+i*4, w); err != nil {
			return skipped(NameSvcBackdoor, types.SectionArm11Kernel, "%v", err)
		}
	}
	if err := kernel.PutUint32(entry, exceptionsPageVA+uint32(free-exOff)); err != nil {
		return skipped(NameSvcBackdoor, types.SectionArm11Kernel, "%v", err)
	}

	return applied(NameSvcBackdoor, types.SectionArm11Kernel, free)
}

// isFree reports whether n bytes at off are all 0xFF.
func isFree(b *buffer.Buffer, off, n int) bool {
	p, err := b.Read(off, n)
	if err != nil {
		return false
	}
	for _, v := range p {
		if v != 0xFF {
			return false
		}
	}
	return true
}
