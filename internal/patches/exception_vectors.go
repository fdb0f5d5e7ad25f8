package patches

import (
	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-firmboot/internal/buffer"
	"github.com/deploymenttheory/go-firmboot/internal/disasm"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

// The kernel installs its exception vectors as "ldr pc, [pc, #-4]" followed by a
// handler address, one str per slot, all relative to r0 = 0x08000000.
var exceptionInstallPattern = []byte{
	0x18, 0x10, 0x80, 0xE5, // str r1, [r0, #0x18]
	0x10, 0x10, 0x80, 0xE5, // str r1, [r0, #0x10]
	0x20, 0x10, 0x80, 0xE5, // str r1, [r0, #0x20]
	0x28, 0x10, 0x80, 0xE5, // str r1, [r0, #0x28]
}

const (
	// mov r1, #0x40 ends the installation sequence.
	exceptionInstallEnd uint32 = 0xE3A01040

	// Slots whose handler address must still be stored: IRQ and SVC.
	irqHandlerSlot uint32 = types.Arm9VectorBase + 0x04
	svcHandlerSlot uint32 = types.Arm9VectorBase + 0x14

	strImmR0Base uint32 = 0xE5800000 // str rX, [r0, #imm12]
)

// str decodes the fields of an ARM single data transfer used by the scan.
type str struct {
	rd        uint32
	offset    int32
	pre       bool
	writeback bool
}

// decodeStrR0 accepts only "str rX, [r0, #+/-imm]" with optional write-back,
// pre- or post-indexed: cond AL, class 01, immediate offset, word store, Rn = r0.
func decodeStrR0(w uint32) (str, bool) {
	if w>>26 != 0x39 || (w>>25)&1 != 0 || (w>>20)&5 != 0 || (w>>16)&0xF != 0 {
		return str{}, false
	}
	s := str{
		rd:        (w >> 12) & 0xF,
		offset:    int32(w & 0xFFF),
		pre:       (w>>24)&1 != 0,
		writeback: (w>>21)&1 != 0,
	}
	if (w>>23)&1 == 0 {
		s.offset = -s.offset
	}
	return s, true
}

// PatchExceptionHandlersInstall neutralises the ARM9 kernel's exception vector
// installation. The scan runs from just past the matched vector instruction
// stores up to "mov r1, #0x40". Every handler address store in it is turned into
// a nop except the IRQ and SVC slots, which are re-encoded as plain [r0, #imm]
// stores so they no longer depend on the tracked base register.
func PatchExceptionHandlersInstall(arm9 *buffer.Buffer, log logrus.FieldLogger) session.PatchResult {
	match := arm9.Search(exceptionInstallPattern)
	if match == buffer.NotFound {
		return skipped(NameExceptionVectors, types.SectionArm9, "exception vector install sequence not found")
	}

	c := arm9.Cursor(match)
	c.Seek(len(exceptionInstallPattern))
	end := findWord(arm9, c.Offset(), exceptionInstallEnd)
	if end == buffer.NotFound {
		return skipped(NameExceptionVectors, types.SectionArm9, "end of exception vector install sequence not found")
	}

	r0 := types.Arm9VectorBase
	changed := 0
	for c.Offset() < end {
		w, err := c.Word()
		if err != nil {
			break
		}

		s, ok := decodeStrR0(w)
		if !ok {
			c.Next()
			continue
		}

		// A post-indexed store without W still lands at r0 + offset.
		addr := r0
		if s.pre || !s.writeback {
			addr = r0 + uint32(s.offset)
		}

		var repl uint32
		if addr == irqHandlerSlot || addr == svcHandlerSlot {
			repl = strImmR0Base | s.rd<<12 | (addr & 0xFFF)
		} else {
			repl = armNop
		}
		if err := c.SetWord(repl); err != nil {
			break
		}
		log.WithField("patch", NameExceptionVectors).Debug(disasm.Change(c.Offset(), w, repl))
		changed++

		// r0 only moves when W is set.
		if !s.pre {
			addr += uint32(s.offset)
		}
		if s.writeback {
			r0 = addr
		}
		c.Next()
	}

	if changed == 0 {
		return skipped(NameExceptionVectors, types.SectionArm9, "no vector stores in install sequence")
	}
	return applied(NameExceptionVectors, types.SectionArm9, match)
}

// findWord returns the offset of the first word-stepped occurrence of w at or
// after start.
func findWord(b *buffer.Buffer, start int, w uint32) int {
	for c := b.Cursor(start); c.Valid(); c.Next() {
		if v, _ := c.Word(); v == w {
			return c.Offset()
		}
	}
	return buffer.NotFound
}
