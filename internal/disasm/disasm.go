// Package disasm renders the instruction words touched by patches in readable form
// for logs and the inspect command.
package disasm

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/arm/armasm"
)

// ARM decodes a single 32-bit ARM instruction word. Words that do not decode are
// rendered as a .word directive.
func ARM(word uint32) string {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], word)

	inst, err := armasm.Decode(raw[:], armasm.ModeARM)
	if err != nil {
		return fmt.Sprintf(".word 0x%08X", word)
	}
	return inst.String()
}

// Change describes one rewritten instruction word.
func Change(offset int, before, after uint32) string {
	return fmt.Sprintf("0x%06X: %-28s -> %s", offset, ARM(before), ARM(after))
}

// Listing disassembles count ARM words starting at offset of code. It stops early
// at the end of code.
func Listing(code []byte, offset, count int) []string {
	var out []string
	for i := 0; i < count; i++ {
		off := offset + i*4
		if off < 0 || off+4 > len(code) {
			break
		}
		w := binary.LittleEndian.Uint32(code[off:])
		out = append(out, fmt.Sprintf("0x%06X: %08X  %s", off, w, ARM(w)))
	}
	return out
}
