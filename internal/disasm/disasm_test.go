package disasm

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestARM(t *testing.T) {
	// mov r0, r0
	assert.NotContains(t, ARM(0xE1A00000), ".word")

	// str r1, [r0, #0x18]
	assert.Contains(t, strings.ToUpper(ARM(0xE5801018)), "STR")
}

func TestListing(t *testing.T) {
	code := make([]byte, 12)
	binary.LittleEndian.PutUint32(code[0:], 0xE1A00000)
	binary.LittleEndian.PutUint32(code[4:], 0xE3A01040)
	binary.LittleEndian.PutUint32(code[8:], 0xE5801018)

	lines := Listing(code, 4, 10)
	assert.Len(t, lines, 2, "listing stops at the end of the code")
	assert.True(t, strings.HasPrefix(lines[0], "0x000004: E3A01040"))
}

func TestChange(t *testing.T) {
	line := Change(0x40, 0xE5801018, 0xE1A00000)
	assert.True(t, strings.HasPrefix(line, "0x000040: "))
	assert.Contains(t, line, "->")
}
