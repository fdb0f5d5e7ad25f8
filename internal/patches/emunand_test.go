package patches

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-firmboot/internal/buffer"
	"github.com/deploymenttheory/go-firmboot/internal/parsers/ncch"
)

const (
	testP9Offset = 0x1000
	testMPUAt    = 0x3000
	testFreeAt   = 0x13600
)

var testDriver = []byte("NANDNCSDSDMC\x70\x47\x00\x00")

func buildEmuNANDSection(t *testing.T, withMPU bool) ([]byte, *ncch.Process9) {
	t.Helper()

	data := make([]byte, 0x14000)
	arm9 := buffer.New(data)

	code := data[testP9Offset : testP9Offset+0x1000]
	copy(code[0x100:], sdmmcStructPattern)
	putWords(code, 0x109, 0x01000000)
	putWords(code, 0x10D, 0x00001234)
	copy(code[0x206:], nandRWPattern)
	copy(code[0x286:], nandRWPattern)

	if withMPU {
		copy(data[testMPUAt:], mpuPattern)
	}

	data[testFreeAt] = 0x00
	for i := testFreeAt + 1; i < testFreeAt+0x200; i++ {
		data[i] = 0xFF
	}

	view, err := arm9.Slice(testP9Offset, 0x1000)
	require.NoError(t, err)
	return data, &ncch.Process9{Offset: testP9Offset, Size: 0x1000, MemAddr: 0x08028000, Code: view}
}

func TestPatchEmuNAND(t *testing.T) {
	data, p9 := buildEmuNANDSection(t, true)
	// Section staged at 0x24066E00 and relocated to 0x08006800.
	params := EmuNANDParams{
		Offset:          0x2000,
		Header:          0x1D7801,
		StagingAddress:  0x24066E00,
		RelocationDelta: 0x24066E00 - 0x08006800,
	}

	r := PatchEmuNAND(buffer.New(data), p9, testDriver, params)
	require.True(t, r.Applied, r.Reason)

	code := testFreeAt + 4
	assert.Equal(t, code, r.Offset)
	assert.Equal(t, uint32(0x2000), word(data, code))
	assert.Equal(t, uint32(0x1D7801), word(data, code+4))
	assert.Equal(t, uint32(0x01001234), word(data, code+8))
	assert.Equal(t, testDriver[12:], data[code+12:code+16])

	branch := uint32(0x08006800 + code)
	for _, hook := range []int{testP9Offset + 0x200, testP9Offset + 0x280} {
		assert.Equal(t, thumbLdrR4Pc, half(data, hook))
		assert.Equal(t, thumbBlxR4, half(data, hook+2))
		assert.Equal(t, branch, word(data, hook+4))
	}

	assert.Equal(t, uint32(0x00360003), word(data, testMPUAt))
	assert.Equal(t, uint32(0x00200603), word(data, testMPUAt+6*4))
	assert.Equal(t, uint32(0x001C0603), word(data, testMPUAt+9*4))
}

func TestPatchEmuNAND_MissingSiteLeavesSectionUntouched(t *testing.T) {
	data, p9 := buildEmuNANDSection(t, false)
	before := append([]byte(nil), data...)

	r := PatchEmuNAND(buffer.New(data), p9, testDriver, EmuNANDParams{Offset: 1, Header: 2})
	assert.False(t, r.Applied)
	assert.Contains(t, r.Reason, "MPU")
	assert.Equal(t, before, data)
}

func TestPatchEmuNAND_DriverWithoutPlaceholders(t *testing.T) {
	data, p9 := buildEmuNANDSection(t, true)

	r := PatchEmuNAND(buffer.New(data), p9, []byte("NAND\x00\x00\x00\x00"), EmuNANDParams{})
	assert.False(t, r.Applied)
	assert.Contains(t, r.Reason, "placeholder")
}
