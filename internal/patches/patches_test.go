package patches

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-firmboot/internal/buffer"
	"github.com/deploymenttheory/go-firmboot/internal/parsers/ncch"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func putWords(data []byte, off int, words ...uint32) {
	for i, w := range words {
		binary.LittleEndian.PutUint32(data[off+i*4:], w)
	}
}

func word(data []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(data[off:])
}

func half(data []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(data[off:])
}

// armBranch encodes B from pc to target.
func armBranch(pc, target uint32) uint32 {
	return 0xEA000000 | ((target-pc-8)>>2)&0x00FFFFFF
}

func TestBranchTarget(t *testing.T) {
	tests := []struct {
		name string
		pc   uint32
		word uint32
		want uint32
	}{
		{"forward B", 0x1000, 0xEA000010, 0x1000 + 8 + 0x40},
		{"backward B", 0x1000, 0xEAFFFFFE, 0x1000},
		{"BLX without H", 0x2000, 0xFA000040, 0x2000 + 8 + 0x100},
		{"BLX with H", 0x2000, 0xFB000040, 0x2000 + 8 + 0x102},
		{"B round trip", 0xFFFF0008, armBranch(0xFFFF0008, 0xFFF02000), 0xFFF02000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, branchTarget(tt.pc, tt.word))
		})
	}
}

func TestPatchExceptionHandlersInstall(t *testing.T) {
	data := make([]byte, 0x100)
	const at = 0x20
	copy(data[at:], exceptionInstallPattern)
	putWords(data, at+0x10,
		0xE5802014, // str r2, [r0, #0x14]   SVC slot, kept
		0xE5803008, // str r3, [r0, #0x08]   nop
		0xE2811001, // add r1, r1, #1        not a store
		0xE5A01030, // str r1, [r0, #0x30]!  nop, r0 = 0x08000030
		0xE5004010, // str r4, [r0, #-0x10]  0x08000020, nop
		0xE4805004, // str r5, [r0], #4      no W: 0x08000034, nop, r0 unchanged
		0xE5106030, // ldr r6, [r0, #-0x30]  load, untouched
		0xE500702C, // str r7, [r0, #-0x2C]  0x08000004 IRQ slot, kept
		exceptionInstallEnd,
		0xE5808018, // past the end marker, untouched
	)

	r := PatchExceptionHandlersInstall(buffer.New(data), quietLogger())
	require.True(t, r.Applied, r.Reason)
	assert.Equal(t, at, r.Offset)

	assert.Equal(t, exceptionInstallPattern, data[at:at+len(exceptionInstallPattern)], "vector instruction stores must be left alone")
	assert.Equal(t, uint32(0xE5802014), word(data, at+0x10))
	assert.Equal(t, armNop, word(data, at+0x14))
	assert.Equal(t, uint32(0xE2811001), word(data, at+0x18))
	assert.Equal(t, armNop, word(data, at+0x1C))
	assert.Equal(t, armNop, word(data, at+0x20))
	assert.Equal(t, armNop, word(data, at+0x24))
	assert.Equal(t, uint32(0xE5106030), word(data, at+0x28))
	assert.Equal(t, uint32(0xE5807004), word(data, at+0x2C), "IRQ store re-encoded against the vector base")
	assert.Equal(t, exceptionInstallEnd, word(data, at+0x30))
	assert.Equal(t, uint32(0xE5808018), word(data, at+0x34))
}

func TestPatchExceptionHandlersInstall_OnlyVectorSlotsSurvive(t *testing.T) {
	// Every store to every slot in the vector area: only IRQ and SVC remain stores.
	data := make([]byte, 0x200)
	copy(data, exceptionInstallPattern)
	off := len(exceptionInstallPattern)
	for slot := uint32(0); slot < 0x40; slot += 4 {
		putWords(data, off, 0xE5801000|slot)
		off += 4
	}
	putWords(data, off, exceptionInstallEnd)

	r := PatchExceptionHandlersInstall(buffer.New(data), quietLogger())
	require.True(t, r.Applied)
	assert.Equal(t, exceptionInstallPattern, data[:len(exceptionInstallPattern)])

	kept := 0
	for o := len(exceptionInstallPattern); o < off; o += 4 {
		w := word(data, o)
		if w == armNop {
			continue
		}
		s, ok := decodeStrR0(w)
		require.True(t, ok, "word at 0x%X is neither nop nor store", o)
		addr := uint32(0x08000000) + uint32(s.offset)
		assert.Contains(t, []uint32{irqHandlerSlot, svcHandlerSlot}, addr)
		kept++
	}
	assert.Equal(t, 2, kept)
}

func TestPatchExceptionHandlersInstall_PostIndexWithoutWriteback(t *testing.T) {
	data := make([]byte, 0x40)
	copy(data, exceptionInstallPattern)
	off := len(exceptionInstallPattern)
	putWords(data, off,
		0xE4805010, // str r5, [r0], #0x10  stores to 0x08000010, r0 unchanged
		0xE5802004, // str r2, [r0, #4]     IRQ slot
		exceptionInstallEnd,
	)

	r := PatchExceptionHandlersInstall(buffer.New(data), quietLogger())
	require.True(t, r.Applied, r.Reason)

	assert.Equal(t, armNop, word(data, off))
	assert.Equal(t, uint32(0xE5802004), word(data, off+4))
}

func TestPatchExceptionHandlersInstall_SlotOffsets(t *testing.T) {
	assert.Equal(t, uint32(0x08000004), irqHandlerSlot)
	assert.Equal(t, uint32(0x08000014), svcHandlerSlot)
}

func TestPatchExceptionHandlersInstall_NoEndMarker(t *testing.T) {
	data := make([]byte, 0x40)
	copy(data, exceptionInstallPattern)
	putWords(data, 0x10, 0xE5802008)
	before := append([]byte(nil), data...)

	r := PatchExceptionHandlersInstall(buffer.New(data), quietLogger())
	assert.False(t, r.Applied)
	assert.Equal(t, -1, r.Offset)
	assert.Equal(t, before, data, "section must be untouched")
}

func TestPatchSignatureChecks(t *testing.T) {
	data := make([]byte, 0x80)
	copy(data[0x10:], sigCheckCallPattern)
	copy(data[0x41:], sigVerifierPattern)

	r := PatchSignatureChecks(buffer.New(data))
	require.True(t, r.Applied)
	assert.Equal(t, thumbMovsR0, half(data, 0x10))
	assert.Equal(t, thumbMovsR0, half(data, 0x40))
	assert.Equal(t, thumbBxLr, half(data, 0x42))

	r = PatchSignatureChecks(buffer.New(make([]byte, 0x80)))
	assert.False(t, r.Applied)
}

func TestPatchTitleInstallMinVersionCheck(t *testing.T) {
	data := make([]byte, 0x40)
	copy(data[0x20:], minVersionTablePattern)
	for i := 0x24; i < 0x30; i++ {
		data[i] = 0xAA
	}

	r := PatchTitleInstallMinVersionCheck(buffer.New(data))
	require.True(t, r.Applied)
	assert.Equal(t, byte(0xFF), data[0x20])
	assert.Equal(t, make([]byte, 8), data[0x21:0x29])
	assert.Equal(t, byte(0xAA), data[0x29])
}

func TestPatchFirmWrites(t *testing.T) {
	tests := []struct {
		name     string
		checkAt  int
		anchorAt int
		applied  bool
	}{
		{"check inside window", 0x120, 0x180, true},
		{"check too far before anchor", 0x010, 0x180, false},
		{"check after anchor", 0x1A0, 0x180, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, 0x200)
			copy(data[tt.checkAt:], firmWriteCheckPattern)
			copy(data[tt.anchorAt:], firmWriterAnchor)

			r := PatchFirmWrites(buffer.New(data), 2)
			assert.Equal(t, tt.applied, r.Applied, r.Reason)
			if tt.applied {
				assert.Equal(t, thumbMovsR0, half(data, tt.checkAt))
				assert.Equal(t, thumbNop, half(data, tt.checkAt+2))
			} else {
				assert.Equal(t, firmWriteCheckPattern, data[tt.checkAt:tt.checkAt+4])
			}
		})
	}
}

func TestPatchFirmWriteSafe(t *testing.T) {
	data := make([]byte, 0x40)
	copy(data[0x18:], firmWriteSafePattern)

	r := PatchFirmWriteSafe(buffer.New(data))
	require.True(t, r.Applied)
	assert.Equal(t, thumbMovsR4, half(data, 0x18))
	assert.Equal(t, uint16(0xE01D), half(data, 0x1A))
}

func TestPatchFirmlaunches(t *testing.T) {
	code := make([]byte, 0x200)
	putWords(code, 0x80, 0xFA000040) // blx fopen
	copy(code[0x90:], firmlaunchPattern)

	reboot := []byte{1, 2, 3, 4, 5, 6, 7, 8, 'O', 'P', 'E', 'N', 9, 10, 11, 12}
	p9 := &ncch.Process9{Offset: 0x1000, Size: len(code), MemAddr: 0x08028000, Code: buffer.New(code)}

	r := PatchFirmlaunches(p9, reboot)
	require.True(t, r.Applied, r.Reason)
	assert.Equal(t, 0x1080, r.Offset)
	assert.Equal(t, reboot[:8], code[0x80:0x88])
	assert.Equal(t, uint32(0x08028080+8+0x100)|1, word(code, 0x88))
	assert.Equal(t, reboot[12:], code[0x8C:0x90])
}

func TestPatchFirmlaunches_Skips(t *testing.T) {
	code := make([]byte, 0x200)
	copy(code[0x90:], firmlaunchPattern)
	p9 := &ncch.Process9{MemAddr: 0x08028000, Code: buffer.New(code)}

	assert.False(t, PatchFirmlaunches(p9, nil).Applied, "no payload")
	assert.False(t, PatchFirmlaunches(p9, []byte("no placeholder")).Applied)
	assert.False(t, PatchFirmlaunches(p9, []byte("xxxxOPEN")).Applied, "no BLX before the pattern")
}

func TestPatchKernelFCRAMAndVRAMMappingPermissions(t *testing.T) {
	data := make([]byte, 0x80)
	copy(data[0x40:], kernelMMUConfigPattern)

	r := PatchKernelFCRAMAndVRAMMappingPermissions(buffer.New(data))
	require.True(t, r.Applied)
	assert.Equal(t, uint32(0x00016406), word(data, 0x44))
}

func TestPatchUnitInfoValueSet(t *testing.T) {
	data := make([]byte, 0x20)
	copy(data[8:], unitInfoPattern)

	r := PatchUnitInfoValueSet(buffer.New(data))
	require.True(t, r.Applied)
	assert.Equal(t, []byte{0x01, 0x10, 0xA0, 0xE3}, data[8:12])
}
