package patches

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-firmboot/internal/parsers/firm"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

type fakeDecryptor struct {
	calls    int
	variant  int
	size     int
	failWith error
}

func (f *fakeDecryptor) DecryptArm9Bin(section []byte, variant int) error {
	f.calls++
	f.variant = variant
	f.size = len(section)
	return f.failWith
}

func newSession(t *testing.T, console types.ConsoleFamily, data []byte, d *types.BootDecision) *session.BootSession {
	t.Helper()
	img, err := firm.Parse(data)
	require.NoError(t, err)

	s := session.New(console, quietLogger())
	s.Image = img
	s.Decision = d
	s.Config = &types.BootConfig{}
	return s
}

func exceptionSequence() []byte {
	seq := make([]byte, 0x20)
	copy(seq, exceptionInstallPattern)
	putWords(seq, 0x10, 0xE5803008, exceptionInstallEnd)
	return seq
}

// nativeArm9 builds an ARM9 section carrying the exception vector sequence and a
// Process9 NCCH whose code holds the signature and FIRM write patterns.
func nativeArm9() []byte {
	data := make([]byte, 0x18000)
	copy(data[0x100:], exceptionSequence())

	const base = 0x16000
	binary.LittleEndian.PutUint32(data[base+0x1A0:], 1)
	binary.LittleEndian.PutUint32(data[base+0x1A4:], 8)
	copy(data[base+0x200:], "Process9")
	binary.LittleEndian.PutUint32(data[base+0x210:], 0x08028000)

	code := data[base+0x400:]
	copy(code[0x10:], sigCheckCallPattern)
	copy(code[0x120:], firmWriteCheckPattern)
	copy(code[0x180:], firmWriterAnchor)
	return data
}

func TestEngine_NativeO3DS(t *testing.T) {
	data, err := firm.Build(0x1FF80000, 0x0801B000,
		firm.SectionSpec{Address: 0x1FF00000, Data: make([]byte, 0x100)},
		firm.SectionSpec{Address: 0x1FF80000, Data: make([]byte, 0x100)},
		firm.SectionSpec{Address: 0x08006800, Data: nativeArm9()},
	)
	require.NoError(t, err)

	dec := &fakeDecryptor{}
	e, err := NewEngine(Payloads{}, dec)
	require.NoError(t, err)

	s := newSession(t, types.ConsoleO3DS, data, &types.BootDecision{
		FirmType:   types.FirmTypeNative,
		Protection: types.ProtectionStandard,
	})
	require.NoError(t, e.Apply(s))

	assert.Zero(t, dec.calls, "no arm9loader on O3DS")
	assert.True(t, s.Applied(NameExceptionVectors))
	assert.True(t, s.Applied(NameSignatureChecks))
	assert.True(t, s.Applied(NameFirmWrites))
	assert.False(t, s.Applied(NameEmuNAND))
	assert.False(t, s.Applied(NameFirmlaunch), "no reboot payload")
	assert.False(t, s.Applied(NameUnitInfo))

	names := make([]string, 0, len(s.Patches))
	for _, r := range s.Patches {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{
		NameExceptionVectors,
		NameSignatureChecks,
		NameTitleMinVersion,
		NameFirmWrites,
		NameFirmlaunch,
		NameSvcBackdoor,
	}, names)
}

func TestEngine_SafeN3DSBypassesArm9LoaderFirst(t *testing.T) {
	arm9 := make([]byte, 0x400)
	copy(arm9[0x40:], exceptionSequence())
	anchorAndCheck := make([]byte, 0x200)
	copy(anchorAndCheck[0x20:], firmWriteCheckPattern)
	copy(anchorAndCheck[0x80:], firmWriterAnchor)
	copy(arm9[0x200:], anchorAndCheck)

	data, err := firm.Build(0x1FF80000, 0x0801B000,
		firm.SectionSpec{Address: 0x1FF00000, Data: make([]byte, 0x100)},
		firm.SectionSpec{Address: 0x1FF80000, Data: make([]byte, 0x100)},
		firm.SectionSpec{Address: 0x08006000, Data: arm9},
	)
	require.NoError(t, err)

	dec := &fakeDecryptor{}
	e, err := NewEngine(Payloads{}, dec)
	require.NoError(t, err)

	s := newSession(t, types.ConsoleN3DS, data, &types.BootDecision{FirmType: types.FirmTypeSafe})
	require.NoError(t, e.Apply(s))

	assert.Equal(t, 1, dec.calls)
	assert.Equal(t, 0, dec.variant)
	assert.Equal(t, len(arm9), dec.size)
	assert.Equal(t, types.Arm9EntryNativeNoLoader, s.Image.Arm9Entry())

	require.NotEmpty(t, s.Patches)
	assert.Equal(t, NameArm9LoaderBypass, s.Patches[0].Name)
	assert.True(t, s.Applied(NameExceptionVectors))
	assert.True(t, s.Applied(NameFirmWrites))
}

func TestEngine_LegacyN3DSUsesSection3(t *testing.T) {
	data, err := firm.Build(0x1FF80000, 0x08006000,
		firm.SectionSpec{Address: 0x1FF00000, Data: make([]byte, 0x100)},
		firm.SectionSpec{Address: 0x1FF80000, Data: make([]byte, 0x100)},
		firm.SectionSpec{Address: 0x08006000, Data: make([]byte, 0x100)},
		firm.SectionSpec{Address: 0x08006000, Data: make([]byte, 0x176000)},
	)
	require.NoError(t, err)

	dec := &fakeDecryptor{}
	e, err := NewEngine(Payloads{}, dec)
	require.NoError(t, err)

	s := newSession(t, types.ConsoleN3DS, data, &types.BootDecision{FirmType: types.FirmTypeTWL})
	require.NoError(t, e.Apply(s))

	assert.Equal(t, 0x176000, dec.size)
	assert.Equal(t, types.Arm9EntryLegacyNoLoader, s.Image.Arm9Entry())
	assert.Equal(t, []byte{0x00, 0x20, 0x4E, 0xB0, 0x70, 0xBD}, data[0x165D64:0x165D6A])
}

func TestEngine_DecryptFailureStopsBoot(t *testing.T) {
	data, err := firm.Build(0, 0,
		firm.SectionSpec{Address: 0x1FF00000, Data: make([]byte, 0x100)},
		firm.SectionSpec{Address: 0x1FF80000, Data: make([]byte, 0x100)},
		firm.SectionSpec{Address: 0x08006000, Data: make([]byte, 0x100)},
	)
	require.NoError(t, err)

	e, err := NewEngine(Payloads{}, &fakeDecryptor{failWith: errors.New("bad key")})
	require.NoError(t, err)

	s := newSession(t, types.ConsoleN3DS, data, &types.BootDecision{FirmType: types.FirmTypeSafe})
	assert.Error(t, e.Apply(s))
}

func TestNewEngine_RequiresDecryptor(t *testing.T) {
	_, err := NewEngine(Payloads{}, nil)
	assert.Error(t, err)
}

func TestEngine_EmuNANDBranchesIntoRelocatedSection(t *testing.T) {
	arm9 := nativeArm9()
	copy(arm9[testMPUAt:], mpuPattern)
	arm9[testFreeAt] = 0x00
	for i := testFreeAt + 1; i < testFreeAt+0x200; i++ {
		arm9[i] = 0xFF
	}
	code := arm9[0x16400:]
	copy(code[0x300:], sdmmcStructPattern)
	putWords(code, 0x309, 0x01000000)
	putWords(code, 0x30D, 0x00001234)
	copy(code[0x406:], nandRWPattern)
	copy(code[0x486:], nandRWPattern)

	data, err := firm.Build(0x1FF80000, 0x0801B000,
		firm.SectionSpec{Address: 0x1FF00000, Data: make([]byte, 0x100)},
		firm.SectionSpec{Address: 0x1FF80000, Data: make([]byte, 0x100)},
		firm.SectionSpec{Address: 0x08006800, Data: arm9},
	)
	require.NoError(t, err)

	e, err := NewEngine(Payloads{EmuNAND: testDriver}, &fakeDecryptor{})
	require.NoError(t, err)

	s := newSession(t, types.ConsoleO3DS, data, &types.BootDecision{
		FirmType:  types.FirmTypeNative,
		Nand:      types.NandEmu1,
		EmuOffset: 0x2000,
		EmuHeader: 0x1D7801,
	})
	require.NoError(t, e.Apply(s))
	require.True(t, s.Applied(NameEmuNAND))

	staged := types.FirmStagingAddress + s.Image.SectionHeader(types.SectionArm9).Offset
	require.NotEqual(t, uint32(0x08006800), staged)

	sec, err := s.Image.Section(types.SectionArm9)
	require.NoError(t, err)
	driverAt := uint32((testFreeAt + 1 + 3) &^ 3)
	for _, hook := range []int{0x16400 + 0x400, 0x16400 + 0x480} {
		branch, err := sec.Uint32(hook + 4)
		require.NoError(t, err)
		assert.Equal(t, 0x08006800+driverAt, branch, "hook must branch to the run address, not the staged copy")
	}
}
