package patches

import (
	"fmt"

	"github.com/deploymenttheory/go-firmboot/internal/buffer"
	"github.com/deploymenttheory/go-firmboot/internal/parsers/ncch"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

var (
	// The driver code free space starts after this run in the ARM9 section.
	freeK9SpacePattern = []byte{0x00, 0xFF, 0xFF, 0xFF}

	// Initialisation of the SDMMC controller struct; the two words after it add up
	// to the struct address.
	sdmmcStructPattern = []byte{0x21, 0x20, 0x18, 0x20}

	// Shared tail of the NAND read and write routines.
	nandRWPattern = []byte{0x1E, 0x00, 0xC8, 0x05}

	// First ARM9 MPU region descriptor.
	mpuPattern = []byte{0x03, 0x00, 0x24, 0x00}

	// Placeholders inside the emuNAND driver payload.
	emuOffsetMarker = []byte("NAND")
	emuHeaderMarker = []byte("NCSD")
	sdmmcMarker     = []byte("SDMC")
)

const (
	freeK9SpaceSearchStart = 0x13500
	nandRWHookBack         = 6
	nandWriteSearchWindow  = 0x100
	sdmmcFirstWord         = 9
	sdmmcSecondWord        = 0xD
)

// MPU region words written so the driver and the SD controller are reachable.
var mpuRegions = [...]struct {
	index int
	value uint32
}{
	{0, 0x00360003},
	{6, 0x00200603},
	{9, 0x001C0603},
}

// EmuNANDParams locates the selected emuNAND on the SD card.
type EmuNANDParams struct {
	Offset uint32
	Header uint32

	// StagingAddress is where the ARM9 section sits in the staged image and
	// RelocationDelta is what the loader subtracts to get its run address.
	// The hooks branch to the driver in the relocated section.
	StagingAddress  uint32
	RelocationDelta uint32
}

// emuNANDSites holds every patch location, all resolved before anything is written.
type emuNANDSites struct {
	code       int
	sdmmc      uint32
	readHook   int
	writeHook  int
	mpu        int
	offsetPos  int
	headerPos  int
	sdmmcPos   int
	driverSize int
}

func locateEmuNANDSites(arm9 *buffer.Buffer, p9 *ncch.Process9, driver []byte) (*emuNANDSites, error) {
	s := &emuNANDSites{driverSize: len(driver)}

	s.offsetPos = buffer.Search(driver, emuOffsetMarker)
	s.headerPos = buffer.Search(driver, emuHeaderMarker)
	s.sdmmcPos = buffer.Search(driver, sdmmcMarker)
	if s.offsetPos == buffer.NotFound || s.headerPos == buffer.NotFound || s.sdmmcPos == buffer.NotFound {
		return nil, fmt.Errorf("emuNAND driver is missing a placeholder")
	}

	free := arm9.SearchRange(freeK9SpaceSearchStart, arm9.Len()-freeK9SpaceSearchStart, freeK9SpacePattern)
	if free == buffer.NotFound {
		return nil, fmt.Errorf("no free space in the ARM9 section")
	}
	s.code = (free + 1 + 3) &^ 3
	if !isFree(arm9, s.code, len(driver)) {
		return nil, fmt.Errorf("free space at 0x%X is smaller than the 0x%X byte driver", s.code, len(driver))
	}

	code := p9.Code
	sd := code.Search(sdmmcStructPattern)
	if sd == buffer.NotFound {
		return nil, fmt.Errorf("SDMMC struct initialisation not found")
	}
	a, errA := code.Uint32(sd + sdmmcFirstWord)
	b, errB := code.Uint32(sd + sdmmcSecondWord)
	if errA != nil || errB != nil {
		return nil, fmt.Errorf("SDMMC struct address out of bounds")
	}
	s.sdmmc = a + b

	rd := code.Search(nandRWPattern)
	if rd == buffer.NotFound {
		return nil, fmt.Errorf("NAND read routine not found")
	}
	s.readHook = rd - nandRWHookBack
	wr := code.SearchRange(s.readHook+10, nandWriteSearchWindow, nandRWPattern)
	if wr == buffer.NotFound {
		return nil, fmt.Errorf("NAND write routine not found")
	}
	s.writeHook = wr - nandRWHookBack
	if !code.Contains(s.readHook, 8) || !code.Contains(s.writeHook, 8) {
		return nil, fmt.Errorf("NAND hooks out of bounds")
	}

	s.mpu = arm9.Search(mpuPattern)
	if s.mpu == buffer.NotFound || !arm9.Contains(s.mpu, 10*4) {
		return nil, fmt.Errorf("MPU setup not found")
	}

	return s, nil
}

// PatchEmuNAND installs the SD-backed NAND driver and hooks Process9's NAND read
// and write routines into it. Every location is resolved first; if any is missing
// the section is left untouched.
func PatchEmuNAND(arm9 *buffer.Buffer, p9 *ncch.Process9, driver []byte, params EmuNANDParams) session.PatchResult {
	if len(driver) == 0 {
		return skipped(NameEmuNAND, types.SectionArm9, "emuNAND driver not available")
	}

	s, err := locateEmuNANDSites(arm9, p9, driver)
	if err != nil {
		return skipped(NameEmuNAND, types.SectionArm9, "%v", err)
	}

	if err := arm9.Write(s.code, driver); err != nil {
		return skipped(NameEmuNAND, types.SectionArm9, "%v", err)
	}
	_ = arm9.PutUint32(s.code+s.offsetPos, params.Offset)
	_ = arm9.PutUint32(s.code+s.headerPos, params.Header)
	_ = arm9.PutUint32(s.code+s.sdmmcPos, s.sdmmc)

	branch := params.StagingAddress + uint32(s.code) - params.RelocationDelta
	for _, hook := range []int{s.readHook, s.writeHook} {
		_ = p9.Code.PutUint16(hook, thumbLdrR4Pc)
		_ = p9.Code.PutUint16(hook+2, thumbBlxR4)
		_ = p9.Code.PutUint32(hook+4, branch)
	}

	for _, r := range mpuRegions {
		_ = arm9.PutUint32(s.mpu+r.index*4, r.value)
	}

	return applied(NameEmuNAND, types.SectionArm9, s.code)
}
