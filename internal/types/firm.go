// Package types implements the fixed data structures shared by the chain-loader:
// the FIRM container layout, boot decisions, the persisted configuration record
// and the architecturally fixed addresses used during handoff.
package types

// FIRM Container
// A FIRM image is a 0x200-byte header followed by up to four sections. Each section
// carries its own offset into the image, its final load address and a SHA-256 digest.

const (
	// FirmMagic is the four-byte signature at offset 0 of every FIRM image.
	FirmMagic = "FIRM"

	// FirmHeaderSize is the size of the FIRM header, signature included.
	FirmHeaderSize = 0x200

	// FirmSectionCount is the fixed number of section slots in a FIRM header.
	FirmSectionCount = 4

	// FirmSectionHeaderSize is the size of one section header entry.
	FirmSectionHeaderSize = 0x30

	// FirmSectionTableOffset is where the section headers start inside the FIRM header.
	FirmSectionTableOffset = 0x40

	// FirmArm11EntryOffset and FirmArm9EntryOffset locate the entry points inside the header.
	FirmArm11EntryOffset = 0x08
	FirmArm9EntryOffset  = 0x0C

	// FirmStagingAddress is the physical address the working copy is staged at.
	FirmStagingAddress uint32 = 0x24000000

	// FirmMaxSize bounds every FIRM read into the staging area.
	FirmMaxSize = 0x400000
)

// Section indexes with a fixed role in the boot flow.
const (
	// SectionArm11Modules holds the ARM11 sysmodules (loader, fs, pm, sm, pxi).
	SectionArm11Modules = 0
	// SectionArm11Kernel holds the ARM11 kernel.
	SectionArm11Kernel = 1
	// SectionArm9 is the primary ARM9 section (kernel + Process9) of NATIVE_FIRM and SAFE_FIRM.
	SectionArm9 = 2
	// SectionLegacyArm9 is the ARM9 section of TWL_FIRM and AGB_FIRM.
	SectionLegacyArm9 = 3
)

// FirmSectionHeaderT describes one FIRM section.
type FirmSectionHeaderT struct {
	// Byte offset of the section data, relative to the start of the FIRM image.
	Offset uint32

	// Physical address the section is copied to before launch.
	Address uint32

	// Size of the section in bytes. A zero size marks the slot as unused and ends the table.
	Size uint32

	// Copy method used by the boot ROM (0 = NDMA, 1 = XDMA, 2 = memcpy).
	CopyMethod uint32

	// SHA-256 digest of the section data. Only used here to identify firmware builds.
	Hash [0x20]byte
}

// FirmHeaderT is the on-disk FIRM header.
type FirmHeaderT struct {
	// "FIRM"
	Magic [4]byte

	// Boot priority, unused by the loader.
	BootPriority uint32

	// Entry point of the ARM11 kernel.
	Arm11Entry uint32

	// Entry point of the ARM9 kernel.
	Arm9Entry uint32

	Reserved [0x30]byte

	// Section table, processed in ascending order.
	Sections [FirmSectionCount]FirmSectionHeaderT

	// RSA-2048 signature over the header. Never checked by the loader.
	Signature [0x100]byte
}

// Present reports whether the section slot is in use.
func (s FirmSectionHeaderT) Present() bool {
	return s.Size != 0
}

// End returns the offset one past the last byte of the section.
func (s FirmSectionHeaderT) End() uint64 {
	return uint64(s.Offset) + uint64(s.Size)
}
