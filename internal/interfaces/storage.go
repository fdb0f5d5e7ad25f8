// File: internal/interfaces/storage.go
package interfaces

import "github.com/deploymenttheory/go-firmboot/internal/types"

// FileStore provides whole-file access to a mounted FAT volume (SD card or CTRNAND).
// Missing files are reported with an error satisfying errors.Is(err, fs.ErrNotExist).
type FileStore interface {
	// ReadFile reads an entire file
	ReadFile(path string) ([]byte, error)

	// WriteFile creates or truncates path and writes data to it
	WriteFile(path string, data []byte) error

	// ReadDir lists the entry names of a directory
	ReadDir(path string) ([]string, error)
}

// SectorReader reads raw sectors from the SD card
type SectorReader interface {
	// ReadSectors reads len(dst)/SectorSize sectors starting at sector
	ReadSectors(sector uint32, dst []byte) error
}

// NandMounter mounts the CTRNAND partition of the physical NAND or of an emuNAND
type NandMounter interface {
	// MountCTRNAND returns the CTRNAND file store of nand. emuOffset is the sector
	// offset of the emuNAND on the SD card and is ignored for the physical NAND.
	MountCTRNAND(nand types.NandType, emuOffset uint32) (FileStore, error)
}
