package device

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/deploymenttheory/go-firmboot/internal/interfaces"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

// MappedSectorReader serves raw SD card sectors from a memory-mapped image file.
type MappedSectorReader struct {
	file *os.File
	data mmap.MMap
}

var _ interfaces.SectorReader = (*MappedSectorReader)(nil)

// OpenSectorReader maps the image at imagePath read-only
func OpenSectorReader(imagePath string) (*MappedSectorReader, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SD image: %w", err)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to map SD image: %w", err)
	}
	return &MappedSectorReader{file: f, data: data}, nil
}

// Sectors returns the number of whole sectors in the image
func (r *MappedSectorReader) Sectors() uint32 {
	return uint32(len(r.data) / types.SectorSize)
}

// ReadSectors copies len(dst)/SectorSize sectors starting at sector into dst
func (r *MappedSectorReader) ReadSectors(sector uint32, dst []byte) error {
	if len(dst)%types.SectorSize != 0 {
		return fmt.Errorf("destination of %d bytes is not a whole number of sectors", len(dst))
	}
	start := int64(sector) * types.SectorSize
	if start+int64(len(dst)) > int64(len(r.data)) {
		return fmt.Errorf("sectors 0x%X+%d past end of image (%d sectors)", sector, len(dst)/types.SectorSize, r.Sectors())
	}
	copy(dst, r.data[start:])
	return nil
}

// Close unmaps the image
func (r *MappedSectorReader) Close() error {
	if err := r.data.Unmap(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to unmap SD image: %w", err)
	}
	return r.file.Close()
}

// NullSectorReader is an SD card without any raw emuNAND area. Every read fails,
// so the locator reports no emuNAND.
type NullSectorReader struct{}

// ReadSectors always fails
func (NullSectorReader) ReadSectors(sector uint32, dst []byte) error {
	return fmt.Errorf("no raw SD image configured")
}
