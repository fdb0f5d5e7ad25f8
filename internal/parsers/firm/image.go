// Package firm parses FIRM images held in the staging buffer and exposes their
// sections as bounds-checked views.
package firm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-firmboot/internal/buffer"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

// ErrBadMagic is returned when the image does not start with "FIRM".
var ErrBadMagic = errors.New("not a FIRM image")

// Image is the working copy of one FIRM. The header is decoded once; the entry
// points are written through to the staged bytes whenever they change.
type Image struct {
	buf    *buffer.Buffer
	header types.FirmHeaderT
}

// Parse decodes the header of a staged FIRM and checks that every present section
// lies inside the image. data is not copied.
func Parse(data []byte) (*Image, error) {
	if len(data) < types.FirmHeaderSize {
		return nil, fmt.Errorf("FIRM image too small: %d bytes", len(data))
	}

	var hdr types.FirmHeaderT
	if err := binary.Read(bytes.NewReader(data[:types.FirmHeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("failed to decode FIRM header: %w", err)
	}

	if string(hdr.Magic[:]) != types.FirmMagic {
		return nil, ErrBadMagic
	}

	for i := 0; i < types.FirmSectionCount; i++ {
		s := hdr.Sections[i]
		if !s.Present() {
			break
		}
		if s.Offset < types.FirmHeaderSize || s.End() > uint64(len(data)) {
			return nil, fmt.Errorf("section %d (offset 0x%X, size 0x%X) lies outside the 0x%X byte image",
				i, s.Offset, s.Size, len(data))
		}
	}

	return &Image{
		buf:    buffer.New(data),
		header: hdr,
	}, nil
}

// Buffer returns a view over the whole staged image.
func (img *Image) Buffer() *buffer.Buffer {
	return img.buf
}

// Bytes returns the staged image.
func (img *Image) Bytes() []byte {
	return img.buf.Bytes()
}

// Header returns a copy of the decoded header.
func (img *Image) Header() types.FirmHeaderT {
	return img.header
}

// SectionHeader returns the header of section n.
func (img *Image) SectionHeader(n int) types.FirmSectionHeaderT {
	if n < 0 || n >= types.FirmSectionCount {
		return types.FirmSectionHeaderT{}
	}
	return img.header.Sections[n]
}

// Section returns a view over the data of section n.
func (img *Image) Section(n int) (*buffer.Buffer, error) {
	if n < 0 || n >= types.FirmSectionCount {
		return nil, fmt.Errorf("section index %d out of range", n)
	}
	s := img.header.Sections[n]
	if !s.Present() {
		return nil, fmt.Errorf("section %d is empty", n)
	}
	return img.buf.Slice(int(s.Offset), int(s.Size))
}

// PresentSections returns the indexes of the sections that are in use, stopping
// at the first empty slot.
func (img *Image) PresentSections() []int {
	var out []int
	for i := 0; i < types.FirmSectionCount; i++ {
		if !img.header.Sections[i].Present() {
			break
		}
		out = append(out, i)
	}
	return out
}

// Arm9Entry returns the recorded ARM9 entry point.
func (img *Image) Arm9Entry() uint32 {
	return img.header.Arm9Entry
}

// Arm11Entry returns the recorded ARM11 entry point.
func (img *Image) Arm11Entry() uint32 {
	return img.header.Arm11Entry
}

// SetArm9Entry replaces the ARM9 entry point in the header and the staged bytes.
func (img *Image) SetArm9Entry(addr uint32) error {
	if err := img.buf.PutUint32(types.FirmArm9EntryOffset, addr); err != nil {
		return err
	}
	img.header.Arm9Entry = addr
	return nil
}

// RelocationDelta returns the difference between where section n sits in the
// staging area and where it will execute. Address literals written by patches
// are converted with it so they point into the post-relocation address space.
func (img *Image) RelocationDelta(n int) uint32 {
	s := img.SectionHeader(n)
	return types.FirmStagingAddress + s.Offset - s.Address
}

// ConsoleMarker returns (address >> 8) & 0xFF of the ARM9 section load address.
func (img *Image) ConsoleMarker() uint32 {
	return (img.header.Sections[types.SectionArm9].Address >> 8) & 0xFF
}
