// Package buffer provides a bounds-checked view over the staged firmware image.
//
// Every read and write goes through typed little-endian accessors that refuse to
// touch bytes outside the view, so a patch routine working from a bad offset
// fails with a BoundsError instead of corrupting unrelated memory.
package buffer

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// NotFound is returned by the search helpers when the needle is absent.
const NotFound = -1

// BoundsError reports an access outside a Buffer.
type BoundsError struct {
	Offset int
	Length int
	Size   int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("access of %d bytes at offset 0x%X is outside buffer of 0x%X bytes",
		e.Length, e.Offset, e.Size)
}

// Buffer is a window onto a byte slice. Sub-buffers share storage with their parent.
type Buffer struct {
	data []byte
}

// New wraps data without copying it.
func New(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Len returns the size of the view.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the underlying slice. Writes to it are visible through the Buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

func (b *Buffer) check(off, n int) error {
	if off < 0 || n < 0 || off > len(b.data) || n > len(b.data)-off {
		return &BoundsError{Offset: off, Length: n, Size: len(b.data)}
	}
	return nil
}

// Contains reports whether [off, off+n) lies inside the view.
func (b *Buffer) Contains(off, n int) bool {
	return b.check(off, n) == nil
}

// Slice returns the sub-view [off, off+n).
func (b *Buffer) Slice(off, n int) (*Buffer, error) {
	if err := b.check(off, n); err != nil {
		return nil, err
	}
	return &Buffer{data: b.data[off : off+n : off+n]}, nil
}

// Read returns the bytes at [off, off+n) without copying.
func (b *Buffer) Read(off, n int) ([]byte, error) {
	if err := b.check(off, n); err != nil {
		return nil, err
	}
	return b.data[off : off+n], nil
}

// Write copies p into the view at off.
func (b *Buffer) Write(off int, p []byte) error {
	if err := b.check(off, len(p)); err != nil {
		return err
	}
	copy(b.data[off:], p)
	return nil
}

// Byte reads one byte.
func (b *Buffer) Byte(off int) (byte, error) {
	if err := b.check(off, 1); err != nil {
		return 0, err
	}
	return b.data[off], nil
}

// PutByte writes one byte.
func (b *Buffer) PutByte(off int, v byte) error {
	if err := b.check(off, 1); err != nil {
		return err
	}
	b.data[off] = v
	return nil
}

// Uint16 reads a little-endian halfword. Unaligned offsets are allowed.
func (b *Buffer) Uint16(off int) (uint16, error) {
	if err := b.check(off, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b.data[off:]), nil
}

// PutUint16 writes a little-endian halfword.
func (b *Buffer) PutUint16(off int, v uint16) error {
	if err := b.check(off, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b.data[off:], v)
	return nil
}

// Uint32 reads a little-endian word. Unaligned offsets are allowed.
func (b *Buffer) Uint32(off int) (uint32, error) {
	if err := b.check(off, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b.data[off:]), nil
}

// PutUint32 writes a little-endian word.
func (b *Buffer) PutUint32(off int, v uint32) error {
	if err := b.check(off, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b.data[off:], v)
	return nil
}

// Search returns the offset of the first occurrence of needle in the whole view.
func (b *Buffer) Search(needle []byte) int {
	return Search(b.data, needle)
}

// SearchRange looks for needle inside [off, off+n) only and returns the offset
// relative to the start of the view, or NotFound. A range that leaves the view is
// clipped to it.
func (b *Buffer) SearchRange(off, n int, needle []byte) int {
	if off < 0 {
		n += off
		off = 0
	}
	if off > len(b.data) || n <= 0 {
		return NotFound
	}
	if n > len(b.data)-off {
		n = len(b.data) - off
	}
	idx := Search(b.data[off:off+n], needle)
	if idx == NotFound {
		return NotFound
	}
	return off + idx
}

// Search is the pattern matcher used by every patch: an exact, first-match
// containment search over a bounded haystack. An empty needle never matches.
func Search(haystack, needle []byte) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return NotFound
	}
	return bytes.Index(haystack, needle)
}
