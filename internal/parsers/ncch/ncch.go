// Package ncch reads the few NCCH and ExeFS fields the loader needs to find
// embedded executables inside FIRM sections: Process9 in the ARM9 section and the
// sysmodules packed back to back in section 0.
package ncch

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-firmboot/internal/buffer"
)

// NCCH header offsets, relative to the start of the NCCH (the RSA signature).
const (
	MagicOffset          = 0x100
	ContentSizeOffset    = 0x104
	ExeFSOffsetOffset    = 0x1A0
	ExeFSSizeOffset      = 0x1A4
	ExHeaderNameOffset   = 0x200
	ExHeaderTextAddrOff  = 0x210
	MediaUnit            = 0x200
	ExeFSHeaderSize      = 0x200
	ExeFSFileEntrySize   = 0x10
	ExeFSMaxFiles        = 10
	process9NameTail     = "ess9"
	process9NameTailSkip = 4
)

// Magic is the NCCH signature at MagicOffset.
const Magic = "NCCH"

// ErrNotFound is returned when the requested executable is not present.
var ErrNotFound = errors.New("executable not found")

// Process9 locates the Process9 .code segment inside the ARM9 section.
type Process9 struct {
	// Offset and Size of the .code segment, relative to the ARM9 section.
	Offset int
	Size   int

	// MemAddr is the address the .code segment runs at.
	MemAddr uint32

	// Code is a view over the .code segment.
	Code *buffer.Buffer
}

// Process9SearchStart skips the ARM9 kernel; Process9 always follows it.
const Process9SearchStart = 0x15000

// LocateProcess9 finds the Process9 NCCH by the tail of its exheader name and
// derives the location of its .code segment from the NCCH and ExeFS headers.
func LocateProcess9(arm9 *buffer.Buffer) (*Process9, error) {
	match := arm9.SearchRange(Process9SearchStart, arm9.Len()-Process9SearchStart, []byte(process9NameTail))
	if match == buffer.NotFound {
		return nil, fmt.Errorf("Process9: %w", ErrNotFound)
	}

	base := match - process9NameTailSkip - ExHeaderNameOffset
	exefsOff, err := arm9.Uint32(base + ExeFSOffsetOffset)
	if err != nil {
		return nil, fmt.Errorf("failed to read Process9 ExeFS offset: %w", err)
	}
	exefsSize, err := arm9.Uint32(base + ExeFSSizeOffset)
	if err != nil {
		return nil, fmt.Errorf("failed to read Process9 ExeFS size: %w", err)
	}
	memAddr, err := arm9.Uint32(base + ExHeaderTextAddrOff)
	if err != nil {
		return nil, fmt.Errorf("failed to read Process9 text address: %w", err)
	}

	codeOff := base + int(exefsOff)*MediaUnit + ExeFSHeaderSize
	codeSize := int(exefsSize) * MediaUnit
	if codeOff < 0 || codeOff >= arm9.Len() {
		return nil, fmt.Errorf("Process9 code offset 0x%X outside ARM9 section", codeOff)
	}
	if codeSize > arm9.Len()-codeOff {
		codeSize = arm9.Len() - codeOff
	}

	code, err := arm9.Slice(codeOff, codeSize)
	if err != nil {
		return nil, err
	}

	return &Process9{
		Offset:  codeOff,
		Size:    codeSize,
		MemAddr: memAddr,
		Code:    code,
	}, nil
}

// FindModule walks the NCCHs packed in section 0 and returns the offset and size
// of the one whose exheader name starts with name (at most 8 bytes).
func FindModule(sec *buffer.Buffer, name string) (offset, size int, err error) {
	if len(name) == 0 || len(name) > 8 {
		return 0, 0, fmt.Errorf("invalid module name %q", name)
	}

	for off := 0; off < sec.Len(); {
		units, err := sec.Uint32(off + ContentSizeOffset)
		if err != nil {
			return 0, 0, fmt.Errorf("module %q: %w", name, ErrNotFound)
		}
		size := int(units) * MediaUnit
		if size == 0 {
			return 0, 0, fmt.Errorf("module %q: zero-sized NCCH at 0x%X: %w", name, off, ErrNotFound)
		}

		got, err := sec.Read(off+ExHeaderNameOffset, len(name))
		if err != nil {
			return 0, 0, fmt.Errorf("module %q: %w", name, ErrNotFound)
		}
		if string(got) == name {
			if size > sec.Len()-off {
				return 0, 0, fmt.Errorf("module %q at 0x%X overruns the section", name, off)
			}
			return off, size, nil
		}

		off += size
	}

	return 0, 0, fmt.Errorf("module %q: %w", name, ErrNotFound)
}

// ExeFSFile returns the named file from the plaintext ExeFS of the NCCH at the
// start of data. The returned slice shares storage with data.
func ExeFSFile(data []byte, name string) ([]byte, error) {
	buf := buffer.New(data)
	magic, err := buf.Read(MagicOffset, len(Magic))
	if err != nil || string(magic) != Magic {
		return nil, fmt.Errorf("not an NCCH")
	}
	exefsOff, err := buf.Uint32(ExeFSOffsetOffset)
	if err != nil {
		return nil, err
	}
	base := int(exefsOff) * MediaUnit

	for i := 0; i < ExeFSMaxFiles; i++ {
		entry := base + i*ExeFSFileEntrySize
		raw, err := buf.Read(entry, 8)
		if err != nil {
			return nil, fmt.Errorf("failed to read ExeFS entry %d: %w", i, err)
		}
		if string(bytes.TrimRight(raw, "\x00")) != name {
			continue
		}
		off, _ := buf.Uint32(entry + 8)
		size, _ := buf.Uint32(entry + 12)
		file, err := buf.Slice(base+ExeFSHeaderSize+int(off), int(size))
		if err != nil {
			return nil, fmt.Errorf("ExeFS file %q: %w", name, err)
		}
		return file.Bytes(), nil
	}
	return nil, fmt.Errorf("ExeFS file %q: %w", name, ErrNotFound)
}

// Module is one NCCH packed into a sysmodule section.
type Module struct {
	Name   string `json:"name" yaml:"name"`
	Offset int    `json:"offset" yaml:"offset"`
	Size   int    `json:"size" yaml:"size"`
}

// Modules lists the NCCHs packed back to back in sec. The walk stops at the
// first entry that is not an NCCH or does not fit.
func Modules(sec *buffer.Buffer) []Module {
	var out []Module
	for off := 0; off < sec.Len(); {
		magic, err := sec.Read(off+MagicOffset, len(Magic))
		if err != nil || string(magic) != Magic {
			break
		}
		units, err := sec.Uint32(off + ContentSizeOffset)
		size := int(units) * MediaUnit
		if err != nil || size == 0 || size > sec.Len()-off {
			break
		}
		name, err := sec.Read(off+ExHeaderNameOffset, 8)
		if err != nil {
			break
		}
		out = append(out, Module{Name: string(bytes.TrimRight(name, "\x00")), Offset: off, Size: size})
		off += size
	}
	return out
}
