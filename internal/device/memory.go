package device

import (
	"fmt"
	"sort"
	"sync"

	"github.com/deploymenttheory/go-firmboot/internal/interfaces"
)

const pageSize = 0x1000

// SimulatedMemory is a sparse physical address space. Pages are allocated on
// first write; reads of untouched memory return zeroes.
type SimulatedMemory struct {
	mu    sync.RWMutex
	pages map[uint32][]byte
}

var _ interfaces.PhysicalMemory = (*SimulatedMemory)(nil)

// NewSimulatedMemory returns an empty address space
func NewSimulatedMemory() *SimulatedMemory {
	return &SimulatedMemory{pages: make(map[uint32][]byte)}
}

// ReadAt fills p from physical address addr
func (m *SimulatedMemory) ReadAt(p []byte, addr uint32) error {
	if err := checkRange(addr, len(p)); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for done := 0; done < len(p); {
		a := addr + uint32(done)
		base, off := a&^(pageSize-1), int(a&(pageSize-1))
		n := min(pageSize-off, len(p)-done)
		if page, ok := m.pages[base]; ok {
			copy(p[done:done+n], page[off:])
		} else {
			clear(p[done : done+n])
		}
		done += n
	}
	return nil
}

// WriteAt copies p to physical address addr
func (m *SimulatedMemory) WriteAt(p []byte, addr uint32) error {
	if err := checkRange(addr, len(p)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for done := 0; done < len(p); {
		a := addr + uint32(done)
		base, off := a&^(pageSize-1), int(a&(pageSize-1))
		page, ok := m.pages[base]
		if !ok {
			page = make([]byte, pageSize)
			m.pages[base] = page
		}
		done += copy(page[off:], p[done:])
	}
	return nil
}

// Region is a run of contiguous allocated pages.
type Region struct {
	Address uint32 `json:"address" yaml:"address"`
	Size    uint32 `json:"size" yaml:"size"`
}

// Regions lists the allocated address ranges in ascending order
func (m *SimulatedMemory) Regions() []Region {
	m.mu.RLock()
	bases := make([]uint32, 0, len(m.pages))
	for b := range m.pages {
		bases = append(bases, b)
	}
	m.mu.RUnlock()
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })

	var out []Region
	for _, b := range bases {
		if n := len(out); n > 0 && out[n-1].Address+out[n-1].Size == b {
			out[n-1].Size += pageSize
			continue
		}
		out = append(out, Region{Address: b, Size: pageSize})
	}
	return out
}

func checkRange(addr uint32, n int) error {
	if uint64(addr)+uint64(n) > 1<<32 {
		return fmt.Errorf("access of %d bytes at 0x%08X wraps the address space", n, addr)
	}
	return nil
}
