package services

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-firmboot/internal/interfaces"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

// EmuNAND layouts found on SD cards.
const (
	LayoutRedNAND = "rednand"
	LayoutGateway = "gateway"
)

// Base sector of the second emuNAND slot, by physical NAND size.
const (
	secondSlotBaseSmall uint32 = 0x200000
	secondSlotBaseLarge uint32 = 0x400000
)

const ncsdMagicOffset = 0x100

// EmuNANDLocation is where an emuNAND lives on the SD card, in sectors.
type EmuNANDLocation struct {
	Slot   types.NandType `json:"slot" yaml:"slot"`
	Offset uint32         `json:"offset" yaml:"offset"`
	Header uint32         `json:"header" yaml:"header"`
	Layout string         `json:"layout" yaml:"layout"`
}

// EmuNANDLocatorImpl probes the SD card for emuNAND headers. It reuses a single
// sector buffer for every probe.
type EmuNANDLocatorImpl struct {
	sectors     interfaces.SectorReader
	nandSectors uint32
	log         logrus.FieldLogger
	sector      [types.SectorSize]byte
}

// NewEmuNANDLocator creates a locator for a console whose physical NAND holds
// nandSectors sectors
func NewEmuNANDLocator(sectors interfaces.SectorReader, nandSectors uint32, log logrus.FieldLogger) (*EmuNANDLocatorImpl, error) {
	if sectors == nil {
		return nil, fmt.Errorf("sector reader cannot be nil")
	}
	if nandSectors == 0 {
		return nil, fmt.Errorf("NAND size cannot be zero")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EmuNANDLocatorImpl{sectors: sectors, nandSectors: nandSectors, log: log}, nil
}

// SlotBase returns the first sector of the given emuNAND slot.
func (l *EmuNANDLocatorImpl) SlotBase(slot types.NandType) uint32 {
	if slot == types.NandEmu1 {
		return 0
	}
	if l.nandSectors > secondSlotBaseSmall {
		return secondSlotBaseLarge
	}
	return secondSlotBaseSmall
}

// Locate checks the RedNAND layout, whose header is the sector after the slot
// base, then the Gateway layout, whose header follows the NAND image.
func (l *EmuNANDLocatorImpl) Locate(slot types.NandType) (EmuNANDLocation, bool) {
	if !slot.IsEmulated() {
		return EmuNANDLocation{}, false
	}
	base := l.SlotBase(slot)

	if l.hasHeader(base + 1) {
		return EmuNANDLocation{Slot: slot, Offset: base + 1, Header: base + 1, Layout: LayoutRedNAND}, true
	}
	if l.hasHeader(base + l.nandSectors) {
		return EmuNANDLocation{Slot: slot, Offset: base, Header: base + l.nandSectors, Layout: LayoutGateway}, true
	}
	return EmuNANDLocation{}, false
}

// Resolve locates slot and falls back to lower slots when it is absent. The
// returned NAND is types.NandSys when no emuNAND exists at or below slot.
func (l *EmuNANDLocatorImpl) Resolve(slot types.NandType) (EmuNANDLocation, types.NandType) {
	for s := slot; s.IsEmulated(); s-- {
		if loc, ok := l.Locate(s); ok {
			return loc, s
		}
		l.log.WithField("slot", s.String()).Info("emuNAND not present")
	}
	return EmuNANDLocation{}, types.NandSys
}

func (l *EmuNANDLocatorImpl) hasHeader(sector uint32) bool {
	if err := l.sectors.ReadSectors(sector, l.sector[:]); err != nil {
		l.log.WithError(err).WithField("sector", sector).Debug("emuNAND header probe failed")
		return false
	}
	return binary.LittleEndian.Uint32(l.sector[ncsdMagicOffset:]) == types.NCSDMagic
}
