package types

import (
	"fmt"
	"sort"
	"strings"
)

// Fixed Addresses

const (
	// Arm11EntryFirstBoot is where the ARM11 bootrom stub waits for its entry point on a cold boot.
	Arm11EntryFirstBoot uint32 = 0x1FFFFFF8

	// Arm11EntryRelaunch is the entry slot polled by the ARM11 kernel during a firmlaunch.
	Arm11EntryRelaunch uint32 = 0x1FFFFFFC

	// Arm9EntryNativeNoLoader is the ARM9 entry past the N3DS arm9loader in NATIVE_FIRM and SAFE_FIRM.
	Arm9EntryNativeNoLoader uint32 = 0x0801B01C

	// Arm9EntryLegacyNoLoader is the ARM9 entry past the N3DS arm9loader in TWL_FIRM and AGB_FIRM.
	Arm9EntryLegacyNoLoader uint32 = 0x0801301C

	// Arm9VectorBase is the ARM9 exception vector area the kernel installs its handlers into.
	Arm9VectorBase uint32 = 0x08000000

	// RelaunchFlagAddress is the small region the firmlaunch stub leaves behind.
	RelaunchFlagAddress uint32 = 0x23F00000

	// RelaunchFlagSize covers every byte of the region the loader reads or writes.
	RelaunchFlagSize = 0x10

	// BootEnvQuitAGB is the CFG_BOOTENV value left behind when AGB_FIRM exits.
	BootEnvQuitAGB uint32 = 7

	// Arm9 section load-address markers, (address >> 8) & 0xFF, used to match an
	// override FIRM against the console it is about to run on.
	Arm9AddressMarkerO3DS = 0x68
	Arm9AddressMarkerN3DS = 0x60

	// SectorSize is the SD/NAND sector size.
	SectorSize = 0x200

	// NCSDMagic is "NCSD" read as a little-endian word at byte 0x100 of a NAND header.
	NCSDMagic uint32 = 0x4453434E
)

// Arm9AddressMarker returns the expected ARM9 load-address marker for the console.
func Arm9AddressMarker(c ConsoleFamily) uint32 {
	if c == ConsoleN3DS {
		return Arm9AddressMarkerN3DS
	}
	return Arm9AddressMarkerO3DS
}

// Relaunch Flag Region
// Byte 5 is zero on a cold boot and '0'+firmType after a firmlaunch. Byte 9 is '3'
// when SAFE_FIRM was requested. Byte 0xC carries the packed boot options the loader
// committed before its previous jump, in the layout of the low configuration bits.

const (
	relaunchDiscriminantOffset = 0x05
	relaunchSafeOffset         = 0x09
	relaunchBootByteOffset     = 0x0C
)

// RelaunchRecord is the compact boot state carried across a firmlaunch.
type RelaunchRecord struct {
	FirmType         FirmwareType
	Nand             NandType
	EmuFirmSource    bool
	ProtectionActive bool
}

// DecodeRelaunchRecord parses the relaunch flag region. It returns ok=false on a cold boot.
func DecodeRelaunchRecord(region []byte) (rec RelaunchRecord, ok bool, err error) {
	if len(region) < RelaunchFlagSize {
		return rec, false, fmt.Errorf("relaunch region too small: %d bytes", len(region))
	}

	disc := region[relaunchDiscriminantOffset]
	if disc == 0 {
		return rec, false, nil
	}

	if region[relaunchSafeOffset] == '3' {
		rec.FirmType = FirmTypeSafe
	} else {
		rec.FirmType = FirmwareType(disc - '0')
	}
	if disc < '0' || !rec.FirmType.Valid() {
		return rec, true, fmt.Errorf("invalid relaunch firmware discriminant 0x%02X", disc)
	}

	b := uint32(region[relaunchBootByteOffset])
	rec.Nand = NandType(b & ConfigNandMask)
	rec.EmuFirmSource = (b>>ConfigFirmSourceShift)&1 != 0
	rec.ProtectionActive = (b>>ConfigProtectionShift)&1 != 0

	return rec, true, nil
}

// PackBootByte packs the decision fields a later relaunch needs into one byte.
func PackBootByte(d *BootDecision) byte {
	b := byte(d.Nand) & byte(ConfigNandMask)
	if d.FirmSource.IsEmulated() {
		b |= 1 << ConfigFirmSourceShift
	}
	if d.Protection.Active() {
		b |= 1 << ConfigProtectionShift
	}
	return b
}

// RelaunchBootByteAddress is the physical address of the packed boot byte.
func RelaunchBootByteAddress() uint32 {
	return RelaunchFlagAddress + relaunchBootByteOffset
}

// Buttons

// Buttons is the HID_PAD bitmask. A set bit means the button is held.
type Buttons uint32

const (
	ButtonA      Buttons = 1 << 0
	ButtonB      Buttons = 1 << 1
	ButtonSelect Buttons = 1 << 2
	ButtonStart  Buttons = 1 << 3
	ButtonRight  Buttons = 1 << 4
	ButtonLeft   Buttons = 1 << 5
	ButtonUp     Buttons = 1 << 6
	ButtonDown   Buttons = 1 << 7
	ButtonR1     Buttons = 1 << 8
	ButtonL1     Buttons = 1 << 9
	ButtonX      Buttons = 1 << 10
	ButtonY      Buttons = 1 << 11
)

// Button combinations with a fixed meaning during boot.
const (
	SafeModeCombo        = ButtonR1 | ButtonL1 | ButtonA | ButtonUp
	SinglePayloadButtons = ButtonLeft | ButtonRight | ButtonUp | ButtonDown | ButtonStart | ButtonX | ButtonY
	LPayloadButtons      = ButtonR1 | ButtonA | ButtonSelect
	OverrideButtons      = SinglePayloadButtons | ButtonA | ButtonL1 | ButtonR1
)

var buttonNames = map[string]Buttons{
	"A":      ButtonA,
	"B":      ButtonB,
	"SELECT": ButtonSelect,
	"START":  ButtonStart,
	"RIGHT":  ButtonRight,
	"LEFT":   ButtonLeft,
	"UP":     ButtonUp,
	"DOWN":   ButtonDown,
	"R":      ButtonR1,
	"L":      ButtonL1,
	"X":      ButtonX,
	"Y":      ButtonY,
}

// Held reports whether every button in mask is held.
func (b Buttons) Held(mask Buttons) bool {
	return b&mask == mask
}

// Any reports whether at least one button in mask is held.
func (b Buttons) Any(mask Buttons) bool {
	return b&mask != 0
}

// String lists the held buttons, e.g. "L+R+A".
func (b Buttons) String() string {
	var names []string
	for name, bit := range buttonNames {
		if b&bit != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	sort.Strings(names)
	return strings.Join(names, "+")
}

// ParseButtons converts button names ("L", "r", "select") into a mask.
func ParseButtons(names []string) (Buttons, error) {
	var b Buttons
	for _, n := range names {
		bit, ok := buttonNames[strings.ToUpper(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("unknown button %q", n)
		}
		b |= bit
	}
	return b, nil
}

// Handoff

// Handoff is the architectural state committed to fixed memory locations before
// control leaves the loader.
type Handoff struct {
	Arm9Entry      uint32 `json:"arm9_entry" yaml:"arm9_entry"`
	Arm11Entry     uint32 `json:"arm11_entry" yaml:"arm11_entry"`
	Arm11EntrySlot uint32 `json:"arm11_entry_slot" yaml:"arm11_entry_slot"`
}

// Never is the result of a control transfer. On hardware no Never value is ever
// observed by the loader because the jump does not come back; host-side jumpers
// return one so the committed handoff can be inspected.
type Never struct {
	Handoff Handoff
}
