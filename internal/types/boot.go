package types

import "fmt"

// FirmwareType identifies which FIRM is being booted.
type FirmwareType uint8

const (
	FirmTypeNative FirmwareType = iota // NATIVE_FIRM, the main firmware
	FirmTypeTWL                        // TWL_FIRM, DSi compatibility
	FirmTypeAGB                        // AGB_FIRM, GBA compatibility
	FirmTypeSafe                       // SAFE_FIRM, recovery firmware
)

// String returns the conventional FIRM name.
func (f FirmwareType) String() string {
	switch f {
	case FirmTypeNative:
		return "NATIVE_FIRM"
	case FirmTypeTWL:
		return "TWL_FIRM"
	case FirmTypeAGB:
		return "AGB_FIRM"
	case FirmTypeSafe:
		return "SAFE_FIRM"
	default:
		return fmt.Sprintf("FIRM(%d)", uint8(f))
	}
}

// Valid reports whether f is one of the four known firmware types.
func (f FirmwareType) Valid() bool {
	return f <= FirmTypeSafe
}

// IsLegacy reports whether f is one of the backwards-compatibility firmwares.
func (f FirmwareType) IsLegacy() bool {
	return f == FirmTypeTWL || f == FirmTypeAGB
}

// ConsoleFamily distinguishes the two hardware generations.
type ConsoleFamily uint8

const (
	ConsoleO3DS ConsoleFamily = iota
	ConsoleN3DS
)

func (c ConsoleFamily) String() string {
	if c == ConsoleN3DS {
		return "n3ds"
	}
	return "o3ds"
}

// ParseConsoleFamily converts "o3ds"/"n3ds" into a ConsoleFamily.
func ParseConsoleFamily(s string) (ConsoleFamily, error) {
	switch s {
	case "o3ds", "old", "ctr":
		return ConsoleO3DS, nil
	case "n3ds", "new", "ktr":
		return ConsoleN3DS, nil
	default:
		return ConsoleO3DS, fmt.Errorf("unknown console family %q", s)
	}
}

// NandType selects the physical NAND or one of the emulated NAND slots on the SD card.
type NandType uint8

const (
	NandSys  NandType = iota // physical NAND
	NandEmu1                 // first emuNAND slot
	NandEmu2                 // second emuNAND slot
)

func (n NandType) String() string {
	switch n {
	case NandSys:
		return "sysnand"
	case NandEmu1:
		return "emunand1"
	case NandEmu2:
		return "emunand2"
	default:
		return fmt.Sprintf("nand(%d)", uint8(n))
	}
}

// IsEmulated reports whether n refers to an emuNAND slot.
func (n NandType) IsEmulated() bool {
	return n != NandSys
}

// BootMode tells a cold boot apart from a firmware relaunch.
type BootMode uint8

const (
	BootModeFirst BootMode = iota
	BootModeRelaunch
)

func (b BootMode) String() string {
	if b == BootModeRelaunch {
		return "relaunch"
	}
	return "first-boot"
}

// ProtectionMode reports how the loader cooperates with a boot-ROM level
// protection device (arm9loaderhax) occupying the FIRM0/FIRM1 partitions.
type ProtectionMode uint8

const (
	ProtectionOff      ProtectionMode = iota
	ProtectionStandard                // protection device present or forced by preference
	ProtectionEnhanced                // safe-mode combo held on a protected boot
)

func (p ProtectionMode) String() string {
	switch p {
	case ProtectionOff:
		return "off"
	case ProtectionStandard:
		return "standard"
	case ProtectionEnhanced:
		return "enhanced"
	default:
		return fmt.Sprintf("protection(%d)", uint8(p))
	}
}

// Active reports whether any protection mode is in effect.
func (p ProtectionMode) Active() bool {
	return p != ProtectionOff
}

// BootDecision is the resolved plan for one boot. It is computed once and drives
// every later stage of the pipeline.
type BootDecision struct {
	Mode       BootMode       `json:"mode" yaml:"mode"`
	FirmType   FirmwareType   `json:"firm_type" yaml:"firm_type"`
	Nand       NandType       `json:"nand" yaml:"nand"`
	FirmSource NandType       `json:"firm_source" yaml:"firm_source"`
	Protection ProtectionMode `json:"protection" yaml:"protection"`

	// UpdatedSys is set when the physical NAND runs an up-to-date system version.
	UpdatedSys bool `json:"updated_sys" yaml:"updated_sys"`

	// Forced is set when the NAND and source were imposed by the boot environment
	// instead of chosen from buttons and preferences.
	Forced bool `json:"forced" yaml:"forced"`

	// NoForcing is persisted after quitting AGB_FIRM so the next MCU reboot does
	// not force the same options again.
	NoForcing bool `json:"no_forcing" yaml:"no_forcing"`

	// EmuOffset and EmuHeader locate the selected emuNAND on the SD card, in sectors.
	// Both are zero when no emuNAND is involved.
	EmuOffset uint32 `json:"emu_offset" yaml:"emu_offset"`
	EmuHeader uint32 `json:"emu_header" yaml:"emu_header"`
}

// UseExternalFirm reports whether an override FIRM on the SD card may replace the
// CTRNAND copy. This holds for NATIVE_FIRM when the source is the sysNAND of an
// updated system, or an emuNAND while the sysNAND is not updated.
func (d *BootDecision) UseExternalFirm() bool {
	return d.FirmType == FirmTypeNative && d.UpdatedSys == !d.FirmSource.IsEmulated()
}
