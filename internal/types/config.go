package types

// Boot Configuration Record
// The record is a little-endian 32-bit word persisted on the SD card. The low six
// bits belong to the loader; everything from bit 6 up belongs to the user and is
// carried through verbatim on every rewrite.

const (
	// ConfigRecordSize is the on-disk size of the configuration record.
	ConfigRecordSize = 4

	ConfigNandMask        uint32 = 0x3      // bits 0-1: NAND selector
	ConfigFirmSourceShift        = 2        // bit 2: FIRM source (0 = sysNAND, 1 = emuNAND)
	ConfigProtectionShift        = 3        // bit 3: protection mode active
	ConfigNoForcingShift         = 4        // bit 4: do not force the last boot options
	ConfigReservedShift          = 5        // bit 5: reserved
	ConfigPreferencesMask uint32 = ^uint32(0x3F)

	// ConfigPersistMask selects the bits compared when deciding whether a freshly
	// resolved record must be written back. The stored side is compared with
	// ConfigStoredMask so that a stored no-forcing flag always gets cleared.
	ConfigPersistMask uint32 = 0x2F
	ConfigStoredMask  uint32 = 0x3F

	// ConfigPreferencesShift is the first user preference bit.
	ConfigPreferencesShift = 6
)

// Preference identifies one of the single-bit user preferences the loader reads.
// Preference n lives at bit 6+n of the record.
type Preference uint

const (
	PrefAutobootSys       Preference = 0 // boot sysNAND unless L is held
	PrefUpdatedSys        Preference = 1 // sysNAND is running an updated system
	PrefForceProtection   Preference = 2 // behave as if a protection device were present
	PrefSecondEmuDefault  Preference = 3 // prefer the second emuNAND slot
	PrefShowAGBBootScreen Preference = 6 // keep the GBA boot screen in AGB_FIRM
	PrefSplashScreen      Preference = 7 // always show the splash screen
)

// BootConfig is the decoded configuration record.
type BootConfig struct {
	// NAND booted last time (bits 0-1).
	Nand NandType `json:"nand" yaml:"nand"`

	// FIRM source used last time (bit 2).
	EmuFirmSource bool `json:"emu_firm_source" yaml:"emu_firm_source"`

	// Protection mode was active last time (bit 3).
	ProtectionActive bool `json:"protection_active" yaml:"protection_active"`

	// Set after a forced boot so options are not forced twice in a row (bit 4).
	NoForcing bool `json:"no_forcing" yaml:"no_forcing"`

	// Reserved bit 5, preserved.
	Reserved bool `json:"reserved" yaml:"reserved"`

	// User preference bits 6-31, kept in place (the low six bits are always zero).
	Preferences uint32 `json:"preferences" yaml:"preferences"`
}

// Pref reports whether the given user preference bit is set.
func (c *BootConfig) Pref(p Preference) bool {
	return (c.Preferences>>(ConfigPreferencesShift+p))&1 != 0
}

// SetPref sets or clears the given user preference bit.
func (c *BootConfig) SetPref(p Preference, on bool) {
	bit := uint32(1) << (ConfigPreferencesShift + p)
	if on {
		c.Preferences |= bit
	} else {
		c.Preferences &^= bit
	}
}

// FirmSource returns the FIRM source as a NAND selector.
func (c *BootConfig) FirmSource() NandType {
	if c.EmuFirmSource {
		return NandEmu1
	}
	return NandSys
}
