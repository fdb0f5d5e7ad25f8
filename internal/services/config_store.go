package services

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"

	"github.com/deploymenttheory/go-firmboot/internal/interfaces"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

// DefaultConfigPath is the location of the configuration record on the SD card.
const DefaultConfigPath = "/luma/config.bin"

// ErrConfigAbsent is returned by ConfigStoreImpl.Load when no record exists.
var ErrConfigAbsent = errors.New("configuration record absent")

// EncodeConfigWord packs cfg into its 32-bit on-disk value.
func EncodeConfigWord(cfg *types.BootConfig) uint32 {
	w := uint32(cfg.Nand) & types.ConfigNandMask
	if cfg.EmuFirmSource {
		w |= 1 << types.ConfigFirmSourceShift
	}
	if cfg.ProtectionActive {
		w |= 1 << types.ConfigProtectionShift
	}
	if cfg.NoForcing {
		w |= 1 << types.ConfigNoForcingShift
	}
	if cfg.Reserved {
		w |= 1 << types.ConfigReservedShift
	}
	return w | cfg.Preferences&types.ConfigPreferencesMask
}

// DecodeConfigWord unpacks a 32-bit configuration value.
func DecodeConfigWord(w uint32) *types.BootConfig {
	return &types.BootConfig{
		Nand:             types.NandType(w & types.ConfigNandMask),
		EmuFirmSource:    (w>>types.ConfigFirmSourceShift)&1 != 0,
		ProtectionActive: (w>>types.ConfigProtectionShift)&1 != 0,
		NoForcing:        (w>>types.ConfigNoForcingShift)&1 != 0,
		Reserved:         (w>>types.ConfigReservedShift)&1 != 0,
		Preferences:      w & types.ConfigPreferencesMask,
	}
}

// EncodeConfig returns the on-disk bytes of cfg.
func EncodeConfig(cfg *types.BootConfig) []byte {
	raw := make([]byte, types.ConfigRecordSize)
	binary.LittleEndian.PutUint32(raw, EncodeConfigWord(cfg))
	return raw
}

// DecodeConfig parses an on-disk record. A short record is zero-extended; bytes
// past the record size are ignored.
func DecodeConfig(raw []byte) (*types.BootConfig, error) {
	if len(raw) == 0 {
		return nil, ErrConfigAbsent
	}
	var buf [types.ConfigRecordSize]byte
	copy(buf[:], raw)
	return DecodeConfigWord(binary.LittleEndian.Uint32(buf[:])), nil
}

// ConfigStoreImpl reads and writes the configuration record on a file store
type ConfigStoreImpl struct {
	fs   interfaces.FileStore
	path string
}

// NewConfigStore creates a ConfigStoreImpl for the record at path
func NewConfigStore(store interfaces.FileStore, path string) (*ConfigStoreImpl, error) {
	if store == nil {
		return nil, fmt.Errorf("file store cannot be nil")
	}
	if path == "" {
		path = DefaultConfigPath
	}
	return &ConfigStoreImpl{fs: store, path: path}, nil
}

// Path returns the location of the record
func (s *ConfigStoreImpl) Path() string {
	return s.path
}

// Load reads the record. A missing or empty file yields ErrConfigAbsent.
func (s *ConfigStoreImpl) Load() (*types.BootConfig, error) {
	raw, err := s.fs.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrConfigAbsent
		}
		return nil, fmt.Errorf("failed to read configuration %s: %w", s.path, err)
	}
	return DecodeConfig(raw)
}

// Save writes the whole record in one call.
func (s *ConfigStoreImpl) Save(cfg *types.BootConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := s.fs.WriteFile(s.path, EncodeConfig(cfg)); err != nil {
		return fmt.Errorf("failed to write configuration %s: %w", s.path, err)
	}
	return nil
}
