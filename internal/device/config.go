package device

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/deploymenttheory/go-firmboot/internal/types"
)

// DefaultNandSectors is the size of an O3DS physical NAND in sectors.
const DefaultNandSectors = 0x1D7800

// HostConfig describes the host-side devices a boot runs against
type HostConfig struct {
	// SDPath is a directory holding the SD card tree.
	SDPath string `mapstructure:"sd_path"`

	// SDImage is a raw SD card image. When set it backs both the FAT32 file
	// store (unless SDPath is also set) and the raw sector reads.
	SDImage string `mapstructure:"sd_image"`

	// CTRNANDPath holds the sysNAND CTRNAND tree. EmuNANDPath holds one
	// CTRNAND tree per emuNAND slot, named emunand1 and emunand2.
	CTRNANDPath string `mapstructure:"ctrnand_path"`
	EmuNANDPath string `mapstructure:"emunand_path"`

	// PayloadDir holds reboot.bin, emunand.bin and injector.bin.
	PayloadDir string `mapstructure:"payload_dir"`
	OutputDir  string `mapstructure:"output_dir"`
	ConfigPath string `mapstructure:"config_path"`

	Console     string `mapstructure:"console"`
	NandSectors uint32 `mapstructure:"nand_sectors"`
	DevMode     bool   `mapstructure:"dev_mode"`

	Straps   StrapConfig    `mapstructure:"straps"`
	Buttons  []string       `mapstructure:"buttons"`
	BootEnv  uint32         `mapstructure:"boot_env"`
	Relaunch RelaunchConfig `mapstructure:"relaunch"`
	Menu     MenuConfig     `mapstructure:"menu"`
}

// StrapConfig holds the sampled hardware straps
type StrapConfig struct {
	A9LHBoot           bool `mapstructure:"a9lh_boot"`
	ScreensInitialized bool `mapstructure:"screens_initialized"`
}

// RelaunchConfig seeds the relaunch flag region. FirmType below zero means a cold boot.
type RelaunchConfig struct {
	FirmType int   `mapstructure:"firm_type"`
	BootByte uint8 `mapstructure:"boot_byte"`
}

// MenuConfig scripts the configuration menu. Preferences is the bit 6-31 word
// the menu writes when no record exists yet.
type MenuConfig struct {
	Preferences uint32 `mapstructure:"preferences"`
}

// LoadHostConfig loads the host configuration using Viper. configFile may be
// empty, in which case the usual search paths are tried.
func LoadHostConfig(configFile string) (*HostConfig, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("firmboot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.firmboot")
		v.AddConfigPath("/etc/firmboot")
	}

	setHostDefaults(v)

	v.SetEnvPrefix("FIRMBOOT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	var cfg HostConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setHostDefaults(v *viper.Viper) {
	v.SetDefault("sd_path", "./sd")
	v.SetDefault("sd_image", "")
	v.SetDefault("ctrnand_path", "./ctrnand")
	v.SetDefault("emunand_path", "./emunand")
	v.SetDefault("payload_dir", "./payloads")
	v.SetDefault("output_dir", "./out")
	v.SetDefault("config_path", "/luma/config.bin")
	v.SetDefault("console", "o3ds")
	v.SetDefault("nand_sectors", DefaultNandSectors)
	v.SetDefault("dev_mode", false)
	v.SetDefault("straps.a9lh_boot", false)
	v.SetDefault("straps.screens_initialized", false)
	v.SetDefault("buttons", []string{})
	v.SetDefault("boot_env", 0)
	v.SetDefault("relaunch.firm_type", -1)
	v.SetDefault("relaunch.boot_byte", 0)
	v.SetDefault("menu.preferences", 0)
}

// Validate checks the values that cannot be defaulted
func (c *HostConfig) Validate() error {
	if _, err := types.ParseConsoleFamily(c.Console); err != nil {
		return err
	}
	if _, err := types.ParseButtons(c.Buttons); err != nil {
		return err
	}
	if c.NandSectors == 0 {
		return fmt.Errorf("nand_sectors cannot be zero")
	}
	if c.Relaunch.FirmType > int(types.FirmTypeSafe) {
		return fmt.Errorf("relaunch.firm_type %d out of range", c.Relaunch.FirmType)
	}
	return nil
}

// ConsoleFamily returns the parsed console family
func (c *HostConfig) ConsoleFamily() types.ConsoleFamily {
	f, _ := types.ParseConsoleFamily(c.Console)
	return f
}

// PressedButtons returns the parsed button mask
func (c *HostConfig) PressedButtons() types.Buttons {
	b, _ := types.ParseButtons(c.Buttons)
	return b
}
