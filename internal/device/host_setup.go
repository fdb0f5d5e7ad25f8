package device

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-firmboot/internal/interfaces"
	"github.com/deploymenttheory/go-firmboot/internal/patches"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

// Payload file names inside the payload directory.
const (
	RebootPayloadFile   = "reboot.bin"
	EmuNANDPayloadFile  = "emunand.bin"
	InjectorPayloadFile = "injector.bin"
)

// Host is the set of host-side devices one boot runs against.
type Host struct {
	Straps   *Straps
	Buttons  FixedButtons
	BootEnv  *BootEnv
	Memory   *SimulatedMemory
	Jumper   *RecordingJumper
	Resetter *RecordingResetter
	Display  *RecordingDisplay

	SD      interfaces.FileStore
	Sectors interfaces.SectorReader
	NAND    *DirNandMounter

	Menu     *ScriptedMenu
	Payloads *PayloadLauncher
	Splash   *Splash
	ExeFS    PlainExeFS
	Arm9Bin  PlainArm9Bin

	closers []io.Closer
}

// OpenHost builds the devices described by cfg. The relaunch flag region is
// seeded from cfg.Relaunch.
func OpenHost(cfg *HostConfig, log logrus.FieldLogger) (*Host, error) {
	if cfg == nil {
		return nil, fmt.Errorf("host config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	h := &Host{
		Straps: &Straps{
			Console:     cfg.ConsoleFamily(),
			A9LHBoot:    cfg.Straps.A9LHBoot,
			Screens:     cfg.Straps.ScreensInitialized,
			NandSectorN: cfg.NandSectors,
		},
		Buttons:  FixedButtons(cfg.PressedButtons()),
		BootEnv:  NewBootEnv(cfg.BootEnv),
		Memory:   NewSimulatedMemory(),
		Jumper:   &RecordingJumper{},
		Resetter: &RecordingResetter{},
		Display:  &RecordingDisplay{},
		Sectors:  NullSectorReader{},
		NAND:     NewDirNandMounter(cfg.CTRNANDPath, cfg.EmuNANDPath, log),
		Menu:     NewScriptedMenu(cfg.Menu.Preferences, log),
	}

	if err := h.openSD(cfg, log); err != nil {
		h.Close()
		return nil, err
	}
	h.Payloads = NewPayloadLauncher(h.SD, h.Memory, log)
	h.Splash = NewSplash(h.SD)

	if err := SeedRelaunch(h.Memory, cfg.Relaunch); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func (h *Host) openSD(cfg *HostConfig, log logrus.FieldLogger) error {
	if cfg.SDImage != "" {
		sectors, err := OpenSectorReader(cfg.SDImage)
		if err != nil {
			return err
		}
		h.Sectors = sectors
		h.closers = append(h.closers, sectors)
		log.WithFields(logrus.Fields{
			"image":   cfg.SDImage,
			"sectors": sectors.Sectors(),
		}).Debug("SD image mapped")
	}

	store, closer, err := OpenSDStore(cfg)
	if err != nil {
		return err
	}
	h.SD = store
	if closer != nil {
		h.closers = append(h.closers, closer)
	}
	return nil
}

// OpenSDStore opens the SD card file tree described by cfg. A directory wins
// over an image when both are configured. The closer is nil for directories.
func OpenSDStore(cfg *HostConfig) (interfaces.FileStore, io.Closer, error) {
	if cfg.SDPath != "" && (cfg.SDImage == "" || isDir(cfg.SDPath)) {
		store, err := NewDirStore(cfg.SDPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open SD directory: %w", err)
		}
		return store, nil, nil
	}
	if cfg.SDImage == "" {
		return nil, nil, fmt.Errorf("neither sd_path nor sd_image is configured")
	}

	store, err := OpenImageStore(cfg.SDImage)
	if err != nil {
		return nil, nil, err
	}
	return store, store, nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// Close releases mapped and opened images
func (h *Host) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = append(errs, h.closers[i].Close())
	}
	h.closers = nil
	return errors.Join(errs...)
}

// SeedRelaunch writes the relaunch flag region for rc. A negative firm type
// leaves the region zeroed, which reads as a cold boot.
func SeedRelaunch(memory interfaces.PhysicalMemory, rc RelaunchConfig) error {
	region := make([]byte, types.RelaunchFlagSize)
	if rc.FirmType >= 0 {
		ft := types.FirmwareType(rc.FirmType)
		disc := byte('0') + byte(ft)
		if ft == types.FirmTypeSafe {
			disc = '0' + byte(types.FirmTypeNative)
			region[0x09] = '3'
		}
		region[0x05] = disc
		region[0x0C] = rc.BootByte
	}
	if err := memory.WriteAt(region, types.RelaunchFlagAddress); err != nil {
		return fmt.Errorf("failed to seed relaunch flag region: %w", err)
	}
	return nil
}

// LoadPayloads reads the patch payloads from dir. Missing files leave the
// corresponding payload empty.
func LoadPayloads(dir string) (patches.Payloads, error) {
	var p patches.Payloads
	for _, f := range []struct {
		name string
		dst  *[]byte
	}{
		{RebootPayloadFile, &p.Reboot},
		{EmuNANDPayloadFile, &p.EmuNAND},
		{InjectorPayloadFile, &p.Injector},
	} {
		data, err := os.ReadFile(filepath.Join(dir, f.name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return p, fmt.Errorf("failed to read payload %s: %w", f.name, err)
		}
		*f.dst = data
	}
	return p, nil
}
