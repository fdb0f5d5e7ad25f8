package device

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-firmboot/internal/interfaces"
	"github.com/deploymenttheory/go-firmboot/internal/parsers/ncch"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

// Straps reports the strap values taken from the host configuration.
type Straps struct {
	Console     types.ConsoleFamily
	A9LHBoot    bool
	Screens     bool
	NandSectorN uint32
}

var _ interfaces.StrapProvider = (*Straps)(nil)

func (s *Straps) ConsoleFamily() types.ConsoleFamily { return s.Console }
func (s *Straps) ProtectionDevicePresent() bool     { return s.A9LHBoot }
func (s *Straps) ScreensInitialized() bool          { return s.Screens }
func (s *Straps) NandSectors() uint32               { return s.NandSectorN }

// FixedButtons always reports the same buttons.
type FixedButtons types.Buttons

func (b FixedButtons) Pressed() types.Buttons { return types.Buttons(b) }

// BootEnv is a CFG_BOOTENV register holding a configured value.
type BootEnv struct {
	mu    sync.Mutex
	value uint32
}

// NewBootEnv returns a register initialised to value
func NewBootEnv(value uint32) *BootEnv {
	return &BootEnv{value: value}
}

func (e *BootEnv) BootEnv() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

func (e *BootEnv) ClearBootEnv() {
	e.mu.Lock()
	e.value = 0
	e.mu.Unlock()
}

// ScriptedMenu stands in for the interactive configuration menu. It keeps an
// existing record and creates a fresh one with the configured preferences.
type ScriptedMenu struct {
	Preferences uint32
	log         logrus.FieldLogger
}

// NewScriptedMenu creates a menu writing preferences into new records
func NewScriptedMenu(preferences uint32, log logrus.FieldLogger) *ScriptedMenu {
	return &ScriptedMenu{Preferences: preferences & types.ConfigPreferencesMask, log: log}
}

func (m *ScriptedMenu) Configure(cfg *types.BootConfig) (*types.BootConfig, error) {
	if cfg == nil {
		m.log.WithField("preferences", fmt.Sprintf("0x%08X", m.Preferences)).Info("creating configuration")
		return &types.BootConfig{Preferences: m.Preferences}, nil
	}
	out := *cfg
	return &out, nil
}

// PayloadLoadAddress is where chainloaded payloads are copied.
const PayloadLoadAddress uint32 = 0x24F00000

// PayloadDir is the payload directory on the SD card.
const PayloadDir = "/luma/payloads"

// PayloadLauncher loads the payload selected by the held buttons from the SD
// card into memory. Launched records the last payload path.
type PayloadLauncher struct {
	sd       interfaces.FileStore
	memory   interfaces.PhysicalMemory
	log      logrus.FieldLogger
	Launched string
}

// NewPayloadLauncher creates a launcher reading from sd and loading into memory
func NewPayloadLauncher(sd interfaces.FileStore, memory interfaces.PhysicalMemory, log logrus.FieldLogger) *PayloadLauncher {
	return &PayloadLauncher{sd: sd, memory: memory, log: log}
}

// PayloadName maps held buttons to a payload file name, without extension.
func PayloadName(pressed types.Buttons) string {
	if pressed.Held(types.ButtonL1) {
		for _, b := range []types.Buttons{types.ButtonR1, types.ButtonA, types.ButtonSelect} {
			if pressed.Held(b) {
				return "l_" + strings.ToLower(b.String())
			}
		}
	}
	for _, b := range []types.Buttons{
		types.ButtonLeft, types.ButtonRight, types.ButtonUp, types.ButtonDown,
		types.ButtonStart, types.ButtonX, types.ButtonY,
	} {
		if pressed.Held(b) {
			return strings.ToLower(b.String())
		}
	}
	return "default"
}

func (p *PayloadLauncher) LaunchPayload(pressed types.Buttons) (bool, error) {
	for _, name := range []string{PayloadName(pressed), "default"} {
		file := path.Join(PayloadDir, name+".bin")
		data, err := p.sd.ReadFile(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to read payload %s: %w", file, err)
		}
		if err := p.memory.WriteAt(data, PayloadLoadAddress); err != nil {
			return false, fmt.Errorf("failed to load payload %s: %w", file, err)
		}
		p.Launched = file
		p.log.WithFields(logrus.Fields{"path": file, "size": len(data)}).Info("payload loaded")
		return true, nil
	}
	return false, nil
}

// SplashPath is the top-screen splash image on the SD card.
const SplashPath = "/luma/splash.bin"

// Splash records whether a splash image was available.
type Splash struct {
	sd    interfaces.FileStore
	Shown bool
}

// NewSplash creates a splash screen reading from sd
func NewSplash(sd interfaces.FileStore) *Splash {
	return &Splash{sd: sd}
}

func (s *Splash) ShowSplash() bool {
	if _, err := s.sd.ReadFile(SplashPath); err != nil {
		return false
	}
	s.Shown = true
	return true
}

// firmExeFSName is the ExeFS file holding the FIRM inside a FIRM title.
const firmExeFSName = ".firm"

var firmMagic = []byte("FIRM")

// PlainExeFS extracts the FIRM from decrypted title contents. Data that is
// already a FIRM is returned unchanged.
type PlainExeFS struct{}

func (PlainExeFS) DecryptExeFS(image []byte) ([]byte, error) {
	if bytes.HasPrefix(image, firmMagic) {
		return image, nil
	}
	return ncch.ExeFSFile(image, firmExeFSName)
}

// PlainArm9Bin accepts ARM9 sections whose arm9bin was decrypted offline.
type PlainArm9Bin struct{}

func (PlainArm9Bin) DecryptArm9Bin(section []byte, variant int) error {
	return nil
}

// RecordingJumper keeps the handoff instead of transferring control.
type RecordingJumper struct {
	Handoff *types.Handoff
}

func (j *RecordingJumper) Jump(h types.Handoff) types.Never {
	j.Handoff = &h
	return types.Never{Handoff: h}
}

// RecordingResetter counts reset requests.
type RecordingResetter struct {
	Resets int
}

func (r *RecordingResetter) Reset() { r.Resets++ }

// RecordingDisplay records display teardown.
type RecordingDisplay struct {
	Deinitialized bool
}

func (d *RecordingDisplay) Deinit() { d.Deinitialized = true }

// DirNandMounter serves CTRNAND trees from host directories. The sysNAND
// tree is at sysRoot; emuNAND trees are emuRoot/emunand1 and emuRoot/emunand2.
type DirNandMounter struct {
	sysRoot string
	emuRoot string
	log     logrus.FieldLogger
}

// NewDirNandMounter creates a mounter over the two roots
func NewDirNandMounter(sysRoot, emuRoot string, log logrus.FieldLogger) *DirNandMounter {
	return &DirNandMounter{sysRoot: sysRoot, emuRoot: emuRoot, log: log}
}

func (m *DirNandMounter) MountCTRNAND(nand types.NandType, emuOffset uint32) (interfaces.FileStore, error) {
	root := m.sysRoot
	if nand.IsEmulated() {
		root = path.Join(m.emuRoot, nand.String())
	}
	m.log.WithFields(logrus.Fields{
		"nand":       nand.String(),
		"emu_offset": emuOffset,
		"root":       root,
	}).Debug("mounting CTRNAND")
	return NewDirStore(root)
}
