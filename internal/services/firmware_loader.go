package services

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-firmboot/internal/interfaces"
	"github.com/deploymenttheory/go-firmboot/internal/parsers/firm"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

const (
	// OverrideFirmPath is the optional NATIVE_FIRM replacement on the SD card.
	OverrideFirmPath = "/luma/firmware.bin"

	// FirmTitleRoot holds the FIRM titles on CTRNAND.
	FirmTitleRoot = "/title/00040138"

	firmContentDir = "content"
	firmContentExt = ".app"
)

// firmTitleDirs is indexed by firmware type, then console family.
var firmTitleDirs = [4][2]string{
	types.FirmTypeNative: {"00000002", "20000002"},
	types.FirmTypeTWL:    {"00000102", "20000102"},
	types.FirmTypeAGB:    {"00000202", "20000202"},
	types.FirmTypeSafe:   {"00000003", "20000003"},
}

// FirmTitleDir returns the CTRNAND content directory for a firmware type on a console.
func FirmTitleDir(ft types.FirmwareType, console types.ConsoleFamily) (string, error) {
	if !ft.Valid() {
		return "", fmt.Errorf("invalid firmware type %d", ft)
	}
	return path.Join(FirmTitleRoot, firmTitleDirs[ft][console], firmContentDir), nil
}

// ConsoleMismatchError reports an override FIRM built for the other console family.
type ConsoleMismatchError struct {
	Marker   uint32
	Expected uint32
}

func (e *ConsoleMismatchError) Error() string {
	return fmt.Sprintf("FIRM ARM9 load address marker 0x%02X does not match console marker 0x%02X", e.Marker, e.Expected)
}

// FirmwareLoaderImpl stages the FIRM selected by the boot decision
type FirmwareLoaderImpl struct {
	sd      interfaces.FileStore
	nand    interfaces.NandMounter
	exefs   interfaces.ExeFSDecryptor
	console types.ConsoleFamily
}

// NewFirmwareLoader creates a loader for the given console family
func NewFirmwareLoader(sd interfaces.FileStore, nand interfaces.NandMounter, exefs interfaces.ExeFSDecryptor, console types.ConsoleFamily) (*FirmwareLoaderImpl, error) {
	if sd == nil {
		return nil, fmt.Errorf("SD file store cannot be nil")
	}
	if nand == nil {
		return nil, fmt.Errorf("NAND mounter cannot be nil")
	}
	if exefs == nil {
		return nil, fmt.Errorf("ExeFS decryptor cannot be nil")
	}
	return &FirmwareLoaderImpl{sd: sd, nand: nand, exefs: exefs, console: console}, nil
}

// Load stages the FIRM for s.Decision into s.Image. The SD override is tried
// first when the decision allows it; any failure there falls back to CTRNAND.
func (l *FirmwareLoaderImpl) Load(s *session.BootSession) (*firm.Image, error) {
	if s.Decision == nil {
		return nil, fmt.Errorf("boot decision cannot be nil")
	}
	log := s.Logger()

	if s.Decision.UseExternalFirm() {
		img, err := l.loadOverride()
		if err == nil {
			log.WithField("path", OverrideFirmPath).Info("using override FIRM")
			s.Image = img
			s.ExternalFirm = true
			return img, nil
		}
		entry := log.WithError(err).WithField("path", OverrideFirmPath)
		if errors.Is(err, fs.ErrNotExist) {
			entry.Debug("no override FIRM")
		} else {
			entry.Warn("override FIRM rejected, loading from CTRNAND")
		}
	}

	img, err := l.loadFromNAND(s.Decision, log)
	if err != nil {
		return nil, err
	}
	s.Image = img
	s.ExternalFirm = false
	return img, nil
}

func (l *FirmwareLoaderImpl) loadOverride() (*firm.Image, error) {
	data, err := l.sd.ReadFile(OverrideFirmPath)
	if err != nil {
		return nil, err
	}
	img, err := parseStaged(data)
	if err != nil {
		return nil, err
	}
	if marker, want := img.ConsoleMarker(), types.Arm9AddressMarker(l.console); marker != want {
		return nil, &ConsoleMismatchError{Marker: marker, Expected: want}
	}
	return img, nil
}

func (l *FirmwareLoaderImpl) loadFromNAND(d *types.BootDecision, log logrus.FieldLogger) (*firm.Image, error) {
	dir, err := FirmTitleDir(d.FirmType, l.console)
	if err != nil {
		return nil, err
	}

	var emuOffset uint32
	if d.FirmSource.IsEmulated() {
		emuOffset = d.EmuOffset
	}
	ctrnand, err := l.nand.MountCTRNAND(d.FirmSource, emuOffset)
	if err != nil {
		return nil, fmt.Errorf("failed to mount CTRNAND of %s: %w", d.FirmSource, err)
	}

	name, err := lowestContent(ctrnand, dir)
	if err != nil {
		return nil, err
	}
	file := path.Join(dir, name)

	data, err := ctrnand.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	data, err = l.exefs.DecryptExeFS(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s: %w", file, err)
	}

	img, err := parseStaged(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	log.WithFields(logrus.Fields{"path": file, "size": len(data)}).Info("loaded FIRM from CTRNAND")
	return img, nil
}

// lowestContent returns the .app with the lowest content ID in dir.
func lowestContent(store interfaces.FileStore, dir string) (string, error) {
	names, err := store.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", dir, err)
	}

	type content struct {
		name string
		id   uint64
	}
	var apps []content
	for _, n := range names {
		if !strings.EqualFold(path.Ext(n), firmContentExt) {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(n, path.Ext(n)), 16, 32)
		if err != nil {
			continue
		}
		apps = append(apps, content{name: n, id: id})
	}
	if len(apps) == 0 {
		return "", fmt.Errorf("no FIRM content in %s: %w", dir, fs.ErrNotExist)
	}

	sort.Slice(apps, func(i, j int) bool { return apps[i].id < apps[j].id })
	return apps[0].name, nil
}

// parseStaged copies data into a staging-sized buffer and parses it.
func parseStaged(data []byte) (*firm.Image, error) {
	if len(data) > types.FirmMaxSize {
		return nil, fmt.Errorf("FIRM of %d bytes exceeds the 0x%X byte staging area", len(data), types.FirmMaxSize)
	}
	staged := make([]byte, len(data))
	copy(staged, data)
	return firm.Parse(staged)
}
