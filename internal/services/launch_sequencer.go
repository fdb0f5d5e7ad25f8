package services

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-firmboot/internal/buffer"
	"github.com/deploymenttheory/go-firmboot/internal/interfaces"
	"github.com/deploymenttheory/go-firmboot/internal/parsers/ncch"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

// LoaderModuleName is the exheader name of the sysmodule replaced by the injector.
const LoaderModuleName = "loader"

// ErrJumpReturned is returned when the jumper gave control back. Host-side jumpers
// do this so the committed handoff can be inspected.
var ErrJumpReturned = errors.New("control transfer returned")

// LaunchSequencerImpl relocates the patched sections and hands control to them
type LaunchSequencerImpl struct {
	memory   interfaces.PhysicalMemory
	display  interfaces.Display
	jumper   interfaces.Jumper
	injector []byte
}

// NewLaunchSequencer creates a sequencer. injector may be empty, in which case
// section 0 is copied verbatim.
func NewLaunchSequencer(memory interfaces.PhysicalMemory, display interfaces.Display, jumper interfaces.Jumper, injector []byte) (*LaunchSequencerImpl, error) {
	if memory == nil {
		return nil, fmt.Errorf("physical memory cannot be nil")
	}
	if display == nil {
		return nil, fmt.Errorf("display cannot be nil")
	}
	if jumper == nil {
		return nil, fmt.Errorf("jumper cannot be nil")
	}
	return &LaunchSequencerImpl{memory: memory, display: display, jumper: jumper, injector: injector}, nil
}

// Launch copies every present section to its load address, commits the ARM11
// entry and relaunch record, and jumps to the ARM9 entry.
func (l *LaunchSequencerImpl) Launch(s *session.BootSession) (types.Never, error) {
	if s.Image == nil || s.Decision == nil {
		return types.Never{}, fmt.Errorf("session has no staged image or boot decision")
	}
	img, d := s.Image, s.Decision
	log := s.Logger()

	for _, n := range img.PresentSections() {
		hdr := img.SectionHeader(n)
		sec, err := img.Section(n)
		if err != nil {
			return types.Never{}, err
		}

		data := sec.Bytes()
		if n == types.SectionArm11Modules && d.FirmType == types.FirmTypeNative {
			data = l.spliceInjector(data, log)
		}

		if err := l.memory.WriteAt(data, hdr.Address); err != nil {
			return types.Never{}, fmt.Errorf("failed to copy section %d to 0x%08X: %w", n, hdr.Address, err)
		}
		log.WithFields(logrus.Fields{
			"section": n,
			"address": fmt.Sprintf("0x%08X", hdr.Address),
			"size":    len(data),
		}).Debug("section relocated")
	}

	slot := types.Arm11EntryRelaunch
	if d.Mode == types.BootModeFirst {
		l.display.Deinit()
		slot = types.Arm11EntryFirstBoot
	}

	var entry [4]byte
	binary.LittleEndian.PutUint32(entry[:], img.Arm11Entry())
	if err := l.memory.WriteAt(entry[:], slot); err != nil {
		return types.Never{}, fmt.Errorf("failed to set ARM11 entry: %w", err)
	}
	if err := l.memory.WriteAt([]byte{types.PackBootByte(d)}, types.RelaunchBootByteAddress()); err != nil {
		return types.Never{}, fmt.Errorf("failed to write relaunch record: %w", err)
	}

	h := types.Handoff{
		Arm9Entry:      img.Arm9Entry(),
		Arm11Entry:     img.Arm11Entry(),
		Arm11EntrySlot: slot,
	}
	log.WithFields(logrus.Fields{
		"arm9_entry":  fmt.Sprintf("0x%08X", h.Arm9Entry),
		"arm11_entry": fmt.Sprintf("0x%08X", h.Arm11Entry),
	}).Info("jumping to FIRM")

	never := l.jumper.Jump(h)
	return never, ErrJumpReturned
}

// spliceInjector replaces the loader sysmodule in section 0 with the injector.
func (l *LaunchSequencerImpl) spliceInjector(sec []byte, log logrus.FieldLogger) []byte {
	if len(l.injector) == 0 {
		log.Info("no injector payload, copying section 0 verbatim")
		return sec
	}

	off, size, err := ncch.FindModule(buffer.New(sec), LoaderModuleName)
	if err != nil {
		log.WithError(err).Info("loader module not found, copying section 0 verbatim")
		return sec
	}

	out := make([]byte, 0, len(sec)-size+len(l.injector))
	out = append(out, sec[:off]...)
	out = append(out, l.injector...)
	out = append(out, sec[off+size:]...)
	log.WithFields(logrus.Fields{
		"offset":        fmt.Sprintf("0x%X", off),
		"loader_size":   size,
		"injector_size": len(l.injector),
	}).Debug("injector spliced into section 0")
	return out
}
