package patches

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-firmboot/internal/interfaces"
	"github.com/deploymenttheory/go-firmboot/internal/parsers/ncch"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

// Payloads are the binaries the engine copies into the image.
type Payloads struct {
	// Reboot replaces the firmlaunch routine and contains the "OPEN" placeholder.
	Reboot []byte `json:"-" yaml:"-"`

	// EmuNAND is the SD-backed NAND driver with "NAND", "NCSD" and "SDMC" placeholders.
	EmuNAND []byte `json:"-" yaml:"-"`

	// Injector replaces the loader sysmodule in section 0 at launch.
	Injector []byte `json:"-" yaml:"-"`
}

// Engine applies the patch set that matches the resolved boot decision.
type Engine struct {
	payloads  Payloads
	decryptor interfaces.Arm9LoaderDecryptor
	legacy    *LegacyTable
}

// NewEngine creates an Engine with the built-in legacy patch table.
func NewEngine(payloads Payloads, decryptor interfaces.Arm9LoaderDecryptor) (*Engine, error) {
	if decryptor == nil {
		return nil, fmt.Errorf("arm9loader decryptor cannot be nil")
	}

	legacy, err := LoadLegacyTable()
	if err != nil {
		return nil, err
	}

	return &Engine{
		payloads:  payloads,
		decryptor: decryptor,
		legacy:    legacy,
	}, nil
}

// Payloads returns the payload set the engine was created with.
func (e *Engine) Payloads() Payloads {
	return e.payloads
}

// Apply patches the staged image of s in place and records every result in the
// session. Missing patterns are not errors; only a failed arm9loader bypass or a
// malformed image stops the boot.
func (e *Engine) Apply(s *session.BootSession) error {
	if s == nil || s.Image == nil || s.Decision == nil {
		return errors.New("session has no staged image or boot decision")
	}
	log := s.Logger()

	var err error
	switch ft := s.Decision.FirmType; {
	case ft == types.FirmTypeNative:
		err = e.applyNative(s, log)
	case ft == types.FirmTypeSafe:
		err = e.applySafe(s, log)
	case ft.IsLegacy():
		err = e.applyLegacy(s, log)
	default:
		err = fmt.Errorf("unknown firmware type %s", ft)
	}
	if err != nil {
		return err
	}

	applied := 0
	for _, r := range s.Patches {
		if r.Applied {
			applied++
		}
	}
	log.WithFields(logrus.Fields{
		"applied": applied,
		"skipped": len(s.Patches) - applied,
	}).Info("patching complete")
	return nil
}

func (e *Engine) record(s *session.BootSession, log logrus.FieldLogger, r session.PatchResult) {
	s.Record(r)
	entry := log.WithFields(logrus.Fields{"patch": r.Name, "section": r.Section})
	if r.Applied {
		entry.WithField("offset", fmt.Sprintf("0x%X", r.Offset)).Debug("patch applied")
		return
	}
	entry.WithField("reason", r.Reason).Info("patch skipped")
}

// bypass removes the N3DS arm9loader stage from section n.
func (e *Engine) bypass(s *session.BootSession, log logrus.FieldLogger, n int, variant NativeVersion, entry uint32) error {
	if s.Console != types.ConsoleN3DS {
		return nil
	}
	r, err := BypassArm9Loader(s.Image, e.decryptor, n, variant, entry)
	if err != nil {
		return err
	}
	e.record(s, log, r)
	return nil
}

func (e *Engine) exceptionVectors(s *session.BootSession, log logrus.FieldLogger) {
	arm9, err := s.Image.Section(types.SectionArm9)
	if err != nil {
		e.record(s, log, skipped(NameExceptionVectors, types.SectionArm9, "%v", err))
		return
	}
	e.record(s, log, PatchExceptionHandlersInstall(arm9, log))
}

func (e *Engine) applyNative(s *session.BootSession, log logrus.FieldLogger) error {
	d := s.Decision

	version, err := DetectNativeVersion(s.Image, s.Console)
	if err != nil {
		return fmt.Errorf("failed to detect NATIVE_FIRM version: %w", err)
	}
	log = log.WithField("native_version", int(version))

	if err := e.bypass(s, log, types.SectionArm9, version, types.Arm9EntryNativeNoLoader); err != nil {
		return err
	}
	e.exceptionVectors(s, log)

	arm9, err := s.Image.Section(types.SectionArm9)
	if err != nil {
		return err
	}
	p9, err := ncch.LocateProcess9(arm9)
	if err != nil {
		return fmt.Errorf("failed to locate Process9: %w", err)
	}

	e.record(s, log, PatchSignatureChecks(p9.Code))

	if version == NativeVersionCurrent {
		e.record(s, log, PatchTitleInstallMinVersionCheck(p9.Code))
	}

	switch {
	case d.Nand.IsEmulated():
		e.record(s, log, PatchEmuNAND(arm9, p9, e.payloads.EmuNAND, EmuNANDParams{
			Offset:          d.EmuOffset,
			Header:          d.EmuHeader,
			StagingAddress:  types.FirmStagingAddress + s.Image.SectionHeader(types.SectionArm9).Offset,
			RelocationDelta: s.Image.RelocationDelta(types.SectionArm9),
		}))
	case d.Protection.Active():
		e.record(s, log, PatchFirmWrites(p9.Code, types.SectionArm9))
	}

	if version != NativeVersion90 || d.Protection == types.ProtectionEnhanced {
		e.record(s, log, PatchFirmlaunches(p9, e.payloads.Reboot))
	}

	kernel, kerr := s.Image.Section(types.SectionArm11Kernel)
	if version == NativeVersionCurrent {
		if kerr != nil {
			e.record(s, log, skipped(NameSvcBackdoor, types.SectionArm11Kernel, "%v", kerr))
		} else {
			e.record(s, log, ReimplementSvcBackdoor(kernel))
		}
	}

	if s.DevMode {
		e.record(s, log, PatchUnitInfoValueSet(arm9))
		if kerr != nil {
			e.record(s, log, skipped(NameKernelMapPermissions, types.SectionArm11Kernel, "%v", kerr))
		} else {
			e.record(s, log, PatchKernelFCRAMAndVRAMMappingPermissions(kernel))
		}
	}

	return nil
}

func (e *Engine) applySafe(s *session.BootSession, log logrus.FieldLogger) error {
	if err := e.bypass(s, log, types.SectionArm9, NativeVersion90, types.Arm9EntryNativeNoLoader); err != nil {
		return err
	}
	e.exceptionVectors(s, log)

	arm9, err := s.Image.Section(types.SectionArm9)
	if err != nil {
		return err
	}
	if s.Console == types.ConsoleN3DS {
		e.record(s, log, PatchFirmWrites(arm9, types.SectionArm9))
	} else {
		e.record(s, log, PatchFirmWriteSafe(arm9))
	}
	return nil
}

func (e *Engine) applyLegacy(s *session.BootSession, log logrus.FieldLogger) error {
	if err := e.bypass(s, log, types.SectionLegacyArm9, NativeVersion90, types.Arm9EntryLegacyNoLoader); err != nil {
		return err
	}
	e.exceptionVectors(s, log)

	showBootScreen := s.Config != nil && s.Config.Pref(types.PrefShowAGBBootScreen)
	results, err := ApplyLegacyPatches(s.Image.Buffer(), e.legacy, s.Decision.FirmType, s.Console, showBootScreen)
	if err != nil {
		return err
	}
	for _, r := range results {
		e.record(s, log, r)
	}
	return nil
}
