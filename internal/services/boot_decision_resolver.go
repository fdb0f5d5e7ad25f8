package services

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

var (
	// ErrHardReset is returned after the resetter was invoked; nothing may run after it.
	ErrHardReset = errors.New("hard reset requested")

	// ErrPayloadLaunched is returned when a payload took over the boot.
	ErrPayloadLaunched = errors.New("control handed to an external payload")
)

// BootDecisionResolverImpl turns the configuration record, boot context and
// button state into a BootDecision
type BootDecisionResolverImpl struct {
	dev     *Devices
	store   *ConfigStoreImpl
	locator *EmuNANDLocatorImpl
}

// NewBootDecisionResolver creates a resolver
func NewBootDecisionResolver(dev *Devices, store *ConfigStoreImpl, locator *EmuNANDLocatorImpl) (*BootDecisionResolverImpl, error) {
	if err := dev.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("config store cannot be nil")
	}
	if locator == nil {
		return nil, fmt.Errorf("emuNAND locator cannot be nil")
	}
	return &BootDecisionResolverImpl{dev: dev, store: store, locator: locator}, nil
}

// Resolve computes the decision for this boot and stores it, together with the
// configuration in effect, in the session.
func (r *BootDecisionResolverImpl) Resolve(s *session.BootSession) (*types.BootDecision, error) {
	cfg, err := r.store.Load()
	absent := errors.Is(err, ErrConfigAbsent)
	if err != nil && !absent {
		return nil, err
	}

	region := make([]byte, types.RelaunchFlagSize)
	if err := r.dev.Memory.ReadAt(region, types.RelaunchFlagAddress); err != nil {
		return nil, fmt.Errorf("failed to read relaunch flag region: %w", err)
	}
	rec, relaunch, recErr := types.DecodeRelaunchRecord(region)

	var d *types.BootDecision
	switch {
	case relaunch:
		if absent || recErr != nil {
			s.Log.WithFields(logrus.Fields{
				"config_absent": absent,
				"record_error":  recErr,
			}).Warn("cannot relaunch, resetting")
			r.dev.Resetter.Reset()
			return nil, ErrHardReset
		}
		d = r.resolveRelaunch(cfg, rec)
	case recErr != nil:
		return nil, recErr
	default:
		d, cfg, err = r.resolveFirstBoot(s, cfg, absent)
		if err != nil {
			return nil, err
		}
	}

	r.locateEmuNAND(d)

	s.Config = cfg
	s.Decision = d

	if d.Mode == types.BootModeFirst {
		if err := r.persist(s, cfg, d); err != nil {
			return nil, err
		}
	}

	s.Logger().WithFields(logrus.Fields{
		"mode":        d.Mode.String(),
		"firm_source": d.FirmSource.String(),
		"protection":  d.Protection.String(),
		"forced":      d.Forced,
	}).Info("boot decision resolved")
	return d, nil
}

// resolveRelaunch never samples buttons: the previous stage already decided.
func (r *BootDecisionResolverImpl) resolveRelaunch(cfg *types.BootConfig, rec types.RelaunchRecord) *types.BootDecision {
	d := &types.BootDecision{
		Mode:     types.BootModeRelaunch,
		FirmType: rec.FirmType,
		Nand:     rec.Nand,
	}
	if rec.EmuFirmSource {
		d.FirmSource = types.NandEmu1
	}
	if rec.ProtectionActive {
		d.Protection = types.ProtectionStandard
		d.UpdatedSys = cfg.Pref(types.PrefUpdatedSys)
	}
	return d
}

func (r *BootDecisionResolverImpl) resolveFirstBoot(s *session.BootSession, cfg *types.BootConfig, absent bool) (*types.BootDecision, *types.BootConfig, error) {
	log := s.Log

	// Boot options are chosen from buttons and preferences while pending > 0.
	pending := 1
	if absent {
		pending = 2
	}

	pressed := r.dev.Buttons.Pressed()
	if absent || (pressed.Held(types.ButtonSelect) && !pressed.Held(types.ButtonL1)) {
		updated, err := r.dev.Menu.Configure(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("configuration menu failed: %w", err)
		}
		if updated == nil {
			return nil, nil, fmt.Errorf("configuration menu returned no configuration")
		}
		if err := r.store.Save(updated); err != nil {
			return nil, nil, err
		}
		cfg = updated
		r.dev.BootEnv.ClearBootEnv()
		pressed = r.dev.Buttons.Pressed()
		log.WithField("buttons", pressed.String()).Debug("configuration menu closed")
	}

	d := &types.BootDecision{Mode: types.BootModeFirst, FirmType: types.FirmTypeNative}

	if r.dev.Straps.ProtectionDevicePresent() || cfg.Pref(types.PrefForceProtection) {
		d.Protection = types.ProtectionStandard
		d.UpdatedSys = cfg.Pref(types.PrefUpdatedSys)
	}

	if d.Protection.Active() {
		env := r.dev.BootEnv.BootEnv()
		switch {
		case env == types.BootEnvQuitAGB:
			d.Nand = types.NandSys
			d.FirmSource = cfg.FirmSource()
			if d.UpdatedSys {
				d.FirmSource = types.NandSys
			}
			d.Forced = true
			d.NoForcing = true
			pending--
		case env != 0:
			if !pressed.Any(types.OverrideButtons) && !cfg.NoForcing {
				d.Nand = cfg.Nand
				d.FirmSource = cfg.FirmSource()
				d.Forced = true
				pending--
			}
		case pressed == types.SafeModeCombo:
			d.Protection = types.ProtectionEnhanced
			d.Nand = types.NandSys
			d.FirmSource = types.NandSys
			d.Forced = true
			pending--
		}
	}

	if pending > 0 {
		if err := r.chooseFromButtons(s, cfg, d, pressed); err != nil {
			return nil, nil, err
		}
	}

	return d, cfg, nil
}

func (r *BootDecisionResolverImpl) chooseFromButtons(s *session.BootSession, cfg *types.BootConfig, d *types.BootDecision, pressed types.Buttons) error {
	if s.DevMode || pressed.Any(types.SinglePayloadButtons) ||
		(pressed.Held(types.ButtonL1) && pressed.Any(types.LPayloadButtons)) {
		launched, err := r.dev.Payloads.LaunchPayload(pressed)
		if err != nil {
			return fmt.Errorf("payload launch failed: %w", err)
		}
		if launched {
			s.Log.WithField("buttons", pressed.String()).Info("payload launched")
			return ErrPayloadLaunched
		}
	}

	if r.dev.Straps.ScreensInitialized() || cfg.Pref(types.PrefSplashScreen) {
		r.dev.Splash.ShowSplash()
	}

	if pressed.Held(types.ButtonR1) {
		// Boot the NAND that is not updated, with the FIRM of the other one.
		if d.UpdatedSys {
			d.Nand, d.FirmSource = types.NandEmu1, types.NandSys
		} else {
			d.Nand, d.FirmSource = types.NandSys, types.NandEmu1
		}
	} else {
		emu := cfg.Pref(types.PrefAutobootSys) == pressed.Held(types.ButtonL1)
		d.Nand = types.NandSys
		if emu {
			d.Nand = types.NandEmu1
		}
		d.FirmSource = d.Nand
	}

	if d.Nand.IsEmulated() && cfg.Pref(types.PrefSecondEmuDefault) != pressed.Held(types.ButtonB) {
		d.Nand = types.NandEmu2
		if d.FirmSource.IsEmulated() {
			d.FirmSource = d.Nand
		}
	}
	return nil
}

// locateEmuNAND resolves the emulated selections, downgrading absent slots.
func (r *BootDecisionResolverImpl) locateEmuNAND(d *types.BootDecision) {
	switch {
	case d.Nand.IsEmulated():
		loc, nand := r.locator.Resolve(d.Nand)
		d.Nand = nand
		switch {
		case nand == types.NandSys:
			d.FirmSource = types.NandSys
		case d.FirmSource.IsEmulated():
			d.FirmSource = nand
		}
		d.EmuOffset, d.EmuHeader = loc.Offset, loc.Header
	case d.FirmSource.IsEmulated():
		loc, src := r.locator.Resolve(d.FirmSource)
		d.FirmSource = src
		d.EmuOffset, d.EmuHeader = loc.Offset, loc.Header
	}
}

// persist rewrites the record when the resolved boot options differ from the
// stored ones. A set no-forcing flag alone does not trigger a write.
func (r *BootDecisionResolverImpl) persist(s *session.BootSession, cfg *types.BootConfig, d *types.BootDecision) error {
	stored := EncodeConfigWord(cfg)
	next := EncodeConfigWord(&types.BootConfig{
		Nand:             d.Nand,
		EmuFirmSource:    d.FirmSource.IsEmulated(),
		ProtectionActive: d.Protection.Active(),
		NoForcing:        d.NoForcing,
	})

	if next&types.ConfigPersistMask == stored&types.ConfigStoredMask {
		return nil
	}

	updated := DecodeConfigWord(next | stored&types.ConfigPreferencesMask)
	if err := r.store.Save(updated); err != nil {
		return err
	}
	s.Config = updated
	s.Logger().WithField("config", fmt.Sprintf("0x%08X", EncodeConfigWord(updated))).Info("configuration updated")
	return nil
}
