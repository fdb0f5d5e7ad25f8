package services

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-firmboot/internal/patches"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

// PipelineOptions tune one boot pipeline.
type PipelineOptions struct {
	ConfigPath string
	DevMode    bool
	Payloads   patches.Payloads
}

// BootPipeline runs resolution, loading, patching and launch in order.
type BootPipeline struct {
	dev       *Devices
	opts      PipelineOptions
	log       logrus.FieldLogger
	store     *ConfigStoreImpl
	resolver  *BootDecisionResolverImpl
	loader    *FirmwareLoaderImpl
	engine    *patches.Engine
	sequencer *LaunchSequencerImpl
}

// NewBootPipeline wires every stage against dev.
func NewBootPipeline(dev *Devices, opts PipelineOptions, log logrus.FieldLogger) (*BootPipeline, error) {
	if err := dev.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	store, err := NewConfigStore(dev.SD, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	locator, err := NewEmuNANDLocator(dev.Sectors, dev.Straps.NandSectors(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create emuNAND locator: %w", err)
	}
	resolver, err := NewBootDecisionResolver(dev, store, locator)
	if err != nil {
		return nil, err
	}
	loader, err := NewFirmwareLoader(dev.SD, dev.NAND, dev.ExeFS, dev.Straps.ConsoleFamily())
	if err != nil {
		return nil, err
	}
	engine, err := patches.NewEngine(opts.Payloads, dev.Arm9Loader)
	if err != nil {
		return nil, err
	}
	sequencer, err := NewLaunchSequencer(dev.Memory, dev.Display, dev.Jumper, opts.Payloads.Injector)
	if err != nil {
		return nil, err
	}

	return &BootPipeline{
		dev:       dev,
		opts:      opts,
		log:       log,
		store:     store,
		resolver:  resolver,
		loader:    loader,
		engine:    engine,
		sequencer: sequencer,
	}, nil
}

// Store returns the configuration store used by the pipeline.
func (p *BootPipeline) Store() *ConfigStoreImpl {
	return p.store
}

// Run performs one boot. The session is returned even on error so callers can
// report how far the boot got. ErrJumpReturned, ErrPayloadLaunched and
// ErrHardReset are the terminal outcomes.
func (p *BootPipeline) Run() (*session.BootSession, types.Never, error) {
	s := session.New(p.dev.Straps.ConsoleFamily(), p.log)
	s.DevMode = p.opts.DevMode
	s.Log.Info("boot started")

	if _, err := p.resolver.Resolve(s); err != nil {
		return s, types.Never{}, err
	}
	if _, err := p.loader.Load(s); err != nil {
		return s, types.Never{}, fmt.Errorf("failed to load FIRM: %w", err)
	}
	if err := p.engine.Apply(s); err != nil {
		return s, types.Never{}, fmt.Errorf("failed to patch FIRM: %w", err)
	}

	never, err := p.sequencer.Launch(s)
	return s, never, err
}
