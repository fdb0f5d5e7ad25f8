package boot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deploymenttheory/go-firmboot/internal/device"
	"github.com/deploymenttheory/go-firmboot/internal/services"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/pkg/app"
)

// Validate validates a boot request
func (r *Request) Validate() error {
	if r.Host == nil {
		return app.NewError(app.ErrCodeInvalidInput, "host configuration is required", nil)
	}
	if err := r.Host.Validate(); err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid host configuration", err)
	}
	if r.WriteImage && r.Host.OutputDir == "" {
		return app.NewError(app.ErrCodeInvalidInput, "output_dir is required to write the patched image", nil)
	}
	return nil
}

// Handle runs one boot and reports how it ended
func Handle(ctx *app.Context, req *Request) (*Response, error) {
	// 1. Validate request
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := ctx.Logger()

	// 2. Open host devices
	ctx.Progress("Opening devices...", 10)
	host, err := device.OpenHost(req.Host, log)
	if err != nil {
		return nil, app.NewError(app.ErrCodeStorageAccess, "failed to open host devices", err)
	}
	defer host.Close()

	payloads, err := device.LoadPayloads(req.Host.PayloadDir)
	if err != nil {
		return nil, app.NewError(app.ErrCodeStorageAccess, "failed to load payloads", err)
	}

	// 3. Run the pipeline
	ctx.Progress("Booting...", 30)
	pipeline, err := services.NewBootPipeline(Devices(host), services.PipelineOptions{
		ConfigPath: req.Host.ConfigPath,
		DevMode:    req.Host.DevMode,
		Payloads:   payloads,
	}, log)
	if err != nil {
		return nil, app.NewError(app.ErrCodeBootFailed, "failed to assemble boot pipeline", err)
	}

	s, never, runErr := pipeline.Run()
	resp := newResponse(s)

	switch {
	case runErr == nil, errors.Is(runErr, services.ErrJumpReturned):
		resp.Outcome = OutcomeLaunched
		h := never.Handoff
		resp.Handoff = &h
	case errors.Is(runErr, services.ErrPayloadLaunched):
		resp.Outcome = OutcomePayload
		resp.Payload = host.Payloads.Launched
	case errors.Is(runErr, services.ErrHardReset):
		resp.Outcome = OutcomeReset
	default:
		return nil, app.NewError(app.ErrCodeBootFailed, "boot failed", runErr)
	}
	resp.Memory = host.Memory.Regions()

	// 4. Save the patched image
	if req.WriteImage && s.Image != nil && resp.Outcome == OutcomeLaunched {
		ctx.Progress("Writing image...", 90)
		path, err := writeImage(req.Host.OutputDir, s)
		if err != nil {
			return nil, app.NewError(app.ErrCodeStorageAccess, "failed to write patched image", err)
		}
		resp.ImagePath = path
	}

	ctx.Progress("Complete", 100)
	ctx.Log(fmt.Sprintf("Boot finished: %s, %d of %d patches applied", resp.Outcome, resp.AppliedCount(), len(resp.Patches)))
	return resp, nil
}

// Devices maps the host devices onto the pipeline's collaborator set
func Devices(h *device.Host) *services.Devices {
	return &services.Devices{
		Straps:     h.Straps,
		Buttons:    h.Buttons,
		BootEnv:    h.BootEnv,
		Memory:     h.Memory,
		Jumper:     h.Jumper,
		Resetter:   h.Resetter,
		Display:    h.Display,
		SD:         h.SD,
		Sectors:    h.Sectors,
		NAND:       h.NAND,
		Menu:       h.Menu,
		Payloads:   h.Payloads,
		Splash:     h.Splash,
		ExeFS:      h.ExeFS,
		Arm9Loader: h.Arm9Bin,
	}
}

func newResponse(s *session.BootSession) *Response {
	resp := &Response{
		SessionID: s.ID.String(),
		Console:   s.Console.String(),
		Decision:  s.Decision,
		External:  s.ExternalFirm,
		Patches:   s.Patches,
	}
	if s.Config != nil {
		resp.Config = &ConfigSummary{
			Word:        services.EncodeConfigWord(s.Config),
			Preferences: s.Config.Preferences,
		}
	}
	return resp
}

func writeImage(dir string, s *session.BootSession) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := strings.ToLower(s.Decision.FirmType.String()) + "_" + s.Console.String() + ".bin"
	path := filepath.Join(dir, name)
	return path, os.WriteFile(path, s.Image.Bytes(), 0o644)
}
