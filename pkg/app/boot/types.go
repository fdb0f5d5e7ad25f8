package boot

import (
	"github.com/deploymenttheory/go-firmboot/internal/device"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

// Outcome is how a boot ended
type Outcome string

const (
	OutcomeLaunched Outcome = "launched"
	OutcomePayload  Outcome = "payload"
	OutcomeReset    Outcome = "reset"
)

// Request represents one boot against host-side devices
type Request struct {
	Host *device.HostConfig

	// WriteImage saves the patched FIRM under Host.OutputDir
	WriteImage bool
}

// Response represents the result of a boot
type Response struct {
	SessionID string                `json:"session_id" yaml:"session_id"`
	Console   string                `json:"console" yaml:"console"`
	Outcome   Outcome               `json:"outcome" yaml:"outcome"`
	Decision  *types.BootDecision   `json:"decision,omitempty" yaml:"decision,omitempty"`
	Config    *ConfigSummary        `json:"config,omitempty" yaml:"config,omitempty"`
	External  bool                  `json:"external_firm" yaml:"external_firm"`
	Patches   []session.PatchResult `json:"patches" yaml:"patches"`
	Handoff   *types.Handoff        `json:"handoff,omitempty" yaml:"handoff,omitempty"`
	Payload   string                `json:"payload,omitempty" yaml:"payload,omitempty"`
	Memory    []device.Region       `json:"memory" yaml:"memory"`
	ImagePath string                `json:"image_path,omitempty" yaml:"image_path,omitempty"`
}

// ConfigSummary is the configuration record in effect after the boot
type ConfigSummary struct {
	Word        uint32 `json:"word" yaml:"word"`
	Preferences uint32 `json:"preferences" yaml:"preferences"`
}

// AppliedCount returns the number of applied patches
func (r *Response) AppliedCount() int {
	n := 0
	for _, p := range r.Patches {
		if p.Applied {
			n++
		}
	}
	return n
}
