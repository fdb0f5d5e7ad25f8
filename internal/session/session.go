// Package session holds the per-boot context passed through every pipeline stage.
package session

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-firmboot/internal/parsers/firm"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

// PatchResult records the outcome of one patch operation.
type PatchResult struct {
	Name    string `json:"name" yaml:"name"`
	Applied bool   `json:"applied" yaml:"applied"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Section int    `json:"section" yaml:"section"`
	Offset  int    `json:"offset" yaml:"offset"`
}

// BootSession is created once at pipeline start and carries everything later
// stages need. Stages receive it by reference and never keep it after returning.
type BootSession struct {
	ID      uuid.UUID
	Console types.ConsoleFamily
	DevMode bool

	// Config is the configuration record in effect (after the menu, if it ran).
	Config *types.BootConfig

	// Decision is set by the resolver.
	Decision *types.BootDecision

	// Image is the staged FIRM, set by the loader.
	Image *firm.Image

	// ExternalFirm is set when the image came from the SD override file.
	ExternalFirm bool

	Patches []PatchResult

	Log logrus.FieldLogger
}

// New creates a session with a fresh identifier. log may be nil.
func New(console types.ConsoleFamily, log logrus.FieldLogger) *BootSession {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	id := uuid.New()
	return &BootSession{
		ID:      id,
		Console: console,
		Log: log.WithFields(logrus.Fields{
			"session": id.String(),
			"console": console.String(),
		}),
	}
}

// Logger returns the session logger enriched with the resolved decision, if any.
func (s *BootSession) Logger() logrus.FieldLogger {
	if s.Decision == nil {
		return s.Log
	}
	return s.Log.WithFields(logrus.Fields{
		"firm_type": s.Decision.FirmType.String(),
		"nand":      s.Decision.Nand.String(),
	})
}

// Record appends a patch result.
func (s *BootSession) Record(r PatchResult) {
	s.Patches = append(s.Patches, r)
}

// Applied reports whether the named patch was applied during this session.
func (s *BootSession) Applied(name string) bool {
	for _, r := range s.Patches {
		if r.Name == name && r.Applied {
			return true
		}
	}
	return false
}
