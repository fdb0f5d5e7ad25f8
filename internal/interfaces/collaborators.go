// File: internal/interfaces/collaborators.go
package interfaces

import "github.com/deploymenttheory/go-firmboot/internal/types"

// ConfigMenu is the interactive configuration UI
type ConfigMenu interface {
	// Configure lets the user edit cfg and returns the record to persist. cfg is
	// nil when no configuration record exists yet.
	Configure(cfg *types.BootConfig) (*types.BootConfig, error)
}

// PayloadLauncher chainloads an external payload selected by the held buttons
type PayloadLauncher interface {
	// LaunchPayload returns launched=true when control was handed to a payload.
	// It returns false when no payload exists for the buttons.
	LaunchPayload(pressed types.Buttons) (launched bool, err error)
}

// SplashScreen draws the boot splash
type SplashScreen interface {
	// ShowSplash returns true when a splash image was displayed
	ShowSplash() bool
}

// ExeFSDecryptor turns a CTRNAND FIRM title (.app) into a plain FIRM in place.
// It must be a no-op on data that is already a plain FIRM.
type ExeFSDecryptor interface {
	DecryptExeFS(image []byte) ([]byte, error)
}

// Arm9LoaderDecryptor decrypts the arm9bin of an N3DS ARM9 section in place so the
// arm9loader stage can be skipped. variant selects the key set.
type Arm9LoaderDecryptor interface {
	DecryptArm9Bin(section []byte, variant int) error
}
