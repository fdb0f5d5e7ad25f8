package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/deploymenttheory/go-firmboot/internal/types"
)

// BootTarget selects what to boot when a command runs outside the full
// decision flow
type BootTarget struct {
	FirmType   string
	Console    string
	Nand       string
	Protection string
}

// Validate ensures the boot target names known values
func (bt *BootTarget) Validate() error {
	if _, err := bt.ParseFirmType(); err != nil {
		return err
	}
	if _, err := types.ParseConsoleFamily(bt.Console); err != nil {
		return err
	}
	if _, err := bt.ParseNand(); err != nil {
		return err
	}
	if _, err := bt.ParseProtection(); err != nil {
		return err
	}
	return nil
}

// ParseFirmType accepts native, twl, agb and safe. Empty means native.
func (bt *BootTarget) ParseFirmType() (types.FirmwareType, error) {
	switch strings.ToLower(bt.FirmType) {
	case "", "native", "native_firm":
		return types.FirmTypeNative, nil
	case "twl", "twl_firm":
		return types.FirmTypeTWL, nil
	case "agb", "agb_firm":
		return types.FirmTypeAGB, nil
	case "safe", "safe_firm":
		return types.FirmTypeSafe, nil
	default:
		return 0, fmt.Errorf("unknown firmware type %q", bt.FirmType)
	}
}

// ParseNand accepts sysnand, emunand1 and emunand2. Empty means sysnand.
func (bt *BootTarget) ParseNand() (types.NandType, error) {
	for _, n := range []types.NandType{types.NandSys, types.NandEmu1, types.NandEmu2} {
		if strings.EqualFold(bt.Nand, n.String()) {
			return n, nil
		}
	}
	if bt.Nand == "" {
		return types.NandSys, nil
	}
	return 0, fmt.Errorf("unknown NAND %q", bt.Nand)
}

// ParseProtection accepts off, standard and enhanced. Empty means off.
func (bt *BootTarget) ParseProtection() (types.ProtectionMode, error) {
	for _, p := range []types.ProtectionMode{types.ProtectionOff, types.ProtectionStandard, types.ProtectionEnhanced} {
		if strings.EqualFold(bt.Protection, p.String()) {
			return p, nil
		}
	}
	if bt.Protection == "" {
		return types.ProtectionOff, nil
	}
	return 0, fmt.Errorf("unknown protection mode %q", bt.Protection)
}

// String returns a string representation of the boot target
func (bt *BootTarget) String() string {
	ft, _ := bt.ParseFirmType()
	nand, _ := bt.ParseNand()
	return fmt.Sprintf("%s on %s (%s)", ft, strings.ToUpper(bt.Console), nand)
}

// Encode writes v as JSON or YAML. Table output is left to each command.
func Encode(w io.Writer, v interface{}, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		encoder.SetIndent(2)
		return encoder.Encode(v)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// CommonError represents application-level errors
type CommonError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CommonError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CommonError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeStorageAccess = "STORAGE_ACCESS"
	ErrCodeBootFailed    = "BOOT_FAILED"
	ErrCodePatchFailed   = "PATCH_FAILED"
	ErrCodeNotFirm       = "NOT_FIRM"
)

// NewError creates a new CommonError
func NewError(code, message string, cause error) *CommonError {
	return &CommonError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
