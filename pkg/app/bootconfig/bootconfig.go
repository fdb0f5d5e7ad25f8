// Package bootconfig shows and edits the configuration record on the SD card.
package bootconfig

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/deploymenttheory/go-firmboot/internal/device"
	"github.com/deploymenttheory/go-firmboot/internal/services"
	"github.com/deploymenttheory/go-firmboot/internal/types"
	"github.com/deploymenttheory/go-firmboot/pkg/app"
)

// PreferenceNames maps command-line names to preference bits.
var PreferenceNames = map[string]types.Preference{
	"autoboot-sys":     types.PrefAutobootSys,
	"updated-sys":      types.PrefUpdatedSys,
	"force-protection": types.PrefForceProtection,
	"second-emunand":   types.PrefSecondEmuDefault,
	"agb-boot-screen":  types.PrefShowAGBBootScreen,
	"splash":           types.PrefSplashScreen,
}

// Request reads or edits the record. With no edits set it only reads.
type Request struct {
	Host *device.HostConfig

	// Reset starts from an empty record instead of the stored one
	Reset bool

	Nand       string
	FirmSource string
	Enable     []string
	Disable    []string
}

// Response is the record after the request
type Response struct {
	Path        string            `json:"path" yaml:"path"`
	Exists      bool              `json:"exists" yaml:"exists"`
	Written     bool              `json:"written" yaml:"written"`
	Word        uint32            `json:"word" yaml:"word"`
	Config      *types.BootConfig `json:"config,omitempty" yaml:"config,omitempty"`
	Preferences []string          `json:"preferences" yaml:"preferences"`
}

// Edits reports whether the request changes the record
func (r *Request) Edits() bool {
	return r.Reset || r.Nand != "" || r.FirmSource != "" || len(r.Enable) > 0 || len(r.Disable) > 0
}

// Validate validates a config request
func (r *Request) Validate() error {
	if r.Host == nil {
		return app.NewError(app.ErrCodeInvalidInput, "host configuration is required", nil)
	}
	if r.Host.SDPath == "" && r.Host.SDImage == "" {
		return app.NewError(app.ErrCodeInvalidInput, "sd_path or sd_image is required", nil)
	}
	if _, err := parseNand(r.Nand); err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid --nand", err)
	}
	if _, err := parseNand(r.FirmSource); err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid --firm-source", err)
	}
	for _, name := range append(append([]string{}, r.Enable...), r.Disable...) {
		if _, ok := PreferenceNames[name]; !ok {
			return app.NewError(app.ErrCodeInvalidInput, fmt.Sprintf("unknown preference %q (known: %s)", name, strings.Join(KnownPreferences(), ", ")), nil)
		}
	}
	return nil
}

// KnownPreferences returns the preference names in sorted order
func KnownPreferences() []string {
	names := make([]string, 0, len(PreferenceNames))
	for name := range PreferenceNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseNand(s string) (types.NandType, error) {
	if s == "" {
		return types.NandSys, nil
	}
	bt := app.BootTarget{Nand: s}
	return bt.ParseNand()
}

// Handle loads the record, applies the edits and writes it back when anything changed
func Handle(ctx *app.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sd, closer, err := device.OpenSDStore(req.Host)
	if err != nil {
		return nil, app.NewError(app.ErrCodeStorageAccess, "failed to open SD card", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	store, err := services.NewConfigStore(sd, req.Host.ConfigPath)
	if err != nil {
		return nil, app.NewError(app.ErrCodeStorageAccess, "failed to open configuration store", err)
	}

	resp := &Response{Path: store.Path(), Exists: true}
	cfg, err := store.Load()
	switch {
	case errors.Is(err, services.ErrConfigAbsent):
		resp.Exists = false
		cfg = &types.BootConfig{}
	case err != nil:
		return nil, app.NewError(app.ErrCodeStorageAccess, "failed to load configuration", err)
	}

	if req.Edits() {
		if req.Reset {
			cfg = &types.BootConfig{}
		}
		applyEdits(cfg, req)
		if err := store.Save(cfg); err != nil {
			return nil, app.NewError(app.ErrCodeStorageAccess, "failed to save configuration", err)
		}
		resp.Written = true
		ctx.Log(fmt.Sprintf("Configuration written to %s", store.Path()))
	}

	if resp.Exists || resp.Written {
		resp.Config = cfg
		resp.Word = services.EncodeConfigWord(cfg)
		resp.Preferences = enabledPreferences(cfg)
	}
	return resp, nil
}

func applyEdits(cfg *types.BootConfig, req *Request) {
	if req.Nand != "" {
		cfg.Nand, _ = parseNand(req.Nand)
	}
	if req.FirmSource != "" {
		src, _ := parseNand(req.FirmSource)
		cfg.EmuFirmSource = src.IsEmulated()
	}
	for _, name := range req.Enable {
		cfg.SetPref(PreferenceNames[name], true)
	}
	for _, name := range req.Disable {
		cfg.SetPref(PreferenceNames[name], false)
	}
}

func enabledPreferences(cfg *types.BootConfig) []string {
	out := []string{}
	for _, name := range KnownPreferences() {
		if cfg.Pref(PreferenceNames[name]) {
			out = append(out, name)
		}
	}
	return out
}

// FormatOutput formats the record according to output format
func FormatOutput(out io.Writer, response *Response, format string) error {
	if format != "table" {
		return app.Encode(out, response, format)
	}

	fmt.Fprintf(out, "Record:      %s\n", response.Path)
	if response.Config == nil {
		fmt.Fprintf(out, "Status:      absent (the next boot opens the menu)\n")
		return nil
	}
	c := response.Config
	if response.Written {
		fmt.Fprintf(out, "Status:      written\n")
	}
	fmt.Fprintf(out, "Word:        0x%08X\n", response.Word)
	fmt.Fprintf(out, "Last NAND:   %s\n", c.Nand)
	fmt.Fprintf(out, "FIRM source: %s\n", c.FirmSource())
	fmt.Fprintf(out, "Protection:  %t\n", c.ProtectionActive)
	fmt.Fprintf(out, "No forcing:  %t\n", c.NoForcing)
	prefs := "none"
	if len(response.Preferences) > 0 {
		prefs = strings.Join(response.Preferences, ", ")
	}
	fmt.Fprintf(out, "Preferences: %s\n", prefs)
	return nil
}
