package patch

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-firmboot/internal/parsers/firm"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/pkg/app"
)

func testContext() *app.Context {
	ctx := app.NewContext()
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	ctx.SetLogger(l)
	return ctx
}

func twlFirm(t *testing.T) string {
	t.Helper()
	image, err := firm.Build(0x1FF80000, 0x08006800,
		firm.SectionSpec{Address: 0x1FF00000, Data: make([]byte, 0x200)},
		firm.SectionSpec{Address: 0x1FF80000, Data: make([]byte, 0x200)},
		firm.SectionSpec{Address: 0x08006800, Data: make([]byte, 0x200)},
		firm.SectionSpec{Address: 0x08010000, Data: make([]byte, 0x200)},
	)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "twl.firm")
	require.NoError(t, os.WriteFile(path, image, 0o644))
	return path
}

func TestHandle_LegacyImage(t *testing.T) {
	input := twlFirm(t)
	output := filepath.Join(t.TempDir(), "patched.firm")

	resp, err := Handle(testContext(), &Request{
		InputPath:  input,
		OutputPath: output,
		Target:     app.BootTarget{FirmType: "twl", Console: "o3ds", Nand: "sysnand", Protection: "off"},
	})
	require.NoError(t, err)

	assert.Equal(t, "TWL_FIRM", resp.FirmType)
	assert.Equal(t, "o3ds", resp.Console)
	assert.Equal(t, uint32(0x08006800), resp.Arm9Entry)
	require.NotEmpty(t, resp.Patches)
	assert.Equal(t, output, resp.OutputPath)

	written, err := os.ReadFile(output)
	require.NoError(t, err)
	_, err = firm.Parse(written)
	assert.NoError(t, err)
}

func TestHandle_Errors(t *testing.T) {
	junk := filepath.Join(t.TempDir(), "junk.bin")
	require.NoError(t, os.WriteFile(junk, make([]byte, 0x400), 0o644))

	tests := []struct {
		name string
		req  *Request
		code string
	}{
		{"no input", &Request{Target: app.BootTarget{FirmType: "native", Console: "o3ds", Nand: "sysnand", Protection: "off"}}, app.ErrCodeInvalidInput},
		{"bad target", &Request{InputPath: junk, Target: app.BootTarget{FirmType: "gba"}}, app.ErrCodeInvalidInput},
		{"emu without location", &Request{InputPath: junk, Target: app.BootTarget{FirmType: "native", Console: "o3ds", Nand: "emunand1", Protection: "off"}}, app.ErrCodeInvalidInput},
		{"missing file", &Request{InputPath: junk + ".missing", Target: app.BootTarget{FirmType: "native", Console: "o3ds", Nand: "sysnand", Protection: "off"}}, app.ErrCodeStorageAccess},
		{"not a firm", &Request{InputPath: junk, Target: app.BootTarget{FirmType: "native", Console: "o3ds", Nand: "sysnand", Protection: "off"}}, app.ErrCodeNotFirm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Handle(testContext(), tt.req)
			require.Error(t, err)
			var appErr *app.CommonError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestDiffWords(t *testing.T) {
	before := make([]byte, 16)
	after := make([]byte, 16)
	binary.LittleEndian.PutUint32(after[4:], 0xE3A00000)
	binary.LittleEndian.PutUint32(after[12:], 0xE12FFF1E)

	changes, truncated := diffWords(before, after, 10)
	require.Len(t, changes, 2)
	assert.False(t, truncated)
	assert.Contains(t, changes[0], "0x000004")
	assert.Contains(t, changes[1], "0x00000C")

	changes, truncated = diffWords(before, after, 1)
	assert.Len(t, changes, 1)
	assert.True(t, truncated)
}

func TestFormatOutput(t *testing.T) {
	resp := &Response{
		InputPath: "in.firm",
		FirmType:  "NATIVE_FIRM",
		Console:   "n3ds",
		Arm9Entry: 0x0801B01C,
		Patches: []session.PatchResult{
			{Name: "signature-checks", Applied: true, Section: 2, Offset: 0x40},
			{Name: "svc-backdoor", Section: 1, Reason: "pattern not found"},
		},
		Changes: []string{"0x000040: a -> b"},
	}

	var out bytes.Buffer
	require.NoError(t, FormatOutput(&out, resp, "table"))
	assert.Contains(t, out.String(), "NATIVE_FIRM (n3ds), ARM9 entry 0x0801B01C")
	assert.Contains(t, out.String(), "signature-checks")
	assert.Contains(t, out.String(), "pattern not found")
	assert.Contains(t, out.String(), "Changed words:")

	out.Reset()
	require.NoError(t, FormatOutput(&out, resp, "yaml"))
	assert.Contains(t, out.String(), "firm_type: NATIVE_FIRM")
}
