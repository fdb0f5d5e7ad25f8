package services

import (
	"encoding/binary"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-firmboot/internal/device"
	"github.com/deploymenttheory/go-firmboot/internal/interfaces"
	"github.com/deploymenttheory/go-firmboot/internal/parsers/firm"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

const testNandSectors = 0x1D7800

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// mockStraps implements interfaces.StrapProvider
type mockStraps struct {
	console types.ConsoleFamily
	a9lh    bool
	screens bool
}

func (m *mockStraps) ConsoleFamily() types.ConsoleFamily { return m.console }
func (m *mockStraps) ProtectionDevicePresent() bool     { return m.a9lh }
func (m *mockStraps) ScreensInitialized() bool          { return m.screens }
func (m *mockStraps) NandSectors() uint32               { return testNandSectors }

// mockButtons returns the values in order, repeating the last one.
type mockButtons struct {
	values []types.Buttons
	calls  int
}

func (m *mockButtons) Pressed() types.Buttons {
	m.calls++
	if len(m.values) == 0 {
		return 0
	}
	i := min(m.calls-1, len(m.values)-1)
	return m.values[i]
}

// mockSectors serves an SD card holding NCSD headers at the given sectors.
type mockSectors struct {
	headers map[uint32]bool
}

func (m *mockSectors) ReadSectors(sector uint32, dst []byte) error {
	clear(dst)
	if m.headers[sector] {
		binary.LittleEndian.PutUint32(dst[0x100:], types.NCSDMagic)
	}
	return nil
}

// mockMenu records calls and returns a fixed record
type mockMenu struct {
	result *types.BootConfig
	calls  int
	seen   *types.BootConfig
}

func (m *mockMenu) Configure(cfg *types.BootConfig) (*types.BootConfig, error) {
	m.calls++
	m.seen = cfg
	if m.result != nil {
		out := *m.result
		return &out, nil
	}
	if cfg == nil {
		return &types.BootConfig{}, nil
	}
	out := *cfg
	return &out, nil
}

// mockPayloads reports a launch when launch is set
type mockPayloads struct {
	launch bool
	calls  int
}

func (m *mockPayloads) LaunchPayload(pressed types.Buttons) (bool, error) {
	m.calls++
	return m.launch, nil
}

// mockSplash counts splash requests
type mockSplash struct {
	calls int
}

func (m *mockSplash) ShowSplash() bool {
	m.calls++
	return true
}

// mockNand serves one file store per NAND
type mockNand struct {
	stores  map[types.NandType]interfaces.FileStore
	mounted []types.NandType
	offsets []uint32
}

func (m *mockNand) MountCTRNAND(nand types.NandType, emuOffset uint32) (interfaces.FileStore, error) {
	m.mounted = append(m.mounted, nand)
	m.offsets = append(m.offsets, emuOffset)
	s, ok := m.stores[nand]
	if !ok {
		return nil, errNoSuchNand
	}
	return s, nil
}

type mockError string

func (e mockError) Error() string { return string(e) }

const errNoSuchNand = mockError("no such NAND")

// testRig bundles the devices and the handles tests inspect.
type testRig struct {
	dev      *Devices
	straps   *mockStraps
	buttons  *mockButtons
	bootEnv  *device.BootEnv
	memory   *device.SimulatedMemory
	jumper   *device.RecordingJumper
	resetter *device.RecordingResetter
	display  *device.RecordingDisplay
	sd       *device.AferoStore
	sectors  *mockSectors
	nand     *mockNand
	menu     *mockMenu
	payloads *mockPayloads
	splash   *mockSplash
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	r := &testRig{
		straps:   &mockStraps{},
		buttons:  &mockButtons{},
		bootEnv:  device.NewBootEnv(0),
		memory:   device.NewSimulatedMemory(),
		jumper:   &device.RecordingJumper{},
		resetter: &device.RecordingResetter{},
		display:  &device.RecordingDisplay{},
		sd:       device.NewAferoStore(afero.NewMemMapFs()),
		sectors:  &mockSectors{headers: map[uint32]bool{}},
		nand:     &mockNand{stores: map[types.NandType]interfaces.FileStore{}},
		menu:     &mockMenu{},
		payloads: &mockPayloads{},
		splash:   &mockSplash{},
	}
	r.dev = &Devices{
		Straps:     r.straps,
		Buttons:    r.buttons,
		BootEnv:    r.bootEnv,
		Memory:     r.memory,
		Jumper:     r.jumper,
		Resetter:   r.resetter,
		Display:    r.display,
		SD:         r.sd,
		Sectors:    r.sectors,
		NAND:       r.nand,
		Menu:       r.menu,
		Payloads:   r.payloads,
		Splash:     r.splash,
		ExeFS:      device.PlainExeFS{},
		Arm9Loader: device.PlainArm9Bin{},
	}
	return r
}

func (r *testRig) writeConfig(t *testing.T, word uint32) {
	t.Helper()
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint32(raw, word)
	require.NoError(t, r.sd.WriteFile(DefaultConfigPath, raw))
}

func (r *testRig) readConfig(t *testing.T) uint32 {
	t.Helper()
	raw, err := r.sd.ReadFile(DefaultConfigPath)
	require.NoError(t, err)
	require.Len(t, raw, 4)
	return binary.LittleEndian.Uint32(raw)
}

func (r *testRig) resolver(t *testing.T) *BootDecisionResolverImpl {
	t.Helper()
	store, err := NewConfigStore(r.sd, "")
	require.NoError(t, err)
	locator, err := NewEmuNANDLocator(r.sectors, testNandSectors, quietLogger())
	require.NoError(t, err)
	res, err := NewBootDecisionResolver(r.dev, store, locator)
	require.NoError(t, err)
	return res
}

// buildFirm returns a four-section FIRM whose ARM9 section loads at arm9Addr.
func buildFirm(t *testing.T, arm9Addr uint32, section0 []byte) []byte {
	t.Helper()
	if section0 == nil {
		section0 = make([]byte, 0x200)
	}
	data, err := firm.Build(0x1FF80000, 0x0801B01C,
		firm.SectionSpec{Address: 0x1FF00000, Data: section0},
		firm.SectionSpec{Address: 0x1FF80000, Data: make([]byte, 0x100)},
		firm.SectionSpec{Address: arm9Addr, Data: make([]byte, 0x100)},
		firm.SectionSpec{Address: 0x1FF00000 + 0x10000, Data: make([]byte, 0x100)},
	)
	require.NoError(t, err)
	return data
}

// prefWord returns a configuration word with the given preference bits set.
func prefWord(prefs ...types.Preference) uint32 {
	var w uint32
	for _, p := range prefs {
		w |= 1 << (types.ConfigPreferencesShift + p)
	}
	return w
}
