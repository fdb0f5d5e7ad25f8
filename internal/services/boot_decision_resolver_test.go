package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-firmboot/internal/device"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

func newSession() *session.BootSession {
	return session.New(types.ConsoleO3DS, quietLogger())
}

func TestResolve_NoConfigRunsMenu(t *testing.T) {
	rig := newTestRig(t)
	rig.bootEnv = device.NewBootEnv(3)
	rig.dev.BootEnv = rig.bootEnv

	s := newSession()
	d, err := rig.resolver(t).Resolve(s)
	require.NoError(t, err)

	assert.Equal(t, 1, rig.menu.calls)
	assert.Nil(t, rig.menu.seen)
	assert.Equal(t, uint32(0), rig.bootEnv.BootEnv())
	assert.Equal(t, 2, rig.buttons.calls, "buttons are sampled again after the menu")

	assert.Equal(t, types.BootModeFirst, d.Mode)
	assert.Equal(t, types.FirmTypeNative, d.FirmType)
	assert.Equal(t, types.NandSys, d.Nand, "emuNAND chosen but absent")
	assert.Equal(t, types.NandSys, d.FirmSource)
	assert.Equal(t, uint32(0), rig.readConfig(t))
	assert.Same(t, d, s.Decision)
	require.NotNil(t, s.Config)
}

func TestResolve_SelectOpensMenu(t *testing.T) {
	rig := newTestRig(t)
	rig.writeConfig(t, prefWord(types.PrefAutobootSys))
	rig.buttons.values = []types.Buttons{types.ButtonSelect, 0}
	rig.menu.result = &types.BootConfig{Preferences: prefWord(types.PrefAutobootSys, types.PrefSplashScreen)}

	s := newSession()
	d, err := rig.resolver(t).Resolve(s)
	require.NoError(t, err)

	require.NotNil(t, rig.menu.seen)
	assert.True(t, rig.menu.seen.Pref(types.PrefAutobootSys))
	assert.Equal(t, 1, rig.splash.calls)
	assert.Equal(t, types.NandSys, d.Nand)
	assert.Equal(t, prefWord(types.PrefAutobootSys, types.PrefSplashScreen), rig.readConfig(t))
}

func TestResolve_SelectWithLSkipsMenu(t *testing.T) {
	rig := newTestRig(t)
	rig.writeConfig(t, prefWord(types.PrefAutobootSys))
	rig.buttons.values = []types.Buttons{types.ButtonSelect | types.ButtonL1}

	_, err := rig.resolver(t).Resolve(newSession())
	require.NoError(t, err)
	assert.Equal(t, 0, rig.menu.calls)
	assert.Equal(t, 1, rig.payloads.calls, "L+SELECT is a payload chord")
}

func TestResolve_QuitAGBForcesSysNAND(t *testing.T) {
	tests := []struct {
		name   string
		stored uint32
		want   uint32
	}{
		{
			name:   "stored options match, no rewrite",
			stored: 1<<types.ConfigProtectionShift | prefWord(types.PrefUpdatedSys),
			want:   1<<types.ConfigProtectionShift | prefWord(types.PrefUpdatedSys),
		},
		{
			name:   "no-forcing persisted with changed options",
			stored: uint32(types.NandEmu1) | prefWord(types.PrefUpdatedSys),
			want:   1<<types.ConfigProtectionShift | 1<<types.ConfigNoForcingShift | prefWord(types.PrefUpdatedSys),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t)
			rig.straps.a9lh = true
			rig.writeConfig(t, tt.stored)
			rig.bootEnv = device.NewBootEnv(types.BootEnvQuitAGB)
			rig.dev.BootEnv = rig.bootEnv

			d, err := rig.resolver(t).Resolve(newSession())
			require.NoError(t, err)

			assert.Equal(t, types.ProtectionStandard, d.Protection)
			assert.True(t, d.UpdatedSys)
			assert.True(t, d.Forced)
			assert.True(t, d.NoForcing)
			assert.Equal(t, types.NandSys, d.Nand)
			assert.Equal(t, types.NandSys, d.FirmSource)
			assert.Equal(t, 0, rig.payloads.calls)
			assert.Equal(t, 0, rig.splash.calls)
			assert.Equal(t, tt.want, rig.readConfig(t))
		})
	}
}

func TestResolve_BootEnvForcesLastOptions(t *testing.T) {
	rig := newTestRig(t)
	rig.straps.a9lh = true
	stored := uint32(types.NandEmu1) | 1<<types.ConfigFirmSourceShift | 1<<types.ConfigProtectionShift
	rig.writeConfig(t, stored)
	rig.bootEnv = device.NewBootEnv(1)
	rig.dev.BootEnv = rig.bootEnv
	rig.sectors.headers[1] = true

	d, err := rig.resolver(t).Resolve(newSession())
	require.NoError(t, err)

	assert.True(t, d.Forced)
	assert.Equal(t, types.NandEmu1, d.Nand)
	assert.Equal(t, types.NandEmu1, d.FirmSource)
	assert.Equal(t, uint32(1), d.EmuOffset)
	assert.Equal(t, stored, rig.readConfig(t))
}

func TestResolve_NoForcingFlagClearedAfterNormalBoot(t *testing.T) {
	rig := newTestRig(t)
	rig.straps.a9lh = true
	rig.writeConfig(t, 1<<types.ConfigProtectionShift|1<<types.ConfigNoForcingShift|prefWord(types.PrefAutobootSys))
	rig.bootEnv = device.NewBootEnv(1)
	rig.dev.BootEnv = rig.bootEnv

	d, err := rig.resolver(t).Resolve(newSession())
	require.NoError(t, err)

	assert.False(t, d.Forced)
	assert.Equal(t, types.NandSys, d.Nand)
	assert.Equal(t, 1<<types.ConfigProtectionShift|prefWord(types.PrefAutobootSys), rig.readConfig(t))
}

func TestResolve_SafeModeCombo(t *testing.T) {
	rig := newTestRig(t)
	rig.straps.a9lh = true
	rig.writeConfig(t, uint32(types.NandEmu1)|1<<types.ConfigProtectionShift)
	rig.buttons.values = []types.Buttons{types.SafeModeCombo}
	rig.sectors.headers[1] = true

	d, err := rig.resolver(t).Resolve(newSession())
	require.NoError(t, err)

	assert.Equal(t, types.ProtectionEnhanced, d.Protection)
	assert.Equal(t, types.NandSys, d.Nand)
	assert.Equal(t, types.NandSys, d.FirmSource)
	assert.Equal(t, 0, rig.payloads.calls)
	assert.Equal(t, uint32(1<<types.ConfigProtectionShift), rig.readConfig(t))
}

func TestResolve_ButtonSelection(t *testing.T) {
	tests := []struct {
		name       string
		stored     uint32
		pressed    types.Buttons
		headers    []uint32
		nand       types.NandType
		source     types.NandType
		emuOffset  uint32
		emuHeader  uint32
		wantConfig uint32
	}{
		{
			name:       "autoboot emuNAND with B picks second slot",
			pressed:    types.ButtonB,
			headers:    []uint32{1, 0x200001},
			nand:       types.NandEmu2,
			source:     types.NandEmu2,
			emuOffset:  0x200001,
			emuHeader:  0x200001,
			wantConfig: uint32(types.NandEmu2) | 1<<types.ConfigFirmSourceShift,
		},
		{
			name:       "second slot absent falls back to gateway first slot",
			pressed:    types.ButtonB,
			headers:    []uint32{testNandSectors},
			nand:       types.NandEmu1,
			source:     types.NandEmu1,
			emuOffset:  0,
			emuHeader:  testNandSectors,
			wantConfig: uint32(types.NandEmu1) | 1<<types.ConfigFirmSourceShift,
		},
		{
			name:       "L boots emuNAND when sysNAND is the default",
			stored:     prefWord(types.PrefAutobootSys),
			pressed:    types.ButtonL1,
			headers:    []uint32{1},
			nand:       types.NandEmu1,
			source:     types.NandEmu1,
			emuOffset:  1,
			emuHeader:  1,
			wantConfig: uint32(types.NandEmu1) | 1<<types.ConfigFirmSourceShift | prefWord(types.PrefAutobootSys),
		},
		{
			name:       "no emuNAND at all downgrades to sysNAND",
			pressed:    0,
			nand:       types.NandSys,
			source:     types.NandSys,
			wantConfig: 0,
		},
		{
			name:       "R boots sysNAND with emuNAND FIRM",
			pressed:    types.ButtonR1,
			headers:    []uint32{1},
			nand:       types.NandSys,
			source:     types.NandEmu1,
			emuOffset:  1,
			emuHeader:  1,
			wantConfig: 1 << types.ConfigFirmSourceShift,
		},
		{
			name:       "second slot default without B",
			stored:     prefWord(types.PrefSecondEmuDefault),
			headers:    []uint32{1, 0x200001},
			nand:       types.NandEmu2,
			source:     types.NandEmu2,
			emuOffset:  0x200001,
			emuHeader:  0x200001,
			wantConfig: uint32(types.NandEmu2) | 1<<types.ConfigFirmSourceShift | prefWord(types.PrefSecondEmuDefault),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t)
			rig.writeConfig(t, tt.stored)
			rig.buttons.values = []types.Buttons{tt.pressed}
			for _, h := range tt.headers {
				rig.sectors.headers[h] = true
			}

			d, err := rig.resolver(t).Resolve(newSession())
			require.NoError(t, err)

			assert.Equal(t, tt.nand, d.Nand)
			assert.Equal(t, tt.source, d.FirmSource)
			assert.Equal(t, tt.emuOffset, d.EmuOffset)
			assert.Equal(t, tt.emuHeader, d.EmuHeader)
			assert.Equal(t, tt.wantConfig, rig.readConfig(t))
		})
	}
}

func TestResolve_PayloadChord(t *testing.T) {
	rig := newTestRig(t)
	rig.writeConfig(t, 0)
	rig.buttons.values = []types.Buttons{types.ButtonLeft}
	rig.payloads.launch = true

	_, err := rig.resolver(t).Resolve(newSession())
	assert.ErrorIs(t, err, ErrPayloadLaunched)
	assert.Equal(t, 1, rig.payloads.calls)
	assert.Equal(t, 0, rig.splash.calls)
}

func TestResolve_MissingPayloadContinues(t *testing.T) {
	rig := newTestRig(t)
	rig.writeConfig(t, prefWord(types.PrefAutobootSys))
	rig.buttons.values = []types.Buttons{types.ButtonStart}
	rig.straps.screens = true

	d, err := rig.resolver(t).Resolve(newSession())
	require.NoError(t, err)
	assert.Equal(t, 1, rig.payloads.calls)
	assert.Equal(t, 1, rig.splash.calls)
	assert.Equal(t, types.NandSys, d.Nand)
}

func TestResolve_DevModeAlwaysTriesPayload(t *testing.T) {
	rig := newTestRig(t)
	rig.writeConfig(t, prefWord(types.PrefAutobootSys))

	s := newSession()
	s.DevMode = true
	_, err := rig.resolver(t).Resolve(s)
	require.NoError(t, err)
	assert.Equal(t, 1, rig.payloads.calls)
}

func TestResolve_Relaunch(t *testing.T) {
	rig := newTestRig(t)
	stored := prefWord(types.PrefUpdatedSys)
	rig.writeConfig(t, stored)
	rig.sectors.headers[1] = true
	require.NoError(t, device.SeedRelaunch(rig.memory, device.RelaunchConfig{
		FirmType: int(types.FirmTypeTWL),
		BootByte: 1<<types.ConfigProtectionShift | 1<<types.ConfigFirmSourceShift,
	}))

	d, err := rig.resolver(t).Resolve(newSession())
	require.NoError(t, err)

	assert.Equal(t, types.BootModeRelaunch, d.Mode)
	assert.Equal(t, types.FirmTypeTWL, d.FirmType)
	assert.Equal(t, types.ProtectionStandard, d.Protection)
	assert.True(t, d.UpdatedSys)
	assert.Equal(t, types.NandSys, d.Nand)
	assert.Equal(t, types.NandEmu1, d.FirmSource)
	assert.Equal(t, uint32(1), d.EmuOffset)

	assert.Equal(t, 0, rig.buttons.calls)
	assert.Equal(t, 0, rig.menu.calls)
	assert.Equal(t, stored, rig.readConfig(t), "relaunch never rewrites the record")
}

func TestResolve_RelaunchWithoutConfigResets(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, device.SeedRelaunch(rig.memory, device.RelaunchConfig{FirmType: 0}))

	d, err := rig.resolver(t).Resolve(newSession())
	assert.ErrorIs(t, err, ErrHardReset)
	assert.Nil(t, d)
	assert.Equal(t, 1, rig.resetter.Resets)
	assert.Equal(t, 0, rig.buttons.calls)
}

func TestResolve_RelaunchBadDiscriminantResets(t *testing.T) {
	rig := newTestRig(t)
	rig.writeConfig(t, 0)
	require.NoError(t, rig.memory.WriteAt([]byte{'9'}, types.RelaunchFlagAddress+5))

	_, err := rig.resolver(t).Resolve(newSession())
	assert.ErrorIs(t, err, ErrHardReset)
	assert.Equal(t, 1, rig.resetter.Resets)
}
