// File: internal/interfaces/hardware.go
package interfaces

import "github.com/deploymenttheory/go-firmboot/internal/types"

// StrapProvider exposes the read-only hardware straps sampled during boot
type StrapProvider interface {
	// ConsoleFamily reports the hardware generation (PDN_MPCORE_CFG)
	ConsoleFamily() types.ConsoleFamily

	// ProtectionDevicePresent reports whether the boot came through a boot-ROM
	// protection device (PDN_SPI_CNT left untouched)
	ProtectionDevicePresent() bool

	// ScreensInitialized reports whether a previous stage already brought up the displays
	ScreensInitialized() bool

	// NandSectors returns the size of the physical NAND in sectors
	NandSectors() uint32
}

// ButtonReader samples the current button state (HID_PAD)
type ButtonReader interface {
	Pressed() types.Buttons
}

// BootEnvRegister is CFG_BOOTENV: the marker left by the last firmware that
// rebooted the console through the MCU
type BootEnvRegister interface {
	BootEnv() uint32
	ClearBootEnv()
}

// PhysicalMemory gives access to physical addresses outside the staging buffer
type PhysicalMemory interface {
	// ReadAt fills p from physical address addr
	ReadAt(p []byte, addr uint32) error

	// WriteAt copies p to physical address addr
	WriteAt(p []byte, addr uint32) error
}

// Jumper performs the final control transfer
type Jumper interface {
	// Jump branches to the ARM9 entry of the handoff. On hardware it does not return.
	Jump(h types.Handoff) types.Never
}

// Resetter forces a hardware reset through the MCU
type Resetter interface {
	Reset()
}

// Display is the screen driver used by earlier stages
type Display interface {
	// Deinit hands the displays back in the state the firmware expects
	Deinit()
}
