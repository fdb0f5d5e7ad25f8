package services

import (
	"fmt"
	"strings"

	"github.com/deploymenttheory/go-firmboot/internal/interfaces"
)

// Devices groups every hardware and storage collaborator one boot talks to.
type Devices struct {
	Straps   interfaces.StrapProvider
	Buttons  interfaces.ButtonReader
	BootEnv  interfaces.BootEnvRegister
	Memory   interfaces.PhysicalMemory
	Jumper   interfaces.Jumper
	Resetter interfaces.Resetter
	Display  interfaces.Display

	SD      interfaces.FileStore
	Sectors interfaces.SectorReader
	NAND    interfaces.NandMounter

	Menu       interfaces.ConfigMenu
	Payloads   interfaces.PayloadLauncher
	Splash     interfaces.SplashScreen
	ExeFS      interfaces.ExeFSDecryptor
	Arm9Loader interfaces.Arm9LoaderDecryptor
}

// Validate reports every missing collaborator at once.
func (d *Devices) Validate() error {
	if d == nil {
		return fmt.Errorf("devices cannot be nil")
	}

	var missing []string
	check := func(name string, present bool) {
		if !present {
			missing = append(missing, name)
		}
	}
	check("straps", d.Straps != nil)
	check("buttons", d.Buttons != nil)
	check("boot env", d.BootEnv != nil)
	check("memory", d.Memory != nil)
	check("jumper", d.Jumper != nil)
	check("resetter", d.Resetter != nil)
	check("display", d.Display != nil)
	check("sd", d.SD != nil)
	check("sectors", d.Sectors != nil)
	check("nand", d.NAND != nil)
	check("menu", d.Menu != nil)
	check("payloads", d.Payloads != nil)
	check("splash", d.Splash != nil)
	check("exefs", d.ExeFS != nil)
	check("arm9loader", d.Arm9Loader != nil)

	if len(missing) > 0 {
		return fmt.Errorf("missing devices: %s", strings.Join(missing, ", "))
	}
	return nil
}
