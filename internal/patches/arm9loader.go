package patches

import (
	"bytes"
	"fmt"

	"github.com/deploymenttheory/go-firmboot/internal/interfaces"
	"github.com/deploymenttheory/go-firmboot/internal/parsers/firm"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

// NativeVersion classifies a NATIVE_FIRM build by the patches it tolerates.
type NativeVersion int

const (
	// NativeVersion90 is the 9.0 FIRM; patching its firmlaunch breaks firmlaunchhax.
	NativeVersion90 NativeVersion = 0
	// NativeVersionCurrent is any later build.
	NativeVersionCurrent NativeVersion = 1
	// NativeVersionN3DS11 is an N3DS build using the second arm9loader key set.
	NativeVersionN3DS11 NativeVersion = 2
)

// Byte of the N3DS ARM9 section that tells arm9loader revisions apart.
const n3dsLoaderRevisionOffset = 0x53

// First half of the ARM9 section hash of the O3DS 9.0 NATIVE_FIRM.
var firm90Hash = []byte{
	0x27, 0x2D, 0xFE, 0xEB, 0xAF, 0x3F, 0x6B, 0x3B,
	0xF5, 0xDE, 0x4C, 0x41, 0xDE, 0x95, 0x27, 0x6A,
}

// DetectNativeVersion classifies the staged NATIVE_FIRM. N3DS builds are told
// apart by the arm9loader revision byte, O3DS builds by the ARM9 section hash.
func DetectNativeVersion(img *firm.Image, console types.ConsoleFamily) (NativeVersion, error) {
	if console == types.ConsoleN3DS {
		arm9, err := img.Section(types.SectionArm9)
		if err != nil {
			return 0, err
		}
		rev, err := arm9.Byte(n3dsLoaderRevisionOffset)
		if err != nil {
			return 0, err
		}
		switch rev {
		case 0xFF:
			return NativeVersion90, nil
		case '1':
			return NativeVersionN3DS11, nil
		default:
			return NativeVersionCurrent, nil
		}
	}

	hash := img.SectionHeader(types.SectionArm9).Hash
	if bytes.Equal(hash[:len(firm90Hash)], firm90Hash) {
		return NativeVersion90, nil
	}
	return NativeVersionCurrent, nil
}

// BypassArm9Loader decrypts the arm9bin of section n and points the ARM9 entry
// past the arm9loader stage. It only applies to N3DS images.
func BypassArm9Loader(img *firm.Image, dec interfaces.Arm9LoaderDecryptor, n int, variant NativeVersion, entry uint32) (session.PatchResult, error) {
	sec, err := img.Section(n)
	if err != nil {
		return skipped(NameArm9LoaderBypass, n, "%v", err), nil
	}
	if dec == nil {
		return session.PatchResult{}, fmt.Errorf("arm9loader decryptor cannot be nil")
	}

	if err := dec.DecryptArm9Bin(sec.Bytes(), int(variant)); err != nil {
		return session.PatchResult{}, fmt.Errorf("failed to decrypt arm9bin of section %d: %w", n, err)
	}
	if err := img.SetArm9Entry(entry); err != nil {
		return session.PatchResult{}, fmt.Errorf("failed to set ARM9 entry: %w", err)
	}

	return applied(NameArm9LoaderBypass, n, 0), nil
}
