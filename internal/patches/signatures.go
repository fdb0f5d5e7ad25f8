package patches

import (
	"github.com/deploymenttheory/go-firmboot/internal/buffer"
	"github.com/deploymenttheory/go-firmboot/internal/session"
	"github.com/deploymenttheory/go-firmboot/internal/types"
)

var (
	// Thumb call site of the RSA verification helper, its result check follows.
	sigCheckCallPattern = []byte{0xC0, 0x1C, 0x76, 0xE7}

	// Second byte of "push {..., lr}" at the start of the signature verifier.
	sigVerifierPattern = []byte{0xB5, 0x22, 0x4D, 0x0C}

	// Start of the title minimum-version table: a title ID entry follows the marker byte.
	minVersionTablePattern = []byte{0xFF, 0x00, 0x00, 0x02}
)

// PatchSignatureChecks makes the Process9 signature checks report success: the
// result of the RSA helper call is forced to zero and the verifier function is
// replaced by "movs r0, #0; bx lr".
func PatchSignatureChecks(p9 *buffer.Buffer) session.PatchResult {
	call := p9.Search(sigCheckCallPattern)
	verifier := p9.Search(sigVerifierPattern)
	if call == buffer.NotFound && verifier == buffer.NotFound {
		return skipped(NameSignatureChecks, types.SectionArm9, "signature check patterns not found")
	}

	first := -1
	if call != buffer.NotFound {
		if err := p9.PutUint16(call, thumbMovsR0); err == nil {
			first = call
		}
	}
	if verifier != buffer.NotFound {
		fn := verifier - 1
		if p9.Contains(fn, 4) {
			_ = p9.PutUint16(fn, thumbMovsR0)
			_ = p9.PutUint16(fn+2, thumbBxLr)
			if first < 0 {
				first = fn
			}
		}
	}

	if first < 0 {
		return skipped(NameSignatureChecks, types.SectionArm9, "signature check patch sites out of bounds")
	}
	return applied(NameSignatureChecks, types.SectionArm9, first)
}

// PatchTitleInstallMinVersionCheck clears the first title ID in the minimum
// version table so lower-versioned titles can be installed again.
func PatchTitleInstallMinVersionCheck(p9 *buffer.Buffer) session.PatchResult {
	match := p9.Search(minVersionTablePattern)
	if match == buffer.NotFound {
		return skipped(NameTitleMinVersion, types.SectionArm9, "minimum version table not found")
	}

	if err := p9.Write(match+1, make([]byte, 8)); err != nil {
		return skipped(NameTitleMinVersion, types.SectionArm9, "minimum version table truncated: %v", err)
	}
	return applied(NameTitleMinVersion, types.SectionArm9, match+1)
}
