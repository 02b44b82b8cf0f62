package trust

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/ZebulonRouseFrantzich/chainboot/internal/logging"
)

// AuthenticodeGate verifies the embedded code-signing signature of a file
// with WinVerifyTrust. The signing certificate must chain to a trusted root,
// must not be explicitly distrusted and must carry code-signing authority.
type AuthenticodeGate struct {
	logger logging.Logger
}

// NewAuthenticodeGate creates a gate backed by WinVerifyTrust.
func NewAuthenticodeGate(logger logging.Logger) *AuthenticodeGate {
	return &AuthenticodeGate{logger: logging.OrNoop(logger)}
}

// Available reports whether the platform supports Authenticode.
func (g *AuthenticodeGate) Available() bool {
	return true
}

// IsTrusted runs the generic verify policy with all UI suppressed.
func (g *AuthenticodeGate) IsTrusted(path string) bool {
	if !fileExists(path) {
		return false
	}

	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return false
	}

	fileInfo := &windows.WinTrustFileInfo{
		Size:     uint32(unsafe.Sizeof(windows.WinTrustFileInfo{})),
		FilePath: pathPtr,
	}
	data := &windows.WinTrustData{
		Size:                            uint32(unsafe.Sizeof(windows.WinTrustData{})),
		UIChoice:                        windows.WTD_UI_NONE,
		RevocationChecks:                windows.WTD_REVOKE_NONE,
		UnionChoice:                     windows.WTD_CHOICE_FILE,
		StateAction:                     windows.WTD_STATEACTION_VERIFY,
		ProvFlags:                       windows.WTD_SAFER_FLAG,
		FileOrCatalogOrBlobOrSgnrOrCert: unsafe.Pointer(fileInfo),
	}

	verifyErr := windows.WinVerifyTrustEx(windows.InvalidHWND, &windows.WINTRUST_ACTION_GENERIC_VERIFY_V2, data)

	// Release the state data allocated by the verify call.
	data.StateAction = windows.WTD_STATEACTION_CLOSE
	if err := windows.WinVerifyTrustEx(windows.InvalidHWND, &windows.WINTRUST_ACTION_GENERIC_VERIFY_V2, data); err != nil {
		g.logger.Debug("close trust state", "path", path, "error", err)
	}

	if verifyErr != nil {
		g.logger.Debug("authenticode rejected", "path", path, "error", verifyErr)
		return false
	}
	return true
}
