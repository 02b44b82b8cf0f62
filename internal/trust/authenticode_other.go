//go:build !windows

package trust

import "github.com/ZebulonRouseFrantzich/chainboot/internal/logging"

// AuthenticodeGate verifies embedded code-signing signatures. Authenticode
// is a Windows facility; on this platform the gate trusts nothing.
type AuthenticodeGate struct{}

// NewAuthenticodeGate returns a gate that rejects every file.
func NewAuthenticodeGate(logger logging.Logger) *AuthenticodeGate {
	return &AuthenticodeGate{}
}

// Available reports whether the platform supports Authenticode.
func (g *AuthenticodeGate) Available() bool {
	return false
}

// IsTrusted always returns false.
func (g *AuthenticodeGate) IsTrusted(path string) bool {
	return false
}
