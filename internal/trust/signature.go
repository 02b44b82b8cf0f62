package trust

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork

	"github.com/ZebulonRouseFrantzich/chainboot/internal/logging"
)

const (
	// SignatureExt is the extension of a binary detached signature.
	SignatureExt = ".sig"
	// ArmoredSignatureExt is the extension of an armored detached signature.
	ArmoredSignatureExt = ".asc"

	signatureLimit = 64 * 1024
)

// SignatureGate trusts files with a valid OpenPGP detached signature made
// by a key in its keyring.
type SignatureGate struct {
	keyring openpgp.EntityList
	logger  logging.Logger
}

// NewSignatureGate creates a gate trusting signatures from keyring.
func NewSignatureGate(keyring openpgp.EntityList, logger logging.Logger) *SignatureGate {
	return &SignatureGate{
		keyring: keyring,
		logger:  logging.OrNoop(logger),
	}
}

// SignatureSidecars returns the detached signature paths considered for
// path, in lookup order.
func SignatureSidecars(path string) []string {
	return []string{path + SignatureExt, path + ArmoredSignatureExt}
}

// IsTrusted reports whether path is signed by a key in the gate's keyring.
// Expired or revoked signing keys are rejected.
func (g *SignatureGate) IsTrusted(path string) bool {
	if !fileExists(path) {
		return false
	}
	if len(g.keyring) == 0 {
		g.logger.Debug("signature check skipped: empty keyring", "path", path)
		return false
	}

	for _, sigPath := range SignatureSidecars(path) {
		if !fileExists(sigPath) {
			continue
		}
		if err := g.verify(path, sigPath); err != nil {
			g.logger.Debug("signature rejected", "path", path, "signature", sigPath, "error", err)
			continue
		}
		return true
	}

	g.logger.Debug("no valid signature", "path", path)
	return false
}

// verify checks one detached signature against the file.
func (g *SignatureGate) verify(path, sigPath string) error {
	sigFile, err := os.Open(sigPath)
	if err != nil {
		return fmt.Errorf("open signature: %w", err)
	}
	sig, err := readAllLimited(sigFile, signatureLimit)
	sigFile.Close()
	if err != nil {
		return fmt.Errorf("read signature: %w", err)
	}

	signed, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer signed.Close()

	if isArmored(sig) {
		_, err = openpgp.CheckArmoredDetachedSignature(g.keyring, signed, bytes.NewReader(sig), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(g.keyring, signed, bytes.NewReader(sig), nil)
	}
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}
