package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"        //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/ProtonMail/go-crypto/openpgp/armor"  //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/ProtonMail/go-crypto/openpgp/packet" //nolint:staticcheck // Using ProtonMail's maintained fork
)

// Signer produces detached OpenPGP signatures with a throwaway key.
type Signer struct {
	entity *openpgp.Entity
}

var (
	signerOnce   sync.Once
	sharedSigner *Signer
	signerErr    error

	otherOnce   sync.Once
	otherSigner *Signer
	otherErr    error
)

func newSigner(name string) (*Signer, error) {
	cfg := &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA}
	entity, err := openpgp.NewEntity(name, "test", name+"@chainboot.invalid", cfg)
	if err != nil {
		return nil, err
	}
	return &Signer{entity: entity}, nil
}

// NewSigner returns the package-wide test signer. Key generation happens
// once per test binary.
func NewSigner(t *testing.T) *Signer {
	t.Helper()
	signerOnce.Do(func() {
		sharedSigner, signerErr = newSigner("chainboot-test")
	})
	if signerErr != nil {
		t.Fatalf("failed to generate signing key: %v", signerErr)
	}
	return sharedSigner
}

// NewUntrustedSigner returns a second signer whose key is never part of
// the keyrings written by WriteKeyring.
func NewUntrustedSigner(t *testing.T) *Signer {
	t.Helper()
	otherOnce.Do(func() {
		otherSigner, otherErr = newSigner("chainboot-untrusted")
	})
	if otherErr != nil {
		t.Fatalf("failed to generate signing key: %v", otherErr)
	}
	return otherSigner
}

// Entity exposes the underlying key.
func (s *Signer) Entity() *openpgp.Entity {
	return s.entity
}

// Keyring returns a keyring containing only this signer's key.
func (s *Signer) Keyring() openpgp.EntityList {
	return openpgp.EntityList{s.entity}
}

// ArmoredPublicKey returns the armored public key block.
func (s *Signer) ArmoredPublicKey(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatalf("armor encode: %v", err)
	}
	if err := s.entity.Serialize(w); err != nil {
		t.Fatalf("serialize public key: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close armor: %v", err)
	}
	return buf.Bytes()
}

// WriteKeyring writes the armored public key to dir and returns its path.
func (s *Signer) WriteKeyring(t *testing.T, dir string) string {
	t.Helper()
	return WriteFile(t, dir, "trusted-keys.asc", s.ArmoredPublicKey(t))
}

// Sign returns a binary detached signature over data.
func (s *Signer) Sign(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := openpgp.DetachSign(&buf, s.entity, bytes.NewReader(data), nil); err != nil {
		t.Fatalf("detach sign: %v", err)
	}
	return buf.Bytes()
}

// SignArmored returns an armored detached signature over data.
func (s *Signer) SignArmored(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&buf, s.entity, bytes.NewReader(data), nil); err != nil {
		t.Fatalf("armored detach sign: %v", err)
	}
	return buf.Bytes()
}

// SignFile writes a binary detached signature next to path (path + ".sig").
func (s *Signer) SignFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return WriteFile(t, filepath.Dir(path), filepath.Base(path)+".sig", s.Sign(t, data))
}

// WriteSigned writes content to dir/name together with its signature.
func (s *Signer) WriteSigned(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	path := WriteFile(t, dir, name, content)
	s.SignFile(t, path)
	return path
}
