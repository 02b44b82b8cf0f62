// Package testutil provides utilities for testing chainboot in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Env holds the isolated directories created by SetupTestEnv.
type Env struct {
	Root       string
	TempDir    string
	RuntimeDir string
	Bootstrap  string
	Package    string
}

// SetupTestEnv creates isolated test directories for each test.
// This ensures chainboot tests never interfere with:
// - The real system temporary directory
// - Other bootstrapper runs sharing the runtime directory
// - An operator-configured bootstrap server
//
// The cleanup function is automatically handled by t.TempDir(),
// so callers don't need to manually clean up.
func SetupTestEnv(t *testing.T) *Env {
	t.Helper()

	tmpDir := t.TempDir()
	env := &Env{
		Root:       tmpDir,
		TempDir:    filepath.Join(tmpDir, "tmp"),
		RuntimeDir: filepath.Join(tmpDir, "run"),
		Bootstrap:  filepath.Join(tmpDir, "bootstrap"),
		Package:    filepath.Join(tmpDir, "package"),
	}

	t.Setenv("CHAINBOOT_TEMP_DIR", env.TempDir)
	t.Setenv("CHAINBOOT_RUNTIME_DIR", env.RuntimeDir)
	t.Setenv("CHAINBOOT_BOOTSTRAP_SERVER", "")

	// Mark as test mode
	t.Setenv("CHAINBOOT_TEST_MODE", "1")

	for _, dir := range []string{env.TempDir, env.RuntimeDir, env.Bootstrap, env.Package} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	return env
}

// WriteFile writes content to dir/name and returns the full path.
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("failed to create dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}
