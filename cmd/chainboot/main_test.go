package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/chainboot/internal/bootstrap"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/config"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/testutil"
)

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "chainboot "+Version) {
		t.Errorf("output = %q", out)
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", config.FileName)

	out, err := runCLI(t, "config", "init", "--output", path)
	if err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("output = %q", out)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := config.NewParser(nil).ParseString(context.Background(), string(data))
	if err != nil {
		t.Fatalf("generated config does not parse: %v", err)
	}
	if cfg.SecondStage != config.Default().SecondStage {
		t.Errorf("SecondStage = %q", cfg.SecondStage)
	}

	if _, err := runCLI(t, "config", "init", "--output", path); err == nil || !strings.Contains(err.Error(), "--force") {
		t.Errorf("second init should refuse to overwrite, got %v", err)
	}
	if _, err := runCLI(t, "config", "init", "--output", path, "--force"); err != nil {
		t.Errorf("--force should overwrite: %v", err)
	}
}

func TestLocateCommand(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	signer := testutil.NewSigner(t)
	confDir := filepath.Join(env.Root, "conf")
	signer.WriteKeyring(t, confDir)
	confPath := testutil.WriteFile(t, confDir, config.FileName, []byte(`
chainboot = {
  servers = { default = "https://127.0.0.1:1/" },
  trust = { keyring = "trusted-keys.asc", authenticode = false },
  log = { level = "error" },
}
`))
	artifact := signer.WriteSigned(t, env.Package, "tool.exe", []byte("tool"))

	out, err := runCLI(t, "--config", confPath, "locate", "--package", filepath.Join(env.Package, "product.zip"), "tool.exe")
	if err != nil {
		t.Fatalf("locate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, artifact) || !strings.Contains(out, "package folder") {
		t.Errorf("output = %q", out)
	}
}

func TestRunCommand_MissingPackage(t *testing.T) {
	testutil.SetupTestEnv(t)
	confPath := testutil.WriteFile(t, t.TempDir(), config.FileName, []byte(`chainboot = { log = { level = "error" } }`))

	_, err := runCLI(t, "--config", confPath, "run", "--no-progress")
	if bootstrap.CodeOf(err) != bootstrap.ExitMissingPackage {
		t.Fatalf("code = %v (%v), want ExitMissingPackage", bootstrap.CodeOf(err), err)
	}
}

func TestSetup_InvalidConfig(t *testing.T) {
	confPath := testutil.WriteFile(t, t.TempDir(), config.FileName, []byte(`chainboot = {`))

	_, err := runCLI(t, "--config", confPath, "locate", "x")
	if bootstrap.CodeOf(err) != bootstrap.ExitConfig {
		t.Fatalf("code = %v (%v), want ExitConfig", bootstrap.CodeOf(err), err)
	}
}

func TestSetup_InvalidConfigVerbose(t *testing.T) {
	confPath := testutil.WriteFile(t, t.TempDir(), config.FileName, []byte(`chainboot = {`))

	_, err := runCLI(t, "--verbose", "--config", confPath, "locate", "x")
	if bootstrap.CodeOf(err) != bootstrap.ExitConfig {
		t.Fatalf("code = %v (%v), want ExitConfig", bootstrap.CodeOf(err), err)
	}
	var parseErr *config.ParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("parse error not wrapped: %v", err)
	}
	if !strings.Contains(err.Error(), "Details:") {
		t.Errorf("verbose error should carry details: %v", err)
	}

	if code := execute([]string{"-v", "-c", confPath, "locate", "x"}); code != int(bootstrap.ExitConfig) {
		t.Errorf("execute = %d, want %d", code, bootstrap.ExitConfig)
	}
}

func TestExecute_ExitCodes(t *testing.T) {
	if code := execute([]string{"version"}); code != 0 {
		t.Errorf("execute(version) = %d", code)
	}
	if code := execute([]string{"no-such-command"}); code != 1 {
		t.Errorf("execute(unknown) = %d, want 1", code)
	}
}
