package platform

import (
	"context"
	"runtime"
	"strings"
	"testing"
)

// MockDetector is a test implementation of Detector.
type MockDetector struct {
	info *Info
	err  error
}

// NewMockDetector creates a mock detector with specified return values.
func NewMockDetector(info *Info, err error) Detector {
	return &MockDetector{info: info, err: err}
}

func (m *MockDetector) Detect(ctx context.Context) (*Info, error) {
	return m.info, m.err
}

func TestRealDetector_Detect(t *testing.T) {
	t.Setenv(LocaleEnv, "fr_FR.UTF-8")

	info, err := NewDetector().Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if info.OS != runtime.GOOS {
		t.Errorf("OS = %v, want %v", info.OS, runtime.GOOS)
	}
	if info.ArchRaw != runtime.GOARCH {
		t.Errorf("ArchRaw = %v, want %v", info.ArchRaw, runtime.GOARCH)
	}
	if info.Arch == "" {
		t.Error("Arch should not be empty")
	}
	if info.Locale != "fr-FR" {
		t.Errorf("Locale = %q, want fr-FR", info.Locale)
	}
	if info.Platform != "" && info.IsLinux() && info.Family == "" {
		t.Error("Family should be set when a Linux platform is detected")
	}
	if !info.IsLinux() && info.Family != "" {
		t.Errorf("Family should be empty off Linux, got %q", info.Family)
	}
}

func TestRealDetector_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	info, err := NewDetector().Detect(ctx)
	// gopsutil may answer from cache without consulting ctx; either a
	// complete result or a cancellation error is acceptable.
	if err == nil && info == nil {
		t.Fatal("Detect returned neither info nor error")
	}
	if err != nil && !strings.Contains(err.Error(), "cancelled") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNormalizeArch(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"amd64", "amd64", false},
		{"x86_64", "amd64", false},
		{"aarch64", "arm64", false},
		{"i686", "386", false},
		{"riscv64", "", true},
	}
	for _, tt := range tests {
		got, err := normalizeArch(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("normalizeArch(%q) = (%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestMapFamily(t *testing.T) {
	tests := map[string]string{
		"debian":   FamilyDebian,
		" Ubuntu ": FamilyDebian,
		"rocky":    FamilyRHEL,
		"opensuse": FamilySUSE,
		"manjaro":  FamilyArch,
		"nixos":    FamilyUnknown,
	}
	for in, want := range tests {
		if got := mapFamily(in); got != want {
			t.Errorf("mapFamily(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUserAgent(t *testing.T) {
	info := &Info{OS: "windows", Arch: "amd64", Platform: "microsoft windows 11 pro", Version: "10.0.22631"}
	want := "chainboot/1.2.0 (windows; amd64; microsoft windows 11 pro 10.0.22631)"
	if got := info.UserAgent("chainboot", "1.2.0"); got != want {
		t.Errorf("UserAgent = %q, want %q", got, want)
	}

	bare := &Info{OS: "linux", Arch: "arm64"}
	if got := bare.UserAgent("chainboot", "dev"); got != "chainboot/dev (linux; arm64)" {
		t.Errorf("UserAgent = %q", got)
	}
}
