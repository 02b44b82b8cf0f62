// Package platform detects the host OS, architecture, distribution and user
// locale, and exposes them to Lua configuration as a read-only table.
package platform

import (
	"context"
	"fmt"
	"strings"
)

// Linux distribution families.
const (
	FamilyDebian  = "debian"
	FamilyRHEL    = "rhel"
	FamilyFedora  = "fedora"
	FamilySUSE    = "suse"
	FamilyArch    = "arch"
	FamilyAlpine  = "alpine"
	FamilyUnknown = "unknown"
)

// Info describes the host.
type Info struct {
	OS       string // "linux", "darwin", "windows"
	Arch     string // normalized: "amd64", "arm64", "386"
	ArchRaw  string // runtime.GOARCH
	Platform string // e.g. "ubuntu", "microsoft windows 11 pro"
	Family   string // Linux family, "" elsewhere
	Version  string // platform version
	// Locale is the user's BCP 47 language tag, e.g. "de-DE".
	Locale string
}

func (i *Info) IsLinux() bool   { return i.OS == "linux" }
func (i *Info) IsMacOS() bool   { return i.OS == "darwin" }
func (i *Info) IsWindows() bool { return i.OS == "windows" }

// UserAgent builds the HTTP User-Agent for product/version.
func (i *Info) UserAgent(product, version string) string {
	parts := []string{i.OS, i.Arch}
	if i.Platform != "" {
		p := i.Platform
		if i.Version != "" {
			p += " " + i.Version
		}
		parts = append(parts, p)
	}
	return fmt.Sprintf("%s/%s (%s)", product, version, strings.Join(parts, "; "))
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}
