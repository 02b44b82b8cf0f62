package bootstrap

import (
	"github.com/ZebulonRouseFrantzich/chainboot/internal/config"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/fsutil"
)

// Probe reports whether the prerequisite runtime is already installed.
type Probe interface {
	Installed() bool
}

// PathProbe is satisfied when a regular file exists at the path.
type PathProbe string

func (p PathProbe) Installed() bool {
	return fsutil.FileExists(string(p))
}

// anyProbe is satisfied when any member is.
type anyProbe []Probe

func (a anyProbe) Installed() bool {
	for _, p := range a {
		if p.Installed() {
			return true
		}
	}
	return false
}

// NewProbe builds the probe described by cfg. It returns nil when cfg names
// nothing this platform can check.
func NewProbe(cfg config.Probe) Probe {
	var probes anyProbe
	if cfg.Path != "" {
		probes = append(probes, PathProbe(cfg.Path))
	}
	if cfg.Registry != "" {
		if p := newRegistryProbe(cfg.Registry); p != nil {
			probes = append(probes, p)
		}
	}
	if len(probes) == 0 {
		return nil
	}
	return probes
}
