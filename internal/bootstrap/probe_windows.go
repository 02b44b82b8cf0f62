//go:build windows

package bootstrap

import (
	"strings"

	"golang.org/x/sys/windows/registry"
)

// RegistryProbe is satisfied when a registry value exists and is non-zero
// (DWORD) or non-empty (string).
type RegistryProbe struct {
	Root  registry.Key
	Path  string
	Value string
}

var registryRoots = map[string]registry.Key{
	"HKLM":               registry.LOCAL_MACHINE,
	"HKEY_LOCAL_MACHINE": registry.LOCAL_MACHINE,
	"HKCU":               registry.CURRENT_USER,
	"HKEY_CURRENT_USER":  registry.CURRENT_USER,
}

// ParseRegistryProbe parses `HKLM\Path\To\Key#Value`.
func ParseRegistryProbe(spec string) (*RegistryProbe, bool) {
	key, value, ok := strings.Cut(spec, "#")
	if !ok {
		return nil, false
	}
	rootName, path, ok := strings.Cut(key, `\`)
	if !ok {
		return nil, false
	}
	root, ok := registryRoots[strings.ToUpper(rootName)]
	if !ok {
		return nil, false
	}
	return &RegistryProbe{Root: root, Path: path, Value: value}, true
}

func newRegistryProbe(spec string) Probe {
	p, ok := ParseRegistryProbe(spec)
	if !ok {
		return nil
	}
	return p
}

func (p *RegistryProbe) Installed() bool {
	k, err := registry.OpenKey(p.Root, p.Path, registry.QUERY_VALUE)
	if err != nil {
		return false
	}
	defer k.Close()

	if n, _, err := k.GetIntegerValue(p.Value); err == nil {
		return n != 0
	}
	if s, _, err := k.GetStringValue(p.Value); err == nil {
		return s != ""
	}
	return false
}
