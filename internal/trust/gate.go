package trust

import "os"

// Gate verifies that a file chains to a trusted authority.
type Gate interface {
	// IsTrusted reports whether the file at path exists and carries a
	// signature that chains to a trusted authority.
	IsTrusted(path string) bool
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(path string) bool

// IsTrusted calls f(path).
func (f GateFunc) IsTrusted(path string) bool {
	return f(path)
}

// anyOf trusts a file when at least one member gate trusts it.
type anyOf []Gate

// AnyOf returns a gate that trusts a file when any of gates trusts it.
// Nil gates are ignored. With no gates nothing is trusted.
func AnyOf(gates ...Gate) Gate {
	var members anyOf
	for _, g := range gates {
		if g != nil {
			members = append(members, g)
		}
	}
	return members
}

func (a anyOf) IsTrusted(path string) bool {
	if !fileExists(path) {
		return false
	}
	for _, g := range a {
		if g.IsTrusted(path) {
			return true
		}
	}
	return false
}

// fileExists checks if path names an existing regular file.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
