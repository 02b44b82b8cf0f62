//go:build !windows

package bootstrap

// newRegistryProbe returns nil: there is no registry off windows.
func newRegistryProbe(spec string) Probe {
	return nil
}
