//go:build !windows

package platform

// systemLocale has no source beyond the environment on unix.
func systemLocale() string {
	return ""
}
