package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
)

// NormalizePackagePath turns the raw package argument into an absolute
// path. A leading quote strips everything from the closing quote on, and a
// path without a directory is resolved against the working directory.
// The second result is false for an empty argument.
func NormalizePackagePath(arg string) (string, bool) {
	p := strings.TrimSpace(arg)
	if strings.HasPrefix(p, `"`) {
		p = p[1:]
		if i := strings.IndexByte(p, '"'); i >= 0 {
			p = p[:i]
		}
	}
	if p == "" {
		return "", false
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p), true
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs, true
	}
	wd, _ := os.Getwd()
	return filepath.Join(wd, p), true
}
