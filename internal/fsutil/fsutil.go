// Package fsutil holds the small filesystem helpers shared by the
// acquisition packages.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// TempDirEnv overrides the directory used for produced artifacts.
const TempDirEnv = "CHAINBOOT_TEMP_DIR"

// seq disambiguates names created within the same clock tick.
var seq atomic.Uint64

// TempDir returns the directory produced artifacts are written to:
// $CHAINBOOT_TEMP_DIR when set, otherwise the system temporary directory.
func TempDir() string {
	if dir := os.Getenv(TempDirEnv); dir != "" {
		return dir
	}
	return os.TempDir()
}

// TempName returns a collision-resistant path in dir for a file that will
// hold name: "<base>[<stamp>].<ext>". The extension is kept last so the
// platform still recognises executables and packages.
func TempName(dir, name string) string {
	if dir == "" {
		dir = TempDir()
	}
	base, ext := SplitExt(filepath.Base(name))
	stamp := fmt.Sprintf("%d-%d", time.Now().UnixNano(), seq.Add(1))
	if ext == "" {
		return filepath.Join(dir, fmt.Sprintf("%s[%s]", base, stamp))
	}
	return filepath.Join(dir, fmt.Sprintf("%s[%s].%s", base, stamp, ext))
}

// SplitExt splits name at its last dot. The extension is returned without
// the dot; a name without a dot has an empty extension.
func SplitExt(name string) (base, ext string) {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// FileExists checks if path names an existing regular file.
func FileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// RemoveIfExists deletes path, ignoring a missing file.
func RemoveIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
