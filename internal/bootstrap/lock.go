package bootstrap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	// StaleLockThreshold is the maximum age of a lock before it's considered stale.
	StaleLockThreshold = 2 * time.Hour

	lockFileName = "chainboot.lock"
)

var ErrLockExists = errors.New("bootstrap lock exists: another bootstrap may be running")

// Lock keeps a second bootstrapper from running chained installers at the
// same time as this one.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock creates dir/chainboot.lock exclusively. A lock whose owner
// is gone, or which is older than StaleLockThreshold, is replaced once.
func AcquireLock(ctx context.Context, dir string) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lockPath := filepath.Join(dir, lockFileName)

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if !isLockStale(ctx, lockPath) {
			return nil, ErrLockExists
		}
		_ = os.Remove(lockPath)
		file, err = os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		if err != nil {
			return nil, ErrLockExists
		}
	}

	lockData := fmt.Sprintf("pid=%d\ntimestamp=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteString(lockData); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("write lock data: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("sync lock file: %w", err)
	}

	return &Lock{path: lockPath, file: file}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release releases the lock.
func (l *Lock) Release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if l.path != "" {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove lock file: %w", err)
		}
		l.path = ""
	}
	return nil
}

// isLockStale reports whether the lock at lockPath can be taken over: it is
// older than StaleLockThreshold or its recorded process no longer exists.
// An unreadable lock is only stale by age.
func isLockStale(ctx context.Context, lockPath string) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) > StaleLockThreshold {
		return true
	}

	pid, ok := readLockPID(lockPath)
	if !ok || pid == int32(os.Getpid()) {
		return false
	}
	exists, err := process.PidExistsWithContext(ctx, pid)
	if err != nil {
		return false
	}
	return !exists
}

func readLockPID(lockPath string) (int32, bool) {
	f, err := os.Open(lockPath)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		v, ok := strings.CutPrefix(sc.Text(), "pid=")
		if !ok {
			continue
		}
		pid, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
		if err != nil || pid <= 0 {
			return 0, false
		}
		return int32(pid), true
	}
	return 0, false
}
