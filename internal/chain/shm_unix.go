//go:build unix

package chain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"
)

// RuntimeDir returns the directory holding channel files.
func RuntimeDir() string {
	if dir := os.Getenv(RuntimeDirEnv); dir != "" {
		return dir
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "chainboot")
	}
	return filepath.Join(os.TempDir(), "chainboot")
}

func objectPath(name string) string {
	return filepath.Join(RuntimeDir(), name)
}

// fileRegion is a shared file mapping.
type fileRegion struct {
	path  string
	mem   []byte
	owner bool
}

func createRegion(name string) (region, error) {
	path := objectPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := f.Truncate(RecordSize); err != nil {
		os.Remove(path)
		return nil, err
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, RecordSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &fileRegion{path: path, mem: mem, owner: true}, nil
}

func openRegion(name string) (region, error) {
	path := objectPath(name)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < RecordSize {
		return nil, fmt.Errorf("%s: %d bytes, want %d", path, info.Size(), RecordSize)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, RecordSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &fileRegion{path: path, mem: mem}, nil
}

func (r *fileRegion) Bytes() []byte { return r.mem }

func (r *fileRegion) Close() error {
	err := unix.Munmap(r.mem)
	if r.owner {
		if rmErr := os.Remove(r.path); rmErr != nil && !os.IsNotExist(rmErr) {
			err = errors.Join(err, rmErr)
		}
	}
	return err
}

// fileEvent is a wake event backed by a file whose writes are observed
// with fsnotify. Only the creating side watches.
type fileEvent struct {
	path    string
	owner   bool
	watcher *fsnotify.Watcher
	ch      chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

func createEvent(name string) (event, error) {
	path := objectPath(name)
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		os.Remove(path)
		return nil, err
	}
	e := &fileEvent{
		path:    path,
		owner:   true,
		watcher: w,
		ch:      make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	e.wg.Add(1)
	go e.forward()
	return e, nil
}

func openEvent(name string) (event, error) {
	path := objectPath(name)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return &fileEvent{path: path}, nil
}

// forward coalesces write notifications into single wakes, like an
// auto-reset event.
func (e *fileEvent) forward() {
	defer e.wg.Done()
	for {
		select {
		case ev, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			select {
			case e.ch <- struct{}{}:
			default:
			}
		case _, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
		case <-e.done:
			return
		}
	}
}

func (e *fileEvent) Signal() error {
	f, err := os.OpenFile(e.path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	_, err = f.Write([]byte{1})
	return errors.Join(err, f.Close())
}

// C returns nil on the child side, which never waits.
func (e *fileEvent) C() <-chan struct{} { return e.ch }

func (e *fileEvent) Close() error {
	if !e.owner {
		return nil
	}
	close(e.done)
	err := e.watcher.Close()
	e.wg.Wait()
	if rmErr := os.Remove(e.path); rmErr != nil && !os.IsNotExist(rmErr) {
		err = errors.Join(err, rmErr)
	}
	return err
}
