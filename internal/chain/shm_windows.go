//go:build windows

package chain

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	objectPrefix     = `Local\`
	eventModifyState = 0x0002
	eventWaitSlice   = 250 * time.Millisecond
)

func objectName(name string) (*uint16, error) {
	return windows.UTF16PtrFromString(objectPrefix + name)
}

// mappingRegion is a named pagefile-backed section.
type mappingRegion struct {
	h    windows.Handle
	addr uintptr
	mem  []byte
}

// createRegion creates the named section, or opens it when it already
// exists, which is how the child side attaches.
func createRegion(name string) (region, error) {
	n, err := objectName(name)
	if err != nil {
		return nil, err
	}
	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, 0, RecordSize, n)
	if err != nil {
		return nil, fmt.Errorf("CreateFileMapping: %w", err)
	}
	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, RecordSize)
	if err != nil {
		windows.CloseHandle(h)
		return nil, fmt.Errorf("MapViewOfFile: %w", err)
	}
	mem := unsafe.Slice((*byte)(unsafe.Pointer(addr)), RecordSize)
	return &mappingRegion{h: h, addr: addr, mem: mem}, nil
}

func openRegion(name string) (region, error) {
	return createRegion(name)
}

func (r *mappingRegion) Bytes() []byte { return r.mem }

func (r *mappingRegion) Close() error {
	err := windows.UnmapViewOfFile(r.addr)
	if cerr := windows.CloseHandle(r.h); err == nil {
		err = cerr
	}
	return err
}

// kernelEvent is a named auto-reset event. The creating side runs a
// waiter goroutine that turns signals into channel sends.
type kernelEvent struct {
	h    windows.Handle
	ch   chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func createEvent(name string) (event, error) {
	n, err := objectName(name)
	if err != nil {
		return nil, err
	}
	h, err := windows.CreateEvent(nil, 0, 0, n)
	if err != nil {
		return nil, fmt.Errorf("CreateEvent: %w", err)
	}
	e := &kernelEvent{h: h, ch: make(chan struct{}, 1), done: make(chan struct{})}
	e.wg.Add(1)
	go e.wait()
	return e, nil
}

func openEvent(name string) (event, error) {
	n, err := objectName(name)
	if err != nil {
		return nil, err
	}
	h, err := windows.OpenEvent(eventModifyState|windows.SYNCHRONIZE, false, n)
	if err != nil {
		return nil, fmt.Errorf("OpenEvent: %w", err)
	}
	return &kernelEvent{h: h}, nil
}

func (e *kernelEvent) wait() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		default:
		}
		r, err := windows.WaitForSingleObject(e.h, uint32(eventWaitSlice/time.Millisecond))
		if err != nil {
			return
		}
		if r == windows.WAIT_OBJECT_0 {
			select {
			case e.ch <- struct{}{}:
			default:
			}
		}
	}
}

func (e *kernelEvent) Signal() error { return windows.SetEvent(e.h) }

func (e *kernelEvent) C() <-chan struct{} { return e.ch }

func (e *kernelEvent) Close() error {
	if e.done != nil {
		close(e.done)
		e.wg.Wait()
	}
	return windows.CloseHandle(e.h)
}
