// Package chain runs a chained installer and follows its progress through
// a shared memory record plus a named wake event.
package chain

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/text/encoding/unicode"
)

// Record layout, matching the chainer ABI the installers write: four
// one-byte flags, three 32-bit status words, a WCHAR[MAX_PATH] step label,
// two progress bytes and a WCHAR[MAX_PATH] event name. Integers and
// strings are little-endian.
const (
	offDownloadDone     = 0
	offInstallDone      = 1
	offDownloadAbort    = 2
	offInstallAbort     = 3
	offDownloadResult   = 4
	offInstallResult    = 8
	offInternalError    = 12
	offStepLabel        = 16
	offDownloadProgress = 536
	offInstallProgress  = 537
	offChannelName      = 538

	// MaxPath is the capacity of each string field in UTF-16 code units,
	// terminator included.
	MaxPath = 260
	// MaxStringLen is the size of each string field in bytes.
	MaxStringLen = 2 * MaxPath
	// RecordSize is the size of the shared record in bytes, padded to the
	// 4-byte alignment of the status words.
	RecordSize = (offChannelName + MaxStringLen + 3) &^ 3
)

const eventSuffix = ".event"

// RuntimeDirEnv overrides where channel files are created on unix.
const RuntimeDirEnv = "CHAINBOOT_RUNTIME_DIR"

// eventName derives the wake event name stored in the record.
func eventName(name string) string {
	return name + eventSuffix
}

// region is a mapped shared record.
type region interface {
	Bytes() []byte
	Close() error
}

// event is a named auto-reset wake event. It carries no data.
type event interface {
	Signal() error
	C() <-chan struct{}
	Close() error
}

// Channel is one end of the shared progress record. The supervisor creates
// it with Create; the chained child opens it with Attach. Each field has a
// single writer: the child writes done flags, results, progress and the
// step label, the supervisor writes the abort flags.
type Channel struct {
	name string
	mem  []byte
	reg  region
	ev   event

	closeOnce sync.Once
	closeErr  error
}

// NewName returns a fresh channel name.
func NewName() string {
	return "chainboot-" + uuid.NewString()
}

// Create creates the shared region and wake event for name, zeroes the
// record, writes the event name and marks both results pending.
func Create(name string) (*Channel, error) {
	if name == "" || len(name)+len(eventSuffix) >= MaxPath {
		return nil, fmt.Errorf("invalid channel name %q", name)
	}
	reg, err := createRegion(name)
	if err != nil {
		return nil, fmt.Errorf("create shared region: %w", err)
	}
	evName := eventName(name)
	ev, err := createEvent(evName)
	if err != nil {
		reg.Close()
		return nil, fmt.Errorf("create wake event: %w", err)
	}

	c := &Channel{name: name, mem: reg.Bytes(), reg: reg, ev: ev}
	if len(c.mem) < RecordSize {
		c.Close()
		return nil, fmt.Errorf("shared region too small: %d bytes", len(c.mem))
	}
	clear(c.mem[:RecordSize])
	writeString(c.mem[offChannelName:offChannelName+MaxStringLen], evName)
	c.store(offDownloadResult, uint32(StatusPending))
	c.store(offInstallResult, uint32(StatusPending))
	return c, nil
}

// Attach opens an existing channel from the child side.
func Attach(name string) (*Channel, error) {
	if name == "" {
		return nil, errors.New("empty channel name")
	}
	reg, err := openRegion(name)
	if err != nil {
		return nil, fmt.Errorf("open shared region: %w", err)
	}
	mem := reg.Bytes()
	if len(mem) < RecordSize {
		reg.Close()
		return nil, fmt.Errorf("shared region too small: %d bytes", len(mem))
	}
	evName := readString(mem[offChannelName : offChannelName+MaxStringLen])
	ev, err := openEvent(evName)
	if err != nil {
		reg.Close()
		return nil, fmt.Errorf("open wake event %q: %w", evName, err)
	}
	return &Channel{name: name, mem: mem, reg: reg, ev: ev}, nil
}

// Name returns the channel name passed to the child.
func (c *Channel) Name() string { return c.name }

// EventName returns the wake event name stored in the record.
func (c *Channel) EventName() string {
	return readString(c.mem[offChannelName : offChannelName+MaxStringLen])
}

// Close unmaps the record and releases the event. It is safe to call more
// than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		var result *multierror.Error
		if c.ev != nil {
			if err := c.ev.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("close wake event: %w", err))
			}
		}
		if c.reg != nil {
			if err := c.reg.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("unmap shared region: %w", err))
			}
		}
		c.mem = nil
		c.closeErr = result.ErrorOrNil()
	})
	return c.closeErr
}

// Signal wakes the other side.
func (c *Channel) Signal() error { return c.ev.Signal() }

// Wake delivers a value whenever the other side signals.
func (c *Channel) Wake() <-chan struct{} { return c.ev.C() }

func (c *Channel) word(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&c.mem[off]))
}

func (c *Channel) load(off int) uint32 { return atomic.LoadUint32(c.word(off)) }

func (c *Channel) store(off int, v uint32) { atomic.StoreUint32(c.word(off), v) }

// loadByte reads a one-byte field through an atomic load of its aligned
// word.
func (c *Channel) loadByte(off int) uint8 {
	shift := uint(off&3) * 8
	return uint8(c.load(off&^3) >> shift)
}

// storeByte replaces one byte of its aligned word with a CAS loop so that
// neighbouring bytes written by the other side are preserved.
func (c *Channel) storeByte(off int, v uint8) {
	w := c.word(off &^ 3)
	shift := uint(off&3) * 8
	mask := uint32(0xFF) << shift
	for {
		old := atomic.LoadUint32(w)
		next := old&^mask | uint32(v)<<shift
		if old == next || atomic.CompareAndSwapUint32(w, old, next) {
			return
		}
	}
}

func (c *Channel) flag(off int) bool { return c.loadByte(off) != 0 }

func (c *Channel) setFlag(off int, v bool) {
	var b uint8
	if v {
		b = 1
	}
	c.storeByte(off, b)
}

func (c *Channel) DownloadDone() bool           { return c.flag(offDownloadDone) }
func (c *Channel) InstallDone() bool            { return c.flag(offInstallDone) }
func (c *Channel) DownloadAbortRequested() bool { return c.flag(offDownloadAbort) }
func (c *Channel) InstallAbortRequested() bool  { return c.flag(offInstallAbort) }
func (c *Channel) DownloadResult() Status       { return Status(c.load(offDownloadResult)) }
func (c *Channel) InstallResult() Status        { return Status(c.load(offInstallResult)) }
func (c *Channel) InternalError() Status        { return Status(c.load(offInternalError)) }
func (c *Channel) DownloadProgress() uint8      { return c.loadByte(offDownloadProgress) }
func (c *Channel) InstallProgress() uint8       { return c.loadByte(offInstallProgress) }

// StepLabel returns the child's current step description.
func (c *Channel) StepLabel() string {
	return readString(c.mem[offStepLabel : offStepLabel+MaxStringLen])
}

// RequestAbort sets both abort flags. Only the supervisor calls it.
func (c *Channel) RequestAbort() {
	c.setFlag(offDownloadAbort, true)
	c.setFlag(offInstallAbort, true)
}

// AbortRequested reports whether either abort flag is set.
func (c *Channel) AbortRequested() bool {
	return c.DownloadAbortRequested() || c.InstallAbortRequested()
}

// FinishDownload records the download result, then sets downloadDone.
func (c *Channel) FinishDownload(result Status) {
	c.store(offDownloadResult, uint32(result))
	c.setFlag(offDownloadDone, true)
}

// FinishInstall records the install result, then sets installDone.
func (c *Channel) FinishInstall(result Status) {
	c.store(offInstallResult, uint32(result))
	c.setFlag(offInstallDone, true)
}

// SetDownloadProgress stores download progress in 0..255.
func (c *Channel) SetDownloadProgress(v uint8) { c.storeByte(offDownloadProgress, v) }

// SetInstallProgress stores install progress in 0..255.
func (c *Channel) SetInstallProgress(v uint8) { c.storeByte(offInstallProgress, v) }

// SetInternalError stores a detail code for diagnostics.
func (c *Channel) SetInternalError(s Status) { c.store(offInternalError, uint32(s)) }

// SetStepLabel stores label, truncated to fit the record.
func (c *Channel) SetStepLabel(label string) {
	writeString(c.mem[offStepLabel:offStepLabel+MaxStringLen], label)
}

// Snapshot is a field-by-field copy of the record. Fields are read
// individually; a result is only meaningful once its done flag is set.
type Snapshot struct {
	DownloadDone     bool
	InstallDone      bool
	DownloadAbort    bool
	InstallAbort     bool
	DownloadResult   Status
	InstallResult    Status
	InternalError    Status
	StepLabel        string
	DownloadProgress uint8
	InstallProgress  uint8
	EventName        string
}

// Snapshot reads every field.
func (c *Channel) Snapshot() Snapshot {
	return Snapshot{
		DownloadDone:     c.DownloadDone(),
		InstallDone:      c.InstallDone(),
		DownloadAbort:    c.DownloadAbortRequested(),
		InstallAbort:     c.InstallAbortRequested(),
		DownloadResult:   c.DownloadResult(),
		InstallResult:    c.InstallResult(),
		InternalError:    c.InternalError(),
		StepLabel:        c.StepLabel(),
		DownloadProgress: c.DownloadProgress(),
		InstallProgress:  c.InstallProgress(),
		EventName:        c.EventName(),
	}
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// writeString stores s in dst as NUL-terminated UTF-16LE, cutting before a
// surrogate pair that does not fit.
func writeString(dst []byte, s string) {
	enc, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		enc = nil
	}
	limit := (len(dst) - 2) &^ 1
	if len(enc) > limit {
		enc = enc[:limit]
		if n := len(enc); n >= 2 {
			if u := uint16(enc[n-2]) | uint16(enc[n-1])<<8; u >= 0xD800 && u < 0xDC00 {
				enc = enc[:n-2]
			}
		}
	}
	n := copy(dst, enc)
	clear(dst[n:])
}

// readString decodes a NUL-terminated UTF-16LE field.
func readString(src []byte) string {
	end := len(src) &^ 1
	for i := 0; i+1 < len(src); i += 2 {
		if src[i] == 0 && src[i+1] == 0 {
			end = i
			break
		}
	}
	dec, err := utf16le.NewDecoder().Bytes(src[:end])
	if err != nil {
		return ""
	}
	return string(dec)
}

// ParsePipeArg finds the channel name following flag in args.
func ParsePipeArg(args []string, flag string) (string, bool) {
	if flag == "" {
		flag = DefaultPipeFlag
	}
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}
