package chain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/ZebulonRouseFrantzich/chainboot/internal/logging"
)

const (
	// DefaultPollInterval bounds how long the supervisor waits between
	// progress reads when the child does not signal.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultDownloadDivisor weights download progress against install
	// progress.
	DefaultDownloadDivisor = 8
	// DefaultPipeFlag precedes the channel name on the child command line.
	DefaultPipeFlag = "/pipe"
	// MaxProgress is the largest value the supervisor reports.
	MaxProgress = 255
)

// Options configures a Supervisor. Zero fields take the defaults.
type Options struct {
	PollInterval    time.Duration
	DownloadDivisor int
	PipeFlag        string
	// TrustPartialResult accepts a child that exits after reporting a
	// successful install without setting both done flags.
	TrustPartialResult bool
	// OnProgress receives the combined progress 0..MaxProgress whenever
	// it changes.
	OnProgress func(int)
	// Dir and Env are passed to the child.
	Dir string
	Env []string

	Logger logging.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.DownloadDivisor <= 0 {
		o.DownloadDivisor = DefaultDownloadDivisor
	}
	if o.PipeFlag == "" {
		o.PipeFlag = DefaultPipeFlag
	}
	o.Logger = logging.OrNoop(o.Logger)
	return o
}

// Outcome is the result of one supervised run.
type Outcome struct {
	// FinalStatus is the child's install result, or
	// StatusAbnormalTermination.
	FinalStatus Status
	// Aborted reports that cancellation was requested during the run.
	Aborted bool
	// Snapshot is the last view of the shared record.
	Snapshot Snapshot
}

// Supervisor launches one chained child at a time and follows it to
// completion.
type Supervisor struct {
	opts Options

	mu     sync.Mutex
	ch     *Channel
	cancel chan struct{}
	once   sync.Once
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(opts Options) *Supervisor {
	return &Supervisor{
		opts:   opts.withDefaults(),
		cancel: make(chan struct{}),
	}
}

// Progress combines the two phase values: download/divisor + install,
// clamped to MaxProgress.
func Progress(download, install uint8, divisor int) int {
	if divisor <= 0 {
		divisor = DefaultDownloadDivisor
	}
	return min(MaxProgress, int(download)/divisor+int(install))
}

// Cancel asks the running child to abort by setting both abort flags. The
// child is never killed; RunAndSupervise keeps waiting for it.
func (s *Supervisor) Cancel() {
	s.once.Do(func() { close(s.cancel) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		s.ch.RequestAbort()
	}
}

// RunAndSupervise starts exe with args plus the pipe flag and channel name,
// then polls the shared record until the child finishes both phases or
// exits. Cancelling ctx behaves like Cancel. A child that exits before
// setting both done flags yields StatusAbnormalTermination and
// ErrAbnormalTermination.
func (s *Supervisor) RunAndSupervise(ctx context.Context, exe string, args []string) (Outcome, error) {
	log := s.opts.Logger

	ch, err := Create(NewName())
	if err != nil {
		return Outcome{FinalStatus: StatusAbnormalTermination}, err
	}
	defer func() {
		s.mu.Lock()
		s.ch = nil
		s.mu.Unlock()
		if err := ch.Close(); err != nil {
			log.Warn("failed to release progress channel", "channel", ch.Name(), "error", err)
		}
	}()

	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()

	aborted := false
	select {
	case <-s.cancel:
		ch.RequestAbort()
		aborted = true
	default:
	}

	cmdArgs := append(append([]string{}, args...), s.opts.PipeFlag, ch.Name())
	cmd := exec.Command(exe, cmdArgs...)
	cmd.Dir = s.opts.Dir
	cmd.Env = s.opts.Env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return Outcome{FinalStatus: StatusAbnormalTermination, Aborted: aborted}, fmt.Errorf("start %s: %w", exe, err)
	}
	log.Info("chained process started", "exe", exe, "pid", cmd.Process.Pid, "channel", ch.Name())

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	ctxDone := ctx.Done()
	cancelled := s.cancel
	lastProgress := -1
	report := func() {
		p := Progress(ch.DownloadProgress(), ch.InstallProgress(), s.opts.DownloadDivisor)
		if p != lastProgress {
			lastProgress = p
			if s.opts.OnProgress != nil {
				s.opts.OnProgress(p)
			}
		}
	}
	requestAbort := func(reason string) {
		if !aborted {
			log.Info("requesting chained process abort", "reason", reason)
		}
		ch.RequestAbort()
		aborted = true
		ctxDone, cancelled = nil, nil
	}
	if aborted {
		cancelled = nil
	}

	for {
		if ch.DownloadDone() && ch.InstallDone() {
			report()
			out := Outcome{FinalStatus: ch.InstallResult(), Aborted: aborted, Snapshot: ch.Snapshot()}
			log.Info("chained process finished", "status", out.FinalStatus.String(), "aborted", aborted)
			return out, nil
		}

		select {
		case waitErr := <-exited:
			snap := ch.Snapshot()
			if snap.DownloadDone && snap.InstallDone {
				out := Outcome{FinalStatus: snap.InstallResult, Aborted: aborted, Snapshot: snap}
				log.Info("chained process finished", "status", out.FinalStatus.String(), "aborted", aborted)
				return out, nil
			}
			if s.opts.TrustPartialResult && snap.InstallDone && snap.InstallResult == StatusOK {
				log.Warn("chained process exited early, accepting its install result", "error", waitErr)
				return Outcome{FinalStatus: snap.InstallResult, Aborted: aborted, Snapshot: snap}, nil
			}
			log.Error("chained process terminated abnormally",
				"error", waitErr, "download_done", snap.DownloadDone, "install_done", snap.InstallDone,
				"step", snap.StepLabel)
			out := Outcome{FinalStatus: StatusAbnormalTermination, Aborted: aborted, Snapshot: snap}
			if waitErr != nil {
				return out, fmt.Errorf("%w: %w", ErrAbnormalTermination, waitErr)
			}
			return out, ErrAbnormalTermination
		case <-ch.Wake():
			report()
		case <-ticker.C:
			report()
		case <-ctxDone:
			requestAbort(context.Cause(ctx).Error())
		case <-cancelled:
			requestAbort("cancel requested")
		}
	}
}

// IsAbnormal reports whether err came from an abnormal child exit.
func IsAbnormal(err error) bool {
	return errors.Is(err, ErrAbnormalTermination)
}
