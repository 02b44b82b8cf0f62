package chain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/chainboot/internal/testutil"
)

const helperModeEnv = "CHAINBOOT_CHAIN_HELPER"

// TestMain lets the test binary double as the chained child.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperModeEnv); mode != "" {
		os.Exit(runHelper(mode, os.Args[1:]))
	}
	os.Exit(m.Run())
}

func runHelper(mode string, args []string) int {
	name, ok := ParsePipeArg(args, DefaultPipeFlag)
	if !ok {
		fmt.Fprintln(os.Stderr, "helper: missing /pipe argument")
		return 2
	}
	ch, err := Attach(name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "helper:", err)
		return 2
	}
	defer ch.Close()

	switch mode {
	case "done":
		ch.SetStepLabel("Installing")
		ch.SetDownloadProgress(255)
		ch.FinishDownload(StatusOK)
		ch.SetInstallProgress(255)
		ch.FinishInstall(StatusOK)
		ch.Signal()
	case "silent":
		// Never signals; the supervisor must notice through polling.
		time.Sleep(100 * time.Millisecond)
		ch.FinishDownload(StatusOK)
		ch.FinishInstall(StatusOK)
		time.Sleep(2 * time.Second)
	case "progress":
		ch.SetDownloadProgress(80)
		ch.SetInstallProgress(200)
		ch.Signal()
		time.Sleep(400 * time.Millisecond)
		ch.FinishDownload(StatusOK)
		ch.FinishInstall(StatusOK)
		ch.Signal()
	case "die-after-download":
		ch.FinishDownload(StatusOK)
		ch.Signal()
		return 137
	case "partial":
		ch.FinishInstall(StatusOK)
		return 0
	case "fail":
		ch.FinishDownload(StatusOK)
		ch.FinishInstall(Status(0x80070643))
		ch.Signal()
		return 1
	case "wait-abort":
		deadline := time.Now().Add(10 * time.Second)
		for !ch.AbortRequested() {
			if time.Now().After(deadline) {
				return 3
			}
			time.Sleep(20 * time.Millisecond)
		}
		ch.SetStepLabel("Rollback")
		ch.FinishDownload(StatusAborted)
		ch.FinishInstall(StatusAborted)
		ch.Signal()
	default:
		return 2
	}
	return 0
}

func runChild(t *testing.T, mode string, opts Options) (*Supervisor, func(context.Context) (Outcome, error)) {
	t.Helper()
	testutil.SetupTestEnv(t)
	t.Setenv(helperModeEnv, mode)
	if opts.PollInterval == 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	s := NewSupervisor(opts)
	return s, func(ctx context.Context) (Outcome, error) {
		return s.RunAndSupervise(ctx, os.Args[0], []string{"/q"})
	}
}

func TestRunAndSupervise_Done(t *testing.T) {
	_, run := runChild(t, "done", Options{})
	out, err := run(context.Background())
	if err != nil {
		t.Fatalf("RunAndSupervise: %v", err)
	}
	if out.FinalStatus != StatusOK || out.Aborted {
		t.Errorf("outcome = %+v", out)
	}
}

func TestRunAndSupervise_PollFallback(t *testing.T) {
	_, run := runChild(t, "silent", Options{PollInterval: 50 * time.Millisecond})

	start := time.Now()
	out, err := run(context.Background())
	if err != nil {
		t.Fatalf("RunAndSupervise: %v", err)
	}
	if out.FinalStatus != StatusOK {
		t.Errorf("FinalStatus = %s", out.FinalStatus)
	}
	// The child lingers for two seconds after finishing; the supervisor
	// must not wait for its exit.
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Errorf("supervisor took %s, poll fallback did not fire", elapsed)
	}
}

func TestRunAndSupervise_Progress(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	_, run := runChild(t, "progress", Options{
		OnProgress: func(p int) {
			mu.Lock()
			seen = append(seen, p)
			mu.Unlock()
		},
	})

	if _, err := run(context.Background()); err != nil {
		t.Fatalf("RunAndSupervise: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Contains(seen, 210) {
		t.Errorf("progress values %v do not include 210", seen)
	}
	for _, p := range seen {
		if p < 0 || p > MaxProgress {
			t.Errorf("progress %d out of range", p)
		}
	}
}

func TestRunAndSupervise_AbnormalAfterDownload(t *testing.T) {
	_, run := runChild(t, "die-after-download", Options{})
	out, err := run(context.Background())
	if !errors.Is(err, ErrAbnormalTermination) {
		t.Fatalf("err = %v, want ErrAbnormalTermination", err)
	}
	if out.FinalStatus != StatusAbnormalTermination {
		t.Errorf("FinalStatus = %s, want abnormal termination", out.FinalStatus)
	}
	if !out.Snapshot.DownloadDone || out.Snapshot.DownloadResult != StatusOK {
		t.Errorf("snapshot = %+v", out.Snapshot)
	}
}

func TestRunAndSupervise_PartialResultPolicy(t *testing.T) {
	t.Run("untrusted by default", func(t *testing.T) {
		_, run := runChild(t, "partial", Options{})
		out, err := run(context.Background())
		if !IsAbnormal(err) || out.FinalStatus != StatusAbnormalTermination {
			t.Errorf("outcome = %+v, err = %v", out, err)
		}
	})
	t.Run("trusted when enabled", func(t *testing.T) {
		_, run := runChild(t, "partial", Options{TrustPartialResult: true})
		out, err := run(context.Background())
		if err != nil || out.FinalStatus != StatusOK {
			t.Errorf("outcome = %+v, err = %v", out, err)
		}
	})
}

func TestRunAndSupervise_ChildFailure(t *testing.T) {
	_, run := runChild(t, "fail", Options{})
	out, err := run(context.Background())
	if err != nil {
		t.Fatalf("a reported failure is not abnormal: %v", err)
	}
	if out.FinalStatus != Status(0x80070643) || out.FinalStatus.Succeeded() {
		t.Errorf("FinalStatus = %s", out.FinalStatus)
	}
}

func TestRunAndSupervise_CancelSetsAbortFlags(t *testing.T) {
	s, run := runChild(t, "wait-abort", Options{})

	go func() {
		time.Sleep(200 * time.Millisecond)
		s.Cancel()
	}()
	out, err := run(context.Background())
	if err != nil {
		t.Fatalf("RunAndSupervise: %v", err)
	}
	if !out.Aborted {
		t.Error("Aborted = false")
	}
	if out.FinalStatus != StatusAborted {
		t.Errorf("FinalStatus = %s, want aborted", out.FinalStatus)
	}
	if !out.Snapshot.DownloadAbort || !out.Snapshot.InstallAbort {
		t.Errorf("abort flags not set: %+v", out.Snapshot)
	}
	if out.Snapshot.StepLabel != "Rollback" {
		t.Errorf("StepLabel = %q", out.Snapshot.StepLabel)
	}
}

func TestRunAndSupervise_ContextCancel(t *testing.T) {
	_, run := runChild(t, "wait-abort", Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	out, err := run(ctx)
	if err != nil {
		t.Fatalf("RunAndSupervise: %v", err)
	}
	if !out.Aborted || out.FinalStatus != StatusAborted {
		t.Errorf("outcome = %+v", out)
	}
}

func TestRunAndSupervise_StartFailure(t *testing.T) {
	testutil.SetupTestEnv(t)
	s := NewSupervisor(Options{})
	out, err := s.RunAndSupervise(context.Background(), "/nonexistent/installer", nil)
	if err == nil {
		t.Fatal("expected start error")
	}
	if out.FinalStatus != StatusAbnormalTermination {
		t.Errorf("FinalStatus = %s", out.FinalStatus)
	}
}

func TestProgress(t *testing.T) {
	tests := []struct {
		download, install uint8
		divisor           int
		want              int
	}{
		{80, 200, 8, 210},
		{255, 255, 8, 255},
		{0, 0, 8, 0},
		{255, 0, 8, 31},
		{80, 200, 0, 210},
		{100, 10, 4, 35},
	}
	for _, tt := range tests {
		if got := Progress(tt.download, tt.install, tt.divisor); got != tt.want {
			t.Errorf("Progress(%d, %d, %d) = %d, want %d", tt.download, tt.install, tt.divisor, got, tt.want)
		}
	}
}
