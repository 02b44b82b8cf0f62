// Package bootstrap drives one bootstrap run: it acquires the resources and
// the prerequisite runtime through the locator, chains the runtime installer
// under the supervisor and hands over to the second stage.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/ZebulonRouseFrantzich/chainboot/internal/chain"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/config"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/container"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/locator"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/logging"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/transfer"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/trust"
)

const (
	// ProgressStarted is reported when a run begins.
	ProgressStarted = 1
	// ProgressComplete is reported after a successful chain.
	ProgressComplete = 288
)

// Launcher starts exe with args and returns without waiting for it.
type Launcher func(exe string, args []string) error

// StartDetached is the default Launcher.
func StartDetached(exe string, args []string) error {
	cmd := exec.Command(exe, args...)
	cmd.Dir = filepath.Dir(exe)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", exe, err)
	}
	return cmd.Process.Release()
}

// Params are the inputs of a bootstrap run.
type Params struct {
	Config *config.Config
	// PackageArg is the raw package argument; see NormalizePackagePath.
	PackageArg string
	// BootstrapFolder is the directory of the bootstrapper executable.
	BootstrapFolder string
	// Locale is the BCP 47 tag used for localized names.
	Locale string
	// UserAgent is sent with HTTP requests.
	UserAgent string
	// OnProgress receives 0..ProgressComplete.
	OnProgress func(int)
	Logger     logging.Logger
}

// Context is the bootstrapper's view of one run. It is safe to call
// RequestCancel from another goroutine while Run is in progress.
type Context struct {
	cfg         *config.Config
	packagePath string
	locale      string
	onProgress  func(int)
	logger      logging.Logger

	gate     trust.Gate
	fetcher  locator.Fetcher
	observer locator.Observer
	probe    Probe
	probeSet bool
	launch   Launcher

	locator *locator.Locator

	mu         sync.Mutex
	cancelled  bool
	cancelRun  context.CancelFunc
	supervisor *chain.Supervisor
	resources  *locator.VerifiedArtifact
}

// Option customises a Context.
type Option func(*Context)

// WithGate replaces the trust gate built from the configuration.
func WithGate(g trust.Gate) Option {
	return func(c *Context) { c.gate = g }
}

// WithFetcher replaces the transfer client.
func WithFetcher(f locator.Fetcher) Option {
	return func(c *Context) { c.fetcher = f }
}

// WithProbe replaces the configured runtime probe. nil means the runtime
// cannot be detected.
func WithProbe(p Probe) Option {
	return func(c *Context) { c.probe = p; c.probeSet = true }
}

// WithLauncher replaces StartDetached.
func WithLauncher(l Launcher) Option {
	return func(c *Context) { c.launch = l }
}

// WithObserver reports every locator tier attempt to fn.
func WithObserver(fn locator.Observer) Option {
	return func(c *Context) { c.observer = fn }
}

// New validates p and assembles the trust gate, transfer client, container
// extractor and locator for the run.
func New(p Params, opts ...Option) (*Context, error) {
	pkg, ok := NormalizePackagePath(p.PackageArg)
	if !ok {
		return nil, fail(ExitMissingPackage, nil)
	}
	cfg := p.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fail(ExitConfig, err)
	}

	c := &Context{
		cfg:         cfg,
		packagePath: pkg,
		locale:      p.Locale,
		onProgress:  p.OnProgress,
		logger:      logging.OrNoop(p.Logger),
		launch:      StartDetached,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.gate == nil {
		c.gate = buildGate(cfg.Trust, c.logger)
	}
	if c.fetcher == nil {
		c.fetcher = transfer.New(transfer.Options{
			ConnectTimeout: cfg.Transfer.ConnectTimeout(),
			IOTimeout:      cfg.Transfer.IOTimeout(),
			UserAgent:      p.UserAgent,
		}, c.logger)
	}
	if !c.probeSet {
		c.probe = NewProbe(cfg.Runtime.Probe)
	}

	locOpts := []locator.Option{locator.WithLogger(c.logger)}
	if c.observer != nil {
		locOpts = append(locOpts, locator.WithObserver(c.observer))
	}
	c.locator = locator.New(locator.Config{
		BootstrapFolder: p.BootstrapFolder,
		PackagePath:     pkg,
		FallbackServer:  cfg.Servers.Fallback,
		DefaultServer:   cfg.Servers.Default,
		SidecarExts:     []string{trust.SignatureExt, trust.ArmoredSignatureExt},
	}, c.gate, c.fetcher, container.New(c.logger), locOpts...)

	return c, nil
}

// buildGate trusts files signed by the configured keyring or, where
// available and enabled, carrying a valid Authenticode signature.
func buildGate(cfg config.Trust, logger logging.Logger) trust.Gate {
	var gates []trust.Gate
	if cfg.Keyring != "" {
		keys, err := trust.LoadKeyring(cfg.Keyring)
		if err != nil {
			logger.Warn("keyring unavailable, signature gate disabled", "keyring", cfg.Keyring, "error", err)
		} else {
			gates = append(gates, trust.NewSignatureGate(keys, logger))
		}
	}
	if cfg.Authenticode {
		if g := trust.NewAuthenticodeGate(logger); g.Available() {
			gates = append(gates, g)
		}
	}
	if len(gates) == 0 {
		logger.Warn("no trust gate configured, every candidate will be rejected")
	}
	return trust.AnyOf(gates...)
}

// PackagePath returns the normalized package path.
func (c *Context) PackagePath() string { return c.packagePath }

// Resources returns the resource artifact acquired by Run, if any.
func (c *Context) Resources() *locator.VerifiedArtifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resources
}

// RequestLocate finds a trusted copy of name, remote tiers included.
func (c *Context) RequestLocate(ctx context.Context, name string) (*locator.VerifiedArtifact, error) {
	return c.locator.Locate(ctx, locator.Request{
		LogicalName: name,
		Locale:      c.locale,
		AllowRemote: true,
	})
}

// RequestCancel stops the current run. A running chained installer is asked
// to abort through its progress channel and is waited for.
func (c *Context) RequestCancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	if c.cancelRun != nil {
		c.cancelRun()
	}
	if c.supervisor != nil {
		c.supervisor.Cancel()
	}
}

func (c *Context) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// OnProgress forwards v to the progress callback.
func (c *Context) OnProgress(v int) {
	if c.onProgress != nil {
		c.onProgress(min(max(v, 0), ProgressComplete))
	}
}

// Close releases the resource artifact.
func (c *Context) Close() error {
	c.mu.Lock()
	res := c.resources
	c.resources = nil
	c.mu.Unlock()
	if res == nil {
		return nil
	}
	return res.Release()
}

// cancelledOr maps a locate error to ExitCancelled when the run was
// cancelled and to code otherwise.
func (c *Context) cancelledOr(code ExitCode, err error) *Failure {
	if c.isCancelled() || errors.Is(err, context.Canceled) {
		return fail(ExitCancelled, err)
	}
	return fail(code, err)
}
