package bootstrap

import (
	"context"
	"fmt"

	"github.com/ZebulonRouseFrantzich/chainboot/internal/chain"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/locator"
)

// Run performs the bootstrap: if the runtime is already installed it goes
// straight to the second stage; otherwise it acquires the resources and a
// runtime installer, chains the installer, checks the runtime again and
// launches the second stage. The returned error is a *Failure.
func (c *Context) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return fail(ExitCancelled, context.Canceled)
	}
	c.cancelRun = cancel
	c.mu.Unlock()

	log := c.logger
	c.OnProgress(ProgressStarted)

	if c.probe != nil && c.probe.Installed() {
		log.Info("runtime already installed", "package", c.packagePath)
		return c.launchSecondStage(ctx)
	}

	if name := c.cfg.Resources; name != "" {
		res, err := c.RequestLocate(ctx, name)
		if err != nil {
			return c.cancelledOr(ExitResourcesUnavailable, fmt.Errorf("locate %s: %w", name, err))
		}
		c.mu.Lock()
		c.resources = res
		c.mu.Unlock()
		log.Info("resources acquired", "path", res.Path, "origin", res.Origin.String())
	}

	installer, err := c.locateRuntime(ctx)
	if err != nil {
		return c.cancelledOr(ExitRuntimeUnavailable, err)
	}
	defer func() {
		if err := installer.Release(); err != nil {
			log.Warn("failed to remove runtime installer", "path", installer.Path, "error", err)
		}
	}()

	if err := c.chainInstaller(ctx, installer); err != nil {
		return err
	}
	c.OnProgress(ProgressComplete)

	if c.probe != nil && !c.probe.Installed() {
		return fail(ExitUnknown, fmt.Errorf("runtime still missing after %s", installer.Path))
	}
	return c.launchSecondStage(ctx)
}

// locateRuntime tries every installer candidate locally before any of them
// remotely. In the remote pass each candidate's own server is tried first.
func (c *Context) locateRuntime(ctx context.Context) (*locator.VerifiedArtifact, error) {
	installers := c.cfg.Runtime.Installers
	if len(installers) == 0 {
		return nil, fmt.Errorf("no runtime installers configured")
	}

	for _, inst := range installers {
		art, err := c.locator.Locate(ctx, locator.Request{
			LogicalName: inst.Name,
			Locale:      c.locale,
		})
		if err == nil {
			return art, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	for _, inst := range installers {
		art, err := c.locator.Locate(ctx, locator.Request{
			LogicalName: inst.Name,
			Locale:      c.locale,
			AllowRemote: true,
			ExtraServer: inst.Server,
		})
		if err == nil {
			return art, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, locator.ErrNotFound
}

// chainInstaller runs the installer under the supervisor and requires a
// successful final status.
func (c *Context) chainInstaller(ctx context.Context, installer *locator.VerifiedArtifact) error {
	s := c.cfg.Supervisor
	sup := chain.NewSupervisor(chain.Options{
		PollInterval:       s.PollInterval(),
		DownloadDivisor:    s.DownloadDivisor,
		PipeFlag:           s.PipeFlag,
		TrustPartialResult: s.TrustPartialResult,
		OnProgress:         c.OnProgress,
		Logger:             c.logger,
	})

	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return fail(ExitCancelled, context.Canceled)
	}
	c.supervisor = sup
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.supervisor = nil
		c.mu.Unlock()
	}()

	c.logger.Info("chaining runtime installer", "path", installer.Path, "origin", installer.Origin.String())
	outcome, err := sup.RunAndSupervise(ctx, installer.Path, s.Args)
	if err != nil {
		return fail(ExitChainCancelled, err)
	}
	if outcome.Aborted || c.isCancelled() {
		return fail(ExitCancelled, context.Canceled)
	}
	if !outcome.FinalStatus.Succeeded() {
		return fail(ExitChainCancelled, fmt.Errorf("installer finished with %s", outcome.FinalStatus))
	}
	return nil
}

// launchSecondStage locates the second stage and starts it with the
// package path. The bootstrapper does not wait for it.
func (c *Context) launchSecondStage(ctx context.Context) error {
	name := c.cfg.SecondStage
	if name == "" {
		return nil
	}
	stage, err := c.RequestLocate(ctx, name)
	if err != nil {
		return c.cancelledOr(ExitSecondStageMissing, fmt.Errorf("locate %s: %w", name, err))
	}
	c.logger.Info("launching second stage", "path", stage.Path, "package", c.packagePath)
	if err := c.launch(stage.Path, []string{c.packagePath}); err != nil {
		return fail(ExitSecondStageMissing, err)
	}
	return nil
}
