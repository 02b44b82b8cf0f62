package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/chainboot/internal/bootstrap"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/fsutil"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/locator"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/logging"
)

type runOptions struct {
	noProgress bool
}

func newRunCommand(global *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <package>",
		Short: "Bootstrap a package: install its runtime, then hand over to the second stage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pkg string
			if len(args) == 1 {
				pkg = args[0]
			}
			return runBootstrap(cmd, global, opts, pkg)
		},
	}
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "do not draw a progress bar")
	return cmd
}

func runBootstrap(cmd *cobra.Command, global *globalOptions, opts *runOptions, pkg string) error {
	cfg, info, err := setup(cmd, global)
	if err != nil {
		return err
	}
	logger := logging.NewLogrus("bootstrap")

	lock, err := bootstrap.AcquireLock(cmd.Context(), fsutil.TempDir())
	if err != nil {
		return &bootstrap.Failure{Code: bootstrap.ExitBusy, Err: err}
	}
	defer lock.Release()

	var bar *progressBar
	onProgress := func(int) {}
	if !opts.noProgress {
		bar = newProgressBar(cmd.ErrOrStderr(), "Preparing installation")
		defer bar.Stop()
		onProgress = bar.Set
	}

	bc, err := bootstrap.New(bootstrap.Params{
		Config:          cfg,
		PackageArg:      pkg,
		BootstrapFolder: executableDir(),
		Locale:          info.Locale,
		UserAgent:       info.UserAgent("chainboot", Version),
		OnProgress:      onProgress,
		Logger:          logger,
	}, bootstrap.WithObserver(func(a locator.Attempt) {
		logger.Debug("tier attempt",
			"tier", a.Tier, "name", a.Name, "origin", a.Origin.String(),
			"source", a.Source, "outcome", a.Outcome.String(), "error", a.Err)
	}))
	if err != nil {
		return err
	}
	defer bc.Close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigs:
			logger.Warn("cancelling bootstrap", "signal", sig.String())
			bc.RequestCancel()
		case <-done:
		}
	}()

	err = bc.Run(cmd.Context())
	close(done)
	if err != nil {
		return err
	}
	if bar != nil {
		bar.Stop()
	}
	pterm.Success.WithWriter(cmd.ErrOrStderr()).Println("Bootstrap complete")
	return nil
}
