package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/chainboot/internal/bootstrap"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/locator"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/logging"
)

type locateOptions struct {
	pkg  string
	keep bool
}

func newLocateCommand(global *globalOptions) *cobra.Command {
	opts := &locateOptions{}
	cmd := &cobra.Command{
		Use:   "locate <name>",
		Short: "Find a trusted copy of an artifact and print where it came from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocate(cmd, global, opts, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.pkg, "package", "p", "", "package whose folder and container are searched")
	cmd.Flags().BoolVar(&opts.keep, "keep", false, "keep downloaded or extracted copies")
	return cmd
}

func runLocate(cmd *cobra.Command, global *globalOptions, opts *locateOptions, name string) error {
	cfg, info, err := setup(cmd, global)
	if err != nil {
		return err
	}

	pkg := opts.pkg
	if pkg == "" {
		// Only the package folder matters here; the container may not exist.
		pkg = "package"
	}

	out := cmd.OutOrStdout()
	bc, err := bootstrap.New(bootstrap.Params{
		Config:          cfg,
		PackageArg:      pkg,
		BootstrapFolder: executableDir(),
		Locale:          info.Locale,
		UserAgent:       info.UserAgent("chainboot", Version),
		Logger:          logging.NewLogrus("locate"),
	}, bootstrap.WithObserver(func(a locator.Attempt) {
		fmt.Fprintf(out, "  tier %2d  %-8s  %-17s  %s\n", a.Tier, a.Outcome, a.Origin, a.Source)
	}))
	if err != nil {
		return err
	}
	defer bc.Close()

	art, err := bc.RequestLocate(cmd.Context(), name)
	if err != nil {
		return fmt.Errorf("locate %s: %w", name, err)
	}
	if !opts.keep {
		defer art.Release()
	}
	fmt.Fprintf(out, "%s\n  origin: %s\n  source: %s\n", art.Path, art.Origin, art.Source)
	return nil
}
