package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ZebulonRouseFrantzich/chainboot/internal/bootstrap"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/config"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/logging"
	"github.com/ZebulonRouseFrantzich/chainboot/internal/platform"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0-dev"

// globalOptions are the flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	logFile    string
	verbose    bool
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute runs the command line and returns the process exit status.
func execute(args []string) int {
	root := newRootCommand()
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return 0
	}

	code := bootstrap.CodeOf(err)
	var failure *bootstrap.Failure
	if !errors.As(err, &failure) {
		fmt.Fprintf(os.Stderr, "Error: %s\n", config.FormatError(err, false))
		return 1
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if help := code.HelpURL(helpBase(root)); help != "" {
		fmt.Fprintf(os.Stderr, "See %s\n", help)
	}
	return int(code)
}

// helpBase returns the help URL of the loaded configuration, if any.
func helpBase(root *cobra.Command) string {
	if cfg, ok := root.Context().Value(configKey{}).(*config.Config); ok && cfg != nil {
		return cfg.HelpURL
	}
	return config.Default().HelpURL
}

type configKey struct{}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "chainboot",
		Short:         "Acquire trusted prerequisites and chain their installers",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.SetContext(context.Background())
	addGlobalFlags(root.PersistentFlags(), opts)

	root.AddCommand(
		newRunCommand(opts),
		newLocateCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(),
	)
	return root
}

func addGlobalFlags(flags *pflag.FlagSet, opts *globalOptions) {
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to "+config.FileName+" (default: next to the executable)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (overrides the config)")
	flags.StringVar(&opts.logFile, "log-file", "", "log file, or \"console\" (overrides the config)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "show detailed errors and debug logs")
}

// executableDir returns the directory of the running bootstrapper.
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

// configError renders a configuration failure, with the Lua traceback
// when verbose.
type configError struct {
	err     error
	verbose bool
}

func (e *configError) Error() string { return config.FormatError(e.err, e.verbose) }

func (e *configError) Unwrap() error { return e.err }

// setup loads the configuration, initialises logging and detects the
// platform. The loaded config is stored on the root command's context.
func setup(cmd *cobra.Command, opts *globalOptions) (*config.Config, *platform.Info, error) {
	ctx := cmd.Context()
	detector := platform.NewDetector()

	path := opts.configPath
	if path == "" {
		path = filepath.Join(executableDir(), config.FileName)
	}
	cfg, err := config.NewParser(detector).LoadFile(ctx, path)
	if err != nil {
		return nil, nil, &bootstrap.Failure{Code: bootstrap.ExitConfig, Err: &configError{err: err, verbose: opts.verbose}}
	}
	cmd.Root().SetContext(context.WithValue(cmd.Root().Context(), configKey{}, cfg))

	level, file := cfg.Log.Level, cfg.Log.File
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	if opts.verbose {
		level = log.DebugLevel.String()
	}
	if opts.logFile != "" {
		file = opts.logFile
	}
	if err := logging.Init(level, file); err != nil {
		return nil, nil, err
	}

	info, err := detector.Detect(ctx)
	if err != nil {
		return nil, nil, err
	}
	logging.NewLogrus("cli").Debug("platform detected",
		"os", info.OS, "arch", info.Arch, "platform", info.Platform, "locale", info.Locale)
	return cfg, info, nil
}
