package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/chainboot/internal/config"
)

type configInitOptions struct {
	output string
	force  bool
}

func newConfigCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage " + config.FileName,
	}
	cmd.AddCommand(newConfigInitCommand(global))
	return cmd
}

func newConfigInitCommand(global *globalOptions) *cobra.Command {
	opts := &configInitOptions{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default " + config.FileName,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.output
			if path == "" {
				path = global.configPath
			}
			if path == "" {
				path = filepath.Join(executableDir(), config.FileName)
			}
			if err := writeDefaultConfig(path, opts.force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "where to write the file")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "overwrite an existing file")
	return cmd
}

// writeDefaultConfig writes the generated default configuration to path.
// An existing file is only replaced with force.
func writeDefaultConfig(path string, force bool) error {
	content, err := config.NewGenerator().Generate(config.Default())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		return fmt.Errorf("write config: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("write config: %w", err)
	}
	return f.Close()
}
