// Package cli implements the wzlog command: run a reconciliation cycle from a
// payload file, preview partition keys, and inspect stored work-zone logs.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	EnvFile    string
	Verbose    bool
	Format     string // "json" | "text"
	Backend    string
	Root       string
	Bucket     string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the wzlog CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "wzlog",
		Short: "Inspect and reconcile WZDx work-zone logs",
		Long: `wzlog runs the work-zone reconciliation engine against local payload
files and inspects the per-work-zone logs it maintains.

Settings come from the optional --config file and WZ_* environment
variables; a .env file in the working directory is loaded first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if err := loadEnvFile(opts.EnvFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			level := "warn"
			if opts.Verbose {
				level = "debug"
			}
			logger.SetupWriter(cmd.ErrOrStderr(), level, "text")
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "environment file to load")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "storage backend override (memory|file|s3)")
	cmd.PersistentFlags().StringVar(&opts.Root, "root", "", "root directory of the file backend")
	cmd.PersistentFlags().StringVar(&opts.Bucket, "bucket", "", "bucket holding the work-zone logs (default: storage.sandboxBucket)")

	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewKeysCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))

	return cmd
}

// loadEnvFile loads name into the environment. A missing file is only an
// error when the user asked for it explicitly.
func loadEnvFile(name string, explicit bool) error {
	if name == "" {
		return nil
	}
	err := godotenv.Load(name)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", name, err)
}

// loadConfig reads the config and applies the storage flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.Backend != "" {
		cfg.Storage.Backend = o.Backend
	}
	if o.Root != "" {
		cfg.Storage.Root = o.Root
	}
	if o.Bucket != "" {
		cfg.Storage.SandboxBucket = o.Bucket
	}
	if cfg.Storage.SandboxBucket == "" {
		cfg.Storage.SandboxBucket = "sandbox"
	}
	return cfg, nil
}
