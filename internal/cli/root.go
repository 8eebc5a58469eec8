// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pinvault.
//
// go-pinvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package cli implements the pinvault command line interface.
package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-pinvault/internal/config"
	"github.com/jeremyhahn/go-pinvault/pkg/logging"
)

// globalOptions holds the persistent flags shared by every command
type globalOptions struct {
	ConfigFile   string
	DataDir      string
	Storage      string
	LogLevel     string
	LogFormat    string
	OutputFormat string
	Verbose      bool
}

// NewRootCmd builds the pinvault command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "pinvault",
		Short: "pinvault - Biometric-gated PIN vault",
		Long: `pinvault stores a single PIN encrypted under a key that can only be
used after a successful biometric challenge.

Typical flow:
  pinvault enroll          enroll the sensor credential
  pinvault pin save 1234   encrypt and save a PIN
  pinvault pin show        reveal the saved PIN
  pinvault status          show capability and PIN state`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "",
		"config file (default is <data-dir>/config.yaml)")
	flags.StringVar(&opts.DataDir, "data-dir", config.DefaultDataDir(),
		"directory holding keys, enrollment and the PIN record")
	flags.StringVar(&opts.Storage, "storage", config.StorageFile,
		"storage backend (file, memory, keyring)")
	flags.StringVar(&opts.LogLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	flags.StringVar(&opts.LogFormat, "log-format", "text",
		"log format (text, json)")
	flags.StringVarP(&opts.OutputFormat, "output", "o", "text",
		"output format (text, json)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false,
		"verbose output")

	rootCmd.AddCommand(
		newStatusCmd(opts),
		newEnrollCmd(opts),
		newUnlockCmd(opts),
		newPINCmd(opts),
		newResetCmd(opts),
		newConfigCmd(opts),
		newServeCmd(opts),
		newVersionCmd(opts),
	)
	return rootCmd
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		format, _ := cmd.PersistentFlags().GetString("output")
		_ = NewPrinter(format, cmd.ErrOrStderr()).PrintError(err)
	}
	return err
}

// loadConfig resolves configuration for cmd from file, environment and flags.
func (o *globalOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(o.ConfigFile, cmd.Flags())
}

// newLogger builds the command logger on stderr. --verbose forces debug.
func (o *globalOptions) newLogger(cmd *cobra.Command, cfg *config.Config) *logging.Logger {
	level := cfg.Logging.Level
	if o.Verbose {
		level = "debug"
	}
	return logging.New(&logging.Options{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
}

func (o *globalOptions) printer(cmd *cobra.Command) *Printer {
	return NewPrinter(o.OutputFormat, cmd.OutOrStdout())
}

// withApp loads configuration, opens the vault and runs fn against it.
func (o *globalOptions) withApp(cmd *cobra.Command, fn func(*app) error) (err error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, o.newLogger(cmd, cfg), cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()
	return fn(a)
}
