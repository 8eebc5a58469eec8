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

package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-pinvault/internal/config"
)

const redacted = "********"

func newConfigCmd(opts *globalOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage pinvault configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to a file",
		Long: `Write the effective configuration (defaults, environment and flags) to
--config, or to <data-dir>/config.yaml when --config is not set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			path := opts.ConfigFile
			if path == "" {
				path = filepath.Join(cfg.Storage.Path, config.FileName)
			}
			if err := cfg.WriteFile(path, force); err != nil {
				return err
			}
			return opts.printer(cmd).PrintSuccess(fmt.Sprintf("Configuration written to %s", path))
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Keystore.Passphrase != "" {
				cfg.Keystore.Passphrase = redacted
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			return opts.printer(cmd).PrintRaw("config", data)
		},
	}

	configCmd.AddCommand(initCmd, showCmd)
	return configCmd
}
