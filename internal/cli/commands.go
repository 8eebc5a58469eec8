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
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-pinvault/pkg/biometric"
)

// signalContext cancels on SIGINT or SIGTERM, which ends an open prompt as canceled.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show biometric capability and PIN state",
		Long: `Report whether biometric authentication is available right now and
whether a PIN has been saved. Never prompts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(a *app) error {
				status, err := a.vault.Status(cmd.Context())
				if err != nil {
					return err
				}

				view := &StatusView{
					Status:           *status,
					LockoutRemaining: a.auth.LockoutRemaining(),
					Storage:          a.cfg.Storage.Backend,
					KeyStorage:       a.cfg.Keystore.Storage,
				}
				enrollment, err := a.auth.Enrollment()
				switch {
				case err == nil:
					view.Enrolled = true
					view.SensorClass = enrollment.SensorClass.String()
				case !errors.Is(err, biometric.ErrNotEnrolled):
					return err
				}
				return opts.printer(cmd).PrintStatus(view)
			})
		},
	}
}

func newEnrollCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enroll",
		Short: "Enroll the biometric sensor credential",
		Long: `Register the sensor credential with user verification required.
Enrolling again replaces the previous credential; a saved PIN is kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			return opts.withApp(cmd, func(a *app) error {
				enrollment, err := a.auth.Enroll(ctx)
				if err != nil {
					return err
				}
				return opts.printer(cmd).PrintEnrollment(enrollment)
			})
		},
	}
}

func newUnlockCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Run a biometric challenge without touching the PIN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			return opts.withApp(cmd, func(a *app) error {
				if err := a.vault.Unlock(ctx); err != nil {
					return err
				}
				return opts.printer(cmd).PrintSuccess("Authenticated")
			})
		},
	}
}

func newPINCmd(opts *globalOptions) *cobra.Command {
	pinCmd := &cobra.Command{
		Use:   "pin",
		Short: "Save or reveal the PIN",
	}

	saveCmd := &cobra.Command{
		Use:   "save <pin>",
		Short: "Encrypt and save a PIN after a biometric challenge",
		Long: `Encrypt the PIN under the biometric-bound key and save it, replacing
any previous PIN. Surrounding whitespace is trimmed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			return opts.withApp(cmd, func(a *app) error {
				if err := a.vault.SavePIN(ctx, args[0]); err != nil {
					return err
				}
				return opts.printer(cmd).PrintSuccess("PIN saved")
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Reveal the saved PIN after a biometric challenge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			return opts.withApp(cmd, func(a *app) error {
				pin, err := a.vault.RevealPIN(ctx)
				if err != nil {
					return err
				}
				return opts.printer(cmd).PrintPIN(pin)
			})
		},
	}

	pinCmd.AddCommand(saveCmd, showCmd)
	return pinCmd
}

func newResetCmd(opts *globalOptions) *cobra.Command {
	var (
		yes      bool
		unenroll bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the saved PIN and its key",
		Long: `Delete the saved PIN and the key protecting it. With --unenroll the
biometric enrollment and sensor credential are removed as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes")
			}
			return opts.withApp(cmd, func(a *app) error {
				if err := a.vault.Reset(); err != nil {
					return err
				}
				if unenroll {
					if err := a.auth.Unenroll(); err != nil {
						return err
					}
					if err := a.sensor.Reset(); err != nil {
						return err
					}
					return opts.printer(cmd).PrintSuccess("PIN, key and enrollment removed")
				}
				return opts.printer(cmd).PrintSuccess("PIN and key removed")
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	cmd.Flags().BoolVar(&unenroll, "unenroll", false, "also remove the biometric enrollment")
	return cmd
}
