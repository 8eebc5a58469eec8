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
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-pinvault/internal/server"
	"github.com/jeremyhahn/go-pinvault/pkg/health"
	"github.com/jeremyhahn/go-pinvault/pkg/metrics"
	"github.com/jeremyhahn/go-pinvault/pkg/ratelimit"
	"github.com/jeremyhahn/go-pinvault/pkg/types"
)

const (
	shutdownTimeout = 10 * time.Second
	healthProbeKey  = "health/probe"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the read-only status daemon",
		Long: `Serve vault status and Prometheus metrics over HTTP until interrupted.
The daemon never prompts and never reveals the PIN.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			return opts.withApp(cmd, func(a *app) error {
				return runServer(ctx, a)
			})
		},
	}

	cmd.Flags().String("listen", "127.0.0.1:8420", "status server listen address")
	return cmd
}

// runServer serves until ctx is canceled, then shuts down gracefully.
func runServer(ctx context.Context, a *app) error {
	cfg := a.cfg

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metrics.Enable()
		metricsPath = cfg.Metrics.Path
		collector := metrics.StartResourceCollector(ctx, cfg.Metrics.ResourceInterval.Std())
		defer collector.Stop()
	} else {
		metrics.Disable()
	}

	var limiter *ratelimit.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = ratelimit.New(&ratelimit.Config{
			Enabled:           true,
			RequestsPerSecond: cfg.Server.RateLimit,
			Burst:             cfg.Server.RateBurst,
		})
	}

	checker := health.NewChecker()
	checker.RegisterCheck("storage", health.StorageCheck(a.backend, healthProbeKey))
	checker.RegisterCheck("key_storage", health.StorageCheck(a.keyBackend, healthProbeKey))
	checker.RegisterCheck("biometric", health.CapabilityCheck(func(ctx context.Context) types.Capability {
		return a.auth.CanAuthenticate(ctx, types.StrengthStrong)
	}))

	srv, err := server.New(&server.Config{
		Listen:      cfg.Server.Listen,
		Status:      a.vault,
		Lockout:     a.auth,
		Health:      checker,
		RateLimiter: limiter,
		MetricsPath: metricsPath,
		Version:     Version,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(srv.Stop(shutdownCtx), <-errCh)
}
