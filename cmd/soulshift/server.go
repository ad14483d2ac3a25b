// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soulshift Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/I1SSAACC/Soulshift/internal/auth"
	"github.com/I1SSAACC/Soulshift/internal/config"
	"github.com/I1SSAACC/Soulshift/internal/logging"
	"github.com/I1SSAACC/Soulshift/internal/observability"
	"github.com/I1SSAACC/Soulshift/internal/promo"
	"github.com/I1SSAACC/Soulshift/internal/server"
	"github.com/I1SSAACC/Soulshift/internal/session"
	"github.com/I1SSAACC/Soulshift/internal/store"
	"github.com/I1SSAACC/Soulshift/pkg/errutil"
)

const shutdownTimeout = 10 * time.Second

// newServerCmd creates the server subcommand.
func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the game account/session server",
		Long: `Start the TCP server that handles registration, login, auto-login,
player data and promo code redemption.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("listen-addr", config.DefaultListenAddr, "TCP listen address")
	cmd.Flags().String("observability-addr", config.DefaultObservabilityAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("data-dir", "", "data directory (default: XDG_DATA_HOME/soulshift)")
	cmd.Flags().Int("pbkdf2-iterations", auth.DefaultIterations, "PBKDF2 iteration count for new credential records")
	cmd.Flags().Int64("starting-gold", config.DefaultStartingGold, "gold balance for new player profiles")
	cmd.Flags().String("log-format", config.DefaultLogFormat, "log format (json or text)")

	return cmd
}

// runServer wires the stores, authenticator and servers and blocks until
// the context is cancelled by a signal.
func runServer(parent context.Context, cfg config.Config) error {
	logging.SetDefault("soulshift", version, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	paths := store.NewPaths(cfg.DataDir)
	if err := paths.EnsureLayout(); err != nil {
		return err
	}

	ledger, err := promo.Open(paths.PromoFile())
	if err != nil {
		return err
	}

	players := store.NewPlayerStore(paths, cfg.StartingGold, ledger)
	accounts, err := store.OpenAccounts(paths.AccountsFile(), auth.NewHasher(cfg.PBKDF2Iterations), players)
	if err != nil {
		return err
	}

	var metrics *observability.Metrics
	var obs *observability.Server
	var srv *server.Server

	if cfg.ObservabilityAddr != "" {
		obs = observability.NewServer(cfg.ObservabilityAddr, func() bool {
			return srv != nil && srv.Addr() != ""
		})
		metrics = obs.Metrics()
	}

	authenticator := session.NewAuthenticator(accounts, players, session.NewRegistry(), metrics)
	srv = server.NewServer(cfg.ListenAddr, authenticator, metrics)

	var obsErrCh <-chan error
	if obs != nil {
		obsErrCh, err = obs.Start()
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := obs.Stop(shutdownCtx); stopErr != nil {
				errutil.LogError(slog.Default(), "observability shutdown failed", stopErr)
			}
		}()
	}

	slog.Info("starting soulshift server",
		"listen_addr", cfg.ListenAddr,
		"data_dir", cfg.DataDir,
		"promo_codes", ledger.Len(),
	)

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- srv.Run(ctx)
	}()

	select {
	case err := <-runErrCh:
		return err
	case err := <-obsErrCh:
		stop()
		<-runErrCh
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
		return <-runErrCh
	}
}
