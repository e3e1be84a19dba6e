// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/auth"
	authpg "github.com/gatehouse/gatehouse/internal/auth/postgres"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/httpapi"
	"github.com/gatehouse/gatehouse/internal/logging"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/store"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the identity API server",
		Long: `Start the Gatehouse API server. Configuration comes from defaults,
the optional --config YAML file, and flags, in that order. DATABASE_URL
and GATEHOUSE_TOKEN_SECRET are read from the environment at startup.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}

	// Flag names double as config file keys.
	cmd.Flags().String("http-addr", config.DefaultHTTPAddr, "API listen address")
	cmd.Flags().String("metrics-addr", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", config.DefaultLogFormat, "log format (json or text)")
	cmd.Flags().Int("bcrypt-cost", config.DefaultBcryptCost, "bcrypt work factor for password hashing")
	cmd.Flags().Int("hash-concurrency", config.DefaultHashConcurrency, "max concurrent password hashing operations (0 = one per CPU)")
	cmd.Flags().String("token-issuer", config.DefaultTokenIssuer, "token issuer claim")
	cmd.Flags().String("token-audience", config.DefaultTokenAudience, "token audience claim")
	cmd.Flags().String("token-ttl", config.DefaultTokenTTL, "token lifetime")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	secrets, err := config.LoadSecrets()
	if err != nil {
		return err
	}

	logging.SetDefault("gatehouse", version, cfg.LogFormat)

	slog.Info("starting gatehouse",
		"http_addr", cfg.HTTPAddr,
		"log_format", cfg.LogFormat,
	)

	pool, err := store.Connect(ctx, secrets.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	slog.Info("connected to database")

	ttl, err := cfg.ParsedTokenTTL()
	if err != nil {
		return err
	}

	// Explicit construction, leaf-first: repository, hasher, and token
	// issuer feed the service. The signing secret is passed in here and
	// nowhere else.
	users := authpg.NewUserRepository(pool)
	hasher := auth.NewBcryptHasher(cfg.BcryptCost)
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		Secret:   []byte(secrets.TokenSecret),
		Issuer:   cfg.TokenIssuer,
		Audience: cfg.TokenAudience,
		TTL:      ttl,
	})
	if err != nil {
		return err
	}

	opts := []auth.ServiceOption{auth.WithLogger(slog.Default())}
	if cfg.HashConcurrency > 0 {
		opts = append(opts, auth.WithHashConcurrency(cfg.HashConcurrency))
	}
	svc, err := auth.NewService(users, hasher, tokens, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Observability server first so readiness reflects the API listener.
	var obsServer *observability.Server
	var metrics *observability.Metrics
	var apiReady atomic.Bool
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, apiReady.Load)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		metrics = obsServer.Metrics()
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	handler := httpapi.NewHandler(svc, metrics, slog.Default())

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return oops.Code("API_LISTEN_FAILED").With("addr", cfg.HTTPAddr).Wrap(err)
	}

	apiServer := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if serveErr := apiServer.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			errChan <- serveErr
		}
	}()
	apiReady.Store(true)

	slog.Info("gatehouse ready", "addr", listener.Addr().String())

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case err := <-errChan:
		return oops.Code("API_SERVER_FAILED").Wrap(err)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("error stopping API server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// monitorServerErrors cancels the main context when a background server
// fails, so the process shuts down instead of limping along.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errChan <-chan error, name string) {
	select {
	case err, ok := <-errChan:
		if ok && err != nil {
			slog.Error("background server failed", "server", name, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
