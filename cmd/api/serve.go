package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/evalboard/evalboard/internal/admission"
	"github.com/evalboard/evalboard/internal/auth"
	"github.com/evalboard/evalboard/internal/config"
	"github.com/evalboard/evalboard/internal/httpserver"
	"github.com/evalboard/evalboard/internal/logging"
	"github.com/evalboard/evalboard/internal/metrics"
	"github.com/evalboard/evalboard/internal/store"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Boots the service: config, logger, database, schema, HTTP server.

The server stops gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file (optional)")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	ctx = logging.IntoContext(ctx, logger)

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// Ensure required tables exist so a fresh deployment needs no extra step.
	if err := db.EnsureSchema(ctx); err != nil {
		logger.Error(err, "Failed to ensure schema")
		return err
	}

	if _, ok := cfg.Auth.APIKeys[config.DevAPIKey]; ok {
		logger.Info("Development API key enabled; configure auth.api_keys for production")
	}
	verifier := newVerifier(cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var configs admission.ConfigStore = db
	if cfg.ConfigCacheTTL > 0 {
		cached := admission.NewCachedConfigs(db, cfg.ConfigCacheTTL)
		go cached.Start(ctx)
		configs = cached
	}

	clock := clockwork.NewRealClock()
	ctrl := admission.NewController(admission.Options{
		Verifier: verifier,
		Configs:  configs,
		Counter:  db,
		Writer:   db,
		Clock:    clock,
		Location: cfg.Location(),
		Strict:   cfg.Quota.Strict,
		Observer: metrics.NewAdmissionMetrics(reg),
	})

	router := httpserver.NewRouter(httpserver.Deps{
		Logger:   logger,
		Store:    db,
		Stats:    db,
		Quota:    admission.NewQuotaCounter(db, clock, cfg.Location()),
		Admitter: ctrl,
		Verifier: verifier,
		Gatherer: reg,
	})

	logger.Info("Server started",
		"addr", cfg.ListenAddr,
		"driver", cfg.Database.Driver,
		"quotaTimezone", cfg.Location().String(),
		"strictQuota", cfg.Quota.Strict,
		"configCacheTTL", cfg.ConfigCacheTTL)
	if err := httpserver.Serve(ctx, cfg.ListenAddr, router, cfg.ShutdownTimeout); err != nil {
		logger.Error(err, "Server stopped with error")
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger logr.Logger) (store.Store, error) {
	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		logger.Error(err, "Failed to open store", "driver", cfg.Database.Driver)
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}

// newVerifier accepts API keys and, when a secret is configured, HS256 JWTs.
func newVerifier(cfg *config.Config) auth.Verifier {
	chain := auth.Chain{auth.NewAPIKeyVerifier(cfg.Auth.APIKeys)}
	if cfg.Auth.JWTSecret != "" {
		chain = append(chain, auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer))
	}
	return chain
}
