package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/sslshop/internal/api"
	"github.com/edvin/sslshop/internal/config"
	"github.com/edvin/sslshop/internal/core"
	"github.com/edvin/sslshop/internal/db"
	"github.com/edvin/sslshop/internal/logging"
	"github.com/edvin/sslshop/internal/metrics"
	"github.com/edvin/sslshop/internal/store"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("api"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg, "api")

	if *migrateFlag {
		logger.Info().Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, int32(cfg.DatabaseMaxConns))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	prometheus.MustRegister(metrics.NewPoolCollector(pool))

	dialOpts, err := cfg.TemporalClientOptions()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal TLS")
	}
	if dialOpts.ConnectionOptions.TLS != nil {
		logger.Info().Msg("temporal mTLS enabled")
	}
	tc, err := temporalclient.Dial(dialOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	cache, closeCache, err := core.NewCredentialCache(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure credential cache")
	}
	defer closeCache()

	services := core.NewServices(core.Deps{
		Store:     store.NewPostgres(pool),
		Temporal:  tc,
		TaskQueue: cfg.TemporalTaskQueue,
		Authority: core.NewAuthorityClient(cfg, cache, logger),
		Payments:  core.NewPaymentsClient(cfg, logger),
		Webhooks:  core.WebhookConfig(cfg),
		Logger:    logger,
	})

	srv := api.NewServer(logger, services, pool, tc, cfg)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}
