package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/edvin/sslshop/internal/activity"
	"github.com/edvin/sslshop/internal/config"
	"github.com/edvin/sslshop/internal/core"
	"github.com/edvin/sslshop/internal/db"
	"github.com/edvin/sslshop/internal/lifecycle"
	"github.com/edvin/sslshop/internal/logging"
	"github.com/edvin/sslshop/internal/metrics"
	"github.com/edvin/sslshop/internal/notify"
	"github.com/edvin/sslshop/internal/store"
	"github.com/edvin/sslshop/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg, "worker")

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

	st := store.NewPostgres(pool)
	authority := core.NewAuthorityClient(cfg, cache, logger)
	payments := core.NewPaymentsClient(cfg, logger)

	taskQueue := cfg.TemporalTaskQueue
	if taskQueue == "" {
		taskQueue = workflow.TaskQueue
	}

	locks := lifecycle.NewOrderLocks()
	submitter := lifecycle.NewSubmitter(st, authority, locks, logger)
	reconciler := lifecycle.NewReconciler(st, authority, core.NewWorkflowStarter(tc, taskQueue), locks, lifecycle.SweepConfig{
		SubmitRetryAfter: cfg.SubmitRetryAfter,
		UnpaidOrderTTL:   cfg.UnpaidOrderTTL,
	}, logger)
	expiry := lifecycle.NewExpiry(st, cfg.ExpiryWarningDays, logger)
	renewer := lifecycle.NewRenewer(st, payments, submitter, cfg.RenewalLookaheadDays, logger)
	w := worker.New(tc, taskQueue, worker.Options{})

	// Register activities
	w.RegisterActivity(activity.NewOrders(submitter, reconciler))
	w.RegisterActivity(activity.NewExpiry(expiry))
	w.RegisterActivity(activity.NewRenewal(renewer))

	// Register workflows
	w.RegisterWorkflow(workflow.SubmitOrderWorkflow)
	w.RegisterWorkflow(workflow.ReconcileOrderWorkflow)
	w.RegisterWorkflow(workflow.ReconcileOrdersWorkflow)
	w.RegisterWorkflow(workflow.ExpireCertificatesWorkflow)
	w.RegisterWorkflow(workflow.ExpiryWarningWorkflow)
	w.RegisterWorkflow(workflow.RenewCertificatesWorkflow)
	w.RegisterWorkflow(workflow.RenewOrderWorkflow)
	w.RegisterWorkflow(workflow.InvoiceRenewalWorkflow)

	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr, pool.Ping, func(ctx context.Context) error {
			_, err := tc.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
			return err
		})
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		logger.Info().Str("taskQueue", taskQueue).Msg("starting temporal worker")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("worker failed")
		}
	}()

	dispatcher := notify.NewDispatcher(st, notificationChannels(cfg, st, logger), notify.Config{
		PollInterval: cfg.NotifyPollInterval,
		BatchSize:    cfg.NotifyBatchSize,
		Concurrency:  cfg.NotifyConcurrency,
		MaxAttempts:  cfg.NotifyMaxAttempts,
		Lease:        cfg.NotifyLease,
	}, logger)
	go func() {
		if err := dispatcher.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("notification dispatcher failed")
		}
	}()

	// Existing schedules are left alone so re-deploys do not fail.
	schedules := core.NewScheduleService(tc, taskQueue)
	if err := schedules.Register(ctx, core.Schedules(cfg), logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to register schedules")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()
}

func notificationChannels(cfg *config.Config, st store.Store, logger zerolog.Logger) []notify.Channel {
	var channels []notify.Channel
	if cfg.ChannelEnabled(notify.ChannelMail) {
		channels = append(channels, notify.NewMailChannel(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.MailFrom, cfg.SupportEmail))
	}
	if cfg.ChannelEnabled(notify.ChannelInApp) {
		channels = append(channels, notify.NewInAppChannel(st))
	}
	if cfg.ChannelEnabled(notify.ChannelChat) {
		channels = append(channels, notify.NewChatChannel(cfg.SlackWebhookURL, nil))
	}
	for _, ch := range channels {
		logger.Info().Str("channel", ch.Name()).Msg("notification channel enabled")
	}
	return channels
}
