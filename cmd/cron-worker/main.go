package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/app"
	"github.com/Cdineshreddy12/Wrapper-sub013/internal/cron"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/bigquery"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/config"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/db"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/instance"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/metrics"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/migrate"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/redis"
)

const serviceKind = "cron-worker"

var logg = logger.New(logger.Options{ServiceName: serviceKind})

var rootCmd = &cobra.Command{
	Use:          serviceKind,
	Short:        "Run scheduled credit ledger maintenance",
	SilenceUsage: true,
	RunE:         runLoop,
}

var runOnceCmd = &cobra.Command{
	Use:   "run-once [JOB...]",
	Short: "Run the named jobs, or every job, a single time and exit",
	RunE:  runOnce,
}

func init() {
	rootCmd.AddCommand(runOnceCmd)
}

func main() {
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(context.Background(), "cron worker failed", err)
		os.Exit(1)
	}
}

// worker owns the connections opened for one command invocation.
type worker struct {
	ctx      context.Context
	cfg      *config.Config
	service  *cron.Service
	registry *cron.Registry
	prom     *prometheus.Registry
	closers  []func()
}

func (w *worker) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
}

func (w *worker) onClose(what string, fn func() error) {
	w.closers = append(w.closers, func() {
		if err := fn(); err != nil {
			logg.Error(w.ctx, "error closing "+what, err)
		}
	})
}

func newWorker(cmd *cobra.Command) (*worker, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Service.Kind = serviceKind
	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	w := &worker{cfg: cfg, prom: prometheus.NewRegistry()}
	w.ctx = logg.WithFields(cmd.Context(), map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"instance":    instance.ID(),
	})
	ready := false
	defer func() {
		if !ready {
			w.close()
		}
	}()

	dbClient, err := db.New(w.ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	w.onClose("database", dbClient.Close)
	if err := migrate.MaybeRunDev(w.ctx, cfg, logg, dbClient); err != nil {
		return nil, err
	}

	redisClient, err := redis.New(w.ctx, cfg.Redis, logg)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	w.onClose("redis", redisClient.Close)

	services, err := app.Build(app.Params{
		Config:     cfg,
		DB:         dbClient,
		Redis:      redisClient,
		Logger:     logg,
		Registerer: w.prom,
	})
	if err != nil {
		return nil, fmt.Errorf("build services: %w", err)
	}

	if w.registry, err = w.buildJobs(dbClient, redisClient, services); err != nil {
		return nil, fmt.Errorf("register jobs: %w", err)
	}

	lockKey := redisClient.LockKey(serviceKind + ":" + envOrLocal(cfg.App.Env))
	lock, err := cron.NewRedisLock(redisClient, lockKey, cfg.Cron.LockTTL)
	if err != nil {
		return nil, err
	}
	w.service, err = cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: w.registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(w.prom),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return nil, err
	}
	ready = true
	return w, nil
}

func (w *worker) buildJobs(dbClient *db.Client, redisClient *redis.Client, services *app.Services) (*cron.Registry, error) {
	cfg := w.cfg
	registry := cron.NewRegistry()

	expiryJob, err := cron.NewExpiryJob(cron.ExpiryJobParams{Logger: logg, Processor: services.Expiry})
	if err != nil {
		return nil, err
	}
	registry.Register(expiryJob, 0)

	warningJob, err := cron.NewExpiryWarningJob(cron.ExpiryWarningJobParams{
		Logger:   logg,
		Notifier: services.Expiry,
		Window:   cfg.Credits.ExpiryWarningWindow,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(warningJob, 0)

	resumeJob, err := cron.NewCampaignResumeJob(cron.CampaignResumeJobParams{Logger: logg, Campaigns: services.Campaigns})
	if err != nil {
		return nil, err
	}
	registry.Register(resumeJob, 0)

	reconcileJob, err := cron.NewReconciliationJob(cron.ReconciliationJobParams{
		Logger:      logg,
		Accounts:    services.Reconciliation,
		Allocations: services.Allocations,
		BatchSize:   cfg.Credits.SweepBatchSize,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(reconcileJob, cfg.Cron.ReconcileEvery)

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: services.Outbox,
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(retentionJob, cfg.Cron.RetentionEvery)

	if !cfg.BigQuery.Enabled() {
		logg.Info(w.ctx, "bigquery not configured, ledger export disabled")
		return registry, nil
	}
	bqClient, err := bigquery.NewClient(w.ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		return nil, fmt.Errorf("bigquery: %w", err)
	}
	w.onClose("bigquery client", bqClient.Close)
	exportJob, err := cron.NewLedgerExportJob(cron.LedgerExportJobParams{
		Logger:      logg,
		Ledger:      services.Ledger,
		Inserter:    bqClient,
		Table:       bqClient.LedgerTable(),
		Cursors:     redisClient,
		CursorKey:   redisClient.CounterKey("ledger-export:cursor"),
		BatchSize:   cfg.BigQuery.BatchSize,
		SettleDelay: cfg.BigQuery.SettleDelay,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(exportJob, cfg.Cron.ExportEvery)
	return registry, nil
}

func runLoop(cmd *cobra.Command, _ []string) error {
	w, err := newWorker(cmd)
	if err != nil {
		return err
	}
	defer w.close()

	metricsServer := &http.Server{
		Addr:              ":" + w.cfg.App.Port,
		Handler:           promhttp.HandlerFor(w.prom, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	w.prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(w.ctx, "metrics server stopped", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logg.Info(logg.WithField(w.ctx, "jobs", len(w.registry.Jobs())), "starting cron worker")
	err = w.service.Run(w.ctx)
	if errors.Is(err, context.Canceled) {
		logg.Info(w.ctx, "cron worker shutting down gracefully")
		return nil
	}
	return err
}

func runOnce(cmd *cobra.Command, args []string) error {
	w, err := newWorker(cmd)
	if err != nil {
		return err
	}
	defer w.close()

	if len(args) == 0 {
		return w.service.RunOnce(w.ctx)
	}
	return w.service.RunJobs(w.ctx, args...)
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
