package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fieldbook/fieldbook-sync/internal/integrity"
	"github.com/fieldbook/fieldbook-sync/internal/ledger"
	"github.com/fieldbook/fieldbook-sync/internal/remote"
	"github.com/fieldbook/fieldbook-sync/pkg/config"
	"github.com/fieldbook/fieldbook-sync/pkg/db"
	"github.com/fieldbook/fieldbook-sync/pkg/events"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
	"github.com/fieldbook/fieldbook-sync/pkg/metrics"
	"github.com/fieldbook/fieldbook-sync/pkg/redis"
)

const lockKeyFormat = "fieldbook:integrity-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "integrity-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "integrity-worker"

	logg = logger.New(logger.Options{
		ServiceName: "integrity-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	store, err := remote.NewDocStore(dbClient.DB(), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build document store", err)
		os.Exit(1)
	}

	publisher, err := events.NewPublisher(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build event publisher", err)
		os.Exit(1)
	}
	defer publisher.Close()

	jobMetrics := metrics.NewIntegrityJobMetrics(prometheus.DefaultRegisterer)
	ledgerRepo := ledger.NewRepository(store, logg)
	analyzer := integrity.NewAnalyzer(ledgerRepo, store, logg)

	registry := integrity.NewRegistry(
		integrity.NewAnalyzeJob(analyzer, publisher, cfg.Integrity.ReportDir, logg),
		integrity.NewCleanupJob(integrity.CleanupParams{
			Analyzer:  analyzer,
			Ledger:    ledgerRepo,
			Store:     store,
			Publisher: publisher,
			Metrics:   jobMetrics,
			Logger:    logg,
			ReportDir: cfg.Integrity.ReportDir,
			Execute:   cfg.Integrity.Execute,
			BatchSize: cfg.Integrity.DeleteBatchSize,
		}),
		integrity.NewVerifyJob(analyzer, publisher, cfg.Integrity.ReportDir, logg),
	)

	lock, err := integrity.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create integrity lock", err)
		os.Exit(1)
	}

	runner, err := integrity.NewRunner(integrity.RunnerParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Integrity.RunInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create integrity runner", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting integrity worker")

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "integrity worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "integrity worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
