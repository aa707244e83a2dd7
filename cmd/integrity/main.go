package main

import (
	"context"
	"flag"
	"fmt"
	"os"

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
)

const usage = `usage: integrity <analyze|cleanup|verify> [flags]

  analyze   inspect the ledger and report defects, never modifying data
  cleanup   repair defects; dry-run unless -execute or the execute config is set
  verify    re-check invariants; exits 1 when any check fails
`

func main() {
	logg := logger.New(logger.Options{ServiceName: "integrity"})

	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	flags := flag.NewFlagSet("integrity", flag.ExitOnError)
	execute := flags.Bool("execute", false, "apply deletions instead of dry-run (cleanup only)")
	reportDir := flags.String("report-dir", "", "directory for JSON reports (defaults to config)")
	if err := flags.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load()
	requireResource(logg, "config", err)
	cfg.Service.Kind = "integrity"

	logg = logger.New(logger.Options{
		ServiceName: "integrity",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":     cfg.App.Env,
		"command": command,
	})

	dir := cfg.Integrity.ReportDir
	if *reportDir != "" {
		dir = *reportDir
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(logg, "database", err)
	defer dbClient.Close()

	store, err := remote.NewDocStore(dbClient.DB(), logg)
	requireResource(logg, "document store", err)

	publisher, err := events.NewPublisher(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(logg, "event publisher", err)
	defer publisher.Close()

	ledgerRepo := ledger.NewRepository(store, logg)
	analyzer := integrity.NewAnalyzer(ledgerRepo, store, logg)
	jobMetrics := metrics.NewIntegrityJobMetrics(prometheus.DefaultRegisterer)

	switch command {
	case "analyze":
		job := integrity.NewAnalyzeJob(analyzer, publisher, dir, logg)
		analysis, path, err := job.Execute(ctx)
		requireResource(logg, "analysis", err)
		fmt.Printf("analysis written to %s (planned deletions: %d)\n", path, analysis.PlannedDeletions())

	case "cleanup":
		job := integrity.NewCleanupJob(integrity.CleanupParams{
			Analyzer:  analyzer,
			Ledger:    ledgerRepo,
			Store:     store,
			Publisher: publisher,
			Metrics:   jobMetrics,
			Logger:    logg,
			ReportDir: dir,
			Execute:   *execute || cfg.Integrity.Execute,
			BatchSize: cfg.Integrity.DeleteBatchSize,
		})
		result, path, err := job.Execute(ctx)
		requireResource(logg, "cleanup", err)
		fmt.Printf("cleanup (%s) written to %s (transactions: %d, deliveries: %d)\n",
			result.Mode, path, result.TransactionsDeleted, result.DeliveriesDeleted)

	case "verify":
		job := integrity.NewVerifyJob(analyzer, publisher, dir, logg)
		result, path, err := job.Execute(ctx)
		if result == nil && err != nil {
			requireResource(logg, "verification", err)
		}
		fmt.Printf("verification written to %s (passed: %t)\n", path, result.Passed)
		if !result.Passed {
			os.Exit(1)
		}

	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func requireResource(logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
