package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fieldbook/fieldbook-sync/api/controllers"
	"github.com/fieldbook/fieldbook-sync/api/routes"
	"github.com/fieldbook/fieldbook-sync/internal/connectivity"
	"github.com/fieldbook/fieldbook-sync/internal/hybrid"
	"github.com/fieldbook/fieldbook-sync/internal/localstore"
	"github.com/fieldbook/fieldbook-sync/internal/queue"
	"github.com/fieldbook/fieldbook-sync/internal/remote"
	"github.com/fieldbook/fieldbook-sync/internal/syncer"
	"github.com/fieldbook/fieldbook-sync/pkg/config"
	"github.com/fieldbook/fieldbook-sync/pkg/db"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
	"github.com/fieldbook/fieldbook-sync/pkg/metrics"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "agentd"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "agentd"

	logg = logger.New(logger.Options{
		ServiceName: "agentd",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	store, err := remote.NewDocStore(dbClient.DB(), logg)
	if err != nil {
		logg.Error(ctx, "failed to build document store", err)
		os.Exit(1)
	}

	local, err := localstore.Open(ctx, cfg.LocalStore, logg)
	if err != nil {
		logg.Error(ctx, "failed to open local store", err)
		os.Exit(1)
	}
	defer func() {
		if err := local.Close(); err != nil {
			logg.Error(ctx, "error closing local store", err)
		}
	}()

	pendingQueue, err := queue.New(ctx, local.DB(), logg)
	if err != nil {
		logg.Error(ctx, "failed to open pending queue", err)
		os.Exit(1)
	}

	monitor, err := connectivity.NewProbeMonitor(store, cfg.Sync.ProbeInterval, logg)
	if err != nil {
		logg.Error(ctx, "failed to build connectivity monitor", err)
		os.Exit(1)
	}

	syncMetrics := metrics.NewSyncMetrics(prometheus.DefaultRegisterer)

	hybridStore, err := hybrid.New(hybrid.Params{
		Logger:  logg,
		Remote:  store,
		Local:   local,
		Queue:   pendingQueue,
		Monitor: monitor,
	})
	if err != nil {
		logg.Error(ctx, "failed to build hybrid store", err)
		os.Exit(1)
	}

	coordinator, err := syncer.NewCoordinator(syncer.Params{
		Logger:         logg,
		Queue:          pendingQueue,
		Remote:         store,
		Monitor:        monitor,
		Meta:           local,
		Metrics:        syncMetrics,
		MaxAttempts:    cfg.Sync.MaxAttempts,
		BackoffBase:    cfg.Sync.BackoffBase,
		BackoffMax:     cfg.Sync.BackoffMax,
		DrainBatchSize: cfg.Sync.DrainBatchSize,
		TickInterval:   cfg.Sync.TickInterval,
		LastSyncKey:    localstore.MetaKeyLastSyncAt,
		OnAck:          hybridStore.MarkSynced,
		OnEvict: func(ctx context.Context, op queue.PendingOperation, reason error) {
			logg.Error(logg.WithFields(ctx, map[string]any{
				"entity_kind": op.EntityKind,
				"entity_id":   op.EntityID,
				"action":      op.Action,
			}), "pending operation abandoned", reason)
		},
	})
	if err != nil {
		logg.Error(ctx, "failed to build sync coordinator", err)
		os.Exit(1)
	}
	hybridStore.AttachFlusher(syncer.AsyncFlusher{Coordinator: coordinator})

	go func() {
		if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "connectivity monitor stopped unexpectedly", err)
		}
	}()
	go func() {
		if err := coordinator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "sync coordinator stopped unexpectedly", err)
		}
	}()

	addr := "127.0.0.1:" + cfg.App.Port
	runCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(runCtx, "starting agent daemon")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewAgentRouter(routes.Params{
			Config:  cfg,
			Logger:  logg,
			Health:  map[string]controllers.Pinger{"remote": store, "localstore": local},
			Hybrid:  hybridStore,
			Status:  hybridStore,
			Queue:   pendingQueue,
			Online:  monitor,
			Flusher: coordinator,
		}),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(runCtx, "server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(runCtx, "agent daemon stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "agent daemon shut down gracefully")
}
