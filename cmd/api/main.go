package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/fieldbook/fieldbook-sync/api/controllers"
	"github.com/fieldbook/fieldbook-sync/api/routes"
	"github.com/fieldbook/fieldbook-sync/internal/ledger"
	"github.com/fieldbook/fieldbook-sync/internal/orders"
	"github.com/fieldbook/fieldbook-sync/internal/reconcile"
	"github.com/fieldbook/fieldbook-sync/internal/remote"
	"github.com/fieldbook/fieldbook-sync/pkg/config"
	"github.com/fieldbook/fieldbook-sync/pkg/db"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	store, err := remote.NewDocStore(dbClient.DB(), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build document store", err)
		os.Exit(1)
	}

	ledgerRepo := ledger.NewRepository(store, logg)
	ledgerService := ledger.NewService(ledgerRepo, logg)
	ordersRepo := orders.NewRepository(store, logg)
	resolver := reconcile.NewResolver(ledgerRepo, ordersRepo, store, cfg.Reconcile, logg)

	addr := ":" + cfg.App.Port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:   cfg,
			Logger:   logg,
			Health:   map[string]controllers.Pinger{"postgres": dbClient},
			Resolver: resolver,
			Ledger:   ledgerService,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
