package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldbook/fieldbook-sync/api/controllers"
	"github.com/fieldbook/fieldbook-sync/api/middleware"
	"github.com/fieldbook/fieldbook-sync/pkg/config"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

// Params collect everything the routers serve from.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	Health   map[string]controllers.Pinger
	Hybrid   controllers.HybridStore
	Resolver controllers.AggregateResolver
	Ledger   controllers.LedgerService
	Status   controllers.SyncStatusSource
	Queue    controllers.QueueLister
	Online   controllers.OnlineChecker
	Flusher  controllers.Flusher
}

// NewRouter builds the backend API router: aggregates and ledger posting,
// JWT-protected.
func NewRouter(p Params) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, p.Logger, p.Health))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(p.Config.JWT, p.Logger))

		r.Route("/aggregates", func(r chi.Router) {
			r.Get("/cash-today", controllers.CashToday(p.Resolver, p.Logger))
			r.Get("/period-sales", controllers.PeriodSales(p.Resolver, p.Logger))
		})
		r.Get("/shops/{shopID}/statement", controllers.ShopStatement(p.Resolver, p.Logger))

		r.Route("/ledger", func(r chi.Router) {
			r.Post("/sales", controllers.RecordSale(p.Ledger, p.Logger))
			r.Post("/returns", controllers.RecordReturn(p.Ledger, p.Logger))
		})
	})

	return r
}

// NewAgentRouter builds the on-device agent router: local-first documents
// and sync controls. It binds to loopback, so no token check applies.
func NewAgentRouter(p Params) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, p.Logger, p.Health))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/collections/{collection}", func(r chi.Router) {
		r.Get("/", controllers.ListEntities(p.Hybrid, p.Logger))
		r.Get("/{id}", controllers.GetEntity(p.Hybrid, p.Logger))
		r.Post("/{id}", controllers.PostEntity(p.Hybrid, p.Logger))
		r.Put("/{id}", controllers.PutEntity(p.Hybrid, p.Logger))
		r.Delete("/{id}", controllers.DeleteEntity(p.Hybrid, p.Logger))
	})

	r.Route("/sync", func(r chi.Router) {
		r.Get("/status", controllers.SyncStatus(p.Status, p.Online, p.Logger))
		r.Get("/queue", controllers.SyncQueue(p.Queue, p.Logger))
		r.Post("/flush", controllers.SyncFlush(p.Flusher, p.Logger))
	})

	return r
}
