package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/fieldbook/fieldbook-sync/api/responses"
	"github.com/fieldbook/fieldbook-sync/pkg/config"
	pkgerrors "github.com/fieldbook/fieldbook-sync/pkg/errors"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

const readyProbeTimeout = 5 * time.Second

// Pinger is any dependency a readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Fieldbook-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports ready only when every wired dependency answers a ping.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Fieldbook-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
		defer cancel()

		status := map[string]string{}
		healthy := true
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				status[name] = "unreachable"
				healthy = false
				continue
			}
			status[name] = "ok"
		}

		if !healthy {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeDependency, "dependency unreachable").WithDetails(status))
			return
		}
		status["status"] = "ready"
		responses.WriteSuccess(w, status)
	}
}
