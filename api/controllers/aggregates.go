package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fieldbook/fieldbook-sync/api/middleware"
	"github.com/fieldbook/fieldbook-sync/api/responses"
	"github.com/fieldbook/fieldbook-sync/internal/reconcile"
	pkgerrors "github.com/fieldbook/fieldbook-sync/pkg/errors"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

// AggregateResolver answers financial aggregate queries.
type AggregateResolver interface {
	CashToday(ctx context.Context, regionID string) (*reconcile.Result, error)
	PeriodSales(ctx context.Context, from, to time.Time, regionID string) (*reconcile.Result, error)
	ShopStatement(ctx context.Context, partyID uuid.UUID, from, to time.Time) (*reconcile.Statement, error)
}

// CashToday reports today's cash position for the agent's region. An
// explicit region_id query overrides the token's region.
func CashToday(resolver AggregateResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		regionID := r.URL.Query().Get("region_id")
		if regionID == "" {
			regionID = middleware.RegionID(r.Context())
		}
		result, err := resolver.CashToday(r.Context(), regionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// PeriodSales reports gross sales between the from and to query dates.
func PeriodSales(resolver AggregateResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, err := parsePeriod(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		regionID := r.URL.Query().Get("region_id")
		if regionID == "" {
			regionID = middleware.RegionID(r.Context())
		}
		result, err := resolver.PeriodSales(r.Context(), from, to, regionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// ShopStatement lists a shop's ledger history with a running balance.
func ShopStatement(resolver AggregateResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID, err := uuid.Parse(chi.URLParam(r, "shopID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "invalid shop id"))
			return
		}
		from, to, err := parsePeriod(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		statement, err := resolver.ShopStatement(r.Context(), shopID, from, to)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, statement)
	}
}

// parsePeriod reads from/to query params as RFC 3339 timestamps or plain
// dates. A missing from means the beginning of the current month; a missing
// to means now.
func parsePeriod(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := now

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := parseTimestamp(raw)
		if err != nil {
			return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid from date")
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := parseTimestamp(raw)
		if err != nil {
			return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid to date")
		}
		to = parsed
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "to precedes from")
	}
	return from, to, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed, nil
	}
	return time.Parse("2006-01-02", raw)
}
