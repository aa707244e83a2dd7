package controllers

import (
	"context"
	"net/http"

	"github.com/fieldbook/fieldbook-sync/api/responses"
	"github.com/fieldbook/fieldbook-sync/api/validators"
	"github.com/fieldbook/fieldbook-sync/internal/ledger"
	"github.com/fieldbook/fieldbook-sync/pkg/db/models"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

// LedgerService posts transactions.
type LedgerService interface {
	RecordSale(ctx context.Context, input ledger.SaleInput) (*models.LedgerTransaction, error)
	RecordReturn(ctx context.Context, input ledger.ReturnInput) (*models.LedgerTransaction, error)
}

// RecordSale posts the sale for a delivered order. Reposting the same order
// answers with the existing transaction instead of creating a duplicate.
func RecordSale(service LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body ledger.SaleInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tx, err := service.RecordSale(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, tx)
	}
}

// RecordReturn posts a stock return.
func RecordReturn(service LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body ledger.ReturnInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tx, err := service.RecordReturn(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, tx)
	}
}
