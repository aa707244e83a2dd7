package integrity

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldbook/fieldbook-sync/pkg/db/models"
	"github.com/fieldbook/fieldbook-sync/pkg/enums"
)

func TestVerifyPassesOnCleanDataset(t *testing.T) {
	order := models.Order{ID: uuid.New(), Status: enums.OrderStatusDelivered}
	ledger := &fakeLedgerSource{txs: []models.LedgerTransaction{
		txAt(order.ID, enums.TransactionTypeSaleDelivered, time.Now().UTC()),
	}}
	store := &fakeCollectionStore{orders: []models.Order{order}}
	job := NewVerifyJob(NewAnalyzer(ledger, store, testLogger()), nil, t.TempDir(), testLogger())

	result, path, err := job.Execute(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Passed)
	require.Len(t, result.Checks, 4)
	names := make([]string, 0, len(result.Checks))
	for _, check := range result.Checks {
		assert.True(t, check.Valid, check.Name)
		names = append(names, check.Name)
	}
	assert.ElementsMatch(t, []string{
		"no_duplicate_sales",
		"no_duplicate_deliveries",
		"deliveries_reference_orders",
		"net_cash_identity",
	}, names)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "integrity-report-"))
}

func TestVerifyFailsAndRunsEveryCheck(t *testing.T) {
	ledger, store, _, _, _ := dirtyDataset(t)
	// A stray delivery alongside the duplicate sale fails two independent
	// checks in one pass.
	store.deliveries = []models.Delivery{
		{ID: uuid.New(), OrderID: uuid.New(), Status: enums.DeliveryStatusAssigned, CreatedAt: time.Now().UTC()},
	}
	job := NewVerifyJob(NewAnalyzer(ledger, store, testLogger()), nil, t.TempDir(), testLogger())

	result, path, err := job.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verification failed")
	assert.Contains(t, err.Error(), "no_duplicate_sales")
	assert.Contains(t, err.Error(), "deliveries_reference_orders")

	require.NotNil(t, result)
	assert.False(t, result.Passed)
	require.Len(t, result.Checks, 4, "a failed check must not stop the remaining ones")
	assert.NotEmpty(t, path)
}

func TestVerifyFlagsReturnsWithPositiveNetCash(t *testing.T) {
	order := models.Order{ID: uuid.New(), Status: enums.OrderStatusDelivered}
	sale := txAt(order.ID, enums.TransactionTypeSaleDelivered, time.Now().UTC())
	ret := txAt(order.ID, enums.TransactionTypeReturn, time.Now().UTC())
	ret.NetCash = decimal.NewFromInt(80)

	ledger := &fakeLedgerSource{txs: []models.LedgerTransaction{sale, ret}}
	store := &fakeCollectionStore{orders: []models.Order{order}}
	job := NewVerifyJob(NewAnalyzer(ledger, store, testLogger()), nil, t.TempDir(), testLogger())

	result, _, err := job.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "net_cash_identity")
	require.NotNil(t, result)
	assert.False(t, result.Passed)
}

func TestVerifyTreatsReportOnlyFindingsAsPassing(t *testing.T) {
	// Missing transactions and orphans of either type are findings, not
	// invariant violations.
	delivered := models.Order{ID: uuid.New(), Status: enums.OrderStatusDelivered}
	orphanSale := txAt(uuid.New(), enums.TransactionTypeSaleDelivered, time.Now().UTC())
	orphanReturn := txAt(uuid.New(), enums.TransactionTypeReturn, time.Now().UTC())
	ledger := &fakeLedgerSource{txs: []models.LedgerTransaction{orphanSale, orphanReturn}}
	store := &fakeCollectionStore{orders: []models.Order{delivered}}
	job := NewVerifyJob(NewAnalyzer(ledger, store, testLogger()), nil, t.TempDir(), testLogger())

	result, _, err := job.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestVerifyReportIsParsable(t *testing.T) {
	ledger, store, _, _, _ := dirtyDataset(t)
	job := NewVerifyJob(NewAnalyzer(ledger, store, testLogger()), nil, t.TempDir(), testLogger())

	_, path, _ := job.Execute(context.Background())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var report VerifyResult
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.False(t, report.Passed)
	assert.Len(t, report.Checks, 4)
}

func TestReportFilesNeverOverwrite(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	first, err := writeReport(dir, "analysis-report", at, map[string]string{"run": "first"})
	require.NoError(t, err)

	_, err = writeReport(dir, "analysis-report", at, map[string]string{"run": "second"})
	require.Error(t, err, "a second report with the same timestamp must not clobber the first")

	raw, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "first")
}
