package integrity

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldbook/fieldbook-sync/internal/remote"
	"github.com/fieldbook/fieldbook-sync/pkg/db/models"
	"github.com/fieldbook/fieldbook-sync/pkg/events"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
	"github.com/fieldbook/fieldbook-sync/pkg/metrics"
)

const defaultDeleteBatchSize = 25

// ledgerDeleter is the slice of the ledger repository the cleanup reads and
// writes through. Reads feed the deletion log with the amounts of the rows
// about to go.
type ledgerDeleter interface {
	ListAll(ctx context.Context) ([]models.LedgerTransaction, error)
	DeleteBatch(ctx context.Context, ids []uuid.UUID) error
}

// DeletionRecord logs one removed row in the run report.
type DeletionRecord struct {
	Collection string          `json:"collection"`
	DeletedID  uuid.UUID       `json:"deleted_id"`
	OrderID    *uuid.UUID      `json:"order_id,omitempty"`
	Reason     string          `json:"reason"`
	Amount     decimal.Decimal `json:"amount"`
	Timestamp  time.Time       `json:"timestamp"`
}

// CleanupResult reports what one cleanup pass planned and, in execute mode,
// removed. BasedOnReport names the newest analysis report present when the
// pass started; the plan itself is always recomputed from current data.
type CleanupResult struct {
	GeneratedAt         time.Time        `json:"generated_at"`
	Mode                string           `json:"mode"`
	BasedOnReport       string           `json:"based_on_report,omitempty"`
	Analysis            *Analysis        `json:"analysis"`
	Deletions           []DeletionRecord `json:"deletions"`
	TransactionsDeleted int              `json:"transactions_deleted"`
	DeliveriesDeleted   int              `json:"deliveries_deleted"`
}

// CleanupJob repairs the defects an analysis finds. Dry-run is the default
// mode: the job plans deletions and writes the report without touching any
// row. Execute mode deletes in bounded batches; rerunning it is safe because
// the plan is recomputed from current data and an already-clean dataset
// plans nothing.
type CleanupJob struct {
	analyzer  *Analyzer
	ledger    ledgerDeleter
	store     remote.Store
	publisher *events.Publisher
	metrics   *metrics.IntegrityJobMetrics
	logg      *logger.Logger
	reportDir string
	execute   bool
	batchSize int
	now       func() time.Time
}

// CleanupParams configure a cleanup job.
type CleanupParams struct {
	Analyzer  *Analyzer
	Ledger    ledgerDeleter
	Store     remote.Store
	Publisher *events.Publisher
	Metrics   *metrics.IntegrityJobMetrics
	Logger    *logger.Logger
	ReportDir string
	Execute   bool
	BatchSize int
}

func NewCleanupJob(params CleanupParams) *CleanupJob {
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultDeleteBatchSize
	}
	return &CleanupJob{
		analyzer:  params.Analyzer,
		ledger:    params.Ledger,
		store:     params.Store,
		publisher: params.Publisher,
		metrics:   params.Metrics,
		logg:      params.Logger,
		reportDir: params.ReportDir,
		execute:   params.Execute,
		batchSize: batchSize,
		now:       time.Now,
	}
}

func (j *CleanupJob) Name() string { return "integrity.cleanup" }

func (j *CleanupJob) Mode() string {
	if j.execute {
		return "execute"
	}
	return "dry-run"
}

func (j *CleanupJob) Run(ctx context.Context) error {
	result, path, err := j.Execute(ctx)
	if err != nil {
		return err
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"report":               path,
		"mode":                 result.Mode,
		"transactions_deleted": result.TransactionsDeleted,
		"deliveries_deleted":   result.DeliveriesDeleted,
	}), "cleanup complete")
	return nil
}

// Execute runs one cleanup pass and returns the result plus the report path.
func (j *CleanupJob) Execute(ctx context.Context) (*CleanupResult, string, error) {
	started := j.now().UTC()
	analysis, err := j.analyzer.Analyze(ctx)
	if err != nil {
		return nil, "", err
	}

	result := &CleanupResult{
		GeneratedAt:   started,
		Mode:          j.Mode(),
		BasedOnReport: latestAnalysisReport(j.reportDir),
		Analysis:      analysis,
		Deletions:     []DeletionRecord{},
	}

	if j.execute {
		txs, err := j.ledger.ListAll(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("list transactions: %w", err)
		}
		txByID := make(map[uuid.UUID]models.LedgerTransaction, len(txs))
		for _, tx := range txs {
			txByID[tx.ID] = tx
		}

		txIDs := transactionDeletions(analysis)
		if err := j.deleteTransactions(ctx, txIDs, txByID, result); err != nil {
			return nil, "", err
		}
		result.TransactionsDeleted = len(txIDs)
		j.metrics.AddDeletions(remote.CollectionLedger, len(txIDs))

		if err := j.deleteDeliveries(ctx, analysis, result); err != nil {
			return nil, "", err
		}
		j.metrics.AddDeletions(remote.CollectionDeliveries, result.DeliveriesDeleted)
	}

	path, err := writeReport(j.reportDir, "cleanup-"+result.Mode, started, result)
	if err != nil {
		return nil, "", err
	}
	summary := events.RunSummary{
		Job:        j.Name(),
		Mode:       result.Mode,
		StartedAt:  started,
		FinishedAt: j.now().UTC(),
		ReportPath: path,
		Deletions:  result.TransactionsDeleted + result.DeliveriesDeleted,
		Passed:     true,
	}
	if err := j.publisher.PublishRunSummary(ctx, summary); err != nil {
		j.logg.Warn(j.logg.WithField(ctx, "error", err.Error()), "run summary publish failed")
	}
	return result, path, nil
}

func (j *CleanupJob) deleteTransactions(ctx context.Context, ids []uuid.UUID, txByID map[uuid.UUID]models.LedgerTransaction, result *CleanupResult) error {
	for start := 0; start < len(ids); start += j.batchSize {
		end := min(start+j.batchSize, len(ids))
		if err := j.ledger.DeleteBatch(ctx, ids[start:end]); err != nil {
			return fmt.Errorf("delete transactions: %w", err)
		}
		stamp := j.now().UTC()
		for _, id := range ids[start:end] {
			tx := txByID[id]
			result.Deletions = append(result.Deletions, DeletionRecord{
				Collection: remote.CollectionLedger,
				DeletedID:  id,
				OrderID:    tx.OrderID,
				Reason:     "duplicate_sale",
				Amount:     tx.NetCash,
				Timestamp:  stamp,
			})
		}
	}
	return nil
}

func (j *CleanupJob) deleteDeliveries(ctx context.Context, analysis *Analysis, result *CleanupResult) error {
	type doomed struct {
		id      uuid.UUID
		orderID uuid.UUID
	}
	var rows []doomed
	for _, group := range analysis.DuplicateDeliveries {
		for _, id := range group.RemoveIDs {
			rows = append(rows, doomed{id: id, orderID: group.OrderID})
		}
	}
	for start := 0; start < len(rows); start += j.batchSize {
		end := min(start+j.batchSize, len(rows))
		batch := make([]string, 0, end-start)
		for _, row := range rows[start:end] {
			batch = append(batch, row.id.String())
		}
		if err := j.store.BatchDelete(ctx, remote.CollectionDeliveries, batch); err != nil {
			return fmt.Errorf("delete deliveries: %w", err)
		}
		stamp := j.now().UTC()
		for _, row := range rows[start:end] {
			orderID := row.orderID
			result.Deletions = append(result.Deletions, DeletionRecord{
				Collection: remote.CollectionDeliveries,
				DeletedID:  row.id,
				OrderID:    &orderID,
				Reason:     "duplicate_delivery",
				Amount:     decimal.Zero,
				Timestamp:  stamp,
			})
		}
	}
	result.DeliveriesDeleted = len(rows)
	return nil
}

// transactionDeletions lists every ledger row the plan removes: duplicate
// sales beyond the kept one. Orphans of any type and returns are report-only
// findings, never deletions.
func transactionDeletions(analysis *Analysis) []uuid.UUID {
	var ids []uuid.UUID
	for _, group := range analysis.DuplicateSales {
		ids = append(ids, group.RemoveIDs...)
	}
	return ids
}

// latestAnalysisReport names the newest analysis report already on disk.
// Report names embed their generation timestamp, so lexical order is
// generation order.
func latestAnalysisReport(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	latest := ""
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "analysis-report-") && strings.HasSuffix(name, ".json") && name > latest {
			latest = name
		}
	}
	return latest
}
