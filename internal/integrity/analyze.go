package integrity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldbook/fieldbook-sync/internal/remote"
	"github.com/fieldbook/fieldbook-sync/pkg/db/models"
	"github.com/fieldbook/fieldbook-sync/pkg/enums"
	"github.com/fieldbook/fieldbook-sync/pkg/events"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

// ledgerSource is the slice of the ledger repository the analyzer reads.
type ledgerSource interface {
	ListAll(ctx context.Context) ([]models.LedgerTransaction, error)
}

// DuplicateGroup records redundant rows for one order: the row to keep and
// the rows a cleanup would remove. Keep selection is deterministic, so two
// analyses over the same data plan identical deletions.
type DuplicateGroup struct {
	OrderID   uuid.UUID   `json:"order_id"`
	KeepID    uuid.UUID   `json:"keep_id"`
	RemoveIDs []uuid.UUID `json:"remove_ids"`
}

// FieldDefect flags a transaction stored without a required dimensional
// field.
type FieldDefect struct {
	ID     uuid.UUID `json:"id"`
	Fields []string  `json:"fields"`
}

// Analysis is the full findings report of one analysis pass.
type Analysis struct {
	GeneratedAt         time.Time        `json:"generated_at"`
	TransactionCount    int              `json:"transaction_count"`
	OrderCount          int              `json:"order_count"`
	DeliveryCount       int              `json:"delivery_count"`
	DuplicateSales      []DuplicateGroup `json:"duplicate_sales"`
	DuplicateDeliveries []DuplicateGroup `json:"duplicate_deliveries"`
	OrphanTransactions  []uuid.UUID      `json:"orphan_transactions"`
	OrphanReturns       []uuid.UUID      `json:"orphan_returns"`
	OrphanDeliveries    []uuid.UUID      `json:"orphan_deliveries"`
	MissingTransactions []uuid.UUID      `json:"missing_transactions"`
	MissingFields       []FieldDefect    `json:"missing_fields"`
	SalesNetCash        decimal.Decimal  `json:"sales_net_cash"`
	ReturnsNetCash      decimal.Decimal  `json:"returns_net_cash"`
	NetCashTotal        decimal.Decimal  `json:"net_cash_total"`
}

// Clean reports whether no repairable defect was found. Orphans, missing
// transactions and missing fields are reported but never repaired
// automatically, so they do not make an analysis dirty.
func (a *Analysis) Clean() bool {
	return len(a.DuplicateSales) == 0 &&
		len(a.DuplicateDeliveries) == 0
}

// PlannedDeletions counts the rows a cleanup pass would remove.
func (a *Analysis) PlannedDeletions() int {
	count := 0
	for _, group := range a.DuplicateSales {
		count += len(group.RemoveIDs)
	}
	for _, group := range a.DuplicateDeliveries {
		count += len(group.RemoveIDs)
	}
	return count
}

// NetCashConsistent checks the sign convention across the whole ledger: net
// cash summed over sales and returns must equal sales net cash minus absolute
// returns. A return stored with positive net cash breaks the identity.
func (a *Analysis) NetCashConsistent() bool {
	return a.NetCashTotal.Equal(a.SalesNetCash.Sub(a.ReturnsNetCash))
}

// Analyzer inspects the remote collections for ledger defects without
// modifying anything.
type Analyzer struct {
	ledger ledgerSource
	store  remote.Store
	logg   *logger.Logger
	now    func() time.Time
}

func NewAnalyzer(ledger ledgerSource, store remote.Store, logg *logger.Logger) *Analyzer {
	return &Analyzer{ledger: ledger, store: store, logg: logg, now: time.Now}
}

// Analyze builds the findings report in one pass over the three collections.
func (a *Analyzer) Analyze(ctx context.Context) (*Analysis, error) {
	txs, err := a.ledger.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	orderIDs, orderCount, deliveredIDs, err := a.loadOrders(ctx)
	if err != nil {
		return nil, err
	}
	deliveries, err := a.loadDeliveries(ctx)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		GeneratedAt:         a.now().UTC(),
		TransactionCount:    len(txs),
		OrderCount:          orderCount,
		DeliveryCount:       len(deliveries),
		DuplicateSales:      []DuplicateGroup{},
		DuplicateDeliveries: []DuplicateGroup{},
		OrphanTransactions:  []uuid.UUID{},
		OrphanReturns:       []uuid.UUID{},
		OrphanDeliveries:    []uuid.UUID{},
		MissingTransactions: []uuid.UUID{},
		MissingFields:       []FieldDefect{},
	}

	a.findSaleDefects(analysis, txs, orderIDs)
	a.findDeliveryDefects(analysis, deliveries, orderIDs)
	a.findMissingTransactions(analysis, txs, deliveredIDs)
	a.findMissingFields(analysis, txs)
	a.tallyNetCash(analysis, txs)
	return analysis, nil
}

// findSaleDefects groups sale transactions per order, flagging extra copies
// and transactions whose order no longer exists. Orphans of either type are
// findings only; cleanup never schedules them.
func (a *Analyzer) findSaleDefects(analysis *Analysis, txs []models.LedgerTransaction, orderIDs map[uuid.UUID]bool) {
	salesByOrder := map[uuid.UUID][]models.LedgerTransaction{}
	for _, tx := range txs {
		if tx.OrderID == nil {
			continue
		}
		if !orderIDs[*tx.OrderID] {
			if tx.Type == enums.TransactionTypeReturn {
				analysis.OrphanReturns = append(analysis.OrphanReturns, tx.ID)
			} else {
				analysis.OrphanTransactions = append(analysis.OrphanTransactions, tx.ID)
			}
			continue
		}
		if tx.Type.IsSale() {
			salesByOrder[*tx.OrderID] = append(salesByOrder[*tx.OrderID], tx)
		}
	}

	for orderID, group := range salesByOrder {
		if len(group) < 2 {
			continue
		}
		sortTransactions(group)
		removeIDs := make([]uuid.UUID, 0, len(group)-1)
		for _, tx := range group[1:] {
			removeIDs = append(removeIDs, tx.ID)
		}
		analysis.DuplicateSales = append(analysis.DuplicateSales, DuplicateGroup{
			OrderID:   orderID,
			KeepID:    group[0].ID,
			RemoveIDs: removeIDs,
		})
	}
	sortGroups(analysis.DuplicateSales)
	sortIDs(analysis.OrphanTransactions)
	sortIDs(analysis.OrphanReturns)
}

// findDeliveryDefects keeps one delivery per order: the earliest delivered
// one when any reached delivered status, otherwise the earliest created.
// Deliveries whose order record is missing are reported as orphans; they
// still join the duplicate grouping so the findings stay complete.
func (a *Analyzer) findDeliveryDefects(analysis *Analysis, deliveries []models.Delivery, orderIDs map[uuid.UUID]bool) {
	byOrder := map[uuid.UUID][]models.Delivery{}
	for _, delivery := range deliveries {
		if !orderIDs[delivery.OrderID] {
			analysis.OrphanDeliveries = append(analysis.OrphanDeliveries, delivery.ID)
		}
		byOrder[delivery.OrderID] = append(byOrder[delivery.OrderID], delivery)
	}
	for orderID, group := range byOrder {
		if len(group) < 2 {
			continue
		}
		sortDeliveries(group)
		removeIDs := make([]uuid.UUID, 0, len(group)-1)
		for _, delivery := range group[1:] {
			removeIDs = append(removeIDs, delivery.ID)
		}
		analysis.DuplicateDeliveries = append(analysis.DuplicateDeliveries, DuplicateGroup{
			OrderID:   orderID,
			KeepID:    group[0].ID,
			RemoveIDs: removeIDs,
		})
	}
	sortGroups(analysis.DuplicateDeliveries)
	sortIDs(analysis.OrphanDeliveries)
}

// findMissingFields flags transactions stored without their dimensional
// fields. Region and party scope every aggregate, so a row missing them is
// invisible to scoped reports.
func (a *Analyzer) findMissingFields(analysis *Analysis, txs []models.LedgerTransaction) {
	for _, tx := range txs {
		var missing []string
		if tx.RegionID == "" {
			missing = append(missing, "region_id")
		}
		if tx.PartyID == uuid.Nil {
			missing = append(missing, "party_id")
		}
		if len(missing) > 0 {
			analysis.MissingFields = append(analysis.MissingFields, FieldDefect{ID: tx.ID, Fields: missing})
		}
	}
	sort.Slice(analysis.MissingFields, func(i, j int) bool {
		return analysis.MissingFields[i].ID.String() < analysis.MissingFields[j].ID.String()
	})
}

// tallyNetCash sums net cash over the cash-affecting types for the global
// identity check. Adjustments are excluded on both sides.
func (a *Analyzer) tallyNetCash(analysis *Analysis, txs []models.LedgerTransaction) {
	sales, returns, total := decimal.Zero, decimal.Zero, decimal.Zero
	for _, tx := range txs {
		switch {
		case tx.Type.IsSale():
			sales = sales.Add(tx.NetCash)
			total = total.Add(tx.NetCash)
		case tx.Type == enums.TransactionTypeReturn:
			returns = returns.Add(tx.NetCash.Abs())
			total = total.Add(tx.NetCash)
		}
	}
	analysis.SalesNetCash = sales
	analysis.ReturnsNetCash = returns
	analysis.NetCashTotal = total
}

// findMissingTransactions flags delivered orders with no sale transaction.
// These explain ledger totals trailing order totals; repairing them means
// re-posting sales, which only the app may do.
func (a *Analyzer) findMissingTransactions(analysis *Analysis, txs []models.LedgerTransaction, deliveredIDs map[uuid.UUID]bool) {
	covered := map[uuid.UUID]bool{}
	for _, tx := range txs {
		if tx.OrderID != nil && tx.Type.IsSale() {
			covered[*tx.OrderID] = true
		}
	}
	for orderID := range deliveredIDs {
		if !covered[orderID] {
			analysis.MissingTransactions = append(analysis.MissingTransactions, orderID)
		}
	}
	sortIDs(analysis.MissingTransactions)
}

func (a *Analyzer) loadOrders(ctx context.Context) (map[uuid.UUID]bool, int, map[uuid.UUID]bool, error) {
	docs, err := a.store.List(ctx, remote.CollectionOrders)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("list orders: %w", err)
	}
	ids := make(map[uuid.UUID]bool, len(docs))
	delivered := map[uuid.UUID]bool{}
	for _, doc := range docs {
		var order models.Order
		if err := json.Unmarshal(doc, &order); err != nil {
			return nil, 0, nil, fmt.Errorf("decode order: %w", err)
		}
		ids[order.ID] = true
		if order.Status == enums.OrderStatusDelivered {
			delivered[order.ID] = true
		}
	}
	return ids, len(docs), delivered, nil
}

func (a *Analyzer) loadDeliveries(ctx context.Context) ([]models.Delivery, error) {
	docs, err := a.store.List(ctx, remote.CollectionDeliveries)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	out := make([]models.Delivery, 0, len(docs))
	for _, doc := range docs {
		var delivery models.Delivery
		if err := json.Unmarshal(doc, &delivery); err != nil {
			return nil, fmt.Errorf("decode delivery: %w", err)
		}
		out = append(out, delivery)
	}
	return out, nil
}

func sortTransactions(txs []models.LedgerTransaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.Before(txs[j].CreatedAt)
		}
		return txs[i].ID.String() < txs[j].ID.String()
	})
}

func sortDeliveries(deliveries []models.Delivery) {
	rank := func(d models.Delivery) int {
		if d.Status == enums.DeliveryStatusDelivered {
			return 0
		}
		return 1
	}
	sort.Slice(deliveries, func(i, j int) bool {
		if rank(deliveries[i]) != rank(deliveries[j]) {
			return rank(deliveries[i]) < rank(deliveries[j])
		}
		if !deliveries[i].CreatedAt.Equal(deliveries[j].CreatedAt) {
			return deliveries[i].CreatedAt.Before(deliveries[j].CreatedAt)
		}
		return deliveries[i].ID.String() < deliveries[j].ID.String()
	})
}

func sortGroups(groups []DuplicateGroup) {
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].OrderID.String() < groups[j].OrderID.String()
	})
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
}

// AnalyzeJob runs an analysis, writes the findings report and publishes a
// run summary.
type AnalyzeJob struct {
	analyzer  *Analyzer
	publisher *events.Publisher
	logg      *logger.Logger
	reportDir string
}

func NewAnalyzeJob(analyzer *Analyzer, publisher *events.Publisher, reportDir string, logg *logger.Logger) *AnalyzeJob {
	return &AnalyzeJob{analyzer: analyzer, publisher: publisher, reportDir: reportDir, logg: logg}
}

func (j *AnalyzeJob) Name() string { return "integrity.analyze" }

func (j *AnalyzeJob) Run(ctx context.Context) error {
	analysis, path, err := j.Execute(ctx)
	if err != nil {
		return err
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"report":            path,
		"planned_deletions": analysis.PlannedDeletions(),
		"clean":             analysis.Clean(),
	}), "analysis complete")
	return nil
}

// Execute runs the analysis and returns the findings plus the report path.
func (j *AnalyzeJob) Execute(ctx context.Context) (*Analysis, string, error) {
	started := time.Now().UTC()
	analysis, err := j.analyzer.Analyze(ctx)
	if err != nil {
		return nil, "", err
	}
	path, err := writeReport(j.reportDir, "analysis-report", analysis.GeneratedAt, analysis)
	if err != nil {
		return nil, "", err
	}
	summary := events.RunSummary{
		Job:        j.Name(),
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		ReportPath: path,
		Passed:     analysis.Clean(),
	}
	if err := j.publisher.PublishRunSummary(ctx, summary); err != nil {
		j.logg.Warn(j.logg.WithField(ctx, "error", err.Error()), "run summary publish failed")
	}
	return analysis, path, nil
}
