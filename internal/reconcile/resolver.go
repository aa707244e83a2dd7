package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldbook/fieldbook-sync/internal/remote"
	"github.com/fieldbook/fieldbook-sync/pkg/config"
	"github.com/fieldbook/fieldbook-sync/pkg/db/models"
	"github.com/fieldbook/fieldbook-sync/pkg/enums"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

// Source names which side of the books an aggregate was resolved from.
type Source string

const (
	SourceLedger Source = "ledger"
	SourceOrders Source = "orders"
)

// Result carries a resolved aggregate together with both raw totals so
// callers can see when the books disagree.
type Result struct {
	Total       decimal.Decimal `json:"total"`
	Source      Source          `json:"source"`
	LedgerTotal decimal.Decimal `json:"ledger_total"`
	OrdersTotal decimal.Decimal `json:"orders_total"`
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	RegionID    string          `json:"region_id,omitempty"`
}

// StatementLine is one row of a shop statement, newest last.
type StatementLine struct {
	Transaction models.LedgerTransaction `json:"transaction"`
	Balance     decimal.Decimal          `json:"balance"`
}

// Statement is a party's transaction history over a period with a running
// balance.
type Statement struct {
	PartyID uuid.UUID       `json:"party_id"`
	From    time.Time       `json:"from"`
	To      time.Time       `json:"to"`
	Lines   []StatementLine `json:"lines"`
	Closing decimal.Decimal `json:"closing_balance"`
}

// ledgerReader and orderReader are the repository slices the resolver needs.
type ledgerReader interface {
	ListByPeriod(ctx context.Context, from, to time.Time, regionID string) ([]models.LedgerTransaction, error)
	ListByParty(ctx context.Context, partyID uuid.UUID, from, to time.Time) ([]models.LedgerTransaction, error)
}

type orderReader interface {
	ListDelivered(ctx context.Context, from, to time.Time, regionID string) ([]models.Order, error)
}

// Resolver answers financial aggregate queries by reading both the ledger
// and delivered orders and resolving disagreements in favor of the side
// showing more activity. The ledger can trail the orders collection when
// older app versions wrote orders without posting transactions, so a smaller
// ledger total means missing rows, not smaller sales.
type Resolver struct {
	ledger       ledgerReader
	orders       orderReader
	store        remote.Store
	logg         *logger.Logger
	excludeDemo  bool
	demoPrefixes []string
	now          func() time.Time
}

func NewResolver(ledger ledgerReader, orders orderReader, store remote.Store, cfg config.ReconcileConfig, logg *logger.Logger) *Resolver {
	return &Resolver{
		ledger:       ledger,
		orders:       orders,
		store:        store,
		logg:         logg,
		excludeDemo:  cfg.ExcludeDemoParties,
		demoPrefixes: cfg.DemoPrefixes(),
		now:          time.Now,
	}
}

// CashToday sums today's net cash movement for a region.
func (r *Resolver) CashToday(ctx context.Context, regionID string) (*Result, error) {
	now := r.now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return r.resolve(ctx, from, now, regionID, cashTotals)
}

// PeriodSales sums gross sales over an arbitrary period for a region.
func (r *Resolver) PeriodSales(ctx context.Context, from, to time.Time, regionID string) (*Result, error) {
	return r.resolve(ctx, from, to, regionID, salesTotals)
}

// resolve computes both totals and applies the resolution rule: take the
// orders-derived total whenever the ledger is empty or smaller.
func (r *Resolver) resolve(ctx context.Context, from, to time.Time, regionID string, totals totalsFn) (*Result, error) {
	txs, err := r.ledger.ListByPeriod(ctx, from, to, regionID)
	if err != nil {
		return nil, fmt.Errorf("ledger period: %w", err)
	}
	delivered, err := r.orders.ListDelivered(ctx, from, to, regionID)
	if err != nil {
		return nil, fmt.Errorf("delivered orders: %w", err)
	}

	txs = cashAffecting(txs)
	if r.excludeDemo {
		txs = r.filterDemoTransactions(txs)
		delivered, err = r.filterDemoOrders(ctx, delivered)
		if err != nil {
			return nil, err
		}
	}

	ledgerTotal, ordersTotal := totals(txs, delivered)

	result := &Result{
		LedgerTotal: ledgerTotal,
		OrdersTotal: ordersTotal,
		From:        from,
		To:          to,
		RegionID:    regionID,
	}
	if ledgerTotal.IsZero() || ordersTotal.GreaterThan(ledgerTotal) {
		result.Total = ordersTotal
		result.Source = SourceOrders
	} else {
		result.Total = ledgerTotal
		result.Source = SourceLedger
	}

	if !ledgerTotal.Equal(ordersTotal) {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"ledger_total": ledgerTotal.String(),
			"orders_total": ordersTotal.String(),
			"source":       string(result.Source),
			"region_id":    regionID,
		}), "ledger and orders totals disagree")
	}
	return result, nil
}

// ShopStatement lists a party's transactions over a period with a running
// balance. Statements read the ledger only; an order missing its transaction
// shows up as a gap for the integrity jobs, not as synthesized history.
func (r *Resolver) ShopStatement(ctx context.Context, partyID uuid.UUID, from, to time.Time) (*Statement, error) {
	txs, err := r.ledger.ListByParty(ctx, partyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("ledger party: %w", err)
	}
	statement := &Statement{
		PartyID: partyID,
		From:    from,
		To:      to,
		Lines:   make([]StatementLine, 0, len(txs)),
	}
	balance := decimal.Zero
	for _, tx := range txs {
		balance = balance.Add(tx.NetCash)
		statement.Lines = append(statement.Lines, StatementLine{Transaction: tx, Balance: balance})
	}
	statement.Closing = balance
	return statement, nil
}

type totalsFn func(txs []models.LedgerTransaction, delivered []models.Order) (ledgerTotal, ordersTotal decimal.Decimal)

// cashAffecting keeps sale and return rows. Adjustments and any future
// bookkeeping types stay out of the cash aggregates.
func cashAffecting(txs []models.LedgerTransaction) []models.LedgerTransaction {
	out := txs[:0]
	for _, tx := range txs {
		if tx.Type.IsSale() || tx.Type == enums.TransactionTypeReturn {
			out = append(out, tx)
		}
	}
	return out
}

func cashTotals(txs []models.LedgerTransaction, delivered []models.Order) (decimal.Decimal, decimal.Decimal) {
	ledgerTotal := decimal.Zero
	for _, tx := range txs {
		ledgerTotal = ledgerTotal.Add(tx.NetCash)
	}
	ordersTotal := decimal.Zero
	for _, order := range delivered {
		ordersTotal = ordersTotal.Add(order.GrandTotal)
	}
	return ledgerTotal, ordersTotal
}

func salesTotals(txs []models.LedgerTransaction, delivered []models.Order) (decimal.Decimal, decimal.Decimal) {
	ledgerTotal := decimal.Zero
	for _, tx := range txs {
		if tx.Type.IsSale() {
			ledgerTotal = ledgerTotal.Add(tx.GrossAmount)
		}
	}
	ordersTotal := decimal.Zero
	for _, order := range delivered {
		ordersTotal = ordersTotal.Add(order.GrossTotal)
	}
	return ledgerTotal, ordersTotal
}

func (r *Resolver) filterDemoTransactions(txs []models.LedgerTransaction) []models.LedgerTransaction {
	out := txs[:0]
	for _, tx := range txs {
		if r.isDemoName(tx.PartyName) {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// filterDemoOrders drops orders booked against demo shops. Shop names are
// resolved from the shops collection in one pass.
func (r *Resolver) filterDemoOrders(ctx context.Context, delivered []models.Order) ([]models.Order, error) {
	if len(delivered) == 0 {
		return delivered, nil
	}
	docs, err := r.store.List(ctx, remote.CollectionShops)
	if err != nil {
		return nil, fmt.Errorf("list shops: %w", err)
	}
	demoShops := make(map[uuid.UUID]bool)
	for _, doc := range docs {
		var shop models.Shop
		if err := json.Unmarshal(doc, &shop); err != nil {
			return nil, fmt.Errorf("decode shop: %w", err)
		}
		if r.isDemoName(shop.Name) {
			demoShops[shop.ID] = true
		}
	}
	out := delivered[:0]
	for _, order := range delivered {
		if demoShops[order.ShopID] {
			continue
		}
		out = append(out, order)
	}
	return out, nil
}

func (r *Resolver) isDemoName(name string) bool {
	lowered := strings.ToLower(strings.TrimSpace(name))
	for _, prefix := range r.demoPrefixes {
		if prefix != "" && strings.HasPrefix(lowered, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}
