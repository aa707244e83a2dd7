package integrity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/fieldbook/fieldbook-sync/pkg/events"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

// CheckResult is the outcome of one verification check.
type CheckResult struct {
	Name   string `json:"name"`
	Valid  bool   `json:"valid"`
	Detail string `json:"detail,omitempty"`
}

// VerifyResult is the full verification report.
type VerifyResult struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Checks      []CheckResult `json:"checks"`
	Passed      bool          `json:"passed"`
}

// VerifyJob re-analyzes the collections after a cleanup and asserts the
// invariants hold. Every check runs even after a failure so the report shows
// the complete picture; the combined error carries each failed check.
type VerifyJob struct {
	analyzer  *Analyzer
	publisher *events.Publisher
	logg      *logger.Logger
	reportDir string
	now       func() time.Time
}

func NewVerifyJob(analyzer *Analyzer, publisher *events.Publisher, reportDir string, logg *logger.Logger) *VerifyJob {
	return &VerifyJob{analyzer: analyzer, publisher: publisher, reportDir: reportDir, logg: logg, now: time.Now}
}

func (j *VerifyJob) Name() string { return "integrity.verify" }

func (j *VerifyJob) Run(ctx context.Context) error {
	_, _, err := j.Execute(ctx)
	return err
}

// Execute runs the checks, writes the report, and returns a non-nil error
// when any check failed.
func (j *VerifyJob) Execute(ctx context.Context) (*VerifyResult, string, error) {
	started := j.now().UTC()
	analysis, err := j.analyzer.Analyze(ctx)
	if err != nil {
		return nil, "", err
	}

	result := &VerifyResult{GeneratedAt: started, Passed: true}
	var failures error
	for _, check := range []struct {
		name   string
		count  int
		detail string
	}{
		{"no_duplicate_sales", len(analysis.DuplicateSales), "orders with more than one sale transaction"},
		{"no_duplicate_deliveries", len(analysis.DuplicateDeliveries), "orders with more than one delivery"},
		{"deliveries_reference_orders", len(analysis.OrphanDeliveries), "deliveries referencing missing orders"},
	} {
		entry := CheckResult{Name: check.name, Valid: check.count == 0}
		if !entry.Valid {
			entry.Detail = fmt.Sprintf("%d %s", check.count, check.detail)
			result.Passed = false
			failures = multierr.Append(failures, fmt.Errorf("%s: %s", check.name, entry.Detail))
		}
		result.Checks = append(result.Checks, entry)
	}

	identity := CheckResult{Name: "net_cash_identity", Valid: analysis.NetCashConsistent()}
	if !identity.Valid {
		identity.Detail = fmt.Sprintf("net cash %s does not equal sales %s minus returns %s",
			analysis.NetCashTotal, analysis.SalesNetCash, analysis.ReturnsNetCash)
		result.Passed = false
		failures = multierr.Append(failures, fmt.Errorf("net_cash_identity: %s", identity.Detail))
	}
	result.Checks = append(result.Checks, identity)

	path, err := writeReport(j.reportDir, "integrity-report", started, result)
	if err != nil {
		return nil, "", err
	}

	valid := 0
	for _, check := range result.Checks {
		if check.Valid {
			valid++
		}
	}
	summary := events.RunSummary{
		Job:         j.Name(),
		StartedAt:   started,
		FinishedAt:  j.now().UTC(),
		ReportPath:  path,
		ChecksRun:   len(result.Checks),
		ChecksValid: valid,
		Passed:      result.Passed,
	}
	if err := j.publisher.PublishRunSummary(ctx, summary); err != nil {
		j.logg.Warn(j.logg.WithField(ctx, "error", err.Error()), "run summary publish failed")
	}

	if failures != nil {
		return result, path, fmt.Errorf("verification failed: %w", failures)
	}
	return result, path, nil
}
