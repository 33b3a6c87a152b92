package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"microlend-engine/internal/models"
	"microlend-engine/internal/services/payments"
	"microlend-engine/internal/services/valuation"
)

// RepaymentCollectorName labels repayment sweep runs in summaries and metrics.
const RepaymentCollectorName = "repayment_sweep"

// Charger collects repayments through the payment gateway.
type Charger interface {
	Collect(ctx context.Context, loan *models.Loan, amount models.Money) (*payments.Outcome, error)
	RecoverPending(ctx context.Context, olderThan time.Duration, limit int) (*payments.RecoverySummary, error)
}

// RepaymentSweep charges the outstanding balance of every due loan that has
// an auto-debit mandate.
type RepaymentSweep struct {
	book    LoanBook
	charger Charger
	engine  *valuation.Engine
	metrics *Metrics
	opts    Options
	now     func() time.Time
}

// NewRepaymentSweep creates a repayment sweep.
func NewRepaymentSweep(book LoanBook, charger Charger, engine *valuation.Engine, opts Options) *RepaymentSweep {
	return &RepaymentSweep{
		book:    book,
		charger: charger,
		engine:  engine,
		opts:    opts.withDefaults(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics records runs in metrics.
func (s *RepaymentSweep) WithMetrics(metrics *Metrics) *RepaymentSweep {
	s.metrics = metrics
	return s
}

// Run resolves stale pending charges, then sweeps the loan book once.
func (s *RepaymentSweep) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{Collector: RepaymentCollectorName, StartedAt: s.now()}
	summary.Recovery = s.recover(ctx)

	tax, err := s.book.GetActiveTax(ctx)
	if err != nil {
		err = fmt.Errorf("failed to load tax configuration: %w", err)
		finish(summary, s.now(), s.metrics, err)
		return summary, err
	}

	products := newProductCache(s.book)
	err = sweep(ctx, s.book, s.opts, summary, func(ctx context.Context, loan *models.Loan) (itemResult, error) {
		return s.collectLoan(ctx, loan, products, tax)
	})

	finish(summary, s.now(), s.metrics, err)
	return summary, err
}

// recover runs before the sweep so loans with a charge in flight get a
// verdict first. A failed recovery does not block new charges on other loans.
func (s *RepaymentSweep) recover(ctx context.Context) *RecoveryCounts {
	recovered, err := s.charger.RecoverPending(ctx, s.opts.PendingRecoveryAge, s.opts.PageSize)
	if err != nil {
		return &RecoveryCounts{Error: err.Error()}
	}
	return &RecoveryCounts{
		Examined:       recovered.Examined,
		Posted:         recovered.Posted,
		Failed:         recovered.Failed,
		RequiresReview: recovered.RequiresReview,
		StillPending:   recovered.StillPending,
		Errors:         recovered.Errors,
	}
}

func (s *RepaymentSweep) collectLoan(ctx context.Context, loan *models.Loan, products *productCache, tax *models.TaxConfig) (itemResult, error) {
	if !loan.HasAutoDebitMandate() {
		return itemSkipped, nil
	}
	asOf := s.now()
	if models.CalendarDaysBetween(loan.DueDate, asOf) < 0 {
		return itemSkipped, nil
	}

	product, err := products.get(ctx, loan.ProductID)
	if err != nil {
		return itemSkipped, err
	}
	v, err := s.engine.Value(loan, product, tax, asOf)
	if err != nil {
		return itemSkipped, err
	}
	if v.Outstanding.LessThanOrEqual(s.engine.Tolerance()) {
		return itemSkipped, nil
	}

	outcome, err := s.charger.Collect(ctx, loan, v.Outstanding)
	if errors.Is(err, payments.ErrChargeInFlight) {
		return itemSkipped, nil
	}
	if err != nil {
		return itemSkipped, err
	}

	switch outcome.Status {
	case models.PendingStatusPosted:
		return itemSucceeded, nil
	case models.PendingStatusPending:
		return itemSkipped, nil
	default:
		return itemSkipped, fmt.Errorf("charge %s %s: %s", outcome.TransactionID, outcome.Status, outcome.Reason)
	}
}
