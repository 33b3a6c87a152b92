package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"microlend-engine/internal/models"
	"microlend-engine/internal/services/events"
	"microlend-engine/internal/services/ses"
	"microlend-engine/internal/services/valuation"
	"microlend-engine/internal/utils"
)

// NPLCollectorName labels NPL marker runs in summaries and metrics.
const NPLCollectorName = "npl_marker"

// NPLStore flags loans as non-performing.
type NPLStore interface {
	MarkNonPerforming(ctx context.Context, loanID int64, at time.Time) (bool, error)
}

// ContactDirectory resolves a borrower's e-mail address.
type ContactDirectory interface {
	BorrowerEmail(ctx context.Context, borrowerID int64) (string, error)
}

// Notifier sends the borrower notice for a newly non-performing loan.
type Notifier interface {
	SendNPLNotice(ctx context.Context, params ses.NPLNoticeParams) (*ses.SendEmailResult, error)
}

// NPLMarker flags unpaid loans that are past the overdue threshold with a
// balance still outstanding.
type NPLMarker struct {
	book      LoanBook
	store     NPLStore
	engine    *valuation.Engine
	publisher events.Publisher
	contacts  ContactDirectory
	notifier  Notifier
	metrics   *Metrics
	opts      Options
	now       func() time.Time
}

// NewNPLMarker creates an NPL marker. A nil publisher drops events.
func NewNPLMarker(book LoanBook, store NPLStore, engine *valuation.Engine, publisher events.Publisher, opts Options) *NPLMarker {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &NPLMarker{
		book:      book,
		store:     store,
		engine:    engine,
		publisher: publisher,
		opts:      opts.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithNotifications e-mails borrowers whose loans are newly marked.
func (m *NPLMarker) WithNotifications(contacts ContactDirectory, notifier Notifier) *NPLMarker {
	m.contacts = contacts
	m.notifier = notifier
	return m
}

// WithMetrics records runs in metrics.
func (m *NPLMarker) WithMetrics(metrics *Metrics) *NPLMarker {
	m.metrics = metrics
	return m
}

// Run sweeps the loan book once. The summary is returned even when the run
// ends early.
func (m *NPLMarker) Run(ctx context.Context) (*RunSummary, error) {
	asOf := m.now()
	summary := &RunSummary{Collector: NPLCollectorName, StartedAt: asOf}

	tax, err := m.book.GetActiveTax(ctx)
	if err != nil {
		err = fmt.Errorf("failed to load tax configuration: %w", err)
		finish(summary, m.now(), m.metrics, err)
		return summary, err
	}

	products := newProductCache(m.book)
	err = sweep(ctx, m.book, m.opts, summary, func(ctx context.Context, loan *models.Loan) (itemResult, error) {
		return m.markLoan(ctx, loan, products, tax, asOf)
	})

	finish(summary, m.now(), m.metrics, err)
	return summary, err
}

func (m *NPLMarker) markLoan(ctx context.Context, loan *models.Loan, products *productCache, tax *models.TaxConfig, asOf time.Time) (itemResult, error) {
	if loan.NonPerforming {
		return itemSkipped, nil
	}
	daysOverdue := loan.DaysOverdue(asOf)
	if daysOverdue < m.opts.NPLThresholdDays {
		return itemSkipped, nil
	}

	product, err := products.get(ctx, loan.ProductID)
	if err != nil {
		return itemSkipped, err
	}
	v, err := m.engine.Value(loan, product, tax, asOf)
	if err != nil {
		return itemSkipped, err
	}
	if v.Outstanding.LessThanOrEqual(m.engine.Tolerance()) {
		return itemSkipped, nil
	}

	marked, err := m.store.MarkNonPerforming(ctx, loan.ID, asOf)
	if err != nil {
		return itemSkipped, err
	}
	if !marked {
		return itemSkipped, nil
	}

	logger := utils.GetLogger()
	logger.Info("Loan marked non-performing",
		zap.Int64("loan_id", loan.ID),
		zap.Int("days_overdue", daysOverdue),
		zap.String("outstanding", v.Outstanding.StringFixed(2)),
	)

	m.notify(ctx, loan, v)

	err = m.publisher.Publish(ctx, models.LoanEvent{
		Type:        models.EventLoanMarkedNPL,
		LoanID:      loan.ID,
		BorrowerID:  loan.BorrowerID,
		ProviderID:  loan.ProviderID,
		Amount:      v.Outstanding,
		Outstanding: v.Outstanding,
		DaysOverdue: daysOverdue,
		OccurredAt:  asOf,
	})
	if err != nil {
		logger.Warn("Failed to publish NPL event", zap.Int64("loan_id", loan.ID), zap.Error(err))
	}

	return itemSucceeded, nil
}

// notify e-mails the borrower. Delivery failures are logged; the loan stays
// marked.
func (m *NPLMarker) notify(ctx context.Context, loan *models.Loan, v *valuation.Valuation) {
	if m.contacts == nil || m.notifier == nil {
		return
	}
	logger := utils.GetLogger()

	email, err := m.contacts.BorrowerEmail(ctx, loan.BorrowerID)
	if err != nil {
		logger.Warn("Failed to look up borrower e-mail", zap.Int64("borrower_id", loan.BorrowerID), zap.Error(err))
		return
	}
	if email == "" {
		return
	}

	_, err = m.notifier.SendNPLNotice(ctx, ses.NPLNoticeParams{
		Email:       email,
		LoanID:      loan.ID,
		Outstanding: v.Outstanding,
		DueDate:     loan.DueDate,
		DaysOverdue: v.DaysOverdue,
		Currency:    m.opts.Currency,
	})
	if err != nil {
		logger.Warn("Failed to send NPL notice", zap.Int64("loan_id", loan.ID), zap.Error(err))
	}
}
