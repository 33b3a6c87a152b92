package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"microlend-engine/internal/models"
	"microlend-engine/internal/services/events"
	"microlend-engine/internal/services/valuation"
	"microlend-engine/internal/utils"
)

// PaymentRequest asks to post a repayment against a loan.
type PaymentRequest struct {
	LoanID int64
	Amount models.Money
	// TransactionID makes posting idempotent. Empty means a fresh id.
	TransactionID string
	// PaidAt is the booking date recorded on the payment. Zero means now. It
	// may not be in the future, before disbursement or before the loan's
	// latest payment. The balance itself is always valued as of now.
	PaidAt time.Time
	Source models.PaymentSource
}

// PostingResult is the outcome of a successful posting.
type PostingResult struct {
	Payment        *models.Payment
	Loan           *models.Loan
	Valuation      *valuation.Valuation
	JournalEntries []*models.JournalEntry
	// Settled is set when this posting moved the loan to Paid.
	Settled bool
	// Duplicate is set when the transaction id had already been posted and
	// nothing new was written.
	Duplicate bool
}

// Poster is the ledger poster.
type Poster struct {
	store     Store
	engine    *valuation.Engine
	publisher events.Publisher
	now       func() time.Time
}

// NewPoster creates a poster. A nil publisher disables events.
func NewPoster(store Store, engine *valuation.Engine, publisher events.Publisher) *Poster {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Poster{
		store:     store,
		engine:    engine,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the poster's clock.
func (p *Poster) WithClock(now func() time.Time) *Poster {
	p.now = now
	return p
}

// PostPayment validates a repayment against the loan's current outstanding
// balance and records it: the payment, the loan's repaid amount and status,
// and one balanced journal entry per settled component. Everything happens in
// a single unit of work; on any error nothing is written.
func (p *Poster) PostPayment(ctx context.Context, req PaymentRequest) (*PostingResult, error) {
	if !req.Amount.IsPositive() {
		return nil, models.ErrInvalidPaymentAmount
	}
	amount := models.RoundMoney(req.Amount)
	if !amount.IsPositive() {
		return nil, models.ErrInvalidPaymentAmount
	}
	if req.TransactionID == "" {
		req.TransactionID = uuid.NewString()
	}
	now := p.now()
	if req.PaidAt.IsZero() {
		req.PaidAt = now
	}
	if req.PaidAt.After(now) {
		return nil, fmt.Errorf("%w: %s is in the future", models.ErrInvalidPaymentDate, req.PaidAt.Format(time.RFC3339))
	}
	if req.Source == "" {
		req.Source = models.PaymentSourceManual
	}

	var result *PostingResult
	err := p.store.RunInTx(ctx, req.LoanID, func(tx Tx) error {
		var err error
		result, err = p.post(ctx, tx, req, amount, now)
		return err
	})
	if err != nil {
		utils.GetLogger().Warn("Payment rejected",
			zap.Int64("loan_id", req.LoanID),
			zap.String("transaction_id", req.TransactionID),
			zap.String("amount", amount.StringFixed(2)),
			zap.Error(err),
		)
		return nil, err
	}

	if result.Duplicate {
		utils.GetLogger().Info("Payment already posted",
			zap.Int64("loan_id", req.LoanID),
			zap.String("transaction_id", req.TransactionID),
		)
		return result, nil
	}

	utils.GetLogger().Info("Payment posted",
		zap.Int64("loan_id", result.Loan.ID),
		zap.String("payment_id", result.Payment.ID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("outstanding_before", result.Payment.OutstandingBefore.StringFixed(2)),
		zap.String("status", string(result.Loan.Status)),
		zap.Int("journal_entries", len(result.JournalEntries)),
	)
	events.PublishAll(ctx, p.publisher, p.eventsFor(result)...)

	return result, nil
}

func (p *Poster) post(ctx context.Context, tx Tx, req PaymentRequest, amount models.Money, now time.Time) (*PostingResult, error) {
	loan, err := tx.LockLoan(ctx, req.LoanID)
	if err != nil {
		return nil, err
	}

	existing, err := tx.FindPayment(ctx, req.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction: %w", err)
	}
	if existing != nil {
		return p.duplicate(ctx, tx, loan, existing)
	}

	if req.PaidAt.Before(loan.DisbursedAt) {
		return nil, fmt.Errorf("%w: %s is before disbursement", models.ErrInvalidPaymentDate, req.PaidAt.Format(time.RFC3339))
	}
	latest, err := tx.LatestPayment(ctx, loan.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest payment: %w", err)
	}
	if latest != nil && req.PaidAt.Before(latest.PaidAt) {
		return nil, fmt.Errorf("%w: %s is before the payment of %s",
			models.ErrInvalidPaymentDate, req.PaidAt.Format(time.RFC3339), latest.PaidAt.Format(time.RFC3339))
	}

	product, err := tx.GetProduct(ctx, loan.ProductID)
	if err != nil {
		return nil, err
	}
	tax, err := tx.GetActiveTax(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tax configuration: %w", err)
	}

	v, err := p.engine.Value(loan, product, tax, now)
	if err != nil {
		return nil, err
	}
	if err := p.engine.ValidatePayment(v, amount); err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:                uuid.NewString(),
		LoanID:            loan.ID,
		TransactionID:     req.TransactionID,
		Amount:            amount,
		OutstandingBefore: v.Outstanding,
		Source:            req.Source,
		PaidAt:            req.PaidAt,
		CreatedAt:         now,
	}
	if err := tx.InsertPayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}

	updated := loan.Clone()
	updated.RepaidAmount = loan.RepaidAmount.Add(amount)
	updated.UpdatedAt = now
	settled := !updated.IsPaid() && p.engine.IsSettled(v.Total, updated.RepaidAmount)
	if settled {
		settledAt := now
		updated.Status = models.RepaymentStatusPaid
		updated.SettledAt = &settledAt
	}
	if err := tx.UpdateLoanRepayment(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}

	allocations := Allocate(v, loan.RepaidAmount, amount)
	journal := make([]*models.JournalEntry, 0, len(allocations))
	for _, a := range allocations {
		entry := buildJournalEntry(updated, payment, a)
		if err := entry.Validate(); err != nil {
			return nil, err
		}
		if err := tx.InsertJournalEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("failed to insert journal entry: %w", err)
		}
		for _, line := range entry.Entries {
			delta := line.Amount
			if line.Direction == models.Credit {
				delta = delta.Neg()
			}
			if err := tx.ApplyAccountMovement(ctx, line.Account, delta); err != nil {
				return nil, fmt.Errorf("failed to update account %s: %w", line.Account, err)
			}
		}
		journal = append(journal, entry)
	}

	return &PostingResult{
		Payment:        payment,
		Loan:           updated,
		Valuation:      v,
		JournalEntries: journal,
		Settled:        settled,
	}, nil
}

// duplicate rebuilds the result of an already-posted transaction.
func (p *Poster) duplicate(ctx context.Context, tx Tx, loan *models.Loan, existing *models.Payment) (*PostingResult, error) {
	if existing.LoanID != loan.ID {
		return nil, fmt.Errorf("transaction %s already posted to loan %d", existing.TransactionID, existing.LoanID)
	}
	journal, err := tx.JournalEntriesForPayment(ctx, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load journal entries: %w", err)
	}
	return &PostingResult{
		Payment:        existing,
		Loan:           loan,
		JournalEntries: journal,
		Duplicate:      true,
	}, nil
}

// buildJournalEntry moves the settled amount from the category's Receivable
// account to its Received account. Income categories also recognise the
// amount as income against Receivable.
func buildJournalEntry(loan *models.Loan, payment *models.Payment, a Allocation) *models.JournalEntry {
	id := uuid.NewString()
	key := func(t models.AccountType) models.AccountKey {
		return models.AccountKey{ProviderID: loan.ProviderID, Type: t, Category: a.Category}
	}
	line := func(t models.AccountType, d models.Direction) models.LedgerEntry {
		return models.LedgerEntry{
			ID:             uuid.NewString(),
			JournalEntryID: id,
			Account:        key(t),
			Direction:      d,
			Amount:         a.Amount,
		}
	}

	entries := []models.LedgerEntry{
		line(models.AccountTypeReceivable, models.Debit),
		line(models.AccountTypeReceived, models.Credit),
	}
	if a.Category.IsIncome() {
		entries = append(entries,
			line(models.AccountTypeReceivable, models.Debit),
			line(models.AccountTypeIncome, models.Credit),
		)
	}

	return &models.JournalEntry{
		ID:          id,
		ProviderID:  loan.ProviderID,
		LoanID:      loan.ID,
		PaymentID:   payment.ID,
		Category:    a.Category,
		Description: fmt.Sprintf("Loan %d repayment %s: %s", loan.ID, payment.TransactionID, a.Category),
		Date:        payment.PaidAt,
		Entries:     entries,
	}
}

func (p *Poster) eventsFor(r *PostingResult) []models.LoanEvent {
	outstanding := r.Payment.OutstandingBefore.Sub(r.Payment.Amount)
	evts := []models.LoanEvent{{
		Type:        models.EventPaymentPosted,
		LoanID:      r.Loan.ID,
		BorrowerID:  r.Loan.BorrowerID,
		ProviderID:  r.Loan.ProviderID,
		PaymentID:   r.Payment.ID,
		Amount:      r.Payment.Amount,
		Outstanding: outstanding,
		OccurredAt:  r.Payment.PaidAt,
	}}
	if r.Settled {
		evts = append(evts, models.LoanEvent{
			Type:        models.EventLoanSettled,
			LoanID:      r.Loan.ID,
			BorrowerID:  r.Loan.BorrowerID,
			ProviderID:  r.Loan.ProviderID,
			PaymentID:   r.Payment.ID,
			Amount:      r.Loan.RepaidAmount,
			Outstanding: outstanding,
			OccurredAt:  *r.Loan.SettledAt,
		})
	}
	return evts
}

// IsRejection reports whether err is a validation or business-rule rejection
// the caller must correct, as opposed to an infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, models.ErrInvalidPaymentAmount) ||
		errors.Is(err, models.ErrInvalidPaymentDate) ||
		errors.Is(err, models.ErrPaymentExceedsBalance) ||
		errors.Is(err, models.ErrLoanNotFound) ||
		errors.Is(err, models.ErrProductNotFound) ||
		errors.Is(err, models.ErrProductMisconfigured)
}
