package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"microlend-engine/internal/models"
	"microlend-engine/internal/services/ledger"
	"microlend-engine/internal/utils"
)

var (
	// ErrNoMandate is returned for loans without a saved payment method.
	ErrNoMandate = errors.New("loan has no auto-debit mandate")
	// ErrChargeInFlight is returned while an earlier charge is unresolved.
	ErrChargeInFlight = models.ErrChargeInFlight
	// ErrOutcomeUnknown means the gateway call failed without a verdict. The
	// pending record stays open for recovery.
	ErrOutcomeUnknown = errors.New("charge outcome unknown")
)

// PendingStore persists pending gateway charges.
type PendingStore interface {
	CreatePending(ctx context.Context, p *models.PendingPayment) error
	UpdatePending(ctx context.Context, p *models.PendingPayment) error
	OpenPendingForLoan(ctx context.Context, loanID int64) (*models.PendingPayment, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.PendingPayment, error)
}

// LoanReader loads a loan by id.
type LoanReader interface {
	GetLoan(ctx context.Context, loanID int64) (*models.Loan, error)
}

// PaymentPoster posts a repayment to the ledger.
type PaymentPoster interface {
	PostPayment(ctx context.Context, req ledger.PaymentRequest) (*ledger.PostingResult, error)
}

// Outcome is the resolution of one pending charge.
type Outcome struct {
	TransactionID string
	LoanID        int64
	Status        models.PendingStatus
	Posting       *ledger.PostingResult
	Reason        string
}

// RecoverySummary counts the pending charges a recovery pass resolved.
type RecoverySummary struct {
	Examined       int `json:"examined"`
	Posted         int `json:"posted"`
	Failed         int `json:"failed"`
	RequiresReview int `json:"requires_review"`
	StillPending   int `json:"still_pending"`
	Errors         int `json:"errors"`
}

// Processor runs gateway charges so that a crash at any point leaves either
// a posted payment or a recoverable pending record, never a lost charge.
type Processor struct {
	pending  PendingStore
	loans    LoanReader
	gateway  Gateway
	poster   PaymentPoster
	currency string
	now      func() time.Time
}

// NewProcessor creates a payments processor.
func NewProcessor(pending PendingStore, loans LoanReader, gateway Gateway, poster PaymentPoster, currency string) *Processor {
	return &Processor{
		pending:  pending,
		loans:    loans,
		gateway:  gateway,
		poster:   poster,
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Collect charges amount to the loan's saved payment method and posts it.
// The pending record is written before the gateway is called.
func (p *Processor) Collect(ctx context.Context, loan *models.Loan, amount models.Money) (*Outcome, error) {
	if !loan.HasAutoDebitMandate() {
		return nil, ErrNoMandate
	}
	amount = models.RoundMoney(amount)
	if !amount.IsPositive() {
		return nil, models.ErrInvalidPaymentAmount
	}

	open, err := p.pending.OpenPendingForLoan(ctx, loan.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check pending charges: %w", err)
	}
	if open != nil {
		return nil, fmt.Errorf("%w: %s", ErrChargeInFlight, open.TransactionID)
	}

	now := p.now()
	record := &models.PendingPayment{
		TransactionID: uuid.NewString(),
		LoanID:        loan.ID,
		Amount:        amount,
		Currency:      p.currency,
		Status:        models.PendingStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	// The store refuses a second open charge for the loan, which closes the
	// gap between the check above and this insert.
	if err := p.pending.CreatePending(ctx, record); err != nil {
		if errors.Is(err, ErrChargeInFlight) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to record pending charge: %w", err)
	}

	result, err := p.gateway.Charge(ctx, chargeRequest(record, loan))
	if err != nil {
		utils.GetLogger().Warn("Charge outcome unknown, left pending",
			zap.Int64("loan_id", loan.ID),
			zap.String("transaction_id", record.TransactionID),
			zap.Error(err),
		)
		return &Outcome{TransactionID: record.TransactionID, LoanID: loan.ID, Status: models.PendingStatusPending},
			fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
	}

	return p.resolve(ctx, record, result)
}

// RecoverPending resolves pending charges older than olderThan by asking the
// gateway for their outcome. Charges without a gateway reference are
// re-issued with the same idempotency key.
func (p *Processor) RecoverPending(ctx context.Context, olderThan time.Duration, limit int) (*RecoverySummary, error) {
	stale, err := p.pending.ListStalePending(ctx, p.now().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending charges: %w", err)
	}

	summary := &RecoverySummary{Examined: len(stale)}
	for _, record := range stale {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		outcome, err := p.recoverOne(ctx, record)
		if err != nil {
			summary.Errors++
			utils.GetLogger().Warn("Failed to recover pending charge",
				zap.String("transaction_id", record.TransactionID),
				zap.Int64("loan_id", record.LoanID),
				zap.Error(err),
			)
			continue
		}
		switch outcome.Status {
		case models.PendingStatusPosted:
			summary.Posted++
		case models.PendingStatusFailed:
			summary.Failed++
		case models.PendingStatusRequiresReview:
			summary.RequiresReview++
		default:
			summary.StillPending++
		}
	}

	utils.GetLogger().Info("Pending charge recovery complete",
		zap.Int("examined", summary.Examined),
		zap.Int("posted", summary.Posted),
		zap.Int("failed", summary.Failed),
		zap.Int("still_pending", summary.StillPending),
		zap.Int("errors", summary.Errors),
	)
	return summary, nil
}

func (p *Processor) recoverOne(ctx context.Context, record *models.PendingPayment) (*Outcome, error) {
	var result *ChargeResult
	var err error

	if record.GatewayRef != "" {
		result, err = p.gateway.Lookup(ctx, record.GatewayRef)
	} else {
		var loan *models.Loan
		loan, err = p.loans.GetLoan(ctx, record.LoanID)
		if err != nil {
			return nil, err
		}
		result, err = p.gateway.Charge(ctx, chargeRequest(record, loan))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
	}

	return p.resolve(ctx, record, result)
}

// resolve applies a gateway verdict to the pending record. A succeeded
// charge is posted with the record's transaction id, so posting the same
// charge twice is a no-op.
func (p *Processor) resolve(ctx context.Context, record *models.PendingPayment, result *ChargeResult) (*Outcome, error) {
	outcome := &Outcome{TransactionID: record.TransactionID, LoanID: record.LoanID}
	if result.GatewayRef != "" {
		record.GatewayRef = result.GatewayRef
	}

	switch result.Status {
	case ChargeFailed:
		record.Status = models.PendingStatusFailed
		record.FailureReason = result.FailureReason
	case ChargeSucceeded:
		posting, err := p.poster.PostPayment(ctx, ledger.PaymentRequest{
			LoanID:        record.LoanID,
			Amount:        record.Amount,
			TransactionID: record.TransactionID,
			Source:        models.PaymentSourceAutoDebit,
		})
		switch {
		case err == nil:
			record.Status = models.PendingStatusPosted
			outcome.Posting = posting
		case ledger.IsRejection(err):
			// Money moved but the ledger refuses it, e.g. the loan was
			// settled manually in the meantime.
			record.Status = models.PendingStatusRequiresReview
			record.FailureReason = err.Error()
		default:
			if uerr := p.update(ctx, record); uerr != nil {
				return nil, uerr
			}
			return nil, fmt.Errorf("failed to post charge %s: %w", record.TransactionID, err)
		}
	default:
		record.Status = models.PendingStatusPending
	}

	if err := p.update(ctx, record); err != nil {
		return nil, err
	}

	outcome.Status = record.Status
	outcome.Reason = record.FailureReason
	utils.GetLogger().Info("Charge resolved",
		zap.Int64("loan_id", record.LoanID),
		zap.String("transaction_id", record.TransactionID),
		zap.String("status", string(record.Status)),
		zap.String("gateway_ref", record.GatewayRef),
		zap.String("reason", record.FailureReason),
	)
	return outcome, nil
}

func (p *Processor) update(ctx context.Context, record *models.PendingPayment) error {
	record.UpdatedAt = p.now()
	if err := p.pending.UpdatePending(ctx, record); err != nil {
		return fmt.Errorf("failed to update pending charge %s: %w", record.TransactionID, err)
	}
	return nil
}

func chargeRequest(record *models.PendingPayment, loan *models.Loan) ChargeRequest {
	return ChargeRequest{
		TransactionID:   record.TransactionID,
		LoanID:          record.LoanID,
		Amount:          record.Amount,
		Currency:        record.Currency,
		CustomerID:      loan.GatewayCustomerID,
		PaymentMethodID: loan.GatewayPaymentMethodID,
	}
}
