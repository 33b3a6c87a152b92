package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"microlend-engine/internal/models"
	"microlend-engine/internal/services/database"
	"microlend-engine/internal/services/ledger"
	"microlend-engine/internal/services/valuation"
	"microlend-engine/internal/utils"
)

// paymentPoster posts repayments to the ledger.
type paymentPoster interface {
	PostPayment(ctx context.Context, req ledger.PaymentRequest) (*ledger.PostingResult, error)
}

// PostPaymentRequest is the invocation payload for a manual repayment.
type PostPaymentRequest struct {
	LoanID        int64      `json:"loan_id"`
	Amount        string     `json:"amount"`
	TransactionID string     `json:"transaction_id,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

// PostPaymentResponse reports the posting, or why it was rejected.
type PostPaymentResponse struct {
	Status         string                 `json:"status"`
	Code           string                 `json:"code,omitempty"`
	Message        string                 `json:"message,omitempty"`
	Duplicate      bool                   `json:"duplicate,omitempty"`
	Payment        *models.Payment        `json:"payment,omitempty"`
	Loan           *models.Loan           `json:"loan,omitempty"`
	Valuation      *valuation.Valuation   `json:"valuation,omitempty"`
	JournalEntries []*models.JournalEntry `json:"journal_entries,omitempty"`
}

// PaymentHandler posts manual repayments.
type PaymentHandler struct {
	poster paymentPoster
	close  func()
}

// NewPaymentHandler wires the ledger poster against PostgreSQL.
func NewPaymentHandler(ctx context.Context) (*PaymentHandler, error) {
	rt, err := newRuntime(ctx)
	if err != nil {
		return nil, err
	}
	poster := ledger.NewPoster(database.NewPostingStore(rt.db), rt.engine, rt.publisher)
	return &PaymentHandler{poster: poster, close: rt.Close}, nil
}

// Handle posts one repayment. Validation and business-rule rejections are
// returned in the response; only infrastructure failures are errors.
func (h *PaymentHandler) Handle(ctx context.Context, req PostPaymentRequest) (*PostPaymentResponse, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return rejected(models.ErrInvalidPaymentAmount), nil
	}

	posting := ledger.PaymentRequest{
		LoanID:        req.LoanID,
		Amount:        amount,
		TransactionID: req.TransactionID,
		Source:        models.PaymentSourceManual,
	}
	if req.PaidAt != nil {
		posting.PaidAt = req.PaidAt.UTC()
	}

	result, err := h.poster.PostPayment(ctx, posting)
	if err != nil {
		if ledger.IsRejection(err) {
			utils.GetLogger().Info("Payment rejected",
				zap.Int64("loan_id", req.LoanID),
				zap.String("amount", req.Amount),
				zap.Error(err),
			)
			return rejected(err), nil
		}
		return nil, err
	}

	return &PostPaymentResponse{
		Status:         "posted",
		Duplicate:      result.Duplicate,
		Payment:        result.Payment,
		Loan:           result.Loan,
		Valuation:      result.Valuation,
		JournalEntries: result.JournalEntries,
	}, nil
}

// Close cleans up resources.
func (h *PaymentHandler) Close() {
	if h.close != nil {
		h.close()
	}
}

func rejected(err error) *PostPaymentResponse {
	return &PostPaymentResponse{
		Status:  "rejected",
		Code:    errorCode(err),
		Message: err.Error(),
	}
}

// errorCode maps engine errors to stable codes for callers.
func errorCode(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidPaymentAmount):
		return "invalid_payment_amount"
	case errors.Is(err, models.ErrInvalidPaymentDate):
		return "invalid_payment_date"
	case errors.Is(err, models.ErrPaymentExceedsBalance):
		return "payment_exceeds_balance"
	case errors.Is(err, models.ErrLoanNotFound):
		return "loan_not_found"
	case errors.Is(err, models.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, models.ErrProductMisconfigured):
		return "product_misconfigured"
	case errors.Is(err, models.ErrNoTierMatch):
		return "no_tier_match"
	case errors.Is(err, models.ErrRuleMisconfigured):
		return "rule_misconfigured"
	default:
		return "internal_error"
	}
}
