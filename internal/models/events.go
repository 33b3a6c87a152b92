package models

import (
	"time"
)

// Event types published after state changes commit.
const (
	EventPaymentPosted = "payment.posted"
	EventLoanSettled   = "loan.settled"
	EventLoanMarkedNPL = "loan.npl_marked"
)

// LoanEvent is the payload of every loan domain event.
type LoanEvent struct {
	Type        string    `json:"type"`
	LoanID      int64     `json:"loan_id"`
	BorrowerID  int64     `json:"borrower_id"`
	ProviderID  int64     `json:"provider_id"`
	PaymentID   string    `json:"payment_id,omitempty"`
	Amount      Money     `json:"amount"`
	Outstanding Money     `json:"outstanding"`
	DaysOverdue int       `json:"days_overdue,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
