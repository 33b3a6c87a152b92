// Package payments collects repayments through an external payment gateway
// and hands successful charges to the ledger poster.
package payments

import (
	"context"

	"microlend-engine/internal/models"
)

// ChargeStatus is the gateway's view of a charge.
type ChargeStatus string

const (
	ChargeSucceeded ChargeStatus = "succeeded"
	ChargeFailed    ChargeStatus = "failed"
	// ChargeProcessing means the gateway has not settled the charge yet.
	ChargeProcessing ChargeStatus = "processing"
)

// ChargeRequest asks the gateway to debit a borrower's saved payment method.
type ChargeRequest struct {
	// TransactionID doubles as the gateway idempotency key.
	TransactionID   string
	LoanID          int64
	Amount          models.Money
	Currency        string
	CustomerID      string
	PaymentMethodID string
}

// ChargeResult is a charge outcome the gateway has committed to.
type ChargeResult struct {
	Status        ChargeStatus
	GatewayRef    string
	FailureReason string
}

// Gateway initiates and inspects charges. An error return means the outcome
// is unknown; a decline is reported as ChargeFailed with a nil error.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Lookup(ctx context.Context, gatewayRef string) (*ChargeResult, error)
}
