// Package ledger posts loan repayments as balanced double-entry journal entries.
package ledger

import (
	"context"

	"microlend-engine/internal/models"
)

// Store runs a unit of work against persistent state.
//
// RunInTx must give fn an isolated view scoped to loanID: two concurrent units
// of work on the same loan must never both observe the same pre-payment
// state. If fn returns an error nothing fn wrote may become visible.
// Implementations may call fn more than once when retrying a conflicting
// transaction, so fn must not keep side effects outside the Tx.
type Store interface {
	RunInTx(ctx context.Context, loanID int64, fn func(tx Tx) error) error
}

// Tx is the set of reads and writes a payment posting needs.
type Tx interface {
	// LockLoan returns the loan and holds it until the unit of work ends.
	// Fails with models.ErrLoanNotFound.
	LockLoan(ctx context.Context, loanID int64) (*models.Loan, error)
	// GetProduct fails with models.ErrProductNotFound or models.ErrProductMisconfigured.
	GetProduct(ctx context.Context, productID int64) (*models.LoanProduct, error)
	// GetActiveTax returns nil when no tax is active.
	GetActiveTax(ctx context.Context) (*models.TaxConfig, error)
	// FindPayment returns nil when no payment carries the transaction id.
	FindPayment(ctx context.Context, transactionID string) (*models.Payment, error)
	JournalEntriesForPayment(ctx context.Context, paymentID string) ([]*models.JournalEntry, error)
	// LatestPayment returns the loan's payment with the latest PaidAt, or nil.
	LatestPayment(ctx context.Context, loanID int64) (*models.Payment, error)

	InsertPayment(ctx context.Context, payment *models.Payment) error
	UpdateLoanRepayment(ctx context.Context, loan *models.Loan) error
	InsertJournalEntry(ctx context.Context, entry *models.JournalEntry) error
	// ApplyAccountMovement adds delta (debit positive, credit negative) to the
	// account's running balance, creating the account when missing.
	ApplyAccountMovement(ctx context.Context, key models.AccountKey, delta models.Money) error
}
