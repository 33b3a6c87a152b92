package models

import (
	"fmt"
	"time"
)

// RepaymentStatus is the repayment state of a loan. The only transition is
// Unpaid -> Paid.
type RepaymentStatus string

const (
	RepaymentStatusUnpaid RepaymentStatus = "unpaid"
	RepaymentStatusPaid   RepaymentStatus = "paid"
)

// PaymentSource records how a payment entered the system.
type PaymentSource string

const (
	PaymentSourceManual    PaymentSource = "manual"
	PaymentSourceAutoDebit PaymentSource = "auto_debit"
)

// Loan is a disbursed loan. Only payment postings mutate it.
type Loan struct {
	ID                     int64           `json:"id" db:"id"`
	BorrowerID             int64           `json:"borrower_id" db:"borrower_id"`
	ProductID              int64           `json:"product_id" db:"product_id"`
	ProviderID             int64           `json:"provider_id" db:"provider_id"`
	Principal              Money           `json:"principal" db:"principal"`
	DisbursedAt            time.Time       `json:"disbursed_at" db:"disbursed_at"`
	DueDate                time.Time       `json:"due_date" db:"due_date"`
	RepaidAmount           Money           `json:"repaid_amount" db:"repaid_amount"`
	Status                 RepaymentStatus `json:"status" db:"status"`
	SettledAt              *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
	GatewayCustomerID      string          `json:"gateway_customer_id,omitempty" db:"gateway_customer_id"`
	GatewayPaymentMethodID string          `json:"gateway_payment_method_id,omitempty" db:"gateway_payment_method_id"`
	NonPerforming          bool            `json:"non_performing" db:"non_performing"`
	CreatedAt              time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at" db:"updated_at"`
}

// IsPaid reports whether the loan has been fully repaid.
func (l *Loan) IsPaid() bool {
	return l.Status == RepaymentStatusPaid
}

// HasAutoDebitMandate reports whether the borrower authorised automatic charges.
func (l *Loan) HasAutoDebitMandate() bool {
	return l.GatewayCustomerID != "" && l.GatewayPaymentMethodID != ""
}

// DaysOverdue returns whole calendar days past the due date, never negative.
func (l *Loan) DaysOverdue(asOf time.Time) int {
	days := CalendarDaysBetween(l.DueDate, asOf)
	if days < 0 {
		return 0
	}
	return days
}

// Clone returns a copy that shares no pointers with l.
func (l *Loan) Clone() *Loan {
	c := *l
	if l.SettledAt != nil {
		t := *l.SettledAt
		c.SettledAt = &t
	}
	return &c
}

// Payment is an accepted repayment. Payments are append-only.
type Payment struct {
	ID                string        `json:"id" db:"id"`
	LoanID            int64         `json:"loan_id" db:"loan_id"`
	TransactionID     string        `json:"transaction_id" db:"transaction_id"`
	Amount            Money         `json:"amount" db:"amount"`
	OutstandingBefore Money         `json:"outstanding_before" db:"outstanding_before"`
	Source            PaymentSource `json:"source" db:"source"`
	PaidAt            time.Time     `json:"paid_at" db:"paid_at"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
}

// PendingStatus is the state of a gateway charge that may not be posted yet.
type PendingStatus string

const (
	PendingStatusPending        PendingStatus = "pending"
	PendingStatusPosted         PendingStatus = "posted"
	PendingStatusFailed         PendingStatus = "failed"
	PendingStatusRequiresReview PendingStatus = "requires_review"
)

// PendingPayment marks a gateway charge started for a loan. It is written
// before the gateway is called so an interrupted charge can be recovered.
type PendingPayment struct {
	TransactionID string        `json:"transaction_id" db:"transaction_id"`
	LoanID        int64         `json:"loan_id" db:"loan_id"`
	Amount        Money         `json:"amount" db:"amount"`
	Currency      string        `json:"currency" db:"currency"`
	Status        PendingStatus `json:"status" db:"status"`
	GatewayRef    string        `json:"gateway_ref,omitempty" db:"gateway_ref"`
	FailureReason string        `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// TaxComponent names a fee component a tax can apply to.
type TaxComponent string

const (
	TaxOnServiceFee TaxComponent = "service_fee"
	TaxOnDailyFee   TaxComponent = "daily_fee"
	TaxOnPenalty    TaxComponent = "penalty"
)

// TaxConfig is the single global tax definition.
type TaxConfig struct {
	ID        int64          `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	Rate      Money          `json:"rate" db:"rate"`
	AppliedTo []TaxComponent `json:"applied_to" db:"applied_to"`
	Active    bool           `json:"active" db:"active"`
}

// Validate rejects a negative rate or an unknown component. A negative rate
// would make the repayable total shrink as fees accrue.
func (t *TaxConfig) Validate() error {
	if t.Rate.IsNegative() {
		return fmt.Errorf("%w: %s rate %s is negative", ErrTaxMisconfigured, t.Name, t.Rate.String())
	}
	for _, c := range t.AppliedTo {
		switch c {
		case TaxOnServiceFee, TaxOnDailyFee, TaxOnPenalty:
		default:
			return fmt.Errorf("%w: %s applies to unknown component %q", ErrTaxMisconfigured, t.Name, c)
		}
	}
	return nil
}

// AppliesTo reports whether the tax is levied on the given component.
func (t *TaxConfig) AppliesTo(c TaxComponent) bool {
	for _, applied := range t.AppliedTo {
		if applied == c {
			return true
		}
	}
	return false
}
