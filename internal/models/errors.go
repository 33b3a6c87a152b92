// Package models defines the data structures for the micro-lending engine.
package models

import (
	"errors"
	"fmt"
)

// Errors surfaced to callers of the valuation, posting and scoring engines.
var (
	ErrLoanNotFound          = errors.New("loan not found")
	ErrProductNotFound       = errors.New("loan product not found")
	ErrPaymentExceedsBalance = errors.New("payment exceeds outstanding balance")
	ErrInvalidPaymentAmount  = errors.New("payment amount must be positive")
	ErrInvalidPaymentDate    = errors.New("payment date is outside the loan's open period")
	ErrNoTierMatch           = errors.New("no loan limit tier matches score")
	ErrProductMisconfigured  = errors.New("loan product is misconfigured")
	ErrRuleMisconfigured     = errors.New("scoring rule is misconfigured")
	ErrTaxMisconfigured      = errors.New("tax configuration is misconfigured")
	ErrUnbalancedJournal     = errors.New("journal entry debits do not equal credits")
	ErrPendingNotFound       = errors.New("pending payment not found")
	ErrChargeInFlight        = errors.New("a charge for this loan is still pending")
)

// misconfigured wraps ErrProductMisconfigured with the offending detail.
func misconfigured(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrProductMisconfigured, fmt.Sprintf(format, args...))
}

// PaymentExceedsError carries the figures behind an ErrPaymentExceedsBalance rejection.
type PaymentExceedsError struct {
	Amount      Money
	Outstanding Money
}

func (e *PaymentExceedsError) Error() string {
	return fmt.Sprintf("payment %s exceeds outstanding balance %s", e.Amount.StringFixed(2), e.Outstanding.StringFixed(2))
}

// Unwrap lets errors.Is match ErrPaymentExceedsBalance.
func (e *PaymentExceedsError) Unwrap() error {
	return ErrPaymentExceedsBalance
}
