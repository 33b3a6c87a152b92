package valuation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"microlend-engine/internal/models"
)

// DefaultTolerance absorbs sub-cent differences in caller-supplied amounts.
var DefaultTolerance = decimal.New(1, -2)

// Valuation is the breakdown of what a loan owes as of a point in time.
type Valuation struct {
	LoanID      int64        `json:"loan_id"`
	AsOf        time.Time    `json:"as_of"`
	AccruedTo   time.Time    `json:"accrued_to"`
	DaysOverdue int          `json:"days_overdue"`
	Principal   models.Money `json:"principal"`
	ServiceFee  models.Money `json:"service_fee"`
	DailyFee    models.Money `json:"daily_fee"`
	Penalty     models.Money `json:"penalty"`
	Tax         models.Money `json:"tax"`
	Total       models.Money `json:"total"`
	Repaid      models.Money `json:"repaid"`
	Outstanding models.Money `json:"outstanding"`
}

// Component returns the amount owed for a ledger category.
func (v *Valuation) Component(c models.Category) models.Money {
	switch c {
	case models.CategoryPrincipal:
		return v.Principal
	case models.CategoryInterest:
		return v.DailyFee
	case models.CategoryServiceFee:
		return v.ServiceFee
	case models.CategoryPenalty:
		return v.Penalty
	case models.CategoryTax:
		return v.Tax
	}
	return decimal.Zero
}

// Engine is the repayment valuation engine. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	fees      FeeScheduleResolver
	penalties PenaltyEvaluator
	taxes     TaxApplier
	tolerance decimal.Decimal
}

// NewEngine creates an engine comparing balances with the given tolerance.
// A negative tolerance is treated as zero.
func NewEngine(tolerance decimal.Decimal) *Engine {
	if tolerance.IsNegative() {
		tolerance = decimal.Zero
	}
	fees := FeeScheduleResolver{}
	return &Engine{
		fees:      fees,
		penalties: PenaltyEvaluator{Fees: fees},
		tolerance: tolerance,
	}
}

// Tolerance returns the balance comparison tolerance.
func (e *Engine) Tolerance() decimal.Decimal {
	return e.tolerance
}

// Value computes the full breakdown as of asOf. A paid loan stops accruing at
// its settlement time. A malformed product fails with ErrProductMisconfigured
// rather than valuing at zero fees.
func (e *Engine) Value(loan *models.Loan, product *models.LoanProduct, tax *models.TaxConfig, asOf time.Time) (*Valuation, error) {
	if loan == nil {
		return nil, models.ErrLoanNotFound
	}
	if product == nil {
		return nil, fmt.Errorf("loan %d: %w", loan.ID, models.ErrProductNotFound)
	}
	if err := product.Validate(); err != nil {
		return nil, fmt.Errorf("product %d: %w", product.ID, err)
	}
	accruedTo := asOf
	if loan.IsPaid() && loan.SettledAt != nil && loan.SettledAt.Before(asOf) {
		accruedTo = *loan.SettledAt
	}

	v := &Valuation{
		LoanID:      loan.ID,
		AsOf:        asOf,
		AccruedTo:   accruedTo,
		DaysOverdue: loan.DaysOverdue(accruedTo),
		Principal:   loan.Principal,
		ServiceFee:  e.fees.ServiceFee(loan, product),
		DailyFee:    e.fees.DailyFeeAccrued(loan, product, accruedTo),
		Penalty:     e.penalties.PenaltyAccrued(loan, product, accruedTo),
		Repaid:      loan.RepaidAmount,
	}
	v.Tax = e.taxes.ApplyTax(FeeComponents{
		ServiceFee: v.ServiceFee,
		DailyFee:   v.DailyFee,
		Penalty:    v.Penalty,
	}, tax)
	v.Total = v.Principal.Add(v.ServiceFee).Add(v.DailyFee).Add(v.Penalty).Add(v.Tax)
	v.Outstanding = v.Total.Sub(v.Repaid)

	return v, nil
}

// TotalRepayable returns principal plus every fee, penalty and tax as of asOf.
func (e *Engine) TotalRepayable(loan *models.Loan, product *models.LoanProduct, tax *models.TaxConfig, asOf time.Time) (models.Money, error) {
	v, err := e.Value(loan, product, tax, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Total, nil
}

// OutstandingBalance returns TotalRepayable minus the amount already repaid.
func (e *Engine) OutstandingBalance(loan *models.Loan, product *models.LoanProduct, tax *models.TaxConfig, asOf time.Time) (models.Money, error) {
	v, err := e.Value(loan, product, tax, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Outstanding, nil
}

// ValidatePayment rejects non-positive amounts and amounts above the
// outstanding balance plus tolerance.
func (e *Engine) ValidatePayment(v *Valuation, amount models.Money) error {
	if !amount.IsPositive() {
		return models.ErrInvalidPaymentAmount
	}
	if amount.GreaterThan(v.Outstanding.Add(e.tolerance)) {
		return &models.PaymentExceedsError{Amount: amount, Outstanding: v.Outstanding}
	}
	return nil
}

// IsSettled reports whether repaid covers total within tolerance.
func (e *Engine) IsSettled(total, repaid models.Money) bool {
	return repaid.GreaterThanOrEqual(total.Sub(e.tolerance))
}
