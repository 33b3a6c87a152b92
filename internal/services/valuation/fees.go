// Package valuation computes what a borrower owes on a loan as of a given date.
//
// Every function here is pure: inputs are never mutated and results depend
// only on the loan, its product, the tax configuration and the as-of time.
package valuation

import (
	"time"

	"github.com/shopspring/decimal"

	"microlend-engine/internal/models"
)

// FeeScheduleResolver turns a product's service and daily fee configuration
// into amounts.
type FeeScheduleResolver struct{}

// ServiceFee returns the one-off service fee. It never re-accrues.
func (FeeScheduleResolver) ServiceFee(loan *models.Loan, product *models.LoanProduct) models.Money {
	if !product.ServiceFeeEnabled {
		return decimal.Zero
	}
	return models.RoundMoney(feeOn(product.ServiceFee, loan.Principal))
}

// DailyFeeAccrued returns the daily fee accrued from disbursement to asOf.
// Days are whole calendar days; a partial day accrues nothing.
//
// With AccrualBaseOutstanding the running balance starts at principal plus
// service fee and each day's fee is charged on the balance before that day's
// accrual. Repayments do not reduce the base.
func (r FeeScheduleResolver) DailyFeeAccrued(loan *models.Loan, product *models.LoanProduct, asOf time.Time) models.Money {
	if !product.DailyFeeEnabled {
		return decimal.Zero
	}
	days := elapsedDays(loan.DisbursedAt, asOf)
	if days == 0 {
		return decimal.Zero
	}

	rule := product.DailyFee
	if rule.Kind == models.FeeKindFixed || rule.AccrualBaseOrDefault() == models.AccrualBasePrincipal {
		perDay := feeOn(rule, loan.Principal)
		return models.RoundMoney(perDay.Mul(decimal.NewFromInt(int64(days))))
	}

	start := loan.Principal.Add(r.ServiceFee(loan, product))
	outstanding := start
	for d := 0; d < days; d++ {
		outstanding = outstanding.Add(feeOn(rule, outstanding))
	}
	return models.RoundMoney(outstanding.Sub(start))
}

// feeOn evaluates a fee rule against a base amount at full precision.
func feeOn(rule models.FeeRule, base models.Money) models.Money {
	if rule.Kind == models.FeeKindPercentage {
		return models.PercentOf(base, rule.Amount)
	}
	return rule.Amount
}

func elapsedDays(from, to time.Time) int {
	days := models.CalendarDaysBetween(from, to)
	if days < 0 {
		return 0
	}
	return days
}
