package valuation

import (
	"time"

	"github.com/shopspring/decimal"

	"microlend-engine/internal/models"
)

// PenaltyEvaluator accrues late penalties from a product's penalty tiers.
type PenaltyEvaluator struct {
	Fees FeeScheduleResolver
}

// PenaltyAccrued returns the penalty owed as of asOf. Every tier that has
// started by the current overdue day contributes; tiers are summed, not
// first-match, so providers can configure step-ups.
func (p PenaltyEvaluator) PenaltyAccrued(loan *models.Loan, product *models.LoanProduct, asOf time.Time) models.Money {
	if !product.PenaltyEnabled || len(product.PenaltyTiers) == 0 {
		return decimal.Zero
	}
	daysOverdue := loan.DaysOverdue(asOf)
	if daysOverdue == 0 {
		return decimal.Zero
	}

	total := decimal.Zero
	for _, tier := range product.PenaltyTiers {
		if tier.FromDay > daysOverdue {
			continue
		}
		value := p.tierValue(tier, loan, product, asOf)

		if tier.Frequency == models.PenaltyFrequencyOneTime {
			total = total.Add(value)
			continue
		}

		last := daysOverdue
		if tier.ToDay != nil && *tier.ToDay < last {
			last = *tier.ToDay
		}
		days := last - tier.FromDay + 1
		total = total.Add(value.Mul(decimal.NewFromInt(int64(days))))
	}
	return models.RoundMoney(total)
}

// tierValue is the amount one application of the tier charges.
func (p PenaltyEvaluator) tierValue(tier models.PenaltyTier, loan *models.Loan, product *models.LoanProduct, asOf time.Time) models.Money {
	switch tier.Kind {
	case models.PenaltyKindPercentOfPrincipal:
		return models.PercentOf(loan.Principal, tier.Amount)
	case models.PenaltyKindPercentOfOutstanding:
		base := loan.Principal.
			Add(p.Fees.ServiceFee(loan, product)).
			Add(p.Fees.DailyFeeAccrued(loan, product, asOf))
		return models.PercentOf(base, tier.Amount)
	default:
		return tier.Amount
	}
}
