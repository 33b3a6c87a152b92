package valuation

import (
	"github.com/shopspring/decimal"

	"microlend-engine/internal/models"
)

// FeeComponents are the taxable parts of a valuation.
type FeeComponents struct {
	ServiceFee models.Money
	DailyFee   models.Money
	Penalty    models.Money
}

// TaxApplier levies the global tax on the components it applies to.
type TaxApplier struct{}

// ApplyTax returns the additional tax owed. A nil or inactive config yields zero.
func (TaxApplier) ApplyTax(c FeeComponents, tax *models.TaxConfig) models.Money {
	if tax == nil || !tax.Active {
		return decimal.Zero
	}
	base := decimal.Zero
	if tax.AppliesTo(models.TaxOnServiceFee) {
		base = base.Add(c.ServiceFee)
	}
	if tax.AppliesTo(models.TaxOnDailyFee) {
		base = base.Add(c.DailyFee)
	}
	if tax.AppliesTo(models.TaxOnPenalty) {
		base = base.Add(c.Penalty)
	}
	return models.RoundMoney(models.PercentOf(base, tax.Rate))
}
