package ledger

import (
	"github.com/shopspring/decimal"

	"microlend-engine/internal/models"
	"microlend-engine/internal/services/valuation"
)

// SettlementOrder is the order in which repaid money settles loan components.
var SettlementOrder = []models.Category{
	models.CategoryTax,
	models.CategoryPenalty,
	models.CategoryInterest,
	models.CategoryServiceFee,
	models.CategoryPrincipal,
}

// Allocation is the part of a payment that settles one component.
type Allocation struct {
	Category models.Category
	Amount   models.Money
}

// settled distributes a cumulative repaid amount over the components in
// SettlementOrder. Anything beyond the total lands on principal.
func settled(v *valuation.Valuation, repaid models.Money) map[models.Category]models.Money {
	out := make(map[models.Category]models.Money, len(SettlementOrder))
	remaining := repaid
	for _, c := range SettlementOrder {
		owed := v.Component(c)
		take := decimal.Min(owed, remaining)
		if take.IsNegative() {
			take = decimal.Zero
		}
		out[c] = take
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		out[models.CategoryPrincipal] = out[models.CategoryPrincipal].Add(remaining)
	}
	return out
}

// Allocate splits a payment of amount, made after repaidBefore was already
// repaid, into per-component settlements. The split is the difference of the
// cumulative allocations, so it is never negative per component and always
// sums to amount.
func Allocate(v *valuation.Valuation, repaidBefore, amount models.Money) []Allocation {
	before := settled(v, repaidBefore)
	after := settled(v, repaidBefore.Add(amount))

	var out []Allocation
	for _, c := range SettlementOrder {
		delta := after[c].Sub(before[c])
		if delta.IsPositive() {
			out = append(out, Allocation{Category: c, Amount: delta})
		}
	}
	return out
}
