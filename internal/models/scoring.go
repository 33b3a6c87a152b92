package models

import (
	"github.com/shopspring/decimal"
)

// Condition is a scoring rule comparison operator.
type Condition string

// Supported rule conditions. The set is closed: anything else is rejected
// with ErrRuleMisconfigured.
const (
	ConditionEq      Condition = "eq"
	ConditionNeq     Condition = "neq"
	ConditionGt      Condition = "gt"
	ConditionGte     Condition = "gte"
	ConditionLt      Condition = "lt"
	ConditionLte     Condition = "lte"
	ConditionBetween Condition = "between" // inclusive, value "min,max"
	ConditionIn      Condition = "in"      // value "a,b,c"
	ConditionNotIn   Condition = "not_in"  // value "a,b,c"
)

// SupportedConditions returns every accepted rule condition.
func SupportedConditions() []Condition {
	return []Condition{
		ConditionEq, ConditionNeq,
		ConditionGt, ConditionGte, ConditionLt, ConditionLte,
		ConditionBetween, ConditionIn, ConditionNotIn,
	}
}

// IsValid checks if the condition is supported.
func (c Condition) IsValid() bool {
	for _, valid := range SupportedConditions() {
		if c == valid {
			return true
		}
	}
	return false
}

// ScoringRule awards Score points when the borrower attribute Field satisfies
// Condition against Value.
type ScoringRule struct {
	ID        int64     `json:"id" db:"id"`
	Field     string    `json:"field" db:"field"`
	Condition Condition `json:"condition" db:"condition"`
	Value     string    `json:"value" db:"value"`
	Score     float64   `json:"score" db:"score"`
}

// ScoringParameter is a provider-defined scoring dimension. Weight caps its
// contribution to the total score.
type ScoringParameter struct {
	ID         int64         `json:"id" db:"id"`
	ProviderID int64         `json:"provider_id" db:"provider_id"`
	Name       string        `json:"name" db:"name"`
	Weight     float64       `json:"weight" db:"weight"`
	Rules      []ScoringRule `json:"rules"`
}

// LoanLimitTier maps an inclusive score range to a maximum loan amount.
// A nil ToScore means no upper bound.
type LoanLimitTier struct {
	ID         int64           `json:"id" db:"id"`
	ProviderID int64           `json:"provider_id" db:"provider_id"`
	FromScore  float64         `json:"from_score" db:"from_score"`
	ToScore    *float64        `json:"to_score,omitempty" db:"to_score"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
}

// Contains reports whether score falls inside the tier.
func (t LoanLimitTier) Contains(score float64) bool {
	if score < t.FromScore {
		return false
	}
	return t.ToScore == nil || score <= *t.ToScore
}

// BorrowerAttributes are the borrower fields scoring rules read, keyed by
// field name. Values are numbers, strings or booleans.
type BorrowerAttributes map[string]interface{}
