package scoring

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"microlend-engine/internal/models"
)

// validateRule checks that the rule's condition is supported and that its
// comparison value parses for that condition.
func validateRule(rule models.ScoringRule) error {
	if !rule.Condition.IsValid() {
		return fmt.Errorf("%w: rule %d has unknown condition %q", models.ErrRuleMisconfigured, rule.ID, rule.Condition)
	}
	switch rule.Condition {
	case models.ConditionGt, models.ConditionGte, models.ConditionLt, models.ConditionLte:
		if _, ok := toNumber(rule.Value); !ok {
			return fmt.Errorf("%w: rule %d needs a numeric value, got %q", models.ErrRuleMisconfigured, rule.ID, rule.Value)
		}
	case models.ConditionBetween:
		if _, _, err := parseRange(rule.Value); err != nil {
			return fmt.Errorf("%w: rule %d: %v", models.ErrRuleMisconfigured, rule.ID, err)
		}
	case models.ConditionIn, models.ConditionNotIn:
		if len(splitList(rule.Value)) == 0 {
			return fmt.Errorf("%w: rule %d has an empty set", models.ErrRuleMisconfigured, rule.ID)
		}
	}
	return nil
}

// matches evaluates a validated rule against an attribute value. A missing
// attribute never matches.
func matches(rule models.ScoringRule, attr interface{}, present bool) bool {
	if !present || attr == nil {
		return false
	}

	switch rule.Condition {
	case models.ConditionEq:
		return equal(attr, rule.Value)
	case models.ConditionNeq:
		return !equal(attr, rule.Value)
	case models.ConditionGt, models.ConditionGte, models.ConditionLt, models.ConditionLte:
		n, ok := toNumber(attr)
		if !ok {
			return false
		}
		want, _ := toNumber(rule.Value)
		switch rule.Condition {
		case models.ConditionGt:
			return n.GreaterThan(want)
		case models.ConditionGte:
			return n.GreaterThanOrEqual(want)
		case models.ConditionLt:
			return n.LessThan(want)
		default:
			return n.LessThanOrEqual(want)
		}
	case models.ConditionBetween:
		n, ok := toNumber(attr)
		if !ok {
			return false
		}
		lo, hi, _ := parseRange(rule.Value)
		return n.GreaterThanOrEqual(lo) && n.LessThanOrEqual(hi)
	case models.ConditionIn, models.ConditionNotIn:
		found := false
		for _, v := range splitList(rule.Value) {
			if equal(attr, v) {
				found = true
				break
			}
		}
		if rule.Condition == models.ConditionIn {
			return found
		}
		return !found
	}
	return false
}

// equal compares numerically when both sides are numbers, as booleans when
// the attribute is a bool, and case-insensitively as text otherwise.
func equal(attr interface{}, value string) bool {
	if b, ok := attr.(bool); ok {
		want, err := strconv.ParseBool(strings.TrimSpace(value))
		return err == nil && b == want
	}
	if n, ok := toNumber(attr); ok {
		if want, ok := toNumber(value); ok {
			return n.Equal(want)
		}
	}
	return strings.EqualFold(strings.TrimSpace(fmt.Sprint(attr)), strings.TrimSpace(value))
}

func toNumber(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	case decimal.Decimal:
		return n, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	}
	return decimal.Zero, false
}

func parseRange(value string) (decimal.Decimal, decimal.Decimal, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("range %q must be \"min,max\"", value)
	}
	lo, okLo := toNumber(parts[0])
	hi, okHi := toNumber(parts[1])
	if !okLo || !okHi {
		return decimal.Zero, decimal.Zero, fmt.Errorf("range %q is not numeric", value)
	}
	if lo.GreaterThan(hi) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("range %q has min above max", value)
	}
	return lo, hi, nil
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
