package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFeeRule(t *testing.T) {
	rule, err := ParseFeeRule([]byte(`{"kind":"percentage","amount":"0.5","accrual_base":"outstanding"}`))
	require.NoError(t, err)
	assert.Equal(t, FeeKindPercentage, rule.Kind)
	assert.Equal(t, "0.5", rule.Amount.String())
	assert.Equal(t, AccrualBaseOutstanding, rule.AccrualBaseOrDefault())

	rule, err = ParseFeeRule([]byte(`{"kind":"fixed","amount":25}`))
	require.NoError(t, err)
	assert.Equal(t, AccrualBasePrincipal, rule.AccrualBaseOrDefault())
}

func TestParseFeeRule_Misconfigured(t *testing.T) {
	inputs := []string{
		``,
		`{"kind":"fixed","amount":`,
		`{"kind":"weekly","amount":1}`,
		`{"kind":"fixed","amount":-1}`,
		`{"kind":"percentage","amount":1,"accrual_base":"balance"}`,
	}
	for _, in := range inputs {
		_, err := ParseFeeRule([]byte(in))
		assert.True(t, errors.Is(err, ErrProductMisconfigured), "input %q: %v", in, err)
	}
}

func TestParsePenaltyTiers(t *testing.T) {
	raw := `[
		{"from_day":1,"to_day":7,"kind":"percent_of_principal","amount":"1","frequency":"daily"},
		{"from_day":8,"to_day":null,"kind":"fixed","amount":"50","frequency":"one_time"}
	]`
	tiers, err := ParsePenaltyTiers([]byte(raw))
	require.NoError(t, err)
	require.Len(t, tiers, 2)
	assert.Equal(t, 7, *tiers[0].ToDay)
	assert.Nil(t, tiers[1].ToDay)

	tiers, err = ParsePenaltyTiers(nil)
	assert.NoError(t, err)
	assert.Empty(t, tiers)
}

func TestParsePenaltyTiers_Misconfigured(t *testing.T) {
	inputs := []string{
		`{"from_day":1}`,
		`[{"from_day":0,"kind":"fixed","amount":"1","frequency":"daily"}]`,
		`[{"from_day":5,"to_day":4,"kind":"fixed","amount":"1","frequency":"daily"}]`,
		`[{"from_day":1,"kind":"percent","amount":"1","frequency":"daily"}]`,
		`[{"from_day":1,"kind":"fixed","amount":"1","frequency":"weekly"}]`,
	}
	for _, in := range inputs {
		_, err := ParsePenaltyTiers([]byte(in))
		assert.ErrorIs(t, err, ErrProductMisconfigured, in)
	}
}

func TestLoanProduct_ValidateSkipsDisabledFees(t *testing.T) {
	p := &LoanProduct{
		ServiceFee:   FeeRule{Kind: "bogus"},
		DailyFee:     FeeRule{Kind: "bogus"},
		PenaltyTiers: []PenaltyTier{{FromDay: -1}},
	}
	assert.NoError(t, p.Validate())

	p.DailyFeeEnabled = true
	assert.ErrorIs(t, p.Validate(), ErrProductMisconfigured)
}

func TestCalendarDaysBetween(t *testing.T) {
	a := mustTime("2026-01-31T23:50:00Z")

	assert.Equal(t, 0, CalendarDaysBetween(a, mustTime("2026-01-31T00:01:00Z")))
	assert.Equal(t, 1, CalendarDaysBetween(a, mustTime("2026-02-01T00:10:00Z")))
	assert.Equal(t, 29, CalendarDaysBetween(a, mustTime("2026-03-01T12:00:00Z")))
	assert.Equal(t, -1, CalendarDaysBetween(a, mustTime("2026-01-30T12:00:00Z")))
}

func TestRoundMoney_HalfUp(t *testing.T) {
	assert.Equal(t, "2.35", RoundMoney(MustMoney("2.345")).StringFixed(2))
	assert.Equal(t, "2.34", RoundMoney(MustMoney("2.3449")).StringFixed(2))
	assert.Equal(t, "-2.35", RoundMoney(MustMoney("-2.345")).StringFixed(2))
}
