package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Money is a currency amount. Amounts are exact decimals; RoundMoney brings
// them to the minor unit.
type Money = decimal.Decimal

// MinorUnitPlaces is the number of decimal places of the currency minor unit.
const MinorUnitPlaces = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half-up (away from zero) to the minor unit.
func RoundMoney(m Money) Money {
	return m.Round(MinorUnitPlaces)
}

// PercentOf returns pct% of base at full precision.
func PercentOf(base Money, pct decimal.Decimal) Money {
	return base.Mul(pct).Div(hundred)
}

// MustMoney parses a decimal literal and panics on malformed input. Intended
// for constants and tests.
func MustMoney(s string) Money {
	return decimal.RequireFromString(s)
}

// CalendarDaysBetween counts whole calendar days from a to b in UTC. Time of
// day is ignored, so a partial day never counts. The result is negative when
// b falls on an earlier date than a.
func CalendarDaysBetween(a, b time.Time) int {
	da := dateUTC(a)
	db := dateUTC(b)
	return int(db.Sub(da).Hours() / 24)
}

func dateUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
