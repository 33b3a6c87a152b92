package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus represents whether a product can be offered.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusDisabled ProductStatus = "disabled"
)

// FeeKind selects how a fee amount is interpreted.
type FeeKind string

const (
	FeeKindFixed      FeeKind = "fixed"
	FeeKindPercentage FeeKind = "percentage"
)

// AccrualBase selects what a daily percentage fee is charged on.
type AccrualBase string

const (
	// AccrualBasePrincipal accrues simply on the original principal.
	AccrualBasePrincipal AccrualBase = "principal"
	// AccrualBaseOutstanding compounds on principal plus fees accrued so far.
	AccrualBaseOutstanding AccrualBase = "outstanding"
)

// PenaltyKind selects what a penalty tier's amount is measured against.
type PenaltyKind string

const (
	PenaltyKindFixed                PenaltyKind = "fixed"
	PenaltyKindPercentOfPrincipal   PenaltyKind = "percent_of_principal"
	PenaltyKindPercentOfOutstanding PenaltyKind = "percent_of_outstanding"
)

// PenaltyFrequency says whether a tier charges once or per overdue day.
type PenaltyFrequency string

const (
	PenaltyFrequencyDaily   PenaltyFrequency = "daily"
	PenaltyFrequencyOneTime PenaltyFrequency = "one_time"
)

// FeeRule is a service or daily fee definition. Base is only meaningful for
// daily fees; it defaults to AccrualBasePrincipal.
type FeeRule struct {
	Kind   FeeKind         `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
	Base   AccrualBase     `json:"accrual_base,omitempty"`
}

// Validate checks the rule's kind, amount and base.
func (f FeeRule) Validate() error {
	switch f.Kind {
	case FeeKindFixed, FeeKindPercentage:
	default:
		return misconfigured("unknown fee kind %q", f.Kind)
	}
	if f.Amount.IsNegative() {
		return misconfigured("fee amount cannot be negative")
	}
	switch f.Base {
	case "", AccrualBasePrincipal, AccrualBaseOutstanding:
	default:
		return misconfigured("unknown accrual base %q", f.Base)
	}
	return nil
}

// AccrualBaseOrDefault returns the configured base or AccrualBasePrincipal.
func (f FeeRule) AccrualBaseOrDefault() AccrualBase {
	if f.Base == "" {
		return AccrualBasePrincipal
	}
	return f.Base
}

// PenaltyTier charges a penalty for overdue days FromDay..ToDay (inclusive).
// A nil ToDay means the tier never ends.
type PenaltyTier struct {
	FromDay   int              `json:"from_day"`
	ToDay     *int             `json:"to_day"`
	Kind      PenaltyKind      `json:"kind"`
	Amount    decimal.Decimal  `json:"amount"`
	Frequency PenaltyFrequency `json:"frequency"`
}

// Validate checks the tier's day range, kind, amount and frequency.
func (t PenaltyTier) Validate() error {
	if t.FromDay < 1 {
		return misconfigured("penalty tier from_day must be at least 1, got %d", t.FromDay)
	}
	if t.ToDay != nil && *t.ToDay < t.FromDay {
		return misconfigured("penalty tier to_day %d before from_day %d", *t.ToDay, t.FromDay)
	}
	switch t.Kind {
	case PenaltyKindFixed, PenaltyKindPercentOfPrincipal, PenaltyKindPercentOfOutstanding:
	default:
		return misconfigured("unknown penalty kind %q", t.Kind)
	}
	switch t.Frequency {
	case PenaltyFrequencyDaily, PenaltyFrequencyOneTime:
	default:
		return misconfigured("unknown penalty frequency %q", t.Frequency)
	}
	if t.Amount.IsNegative() {
		return misconfigured("penalty amount cannot be negative")
	}
	return nil
}

// LoanProduct represents a provider's loan offering and its fee configuration.
type LoanProduct struct {
	ID                int64         `json:"id" db:"id"`
	ProviderID        int64         `json:"provider_id" db:"provider_id"`
	Name              string        `json:"name" db:"name"`
	Currency          string        `json:"currency" db:"currency"`
	MinAmount         Money         `json:"min_amount" db:"min_amount"`
	MaxAmount         Money         `json:"max_amount" db:"max_amount"`
	DurationDays      int           `json:"duration_days" db:"duration_days"`
	ServiceFee        FeeRule       `json:"service_fee" db:"service_fee"`
	DailyFee          FeeRule       `json:"daily_fee" db:"daily_fee"`
	PenaltyTiers      []PenaltyTier `json:"penalty_tiers" db:"penalty_tiers"`
	ServiceFeeEnabled bool          `json:"service_fee_enabled" db:"service_fee_enabled"`
	DailyFeeEnabled   bool          `json:"daily_fee_enabled" db:"daily_fee_enabled"`
	PenaltyEnabled    bool          `json:"penalty_enabled" db:"penalty_enabled"`
	Status            ProductStatus `json:"status" db:"status"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the product may be offered to new borrowers.
func (p *LoanProduct) IsActive() bool {
	return p.Status == ProductStatusActive
}

// Validate checks the fee and penalty configuration of enabled fee types.
// Disabled fee types are not inspected.
func (p *LoanProduct) Validate() error {
	if p.ServiceFeeEnabled {
		if err := p.ServiceFee.Validate(); err != nil {
			return err
		}
	}
	if p.DailyFeeEnabled {
		if err := p.DailyFee.Validate(); err != nil {
			return err
		}
	}
	if p.PenaltyEnabled {
		for _, tier := range p.PenaltyTiers {
			if err := tier.Validate(); err != nil {
				return err
			}
		}
	}
	if p.MinAmount.IsNegative() || (!p.MaxAmount.IsZero() && p.MaxAmount.LessThan(p.MinAmount)) {
		return misconfigured("invalid amount range %s..%s", p.MinAmount, p.MaxAmount)
	}
	if p.DurationDays < 0 {
		return misconfigured("duration cannot be negative")
	}
	return nil
}

// DueDate returns the due date of a loan disbursed at the given time.
func (p *LoanProduct) DueDate(disbursedAt time.Time) time.Time {
	return disbursedAt.AddDate(0, 0, p.DurationDays)
}

// ParseFeeRule decodes a stored fee configuration blob.
func ParseFeeRule(raw []byte) (FeeRule, error) {
	var rule FeeRule
	if len(raw) == 0 {
		return rule, misconfigured("empty fee configuration")
	}
	if err := json.Unmarshal(raw, &rule); err != nil {
		return rule, misconfigured("malformed fee configuration: %v", err)
	}
	if err := rule.Validate(); err != nil {
		return rule, err
	}
	return rule, nil
}

// ParsePenaltyTiers decodes a stored penalty tier list. Empty input means no tiers.
func ParsePenaltyTiers(raw []byte) ([]PenaltyTier, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var tiers []PenaltyTier
	if err := json.Unmarshal(raw, &tiers); err != nil {
		return nil, misconfigured("malformed penalty configuration: %v", err)
	}
	for _, tier := range tiers {
		if err := tier.Validate(); err != nil {
			return nil, err
		}
	}
	return tiers, nil
}
