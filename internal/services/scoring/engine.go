// Package scoring sizes loan offers from provider-configured scoring rules.
package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"microlend-engine/internal/models"
	"microlend-engine/internal/utils"
)

// ConfigRepository provides a provider's scoring configuration.
type ConfigRepository interface {
	ScoringParameters(ctx context.Context, providerID int64) ([]models.ScoringParameter, error)
	LoanLimitTiers(ctx context.Context, providerID int64) ([]models.LoanLimitTier, error)
}

// ParameterScore is one parameter's contribution to a score.
type ParameterScore struct {
	Name string `json:"name"`
	// Raw is the highest matching rule score before clamping.
	Raw    float64 `json:"raw"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

// Result is a borrower's total score with its breakdown.
type Result struct {
	Total      float64          `json:"total"`
	Parameters []ParameterScore `json:"parameters"`
}

// Score evaluates every parameter against the borrower's attributes. A
// parameter contributes the highest score among its matching rules, clamped
// to [0, weight]; the total is the sum of the contributions. Rule order does
// not matter.
func Score(attrs models.BorrowerAttributes, params []models.ScoringParameter) (*Result, error) {
	result := &Result{Parameters: make([]ParameterScore, 0, len(params))}

	for _, p := range params {
		if p.Weight < 0 || math.IsNaN(p.Weight) || math.IsInf(p.Weight, 0) {
			return nil, fmt.Errorf("%w: parameter %q has invalid weight %v", models.ErrRuleMisconfigured, p.Name, p.Weight)
		}

		raw := 0.0
		matched := false
		for _, rule := range p.Rules {
			if err := validateRule(rule); err != nil {
				return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
			}
			field := rule.Field
			if field == "" {
				field = p.Name
			}
			attr, present := attrs[field]
			if !matches(rule, attr, present) {
				continue
			}
			if !matched || rule.Score > raw {
				raw = rule.Score
				matched = true
			}
		}

		score := math.Min(math.Max(raw, 0), p.Weight)
		result.Parameters = append(result.Parameters, ParameterScore{
			Name:   p.Name,
			Raw:    raw,
			Score:  score,
			Weight: p.Weight,
		})
		result.Total += score
	}

	return result, nil
}

// LoanLimit returns the tier whose inclusive range contains score. When
// ranges overlap the tier with the lowest from score wins.
func LoanLimit(score float64, tiers []models.LoanLimitTier) (models.LoanLimitTier, error) {
	sorted := append([]models.LoanLimitTier(nil), tiers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FromScore < sorted[j].FromScore })

	for _, t := range sorted {
		if t.Contains(score) {
			return t, nil
		}
	}
	return models.LoanLimitTier{}, fmt.Errorf("%w: %.2f", models.ErrNoTierMatch, score)
}

// Offer is the loan limit a borrower qualifies for.
type Offer struct {
	ProviderID int64                `json:"provider_id"`
	Score      *Result              `json:"score"`
	Tier       models.LoanLimitTier `json:"tier"`
	Limit      models.Money         `json:"limit"`
}

// Engine scores borrowers against configuration read through a repository.
type Engine struct {
	repo ConfigRepository
}

// NewEngine creates a scoring engine.
func NewEngine(repo ConfigRepository) *Engine {
	return &Engine{repo: repo}
}

// Offer scores the borrower with the provider's parameters and resolves the
// matching loan-limit tier.
func (e *Engine) Offer(ctx context.Context, providerID int64, attrs models.BorrowerAttributes) (*Offer, error) {
	params, err := e.repo.ScoringParameters(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scoring parameters: %w", err)
	}
	tiers, err := e.repo.LoanLimitTiers(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load loan limit tiers: %w", err)
	}

	result, err := Score(attrs, params)
	if err != nil {
		return nil, err
	}
	tier, err := LoanLimit(result.Total, tiers)
	if err != nil {
		utils.GetLogger().Info("No loan limit tier for score",
			zap.Int64("provider_id", providerID),
			zap.Float64("score", result.Total),
		)
		return nil, err
	}

	utils.GetLogger().Debug("Scored borrower",
		zap.Int64("provider_id", providerID),
		zap.Float64("score", result.Total),
		zap.String("limit", tier.Amount.StringFixed(2)),
	)
	return &Offer{
		ProviderID: providerID,
		Score:      result,
		Tier:       tier,
		Limit:      models.RoundMoney(tier.Amount),
	}, nil
}
