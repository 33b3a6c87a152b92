package database

import (
	"context"
	"fmt"

	"microlend-engine/internal/models"
)

// ScoringRepository reads provider scoring configuration.
type ScoringRepository struct {
	db *DB
}

// NewScoringRepository creates a new scoring repository.
func NewScoringRepository(db *DB) *ScoringRepository {
	return &ScoringRepository{db: db}
}

// ScoringParameters returns the provider's parameters with their rules, in
// configured order.
func (r *ScoringRepository) ScoringParameters(ctx context.Context, providerID int64) ([]models.ScoringParameter, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.provider_id, p.name, p.weight,
			r.id, r.field, r.condition, r.value, r.score
		FROM scoring_parameters p
		LEFT JOIN scoring_rules r ON r.parameter_id = p.id
		WHERE p.provider_id = $1
		ORDER BY p.position, p.id, r.position, r.id`,
		providerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query scoring parameters: %w", err)
	}
	defer rows.Close()

	var params []models.ScoringParameter
	index := make(map[int64]int)
	for rows.Next() {
		var p models.ScoringParameter
		var ruleID *int64
		var field, condition, value *string
		var score *float64

		if err := rows.Scan(&p.ID, &p.ProviderID, &p.Name, &p.Weight,
			&ruleID, &field, &condition, &value, &score); err != nil {
			return nil, fmt.Errorf("failed to scan scoring parameter: %w", err)
		}

		i, ok := index[p.ID]
		if !ok {
			params = append(params, p)
			i = len(params) - 1
			index[p.ID] = i
		}
		if ruleID == nil {
			continue
		}
		params[i].Rules = append(params[i].Rules, models.ScoringRule{
			ID:        *ruleID,
			Field:     *field,
			Condition: models.Condition(*condition),
			Value:     *value,
			Score:     *score,
		})
	}

	return params, rows.Err()
}

// LoanLimitTiers returns the provider's loan-limit tiers ordered by from score.
func (r *ScoringRepository) LoanLimitTiers(ctx context.Context, providerID int64) ([]models.LoanLimitTier, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, provider_id, from_score, to_score, amount
		FROM loan_limit_tiers
		WHERE provider_id = $1
		ORDER BY from_score, id`,
		providerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query loan limit tiers: %w", err)
	}
	defer rows.Close()

	var tiers []models.LoanLimitTier
	for rows.Next() {
		var t models.LoanLimitTier
		if err := rows.Scan(&t.ID, &t.ProviderID, &t.FromScore, &t.ToScore, &t.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan loan limit tier: %w", err)
		}
		tiers = append(tiers, t)
	}

	return tiers, rows.Err()
}
