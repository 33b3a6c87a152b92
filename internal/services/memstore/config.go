package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"microlend-engine/internal/models"
)

// PutScoringConfig replaces a provider's scoring parameters and limit tiers.
func (s *Store) PutScoringConfig(providerID int64, params []models.ScoringParameter, tiers []models.LoanLimitTier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parameters[providerID] = append([]models.ScoringParameter(nil), params...)
	s.tiers[providerID] = append([]models.LoanLimitTier(nil), tiers...)
}

// ScoringParameters returns the provider's scoring parameters.
func (s *Store) ScoringParameters(_ context.Context, providerID int64) ([]models.ScoringParameter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ScoringParameter(nil), s.parameters[providerID]...), nil
}

// LoanLimitTiers returns the provider's loan-limit tiers.
func (s *Store) LoanLimitTiers(_ context.Context, providerID int64) ([]models.LoanLimitTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.LoanLimitTier(nil), s.tiers[providerID]...), nil
}

// CreatePending records a pending gateway charge. Transaction ids are unique
// and a loan has at most one open charge.
func (s *Store) CreatePending(_ context.Context, p *models.PendingPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[p.TransactionID]; exists {
		return fmt.Errorf("pending payment %s already exists", p.TransactionID)
	}
	if p.Status == models.PendingStatusPending {
		for _, open := range s.pending {
			if open.LoanID == p.LoanID && open.Status == models.PendingStatusPending {
				return fmt.Errorf("%w: %s", models.ErrChargeInFlight, open.TransactionID)
			}
		}
	}
	c := *p
	s.pending[p.TransactionID] = &c
	return nil
}

// UpdatePending overwrites the status fields of a pending record.
func (s *Store) UpdatePending(_ context.Context, p *models.PendingPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.pending[p.TransactionID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrPendingNotFound, p.TransactionID)
	}
	existing.Status = p.Status
	existing.GatewayRef = p.GatewayRef
	existing.FailureReason = p.FailureReason
	existing.UpdatedAt = p.UpdatedAt
	return nil
}

// GetPending returns a pending record by transaction id.
func (s *Store) GetPending(_ context.Context, transactionID string) (*models.PendingPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pending[transactionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrPendingNotFound, transactionID)
	}
	c := *p
	return &c, nil
}

// OpenPendingForLoan returns the loan's unresolved pending charge, or nil.
func (s *Store) OpenPendingForLoan(_ context.Context, loanID int64) (*models.PendingPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pending {
		if p.LoanID == loanID && p.Status == models.PendingStatusPending {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

// ListStalePending returns pending records created before cutoff, oldest first.
func (s *Store) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]*models.PendingPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PendingPayment
	for _, p := range s.pending {
		if p.Status == models.PendingStatusPending && p.CreatedAt.Before(cutoff) {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
