package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"microlend-engine/internal/models"
	"microlend-engine/internal/services/database"
	"microlend-engine/internal/services/scoring"
)

var errBorrowerNotFound = errors.New("borrower not found")

// borrowerLookup loads a borrower profile.
type borrowerLookup interface {
	GetByID(ctx context.Context, id int64) (*models.Borrower, error)
}

// offerScorer sizes a loan offer.
type offerScorer interface {
	Offer(ctx context.Context, providerID int64, attrs models.BorrowerAttributes) (*scoring.Offer, error)
}

// OfferRequest asks for a provider's loan limit for a borrower. Attributes,
// when given, are scored instead of the stored borrower profile.
type OfferRequest struct {
	ProviderID int64                     `json:"provider_id"`
	BorrowerID int64                     `json:"borrower_id,omitempty"`
	Attributes models.BorrowerAttributes `json:"attributes,omitempty"`
}

// OfferResponse carries the offer, or the reason none could be made.
type OfferResponse struct {
	Status  string         `json:"status"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
	Offer   *scoring.Offer `json:"offer,omitempty"`
}

// OfferHandler scores borrowers before disbursement.
type OfferHandler struct {
	borrowers borrowerLookup
	scorer    offerScorer
	close     func()
}

// NewOfferHandler wires the scoring engine against PostgreSQL, behind a Redis
// cache when REDIS_ADDR is set.
func NewOfferHandler(ctx context.Context) (*OfferHandler, error) {
	rt, err := newRuntime(ctx)
	if err != nil {
		return nil, err
	}

	var repo scoring.ConfigRepository = database.NewScoringRepository(rt.db)
	if rt.cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     rt.cfg.RedisAddr,
			Password: rt.cfg.RedisPassword,
			DB:       rt.cfg.RedisDB,
		})
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		repo = scoring.NewCachedConfigRepository(repo, client, rt.cfg.ScoringCacheTTL)
	}

	return &OfferHandler{
		borrowers: database.NewBorrowerRepository(rt.db),
		scorer:    scoring.NewEngine(repo),
		close:     rt.Close,
	}, nil
}

// Handle scores the borrower and resolves the loan limit.
func (h *OfferHandler) Handle(ctx context.Context, req OfferRequest) (*OfferResponse, error) {
	attrs := req.Attributes
	if attrs == nil {
		borrower, err := h.borrowers.GetByID(ctx, req.BorrowerID)
		if err != nil {
			return nil, err
		}
		if borrower == nil {
			return &OfferResponse{
				Status:  "rejected",
				Code:    "borrower_not_found",
				Message: fmt.Sprintf("%v: %d", errBorrowerNotFound, req.BorrowerID),
			}, nil
		}
		attrs = borrower.Attributes()
	}

	offer, err := h.scorer.Offer(ctx, req.ProviderID, attrs)
	switch {
	case err == nil:
		return &OfferResponse{Status: "offered", Offer: offer}, nil
	case errors.Is(err, models.ErrNoTierMatch):
		return &OfferResponse{Status: "declined", Code: errorCode(err), Message: err.Error()}, nil
	case errors.Is(err, models.ErrRuleMisconfigured):
		return &OfferResponse{Status: "rejected", Code: errorCode(err), Message: err.Error()}, nil
	default:
		return nil, err
	}
}

// Close cleans up resources.
func (h *OfferHandler) Close() {
	if h.close != nil {
		h.close()
	}
}
