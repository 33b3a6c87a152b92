package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"microlend-engine/internal/models"
)

const productColumns = `
	id, provider_id, name, currency, min_amount, max_amount, duration_days,
	service_fee, daily_fee, penalty_tiers,
	service_fee_enabled, daily_fee_enabled, penalty_enabled,
	status, created_at, updated_at`

// ProductRepository handles loan product database operations.
type ProductRepository struct {
	db *DB
}

// NewProductRepository creates a new product repository.
func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create inserts a new loan product and returns its id. The configuration is
// validated before it is stored.
func (r *ProductRepository) Create(ctx context.Context, product *models.LoanProduct) (int64, error) {
	if err := product.Validate(); err != nil {
		return 0, err
	}

	serviceFee, err := json.Marshal(product.ServiceFee)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal service fee: %w", err)
	}
	dailyFee, err := json.Marshal(product.DailyFee)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal daily fee: %w", err)
	}
	tiers := product.PenaltyTiers
	if tiers == nil {
		tiers = []models.PenaltyTier{}
	}
	penaltyTiers, err := json.Marshal(tiers)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal penalty tiers: %w", err)
	}

	query := `
		INSERT INTO loan_products (
			provider_id, name, currency, min_amount, max_amount, duration_days,
			service_fee, daily_fee, penalty_tiers,
			service_fee_enabled, daily_fee_enabled, penalty_enabled,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		RETURNING id`

	var id int64
	err = r.db.QueryRowContext(ctx, query,
		product.ProviderID,
		product.Name,
		product.Currency,
		product.MinAmount,
		product.MaxAmount,
		product.DurationDays,
		serviceFee,
		dailyFee,
		penaltyTiers,
		product.ServiceFeeEnabled,
		product.DailyFeeEnabled,
		product.PenaltyEnabled,
		string(product.Status),
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create loan product: %w", err)
	}

	return id, nil
}

// GetByID retrieves a loan product by its ID. Stored fee configuration is
// decoded and validated here, so callers never see a half-parsed product.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*models.LoanProduct, error) {
	return getProduct(ctx, r.db.pool, id)
}

func getProduct(ctx context.Context, q querier, id int64) (*models.LoanProduct, error) {
	query := `SELECT` + productColumns + ` FROM loan_products WHERE id = $1`

	product, err := scanProduct(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return product, nil
}

// GetAllActive retrieves all active loan products for a provider.
func (r *ProductRepository) GetAllActive(ctx context.Context, providerID int64) ([]*models.LoanProduct, error) {
	query := `SELECT` + productColumns + `
		FROM loan_products
		WHERE provider_id = $1 AND status = 'active'
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query loan products: %w", err)
	}
	defer rows.Close()

	var products []*models.LoanProduct
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}

	return products, rows.Err()
}

func scanProduct(row pgx.Row) (*models.LoanProduct, error) {
	var p models.LoanProduct
	var status string
	var serviceFee, dailyFee, penaltyTiers []byte

	err := row.Scan(
		&p.ID,
		&p.ProviderID,
		&p.Name,
		&p.Currency,
		&p.MinAmount,
		&p.MaxAmount,
		&p.DurationDays,
		&serviceFee,
		&dailyFee,
		&penaltyTiers,
		&p.ServiceFeeEnabled,
		&p.DailyFeeEnabled,
		&p.PenaltyEnabled,
		&status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan loan product: %w", err)
	}
	p.Status = models.ProductStatus(status)

	// Only enabled fee types must parse; a disabled fee may hold a stale blob.
	if p.ServiceFee, err = models.ParseFeeRule(serviceFee); err != nil && p.ServiceFeeEnabled {
		return nil, fmt.Errorf("product %d service fee: %w", p.ID, err)
	}
	if p.DailyFee, err = models.ParseFeeRule(dailyFee); err != nil && p.DailyFeeEnabled {
		return nil, fmt.Errorf("product %d daily fee: %w", p.ID, err)
	}
	if p.PenaltyTiers, err = models.ParsePenaltyTiers(penaltyTiers); err != nil && p.PenaltyEnabled {
		return nil, fmt.Errorf("product %d penalty tiers: %w", p.ID, err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("product %d: %w", p.ID, err)
	}
	return &p, nil
}
