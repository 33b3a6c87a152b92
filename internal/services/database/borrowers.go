package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"microlend-engine/internal/models"
)

// BorrowerRepository handles borrower database operations.
type BorrowerRepository struct {
	db *DB
}

// NewBorrowerRepository creates a new borrower repository.
func NewBorrowerRepository(db *DB) *BorrowerRepository {
	return &BorrowerRepository{db: db}
}

// Create inserts or refreshes a borrower keyed by external id.
func (r *BorrowerRepository) Create(ctx context.Context, b *models.Borrower) (int64, error) {
	query := `
		INSERT INTO borrowers (external_id, email, monthly_income, credit_score, employment_status, age, created_at, updated_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, true)
		ON CONFLICT (external_id) DO UPDATE SET
			email = EXCLUDED.email,
			monthly_income = EXCLUDED.monthly_income,
			credit_score = EXCLUDED.credit_score,
			employment_status = EXCLUDED.employment_status,
			age = EXCLUDED.age,
			updated_at = EXCLUDED.updated_at
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		b.ExternalID,
		b.Email,
		b.MonthlyIncome,
		b.CreditScore,
		string(models.NormalizeEmploymentStatus(string(b.EmploymentStatus))),
		b.Age,
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create borrower: %w", err)
	}

	return id, nil
}

// GetByID retrieves a borrower by their database ID. Returns nil when missing.
func (r *BorrowerRepository) GetByID(ctx context.Context, id int64) (*models.Borrower, error) {
	query := `
		SELECT id, external_id, email, monthly_income, credit_score, employment_status, age, created_at, updated_at, is_active
		FROM borrowers
		WHERE id = $1`

	var b models.Borrower
	var empStatus string

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&b.ID,
		&b.ExternalID,
		&b.Email,
		&b.MonthlyIncome,
		&b.CreditScore,
		&empStatus,
		&b.Age,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get borrower: %w", err)
	}

	b.EmploymentStatus = models.EmploymentStatus(empStatus)
	return &b, nil
}

// BorrowerEmail returns the borrower's contact address, empty when unknown.
func (r *BorrowerRepository) BorrowerEmail(ctx context.Context, borrowerID int64) (string, error) {
	var email string
	err := r.db.QueryRowContext(ctx,
		"SELECT email FROM borrowers WHERE id = $1 AND is_active = true", borrowerID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get borrower email: %w", err)
	}
	return email, nil
}
