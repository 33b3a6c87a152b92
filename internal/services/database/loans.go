package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"microlend-engine/internal/models"
)

const loanColumns = `
	id, borrower_id, product_id, provider_id, principal, disbursed_at, due_date,
	repaid_amount, status, settled_at,
	COALESCE(gateway_customer_id, ''), COALESCE(gateway_payment_method_id, ''),
	non_performing, created_at, updated_at`

// LoanRepository handles loan database operations.
type LoanRepository struct {
	db *DB
}

// NewLoanRepository creates a new loan repository.
func NewLoanRepository(db *DB) *LoanRepository {
	return &LoanRepository{db: db}
}

// Create inserts a disbursed loan and returns its id.
func (r *LoanRepository) Create(ctx context.Context, loan *models.Loan) (int64, error) {
	query := `
		INSERT INTO loans (
			borrower_id, product_id, provider_id, principal, disbursed_at, due_date,
			repaid_amount, status, gateway_customer_id, gateway_payment_method_id,
			non_performing, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), false, $11, $11)
		RETURNING id`

	status := loan.Status
	if status == "" {
		status = models.RepaymentStatusUnpaid
	}

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		loan.BorrowerID,
		loan.ProductID,
		loan.ProviderID,
		loan.Principal,
		loan.DisbursedAt,
		loan.DueDate,
		loan.RepaidAmount,
		string(status),
		loan.GatewayCustomerID,
		loan.GatewayPaymentMethodID,
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create loan: %w", err)
	}

	return id, nil
}

// GetLoan retrieves a loan by its ID.
func (r *LoanRepository) GetLoan(ctx context.Context, id int64) (*models.Loan, error) {
	loan, err := scanLoan(r.db.QueryRowContext(ctx, `SELECT`+loanColumns+` FROM loans WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrLoanNotFound, id)
	}
	return loan, err
}

// ListUnpaidLoans pages through unpaid loans in id order, starting after afterID.
func (r *LoanRepository) ListUnpaidLoans(ctx context.Context, afterID int64, limit int) ([]*models.Loan, error) {
	query := `SELECT` + loanColumns + `
		FROM loans
		WHERE status = 'unpaid' AND id > $1
		ORDER BY id
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpaid loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}

	return loans, rows.Err()
}

// MarkNonPerforming flags the loan. It reports false when the loan was
// already flagged.
func (r *LoanRepository) MarkNonPerforming(ctx context.Context, loanID int64, at time.Time) (bool, error) {
	affected, err := r.db.ExecContext(ctx, `
		UPDATE loans
		SET non_performing = true, non_performing_at = $2, updated_at = $2
		WHERE id = $1 AND non_performing = false`,
		loanID, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark loan %d non-performing: %w", loanID, err)
	}
	return affected == 1, nil
}

func scanLoan(row pgx.Row) (*models.Loan, error) {
	var l models.Loan
	var status string

	err := row.Scan(
		&l.ID,
		&l.BorrowerID,
		&l.ProductID,
		&l.ProviderID,
		&l.Principal,
		&l.DisbursedAt,
		&l.DueDate,
		&l.RepaidAmount,
		&status,
		&l.SettledAt,
		&l.GatewayCustomerID,
		&l.GatewayPaymentMethodID,
		&l.NonPerforming,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan loan: %w", err)
	}

	l.Status = models.RepaymentStatus(status)
	l.DisbursedAt = l.DisbursedAt.UTC()
	l.DueDate = l.DueDate.UTC()
	if l.SettledAt != nil {
		settled := l.SettledAt.UTC()
		l.SettledAt = &settled
	}
	return &l, nil
}

// TaxRepository reads the global tax configuration.
type TaxRepository struct {
	db *DB
}

// NewTaxRepository creates a new tax repository.
func NewTaxRepository(db *DB) *TaxRepository {
	return &TaxRepository{db: db}
}

// GetActiveTax returns the active tax configuration, or nil when none is active.
func (r *TaxRepository) GetActiveTax(ctx context.Context) (*models.TaxConfig, error) {
	return getActiveTax(ctx, r.db.pool)
}

func getActiveTax(ctx context.Context, q querier) (*models.TaxConfig, error) {
	var t models.TaxConfig
	var applied []string

	err := q.QueryRow(ctx, `
		SELECT id, name, rate, applied_to, active
		FROM tax_configs
		WHERE active = true
		LIMIT 1`,
	).Scan(&t.ID, &t.Name, &t.Rate, &applied, &t.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tax configuration: %w", err)
	}

	for _, a := range applied {
		t.AppliedTo = append(t.AppliedTo, models.TaxComponent(a))
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoanBook combines the repositories the scheduled collectors read and write.
type LoanBook struct {
	*LoanRepository
	*TaxRepository
	products *ProductRepository
}

// NewLoanBook creates a loan book over db.
func NewLoanBook(db *DB) *LoanBook {
	return &LoanBook{
		LoanRepository: NewLoanRepository(db),
		TaxRepository:  NewTaxRepository(db),
		products:       NewProductRepository(db),
	}
}

// GetProduct retrieves a validated product by its ID.
func (b *LoanBook) GetProduct(ctx context.Context, productID int64) (*models.LoanProduct, error) {
	return b.products.GetByID(ctx, productID)
}
