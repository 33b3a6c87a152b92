package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"microlend-engine/internal/models"
)

const pendingColumns = `
	transaction_id, loan_id, amount, currency, status,
	COALESCE(gateway_ref, ''), COALESCE(failure_reason, ''), created_at, updated_at`

// PendingRepository stores gateway charges that may not be posted yet.
type PendingRepository struct {
	db *DB
}

// NewPendingRepository creates a new pending payment repository.
func NewPendingRepository(db *DB) *PendingRepository {
	return &PendingRepository{db: db}
}

// CreatePending records a pending charge. The transaction id is unique, and
// idx_pending_payments_one_open allows a single open charge per loan.
func (r *PendingRepository) CreatePending(ctx context.Context, p *models.PendingPayment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_payments (transaction_id, loan_id, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.TransactionID, p.LoanID, p.Amount, p.Currency, string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	if isOpenChargeConflict(err) {
		return fmt.Errorf("%w: loan %d", models.ErrChargeInFlight, p.LoanID)
	}
	if err != nil {
		return fmt.Errorf("failed to create pending payment: %w", err)
	}
	return nil
}

func isOpenChargeConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == uniqueViolation &&
		pgErr.ConstraintName == "idx_pending_payments_one_open"
}

// UpdatePending overwrites the status fields of a pending record.
func (r *PendingRepository) UpdatePending(ctx context.Context, p *models.PendingPayment) error {
	affected, err := r.db.ExecContext(ctx, `
		UPDATE pending_payments
		SET status = $2, gateway_ref = NULLIF($3, ''), failure_reason = NULLIF($4, ''), updated_at = $5
		WHERE transaction_id = $1`,
		p.TransactionID, string(p.Status), p.GatewayRef, p.FailureReason, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update pending payment: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", models.ErrPendingNotFound, p.TransactionID)
	}
	return nil
}

// GetPending returns a pending record by transaction id.
func (r *PendingRepository) GetPending(ctx context.Context, transactionID string) (*models.PendingPayment, error) {
	p, err := scanPending(r.db.QueryRowContext(ctx,
		`SELECT`+pendingColumns+` FROM pending_payments WHERE transaction_id = $1`, transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrPendingNotFound, transactionID)
	}
	return p, err
}

// OpenPendingForLoan returns the loan's unresolved pending charge, or nil.
func (r *PendingRepository) OpenPendingForLoan(ctx context.Context, loanID int64) (*models.PendingPayment, error) {
	p, err := scanPending(r.db.QueryRowContext(ctx, `SELECT`+pendingColumns+`
		FROM pending_payments
		WHERE loan_id = $1 AND status = 'pending'
		ORDER BY created_at
		LIMIT 1`, loanID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// ListStalePending returns pending records created before cutoff, oldest first.
func (r *PendingRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.PendingPayment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT`+pendingColumns+`
		FROM pending_payments
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending payments: %w", err)
	}
	defer rows.Close()

	var out []*models.PendingPayment
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPending(row pgx.Row) (*models.PendingPayment, error) {
	var p models.PendingPayment
	var status string

	err := row.Scan(&p.TransactionID, &p.LoanID, &p.Amount, &p.Currency, &status,
		&p.GatewayRef, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan pending payment: %w", err)
	}
	p.Status = models.PendingStatus(status)
	return &p, nil
}
