package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"microlend-engine/internal/models"
	"microlend-engine/internal/services/ledger"
)

// PostingStore runs payment postings as serializable transactions.
type PostingStore struct {
	db *DB
}

// NewPostingStore creates a posting store.
func NewPostingStore(db *DB) *PostingStore {
	return &PostingStore{db: db}
}

// RunInTx implements ledger.Store. The loan row is locked with FOR UPDATE by
// LockLoan and conflicting transactions are retried.
func (s *PostingStore) RunInTx(ctx context.Context, _ int64, fn func(tx ledger.Tx) error) error {
	return s.db.WithSerializableTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&postingTx{tx: tx})
	})
}

type postingTx struct {
	tx pgx.Tx
}

func (t *postingTx) LockLoan(ctx context.Context, loanID int64) (*models.Loan, error) {
	loan, err := scanLoan(t.tx.QueryRow(ctx, `SELECT`+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, loanID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrLoanNotFound, loanID)
	}
	return loan, err
}

func (t *postingTx) GetProduct(ctx context.Context, productID int64) (*models.LoanProduct, error) {
	return getProduct(ctx, t.tx, productID)
}

func (t *postingTx) GetActiveTax(ctx context.Context) (*models.TaxConfig, error) {
	return getActiveTax(ctx, t.tx)
}

const paymentColumns = `
	id, loan_id, transaction_id, amount, outstanding_before, source, paid_at, created_at`

func (t *postingTx) FindPayment(ctx context.Context, transactionID string) (*models.Payment, error) {
	p, err := scanPayment(t.tx.QueryRow(ctx, `SELECT`+paymentColumns+` FROM payments WHERE transaction_id = $1`, transactionID))
	if err != nil {
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return p, nil
}

func (t *postingTx) LatestPayment(ctx context.Context, loanID int64) (*models.Payment, error) {
	p, err := scanPayment(t.tx.QueryRow(ctx, `
		SELECT`+paymentColumns+`
		FROM payments
		WHERE loan_id = $1
		ORDER BY paid_at DESC, created_at DESC
		LIMIT 1`,
		loanID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find latest payment: %w", err)
	}
	return p, nil
}

// scanPayment returns nil without error when the row does not exist.
func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	var source string

	err := row.Scan(&p.ID, &p.LoanID, &p.TransactionID, &p.Amount, &p.OutstandingBefore, &source, &p.PaidAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.Source = models.PaymentSource(source)
	return &p, nil
}

func (t *postingTx) JournalEntriesForPayment(ctx context.Context, paymentID string) ([]*models.JournalEntry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT j.id, j.provider_id, j.loan_id, j.payment_id, j.category, j.description, j.entry_date,
			e.id, e.account_type, e.category, e.direction, e.amount
		FROM journal_entries j
		JOIN ledger_entries e ON e.journal_entry_id = j.id
		WHERE j.payment_id = $1
		ORDER BY j.seq, e.seq`,
		paymentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal entries: %w", err)
	}
	defer rows.Close()

	var out []*models.JournalEntry
	byID := make(map[string]*models.JournalEntry)
	for rows.Next() {
		var j models.JournalEntry
		var e models.LedgerEntry
		var category, accountType, entryCategory, direction string

		if err := rows.Scan(
			&j.ID, &j.ProviderID, &j.LoanID, &j.PaymentID, &category, &j.Description, &j.Date,
			&e.ID, &accountType, &entryCategory, &direction, &e.Amount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}

		entry, ok := byID[j.ID]
		if !ok {
			j.Category = models.Category(category)
			entry = &j
			byID[j.ID] = entry
			out = append(out, entry)
		}
		e.JournalEntryID = entry.ID
		e.Direction = models.Direction(direction)
		e.Account = models.AccountKey{
			ProviderID: entry.ProviderID,
			Type:       models.AccountType(accountType),
			Category:   models.Category(entryCategory),
		}
		entry.Entries = append(entry.Entries, e)
	}

	return out, rows.Err()
}

func (t *postingTx) InsertPayment(ctx context.Context, p *models.Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments (id, loan_id, transaction_id, amount, outstanding_before, source, paid_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.LoanID, p.TransactionID, p.Amount, p.OutstandingBefore, string(p.Source), p.PaidAt, p.CreatedAt,
	)
	return err
}

func (t *postingTx) UpdateLoanRepayment(ctx context.Context, loan *models.Loan) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE loans
		SET repaid_amount = $2, status = $3, settled_at = $4, updated_at = $5, version = version + 1
		WHERE id = $1`,
		loan.ID, loan.RepaidAmount, string(loan.Status), loan.SettledAt, loan.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: %d", models.ErrLoanNotFound, loan.ID)
	}
	return nil
}

func (t *postingTx) InsertJournalEntry(ctx context.Context, j *models.JournalEntry) error {
	if err := j.Validate(); err != nil {
		return err
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO journal_entries (id, provider_id, loan_id, payment_id, category, description, entry_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		j.ID, j.ProviderID, j.LoanID, j.PaymentID, string(j.Category), j.Description, j.Date, time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, e := range j.Entries {
		batch.Queue(`
			INSERT INTO ledger_entries (id, journal_entry_id, provider_id, account_type, category, direction, amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, j.ID, e.Account.ProviderID, string(e.Account.Type), string(e.Account.Category), string(e.Direction), e.Amount,
		)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *postingTx) ApplyAccountMovement(ctx context.Context, key models.AccountKey, delta models.Money) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_accounts (provider_id, account_type, category, balance, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_id, account_type, category) DO UPDATE SET
			balance = ledger_accounts.balance + EXCLUDED.balance,
			updated_at = EXCLUDED.updated_at`,
		key.ProviderID, string(key.Type), string(key.Category), delta, time.Now().UTC(),
	)
	return err
}

// AccountRepository reads ledger account balances.
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new account repository.
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Balance returns an account's running balance, zero when it has none yet.
func (r *AccountRepository) Balance(ctx context.Context, key models.AccountKey) (models.Money, error) {
	var balance models.Money
	err := r.db.QueryRowContext(ctx, `
		SELECT balance FROM ledger_accounts
		WHERE provider_id = $1 AND account_type = $2 AND category = $3`,
		key.ProviderID, string(key.Type), string(key.Category),
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Money{}, nil
	}
	if err != nil {
		return models.Money{}, fmt.Errorf("failed to get balance of %s: %w", key, err)
	}
	return balance, nil
}
