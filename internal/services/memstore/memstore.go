// Package memstore keeps the whole loan book in memory. It backs tests and
// local runs, and implements the same contracts as the PostgreSQL adapter.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"microlend-engine/internal/models"
	"microlend-engine/internal/services/ledger"
)

// Store is an in-memory loan book.
type Store struct {
	mu       sync.RWMutex
	loans    map[int64]*models.Loan
	products map[int64]*models.LoanProduct
	tax      *models.TaxConfig

	payments   map[string]*models.Payment // by transaction id
	journal    []*models.JournalEntry
	accounts   map[models.AccountKey]*models.LedgerAccount
	pending    map[string]*models.PendingPayment
	borrowers  map[int64]string
	parameters map[int64][]models.ScoringParameter
	tiers      map[int64][]models.LoanLimitTier
	failCommit error

	locksMu   sync.Mutex
	loanLocks map[int64]*sync.Mutex
}

// New creates an empty store.
func New() *Store {
	return &Store{
		loans:      make(map[int64]*models.Loan),
		products:   make(map[int64]*models.LoanProduct),
		payments:   make(map[string]*models.Payment),
		accounts:   make(map[models.AccountKey]*models.LedgerAccount),
		pending:    make(map[string]*models.PendingPayment),
		borrowers:  make(map[int64]string),
		parameters: make(map[int64][]models.ScoringParameter),
		tiers:      make(map[int64][]models.LoanLimitTier),
		loanLocks:  make(map[int64]*sync.Mutex),
	}
}

// PutLoan stores a copy of the loan.
func (s *Store) PutLoan(loan *models.Loan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loans[loan.ID] = loan.Clone()
}

// PutProduct stores a product.
func (s *Store) PutProduct(product *models.LoanProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *product
	s.products[product.ID] = &p
}

// SetTax replaces the active tax configuration. nil clears it.
func (s *Store) SetTax(tax *models.TaxConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tax = tax
}

// PutBorrower records a borrower's contact e-mail.
func (s *Store) PutBorrower(borrowerID int64, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.borrowers[borrowerID] = email
}

// FailNextCommit makes the next unit of work fail at commit with err. The
// staged writes are discarded.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
}

// GetLoan returns a copy of the loan.
func (s *Store) GetLoan(_ context.Context, loanID int64) (*models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loan, ok := s.loans[loanID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrLoanNotFound, loanID)
	}
	return loan.Clone(), nil
}

// GetProduct returns the product after validating its configuration.
func (s *Store) GetProduct(_ context.Context, productID int64) (*models.LoanProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.product(productID)
}

func (s *Store) product(productID int64) (*models.LoanProduct, error) {
	p, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, productID)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	c := *p
	return &c, nil
}

// GetActiveTax returns the active tax configuration after validating it, or nil.
func (s *Store) GetActiveTax(context.Context) (*models.TaxConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tax == nil || !s.tax.Active {
		return nil, nil
	}
	if err := s.tax.Validate(); err != nil {
		return nil, err
	}
	t := *s.tax
	return &t, nil
}

// ListUnpaidLoans pages through unpaid loans in id order, starting after afterID.
func (s *Store) ListUnpaidLoans(_ context.Context, afterID int64, limit int) ([]*models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.loans))
	for id, loan := range s.loans {
		if id > afterID && !loan.IsPaid() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]*models.Loan, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.loans[id].Clone())
	}
	return out, nil
}

// MarkNonPerforming flags the loan as non-performing. It reports false when
// the loan was already flagged.
func (s *Store) MarkNonPerforming(_ context.Context, loanID int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loan, ok := s.loans[loanID]
	if !ok {
		return false, fmt.Errorf("%w: %d", models.ErrLoanNotFound, loanID)
	}
	if loan.NonPerforming {
		return false, nil
	}
	loan.NonPerforming = true
	loan.UpdatedAt = at
	return true, nil
}

// BorrowerEmail returns the borrower's contact address, empty when unknown.
func (s *Store) BorrowerEmail(_ context.Context, borrowerID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.borrowers[borrowerID], nil
}

// Payments returns every posted payment for the loan in posting order.
func (s *Store) Payments(loanID int64) []*models.Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Payment
	for _, p := range s.payments {
		if p.LoanID == loanID {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// JournalEntries returns every journal entry posted for the loan.
func (s *Store) JournalEntries(loanID int64) []*models.JournalEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.JournalEntry
	for _, e := range s.journal {
		if e.LoanID == loanID {
			out = append(out, e)
		}
	}
	return out
}

// Account returns the account balance, zero when the account does not exist.
func (s *Store) Account(key models.AccountKey) models.Money {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[key]; ok {
		return a.Balance
	}
	return decimal.Zero
}

// Accounts returns a snapshot of every ledger account.
func (s *Store) Accounts() []models.LedgerAccount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.LedgerAccount, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *a)
	}
	return out
}

func (s *Store) loanLock(loanID int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if _, ok := s.loanLocks[loanID]; !ok {
		s.loanLocks[loanID] = &sync.Mutex{}
	}
	return s.loanLocks[loanID]
}

// RunInTx implements ledger.Store. The loan's mutex is held for the whole
// unit of work and writes are staged until fn succeeds.
func (s *Store) RunInTx(ctx context.Context, loanID int64, fn func(tx ledger.Tx) error) error {
	lock := s.loanLock(loanID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{store: s, movements: make(map[models.AccountKey]models.Money)}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCommit != nil {
		err := s.failCommit
		s.failCommit = nil
		return fmt.Errorf("failed to commit: %w", err)
	}
	for _, p := range tx.payments {
		if _, dup := s.payments[p.TransactionID]; dup {
			return fmt.Errorf("duplicate transaction id %s", p.TransactionID)
		}
	}

	for _, p := range tx.payments {
		s.payments[p.TransactionID] = p
	}
	if tx.loan != nil {
		s.loans[tx.loan.ID] = tx.loan
	}
	s.journal = append(s.journal, tx.journal...)
	now := time.Now().UTC()
	for key, delta := range tx.movements {
		acct, ok := s.accounts[key]
		if !ok {
			acct = &models.LedgerAccount{Key: key, Balance: decimal.Zero}
			s.accounts[key] = acct
		}
		acct.Balance = acct.Balance.Add(delta)
		acct.UpdatedAt = now
	}
	return nil
}

// memTx stages writes for one unit of work.
type memTx struct {
	store     *Store
	loan      *models.Loan
	payments  []*models.Payment
	journal   []*models.JournalEntry
	movements map[models.AccountKey]models.Money
}

func (t *memTx) LockLoan(ctx context.Context, loanID int64) (*models.Loan, error) {
	if t.loan != nil && t.loan.ID == loanID {
		return t.loan.Clone(), nil
	}
	return t.store.GetLoan(ctx, loanID)
}

func (t *memTx) GetProduct(ctx context.Context, productID int64) (*models.LoanProduct, error) {
	return t.store.GetProduct(ctx, productID)
}

func (t *memTx) GetActiveTax(ctx context.Context) (*models.TaxConfig, error) {
	return t.store.GetActiveTax(ctx)
}

func (t *memTx) FindPayment(_ context.Context, transactionID string) (*models.Payment, error) {
	for _, p := range t.payments {
		if p.TransactionID == transactionID {
			return p, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if p, ok := t.store.payments[transactionID]; ok {
		c := *p
		return &c, nil
	}
	return nil, nil
}

func (t *memTx) JournalEntriesForPayment(_ context.Context, paymentID string) ([]*models.JournalEntry, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	var out []*models.JournalEntry
	for _, e := range t.store.journal {
		if e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) LatestPayment(_ context.Context, loanID int64) (*models.Payment, error) {
	var latest *models.Payment
	pick := func(p *models.Payment) {
		if p.LoanID == loanID && (latest == nil || p.PaidAt.After(latest.PaidAt)) {
			c := *p
			latest = &c
		}
	}
	for _, p := range t.payments {
		pick(p)
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, p := range t.store.payments {
		pick(p)
	}
	return latest, nil
}

func (t *memTx) InsertPayment(_ context.Context, payment *models.Payment) error {
	c := *payment
	t.payments = append(t.payments, &c)
	return nil
}

func (t *memTx) UpdateLoanRepayment(_ context.Context, loan *models.Loan) error {
	t.loan = loan.Clone()
	return nil
}

func (t *memTx) InsertJournalEntry(_ context.Context, entry *models.JournalEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	t.journal = append(t.journal, entry)
	return nil
}

func (t *memTx) ApplyAccountMovement(_ context.Context, key models.AccountKey, delta models.Money) error {
	current, ok := t.movements[key]
	if !ok {
		current = decimal.Zero
	}
	t.movements[key] = current.Add(delta)
	return nil
}
