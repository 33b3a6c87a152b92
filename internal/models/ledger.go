package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType is the role of a ledger account.
type AccountType string

const (
	AccountTypeReceivable AccountType = "receivable"
	AccountTypeReceived   AccountType = "received"
	AccountTypeIncome     AccountType = "income"
)

// Category is the loan component a ledger account tracks.
type Category string

const (
	CategoryPrincipal  Category = "principal"
	CategoryInterest   Category = "interest"
	CategoryServiceFee Category = "service_fee"
	CategoryPenalty    Category = "penalty"
	CategoryTax        Category = "tax"
)

// IsIncome reports whether settling the category earns the provider income.
func (c Category) IsIncome() bool {
	switch c {
	case CategoryInterest, CategoryServiceFee, CategoryPenalty:
		return true
	}
	return false
}

// Direction is the side of a ledger entry.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// AccountKey identifies a ledger account.
type AccountKey struct {
	ProviderID int64       `json:"provider_id"`
	Type       AccountType `json:"type"`
	Category   Category    `json:"category"`
}

func (k AccountKey) String() string {
	return fmt.Sprintf("%d:%s:%s", k.ProviderID, k.Type, k.Category)
}

// LedgerAccount holds a running balance. Debits increase it, credits decrease it.
type LedgerAccount struct {
	Key       AccountKey `json:"key"`
	Balance   Money      `json:"balance"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// LedgerEntry is one side of a journal entry.
type LedgerEntry struct {
	ID             string     `json:"id" db:"id"`
	JournalEntryID string     `json:"journal_entry_id" db:"journal_entry_id"`
	Account        AccountKey `json:"account"`
	Direction      Direction  `json:"direction" db:"direction"`
	Amount         Money      `json:"amount" db:"amount"`
}

// JournalEntry groups ledger entries that must balance.
type JournalEntry struct {
	ID          string        `json:"id" db:"id"`
	ProviderID  int64         `json:"provider_id" db:"provider_id"`
	LoanID      int64         `json:"loan_id" db:"loan_id"`
	PaymentID   string        `json:"payment_id" db:"payment_id"`
	Category    Category      `json:"category" db:"category"`
	Description string        `json:"description" db:"description"`
	Date        time.Time     `json:"date" db:"date"`
	Entries     []LedgerEntry `json:"entries"`
}

// Totals returns the summed debit and credit amounts.
func (j *JournalEntry) Totals() (debits, credits Money) {
	debits, credits = decimal.Zero, decimal.Zero
	for _, e := range j.Entries {
		if e.Direction == Debit {
			debits = debits.Add(e.Amount)
		} else {
			credits = credits.Add(e.Amount)
		}
	}
	return debits, credits
}

// Validate checks that every amount is positive and that debits equal credits.
func (j *JournalEntry) Validate() error {
	if len(j.Entries) < 2 {
		return fmt.Errorf("%w: journal %s has %d entries", ErrUnbalancedJournal, j.ID, len(j.Entries))
	}
	for _, e := range j.Entries {
		if !e.Amount.IsPositive() {
			return fmt.Errorf("%w: non-positive amount %s", ErrUnbalancedJournal, e.Amount)
		}
		if e.Direction != Debit && e.Direction != Credit {
			return fmt.Errorf("%w: unknown direction %q", ErrUnbalancedJournal, e.Direction)
		}
	}
	debits, credits := j.Totals()
	if !debits.Equal(credits) {
		return fmt.Errorf("%w: debits=%s credits=%s", ErrUnbalancedJournal, debits, credits)
	}
	return nil
}
