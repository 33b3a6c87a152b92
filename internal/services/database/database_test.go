package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microlend-engine/internal/models"
	"microlend-engine/internal/services/ledger"
	"microlend-engine/internal/services/valuation"
)

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, isRetryable(errors.Join(errors.New("commit"), &pgconn.PgError{Code: "40P01"})))
	assert.False(t, isRetryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isRetryable(errors.New("connection reset")))
}

func TestIsOpenChargeConflict(t *testing.T) {
	assert.True(t, isOpenChargeConflict(&pgconn.PgError{Code: "23505", ConstraintName: "idx_pending_payments_one_open"}))
	assert.False(t, isOpenChargeConflict(&pgconn.PgError{Code: "23505", ConstraintName: "pending_payments_pkey"}))
	assert.False(t, isOpenChargeConflict(&pgconn.PgError{Code: "40001"}))
	assert.False(t, isOpenChargeConflict(nil))
}

// testDB connects to DATABASE_URL or skips. The schema from
// scripts/init_database.sql must already be applied.
func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping database integration tests")
	}
	db, err := NewFromURL(url)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func seedLoan(t *testing.T, db *DB) (*models.Loan, int64) {
	t.Helper()
	ctx := context.Background()
	providerID := time.Now().UnixNano() % 1_000_000_000

	borrowerID, err := NewBorrowerRepository(db).Create(ctx, &models.Borrower{
		ExternalID:       "it-" + uuid.NewString()[:8],
		Email:            "borrower@example.com",
		MonthlyIncome:    4200,
		CreditScore:      710,
		EmploymentStatus: "Salaried",
		Age:              31,
	})
	require.NoError(t, err)

	productID, err := NewProductRepository(db).Create(ctx, &models.LoanProduct{
		ProviderID:        providerID,
		Name:              "Integration 30",
		Currency:          "usd",
		MinAmount:         models.MustMoney("50"),
		MaxAmount:         models.MustMoney("5000"),
		DurationDays:      30,
		ServiceFee:        models.FeeRule{Kind: models.FeeKindPercentage, Amount: models.MustMoney("1.5")},
		ServiceFeeEnabled: true,
		Status:            models.ProductStatusActive,
	})
	require.NoError(t, err)

	disbursed := time.Now().UTC().AddDate(0, 0, -30).Truncate(time.Second)
	loan := &models.Loan{
		BorrowerID:   borrowerID,
		ProductID:    productID,
		ProviderID:   providerID,
		Principal:    models.MustMoney("1000"),
		DisbursedAt:  disbursed,
		DueDate:      disbursed.AddDate(0, 0, 30),
		RepaidAmount: models.MustMoney("0"),
	}
	loan.ID, err = NewLoanRepository(db).Create(ctx, loan)
	require.NoError(t, err)
	return loan, providerID
}

func TestProductRepository_DecodesFeeConfiguration(t *testing.T) {
	db := testDB(t)
	loan, _ := seedLoan(t, db)

	product, err := NewProductRepository(db).GetByID(context.Background(), loan.ProductID)

	require.NoError(t, err)
	assert.Equal(t, models.FeeKindPercentage, product.ServiceFee.Kind)
	assert.Equal(t, "1.5", product.ServiceFee.Amount.String())
	assert.False(t, product.DailyFeeEnabled)
}

func TestProductRepository_MissingProduct(t *testing.T) {
	db := testDB(t)

	_, err := NewProductRepository(db).GetByID(context.Background(), -1)

	assert.ErrorIs(t, err, models.ErrProductNotFound)
}

func TestPostingStore_PostsAndIsIdempotent(t *testing.T) {
	db := testDB(t)
	loan, providerID := seedLoan(t, db)
	ctx := context.Background()
	poster := ledger.NewPoster(NewPostingStore(db), valuation.NewEngine(valuation.DefaultTolerance), nil)
	req := ledger.PaymentRequest{
		LoanID:        loan.ID,
		Amount:        models.MustMoney("1015"),
		TransactionID: "it-" + uuid.NewString(),
	}

	first, err := poster.PostPayment(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.Loan.IsPaid())
	require.Len(t, first.JournalEntries, 2)

	second, err := poster.PostPayment(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Len(t, second.JournalEntries, 2)

	stored, err := NewLoanRepository(db).GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsPaid())
	assert.Equal(t, "1015.00", stored.RepaidAmount.StringFixed(2))

	balance, err := NewAccountRepository(db).Balance(ctx, models.AccountKey{
		ProviderID: providerID,
		Type:       models.AccountTypeIncome,
		Category:   models.CategoryServiceFee,
	})
	require.NoError(t, err)
	assert.Equal(t, "-15.00", balance.StringFixed(2))
}

func TestPostingStore_RejectsOverpayment(t *testing.T) {
	db := testDB(t)
	loan, _ := seedLoan(t, db)
	poster := ledger.NewPoster(NewPostingStore(db), valuation.NewEngine(valuation.DefaultTolerance), nil)

	_, err := poster.PostPayment(context.Background(), ledger.PaymentRequest{
		LoanID: loan.ID,
		Amount: models.MustMoney("1015.02"),
	})

	assert.ErrorIs(t, err, models.ErrPaymentExceedsBalance)
	stored, err := NewLoanRepository(db).GetLoan(context.Background(), loan.ID)
	require.NoError(t, err)
	assert.True(t, stored.RepaidAmount.IsZero())
}

func TestPendingRepository_Lifecycle(t *testing.T) {
	db := testDB(t)
	loan, _ := seedLoan(t, db)
	repo := NewPendingRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	p := &models.PendingPayment{
		TransactionID: "it-" + uuid.NewString(),
		LoanID:        loan.ID,
		Amount:        models.MustMoney("25"),
		Currency:      "usd",
		Status:        models.PendingStatusPending,
		CreatedAt:     now.Add(-time.Hour),
		UpdatedAt:     now.Add(-time.Hour),
	}
	require.NoError(t, repo.CreatePending(ctx, p))

	open, err := repo.OpenPendingForLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, p.TransactionID, open.TransactionID)

	p.Status = models.PendingStatusFailed
	p.FailureReason = "card_declined"
	p.UpdatedAt = now
	require.NoError(t, repo.UpdatePending(ctx, p))

	got, err := repo.GetPending(ctx, p.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.PendingStatusFailed, got.Status)
	assert.Equal(t, "card_declined", got.FailureReason)

	_, err = repo.GetPending(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, models.ErrPendingNotFound)
}

func TestProductRepository_GetAllActive(t *testing.T) {
	db := testDB(t)
	loan, providerID := seedLoan(t, db)

	products, err := NewProductRepository(db).GetAllActive(context.Background(), providerID)

	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, loan.ProductID, products[0].ID)
	assert.True(t, products[0].IsActive())
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := testDB(t)
	loan, _ := seedLoan(t, db)
	ctx := context.Background()
	txID := "it-" + uuid.NewString()

	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO pending_payments (transaction_id, loan_id, amount, currency, status)
			VALUES ($1, $2, 10, 'usd', 'failed')`, txID, loan.ID); err != nil {
			return err
		}
		return errors.New("abort")
	})

	require.EqualError(t, err, "abort")
	_, err = NewPendingRepository(db).GetPending(ctx, txID)
	assert.ErrorIs(t, err, models.ErrPendingNotFound)
}

func TestPendingRepository_OneOpenChargePerLoan(t *testing.T) {
	db := testDB(t)
	loan, _ := seedLoan(t, db)
	repo := NewPendingRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	pending := func() *models.PendingPayment {
		return &models.PendingPayment{
			TransactionID: "it-" + uuid.NewString(),
			LoanID:        loan.ID,
			Amount:        models.MustMoney("1015"),
			Currency:      "usd",
			Status:        models.PendingStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	first := pending()
	require.NoError(t, repo.CreatePending(ctx, first))
	err := repo.CreatePending(ctx, pending())
	assert.ErrorIs(t, err, models.ErrChargeInFlight)

	first.Status = models.PendingStatusFailed
	first.UpdatedAt = now
	require.NoError(t, repo.UpdatePending(ctx, first))
	assert.NoError(t, repo.CreatePending(ctx, pending()))
}

func TestPostingStore_RejectsPaymentDatedBeforeLatest(t *testing.T) {
	db := testDB(t)
	loan, _ := seedLoan(t, db)
	ctx := context.Background()
	poster := ledger.NewPoster(NewPostingStore(db), valuation.NewEngine(valuation.DefaultTolerance), nil)

	_, err := poster.PostPayment(ctx, ledger.PaymentRequest{LoanID: loan.ID, Amount: models.MustMoney("100")})
	require.NoError(t, err)

	_, err = poster.PostPayment(ctx, ledger.PaymentRequest{
		LoanID: loan.ID,
		Amount: models.MustMoney("100"),
		PaidAt: loan.DisbursedAt.Add(time.Hour),
	})

	assert.ErrorIs(t, err, models.ErrInvalidPaymentDate)
	stored, err := NewLoanRepository(db).GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", stored.RepaidAmount.StringFixed(2))
}
