package valuation

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microlend-engine/internal/models"
)

var disbursed = time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

func money(s string) models.Money { return models.MustMoney(s) }

func intPtr(v int) *int { return &v }

// mockLoan creates an unpaid loan due durationDays after disbursement.
func mockLoan(principal string, durationDays int) *models.Loan {
	return &models.Loan{
		ID:           1,
		BorrowerID:   7,
		ProductID:    3,
		ProviderID:   11,
		Principal:    money(principal),
		DisbursedAt:  disbursed,
		DueDate:      disbursed.AddDate(0, 0, durationDays),
		RepaidAmount: decimal.Zero,
		Status:       models.RepaymentStatusUnpaid,
	}
}

// mockProduct creates a product with every fee type disabled.
func mockProduct() *models.LoanProduct {
	return &models.LoanProduct{
		ID:           3,
		ProviderID:   11,
		Name:         "Quick 30",
		Currency:     "usd",
		MinAmount:    money("100"),
		MaxAmount:    money("5000"),
		DurationDays: 30,
		Status:       models.ProductStatusActive,
	}
}

func TestTotalRepayable_ServiceFeeAtDueDate(t *testing.T) {
	loan := mockLoan("1000", 30)
	product := mockProduct()
	product.ServiceFeeEnabled = true
	product.ServiceFee = models.FeeRule{Kind: models.FeeKindPercentage, Amount: money("1.5")}

	total, err := NewEngine(DefaultTolerance).TotalRepayable(loan, product, nil, loan.DueDate)

	require.NoError(t, err)
	assert.Equal(t, "1015.00", total.StringFixed(2))
}

func TestTotalRepayable_SimpleDailyFeeOverdue(t *testing.T) {
	loan := mockLoan("500", 0)
	product := mockProduct()
	product.DailyFeeEnabled = true
	product.DailyFee = models.FeeRule{Kind: models.FeeKindPercentage, Amount: money("0.5"), Base: models.AccrualBasePrincipal}

	asOf := loan.DueDate.AddDate(0, 0, 10)
	v, err := NewEngine(DefaultTolerance).Value(loan, product, nil, asOf)

	require.NoError(t, err)
	assert.Equal(t, 10, v.DaysOverdue)
	assert.Equal(t, "25.00", v.DailyFee.StringFixed(2))
	assert.Equal(t, "525.00", v.Total.StringFixed(2))
}

func TestDailyFee_CompoundsOnOutstanding(t *testing.T) {
	loan := mockLoan("100", 30)
	product := mockProduct()
	product.DailyFeeEnabled = true
	product.DailyFee = models.FeeRule{Kind: models.FeeKindPercentage, Amount: money("10"), Base: models.AccrualBaseOutstanding}

	fee := FeeScheduleResolver{}.DailyFeeAccrued(loan, product, disbursed.AddDate(0, 0, 2))

	assert.Equal(t, "21.00", fee.StringFixed(2))
}

func TestDailyFee_CompoundingBaseIncludesServiceFee(t *testing.T) {
	loan := mockLoan("100", 30)
	product := mockProduct()
	product.ServiceFeeEnabled = true
	product.ServiceFee = models.FeeRule{Kind: models.FeeKindFixed, Amount: money("100")}
	product.DailyFeeEnabled = true
	product.DailyFee = models.FeeRule{Kind: models.FeeKindPercentage, Amount: money("10"), Base: models.AccrualBaseOutstanding}

	fee := FeeScheduleResolver{}.DailyFeeAccrued(loan, product, disbursed.AddDate(0, 0, 1))

	assert.Equal(t, "20.00", fee.StringFixed(2))
}

func TestDailyFee_FixedKindIgnoresBase(t *testing.T) {
	loan := mockLoan("100", 30)
	product := mockProduct()
	product.DailyFeeEnabled = true
	product.DailyFee = models.FeeRule{Kind: models.FeeKindFixed, Amount: money("1.25"), Base: models.AccrualBaseOutstanding}

	fee := FeeScheduleResolver{}.DailyFeeAccrued(loan, product, disbursed.AddDate(0, 0, 4))

	assert.Equal(t, "5.00", fee.StringFixed(2))
}

func TestDailyFee_PartialDaysTruncate(t *testing.T) {
	loan := mockLoan("1000", 30)
	product := mockProduct()
	product.DailyFeeEnabled = true
	product.DailyFee = models.FeeRule{Kind: models.FeeKindFixed, Amount: money("2")}
	fees := FeeScheduleResolver{}

	sameDayLate := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	nextDayEarly := time.Date(2026, 3, 2, 0, 5, 0, 0, time.UTC)
	beforeDisbursement := disbursed.AddDate(0, 0, -3)

	assert.True(t, fees.DailyFeeAccrued(loan, product, sameDayLate).IsZero())
	assert.Equal(t, "2.00", fees.DailyFeeAccrued(loan, product, nextDayEarly).StringFixed(2))
	assert.True(t, fees.DailyFeeAccrued(loan, product, beforeDisbursement).IsZero())
}

func TestPenalty_OneTimeChargedOnce(t *testing.T) {
	loan := mockLoan("1000", 30)
	product := mockProduct()
	product.PenaltyEnabled = true
	product.PenaltyTiers = []models.PenaltyTier{
		{FromDay: 1, Kind: models.PenaltyKindFixed, Amount: money("50"), Frequency: models.PenaltyFrequencyOneTime},
	}

	penalty := PenaltyEvaluator{}.PenaltyAccrued(loan, product, loan.DueDate.AddDate(0, 0, 5))

	assert.Equal(t, "50.00", penalty.StringFixed(2))
}

func TestPenalty_NothingUntilAfterDueDate(t *testing.T) {
	loan := mockLoan("1000", 30)
	product := mockProduct()
	product.PenaltyEnabled = true
	product.PenaltyTiers = []models.PenaltyTier{
		{FromDay: 1, Kind: models.PenaltyKindFixed, Amount: money("50"), Frequency: models.PenaltyFrequencyOneTime},
	}

	dueEvening := time.Date(loan.DueDate.Year(), loan.DueDate.Month(), loan.DueDate.Day(), 23, 0, 0, 0, time.UTC)

	assert.True(t, PenaltyEvaluator{}.PenaltyAccrued(loan, product, loan.DueDate).IsZero())
	assert.True(t, PenaltyEvaluator{}.PenaltyAccrued(loan, product, dueEvening).IsZero())
}

func TestPenalty_TiersAreSummed(t *testing.T) {
	loan := mockLoan("1000", 30)
	product := mockProduct()
	product.PenaltyEnabled = true
	product.PenaltyTiers = []models.PenaltyTier{
		{FromDay: 1, ToDay: intPtr(3), Kind: models.PenaltyKindFixed, Amount: money("10"), Frequency: models.PenaltyFrequencyDaily},
		{FromDay: 4, Kind: models.PenaltyKindFixed, Amount: money("20"), Frequency: models.PenaltyFrequencyDaily},
		{FromDay: 4, Kind: models.PenaltyKindPercentOfPrincipal, Amount: money("1"), Frequency: models.PenaltyFrequencyOneTime},
		{FromDay: 7, Kind: models.PenaltyKindFixed, Amount: money("500"), Frequency: models.PenaltyFrequencyOneTime},
	}
	evaluator := PenaltyEvaluator{}

	cases := []struct {
		daysOverdue int
		want        string
	}{
		{0, "0.00"},
		{1, "10.00"},
		{3, "30.00"},
		{4, "60.00"},  // 30 + 20 + 10
		{5, "80.00"},  // 30 + 40 + 10
		{7, "620.00"}, // 30 + 80 + 10 + 500
	}
	for _, tc := range cases {
		got := evaluator.PenaltyAccrued(loan, product, loan.DueDate.AddDate(0, 0, tc.daysOverdue))
		assert.Equal(t, tc.want, got.StringFixed(2), "days overdue %d", tc.daysOverdue)
	}
}

func TestPenalty_PercentOfOutstanding(t *testing.T) {
	loan := mockLoan("1000", 10)
	product := mockProduct()
	product.ServiceFeeEnabled = true
	product.ServiceFee = models.FeeRule{Kind: models.FeeKindFixed, Amount: money("50")}
	product.DailyFeeEnabled = true
	product.DailyFee = models.FeeRule{Kind: models.FeeKindFixed, Amount: money("5")}
	product.PenaltyEnabled = true
	product.PenaltyTiers = []models.PenaltyTier{
		{FromDay: 1, Kind: models.PenaltyKindPercentOfOutstanding, Amount: money("1"), Frequency: models.PenaltyFrequencyDaily},
	}

	// 12 days elapsed: daily fee 60, base 1000 + 50 + 60 = 1110, 1% for 2 days.
	penalty := PenaltyEvaluator{}.PenaltyAccrued(loan, product, loan.DueDate.AddDate(0, 0, 2))

	assert.Equal(t, "22.20", penalty.StringFixed(2))
}

func TestApplyTax(t *testing.T) {
	components := FeeComponents{ServiceFee: money("15"), DailyFee: money("100"), Penalty: money("50")}
	tax := &models.TaxConfig{
		Name:      "Excise",
		Rate:      money("16"),
		AppliedTo: []models.TaxComponent{models.TaxOnServiceFee, models.TaxOnPenalty},
		Active:    true,
	}

	assert.Equal(t, "10.40", TaxApplier{}.ApplyTax(components, tax).StringFixed(2))
	assert.True(t, TaxApplier{}.ApplyTax(components, nil).IsZero())

	tax.Active = false
	assert.True(t, TaxApplier{}.ApplyTax(components, tax).IsZero())
}

func fullyConfiguredProduct() *models.LoanProduct {
	product := mockProduct()
	product.ServiceFeeEnabled = true
	product.ServiceFee = models.FeeRule{Kind: models.FeeKindPercentage, Amount: money("2")}
	product.DailyFeeEnabled = true
	product.DailyFee = models.FeeRule{Kind: models.FeeKindPercentage, Amount: money("0.3"), Base: models.AccrualBaseOutstanding}
	product.PenaltyEnabled = true
	product.PenaltyTiers = []models.PenaltyTier{
		{FromDay: 1, ToDay: intPtr(7), Kind: models.PenaltyKindPercentOfOutstanding, Amount: money("0.5"), Frequency: models.PenaltyFrequencyDaily},
		{FromDay: 8, Kind: models.PenaltyKindFixed, Amount: money("25"), Frequency: models.PenaltyFrequencyOneTime},
	}
	return product
}

func TestTotalRepayable_MonotonicInAsOf(t *testing.T) {
	loan := mockLoan("750", 14)
	product := fullyConfiguredProduct()
	tax := &models.TaxConfig{Rate: money("15"), AppliedTo: []models.TaxComponent{models.TaxOnDailyFee, models.TaxOnPenalty}, Active: true}
	engine := NewEngine(DefaultTolerance)

	previous := decimal.Zero
	for hours := -48; hours <= 60*24; hours += 7 {
		asOf := disbursed.Add(time.Duration(hours) * time.Hour)
		total, err := engine.TotalRepayable(loan, product, tax, asOf)
		require.NoError(t, err)
		assert.True(t, total.GreaterThanOrEqual(previous), "total decreased at %s", asOf)
		previous = total
	}
}

func TestTotalRepayable_AllFeesDisabledIsPrincipal(t *testing.T) {
	loan := mockLoan("1234.56", 7)
	product := fullyConfiguredProduct()
	product.ServiceFeeEnabled = false
	product.DailyFeeEnabled = false
	product.PenaltyEnabled = false
	// Disabled fee types are never inspected, even if their config is junk.
	product.DailyFee = models.FeeRule{Kind: "weekly"}
	tax := &models.TaxConfig{Rate: money("16"), AppliedTo: []models.TaxComponent{models.TaxOnServiceFee}, Active: true}
	engine := NewEngine(DefaultTolerance)

	for _, days := range []int{0, 1, 7, 8, 45, 400} {
		total, err := engine.TotalRepayable(loan, product, tax, disbursed.AddDate(0, 0, days))
		require.NoError(t, err)
		assert.True(t, total.Equal(loan.Principal), "day %d: %s", days, total)
	}
}

func TestValue_IsIdempotentAndSideEffectFree(t *testing.T) {
	loan := mockLoan("900", 14)
	loan.RepaidAmount = money("100")
	product := fullyConfiguredProduct()
	before := *loan
	tiersBefore := len(product.PenaltyTiers)
	engine := NewEngine(DefaultTolerance)
	asOf := loan.DueDate.AddDate(0, 0, 9)

	first, err := engine.Value(loan, product, nil, asOf)
	require.NoError(t, err)
	second, err := engine.Value(loan, product, nil, asOf)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, *loan)
	assert.Len(t, product.PenaltyTiers, tiersBefore)
	assert.True(t, first.Outstanding.Equal(first.Total.Sub(money("100"))))
}

func TestValue_MisconfiguredProductFails(t *testing.T) {
	loan := mockLoan("900", 14)
	product := mockProduct()
	product.PenaltyEnabled = true
	product.PenaltyTiers = []models.PenaltyTier{
		{FromDay: 0, Kind: models.PenaltyKindFixed, Amount: money("5"), Frequency: models.PenaltyFrequencyDaily},
	}

	_, err := NewEngine(DefaultTolerance).Value(loan, product, nil, loan.DueDate)

	assert.True(t, errors.Is(err, models.ErrProductMisconfigured))
}

func TestValue_MissingProduct(t *testing.T) {
	_, err := NewEngine(DefaultTolerance).Value(mockLoan("10", 1), nil, nil, disbursed)
	assert.ErrorIs(t, err, models.ErrProductNotFound)

	_, err = NewEngine(DefaultTolerance).Value(nil, mockProduct(), nil, disbursed)
	assert.ErrorIs(t, err, models.ErrLoanNotFound)
}

func TestValue_PaidLoanStopsAccruing(t *testing.T) {
	loan := mockLoan("500", 5)
	product := fullyConfiguredProduct()
	engine := NewEngine(DefaultTolerance)

	settledAt := loan.DueDate.AddDate(0, 0, 3)
	atSettlement, err := engine.TotalRepayable(loan, product, nil, settledAt)
	require.NoError(t, err)

	loan.Status = models.RepaymentStatusPaid
	loan.SettledAt = &settledAt
	loan.RepaidAmount = atSettlement

	later, err := engine.Value(loan, product, nil, settledAt.AddDate(0, 2, 0))
	require.NoError(t, err)
	assert.True(t, later.Total.Equal(atSettlement))
	assert.True(t, later.Outstanding.IsZero())
	assert.True(t, engine.IsSettled(later.Total, loan.RepaidAmount))
}

func TestValidatePayment(t *testing.T) {
	engine := NewEngine(DefaultTolerance)
	v := &Valuation{Outstanding: money("525.00")}

	assert.NoError(t, engine.ValidatePayment(v, money("525.00")))
	assert.NoError(t, engine.ValidatePayment(v, money("525.01")))
	assert.NoError(t, engine.ValidatePayment(v, money("0.01")))
	assert.ErrorIs(t, engine.ValidatePayment(v, money("525.02")), models.ErrPaymentExceedsBalance)
	assert.ErrorIs(t, engine.ValidatePayment(v, decimal.Zero), models.ErrInvalidPaymentAmount)
	assert.ErrorIs(t, engine.ValidatePayment(v, money("-3")), models.ErrInvalidPaymentAmount)
}

func TestValidatePayment_ZeroToleranceIsExact(t *testing.T) {
	engine := NewEngine(decimal.Zero)
	v := &Valuation{Outstanding: money("100.00")}

	assert.NoError(t, engine.ValidatePayment(v, money("100.00")))
	assert.ErrorIs(t, engine.ValidatePayment(v, money("100.01")), models.ErrPaymentExceedsBalance)
	assert.False(t, engine.IsSettled(money("100.00"), money("99.99")))
}

func TestIsSettled(t *testing.T) {
	engine := NewEngine(DefaultTolerance)

	assert.True(t, engine.IsSettled(money("1015"), money("1015")))
	assert.True(t, engine.IsSettled(money("1015"), money("1014.99")))
	assert.False(t, engine.IsSettled(money("1015"), money("1014.98")))
}
