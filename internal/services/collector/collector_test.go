package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microlend-engine/internal/models"
	"microlend-engine/internal/services/ledger"
	"microlend-engine/internal/services/memstore"
	"microlend-engine/internal/services/payments"
	"microlend-engine/internal/services/ses"
	"microlend-engine/internal/services/valuation"
)

const (
	goodProduct   int64 = 1
	brokenProduct int64 = 2
)

var runAt = time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)

func newBook() *memstore.Store {
	store := memstore.New()
	store.PutProduct(&models.LoanProduct{
		ID:                goodProduct,
		ProviderID:        11,
		DurationDays:      30,
		ServiceFee:        models.FeeRule{Kind: models.FeeKindPercentage, Amount: models.MustMoney("1.5")},
		ServiceFeeEnabled: true,
		Status:            models.ProductStatusActive,
	})
	store.PutProduct(&models.LoanProduct{
		ID:                brokenProduct,
		ProviderID:        11,
		ServiceFee:        models.FeeRule{Kind: "weekly", Amount: models.MustMoney("2")},
		ServiceFeeEnabled: true,
		Status:            models.ProductStatusActive,
	})
	return store
}

// loanDue adds an unpaid 1000 loan due daysAgo days before runAt.
func loanDue(store *memstore.Store, id int64, daysAgo int, productID int64, mutate ...func(*models.Loan)) {
	due := runAt.AddDate(0, 0, -daysAgo)
	loan := &models.Loan{
		ID:           id,
		BorrowerID:   100 + id,
		ProductID:    productID,
		ProviderID:   11,
		Principal:    models.MustMoney("1000"),
		DisbursedAt:  due.AddDate(0, 0, -30),
		DueDate:      due,
		RepaidAmount: decimal.Zero,
		Status:       models.RepaymentStatusUnpaid,
	}
	for _, fn := range mutate {
		fn(loan)
	}
	store.PutLoan(loan)
}

func withMandate(customer string) func(*models.Loan) {
	return func(l *models.Loan) {
		l.GatewayCustomerID = customer
		l.GatewayPaymentMethodID = "pm_" + customer
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.LoanEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e models.LoanEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []ses.NPLNoticeParams
}

func (n *recordingNotifier) SendNPLNotice(_ context.Context, params ses.NPLNoticeParams) (*ses.SendEmailResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, params)
	return &ses.SendEmailResult{MessageID: "m"}, nil
}

func newMarker(store *memstore.Store, publisher *recordingPublisher, notifier *recordingNotifier, metrics *Metrics) *NPLMarker {
	m := NewNPLMarker(store, store, valuation.NewEngine(valuation.DefaultTolerance), publisher, Options{
		Concurrency:      4,
		PageSize:         2,
		NPLThresholdDays: 30,
		Currency:         "usd",
	}).WithNotifications(store, notifier).WithMetrics(metrics)
	m.now = func() time.Time { return runAt }
	return m
}

func TestNPLMarker_MarksOverdueLoansAndIsolatesFailures(t *testing.T) {
	store := newBook()
	loanDue(store, 1, 31, goodProduct)
	loanDue(store, 2, 10, goodProduct)
	loanDue(store, 3, 45, goodProduct, func(l *models.Loan) { l.NonPerforming = true })
	loanDue(store, 4, 60, goodProduct, func(l *models.Loan) { l.Status = models.RepaymentStatusPaid })
	loanDue(store, 5, 40, brokenProduct)
	loanDue(store, 6, 30, goodProduct)
	store.PutBorrower(101, "one@example.com")

	publisher := &recordingPublisher{}
	notifier := &recordingNotifier{}
	metrics := NewMetrics(prometheus.NewRegistry())

	summary, err := newMarker(store, publisher, notifier, metrics).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, NPLCollectorName, summary.Collector)
	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, int64(5), summary.Errors[0].LoanID)

	for id, want := range map[int64]bool{1: true, 2: false, 6: true} {
		loan, err := store.GetLoan(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, loan.NonPerforming, "loan %d", id)
	}

	// Only loan 1's borrower has an address on file.
	require.Len(t, notifier.notices, 1)
	assert.Equal(t, "one@example.com", notifier.notices[0].Email)
	assert.Equal(t, "1015.00", notifier.notices[0].Outstanding.StringFixed(2))

	require.Len(t, publisher.events, 2)
	for _, e := range publisher.events {
		assert.Equal(t, models.EventLoanMarkedNPL, e.Type)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.loans.WithLabelValues(NPLCollectorName, "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.loans.WithLabelValues(NPLCollectorName, "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues(NPLCollectorName, "ok")))
}

func TestNPLMarker_SecondRunMarksNothing(t *testing.T) {
	store := newBook()
	loanDue(store, 1, 31, goodProduct)
	store.PutBorrower(101, "one@example.com")
	publisher := &recordingPublisher{}
	notifier := &recordingNotifier{}
	marker := newMarker(store, publisher, notifier, nil)

	_, err := marker.Run(context.Background())
	require.NoError(t, err)
	summary, err := marker.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Succeeded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Len(t, notifier.notices, 1)
	assert.Len(t, publisher.events, 1)
}

func TestNPLMarker_SettledBalanceIsNotMarked(t *testing.T) {
	store := newBook()
	loanDue(store, 1, 40, goodProduct, func(l *models.Loan) { l.RepaidAmount = models.MustMoney("1014.995") })

	summary, err := newMarker(store, &recordingPublisher{}, &recordingNotifier{}, nil).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	loan, err := store.GetLoan(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, loan.NonPerforming)
}

type failingBook struct {
	*memstore.Store
}

func (failingBook) ListUnpaidLoans(context.Context, int64, int) ([]*models.Loan, error) {
	return nil, errors.New("connection refused")
}

func TestNPLMarker_ListFailureEndsRun(t *testing.T) {
	store := newBook()
	metrics := NewMetrics(prometheus.NewRegistry())
	marker := NewNPLMarker(failingBook{store}, store, valuation.NewEngine(valuation.DefaultTolerance), nil, Options{}).WithMetrics(metrics)

	summary, err := marker.Run(context.Background())

	assert.ErrorContains(t, err, "connection refused")
	require.NotNil(t, summary)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues(NPLCollectorName, "error")))
}

func TestSweep_RecoversPanics(t *testing.T) {
	store := newBook()
	loanDue(store, 1, 1, goodProduct)
	loanDue(store, 2, 1, goodProduct)
	summary := &RunSummary{Collector: "test"}

	err := sweep(context.Background(), store, Options{}.withDefaults(), summary, func(_ context.Context, loan *models.Loan) (itemResult, error) {
		if loan.ID == 1 {
			panic("boom")
		}
		return itemSucceeded, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Errors[0].Error, "boom")
}

// scriptedGateway succeeds for every customer except those listed in declines.
type scriptedGateway struct {
	mu       sync.Mutex
	declines map[string]string
	charges  []payments.ChargeRequest
	lookup   *payments.ChargeResult
}

func (g *scriptedGateway) Charge(_ context.Context, req payments.ChargeRequest) (*payments.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, req)
	if reason, ok := g.declines[req.CustomerID]; ok {
		return &payments.ChargeResult{Status: payments.ChargeFailed, FailureReason: reason}, nil
	}
	return &payments.ChargeResult{Status: payments.ChargeSucceeded, GatewayRef: "pi_" + req.TransactionID}, nil
}

func (g *scriptedGateway) Lookup(_ context.Context, ref string) (*payments.ChargeResult, error) {
	r := *g.lookup
	r.GatewayRef = ref
	return &r, nil
}

func newSweep(store *memstore.Store, gw payments.Gateway) *RepaymentSweep {
	engine := valuation.NewEngine(valuation.DefaultTolerance)
	poster := ledger.NewPoster(store, engine, nil).WithClock(func() time.Time { return runAt })
	processor := payments.NewProcessor(store, store, gw, poster, "usd")
	s := NewRepaymentSweep(store, processor, engine, Options{Concurrency: 2, PageSize: 10})
	s.now = func() time.Time { return runAt }
	return s
}

func TestRepaymentSweep_ChargesDueLoans(t *testing.T) {
	store := newBook()
	loanDue(store, 1, 0, goodProduct, withMandate("cus_ok"))
	loanDue(store, 2, -5, goodProduct, withMandate("cus_early"))
	loanDue(store, 3, 3, goodProduct)
	loanDue(store, 4, 2, goodProduct, withMandate("cus_broke"))
	gw := &scriptedGateway{declines: map[string]string{"cus_broke": "insufficient_funds"}}

	summary, err := newSweep(store, gw).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, RepaymentCollectorName, summary.Collector)
	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, int64(4), summary.Errors[0].LoanID)
	assert.Contains(t, summary.Errors[0].Error, "insufficient_funds")
	require.NotNil(t, summary.Recovery)
	assert.Equal(t, 0, summary.Recovery.Examined)

	require.Len(t, gw.charges, 2)
	paid, err := store.GetLoan(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, paid.IsPaid())
	assert.Len(t, store.Payments(1), 1)
	assert.Empty(t, store.Payments(4))
}

func TestRepaymentSweep_RecoversPendingBeforeCharging(t *testing.T) {
	store := newBook()
	loanDue(store, 1, 1, goodProduct, withMandate("cus_ok"))
	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.CreatePending(context.Background(), &models.PendingPayment{
		TransactionID: "tx-stale",
		LoanID:        1,
		Amount:        models.MustMoney("1015"),
		Currency:      "usd",
		Status:        models.PendingStatusPending,
		GatewayRef:    "pi_stale",
		CreatedAt:     stale,
		UpdatedAt:     stale,
	}))
	gw := &scriptedGateway{lookup: &payments.ChargeResult{Status: payments.ChargeSucceeded}}

	summary, err := newSweep(store, gw).Run(context.Background())

	require.NoError(t, err)
	require.NotNil(t, summary.Recovery)
	assert.Equal(t, 1, summary.Recovery.Posted)
	assert.Equal(t, 0, summary.Processed)
	assert.Empty(t, gw.charges)

	posted := store.Payments(1)
	require.Len(t, posted, 1)
	assert.Equal(t, "tx-stale", posted[0].TransactionID)
}

func TestRepaymentSweep_SkipsLoanWithChargeInFlight(t *testing.T) {
	store := newBook()
	loanDue(store, 1, 1, goodProduct, withMandate("cus_ok"))
	now := time.Now().UTC()
	require.NoError(t, store.CreatePending(context.Background(), &models.PendingPayment{
		TransactionID: "tx-fresh",
		LoanID:        1,
		Amount:        models.MustMoney("1015"),
		Status:        models.PendingStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
	gw := &scriptedGateway{}

	summary, err := newSweep(store, gw).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Empty(t, gw.charges)
}
