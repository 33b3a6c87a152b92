package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"microlend-engine/internal/services/collector"
	"microlend-engine/internal/services/database"
	"microlend-engine/internal/services/ledger"
	"microlend-engine/internal/services/payments"
	"microlend-engine/internal/services/ses"
	"microlend-engine/internal/utils"
)

// collectorRun is one scheduled pass over the loan book.
type collectorRun interface {
	Run(ctx context.Context) (*collector.RunSummary, error)
}

// summaryArchiver stores run summaries.
type summaryArchiver interface {
	UploadJSON(ctx context.Context, key string, v interface{}) error
}

// CollectorHandler runs a scheduled collector on an EventBridge schedule.
type CollectorHandler struct {
	name     string
	run      collectorRun
	archiver summaryArchiver
	push     func(ctx context.Context, name string) error
	close    func()
}

// NewNPLMarkerHandler wires the NPL marker against PostgreSQL. Borrowers are
// e-mailed through SES when a sender address is configured.
func NewNPLMarkerHandler(ctx context.Context) (*CollectorHandler, error) {
	rt, err := newRuntime(ctx)
	if err != nil {
		return nil, err
	}

	book := database.NewLoanBook(rt.db)
	marker := collector.NewNPLMarker(book, book, rt.engine, rt.publisher, collector.OptionsFromConfig(rt.cfg)).
		WithMetrics(rt.metrics)

	if rt.cfg.SESSenderEmail != "" {
		notifier, err := ses.NewService(ctx, rt.cfg.SESSenderEmail)
		if err != nil {
			rt.Close()
			return nil, err
		}
		marker.WithNotifications(database.NewBorrowerRepository(rt.db), notifier)
	}

	return newCollectorHandler(collector.NPLCollectorName, marker, rt), nil
}

// NewRepaymentSweepHandler wires the auto-repayment sweep against PostgreSQL
// and Stripe.
func NewRepaymentSweepHandler(ctx context.Context) (*CollectorHandler, error) {
	rt, err := newRuntime(ctx)
	if err != nil {
		return nil, err
	}
	if rt.cfg.StripeSecretKey == "" {
		rt.Close()
		return nil, errors.New("STRIPE_SECRET_KEY is required for the repayment sweep")
	}

	book := database.NewLoanBook(rt.db)
	poster := ledger.NewPoster(database.NewPostingStore(rt.db), rt.engine, rt.publisher)
	processor := payments.NewProcessor(
		database.NewPendingRepository(rt.db),
		book,
		payments.NewStripeGateway(rt.cfg.StripeSecretKey),
		poster,
		rt.cfg.Currency,
	)
	sweep := collector.NewRepaymentSweep(book, processor, rt.engine, collector.OptionsFromConfig(rt.cfg)).
		WithMetrics(rt.metrics)

	return newCollectorHandler(collector.RepaymentCollectorName, sweep, rt), nil
}

func newCollectorHandler(name string, run collectorRun, rt *runtime) *CollectorHandler {
	h := &CollectorHandler{
		name:  name,
		run:   run,
		push:  rt.pushMetrics,
		close: rt.Close,
	}
	if rt.archiver != nil {
		h.archiver = rt.archiver
	}
	return h
}

// Handle runs the collector once. Per-loan failures are reported in the
// summary; an error is returned only when the run itself could not finish.
func (h *CollectorHandler) Handle(ctx context.Context, event events.CloudWatchEvent) (*collector.RunSummary, error) {
	logger := utils.GetLogger()
	logger.Info("Collector triggered",
		zap.String("collector", h.name),
		zap.String("event_id", event.ID),
		zap.Time("scheduled_at", event.Time),
	)

	summary, runErr := h.run.Run(ctx)

	if h.archiver != nil && summary != nil {
		key := archiveKey(summary)
		if err := h.archiver.UploadJSON(ctx, key, summary); err != nil {
			logger.Warn("Failed to archive collector summary", zap.String("key", key), zap.Error(err))
		}
	}
	if h.push != nil {
		if err := h.push(ctx, h.name); err != nil {
			logger.Warn("Failed to push collector metrics", zap.Error(err))
		}
	}

	if runErr != nil {
		return summary, fmt.Errorf("%s run failed: %w", h.name, runErr)
	}
	return summary, nil
}

// Close cleans up resources.
func (h *CollectorHandler) Close() {
	if h.close != nil {
		h.close()
	}
}

func archiveKey(summary *collector.RunSummary) string {
	return fmt.Sprintf("collector-runs/%s/%s.json",
		summary.Collector, summary.StartedAt.UTC().Format("2006/01/02/150405"))
}
