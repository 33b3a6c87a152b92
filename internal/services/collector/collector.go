// Package collector runs the scheduled passes over the loan book: marking
// non-performing loans and attempting automatic repayment. Each loan is an
// independent unit of work; one loan failing never stops the sweep.
package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"microlend-engine/internal/config"
	"microlend-engine/internal/models"
	"microlend-engine/internal/utils"
)

// LoanBook is the read side of the loan book a collector sweeps.
type LoanBook interface {
	ListUnpaidLoans(ctx context.Context, afterID int64, limit int) ([]*models.Loan, error)
	GetProduct(ctx context.Context, productID int64) (*models.LoanProduct, error)
	GetActiveTax(ctx context.Context) (*models.TaxConfig, error)
}

// Options tunes a collector run.
type Options struct {
	Concurrency        int
	PageSize           int
	NPLThresholdDays   int
	PendingRecoveryAge time.Duration
	Currency           string
}

// OptionsFromConfig builds Options from application configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Concurrency:        cfg.SweepConcurrency,
		PageSize:           cfg.SweepPageSize,
		NPLThresholdDays:   cfg.NPLThresholdDays,
		PendingRecoveryAge: cfg.PendingRecoveryAge,
		Currency:           cfg.Currency,
	}
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.PageSize <= 0 {
		o.PageSize = 500
	}
	if o.NPLThresholdDays <= 0 {
		o.NPLThresholdDays = 30
	}
	if o.PendingRecoveryAge <= 0 {
		o.PendingRecoveryAge = 15 * time.Minute
	}
	return o
}

// LoanError records why one loan failed during a run.
type LoanError struct {
	LoanID int64  `json:"loan_id"`
	Error  string `json:"error"`
}

// RunSummary aggregates the per-loan results of a collector run.
type RunSummary struct {
	Collector  string      `json:"collector"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Processed  int         `json:"processed"`
	Succeeded  int         `json:"succeeded"`
	Skipped    int         `json:"skipped"`
	Failed     int         `json:"failed"`
	Errors     []LoanError `json:"errors,omitempty"`

	// Recovery is set by the repayment sweep.
	Recovery *RecoveryCounts `json:"recovery,omitempty"`

	mu sync.Mutex
}

// RecoveryCounts mirrors the pending-charge recovery that precedes a sweep.
type RecoveryCounts struct {
	Examined       int    `json:"examined"`
	Posted         int    `json:"posted"`
	Failed         int    `json:"failed"`
	RequiresReview int    `json:"requires_review"`
	StillPending   int    `json:"still_pending"`
	Errors         int    `json:"errors"`
	Error          string `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (s *RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

type itemResult int

const (
	itemSucceeded itemResult = iota
	itemSkipped
)

func (s *RunSummary) record(loanID int64, result itemResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Processed++
	switch {
	case err != nil:
		s.Failed++
		s.Errors = append(s.Errors, LoanError{LoanID: loanID, Error: err.Error()})
	case result == itemSkipped:
		s.Skipped++
	default:
		s.Succeeded++
	}
}

// sweep pages through every unpaid loan and runs fn on each with bounded
// concurrency. Errors and panics from fn are recorded against the loan. Only
// a failure to list the book ends the run early.
func sweep(ctx context.Context, book LoanBook, opts Options, summary *RunSummary, fn func(context.Context, *models.Loan) (itemResult, error)) error {
	logger := utils.GetLogger()
	var afterID int64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		loans, err := book.ListUnpaidLoans(ctx, afterID, opts.PageSize)
		if err != nil {
			return fmt.Errorf("failed to list unpaid loans after %d: %w", afterID, err)
		}
		if len(loans) == 0 {
			return nil
		}

		var g errgroup.Group
		g.SetLimit(opts.Concurrency)
		for _, loan := range loans {
			loan := loan
			g.Go(func() error {
				result, err := runItem(ctx, loan, fn)
				if err != nil {
					logger.Warn("Collector item failed",
						zap.String("collector", summary.Collector),
						zap.Int64("loan_id", loan.ID),
						zap.Error(err),
					)
				}
				summary.record(loan.ID, result, err)
				return nil
			})
		}
		_ = g.Wait()

		afterID = loans[len(loans)-1].ID
		if len(loans) < opts.PageSize {
			return nil
		}
	}
}

func runItem(ctx context.Context, loan *models.Loan, fn func(context.Context, *models.Loan) (itemResult, error)) (result itemResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, loan)
}

// productCache memoises product lookups for the duration of one run.
type productCache struct {
	book     LoanBook
	mu       sync.Mutex
	products map[int64]*models.LoanProduct
}

func newProductCache(book LoanBook) *productCache {
	return &productCache{book: book, products: make(map[int64]*models.LoanProduct)}
}

func (c *productCache) get(ctx context.Context, productID int64) (*models.LoanProduct, error) {
	c.mu.Lock()
	p, ok := c.products[productID]
	c.mu.Unlock()
	if ok {
		return p, nil
	}

	p, err := c.book.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.products[productID] = p
	c.mu.Unlock()
	return p, nil
}

func finish(summary *RunSummary, now time.Time, metrics *Metrics, runErr error) {
	summary.FinishedAt = now
	metrics.Observe(summary, runErr)

	utils.GetLogger().Info("Collector run complete",
		zap.String("collector", summary.Collector),
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration()),
		zap.Error(runErr),
	)
}
