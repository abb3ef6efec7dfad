// Package report computes reporting buckets, balance timelines and per-bucket
// net worth and cash flow.
package report

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/bobmcallan/tally/internal/timeline"
)

// Compile-time interface check
var _ interfaces.ReportService = (*Service)(nil)

// Service implements ReportService
type Service struct {
	store  interfaces.Store
	logger *common.Logger
}

// NewService creates a new report service
func NewService(store interfaces.Store, logger *common.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// ComputeIntervals partitions [start, end] into at most maxIntervals buckets,
// or by the fixed span policy when no maximum is given.
func (s *Service) ComputeIntervals(start, end time.Time, maxIntervals models.Option[int]) (models.Intervals, error) {
	if n, ok := maxIntervals.Get(); ok {
		return timeline.GetIntervals(start, end, n)
	}
	return timeline.GetFixedIntervals(start, end)
}

// BalanceTimeline merges the snapshots of the given accounts (all accounts
// when empty) into one timeline.
func (s *Service) BalanceTimeline(ctx context.Context, accountIDs []string) ([]models.BalanceInterval, error) {
	var out []models.BalanceInterval
	err := s.read(ctx, func(tx interfaces.Tx) error {
		snapshots, err := tx.ListDailyBalances(ctx, interfaces.DailyBalanceFilter{AccountIDs: accountIDs})
		if err != nil {
			return fmt.Errorf("list balances: %w", err)
		}
		out = timeline.BuildBalanceTimeline(snapshots)
		return nil
	})
	return out, err
}

// NetWorth reports the combined balance of all accounts at the end of each bucket.
func (s *Service) NetWorth(ctx context.Context, start, end time.Time, maxIntervals models.Option[int]) ([]models.NetWorthPoint, error) {
	intervals, err := s.ComputeIntervals(start, end, maxIntervals)
	if err != nil {
		return nil, err
	}
	if len(intervals.Buckets) == 0 {
		return nil, nil
	}
	window, err := s.window(ctx, intervals.Buckets[0].Start, intervals.Buckets[len(intervals.Buckets)-1].End)
	if err != nil {
		return nil, err
	}

	out := make([]models.NetWorthPoint, len(intervals.Buckets))
	for i, b := range intervals.Buckets {
		out[i] = models.NetWorthPoint{DateInterval: b, Balance: timeline.BalanceAt(window, b.End)}
	}
	return out, nil
}

// DailyNetWorth reports the combined balance of all accounts for every day
// in [start, end].
func (s *Service) DailyNetWorth(ctx context.Context, start, end time.Time) ([]models.BalanceInterval, error) {
	if models.Day(end).Before(models.Day(start)) {
		return nil, common.Validationf("end %s is before start %s", models.FormatDate(end), models.FormatDate(start))
	}
	window, err := s.window(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return timeline.ToDailyIntervals(window)
}

// window is the merged timeline of all accounts cut to [start, end].
func (s *Service) window(ctx context.Context, start, end time.Time) ([]models.BalanceInterval, error) {
	merged, err := s.BalanceTimeline(ctx, nil)
	if err != nil {
		return nil, err
	}
	return timeline.ToFixedPeriod(merged, start, end), nil
}

// CashFlow totals processed income and expenses per bucket. Transfers move
// money between own accounts and are left out.
func (s *Service) CashFlow(ctx context.Context, start, end time.Time, maxIntervals models.Option[int]) ([]models.CashFlowBucket, error) {
	intervals, err := s.ComputeIntervals(start, end, maxIntervals)
	if err != nil {
		return nil, err
	}

	var txns []*models.Transaction
	err = s.read(ctx, func(tx interfaces.Tx) error {
		txns, err = tx.ListTransactions(ctx, interfaces.TransactionFilter{
			Processed: models.Some(true),
			From:      models.Some(models.Day(start)),
			To:        models.Some(models.Day(end)),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	out := make([]models.CashFlowBucket, len(intervals.Buckets))
	for i, b := range intervals.Buckets {
		out[i] = models.CashFlowBucket{DateInterval: b, Income: decimal.Zero, Expense: decimal.Zero}
	}
	for _, t := range txns {
		i, _ := slices.BinarySearchFunc(intervals.Buckets, t.Date, func(b models.DateInterval, d time.Time) int {
			if b.End.Before(d) {
				return -1
			}
			if b.Start.After(d) {
				return 1
			}
			return 0
		})
		if i >= len(out) {
			continue
		}
		switch t.Type {
		case models.TransactionIncome:
			out[i].Income = out[i].Income.Add(t.Amount)
		case models.TransactionExpense:
			out[i].Expense = out[i].Expense.Add(t.Amount.Abs())
		}
	}
	for i := range out {
		out[i].Net = out[i].Income.Sub(out[i].Expense)
	}
	return out, nil
}

func (s *Service) read(ctx context.Context, fn func(tx interfaces.Tx) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}
