// Package periodic runs the scheduled processing batch: due transactions are
// applied and recurring templates are expanded, in one atomic commit.
package periodic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/bobmcallan/tally/internal/storage"
)

// Compile-time interface check
var _ interfaces.PeriodicProcessor = (*Service)(nil)

// Service implements PeriodicProcessor
type Service struct {
	store      interfaces.Store
	processor  interfaces.TransactionProcessor
	recurrence interfaces.RecurrenceService
	logger     *common.Logger
	retries    int
	now        func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithConflictRetries sets how many times a conflicting batch is rerun.
func WithConflictRetries(n int) ServiceOption {
	return func(s *Service) { s.retries = n }
}

// NewService creates a new periodic processor
func NewService(store interfaces.Store, proc interfaces.TransactionProcessor, recurrence interfaces.RecurrenceService, logger *common.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		processor:  proc,
		recurrence: recurrence,
		logger:     logger,
		retries:    common.DefaultConflictRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// skippable reports whether a per-item failure leaves the rest of the batch valid.
func skippable(err error) bool {
	return errors.Is(err, common.ErrObsolete) || errors.Is(err, common.ErrNotFound)
}

// RunBatch applies every eligible transaction and expands every active
// template. Re-running it is harmless: processed state is never reapplied.
func (s *Service) RunBatch(ctx context.Context) (*models.BatchResult, error) {
	start := time.Now()
	today := models.Day(s.now())
	s.logger.Info().Str("today", models.FormatDate(today)).Msg("Periodic processing started")

	var result models.BatchResult
	attempts := 0
	err := storage.Run(ctx, s.store, s.retries, s.logger, models.JobProcessTransactions, func(ctx context.Context, tx interfaces.Tx) error {
		attempts++
		result = models.BatchResult{}
		if err := s.applyDue(ctx, tx, today, &result); err != nil {
			return err
		}
		if err := s.expandTemplates(ctx, tx, today, &result); err != nil {
			return err
		}
		s.rolloverBudgets(today)
		return nil
	})
	result.Attempts = attempts
	result.Duration = time.Since(start)
	if err != nil {
		s.logger.Error().Err(err).Int("attempts", attempts).Msg("Periodic processing failed")
		return nil, err
	}

	s.logger.Info().
		Int("applied", result.Applied).
		Int("templates", result.TemplatesSeen).
		Int("instances", result.InstancesCreated).
		Int("skipped", result.Skipped).
		Int("attempts", attempts).
		Dur("elapsed", result.Duration).
		Msg("Periodic processing complete")
	return &result, nil
}

func (s *Service) applyDue(ctx context.Context, tx interfaces.Tx, today time.Time, result *models.BatchResult) error {
	due, err := tx.ListTransactions(ctx, interfaces.TransactionFilter{
		Processed: models.Some(false),
		To:        models.Some(today),
	})
	if err != nil {
		return fmt.Errorf("list due transactions: %w", err)
	}

	for _, t := range due {
		if !t.IsEligible(today) {
			continue
		}
		if err := s.processor.Apply(ctx, tx, t); err != nil {
			if skippable(err) {
				result.Skipped++
				s.logger.Warn().Str("transaction", t.ID).Err(err).Msg("Skipping transaction")
				continue
			}
			return fmt.Errorf("apply transaction %s: %w", t.ID, err)
		}
		result.Applied++
	}
	return nil
}

func (s *Service) expandTemplates(ctx context.Context, tx interfaces.Tx, today time.Time, result *models.BatchResult) error {
	templates, err := tx.ListRecurringTransactions(ctx, interfaces.RecurringTransactionFilter{
		Finished:          models.Some(false),
		StartedOnOrBefore: models.Some(today),
	})
	if err != nil {
		return fmt.Errorf("list recurring transactions: %w", err)
	}

	for _, r := range templates {
		result.TemplatesSeen++
		created, err := s.recurrence.Expand(ctx, tx, r, today)
		if err != nil {
			if skippable(err) {
				result.Skipped++
				s.logger.Warn().Str("template", r.ID).Err(err).Msg("Skipping recurring transaction")
				continue
			}
			return fmt.Errorf("expand recurring transaction %s: %w", r.ID, err)
		}
		result.InstancesCreated += len(created)
	}
	return nil
}

// rolloverBudgets carries unspent recurring budgets into the next period.
// Recurring budgets are not modelled yet, so there is nothing to roll over.
func (s *Service) rolloverBudgets(today time.Time) {
	s.logger.Debug().Str("today", models.FormatDate(today)).Msg("Budget rollover: nothing to do")
}
