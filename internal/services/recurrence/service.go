// Package recurrence expands recurring templates into concrete transactions.
package recurrence

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/bobmcallan/tally/internal/services/processor"
	"github.com/bobmcallan/tally/internal/storage"
)

// Compile-time interface check
var _ interfaces.RecurrenceService = (*Service)(nil)

// Service implements RecurrenceService
type Service struct {
	store     interfaces.Store
	processor interfaces.TransactionProcessor
	logger    *common.Logger
	retries   int
	now       func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithConflictRetries sets the attempt budget of Create.
func WithConflictRetries(n int) ServiceOption {
	return func(s *Service) { s.retries = n }
}

// NewService creates a new recurrence service
func NewService(store interfaces.Store, proc interfaces.TransactionProcessor, logger *common.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		processor: proc,
		logger:    logger,
		retries:   common.DefaultConflictRetries,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// cursor is the date of the next occurrence to materialize.
func cursor(r *models.RecurringTransaction) (time.Time, bool) {
	if next, ok := r.NextOccurrence.Get(); ok {
		return next, true
	}
	if r.LastOccurrence.IsNone() {
		return r.StartDate, true
	}
	return time.Time{}, false
}

// Expand materializes every occurrence dated on or before today. Instances
// that need no confirmation are applied at once. The template is updated in tx.
func (s *Service) Expand(ctx context.Context, tx interfaces.Tx, r *models.RecurringTransaction, today time.Time) ([]*models.Transaction, error) {
	if r.Finished {
		return nil, common.Invariantf("recurring transaction %q is finished", r.ID)
	}
	if r.Interval <= 0 || !r.IntervalUnit.Valid() {
		return nil, common.Invariantf("recurring transaction %q has invalid interval %d %s", r.ID, r.Interval, r.IntervalUnit)
	}
	if err := processor.CheckReferences(ctx, tx, processor.References{
		AccountID:          r.AccountID,
		CategoryID:         r.CategoryID,
		ReceivingAccountID: r.ReceivingAccountID,
	}); err != nil {
		return nil, err
	}

	today = models.Day(today)
	var created []*models.Transaction
	for !r.Finished {
		next, ok := cursor(r)
		if !ok || next.After(today) {
			break
		}

		t := instance(r, next)
		if err := tx.Add(t); err != nil {
			return nil, err
		}
		if !t.NeedsConfirmation {
			if err := s.processor.Apply(ctx, tx, t); err != nil {
				return nil, fmt.Errorf("apply occurrence %s of %s: %w", models.FormatDate(next), r.ID, err)
			}
		}
		created = append(created, t)
		advance(r, next)
	}

	if len(created) > 0 {
		if err := tx.Update(r); err != nil {
			return nil, err
		}
		s.logger.Debug().Str("template", r.ID).Int("instances", len(created)).
			Bool("finished", r.Finished).Msg("Recurring transaction expanded")
	}
	return created, nil
}

// advance moves the cursor past occurred. A candidate beyond EndDate
// finishes the template for good.
func advance(r *models.RecurringTransaction, occurred time.Time) {
	r.LastOccurrence = models.Some(occurred)
	candidate := r.IntervalUnit.AddTo(occurred, r.Interval)
	if end, ok := r.EndDate.Get(); ok && candidate.After(end) {
		r.NextOccurrence = models.None[time.Time]()
		r.Finished = true
		return
	}
	r.NextOccurrence = models.Some(candidate)
}

func instance(r *models.RecurringTransaction, date time.Time) *models.Transaction {
	requests := slices.Clone(r.PaymentRequests)
	for i := range requests {
		requests[i].ID = uuid.NewString()
		requests[i].PaidCount = 0
	}
	return &models.Transaction{
		ID:                     uuid.NewString(),
		Type:                   r.Type,
		AccountID:              r.AccountID,
		CategoryID:             r.CategoryID,
		ReceivingAccountID:     r.ReceivingAccountID,
		Amount:                 r.Amount,
		Description:            r.Description,
		Date:                   date,
		NeedsConfirmation:      r.NeedsConfirmation,
		RecurringTransactionID: models.Some(r.ID),
		PaymentRequests:        requests,
	}
}

// Create validates and stores a template, then expands it up to today in
// the same unit of work.
func (s *Service) Create(ctx context.Context, req models.NewRecurringTransaction) (*models.RecurringTransaction, error) {
	if req.Interval <= 0 {
		return nil, common.Validationf("interval must be positive, got %d", req.Interval)
	}
	if !req.IntervalUnit.Valid() {
		return nil, common.Validationf("unknown interval unit %q", req.IntervalUnit)
	}
	start := models.Day(req.StartDate)
	end := models.None[time.Time]()
	if e, ok := req.EndDate.Get(); ok {
		e = models.Day(e)
		if e.Before(start) {
			return nil, common.Validationf("end date %s is before start date %s", models.FormatDate(e), models.FormatDate(start))
		}
		end = models.Some(e)
	}
	if id, ok := req.ReceivingAccountID.Get(); ok && id == req.AccountID {
		return nil, common.Validationf("a transfer needs two different accounts")
	}

	var out *models.RecurringTransaction
	err := storage.Run(ctx, s.store, s.retries, s.logger, "create recurring transaction", func(ctx context.Context, tx interfaces.Tx) error {
		var category *models.Category
		if id, ok := req.CategoryID.Get(); ok {
			c, err := tx.GetCategory(ctx, id, true)
			if err != nil {
				return err
			}
			category = c
		}
		txType, err := models.DeriveTransactionType(category, req.ReceivingAccountID)
		if err != nil {
			return common.Validationf("%v", err)
		}
		if err := txType.CheckAmount(req.Amount); err != nil {
			return common.Validationf("%v", err)
		}

		r := &models.RecurringTransaction{
			ID:                 uuid.NewString(),
			Type:               txType,
			AccountID:          req.AccountID,
			CategoryID:         req.CategoryID,
			ReceivingAccountID: req.ReceivingAccountID,
			Amount:             req.Amount,
			Description:        req.Description,
			StartDate:          start,
			EndDate:            end,
			NextOccurrence:     models.Some(start),
			Interval:           req.Interval,
			IntervalUnit:       req.IntervalUnit,
			NeedsConfirmation:  req.NeedsConfirmation,
			PaymentRequests:    slices.Clone(req.PaymentRequests),
		}
		if err := tx.Add(r); err != nil {
			return err
		}
		if _, err := s.Expand(ctx, tx, r, s.now()); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("template", out.ID).Str("type", string(out.Type)).
		Int("interval", out.Interval).Str("unit", string(out.IntervalUnit)).Msg("Recurring transaction created")
	return out, nil
}
