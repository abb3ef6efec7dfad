// Package splitwise reconciles local transactions with expenses recorded in
// Splitwise, using the last stored update time as a sync watermark.
package splitwise

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/bobmcallan/tally/internal/services/processor"
	"github.com/bobmcallan/tally/internal/storage"
)

// Compile-time interface check
var _ interfaces.SplitwiseService = (*Service)(nil)

// Service implements SplitwiseService
type Service struct {
	store            interfaces.Store
	processor        interfaces.TransactionProcessor
	client           interfaces.SplitwiseClient
	logger           *common.Logger
	defaultAccountID string
	retries          int
	now              func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithConflictRetries sets the attempt budget of each sync commit.
func WithConflictRetries(n int) ServiceOption {
	return func(s *Service) { s.retries = n }
}

// WithDefaultAccount sets the account manual imports use when none is given.
func WithDefaultAccount(accountID string) ServiceOption {
	return func(s *Service) { s.defaultAccountID = accountID }
}

// NewService creates a new Splitwise reconciliation service
func NewService(store interfaces.Store, proc interfaces.TransactionProcessor, client interfaces.SplitwiseClient, logger *common.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		processor: proc,
		client:    client,
		logger:    logger,
		retries:   common.DefaultConflictRetries,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// isCandidate reports whether an expense is imported from Splitwise. Expenses
// the current user paid for are created from local transactions instead.
func isCandidate(e *models.SplitwiseExpense) bool {
	return e.PaidAmount.IsZero()
}

// ImportFromExternal fetches every expense updated after the watermark and
// re-derives the transactions of records that were already imported. Records
// seen for the first time wait for ImportTransaction. Every fetched expense is
// stored, so the watermark moves past expenses the user paid for too.
func (s *Service) ImportFromExternal(ctx context.Context) (*models.ImportResult, error) {
	start := time.Now()

	watermark, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}

	expenses, err := s.client.GetExpensesUpdatedAfter(ctx, watermark)
	if err != nil {
		if !errors.Is(err, common.ErrExternalService) {
			err = common.External(err, "get expenses")
		}
		s.logger.Error().Err(err).Time("watermark", watermark).Msg("Splitwise fetch failed")
		return nil, err
	}

	candidates := 0
	for _, e := range expenses {
		if isCandidate(e) {
			candidates++
		}
	}

	var result models.ImportResult
	err = storage.Run(ctx, s.store, s.retries, s.logger, models.JobImportSplitwise, func(ctx context.Context, tx interfaces.Tx) error {
		result = models.ImportResult{}
		for _, e := range expenses {
			if err := s.reconcile(ctx, tx, e, &result); err != nil {
				return fmt.Errorf("reconcile expense %d: %w", e.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Watermark = watermark
	result.Fetched = len(expenses)
	result.Candidates = candidates
	result.Duration = time.Since(start)
	s.logger.Info().
		Time("watermark", watermark).
		Int("fetched", result.Fetched).
		Int("candidates", result.Candidates).
		Int("rederived", result.Rederived).
		Int("cleared", result.Cleared).
		Int("pending", result.Pending).
		Int("deferred", result.Deferred).
		Dur("elapsed", result.Duration).
		Msg("Splitwise import complete")
	return &result, nil
}

func (s *Service) watermark(ctx context.Context) (time.Time, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer tx.Rollback()

	latest, err := tx.LatestSplitwiseUpdatedAt(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("read splitwise watermark: %w", err)
	}
	return latest.OrElse(models.MinDate), nil
}

// reconcile brings one local record in line with its upstream expense.
func (s *Service) reconcile(ctx context.Context, tx interfaces.Tx, e *models.SplitwiseExpense, result *models.ImportResult) error {
	record, err := tx.GetSplitwiseTransaction(ctx, e.ID)
	isNew := errors.Is(err, common.ErrNotFound)
	if err != nil && !isNew {
		return err
	}
	if isNew {
		record = &models.SplitwiseTransaction{ID: e.ID}
	}

	// Undo the previous derivation, remembering where it was booked. A record
	// stored as paid by the user links the local transaction that shared it,
	// which is never derived here.
	var prev *models.Transaction
	derivedHere := false
	if id, ok := record.TransactionID.Get(); ok && record.PaidAmount.IsZero() {
		derivedHere = true
		prev, err = tx.GetTransaction(ctx, id)
		switch {
		case errors.Is(err, common.ErrNotFound):
			prev = nil
		case err != nil:
			return err
		default:
			if prev.Processed {
				if err := s.processor.Revert(ctx, tx, prev); err != nil {
					return err
				}
			}
			if err := tx.Remove(prev); err != nil {
				return err
			}
			result.Reverted++
		}
	}

	record.Refresh(e)
	record.Synced = true
	if derivedHere {
		record.Imported = false
		record.TransactionID = models.None[string]()
	}

	if isCandidate(e) && !record.IsDeleted {
		switch {
		case prev == nil:
			if !record.Imported && !record.PersonalAmount.IsZero() {
				result.Pending++
			}
		case record.PersonalAmount.IsZero():
			// Nothing is owed any more; the reverted transaction stays gone.
			result.Cleared++
		default:
			derived, err := s.rederive(ctx, tx, record, prev)
			if err != nil {
				return err
			}
			if derived {
				result.Rederived++
			} else {
				result.Deferred++
			}
		}
	}

	if isNew {
		return tx.Add(record)
	}
	return tx.Update(record)
}

// rederive books record again on the account and category of its previous
// transaction. It reports false when those have gone obsolete, leaving the
// record for a manual import.
func (s *Service) rederive(ctx context.Context, tx interfaces.Tx, record *models.SplitwiseTransaction, prev *models.Transaction) (bool, error) {
	err := processor.CheckReferences(ctx, tx, processor.References{
		AccountID:  prev.AccountID,
		CategoryID: prev.CategoryID,
	})
	switch {
	case errors.Is(err, common.ErrObsolete):
		s.logger.Warn().Int64("splitwise_id", record.ID).Err(err).Msg("Deferring Splitwise record to manual import")
		return false, nil
	case err != nil:
		return false, err
	}

	categoryID, _ := prev.CategoryID.Get()
	if _, err := s.book(ctx, tx, record, prev.AccountID, categoryID); err != nil {
		return false, err
	}
	return true, nil
}

// book derives a transaction from record, applies it when due and marks the
// record imported.
func (s *Service) book(ctx context.Context, tx interfaces.Tx, record *models.SplitwiseTransaction, accountID, categoryID string) (*models.Transaction, error) {
	category, err := tx.GetCategory(ctx, categoryID, true)
	if err != nil {
		return nil, err
	}
	txType, err := models.DeriveTransactionType(category, models.None[string]())
	if err != nil {
		return nil, common.Validationf("%v", err)
	}
	amount := record.PersonalAmount.Abs()
	if txType == models.TransactionExpense {
		amount = amount.Neg()
	}

	t := &models.Transaction{
		ID:                     uuid.NewString(),
		Type:                   txType,
		AccountID:              accountID,
		CategoryID:             models.Some(categoryID),
		Amount:                 amount,
		Description:            record.Description,
		Date:                   record.Date,
		SplitwiseTransactionID: models.Some(record.ID),
	}
	if err := tx.Add(t); err != nil {
		return nil, err
	}
	if t.IsEligible(s.now()) {
		if err := s.processor.Apply(ctx, tx, t); err != nil {
			return nil, err
		}
	}

	record.Imported = true
	record.TransactionID = models.Some(t.ID)
	return t, nil
}

// ImportTransaction books one stored record on the given account and
// category. With no account the configured default is used.
func (s *Service) ImportTransaction(ctx context.Context, id int64, accountID models.Option[string], categoryID string) (*models.Transaction, error) {
	account := accountID.OrElse(s.defaultAccountID)
	if account == "" {
		return nil, common.Validationf("an account is required to import Splitwise expense %d", id)
	}
	if categoryID == "" {
		return nil, common.Validationf("a category is required to import Splitwise expense %d", id)
	}

	var out *models.Transaction
	err := storage.Run(ctx, s.store, s.retries, s.logger, "import splitwise expense", func(ctx context.Context, tx interfaces.Tx) error {
		record, err := tx.GetSplitwiseTransaction(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case !record.PaidAmount.IsZero():
			return common.Validationf("splitwise expense %d was paid by you and cannot be imported", id)
		case record.IsDeleted:
			return common.Validationf("splitwise expense %d is deleted", id)
		case record.PersonalAmount.IsZero():
			return common.Validationf("nothing is owed on splitwise expense %d", id)
		case record.Imported:
			return common.Validationf("splitwise expense %d is already imported", id)
		}

		if err := processor.CheckReferences(ctx, tx, processor.References{
			AccountID:  account,
			CategoryID: models.Some(categoryID),
		}); err != nil {
			return err
		}

		t, err := s.book(ctx, tx, record, account, categoryID)
		if err != nil {
			return err
		}
		out = t
		return tx.Update(record)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("splitwise_id", id).Str("transaction", out.ID).Msg("Splitwise expense imported")
	return out, nil
}
