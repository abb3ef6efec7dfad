// Package ledger implements the interactive transaction and budget operations
// behind the API handlers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/bobmcallan/tally/internal/services/processor"
	"github.com/bobmcallan/tally/internal/storage"
)

// Compile-time interface check
var _ interfaces.LedgerService = (*Service)(nil)

// Service implements LedgerService
type Service struct {
	store     interfaces.Store
	processor interfaces.TransactionProcessor
	splitwise interfaces.SplitwiseClient // nil when the integration is disabled
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

// WithConflictRetries sets the attempt budget of each operation.
func WithConflictRetries(n int) ServiceOption {
	return func(s *Service) { s.retries = n }
}

// WithSplitwise enables sharing expenses with split details.
func WithSplitwise(client interfaces.SplitwiseClient) ServiceOption {
	return func(s *Service) { s.splitwise = client }
}

// NewService creates a new ledger service
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

func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context, tx interfaces.Tx) error) error {
	return storage.Run(ctx, s.store, s.retries, s.logger, op, fn)
}

// validateNewTransaction checks what can be checked without the store.
func validateNewTransaction(req models.NewTransaction) error {
	if strings.TrimSpace(req.AccountID) == "" {
		return common.Validationf("account is required")
	}
	if req.Date.IsZero() {
		return common.Validationf("date is required")
	}
	if id, ok := req.ReceivingAccountID.Get(); ok && id == req.AccountID {
		return common.Validationf("a transfer needs two different accounts")
	}
	if len(req.SplitDetails) == 0 {
		return nil
	}
	shared := decimal.Zero
	for _, d := range req.SplitDetails {
		if !d.Amount.IsPositive() {
			return common.Validationf("split amount for user %d must be positive", d.SplitwiseUserID)
		}
		shared = shared.Add(d.Amount)
	}
	if shared.GreaterThan(req.Amount.Abs()) {
		return common.Validationf("split total %s exceeds the amount %s", shared, req.Amount.Abs())
	}
	return nil
}

// CreateTransaction stores a transaction and applies it when it is due. An
// expense with split details is also created in Splitwise.
func (s *Service) CreateTransaction(ctx context.Context, req models.NewTransaction) (*models.Transaction, error) {
	if err := validateNewTransaction(req); err != nil {
		return nil, err
	}
	if len(req.SplitDetails) > 0 {
		if err := s.checkSplitUsers(ctx, req.SplitDetails); err != nil {
			return nil, err
		}
	}

	var out *models.Transaction
	err := s.run(ctx, "create transaction", func(ctx context.Context, tx interfaces.Tx) error {
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
		if len(req.SplitDetails) > 0 && txType != models.TransactionExpense {
			return common.Validationf("only expenses can be split")
		}
		if err := processor.CheckReferences(ctx, tx, processor.References{
			AccountID:          req.AccountID,
			CategoryID:         req.CategoryID,
			ReceivingAccountID: req.ReceivingAccountID,
		}); err != nil {
			return err
		}

		t := &models.Transaction{
			ID:                 uuid.NewString(),
			Type:               txType,
			AccountID:          req.AccountID,
			CategoryID:         req.CategoryID,
			ReceivingAccountID: req.ReceivingAccountID,
			Amount:             req.Amount,
			Description:        req.Description,
			Date:               models.Day(req.Date),
			NeedsConfirmation:  req.NeedsConfirmation,
			PaymentRequests:    withIDs(req.PaymentRequests),
			SplitDetails:       slices.Clone(req.SplitDetails),
		}
		if err := tx.Add(t); err != nil {
			return err
		}
		if t.IsEligible(s.now()) {
			if err := s.processor.Apply(ctx, tx, t); err != nil {
				return err
			}
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(out.SplitDetails) > 0 {
		if err := s.share(ctx, out); err != nil {
			return nil, err
		}
	}

	s.logger.Info().Str("transaction", out.ID).Str("type", string(out.Type)).
		Bool("processed", out.Processed).Msg("Transaction created")
	return out, nil
}

func withIDs(requests []models.PaymentRequest) []models.PaymentRequest {
	out := slices.Clone(requests)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
	}
	return out
}

func (s *Service) checkSplitUsers(ctx context.Context, details []models.SplitDetail) error {
	if s.splitwise == nil {
		return common.Validationf("splitwise is not configured")
	}
	users, err := s.splitwise.GetUsers(ctx)
	if err != nil {
		return common.External(err, "get splitwise users")
	}
	known := make(map[int64]bool, len(users))
	for _, u := range users {
		known[u.ID] = true
	}
	for _, d := range details {
		if !known[d.SplitwiseUserID] {
			return common.Validationf("unknown splitwise user %d", d.SplitwiseUserID)
		}
	}
	return nil
}

// share creates the Splitwise expense for t and links the resulting record.
// If Splitwise rejects it, the local transaction is deleted again; if the link
// cannot be stored, the upstream expense is deleted as well.
func (s *Service) share(ctx context.Context, t *models.Transaction) error {
	created, err := s.splitwise.CreateExpense(ctx, models.NewSplitwiseExpense{
		Amount:      t.Amount.Abs(),
		Description: t.Description,
		Date:        t.Date,
		Splits:      t.SplitDetails,
	})
	if err != nil {
		if delErr := s.deleteLocal(ctx, t.ID); delErr != nil {
			s.logger.Error().Str("transaction", t.ID).Err(delErr).Msg("Failed to remove unshared transaction")
		}
		if !errors.Is(err, common.ErrExternalService) {
			err = common.External(err, "create splitwise expense")
		}
		return err
	}

	err = s.run(ctx, "link splitwise expense", func(ctx context.Context, tx interfaces.Tx) error {
		local, err := tx.GetTransaction(ctx, t.ID)
		if err != nil {
			return err
		}
		record := &models.SplitwiseTransaction{}
		record.Refresh(created)
		record.Imported = true
		record.TransactionID = models.Some(local.ID)
		if err := tx.Add(record); err != nil {
			return err
		}
		local.SplitwiseTransactionID = models.Some(created.ID)
		if err := tx.Update(local); err != nil {
			return err
		}
		t.SplitwiseTransactionID = local.SplitwiseTransactionID
		return nil
	})
	if err != nil {
		// Undo both sides so neither is left without the other.
		s.logger.Error().Str("transaction", t.ID).Int64("splitwise_id", created.ID).Err(err).
			Msg("Failed to link Splitwise expense, undoing")
		if delErr := s.splitwise.DeleteExpense(ctx, created.ID); delErr != nil {
			s.logger.Error().Int64("splitwise_id", created.ID).Err(delErr).Msg("Failed to delete orphaned Splitwise expense")
		}
		if delErr := s.deleteLocal(ctx, t.ID); delErr != nil {
			s.logger.Error().Str("transaction", t.ID).Err(delErr).Msg("Failed to remove unshared transaction")
		}
		return fmt.Errorf("link splitwise expense %d: %w", created.ID, err)
	}
	return nil
}

// ConfirmTransaction confirms a transaction that needs confirmation and
// applies it when it is due.
func (s *Service) ConfirmTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var out *models.Transaction
	err := s.run(ctx, "confirm transaction", func(ctx context.Context, tx interfaces.Tx) error {
		t, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if !t.NeedsConfirmation {
			return common.Validationf("transaction %q does not need confirmation", id)
		}
		out = t
		if t.IsConfirmed.OrElse(false) {
			return nil
		}
		t.IsConfirmed = models.Some(true)
		if err := tx.Update(t); err != nil {
			return err
		}
		if !t.Processed && t.IsEligible(s.now()) {
			return s.processor.Apply(ctx, tx, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteTransaction reverts and removes a transaction. An expense shared to
// Splitwise is deleted there too; one imported from Splitwise leaves its
// record waiting for a new import.
func (s *Service) DeleteTransaction(ctx context.Context, id string) error {
	upstream, err := s.deleteLocalTracked(ctx, id)
	if err != nil {
		return err
	}
	if expenseID, ok := upstream.Get(); ok {
		if s.splitwise == nil {
			return common.Validationf("splitwise is not configured")
		}
		if err := s.splitwise.DeleteExpense(ctx, expenseID); err != nil {
			if !errors.Is(err, common.ErrExternalService) {
				err = common.External(err, "delete splitwise expense %d", expenseID)
			}
			return err
		}
	}
	s.logger.Info().Str("transaction", id).Msg("Transaction deleted")
	return nil
}

func (s *Service) deleteLocal(ctx context.Context, id string) error {
	_, err := s.deleteLocalTracked(ctx, id)
	return err
}

// deleteLocalTracked returns the Splitwise expense to delete upstream, if any.
func (s *Service) deleteLocalTracked(ctx context.Context, id string) (models.Option[int64], error) {
	upstream := models.None[int64]()
	err := s.run(ctx, "delete transaction", func(ctx context.Context, tx interfaces.Tx) error {
		upstream = models.None[int64]()
		t, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if t.Processed {
			if err := s.processor.Revert(ctx, tx, t); err != nil {
				return err
			}
		}
		if err := tx.Remove(t); err != nil {
			return err
		}

		swID, ok := t.SplitwiseTransactionID.Get()
		if !ok {
			return nil
		}
		record, err := tx.GetSplitwiseTransaction(ctx, swID)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !record.PaidAmount.IsZero() {
			upstream = models.Some(swID)
			return tx.Remove(record)
		}
		record.Imported = false
		record.TransactionID = models.None[string]()
		return tx.Update(record)
	})
	return upstream, err
}

func validateBudgetPeriod(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return common.Validationf("budget start and end dates are required")
	}
	if end.Before(start) {
		return common.Validationf("budget end %s is before start %s", models.FormatDate(end), models.FormatDate(start))
	}
	return nil
}

// recomputeSpent sets b.Spent from the processed transactions in its window.
func recomputeSpent(ctx context.Context, tx interfaces.Tx, b *models.Budget) error {
	txns, err := tx.ListTransactions(ctx, interfaces.TransactionFilter{
		CategoryID: models.Some(b.CategoryID),
		From:       models.Some(b.StartDate),
		To:         models.Some(b.EndDate),
		Processed:  models.Some(true),
	})
	if err != nil {
		return fmt.Errorf("list transactions for budget %s: %w", b.ID, err)
	}
	b.Spent = processor.BudgetSpent(b, txns)
	return nil
}

// CreateBudget stores a budget with Spent computed from existing transactions.
func (s *Service) CreateBudget(ctx context.Context, req models.NewBudget) (*models.Budget, error) {
	if !req.Amount.IsPositive() {
		return nil, common.Validationf("budget amount must be positive, got %s", req.Amount)
	}
	start, end := models.Day(req.StartDate), models.Day(req.EndDate)
	if err := validateBudgetPeriod(start, end); err != nil {
		return nil, err
	}

	var out *models.Budget
	err := s.run(ctx, "create budget", func(ctx context.Context, tx interfaces.Tx) error {
		c, err := tx.GetCategory(ctx, req.CategoryID, true)
		if err != nil {
			return err
		}
		if c.IsObsolete {
			return common.Obsolete("category", c.ID)
		}
		if c.Type != models.CategoryExpense {
			return common.Validationf("budgets track expense categories, %q is %s", c.ID, c.Type)
		}

		b := &models.Budget{
			ID:          uuid.NewString(),
			Description: req.Description,
			CategoryID:  c.ID,
			StartDate:   start,
			EndDate:     end,
			Amount:      req.Amount,
		}
		if err := recomputeSpent(ctx, tx, b); err != nil {
			return err
		}
		out = b
		return tx.Add(b)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateBudgetPeriod moves a budget window and recomputes Spent from scratch.
func (s *Service) UpdateBudgetPeriod(ctx context.Context, id string, start, end time.Time) (*models.Budget, error) {
	start, end = models.Day(start), models.Day(end)
	if err := validateBudgetPeriod(start, end); err != nil {
		return nil, err
	}

	var out *models.Budget
	err := s.run(ctx, "update budget period", func(ctx context.Context, tx interfaces.Tx) error {
		b, err := tx.GetBudget(ctx, id)
		if err != nil {
			return err
		}
		b.StartDate, b.EndDate = start, end
		if err := recomputeSpent(ctx, tx, b); err != nil {
			return err
		}
		out = b
		return tx.Update(b)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
