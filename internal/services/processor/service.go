// Package processor applies and reverts transactions against account
// balances, dated balance snapshots and budget totals.
package processor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// Compile-time interface check
var _ interfaces.TransactionProcessor = (*Service)(nil)

// Service implements TransactionProcessor
type Service struct {
	logger *common.Logger
}

// NewService creates a new transaction processor
func NewService(logger *common.Logger) *Service {
	return &Service{logger: logger}
}

// References are the entities a transaction or template points at.
type References struct {
	AccountID          string
	CategoryID         models.Option[string]
	ReceivingAccountID models.Option[string]
}

// resolved holds the loaded referenced entities.
type resolved struct {
	account   *models.Account
	receiving *models.Account
	category  *models.Category
}

// CheckReferences fails with ErrObsolete when any referenced entity is
// obsolete and with ErrNotFound when one does not exist.
func CheckReferences(ctx context.Context, tx interfaces.Tx, refs References) error {
	_, err := load(ctx, tx, refs, true)
	return err
}

func load(ctx context.Context, tx interfaces.Tx, refs References, guard bool) (*resolved, error) {
	var r resolved
	var err error

	r.account, err = tx.GetAccount(ctx, refs.AccountID, true)
	if err != nil {
		return nil, fmt.Errorf("invalid reference: %w", err)
	}
	if guard && r.account.IsObsolete {
		return nil, common.Obsolete("account", r.account.ID)
	}

	if id, ok := refs.ReceivingAccountID.Get(); ok {
		r.receiving, err = tx.GetAccount(ctx, id, true)
		if err != nil {
			return nil, fmt.Errorf("invalid reference: %w", err)
		}
		if guard && r.receiving.IsObsolete {
			return nil, common.Obsolete("account", id)
		}
	}

	if id, ok := refs.CategoryID.Get(); ok {
		r.category, err = tx.GetCategory(ctx, id, true)
		if err != nil {
			return nil, fmt.Errorf("invalid reference: %w", err)
		}
		if guard && r.category.IsObsolete {
			return nil, common.Obsolete("category", id)
		}
	}
	return &r, nil
}

func refsOf(t *models.Transaction) References {
	return References{
		AccountID:          t.AccountID,
		CategoryID:         t.CategoryID,
		ReceivingAccountID: t.ReceivingAccountID,
	}
}

// Apply books an unprocessed transaction and marks it processed. Referenced
// entities must exist and must not be obsolete.
func (s *Service) Apply(ctx context.Context, tx interfaces.Tx, t *models.Transaction) error {
	if t.Processed {
		return common.Invariantf("transaction %q is already processed", t.ID)
	}
	refs, err := load(ctx, tx, refsOf(t), true)
	if err != nil {
		return err
	}
	if err := s.book(ctx, tx, t, refs, 1); err != nil {
		return err
	}

	t.Processed = true
	if err := tx.Update(t); err != nil {
		return err
	}
	s.logger.Debug().Str("transaction", t.ID).Str("type", string(t.Type)).
		Str("amount", t.Amount.String()).Msg("Transaction applied")
	return nil
}

// Revert undoes Apply exactly. Obsolete references are allowed: history must
// stay reversible after an account or category is retired.
func (s *Service) Revert(ctx context.Context, tx interfaces.Tx, t *models.Transaction) error {
	if !t.Processed {
		return common.Invariantf("transaction %q is not processed", t.ID)
	}
	refs, err := load(ctx, tx, refsOf(t), false)
	if err != nil {
		return err
	}
	if err := s.book(ctx, tx, t, refs, -1); err != nil {
		return err
	}

	t.Processed = false
	if err := tx.Update(t); err != nil {
		return err
	}
	s.logger.Debug().Str("transaction", t.ID).Str("type", string(t.Type)).
		Str("amount", t.Amount.String()).Msg("Transaction reverted")
	return nil
}

// book moves money for t; sign is +1 to apply and -1 to revert.
func (s *Service) book(ctx context.Context, tx interfaces.Tx, t *models.Transaction, refs *resolved, sign int64) error {
	k := decimal.NewFromInt(sign)

	switch t.Type {
	case models.TransactionExpense:
		if err := adjustBalance(ctx, tx, refs.account, t.Date, t.Amount.Abs().Neg().Mul(k)); err != nil {
			return err
		}
		return adjustBudgets(ctx, tx, t, k)

	case models.TransactionIncome:
		return adjustBalance(ctx, tx, refs.account, t.Date, t.Amount.Mul(k))

	case models.TransactionTransfer:
		if refs.receiving == nil {
			return common.Invariantf("transfer %q has no receiving account", t.ID)
		}
		if err := adjustBalance(ctx, tx, refs.account, t.Date, t.Amount.Neg().Mul(k)); err != nil {
			return err
		}
		return adjustBalance(ctx, tx, refs.receiving, t.Date, t.Amount.Mul(k))

	default:
		return common.Invariantf("transaction %q has unknown type %q", t.ID, t.Type)
	}
}

func adjustBudgets(ctx context.Context, tx interfaces.Tx, t *models.Transaction, k decimal.Decimal) error {
	categoryID, ok := t.CategoryID.Get()
	if !ok {
		return nil
	}
	budgets, err := tx.ListBudgets(ctx, interfaces.BudgetFilter{
		CategoryID: models.Some(categoryID),
		Covers:     models.Some(t.Date),
	})
	if err != nil {
		return fmt.Errorf("list budgets: %w", err)
	}
	for _, b := range budgets {
		b.Spent = b.Spent.Add(Contribution(b, t).Mul(k))
		if err := tx.Update(b); err != nil {
			return err
		}
	}
	return nil
}
