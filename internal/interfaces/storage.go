// Package interfaces defines service contracts for Tally
package interfaces

import (
	"context"
	"slices"
	"time"

	"github.com/bobmcallan/tally/internal/models"
)

// Store is the transactional store shared by the API handlers and the
// background jobs. All mutation goes through a Tx.
type Store interface {
	// Begin opens a unit of work against a consistent read of the store.
	Begin(ctx context.Context) (Tx, error)

	// Close releases the underlying connection.
	Close() error
}

// Tx is a unit of work. Reads are identity mapped: reading the same row twice
// returns the same instance, so staged modifications are visible to later
// reads in the same Tx. Writes are staged until Commit.
type Tx interface {
	// GetAccount fails with ErrNotFound when the account is missing, or when it
	// is obsolete and allowObsolete is false.
	GetAccount(ctx context.Context, id string, allowObsolete bool) (*models.Account, error)
	GetCategory(ctx context.Context, id string, allowObsolete bool) (*models.Category, error)
	GetBudget(ctx context.Context, id string) (*models.Budget, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetRecurringTransaction(ctx context.Context, id string) (*models.RecurringTransaction, error)
	GetSplitwiseTransaction(ctx context.Context, id int64) (*models.SplitwiseTransaction, error)

	ListAccounts(ctx context.Context, filter AccountFilter) ([]*models.Account, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*models.Transaction, error)
	ListRecurringTransactions(ctx context.Context, filter RecurringTransactionFilter) ([]*models.RecurringTransaction, error)
	ListBudgets(ctx context.Context, filter BudgetFilter) ([]*models.Budget, error)
	ListSplitwiseTransactions(ctx context.Context, filter SplitwiseTransactionFilter) ([]*models.SplitwiseTransaction, error)
	ListDailyBalances(ctx context.Context, filter DailyBalanceFilter) ([]*models.DailyBalance, error)

	// LatestSplitwiseUpdatedAt returns the sync watermark: the latest
	// UpdatedAt of the records written by the importer (Synced), None when
	// nothing has been fetched yet.
	LatestSplitwiseUpdatedAt(ctx context.Context) (models.Option[time.Time], error)

	Add(e models.Entity) error
	Update(e models.Entity) error
	Remove(e models.Entity) error

	// Commit writes all staged changes atomically. It fails with ErrConflict
	// when any touched row changed since it was read.
	Commit(ctx context.Context) error

	// Rollback discards staged changes. Safe to call after Commit.
	Rollback()
}

// Filter is a typed row selection. Backends may push it down into a native
// query; MatchesEntity is the reference semantics.
type Filter interface {
	Kind() models.Kind
	MatchesEntity(e models.Entity) bool
}

// Backend is the low-level persistence driver behind a Store.
type Backend interface {
	// Load returns a private copy of one row, or common.ErrNotFound.
	Load(ctx context.Context, kind models.Kind, key string) (models.Entity, error)

	// Query returns private copies of all rows of filter.Kind() matching filter.
	Query(ctx context.Context, filter Filter) ([]models.Entity, error)

	LatestSplitwiseUpdatedAt(ctx context.Context) (models.Option[time.Time], error)

	// Apply writes changes atomically, only if every row still has the
	// version it was read at. Otherwise nothing is written and the error
	// matches common.ErrConflict.
	Apply(ctx context.Context, changes []Change) error

	Close() error
}

// ChangeOp is the kind of a staged write.
type ChangeOp int

const (
	OpAdd ChangeOp = iota + 1
	OpUpdate
	OpRemove
)

func (o ChangeOp) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	}
	return "unknown"
}

// Change is one staged write. ReadVersion is the version the row had when it
// was read (0 for additions).
type Change struct {
	Op          ChangeOp
	Entity      models.Entity
	ReadVersion int64
}

// AccountFilter selects accounts.
type AccountFilter struct {
	IncludeObsolete bool
}

func (f AccountFilter) Matches(a *models.Account) bool {
	return f.IncludeObsolete || !a.IsObsolete
}

func (f AccountFilter) Kind() models.Kind { return models.KindAccount }

func (f AccountFilter) MatchesEntity(e models.Entity) bool {
	v, ok := e.(*models.Account)
	return ok && f.Matches(v)
}

// TransactionFilter selects transactions. Unset fields do not filter.
type TransactionFilter struct {
	// AccountID matches the source or the receiving account.
	AccountID              models.Option[string]
	CategoryID             models.Option[string]
	From                   models.Option[time.Time]
	To                     models.Option[time.Time]
	Processed              models.Option[bool]
	RecurringTransactionID models.Option[string]
	SplitwiseTransactionID models.Option[int64]
}

func (f TransactionFilter) Matches(t *models.Transaction) bool {
	if id, ok := f.AccountID.Get(); ok && t.AccountID != id && t.ReceivingAccountID != models.Some(id) {
		return false
	}
	if id, ok := f.CategoryID.Get(); ok && t.CategoryID != models.Some(id) {
		return false
	}
	if from, ok := f.From.Get(); ok && t.Date.Before(from) {
		return false
	}
	if to, ok := f.To.Get(); ok && t.Date.After(to) {
		return false
	}
	if p, ok := f.Processed.Get(); ok && t.Processed != p {
		return false
	}
	if id, ok := f.RecurringTransactionID.Get(); ok && t.RecurringTransactionID != models.Some(id) {
		return false
	}
	if id, ok := f.SplitwiseTransactionID.Get(); ok && t.SplitwiseTransactionID != models.Some(id) {
		return false
	}
	return true
}

func (f TransactionFilter) Kind() models.Kind { return models.KindTransaction }

func (f TransactionFilter) MatchesEntity(e models.Entity) bool {
	v, ok := e.(*models.Transaction)
	return ok && f.Matches(v)
}

// RecurringTransactionFilter selects recurring templates.
type RecurringTransactionFilter struct {
	Finished models.Option[bool]
	// StartedOnOrBefore keeps templates whose StartDate is not after the date.
	StartedOnOrBefore models.Option[time.Time]
}

func (f RecurringTransactionFilter) Matches(r *models.RecurringTransaction) bool {
	if fin, ok := f.Finished.Get(); ok && r.Finished != fin {
		return false
	}
	if d, ok := f.StartedOnOrBefore.Get(); ok && r.StartDate.After(d) {
		return false
	}
	return true
}

func (f RecurringTransactionFilter) Kind() models.Kind { return models.KindRecurringTransaction }

func (f RecurringTransactionFilter) MatchesEntity(e models.Entity) bool {
	v, ok := e.(*models.RecurringTransaction)
	return ok && f.Matches(v)
}

// BudgetFilter selects budgets.
type BudgetFilter struct {
	CategoryID models.Option[string]
	// Covers keeps budgets whose window contains the date.
	Covers models.Option[time.Time]
}

func (f BudgetFilter) Matches(b *models.Budget) bool {
	if id, ok := f.CategoryID.Get(); ok && b.CategoryID != id {
		return false
	}
	if d, ok := f.Covers.Get(); ok && !b.Covers(d) {
		return false
	}
	return true
}

func (f BudgetFilter) Kind() models.Kind { return models.KindBudget }

func (f BudgetFilter) MatchesEntity(e models.Entity) bool {
	v, ok := e.(*models.Budget)
	return ok && f.Matches(v)
}

// SplitwiseTransactionFilter selects local Splitwise records.
type SplitwiseTransactionFilter struct {
	Imported  models.Option[bool]
	IsDeleted models.Option[bool]
}

func (f SplitwiseTransactionFilter) Matches(s *models.SplitwiseTransaction) bool {
	if imp, ok := f.Imported.Get(); ok && s.Imported != imp {
		return false
	}
	if del, ok := f.IsDeleted.Get(); ok && s.IsDeleted != del {
		return false
	}
	return true
}

func (f SplitwiseTransactionFilter) Kind() models.Kind { return models.KindSplitwiseTransaction }

func (f SplitwiseTransactionFilter) MatchesEntity(e models.Entity) bool {
	v, ok := e.(*models.SplitwiseTransaction)
	return ok && f.Matches(v)
}

// DailyBalanceFilter selects balance snapshots. An empty AccountIDs matches
// every account.
type DailyBalanceFilter struct {
	AccountIDs []string
	From       models.Option[time.Time]
	To         models.Option[time.Time]
}

func (f DailyBalanceFilter) Matches(b *models.DailyBalance) bool {
	if len(f.AccountIDs) > 0 && !slices.Contains(f.AccountIDs, b.AccountID) {
		return false
	}
	if from, ok := f.From.Get(); ok && b.Date.Before(from) {
		return false
	}
	if to, ok := f.To.Get(); ok && b.Date.After(to) {
		return false
	}
	return true
}

func (f DailyBalanceFilter) Kind() models.Kind { return models.KindDailyBalance }

func (f DailyBalanceFilter) MatchesEntity(e models.Entity) bool {
	v, ok := e.(*models.DailyBalance)
	return ok && f.Matches(v)
}
