package storage

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

type entityRef struct {
	kind models.Kind
	key  string
}

func refOf(e models.Entity) entityRef {
	return entityRef{kind: e.EntityKind(), key: e.EntityKey()}
}

// staged is the pending write for one tracked row.
type staged struct {
	op     interfaces.ChangeOp
	entity models.Entity
}

// unitOfWork implements interfaces.Tx over a Backend. Rows are cached on first
// read and every later read returns the cached instance.
type unitOfWork struct {
	backend interfaces.Backend

	tracked     map[entityRef]models.Entity
	readVersion map[entityRef]int64
	pending     map[entityRef]*staged
	order       []entityRef
	closed      bool
}

func newUnitOfWork(backend interfaces.Backend) *unitOfWork {
	return &unitOfWork{
		backend:     backend,
		tracked:     make(map[entityRef]models.Entity),
		readVersion: make(map[entityRef]int64),
		pending:     make(map[entityRef]*staged),
	}
}

func (u *unitOfWork) removed(ref entityRef) bool {
	s, ok := u.pending[ref]
	return ok && s.op == interfaces.OpRemove
}

func (u *unitOfWork) load(ctx context.Context, kind models.Kind, key string) (models.Entity, error) {
	if u.closed {
		return nil, common.Invariantf("read on a finished unit of work")
	}
	ref := entityRef{kind: kind, key: key}
	if u.removed(ref) {
		return nil, common.NotFound(string(kind), key)
	}
	if e, ok := u.tracked[ref]; ok {
		return e, nil
	}
	e, err := u.backend.Load(ctx, kind, key)
	if err != nil {
		return nil, err
	}
	u.track(e)
	return e, nil
}

func (u *unitOfWork) track(e models.Entity) {
	ref := refOf(e)
	u.tracked[ref] = e
	u.readVersion[ref] = e.EntityVersion()
}

// query merges backend rows with the tracked instances. A tracked row is
// judged on its in-memory state, so staged edits can move it in or out of
// the result.
func (u *unitOfWork) query(ctx context.Context, filter interfaces.Filter) ([]models.Entity, error) {
	if u.closed {
		return nil, common.Invariantf("read on a finished unit of work")
	}
	rows, err := u.backend.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		ref := refOf(row)
		if _, ok := u.tracked[ref]; ok || u.removed(ref) {
			continue
		}
		u.track(row)
	}

	var out []models.Entity
	for ref, e := range u.tracked {
		if ref.kind != filter.Kind() || u.removed(ref) {
			continue
		}
		if filter.MatchesEntity(e) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b models.Entity) int {
		return strings.Compare(a.EntityKey(), b.EntityKey())
	})
	return out, nil
}

func getAs[T models.Entity](ctx context.Context, u *unitOfWork, kind models.Kind, key string) (T, error) {
	var zero T
	e, err := u.load(ctx, kind, key)
	if err != nil {
		return zero, err
	}
	v, ok := e.(T)
	if !ok {
		return zero, common.Invariantf("%s %q has unexpected type %T", kind, key, e)
	}
	return v, nil
}

func listAs[T models.Entity](ctx context.Context, u *unitOfWork, filter interfaces.Filter) ([]T, error) {
	rows, err := u.query(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, e := range rows {
		v, ok := e.(T)
		if !ok {
			return nil, common.Invariantf("%s %q has unexpected type %T", filter.Kind(), e.EntityKey(), e)
		}
		out = append(out, v)
	}
	return out, nil
}

func (u *unitOfWork) GetAccount(ctx context.Context, id string, allowObsolete bool) (*models.Account, error) {
	a, err := getAs[*models.Account](ctx, u, models.KindAccount, id)
	if err != nil {
		return nil, err
	}
	if a.IsObsolete && !allowObsolete {
		return nil, common.NotFound("account", id)
	}
	return a, nil
}

func (u *unitOfWork) GetCategory(ctx context.Context, id string, allowObsolete bool) (*models.Category, error) {
	c, err := getAs[*models.Category](ctx, u, models.KindCategory, id)
	if err != nil {
		return nil, err
	}
	if c.IsObsolete && !allowObsolete {
		return nil, common.NotFound("category", id)
	}
	return c, nil
}

func (u *unitOfWork) GetBudget(ctx context.Context, id string) (*models.Budget, error) {
	return getAs[*models.Budget](ctx, u, models.KindBudget, id)
}

func (u *unitOfWork) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return getAs[*models.Transaction](ctx, u, models.KindTransaction, id)
}

func (u *unitOfWork) GetRecurringTransaction(ctx context.Context, id string) (*models.RecurringTransaction, error) {
	return getAs[*models.RecurringTransaction](ctx, u, models.KindRecurringTransaction, id)
}

func (u *unitOfWork) GetSplitwiseTransaction(ctx context.Context, id int64) (*models.SplitwiseTransaction, error) {
	return getAs[*models.SplitwiseTransaction](ctx, u, models.KindSplitwiseTransaction, strconv.FormatInt(id, 10))
}

func (u *unitOfWork) ListAccounts(ctx context.Context, filter interfaces.AccountFilter) ([]*models.Account, error) {
	return listAs[*models.Account](ctx, u, filter)
}

// ListTransactions orders by date, then id.
func (u *unitOfWork) ListTransactions(ctx context.Context, filter interfaces.TransactionFilter) ([]*models.Transaction, error) {
	out, err := listAs[*models.Transaction](ctx, u, filter)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b *models.Transaction) int {
		return a.Date.Compare(b.Date)
	})
	return out, nil
}

func (u *unitOfWork) ListRecurringTransactions(ctx context.Context, filter interfaces.RecurringTransactionFilter) ([]*models.RecurringTransaction, error) {
	return listAs[*models.RecurringTransaction](ctx, u, filter)
}

func (u *unitOfWork) ListBudgets(ctx context.Context, filter interfaces.BudgetFilter) ([]*models.Budget, error) {
	return listAs[*models.Budget](ctx, u, filter)
}

func (u *unitOfWork) ListSplitwiseTransactions(ctx context.Context, filter interfaces.SplitwiseTransactionFilter) ([]*models.SplitwiseTransaction, error) {
	out, err := listAs[*models.SplitwiseTransaction](ctx, u, filter)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *models.SplitwiseTransaction) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// ListDailyBalances orders by account, then date.
func (u *unitOfWork) ListDailyBalances(ctx context.Context, filter interfaces.DailyBalanceFilter) ([]*models.DailyBalance, error) {
	out, err := listAs[*models.DailyBalance](ctx, u, filter)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *models.DailyBalance) int {
		if c := strings.Compare(a.AccountID, b.AccountID); c != 0 {
			return c
		}
		return a.Date.Compare(b.Date)
	})
	return out, nil
}

// LatestSplitwiseUpdatedAt includes synced rows staged in this unit of work.
func (u *unitOfWork) LatestSplitwiseUpdatedAt(ctx context.Context) (models.Option[time.Time], error) {
	latest, err := u.backend.LatestSplitwiseUpdatedAt(ctx)
	if err != nil {
		return models.None[time.Time](), err
	}
	for ref, s := range u.pending {
		if ref.kind != models.KindSplitwiseTransaction || s.op == interfaces.OpRemove {
			continue
		}
		sw, ok := s.entity.(*models.SplitwiseTransaction)
		if !ok || !sw.Synced {
			continue
		}
		if cur, ok := latest.Get(); !ok || sw.UpdatedAt.After(cur) {
			latest = models.Some(sw.UpdatedAt)
		}
	}
	return latest, nil
}

func (u *unitOfWork) stage(ref entityRef, op interfaces.ChangeOp, e models.Entity) {
	if _, ok := u.pending[ref]; !ok {
		u.order = append(u.order, ref)
	}
	u.pending[ref] = &staged{op: op, entity: e}
}

func (u *unitOfWork) Add(e models.Entity) error {
	if u.closed {
		return common.Invariantf("write on a finished unit of work")
	}
	ref := refOf(e)
	if prev, ok := u.pending[ref]; ok && prev.op == interfaces.OpRemove {
		// Remove then re-add of the same key is a replacement of the stored row.
		e.SetEntityVersion(u.readVersion[ref])
		u.tracked[ref] = e
		u.stage(ref, interfaces.OpUpdate, e)
		return nil
	}
	if _, ok := u.tracked[ref]; ok {
		return common.Invariantf("%s %q already exists", ref.kind, ref.key)
	}
	e.SetEntityVersion(0)
	u.tracked[ref] = e
	u.readVersion[ref] = 0
	u.stage(ref, interfaces.OpAdd, e)
	return nil
}

func (u *unitOfWork) Update(e models.Entity) error {
	if u.closed {
		return common.Invariantf("write on a finished unit of work")
	}
	ref := refOf(e)
	if u.removed(ref) {
		return common.Invariantf("update of removed %s %q", ref.kind, ref.key)
	}
	if cur, ok := u.tracked[ref]; ok && cur != e {
		return common.Invariantf("update of %s %q with an instance not read in this unit of work", ref.kind, ref.key)
	}
	if _, ok := u.tracked[ref]; !ok {
		u.track(e)
	}
	if prev, ok := u.pending[ref]; ok && prev.op == interfaces.OpAdd {
		return nil
	}
	u.stage(ref, interfaces.OpUpdate, e)
	return nil
}

func (u *unitOfWork) Remove(e models.Entity) error {
	if u.closed {
		return common.Invariantf("write on a finished unit of work")
	}
	ref := refOf(e)
	if prev, ok := u.pending[ref]; ok && prev.op == interfaces.OpAdd {
		delete(u.pending, ref)
		delete(u.tracked, ref)
		delete(u.readVersion, ref)
		u.order = slices.DeleteFunc(u.order, func(r entityRef) bool { return r == ref })
		return nil
	}
	if _, ok := u.tracked[ref]; !ok {
		u.track(e)
	}
	u.stage(ref, interfaces.OpRemove, e)
	return nil
}

// Commit hands the change set to the backend in staging order. On success
// the versions of the written instances are advanced.
func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.closed {
		return common.Invariantf("commit on a finished unit of work")
	}
	u.closed = true

	if len(u.order) == 0 {
		return nil
	}
	changes := make([]interfaces.Change, 0, len(u.order))
	for _, ref := range u.order {
		s := u.pending[ref]
		changes = append(changes, interfaces.Change{
			Op:          s.op,
			Entity:      s.entity,
			ReadVersion: u.readVersion[ref],
		})
	}
	if err := u.backend.Apply(ctx, changes); err != nil {
		return fmt.Errorf("commit %d changes: %w", len(changes), err)
	}
	for _, c := range changes {
		if c.Op != interfaces.OpRemove {
			c.Entity.SetEntityVersion(c.ReadVersion + 1)
		}
	}
	return nil
}

func (u *unitOfWork) Rollback() {
	u.closed = true
	u.pending = nil
	u.order = nil
}
