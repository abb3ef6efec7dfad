package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/bobmcallan/tally/internal/storage"
	"github.com/bobmcallan/tally/internal/storage/memory"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	return storage.NewStore(common.NewSilentLogger(), memory.NewBackend())
}

func seedAccount(t *testing.T, store *storage.Store, id string, balance string) {
	t.Helper()
	require.NoError(t, storage.Seed(context.Background(), store, &models.Account{
		ID:             id,
		Description:    id,
		CurrentBalance: decimal.RequireFromString(balance),
	}))
}

func TestTx_IdentityMap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedAccount(t, store, "acc-1", "100")

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	a1, err := tx.GetAccount(ctx, "acc-1", false)
	require.NoError(t, err)
	a1.CurrentBalance = decimal.NewFromInt(5)

	a2, err := tx.GetAccount(ctx, "acc-1", false)
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	list, err := tx.ListAccounts(ctx, interfaces.AccountFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Same(t, a1, list[0])
}

func TestTx_CommitPersistsAndBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedAccount(t, store, "acc-1", "100")

	err := storage.Run(ctx, store, 3, common.NewSilentLogger(), "test", func(ctx context.Context, tx interfaces.Tx) error {
		a, err := tx.GetAccount(ctx, "acc-1", false)
		if err != nil {
			return err
		}
		a.CurrentBalance = a.CurrentBalance.Add(decimal.NewFromInt(25))
		return tx.Update(a)
	})
	require.NoError(t, err)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	a, err := tx.GetAccount(ctx, "acc-1", false)
	require.NoError(t, err)
	assert.True(t, a.CurrentBalance.Equal(decimal.NewFromInt(125)))
	assert.Equal(t, int64(2), a.Version)
}

func TestTx_ConflictingCommitFails(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedAccount(t, store, "acc-1", "100")

	tx1, err := store.Begin(ctx)
	require.NoError(t, err)
	tx2, err := store.Begin(ctx)
	require.NoError(t, err)

	a1, err := tx1.GetAccount(ctx, "acc-1", false)
	require.NoError(t, err)
	a2, err := tx2.GetAccount(ctx, "acc-1", false)
	require.NoError(t, err)

	a1.Description = "first"
	require.NoError(t, tx1.Update(a1))
	a2.Description = "second"
	require.NoError(t, tx2.Update(a2))

	require.NoError(t, tx1.Commit(ctx))
	err = tx2.Commit(ctx)
	assert.True(t, errors.Is(err, common.ErrConflict))
}

func TestRun_RetriesFromScratchOnConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedAccount(t, store, "acc-1", "0")

	attempts := 0
	err := storage.Run(ctx, store, 10, common.NewSilentLogger(), "increment", func(ctx context.Context, tx interfaces.Tx) error {
		attempts++
		a, err := tx.GetAccount(ctx, "acc-1", false)
		if err != nil {
			return err
		}
		if attempts == 1 {
			// A concurrent writer commits between our read and our commit.
			require.NoError(t, storage.Run(ctx, store, 1, common.NewSilentLogger(), "other", func(ctx context.Context, other interfaces.Tx) error {
				b, err := other.GetAccount(ctx, "acc-1", false)
				if err != nil {
					return err
				}
				b.CurrentBalance = b.CurrentBalance.Add(decimal.NewFromInt(10))
				return other.Update(b)
			}))
		}
		a.CurrentBalance = a.CurrentBalance.Add(decimal.NewFromInt(1))
		return tx.Update(a)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	a, err := tx.GetAccount(ctx, "acc-1", false)
	require.NoError(t, err)
	assert.True(t, a.CurrentBalance.Equal(decimal.NewFromInt(11)), "got %s", a.CurrentBalance)
}

func TestRun_NonConflictErrorDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedAccount(t, store, "acc-1", "0")

	err := storage.Run(ctx, store, 10, common.NewSilentLogger(), "fail", func(ctx context.Context, tx interfaces.Tx) error {
		a, err := tx.GetAccount(ctx, "acc-1", false)
		if err != nil {
			return err
		}
		a.Description = "changed"
		if err := tx.Update(a); err != nil {
			return err
		}
		return common.Validationf("nope")
	})
	assert.True(t, errors.Is(err, common.ErrValidation))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	a, err := tx.GetAccount(ctx, "acc-1", false)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", a.Description)
}

func TestTx_ObsoleteAccountHiddenUnlessAllowed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, storage.Seed(ctx, store, &models.Account{ID: "old", IsObsolete: true}))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.GetAccount(ctx, "old", false)
	assert.True(t, errors.Is(err, common.ErrNotFound))

	a, err := tx.GetAccount(ctx, "old", true)
	require.NoError(t, err)
	assert.True(t, a.IsObsolete)

	list, err := tx.ListAccounts(ctx, interfaces.AccountFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTx_ListSeesStagedAddsAndRemoves(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, storage.Seed(ctx, store,
		&models.Transaction{ID: "t1", AccountID: "acc-1", Date: models.Date(2021, 1, 2)},
		&models.Transaction{ID: "t2", AccountID: "acc-1", Date: models.Date(2021, 1, 1)},
	))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	t1, err := tx.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, tx.Remove(t1))
	require.NoError(t, tx.Add(&models.Transaction{ID: "t3", AccountID: "acc-1", Date: models.Date(2021, 1, 3)}))

	list, err := tx.ListTransactions(ctx, interfaces.TransactionFilter{AccountID: models.Some("acc-1")})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t2", list[0].ID)
	assert.Equal(t, "t3", list[1].ID)

	_, err = tx.GetTransaction(ctx, "t1")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestTx_StagedEditMovesRowOutOfFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, storage.Seed(ctx, store,
		&models.Transaction{ID: "t1", AccountID: "acc-1", Date: models.Date(2021, 1, 1)},
	))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	t1, err := tx.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	t1.Processed = true
	require.NoError(t, tx.Update(t1))

	list, err := tx.ListTransactions(ctx, interfaces.TransactionFilter{Processed: models.Some(false)})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTx_AddThenRemoveIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	b := &models.Budget{ID: "b1", CategoryID: "cat"}
	require.NoError(t, tx.Add(b))
	require.NoError(t, tx.Remove(b))
	require.NoError(t, tx.Commit(ctx))

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.GetBudget(ctx, "b1")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestTx_DuplicateAddConflicts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	tx1, err := store.Begin(ctx)
	require.NoError(t, err)
	tx2, err := store.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, tx1.Add(&models.Category{ID: "food"}))
	require.NoError(t, tx2.Add(&models.Category{ID: "food"}))
	require.NoError(t, tx1.Commit(ctx))
	assert.True(t, errors.Is(tx2.Commit(ctx), common.ErrConflict))
}

func TestTx_LatestSplitwiseUpdatedAt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	latest, err := tx.LatestSplitwiseUpdatedAt(ctx)
	require.NoError(t, err)
	assert.True(t, latest.IsNone())
	tx.Rollback()

	older := models.Date(2021, 3, 1)
	newer := models.Date(2021, 3, 5)
	require.NoError(t, storage.Seed(ctx, store,
		&models.SplitwiseTransaction{ID: 1, Synced: true, UpdatedAt: older},
		&models.SplitwiseTransaction{ID: 2, Synced: true, UpdatedAt: newer},
		&models.SplitwiseTransaction{ID: 3, UpdatedAt: models.Date(2021, 3, 9)},
	))

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	latest, err = tx.LatestSplitwiseUpdatedAt(ctx)
	require.NoError(t, err)
	got, ok := latest.Get()
	require.True(t, ok)
	assert.True(t, got.Equal(newer), "unsynced rows are ignored")

	staged := models.Date(2021, 3, 7)
	require.NoError(t, tx.Add(&models.SplitwiseTransaction{ID: 4, Synced: true, UpdatedAt: staged}))
	require.NoError(t, tx.Add(&models.SplitwiseTransaction{ID: 5, UpdatedAt: models.Date(2021, 3, 20)}))
	latest, err = tx.LatestSplitwiseUpdatedAt(ctx)
	require.NoError(t, err)
	got, ok = latest.Get()
	require.True(t, ok)
	assert.True(t, got.Equal(staged))
}
