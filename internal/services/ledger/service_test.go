package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/bobmcallan/tally/internal/services/processor"
	"github.com/bobmcallan/tally/internal/storage"
	"github.com/bobmcallan/tally/internal/storage/memory"
)

// mockSplitwise records calls made by the ledger service.
type mockSplitwise struct {
	users     []*models.SplitwiseUser
	createErr error
	created   []models.NewSplitwiseExpense
	deleted   []int64
	nextID    int64
}

func (m *mockSplitwise) GetExpensesUpdatedAfter(ctx context.Context, ts time.Time) ([]*models.SplitwiseExpense, error) {
	return nil, nil
}

func (m *mockSplitwise) CreateExpense(ctx context.Context, e models.NewSplitwiseExpense) (*models.SplitwiseExpense, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, e)
	m.nextID++
	shared := decimal.Zero
	for _, s := range e.Splits {
		shared = shared.Add(s.Amount)
	}
	return &models.SplitwiseExpense{
		ID:             m.nextID,
		Description:    e.Description,
		Date:           e.Date,
		PaidAmount:     e.Amount,
		PersonalAmount: e.Amount.Sub(shared),
		UpdatedAt:      time.Date(2021, 3, 10, 9, 0, 0, 0, time.UTC),
	}, nil
}

func (m *mockSplitwise) DeleteExpense(ctx context.Context, id int64) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockSplitwise) GetUsers(ctx context.Context) ([]*models.SplitwiseUser, error) {
	return m.users, nil
}

var today = models.Date(2021, 3, 10)

type fixture struct {
	store *storage.Store
	sw    *mockSplitwise
	svc   *Service
}

func newFixture(t *testing.T, entities ...models.Entity) *fixture {
	t.Helper()
	logger := common.NewSilentLogger()
	store := storage.NewStore(logger, memory.NewBackend())
	base := []models.Entity{
		&models.Account{ID: "checking", CurrentBalance: decimal.NewFromInt(1000)},
		&models.Account{ID: "savings", CurrentBalance: decimal.NewFromInt(0)},
		&models.Account{ID: "closed", IsObsolete: true},
		&models.Category{ID: "food", Type: models.CategoryExpense},
		&models.Category{ID: "salary", Type: models.CategoryIncome},
	}
	require.NoError(t, storage.Seed(context.Background(), store, append(base, entities...)...))
	sw := &mockSplitwise{users: []*models.SplitwiseUser{{ID: 42, Name: "Sam"}}}
	svc := NewService(store, processor.NewService(logger), logger,
		WithClock(func() time.Time { return today }),
		WithSplitwise(sw),
	)
	return &fixture{store: store, sw: sw, svc: svc}
}

func (f *fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	tx, err := f.store.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	a, err := tx.GetAccount(context.Background(), id, true)
	require.NoError(t, err)
	return a.CurrentBalance
}

func (f *fixture) budget(t *testing.T, id string) *models.Budget {
	t.Helper()
	tx, err := f.store.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	b, err := tx.GetBudget(context.Background(), id)
	require.NoError(t, err)
	return b
}

func groceries(amount int64, date time.Time) models.NewTransaction {
	return models.NewTransaction{
		AccountID:   "checking",
		CategoryID:  models.Some("food"),
		Amount:      decimal.NewFromInt(amount),
		Description: "groceries",
		Date:        date,
	}
}

func TestCreateTransaction_AppliesWhenDue(t *testing.T) {
	f := newFixture(t)

	txn, err := f.svc.CreateTransaction(context.Background(), groceries(-40, models.Date(2021, 3, 9)))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionExpense, txn.Type)
	assert.True(t, txn.Processed)
	assert.True(t, f.balance(t, "checking").Equal(decimal.NewFromInt(960)))
}

func TestCreateTransaction_FutureIsNotApplied(t *testing.T) {
	f := newFixture(t)

	txn, err := f.svc.CreateTransaction(context.Background(), groceries(-40, models.Date(2021, 3, 11)))
	require.NoError(t, err)
	assert.False(t, txn.Processed)
	assert.True(t, f.balance(t, "checking").Equal(decimal.NewFromInt(1000)))
}

func TestCreateTransaction_Transfer(t *testing.T) {
	f := newFixture(t)

	txn, err := f.svc.CreateTransaction(context.Background(), models.NewTransaction{
		AccountID:          "checking",
		ReceivingAccountID: models.Some("savings"),
		Amount:             decimal.NewFromInt(250),
		Date:               today,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTransfer, txn.Type)
	assert.True(t, f.balance(t, "checking").Equal(decimal.NewFromInt(750)))
	assert.True(t, f.balance(t, "savings").Equal(decimal.NewFromInt(250)))
}

func TestCreateTransaction_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  models.NewTransaction
		want error
	}{
		{"positive expense", groceries(40, today), common.ErrValidation},
		{"zero amount", groceries(0, today), common.ErrValidation},
		{"no category or receiving account", models.NewTransaction{AccountID: "checking", Amount: decimal.NewFromInt(5), Date: today}, common.ErrValidation},
		{"same account transfer", models.NewTransaction{AccountID: "checking", ReceivingAccountID: models.Some("checking"), Amount: decimal.NewFromInt(5), Date: today}, common.ErrValidation},
		{"obsolete account", models.NewTransaction{AccountID: "closed", CategoryID: models.Some("food"), Amount: decimal.NewFromInt(-5), Date: today}, common.ErrObsolete},
		{"unknown category", models.NewTransaction{AccountID: "checking", CategoryID: models.Some("nope"), Amount: decimal.NewFromInt(-5), Date: today}, common.ErrNotFound},
		{"missing date", models.NewTransaction{AccountID: "checking", CategoryID: models.Some("food"), Amount: decimal.NewFromInt(-5)}, common.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateTransaction(context.Background(), tt.req)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
	assert.True(t, f.balance(t, "checking").Equal(decimal.NewFromInt(1000)))
}

func TestConfirmTransaction(t *testing.T) {
	f := newFixture(t)
	req := groceries(-15, models.Date(2021, 3, 1))
	req.NeedsConfirmation = true

	txn, err := f.svc.CreateTransaction(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, txn.Processed)

	confirmed, err := f.svc.ConfirmTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.True(t, confirmed.Processed)
	assert.Equal(t, models.Some(true), confirmed.IsConfirmed)
	assert.True(t, f.balance(t, "checking").Equal(decimal.NewFromInt(985)))

	_, err = f.svc.ConfirmTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.True(t, f.balance(t, "checking").Equal(decimal.NewFromInt(985)), "confirming twice applies once")
}

func TestDeleteTransaction_Reverts(t *testing.T) {
	f := newFixture(t)
	txn, err := f.svc.CreateTransaction(context.Background(), groceries(-40, today))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteTransaction(context.Background(), txn.ID))
	assert.True(t, f.balance(t, "checking").Equal(decimal.NewFromInt(1000)))

	err = f.svc.DeleteTransaction(context.Background(), txn.ID)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestCreateTransaction_SharedToSplitwise(t *testing.T) {
	f := newFixture(t)
	req := groceries(-60, today)
	req.SplitDetails = []models.SplitDetail{{SplitwiseUserID: 42, SplitwiseUserName: "Sam", Amount: decimal.NewFromInt(30)}}

	txn, err := f.svc.CreateTransaction(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, f.sw.created, 1)
	assert.True(t, f.sw.created[0].Amount.Equal(decimal.NewFromInt(60)))

	swID, ok := txn.SplitwiseTransactionID.Get()
	require.True(t, ok)

	tx, err := f.store.Begin(context.Background())
	require.NoError(t, err)
	record, err := tx.GetSplitwiseTransaction(context.Background(), swID)
	require.NoError(t, err)
	tx.Rollback()
	assert.True(t, record.Imported)
	assert.False(t, record.Synced, "shared records stay out of the sync watermark")
	assert.Equal(t, models.Some(txn.ID), record.TransactionID)

	require.NoError(t, f.svc.DeleteTransaction(context.Background(), txn.ID))
	assert.Equal(t, []int64{swID}, f.sw.deleted)
}

func TestCreateTransaction_UnknownSplitUser(t *testing.T) {
	f := newFixture(t)
	req := groceries(-60, today)
	req.SplitDetails = []models.SplitDetail{{SplitwiseUserID: 7, Amount: decimal.NewFromInt(30)}}

	_, err := f.svc.CreateTransaction(context.Background(), req)
	assert.True(t, errors.Is(err, common.ErrValidation))
	assert.Empty(t, f.sw.created)
}

func TestCreateTransaction_SplitwiseFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.sw.createErr = errors.New("503 service unavailable")
	req := groceries(-60, today)
	req.SplitDetails = []models.SplitDetail{{SplitwiseUserID: 42, Amount: decimal.NewFromInt(30)}}

	_, err := f.svc.CreateTransaction(context.Background(), req)
	assert.True(t, errors.Is(err, common.ErrExternalService))
	assert.True(t, f.balance(t, "checking").Equal(decimal.NewFromInt(1000)))

	tx, err := f.store.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	list, err := tx.ListTransactions(context.Background(), interfaces.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

// commitFailingStore fails the commit of the failOn-th unit of work.
type commitFailingStore struct {
	interfaces.Store
	begins int
	failOn int
}

func (s *commitFailingStore) Begin(ctx context.Context) (interfaces.Tx, error) {
	s.begins++
	tx, err := s.Store.Begin(ctx)
	if err != nil || s.begins != s.failOn {
		return tx, err
	}
	return commitFailingTx{tx}, nil
}

type commitFailingTx struct {
	interfaces.Tx
}

func (commitFailingTx) Commit(ctx context.Context) error {
	return errors.New("store unavailable")
}

func TestCreateTransaction_LinkFailureUndoesBothSides(t *testing.T) {
	f := newFixture(t)
	logger := common.NewSilentLogger()
	// Unit of work 1 creates the transaction, 2 links the Splitwise record.
	store := &commitFailingStore{Store: f.store, failOn: 2}
	svc := NewService(store, processor.NewService(logger), logger,
		WithClock(func() time.Time { return today }),
		WithSplitwise(f.sw),
	)
	req := groceries(-60, today)
	req.SplitDetails = []models.SplitDetail{{SplitwiseUserID: 42, Amount: decimal.NewFromInt(30)}}

	_, err := svc.CreateTransaction(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")

	require.Len(t, f.sw.created, 1)
	assert.Equal(t, []int64{1}, f.sw.deleted, "upstream expense must not be orphaned")
	assert.True(t, f.balance(t, "checking").Equal(decimal.NewFromInt(1000)))

	tx, err := f.store.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	list, err := tx.ListTransactions(context.Background(), interfaces.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	records, err := tx.ListSplitwiseTransactions(context.Background(), interfaces.SplitwiseTransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDeleteTransaction_ImportedRecordAwaitsReimport(t *testing.T) {
	f := newFixture(t,
		&models.Transaction{
			ID: "imp", Type: models.TransactionExpense, AccountID: "checking", CategoryID: models.Some("food"),
			Amount: decimal.NewFromInt(-12), Date: models.Date(2021, 3, 1), SplitwiseTransactionID: models.Some(int64(5)),
		},
		&models.SplitwiseTransaction{ID: 5, PersonalAmount: decimal.NewFromInt(12), Imported: true, TransactionID: models.Some("imp")},
	)

	require.NoError(t, f.svc.DeleteTransaction(context.Background(), "imp"))
	assert.Empty(t, f.sw.deleted)

	tx, err := f.store.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	record, err := tx.GetSplitwiseTransaction(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, record.Imported)
	assert.True(t, record.TransactionID.IsNone())
}

func TestBudgets_IncrementalMatchesRecompute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, tc := range []struct {
		amount int64
		date   time.Time
	}{
		{-10, models.Date(2021, 2, 27)},
		{-20, models.Date(2021, 3, 1)},
		{-40, models.Date(2021, 3, 5)},
	} {
		_, err := f.svc.CreateTransaction(ctx, groceries(tc.amount, tc.date))
		require.NoError(t, err)
	}

	b, err := f.svc.CreateBudget(ctx, models.NewBudget{
		Description: "march food", CategoryID: "food",
		StartDate: models.Date(2021, 3, 1), EndDate: models.Date(2021, 3, 31),
		Amount: decimal.NewFromInt(300),
	})
	require.NoError(t, err)
	assert.True(t, b.Spent.Equal(decimal.NewFromInt(60)), "got %s", b.Spent)

	_, err = f.svc.CreateTransaction(ctx, groceries(-5, models.Date(2021, 3, 8)))
	require.NoError(t, err)
	assert.True(t, f.budget(t, b.ID).Spent.Equal(decimal.NewFromInt(65)), "incremental")

	moved, err := f.svc.UpdateBudgetPeriod(ctx, b.ID, models.Date(2021, 2, 1), models.Date(2021, 3, 4))
	require.NoError(t, err)
	assert.True(t, moved.Spent.Equal(decimal.NewFromInt(30)), "got %s", moved.Spent)

	restored, err := f.svc.UpdateBudgetPeriod(ctx, b.ID, models.Date(2021, 3, 1), models.Date(2021, 3, 31))
	require.NoError(t, err)
	assert.True(t, restored.Spent.Equal(decimal.NewFromInt(65)), "recompute equals incremental total")
}

func TestCreateBudget_Validation(t *testing.T) {
	f := newFixture(t, &models.Category{ID: "old", Type: models.CategoryExpense, IsObsolete: true})
	ctx := context.Background()
	valid := models.NewBudget{CategoryID: "food", StartDate: models.Date(2021, 3, 1), EndDate: models.Date(2021, 3, 31), Amount: decimal.NewFromInt(100)}

	bad := valid
	bad.Amount = decimal.Zero
	_, err := f.svc.CreateBudget(ctx, bad)
	assert.True(t, errors.Is(err, common.ErrValidation))

	bad = valid
	bad.EndDate = models.Date(2021, 2, 1)
	_, err = f.svc.CreateBudget(ctx, bad)
	assert.True(t, errors.Is(err, common.ErrValidation))

	bad = valid
	bad.CategoryID = "salary"
	_, err = f.svc.CreateBudget(ctx, bad)
	assert.True(t, errors.Is(err, common.ErrValidation))

	bad = valid
	bad.CategoryID = "old"
	_, err = f.svc.CreateBudget(ctx, bad)
	assert.True(t, errors.Is(err, common.ErrObsolete))
}
