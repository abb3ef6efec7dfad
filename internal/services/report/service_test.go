package report

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/bobmcallan/tally/internal/storage"
	"github.com/bobmcallan/tally/internal/storage/memory"
	"github.com/bobmcallan/tally/internal/timeline"
)

func newTestService(t *testing.T, entities ...models.Entity) *Service {
	t.Helper()
	logger := common.NewSilentLogger()
	store := storage.NewStore(logger, memory.NewBackend())
	require.NoError(t, storage.Seed(context.Background(), store, entities...))
	return NewService(store, logger)
}

func TestComputeIntervals(t *testing.T) {
	svc := newTestService(t)

	got, err := svc.ComputeIntervals(models.Date(2021, 1, 1), models.Date(2021, 1, 14), models.Some(2))
	require.NoError(t, err)
	assert.Equal(t, models.UnitWeeks, got.Unit)

	got, err = svc.ComputeIntervals(models.Date(2021, 1, 1), models.Date(2021, 12, 31), models.None[int]())
	require.NoError(t, err)
	assert.Equal(t, models.UnitMonths, got.Unit)
	assert.Len(t, got.Buckets, 12)

	_, err = svc.ComputeIntervals(models.Date(2021, 1, 1), models.Date(2024, 1, 1), models.Some(2))
	assert.True(t, errors.Is(err, timeline.ErrIntervalBudgetExceeded))
}

func TestNetWorth(t *testing.T) {
	svc := newTestService(t,
		&models.DailyBalance{AccountID: "a", Date: models.Date(2021, 1, 1), Balance: decimal.NewFromInt(100)},
		&models.DailyBalance{AccountID: "a", Date: models.Date(2021, 1, 10), Balance: decimal.NewFromInt(80)},
		&models.DailyBalance{AccountID: "b", Date: models.Date(2021, 1, 5), Balance: decimal.NewFromInt(1000)},
	)

	got, err := svc.NetWorth(context.Background(), models.Date(2021, 1, 1), models.Date(2021, 1, 14), models.Some(2))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Balance.Equal(decimal.NewFromInt(1100)), "end of first week: %s", got[0].Balance)
	assert.True(t, got[1].Balance.Equal(decimal.NewFromInt(1080)), "end of second week: %s", got[1].Balance)
}

func TestNetWorth_BalanceBeforeWindowCarriesIn(t *testing.T) {
	svc := newTestService(t,
		&models.DailyBalance{AccountID: "a", Date: models.Date(2020, 12, 1), Balance: decimal.NewFromInt(300)},
		&models.DailyBalance{AccountID: "a", Date: models.Date(2021, 1, 20), Balance: decimal.NewFromInt(10)},
	)

	got, err := svc.NetWorth(context.Background(), models.Date(2021, 1, 1), models.Date(2021, 1, 14), models.Some(2))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Balance.Equal(decimal.NewFromInt(300)))
	assert.True(t, got[1].Balance.Equal(decimal.NewFromInt(300)), "later snapshots stay outside the window")
}

func TestDailyNetWorth(t *testing.T) {
	svc := newTestService(t,
		&models.DailyBalance{AccountID: "a", Date: models.Date(2021, 1, 1), Balance: decimal.NewFromInt(100)},
		&models.DailyBalance{AccountID: "b", Date: models.Date(2021, 1, 3), Balance: decimal.NewFromInt(50)},
	)

	got, err := svc.DailyNetWorth(context.Background(), models.Date(2020, 12, 31), models.Date(2021, 1, 4))
	require.NoError(t, err)
	require.Len(t, got, 5)
	want := []int64{0, 100, 100, 150, 150}
	for i, w := range want {
		assert.True(t, got[i].Start.Equal(got[i].End), "day %d is a single day", i)
		assert.True(t, got[i].Balance.Equal(decimal.NewFromInt(w)), "day %d: %s", i, got[i].Balance)
	}
	assert.True(t, got[4].End.Equal(models.Date(2021, 1, 4)))

	_, err = svc.DailyNetWorth(context.Background(), models.Date(2021, 1, 4), models.Date(2021, 1, 1))
	assert.True(t, errors.Is(err, common.ErrValidation))
}

func TestBalanceTimeline_FiltersAccounts(t *testing.T) {
	svc := newTestService(t,
		&models.DailyBalance{AccountID: "a", Date: models.Date(2021, 1, 1), Balance: decimal.NewFromInt(100)},
		&models.DailyBalance{AccountID: "b", Date: models.Date(2021, 1, 5), Balance: decimal.NewFromInt(1000)},
	)

	got, err := svc.BalanceTimeline(context.Background(), []string{"b"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Start.Equal(models.Date(2021, 1, 5)))
	assert.True(t, got[0].End.Equal(models.MaxDate))
}

func TestCashFlow(t *testing.T) {
	svc := newTestService(t,
		&models.Transaction{ID: "1", Type: models.TransactionIncome, Amount: decimal.NewFromInt(500), Date: models.Date(2021, 1, 2), Processed: true},
		&models.Transaction{ID: "2", Type: models.TransactionExpense, Amount: decimal.NewFromInt(-120), Date: models.Date(2021, 1, 3), Processed: true},
		&models.Transaction{ID: "3", Type: models.TransactionExpense, Amount: decimal.NewFromInt(-30), Date: models.Date(2021, 1, 9), Processed: true},
		&models.Transaction{ID: "4", Type: models.TransactionTransfer, Amount: decimal.NewFromInt(70), Date: models.Date(2021, 1, 9), Processed: true},
		&models.Transaction{ID: "5", Type: models.TransactionExpense, Amount: decimal.NewFromInt(-999), Date: models.Date(2021, 1, 9)},
		&models.Transaction{ID: "6", Type: models.TransactionExpense, Amount: decimal.NewFromInt(-5), Date: models.Date(2021, 1, 20), Processed: true},
	)

	got, err := svc.CashFlow(context.Background(), models.Date(2021, 1, 1), models.Date(2021, 1, 14), models.Some(2))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.True(t, got[0].Income.Equal(decimal.NewFromInt(500)))
	assert.True(t, got[0].Expense.Equal(decimal.NewFromInt(120)))
	assert.True(t, got[0].Net.Equal(decimal.NewFromInt(380)))
	assert.True(t, got[1].Income.IsZero())
	assert.True(t, got[1].Expense.Equal(decimal.NewFromInt(30)))
	assert.True(t, got[1].Net.Equal(decimal.NewFromInt(-30)))
}
