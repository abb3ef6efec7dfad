package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/tally/internal/models"
)

// TransactionProcessor applies and reverts transactions against account
// balances, dated snapshots and budgets. Both run inside the caller's Tx.
type TransactionProcessor interface {
	Apply(ctx context.Context, tx Tx, t *models.Transaction) error
	Revert(ctx context.Context, tx Tx, t *models.Transaction) error
}

// RecurrenceService expands recurring templates into concrete transactions.
type RecurrenceService interface {
	// Expand materializes every occurrence due on or before today and
	// advances the template cursor. The template is updated in tx.
	Expand(ctx context.Context, tx Tx, r *models.RecurringTransaction, today time.Time) ([]*models.Transaction, error)

	// Create stores a new template and expands it immediately.
	Create(ctx context.Context, req models.NewRecurringTransaction) (*models.RecurringTransaction, error)
}

// PeriodicProcessor runs the scheduled processing batch.
type PeriodicProcessor interface {
	RunBatch(ctx context.Context) (*models.BatchResult, error)
}

// SplitwiseService keeps local transactions in sync with Splitwise.
type SplitwiseService interface {
	ImportFromExternal(ctx context.Context) (*models.ImportResult, error)
	ImportTransaction(ctx context.Context, id int64, accountID models.Option[string], categoryID string) (*models.Transaction, error)
}

// ReportService computes reporting buckets and balance timelines.
type ReportService interface {
	ComputeIntervals(start, end time.Time, maxIntervals models.Option[int]) (models.Intervals, error)
	BalanceTimeline(ctx context.Context, accountIDs []string) ([]models.BalanceInterval, error)
	NetWorth(ctx context.Context, start, end time.Time, maxIntervals models.Option[int]) ([]models.NetWorthPoint, error)
	DailyNetWorth(ctx context.Context, start, end time.Time) ([]models.BalanceInterval, error)
	CashFlow(ctx context.Context, start, end time.Time, maxIntervals models.Option[int]) ([]models.CashFlowBucket, error)
}

// LedgerService is the interactive surface used by API handlers.
type LedgerService interface {
	CreateTransaction(ctx context.Context, req models.NewTransaction) (*models.Transaction, error)
	ConfirmTransaction(ctx context.Context, id string) (*models.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error
	CreateBudget(ctx context.Context, req models.NewBudget) (*models.Budget, error)
	UpdateBudgetPeriod(ctx context.Context, id string, start, end time.Time) (*models.Budget, error)
}
