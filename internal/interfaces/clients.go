// Package interfaces defines service contracts for Tally
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/tally/internal/models"
)

// SplitwiseClient provides access to the Splitwise API. Network and auth
// failures are returned as common.ErrExternalService errors.
type SplitwiseClient interface {
	// GetExpensesUpdatedAfter retrieves all expenses updated strictly after ts,
	// including deleted ones.
	GetExpensesUpdatedAfter(ctx context.Context, ts time.Time) ([]*models.SplitwiseExpense, error)

	// CreateExpense creates an expense paid by the current user.
	CreateExpense(ctx context.Context, expense models.NewSplitwiseExpense) (*models.SplitwiseExpense, error)

	// DeleteExpense deletes an expense.
	DeleteExpense(ctx context.Context, id int64) error

	// GetUsers returns the users the current user can split with.
	GetUsers(ctx context.Context) ([]*models.SplitwiseUser, error)
}
