package processor

import (
	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tally/internal/models"
)

// Contribution is what t adds to b.Spent when processed: the absolute amount
// of an expense in b's category dated inside b's window, zero otherwise.
func Contribution(b *models.Budget, t *models.Transaction) decimal.Decimal {
	if t.Type != models.TransactionExpense || t.CategoryID != models.Some(b.CategoryID) || !b.Covers(t.Date) {
		return decimal.Zero
	}
	return t.Amount.Abs()
}

// BudgetSpent recomputes b.Spent from scratch over the processed transactions.
func BudgetSpent(b *models.Budget, transactions []*models.Transaction) decimal.Decimal {
	spent := decimal.Zero
	for _, t := range transactions {
		if t.Processed {
			spent = spent.Add(Contribution(b, t))
		}
	}
	return spent
}
