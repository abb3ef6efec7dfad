package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// adjustBalance adds delta to the account's current balance, to its snapshot
// on date and to every later snapshot. A missing snapshot on date is created
// from the latest earlier one; an account with no snapshots at all starts
// from its current balance.
func adjustBalance(ctx context.Context, tx interfaces.Tx, account *models.Account, date time.Time, delta decimal.Decimal) error {
	date = models.Day(date)

	snapshots, err := tx.ListDailyBalances(ctx, interfaces.DailyBalanceFilter{AccountIDs: []string{account.ID}})
	if err != nil {
		return fmt.Errorf("list balances of %s: %w", account.ID, err)
	}

	base := decimal.Zero
	if len(snapshots) == 0 {
		base = account.CurrentBalance
	}
	onDate := false
	for _, s := range snapshots {
		switch {
		case s.Date.Before(date):
			base = s.Balance
			continue
		case s.Date.Equal(date):
			onDate = true
		}
		s.Balance = s.Balance.Add(delta)
		if err := tx.Update(s); err != nil {
			return err
		}
	}
	if !onDate {
		if err := tx.Add(&models.DailyBalance{
			AccountID: account.ID,
			Date:      date,
			Balance:   base.Add(delta),
		}); err != nil {
			return err
		}
	}

	account.CurrentBalance = account.CurrentBalance.Add(delta)
	return tx.Update(account)
}
