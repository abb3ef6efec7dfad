package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a place money lives. CurrentBalance always equals the balance of
// the latest DailyBalance of the account.
type Account struct {
	ID             string          `json:"id"`
	Description    string          `json:"description"`
	IsDefault      bool            `json:"is_default"`
	IsObsolete     bool            `json:"is_obsolete"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	IconID         Option[string]  `json:"icon_id"`
	Version        int64           `json:"version"`
}

func (a *Account) EntityKind() Kind         { return KindAccount }
func (a *Account) EntityKey() string        { return a.ID }
func (a *Account) EntityVersion() int64     { return a.Version }
func (a *Account) SetEntityVersion(v int64) { a.Version = v }
func (a *Account) CloneEntity() Entity {
	c := *a
	return &c
}

// DailyBalance is the balance of one account at the end of one calendar date.
// (AccountID, Date) is unique.
type DailyBalance struct {
	AccountID string          `json:"account_id"`
	Date      time.Time       `json:"date"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
}

// DailyBalanceKey is the storage key of the snapshot for (accountID, date).
func DailyBalanceKey(accountID string, date time.Time) string {
	return accountID + "_" + FormatDate(date)
}

func (b *DailyBalance) EntityKind() Kind         { return KindDailyBalance }
func (b *DailyBalance) EntityKey() string        { return DailyBalanceKey(b.AccountID, b.Date) }
func (b *DailyBalance) EntityVersion() int64     { return b.Version }
func (b *DailyBalance) SetEntityVersion(v int64) { b.Version = v }
func (b *DailyBalance) CloneEntity() Entity {
	c := *b
	return &c
}
