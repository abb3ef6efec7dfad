package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Budget tracks spending of one category over an inclusive date window.
type Budget struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	CategoryID  string          `json:"category_id"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	Amount      decimal.Decimal `json:"amount"`
	Spent       decimal.Decimal `json:"spent"`
	Version     int64           `json:"version"`
}

// Covers reports whether the budget window contains date.
func (b *Budget) Covers(date time.Time) bool {
	return DateInterval{Start: b.StartDate, End: b.EndDate}.Contains(date)
}

func (b *Budget) EntityKind() Kind         { return KindBudget }
func (b *Budget) EntityKey() string        { return b.ID }
func (b *Budget) EntityVersion() int64     { return b.Version }
func (b *Budget) SetEntityVersion(v int64) { b.Version = v }
func (b *Budget) CloneEntity() Entity {
	c := *b
	return &c
}
