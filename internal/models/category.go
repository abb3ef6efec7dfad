package models

import "github.com/shopspring/decimal"

// CategoryType separates spending from earning categories.
type CategoryType string

const (
	CategoryExpense CategoryType = "expense"
	CategoryIncome  CategoryType = "income"
)

// Category classifies expense and income transactions. A category with a
// parent never has children of its own.
type Category struct {
	ID                    string                  `json:"id"`
	Description           string                  `json:"description"`
	Type                  CategoryType            `json:"type"`
	ParentID              Option[string]          `json:"parent_id"`
	IsObsolete            bool                    `json:"is_obsolete"`
	ExpectedMonthlyAmount Option[decimal.Decimal] `json:"expected_monthly_amount"`
	Version               int64                   `json:"version"`
}

func (c *Category) EntityKind() Kind         { return KindCategory }
func (c *Category) EntityKey() string        { return c.ID }
func (c *Category) EntityVersion() int64     { return c.Version }
func (c *Category) SetEntityVersion(v int64) { c.Version = v }
func (c *Category) CloneEntity() Entity {
	cp := *c
	return &cp
}
