package models

import (
	"slices"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// SplitwiseSplit is one user's owed share of a Splitwise expense.
type SplitwiseSplit struct {
	UserID int64           `json:"user_id"`
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// SplitwiseExpense is an expense as reported by the Splitwise API, reduced to
// the current user's perspective.
type SplitwiseExpense struct {
	ID             int64            `json:"id"`
	Description    string           `json:"description"`
	Date           time.Time        `json:"date"`
	PaidAmount     decimal.Decimal  `json:"paid_amount"`
	PersonalAmount decimal.Decimal  `json:"personal_amount"`
	UpdatedAt      time.Time        `json:"updated_at"`
	IsDeleted      bool             `json:"is_deleted"`
	Splits         []SplitwiseSplit `json:"splits"`
}

// NewSplitwiseExpense is the payload for creating an expense the current user paid.
type NewSplitwiseExpense struct {
	Amount      decimal.Decimal
	Description string
	Date        time.Time
	Splits      []SplitDetail
}

// SplitwiseUser is a user the current user shares expenses with.
type SplitwiseUser struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SplitwiseTransaction is the local copy of a Splitwise expense. Before import
// it owns the financial state; after import the derived Transaction does.
type SplitwiseTransaction struct {
	ID             int64            `json:"id"`
	Description    string           `json:"description"`
	Date           time.Time        `json:"date"`
	PaidAmount     decimal.Decimal  `json:"paid_amount"`
	PersonalAmount decimal.Decimal  `json:"personal_amount"`
	UpdatedAt      time.Time        `json:"updated_at"`
	IsDeleted      bool             `json:"is_deleted"`
	Imported       bool             `json:"imported"`
	Synced         bool             `json:"synced"` // written from a fetched expense
	TransactionID  Option[string]   `json:"transaction_id"`
	Splits         []SplitwiseSplit `json:"splits"`
	Version        int64            `json:"version"`
}

// Refresh copies the upstream field values of e onto the local record.
func (s *SplitwiseTransaction) Refresh(e *SplitwiseExpense) {
	s.ID = e.ID
	s.Description = e.Description
	s.Date = Day(e.Date)
	s.PaidAmount = e.PaidAmount
	s.PersonalAmount = e.PersonalAmount
	s.UpdatedAt = e.UpdatedAt
	s.IsDeleted = e.IsDeleted
	s.Splits = slices.Clone(e.Splits)
}

func (s *SplitwiseTransaction) EntityKind() Kind         { return KindSplitwiseTransaction }
func (s *SplitwiseTransaction) EntityKey() string        { return strconv.FormatInt(s.ID, 10) }
func (s *SplitwiseTransaction) EntityVersion() int64     { return s.Version }
func (s *SplitwiseTransaction) SetEntityVersion(v int64) { s.Version = v }
func (s *SplitwiseTransaction) CloneEntity() Entity {
	c := *s
	c.Splits = slices.Clone(s.Splits)
	return &c
}
