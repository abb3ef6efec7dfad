package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// NewTransaction is the input of an interactive transaction creation.
type NewTransaction struct {
	AccountID          string           `json:"account_id"`
	CategoryID         Option[string]   `json:"category_id"`
	ReceivingAccountID Option[string]   `json:"receiving_account_id"`
	Amount             decimal.Decimal  `json:"amount"`
	Description        string           `json:"description"`
	Date               time.Time        `json:"date"`
	NeedsConfirmation  bool             `json:"needs_confirmation"`
	PaymentRequests    []PaymentRequest `json:"payment_requests"`
	SplitDetails       []SplitDetail    `json:"split_details"`
}

// NewRecurringTransaction is the input of a recurring template creation.
type NewRecurringTransaction struct {
	AccountID          string            `json:"account_id"`
	CategoryID         Option[string]    `json:"category_id"`
	ReceivingAccountID Option[string]    `json:"receiving_account_id"`
	Amount             decimal.Decimal   `json:"amount"`
	Description        string            `json:"description"`
	StartDate          time.Time         `json:"start_date"`
	EndDate            Option[time.Time] `json:"end_date"`
	Interval           int               `json:"interval"`
	IntervalUnit       IntervalUnit      `json:"interval_unit"`
	NeedsConfirmation  bool              `json:"needs_confirmation"`
	PaymentRequests    []PaymentRequest  `json:"payment_requests"`
}

// NewBudget is the input of a budget creation.
type NewBudget struct {
	Description string          `json:"description"`
	CategoryID  string          `json:"category_id"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	Amount      decimal.Decimal `json:"amount"`
}

// CashFlowBucket is the processed income and expense of one reporting bucket.
// Expense is reported as a positive total.
type CashFlowBucket struct {
	DateInterval
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	Net     decimal.Decimal `json:"net"`
}

// NetWorthPoint is the combined balance at the end of one reporting bucket.
type NetWorthPoint struct {
	DateInterval
	Balance decimal.Decimal `json:"balance"`
}
