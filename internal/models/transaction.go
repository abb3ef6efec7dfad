package models

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is derived from which of category / receiving account is set.
type TransactionType string

const (
	TransactionExpense  TransactionType = "expense"
	TransactionIncome   TransactionType = "income"
	TransactionTransfer TransactionType = "transfer"
)

// DeriveTransactionType returns Transfer when a receiving account is set and
// the category's type otherwise. Exactly one of the two must be given.
func DeriveTransactionType(category *Category, receivingAccountID Option[string]) (TransactionType, error) {
	switch {
	case category != nil && receivingAccountID.IsSome():
		return "", fmt.Errorf("a transaction has either a category or a receiving account, not both")
	case receivingAccountID.IsSome():
		return TransactionTransfer, nil
	case category == nil:
		return "", fmt.Errorf("a transaction needs a category or a receiving account")
	case category.Type == CategoryIncome:
		return TransactionIncome, nil
	default:
		return TransactionExpense, nil
	}
}

// CheckAmount enforces the sign convention: expenses are negative, income and
// transfers positive, and nothing is zero.
func (t TransactionType) CheckAmount(amount decimal.Decimal) error {
	switch {
	case amount.IsZero():
		return fmt.Errorf("amount must not be zero")
	case t == TransactionExpense && amount.IsPositive():
		return fmt.Errorf("expense amount must be negative, got %s", amount)
	case t != TransactionExpense && amount.IsNegative():
		return fmt.Errorf("%s amount must be positive, got %s", t, amount)
	}
	return nil
}

// PaymentRequest records money someone owes back for a transaction.
type PaymentRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
	Count     int             `json:"count"`
	PaidCount int             `json:"paid_count"`
}

// SplitDetail is one Splitwise user's share of a transaction the owner paid.
type SplitDetail struct {
	SplitwiseUserID   int64           `json:"splitwise_user_id"`
	SplitwiseUserName string          `json:"splitwise_user_name"`
	Amount            decimal.Decimal `json:"amount"`
}

// Transaction is one concrete money movement. Amount sign convention: expense
// negative, income positive, transfer positive (direction given by accounts).
type Transaction struct {
	ID                     string           `json:"id"`
	Type                   TransactionType  `json:"type"`
	AccountID              string           `json:"account_id"`
	CategoryID             Option[string]   `json:"category_id"`
	ReceivingAccountID     Option[string]   `json:"receiving_account_id"`
	Amount                 decimal.Decimal  `json:"amount"`
	Description            string           `json:"description"`
	Date                   time.Time        `json:"date"`
	Processed              bool             `json:"processed"`
	NeedsConfirmation      bool             `json:"needs_confirmation"`
	IsConfirmed            Option[bool]     `json:"is_confirmed"`
	RecurringTransactionID Option[string]   `json:"recurring_transaction_id"`
	SplitwiseTransactionID Option[int64]    `json:"splitwise_transaction_id"`
	PaymentRequests        []PaymentRequest `json:"payment_requests"`
	SplitDetails           []SplitDetail    `json:"split_details"`
	Version                int64            `json:"version"`
}

// IsEligible reports whether the transaction may be processed on today:
// it is dated on or before today and needs no (outstanding) confirmation.
func (t *Transaction) IsEligible(today time.Time) bool {
	if t.Date.After(Day(today)) {
		return false
	}
	if !t.NeedsConfirmation {
		return true
	}
	return t.IsConfirmed.OrElse(false)
}

func (t *Transaction) EntityKind() Kind         { return KindTransaction }
func (t *Transaction) EntityKey() string        { return t.ID }
func (t *Transaction) EntityVersion() int64     { return t.Version }
func (t *Transaction) SetEntityVersion(v int64) { t.Version = v }
func (t *Transaction) CloneEntity() Entity {
	c := *t
	c.PaymentRequests = slices.Clone(t.PaymentRequests)
	c.SplitDetails = slices.Clone(t.SplitDetails)
	return &c
}
