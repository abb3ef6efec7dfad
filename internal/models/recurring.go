package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// RecurringTransaction is a template expanded into concrete transactions on a
// fixed schedule. NextOccurrence is the cursor; it is None once Finished.
type RecurringTransaction struct {
	ID                 string            `json:"id"`
	Type               TransactionType   `json:"type"`
	AccountID          string            `json:"account_id"`
	CategoryID         Option[string]    `json:"category_id"`
	ReceivingAccountID Option[string]    `json:"receiving_account_id"`
	Amount             decimal.Decimal   `json:"amount"`
	Description        string            `json:"description"`
	StartDate          time.Time         `json:"start_date"`
	EndDate            Option[time.Time] `json:"end_date"`
	NextOccurrence     Option[time.Time] `json:"next_occurrence"`
	LastOccurrence     Option[time.Time] `json:"last_occurrence"`
	Interval           int               `json:"interval"`
	IntervalUnit       IntervalUnit      `json:"interval_unit"`
	NeedsConfirmation  bool              `json:"needs_confirmation"`
	Finished           bool              `json:"finished"`
	PaymentRequests    []PaymentRequest  `json:"payment_requests"`
	Version            int64             `json:"version"`
}

func (r *RecurringTransaction) EntityKind() Kind         { return KindRecurringTransaction }
func (r *RecurringTransaction) EntityKey() string        { return r.ID }
func (r *RecurringTransaction) EntityVersion() int64     { return r.Version }
func (r *RecurringTransaction) SetEntityVersion(v int64) { r.Version = v }
func (r *RecurringTransaction) CloneEntity() Entity {
	c := *r
	c.PaymentRequests = slices.Clone(r.PaymentRequests)
	return &c
}
