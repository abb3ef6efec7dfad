package models

import "github.com/shopspring/decimal"

// Intervals is a partition of a date range into buckets of one granularity.
type Intervals struct {
	Unit    IntervalUnit   `json:"unit"`
	Buckets []DateInterval `json:"buckets"`
}

// BalanceInterval is a date range over which a balance is constant.
type BalanceInterval struct {
	DateInterval
	Balance decimal.Decimal `json:"balance"`
}
