package models

// Kind names a persisted entity type. It doubles as the storage table name.
type Kind string

const (
	KindAccount              Kind = "account"
	KindDailyBalance         Kind = "daily_balance"
	KindCategory             Kind = "category"
	KindBudget               Kind = "budget"
	KindTransaction          Kind = "ledger_transaction"
	KindRecurringTransaction Kind = "recurring_transaction"
	KindSplitwiseTransaction Kind = "splitwise_transaction"
)

// Entity is implemented by every row the unit of work tracks.
type Entity interface {
	EntityKind() Kind
	EntityKey() string
	EntityVersion() int64
	SetEntityVersion(v int64)
	CloneEntity() Entity
}
