package surrealdb

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// timestampLayout sorts lexically in time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// tables lists every entity table.
var tables = []models.Kind{
	models.KindAccount,
	models.KindDailyBalance,
	models.KindCategory,
	models.KindBudget,
	models.KindTransaction,
	models.KindRecurringTransaction,
	models.KindSplitwiseTransaction,
}

// storedRow is the part of a record read back: the entity is kept as a JSON
// document next to the columns queries filter on.
type storedRow struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
	Doc     string `json:"doc"`
}

func newEntity(kind models.Kind) (models.Entity, error) {
	switch kind {
	case models.KindAccount:
		return &models.Account{}, nil
	case models.KindDailyBalance:
		return &models.DailyBalance{}, nil
	case models.KindCategory:
		return &models.Category{}, nil
	case models.KindBudget:
		return &models.Budget{}, nil
	case models.KindTransaction:
		return &models.Transaction{}, nil
	case models.KindRecurringTransaction:
		return &models.RecurringTransaction{}, nil
	case models.KindSplitwiseTransaction:
		return &models.SplitwiseTransaction{}, nil
	}
	return nil, fmt.Errorf("unknown entity kind %q", kind)
}

func decodeRow(kind models.Kind, r storedRow) (models.Entity, error) {
	e, err := newEntity(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(r.Doc), e); err != nil {
		return nil, fmt.Errorf("decode %s %q: %w", kind, r.Key, err)
	}
	e.SetEntityVersion(r.Version)
	return e, nil
}

// encodeRow builds the record content written for e at the given version.
func encodeRow(e models.Entity, version int64) (map[string]any, error) {
	doc, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s %q: %w", e.EntityKind(), e.EntityKey(), err)
	}
	row := map[string]any{
		"key":     e.EntityKey(),
		"version": version,
		"doc":     string(doc),
	}
	for k, v := range indexColumns(e) {
		row[k] = v
	}
	return row, nil
}

func indexColumns(e models.Entity) map[string]any {
	switch v := e.(type) {
	case *models.Account:
		return map[string]any{"is_obsolete": v.IsObsolete}
	case *models.Category:
		return map[string]any{"is_obsolete": v.IsObsolete}
	case *models.DailyBalance:
		return map[string]any{
			"account_id": v.AccountID,
			"date":       models.FormatDate(v.Date),
		}
	case *models.Budget:
		return map[string]any{
			"category_id": v.CategoryID,
			"start_date":  models.FormatDate(v.StartDate),
			"end_date":    models.FormatDate(v.EndDate),
		}
	case *models.Transaction:
		return map[string]any{
			"account_id":               v.AccountID,
			"receiving_account_id":     v.ReceivingAccountID.OrElse(""),
			"category_id":              v.CategoryID.OrElse(""),
			"date":                     models.FormatDate(v.Date),
			"processed":                v.Processed,
			"recurring_transaction_id": v.RecurringTransactionID.OrElse(""),
			"splitwise_transaction_id": v.SplitwiseTransactionID.OrElse(0),
		}
	case *models.RecurringTransaction:
		return map[string]any{
			"finished":   v.Finished,
			"start_date": models.FormatDate(v.StartDate),
		}
	case *models.SplitwiseTransaction:
		return map[string]any{
			"imported":   v.Imported,
			"is_deleted": v.IsDeleted,
			"synced":     v.Synced,
			"updated_at": v.UpdatedAt.UTC().Format(timestampLayout),
		}
	}
	return nil
}

// whereClause narrows a query on the indexed columns. Rows are still checked
// against the filter in Go, so the clause only has to be a superset.
func whereClause(filter interfaces.Filter) (string, map[string]any) {
	var conds []string
	vars := map[string]any{}
	add := func(cond, name string, value any) {
		conds = append(conds, cond)
		vars[name] = value
	}
	date := func(t time.Time) string { return models.FormatDate(t) }

	switch f := filter.(type) {
	case interfaces.AccountFilter:
		if !f.IncludeObsolete {
			add("is_obsolete = $obsolete", "obsolete", false)
		}
	case interfaces.TransactionFilter:
		if id, ok := f.AccountID.Get(); ok {
			add("(account_id = $account OR receiving_account_id = $account)", "account", id)
		}
		if id, ok := f.CategoryID.Get(); ok {
			add("category_id = $category", "category", id)
		}
		if from, ok := f.From.Get(); ok {
			add("date >= $from", "from", date(from))
		}
		if to, ok := f.To.Get(); ok {
			add("date <= $to", "to", date(to))
		}
		if p, ok := f.Processed.Get(); ok {
			add("processed = $processed", "processed", p)
		}
		if id, ok := f.RecurringTransactionID.Get(); ok {
			add("recurring_transaction_id = $recurring", "recurring", id)
		}
		if id, ok := f.SplitwiseTransactionID.Get(); ok {
			add("splitwise_transaction_id = $splitwise", "splitwise", id)
		}
	case interfaces.RecurringTransactionFilter:
		if fin, ok := f.Finished.Get(); ok {
			add("finished = $finished", "finished", fin)
		}
		if d, ok := f.StartedOnOrBefore.Get(); ok {
			add("start_date <= $started", "started", date(d))
		}
	case interfaces.BudgetFilter:
		if id, ok := f.CategoryID.Get(); ok {
			add("category_id = $category", "category", id)
		}
		if d, ok := f.Covers.Get(); ok {
			add("start_date <= $covers AND end_date >= $covers", "covers", date(d))
		}
	case interfaces.SplitwiseTransactionFilter:
		if imp, ok := f.Imported.Get(); ok {
			add("imported = $imported", "imported", imp)
		}
		if del, ok := f.IsDeleted.Get(); ok {
			add("is_deleted = $deleted", "deleted", del)
		}
	case interfaces.DailyBalanceFilter:
		if len(f.AccountIDs) > 0 {
			add("account_id INSIDE $accounts", "accounts", f.AccountIDs)
		}
		if from, ok := f.From.Get(); ok {
			add("date >= $from", "from", date(from))
		}
		if to, ok := f.To.Get(); ok {
			add("date <= $to", "to", date(to))
		}
	}

	if len(conds) == 0 {
		return "", vars
	}
	return " WHERE " + strings.Join(conds, " AND "), vars
}
