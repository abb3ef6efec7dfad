// Package surrealdb is the SurrealDB storage backend.
package surrealdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// conflictMarker prefixes the error thrown when a version check fails.
const conflictMarker = "tally:version_conflict"

// Backend implements interfaces.Backend on SurrealDB.
type Backend struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// Compile-time check
var _ interfaces.Backend = (*Backend)(nil)

// NewBackend connects, selects the namespace and database, and defines the
// entity tables.
func NewBackend(ctx context.Context, logger *common.Logger, config common.StorageConfig) (*Backend, error) {
	db, err := surrealdb.New(config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Username,
		"pass": config.Password,
	}); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Namespace, config.Database); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	b, err := newBackendWithDB(ctx, db, logger)
	if err != nil {
		db.Close(ctx)
		return nil, err
	}

	logger.Info().
		Str("address", config.Address).
		Str("namespace", config.Namespace).
		Str("database", config.Database).
		Msg("SurrealDB storage backend initialized")
	return b, nil
}

func newBackendWithDB(ctx context.Context, db *surrealdb.DB, logger *common.Logger) (*Backend, error) {
	// SurrealDB v3 errors on querying non-existent tables
	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}
	return &Backend{db: db, logger: logger}, nil
}

func recordID(kind models.Kind, key string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(string(kind), key)
}

func isNotFoundError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "not found")
}

func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, conflictMarker) ||
		strings.Contains(msg, "read or write conflict") ||
		strings.Contains(msg, "can be retried")
}

func (b *Backend) Load(ctx context.Context, kind models.Kind, key string) (models.Entity, error) {
	sql := "SELECT key, version, doc FROM $rid"
	vars := map[string]any{"rid": recordID(kind, key)}

	results, err := surrealdb.Query[[]storedRow](ctx, b.db, sql, vars)
	if err != nil {
		if isNotFoundError(err) {
			return nil, common.NotFound(string(kind), key)
		}
		return nil, fmt.Errorf("failed to load %s %q: %w", kind, key, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, common.NotFound(string(kind), key)
	}
	return decodeRow(kind, (*results)[0].Result[0])
}

func (b *Backend) Query(ctx context.Context, filter interfaces.Filter) ([]models.Entity, error) {
	kind := filter.Kind()
	where, vars := whereClause(filter)
	sql := fmt.Sprintf("SELECT key, version, doc FROM %s%s", kind, where)

	results, err := surrealdb.Query[[]storedRow](ctx, b.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", kind, err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	var out []models.Entity
	for _, r := range (*results)[0].Result {
		e, err := decodeRow(kind, r)
		if err != nil {
			return nil, err
		}
		if filter.MatchesEntity(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (b *Backend) LatestSplitwiseUpdatedAt(ctx context.Context) (models.Option[time.Time], error) {
	sql := fmt.Sprintf("SELECT VALUE updated_at FROM %s WHERE synced = true ORDER BY updated_at DESC LIMIT 1", models.KindSplitwiseTransaction)

	results, err := surrealdb.Query[[]string](ctx, b.db, sql, nil)
	if err != nil {
		return models.None[time.Time](), fmt.Errorf("failed to read splitwise watermark: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.None[time.Time](), nil
	}
	ts, err := time.Parse(timestampLayout, (*results)[0].Result[0])
	if err != nil {
		return models.None[time.Time](), fmt.Errorf("invalid splitwise watermark: %w", err)
	}
	return models.Some(ts), nil
}

// Apply writes the change set in one SurrealDB transaction. Every row's
// stored version is compared with the version read; a mismatch aborts the
// whole transaction with ErrConflict.
func (b *Backend) Apply(ctx context.Context, changes []interfaces.Change) error {
	if len(changes) == 0 {
		return nil
	}

	var sql strings.Builder
	vars := make(map[string]any, 3*len(changes))
	sql.WriteString("BEGIN TRANSACTION;\n")
	for i, c := range changes {
		kind, key := c.Entity.EntityKind(), c.Entity.EntityKey()
		rid, cur, exp := fmt.Sprintf("rid%d", i), fmt.Sprintf("cur%d", i), fmt.Sprintf("exp%d", i)
		vars[rid] = recordID(kind, key)
		vars[exp] = c.ReadVersion

		fmt.Fprintf(&sql, "LET $%s = (SELECT VALUE version FROM $%s)[0];\n", cur, rid)
		if c.Op == interfaces.OpAdd {
			fmt.Fprintf(&sql, "IF $%s != NONE { THROW \"%s %s:%s exists\" };\n", cur, conflictMarker, kind, key)
		} else {
			fmt.Fprintf(&sql, "IF $%s != $%s { THROW \"%s %s:%s changed\" };\n", cur, exp, conflictMarker, kind, key)
		}

		if c.Op == interfaces.OpRemove {
			fmt.Fprintf(&sql, "DELETE $%s;\n", rid)
			continue
		}
		row, err := encodeRow(c.Entity, c.ReadVersion+1)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("row%d", i)
		vars[name] = row
		fmt.Fprintf(&sql, "UPSERT $%s CONTENT $%s;\n", rid, name)
	}
	sql.WriteString("COMMIT TRANSACTION;")

	results, err := surrealdb.Query[any](ctx, b.db, sql.String(), vars)
	if err == nil && results != nil {
		for _, r := range *results {
			if r.Status == "ERR" {
				err = fmt.Errorf("%v", r.Result)
				break
			}
		}
	}
	if err != nil {
		if isConflictError(err) {
			return common.Conflictf("%v", err)
		}
		return fmt.Errorf("failed to apply %d changes: %w", len(changes), err)
	}

	b.logger.Debug().Int("changes", len(changes)).Msg("SurrealDB change set applied")
	return nil
}

func (b *Backend) Close() error {
	b.db.Close(context.Background())
	return nil
}
