package storage

import (
	"context"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// Run executes fn in a fresh unit of work and commits it. A commit conflict
// discards everything and runs fn again from scratch, up to retries attempts.
// Any other error rolls back and is returned as is.
func Run(ctx context.Context, store interfaces.Store, retries int, logger *common.Logger, op string, fn func(ctx context.Context, tx interfaces.Tx) error) error {
	return common.RetryOnConflict(ctx, logger, retries, op, func(ctx context.Context) error {
		tx, err := store.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := fn(ctx, tx); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// Seed adds entities in one unit of work.
func Seed(ctx context.Context, store interfaces.Store, entities ...models.Entity) error {
	tx, err := store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, e := range entities {
		if err := tx.Add(e); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
