package storage

import (
	"context"
	"fmt"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/storage/memory"
	"github.com/bobmcallan/tally/internal/storage/surrealdb"
)

// Backend names accepted by [storage] backend.
const (
	BackendSurrealDB = "surrealdb"
	BackendMemory    = "memory"
)

// NewStoreFromConfig opens the configured backend.
func NewStoreFromConfig(ctx context.Context, logger *common.Logger, config *common.Config) (*Store, error) {
	backend := config.Storage.Backend
	if backend == "" {
		backend = BackendSurrealDB
	}

	switch backend {
	case BackendMemory:
		logger.Warn().Msg("Using in-memory storage, data is lost on shutdown")
		return NewStore(logger, memory.NewBackend()), nil

	case BackendSurrealDB:
		b, err := surrealdb.NewBackend(ctx, logger, config.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to open surrealdb backend: %w", err)
		}
		return NewStore(logger, b), nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: surrealdb, memory)", backend)
	}
}
