// Package storage provides the unit of work shared by the services and the
// background jobs, over a pluggable persistence backend.
package storage

import (
	"context"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
)

// Store implements interfaces.Store over a Backend.
type Store struct {
	backend interfaces.Backend
	logger  *common.Logger
}

// NewStore wraps a backend.
func NewStore(logger *common.Logger, backend interfaces.Backend) *Store {
	return &Store{backend: backend, logger: logger}
}

// Begin opens a unit of work. It never touches the backend until the first read.
func (s *Store) Begin(ctx context.Context) (interfaces.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newUnitOfWork(s.backend), nil
}

func (s *Store) Close() error {
	s.logger.Debug().Msg("Closing store")
	return s.backend.Close()
}
