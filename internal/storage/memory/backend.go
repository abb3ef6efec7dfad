// Package memory is an in-memory storage backend. It is safe for concurrent
// use; data is lost when the process exits.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// Backend implements interfaces.Backend with versioned maps.
type Backend struct {
	mu     sync.RWMutex
	tables map[models.Kind]map[string]models.Entity
}

// NewBackend creates an empty backend.
func NewBackend() *Backend {
	return &Backend{tables: make(map[models.Kind]map[string]models.Entity)}
}

// Load returns a copy so callers can never mutate stored rows.
func (b *Backend) Load(ctx context.Context, kind models.Kind, key string) (models.Entity, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.tables[kind][key]
	if !ok {
		return nil, common.NotFound(string(kind), key)
	}
	return e.CloneEntity(), nil
}

func (b *Backend) Query(ctx context.Context, filter interfaces.Filter) ([]models.Entity, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []models.Entity
	for _, e := range b.tables[filter.Kind()] {
		if filter.MatchesEntity(e) {
			out = append(out, e.CloneEntity())
		}
	}
	return out, nil
}

func (b *Backend) LatestSplitwiseUpdatedAt(ctx context.Context) (models.Option[time.Time], error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	latest := models.None[time.Time]()
	for _, e := range b.tables[models.KindSplitwiseTransaction] {
		sw := e.(*models.SplitwiseTransaction)
		if !sw.Synced {
			continue
		}
		if cur, ok := latest.Get(); !ok || sw.UpdatedAt.After(cur) {
			latest = models.Some(sw.UpdatedAt)
		}
	}
	return latest, nil
}

// Apply checks every change before writing any of them.
func (b *Backend) Apply(ctx context.Context, changes []interfaces.Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range changes {
		kind, key := c.Entity.EntityKind(), c.Entity.EntityKey()
		stored, exists := b.tables[kind][key]
		switch {
		case c.Op == interfaces.OpAdd && exists:
			return common.Conflictf("%s %q was added concurrently", kind, key)
		case c.Op != interfaces.OpAdd && !exists:
			return common.Conflictf("%s %q was removed concurrently", kind, key)
		case exists && stored.EntityVersion() != c.ReadVersion:
			return common.Conflictf("%s %q changed concurrently (version %d, read %d)",
				kind, key, stored.EntityVersion(), c.ReadVersion)
		}
	}

	for _, c := range changes {
		kind, key := c.Entity.EntityKind(), c.Entity.EntityKey()
		if c.Op == interfaces.OpRemove {
			delete(b.tables[kind], key)
			continue
		}
		row := c.Entity.CloneEntity()
		row.SetEntityVersion(c.ReadVersion + 1)
		if b.tables[kind] == nil {
			b.tables[kind] = make(map[string]models.Entity)
		}
		b.tables[kind][key] = row
	}
	return nil
}

func (b *Backend) Close() error {
	return nil
}
