package intent

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "IntentMCP/internal/errors"
)

// MemoryStore keeps intent records in memory. It is the default driver and
// the one used throughout the tests.
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]*Intent
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{intents: make(map[string]*Intent)}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, in *Intent) error {
	if in == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "intent must not be nil")
	}
	if in.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "intent id must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[in.ID]; ok {
		return ErrConflict
	}
	now := time.Now().Unix()
	if in.CreatedAt == 0 {
		in.CreatedAt = now
	}
	if in.UpdatedAt == 0 {
		in.UpdatedAt = now
	}
	m.intents[in.ID] = in.Clone()
	return nil
}

// Get returns a copy of the stored record.
func (m *MemoryStore) Get(_ context.Context, id string) (*Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return in.Clone(), nil
}

// Update replaces the stored record. UpdatedAt is bumped so it strictly
// increases on every successful mutation.
func (m *MemoryStore) Update(_ context.Context, in *Intent) error {
	if in == nil || in.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "intent id must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.intents[in.ID]
	if !ok {
		return ErrNotFound
	}
	in.CreatedAt = current.CreatedAt
	in.UpdatedAt = nextUpdateStamp(current.UpdatedAt)
	m.intents[in.ID] = in.Clone()
	return nil
}

// Delete removes the record.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[id]; !ok {
		return ErrNotFound
	}
	delete(m.intents, id)
	return nil
}

// List returns matching records ordered by UpdatedAt.
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Intent, 0, len(m.intents))
	for _, in := range m.intents {
		if !matchesListFilters(in, opts) {
			continue
		}
		results = append(results, in.Clone())
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			if results[i].UpdatedAt == results[j].UpdatedAt {
				if results[i].CreatedAt == results[j].CreatedAt {
					return results[i].ID < results[j].ID
				}
				return results[i].CreatedAt < results[j].CreatedAt
			}
			return results[i].UpdatedAt < results[j].UpdatedAt
		}
		if results[i].UpdatedAt == results[j].UpdatedAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return []*Intent{}, nil
		}
		results = results[opts.Offset:]
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats aggregates records matching the filters.
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (IntentStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := IntentStats{}
	for _, in := range m.intents {
		if !matchesListFilters(in, opts) {
			continue
		}
		stats.count(in.State)
		if in.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = in.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (in.UpdatedAt != 0 && in.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = in.UpdatedAt
		}
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(in *Intent, opts ListOptions) bool {
	if len(opts.States) > 0 {
		matched := false
		for _, state := range opts.States {
			if in.State == state {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.UpdatedGTE > 0 && in.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && in.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.Query != "" {
		needle := strings.ToLower(opts.Query)
		haystack := strings.ToLower(strings.Join([]string{in.ID, in.Name, in.Description, in.BackendRef, in.LastError}, "\n"))
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}

// nextUpdateStamp guarantees a strictly increasing UpdatedAt even when two
// mutations land inside the same second.
func nextUpdateStamp(previous int64) int64 {
	now := time.Now().Unix()
	if now <= previous {
		return previous + 1
	}
	return now
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
