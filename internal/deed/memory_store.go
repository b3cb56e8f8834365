package deed

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// MemoryStore is an in-memory deed store for demo/development mode.
type MemoryStore struct {
	deeds  map[string]*Deed
	nextID uint64
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory deed store. IDs start at "1".
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{deeds: make(map[string]*Deed)}
}

func (m *MemoryStore) Create(_ context.Context, d *Deed) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	d.ID = strconv.FormatUint(m.nextID, 10)
	cp := *d
	m.deeds[d.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Deed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.deeds[id]
	if !ok {
		return nil, ErrDeedNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, d *Deed) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deeds[d.ID]; !ok {
		return ErrDeedNotFound
	}
	cp := *d
	m.deeds[d.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, owner string, limit int) ([]*Deed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Deed
	for _, d := range m.deeds {
		if d.Owner == owner {
			cp := *d
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, _ := strconv.ParseUint(result[i].ID, 10, 64)
		b, _ := strconv.ParseUint(result[j].ID, 10, 64)
		return a < b
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
