package escrow

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory escrow store for demo/development mode.
type MemoryStore struct {
	escrows map[string]*Escrow
	events  map[string][]*Event
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		escrows: make(map[string]*Escrow),
		events:  make(map[string][]*Event),
	}
}

func (m *MemoryStore) Create(ctx context.Context, e *Escrow, ev *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.escrows[e.AssetID]; exists {
		return ErrAlreadyListed
	}
	m.escrows[e.AssetID] = e.Clone()
	m.appendEvent(ev)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, assetID string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.escrows[assetID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, e *Escrow, ev *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.escrows[e.AssetID]
	if !ok {
		return ErrNotFound
	}
	if cur.IsTerminal() {
		return ErrTerminal
	}
	m.escrows[e.AssetID] = e.Clone()
	m.appendEvent(ev)
	return nil
}

func (m *MemoryStore) ListByParticipant(ctx context.Context, addr string, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Escrow
	for _, e := range m.escrows {
		if e.IsParticipant(addr) {
			result = append(result, e.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) Events(ctx context.Context, assetID string) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	evs := m.events[assetID]
	out := make([]*Event, len(evs))
	for i, ev := range evs {
		cp := *ev
		out[i] = &cp
	}
	return out, nil
}

func (m *MemoryStore) CountActive(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.escrows {
		if !e.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) appendEvent(ev *Event) {
	if ev == nil {
		return
	}
	cp := *ev
	m.events[ev.AssetID] = append(m.events[ev.AssetID], &cp)
}
