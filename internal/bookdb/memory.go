package bookdb

import (
	"context"
	"sort"
	"sync"

	"github.com/nordlib/patron-engine/internal/books"
	"github.com/nordlib/patron-engine/internal/opds"
)

// Memory is an in-memory Database used by tests and by daemons running
// without Postgres configured.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]map[books.ID]opds.Entry
	// Writes counts mutating calls, letting tests assert idempotence.
	writes int
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]map[books.ID]opds.Entry{}}
}

func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *Memory) Books(_ context.Context, accountID string) ([]books.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]books.ID, 0, len(m.entries[accountID]))
	for id := range m.entries[accountID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) Entry(_ context.Context, accountID string, id books.ID) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[accountID][id]; ok {
		return &Entry{ID: id, Book: e}, nil
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateOrUpdate(_ context.Context, accountID string, e opds.Entry) (*Entry, error) {
	id := books.NewID(e.ID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[accountID] == nil {
		m.entries[accountID] = map[books.ID]opds.Entry{}
	}
	if prev, ok := m.entries[accountID][id]; !ok || !entriesEqual(prev, e) {
		m.writes++
	}
	m.entries[accountID][id] = e
	return &Entry{ID: id, Book: e}, nil
}

func (m *Memory) WriteEntry(_ context.Context, accountID string, id books.ID, e opds.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[accountID][id]; !ok {
		return ErrNotFound
	}
	m.writes++
	m.entries[accountID][id] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, accountID string, id books.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[accountID][id]; ok {
		m.writes++
		delete(m.entries[accountID], id)
	}
	return nil
}

func entriesEqual(a, b opds.Entry) bool {
	if a.ID != b.ID || a.Title != b.Title || !a.Updated.Equal(b.Updated) ||
		a.Availability != b.Availability || len(a.Formats) != len(b.Formats) {
		return false
	}
	for i := range a.Formats {
		if a.Formats[i] != b.Formats[i] {
			return false
		}
	}
	switch {
	case a.Selected == nil && b.Selected == nil:
	case a.Selected != nil && b.Selected != nil && a.Selected.Equal(*b.Selected):
	default:
		return false
	}
	return true
}
