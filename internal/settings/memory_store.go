package settings

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory settings store for demo/development mode.
type MemoryStore struct {
	mu      sync.RWMutex
	values  map[string]*Setting
	audit   []*AuditEntry
	auditID int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory settings store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]*Setting)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Setting, 0, len(m.values))
	for _, s := range m.values {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) ListByCategory(_ context.Context, category string) ([]*Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Setting
	for _, s := range m.values {
		if s.Category == category {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) Upsert(_ context.Context, s *Setting, changedBy, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldValue string
	if prev, ok := m.values[s.Key]; ok {
		oldValue = prev.Value
	}

	cp := *s
	cp.UpdatedAt = time.Now()
	m.values[s.Key] = &cp

	m.auditID++
	m.audit = append(m.audit, &AuditEntry{
		ID:        m.auditID,
		Key:       s.Key,
		OldValue:  oldValue,
		NewValue:  s.Value,
		ChangedBy: changedBy,
		Reason:    reason,
		ChangedAt: cp.UpdatedAt,
	})
	return nil
}

func (m *MemoryStore) Audit(_ context.Context, key string, limit int) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var out []*AuditEntry
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if m.audit[i].Key == key {
			cp := *m.audit[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}
