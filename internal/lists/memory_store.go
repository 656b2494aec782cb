package lists

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory lists store for demo/development mode.
type MemoryStore struct {
	mu        sync.RWMutex
	blacklist map[Key]*BlacklistEntry
	whitelist map[Key]*WhitelistEntry
	blackByID map[string]*BlacklistEntry
	whiteByID map[string]*WhitelistEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory lists store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blacklist: make(map[Key]*BlacklistEntry),
		whitelist: make(map[Key]*WhitelistEntry),
		blackByID: make(map[string]*BlacklistEntry),
		whiteByID: make(map[string]*WhitelistEntry),
	}
}

func (m *MemoryStore) AddBlacklist(_ context.Context, e *BlacklistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key{Type: e.Type, Value: e.Value}
	if _, ok := m.blacklist[key]; ok {
		return ErrAlreadyExists
	}
	cp := *e
	m.blacklist[key] = &cp
	m.blackByID[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) DeactivateBlacklist(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.blackByID[id]
	if !ok {
		return ErrNotFound
	}
	e.Active = false
	e.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListBlacklist(_ context.Context, limit int) ([]*BlacklistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	out := make([]*BlacklistEntry, 0, len(m.blacklist))
	for _, e := range m.blacklist {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) FindInForce(_ context.Context, keys []Key, now time.Time) (*BlacklistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, key := range keys {
		if e, ok := m.blacklist[key]; ok && e.InForce(now) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) AddWhitelist(_ context.Context, e *WhitelistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key{Type: e.Type, Value: e.Value}
	if _, ok := m.whitelist[key]; ok {
		return ErrAlreadyExists
	}
	cp := *e
	m.whitelist[key] = &cp
	m.whiteByID[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) DeactivateWhitelist(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.whiteByID[id]
	if !ok {
		return ErrNotFound
	}
	e.Active = false
	e.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListWhitelist(_ context.Context, limit int) ([]*WhitelistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	out := make([]*WhitelistEntry, 0, len(m.whitelist))
	for _, e := range m.whitelist {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ActiveWhitelistMatches(_ context.Context, keys []Key) ([]*WhitelistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*WhitelistEntry
	for _, key := range keys {
		if e, ok := m.whitelist[key]; ok && e.Active {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) IncrementApproval(_ context.Context, t EntryType, value string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.whitelist[Key{Type: t, Value: value}]
	if !ok || !e.Active {
		return false, nil
	}
	e.ApprovalCount++
	e.LastApprovalAt = at
	e.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) DeactivateStaleAuto(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, e := range m.whitelist {
		if e.Active && e.Origin == OriginAuto && e.LastApprovalAt.Before(cutoff) {
			e.Active = false
			e.UpdatedAt = time.Now()
			count++
		}
	}
	return count, nil
}
