package transaction

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory transaction store for demo/development mode.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]*Transaction
	byExternal map[string]string // external id → internal id
	ordered    []*Transaction    // insertion order
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*Transaction),
		byExternal: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byExternal[txn.ExternalID]; ok {
		return ErrAlreadyExists
	}
	cp := *txn
	m.byID[cp.ID] = &cp
	m.byExternal[cp.ExternalID] = cp.ID
	m.ordered = append(m.ordered, &cp)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txn, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *txn
	return &cp, nil
}

func (m *MemoryStore) GetByExternalID(_ context.Context, externalID string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byExternal[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *MemoryStore) CountBySubjectSince(_ context.Context, cpf string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, txn := range m.ordered {
		if txn.CPF == cpf && !txn.OccurredAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) AvgAmountSince(_ context.Context, cpf string, since time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum float64
	count := 0
	for _, txn := range m.ordered {
		if txn.CPF == cpf && !txn.OccurredAt.Before(since) {
			sum += txn.Amount
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return sum / float64(count), nil
}

func (m *MemoryStore) DeviceSeenForSubject(_ context.Context, cpf, fingerprint string, before time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, txn := range m.ordered {
		if txn.CPF == cpf && txn.DeviceFingerprint == fingerprint && txn.OccurredAt.Before(before) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) DistinctSubjectsByIPSince(_ context.Context, ip string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subjects := make(map[string]struct{})
	for _, txn := range m.ordered {
		if txn.IP == ip && !txn.OccurredAt.Before(since) {
			subjects[txn.CPF] = struct{}{}
		}
	}
	return len(subjects), nil
}

func (m *MemoryStore) IPSeenForSubjectBefore(_ context.Context, cpf, ip string, before time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, txn := range m.ordered {
		if txn.CPF == cpf && txn.IP == ip && txn.OccurredAt.Before(before) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) DistinctIPsBySubjectSince(_ context.Context, cpf string, since time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var ips []string
	for _, txn := range m.ordered {
		if txn.CPF == cpf && txn.IP != "" && !txn.OccurredAt.Before(since) {
			if _, ok := seen[txn.IP]; !ok {
				seen[txn.IP] = struct{}{}
				ips = append(ips, txn.IP)
			}
		}
	}
	return ips, nil
}

func (m *MemoryStore) ListSince(_ context.Context, since time.Time, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 1000
	}

	var out []*Transaction
	for _, txn := range m.ordered {
		if !txn.OccurredAt.Before(since) {
			cp := *txn
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
