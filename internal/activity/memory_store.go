package activity

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and dev runs.
type MemoryStore struct {
	mu         sync.RWMutex
	activities map[string]*Activity
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{activities: make(map[string]*Activity)}
}

func copyActivity(a *Activity) *Activity {
	cp := *a
	if a.ResolvedAt != nil {
		at := *a.ResolvedAt
		cp.ResolvedAt = &at
	}
	if a.Evidence != nil {
		cp.Evidence = make(map[string]any, len(a.Evidence))
		for k, v := range a.Evidence {
			cp.Evidence[k] = v
		}
	}
	return &cp
}

func (s *MemoryStore) Create(ctx context.Context, a *Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities[a.ID] = copyActivity(a)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activities[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyActivity(a), nil
}

func (s *MemoryStore) List(ctx context.Context, status Status, limit int) ([]*Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Activity
	for _, a := range s.activities {
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, copyActivity(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ExistsSince(ctx context.Context, t Type, subject string, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.activities {
		if a.Type == t && a.Subject == subject && !a.DetectedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Resolve(ctx context.Context, id string, status Status, resolvedBy string, at time.Time) (*Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status != StatusPending {
		return nil, ErrAlreadyResolved
	}
	a.Status = status
	a.ResolvedBy = resolvedBy
	a.ResolvedAt = &at
	return copyActivity(a), nil
}

func (s *MemoryStore) MarkBlocked(ctx context.Context, id, blockID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != StatusPending {
		return ErrAlreadyResolved
	}
	a.Status = StatusBlocked
	a.BlockID = blockID
	a.ResolvedBy = "system-auto"
	a.ResolvedAt = &at
	return nil
}

func (s *MemoryStore) ListPendingSevereSince(ctx context.Context, minSeverity int, since time.Time) ([]*Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Activity
	for _, a := range s.activities {
		if a.Status == StatusPending && a.Severity >= minSeverity && !a.DetectedAt.Before(since) {
			out = append(out, copyActivity(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}
