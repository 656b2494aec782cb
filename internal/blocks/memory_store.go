package blocks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and dev runs.
type MemoryStore struct {
	mu     sync.RWMutex
	blocks map[string]*SecurityBlock
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blocks: make(map[string]*SecurityBlock)}
}

func copyBlock(b *SecurityBlock) *SecurityBlock {
	cp := *b
	if b.UnblockedAt != nil {
		at := *b.UnblockedAt
		cp.UnblockedAt = &at
	}
	if b.Evidence != nil {
		cp.Evidence = make(map[string]any, len(b.Evidence))
		for k, v := range b.Evidence {
			cp.Evidence[k] = v
		}
	}
	return &cp
}

func (s *MemoryStore) Create(ctx context.Context, b *SecurityBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.blocks {
		if existing.Active && existing.Type == b.Type && existing.Value == b.Value {
			return ErrAlreadyBlocked
		}
	}
	s.blocks[b.ID] = copyBlock(b)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*SecurityBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBlock(b), nil
}

func (s *MemoryStore) List(ctx context.Context, activeOnly bool, limit int) ([]*SecurityBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*SecurityBlock
	for _, b := range s.blocks {
		if activeOnly && !b.Active {
			continue
		}
		out = append(out, copyBlock(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) FindActive(ctx context.Context, t BlockType, value string) (*SecurityBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.blocks {
		if b.Active && b.Type == t && b.Value == value {
			return copyBlock(b), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Unblock(ctx context.Context, id, by string, at time.Time) (*SecurityBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !b.Active {
		return nil, ErrNotActive
	}
	b.Active = false
	b.UnblockedBy = by
	b.UnblockedAt = &at
	return copyBlock(b), nil
}
