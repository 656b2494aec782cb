package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lumapay/riskengine/internal/pagination"
)

// MemoryStore is an in-memory decision Store for tests and dev runs.
type MemoryStore struct {
	mu        sync.RWMutex
	decisions map[string]*Decision
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{decisions: make(map[string]*Decision)}
}

func copyDecision(d *Decision) *Decision {
	cp := *d
	if d.ReviewedAt != nil {
		at := *d.ReviewedAt
		cp.ReviewedAt = &at
	}
	cp.Reasons = append([]string(nil), d.Reasons...)
	cp.TriggeredRules = append([]TriggeredRule(nil), d.TriggeredRules...)
	return &cp
}

func (s *MemoryStore) Create(ctx context.Context, d *Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[d.ID] = copyDecision(d)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDecision(d), nil
}

func (s *MemoryStore) LatestByTransaction(ctx context.Context, transactionID string) (*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *Decision
	for _, d := range s.decisions {
		if d.TransactionID != transactionID {
			continue
		}
		if latest == nil || d.CreatedAt.After(latest.CreatedAt) {
			latest = d
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return copyDecision(latest), nil
}

func (s *MemoryStore) ListPendingReview(ctx context.Context, after *pagination.Cursor, limit int) ([]*Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Decision
	for _, d := range s.decisions {
		if d.Outcome != OutcomeReview || d.ReviewedAt != nil {
			continue
		}
		if after != nil {
			if d.CreatedAt.Before(after.CreatedAt) {
				continue
			}
			if d.CreatedAt.Equal(after.CreatedAt) && d.ID <= after.ID {
				continue
			}
		}
		out = append(out, copyDecision(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Review(ctx context.Context, id, reviewer string, verdict Outcome, notes string, at time.Time) (*Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.ReviewedAt != nil {
		return nil, ErrAlreadyReviewed
	}
	if d.Outcome != OutcomeReview {
		return nil, ErrNotReviewable
	}
	d.Outcome = verdict
	d.ReviewedBy = reviewer
	d.ReviewedAt = &at
	d.ReviewVerdict = verdict
	d.ReviewNotes = notes
	return copyDecision(d), nil
}

func (s *MemoryStore) SetRequires3DS(ctx context.Context, id, reason, challengeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return ErrNotFound
	}
	if d.Outcome != OutcomeApproved {
		return ErrNotFound
	}
	d.Outcome = OutcomeRequires3DS
	d.ThreeDSReason = reason
	d.ThreeDSChallenge = challengeID
	return nil
}

func (s *MemoryStore) CountApprovedBySubjectSince(ctx context.Context, cpf string, since time.Time) (int, error) {
	return s.count(func(d *Decision) bool {
		return d.Outcome == OutcomeApproved && d.CPF == cpf && !d.CreatedAt.Before(since)
	}), nil
}

func (s *MemoryStore) CountApprovedByIPForSubjectSince(ctx context.Context, ip, cpf string, since time.Time) (int, error) {
	return s.count(func(d *Decision) bool {
		return d.Outcome == OutcomeApproved && d.IP == ip && d.CPF == cpf && !d.CreatedAt.Before(since)
	}), nil
}

func (s *MemoryStore) CountApprovedByDeviceForSubjectSince(ctx context.Context, device, cpf string, since time.Time) (int, error) {
	return s.count(func(d *Decision) bool {
		return d.Outcome == OutcomeApproved && d.DeviceFP == device && d.CPF == cpf && !d.CreatedAt.Before(since)
	}), nil
}

func (s *MemoryStore) CountRejectedByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	return s.count(func(d *Decision) bool {
		return d.Outcome == OutcomeRejected && d.IP == ip && !d.CreatedAt.Before(since)
	}), nil
}

func (s *MemoryStore) count(match func(*Decision) bool) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, d := range s.decisions {
		if match(d) {
			n++
		}
	}
	return n
}
