// Package activity implements the suspicious-activity detector: a recurring
// scan over recent traffic that writes at most one Activity per signature
// per subject per lookback window, plus the investigation surface over the
// recorded activities.
package activity

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound        = errors.New("activity: not found")
	ErrAlreadyExists   = errors.New("activity: already recorded for window")
	ErrAlreadyResolved = errors.New("activity: status already resolved")
	ErrInvalidStatus   = errors.New("activity: invalid status")
)

// Type is the closed signature enum.
type Type string

const (
	TypeMultiIP         Type = "MULTI_IP_LOGIN"
	TypeFailureBurst    Type = "FAILURE_BURST"
	TypeFirstIP         Type = "FIRST_EVER_IP"
	TypeOffHours        Type = "OFF_HOURS"
	TypeVelocity        Type = "TRANSACTION_VELOCITY"
	TypeLocationAnomaly Type = "LOCATION_ANOMALY" // reserved, never emitted
)

// Status is the investigation lifecycle. Every status except PENDING is
// terminal.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusInvestigated  Status = "INVESTIGATED"
	StatusBlocked       Status = "BLOCKED"
	StatusFalsePositive Status = "FALSE_POSITIVE"
	StatusIgnored       Status = "IGNORED"
)

// Resolvable reports whether s is a status a resolution may set.
func (s Status) Resolvable() bool {
	switch s {
	case StatusInvestigated, StatusBlocked, StatusFalsePositive, StatusIgnored:
		return true
	}
	return false
}

// Activity is one detected signature occurrence. Subject is the dedup key
// value: the CPF for subject-centric signatures, the IP for IP-centric ones.
type Activity struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Subject    string         `json:"subject"`
	CPF        string         `json:"-"`
	IP         string         `json:"ip,omitempty"`
	Portal     string         `json:"portal,omitempty"`
	Severity   int            `json:"severity"` // 1-5
	Evidence   map[string]any `json:"evidence,omitempty"`
	Status     Status         `json:"status"`
	BlockID    string         `json:"blockId,omitempty"`
	DetectedAt time.Time      `json:"detectedAt"`
	ResolvedBy string         `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time     `json:"resolvedAt,omitempty"`
}

// Store persists activities.
type Store interface {
	Create(ctx context.Context, a *Activity) error
	Get(ctx context.Context, id string) (*Activity, error)
	List(ctx context.Context, status Status, limit int) ([]*Activity, error)
	// ExistsSince reports whether an activity of (type, subject) was already
	// detected at or after the given time. This is the detector's dedup.
	ExistsSince(ctx context.Context, t Type, subject string, since time.Time) (bool, error)
	// Resolve moves a PENDING activity to a terminal status. Resolving an
	// already-resolved activity returns ErrAlreadyResolved.
	Resolve(ctx context.Context, id string, status Status, resolvedBy string, at time.Time) (*Activity, error)
	// MarkBlocked is the escalator's resolution: terminal BLOCKED plus the
	// link to the block it created.
	MarkBlocked(ctx context.Context, id, blockID string, at time.Time) error
	// ListPendingSevereSince returns PENDING activities of at least the given
	// severity detected at or after the given time.
	ListPendingSevereSince(ctx context.Context, minSeverity int, since time.Time) ([]*Activity, error)
}
