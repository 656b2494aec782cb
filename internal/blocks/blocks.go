// Package blocks holds security blocks on IPs and CPFs: manual blocks placed
// by operators, automatic blocks created by the escalator from critical
// suspicious activities, and the validate surface traffic gateways call
// before letting a request through.
package blocks

import (
	"context"
	"errors"
	"time"
)

// SystemActor is the created-by value for escalator-created blocks.
const SystemActor = "system-auto"

// Errors
var (
	ErrNotFound       = errors.New("blocks: block not found")
	ErrAlreadyBlocked = errors.New("blocks: subject already has an active block")
	ErrNotActive      = errors.New("blocks: block is not active")
)

// BlockType is the subject kind a block applies to.
type BlockType string

const (
	BlockIP  BlockType = "IP"
	BlockCPF BlockType = "CPF"
)

// Valid reports whether t is a known block type.
func (t BlockType) Valid() bool {
	return t == BlockIP || t == BlockCPF
}

// SecurityBlock denies a subject outright while active. Deactivation is an
// explicit unblock; there is no automatic expiry.
type SecurityBlock struct {
	ID          string         `json:"id"`
	Type        BlockType      `json:"type"`
	Value       string         `json:"value"`
	Reason      string         `json:"reason"`
	CreatedBy   string         `json:"createdBy"`
	Portal      string         `json:"portal,omitempty"`
	Evidence    map[string]any `json:"evidence,omitempty"`
	Active      bool           `json:"active"`
	CreatedAt   time.Time      `json:"createdAt"`
	UnblockedBy string         `json:"unblockedBy,omitempty"`
	UnblockedAt *time.Time     `json:"unblockedAt,omitempty"`
}

// Store persists security blocks. (type, value) is unique among active rows.
type Store interface {
	Create(ctx context.Context, b *SecurityBlock) error
	Get(ctx context.Context, id string) (*SecurityBlock, error)
	List(ctx context.Context, activeOnly bool, limit int) ([]*SecurityBlock, error)
	// FindActive returns the active block for (type, value), or ErrNotFound.
	FindActive(ctx context.Context, t BlockType, value string) (*SecurityBlock, error)
	// Unblock deactivates a block exactly once.
	Unblock(ctx context.Context, id, by string, at time.Time) (*SecurityBlock, error)
}
