// Package lists implements the lockout lists: an exact-match blacklist that
// short-circuits the decision pipeline, and a whitelist that discounts the
// oracle score. Whitelist rows are promoted automatically from approval
// history and deactivated again when stale.
package lists

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound      = errors.New("lists: entry not found")
	ErrAlreadyExists = errors.New("lists: entry already exists")
)

// EntryType identifies what a list entry's value refers to.
type EntryType string

const (
	TypeCPF    EntryType = "CPF"
	TypeIP     EntryType = "IP"
	TypeDevice EntryType = "DEVICE"
	TypeBIN    EntryType = "BIN"
	TypeEmail  EntryType = "EMAIL"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case TypeCPF, TypeIP, TypeDevice, TypeBIN, TypeEmail:
		return true
	}
	return false
}

// Key is the natural key of a list entry.
type Key struct {
	Type  EntryType
	Value string
}

// BlacklistEntry blocks a subject outright while in force.
type BlacklistEntry struct {
	ID        string     `json:"id"`
	Type      EntryType  `json:"type"`
	Value     string     `json:"value"`
	Reason    string     `json:"reason"`
	Permanent bool       `json:"permanent"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Active    bool       `json:"active"`
	CreatedBy string     `json:"createdBy"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// InForce reports whether the entry blocks at the given instant:
// active AND (permanent OR not yet expired).
func (e *BlacklistEntry) InForce(now time.Time) bool {
	if !e.Active {
		return false
	}
	if e.Permanent {
		return true
	}
	return e.ExpiresAt != nil && e.ExpiresAt.After(now)
}

// Origin records how a whitelist entry came to exist.
type Origin string

const (
	OriginManual Origin = "MANUAL"
	OriginAuto   Origin = "AUTO"
	OriginVIP    Origin = "VIP"
)

// WhitelistEntry discounts a trusted subject's base score.
type WhitelistEntry struct {
	ID             string    `json:"id"`
	Type           EntryType `json:"type"`
	Value          string    `json:"value"`
	Origin         Origin    `json:"origin"`
	ApprovalCount  int       `json:"approvalCount"`
	LastApprovalAt time.Time `json:"lastApprovalAt"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Store persists both lockout lists. The natural key (type, value) is unique
// per list; concurrent creates for the same key must surface ErrAlreadyExists
// rather than double-insert.
type Store interface {
	// Blacklist
	AddBlacklist(ctx context.Context, e *BlacklistEntry) error
	DeactivateBlacklist(ctx context.Context, id string) error
	ListBlacklist(ctx context.Context, limit int) ([]*BlacklistEntry, error)
	// FindInForce returns the first in-force blacklist entry matching any of
	// the keys, or ErrNotFound.
	FindInForce(ctx context.Context, keys []Key, now time.Time) (*BlacklistEntry, error)

	// Whitelist
	AddWhitelist(ctx context.Context, e *WhitelistEntry) error
	DeactivateWhitelist(ctx context.Context, id string) error
	ListWhitelist(ctx context.Context, limit int) ([]*WhitelistEntry, error)
	// ActiveWhitelistMatches returns the active whitelist entries matching
	// any of the keys.
	ActiveWhitelistMatches(ctx context.Context, keys []Key) ([]*WhitelistEntry, error)
	// IncrementApproval atomically bumps the approval counter and refreshes
	// last-approval on an active entry. Returns false when no such entry exists.
	IncrementApproval(ctx context.Context, t EntryType, value string, at time.Time) (bool, error)
	// DeactivateStaleAuto flips active=false on AUTO-origin entries whose
	// last approval is older than the cutoff. Rows are kept, never deleted.
	DeactivateStaleAuto(ctx context.Context, cutoff time.Time) (int, error)
}
