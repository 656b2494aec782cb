// Package settings provides the typed, audited configuration store backing
// the risk pipeline. Values are stored as strings with a declared type tag;
// typed getters fail closed on a mismatched tag instead of coercing.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Errors
var (
	ErrNotFound     = errors.New("settings: key not found")
	ErrTypeMismatch = errors.New("settings: stored type does not match requested type")
	ErrInvalidValue = errors.New("settings: stored value cannot be parsed as its declared type")
)

// ValueType tags how a setting's string value must be interpreted.
type ValueType string

const (
	TypeInt    ValueType = "INT"
	TypeFloat  ValueType = "FLOAT"
	TypeBool   ValueType = "BOOL"
	TypeString ValueType = "STRING"
	TypeJSON   ValueType = "JSON"
)

// Valid reports whether t is a known value type.
func (t ValueType) Valid() bool {
	switch t {
	case TypeInt, TypeFloat, TypeBool, TypeString, TypeJSON:
		return true
	}
	return false
}

// Setting is one configuration key.
type Setting struct {
	Key         string    `json:"key"`
	Category    string    `json:"category"`
	Type        ValueType `json:"type"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AuditEntry records one configuration change.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	OldValue  string    `json:"oldValue"`
	NewValue  string    `json:"newValue"`
	ChangedBy string    `json:"changedBy"`
	Reason    string    `json:"reason"`
	ChangedAt time.Time `json:"changedAt"`
}

// Store persists settings and their audit trail.
type Store interface {
	Get(ctx context.Context, key string) (*Setting, error)
	List(ctx context.Context) ([]*Setting, error)
	ListByCategory(ctx context.Context, category string) ([]*Setting, error)
	// Upsert writes the setting and appends an audit entry with the
	// previous value in the same store transaction.
	Upsert(ctx context.Context, s *Setting, changedBy, reason string) error
	Audit(ctx context.Context, key string, limit int) ([]*AuditEntry, error)
}

// Int parses the setting as an integer, failing closed on a type mismatch.
func (s *Setting) Int() (int, error) {
	if s.Type != TypeInt {
		return 0, fmt.Errorf("%w: %s is %s, want INT", ErrTypeMismatch, s.Key, s.Type)
	}
	v, err := strconv.Atoi(s.Value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q as INT", ErrInvalidValue, s.Key, s.Value)
	}
	return v, nil
}

// Float parses the setting as a float, failing closed on a type mismatch.
func (s *Setting) Float() (float64, error) {
	if s.Type != TypeFloat {
		return 0, fmt.Errorf("%w: %s is %s, want FLOAT", ErrTypeMismatch, s.Key, s.Type)
	}
	v, err := strconv.ParseFloat(s.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q as FLOAT", ErrInvalidValue, s.Key, s.Value)
	}
	return v, nil
}

// Bool parses the setting as a boolean, failing closed on a type mismatch.
func (s *Setting) Bool() (bool, error) {
	if s.Type != TypeBool {
		return false, fmt.Errorf("%w: %s is %s, want BOOL", ErrTypeMismatch, s.Key, s.Type)
	}
	v, err := strconv.ParseBool(s.Value)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q as BOOL", ErrInvalidValue, s.Key, s.Value)
	}
	return v, nil
}

// String returns the setting's raw value, failing closed on a type mismatch.
func (s *Setting) String() (string, error) {
	if s.Type != TypeString {
		return "", fmt.Errorf("%w: %s is %s, want STRING", ErrTypeMismatch, s.Key, s.Type)
	}
	return s.Value, nil
}

// JSON unmarshals the setting into target, failing closed on a type mismatch.
func (s *Setting) JSON(target any) error {
	if s.Type != TypeJSON {
		return fmt.Errorf("%w: %s is %s, want JSON", ErrTypeMismatch, s.Key, s.Type)
	}
	if err := json.Unmarshal([]byte(s.Value), target); err != nil {
		return fmt.Errorf("%w: %s as JSON: %v", ErrInvalidValue, s.Key, err)
	}
	return nil
}
