// Package rules holds the operator-managed risk rule catalog and the typed
// evaluators behind each rule kind. A rule's JSON parameter bag is decoded
// into its kind's parameter struct when the evaluator is built; unknown kinds
// evaluate to non-triggering instead of failing the pipeline.
package rules

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound = errors.New("rules: rule not found")
	ErrInvalid  = errors.New("rules: invalid rule")
)

// Kind is the closed set of rule types.
type Kind string

const (
	KindVelocity Kind = "VELOCITY"
	KindValue    Kind = "VALUE"
	KindDevice   Kind = "DEVICE"
	KindTime     Kind = "TIME"
	KindLocation Kind = "LOCATION"
	KindCustom   Kind = "CUSTOM"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindVelocity, KindValue, KindDevice, KindTime, KindLocation, KindCustom:
		return true
	}
	return false
}

// Action is what a triggered rule enforces on the decision outcome.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
	ActionReview  Action = "REVIEW"
	ActionAlert   Action = "ALERT"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionApprove, ActionReject, ActionReview, ActionAlert:
		return true
	}
	return false
}

// ScorePerWeight is the score contribution per weight point of a triggered rule.
const ScorePerWeight = 5

// Rule is one entry of the catalog. Rules are read fresh on every evaluation
// so operator changes take effect immediately.
type Rule struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Kind        Kind            `json:"kind"`
	Params      json.RawMessage `json:"params,omitempty"`
	Weight      int             `json:"weight"` // 1-10
	Action      Action          `json:"action"`
	Active      bool            `json:"active"`
	Priority    int             `json:"priority"` // ascending execution order
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ScoreDelta is the points this rule adds when triggered.
func (r *Rule) ScoreDelta() int {
	return r.Weight * ScorePerWeight
}

// Validate checks the rule's invariants.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return errors.New("rules: name is required")
	}
	if !r.Kind.Valid() {
		return errors.New("rules: unknown kind")
	}
	if !r.Action.Valid() {
		return errors.New("rules: unknown action")
	}
	if r.Weight < 1 || r.Weight > 10 {
		return errors.New("rules: weight must be between 1 and 10")
	}
	if len(r.Params) > 0 && !json.Valid(r.Params) {
		return errors.New("rules: params must be valid JSON")
	}
	return nil
}

// Store persists the rule catalog.
type Store interface {
	Create(ctx context.Context, r *Rule) error
	Update(ctx context.Context, r *Rule) error
	Get(ctx context.Context, id string) (*Rule, error)
	List(ctx context.Context) ([]*Rule, error)
	// ListActive returns active rules ordered by ascending priority.
	ListActive(ctx context.Context) ([]*Rule, error)
}
