package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lumapay/riskengine/internal/transaction"
)

// History is the transaction lookback surface evaluators query.
// transaction.Store satisfies it.
type History interface {
	CountBySubjectSince(ctx context.Context, cpf string, since time.Time) (int, error)
	AvgAmountSince(ctx context.Context, cpf string, since time.Time) (float64, error)
	DeviceSeenForSubject(ctx context.Context, cpf, fingerprint string, before time.Time) (bool, error)
	DistinctSubjectsByIPSince(ctx context.Context, ip string, since time.Time) (int, error)
}

// Result is the outcome of evaluating one rule against one transaction.
type Result struct {
	Triggered bool
	Details   map[string]any
}

// Evaluator runs one rule's check. Implementations must not panic on odd
// data; the engine still wraps each call in a recover as a backstop.
type Evaluator interface {
	Evaluate(ctx context.Context, h History, txn *transaction.Transaction, now time.Time) (Result, error)
}

// Default parameter values, used when a rule's params omit a field.
const (
	defaultVelocityMax        = 3
	defaultVelocityWindowMins = 10
	defaultValueMultiplier    = 3.0
	defaultValueLookbackDays  = 30
	defaultTimeStartHour      = 0
	defaultTimeEndHour        = 5
	defaultLocationMaxCPFs    = 5
	defaultLocationWindowMins = 60
)

// NewEvaluator builds the typed evaluator for r, decoding its params.
// Unknown kinds get a no-op evaluator so a bad catalog row cannot take the
// pipeline down.
func NewEvaluator(r *Rule) (Evaluator, error) {
	switch r.Kind {
	case KindVelocity:
		p := velocityParams{MaxTransactions: defaultVelocityMax, WindowMinutes: defaultVelocityWindowMins}
		if err := decodeParams(r.Params, &p); err != nil {
			return nil, err
		}
		if p.MaxTransactions < 1 || p.WindowMinutes < 1 {
			return nil, fmt.Errorf("rules: rule %s: velocity params out of range", r.ID)
		}
		return &velocityEvaluator{params: p}, nil
	case KindValue:
		p := valueParams{Multiplier: defaultValueMultiplier, LookbackDays: defaultValueLookbackDays}
		if err := decodeParams(r.Params, &p); err != nil {
			return nil, err
		}
		if p.Multiplier <= 0 || p.LookbackDays < 1 {
			return nil, fmt.Errorf("rules: rule %s: value params out of range", r.ID)
		}
		return &valueEvaluator{params: p}, nil
	case KindDevice:
		return &deviceEvaluator{}, nil
	case KindTime:
		p := timeParams{StartHour: defaultTimeStartHour, EndHour: defaultTimeEndHour}
		if err := decodeParams(r.Params, &p); err != nil {
			return nil, err
		}
		if p.StartHour < 0 || p.StartHour > 23 || p.EndHour < 0 || p.EndHour > 24 {
			return nil, fmt.Errorf("rules: rule %s: time params out of range", r.ID)
		}
		return &timeEvaluator{params: p}, nil
	case KindLocation:
		p := locationParams{MaxCPFsPerIP: defaultLocationMaxCPFs, WindowMinutes: defaultLocationWindowMins}
		if err := decodeParams(r.Params, &p); err != nil {
			return nil, err
		}
		if p.MaxCPFsPerIP < 1 || p.WindowMinutes < 1 {
			return nil, fmt.Errorf("rules: rule %s: location params out of range", r.ID)
		}
		return &locationEvaluator{params: p}, nil
	case KindCustom:
		// Reserved for bespoke integrations; never triggers on its own.
		return noopEvaluator{}, nil
	default:
		return noopEvaluator{}, nil
	}
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

type noopEvaluator struct{}

func (noopEvaluator) Evaluate(context.Context, History, *transaction.Transaction, time.Time) (Result, error) {
	return Result{}, nil
}

// velocityParams configures the transaction-count-per-window check.
type velocityParams struct {
	MaxTransactions int `json:"maxTransactions"`
	WindowMinutes   int `json:"windowMinutes"`
}

type velocityEvaluator struct {
	params velocityParams
}

func (e *velocityEvaluator) Evaluate(ctx context.Context, h History, txn *transaction.Transaction, now time.Time) (Result, error) {
	since := now.Add(-time.Duration(e.params.WindowMinutes) * time.Minute)
	count, err := h.CountBySubjectSince(ctx, txn.CPF, since)
	if err != nil {
		return Result{}, err
	}
	// The transaction under evaluation is already stored, so count includes it.
	if count > e.params.MaxTransactions {
		return Result{
			Triggered: true,
			Details: map[string]any{
				"count":         count,
				"max":           e.params.MaxTransactions,
				"windowMinutes": e.params.WindowMinutes,
			},
		}, nil
	}
	return Result{}, nil
}

// valueParams configures the amount-vs-historical-average check.
type valueParams struct {
	Multiplier   float64 `json:"multiplier"`
	LookbackDays int     `json:"lookbackDays"`
}

type valueEvaluator struct {
	params valueParams
}

func (e *valueEvaluator) Evaluate(ctx context.Context, h History, txn *transaction.Transaction, now time.Time) (Result, error) {
	since := now.AddDate(0, 0, -e.params.LookbackDays)
	avg, err := h.AvgAmountSince(ctx, txn.CPF, since)
	if err != nil {
		return Result{}, err
	}
	// No history means no baseline to compare against.
	if avg <= 0 {
		return Result{}, nil
	}
	if txn.Amount > avg*e.params.Multiplier {
		return Result{
			Triggered: true,
			Details: map[string]any{
				"amount":     txn.Amount,
				"average":    avg,
				"multiplier": e.params.Multiplier,
			},
		}, nil
	}
	return Result{}, nil
}

// deviceEvaluator triggers on a device fingerprint this subject has never
// used before. Transactions without a fingerprint never trigger it.
type deviceEvaluator struct{}

func (e *deviceEvaluator) Evaluate(ctx context.Context, h History, txn *transaction.Transaction, now time.Time) (Result, error) {
	if txn.DeviceFingerprint == "" {
		return Result{}, nil
	}
	seen, err := h.DeviceSeenForSubject(ctx, txn.CPF, txn.DeviceFingerprint, txn.OccurredAt)
	if err != nil {
		return Result{}, err
	}
	if !seen {
		return Result{
			Triggered: true,
			Details:   map[string]any{"fingerprint": txn.DeviceFingerprint},
		}, nil
	}
	return Result{}, nil
}

// timeParams configures the off-hours window in the transaction's local hour.
// A window may wrap midnight (e.g. start 22, end 6).
type timeParams struct {
	StartHour int `json:"startHour"`
	EndHour   int `json:"endHour"`
}

type timeEvaluator struct {
	params timeParams
}

func (e *timeEvaluator) Evaluate(ctx context.Context, h History, txn *transaction.Transaction, now time.Time) (Result, error) {
	hour := txn.OccurredAt.Hour()
	var inWindow bool
	if e.params.StartHour <= e.params.EndHour {
		inWindow = hour >= e.params.StartHour && hour < e.params.EndHour
	} else {
		inWindow = hour >= e.params.StartHour || hour < e.params.EndHour
	}
	if inWindow {
		return Result{
			Triggered: true,
			Details:   map[string]any{"hour": hour, "startHour": e.params.StartHour, "endHour": e.params.EndHour},
		}, nil
	}
	return Result{}, nil
}

// locationParams configures the distinct-subjects-per-IP check.
type locationParams struct {
	MaxCPFsPerIP  int `json:"maxCpfsPerIp"`
	WindowMinutes int `json:"windowMinutes"`
}

type locationEvaluator struct {
	params locationParams
}

func (e *locationEvaluator) Evaluate(ctx context.Context, h History, txn *transaction.Transaction, now time.Time) (Result, error) {
	if txn.IP == "" {
		return Result{}, nil
	}
	since := now.Add(-time.Duration(e.params.WindowMinutes) * time.Minute)
	subjects, err := h.DistinctSubjectsByIPSince(ctx, txn.IP, since)
	if err != nil {
		return Result{}, err
	}
	if subjects > e.params.MaxCPFsPerIP {
		return Result{
			Triggered: true,
			Details: map[string]any{
				"ip":            txn.IP,
				"subjects":      subjects,
				"max":           e.params.MaxCPFsPerIP,
				"windowMinutes": e.params.WindowMinutes,
			},
		}, nil
	}
	return Result{}, nil
}
