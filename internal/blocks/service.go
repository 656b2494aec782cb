package blocks

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lumapay/riskengine/internal/logging"
)

// ValidationResult is the answer to "may this request proceed".
type ValidationResult struct {
	Permitted bool   `json:"permitted"`
	Reason    string `json:"reason,omitempty"`
	BlockID   string `json:"blockId,omitempty"`
}

// Validator answers block checks for traffic gateways. Lookups fail open: an
// internal error permits the request rather than blocking legitimate traffic
// on an outage.
type Validator struct {
	store Store
}

func NewValidator(store Store) *Validator {
	return &Validator{store: store}
}

// Validate checks ip and cpf against active blocks. Either argument may be
// empty; an empty subject is not checked.
func (v *Validator) Validate(ctx context.Context, ip, cpf string) ValidationResult {
	if ip != "" {
		if res, done := v.check(ctx, BlockIP, ip); done {
			return res
		}
	}
	if cpf != "" {
		if res, done := v.check(ctx, BlockCPF, cpf); done {
			return res
		}
	}
	return ValidationResult{Permitted: true}
}

func (v *Validator) check(ctx context.Context, t BlockType, value string) (ValidationResult, bool) {
	b, err := v.store.FindActive(ctx, t, value)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logging.FromContext(ctx).Error("block lookup failed, permitting request",
				slog.String("block_type", string(t)),
				slog.String("error", err.Error()))
		}
		return ValidationResult{}, false
	}
	return ValidationResult{Permitted: false, Reason: b.Reason, BlockID: b.ID}, true
}
