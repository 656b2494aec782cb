package lists

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumapay/riskengine/internal/idgen"
	"github.com/lumapay/riskengine/internal/metrics"
	"github.com/lumapay/riskengine/internal/settings"
	"github.com/lumapay/riskengine/internal/transaction"
)

// ApprovalHistory counts approved decisions, the promoter's evidence source.
// IP and device counts are correlated to the same CPF so a shared or public
// IP never earns a whitelist row from many unrelated customers.
type ApprovalHistory interface {
	CountApprovedBySubjectSince(ctx context.Context, cpf string, since time.Time) (int, error)
	CountApprovedByIPForSubjectSince(ctx context.Context, ip, cpf string, since time.Time) (int, error)
	CountApprovedByDeviceForSubjectSince(ctx context.Context, device, cpf string, since time.Time) (int, error)
}

// Promoter consumes approved decisions and maintains the auto-whitelist.
type Promoter struct {
	store    Store
	history  ApprovalHistory
	settings *settings.Service
	logger   *slog.Logger
	now      func() time.Time
}

// NewPromoter creates an auto-whitelist promoter.
func NewPromoter(store Store, history ApprovalHistory, svc *settings.Service, logger *slog.Logger) *Promoter {
	return &Promoter{
		store:    store,
		history:  history,
		settings: svc,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the promoter's clock, for tests.
func (p *Promoter) WithClock(now func() time.Time) *Promoter {
	p.now = now
	return p
}

// OnApproved processes one approved transaction. For each subject key present
// it either bumps the existing whitelist counter or, once the approval count
// reaches the configured minimum, creates a new AUTO entry. Each key is
// handled independently; one key's failure does not stop the others.
func (p *Promoter) OnApproved(ctx context.Context, txn *transaction.Transaction) error {
	snap := p.settings.Promoter(ctx)
	now := p.now()
	since := now.Add(-snap.Window)

	var errs []error
	for _, key := range promotionKeys(txn) {
		if err := p.promote(ctx, key, txn, snap.MinApprovals, since, now); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", key.Type, key.Value, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Promoter) promote(ctx context.Context, key Key, txn *transaction.Transaction, minApprovals int, since, now time.Time) error {
	bumped, err := p.store.IncrementApproval(ctx, key.Type, key.Value, now)
	if err != nil {
		return fmt.Errorf("increment approval: %w", err)
	}
	if bumped {
		return nil
	}

	count, err := p.countApprovals(ctx, key, txn.CPF, since)
	if err != nil {
		return fmt.Errorf("count approvals: %w", err)
	}
	if count < minApprovals {
		return nil
	}

	entry := &WhitelistEntry{
		ID:             idgen.WithPrefix("wl_"),
		Type:           key.Type,
		Value:          key.Value,
		Origin:         OriginAuto,
		ApprovalCount:  count,
		LastApprovalAt: now,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = p.store.AddWhitelist(ctx, entry)
	if errors.Is(err, ErrAlreadyExists) {
		// Lost a create race; the row exists, so count this approval on it.
		_, err = p.store.IncrementApproval(ctx, key.Type, key.Value, now)
	}
	if err != nil {
		return fmt.Errorf("create whitelist entry: %w", err)
	}

	metrics.WhitelistPromotionsTotal.WithLabelValues(string(key.Type)).Inc()
	p.logger.Info("auto-promoted to whitelist",
		"type", key.Type,
		"approvals", count,
	)
	return nil
}

func (p *Promoter) countApprovals(ctx context.Context, key Key, cpf string, since time.Time) (int, error) {
	switch key.Type {
	case TypeCPF:
		return p.history.CountApprovedBySubjectSince(ctx, key.Value, since)
	case TypeIP:
		return p.history.CountApprovedByIPForSubjectSince(ctx, key.Value, cpf, since)
	case TypeDevice:
		return p.history.CountApprovedByDeviceForSubjectSince(ctx, key.Value, cpf, since)
	default:
		return 0, nil
	}
}

// promotionKeys lists the subject keys a transaction can earn whitelist
// entries for: always the CPF, plus IP and device when present.
func promotionKeys(txn *transaction.Transaction) []Key {
	keys := []Key{{Type: TypeCPF, Value: txn.CPF}}
	if txn.IP != "" {
		keys = append(keys, Key{Type: TypeIP, Value: txn.IP})
	}
	if txn.DeviceFingerprint != "" {
		keys = append(keys, Key{Type: TypeDevice, Value: txn.DeviceFingerprint})
	}
	return keys
}
