package lists

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lumapay/riskengine/internal/settings"
)

// Maintenance periodically deactivates stale AUTO-origin whitelist entries.
// Rows are flipped inactive, never deleted, so the audit trail survives.
type Maintenance struct {
	store    Store
	settings *settings.Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewMaintenance creates the whitelist staleness sweeper.
func NewMaintenance(store Store, svc *settings.Service, logger *slog.Logger) *Maintenance {
	return &Maintenance{
		store:    store,
		settings: svc,
		interval: 24 * time.Hour,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweeper loop is actively running.
func (m *Maintenance) Running() bool {
	return m.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (m *Maintenance) Start(ctx context.Context) {
	m.running.Store(true)
	defer m.running.Store(false)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (m *Maintenance) Stop() {
	select {
	case m.stop <- struct{}{}:
	default:
	}
}

func (m *Maintenance) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in whitelist maintenance", "panic", fmt.Sprint(r))
		}
	}()
	m.Sweep(ctx)
}

// Sweep runs one staleness pass.
func (m *Maintenance) Sweep(ctx context.Context) {
	staleAfter := m.settings.Promoter(ctx).StaleAfter
	cutoff := time.Now().Add(-staleAfter)

	deactivated, err := m.store.DeactivateStaleAuto(ctx, cutoff)
	if err != nil {
		m.logger.Warn("whitelist staleness sweep failed", "error", err)
		return
	}
	if deactivated > 0 {
		m.logger.Info("deactivated stale whitelist entries",
			"count", deactivated,
			"staleAfter", staleAfter,
		)
	}
}
