package blocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lumapay/riskengine/internal/activity"
	"github.com/lumapay/riskengine/internal/idgen"
	"github.com/lumapay/riskengine/internal/metrics"
	"github.com/lumapay/riskengine/internal/settings"
)

// escalationSeverity is the minimum severity the escalator acts on.
const escalationSeverity = 5

// Escalator turns fresh critical activities into IP blocks without waiting
// for a human. It only considers PENDING severity-5 activities detected
// within the recency window, so stale findings are left to manual triage.
type Escalator struct {
	blocks     Store
	activities activity.Store
	settings   *settings.Service
	interval   time.Duration
	logger     *slog.Logger
	stop       chan struct{}
	running    atomic.Bool
	working    atomic.Bool
	now        func() time.Time
}

// NewEscalator creates the escalator. A zero interval defaults to ten minutes.
func NewEscalator(blockStore Store, activities activity.Store, svc *settings.Service,
	interval time.Duration, logger *slog.Logger) *Escalator {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Escalator{
		blocks:     blockStore,
		activities: activities,
		settings:   svc,
		interval:   interval,
		logger:     logger,
		stop:       make(chan struct{}),
		now:        time.Now,
	}
}

// WithClock overrides the escalator's clock, for tests.
func (e *Escalator) WithClock(now func() time.Time) *Escalator {
	e.now = now
	return e
}

// Running reports whether the escalation loop is actively running.
func (e *Escalator) Running() bool {
	return e.running.Load()
}

// Start begins the escalation loop. Call in a goroutine.
func (e *Escalator) Start(ctx context.Context) {
	e.running.Store(true)
	defer e.running.Store(false)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.safeRun(ctx)
		}
	}
}

// Stop signals the escalation loop to stop.
func (e *Escalator) Stop() {
	select {
	case e.stop <- struct{}{}:
	default:
	}
}

func (e *Escalator) safeRun(ctx context.Context) {
	if !e.working.CompareAndSwap(false, true) {
		e.logger.Warn("escalation pass still running, skipping tick")
		return
	}
	defer e.working.Store(false)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in auto-block escalation", "panic", fmt.Sprint(r))
		}
	}()
	e.Run(ctx)
}

// Run executes one escalation pass. Safe to rerun over the same data: a
// subject that is already blocked is skipped, and the duplicate-key backstop
// catches concurrent creates.
func (e *Escalator) Run(ctx context.Context) {
	now := e.now()
	since := now.Add(-e.settings.EscalatorRecency(ctx))

	pending, err := e.activities.ListPendingSevereSince(ctx, escalationSeverity, since)
	if err != nil {
		e.logger.Error("escalator could not list critical activities", slog.String("error", err.Error()))
		return
	}

	for _, a := range pending {
		if a.IP == "" {
			continue
		}
		if err := e.escalate(ctx, a, now); err != nil {
			e.logger.Error("auto-block escalation failed",
				slog.String("activity_id", a.ID),
				slog.String("error", err.Error()))
		}
	}
}

func (e *Escalator) escalate(ctx context.Context, a *activity.Activity, now time.Time) error {
	if _, err := e.blocks.FindActive(ctx, BlockIP, a.IP); err == nil {
		// Already blocked, nothing to do.
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	b := &SecurityBlock{
		ID:        idgen.WithPrefix("blk_"),
		Type:      BlockIP,
		Value:     a.IP,
		Reason:    fmt.Sprintf("auto-block: %s", a.Type),
		CreatedBy: SystemActor,
		Portal:    a.Portal,
		Evidence:  a.Evidence,
		Active:    true,
		CreatedAt: now.UTC(),
	}
	if err := e.blocks.Create(ctx, b); err != nil {
		if errors.Is(err, ErrAlreadyBlocked) {
			return nil
		}
		return err
	}

	metrics.AutoBlocksTotal.Inc()
	e.logger.Warn("auto-block created",
		slog.String("block_id", b.ID),
		slog.String("activity_id", a.ID),
		slog.String("activity_type", string(a.Type)))

	if err := e.activities.MarkBlocked(ctx, a.ID, b.ID, now.UTC()); err != nil &&
		!errors.Is(err, activity.ErrAlreadyResolved) {
		return fmt.Errorf("link activity to block: %w", err)
	}
	return nil
}
