package activity

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer drives the detector on a fixed period. Ticks never overlap: a tick
// arriving while a scan is still running is skipped.
type Timer struct {
	detector *Detector
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
	scanning atomic.Bool
}

// NewTimer creates the detector's schedule. A zero interval defaults to
// five minutes.
func NewTimer(detector *Detector, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Timer{
		detector: detector,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the scan loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the scan loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeScan(ctx)
		}
	}
}

// Stop signals the scan loop to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeScan(ctx context.Context) {
	if !t.scanning.CompareAndSwap(false, true) {
		t.logger.Warn("detector scan still running, skipping tick")
		return
	}
	defer t.scanning.Store(false)
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in detector scan", "panic", fmt.Sprint(r))
		}
	}()

	result := t.detector.Scan(ctx)
	total := 0
	for _, n := range result.Detected {
		total += n
	}
	if total > 0 || len(result.Errors) > 0 {
		t.logger.Info("detector scan finished",
			slog.Int("detected", total),
			slog.Int("signature_errors", len(result.Errors)))
	}
}
