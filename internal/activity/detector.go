package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/lumapay/riskengine/internal/idgen"
	"github.com/lumapay/riskengine/internal/metrics"
	"github.com/lumapay/riskengine/internal/settings"
	"github.com/lumapay/riskengine/internal/transaction"
)

// scanLimit caps how many recent transactions one scan examines.
const scanLimit = 1000

// RejectionCounts is the slice of the decision store the failure-burst
// signature needs.
type RejectionCounts interface {
	CountRejectedByIPSince(ctx context.Context, ip string, since time.Time) (int, error)
}

// ScanResult reports a scan's per-signature outcome. A signature's failure
// never stops the others; its error lands in Errors instead.
type ScanResult struct {
	Detected map[Type]int
	Errors   []string
}

// Detector runs the six signatures over recent traffic.
type Detector struct {
	store     Store
	txns      transaction.Store
	decisions RejectionCounts
	settings  *settings.Service
	logger    *slog.Logger
	now       func() time.Time
}

func NewDetector(store Store, txns transaction.Store, decisions RejectionCounts,
	svc *settings.Service, logger *slog.Logger) *Detector {
	return &Detector{
		store:     store,
		txns:      txns,
		decisions: decisions,
		settings:  svc,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the detector's clock, for tests.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Scan evaluates every signature over the configured lookback window.
func (d *Detector) Scan(ctx context.Context) ScanResult {
	snap := d.settings.Detector(ctx)
	now := d.now()

	result := ScanResult{Detected: make(map[Type]int)}
	recent, err := d.txns.ListSince(ctx, now.Add(-snap.Lookback), scanLimit)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("load recent transactions: %v", err))
		return result
	}
	if len(recent) == 0 {
		return result
	}

	signatures := []struct {
		typ Type
		run func(context.Context, []*transaction.Transaction, settings.DetectorSnapshot, time.Time) (int, error)
	}{
		{TypeMultiIP, d.scanMultiIP},
		{TypeFailureBurst, d.scanFailureBurst},
		{TypeFirstIP, d.scanFirstIP},
		{TypeOffHours, d.scanOffHours},
		{TypeVelocity, d.scanVelocity},
	}
	for _, sig := range signatures {
		n, err := d.safeScan(ctx, sig.run, recent, snap, now)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", sig.typ, err))
			d.logger.Error("detector signature failed",
				slog.String("signature", string(sig.typ)),
				slog.String("error", err.Error()))
			continue
		}
		result.Detected[sig.typ] = n
	}
	return result
}

func (d *Detector) safeScan(ctx context.Context,
	run func(context.Context, []*transaction.Transaction, settings.DetectorSnapshot, time.Time) (int, error),
	recent []*transaction.Transaction, snap settings.DetectorSnapshot, now time.Time) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("signature panicked: %v", rec)
		}
	}()
	return run(ctx, recent, snap, now)
}

func (d *Detector) scanMultiIP(ctx context.Context, recent []*transaction.Transaction, snap settings.DetectorSnapshot, now time.Time) (int, error) {
	detected := 0
	for _, cpf := range distinctCPFs(recent) {
		ips, err := d.txns.DistinctIPsBySubjectSince(ctx, cpf, now.Add(-snap.MultiIPWindow))
		if err != nil {
			return detected, err
		}
		if len(ips) < snap.MultiIPMin {
			continue
		}
		sort.Strings(ips)
		ok, err := d.record(ctx, &Activity{
			Type:     TypeMultiIP,
			Subject:  cpf,
			CPF:      cpf,
			Severity: 4,
			Evidence: map[string]any{
				"ips":           ips,
				"ipCount":       len(ips),
				"windowMinutes": int(snap.MultiIPWindow.Minutes()),
			},
		}, snap.Lookback, now)
		if err != nil {
			return detected, err
		}
		if ok {
			detected++
		}
	}
	return detected, nil
}

func (d *Detector) scanFailureBurst(ctx context.Context, recent []*transaction.Transaction, snap settings.DetectorSnapshot, now time.Time) (int, error) {
	detected := 0
	for _, ip := range distinctIPs(recent) {
		n, err := d.decisions.CountRejectedByIPSince(ctx, ip, now.Add(-snap.FailureBurstWindow))
		if err != nil {
			return detected, err
		}
		if n < snap.FailureBurstMin {
			continue
		}
		ok, err := d.record(ctx, &Activity{
			Type:     TypeFailureBurst,
			Subject:  ip,
			IP:       ip,
			Severity: 5,
			Evidence: map[string]any{
				"rejectedCount": n,
				"windowMinutes": int(snap.FailureBurstWindow.Minutes()),
			},
		}, snap.Lookback, now)
		if err != nil {
			return detected, err
		}
		if ok {
			detected++
		}
	}
	return detected, nil
}

func (d *Detector) scanFirstIP(ctx context.Context, recent []*transaction.Transaction, snap settings.DetectorSnapshot, now time.Time) (int, error) {
	detected := 0
	for _, txn := range recent {
		if txn.IP == "" {
			continue
		}
		seen, err := d.txns.IPSeenForSubjectBefore(ctx, txn.CPF, txn.IP, txn.OccurredAt)
		if err != nil {
			return detected, err
		}
		if seen {
			continue
		}
		ok, err := d.record(ctx, &Activity{
			Type:     TypeFirstIP,
			Subject:  txn.CPF,
			CPF:      txn.CPF,
			IP:       txn.IP,
			Portal:   txn.Portal,
			Severity: 3,
			Evidence: map[string]any{
				"ip":            txn.IP,
				"transactionId": txn.ID,
			},
		}, snap.Lookback, now)
		if err != nil {
			return detected, err
		}
		if ok {
			detected++
		}
	}
	return detected, nil
}

func (d *Detector) scanOffHours(ctx context.Context, recent []*transaction.Transaction, snap settings.DetectorSnapshot, now time.Time) (int, error) {
	detected := 0
	for _, txn := range recent {
		hour := txn.OccurredAt.Hour()
		if hour < snap.OffHoursStart || hour >= snap.OffHoursEnd {
			continue
		}
		ok, err := d.record(ctx, &Activity{
			Type:     TypeOffHours,
			Subject:  txn.CPF,
			CPF:      txn.CPF,
			IP:       txn.IP,
			Portal:   txn.Portal,
			Severity: 2,
			Evidence: map[string]any{
				"hour":          hour,
				"transactionId": txn.ID,
			},
		}, snap.Lookback, now)
		if err != nil {
			return detected, err
		}
		if ok {
			detected++
		}
	}
	return detected, nil
}

func (d *Detector) scanVelocity(ctx context.Context, recent []*transaction.Transaction, snap settings.DetectorSnapshot, now time.Time) (int, error) {
	detected := 0
	for _, cpf := range distinctCPFs(recent) {
		n, err := d.txns.CountBySubjectSince(ctx, cpf, now.Add(-snap.VelocityWindow))
		if err != nil {
			return detected, err
		}
		if n < snap.VelocityMin {
			continue
		}
		ok, err := d.record(ctx, &Activity{
			Type:     TypeVelocity,
			Subject:  cpf,
			CPF:      cpf,
			Severity: 4,
			Evidence: map[string]any{
				"transactionCount": n,
				"windowMinutes":    int(snap.VelocityWindow.Minutes()),
			},
		}, snap.Lookback, now)
		if err != nil {
			return detected, err
		}
		if ok {
			detected++
		}
	}
	return detected, nil
}

// record writes an activity unless one of the same (type, subject) already
// exists inside the lookback window. A unique-key conflict from a concurrent
// writer counts as already recorded.
func (d *Detector) record(ctx context.Context, a *Activity, lookback time.Duration, now time.Time) (bool, error) {
	exists, err := d.store.ExistsSince(ctx, a.Type, a.Subject, now.Add(-lookback))
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	a.ID = idgen.WithPrefix("act_")
	a.Status = StatusPending
	a.DetectedAt = now.UTC()
	if err := d.store.Create(ctx, a); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return false, nil
		}
		return false, err
	}

	metrics.ActivitiesDetectedTotal.WithLabelValues(string(a.Type)).Inc()
	d.logger.Warn("suspicious activity detected",
		slog.String("activity_id", a.ID),
		slog.String("type", string(a.Type)),
		slog.Int("severity", a.Severity))
	return true, nil
}

func distinctCPFs(txns []*transaction.Transaction) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, txn := range txns {
		if _, ok := seen[txn.CPF]; ok {
			continue
		}
		seen[txn.CPF] = struct{}{}
		out = append(out, txn.CPF)
	}
	return out
}

func distinctIPs(txns []*transaction.Transaction) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, txn := range txns {
		if txn.IP == "" {
			continue
		}
		if _, ok := seen[txn.IP]; ok {
			continue
		}
		seen[txn.IP] = struct{}{}
		out = append(out, txn.IP)
	}
	return out
}
