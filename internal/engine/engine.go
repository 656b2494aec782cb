package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumapay/riskengine/internal/authhistory"
	"github.com/lumapay/riskengine/internal/idgen"
	"github.com/lumapay/riskengine/internal/lists"
	"github.com/lumapay/riskengine/internal/metrics"
	"github.com/lumapay/riskengine/internal/notify"
	"github.com/lumapay/riskengine/internal/oracle"
	"github.com/lumapay/riskengine/internal/rules"
	"github.com/lumapay/riskengine/internal/settings"
	"github.com/lumapay/riskengine/internal/traces"
	"github.com/lumapay/riskengine/internal/transaction"
)

// ApprovalSink consumes approved transactions; the auto-whitelist promoter
// implements it.
type ApprovalSink interface {
	OnApproved(ctx context.Context, txn *transaction.Transaction) error
}

// Publisher broadcasts finished decisions, e.g. to WebSocket subscribers.
type Publisher interface {
	PublishDecision(d *Decision)
}

// Engine runs the decision pipeline. All collaborators are injected; the
// zero-value hooks (nil promoter, nil publisher) are skipped.
type Engine struct {
	decisions Store
	lists     lists.Store
	rules     rules.Store
	history   rules.History

	oracle   oracle.Scorer
	auth     authhistory.Lookup
	settings *settings.Service
	notifier notify.Notifier
	promoter ApprovalSink
	pub      Publisher

	logger *slog.Logger
	now    func() time.Time
}

// Options carries the optional collaborators.
type Options struct {
	Notifier  notify.Notifier
	Promoter  ApprovalSink
	Publisher Publisher
}

func New(decisions Store, listStore lists.Store, ruleStore rules.Store, history rules.History,
	scorer oracle.Scorer, auth authhistory.Lookup, svc *settings.Service,
	logger *slog.Logger, opts Options) *Engine {
	e := &Engine{
		decisions: decisions,
		lists:     listStore,
		rules:     ruleStore,
		history:   history,
		oracle:    scorer,
		auth:      auth,
		settings:  svc,
		notifier:  opts.Notifier,
		promoter:  opts.Promoter,
		pub:       opts.Publisher,
		logger:    logger,
		now:       time.Now,
	}
	if e.notifier == nil {
		e.notifier = notify.Nop{}
	}
	return e
}

// WithClock overrides the engine's clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Evaluate runs the full pipeline for a persisted transaction and records a
// new Decision. It returns an error only when the decision cannot be
// persisted; every collaborator failure inside the pipeline degrades to its
// neutral contribution instead.
func (e *Engine) Evaluate(ctx context.Context, txn *transaction.Transaction) (*Decision, error) {
	ctx, span := traces.StartSpan(ctx, "engine.Evaluate",
		traces.TransactionID(txn.ID), traces.Channel(string(txn.Channel)))
	defer span.End()

	start := e.now()
	snap := e.settings.Engine(ctx)

	d := &Decision{
		ID:            idgen.WithPrefix("dec_"),
		TransactionID: txn.ID,
		CPF:           txn.CPF,
		IP:            txn.IP,
		DeviceFP:      txn.DeviceFingerprint,
		Outcome:       OutcomeApproved,
		CreatedAt:     start.UTC(),
	}

	if hit := e.blacklistHit(ctx, txn); hit != nil {
		d.Score = 100
		d.Outcome = OutcomeRejected
		d.Reasons = append(d.Reasons, fmt.Sprintf("blacklist: %s %s", hit.Type, hit.Value))
		return e.finish(ctx, txn, d, start)
	}

	discount := e.whitelistDiscount(ctx, txn, snap)
	d.WhitelistDiscount = discount

	base, fromOracle := oracle.ScoreOrNeutral(ctx, e.oracle, txn, snap.OracleFallbackScore)
	d.OracleScore = base
	d.OracleUsed = fromOracle
	if !fromOracle {
		d.Reasons = append(d.Reasons, "oracle unavailable, neutral base score")
	}

	// The discount applies to the oracle base only, floored at zero.
	base -= discount
	if base < 0 {
		base = 0
	}
	if discount > 0 {
		d.Reasons = append(d.Reasons, fmt.Sprintf("whitelist discount -%d", discount))
	}

	adj := authhistory.AdjustmentOrNeutral(ctx, e.auth, txn.CPF, string(txn.Channel), authhistory.Thresholds{
		FailureRate:    snap.AuthFailureRateThreshold,
		FailedAttempts: snap.AuthFailedAttemptsThreshold,
	})
	d.AuthAdjustment = adj
	if adj > 0 {
		d.Reasons = append(d.Reasons, fmt.Sprintf("auth history +%d", adj))
	}

	score := base + adj
	score, ruleRejected, ruleReview := e.applyRules(ctx, txn, d, score)

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	d.Score = score

	switch {
	case ruleRejected:
		d.Outcome = OutcomeRejected
	case score >= snap.RejectThreshold:
		d.Outcome = OutcomeRejected
		d.Reasons = append(d.Reasons, fmt.Sprintf("score %d at or above reject threshold %d", score, snap.RejectThreshold))
	case ruleReview:
		d.Outcome = OutcomeReview
	case score >= snap.ReviewThreshold:
		d.Outcome = OutcomeReview
		d.Reasons = append(d.Reasons, fmt.Sprintf("score %d requires manual review", score))
	default:
		d.Outcome = OutcomeApproved
	}

	return e.finish(ctx, txn, d, start)
}

func (e *Engine) blacklistHit(ctx context.Context, txn *transaction.Transaction) *lists.BlacklistEntry {
	keys := subjectKeys(txn, true)
	hit, err := e.lists.FindInForce(ctx, keys, e.now())
	if err != nil {
		if !errors.Is(err, lists.ErrNotFound) {
			e.logger.Error("blacklist lookup failed, continuing without hard stop",
				slog.String("transaction_id", txn.ID), slog.String("error", err.Error()))
		}
		return nil
	}
	return hit
}

func (e *Engine) whitelistDiscount(ctx context.Context, txn *transaction.Transaction, snap settings.EngineSnapshot) int {
	matches, err := e.lists.ActiveWhitelistMatches(ctx, subjectKeys(txn, false))
	if err != nil {
		e.logger.Warn("whitelist lookup failed, no discount applied",
			slog.String("transaction_id", txn.ID), slog.String("error", err.Error()))
		return 0
	}
	discount := len(matches) * snap.WhitelistDiscountPerItem
	if discount > snap.WhitelistDiscountMax {
		discount = snap.WhitelistDiscountMax
	}
	return discount
}

// applyRules evaluates the active rules ascending by priority and folds their
// contributions into the score. A REJECT action pins the outcome; evaluation
// still continues so the reason trail is complete.
func (e *Engine) applyRules(ctx context.Context, txn *transaction.Transaction, d *Decision, score int) (int, bool, bool) {
	active, err := e.rules.ListActive(ctx)
	if err != nil {
		e.logger.Error("rule catalog unavailable, skipping rule evaluation",
			slog.String("transaction_id", txn.ID), slog.String("error", err.Error()))
		return score, false, false
	}

	var rejected, review bool
	now := e.now()
	for _, r := range active {
		res, err := e.evalRule(ctx, r, txn, now)
		if err != nil {
			metrics.RuleEvaluationErrorsTotal.WithLabelValues(r.Name).Inc()
			e.logger.Error("rule evaluation failed, treating as not triggered",
				slog.String("transaction_id", txn.ID),
				slog.String("rule", r.Name),
				slog.String("error", err.Error()))
			continue
		}
		if !res.Triggered {
			continue
		}

		delta := r.ScoreDelta()
		score += delta
		d.TriggeredRules = append(d.TriggeredRules, TriggeredRule{
			RuleID:     r.ID,
			Name:       r.Name,
			Kind:       string(r.Kind),
			Action:     string(r.Action),
			ScoreDelta: delta,
			Details:    res.Details,
		})
		d.Reasons = append(d.Reasons, fmt.Sprintf("rule %s +%d", r.Name, delta))

		switch r.Action {
		case rules.ActionReject:
			rejected = true
		case rules.ActionReview:
			review = true
		}
	}
	return score, rejected, review
}

// evalRule isolates a single rule: param decode errors, evaluator errors, and
// panics all surface as an error for this rule only.
func (e *Engine) evalRule(ctx context.Context, r *rules.Rule, txn *transaction.Transaction, now time.Time) (res rules.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("rule panicked: %v", rec)
		}
	}()

	ev, err := rules.NewEvaluator(r)
	if err != nil {
		return rules.Result{}, err
	}
	return ev.Evaluate(ctx, e.history, txn, now)
}

// finish persists the decision, emits metrics, and runs the post-decision
// hooks. Hook failures are logged and never alter the stored outcome.
func (e *Engine) finish(ctx context.Context, txn *transaction.Transaction, d *Decision, start time.Time) (*Decision, error) {
	d.DurationMS = e.now().Sub(start).Milliseconds()

	if err := e.decisions.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("engine: persist decision: %w", err)
	}
	traces.Annotate(ctx, traces.DecisionID(d.ID), traces.Outcome(string(d.Outcome)), traces.Score(d.Score))

	metrics.DecisionsTotal.WithLabelValues(string(d.Outcome)).Inc()
	metrics.DecisionScore.Observe(float64(d.Score))
	metrics.DecisionDuration.Observe(float64(d.DurationMS) / 1000)

	e.logger.Info("decision recorded",
		slog.String("decision_id", d.ID),
		slog.String("transaction_id", txn.ID),
		slog.Int("score", d.Score),
		slog.String("outcome", string(d.Outcome)),
		slog.Int64("duration_ms", d.DurationMS))

	switch d.Outcome {
	case OutcomeReview:
		e.safeHook("notify", d.ID, func() error {
			return e.notifier.NotifyReview(ctx, notify.ReviewEvent{
				DecisionID:     d.ID,
				TransactionID:  txn.ID,
				Score:          d.Score,
				Reasons:        d.Reasons,
				TriggeredRules: ruleNames(d.TriggeredRules),
				MaskedCPF:      txn.MaskedCPF(),
				Amount:         txn.Amount,
				Channel:        string(txn.Channel),
				DecidedAt:      d.CreatedAt,
			})
		})
	case OutcomeApproved:
		if e.promoter != nil {
			e.safeHook("promoter", d.ID, func() error {
				return e.promoter.OnApproved(ctx, txn)
			})
		}
	}

	if e.pub != nil {
		e.pub.PublishDecision(d)
	}
	return d, nil
}

func (e *Engine) safeHook(name, decisionID string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("post-decision hook panicked",
				slog.String("hook", name), slog.String("decision_id", decisionID))
		}
	}()
	if err := fn(); err != nil {
		e.logger.Warn("post-decision hook failed",
			slog.String("hook", name),
			slog.String("decision_id", decisionID),
			slog.String("error", err.Error()))
	}
}

// subjectKeys collects the list-lookup keys present on a transaction.
// Blacklist checks additionally include the card BIN.
func subjectKeys(txn *transaction.Transaction, includeBIN bool) []lists.Key {
	keys := []lists.Key{{Type: lists.TypeCPF, Value: txn.CPF}}
	if txn.IP != "" {
		keys = append(keys, lists.Key{Type: lists.TypeIP, Value: txn.IP})
	}
	if txn.DeviceFingerprint != "" {
		keys = append(keys, lists.Key{Type: lists.TypeDevice, Value: txn.DeviceFingerprint})
	}
	if includeBIN && txn.CardBIN != "" {
		keys = append(keys, lists.Key{Type: lists.TypeBIN, Value: txn.CardBIN})
	}
	return keys
}

func ruleNames(triggered []TriggeredRule) []string {
	if len(triggered) == 0 {
		return nil
	}
	names := make([]string, len(triggered))
	for i, tr := range triggered {
		names[i] = tr.Name
	}
	return names
}
