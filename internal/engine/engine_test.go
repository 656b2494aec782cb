package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumapay/riskengine/internal/authhistory"
	"github.com/lumapay/riskengine/internal/lists"
	"github.com/lumapay/riskengine/internal/rules"
	"github.com/lumapay/riskengine/internal/settings"
	"github.com/lumapay/riskengine/internal/transaction"
)

type fixedOracle struct {
	score int
	err   error
}

func (f *fixedOracle) Score(context.Context, *transaction.Transaction) (int, error) {
	return f.score, f.err
}

type fixedAuth struct {
	profile *authhistory.Profile
	err     error
}

func (f *fixedAuth) Profile(context.Context, string, string) (*authhistory.Profile, error) {
	return f.profile, f.err
}

type recordingSink struct {
	approved []string
}

func (r *recordingSink) OnApproved(ctx context.Context, txn *transaction.Transaction) error {
	r.approved = append(r.approved, txn.ID)
	return nil
}

type testRig struct {
	engine    *Engine
	decisions *MemoryStore
	lists     *lists.MemoryStore
	rules     *rules.MemoryStore
	txns      *transaction.MemoryStore
	oracle    *fixedOracle
	sink      *recordingSink
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	logger := slog.Default()
	rig := &testRig{
		decisions: NewMemoryStore(),
		lists:     lists.NewMemoryStore(),
		rules:     rules.NewMemoryStore(),
		txns:      transaction.NewMemoryStore(),
		oracle:    &fixedOracle{err: errors.New("down")},
		sink:      &recordingSink{},
	}
	svc := settings.NewService(settings.NewMemoryStore(), logger)
	rig.engine = New(rig.decisions, rig.lists, rig.rules, rig.txns,
		rig.oracle, &fixedAuth{profile: &authhistory.Profile{HasTrustedDevice: true}}, svc,
		logger, Options{Promoter: rig.sink})
	return rig
}

func (rig *testRig) addTxn(t *testing.T, cpf, ip string, amount float64, occurredAt time.Time) *transaction.Transaction {
	t.Helper()
	txn := &transaction.Transaction{
		ID:         fmt.Sprintf("txn_%d_%s", occurredAt.UnixNano(), cpf),
		ExternalID: fmt.Sprintf("ext_%d_%s", occurredAt.UnixNano(), cpf),
		Channel:    transaction.ChannelWEB,
		CPF:        cpf,
		IP:         ip,
		Amount:     amount,
		OccurredAt: occurredAt,
		CreatedAt:  occurredAt,
	}
	require.NoError(t, rig.txns.Create(context.Background(), txn))
	return txn
}

func (rig *testRig) addRule(t *testing.T, kind rules.Kind, action rules.Action, weight int, params string) {
	t.Helper()
	r := &rules.Rule{
		ID:     "rule_" + string(kind),
		Name:   string(kind) + " rule",
		Kind:   kind,
		Weight: weight,
		Action: action,
		Active: true,
	}
	if params != "" {
		r.Params = json.RawMessage(params)
	}
	require.NoError(t, rig.rules.Create(context.Background(), r))
}

func TestBlacklistShortCircuits(t *testing.T) {
	rig := newRig(t)
	now := time.Now().UTC()
	require.NoError(t, rig.lists.AddBlacklist(context.Background(), &lists.BlacklistEntry{
		ID: "bl_1", Type: lists.TypeIP, Value: "10.0.0.1",
		Permanent: true, Active: true, CreatedAt: now, UpdatedAt: now,
	}))
	// Even a favorable oracle cannot soften a blacklist hit.
	rig.oracle.score, rig.oracle.err = 1, nil

	txn := rig.addTxn(t, "52998224725", "10.0.0.1", 9.99, now)
	d, err := rig.engine.Evaluate(context.Background(), txn)
	require.NoError(t, err)

	assert.Equal(t, 100, d.Score)
	assert.Equal(t, OutcomeRejected, d.Outcome)
	require.NotEmpty(t, d.Reasons)
	assert.Contains(t, d.Reasons[0], "blacklist")
	assert.Empty(t, rig.sink.approved)
}

func TestCleanTransactionApproves(t *testing.T) {
	rig := newRig(t)
	rig.oracle.score, rig.oracle.err = 20, nil

	txn := rig.addTxn(t, "52998224725", "203.0.113.1", 100, time.Now().UTC())
	d, err := rig.engine.Evaluate(context.Background(), txn)
	require.NoError(t, err)

	assert.Equal(t, OutcomeApproved, d.Outcome)
	assert.Equal(t, 20, d.Score)
	assert.True(t, d.OracleUsed)
	assert.Equal(t, []string{txn.ID}, rig.sink.approved)
}

func TestOracleFailureFallsBackToNeutral(t *testing.T) {
	rig := newRig(t)

	txn := rig.addTxn(t, "52998224725", "203.0.113.1", 100, time.Now().UTC())
	d, err := rig.engine.Evaluate(context.Background(), txn)
	require.NoError(t, err)

	assert.Equal(t, 50, d.Score)
	assert.False(t, d.OracleUsed)
	assert.Equal(t, OutcomeReview, d.Outcome, "neutral 50 lands in the review band")
}

func TestWhitelistDiscountIsCapped(t *testing.T) {
	rig := newRig(t)
	rig.oracle.score, rig.oracle.err = 70, nil
	now := time.Now().UTC()
	for i, key := range []lists.Key{
		{Type: lists.TypeCPF, Value: "52998224725"},
		{Type: lists.TypeIP, Value: "203.0.113.1"},
		{Type: lists.TypeDevice, Value: "fp-1"},
	} {
		require.NoError(t, rig.lists.AddWhitelist(context.Background(), &lists.WhitelistEntry{
			ID: fmt.Sprintf("wl_%d", i), Type: key.Type, Value: key.Value,
			Origin: lists.OriginManual, Active: true, CreatedAt: now, UpdatedAt: now,
		}))
	}

	txn := rig.addTxn(t, "52998224725", "203.0.113.1", 100, now)
	txn.DeviceFingerprint = "fp-1"
	d, err := rig.engine.Evaluate(context.Background(), txn)
	require.NoError(t, err)

	// Three matches at 20 each would be 60; the cap holds it at 40.
	assert.Equal(t, 40, d.WhitelistDiscount)
	assert.Equal(t, 30, d.Score)
	assert.Equal(t, OutcomeApproved, d.Outcome)
}

func TestWhitelistDiscountFloorsAtZero(t *testing.T) {
	rig := newRig(t)
	rig.oracle.score, rig.oracle.err = 10, nil
	now := time.Now().UTC()
	require.NoError(t, rig.lists.AddWhitelist(context.Background(), &lists.WhitelistEntry{
		ID: "wl_1", Type: lists.TypeCPF, Value: "52998224725",
		Origin: lists.OriginVIP, Active: true, CreatedAt: now, UpdatedAt: now,
	}))

	txn := rig.addTxn(t, "52998224725", "203.0.113.1", 100, now)
	d, err := rig.engine.Evaluate(context.Background(), txn)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Score)
	assert.Equal(t, OutcomeApproved, d.Outcome)
}

func TestVelocityScenarioRejectsViaThreshold(t *testing.T) {
	// Four transactions in ten minutes against a max-3 velocity rule of
	// weight 8: neutral base 50 + 40 = 90, which crosses the reject cutoff
	// even though the rule's own action is only REVIEW.
	rig := newRig(t)
	rig.addRule(t, rules.KindVelocity, rules.ActionReview, 8, `{"maxTransactions": 3, "windowMinutes": 10}`)

	now := time.Now().UTC()
	var txn *transaction.Transaction
	for i := 0; i < 4; i++ {
		txn = rig.addTxn(t, "11111111111", "203.0.113.5", 50, now.Add(time.Duration(i)*time.Minute))
	}

	d, err := rig.engine.Evaluate(context.Background(), txn)
	require.NoError(t, err)

	assert.Equal(t, 90, d.Score)
	assert.Equal(t, OutcomeRejected, d.Outcome)
	require.Len(t, d.TriggeredRules, 1)
	assert.Equal(t, string(rules.KindVelocity), d.TriggeredRules[0].Kind)
	assert.Equal(t, 40, d.TriggeredRules[0].ScoreDelta)
}

func TestRejectActionOutranksLowScore(t *testing.T) {
	rig := newRig(t)
	rig.oracle.score, rig.oracle.err = 0, nil
	// Weight 1 adds only 5 points, far below any threshold, but the REJECT
	// action is terminal.
	rig.addRule(t, rules.KindTime, rules.ActionReject, 1, `{"startHour": 0, "endHour": 24}`)

	txn := rig.addTxn(t, "52998224725", "203.0.113.1", 100, time.Now().UTC())
	d, err := rig.engine.Evaluate(context.Background(), txn)
	require.NoError(t, err)

	assert.Equal(t, 5, d.Score)
	assert.Equal(t, OutcomeRejected, d.Outcome)
}

func TestReviewActionUpgradesApproval(t *testing.T) {
	rig := newRig(t)
	rig.oracle.score, rig.oracle.err = 0, nil
	rig.addRule(t, rules.KindTime, rules.ActionReview, 1, `{"startHour": 0, "endHour": 24}`)

	txn := rig.addTxn(t, "52998224725", "203.0.113.1", 100, time.Now().UTC())
	d, err := rig.engine.Evaluate(context.Background(), txn)
	require.NoError(t, err)

	assert.Equal(t, 5, d.Score)
	assert.Equal(t, OutcomeReview, d.Outcome)
	assert.Empty(t, rig.sink.approved)
}

func TestBrokenRuleIsIsolated(t *testing.T) {
	rig := newRig(t)
	rig.oracle.score, rig.oracle.err = 10, nil
	require.NoError(t, rig.rules.Create(context.Background(), &rules.Rule{
		ID: "rule_broken", Name: "broken", Kind: rules.KindVelocity,
		Weight: 10, Action: rules.ActionReject, Active: true,
		Params: json.RawMessage(`{"maxTransactions": -1}`),
	}))
	rig.addRule(t, rules.KindTime, rules.ActionReview, 2, `{"startHour": 0, "endHour": 24}`)

	txn := rig.addTxn(t, "52998224725", "203.0.113.1", 100, time.Now().UTC())
	d, err := rig.engine.Evaluate(context.Background(), txn)
	require.NoError(t, err)

	// The broken rule contributes nothing; the healthy rule still fires.
	assert.Equal(t, 20, d.Score)
	assert.Equal(t, OutcomeReview, d.Outcome)
	require.Len(t, d.TriggeredRules, 1)
	assert.Equal(t, "TIME rule", d.TriggeredRules[0].Name)
}

func TestScoreClampsAtHundred(t *testing.T) {
	rig := newRig(t)
	rig.oracle.score, rig.oracle.err = 95, nil
	rig.addRule(t, rules.KindTime, rules.ActionAlert, 10, `{"startHour": 0, "endHour": 24}`)

	txn := rig.addTxn(t, "52998224725", "203.0.113.1", 100, time.Now().UTC())
	d, err := rig.engine.Evaluate(context.Background(), txn)
	require.NoError(t, err)
	assert.Equal(t, 100, d.Score)
	assert.Equal(t, OutcomeRejected, d.Outcome)
}

func TestAuthAdjustmentPushesIntoReview(t *testing.T) {
	rig := newRig(t)
	rig.oracle.score, rig.oracle.err = 20, nil
	rig.engine.auth = &fixedAuth{profile: &authhistory.Profile{RecentLockout: true, HasTrustedDevice: true}}

	txn := rig.addTxn(t, "52998224725", "203.0.113.1", 100, time.Now().UTC())
	d, err := rig.engine.Evaluate(context.Background(), txn)
	require.NoError(t, err)

	assert.Equal(t, 20, d.AuthAdjustment)
	assert.Equal(t, 40, d.Score)
	assert.Equal(t, OutcomeReview, d.Outcome)
}

func TestDoubleReviewConflicts(t *testing.T) {
	rig := newRig(t)
	txn := rig.addTxn(t, "52998224725", "203.0.113.1", 100, time.Now().UTC())
	d, err := rig.engine.Evaluate(context.Background(), txn)
	require.NoError(t, err)
	require.Equal(t, OutcomeReview, d.Outcome)

	now := time.Now().UTC()
	first, err := rig.decisions.Review(context.Background(), d.ID, "analyst-1", OutcomeApproved, "looks fine", now)
	require.NoError(t, err)
	require.NotNil(t, first.ReviewedAt)

	_, err = rig.decisions.Review(context.Background(), d.ID, "analyst-2", OutcomeRejected, "", now.Add(time.Second))
	assert.ErrorIs(t, err, ErrAlreadyReviewed)

	// The stored reviewer fields belong to the first call only.
	stored, err := rig.decisions.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, "analyst-1", stored.ReviewedBy)
	assert.Equal(t, OutcomeApproved, stored.ReviewVerdict)
}

func TestReviewRequiresReviewOutcome(t *testing.T) {
	rig := newRig(t)
	rig.oracle.score, rig.oracle.err = 5, nil
	txn := rig.addTxn(t, "52998224725", "203.0.113.1", 100, time.Now().UTC())
	d, err := rig.engine.Evaluate(context.Background(), txn)
	require.NoError(t, err)
	require.Equal(t, OutcomeApproved, d.Outcome)

	_, err = rig.decisions.Review(context.Background(), d.ID, "analyst-1", OutcomeRejected, "", time.Now().UTC())
	assert.ErrorIs(t, err, ErrNotReviewable)
}

func TestEveryAnalysisWritesANewDecision(t *testing.T) {
	rig := newRig(t)
	rig.oracle.score, rig.oracle.err = 20, nil
	txn := rig.addTxn(t, "52998224725", "203.0.113.1", 100, time.Now().UTC())

	d1, err := rig.engine.Evaluate(context.Background(), txn)
	require.NoError(t, err)
	d2, err := rig.engine.Evaluate(context.Background(), txn)
	require.NoError(t, err)
	assert.NotEqual(t, d1.ID, d2.ID)
}

type brokenBlacklist struct {
	lists.Store
}

func (b *brokenBlacklist) FindInForce(context.Context, []lists.Key, time.Time) (*lists.BlacklistEntry, error) {
	return nil, errors.New("lists backend down")
}

func TestBlacklistLookupFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	decisions := NewMemoryStore()
	txns := transaction.NewMemoryStore()
	svc := settings.NewService(settings.NewMemoryStore(), logger)
	eng := New(decisions, &brokenBlacklist{Store: lists.NewMemoryStore()}, rules.NewMemoryStore(), txns,
		&fixedOracle{score: 10}, &fixedAuth{profile: &authhistory.Profile{HasTrustedDevice: true}}, svc,
		logger, Options{})

	txn := &transaction.Transaction{
		ID: "txn_bl_down", ExternalID: "ext_bl_down", Channel: transaction.ChannelWEB,
		CPF: "52998224725", IP: "203.0.113.1", Amount: 100,
		OccurredAt: time.Now().UTC(), CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, txns.Create(context.Background(), txn))

	d, err := eng.Evaluate(context.Background(), txn)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, d.Outcome, "lookup failure degrades to no hit")
	assert.Contains(t, buf.String(), "blacklist lookup failed")
}
