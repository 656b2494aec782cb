package lists

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumapay/riskengine/internal/settings"
	"github.com/lumapay/riskengine/internal/transaction"
)

const testCPF = "52998224725"

// fakeHistory returns fixed approval counts per key type.
type fakeHistory struct {
	byCPF    int
	byIP     int
	byDevice int
}

func (f *fakeHistory) CountApprovedBySubjectSince(context.Context, string, time.Time) (int, error) {
	return f.byCPF, nil
}
func (f *fakeHistory) CountApprovedByIPForSubjectSince(context.Context, string, string, time.Time) (int, error) {
	return f.byIP, nil
}
func (f *fakeHistory) CountApprovedByDeviceForSubjectSince(context.Context, string, string, time.Time) (int, error) {
	return f.byDevice, nil
}

func testPromoter(history ApprovalHistory) (*Promoter, *MemoryStore) {
	store := NewMemoryStore()
	svc := settings.NewService(settings.NewMemoryStore(), slog.Default())
	return NewPromoter(store, history, svc, slog.Default()), store
}

func webTxn() *transaction.Transaction {
	return &transaction.Transaction{
		ID:      "txn_1",
		CPF:     testCPF,
		IP:      "203.0.113.9",
		Channel: transaction.ChannelWEB,
	}
}

func TestNoPromotionBelowMinimum(t *testing.T) {
	// 9 prior approvals: one more approval event must not create a row yet.
	p, store := testPromoter(&fakeHistory{byCPF: 9})
	require.NoError(t, p.OnApproved(context.Background(), webTxn()))

	entries, err := store.ListWhitelist(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "below-minimum approvals must not create a whitelist row")
}

func TestPromotionAtMinimum(t *testing.T) {
	p, store := testPromoter(&fakeHistory{byCPF: 10})
	require.NoError(t, p.OnApproved(context.Background(), &transaction.Transaction{ID: "txn_1", CPF: testCPF}))

	entries, err := store.ListWhitelist(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, TypeCPF, entries[0].Type)
	assert.Equal(t, testCPF, entries[0].Value)
	assert.Equal(t, OriginAuto, entries[0].Origin)
	assert.Equal(t, 10, entries[0].ApprovalCount)
	assert.True(t, entries[0].Active)
}

func TestExistingEntryGetsIncremented(t *testing.T) {
	p, store := testPromoter(&fakeHistory{})
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.AddWhitelist(ctx, &WhitelistEntry{
		ID: "wl_1", Type: TypeCPF, Value: testCPF,
		Origin: OriginAuto, ApprovalCount: 10, Active: true,
		LastApprovalAt: now.Add(-time.Hour), CreatedAt: now, UpdatedAt: now,
	}))

	require.NoError(t, p.OnApproved(ctx, &transaction.Transaction{ID: "txn_1", CPF: testCPF}))

	entries, err := store.ListWhitelist(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 11, entries[0].ApprovalCount)
	assert.True(t, entries[0].LastApprovalAt.After(now.Add(-time.Minute)))
}

func TestIPPromotionRequiresSubjectCorrelation(t *testing.T) {
	// CPF qualifies, IP does not: IP counts are correlated per CPF and
	// this IP has too few same-subject approvals.
	p, store := testPromoter(&fakeHistory{byCPF: 10, byIP: 2})
	require.NoError(t, p.OnApproved(context.Background(), webTxn()))

	entries, err := store.ListWhitelist(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, TypeCPF, entries[0].Type)
}

func TestStalenessSweepDeactivatesAutoOnly(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	old := now.Add(-100 * 24 * time.Hour)

	require.NoError(t, store.AddWhitelist(ctx, &WhitelistEntry{
		ID: "wl_auto", Type: TypeCPF, Value: testCPF,
		Origin: OriginAuto, Active: true, LastApprovalAt: old,
	}))
	require.NoError(t, store.AddWhitelist(ctx, &WhitelistEntry{
		ID: "wl_vip", Type: TypeCPF, Value: "11144477735",
		Origin: OriginVIP, Active: true, LastApprovalAt: old,
	}))

	count, err := store.DeactivateStaleAuto(ctx, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	entries, err := store.ListWhitelist(ctx, 10)
	require.NoError(t, err)
	for _, e := range entries {
		switch e.ID {
		case "wl_auto":
			assert.False(t, e.Active, "stale AUTO entry should be deactivated")
		case "wl_vip":
			assert.True(t, e.Active, "VIP entries are never swept")
		}
	}
}

func TestBlacklistInForce(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	permanent := &BlacklistEntry{Active: true, Permanent: true}
	assert.True(t, permanent.InForce(now))

	expired := &BlacklistEntry{Active: true, ExpiresAt: &past}
	assert.False(t, expired.InForce(now))

	current := &BlacklistEntry{Active: true, ExpiresAt: &future}
	assert.True(t, current.InForce(now))

	inactive := &BlacklistEntry{Active: false, Permanent: true}
	assert.False(t, inactive.InForce(now))
}

func TestFindInForce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.AddBlacklist(ctx, &BlacklistEntry{
		ID: "bl_1", Type: TypeIP, Value: "10.0.0.1",
		Permanent: true, Active: true, CreatedAt: now, UpdatedAt: now,
	}))

	hit, err := store.FindInForce(ctx, []Key{
		{Type: TypeCPF, Value: testCPF},
		{Type: TypeIP, Value: "10.0.0.1"},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "bl_1", hit.ID)

	_, err = store.FindInForce(ctx, []Key{{Type: TypeIP, Value: "10.0.0.2"}}, now)
	assert.ErrorIs(t, err, ErrNotFound)
}
