package settings

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewService(store, slog.Default()), store
}

func TestTypedGettersFailClosedOnMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, &Setting{
		Key: "risk.reject_threshold", Type: TypeString, Value: "70",
	}, "tester", "seed"))

	s, err := store.Get(ctx, "risk.reject_threshold")
	require.NoError(t, err)

	_, err = s.Int()
	assert.ErrorIs(t, err, ErrTypeMismatch, "INT read of a STRING value must fail, not coerce")
}

func TestTypedGettersRejectUnparseable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, &Setting{
		Key: "bad.int", Type: TypeInt, Value: "not-a-number",
	}, "tester", "seed"))

	s, err := store.Get(ctx, "bad.int")
	require.NoError(t, err)

	_, err = s.Int()
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestServiceFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	svc, store := testService(t)

	// Missing key: silent default.
	assert.Equal(t, 70, svc.IntOr(ctx, KeyRejectThreshold, 70))

	// Mismatched type: default with a logged error, never a panic.
	require.NoError(t, store.Upsert(ctx, &Setting{
		Key: KeyRejectThreshold, Type: TypeBool, Value: "true",
	}, "tester", "seed"))
	assert.Equal(t, 70, svc.IntOr(ctx, KeyRejectThreshold, 70))

	// Healthy value wins.
	require.NoError(t, store.Upsert(ctx, &Setting{
		Key: KeyRejectThreshold, Type: TypeInt, Value: "80",
	}, "tester", "tighten"))
	assert.Equal(t, 80, svc.IntOr(ctx, KeyRejectThreshold, 70))
}

func TestEngineSnapshotDefaults(t *testing.T) {
	svc, _ := testService(t)
	snap := svc.Engine(context.Background())

	assert.Equal(t, 20, snap.WhitelistDiscountPerItem)
	assert.Equal(t, 40, snap.WhitelistDiscountMax)
	assert.Equal(t, 50, snap.OracleFallbackScore)
	assert.Equal(t, 30, snap.ApproveThreshold)
	assert.Equal(t, 31, snap.ReviewThreshold)
	assert.Equal(t, 70, snap.RejectThreshold)
}

func TestUpsertWritesAuditTrail(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Upsert(ctx, &Setting{
		Key: "risk.reject_threshold", Type: TypeInt, Value: "70",
	}, "alice", "initial"))
	require.NoError(t, store.Upsert(ctx, &Setting{
		Key: "risk.reject_threshold", Type: TypeInt, Value: "80",
	}, "bob", "fraud wave"))

	entries, err := store.Audit(ctx, "risk.reject_threshold", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "70", entries[0].OldValue)
	assert.Equal(t, "80", entries[0].NewValue)
	assert.Equal(t, "bob", entries[0].ChangedBy)
	assert.Equal(t, "fraud wave", entries[0].Reason)

	assert.Equal(t, "", entries[1].OldValue)
	assert.Equal(t, "alice", entries[1].ChangedBy)
}

func TestGetUnknownKey(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestJSONSetting(t *testing.T) {
	s := &Setting{Key: "k", Type: TypeJSON, Value: `{"max": 3, "window": 10}`}
	var v struct {
		Max    int `json:"max"`
		Window int `json:"window"`
	}
	require.NoError(t, s.JSON(&v))
	assert.Equal(t, 3, v.Max)
	assert.Equal(t, 10, v.Window)
}
