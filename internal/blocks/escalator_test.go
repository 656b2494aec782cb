package blocks

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumapay/riskengine/internal/activity"
	"github.com/lumapay/riskengine/internal/settings"
)

func newEscalatorRig(now time.Time) (*Escalator, *MemoryStore, *activity.MemoryStore) {
	blockStore := NewMemoryStore()
	activityStore := activity.NewMemoryStore()
	svc := settings.NewService(settings.NewMemoryStore(), slog.Default())
	esc := NewEscalator(blockStore, activityStore, svc, time.Minute, slog.Default()).
		WithClock(func() time.Time { return now })
	return esc, blockStore, activityStore
}

func seedActivity(t *testing.T, store *activity.MemoryStore, id, ip string, severity int, detectedAt time.Time) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &activity.Activity{
		ID:         id,
		Type:       activity.TypeFailureBurst,
		Subject:    ip,
		IP:         ip,
		Severity:   severity,
		Status:     activity.StatusPending,
		Evidence:   map[string]any{"rejectedCount": 6},
		DetectedAt: detectedAt,
	}))
}

func TestEscalatorBlocksCriticalActivity(t *testing.T) {
	now := time.Now().UTC()
	esc, blockStore, activityStore := newEscalatorRig(now)
	seedActivity(t, activityStore, "act_1", "198.51.100.9", 5, now.Add(-5*time.Minute))

	esc.Run(context.Background())

	b, err := blockStore.FindActive(context.Background(), BlockIP, "198.51.100.9")
	require.NoError(t, err)
	assert.Equal(t, SystemActor, b.CreatedBy)
	assert.Contains(t, b.Reason, "auto-block")

	a, err := activityStore.Get(context.Background(), "act_1")
	require.NoError(t, err)
	assert.Equal(t, activity.StatusBlocked, a.Status)
	assert.Equal(t, b.ID, a.BlockID)
}

func TestEscalatorIgnoresStaleAndLowSeverity(t *testing.T) {
	now := time.Now().UTC()
	esc, blockStore, activityStore := newEscalatorRig(now)
	// Outside the 15-minute recency window.
	seedActivity(t, activityStore, "act_stale", "198.51.100.1", 5, now.Add(-30*time.Minute))
	// Severe enough in time, but not severity 5.
	seedActivity(t, activityStore, "act_mild", "198.51.100.2", 4, now.Add(-5*time.Minute))

	esc.Run(context.Background())

	bs, err := blockStore.List(context.Background(), true, 10)
	require.NoError(t, err)
	assert.Empty(t, bs)
}

func TestEscalatorIsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	esc, blockStore, activityStore := newEscalatorRig(now)
	seedActivity(t, activityStore, "act_1", "198.51.100.9", 5, now.Add(-5*time.Minute))

	esc.Run(context.Background())
	esc.Run(context.Background())

	bs, err := blockStore.List(context.Background(), true, 10)
	require.NoError(t, err)
	assert.Len(t, bs, 1)
}

func TestEscalatorSkipsAlreadyBlockedIP(t *testing.T) {
	now := time.Now().UTC()
	esc, blockStore, activityStore := newEscalatorRig(now)
	require.NoError(t, blockStore.Create(context.Background(), &SecurityBlock{
		ID: "blk_manual", Type: BlockIP, Value: "198.51.100.9",
		Reason: "manual block", CreatedBy: "analyst-1", Active: true, CreatedAt: now,
	}))
	seedActivity(t, activityStore, "act_1", "198.51.100.9", 5, now.Add(-5*time.Minute))

	esc.Run(context.Background())

	bs, err := blockStore.List(context.Background(), true, 10)
	require.NoError(t, err)
	require.Len(t, bs, 1)
	assert.Equal(t, "blk_manual", bs[0].ID)
}

func TestValidatorFailsOpen(t *testing.T) {
	v := NewValidator(failingStore{})
	res := v.Validate(context.Background(), "198.51.100.9", "52998224725")
	assert.True(t, res.Permitted)
}

func TestValidatorBlocksActiveSubjects(t *testing.T) {
	now := time.Now().UTC()
	store := NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), &SecurityBlock{
		ID: "blk_1", Type: BlockCPF, Value: "52998224725",
		Reason: "chargeback fraud", CreatedBy: "analyst-1", Active: true, CreatedAt: now,
	}))

	v := NewValidator(store)
	res := v.Validate(context.Background(), "", "52998224725")
	assert.False(t, res.Permitted)
	assert.Equal(t, "chargeback fraud", res.Reason)
	assert.Equal(t, "blk_1", res.BlockID)

	res = v.Validate(context.Background(), "203.0.113.1", "11144477735")
	assert.True(t, res.Permitted)
}

func TestUnblockIsExactlyOnce(t *testing.T) {
	now := time.Now().UTC()
	store := NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), &SecurityBlock{
		ID: "blk_1", Type: BlockIP, Value: "198.51.100.9",
		Reason: "burst", CreatedBy: SystemActor, Active: true, CreatedAt: now,
	}))

	b, err := store.Unblock(context.Background(), "blk_1", "analyst-1", now)
	require.NoError(t, err)
	assert.False(t, b.Active)
	assert.Equal(t, "analyst-1", b.UnblockedBy)

	_, err = store.Unblock(context.Background(), "blk_1", "analyst-2", now)
	assert.ErrorIs(t, err, ErrNotActive)
}

type failingStore struct{}

func (failingStore) Create(context.Context, *SecurityBlock) error { return assert.AnError }
func (failingStore) Get(context.Context, string) (*SecurityBlock, error) {
	return nil, assert.AnError
}
func (failingStore) List(context.Context, bool, int) ([]*SecurityBlock, error) {
	return nil, assert.AnError
}
func (failingStore) FindActive(context.Context, BlockType, string) (*SecurityBlock, error) {
	return nil, assert.AnError
}
func (failingStore) Unblock(context.Context, string, string, time.Time) (*SecurityBlock, error) {
	return nil, assert.AnError
}
