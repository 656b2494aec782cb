package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumapay/riskengine/internal/pagination"
)

func TestPendingReviewPagination(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Create(ctx, &Decision{
			ID:            fmt.Sprintf("dec_%02d", i),
			TransactionID: fmt.Sprintf("txn_%02d", i),
			CPF:           "52998224725",
			Score:         45,
			Outcome:       OutcomeReview,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	// First page of 2 (fetch limit+1 the way the handler does).
	page, err := store.ListPendingReview(ctx, nil, 3)
	require.NoError(t, err)
	items, cursor, hasMore := pagination.ComputePage(page, 2, func(d *Decision) (time.Time, string) {
		return d.CreatedAt, d.ID
	})
	require.Len(t, items, 2)
	assert.Equal(t, "dec_00", items[0].ID)
	assert.Equal(t, "dec_01", items[1].ID)
	assert.True(t, hasMore)
	require.NotEmpty(t, cursor)

	// Second page resumes after the cursor position.
	after, err := pagination.Decode(cursor)
	require.NoError(t, err)
	page, err = store.ListPendingReview(ctx, after, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "dec_02", page[0].ID)
	assert.Equal(t, "dec_04", page[2].ID)

	// Reviewed decisions drop out of the queue.
	_, err = store.Review(ctx, "dec_02", "analyst-1", OutcomeApproved, "", base.Add(time.Hour))
	require.NoError(t, err)
	page, err = store.ListPendingReview(ctx, nil, 10)
	require.NoError(t, err)
	assert.Len(t, page, 4)
}

func TestReviewReplacesOutcome(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, &Decision{
		ID: "dec_appr", TransactionID: "txn_appr", CPF: "52998224725",
		IP: "10.0.0.7", Score: 45, Outcome: OutcomeReview, CreatedAt: base,
	}))
	require.NoError(t, store.Create(ctx, &Decision{
		ID: "dec_rej", TransactionID: "txn_rej", CPF: "52998224725",
		IP: "10.0.0.7", Score: 55, Outcome: OutcomeReview, CreatedAt: base,
	}))

	d, err := store.Review(ctx, "dec_appr", "analyst-1", OutcomeApproved, "known customer", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, d.Outcome)
	assert.Equal(t, OutcomeApproved, d.ReviewVerdict)

	_, err = store.Review(ctx, "dec_rej", "analyst-2", OutcomeRejected, "", base.Add(time.Minute))
	require.NoError(t, err)

	// The stored outcome reflects the verdict, not the pre-review state.
	got, err := store.Get(ctx, "dec_appr")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, got.Outcome)

	// Manual verdicts feed the promotion and containment aggregates.
	approved, err := store.CountApprovedBySubjectSince(ctx, "52998224725", base)
	require.NoError(t, err)
	assert.Equal(t, 1, approved)
	rejected, err := store.CountRejectedByIPSince(ctx, "10.0.0.7", base)
	require.NoError(t, err)
	assert.Equal(t, 1, rejected)

	// Second verdict loses, whichever way the first one went.
	_, err = store.Review(ctx, "dec_appr", "analyst-2", OutcomeRejected, "", base.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrAlreadyReviewed)

	// A decision that never entered review cannot be reviewed.
	require.NoError(t, store.Create(ctx, &Decision{
		ID: "dec_auto", TransactionID: "txn_auto", CPF: "52998224725",
		Score: 5, Outcome: OutcomeApproved, CreatedAt: base,
	}))
	_, err = store.Review(ctx, "dec_auto", "analyst-1", OutcomeApproved, "", base.Add(time.Minute))
	assert.ErrorIs(t, err, ErrNotReviewable)
}
