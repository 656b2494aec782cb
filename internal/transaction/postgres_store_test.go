package transaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lumapay/riskengine/internal/testutil"
)

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	txn := seedTxn(t, store, validCPF, "10.0.0.1", "dev-a", 120.50, now.Add(-10*time.Minute))

	got, err := store.Get(ctx, txn.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ExternalID != txn.ExternalID || got.CPF != validCPF || got.Amount != 120.50 {
		t.Errorf("Get returned %+v, want %+v", got, txn)
	}

	byExt, err := store.GetByExternalID(ctx, txn.ExternalID)
	if err != nil || byExt.ID != txn.ID {
		t.Errorf("GetByExternalID = %+v, %v; want id %s", byExt, err, txn.ID)
	}

	dup := *txn
	dup.ID = "txn_other"
	if err := store.Create(ctx, &dup); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate external id: got %v, want ErrAlreadyExists", err)
	}

	if _, err := store.Get(ctx, "txn_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing id: got %v, want ErrNotFound", err)
	}
}

func TestPostgresHistoryQueries(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	seedTxn(t, store, validCPF, "10.0.0.1", "dev-a", 100, now.Add(-20*time.Minute))
	seedTxn(t, store, validCPF, "10.0.0.2", "dev-a", 200, now.Add(-5*time.Minute))
	seedTxn(t, store, "11144477735", "10.0.0.2", "dev-b", 300, now.Add(-2*time.Minute))

	count, err := store.CountBySubjectSince(ctx, validCPF, now.Add(-10*time.Minute))
	if err != nil || count != 1 {
		t.Errorf("CountBySubjectSince = %d, %v; want 1", count, err)
	}

	avg, err := store.AvgAmountSince(ctx, validCPF, now.Add(-time.Hour))
	if err != nil || avg != 150 {
		t.Errorf("AvgAmountSince = %v, %v; want 150", avg, err)
	}

	seen, err := store.DeviceSeenForSubject(ctx, validCPF, "dev-a", now)
	if err != nil || !seen {
		t.Errorf("DeviceSeenForSubject = %v, %v; want true", seen, err)
	}

	subjects, err := store.DistinctSubjectsByIPSince(ctx, "10.0.0.2", now.Add(-time.Hour))
	if err != nil || subjects != 2 {
		t.Errorf("DistinctSubjectsByIPSince = %d, %v; want 2", subjects, err)
	}

	ipSeen, err := store.IPSeenForSubjectBefore(ctx, validCPF, "10.0.0.9", now)
	if err != nil || ipSeen {
		t.Errorf("IPSeenForSubjectBefore = %v, %v; want false", ipSeen, err)
	}

	ips, err := store.DistinctIPsBySubjectSince(ctx, validCPF, now.Add(-time.Hour))
	if err != nil || len(ips) != 2 {
		t.Errorf("DistinctIPsBySubjectSince = %v, %v; want 2 ips", ips, err)
	}

	recent, err := store.ListSince(ctx, now.Add(-6*time.Minute), 10)
	if err != nil || len(recent) != 2 {
		t.Fatalf("ListSince = %d txns, %v; want 2", len(recent), err)
	}
	if recent[0].OccurredAt.Before(recent[1].OccurredAt) {
		t.Error("ListSince not ordered newest first")
	}
}
