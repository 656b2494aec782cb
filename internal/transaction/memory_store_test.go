package transaction

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedTxn(t *testing.T, store Store, cpf, ip, device string, amount float64, at time.Time) *Transaction {
	t.Helper()
	txn := &Transaction{
		ID:                "txn_" + cpf + at.Format("150405.000000000"),
		ExternalID:        "ext_" + cpf + at.Format("150405.000000000"),
		Channel:           ChannelWEB,
		CPF:               cpf,
		Amount:            amount,
		IP:                ip,
		DeviceFingerprint: device,
		OccurredAt:        at,
		CreatedAt:         at,
	}
	if err := store.Create(context.Background(), txn); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return txn
}

func TestCreateDuplicateExternalID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	txn := seedTxn(t, store, validCPF, "10.0.0.1", "", 50, now)

	dup := *txn
	dup.ID = "txn_other"
	if err := store.Create(ctx, &dup); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestHistoryQueries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

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
		t.Errorf("DeviceSeenForSubject(dev-a) = %v, %v; want true", seen, err)
	}
	seen, err = store.DeviceSeenForSubject(ctx, validCPF, "dev-b", now)
	if err != nil || seen {
		t.Errorf("DeviceSeenForSubject(dev-b) = %v, %v; want false", seen, err)
	}

	distinct, err := store.DistinctSubjectsByIPSince(ctx, "10.0.0.2", now.Add(-time.Hour))
	if err != nil || distinct != 2 {
		t.Errorf("DistinctSubjectsByIPSince = %d, %v; want 2", distinct, err)
	}

	seen, err = store.IPSeenForSubjectBefore(ctx, validCPF, "10.0.0.1", now)
	if err != nil || !seen {
		t.Errorf("IPSeenForSubjectBefore = %v, %v; want true", seen, err)
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
		t.Error("ListSince should return newest first")
	}
}

func TestAvgAmountNoHistory(t *testing.T) {
	store := NewMemoryStore()
	avg, err := store.AvgAmountSince(context.Background(), validCPF, time.Now().Add(-time.Hour))
	if err != nil || avg != 0 {
		t.Errorf("AvgAmountSince with no history = %v, %v; want 0", avg, err)
	}
}
