package transaction

import (
	"errors"
	"testing"
	"time"
)

const validCPF = "52998224725"

func baseInput() *Input {
	return &Input{
		ExternalID: "ord-1001",
		Channel:    "WEB",
		CPF:        validCPF,
		Amount:     150.00,
		IP:         "203.0.113.7",
		CardBIN:    "411111",
	}
}

func TestNormalizeWeb(t *testing.T) {
	now := time.Now()
	txn, err := Normalize(baseInput(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Channel != ChannelWEB {
		t.Errorf("channel = %s", txn.Channel)
	}
	if txn.ID == "" {
		t.Error("expected generated id")
	}
	if txn.Installments != 1 {
		t.Errorf("installments defaulted to %d, want 1", txn.Installments)
	}
	if !txn.OccurredAt.Equal(now) {
		t.Error("occurredAt should default to now")
	}
}

func TestNormalizeWebRequiresIP(t *testing.T) {
	in := baseInput()
	in.IP = ""
	if _, err := Normalize(in, time.Now()); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestNormalizeAppRequiresFingerprint(t *testing.T) {
	in := baseInput()
	in.Channel = "APP"
	in.DeviceFingerprint = ""
	if _, err := Normalize(in, time.Now()); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}

	in.DeviceFingerprint = "dev-abc"
	if _, err := Normalize(in, time.Now()); err != nil {
		t.Fatalf("unexpected error with fingerprint set: %v", err)
	}
}

func TestNormalizePOS(t *testing.T) {
	in := baseInput()
	in.Channel = "POS"
	in.TerminalID = ""
	if _, err := Normalize(in, time.Now()); !errors.Is(err, ErrInvalid) {
		t.Fatal("POS without terminal should be rejected")
	}

	in.TerminalID = "T-9"
	in.StoreID = "S-1"
	in.DeviceFingerprint = "should-be-dropped"
	txn, err := Normalize(in, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.DeviceFingerprint != "" {
		t.Error("POS transactions must not carry a device fingerprint")
	}
}

func TestNormalizeRejectsBadCPF(t *testing.T) {
	in := baseInput()
	in.CPF = "11111111111"
	if _, err := Normalize(in, time.Now()); !errors.Is(err, ErrInvalid) {
		t.Fatal("repeated-digit CPF should be rejected")
	}
}

func TestNormalizeRejectsNonPositiveAmount(t *testing.T) {
	in := baseInput()
	in.Amount = 0
	if _, err := Normalize(in, time.Now()); !errors.Is(err, ErrInvalid) {
		t.Fatal("zero amount should be rejected")
	}
}

func TestNormalizeParsesOccurredAt(t *testing.T) {
	in := baseInput()
	in.OccurredAt = "2026-08-01T03:30:00Z"
	txn, err := Normalize(in, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.OccurredAt.Hour() != 3 {
		t.Errorf("occurredAt hour = %d, want 3", txn.OccurredAt.Hour())
	}

	in.OccurredAt = "not-a-time"
	if _, err := Normalize(in, time.Now()); !errors.Is(err, ErrInvalid) {
		t.Fatal("malformed occurredAt should be rejected")
	}
}

func TestMaskedCPF(t *testing.T) {
	txn := &Transaction{CPF: validCPF}
	if got := txn.MaskedCPF(); got != "529.***.***-25" {
		t.Errorf("MaskedCPF = %q", got)
	}
}
