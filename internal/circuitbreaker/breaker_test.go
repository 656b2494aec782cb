package circuitbreaker

import (
	"testing"
	"time"
)

func TestClosedAllowsRequests(t *testing.T) {
	b := New(3, time.Minute)
	if !b.Allow("oracle") {
		t.Fatal("fresh breaker should allow requests")
	}
	if b.State("oracle") != StateClosed {
		t.Errorf("state = %v, want closed", b.State("oracle"))
	}
}

func TestTripsOpenAfterThreshold(t *testing.T) {
	b := New(3, time.Minute)

	b.RecordFailure("oracle")
	b.RecordFailure("oracle")
	if b.State("oracle") != StateClosed {
		t.Fatal("should still be closed below threshold")
	}

	b.RecordFailure("oracle")
	if b.State("oracle") != StateOpen {
		t.Fatal("should be open at threshold")
	}
	if b.Allow("oracle") {
		t.Error("open circuit should reject requests")
	}
}

func TestHalfOpenProbe(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.RecordFailure("oracle")

	if b.Allow("oracle") {
		t.Fatal("should reject while open")
	}

	time.Sleep(20 * time.Millisecond)

	if !b.Allow("oracle") {
		t.Fatal("should allow one probe after open duration")
	}
	if b.State("oracle") != StateHalfOpen {
		t.Fatalf("state = %v, want half_open", b.State("oracle"))
	}
	if b.Allow("oracle") {
		t.Error("second request during probe should be rejected")
	}

	b.RecordSuccess("oracle")
	if b.State("oracle") != StateClosed {
		t.Error("successful probe should close the circuit")
	}
}

func TestFailedProbeReopens(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.RecordFailure("oracle")
	time.Sleep(20 * time.Millisecond)

	if !b.Allow("oracle") {
		t.Fatal("probe should be allowed")
	}
	b.RecordFailure("oracle")
	if b.State("oracle") != StateOpen {
		t.Error("failed probe should reopen the circuit")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	b := New(1, time.Minute)
	b.RecordFailure("oracle")
	if b.Allow("oracle") {
		t.Error("tripped key should reject")
	}
	if !b.Allow("threeds") {
		t.Error("other keys should be unaffected")
	}
}
