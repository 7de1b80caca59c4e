package circuitbreaker

import (
	"testing"
	"time"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/testutil"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	cb := New(3, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure("relay.example.org")
	}
	if err := cb.Allow("relay.example.org"); err != nil {
		t.Fatalf("breaker should still be closed: %v", err)
	}

	cb.RecordFailure("relay.example.org")
	if err := cb.Allow("relay.example.org"); err != ErrCircuitOpen {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_KeysAreIndependent(t *testing.T) {
	cb := New(1, time.Minute)
	cb.RecordFailure("relay-a")

	if err := cb.Allow("relay-a"); err != ErrCircuitOpen {
		t.Errorf("relay-a should be open, got %v", err)
	}
	if err := cb.Allow("relay-b"); err != nil {
		t.Errorf("relay-b should be closed, got %v", err)
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.MustTime("2025-03-01T12:00:00Z"))
	cb := New(1, time.Minute).WithClock(clock.Now)

	cb.RecordFailure("relay")
	if err := cb.Allow("relay"); err != ErrCircuitOpen {
		t.Fatalf("breaker should be open, got %v", err)
	}

	clock.Advance(2 * time.Minute)

	// First call after cooldown is the probe; the second is refused.
	if err := cb.Allow("relay"); err != nil {
		t.Fatalf("probe should be allowed: %v", err)
	}
	if err := cb.Allow("relay"); err != ErrCircuitOpen {
		t.Errorf("second probe should be refused, got %v", err)
	}

	cb.RecordSuccess("relay")
	if err := cb.Allow("relay"); err != nil {
		t.Errorf("breaker should close after probe success: %v", err)
	}
}

func TestBreaker_ReopensOnProbeFailure(t *testing.T) {
	clock := testutil.NewFakeClock(testutil.MustTime("2025-03-01T12:00:00Z"))
	cb := New(1, time.Minute).WithClock(clock.Now)

	cb.RecordFailure("relay")
	clock.Advance(2 * time.Minute)
	if err := cb.Allow("relay"); err != nil {
		t.Fatalf("probe should be allowed: %v", err)
	}

	cb.RecordFailure("relay")
	if err := cb.Allow("relay"); err != ErrCircuitOpen {
		t.Errorf("breaker should reopen after probe failure, got %v", err)
	}
}
