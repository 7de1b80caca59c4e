package testutil

import (
	"testing"
	"time"
)

func TestFakeClock_Advance(t *testing.T) {
	start := MustTime("2025-03-01T12:00:00Z")
	clock := NewFakeClock(start)

	if got := clock.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}

	clock.Advance(90 * time.Second)
	want := start.Add(90 * time.Second)
	if got := clock.Now(); !got.Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestTestContext_Cancels(t *testing.T) {
	ctx := TestContext(t)
	select {
	case <-ctx.Done():
		t.Fatal("context should not be done immediately")
	default:
	}
	if _, ok := ctx.Deadline(); !ok {
		t.Error("context should carry a deadline")
	}
}

func TestMustTime_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustTime should panic on bad input")
		}
	}()
	MustTime("not a timestamp")
}
