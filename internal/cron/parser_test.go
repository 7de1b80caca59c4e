package cron

import (
	"testing"
	"time"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/testutil"
)

func TestParse_NextFireTime(t *testing.T) {
	p := NewParser()

	sched, err := p.Parse("30 2 * * *", "UTC")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	after := testutil.MustTime("2025-03-01T12:00:00Z")
	next := sched.Next(after)
	want := testutil.MustTime("2025-03-02T02:30:00Z")
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestParse_EmptyTimezoneDefaultsUTC(t *testing.T) {
	p := NewParser()
	sched, err := p.Parse("0 0 * * *", "")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	next := sched.Next(testutil.MustTime("2025-03-01T01:00:00Z"))
	if got := next.UTC().Hour(); got != 0 {
		t.Errorf("fire hour = %d, want 0 UTC", got)
	}
}

func TestParse_Timezone(t *testing.T) {
	p := NewParser()
	sched, err := p.Parse("0 9 * * *", "America/New_York")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	// 09:00 in New York on 2025-03-01 (EST, UTC-5) is 14:00 UTC.
	next := sched.Next(testutil.MustTime("2025-03-01T00:00:00Z"))
	want := testutil.MustTime("2025-03-01T14:00:00Z")
	if !next.UTC().Equal(want) {
		t.Errorf("Next = %v, want %v", next.UTC(), want)
	}
}

func TestParse_Errors(t *testing.T) {
	p := NewParser()
	if _, err := p.Parse("not a cron line", "UTC"); err == nil {
		t.Error("bad expression should fail")
	}
	if _, err := p.Parse("0 0 * * *", "Mars/Olympus"); err == nil {
		t.Error("bad timezone should fail")
	}
}

func TestSchedule_HonorsLocation(t *testing.T) {
	p := NewParser()
	sched, err := p.Parse("0 0 1 * *", "UTC")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	next := sched.Next(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC))
	if next.Day() != 1 || next.Month() != time.April {
		t.Errorf("Next = %v, want April 1", next)
	}
}
