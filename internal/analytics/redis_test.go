package analytics

import (
	"testing"
	"time"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
)

func TestBuildKey(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	tests := []struct {
		name   string
		window time.Duration
		want   string
	}{
		{"hour window", time.Hour, "cdr:jobs:url-check:success:2026031415"},
		{"minute window", time.Minute, "cdr:jobs:url-check:success:202603141509"},
		{"five minute window", 5 * time.Minute, "cdr:jobs:url-check:success:202603141505"},
		{"day window", 24 * time.Hour, "cdr:jobs:url-check:success:20260314"},
		{"odd window falls back to hour", 7 * time.Minute, "cdr:jobs:url-check:success:2026031415"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildKey("url-check", domain.StatusSuccess, at, tt.window)
			if got != tt.want {
				t.Errorf("buildKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncateToBucket_UsesUTC(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	at := time.Date(2026, 3, 14, 23, 30, 0, 0, loc)
	if got := truncateToBucket(at, time.Hour); got != "2026031504" {
		t.Errorf("bucket = %q, want 2026031504", got)
	}
}
