package timeutil

import (
	"testing"
	"time"
)

func TestFormatSpan(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00:00"},
		{59 * time.Second, "0:00:59"},
		{time.Hour + 2*time.Minute + 3*time.Second + 900*time.Millisecond, "1:02:03"},
		{25 * time.Hour, "1 day, 1:00:00"},
		{50 * time.Hour, "2 days, 2:00:00"},
		{-90 * time.Second, "-0:01:30"},
	}
	for _, tt := range tests {
		if got := FormatSpan(tt.in); got != tt.want {
			t.Errorf("FormatSpan(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnixSecondsRoundTrip(t *testing.T) {
	for _, ts := range []time.Time{
		time.Date(2026, 5, 4, 3, 2, 1, 250_000_000, time.UTC),
		time.Date(2026, 3, 14, 15, 9, 26, 123_456_000, time.UTC),
		time.Date(2026, 3, 14, 15, 9, 26, 999_999_000, time.UTC),
		time.Date(2026, 3, 14, 15, 9, 27, 1_000, time.UTC),
	} {
		if got := FromUnixSeconds(UnixSeconds(ts)); !got.Equal(ts) {
			t.Errorf("FromUnixSeconds(UnixSeconds(%v)) = %v", ts, got)
		}
	}
}

func TestLayouts(t *testing.T) {
	ts := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	if got := ts.Format(DirLayout); got != "2026-05-04_03-02-01" {
		t.Errorf("DirLayout = %q", got)
	}
	if got := ts.Format(ETALayout); got != "04-05-2026 03:02:01" {
		t.Errorf("ETALayout = %q", got)
	}
}
