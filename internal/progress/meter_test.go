package progress

import (
	"testing"
	"time"
)

func TestMeterRate(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := newMeterWithNow(2000, func() time.Time { return now })

	now = now.Add(1 * time.Second)
	m.Add(1000)

	stats := m.Snapshot()
	if stats.Bytes != 1000 {
		t.Fatalf("expected 1000 bytes, got %d", stats.Bytes)
	}
	if stats.RateBps < 900 || stats.RateBps > 1100 {
		t.Fatalf("expected rate around 1000 B/s, got %.2f", stats.RateBps)
	}
	if stats.Percent != 50 {
		t.Fatalf("expected 50%%, got %.2f", stats.Percent)
	}
	if stats.Elapsed != time.Second {
		t.Fatalf("expected 1s elapsed, got %s", stats.Elapsed)
	}
}

func TestMeterEWMASmoothing(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := newMeterWithNow(0, func() time.Time { return now })

	now = now.Add(1 * time.Second)
	m.Add(1000)
	now = now.Add(1 * time.Second)
	m.Add(3000)

	stats := m.Snapshot()
	if stats.RateBps < 1300 || stats.RateBps > 1500 {
		t.Fatalf("expected smoothed rate around 1400 B/s, got %.2f", stats.RateBps)
	}
	if stats.Percent != 0 {
		t.Fatalf("expected no percent for unknown total, got %.2f", stats.Percent)
	}
}

func TestMeterSameInstantKeepsRate(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	m := newMeterWithNow(0, func() time.Time { return now })
	m.Add(500)

	stats := m.Snapshot()
	if stats.Bytes != 500 || stats.RateBps != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0B"},
		{1023, "1023B"},
		{1024, "1KiB"},
		{1536, "1.50 KiB"},
		{512 * 1024 * 1024, "512MiB"},
		{3 * 1024 * 1024 * 1024 / 2, "1.50 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Fatalf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := FormatRate(2048); got != "2KiB/s" {
		t.Fatalf("FormatRate = %q", got)
	}
}
