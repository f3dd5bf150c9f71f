// Package progress measures transfer throughput for log output.
package progress

import (
	"sync"
	"time"
)

// Stats is a point-in-time view of a transfer.
type Stats struct {
	Bytes   int64
	Total   int64 // 0 when unknown
	Elapsed time.Duration
	RateBps float64 // smoothed
	Percent float64 // 0 when Total is unknown
}

// Meter counts transferred bytes and keeps an exponentially smoothed rate.
// It is safe for concurrent use.
type Meter struct {
	mu        sync.Mutex
	total     int64
	done      int64
	startedAt time.Time
	lastAt    time.Time
	rateBps   float64
	alpha     float64
	now       func() time.Time
}

// NewMeter returns a started meter. total may be 0 when the size is unknown.
func NewMeter(total int64) *Meter {
	return newMeterWithNow(total, time.Now)
}

func newMeterWithNow(total int64, now func() time.Time) *Meter {
	start := now()
	return &Meter{
		total:     total,
		startedAt: start,
		lastAt:    start,
		alpha:     0.2,
		now:       now,
	}
}

// Add records n more bytes.
func (m *Meter) Add(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.done += int64(n)
	dt := now.Sub(m.lastAt).Seconds()
	if dt <= 0 {
		return
	}
	inst := float64(n) / dt
	if m.rateBps == 0 {
		m.rateBps = inst
	} else {
		m.rateBps = m.alpha*inst + (1-m.alpha)*m.rateBps
	}
	m.lastAt = now
}

// Snapshot returns the current stats.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Bytes:   m.done,
		Total:   m.total,
		Elapsed: m.now().Sub(m.startedAt),
		RateBps: m.rateBps,
	}
	if m.total > 0 {
		s.Percent = float64(m.done) / float64(m.total) * 100
	}
	return s
}
