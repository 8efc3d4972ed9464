package progress

import (
	"fmt"
	"sync"
	"time"
)

// Stats represents a point-in-time snapshot of progress.
type Stats struct {
	BytesDone uint64
	Total     uint64
	RateBps   float64
	ETA       time.Duration
	Percent   int
	StartedAt time.Time
}

// Meter tracks byte progress and computes a smoothed rate.
type Meter struct {
	mu        sync.Mutex
	total     uint64
	done      uint64
	startedAt time.Time
	lastAt    time.Time
	lastDone  uint64
	rateBps   float64
	alpha     float64
	now       func() time.Time
}

// NewMeter returns a meter with a default smoothing factor.
func NewMeter() *Meter {
	return NewMeterWithNow(time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	return &Meter{alpha: 0.2, now: now}
}

// Start initializes the meter with a total size.
func (m *Meter) Start(totalBytes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = totalBytes
	m.done = 0
	m.startedAt = m.now()
	m.lastAt = m.startedAt
	m.lastDone = 0
	m.rateBps = 0
}

// Observe records the cumulative number of bytes done. Counts that do not
// move forward are ignored.
func (m *Meter) Observe(done uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if done <= m.done {
		return
	}
	now := m.now()
	m.done = done
	deltaTime := now.Sub(m.lastAt).Seconds()
	if deltaTime > 0 {
		inst := float64(m.done-m.lastDone) / deltaTime
		if m.rateBps == 0 {
			m.rateBps = inst
		} else {
			m.rateBps = m.alpha*inst + (1-m.alpha)*m.rateBps
		}
		m.lastAt = now
		m.lastDone = m.done
	}
}

// SetTotal updates the total bytes, for receivers that learn it late.
func (m *Meter) SetTotal(totalBytes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = totalBytes
}

// Snapshot returns a current snapshot of progress stats.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		BytesDone: m.done,
		Total:     m.total,
		RateBps:   m.rateBps,
		StartedAt: m.startedAt,
	}
	if m.total > 0 {
		stats.Percent = int(m.done * 100 / m.total)
	}
	if m.rateBps > 0 && m.total > m.done {
		remaining := float64(m.total - m.done)
		stats.ETA = time.Duration(remaining/m.rateBps) * time.Second
	}
	return stats
}

// Line renders stats as one terminal line.
func Line(label string, s Stats) string {
	line := fmt.Sprintf("%s %3d%% %s/%s", label, s.Percent, FormatBytes(s.BytesDone), FormatBytes(s.Total))
	if s.RateBps > 0 {
		line += fmt.Sprintf(" %s/s", FormatBytes(uint64(s.RateBps)))
	}
	if s.ETA > 0 {
		line += fmt.Sprintf(" eta %s", s.ETA.Round(time.Second))
	}
	return line
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
