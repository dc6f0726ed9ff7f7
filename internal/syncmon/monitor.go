// Package syncmon implements the sync quality monitor: a rolling
// window of accepted pairing time deltas, periodic mean/p95/max
// computation, and a throttled warning when synchronization looks poor.
package syncmon

import (
	"sort"
	"sync"
	"time"

	"github.com/MiFaceDEV/pitchcore/internal/logging"
)

const (
	windowSize     = 100
	warnMeanMs     = 10.0
	warnP95Ms      = 20.0
	warnMaxMs      = 50.0
	warnThrottle   = 60 * time.Second
	checkFrequency = 100 // recompute every N accepted pairs
)

// Stats is a snapshot of sync quality.
type Stats struct {
	MeanDeltaMs float64
	P95DeltaMs  float64
	MaxDeltaMs  float64
	TotalPaired uint64
	DroppedSync uint64
	DropRatePct float64
}

// Monitor tracks the last windowSize accepted pairing deltas and the total
// paired/dropped counts, and logs a throttled warning when quality is poor.
type Monitor struct {
	logger *logging.Logger

	mu          sync.Mutex
	deltas      []int64 // nanoseconds, ring buffer up to windowSize
	totalPaired uint64
	droppedSync uint64

	lastWarning time.Time
	checkCursor int
}

// New creates a sync monitor. If logger is nil, a default one is used.
func New(logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Monitor{logger: logger}
}

// RecordAccepted records one accepted pair's delta in nanoseconds and
// periodically checks sync quality.
func (m *Monitor) RecordAccepted(deltaNs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalPaired++
	m.deltas = append(m.deltas, deltaNs)
	if len(m.deltas) > windowSize {
		m.deltas = m.deltas[len(m.deltas)-windowSize:]
	}

	m.checkCursor++
	if m.checkCursor >= checkFrequency {
		m.checkCursor = 0
		m.checkQuality()
	}
}

// RecordDropped records one dropped-for-sync frame.
func (m *Monitor) RecordDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.droppedSync++
}

// checkQuality computes mean/p95/max over the current window and, if poor
// and not recently warned, logs a throttled warning including drop rate.
func (m *Monitor) checkQuality() {
	if len(m.deltas) == 0 {
		return
	}

	if time.Since(m.lastWarning) < warnThrottle {
		return
	}

	stats := m.snapshotLocked()
	if stats.MeanDeltaMs > warnMeanMs || stats.P95DeltaMs > warnP95Ms || stats.MaxDeltaMs > warnMaxMs {
		m.logger.Printf(
			"stereo sync quality degraded: mean=%.1fms p95=%.1fms max=%.1fms dropped=%d/%d (%.1f%%)",
			stats.MeanDeltaMs, stats.P95DeltaMs, stats.MaxDeltaMs,
			stats.DroppedSync, stats.TotalPaired, stats.DropRatePct,
		)
		m.lastWarning = time.Now()
	}
}

// Snapshot returns the current sync-quality stats.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Stats {
	if len(m.deltas) == 0 {
		return Stats{TotalPaired: m.totalPaired, DroppedSync: m.droppedSync}
	}

	msVals := make([]float64, len(m.deltas))
	sum := 0.0
	maxV := 0.0
	for i, d := range m.deltas {
		ms := float64(d) / 1e6
		msVals[i] = ms
		sum += ms
		if ms > maxV {
			maxV = ms
		}
	}
	sort.Float64s(msVals)
	mean := sum / float64(len(msVals))
	p95 := percentile(msVals, 95)

	total := m.totalPaired
	dropRate := 0.0
	denom := total + m.droppedSync
	if denom > 0 {
		dropRate = (float64(m.droppedSync) / float64(denom)) * 100
	}

	return Stats{
		MeanDeltaMs: mean,
		P95DeltaMs:  p95,
		MaxDeltaMs:  maxV,
		TotalPaired: total,
		DroppedSync: m.droppedSync,
		DropRatePct: dropRate,
	}
}

// percentile computes the p-th percentile of sorted values via linear
// interpolation (matches numpy's default behavior, since this logic is
// grounded on a numpy-based original).
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := (p / 100) * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
