package analytics

import (
	"fmt"
	"sync"

	"sync-profile/internal/models"
	"sync-profile/internal/window"
)

// SourceTracker follows the update cadence of one source.
type SourceTracker struct {
	name      string
	mu        sync.Mutex
	last      float64
	hasLast   bool
	intervals *window.Rolling[float64]
}

func NewSourceTracker(name string, capacity int) *SourceTracker {
	return &SourceTracker{
		name:      name,
		intervals: window.New[float64](capacity),
	}
}

func (t *SourceTracker) Name() string {
	return t.name
}

// Record registers an update at ts (seconds). A timestamp that does not advance
// returns ErrNonMonotonicUpdate together with the unchanged window statistics;
// the last timestamp still moves to ts so a clock step does not wedge the tracker.
func (t *SourceTracker) Record(ts float64) (models.FrequencySnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasLast {
		t.last = ts
		t.hasLast = true
		return t.snapshot(nil), nil
	}

	interval := ts - t.last
	t.last = ts
	if interval <= 0 {
		return t.snapshot(nil), fmt.Errorf("%s: interval %gs: %w", t.name, interval, ErrNonMonotonicUpdate)
	}

	t.intervals.Push(interval)
	return t.snapshot(models.Float(1 / interval)), nil
}

// Snapshot returns the window statistics without an instantaneous frequency.
func (t *SourceTracker) Snapshot() models.FrequencySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot(nil)
}

func (t *SourceTracker) LastTimestamp() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.hasLast
}

func (t *SourceTracker) Intervals() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.intervals.Values()
}

// snapshot derives frequency statistics from the interval window. The average is
// the mean of per-interval frequencies; min and max frequency come from the
// longest and shortest interval respectively.
func (t *SourceTracker) snapshot(instant *float64) models.FrequencySnapshot {
	snap := models.FrequencySnapshot{InstantHz: instant, Samples: t.intervals.Count()}

	intervals := t.intervals.Values()
	if len(intervals) == 0 {
		return snap
	}

	freqs := make([]float64, len(intervals))
	shortest, longest := intervals[0], intervals[0]
	for i, iv := range intervals {
		freqs[i] = 1 / iv
		if iv < shortest {
			shortest = iv
		}
		if iv > longest {
			longest = iv
		}
	}

	summary, err := window.Summarize(freqs)
	if err != nil {
		return snap
	}
	snap.AvgHz = models.Float(summary.Mean)
	snap.StdHz = models.Float(summary.StdDev)
	snap.MinHz = models.Float(1 / longest)
	snap.MaxHz = models.Float(1 / shortest)
	return snap
}
