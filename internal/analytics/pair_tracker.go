package analytics

import (
	"fmt"
	"sync"

	"sync-profile/internal/models"
	"sync-profile/internal/window"
)

// Side identifies a member of a pair.
type Side int

const (
	SideA Side = iota
	SideB
)

func (s Side) String() string {
	if s == SideA {
		return "A"
	}
	return "B"
}

// PairTracker follows the time offset between two sources. Samples are
// tsB - tsA using the latest timestamp seen on each side.
type PairTracker struct {
	a, b  string
	name  string
	mu    sync.Mutex
	lastA float64
	lastB float64
	hasA  bool
	hasB  bool
	diffs *window.Rolling[float64]
}

func NewPairTracker(a, b string, capacity int) *PairTracker {
	return &PairTracker{
		a:     a,
		b:     b,
		name:  PairName(a, b),
		diffs: window.New[float64](capacity),
	}
}

// PairName is the published prefix for the pair (a, b).
func PairName(a, b string) string {
	return a + "_vs_" + b
}

func (p *PairTracker) Name() string {
	return p.name
}

func (p *PairTracker) Members() (string, string) {
	return p.a, p.b
}

func (p *PairTracker) RecordFromA(ts float64) (models.DiffSnapshot, bool, error) {
	return p.record(SideA, ts)
}

func (p *PairTracker) RecordFromB(ts float64) (models.DiffSnapshot, bool, error) {
	return p.record(SideB, ts)
}

// Record updates one side. The bool result reports whether a new difference
// sample was produced; it is false until both sides have been observed and on
// a timestamp regression.
func (p *PairTracker) Record(side Side, ts float64) (models.DiffSnapshot, bool, error) {
	return p.record(side, ts)
}

func (p *PairTracker) record(side Side, ts float64) (models.DiffSnapshot, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	last, has := &p.lastA, &p.hasA
	if side == SideB {
		last, has = &p.lastB, &p.hasB
	}

	regressed := *has && ts <= *last
	*last = ts
	*has = true

	if regressed {
		return p.snapshot(nil), false, fmt.Errorf("%s side %s: %w", p.name, side, ErrNonMonotonicUpdate)
	}
	if !p.hasA || !p.hasB {
		return p.snapshot(nil), false, nil
	}

	diff := p.lastB - p.lastA
	p.diffs.Push(diff)
	return p.snapshot(models.Float(diff)), true, nil
}

func (p *PairTracker) Snapshot() models.DiffSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot(nil)
}

func (p *PairTracker) Diffs() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.diffs.Values()
}

func (p *PairTracker) snapshot(current *float64) models.DiffSnapshot {
	snap := models.DiffSnapshot{CurrentSeconds: current, Samples: p.diffs.Count()}
	summary, err := p.diffs.Summary()
	if err != nil {
		return snap
	}
	snap.AvgSeconds = models.Float(summary.Mean)
	snap.MinSeconds = models.Float(summary.Min)
	snap.MaxSeconds = models.Float(summary.Max)
	snap.StdSeconds = models.Float(summary.StdDev)
	return snap
}
