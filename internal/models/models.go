package models

import "time"

// Metric kinds.
const (
	KindFrequency = "frequency"
	KindTimeDiff  = "time_diff"
)

// Frequency metric suffixes, in Hz.
const (
	InstantFreq = "InstantFreq"
	AvgFreq     = "AvgFreq"
	MinFreq     = "MinFreq"
	MaxFreq     = "MaxFreq"
	StdFreq     = "StdFreq"
)

// Time difference metric suffixes, in seconds.
const (
	CurrentDiff = "CurrentDiff"
	AvgDiff     = "AvgDiff"
	MinDiff     = "MinDiff"
	MaxDiff     = "MaxDiff"
	StdDiff     = "StdDiff"
)

var (
	FrequencyStats = []string{InstantFreq, AvgFreq, MinFreq, MaxFreq, StdFreq}
	DiffStats      = []string{CurrentDiff, AvgDiff, MinDiff, MaxDiff, StdDiff}
)

// Event is a single update notification for a named source.
type Event struct {
	Source    string  `json:"source"`
	Timestamp float64 `json:"timestamp"`
}

// Metric is a published scalar. A nil Value means the statistic is not yet defined.
type Metric struct {
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	Subject    string    `json:"subject"`
	Stat       string    `json:"stat"`
	Value      *float64  `json:"value"`
	ComputedAt time.Time `json:"computed_at"`
}

// FrequencySnapshot is the state of one source's update cadence after an event.
type FrequencySnapshot struct {
	InstantHz *float64 `json:"instant_hz"`
	AvgHz     *float64 `json:"avg_hz"`
	MinHz     *float64 `json:"min_hz"`
	MaxHz     *float64 `json:"max_hz"`
	StdHz     *float64 `json:"std_hz"`
	Samples   int      `json:"samples"`
}

// Values returns the snapshot fields in FrequencyStats order.
func (s FrequencySnapshot) Values() []*float64 {
	return []*float64{s.InstantHz, s.AvgHz, s.MinHz, s.MaxHz, s.StdHz}
}

// DiffSnapshot is the state of one pair's time offset after an event.
// CurrentSeconds is signed: positive means B trails A.
type DiffSnapshot struct {
	CurrentSeconds *float64 `json:"current_seconds"`
	AvgSeconds     *float64 `json:"avg_seconds"`
	MinSeconds     *float64 `json:"min_seconds"`
	MaxSeconds     *float64 `json:"max_seconds"`
	StdSeconds     *float64 `json:"std_seconds"`
	Samples        int      `json:"samples"`
}

// Values returns the snapshot fields in DiffStats order.
func (s DiffSnapshot) Values() []*float64 {
	return []*float64{s.CurrentSeconds, s.AvgSeconds, s.MinSeconds, s.MaxSeconds, s.StdSeconds}
}

// EngineStats are counters reported by the health endpoint.
type EngineStats struct {
	Sources        int    `json:"sources"`
	Pairs          int    `json:"pairs"`
	EventsAccepted uint64 `json:"events_accepted"`
	EventsRejected uint64 `json:"events_rejected"`
	WindowCapacity int    `json:"window_capacity"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Seconds converts a wall-clock time into float seconds since the Unix epoch.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
