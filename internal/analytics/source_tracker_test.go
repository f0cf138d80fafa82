package analytics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceTrackerFirstUpdate(t *testing.T) {
	tr := NewSourceTracker("PV:A", 10)

	snap, err := tr.Record(100)
	require.NoError(t, err)
	assert.Nil(t, snap.InstantHz)
	assert.Nil(t, snap.AvgHz)
	assert.Nil(t, snap.MinHz)
	assert.Nil(t, snap.MaxHz)
	assert.Nil(t, snap.StdHz)
	assert.Equal(t, 0, snap.Samples)

	last, ok := tr.LastTimestamp()
	assert.True(t, ok)
	assert.Equal(t, 100.0, last)
}

func TestSourceTrackerInstantFrequency(t *testing.T) {
	tr := NewSourceTracker("PV:A", 10)
	timestamps := []float64{1, 1.5, 1.75, 2.75, 3, 3.1}

	_, err := tr.Record(timestamps[0])
	require.NoError(t, err)
	for i := 1; i < len(timestamps); i++ {
		snap, err := tr.Record(timestamps[i])
		require.NoError(t, err)
		require.NotNil(t, snap.InstantHz)
		assert.InDelta(t, 1/(timestamps[i]-timestamps[i-1]), *snap.InstantHz, 1e-9)
	}
}

func TestSourceTrackerWindowStats(t *testing.T) {
	tr := NewSourceTracker("PV:A", 10)
	for _, ts := range []float64{0, 1, 1.5, 1.75} {
		_, err := tr.Record(ts)
		require.NoError(t, err)
	}

	// intervals 1, 0.5, 0.25 -> frequencies 1, 2, 4
	snap := tr.Snapshot()
	require.NotNil(t, snap.AvgHz)
	assert.Equal(t, 3, snap.Samples)
	assert.InDelta(t, 7.0/3.0, *snap.AvgHz, 1e-9)
	assert.InDelta(t, 1.0, *snap.MinHz, 1e-9)
	assert.InDelta(t, 4.0, *snap.MaxHz, 1e-9)

	mean := 7.0 / 3.0
	variance := (math.Pow(1-mean, 2) + math.Pow(2-mean, 2) + math.Pow(4-mean, 2)) / 3
	assert.InDelta(t, math.Sqrt(variance), *snap.StdHz, 1e-9)
	assert.Nil(t, snap.InstantHz)
}

func TestSourceTrackerSingleInterval(t *testing.T) {
	tr := NewSourceTracker("PV:A", 10)
	_, _ = tr.Record(10)
	snap, err := tr.Record(10.5)
	require.NoError(t, err)

	assert.Equal(t, 2.0, *snap.AvgHz)
	assert.Equal(t, 2.0, *snap.MinHz)
	assert.Equal(t, 2.0, *snap.MaxHz)
	assert.Equal(t, 0.0, *snap.StdHz)
}

func TestSourceTrackerNonMonotonic(t *testing.T) {
	tr := NewSourceTracker("PV:A", 10)
	_, _ = tr.Record(10)
	_, _ = tr.Record(11)
	before := tr.Intervals()

	for _, ts := range []float64{11, 5} {
		snap, err := tr.Record(ts)
		assert.ErrorIs(t, err, ErrNonMonotonicUpdate)
		assert.Nil(t, snap.InstantHz)
		require.NotNil(t, snap.AvgHz)
		assert.Equal(t, 1.0, *snap.AvgHz)
		assert.Equal(t, before, tr.Intervals())

		last, _ := tr.LastTimestamp()
		assert.Equal(t, ts, last)
	}

	snap, err := tr.Record(7)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, *snap.InstantHz, 1e-9)
	assert.Equal(t, []float64{1, 2}, tr.Intervals())
}

func TestSourceTrackerEviction(t *testing.T) {
	tr := NewSourceTracker("PV:A", 3)
	for i := 0; i <= 10; i++ {
		_, err := tr.Record(float64(i * i))
		require.NoError(t, err)
	}

	assert.Equal(t, []float64{15, 17, 19}, tr.Intervals())
}
