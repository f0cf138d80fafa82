package analytics

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"sync-profile/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	metrics []models.Metric
}

func (r *recorder) Publish(m models.Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, m)
}

func (r *recorder) all() []models.Metric {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Metric, len(r.metrics))
	copy(out, r.metrics)
	return out
}

func (r *recorder) latest() map[string]*float64 {
	out := make(map[string]*float64)
	for _, m := range r.all() {
		out[m.Name] = m.Value
	}
	return out
}

type countingObserver struct {
	mu       sync.Mutex
	accepted map[string]int
	rejected map[string]int
	updates  int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{accepted: map[string]int{}, rejected: map[string]int{}}
}

func (o *countingObserver) EventAccepted(source string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.accepted[source]++
}

func (o *countingObserver) EventRejected(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected[reason]++
}

func (o *countingObserver) ObserveUpdate(time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates++
}

var fixedClock = func() time.Time { return time.Unix(1700000000, 0) }

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(nil)
	assert.ErrorIs(t, err, ErrEmptySourceSet)

	_, err = NewEngine([]string{"A", "B", "A"})
	assert.ErrorIs(t, err, ErrDuplicateSource)

	_, err = NewEngine([]string{"A", ""})
	assert.ErrorIs(t, err, ErrInvalidSource)

	e, err := NewEngine([]string{"A"})
	require.NoError(t, err)
	assert.Equal(t, 0, e.PairCount())
}

func TestEnginePairCount(t *testing.T) {
	for n := 1; n <= 6; n++ {
		names := make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("PV%d", i)
		}
		e, err := NewEngine(names)
		require.NoError(t, err)
		assert.Equal(t, n*(n-1)/2, e.PairCount())
		assert.Len(t, e.MetricNames(), 5*n+5*n*(n-1)/2)
	}
}

func TestEnginePairOrdering(t *testing.T) {
	e, err := NewEngine([]string{"Zeta", "Alpha", "Mid"})
	require.NoError(t, err)

	var names []string
	for _, p := range e.Pairs() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"Zeta_vs_Alpha", "Zeta_vs_Mid", "Alpha_vs_Mid"}, names)
	assert.Equal(t, []string{"Zeta", "Alpha", "Mid"}, e.Sources())
	assert.Equal(t, MetricNames([]string{"Zeta", "Alpha", "Mid"}), e.MetricNames())
	assert.Contains(t, e.MetricNames(), "Alpha_vs_Mid:StdDiff")

	p1, err := e.Pair("Alpha", "Zeta")
	require.NoError(t, err)
	p2, err := e.Pair("Zeta", "Alpha")
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	_, err = e.Pair("Alpha", "Nope")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestEngineOnUpdatePublishes(t *testing.T) {
	rec := &recorder{}
	e, err := NewEngine([]string{"A", "B"}, WithPublisher(rec), WithClock(fixedClock))
	require.NoError(t, err)

	require.NoError(t, e.OnUpdate("A", 10))
	metrics := rec.all()
	require.Len(t, metrics, 5)
	for i, m := range metrics {
		assert.Equal(t, "A:"+models.FrequencyStats[i], m.Name)
		assert.Equal(t, models.KindFrequency, m.Kind)
		assert.Equal(t, "A", m.Subject)
		assert.Nil(t, m.Value)
		assert.Equal(t, fixedClock(), m.ComputedAt)
	}

	require.NoError(t, e.OnUpdate("B", 12))
	latest := rec.latest()
	require.NotNil(t, latest["A_vs_B:CurrentDiff"])
	assert.Equal(t, 2.0, *latest["A_vs_B:CurrentDiff"])

	require.NoError(t, e.OnUpdate("A", 15))
	latest = rec.latest()
	assert.Equal(t, -3.0, *latest["A_vs_B:CurrentDiff"])
	assert.InDelta(t, 0.2, *latest["A:InstantFreq"], 1e-12)
	assert.Equal(t, -0.5, *latest["A_vs_B:AvgDiff"])
	assert.Equal(t, -3.0, *latest["A_vs_B:MinDiff"])
	assert.Equal(t, 2.0, *latest["A_vs_B:MaxDiff"])
}

func TestEngineFanOut(t *testing.T) {
	names := []string{"A", "B", "C", "D"}
	rec := &recorder{}
	e, err := NewEngine(names, WithPublisher(rec))
	require.NoError(t, err)

	for i, n := range names {
		require.NoError(t, e.OnUpdate(n, float64(i)))
	}

	before := len(rec.all())
	require.NoError(t, e.OnUpdate("C", 10))
	published := rec.all()[before:]

	// one source update plus N-1 pair updates
	assert.Len(t, published, 5+5*(len(names)-1))
	subjects := map[string]bool{}
	for _, m := range published {
		subjects[m.Subject] = true
	}
	assert.Equal(t, map[string]bool{"C": true, "A_vs_C": true, "B_vs_C": true, "C_vs_D": true}, subjects)
}

func TestEngineUnknownSource(t *testing.T) {
	obs := newCountingObserver()
	rec := &recorder{}
	e, err := NewEngine([]string{"A", "B"}, WithPublisher(rec), WithObserver(obs))
	require.NoError(t, err)

	err = e.OnUpdate("nope", 1)
	assert.ErrorIs(t, err, ErrUnknownSource)
	assert.Empty(t, rec.all())
	assert.Equal(t, 1, obs.rejected[ReasonUnknownSource])

	require.NoError(t, e.OnUpdate("A", 1))
	assert.Equal(t, uint64(1), e.Stats().EventsAccepted)
	assert.Equal(t, uint64(1), e.Stats().EventsRejected)
}

func TestEngineNonMonotonic(t *testing.T) {
	obs := newCountingObserver()
	rec := &recorder{}
	e, err := NewEngine([]string{"A", "B"}, WithPublisher(rec), WithObserver(obs))
	require.NoError(t, err)

	require.NoError(t, e.OnUpdate("A", 10))
	require.NoError(t, e.OnUpdate("A", 11))
	require.NoError(t, e.OnUpdate("B", 11.5))

	err = e.OnUpdate("A", 8)
	assert.ErrorIs(t, err, ErrNonMonotonicUpdate)
	assert.Equal(t, 1, obs.rejected[ReasonNonMonotonic])

	src, err := e.Source("A")
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, src.Intervals())
	last, _ := src.LastTimestamp()
	assert.Equal(t, 8.0, last)

	pair, err := e.Pair("A", "B")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, pair.Diffs())

	latest := rec.latest()
	assert.Nil(t, latest["A:InstantFreq"])
	assert.Equal(t, 1.0, *latest["A:AvgFreq"])

	require.NoError(t, e.OnUpdate("A", 9))
	assert.Equal(t, []float64{1, 1}, src.Intervals())
	assert.Equal(t, []float64{0.5, 2.5}, pair.Diffs())
}

func TestEngineStop(t *testing.T) {
	obs := newCountingObserver()
	e, err := NewEngine([]string{"A"}, WithObserver(obs))
	require.NoError(t, err)

	e.Stop()
	assert.True(t, e.Stopped())
	assert.ErrorIs(t, e.OnUpdate("A", 1), ErrStopped)
	assert.Equal(t, 1, obs.rejected[ReasonStopped])
}

func TestEngineDeterministic(t *testing.T) {
	events := []models.Event{
		{Source: "A", Timestamp: 1.0},
		{Source: "B", Timestamp: 1.1},
		{Source: "C", Timestamp: 1.3},
		{Source: "A", Timestamp: 2.05},
		{Source: "B", Timestamp: 2.0},
		{Source: "C", Timestamp: 2.4},
		{Source: "A", Timestamp: 2.9},
		{Source: "A", Timestamp: 2.9},
		{Source: "B", Timestamp: 3.3},
		{Source: "X", Timestamp: 4},
	}

	run := func() []models.Metric {
		rec := &recorder{}
		e, err := NewEngine([]string{"A", "B", "C"}, WithPublisher(rec), WithClock(fixedClock), WithCapacity(4))
		require.NoError(t, err)
		for _, ev := range events {
			_ = e.Handle(ev)
		}
		return rec.all()
	}

	assert.Equal(t, run(), run())
}

func TestEngineConcurrentUpdates(t *testing.T) {
	names := []string{"A", "B", "C", "D", "E"}
	obs := newCountingObserver()
	e, err := NewEngine(names, WithCapacity(50), WithObserver(obs))
	require.NoError(t, err)

	const updates = 200
	var wg sync.WaitGroup
	for _, n := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			for i := 1; i <= updates; i++ {
				assert.NoError(t, e.OnUpdate(name, float64(i)*0.01))
			}
		}(n)
	}
	wg.Wait()

	for _, n := range names {
		src, err := e.Source(n)
		require.NoError(t, err)
		assert.Len(t, src.Intervals(), 50)
		snap := src.Snapshot()
		assert.InDelta(t, 100.0, *snap.AvgHz, 1e-6)
		assert.Equal(t, updates, obs.accepted[n])
	}
	for _, p := range e.Pairs() {
		assert.Len(t, p.Diffs(), 50)
	}
	assert.Equal(t, uint64(updates*len(names)), e.Stats().EventsAccepted)
}

func TestEngineRun(t *testing.T) {
	rec := &recorder{}
	e, err := NewEngine([]string{"A", "B"}, WithPublisher(rec))
	require.NoError(t, err)

	events := make(chan models.Event, 4)
	events <- models.Event{Source: "A", Timestamp: 1}
	events <- models.Event{Source: "unknown", Timestamp: 1}
	events <- models.Event{Source: "B", Timestamp: 3}
	close(events)

	require.NoError(t, e.Run(context.Background(), events))
	assert.Equal(t, 2.0, *rec.latest()["A_vs_B:CurrentDiff"])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, e.Run(ctx, make(chan models.Event)), context.Canceled)
}
