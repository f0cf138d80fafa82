package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"sync-profile/internal/models"
	"sync-profile/internal/window"
)

// Publisher receives computed metrics. Implementations must not block.
type Publisher interface {
	Publish(m models.Metric)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(m models.Metric)

func (f PublisherFunc) Publish(m models.Metric) { f(m) }

// Observer is notified about event handling outcomes.
type Observer interface {
	EventAccepted(source string)
	EventRejected(reason string)
	ObserveUpdate(d time.Duration)
}

// Rejection reasons reported to the Observer.
const (
	ReasonUnknownSource = "unknown_source"
	ReasonNonMonotonic  = "non_monotonic"
	ReasonStopped       = "stopped"
)

type Option func(*Engine)

func WithCapacity(capacity int) Option {
	return func(e *Engine) { e.capacity = capacity }
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source used to stamp published metrics.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type pairKey struct{ a, b string }

type pairLink struct {
	tracker *PairTracker
	side    Side
	names   []string
}

type sourceEntry struct {
	tracker *SourceTracker
	names   []string
	links   []pairLink
}

// Engine owns every tracker and routes update events to them. The tracker
// graph is built once by NewEngine and is read-only afterwards, so OnUpdate
// only takes the locks of the trackers it touches.
type Engine struct {
	capacity  int
	order     []string
	sources   map[string]*sourceEntry
	pairs     map[pairKey]*PairTracker
	pairOrder []*PairTracker

	publisher Publisher
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time

	stopped  atomic.Bool
	accepted atomic.Uint64
	rejected atomic.Uint64
}

// NewEngine configures trackers for names. Pair members are ordered by their
// position in names: the earlier name is side A.
func NewEngine(names []string, opts ...Option) (*Engine, error) {
	if len(names) == 0 {
		return nil, ErrEmptySourceSet
	}

	e := &Engine{
		capacity:  window.DefaultCapacity,
		publisher: PublisherFunc(func(models.Metric) {}),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.capacity <= 0 {
		e.capacity = window.DefaultCapacity
	}

	e.sources = make(map[string]*sourceEntry, len(names))
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("source %d: %w", i, ErrInvalidSource)
		}
		if _, ok := e.sources[name]; ok {
			return nil, fmt.Errorf("%q: %w", name, ErrDuplicateSource)
		}
		e.sources[name] = &sourceEntry{
			tracker: NewSourceTracker(name, e.capacity),
			names:   metricNames(name, models.FrequencyStats),
		}
		e.order = append(e.order, name)
	}

	e.pairs = make(map[pairKey]*PairTracker, len(names)*(len(names)-1)/2)
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a, b := names[i], names[j]
			pt := NewPairTracker(a, b, e.capacity)
			e.pairs[pairKey{a, b}] = pt
			e.pairOrder = append(e.pairOrder, pt)

			pn := metricNames(pt.Name(), models.DiffStats)
			e.sources[a].links = append(e.sources[a].links, pairLink{tracker: pt, side: SideA, names: pn})
			e.sources[b].links = append(e.sources[b].links, pairLink{tracker: pt, side: SideB, names: pn})
		}
	}

	return e, nil
}

func metricNames(prefix string, stats []string) []string {
	out := make([]string, len(stats))
	for i, s := range stats {
		out[i] = prefix + ":" + s
	}
	return out
}

// OnUpdate records an update of source at ts (seconds) and publishes the
// affected statistics. It is safe for concurrent use. ErrUnknownSource and
// ErrNonMonotonicUpdate are recoverable and only concern this event.
func (e *Engine) OnUpdate(source string, ts float64) error {
	if e.stopped.Load() {
		e.reject(ReasonStopped)
		return ErrStopped
	}

	entry, ok := e.sources[source]
	if !ok {
		e.reject(ReasonUnknownSource)
		e.logger.Warn("update for unknown source ignored", "source", source)
		return fmt.Errorf("%q: %w", source, ErrUnknownSource)
	}

	start := time.Now()
	now := e.now()

	freq, err := entry.tracker.Record(ts)
	if err != nil {
		e.reject(ReasonNonMonotonic)
		e.logger.Warn("interval sample discarded", "source", source, "timestamp", ts, "error", err)
	}
	e.publish(models.KindFrequency, source, models.FrequencyStats, entry.names, freq.Values(), now)

	for _, link := range entry.links {
		diff, sampled, perr := link.tracker.Record(link.side, ts)
		if perr != nil && err == nil {
			e.logger.Debug("pair sample discarded", "pair", link.tracker.Name(), "error", perr)
		}
		if !sampled {
			continue
		}
		e.publish(models.KindTimeDiff, link.tracker.Name(), models.DiffStats, link.names, diff.Values(), now)
	}

	if err == nil {
		e.accepted.Add(1)
		if e.observer != nil {
			e.observer.EventAccepted(source)
		}
	}
	if e.observer != nil {
		e.observer.ObserveUpdate(time.Since(start))
	}
	return err
}

// Handle is OnUpdate for an Event value.
func (e *Engine) Handle(ev models.Event) error {
	return e.OnUpdate(ev.Source, ev.Timestamp)
}

// Run feeds events into the engine until ctx is done or events is closed.
// Per-event errors are already logged by OnUpdate and do not stop the loop.
func (e *Engine) Run(ctx context.Context, events <-chan models.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := e.Handle(ev); errors.Is(err, ErrStopped) {
				return err
			}
		}
	}
}

// Stop makes the engine reject further events.
func (e *Engine) Stop() {
	e.stopped.Store(true)
}

func (e *Engine) Stopped() bool {
	return e.stopped.Load()
}

func (e *Engine) publish(kind, subject string, stats, names []string, values []*float64, now time.Time) {
	for i, name := range names {
		e.publisher.Publish(models.Metric{
			Name:       name,
			Kind:       kind,
			Subject:    subject,
			Stat:       stats[i],
			Value:      values[i],
			ComputedAt: now,
		})
	}
}

func (e *Engine) reject(reason string) {
	e.rejected.Add(1)
	if e.observer != nil {
		e.observer.EventRejected(reason)
	}
}

// Sources returns the configured source names in configuration order.
func (e *Engine) Sources() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

func (e *Engine) PairCount() int {
	return len(e.pairOrder)
}

// Pairs returns the pair trackers in configuration order.
func (e *Engine) Pairs() []*PairTracker {
	out := make([]*PairTracker, len(e.pairOrder))
	copy(out, e.pairOrder)
	return out
}

func (e *Engine) Source(name string) (*SourceTracker, error) {
	entry, ok := e.sources[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownSource)
	}
	return entry.tracker, nil
}

// Pair looks up the tracker for two sources in either order.
func (e *Engine) Pair(x, y string) (*PairTracker, error) {
	if pt, ok := e.pairs[pairKey{x, y}]; ok {
		return pt, nil
	}
	if pt, ok := e.pairs[pairKey{y, x}]; ok {
		return pt, nil
	}
	return nil, fmt.Errorf("pair %q/%q: %w", x, y, ErrUnknownSource)
}

// MetricNames lists every name the engine can publish.
func (e *Engine) MetricNames() []string {
	return MetricNames(e.order)
}

// MetricNames lists the names published for sources configured in this order.
func MetricNames(sources []string) []string {
	var out []string
	for _, name := range sources {
		out = append(out, metricNames(name, models.FrequencyStats)...)
	}
	for i := 0; i < len(sources); i++ {
		for j := i + 1; j < len(sources); j++ {
			out = append(out, metricNames(PairName(sources[i], sources[j]), models.DiffStats)...)
		}
	}
	return out
}

func (e *Engine) Stats() models.EngineStats {
	return models.EngineStats{
		Sources:        len(e.order),
		Pairs:          len(e.pairOrder),
		EventsAccepted: e.accepted.Load(),
		EventsRejected: e.rejected.Load(),
		WindowCapacity: e.capacity,
	}
}
