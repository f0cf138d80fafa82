// Package publish decouples metric computation from slow publication sinks.
package publish

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sync-profile/internal/models"
)

const (
	DefaultQueueSize   = 10_000
	DefaultSinkTimeout = 2 * time.Second
)

// ErrNoSinks is returned by NewDispatcher when no sink is given.
var ErrNoSinks = errors.New("publish: at least one sink is required")

// Sink delivers a metric to an external reader-facing store.
type Sink interface {
	Name() string
	Publish(ctx context.Context, m models.Metric) error
}

// Observer is told about queue pressure and sink failures.
type Observer interface {
	MetricDropped()
	SinkFailed(sink string)
	QueueLength(n int)
}

type Option func(*Dispatcher)

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) { d.queueSize = n }
}

func WithSinkTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.sinkTimeout = t }
}

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// Dispatcher queues metrics and fans them out to every sink from a single
// worker goroutine. When the queue is full the oldest queued metric is
// dropped, so Publish never blocks the caller.
type Dispatcher struct {
	sinks       []Sink
	queueSize   int
	sinkTimeout time.Duration
	observer    Observer
	logger      *slog.Logger

	queue   chan models.Metric
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	started atomic.Bool
	dropped atomic.Uint64
}

func NewDispatcher(sinks []Sink, opts ...Option) (*Dispatcher, error) {
	if len(sinks) == 0 {
		return nil, ErrNoSinks
	}
	d := &Dispatcher{
		sinks:       sinks,
		queueSize:   DefaultQueueSize,
		sinkTimeout: DefaultSinkTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.queueSize <= 0 {
		d.queueSize = DefaultQueueSize
	}
	if d.sinkTimeout <= 0 {
		d.sinkTimeout = DefaultSinkTimeout
	}
	d.queue = make(chan models.Metric, d.queueSize)
	d.stop = make(chan struct{})
	return d, nil
}

// Start launches the delivery worker. Calling it more than once is a no-op.
func (d *Dispatcher) Start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	d.wg.Add(1)
	go d.run()
}

// Publish enqueues m without blocking.
func (d *Dispatcher) Publish(m models.Metric) {
	if d.closed.Load() {
		d.drop()
		return
	}

	select {
	case d.queue <- m:
		return
	default:
	}

	// full: evict the oldest entry and retry once
	select {
	case <-d.queue:
		d.drop()
	default:
	}
	select {
	case d.queue <- m:
	default:
		d.drop()
	}
}

// Close stops accepting metrics, delivers what is already queued and waits
// for the worker to exit.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.stop)
	})
	d.wg.Wait()
}

func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *Dispatcher) Len() int {
	return len(d.queue)
}

func (d *Dispatcher) drop() {
	d.dropped.Add(1)
	if d.observer != nil {
		d.observer.MetricDropped()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case m := <-d.queue:
			d.deliver(m)
		case <-d.stop:
			for {
				select {
				case m := <-d.queue:
					d.deliver(m)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(m models.Metric) {
	if d.observer != nil {
		d.observer.QueueLength(len(d.queue))
	}
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.sinkTimeout)
		err := s.Publish(ctx, m)
		cancel()
		if err != nil {
			d.logger.Error("publish failed", "sink", s.Name(), "metric", m.Name, "error", err)
			if d.observer != nil {
				d.observer.SinkFailed(s.Name())
			}
		}
	}
}
