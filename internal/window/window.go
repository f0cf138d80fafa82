// Package window implements a fixed-capacity FIFO window of numeric samples
// with on-demand aggregate statistics.
package window

import (
	"errors"
	"math"

	"github.com/gammazero/deque"
)

// DefaultCapacity is the number of samples kept when no capacity is given.
const DefaultCapacity = 100

// ErrEmptyWindow is returned by aggregate reads on a window with no samples.
var ErrEmptyWindow = errors.New("window: no samples")

// Number is the set of sample types a Rolling window accepts.
type Number interface {
	~int | ~int32 | ~int64 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// Summary holds the aggregates of a non-empty sample set.
type Summary struct {
	Count  int
	Mean   float64
	Min    float64
	Max    float64
	StdDev float64
}

// Rolling keeps the most recent capacity samples in insertion order.
// It is not safe for concurrent use; owners serialize access.
type Rolling[T Number] struct {
	capacity int
	samples  deque.Deque[T]
}

// New returns an empty window. A non-positive capacity selects DefaultCapacity.
func New[T Number](capacity int) *Rolling[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Rolling[T]{capacity: capacity}
}

// Push appends v, evicting the oldest sample when the window is full.
func (w *Rolling[T]) Push(v T) {
	if w.samples.Len() == w.capacity {
		w.samples.PopFront()
	}
	w.samples.PushBack(v)
}

func (w *Rolling[T]) Count() int {
	return w.samples.Len()
}

func (w *Rolling[T]) Capacity() int {
	return w.capacity
}

// Values returns a copy of the samples, oldest first.
func (w *Rolling[T]) Values() []T {
	out := make([]T, w.samples.Len())
	for i := range out {
		out[i] = w.samples.At(i)
	}
	return out
}

func (w *Rolling[T]) Mean() (float64, error) {
	s, err := w.Summary()
	return s.Mean, err
}

func (w *Rolling[T]) Min() (float64, error) {
	s, err := w.Summary()
	return s.Min, err
}

func (w *Rolling[T]) Max() (float64, error) {
	s, err := w.Summary()
	return s.Max, err
}

// StdDev is the population standard deviation; a single sample yields 0.
func (w *Rolling[T]) StdDev() (float64, error) {
	s, err := w.Summary()
	return s.StdDev, err
}

// Summary computes every aggregate in one pass over the buffer.
func (w *Rolling[T]) Summary() (Summary, error) {
	n := w.samples.Len()
	if n == 0 {
		return Summary{}, ErrEmptyWindow
	}
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		values[i] = float64(w.samples.At(i))
	}
	return Summarize(values)
}

// Summarize computes the aggregates of values. The mean is taken first and the
// variance from deviations around it, which stays stable for offsets far from zero.
func Summarize(values []float64) (Summary, error) {
	if len(values) == 0 {
		return Summary{}, ErrEmptyWindow
	}

	s := Summary{
		Count: len(values),
		Min:   values[0],
		Max:   values[0],
	}
	var sum float64
	for _, v := range values {
		sum += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Mean = sum / float64(s.Count)

	if s.Count == 1 {
		return s, nil
	}
	var m2 float64
	for _, v := range values {
		d := v - s.Mean
		m2 += d * d
	}
	s.StdDev = math.Sqrt(m2 / float64(s.Count))
	return s, nil
}
