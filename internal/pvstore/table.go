// Package pvstore holds the current value of every published metric so
// external readers can fetch it by name.
package pvstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"sync-profile/internal/models"
)

var ErrNotFound = errors.New("pv not found")

// Table is an in-memory name → latest metric map.
type Table struct {
	mu   sync.RWMutex
	data map[string]models.Metric
}

// NewTable returns a table pre-populated with unset entries for names, so
// readers see every configured PV before its first update.
func NewTable(names ...string) *Table {
	t := &Table{data: make(map[string]models.Metric, len(names))}
	for _, n := range names {
		t.data[n] = models.Metric{Name: n}
	}
	return t
}

func (t *Table) Name() string { return "pvstore" }

func (t *Table) Publish(_ context.Context, m models.Metric) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[m.Name] = m
	return nil
}

func (t *Table) Get(name string) (models.Metric, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.data[name]
	if !ok {
		return models.Metric{}, ErrNotFound
	}
	return m, nil
}

// List returns all metrics sorted by name, optionally restricted to a subject.
func (t *Table) List(subject string) []models.Metric {
	t.mu.RLock()
	out := make([]models.Metric, 0, len(t.data))
	for _, m := range t.data {
		if subject != "" && m.Subject != subject {
			continue
		}
		out = append(out, m)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data)
}
