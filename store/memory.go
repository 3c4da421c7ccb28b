// Package store provides capture store backends outside Postgres: an in-memory store used for
// development and tests, and a Redis store. Both apply optimistic compare-and-set on
// Capture.Version.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/onnwee/clip-tender/capture"
)

// Memory is a process-local capture store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]capture.Capture
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]capture.Capture)}
}

// List returns all captures ordered by RecordedAt then ID.
func (m *Memory) List(ctx context.Context) ([]capture.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]capture.Capture, 0, len(m.data))
	for _, c := range m.data {
		out = append(out, c.Clone())
	}
	m.mu.RUnlock()
	SortCaptures(out)
	return out, nil
}

// Get returns the capture with id or capture.ErrNotFound.
func (m *Memory) Get(ctx context.Context, id string) (capture.Capture, error) {
	if err := ctx.Err(); err != nil {
		return capture.Capture{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.data[id]
	if !ok {
		return capture.Capture{}, capture.ErrNotFound
	}
	return c.Clone(), nil
}

// Put inserts c when c.Version is zero, otherwise replaces the stored capture only if its
// version still equals c.Version. The stored copy with its new version is returned.
func (m *Memory) Put(ctx context.Context, c capture.Capture) (capture.Capture, error) {
	if err := ctx.Err(); err != nil {
		return capture.Capture{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.data[c.ID]
	switch {
	case c.Version == 0 && exists:
		return capture.Capture{}, capture.ErrConflict
	case c.Version != 0 && !exists:
		return capture.Capture{}, capture.ErrNotFound
	case exists && cur.Version != c.Version:
		return capture.Capture{}, capture.ErrConflict
	}
	next := c.Clone()
	next.Version = c.Version + 1
	m.data[c.ID] = next
	return next.Clone(), nil
}

// Delete removes id. A non-zero version makes the delete conditional on it.
func (m *Memory) Delete(ctx context.Context, id string, version int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.data[id]
	if !ok {
		return capture.ErrNotFound
	}
	if version != 0 && cur.Version != version {
		return capture.ErrConflict
	}
	delete(m.data, id)
	return nil
}

// SortCaptures orders captures by RecordedAt, then ID, for stable listings.
func SortCaptures(cs []capture.Capture) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].RecordedAt.Equal(cs[j].RecordedAt) {
			return cs[i].RecordedAt.Before(cs[j].RecordedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}
