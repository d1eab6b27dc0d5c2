package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/soyeahso/hyperloop/internal/domain"
)

// MemoryRunStore implements RunStore in process memory.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]domain.Run
	seq  map[string]int // insertion order, for stable listing
	next int
}

// NewMemoryRunStore creates an empty in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]domain.Run),
		seq:  make(map[string]int),
	}
}

func cloneRun(r domain.Run) domain.Run {
	r.Tasks = slices.Clone(r.Tasks)
	r.Transcript = slices.Clone(r.Transcript)
	return r
}

// SaveRun implements RunStore.
func (m *MemoryRunStore) SaveRun(_ context.Context, run *domain.Run) error {
	if run.ID == "" {
		run.ID = newRunID()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = cloneRun(*run)
	if _, ok := m.seq[run.ID]; !ok {
		m.seq[run.ID] = m.next
		m.next++
	}
	return nil
}

// GetRun implements RunStore.
func (m *MemoryRunStore) GetRun(_ context.Context, id string) (*domain.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	r = cloneRun(r)
	return &r, nil
}

// ListRuns implements RunStore.
func (m *MemoryRunStore) ListRuns(_ context.Context, limit int) ([]domain.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Run, 0, len(m.runs))
	for _, r := range m.runs {
		r = cloneRun(r)
		r.Transcript = nil
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return m.seq[out[i].ID] > m.seq[out[j].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type discard struct{}

// Discard is a RunStore that keeps nothing.
var Discard RunStore = discard{}

func (discard) SaveRun(_ context.Context, run *domain.Run) error {
	if run.ID == "" {
		run.ID = newRunID()
	}
	return nil
}

func (discard) GetRun(context.Context, string) (*domain.Run, error) { return nil, ErrNotFound }

func (discard) ListRuns(context.Context, int) ([]domain.Run, error) { return nil, nil }
