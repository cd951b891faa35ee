package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRecorder keeps walk records in memory. Used in tests and when no
// database is configured.
type MemoryRecorder struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{records: make(map[string]Record), now: time.Now}
}

func (m *MemoryRecorder) Create(ctx context.Context, rec *Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = StatusQueued
	}
	rec.ID = uuid.New().String()
	m.records[rec.ID] = *rec
	return rec.ID, nil
}

func (m *MemoryRecorder) Save(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	rec.UpdatedAt = m.now().UTC()
	if rec.Status.Terminal() && rec.CompletedAt == nil {
		t := rec.UpdatedAt
		rec.CompletedAt = &t
	}
	m.records[rec.ID] = *rec
	return nil
}

func (m *MemoryRecorder) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &r, nil
}

func (m *MemoryRecorder) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, r := range m.records {
		if filter.matches(&r) {
			rc := r
			out = append(out, &rc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryRecorder) DeleteForProject(ctx context.Context, projectID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.records {
		if r.ProjectID == projectID {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

var _ Recorder = (*MemoryRecorder)(nil)
