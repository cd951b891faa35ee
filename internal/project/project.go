// Package project imports Scripture Burrito style project archives,
// keeps the project catalogue and exports finished work.
package project

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a project does not exist.
var ErrNotFound = errors.New("project not found")

// Project is an imported project.
type Project struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Language     string    `json:"language,omitempty"`
	LanguageName string    `json:"language_name,omitempty"`
	Layout       string    `json:"layout"`
	Books        []string  `json:"books"`
	QuotaBytes   int64     `json:"quota_bytes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repository persists the project catalogue.
type Repository interface {
	Save(ctx context.Context, p *Project) error
	Get(ctx context.Context, id string) (*Project, error)
	List(ctx context.Context) ([]*Project, error)
	Delete(ctx context.Context, id string) error
}

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu       sync.RWMutex
	projects map[string]Project
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{projects: map[string]Project{}}
}

func (m *MemoryRepository) Save(ctx context.Context, p *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.Books = append([]string(nil), p.Books...)
	m.projects[p.ID] = cp
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// List returns projects newest first.
func (m *MemoryRepository) List(ctx context.Context) ([]*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Project, 0, len(m.projects))
	for _, p := range m.projects {
		p := p
		out = append(out, &p)
	}
	sortNewest(out)
	return out, nil
}

func (m *MemoryRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return ErrNotFound
	}
	delete(m.projects, id)
	return nil
}

func sortNewest(ps []*Project) {
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].CreatedAt.After(ps[j].CreatedAt) })
}
