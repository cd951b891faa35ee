package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/scribe/internal/home"
	"github.com/jackzampolin/scribe/internal/manifest"
)

const (
	manifestFile = "manifest.json"
	metaDir      = "meta"
)

// Service imports, lists and removes projects.
type Service struct {
	repo       Repository
	home       *home.Dir
	quotaBytes int64
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.RWMutex
	manifests map[string]*manifest.Manifest
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Repository Repository
	Home       *home.Dir
	// QuotaBytes is recorded on new projects. Zero is unlimited.
	QuotaBytes int64
	Logger     *slog.Logger
}

// NewService creates a project service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       cfg.Repository,
		home:       cfg.Home,
		quotaBytes: cfg.QuotaBytes,
		logger:     logger,
		now:        time.Now,
		manifests:  map[string]*manifest.Manifest{},
	}
}

// ImportResult is what an upload produced.
type ImportResult struct {
	Project  *Project           `json:"project"`
	Manifest *manifest.Manifest `json:"manifest"`
	Warnings []Warning          `json:"warnings"`
}

// Import extracts an uploaded archive into a new project. filename is the
// upload's name, used when the archive names nothing better.
func (s *Service) Import(ctx context.Context, filename string, r io.ReaderAt, size int64) (*ImportResult, error) {
	id := uuid.NewString()
	if err := s.home.EnsureProjectDir(id); err != nil {
		return nil, fmt.Errorf("create project dir: %w", err)
	}

	a, err := ReadArchive(r, size, s.home.SourceDir(id))
	if err != nil {
		s.cleanup(id)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		s.cleanup(id)
		return nil, err
	}

	name := a.Metadata.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	p := &Project{
		ID:           id,
		Name:         name,
		Language:     a.Metadata.Language,
		LanguageName: a.Metadata.LanguageName,
		Layout:       a.Layout,
		Books:        a.Manifest.BookCodes(),
		QuotaBytes:   s.quotaBytes,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.writeFiles(id, a); err != nil {
		s.cleanup(id)
		return nil, err
	}
	if err := s.repo.Save(ctx, p); err != nil {
		s.cleanup(id)
		return nil, fmt.Errorf("save project: %w", err)
	}

	s.mu.Lock()
	s.manifests[id] = a.Manifest
	s.mu.Unlock()

	s.logger.Info("project imported",
		"project_id", id,
		"name", p.Name,
		"layout", p.Layout,
		"books", len(p.Books),
		"verses", verseCount(a.Manifest),
		"warnings", len(a.Warnings))
	for _, w := range a.Warnings {
		s.logger.Warn("import warning", "project_id", id, "code", w.Code, "path", w.Path, "message", w.Message)
	}

	warnings := a.Warnings
	if warnings == nil {
		warnings = []Warning{}
	}
	return &ImportResult{Project: p, Manifest: a.Manifest, Warnings: warnings}, nil
}

func (s *Service) writeFiles(id string, a *Archive) error {
	data, err := json.MarshalIndent(a.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.home.ProjectDir(id), manifestFile), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	dir := filepath.Join(s.home.ProjectDir(id), metaDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create meta dir: %w", err)
	}
	for _, name := range a.SortedMetaNames() {
		if err := os.WriteFile(filepath.Join(dir, name), a.Meta[name], 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) cleanup(id string) {
	if err := s.home.RemoveProject(id); err != nil {
		s.logger.Warn("failed to remove partial import", "project_id", id, "error", err)
	}
}

// Get returns a project.
func (s *Service) Get(ctx context.Context, id string) (*Project, error) {
	return s.repo.Get(ctx, id)
}

// List returns every project, newest first.
func (s *Service) List(ctx context.Context) ([]*Project, error) {
	return s.repo.List(ctx)
}

// Manifest returns a project's topology, reading it from disk on first use.
func (s *Service) Manifest(id string) (*manifest.Manifest, error) {
	s.mu.RLock()
	m, ok := s.manifests[id]
	s.mu.RUnlock()
	if ok {
		return m, nil
	}

	data, err := os.ReadFile(filepath.Join(s.home.ProjectDir(id), manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	m = &manifest.Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	s.mu.Lock()
	s.manifests[id] = m
	s.mu.Unlock()
	return m, nil
}

// Book returns one book of a project's topology.
func (s *Service) Book(id, code string) (*manifest.Book, error) {
	m, err := s.Manifest(id)
	if err != nil {
		return nil, err
	}
	b, ok := m.Book(code)
	if !ok {
		return nil, fmt.Errorf("%w: book %s in %s", ErrNotFound, code, id)
	}
	return b, nil
}

// Meta returns a kept meta file (metadata.json, license.md, ...), or nil.
func (s *Service) Meta(id, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.home.ProjectDir(id), metaDir, filepath.Base(name)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// Delete removes a project record and its files.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.manifests, id)
	s.mu.Unlock()
	if err := s.home.RemoveProject(id); err != nil {
		return fmt.Errorf("remove project files: %w", err)
	}
	return nil
}

func verseCount(m *manifest.Manifest) int {
	n := 0
	for i := range m.Books {
		n += m.Books[i].VerseCount()
	}
	return n
}
