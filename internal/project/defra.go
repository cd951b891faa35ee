package project

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/scribe/internal/defra"
	"github.com/jackzampolin/scribe/internal/schema"
)

var projectFields = []string{
	"_docID", "project_id", "name", "language", "language_name",
	"layout", "books", "quota_bytes", "created_at",
}

// DefraRepository keeps the catalogue in the DefraDB Project collection,
// keyed by project_id.
type DefraRepository struct {
	client *defra.Client
	logger *slog.Logger
}

// NewDefraRepository creates a repository backed by client.
func NewDefraRepository(client *defra.Client, logger *slog.Logger) *DefraRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefraRepository{client: client, logger: logger}
}

func (r *DefraRepository) Save(ctx context.Context, p *Project) error {
	books := make([]any, len(p.Books))
	for i, b := range p.Books {
		books[i] = b
	}
	fields := map[string]any{
		"name":          p.Name,
		"language":      p.Language,
		"language_name": p.LanguageName,
		"layout":        p.Layout,
		"books":         books,
		"quota_bytes":   p.QuotaBytes,
		"created_at":    p.CreatedAt.UTC().Format(time.RFC3339),
	}
	create := map[string]any{"project_id": p.ID}
	for k, v := range fields {
		create[k] = v
	}
	filter := map[string]any{"project_id": map[string]any{"_eq": p.ID}}
	if _, err := r.client.Upsert(ctx, schema.Project, filter, create, fields); err != nil {
		return fmt.Errorf("save project %s: %w", p.ID, err)
	}
	return nil
}

func (r *DefraRepository) Get(ctx context.Context, id string) (*Project, error) {
	docs, err := defra.NewQuery(schema.Project).
		Filter("project_id", id).
		Fields(projectFields...).
		Limit(1).
		Execute(ctx, r.client)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decodeProject(docs[0]), nil
}

func (r *DefraRepository) List(ctx context.Context) ([]*Project, error) {
	docs, err := defra.NewQuery(schema.Project).
		Fields(projectFields...).
		OrderBy("created_at", "DESC").
		Execute(ctx, r.client)
	if err != nil {
		return nil, err
	}
	out := make([]*Project, 0, len(docs))
	for _, d := range docs {
		out = append(out, decodeProject(d))
	}
	return out, nil
}

func (r *DefraRepository) Delete(ctx context.Context, id string) error {
	n, err := r.client.DeleteWhere(ctx, schema.Project, map[string]any{"project_id": id})
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.logger.Info("project deleted", "project_id", id)
	return nil
}

func decodeProject(d map[string]any) *Project {
	p := &Project{}
	p.ID, _ = d["project_id"].(string)
	p.Name, _ = d["name"].(string)
	p.Language, _ = d["language"].(string)
	p.LanguageName, _ = d["language_name"].(string)
	p.Layout, _ = d["layout"].(string)
	if books, ok := d["books"].([]any); ok {
		for _, b := range books {
			if s, ok := b.(string); ok {
				p.Books = append(p.Books, s)
			}
		}
	}
	if q, ok := d["quota_bytes"].(float64); ok {
		p.QuotaBytes = int64(q)
	}
	if s, ok := d["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			p.CreatedAt = t
		}
	}
	return p
}
