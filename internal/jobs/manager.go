package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/scribe/internal/defra"
	"github.com/jackzampolin/scribe/internal/schema"
)

var walkFields = []string{
	"_docID", "project_id", "book", "direction", "language", "status", "single_chapter",
	"chapter", "verse", "verse_index", "verse_total", "remote_job_id", "error",
	"started_at", "updated_at", "completed_at",
}

// Manager handles walk record CRUD operations in DefraDB.
// It does not run walks; the pipeline reports progress through it.
type Manager struct {
	defra  *defra.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a new walk record manager.
func NewManager(client *defra.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		defra:  client,
		logger: logger,
		now:    time.Now,
	}
}

// Create stores a new record and sets its ID.
func (m *Manager) Create(ctx context.Context, rec *Record) (string, error) {
	now := m.now().UTC()
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = StatusQueued
	}

	input := encodeWalk(rec)
	input["project_id"] = rec.ProjectID
	input["book"] = rec.Book
	input["direction"] = string(rec.Direction)
	input["language"] = rec.Language
	input["started_at"] = rec.StartedAt.Format(time.RFC3339)

	id, err := m.defra.Create(ctx, schema.Walk, input)
	if err != nil {
		return "", fmt.Errorf("failed to create walk: %w", err)
	}
	rec.ID = id

	m.logger.Info("walk created", "id", id, "project_id", rec.ProjectID, "book", rec.Book, "direction", rec.Direction)
	return id, nil
}

// Save writes the mutable fields of an existing record.
func (m *Manager) Save(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: record has no id", ErrNotFound)
	}
	rec.UpdatedAt = m.now().UTC()
	if rec.Status.Terminal() && rec.CompletedAt == nil {
		t := rec.UpdatedAt
		rec.CompletedAt = &t
	}
	if err := m.defra.Update(ctx, schema.Walk, rec.ID, encodeWalk(rec)); err != nil {
		return fmt.Errorf("failed to save walk %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns a record by ID.
func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
	if err := defra.ValidateID(id); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`{ %s(docID: %q) { %s } }`, schema.Walk, id, joinFields(walkFields))
	resp, err := m.defra.Execute(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	if errMsg := resp.Error(); errMsg != "" {
		return nil, fmt.Errorf("query walk: %s", errMsg)
	}
	docs := resp.Documents(schema.Walk)
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return parseWalkRecord(docs[0]), nil
}

// List returns records matching the filter, most recent first.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	q := defra.NewQuery(schema.Walk).Fields(walkFields...).OrderBy("started_at", "DESC")
	if filter.ProjectID != "" {
		q.Filter("project_id", filter.ProjectID)
	}
	if filter.Book != "" {
		q.Filter("book", filter.Book)
	}
	if filter.Status != "" {
		q.Filter("status", string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	q.Limit(limit)

	docs, err := q.Execute(ctx, m.defra)
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(docs))
	for _, d := range docs {
		records = append(records, parseWalkRecord(d))
	}
	return records, nil
}

// MarkInterrupted flags every running or queued walk as interrupted.
// It is called once at startup, since no walk survives a restart.
func (m *Manager) MarkInterrupted(ctx context.Context) (int, error) {
	count := 0
	for _, st := range []Status{StatusRunning, StatusQueued} {
		recs, err := m.List(ctx, ListFilter{Status: st, Limit: 1000})
		if err != nil {
			return count, err
		}
		for _, r := range recs {
			r.Status = StatusInterrupted
			if err := m.Save(ctx, r); err != nil {
				return count, err
			}
			count++
		}
	}
	if count > 0 {
		m.logger.Info("marked stale walks interrupted", "count", count)
	}
	return count, nil
}

// DeleteForProject removes every walk record of a project.
func (m *Manager) DeleteForProject(ctx context.Context, projectID string) (int, error) {
	return m.defra.DeleteWhere(ctx, schema.Walk, map[string]any{"project_id": projectID})
}

func encodeWalk(r *Record) map[string]any {
	in := map[string]any{
		"status":         string(r.Status),
		"single_chapter": r.SingleChapter,
		"chapter":        r.Chapter,
		"verse":          r.Verse,
		"verse_index":    r.VerseIndex,
		"verse_total":    r.VerseTotal,
		"remote_job_id":  r.RemoteJobID,
		"error":          r.Error,
		"updated_at":     r.UpdatedAt.Format(time.RFC3339),
	}
	if r.CompletedAt != nil {
		in["completed_at"] = r.CompletedAt.Format(time.RFC3339)
	}
	return in
}

func parseWalkRecord(data map[string]any) *Record {
	r := &Record{}
	r.ID, _ = data["_docID"].(string)
	r.ProjectID, _ = data["project_id"].(string)
	r.Book, _ = data["book"].(string)
	r.Language, _ = data["language"].(string)
	if d, ok := data["direction"].(string); ok {
		r.Direction = Direction(d)
	}
	if s, ok := data["status"].(string); ok {
		r.Status = Status(s)
	}
	r.SingleChapter, _ = data["single_chapter"].(bool)
	r.Chapter = intField(data, "chapter")
	r.Verse = intField(data, "verse")
	r.VerseIndex = intField(data, "verse_index")
	r.VerseTotal = intField(data, "verse_total")
	r.RemoteJobID, _ = data["remote_job_id"].(string)
	r.Error, _ = data["error"].(string)

	if t, ok := timeField(data, "started_at"); ok {
		r.StartedAt = t
	}
	if t, ok := timeField(data, "updated_at"); ok {
		r.UpdatedAt = t
	}
	if t, ok := timeField(data, "completed_at"); ok {
		r.CompletedAt = &t
	}
	return r
}

func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func timeField(data map[string]any, key string) (time.Time, bool) {
	s, ok := data[key].(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func joinFields(fields []string) string {
	result := ""
	for i, f := range fields {
		if i > 0 {
			result += " "
		}
		result += f
	}
	return result
}

var _ Recorder = (*Manager)(nil)
