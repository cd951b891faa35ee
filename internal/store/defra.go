package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/scribe/internal/defra"
	"github.com/jackzampolin/scribe/internal/schema"
)

var verseFields = []string{
	"_docID", "key", "book", "chapter", "verse",
	"source_audio", "transcribed_text", "generated_audio", "generated_format",
	"is_approved", "size_bytes", "last_updated",
}

// DefraStore keeps verse records in the DefraDB Verse collection,
// filtered by project_id.
type DefraStore struct {
	client    *defra.Client
	projectID string
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex // serializes quota bookkeeping with writes
	quota *quota
}

// DefraStoreConfig configures a DefraStore.
type DefraStoreConfig struct {
	Client     *defra.Client
	ProjectID  string
	QuotaBytes int64
	Logger     *slog.Logger
}

// NewDefraStore creates a store for one project.
func NewDefraStore(cfg DefraStoreConfig) *DefraStore {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DefraStore{
		client:    cfg.Client,
		projectID: cfg.ProjectID,
		logger:    logger.With("project_id", cfg.ProjectID),
		now:       time.Now,
		quota:     newQuota(cfg.QuotaBytes),
	}
}

// Keys returns every key in the project.
func (s *DefraStore) Keys(ctx context.Context) ([]string, error) {
	docs, err := defra.NewQuery(schema.Verse).
		Filter("project_id", s.projectID).
		Fields("key").
		Execute(ctx, s.client)
	if err != nil {
		return nil, &StorageError{Op: "keys", Err: err}
	}
	keys := make([]string, 0, len(docs))
	for _, d := range docs {
		if k, ok := d["key"].(string); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Get returns the record stored under key, or nil.
func (s *DefraStore) Get(ctx context.Context, key string) (*VerseRecord, error) {
	docs, err := defra.NewQuery(schema.Verse).
		Filter("project_id", s.projectID).
		Filter("key", key).
		Fields(verseFields...).
		Limit(1).
		Execute(ctx, s.client)
	if err != nil {
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}
	if len(docs) == 0 {
		return nil, nil
	}
	rec := decodeVerse(docs[0])
	return &rec, nil
}

// List returns all records of a book.
func (s *DefraStore) List(ctx context.Context, book string) ([]VerseRecord, error) {
	docs, err := defra.NewQuery(schema.Verse).
		Filter("project_id", s.projectID).
		Filter("book", book).
		Fields(verseFields...).
		Execute(ctx, s.client)
	if err != nil {
		return nil, &StorageError{Op: "list", Key: book, Err: err}
	}
	recs := make([]VerseRecord, 0, len(docs))
	for _, d := range docs {
		recs = append(recs, decodeVerse(d))
	}
	return recs, nil
}

// Set upserts the record. Quota is enforced before anything is written.
func (s *DefraStore) Set(ctx context.Context, key string, rec VerseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadUsage(ctx); err != nil {
		return err
	}
	size := rec.Size()
	if err := s.quota.check(key, size); err != nil {
		s.logger.Warn("verse write rejected", "key", key, "error", err)
		return &StorageError{Op: "set", Key: key, Err: err}
	}

	rec.LastUpdated = s.now().UTC()
	fields := encodeVerse(rec)
	create := map[string]any{"project_id": s.projectID, "key": key}
	for k, v := range fields {
		create[k] = v
	}
	filter := map[string]any{
		"project_id": map[string]any{"_eq": s.projectID},
		"key":        map[string]any{"_eq": key},
	}
	if _, err := s.client.Upsert(ctx, schema.Verse, filter, create, fields); err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	s.quota.record(key, size)
	return nil
}

// Clear deletes every record of the project.
func (s *DefraStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.client.DeleteWhere(ctx, schema.Verse, map[string]any{"project_id": s.projectID})
	if err != nil {
		return &StorageError{Op: "clear", Err: err}
	}
	s.quota.reset()
	s.quota.loaded = true
	s.logger.Info("verse records cleared", "count", n)
	return nil
}

// loadUsage primes the quota from stored sizes on first write.
func (s *DefraStore) loadUsage(ctx context.Context) error {
	if s.quota.loaded || s.quota.limit <= 0 {
		return nil
	}
	docs, err := defra.NewQuery(schema.Verse).
		Filter("project_id", s.projectID).
		Fields("key", "size_bytes", "transcribed_text").
		Execute(ctx, s.client)
	if err != nil {
		return &StorageError{Op: "usage", Err: err}
	}
	for _, d := range docs {
		key, _ := d["key"].(string)
		rec := VerseRecord{TranscribedText: str(d, "transcribed_text"), AudioBytes: int64(num(d, "size_bytes"))}
		s.quota.record(key, rec.Size())
	}
	s.quota.loaded = true
	return nil
}

func encodeVerse(r VerseRecord) map[string]any {
	return map[string]any{
		"book":             r.Book,
		"chapter":          r.Chapter,
		"verse":            r.Verse,
		"source_audio":     r.SourceAudio,
		"transcribed_text": r.TranscribedText,
		"generated_audio":  r.GeneratedAudio,
		"generated_format": r.GeneratedFormat,
		"is_approved":      r.IsApproved,
		"size_bytes":       r.AudioBytes,
		"last_updated":     r.LastUpdated.Format(time.RFC3339Nano),
	}
}

func decodeVerse(d map[string]any) VerseRecord {
	rec := VerseRecord{
		Book:            str(d, "book"),
		Chapter:         int(num(d, "chapter")),
		Verse:           int(num(d, "verse")),
		SourceAudio:     str(d, "source_audio"),
		TranscribedText: str(d, "transcribed_text"),
		GeneratedAudio:  str(d, "generated_audio"),
		GeneratedFormat: str(d, "generated_format"),
		AudioBytes:      int64(num(d, "size_bytes")),
	}
	rec.IsApproved, _ = d["is_approved"].(bool)
	if ts := str(d, "last_updated"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.LastUpdated = t
		}
	}
	return rec
}

func str(d map[string]any, k string) string {
	s, _ := d[k].(string)
	return s
}

// num reads a JSON number, which decodes as float64.
func num(d map[string]any, k string) float64 {
	switch v := d[k].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// DefraOpener hands out one DefraStore per project so quota bookkeeping
// survives across walks.
type DefraOpener struct {
	client     *defra.Client
	quotaBytes int64
	logger     *slog.Logger

	mu     sync.Mutex
	stores map[string]*DefraStore
}

// NewDefraOpener creates an opener backed by client.
func NewDefraOpener(client *defra.Client, quotaBytes int64, logger *slog.Logger) *DefraOpener {
	return &DefraOpener{
		client:     client,
		quotaBytes: quotaBytes,
		logger:     logger,
		stores:     make(map[string]*DefraStore),
	}
}

// Open returns the store for projectID.
func (o *DefraOpener) Open(projectID string) Store {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.stores[projectID]
	if !ok {
		s = NewDefraStore(DefraStoreConfig{
			Client:     o.client,
			ProjectID:  projectID,
			QuotaBytes: o.quotaBytes,
			Logger:     o.logger,
		})
		o.stores[projectID] = s
	}
	return s
}

// Forget drops the cached store for a deleted project.
func (o *DefraOpener) Forget(projectID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.stores, projectID)
}

var _ Lister = (*DefraStore)(nil)
