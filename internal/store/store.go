// Package store persists per-verse pipeline state, namespaced by project.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackzampolin/scribe/internal/identity"
)

// ErrQuotaExceeded is returned when a write would grow a project past its quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// StorageError wraps a failed store operation with the key involved.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// VerseRecord is the durable state of one verse.
type VerseRecord struct {
	Book    string `json:"book"`
	Chapter int    `json:"chapter"`
	Verse   int    `json:"verse"`

	// SourceAudio is the path of the imported recording.
	SourceAudio     string `json:"source_audio,omitempty"`
	TranscribedText string `json:"transcribed_text,omitempty"`
	// GeneratedAudio is the path of the synthesized recording.
	GeneratedAudio  string `json:"generated_audio,omitempty"`
	GeneratedFormat string `json:"generated_format,omitempty"`
	// AudioBytes is the size of GeneratedAudio, counted against the quota.
	AudioBytes  int64     `json:"audio_bytes,omitempty"`
	IsApproved  bool      `json:"is_approved"`
	LastUpdated time.Time `json:"last_updated"`
}

// ID returns the verse identity.
func (r VerseRecord) ID() identity.VerseID {
	return identity.VerseID{Book: r.Book, Chapter: r.Chapter, Verse: r.Verse}
}

// Key returns the storage key.
func (r VerseRecord) Key() string {
	return r.ID().Key()
}

// Transcribed reports whether transcription has produced text.
func (r VerseRecord) Transcribed() bool {
	return r.TranscribedText != ""
}

// Converted reports whether synthesized audio exists.
func (r VerseRecord) Converted() bool {
	return r.GeneratedAudio != ""
}

// Size is what the record costs against a project quota.
func (r VerseRecord) Size() int64 {
	return int64(len(r.TranscribedText)) + r.AudioBytes
}

// Store is a durable key-value store for one project.
// Get returns (nil, nil) for a missing key.
type Store interface {
	Keys(ctx context.Context) ([]string, error)
	Get(ctx context.Context, key string) (*VerseRecord, error)
	Set(ctx context.Context, key string, rec VerseRecord) error
	// Clear removes every record in the namespace.
	Clear(ctx context.Context) error
}

// Lister is implemented by stores that can list a book's records in one call.
type Lister interface {
	List(ctx context.Context, book string) ([]VerseRecord, error)
}

// Opener hands out the store for a project. Distinct projects never share state.
type Opener interface {
	Open(projectID string) Store
}

// Forgetter is an Opener that caches stores and can drop one.
type Forgetter interface {
	Forget(projectID string)
}

// LoadBook returns every record of a book ordered by chapter and verse.
func LoadBook(ctx context.Context, s Store, book string) ([]VerseRecord, error) {
	var recs []VerseRecord
	if l, ok := s.(Lister); ok {
		var err error
		if recs, err = l.List(ctx, book); err != nil {
			return nil, err
		}
	} else {
		keys, err := s.Keys(ctx)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			id, err := identity.ParseKey(k)
			if err != nil || id.Book != book {
				continue
			}
			rec, err := s.Get(ctx, k)
			if err != nil {
				return nil, err
			}
			if rec != nil {
				recs = append(recs, *rec)
			}
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].ID().Position().Less(recs[j].ID().Position())
	})
	return recs, nil
}

// Update reads the record for id, applies fn, and writes it back.
// A missing record starts from the zero value with its identity set.
func Update(ctx context.Context, s Store, id identity.VerseID, fn func(*VerseRecord)) (*VerseRecord, error) {
	key := id.Key()
	rec, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &VerseRecord{Book: id.Book, Chapter: id.Chapter, Verse: id.Verse}
	}
	fn(rec)
	if err := s.Set(ctx, key, *rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// quota tracks per-key sizes so a write can be checked before it happens.
type quota struct {
	limit  int64
	sizes  map[string]int64
	total  int64
	loaded bool
}

func newQuota(limit int64) *quota {
	return &quota{limit: limit, sizes: make(map[string]int64)}
}

// check returns ErrQuotaExceeded if replacing key with size overflows the limit.
func (q *quota) check(key string, size int64) error {
	if q.limit <= 0 {
		return nil
	}
	if q.total-q.sizes[key]+size > q.limit {
		return fmt.Errorf("%w: %d of %d bytes used", ErrQuotaExceeded, q.total, q.limit)
	}
	return nil
}

func (q *quota) record(key string, size int64) {
	q.total += size - q.sizes[key]
	q.sizes[key] = size
}

func (q *quota) reset() {
	q.sizes = make(map[string]int64)
	q.total = 0
}
