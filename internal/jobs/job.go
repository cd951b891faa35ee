// Package jobs persists walk records: one per transcription or synthesis
// walk over a book, updated as the walk advances. Records are the source
// of failure markers for status aggregation and of resume hints after a
// restart.
package jobs

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a walk record does not exist.
var ErrNotFound = errors.New("walk record not found")

// Direction names what a walk produces.
type Direction string

const (
	DirectionTranscription Direction = "transcription"
	DirectionSynthesis     Direction = "synthesis"
)

// Status represents the current state of a walk.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Terminal reports whether the walk has stopped.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusInterrupted
}

// Record is a walk record. It maps to the Walk schema.
type Record struct {
	ID            string     `json:"id,omitempty"`
	ProjectID     string     `json:"project_id"`
	Book          string     `json:"book"`
	Direction     Direction  `json:"direction"`
	Language      string     `json:"language,omitempty"`
	Status        Status     `json:"status"`
	SingleChapter bool       `json:"single_chapter"`
	Chapter       int        `json:"chapter"`
	Verse         int        `json:"verse"`
	VerseIndex    int        `json:"verse_index"`
	VerseTotal    int        `json:"verse_total"`
	RemoteJobID   string     `json:"remote_job_id,omitempty"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ListFilter specifies criteria for listing walks.
type ListFilter struct {
	ProjectID string // empty = all
	Book      string // empty = all
	Status    Status // empty = all
	Limit     int    // 0 = default 100
}

func (f ListFilter) matches(r *Record) bool {
	return (f.ProjectID == "" || r.ProjectID == f.ProjectID) &&
		(f.Book == "" || r.Book == f.Book) &&
		(f.Status == "" || r.Status == f.Status)
}

// Recorder stores walk records.
type Recorder interface {
	Create(ctx context.Context, rec *Record) (string, error)
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, filter ListFilter) ([]*Record, error)
	DeleteForProject(ctx context.Context, projectID string) (int, error)
}

// Latest returns, for each book, the most recently started record.
func Latest(records []*Record) map[string]*Record {
	out := make(map[string]*Record)
	for _, r := range records {
		if cur, ok := out[r.Book]; !ok || r.StartedAt.After(cur.StartedAt) {
			out[r.Book] = r
		}
	}
	return out
}
