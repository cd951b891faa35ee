// Package pipeline walks a book verse by verse, sending each verse to a
// remote job service and persisting the result before moving on.
//
// A walk is strictly sequential: submit, poll until terminal, persist,
// advance. Any failure halts the walk at the failing verse; retry resumes
// from that same verse. At most one walk runs per book.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/scribe/internal/audio"
	"github.com/jackzampolin/scribe/internal/home"
	"github.com/jackzampolin/scribe/internal/jobs"
	"github.com/jackzampolin/scribe/internal/manifest"
	"github.com/jackzampolin/scribe/internal/providers"
	"github.com/jackzampolin/scribe/internal/store"
)

var (
	// ErrWalkActive is returned when a walk for the book is already running.
	ErrWalkActive = errors.New("a walk is already active for this book")

	// ErrNothingToDo is returned when every verse in scope is already processed.
	ErrNothingToDo = errors.New("nothing left to process")

	// ErrNoFailedWalk is returned by Retry when there is nothing to resume.
	ErrNoFailedWalk = errors.New("no failed walk to retry")

	// ErrUnknownVerse is returned when a start position is not in the book.
	ErrUnknownVerse = errors.New("verse not found in book")

	// ErrNoText is returned when synthesizing a verse that has no text.
	ErrNoText = errors.New("verse has no transcribed text")
)

// ClientSource supplies the job client for new walks.
type ClientSource interface {
	Active() (providers.JobClient, error)
}

// Config configures an Orchestrator.
type Config struct {
	Stores     store.Opener
	Clients    ClientSource
	Recorder   jobs.Recorder
	Normalizer audio.Normalizer
	Home       *home.Dir

	PollInterval    time.Duration
	MaxPollAttempts uint

	Notifications *NotificationLog
	Logger        *slog.Logger
}

// Orchestrator runs walks. Each walk is a goroutine bound to the
// orchestrator's own context, not to the request that started it.
type Orchestrator struct {
	stores     store.Opener
	clients    ClientSource
	recorder   jobs.Recorder
	normalizer audio.Normalizer
	home       *home.Dir

	pollInterval    time.Duration
	maxPollAttempts uint

	notes  *NotificationLog
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	walks map[walkKey]*walk
}

type walkKey struct {
	project string
	book    string
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notes := cfg.Notifications
	if notes == nil {
		notes = NewNotificationLog(0)
	}
	normalizer := cfg.Normalizer
	if normalizer == nil {
		normalizer = audio.Passthrough{}
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = jobs.NewMemoryRecorder()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		stores:          cfg.Stores,
		clients:         cfg.Clients,
		recorder:        recorder,
		normalizer:      normalizer,
		home:            cfg.Home,
		pollInterval:    cfg.PollInterval,
		maxPollAttempts: cfg.MaxPollAttempts,
		notes:           notes,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
		walks:           make(map[walkKey]*walk),
	}
}

// Notifications returns the notification log.
func (o *Orchestrator) Notifications() *NotificationLog {
	return o.notes
}

// Close cancels running walks and waits for them to stop. Their records
// are left interrupted.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// StartRequest starts a walk.
type StartRequest struct {
	ProjectID string
	Book      *manifest.Book
	Language  string
	Direction jobs.Direction

	// Chapter and Verse pick the first verse. Zero means the first verse
	// in scope whose record lacks this direction's output.
	Chapter int
	Verse   int

	// SingleChapter stops the walk at the end of the starting chapter.
	SingleChapter bool
}

// Start begins a walk and returns its initial state. The walk continues
// in the background.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (WalkState, error) {
	dir, err := directionFor(req.Direction)
	if err != nil {
		return WalkState{}, err
	}
	key := walkKey{req.ProjectID, req.Book.Code}

	w, err := o.claim(key)
	if err != nil {
		return WalkState{}, err
	}

	st := o.stores.Open(req.ProjectID)
	start, err := o.startPosition(ctx, st, dir, req)
	if err != nil {
		o.release(key, w)
		return WalkState{}, err
	}
	client, err := o.clients.Active()
	if err != nil {
		o.release(key, w)
		return WalkState{}, err
	}

	o.mu.Lock()
	w.init(req, dir, st, client, start)
	o.mu.Unlock()
	rec := &jobs.Record{
		ProjectID:     req.ProjectID,
		Book:          req.Book.Code,
		Direction:     dir.kind,
		Language:      req.Language,
		Status:        jobs.StatusRunning,
		SingleChapter: req.SingleChapter,
		Chapter:       start.Chapter,
		Verse:         start.Verse,
		VerseTotal:    w.total,
	}
	if _, err := o.recorder.Create(ctx, rec); err != nil {
		o.release(key, w)
		return WalkState{}, err
	}
	o.mu.Lock()
	w.record = rec
	w.state.RecordID = rec.ID
	o.mu.Unlock()

	o.logger.Info("walk started",
		"project_id", req.ProjectID, "book", req.Book.Code, "direction", dir.kind,
		"chapter", start.Chapter, "verse", start.Verse, "provider", client.Name())

	snap := o.snapshot(w)
	o.wg.Add(1)
	go o.run(w, start)
	return snap, nil
}

// RetryRequest resumes the last failed or interrupted walk of a book.
type RetryRequest struct {
	ProjectID string
	Book      *manifest.Book
	// Language overrides the language of the failed walk when set.
	Language string
}

// Retry re-enters the book's last failed walk at the verse that failed.
func (o *Orchestrator) Retry(ctx context.Context, req RetryRequest) (WalkState, error) {
	key := walkKey{req.ProjectID, req.Book.Code}

	var prev *jobs.Record
	o.mu.Lock()
	if w, ok := o.walks[key]; ok {
		if w.active {
			o.mu.Unlock()
			return WalkState{}, ErrWalkActive
		}
		if w.state.Phase == PhaseFailed && w.record != nil {
			r := *w.record
			prev = &r
		}
	}
	o.mu.Unlock()

	if prev == nil {
		recs, err := o.recorder.List(ctx, jobs.ListFilter{ProjectID: req.ProjectID, Book: req.Book.Code, Limit: 1})
		if err != nil {
			return WalkState{}, err
		}
		if len(recs) == 0 || (recs[0].Status != jobs.StatusFailed && recs[0].Status != jobs.StatusInterrupted) {
			return WalkState{}, ErrNoFailedWalk
		}
		prev = recs[0]
	}

	lang := req.Language
	if lang == "" {
		lang = prev.Language
	}
	o.logger.Info("retrying walk", "project_id", req.ProjectID, "book", req.Book.Code,
		"chapter", prev.Chapter, "verse", prev.Verse, "previous_error", prev.Error)

	return o.Start(ctx, StartRequest{
		ProjectID:     req.ProjectID,
		Book:          req.Book,
		Language:      lang,
		Direction:     prev.Direction,
		Chapter:       prev.Chapter,
		Verse:         prev.Verse,
		SingleChapter: prev.SingleChapter,
	})
}

// State returns the in-memory state of a book's most recent walk.
func (o *Orchestrator) State(projectID, book string) (WalkState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.walks[walkKey{projectID, book}]
	if !ok || w.dir == nil {
		return WalkState{}, false
	}
	return w.state, true
}

// States returns the in-memory state of every walk in a project.
func (o *Orchestrator) States(projectID string) []WalkState {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []WalkState
	for k, w := range o.walks {
		if k.project == projectID && w.dir != nil {
			out = append(out, w.state)
		}
	}
	return out
}

// Active reports whether any walk of the project is running.
func (o *Orchestrator) Active(projectID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, w := range o.walks {
		if k.project == projectID && w.active {
			return true
		}
	}
	return false
}

// Wait blocks until the book's current walk stops or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, projectID, book string) error {
	o.mu.Lock()
	w, ok := o.walks[walkKey{projectID, book}]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Forget drops in-memory walk state and notifications of a project.
// It fails while any walk of the project is running.
func (o *Orchestrator) Forget(projectID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, w := range o.walks {
		if k.project == projectID && w.active {
			return ErrWalkActive
		}
	}
	for k := range o.walks {
		if k.project == projectID {
			delete(o.walks, k)
		}
	}
	o.notes.Forget(projectID)
	return nil
}

// claim reserves the book for a new walk.
func (o *Orchestrator) claim(key walkKey) (*walk, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if w, ok := o.walks[key]; ok && w.active {
		o.logger.Warn("walk rejected, already active", "project_id", key.project, "book", key.book)
		return nil, ErrWalkActive
	}
	w := &walk{active: true, done: make(chan struct{}), prev: o.walks[key]}
	o.walks[key] = w
	return w, nil
}

// release undoes a claim whose walk never started.
func (o *Orchestrator) release(key walkKey, w *walk) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.walks[key] == w {
		if w.prev != nil {
			o.walks[key] = w.prev
		} else {
			delete(o.walks, key)
		}
	}
	w.active = false
	close(w.done)
}

// startPosition resolves the first verse of a walk.
func (o *Orchestrator) startPosition(ctx context.Context, st store.Store, dir *direction, req StartRequest) (manifest.VerseFile, error) {
	book := req.Book
	if req.Chapter > 0 {
		ch, _, ok := book.Chapter(req.Chapter)
		if !ok {
			return manifest.VerseFile{}, ErrUnknownVerse
		}
		if req.Verse > 0 {
			vf, ok := ch.FindVerse(req.Verse)
			if !ok {
				return manifest.VerseFile{}, ErrUnknownVerse
			}
			return *vf, nil
		}
		return o.firstPending(ctx, st, dir, book.Code, []manifest.Chapter{*ch})
	}
	chapters := book.Chapters
	if req.SingleChapter && len(chapters) > 0 {
		chapters = chapters[:1]
	}
	return o.firstPending(ctx, st, dir, book.Code, chapters)
}

func (o *Orchestrator) firstPending(ctx context.Context, st store.Store, dir *direction, book string, chapters []manifest.Chapter) (manifest.VerseFile, error) {
	recs, err := store.LoadBook(ctx, st, book)
	if err != nil {
		return manifest.VerseFile{}, err
	}
	byKey := make(map[string]*store.VerseRecord, len(recs))
	for i := range recs {
		byKey[recs[i].Key()] = &recs[i]
	}
	for _, ch := range chapters {
		for _, vf := range ch.Verses {
			if !dir.done(byKey[vf.ID(book).Key()]) {
				return vf, nil
			}
		}
	}
	return manifest.VerseFile{}, ErrNothingToDo
}
