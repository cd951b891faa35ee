package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/scribe/internal/jobs"
	"github.com/jackzampolin/scribe/internal/manifest"
	"github.com/jackzampolin/scribe/internal/providers"
	"github.com/jackzampolin/scribe/internal/status"
	"github.com/jackzampolin/scribe/internal/store"
)

// Phase is where a walk is in the per-verse state machine.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseSubmitting  Phase = "submitting"
	PhasePolling     Phase = "polling"
	PhasePersisting  Phase = "persisting"
	PhaseFailed      Phase = "failed"
	PhaseCompleted   Phase = "completed"
	PhaseInterrupted Phase = "interrupted"
)

// WalkState is a snapshot of one book's walk.
type WalkState struct {
	ProjectID  string         `json:"project_id"`
	Book       string         `json:"book"`
	Direction  jobs.Direction `json:"direction"`
	Phase      Phase          `json:"phase"`
	Active     bool           `json:"active"`
	Chapter    int            `json:"chapter"`
	Verse      int            `json:"verse"`
	VerseIndex int            `json:"verse_index"`
	VerseTotal int            `json:"verse_total"`
	JobID      string         `json:"job_id,omitempty"`
	// Polls counts pending polls of the current job.
	Polls     int       `json:"polls,omitempty"`
	Error     string    `json:"error,omitempty"`
	RecordID  string    `json:"record_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Marker converts the state to the aggregator's walk marker.
func (s WalkState) Marker() status.WalkMarker {
	return status.WalkMarker{
		Chapter:    s.Chapter,
		Failed:     s.Phase == PhaseFailed,
		Active:     s.Active,
		VerseIndex: s.VerseIndex,
		Total:      s.VerseTotal,
	}
}

// walk is the orchestrator-owned record of one walk. state and active are
// guarded by Orchestrator.mu; the rest is fixed once the walk starts.
type walk struct {
	state  WalkState
	active bool
	done   chan struct{}
	prev   *walk

	dir       *direction
	projectID string
	language  string
	book      *manifest.Book
	single    bool
	store     store.Store
	client    providers.JobClient
	record    *jobs.Record
	total     int
}

func (w *walk) init(req StartRequest, dir *direction, st store.Store, client providers.JobClient, start manifest.VerseFile) {
	w.prev = nil
	w.dir = dir
	w.projectID = req.ProjectID
	w.language = req.Language
	w.book = req.Book
	w.single = req.SingleChapter
	w.store = st
	w.client = client
	w.total = req.Book.VerseCount()
	if req.SingleChapter {
		if ch, _, ok := req.Book.Chapter(start.Chapter); ok {
			w.total = len(ch.Verses)
		}
	}
	now := time.Now().UTC()
	w.state = WalkState{
		ProjectID:  req.ProjectID,
		Book:       req.Book.Code,
		Direction:  dir.kind,
		Phase:      PhaseIdle,
		Active:     true,
		Chapter:    start.Chapter,
		Verse:      start.Verse,
		VerseTotal: w.total,
		StartedAt:  now,
		UpdatedAt:  now,
	}
}

// ordinal is the 1-based position of vf within the walk's scope.
func (w *walk) ordinal(vf manifest.VerseFile) int {
	n := 0
	for _, ch := range w.book.Chapters {
		if w.single && !containsFile(ch, vf) {
			continue
		}
		for _, v := range ch.Verses {
			n++
			if v == vf {
				return n
			}
		}
	}
	return n
}

func containsFile(ch manifest.Chapter, vf manifest.VerseFile) bool {
	for _, v := range ch.Verses {
		if v == vf {
			return true
		}
	}
	return false
}

// next finds the verse after cur: verse+1 in the chapter matching cur's
// parsed chapter, else the first verse of the following chapter. A parsed
// chapter that is not in the book ends the walk.
func (w *walk) next(cur manifest.VerseFile) (manifest.VerseFile, bool) {
	ch, _, ok := w.book.Chapter(cur.Chapter)
	if !ok {
		return manifest.VerseFile{}, false
	}
	if vf, ok := ch.FindVerse(cur.Verse + 1); ok {
		return *vf, true
	}
	if w.single {
		return manifest.VerseFile{}, false
	}
	number := ch.Number
	for {
		nc, ok := w.book.NextChapter(number)
		if !ok {
			return manifest.VerseFile{}, false
		}
		if len(nc.Verses) > 0 {
			return nc.Verses[0], true
		}
		number = nc.Number
	}
}

func (o *Orchestrator) snapshot(w *walk) WalkState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return w.state
}

func (o *Orchestrator) setState(w *walk, fn func(s *WalkState)) {
	o.mu.Lock()
	fn(&w.state)
	w.state.UpdatedAt = time.Now().UTC()
	if w.record != nil {
		w.state.RecordID = w.record.ID
	}
	o.mu.Unlock()
}

// run is the walk goroutine.
func (o *Orchestrator) run(w *walk, start manifest.VerseFile) {
	defer o.wg.Done()
	ctx := o.ctx
	cur := start

	for {
		if err := ctx.Err(); err != nil {
			o.finish(w, PhaseInterrupted, cur, err)
			return
		}
		if err := o.process(ctx, w, cur); err != nil {
			if ctx.Err() != nil {
				o.finish(w, PhaseInterrupted, cur, ctx.Err())
				return
			}
			o.finish(w, PhaseFailed, cur, err)
			return
		}
		next, ok := w.next(cur)
		if !ok {
			o.finish(w, PhaseCompleted, cur, nil)
			return
		}
		cur = next
	}
}

// process drives one verse through submit, poll and persist.
func (o *Orchestrator) process(ctx context.Context, w *walk, vf manifest.VerseFile) error {
	u := &unit{walk: w, file: vf, id: vf.ID(w.book.Code)}
	idx := w.ordinal(vf)
	logger := o.logger.With("project_id", w.projectID, "book", u.id.Book, "chapter", u.id.Chapter, "verse", u.id.Verse)

	o.setState(w, func(s *WalkState) {
		s.Phase = PhaseSubmitting
		s.Chapter, s.Verse, s.VerseIndex = vf.Chapter, vf.Verse, idx
		s.JobID, s.Error = "", ""
	})
	w.record.Chapter, w.record.Verse, w.record.VerseIndex = vf.Chapter, vf.Verse, idx
	w.record.RemoteJobID = ""
	o.saveRecord(ctx, w)

	jobID, err := w.dir.submit(ctx, o, u)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	logger.Debug("verse submitted", "job_id", jobID)

	o.setState(w, func(s *WalkState) {
		s.Phase = PhasePolling
		s.JobID = jobID
		s.Polls = 0
	})
	w.record.RemoteJobID = jobID
	o.saveRecord(ctx, w)

	poller := &providers.Poller{
		Client:      w.client,
		Interval:    o.pollInterval,
		MaxAttempts: o.maxPollAttempts,
		Logger:      logger,
		OnPending: func(_ string, attempt uint) {
			o.setState(w, func(s *WalkState) { s.Polls = int(attempt) })
		},
	}
	result, err := poller.Wait(ctx, jobID)
	if err != nil {
		return err
	}

	o.setState(w, func(s *WalkState) { s.Phase = PhasePersisting })
	out, err := w.dir.merge(ctx, o, u, result)
	if err != nil {
		return err
	}
	if _, err := store.Update(ctx, w.store, u.id, out.apply); err != nil {
		if out.discard != nil {
			out.discard()
		}
		return fmt.Errorf("persist %s: %w", u.id, err)
	}
	if out.commit != nil {
		if err := out.commit(); err != nil {
			return fmt.Errorf("persist %s: %w", u.id, err)
		}
	}

	logger.Info("verse complete", "direction", w.dir.kind, "index", idx, "total", w.total)
	o.setState(w, func(s *WalkState) { s.Phase = PhaseIdle })
	return nil
}

// finish records the walk's end, notifies, and releases the book.
func (o *Orchestrator) finish(w *walk, phase Phase, last manifest.VerseFile, cause error) {
	msg := ""
	switch phase {
	case PhaseCompleted:
		w.record.Status = jobs.StatusCompleted
		msg = fmt.Sprintf("%s %s complete", w.book.Code, w.dir.verb)
	case PhaseFailed:
		w.record.Status = jobs.StatusFailed
		w.record.Error = failureMessage(cause)
		msg = fmt.Sprintf("%s %d:%d %s failed: %s", w.book.Code, last.Chapter, last.Verse, w.dir.verb, w.record.Error)
	case PhaseInterrupted:
		w.record.Status = jobs.StatusInterrupted
		w.record.Error = "interrupted"
	}

	// The walk's own context may already be cancelled.
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	o.saveRecord(saveCtx, w)
	cancel()

	if msg != "" {
		level := LevelInfo
		if phase == PhaseFailed {
			level = LevelError
		}
		o.notes.Add(Notification{
			ProjectID: w.projectID,
			Book:      w.book.Code,
			Chapter:   last.Chapter,
			Verse:     last.Verse,
			Level:     level,
			Message:   msg,
		})
	}

	logger := o.logger.With("project_id", w.projectID, "book", w.book.Code, "direction", w.dir.kind)
	switch phase {
	case PhaseFailed:
		logger.Error("walk failed", "chapter", last.Chapter, "verse", last.Verse, "error", cause)
	case PhaseInterrupted:
		logger.Warn("walk interrupted", "chapter", last.Chapter, "verse", last.Verse)
	default:
		logger.Info("walk completed")
	}

	o.mu.Lock()
	w.state.Phase = phase
	w.state.Active = false
	w.state.UpdatedAt = time.Now().UTC()
	if phase == PhaseFailed {
		w.state.Error = w.record.Error
	}
	w.active = false
	o.mu.Unlock()
	close(w.done)
}

func (o *Orchestrator) saveRecord(ctx context.Context, w *walk) {
	if err := o.recorder.Save(ctx, w.record); err != nil {
		o.logger.Warn("failed to save walk record", "record_id", w.record.ID, "error", err)
	}
}

// failureMessage renders a walk error for users. Service messages are
// passed through verbatim.
func failureMessage(err error) string {
	var jobErr *providers.JobError
	switch {
	case errors.As(err, &jobErr) && jobErr.Message != "":
		return jobErr.Message
	case errors.Is(err, providers.ErrPollTimeout):
		return "timed out waiting for the remote job"
	case errors.Is(err, store.ErrQuotaExceeded):
		return "storage quota exceeded"
	}
	return err.Error()
}

// Markers returns the walk markers the status aggregator needs for a
// book: the running walk from memory, or the last persisted walk.
func (o *Orchestrator) Markers(ctx context.Context, projectID, book string) ([]status.WalkMarker, error) {
	if st, ok := o.State(projectID, book); ok {
		return []status.WalkMarker{st.Marker()}, nil
	}
	recs, err := o.recorder.List(ctx, jobs.ListFilter{ProjectID: projectID, Book: book, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return []status.WalkMarker{RecordMarker(recs[0])}, nil
}

// RecordMarker converts a persisted walk record to a marker. Only failed
// records mark their chapter; interrupted walks fall back to verse counts.
func RecordMarker(r *jobs.Record) status.WalkMarker {
	return status.WalkMarker{
		Chapter:    r.Chapter,
		Failed:     r.Status == jobs.StatusFailed,
		Active:     r.Status == jobs.StatusRunning,
		VerseIndex: r.VerseIndex,
		Total:      r.VerseTotal,
	}
}
