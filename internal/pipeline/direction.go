package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackzampolin/scribe/internal/identity"
	"github.com/jackzampolin/scribe/internal/jobs"
	"github.com/jackzampolin/scribe/internal/manifest"
	"github.com/jackzampolin/scribe/internal/providers"
	"github.com/jackzampolin/scribe/internal/store"
	"github.com/jackzampolin/scribe/internal/usfm"
)

// unit is one verse moving through submit, poll and persist.
type unit struct {
	walk *walk
	file manifest.VerseFile
	id   identity.VerseID
}

// outcome is a finished verse's result, ready to merge into its record.
type outcome struct {
	apply func(rec *store.VerseRecord)
	// commit runs after the record is written; discard runs if the write fails.
	commit  func() error
	discard func()
}

// direction parameterizes the walk with what a verse submits and how the
// result lands in its record.
type direction struct {
	kind   jobs.Direction
	verb   string
	done   func(rec *store.VerseRecord) bool
	submit func(ctx context.Context, o *Orchestrator, u *unit) (string, error)
	merge  func(ctx context.Context, o *Orchestrator, u *unit, st *providers.JobStatus) (*outcome, error)
}

func directionFor(kind jobs.Direction) (*direction, error) {
	switch kind {
	case jobs.DirectionTranscription:
		return &transcription, nil
	case jobs.DirectionSynthesis:
		return &synthesis, nil
	}
	return nil, fmt.Errorf("unknown direction %q", kind)
}

var transcription = direction{
	kind: jobs.DirectionTranscription,
	verb: "transcription",
	done: func(rec *store.VerseRecord) bool { return rec != nil && rec.Transcribed() },
	submit: func(ctx context.Context, o *Orchestrator, u *unit) (string, error) {
		data, err := os.ReadFile(u.file.Path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", u.file.Filename, err)
		}
		data, name, err := o.normalizer.Normalize(ctx, data, u.file.Filename)
		if err != nil {
			return "", fmt.Errorf("failed to normalize %s: %w", u.file.Filename, err)
		}
		return u.walk.client.SubmitTranscription(ctx, providers.TranscriptionRequest{
			Audio:    data,
			Filename: filepath.Base(name),
			Language: u.walk.language,
		})
	},
	merge: func(ctx context.Context, o *Orchestrator, u *unit, st *providers.JobStatus) (*outcome, error) {
		text := usfm.FoldText(st.Text)
		if text == "" {
			return nil, &providers.JobError{JobID: st.JobID, Message: "empty transcription"}
		}
		return &outcome{apply: func(rec *store.VerseRecord) {
			if rec.TranscribedText != text {
				rec.IsApproved = false
			}
			rec.TranscribedText = text
			rec.SourceAudio = u.file.Path
		}}, nil
	},
}

var synthesis = direction{
	kind: jobs.DirectionSynthesis,
	verb: "synthesis",
	done: func(rec *store.VerseRecord) bool { return rec != nil && rec.Converted() },
	submit: func(ctx context.Context, o *Orchestrator, u *unit) (string, error) {
		rec, err := u.walk.store.Get(ctx, u.id.Key())
		if err != nil {
			return "", err
		}
		if rec == nil || !rec.Transcribed() {
			return "", fmt.Errorf("%w: %s", ErrNoText, u.id)
		}
		return u.walk.client.SubmitSynthesis(ctx, providers.SynthesisRequest{
			Text:     rec.TranscribedText,
			Language: u.walk.language,
		})
	},
	merge: func(ctx context.Context, o *Orchestrator, u *unit, st *providers.JobStatus) (*outcome, error) {
		audio, err := u.walk.client.FetchAudio(ctx, st.JobID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch audio for %s: %w", u.id, err)
		}
		format := audio.Format
		if format == "" {
			format = "wav"
		}
		path := o.home.GeneratedAudioPath(u.walk.projectID, u.id.Book, u.id.Chapter, u.id.Verse, format)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audio dir: %w", err)
		}
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, audio.Data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write audio: %w", err)
		}
		return &outcome{
			apply: func(rec *store.VerseRecord) {
				rec.GeneratedAudio = path
				rec.GeneratedFormat = format
				rec.AudioBytes = int64(len(audio.Data))
			},
			commit:  func() error { return os.Rename(tmp, path) },
			discard: func() { os.Remove(tmp) },
		}, nil
	},
}
