package status

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackzampolin/scribe/internal/identity"
	"github.com/jackzampolin/scribe/internal/manifest"
	"github.com/jackzampolin/scribe/internal/store"
)

// ChapterInput is everything needed to derive one chapter's status.
type ChapterInput struct {
	// Verses is the chapter's verse set from the manifest.
	Verses []identity.VerseID
	// Records maps storage key to record; keys outside Verses are ignored.
	Records map[string]store.VerseRecord
	// Failed is true when a persisted walk failed inside this chapter.
	Failed bool
	// Active is true when a persisted walk is running inside this chapter.
	Active bool
}

// ChapterCounts tallies verse predicates within a chapter.
type ChapterCounts struct {
	Total       int `json:"total"`
	Transcribed int `json:"transcribed"`
	Converted   int `json:"converted"`
	Approved    int `json:"approved"`
}

// Count tallies the chapter's verses.
func (in ChapterInput) Count() ChapterCounts {
	c := ChapterCounts{Total: len(in.Verses)}
	for _, id := range in.Verses {
		rec, ok := in.Records[id.Key()]
		if !ok {
			continue
		}
		if rec.Transcribed() {
			c.Transcribed++
		}
		if rec.Converted() {
			c.Converted++
		}
		if rec.IsApproved {
			c.Approved++
		}
	}
	return c
}

// Chapter folds verse records into a chapter status.
// Precedence: Approved, Converted, Transcribed, Failed, InProgress, Pending.
func Chapter(in ChapterInput) ChapterStatus {
	c := in.Count()
	switch {
	case c.Total == 0:
		return ChapterPending
	case c.Approved == c.Total:
		return ChapterApproved
	case c.Converted == c.Total:
		return ChapterConverted
	case c.Transcribed == c.Total:
		return ChapterTranscribed
	case in.Failed:
		return ChapterFailed
	case in.Active || c.Transcribed > 0 || c.Converted > 0:
		return ChapterInProgress
	default:
		return ChapterPending
	}
}

// Progress locates an active walk for the partial label.
type Progress struct {
	VerseIndex int
	Total      int
}

// Book folds chapter statuses into a book status.
// Precedence: Approved, Done, Transcribed, InProgress, Error, Pending.
func Book(chapters []ChapterStatus) BookStatus {
	if len(chapters) == 0 {
		return BookPending
	}
	all := func(want ...ChapterStatus) bool {
		for _, s := range chapters {
			ok := false
			for _, w := range want {
				if s == w {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		}
		return true
	}
	some := func(want ChapterStatus) bool {
		for _, s := range chapters {
			if s == want {
				return true
			}
		}
		return false
	}

	switch {
	case all(ChapterApproved):
		return BookApproved
	case all(ChapterConverted, ChapterApproved):
		return BookDone
	case all(ChapterTranscribed, ChapterConverted, ChapterApproved):
		return BookTranscribed
	case some(ChapterInProgress), some(ChapterTranscribed), some(ChapterConverted), some(ChapterApproved):
		return BookInProgress
	case some(ChapterFailed), some(ChapterError):
		return BookError
	default:
		return BookPending
	}
}

// Label renders a book status, adding "[i of n]" while a walk is running.
func Label(s BookStatus, p *Progress) string {
	if s == BookInProgress && p != nil && p.Total > 0 {
		return fmt.Sprintf("%s [%d of %d]", s, p.VerseIndex, p.Total)
	}
	return s.String()
}

// WalkMarker is the persisted walk information the aggregator consumes.
type WalkMarker struct {
	Chapter    int
	Failed     bool
	Active     bool
	VerseIndex int
	Total      int
}

// ChapterReport is one chapter's rollup.
type ChapterReport struct {
	Chapter int           `json:"chapter"`
	Status  ChapterStatus `json:"status"`
	Counts  ChapterCounts `json:"counts"`
}

// BookReport is a book's rollup with its side index.
type BookReport struct {
	Book     string          `json:"book"`
	Status   BookStatus      `json:"status"`
	Label    string          `json:"label"`
	Chapters []ChapterReport `json:"chapters"`
	Index    Index           `json:"index"`
}

// Index groups chapter numbers by status bucket for listing. It is
// rebuilt from the reports and never read back as a source of truth.
type Index struct {
	Completed  []int `json:"completed"`
	Converted  []int `json:"converted"`
	InProgress []int `json:"in_progress"`
	Approved   []int `json:"approved"`
	Failed     []int `json:"failed"`
}

func buildIndex(chapters []ChapterReport) Index {
	idx := Index{
		Completed:  []int{},
		Converted:  []int{},
		InProgress: []int{},
		Approved:   []int{},
		Failed:     []int{},
	}
	for _, c := range chapters {
		switch c.Status {
		case ChapterTranscribed:
			idx.Completed = append(idx.Completed, c.Chapter)
		case ChapterConverted:
			idx.Completed = append(idx.Completed, c.Chapter)
			idx.Converted = append(idx.Converted, c.Chapter)
		case ChapterApproved:
			idx.Completed = append(idx.Completed, c.Chapter)
			idx.Approved = append(idx.Approved, c.Chapter)
		case ChapterInProgress:
			idx.InProgress = append(idx.InProgress, c.Chapter)
		case ChapterFailed, ChapterError:
			idx.Failed = append(idx.Failed, c.Chapter)
		case ChapterPending:
		}
	}
	return idx
}

// AggregateBook reads a book's records from s and rolls them up.
// A read failure marks every chapter Error rather than returning an error.
func AggregateBook(ctx context.Context, s store.Store, book *manifest.Book, walks []WalkMarker) BookReport {
	records := make(map[string]store.VerseRecord)
	recs, err := store.LoadBook(ctx, s, book.Code)
	readFailed := err != nil
	for _, r := range recs {
		records[r.Key()] = r
	}

	byChapter := make(map[int]WalkMarker)
	var progress *Progress
	for _, w := range walks {
		m := byChapter[w.Chapter]
		m.Failed = m.Failed || w.Failed
		m.Active = m.Active || w.Active
		byChapter[w.Chapter] = m
		if w.Active {
			progress = &Progress{VerseIndex: w.VerseIndex, Total: w.Total}
		}
	}

	report := BookReport{Book: book.Code, Chapters: make([]ChapterReport, 0, len(book.Chapters))}
	statuses := make([]ChapterStatus, 0, len(book.Chapters))
	for _, ch := range book.Chapters {
		in := ChapterInput{
			Verses:  ch.IDs(book.Code),
			Records: records,
			Failed:  byChapter[ch.Number].Failed,
			Active:  byChapter[ch.Number].Active,
		}
		st := Chapter(in)
		if readFailed {
			st = ChapterError
		}
		statuses = append(statuses, st)
		report.Chapters = append(report.Chapters, ChapterReport{Chapter: ch.Number, Status: st, Counts: in.Count()})
	}
	sort.Slice(report.Chapters, func(i, j int) bool { return report.Chapters[i].Chapter < report.Chapters[j].Chapter })

	report.Status = Book(statuses)
	if readFailed {
		report.Status = BookError
	}
	report.Label = Label(report.Status, progress)
	report.Index = buildIndex(report.Chapters)
	return report
}
