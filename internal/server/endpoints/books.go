package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scribe/internal/api"
	"github.com/jackzampolin/scribe/internal/manifest"
	"github.com/jackzampolin/scribe/internal/pipeline"
	"github.com/jackzampolin/scribe/internal/status"
	"github.com/jackzampolin/scribe/internal/store"
	"github.com/jackzampolin/scribe/internal/svcctx"
)

// bookReport aggregates a book using the orchestrator's walk markers.
func bookReport(r *http.Request, projectID string, b *manifest.Book, st store.Store) status.BookReport {
	ctx := r.Context()
	var markers []status.WalkMarker
	if orch := svcctx.OrchestratorFrom(ctx); orch != nil {
		m, err := orch.Markers(ctx, projectID, b.Code)
		if err != nil {
			svcctx.LoggerFrom(ctx).Warn("failed to load walk markers", "project_id", projectID, "book", b.Code, "error", err)
		}
		markers = m
	}
	return status.AggregateBook(ctx, st, b, markers)
}

// BookResponse is a book's status with its names and current walk.
type BookResponse struct {
	status.BookReport
	Names    manifest.Names      `json:"names"`
	Expected map[int]int         `json:"expected,omitempty"`
	Walk     *pipeline.WalkState `json:"walk,omitempty"`
}

// GetBookEndpoint handles GET /api/projects/{id}/books/{book}.
type GetBookEndpoint struct{}

func (e *GetBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/projects/{id}/books/{book}", e.handler
}

func (e *GetBookEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Book status with chapter statuses and side index
//	@Tags		books
//	@Produce	json
//	@Param		id		path		string	true	"Project ID"
//	@Param		book	path		string	true	"Book code"
//	@Success	200		{object}	BookResponse
//	@Failure	404		{object}	ErrorResponse
//	@Router		/api/projects/{id}/books/{book} [get]
func (e *GetBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	p, b, ok := loadBook(w, r)
	if !ok {
		return
	}
	st := svcctx.StoresFrom(r.Context()).Open(p.ID)
	resp := BookResponse{
		BookReport: bookReport(r, p.ID, b, st),
		Names:      b.Names,
		Expected:   b.Expected,
	}
	if orch := svcctx.OrchestratorFrom(r.Context()); orch != nil {
		if ws, ok := orch.State(p.ID, b.Code); ok {
			resp.Walk = &ws
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *GetBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <project_id> <book>",
		Short: "Get a book's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp BookResponse
			if err := client.Get(cmd.Context(), fmt.Sprintf("/api/projects/%s/books/%s", args[0], args[1]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// VerseView is one verse file joined with its record.
type VerseView struct {
	Chapter        int    `json:"chapter"`
	Verse          int    `json:"verse"`
	Filename       string `json:"filename"`
	Text           string `json:"text"`
	Approved       bool   `json:"approved"`
	Transcribed    bool   `json:"transcribed"`
	Converted      bool   `json:"converted"`
	GeneratedAudio string `json:"generated_audio,omitempty"`
}

// ChapterResponse lists a chapter's verses.
type ChapterResponse struct {
	Book    string               `json:"book"`
	Chapter int                  `json:"chapter"`
	Status  status.ChapterStatus `json:"status"`
	Verses  []VerseView          `json:"verses"`
}

// GetChapterEndpoint handles GET /api/projects/{id}/books/{book}/chapters/{chapter}.
type GetChapterEndpoint struct{}

func (e *GetChapterEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/projects/{id}/books/{book}/chapters/{chapter}", e.handler
}

func (e *GetChapterEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Verse records of one chapter
//	@Tags		books
//	@Produce	json
//	@Param		id		path		string	true	"Project ID"
//	@Param		book	path		string	true	"Book code"
//	@Param		chapter	path		int		true	"Chapter number"
//	@Success	200		{object}	ChapterResponse
//	@Failure	404		{object}	ErrorResponse
//	@Router		/api/projects/{id}/books/{book}/chapters/{chapter} [get]
func (e *GetChapterEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	p, b, ok := loadBook(w, r)
	if !ok {
		return
	}
	n, ok := pathInt(w, r, "chapter")
	if !ok {
		return
	}
	ch, _, found := b.Chapter(n)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("chapter %d not found in %s", n, b.Code))
		return
	}

	ctx := r.Context()
	st := svcctx.StoresFrom(ctx).Open(p.ID)
	report := bookReport(r, p.ID, b, st)
	resp := ChapterResponse{Book: b.Code, Chapter: n, Verses: make([]VerseView, 0, len(ch.Verses))}
	for _, c := range report.Chapters {
		if c.Chapter == n {
			resp.Status = c.Status
		}
	}
	for _, vf := range ch.Verses {
		rec, err := st.Get(ctx, vf.ID(b.Code).Key())
		if err != nil {
			writeErr(w, err)
			return
		}
		v := VerseView{Chapter: vf.Chapter, Verse: vf.Verse, Filename: vf.Filename}
		if rec != nil {
			v.Text = rec.TranscribedText
			v.Approved = rec.IsApproved
			v.Transcribed = rec.Transcribed()
			v.Converted = rec.Converted()
			v.GeneratedAudio = rec.GeneratedAudio
		}
		resp.Verses = append(resp.Verses, v)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *GetChapterEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "chapter <project_id> <book> <chapter>",
		Short: "List the verses of a chapter",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ChapterResponse
			path := fmt.Sprintf("/api/projects/%s/books/%s/chapters/%s", args[0], args[1], args[2])
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
