package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scribe/internal/api"
	"github.com/jackzampolin/scribe/internal/store"
	"github.com/jackzampolin/scribe/internal/svcctx"
	"github.com/jackzampolin/scribe/internal/usfm"
)

var errChapterNotReady = errors.New("chapter has verses without text")

// EditVerseRequest replaces a verse's text.
type EditVerseRequest struct {
	Text string `json:"text" validate:"required"`
}

// EditVerseEndpoint handles PUT /api/projects/{id}/books/{book}/chapters/{chapter}/verses/{verse}.
type EditVerseEndpoint struct{}

func (e *EditVerseEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/projects/{id}/books/{book}/chapters/{chapter}/verses/{verse}", e.handler
}

func (e *EditVerseEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Edit a verse's text
//	@Description	Stores the text and clears the verse's approval.
//	@Tags			verses
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Project ID"
//	@Param			book	path		string				true	"Book code"
//	@Param			chapter	path		int					true	"Chapter number"
//	@Param			verse	path		int					true	"Verse number"
//	@Param			request	body		EditVerseRequest	true	"New text"
//	@Success		200		{object}	store.VerseRecord
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/projects/{id}/books/{book}/chapters/{chapter}/verses/{verse} [put]
func (e *EditVerseEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req EditVerseRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, b, ok := loadBook(w, r)
	if !ok {
		return
	}
	ch, ok := pathInt(w, r, "chapter")
	if !ok {
		return
	}
	v, ok := pathInt(w, r, "verse")
	if !ok {
		return
	}
	vf, found := findVerseFile(b, ch, v)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("verse %s %d:%d not found", b.Code, ch, v))
		return
	}
	ctx := r.Context()
	if walkRunning(w, r, p.ID, b.Code) {
		return
	}
	text := usfm.FoldText(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is empty")
		return
	}
	rec, err := store.Update(ctx, svcctx.StoresFrom(ctx).Open(p.ID), vf.ID(b.Code), func(rec *store.VerseRecord) {
		if rec.SourceAudio == "" {
			rec.SourceAudio = vf.Path
		}
		rec.TranscribedText = text
		rec.IsApproved = false
		rec.LastUpdated = time.Now().UTC()
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	svcctx.LoggerFrom(ctx).Info("verse edited", "project_id", p.ID, "key", rec.Key())
	writeJSON(w, http.StatusOK, rec)
}

func (e *EditVerseEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <project_id> <book> <chapter> <verse> <text>",
		Short: "Replace a verse's text",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp store.VerseRecord
			path := fmt.Sprintf("/api/projects/%s/books/%s/chapters/%s/verses/%s", args[0], args[1], args[2], args[3])
			if err := client.Put(cmd.Context(), path, EditVerseRequest{Text: args[4]}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ApprovalRequest sets a chapter's approval.
type ApprovalRequest struct {
	Approved bool `json:"approved"`
}

// ApprovalResponse reports how many verses changed.
type ApprovalResponse struct {
	Book     string `json:"book"`
	Chapter  int    `json:"chapter"`
	Approved bool   `json:"approved"`
	Verses   int    `json:"verses"`
}

// ChapterApprovalEndpoint handles PUT /api/projects/{id}/books/{book}/chapters/{chapter}/approval.
type ChapterApprovalEndpoint struct{}

func (e *ChapterApprovalEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/projects/{id}/books/{book}/chapters/{chapter}/approval", e.handler
}

func (e *ChapterApprovalEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Approve or unapprove a chapter
//	@Description	Approval needs text on every verse of the chapter.
//	@Tags			verses
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Project ID"
//	@Param			book	path		string			true	"Book code"
//	@Param			chapter	path		int				true	"Chapter number"
//	@Param			request	body		ApprovalRequest	true	"Approval flag"
//	@Success		200		{object}	ApprovalResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Router			/api/projects/{id}/books/{book}/chapters/{chapter}/approval [put]
func (e *ChapterApprovalEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ApprovalRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
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

	if walkRunning(w, r, p.ID, b.Code) {
		return
	}

	ctx := r.Context()
	st := svcctx.StoresFrom(ctx).Open(p.ID)
	if req.Approved {
		for _, vf := range ch.Verses {
			rec, err := st.Get(ctx, vf.ID(b.Code).Key())
			if err != nil {
				writeErr(w, err)
				return
			}
			if rec == nil || !rec.Transcribed() {
				writeErr(w, fmt.Errorf("%w: %s %d:%d", errChapterNotReady, b.Code, vf.Chapter, vf.Verse))
				return
			}
		}
	}

	resp := ApprovalResponse{Book: b.Code, Chapter: n, Approved: req.Approved}
	now := time.Now().UTC()
	for _, vf := range ch.Verses {
		key := vf.ID(b.Code).Key()
		rec, err := st.Get(ctx, key)
		if err != nil {
			writeErr(w, err)
			return
		}
		if rec == nil || rec.IsApproved == req.Approved {
			continue
		}
		rec.IsApproved = req.Approved
		rec.LastUpdated = now
		if err := st.Set(ctx, key, *rec); err != nil {
			writeErr(w, err)
			return
		}
		resp.Verses++
	}
	svcctx.LoggerFrom(ctx).Info("chapter approval set",
		"project_id", p.ID, "book", b.Code, "chapter", n, "approved", req.Approved, "verses", resp.Verses)
	writeJSON(w, http.StatusOK, resp)
}

func (e *ChapterApprovalEndpoint) Command(getServerURL func() string) *cobra.Command {
	var revoke bool
	cmd := &cobra.Command{
		Use:   "approve <project_id> <book> <chapter>",
		Short: "Approve every verse of a chapter",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ApprovalResponse
			path := fmt.Sprintf("/api/projects/%s/books/%s/chapters/%s/approval", args[0], args[1], args[2])
			if err := client.Put(cmd.Context(), path, ApprovalRequest{Approved: !revoke}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "Clear approval instead")
	return cmd
}

// walkRunning writes a 409 and reports true while the book has an active
// walk. Verse writes from a walk would race with the request's own.
func walkRunning(w http.ResponseWriter, r *http.Request, projectID, book string) bool {
	orch := svcctx.OrchestratorFrom(r.Context())
	if orch == nil {
		return false
	}
	if st, ok := orch.State(projectID, book); ok && st.Active {
		writeError(w, http.StatusConflict, "a walk is running for this book")
		return true
	}
	return false
}
