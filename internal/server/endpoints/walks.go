package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scribe/internal/api"
	"github.com/jackzampolin/scribe/internal/jobs"
	"github.com/jackzampolin/scribe/internal/pipeline"
	"github.com/jackzampolin/scribe/internal/svcctx"
)

// TranscribeRequest starts a transcription walk. Without a start position
// the walk begins at the first verse that has no text yet.
type TranscribeRequest struct {
	Chapter  int    `json:"chapter,omitempty" validate:"min=0"`
	Verse    int    `json:"verse,omitempty" validate:"min=0,excluded_without=Chapter"`
	Language string `json:"language,omitempty" validate:"omitempty,max=16"`
}

// TranscribeEndpoint handles POST /api/projects/{id}/books/{book}/transcribe.
type TranscribeEndpoint struct{}

func (e *TranscribeEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/projects/{id}/books/{book}/transcribe", e.handler
}

func (e *TranscribeEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Start a transcription walk
//	@Description	Walks the book verse by verse from the start position. Returns immediately with the walk state.
//	@Tags			walks
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Project ID"
//	@Param			book	path		string				true	"Book code"
//	@Param			request	body		TranscribeRequest	false	"Start position and language"
//	@Success		202		{object}	pipeline.WalkState
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Router			/api/projects/{id}/books/{book}/transcribe [post]
func (e *TranscribeEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req TranscribeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, b, ok := loadBook(w, r)
	if !ok {
		return
	}
	lang := req.Language
	if lang == "" {
		lang = p.Language
	}
	startWalk(w, r, pipeline.StartRequest{
		ProjectID: p.ID,
		Book:      b,
		Language:  lang,
		Direction: jobs.DirectionTranscription,
		Chapter:   req.Chapter,
		Verse:     req.Verse,
	})
}

func (e *TranscribeEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req TranscribeRequest
	cmd := &cobra.Command{
		Use:   "transcribe <project_id> <book>",
		Short: "Start a transcription walk",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postWalk(cmd, getServerURL(), args[0], args[1], "transcribe", req)
		},
	}
	cmd.Flags().IntVar(&req.Chapter, "chapter", 0, "Chapter to start at")
	cmd.Flags().IntVar(&req.Verse, "verse", 0, "Verse to start at (requires --chapter)")
	cmd.Flags().StringVar(&req.Language, "language", "", "Source language code (default: project language)")
	return cmd
}

// SynthesizeRequest starts a synthesis walk over one chapter, or over
// the rest of the book when WholeBook is set.
type SynthesizeRequest struct {
	Chapter   int    `json:"chapter,omitempty" validate:"required_unless=WholeBook true,min=0"`
	Language  string `json:"language,omitempty" validate:"omitempty,max=16"`
	WholeBook bool   `json:"whole_book,omitempty"`
}

// SynthesizeEndpoint handles POST /api/projects/{id}/books/{book}/synthesize.
type SynthesizeEndpoint struct{}

func (e *SynthesizeEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/projects/{id}/books/{book}/synthesize", e.handler
}

func (e *SynthesizeEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Start a synthesis walk
//	@Tags		walks
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string				true	"Project ID"
//	@Param		book	path		string				true	"Book code"
//	@Param		request	body		SynthesizeRequest	true	"Chapter and language"
//	@Success	202		{object}	pipeline.WalkState
//	@Failure	400		{object}	ErrorResponse
//	@Failure	404		{object}	ErrorResponse
//	@Failure	409		{object}	ErrorResponse
//	@Failure	422		{object}	ErrorResponse
//	@Router		/api/projects/{id}/books/{book}/synthesize [post]
func (e *SynthesizeEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req SynthesizeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, b, ok := loadBook(w, r)
	if !ok {
		return
	}
	lang := req.Language
	if lang == "" {
		lang = p.Language
	}
	startWalk(w, r, pipeline.StartRequest{
		ProjectID:     p.ID,
		Book:          b,
		Language:      lang,
		Direction:     jobs.DirectionSynthesis,
		Chapter:       req.Chapter,
		SingleChapter: !req.WholeBook,
	})
}

func (e *SynthesizeEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req SynthesizeRequest
	cmd := &cobra.Command{
		Use:   "synthesize <project_id> <book>",
		Short: "Start a synthesis walk",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postWalk(cmd, getServerURL(), args[0], args[1], "synthesize", req)
		},
	}
	cmd.Flags().IntVar(&req.Chapter, "chapter", 0, "Chapter to synthesize")
	cmd.Flags().BoolVar(&req.WholeBook, "whole-book", false, "Continue past the chapter to the end of the book")
	cmd.Flags().StringVar(&req.Language, "language", "", "Target language code (default: project language)")
	return cmd
}

// RetryRequest resumes a failed walk.
type RetryRequest struct {
	Language string `json:"language,omitempty" validate:"omitempty,max=16"`
}

// RetryEndpoint handles POST /api/projects/{id}/books/{book}/retry.
type RetryEndpoint struct{}

func (e *RetryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/projects/{id}/books/{book}/retry", e.handler
}

func (e *RetryEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Retry the failed walk
//	@Description	Re-enters the book's last failed or interrupted walk at the verse that failed.
//	@Tags			walks
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Project ID"
//	@Param			book	path		string			true	"Book code"
//	@Param			request	body		RetryRequest	false	"Language override"
//	@Success		202		{object}	pipeline.WalkState
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Router			/api/projects/{id}/books/{book}/retry [post]
func (e *RetryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req RetryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, b, ok := loadBook(w, r)
	if !ok {
		return
	}
	orch := svcctx.OrchestratorFrom(r.Context())
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator not initialized")
		return
	}
	state, err := orch.Retry(r.Context(), pipeline.RetryRequest{ProjectID: p.ID, Book: b, Language: req.Language})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, state)
}

func (e *RetryEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req RetryRequest
	cmd := &cobra.Command{
		Use:   "retry <project_id> <book>",
		Short: "Retry a failed walk at the verse that failed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postWalk(cmd, getServerURL(), args[0], args[1], "retry", req)
		},
	}
	cmd.Flags().StringVar(&req.Language, "language", "", "Language override")
	return cmd
}

func startWalk(w http.ResponseWriter, r *http.Request, req pipeline.StartRequest) {
	orch := svcctx.OrchestratorFrom(r.Context())
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator not initialized")
		return
	}
	state, err := orch.Start(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, state)
}

func postWalk(cmd *cobra.Command, serverURL, projectID, book, action string, body any) error {
	client := api.NewClient(serverURL)
	var resp pipeline.WalkState
	path := fmt.Sprintf("/api/projects/%s/books/%s/%s", projectID, strings.ToUpper(book), action)
	if err := client.Post(cmd.Context(), path, body, &resp); err != nil {
		return err
	}
	return api.Output(resp)
}

// ListWalksResponse lists persisted walk records and live walk states.
type ListWalksResponse struct {
	Walks  []*jobs.Record       `json:"walks"`
	Active []pipeline.WalkState `json:"active"`
}

// ListWalksEndpoint handles GET /api/projects/{id}/walks.
type ListWalksEndpoint struct{}

func (e *ListWalksEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/projects/{id}/walks", e.handler
}

func (e *ListWalksEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List walk records
//	@Description	Persisted walk records, newest first. Failed and interrupted records are resume hints for retry.
//	@Tags			walks
//	@Produce		json
//	@Param			id		path		string	true	"Project ID"
//	@Param			book	query		string	false	"Filter by book"
//	@Param			status	query		string	false	"Filter by status"
//	@Param			limit	query		int		false	"Maximum records"
//	@Success		200		{object}	ListWalksResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/projects/{id}/walks [get]
func (e *ListWalksEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	p, ok := loadProject(w, r)
	if !ok {
		return
	}
	walks := svcctx.WalksFrom(r.Context())
	if walks == nil {
		writeError(w, http.StatusServiceUnavailable, "walk records not initialized")
		return
	}
	q := r.URL.Query()
	filter := jobs.ListFilter{
		ProjectID: p.ID,
		Book:      strings.ToUpper(q.Get("book")),
		Status:    jobs.Status(q.Get("status")),
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	recs, err := walks.List(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	resp := ListWalksResponse{Walks: recs, Active: []pipeline.WalkState{}}
	if resp.Walks == nil {
		resp.Walks = []*jobs.Record{}
	}
	if orch := svcctx.OrchestratorFrom(r.Context()); orch != nil {
		for _, st := range orch.States(p.ID) {
			if st.Active {
				resp.Active = append(resp.Active, st)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListWalksEndpoint) Command(getServerURL func() string) *cobra.Command {
	var book, status string
	cmd := &cobra.Command{
		Use:   "walks <project_id>",
		Short: "List walk records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/projects/%s/walks", args[0])
			params := url.Values{}
			if book != "" {
				params.Set("book", book)
			}
			if status != "" {
				params.Set("status", status)
			}
			if len(params) > 0 {
				path += "?" + params.Encode()
			}
			client := api.NewClient(getServerURL())
			var resp ListWalksResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&book, "book", "", "Filter by book")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	return cmd
}

// NotificationsResponse is the notification feed.
type NotificationsResponse struct {
	Notifications []pipeline.Notification `json:"notifications"`
}

// NotificationsEndpoint handles GET /api/projects/{id}/notifications.
type NotificationsEndpoint struct{}

func (e *NotificationsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/projects/{id}/notifications", e.handler
}

func (e *NotificationsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Notification feed
//	@Tags		walks
//	@Produce	json
//	@Param		id		path		string	true	"Project ID"
//	@Param		since	query		int		false	"Only entries with a greater seq"
//	@Success	200		{object}	NotificationsResponse
//	@Router		/api/projects/{id}/notifications [get]
func (e *NotificationsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	orch := svcctx.OrchestratorFrom(r.Context())
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator not initialized")
		return
	}
	var since int64
	if s := r.URL.Query().Get("since"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		since = n
	}
	writeJSON(w, http.StatusOK, NotificationsResponse{
		Notifications: orch.Notifications().List(r.PathValue("id"), since),
	})
}

func (e *NotificationsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var since int64
	cmd := &cobra.Command{
		Use:   "notifications <project_id>",
		Short: "Show walk notifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp NotificationsResponse
			path := fmt.Sprintf("/api/projects/%s/notifications?since=%d", args[0], since)
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "Only notifications after this sequence number")
	return cmd
}
