package endpoints

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scribe/internal/api"
	"github.com/jackzampolin/scribe/internal/project"
	"github.com/jackzampolin/scribe/internal/status"
	"github.com/jackzampolin/scribe/internal/store"
	"github.com/jackzampolin/scribe/internal/svcctx"
)

// maxUploadMemory is how much of a multipart upload is held in memory
// before spilling to temp files.
const maxUploadMemory = 32 << 20

// UploadProjectEndpoint handles POST /api/projects.
type UploadProjectEndpoint struct{}

var _ api.Endpoint = (*UploadProjectEndpoint)(nil)

func (e *UploadProjectEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/projects", e.handler
}

func (e *UploadProjectEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Import a project archive
//	@Description	Upload a zipped project. Audio is extracted and a manifest built; problems that do not stop the import come back as warnings.
//	@Tags			projects
//	@Accept			mpfd
//	@Produce		json
//	@Param			file	formData	file	true	"Project zip"
//	@Success		201		{object}	project.ImportResult
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/projects [post]
func (e *UploadProjectEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	projects := svcctx.ProjectsFrom(r.Context())
	if projects == nil {
		writeError(w, http.StatusServiceUnavailable, "project service not initialized")
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	fh := r.MultipartForm.File["file"]
	if len(fh) == 0 {
		writeError(w, http.StatusBadRequest, "no file uploaded (field \"file\")")
		return
	}
	f, err := fh[0].Open()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to open upload: %v", err))
		return
	}
	defer f.Close()

	res, err := projects.Import(r.Context(), fh[0].Filename, f, fh[0].Size)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (e *UploadProjectEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <archive.zip>",
		Short: "Import a project archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			client := api.NewClient(getServerURL())
			var resp project.ImportResult
			if err := client.Upload(cmd.Context(), "/api/projects", filepath.Base(args[0]), f, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ProjectSummary is a project with its live walk flag.
type ProjectSummary struct {
	*project.Project
	Walking bool `json:"walking"`
}

// ListProjectsResponse is the response for listing projects.
type ListProjectsResponse struct {
	Projects []ProjectSummary `json:"projects"`
}

// ListProjectsEndpoint handles GET /api/projects.
type ListProjectsEndpoint struct{}

func (e *ListProjectsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/projects", e.handler
}

func (e *ListProjectsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	List projects
//	@Tags		projects
//	@Produce	json
//	@Success	200	{object}	ListProjectsResponse
//	@Failure	500	{object}	ErrorResponse
//	@Router		/api/projects [get]
func (e *ListProjectsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	projects := svcctx.ProjectsFrom(r.Context())
	if projects == nil {
		writeError(w, http.StatusServiceUnavailable, "project service not initialized")
		return
	}
	list, err := projects.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	orch := svcctx.OrchestratorFrom(r.Context())
	resp := ListProjectsResponse{Projects: make([]ProjectSummary, 0, len(list))}
	for _, p := range list {
		resp.Projects = append(resp.Projects, ProjectSummary{
			Project: p,
			Walking: orch != nil && orch.Active(p.ID),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListProjectsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListProjectsResponse
			if err := client.Get(cmd.Context(), "/api/projects", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ProjectDetail is a project with every book's rollup.
type ProjectDetail struct {
	*project.Project
	BookStatus []status.BookReport `json:"book_status"`
}

// GetProjectEndpoint handles GET /api/projects/{id}.
type GetProjectEndpoint struct{}

func (e *GetProjectEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/projects/{id}", e.handler
}

func (e *GetProjectEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Get a project with book statuses
//	@Tags		projects
//	@Produce	json
//	@Param		id	path		string	true	"Project ID"
//	@Success	200	{object}	ProjectDetail
//	@Failure	404	{object}	ErrorResponse
//	@Router		/api/projects/{id} [get]
func (e *GetProjectEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	p, ok := loadProject(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	m, err := svcctx.ProjectsFrom(ctx).Manifest(p.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	st := svcctx.StoresFrom(ctx).Open(p.ID)
	detail := ProjectDetail{Project: p, BookStatus: make([]status.BookReport, 0, len(m.Books))}
	for i := range m.Books {
		detail.BookStatus = append(detail.BookStatus, bookReport(r, p.ID, &m.Books[i], st))
	}
	writeJSON(w, http.StatusOK, detail)
}

func (e *GetProjectEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <project_id>",
		Short: "Get a project with book statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ProjectDetail
			if err := client.Get(cmd.Context(), "/api/projects/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// DeleteProjectResponse reports what a reset removed.
type DeleteProjectResponse struct {
	Deleted string `json:"deleted"`
	Walks   int    `json:"walks"`
}

// DeleteProjectEndpoint handles DELETE /api/projects/{id}.
type DeleteProjectEndpoint struct{}

func (e *DeleteProjectEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/projects/{id}", e.handler
}

func (e *DeleteProjectEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Delete a project
//	@Description	Removes verse records, walk records, the project record and its files. Refused while a walk is running.
//	@Tags			projects
//	@Produce		json
//	@Param			id	path		string	true	"Project ID"
//	@Success		200	{object}	DeleteProjectResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Router			/api/projects/{id} [delete]
func (e *DeleteProjectEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	p, ok := loadProject(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	logger := svcctx.LoggerFrom(ctx)

	if orch := svcctx.OrchestratorFrom(ctx); orch != nil {
		if err := orch.Forget(p.ID); err != nil {
			writeErr(w, err)
			return
		}
	}
	stores := svcctx.StoresFrom(ctx)
	if err := stores.Open(p.ID).Clear(ctx); err != nil {
		writeErr(w, err)
		return
	}
	if f, ok := stores.(store.Forgetter); ok {
		f.Forget(p.ID)
	}
	resp := DeleteProjectResponse{Deleted: p.ID}
	if walks := svcctx.WalksFrom(ctx); walks != nil {
		n, err := walks.DeleteForProject(ctx, p.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		resp.Walks = n
	}
	if err := svcctx.ProjectsFrom(ctx).Delete(ctx, p.ID); err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("project reset", "project_id", p.ID, "walks", resp.Walks)
	writeJSON(w, http.StatusOK, resp)
}

func (e *DeleteProjectEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project_id>",
		Short: "Delete a project and everything produced for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp DeleteProjectResponse
			if err := client.Delete(cmd.Context(), "/api/projects/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
