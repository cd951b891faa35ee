package endpoints

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scribe/internal/api"
	"github.com/jackzampolin/scribe/internal/svcctx"
)

// USFMEndpoint handles GET /api/projects/{id}/books/{book}/usfm.
type USFMEndpoint struct{}

func (e *USFMEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/projects/{id}/books/{book}/usfm", e.handler
}

func (e *USFMEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Download a book as USFM
//	@Tags		exports
//	@Produce	plain
//	@Param		id		path		string	true	"Project ID"
//	@Param		book	path		string	true	"Book code"
//	@Success	200		{string}	string	"USFM text"
//	@Failure	404		{object}	ErrorResponse
//	@Router		/api/projects/{id}/books/{book}/usfm [get]
func (e *USFMEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	p, b, ok := loadBook(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	var buf bytes.Buffer
	if err := svcctx.ProjectsFrom(ctx).WriteUSFM(ctx, &buf, p.ID, b.Code, svcctx.StoresFrom(ctx).Open(p.ID)); err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", b.Code+".usfm"))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (e *USFMEndpoint) Command(getServerURL func() string) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "usfm <project_id> <book>",
		Short: "Download a book's text as USFM",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/projects/%s/books/%s/usfm", args[0], strings.ToUpper(args[1]))
			return download(cmd, getServerURL(), path, output)
		},
	}
	cmd.Flags().StringVarP(&output, "file", "f", "", "Write to this file instead of stdout")
	return cmd
}

// ExportEndpoint handles GET /api/projects/{id}/export.
type ExportEndpoint struct{}

func (e *ExportEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/projects/{id}/export", e.handler
}

func (e *ExportEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Export a project
//	@Description	Zip with USFM text, verse audio and project meta files.
//	@Tags			exports
//	@Produce		application/zip
//	@Param			id	path		string	true	"Project ID"
//	@Success		200	{file}		file	"Project archive"
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/projects/{id}/export [get]
func (e *ExportEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	p, ok := loadProject(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	logger := svcctx.LoggerFrom(ctx)

	dir := os.TempDir()
	if h := svcctx.HomeFrom(ctx); h != nil {
		dir = filepath.Join(h.ExportsDir(), p.ID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create export dir: %v", err))
		return
	}
	name := exportName(p.Name)
	out := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create export file: %v", err))
		return
	}
	err = svcctx.ProjectsFrom(ctx).Export(ctx, tmp, p.ID, svcctx.StoresFrom(ctx).Open(p.ID))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), out)
	}
	if err != nil {
		os.Remove(tmp.Name())
		logger.Error("export failed", "project_id", p.ID, "error", err)
		writeErr(w, err)
		return
	}
	logger.Info("project exported", "project_id", p.ID, "path", out)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, out)
}

func (e *ExportEndpoint) Command(getServerURL func() string) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <project_id>",
		Short: "Download a project archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = args[0] + ".zip"
			}
			return download(cmd, getServerURL(), fmt.Sprintf("/api/projects/%s/export", args[0]), output)
		},
	}
	cmd.Flags().StringVarP(&output, "file", "f", "", "Destination file (default: <project_id>.zip)")
	return cmd
}

// exportName turns a project name into a safe zip filename.
func exportName(projectName string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '"' || r < 0x20:
			return '_'
		}
		return r
	}, strings.TrimSpace(projectName))
	if name == "" {
		name = "project"
	}
	return name + ".zip"
}

func download(cmd *cobra.Command, serverURL, path, output string) error {
	var w io.Writer = cmd.OutOrStdout()
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := api.NewClient(serverURL).Download(cmd.Context(), path, w); err != nil {
		return err
	}
	if output != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
	}
	return nil
}
