package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/jackzampolin/scribe/internal/jobs"
	"github.com/jackzampolin/scribe/internal/manifest"
	"github.com/jackzampolin/scribe/internal/pipeline"
	"github.com/jackzampolin/scribe/internal/project"
	"github.com/jackzampolin/scribe/internal/providers"
	"github.com/jackzampolin/scribe/internal/store"
	"github.com/jackzampolin/scribe/internal/svcctx"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// json tag names in messages
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// decodeBody reads an optional JSON body into v and validates it.
// An empty body leaves v at its zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("invalid request body: %w", err)
		}
	}
	if err := getValidator().Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, project.ErrNotFound),
		errors.Is(err, jobs.ErrNotFound),
		errors.Is(err, pipeline.ErrUnknownVerse):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrWalkActive):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrNothingToDo),
		errors.Is(err, pipeline.ErrNoFailedWalk),
		errors.Is(err, pipeline.ErrNoText),
		errors.Is(err, errChapterNotReady):
		return http.StatusUnprocessableEntity
	case errors.Is(err, project.ErrInvalidArchive):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrQuotaExceeded):
		return http.StatusInsufficientStorage
	case errors.Is(err, providers.ErrNoProvider):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}

// loadProject resolves {id}. It writes the error response and returns
// false on failure.
func loadProject(w http.ResponseWriter, r *http.Request) (*project.Project, bool) {
	projects := svcctx.ProjectsFrom(r.Context())
	if projects == nil {
		writeError(w, http.StatusServiceUnavailable, "project service not initialized")
		return nil, false
	}
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "project id is required")
		return nil, false
	}
	p, err := projects.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return p, true
}

// loadBook resolves {id} and {book}.
func loadBook(w http.ResponseWriter, r *http.Request) (*project.Project, *manifest.Book, bool) {
	p, ok := loadProject(w, r)
	if !ok {
		return nil, nil, false
	}
	b, err := svcctx.ProjectsFrom(r.Context()).Book(p.ID, strings.ToUpper(r.PathValue("book")))
	if err != nil {
		writeErr(w, err)
		return nil, nil, false
	}
	return p, b, true
}

// pathInt parses a positive integer path value.
func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(r.PathValue(name))
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: %q", name, r.PathValue(name)))
		return 0, false
	}
	return n, true
}

// findVerseFile looks a verse up by its parsed chapter and verse numbers.
func findVerseFile(b *manifest.Book, chapter, verse int) (*manifest.VerseFile, bool) {
	for i := range b.Chapters {
		for j := range b.Chapters[i].Verses {
			vf := &b.Chapters[i].Verses[j]
			if vf.Chapter == chapter && vf.Verse == verse {
				return vf, true
			}
		}
	}
	return nil, false
}
