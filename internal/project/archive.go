package project

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jackzampolin/scribe/internal/audio"
	"github.com/jackzampolin/scribe/internal/identity"
	"github.com/jackzampolin/scribe/internal/manifest"
)

// ErrInvalidArchive is returned when an upload is not a readable zip or
// holds no verse audio.
var ErrInvalidArchive = errors.New("invalid project archive")

// Archive layouts.
const (
	// LayoutAudio is <project>/audio/ingredients/<BOOK>/<CH>/<file>.
	LayoutAudio = "audio"
	// LayoutFlat is <project>/ingredients/<BOOK>/<CH>/<file>.
	LayoutFlat = "flat"
)

// maxEntryBytes caps a single extracted file.
const maxEntryBytes = 512 << 20

// Warning codes.
const (
	WarnMissingFile    = "missing_file"
	WarnInvalidFile    = "invalid_file"
	WarnBadFilename    = "bad_filename"
	WarnBadChapter     = "bad_chapter"
	WarnVerseCount     = "verse_count"
	WarnUnknownChapter = "unknown_chapter"
)

// Warning is a non-fatal problem found while importing.
type Warning struct {
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// Archive is the parsed content of an uploaded project zip.
type Archive struct {
	// Root is the top-level directory inside the zip.
	Root     string
	Layout   string
	Metadata *Metadata
	Manifest *manifest.Manifest
	// Meta holds the raw metadata, versification, settings and license
	// files by base name, kept for export.
	Meta     map[string][]byte
	Warnings []Warning
}

func (a *Archive) warn(code, p, format string, args ...any) {
	a.Warnings = append(a.Warnings, Warning{Code: code, Path: p, Message: fmt.Sprintf(format, args...)})
}

// metaFiles are the non-audio files carried through import and export.
var metaFiles = map[string]bool{
	"metadata.json":        true,
	"versification.json":   true,
	"ag-settings.json":     true,
	"scribe-settings.json": true,
	"license.md":           true,
}

// ReadArchive extracts the verse audio of a project zip into dest as
// <BOOK>/<CH>/<file> and builds the manifest. Files whose names lack a
// <chapter>_<verse> prefix are skipped with a warning.
func ReadArchive(r io.ReaderAt, size int64, dest string) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if err := compileSchemas(); err != nil {
		return nil, fmt.Errorf("compile schemas: %w", err)
	}

	a := &Archive{Meta: map[string][]byte{}}
	books := map[string]map[int]*manifest.Chapter{}
	layouts := map[string]bool{}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		parts := strings.Split(path.Clean(f.Name), "/")
		if len(parts) < 2 || parts[0] == "__MACOSX" || strings.HasPrefix(path.Base(f.Name), ".") {
			continue
		}
		if a.Root == "" {
			a.Root = parts[0]
		}

		base := strings.ToLower(parts[len(parts)-1])
		if metaFiles[base] {
			if _, seen := a.Meta[base]; seen {
				continue
			}
			data, err := readEntry(f)
			if err != nil {
				a.warn(WarnInvalidFile, f.Name, "read: %v", err)
				continue
			}
			a.Meta[base] = data
			continue
		}
		if !audio.IsAudioFile(base) {
			continue
		}

		var rest []string
		switch {
		case len(parts) == 6 && parts[1] == "audio" && parts[2] == "ingredients":
			rest = parts[3:]
			layouts[LayoutAudio] = true
		case len(parts) == 5 && parts[1] == "ingredients":
			rest = parts[2:]
			layouts[LayoutFlat] = true
		default:
			continue
		}
		book, chDir, name := strings.ToUpper(rest[0]), rest[1], rest[2]
		if !identity.ValidBook(book) || book == "." || book == ".." {
			a.warn(WarnBadFilename, f.Name, "invalid book directory %q", rest[0])
			continue
		}
		dirNum, err := strconv.Atoi(chDir)
		if err != nil {
			a.warn(WarnBadChapter, f.Name, "chapter directory %q is not a number", chDir)
			continue
		}
		cv, ok := identity.ExtractChapterVerse(name)
		if !ok {
			a.warn(WarnBadFilename, f.Name, "filename has no <chapter>_<verse> prefix")
			continue
		}

		out := filepath.Join(dest, book, strconv.Itoa(dirNum), name)
		if err := extractEntry(f, out); err != nil {
			return nil, fmt.Errorf("extract %s: %w", f.Name, err)
		}

		chapters, ok := books[book]
		if !ok {
			chapters = map[int]*manifest.Chapter{}
			books[book] = chapters
		}
		ch, ok := chapters[dirNum]
		if !ok {
			ch = &manifest.Chapter{Number: dirNum}
			chapters[dirNum] = ch
		}
		ch.Verses = append(ch.Verses, manifest.VerseFile{
			Chapter:  cv.Chapter,
			Verse:    cv.Verse,
			Filename: name,
			Path:     out,
		})
	}

	if len(books) == 0 {
		return nil, fmt.Errorf("%w: no verse audio under ingredients", ErrInvalidArchive)
	}
	a.Layout = LayoutAudio
	if layouts[LayoutFlat] && !layouts[LayoutAudio] {
		a.Layout = LayoutFlat
	}

	m := &manifest.Manifest{}
	for code, chapters := range books {
		b := manifest.Book{Code: code}
		for _, ch := range chapters {
			b.Chapters = append(b.Chapters, *ch)
		}
		m.Books = append(m.Books, b)
	}
	for _, w := range a.Warnings {
		if w.Code == WarnBadFilename || w.Code == WarnBadChapter {
			m.Skipped = append(m.Skipped, w.Path)
		}
	}
	m.Sort()
	a.Manifest = m

	a.applyMetadata()
	a.applyVersification()
	return a, nil
}

func (a *Archive) applyMetadata() {
	raw, ok := a.Meta["metadata.json"]
	if !ok {
		a.warn(WarnMissingFile, "metadata.json", "metadata.json not found; book names and language unknown")
		a.Metadata = &Metadata{Name: a.Root, Names: map[string]manifest.Names{}}
		return
	}
	if err := validateJSON(metadataSchema, raw); err != nil {
		a.warn(WarnInvalidFile, "metadata.json", "%v", err)
	}
	md, err := ParseMetadata(raw)
	if err != nil {
		a.warn(WarnInvalidFile, "metadata.json", "%v", err)
		md = &Metadata{Names: map[string]manifest.Names{}}
	}
	if md.Name == "" {
		md.Name = a.Root
	}
	a.Metadata = md
	for i := range a.Manifest.Books {
		b := &a.Manifest.Books[i]
		b.Names = md.Names[b.Code]
	}
}

func (a *Archive) applyVersification() {
	raw, ok := a.Meta["versification.json"]
	if !ok {
		a.warn(WarnMissingFile, "versification.json", "versification.json not found; verse counts not checked")
		return
	}
	if err := validateJSON(versificationSchema, raw); err != nil {
		a.warn(WarnInvalidFile, "versification.json", "%v", err)
	}
	vers, err := ParseVersification(raw)
	if err != nil {
		a.warn(WarnInvalidFile, "versification.json", "%v", err)
		return
	}
	for i := range a.Manifest.Books {
		b := &a.Manifest.Books[i]
		expected, ok := vers[b.Code]
		if !ok {
			continue
		}
		b.Expected = expected
		for _, ch := range b.Chapters {
			want, ok := expected[ch.Number]
			if !ok {
				a.warn(WarnUnknownChapter, fmt.Sprintf("%s/%d", b.Code, ch.Number),
					"chapter %d of %s is not in versification", ch.Number, b.Code)
				continue
			}
			if len(ch.Verses) != want {
				a.warn(WarnVerseCount, fmt.Sprintf("%s/%d", b.Code, ch.Number),
					"%s %d has %d verse files, versification expects %d", b.Code, ch.Number, len(ch.Verses), want)
			}
		}
	}
}

// SortedMetaNames returns the kept meta file names in order.
func (a *Archive) SortedMetaNames() []string {
	names := make([]string, 0, len(a.Meta))
	for n := range a.Meta {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxEntryBytes {
		return nil, fmt.Errorf("entry exceeds %d bytes", maxEntryBytes)
	}
	return data, nil
}

func extractEntry(f *zip.File, out string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	w, err := os.Create(out)
	if err != nil {
		return err
	}
	n, err := io.Copy(w, io.LimitReader(rc, maxEntryBytes+1))
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxEntryBytes {
		err = fmt.Errorf("entry exceeds %d bytes", maxEntryBytes)
	}
	if err != nil {
		os.Remove(out)
	}
	return err
}
