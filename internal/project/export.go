package project

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jackzampolin/scribe/internal/manifest"
	"github.com/jackzampolin/scribe/internal/store"
	"github.com/jackzampolin/scribe/internal/usfm"
)

const (
	textIngredients  = "text-1/ingredients"
	audioIngredients = "audio/ingredients"
)

// exportedMeta are copied under both ingredients directories.
var exportedMeta = []string{"versification.json", "scribe-settings.json", "ag-settings.json", "license.md"}

// WriteUSFM renders one book's transcribed text.
func (s *Service) WriteUSFM(ctx context.Context, w io.Writer, id, book string, st store.Store) error {
	b, err := s.Book(id, book)
	if err != nil {
		return err
	}
	recs, err := store.LoadBook(ctx, st, b.Code)
	if err != nil {
		return err
	}
	return usfm.Write(w, usfm.Header{Code: b.Code, Names: b.Names}, recs)
}

// Export writes the project as a zip: USFM text per book under text-1,
// verse audio under audio/ingredients (generated audio when present,
// the imported recording otherwise) and the kept meta files.
func (s *Service) Export(ctx context.Context, w io.Writer, id string, st store.Store) error {
	m, err := s.Manifest(id)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(w)

	if md, err := s.Meta(id, "metadata.json"); err != nil {
		return err
	} else if md != nil {
		for _, name := range []string{"metadata.json", "text-1/metadata.json"} {
			if err := writeZipFile(zw, name, md); err != nil {
				return err
			}
		}
	}
	for _, name := range exportedMeta {
		data, err := s.Meta(id, name)
		if err != nil {
			return err
		}
		if data == nil {
			continue
		}
		for _, dir := range []string{textIngredients, audioIngredients} {
			if err := writeZipFile(zw, path.Join(dir, name), data); err != nil {
				return err
			}
		}
	}

	for i := range m.Books {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := &m.Books[i]
		recs, err := store.LoadBook(ctx, st, b.Code)
		if err != nil {
			return fmt.Errorf("load %s: %w", b.Code, err)
		}
		if hasText(recs) {
			fw, err := zw.Create(path.Join(textIngredients, b.Code+".usfm"))
			if err != nil {
				return err
			}
			if err := usfm.Write(fw, usfm.Header{Code: b.Code, Names: b.Names}, recs); err != nil {
				return err
			}
		}
		if err := s.exportAudio(zw, b, recs); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return err
	}
	s.logger.Info("project exported", "project_id", id, "books", len(m.Books))
	return nil
}

func (s *Service) exportAudio(zw *zip.Writer, b *manifest.Book, recs []store.VerseRecord) error {
	byKey := make(map[string]store.VerseRecord, len(recs))
	for _, r := range recs {
		byKey[r.Key()] = r
	}
	for _, ch := range b.Chapters {
		for _, vf := range ch.Verses {
			src, ext := vf.Path, strings.TrimPrefix(filepath.Ext(vf.Filename), ".")
			if r, ok := byKey[vf.ID(b.Code).Key()]; ok && r.Converted() {
				if _, err := os.Stat(r.GeneratedAudio); err == nil {
					src, ext = r.GeneratedAudio, r.GeneratedFormat
				} else {
					s.logger.Warn("generated audio missing, exporting source", "book", b.Code, "chapter", vf.Chapter, "verse", vf.Verse, "error", err)
				}
			}
			name := path.Join(audioIngredients, b.Code, fmt.Sprint(vf.Chapter), fmt.Sprintf("%d_%d.%s", vf.Chapter, vf.Verse, ext))
			if err := copyToZip(zw, name, src); err != nil {
				return fmt.Errorf("export %s: %w", name, err)
			}
		}
	}
	return nil
}

func hasText(recs []store.VerseRecord) bool {
	for _, r := range recs {
		if r.Transcribed() {
			return true
		}
	}
	return false
}

func writeZipFile(zw *zip.Writer, name string, data []byte) error {
	fw, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = fw.Write(data)
	return err
}

func copyToZip(zw *zip.Writer, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	fw, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(fw, f)
	return err
}
