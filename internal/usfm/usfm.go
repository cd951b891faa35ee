// Package usfm renders transcribed verses as USFM 3.0 and reads verse
// text back out of it.
package usfm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jackzampolin/scribe/internal/manifest"
	"github.com/jackzampolin/scribe/internal/store"
)

// Header identifies the book.
type Header struct {
	Code  string
	Names manifest.Names
}

// Write renders a book. Records must be sorted by chapter then verse;
// records without text are left out.
func Write(w io.Writer, h Header, records []store.VerseRecord) error {
	bw := bufio.NewWriter(w)
	short := h.Names.Short
	if short == "" {
		short = h.Code
	}
	fmt.Fprintf(bw, "\\id %s\n\\usfm 3.0\n\\ide UTF-8\n", h.Code)
	fmt.Fprintf(bw, "\\h %s\n\\toc1 %s\n\\toc2 %s\n\\toc3 %s\n\\mt %s\n",
		short, h.Names.Abbr, short, h.Names.Long, h.Names.Abbr)

	chapter := -1
	for _, r := range records {
		if !r.Transcribed() {
			continue
		}
		if r.Chapter != chapter {
			fmt.Fprintf(bw, "\\c %d\n\\p\n", r.Chapter)
			chapter = r.Chapter
		}
		fmt.Fprintf(bw, "\\v %d %s\n", r.Verse, FoldText(r.TranscribedText))
	}
	return bw.Flush()
}

// Generate renders a book to a string.
func Generate(h Header, records []store.VerseRecord) string {
	var sb strings.Builder
	Write(&sb, h, records)
	return sb.String()
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// FoldText puts verse text on a single trimmed line, the form a \v line
// carries. Text is folded before it is stored so a written book parses
// back to the stored text unchanged.
func FoldText(text string) string {
	return strings.TrimSpace(lineBreaks.Replace(text))
}

// Verse is verse text read from USFM.
type Verse struct {
	Chapter int
	Verse   int
	Text    string
}

// ParseVerses returns the \v lines of a document in order.
func ParseVerses(r io.Reader) ([]Verse, error) {
	var out []Verse
	chapter := 0
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, `\c `):
			n, err := strconv.Atoi(strings.TrimSpace(line[3:]))
			if err != nil {
				return nil, fmt.Errorf("bad chapter marker %q: %w", line, err)
			}
			chapter = n
		case strings.HasPrefix(line, `\v `):
			rest := line[3:]
			num, text, _ := strings.Cut(rest, " ")
			n, err := strconv.Atoi(num)
			if err != nil {
				return nil, fmt.Errorf("bad verse marker %q: %w", line, err)
			}
			out = append(out, Verse{Chapter: chapter, Verse: n, Text: text})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
