// Package manifest describes the book/chapter/verse topology of an
// imported project: which audio file holds which verse.
package manifest

import (
	"sort"

	"github.com/jackzampolin/scribe/internal/identity"
)

// VerseFile is one verse recording.
// Chapter and Verse come from the filename prefix, not the directory.
type VerseFile struct {
	Chapter  int    `json:"chapter"`
	Verse    int    `json:"verse"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// Chapter is a chapter directory and its verse files, ordered by verse number.
type Chapter struct {
	Number int         `json:"number"`
	Verses []VerseFile `json:"verses"`
}

// Names are a book's localized display names.
type Names struct {
	Abbr  string `json:"abbr,omitempty"`
	Short string `json:"short,omitempty"`
	Long  string `json:"long,omitempty"`
}

// Book is one book of a project, chapters ordered by number.
type Book struct {
	Code     string    `json:"code"`
	Names    Names     `json:"names"`
	Chapters []Chapter `json:"chapters"`
	// Expected holds the versification verse count per chapter, when known.
	Expected map[int]int `json:"expected,omitempty"`
}

// Manifest is the full topology of a project.
type Manifest struct {
	Books []Book `json:"books"`
	// Skipped lists files that were not placed in the topology.
	Skipped []string `json:"skipped,omitempty"`
}

// Book returns the book with the given code.
func (m *Manifest) Book(code string) (*Book, bool) {
	for i := range m.Books {
		if m.Books[i].Code == code {
			return &m.Books[i], true
		}
	}
	return nil, false
}

// BookCodes returns the codes of all books in manifest order.
func (m *Manifest) BookCodes() []string {
	codes := make([]string, len(m.Books))
	for i, b := range m.Books {
		codes[i] = b.Code
	}
	return codes
}

// Sort orders books by code, chapters by number and verses by verse number.
func (m *Manifest) Sort() {
	sort.Slice(m.Books, func(i, j int) bool { return m.Books[i].Code < m.Books[j].Code })
	for i := range m.Books {
		m.Books[i].Sort()
	}
}

// Sort orders chapters and verses.
func (b *Book) Sort() {
	sort.Slice(b.Chapters, func(i, j int) bool { return b.Chapters[i].Number < b.Chapters[j].Number })
	for i := range b.Chapters {
		vs := b.Chapters[i].Verses
		sort.SliceStable(vs, func(x, y int) bool { return vs[x].Verse < vs[y].Verse })
	}
}

// Chapter returns the chapter with the given number and its index.
func (b *Book) Chapter(number int) (*Chapter, int, bool) {
	for i := range b.Chapters {
		if b.Chapters[i].Number == number {
			return &b.Chapters[i], i, true
		}
	}
	return nil, -1, false
}

// NextChapter returns the chapter following number in order.
func (b *Book) NextChapter(number int) (*Chapter, bool) {
	_, idx, ok := b.Chapter(number)
	if !ok || idx+1 >= len(b.Chapters) {
		return nil, false
	}
	return &b.Chapters[idx+1], true
}

// VerseCount is the number of verse files in the book.
func (b *Book) VerseCount() int {
	n := 0
	for _, c := range b.Chapters {
		n += len(c.Verses)
	}
	return n
}

// FindVerse returns the file whose parsed verse number is verse.
func (c *Chapter) FindVerse(verse int) (*VerseFile, bool) {
	for i := range c.Verses {
		if c.Verses[i].Verse == verse {
			return &c.Verses[i], true
		}
	}
	return nil, false
}

// IDs returns the verse identities held by the chapter.
func (c *Chapter) IDs(book string) []identity.VerseID {
	ids := make([]identity.VerseID, len(c.Verses))
	for i, v := range c.Verses {
		ids[i] = v.ID(book)
	}
	return ids
}

// ID returns the verse identity of the file.
func (v VerseFile) ID(book string) identity.VerseID {
	return identity.VerseID{Book: book, Chapter: v.Chapter, Verse: v.Verse}
}
