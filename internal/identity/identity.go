// Package identity encodes verse identity: the (book, chapter, verse)
// triple, its storage key, and the chapter/verse prefix of audio filenames.
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidKey is returned when a storage key cannot be parsed.
var ErrInvalidKey = errors.New("invalid verse key")

var (
	// filenames begin with <chapter>_<verse>; anything may follow.
	filenamePattern = regexp.MustCompile(`^(\d+)_(\d+)`)
	keyPattern      = regexp.MustCompile(`^([^-]+)-(\d+)-(\d+)$`)
)

// ChapterVerse is the numeric position of a verse within a book.
type ChapterVerse struct {
	Chapter int `json:"chapter"`
	Verse   int `json:"verse"`
}

// Less orders by chapter, then verse.
func (cv ChapterVerse) Less(o ChapterVerse) bool {
	if cv.Chapter != o.Chapter {
		return cv.Chapter < o.Chapter
	}
	return cv.Verse < o.Verse
}

func (cv ChapterVerse) String() string {
	return fmt.Sprintf("%d:%d", cv.Chapter, cv.Verse)
}

// VerseID identifies one verse of one book.
type VerseID struct {
	Book    string `json:"book"`
	Chapter int    `json:"chapter"`
	Verse   int    `json:"verse"`
}

// Key returns the storage key for the verse.
func (id VerseID) Key() string {
	return BuildKey(id.Book, id.Chapter, id.Verse)
}

// Position drops the book.
func (id VerseID) Position() ChapterVerse {
	return ChapterVerse{Chapter: id.Chapter, Verse: id.Verse}
}

func (id VerseID) String() string {
	return fmt.Sprintf("%s %d:%d", id.Book, id.Chapter, id.Verse)
}

// ExtractChapterVerse reads the <chapter>_<verse> prefix of a filename.
// Directory components are ignored. ok is false when the prefix is missing.
func ExtractChapterVerse(filename string) (cv ChapterVerse, ok bool) {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	m := filenamePattern.FindStringSubmatch(filename)
	if m == nil {
		return ChapterVerse{}, false
	}
	ch, err1 := strconv.Atoi(m[1])
	v, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return ChapterVerse{}, false
	}
	return ChapterVerse{Chapter: ch, Verse: v}, true
}

// BuildKey returns "{book}-{chapter}-{verse}".
// Book codes never contain '-', which keeps the key reversible.
func BuildKey(book string, chapter, verse int) string {
	return fmt.Sprintf("%s-%d-%d", book, chapter, verse)
}

// ParseKey reverses BuildKey.
func ParseKey(key string) (VerseID, error) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return VerseID{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	ch, err := strconv.Atoi(m[2])
	if err != nil {
		return VerseID{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	v, err := strconv.Atoi(m[3])
	if err != nil {
		return VerseID{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return VerseID{Book: m[1], Chapter: ch, Verse: v}, nil
}

// ValidBook reports whether a book code can be encoded in a key.
func ValidBook(book string) bool {
	return book != "" && !strings.ContainsAny(book, "-/\\ ")
}
