// Package status derives chapter and book rollups from persisted verse
// records. Nothing here reads in-memory walk state; the inputs are the
// store contents, the manifest topology and persisted walk records.
package status

import (
	"encoding/json"
	"fmt"
)

// ChapterStatus is the derived state of one chapter.
type ChapterStatus uint8

const (
	ChapterPending ChapterStatus = iota
	ChapterInProgress
	ChapterTranscribed
	ChapterConverted
	ChapterApproved
	ChapterFailed
	ChapterError
)

var chapterNames = [...]string{
	ChapterPending:     "pending",
	ChapterInProgress:  "inProgress",
	ChapterTranscribed: "Transcribed",
	ChapterConverted:   "Converted",
	ChapterApproved:    "Approved",
	ChapterFailed:      "Failed",
	ChapterError:       "Error",
}

func (s ChapterStatus) String() string {
	if int(s) < len(chapterNames) {
		return chapterNames[s]
	}
	return fmt.Sprintf("ChapterStatus(%d)", s)
}

// MarshalJSON renders the status name.
func (s ChapterStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// BookStatus is the derived state of one book.
type BookStatus uint8

const (
	BookPending BookStatus = iota
	BookInProgress
	BookTranscribed
	BookDone
	BookApproved
	BookError
)

var bookNames = [...]string{
	BookPending:     "pending",
	BookInProgress:  "inProgress",
	BookTranscribed: "Transcribed",
	BookDone:        "Done",
	BookApproved:    "Approved",
	BookError:       "Error",
}

func (s BookStatus) String() string {
	if int(s) < len(bookNames) {
		return bookNames[s]
	}
	return fmt.Sprintf("BookStatus(%d)", s)
}

// MarshalJSON renders the status name.
func (s BookStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON reads a status name.
func (s *ChapterStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range chapterNames {
		if n == name {
			*s = ChapterStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown chapter status %q", name)
}

// UnmarshalJSON reads a status name.
func (s *BookStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range bookNames {
		if n == name {
			*s = BookStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown book status %q", name)
}
