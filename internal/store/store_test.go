package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/scribe/internal/identity"
)

func TestMemoryStore_GetSetKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	rec, err := s.Get(ctx, "GEN-1-1")
	if err != nil || rec != nil {
		t.Fatalf("Get() on empty store = %v, %v; want nil, nil", rec, err)
	}

	in := VerseRecord{Book: "GEN", Chapter: 1, Verse: 1, TranscribedText: "In the beginning"}
	if err := s.Set(ctx, in.Key(), in); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := s.Get(ctx, "GEN-1-1")
	if err != nil || got == nil {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	if got.TranscribedText != in.TranscribedText {
		t.Errorf("text = %q", got.TranscribedText)
	}
	if !got.LastUpdated.Equal(fixed) {
		t.Errorf("LastUpdated = %v, want %v", got.LastUpdated, fixed)
	}

	keys, _ := s.Keys(ctx)
	if len(keys) != 1 || keys[0] != "GEN-1-1" {
		t.Errorf("Keys() = %v", keys)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	s.Set(ctx, "GEN-1-1", VerseRecord{Book: "GEN", Chapter: 1, Verse: 1, TranscribedText: "a"})

	got, _ := s.Get(ctx, "GEN-1-1")
	got.TranscribedText = "mutated"

	again, _ := s.Get(ctx, "GEN-1-1")
	if again.TranscribedText != "a" {
		t.Error("mutating a returned record changed the store")
	}
}

func TestMemoryStore_Quota(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)

	if err := s.Set(ctx, "GEN-1-1", VerseRecord{TranscribedText: "12345"}); err != nil {
		t.Fatalf("first Set() error = %v", err)
	}
	// Replacing a key only counts the difference.
	if err := s.Set(ctx, "GEN-1-1", VerseRecord{TranscribedText: "1234567890"}); err != nil {
		t.Fatalf("replace Set() error = %v", err)
	}

	err := s.Set(ctx, "GEN-1-2", VerseRecord{TranscribedText: "x"})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Key != "GEN-1-2" || se.Op != "set" {
		t.Errorf("expected StorageError for GEN-1-2, got %#v", err)
	}
	if rec, _ := s.Get(ctx, "GEN-1-2"); rec != nil {
		t.Error("rejected write must not be stored")
	}
	if rec, _ := s.Get(ctx, "GEN-1-1"); rec.TranscribedText != "1234567890" {
		t.Error("prior record changed by rejected write")
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "GEN-1-2", VerseRecord{TranscribedText: "x"}); err != nil {
		t.Errorf("Set() after Clear() error = %v", err)
	}
}

func TestMemoryOpener_Namespaces(t *testing.T) {
	ctx := context.Background()
	o := NewMemoryOpener(0)

	a := o.Open("project-a")
	a.Set(ctx, "GEN-1-1", VerseRecord{TranscribedText: "a"})

	b := o.Open("project-b")
	if rec, _ := b.Get(ctx, "GEN-1-1"); rec != nil {
		t.Error("project-b sees project-a's record")
	}
	if o.Open("project-a") != a {
		t.Error("Open should return the same store for the same project")
	}
}

func TestLoadBook(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	for _, id := range []identity.VerseID{{Book: "GEN", Chapter: 2, Verse: 1}, {Book: "GEN", Chapter: 1, Verse: 10}, {Book: "GEN", Chapter: 1, Verse: 2}, {Book: "EXO", Chapter: 1, Verse: 1}} {
		s.Set(ctx, id.Key(), VerseRecord{Book: id.Book, Chapter: id.Chapter, Verse: id.Verse})
	}

	recs, err := LoadBook(ctx, s, "GEN")
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, r := range recs {
		order = append(order, r.Key())
	}
	if got := strings.Join(order, ","); got != "GEN-1-2,GEN-1-10,GEN-2-1" {
		t.Errorf("LoadBook order = %s", got)
	}
}

func TestUpdate_PreservesUnrelatedFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	id := identity.VerseID{Book: "GEN", Chapter: 1, Verse: 1}
	s.Set(ctx, id.Key(), VerseRecord{Book: "GEN", Chapter: 1, Verse: 1, SourceAudio: "/a/1_1.wav", IsApproved: true})

	rec, err := Update(ctx, s, id, func(r *VerseRecord) { r.TranscribedText = "hello" })
	if err != nil {
		t.Fatal(err)
	}
	if rec.SourceAudio != "/a/1_1.wav" || !rec.IsApproved || rec.TranscribedText != "hello" {
		t.Errorf("merged record = %+v", rec)
	}

	created, err := Update(ctx, s, identity.VerseID{Book: "GEN", Chapter: 1, Verse: 2}, func(r *VerseRecord) {})
	if err != nil {
		t.Fatal(err)
	}
	if created.Key() != "GEN-1-2" {
		t.Errorf("new record identity = %s", created.Key())
	}
}

func TestVerseRecord_Predicates(t *testing.T) {
	r := VerseRecord{}
	if r.Transcribed() || r.Converted() {
		t.Error("zero record should be neither transcribed nor converted")
	}
	r.TranscribedText = "x"
	r.GeneratedAudio = "/g.wav"
	r.AudioBytes = 100
	if !r.Transcribed() || !r.Converted() {
		t.Error("predicates should hold")
	}
	if r.Size() != 101 {
		t.Errorf("Size() = %d", r.Size())
	}
}
