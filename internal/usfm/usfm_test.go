package usfm

import (
	"strings"
	"testing"

	"github.com/jackzampolin/scribe/internal/manifest"
	"github.com/jackzampolin/scribe/internal/store"
)

func TestGenerate(t *testing.T) {
	h := Header{Code: "GEN", Names: manifest.Names{Abbr: "Gen", Short: "Genesis", Long: "The First Book of Moses"}}
	recs := []store.VerseRecord{
		{Book: "GEN", Chapter: 1, Verse: 1, TranscribedText: "In the beginning"},
		{Book: "GEN", Chapter: 1, Verse: 2, TranscribedText: "And the earth"},
		{Book: "GEN", Chapter: 2, Verse: 1, TranscribedText: "Thus the heavens"},
		{Book: "GEN", Chapter: 2, Verse: 2},
	}

	want := strings.Join([]string{
		`\id GEN`,
		`\usfm 3.0`,
		`\ide UTF-8`,
		`\h Genesis`,
		`\toc1 Gen`,
		`\toc2 Genesis`,
		`\toc3 The First Book of Moses`,
		`\mt Gen`,
		`\c 1`,
		`\p`,
		`\v 1 In the beginning`,
		`\v 2 And the earth`,
		`\c 2`,
		`\p`,
		`\v 1 Thus the heavens`,
		``,
	}, "\n")
	if got := Generate(h, recs); got != want {
		t.Errorf("Generate() =\n%s\nwant\n%s", got, want)
	}
}

func TestGenerate_ShortNameFallback(t *testing.T) {
	got := Generate(Header{Code: "EXO"}, nil)
	if !strings.Contains(got, "\\h EXO\n") {
		t.Errorf("header without names = %q", got)
	}
}

func TestRoundTrip(t *testing.T) {
	texts := []string{
		"In the beginning God created the heaven and the earth.",
		"आदि में परमेश्वर ने आकाश और पृथ्वी की सृष्टि की।",
		`Text with \ backslash and "quotes"`,
		"  leading and trailing  ",
	}
	var recs []store.VerseRecord
	for i, txt := range texts {
		recs = append(recs, store.VerseRecord{Book: "GEN", Chapter: 3, Verse: i + 1, TranscribedText: txt})
	}

	verses, err := ParseVerses(strings.NewReader(Generate(Header{Code: "GEN"}, recs)))
	if err != nil {
		t.Fatalf("ParseVerses() error = %v", err)
	}
	if len(verses) != len(texts) {
		t.Fatalf("got %d verses, want %d", len(verses), len(texts))
	}
	for i, v := range verses {
		if v.Chapter != 3 || v.Verse != i+1 || v.Text != texts[i] {
			t.Errorf("verse %d = %+v, want text %q", i, v, texts[i])
		}
	}
}

func TestFoldText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"one line", "one line"},
		{"one\ntwo\r\nthree", "one two three"},
		{"  padded\r", "padded"},
		{"tabs\tstay", "tabs\tstay"},
	}
	for _, tt := range tests {
		if got := FoldText(tt.in); got != tt.want {
			t.Errorf("FoldText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGenerate_FoldedTextRoundTrips(t *testing.T) {
	texts := []string{"line one\nline two", "a\r\nb\rc", "plain  double  spaced"}
	var recs []store.VerseRecord
	for i, text := range texts {
		recs = append(recs, store.VerseRecord{Chapter: 1, Verse: i + 1, TranscribedText: FoldText(text)})
	}
	verses, err := ParseVerses(strings.NewReader(Generate(Header{Code: "GEN"}, recs)))
	if err != nil {
		t.Fatal(err)
	}
	if len(verses) != len(recs) {
		t.Fatalf("got %d verses, want %d", len(verses), len(recs))
	}
	for i, v := range verses {
		if v.Text != recs[i].TranscribedText {
			t.Errorf("verse %d = %q, want %q", v.Verse, v.Text, recs[i].TranscribedText)
		}
	}
}

func TestParseVerses_BadMarker(t *testing.T) {
	if _, err := ParseVerses(strings.NewReader("\\c x\n")); err == nil {
		t.Error("expected error for bad chapter marker")
	}
	if _, err := ParseVerses(strings.NewReader("\\c 1\n\\v a text\n")); err == nil {
		t.Error("expected error for bad verse marker")
	}
}
