package manifest

import "testing"

func sampleBook() Book {
	return Book{
		Code: "GEN",
		Chapters: []Chapter{
			{Number: 2, Verses: []VerseFile{{Chapter: 2, Verse: 1}}},
			{Number: 1, Verses: []VerseFile{
				{Chapter: 1, Verse: 10, Filename: "1_10.wav"},
				{Chapter: 1, Verse: 2, Filename: "1_2.wav"},
				{Chapter: 1, Verse: 1, Filename: "1_1.wav"},
			}},
		},
	}
}

func TestBook_Sort(t *testing.T) {
	b := sampleBook()
	b.Sort()

	if b.Chapters[0].Number != 1 || b.Chapters[1].Number != 2 {
		t.Fatalf("chapters not sorted: %+v", b.Chapters)
	}
	got := []int{}
	for _, v := range b.Chapters[0].Verses {
		got = append(got, v.Verse)
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 10 {
		t.Errorf("verses not sorted numerically: %v", got)
	}
}

func TestBook_Navigation(t *testing.T) {
	b := sampleBook()
	b.Sort()

	if _, idx, ok := b.Chapter(2); !ok || idx != 1 {
		t.Errorf("Chapter(2) idx = %d, ok = %v", idx, ok)
	}
	if _, _, ok := b.Chapter(99); ok {
		t.Error("Chapter(99) should not exist")
	}
	if next, ok := b.NextChapter(1); !ok || next.Number != 2 {
		t.Errorf("NextChapter(1) = %v, %v", next, ok)
	}
	if _, ok := b.NextChapter(2); ok {
		t.Error("NextChapter of the last chapter should not exist")
	}
	if _, ok := b.NextChapter(99); ok {
		t.Error("NextChapter of a missing chapter should not exist")
	}
	if b.VerseCount() != 4 {
		t.Errorf("VerseCount() = %d", b.VerseCount())
	}

	ch, _, _ := b.Chapter(1)
	if v, ok := ch.FindVerse(2); !ok || v.Filename != "1_2.wav" {
		t.Errorf("FindVerse(2) = %v, %v", v, ok)
	}
	if _, ok := ch.FindVerse(3); ok {
		t.Error("FindVerse(3) should miss in a sparse chapter")
	}
	if ids := ch.IDs("GEN"); ids[0].Key() != "GEN-1-1" {
		t.Errorf("IDs()[0] = %v", ids[0])
	}
}

func TestManifest_Book(t *testing.T) {
	m := Manifest{Books: []Book{{Code: "EXO"}, sampleBook()}}
	m.Sort()
	if codes := m.BookCodes(); codes[0] != "EXO" || codes[1] != "GEN" {
		t.Errorf("BookCodes() = %v", codes)
	}
	if _, ok := m.Book("GEN"); !ok {
		t.Error("Book(GEN) missing")
	}
	if _, ok := m.Book("LEV"); ok {
		t.Error("Book(LEV) should be missing")
	}
}
