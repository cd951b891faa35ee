package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/scribe/internal/home"
	"github.com/jackzampolin/scribe/internal/jobs"
	"github.com/jackzampolin/scribe/internal/manifest"
	"github.com/jackzampolin/scribe/internal/providers"
	"github.com/jackzampolin/scribe/internal/status"
	"github.com/jackzampolin/scribe/internal/store"
)

const testProject = "proj-1"

type fixture struct {
	orch     *Orchestrator
	stores   *store.MemoryOpener
	recorder *jobs.MemoryRecorder
	home     *home.Dir
}

func newFixture(t *testing.T, client providers.JobClient, quota int64) *fixture {
	t.Helper()
	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}
	reg := providers.NewRegistry(nil)
	reg.Register(client)

	f := &fixture{
		stores:   store.NewMemoryOpener(quota),
		recorder: jobs.NewMemoryRecorder(),
		home:     h,
	}
	f.orch = New(Config{
		Stores:          f.stores,
		Clients:         reg,
		Recorder:        f.recorder,
		Home:            h,
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 5,
	})
	t.Cleanup(f.orch.Close)
	return f
}

func (f *fixture) store() store.Store {
	return f.stores.Open(testProject)
}

func (f *fixture) wait(t *testing.T, book string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.orch.Wait(ctx, testProject, book); err != nil {
		t.Fatalf("walk did not finish: %v", err)
	}
}

func (f *fixture) report(t *testing.T, book *manifest.Book) status.BookReport {
	t.Helper()
	markers, err := f.orch.Markers(context.Background(), testProject, book.Code)
	if err != nil {
		t.Fatalf("Markers() error = %v", err)
	}
	return status.AggregateBook(context.Background(), f.store(), book, markers)
}

// makeBook writes one empty audio file per verse and returns the topology.
// chapters maps chapter directory number to verse filenames.
func makeBook(t *testing.T, code string, chapters map[int][]string) *manifest.Book {
	t.Helper()
	root := t.TempDir()
	b := &manifest.Book{Code: code}
	for num, files := range chapters {
		dir := filepath.Join(root, code, fmt.Sprint(num))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		ch := manifest.Chapter{Number: num}
		for _, name := range files {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte("RIFF\x00\x00\x00\x00WAVE"), 0o644); err != nil {
				t.Fatal(err)
			}
			var c, v int
			fmt.Sscanf(name, "%d_%d", &c, &v)
			ch.Verses = append(ch.Verses, manifest.VerseFile{Chapter: c, Verse: v, Filename: name, Path: path})
		}
		b.Chapters = append(b.Chapters, ch)
	}
	b.Sort()
	return b
}

func genesis1(t *testing.T) *manifest.Book {
	return makeBook(t, "GEN", map[int][]string{1: {"1_1.wav", "1_2.wav", "1_3.wav"}})
}

func chapterStatus(r status.BookReport, chapter int) status.ChapterStatus {
	for _, c := range r.Chapters {
		if c.Chapter == chapter {
			return c.Status
		}
	}
	return status.ChapterPending
}

func transcribe(book *manifest.Book) StartRequest {
	return StartRequest{ProjectID: testProject, Book: book, Language: "hin", Direction: jobs.DirectionTranscription}
}

// gateClient holds polls of one job until released.
type gateClient struct {
	*providers.MockJobClient
	gateJob string
	release chan struct{}
}

func (g *gateClient) PollStatus(ctx context.Context, jobID string) (*providers.JobStatus, error) {
	if jobID == g.gateJob {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.MockJobClient.PollStatus(ctx, jobID)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWalk_TranscribesChapter(t *testing.T) {
	mock := providers.NewMockJobClient()
	mock.Default = providers.MockStep{Text: "In the beginning"}
	gate := &gateClient{MockJobClient: mock, gateJob: "mock-2", release: make(chan struct{})}
	f := newFixture(t, gate, 0)
	book := genesis1(t)

	if got := chapterStatus(f.report(t, book), 1); got != status.ChapterPending {
		t.Fatalf("initial chapter status = %s, want pending", got)
	}

	if _, err := f.orch.Start(context.Background(), transcribe(book)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	eventually(t, "verse 2 polling", func() bool {
		st, _ := f.orch.State(testProject, "GEN")
		return st.Verse == 2 && st.Phase == PhasePolling
	})

	rec, err := f.store().Get(context.Background(), "GEN-1-1")
	if err != nil || rec == nil || rec.TranscribedText == "" {
		t.Fatalf("GEN-1-1 after verse 1 = %+v, %v", rec, err)
	}
	r := f.report(t, book)
	if got := chapterStatus(r, 1); got != status.ChapterInProgress {
		t.Errorf("chapter status mid-walk = %s, want inProgress", got)
	}
	if r.Label != "inProgress [2 of 3]" {
		t.Errorf("book label = %q", r.Label)
	}

	close(gate.release)
	f.wait(t, "GEN")

	r = f.report(t, book)
	if got := chapterStatus(r, 1); got != status.ChapterTranscribed {
		t.Errorf("final chapter status = %s, want Transcribed", got)
	}
	if r.Status != status.BookTranscribed {
		t.Errorf("book status = %s, want Transcribed", r.Status)
	}

	st, _ := f.orch.State(testProject, "GEN")
	if st.Phase != PhaseCompleted || st.Active {
		t.Errorf("final state = %+v", st)
	}
	recs, _ := f.recorder.List(context.Background(), jobs.ListFilter{ProjectID: testProject})
	if len(recs) != 1 || recs[0].Status != jobs.StatusCompleted {
		t.Errorf("walk records = %+v", recs)
	}
	notes := f.orch.Notifications().List(testProject, 0)
	if len(notes) != 1 || notes[0].Level != LevelInfo {
		t.Errorf("notifications = %+v", notes)
	}
}

func TestWalk_CountsPendingPolls(t *testing.T) {
	mock := providers.NewMockJobClient(providers.MockStep{Pending: 3, Text: "Light"})
	f := newFixture(t, mock, 0)
	book := makeBook(t, "GEN", map[int][]string{1: {"1_1.wav"}})

	if _, err := f.orch.Start(context.Background(), transcribe(book)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.wait(t, "GEN")

	st, _ := f.orch.State(testProject, "GEN")
	if st.Phase != PhaseCompleted {
		t.Fatalf("phase = %s, want completed", st.Phase)
	}
	if st.Polls != 3 {
		t.Errorf("polls = %d, want 3", st.Polls)
	}
}

func TestWalk_FoldsTranscribedText(t *testing.T) {
	mock := providers.NewMockJobClient(providers.MockStep{Text: " In the beginning\r\nGod created\n"})
	f := newFixture(t, mock, 0)
	book := makeBook(t, "GEN", map[int][]string{1: {"1_1.wav"}})

	if _, err := f.orch.Start(context.Background(), transcribe(book)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.wait(t, "GEN")

	rec, err := f.store().Get(context.Background(), "GEN-1-1")
	if err != nil || rec == nil {
		t.Fatalf("GEN-1-1 = %+v, %v", rec, err)
	}
	if rec.TranscribedText != "In the beginning God created" {
		t.Errorf("stored text = %q", rec.TranscribedText)
	}
}

func TestWalk_RemoteErrorHalts(t *testing.T) {
	mock := providers.NewMockJobClient(
		providers.MockStep{Text: "one"},
		providers.MockStep{Fail: "oom"},
	)
	f := newFixture(t, mock, 0)
	book := genesis1(t)

	if _, err := f.orch.Start(context.Background(), transcribe(book)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.wait(t, "GEN")

	ctx := context.Background()
	if rec, _ := f.store().Get(ctx, "GEN-1-1"); rec == nil || rec.TranscribedText != "one" {
		t.Errorf("GEN-1-1 = %+v", rec)
	}
	for _, k := range []string{"GEN-1-2", "GEN-1-3"} {
		if rec, _ := f.store().Get(ctx, k); rec != nil {
			t.Errorf("%s should not exist, got %+v", k, rec)
		}
	}
	if n := len(mock.Submissions()); n != 2 {
		t.Errorf("submissions = %d, want 2", n)
	}
	if got := chapterStatus(f.report(t, book), 1); got != status.ChapterFailed {
		t.Errorf("chapter status = %s, want Failed", got)
	}

	notes := f.orch.Notifications().List(testProject, 0)
	if len(notes) != 1 || notes[0].Level != LevelError || !strings.Contains(notes[0].Message, "oom") {
		t.Errorf("notifications = %+v", notes)
	}
	st, _ := f.orch.State(testProject, "GEN")
	if st.Phase != PhaseFailed || st.Error != "oom" || st.Verse != 2 {
		t.Errorf("state = %+v", st)
	}
}

func TestRetry_ResumesAtFailedVerse(t *testing.T) {
	mock := providers.NewMockJobClient(
		providers.MockStep{Text: "one"},
		providers.MockStep{Fail: "oom"},
	)
	f := newFixture(t, mock, 0)
	book := genesis1(t)

	if _, err := f.orch.Start(context.Background(), transcribe(book)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.wait(t, "GEN")

	mock.Push(providers.MockStep{Text: "two"}, providers.MockStep{Text: "three"})
	st, err := f.orch.Retry(context.Background(), RetryRequest{ProjectID: testProject, Book: book})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if st.Chapter != 1 || st.Verse != 2 {
		t.Errorf("retry started at %d:%d, want 1:2", st.Chapter, st.Verse)
	}
	f.wait(t, "GEN")

	subs := mock.Submissions()
	var files []string
	for _, s := range subs {
		files = append(files, s.Filename)
	}
	if got := strings.Join(files, ","); got != "1_1.wav,1_2.wav,1_2.wav,1_3.wav" {
		t.Errorf("submission order = %s", got)
	}
	if subs[2].Language != "hin" {
		t.Errorf("retry language = %q, want inherited hin", subs[2].Language)
	}
	if got := chapterStatus(f.report(t, book), 1); got != status.ChapterTranscribed {
		t.Errorf("chapter status = %s, want Transcribed", got)
	}

	if _, err := f.orch.Retry(context.Background(), RetryRequest{ProjectID: testProject, Book: book}); !errors.Is(err, ErrNoFailedWalk) {
		t.Errorf("Retry() after success error = %v, want ErrNoFailedWalk", err)
	}
}

func TestRetry_FromPersistedRecord(t *testing.T) {
	mock := providers.NewMockJobClient()
	mock.Default = providers.MockStep{Text: "x"}
	f := newFixture(t, mock, 0)
	book := genesis1(t)

	// A walk interrupted by a restart, known only from its record.
	_, err := f.recorder.Create(context.Background(), &jobs.Record{
		ProjectID: testProject, Book: "GEN", Direction: jobs.DirectionTranscription,
		Language: "hin", Status: jobs.StatusInterrupted, Chapter: 1, Verse: 3,
	})
	if err != nil {
		t.Fatal(err)
	}

	st, err := f.orch.Retry(context.Background(), RetryRequest{ProjectID: testProject, Book: book})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if st.Verse != 3 {
		t.Errorf("retry verse = %d, want 3", st.Verse)
	}
	f.wait(t, "GEN")
	if subs := mock.Submissions(); len(subs) != 1 || subs[0].Filename != "1_3.wav" {
		t.Errorf("submissions = %+v", subs)
	}
}

func TestWalk_Ordering(t *testing.T) {
	mock := providers.NewMockJobClient()
	mock.Default = providers.MockStep{Text: "t"}
	f := newFixture(t, mock, 0)
	book := makeBook(t, "EXO", map[int][]string{
		2:  {"2_2.wav", "2_1.wav"},
		1:  {"1_3.wav", "1_1.wav", "1_2.wav"},
		10: {"10_1.wav"},
	})

	if _, err := f.orch.Start(context.Background(), StartRequest{
		ProjectID: testProject, Book: book, Direction: jobs.DirectionTranscription,
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.wait(t, "EXO")

	var files []string
	for _, s := range mock.Submissions() {
		files = append(files, s.Filename)
	}
	want := "1_1.wav,1_2.wav,1_3.wav,2_1.wav,2_2.wav,10_1.wav"
	if got := strings.Join(files, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}
}

func TestWalk_StartsAtFirstUnprocessedVerse(t *testing.T) {
	mock := providers.NewMockJobClient()
	mock.Default = providers.MockStep{Text: "t"}
	f := newFixture(t, mock, 0)
	book := genesis1(t)
	ctx := context.Background()

	f.store().Set(ctx, "GEN-1-1", store.VerseRecord{Book: "GEN", Chapter: 1, Verse: 1, TranscribedText: "done"})

	st, err := f.orch.Start(ctx, transcribe(book))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if st.Verse != 2 {
		t.Errorf("start verse = %d, want 2", st.Verse)
	}
	f.wait(t, "GEN")

	if _, err := f.orch.Start(ctx, transcribe(book)); !errors.Is(err, ErrNothingToDo) {
		t.Errorf("Start() on finished book error = %v, want ErrNothingToDo", err)
	}
	if _, err := f.orch.Start(ctx, StartRequest{
		ProjectID: testProject, Book: book, Direction: jobs.DirectionTranscription, Chapter: 4,
	}); !errors.Is(err, ErrUnknownVerse) {
		t.Errorf("Start() at unknown chapter error = %v, want ErrUnknownVerse", err)
	}
}

func TestWalk_AtMostOnePerBook(t *testing.T) {
	mock := providers.NewMockJobClient()
	mock.Default = providers.MockStep{Text: "t"}
	gate := &gateClient{MockJobClient: mock, gateJob: "mock-1", release: make(chan struct{})}
	f := newFixture(t, gate, 0)
	book := genesis1(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	started, rejected := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.Start(context.Background(), transcribe(book))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started++
			case errors.Is(err, ErrWalkActive):
				rejected++
			default:
				t.Errorf("Start() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if started != 1 || rejected != 7 {
		t.Errorf("started = %d, rejected = %d, want 1 and 7", started, rejected)
	}
	if _, err := f.orch.Retry(context.Background(), RetryRequest{ProjectID: testProject, Book: book}); !errors.Is(err, ErrWalkActive) {
		t.Errorf("Retry() during walk error = %v, want ErrWalkActive", err)
	}
	if err := f.orch.Forget(testProject); !errors.Is(err, ErrWalkActive) {
		t.Errorf("Forget() during walk error = %v, want ErrWalkActive", err)
	}

	close(gate.release)
	f.wait(t, "GEN")
	if n := len(mock.Submissions()); n != 3 {
		t.Errorf("submissions = %d, want 3", n)
	}
}

func TestWalk_StoreFailureIsolation(t *testing.T) {
	mock := providers.NewMockJobClient(
		providers.MockStep{Text: "abc"},
		providers.MockStep{Text: "defgh"},
		providers.MockStep{Text: "never"},
	)
	f := newFixture(t, mock, 6)
	book := genesis1(t)

	if _, err := f.orch.Start(context.Background(), transcribe(book)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.wait(t, "GEN")

	ctx := context.Background()
	rec, _ := f.store().Get(ctx, "GEN-1-1")
	if rec == nil || rec.TranscribedText != "abc" {
		t.Errorf("GEN-1-1 = %+v, want unchanged", rec)
	}
	if rec, _ := f.store().Get(ctx, "GEN-1-2"); rec != nil {
		t.Errorf("GEN-1-2 should not be written, got %+v", rec)
	}
	if n := len(mock.Submissions()); n != 2 {
		t.Errorf("submissions = %d, walk advanced past the failed verse", n)
	}
	st, _ := f.orch.State(testProject, "GEN")
	if st.Phase != PhaseFailed || st.Verse != 2 || st.Error != "storage quota exceeded" {
		t.Errorf("state = %+v", st)
	}
}

func TestWalk_UnknownParsedChapterEnds(t *testing.T) {
	mock := providers.NewMockJobClient()
	mock.Default = providers.MockStep{Text: "t"}
	f := newFixture(t, mock, 0)
	book := makeBook(t, "GEN", map[int][]string{
		1: {"99_1.wav"},
		2: {"2_1.wav"},
	})

	if _, err := f.orch.Start(context.Background(), transcribe(book)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.wait(t, "GEN")

	st, _ := f.orch.State(testProject, "GEN")
	if st.Phase != PhaseCompleted || st.Error != "" {
		t.Errorf("state = %+v, want completed without error", st)
	}
	if subs := mock.Submissions(); len(subs) != 1 || subs[0].Filename != "99_1.wav" {
		t.Errorf("submissions = %+v", subs)
	}
	if rec, _ := f.store().Get(context.Background(), "GEN-99-1"); rec == nil {
		t.Error("GEN-99-1 not persisted")
	}
}

func TestWalk_PollTimeout(t *testing.T) {
	mock := providers.NewMockJobClient(providers.MockStep{Pending: 100})
	f := newFixture(t, mock, 0)
	book := genesis1(t)

	if _, err := f.orch.Start(context.Background(), transcribe(book)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.wait(t, "GEN")

	st, _ := f.orch.State(testProject, "GEN")
	if st.Phase != PhaseFailed || !strings.Contains(st.Error, "timed out") {
		t.Errorf("state = %+v", st)
	}
}

func TestWalk_CloseInterrupts(t *testing.T) {
	mock := providers.NewMockJobClient()
	gate := &gateClient{MockJobClient: mock, gateJob: "mock-1", release: make(chan struct{})}
	f := newFixture(t, gate, 0)
	book := genesis1(t)

	if _, err := f.orch.Start(context.Background(), transcribe(book)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	eventually(t, "polling", func() bool {
		st, _ := f.orch.State(testProject, "GEN")
		return st.Phase == PhasePolling
	})
	f.orch.Close()

	recs, _ := f.recorder.List(context.Background(), jobs.ListFilter{ProjectID: testProject})
	if len(recs) != 1 || recs[0].Status != jobs.StatusInterrupted || recs[0].Verse != 1 {
		t.Errorf("records = %+v", recs)
	}
	if notes := f.orch.Notifications().List(testProject, 0); len(notes) != 0 {
		t.Errorf("interrupted walk should not notify, got %+v", notes)
	}
}

func TestSynthesis_WritesGeneratedAudio(t *testing.T) {
	mock := providers.NewMockJobClient()
	mock.Default = providers.MockStep{Audio: []byte("RIFFgenerated")}
	f := newFixture(t, mock, 0)
	book := makeBook(t, "GEN", map[int][]string{
		1: {"1_1.wav", "1_2.wav"},
		2: {"2_1.wav"},
	})
	ctx := context.Background()
	for _, v := range []int{1, 2} {
		key := fmt.Sprintf("GEN-1-%d", v)
		f.store().Set(ctx, key, store.VerseRecord{Book: "GEN", Chapter: 1, Verse: v, TranscribedText: fmt.Sprintf("verse %d", v), IsApproved: true})
	}

	_, err := f.orch.Start(ctx, StartRequest{
		ProjectID: testProject, Book: book, Language: "hin",
		Direction: jobs.DirectionSynthesis, Chapter: 1, SingleChapter: true,
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.wait(t, "GEN")

	subs := mock.Submissions()
	if len(subs) != 2 || subs[0].Text != "verse 1" || subs[1].Text != "verse 2" {
		t.Fatalf("submissions = %+v", subs)
	}
	for _, v := range []int{1, 2} {
		rec, _ := f.store().Get(ctx, fmt.Sprintf("GEN-1-%d", v))
		want := f.home.GeneratedAudioPath(testProject, "GEN", 1, v, "wav")
		if rec.GeneratedAudio != want || rec.GeneratedFormat != "wav" || rec.AudioBytes != int64(len("RIFFgenerated")) {
			t.Errorf("record %d = %+v", v, rec)
		}
		if !rec.IsApproved {
			t.Errorf("synthesis should keep approval")
		}
		data, err := os.ReadFile(want)
		if err != nil || string(data) != "RIFFgenerated" {
			t.Errorf("audio file %s = %q, %v", want, data, err)
		}
	}
	if got := chapterStatus(f.report(t, book), 1); got != status.ChapterApproved {
		t.Errorf("chapter status = %s, want Approved", got)
	}
}

func TestSynthesis_MissingTextFails(t *testing.T) {
	mock := providers.NewMockJobClient()
	f := newFixture(t, mock, 0)
	book := genesis1(t)

	_, err := f.orch.Start(context.Background(), StartRequest{
		ProjectID: testProject, Book: book, Direction: jobs.DirectionSynthesis, Chapter: 1, SingleChapter: true,
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.wait(t, "GEN")

	st, _ := f.orch.State(testProject, "GEN")
	if st.Phase != PhaseFailed || !strings.Contains(st.Error, ErrNoText.Error()) {
		t.Errorf("state = %+v", st)
	}
	if n := len(mock.Submissions()); n != 0 {
		t.Errorf("submissions = %d, want 0", n)
	}
}

func TestNotificationLog(t *testing.T) {
	l := NewNotificationLog(2)
	l.Add(Notification{ProjectID: "a", Message: "1"})
	l.Add(Notification{ProjectID: "a", Message: "2"})
	n3 := l.Add(Notification{ProjectID: "a", Message: "3"})
	l.Add(Notification{ProjectID: "b", Message: "other"})

	got := l.List("a", 0)
	if len(got) != 2 || got[0].Message != "2" || got[1].Message != "3" {
		t.Errorf("List() = %+v", got)
	}
	if got := l.List("a", n3.Seq); len(got) != 0 {
		t.Errorf("List(since) = %+v", got)
	}
	l.Forget("a")
	if got := l.List("a", 0); len(got) != 0 {
		t.Errorf("List() after Forget = %+v", got)
	}
}
