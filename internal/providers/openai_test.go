package providers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestOpenAI(t *testing.T, h http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(OpenAIConfig{
		APIKey:            "test",
		BaseURL:           srv.URL,
		RequestsPerMinute: 6000,
		MaxRetries:        1,
	})
}

func TestOpenAI_Transcription(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if got := r.FormValue("language"); got != "hi" {
			t.Errorf("language = %q, want hi", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":" hello world "}`))
	})

	id, err := c.SubmitTranscription(t.Context(), TranscriptionRequest{Audio: []byte("RIFF"), Filename: "1_1.wav", Language: "hin"})
	if err != nil {
		t.Fatalf("SubmitTranscription() error = %v", err)
	}
	st, err := c.PollStatus(t.Context(), id)
	if err != nil {
		t.Fatalf("PollStatus() error = %v", err)
	}
	if st.State != JobFinished || st.Text != "hello world" {
		t.Errorf("status = %+v", st)
	}
	if _, err := c.PollStatus(t.Context(), id); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("second PollStatus() error = %v, want ErrUnknownJob", err)
	}
}

func TestOpenAI_Synthesis(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("RIFFwav"))
	})

	id, err := c.SubmitSynthesis(t.Context(), SynthesisRequest{Text: "hello"})
	if err != nil {
		t.Fatalf("SubmitSynthesis() error = %v", err)
	}
	st, err := c.PollStatus(t.Context(), id)
	if err != nil || st.State != JobFinished {
		t.Fatalf("PollStatus() = %+v, %v", st, err)
	}
	audio, err := c.FetchAudio(t.Context(), id)
	if err != nil {
		t.Fatalf("FetchAudio() error = %v", err)
	}
	if audio.Format != "wav" || string(audio.Data) != "RIFFwav" {
		t.Errorf("audio = %q %q", audio.Format, audio.Data)
	}
}

func TestOpenAI_RejectedBecomesFailedJob(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"unsupported file","type":"invalid_request_error"}}`))
	})

	id, err := c.SubmitTranscription(t.Context(), TranscriptionRequest{Audio: []byte("x")})
	if err != nil {
		t.Fatalf("SubmitTranscription() error = %v", err)
	}
	st, err := c.PollStatus(t.Context(), id)
	if err != nil {
		t.Fatalf("PollStatus() error = %v", err)
	}
	if st.State != JobErrored || !strings.Contains(st.Message, "unsupported file") {
		t.Errorf("status = %+v", st)
	}
}

func TestOpenAILanguage(t *testing.T) {
	tests := map[string]string{"hin": "hi", "en": "en", "xyz": "", " ENG ": "en"}
	for in, want := range tests {
		if got := openAILanguage(in); got != want {
			t.Errorf("openAILanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
