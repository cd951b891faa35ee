package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIName = "openai"

	openAIDefaultTranscriptionModel = "whisper-1"
	openAIDefaultSpeechModel        = "gpt-4o-mini-tts"
	openAIDefaultVoice              = "alloy"
)

// OpenAIConfig holds configuration for the OpenAI audio backend.
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	SpeechModel        string
	Voice              string
	RequestsPerMinute  float64
	MaxRetries         int
	Timeout            time.Duration
	HTTPClient         *http.Client // Optional (tests)
}

// OpenAIClient adapts the synchronous OpenAI audio endpoints to the job
// model. Work runs during submit; the result is kept under a generated job
// ID until it is polled or fetched.
type OpenAIClient struct {
	transcriptionModel string
	speechModel        string
	voice              string
	limiter            *RateLimiter
	client             openai.Client

	mu   sync.Mutex
	jobs map[string]*openAIJob
}

type openAIJob struct {
	status JobStatus
	audio  *Audio
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = openAIDefaultTranscriptionModel
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = openAIDefaultSpeechModel
	}
	if cfg.Voice == "" {
		cfg.Voice = openAIDefaultVoice
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		transcriptionModel: cfg.TranscriptionModel,
		speechModel:        cfg.SpeechModel,
		voice:              cfg.Voice,
		limiter:            NewRateLimiter(cfg.RequestsPerMinute),
		client:             openai.NewClient(opts...),
		jobs:               make(map[string]*openAIJob),
	}
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// SubmitTranscription transcribes the recording and records the result.
func (c *OpenAIClient) SubmitTranscription(ctx context.Context, req TranscriptionRequest) (string, error) {
	if len(req.Audio) == 0 {
		return "", fmt.Errorf("audio is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	filename := req.Filename
	if filename == "" {
		filename = "audio.wav"
	}
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(req.Audio), filename, "application/octet-stream"),
		Model: openai.AudioModel(c.transcriptionModel),
	}
	if lang := openAILanguage(req.Language); lang != "" {
		params.Language = openai.String(lang)
	}

	resp, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return c.finishWithError(err)
	}
	return c.store(JobStatus{State: JobFinished, Text: strings.TrimSpace(resp.Text)}, nil), nil
}

// SubmitSynthesis renders speech as WAV and records the result.
func (c *OpenAIClient) SubmitSynthesis(ctx context.Context, req SynthesisRequest) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", fmt.Errorf("text is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := c.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(c.speechModel),
		Voice:          openai.AudioSpeechNewParamsVoice(c.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	})
	if err != nil {
		return c.finishWithError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed reading openai audio response: %w", err)
	}
	return c.store(JobStatus{State: JobFinished}, &Audio{Data: data, Format: "wav"}), nil
}

// finishWithError turns service rejections into failed jobs and returns
// transport and rate-limit errors to the caller.
func (c *OpenAIClient) finishWithError(err error) (string, error) {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return "", err
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if apiErr.Response != nil {
			retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		c.limiter.Record429(retryAfter)
		return "", &RateLimitError{
			Message:    fmt.Sprintf("OpenAI rate limited: %s", apiErr.Message),
			RetryAfter: retryAfter,
			StatusCode: apiErr.StatusCode,
		}
	}
	if apiErr.StatusCode >= 500 {
		return "", &APIError{Provider: OpenAIName, StatusCode: apiErr.StatusCode, Body: apiErr.Message}
	}
	msg := apiErr.Message
	if msg == "" {
		msg = fmt.Sprintf("status %d", apiErr.StatusCode)
	}
	return c.store(JobStatus{State: JobErrored, Message: msg}, nil), nil
}

func (c *OpenAIClient) store(st JobStatus, audio *Audio) string {
	id := uuid.New().String()
	st.JobID = id
	c.mu.Lock()
	c.jobs[id] = &openAIJob{status: st, audio: audio}
	c.mu.Unlock()
	return id
}

// PollStatus returns the recorded result. Jobs are never pending.
func (c *OpenAIClient) PollStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	st := job.status
	if job.audio == nil {
		// Transcription results are only needed once.
		delete(c.jobs, jobID)
	}
	return &st, nil
}

// FetchAudio returns and forgets the synthesized audio for a job.
func (c *OpenAIClient) FetchAudio(ctx context.Context, jobID string) (*Audio, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[jobID]
	if !ok || job.audio == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	delete(c.jobs, jobID)
	return job.audio, nil
}

// openAILanguage maps a project language code to the ISO-639-1 form the
// transcription API accepts. Unknown three-letter codes are dropped so the
// model detects the language itself.
func openAILanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if len(code) == 2 {
		return code
	}
	if iso, ok := iso6393to1[code]; ok {
		return iso
	}
	return ""
}

var iso6393to1 = map[string]string{
	"eng": "en",
	"hin": "hi",
	"mal": "ml",
	"tam": "ta",
	"tel": "te",
	"kan": "kn",
	"mar": "mr",
	"ben": "bn",
	"guj": "gu",
	"pan": "pa",
	"urd": "ur",
	"ori": "or",
	"asm": "as",
	"nep": "ne",
	"spa": "es",
	"fra": "fr",
	"por": "pt",
	"swh": "sw",
}

var _ JobClient = (*OpenAIClient)(nil)
