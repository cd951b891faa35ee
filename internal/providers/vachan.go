package providers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const (
	VachanName = "vachan"

	vachanStatusFinished = "job finished"
	vachanStatusError    = "Error"
)

// VachanConfig holds configuration for the Vachan AI job API.
type VachanConfig struct {
	BaseURL            string
	Token              string
	TranscriptionModel string
	SynthesisModel     string
	RequestsPerMinute  float64
	Timeout            time.Duration
	HTTPClient         *http.Client // Optional (tests)
	Logger             *slog.Logger
}

// VachanClient submits transcription and synthesis jobs to the Vachan
// engine and polls them by job ID.
type VachanClient struct {
	baseURL            string
	token              string
	transcriptionModel string
	synthesisModel     string
	http               *http.Client
	limiter            *RateLimiter
	logger             *slog.Logger
}

// NewVachanClient creates a client.
func NewVachanClient(cfg VachanConfig) *VachanClient {
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = "mms-1b-all"
	}
	if cfg.SynthesisModel == "" {
		cfg.SynthesisModel = "seamless-m4t-large"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &VachanClient{
		baseURL:            strings.TrimSuffix(cfg.BaseURL, "/"),
		token:              cfg.Token,
		transcriptionModel: cfg.TranscriptionModel,
		synthesisModel:     cfg.SynthesisModel,
		http:               httpClient,
		limiter:            NewRateLimiter(cfg.RequestsPerMinute),
		logger:             logger.With("provider", VachanName),
	}
}

// Name returns the provider identifier.
func (c *VachanClient) Name() string {
	return VachanName
}

// Limiter exposes the submission rate limiter.
func (c *VachanClient) Limiter() *RateLimiter {
	return c.limiter
}

type vachanEnvelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type vachanSubmitData struct {
	JobID json.RawMessage `json:"jobId"`
}

type vachanJobData struct {
	JobID  json.RawMessage `json:"jobId"`
	Status string          `json:"status"`
	Output struct {
		Message        string `json:"message"`
		Transcriptions []struct {
			AudioFile       string `json:"audioFile"`
			TranscribedText string `json:"transcribedText"`
		} `json:"transcriptions"`
	} `json:"output"`
}

// SubmitTranscription uploads one recording as multipart field "files".
func (c *VachanClient) SubmitTranscription(ctx context.Context, req TranscriptionRequest) (string, error) {
	if len(req.Audio) == 0 {
		return "", fmt.Errorf("audio is required")
	}
	filename := req.Filename
	if filename == "" {
		filename = "audio.wav"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := mw.WriteField("transcription_language", req.Language); err != nil {
		return "", fmt.Errorf("failed to write language: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart body: %w", err)
	}

	q := url.Values{"model_name": {c.transcriptionModel}}
	return c.submit(ctx, "/ai/model/audio/transcribe?"+q.Encode(), mw.FormDataContentType(), &body)
}

// SubmitSynthesis posts the verse text as a one-element JSON array.
func (c *VachanClient) SubmitSynthesis(ctx context.Context, req SynthesisRequest) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", fmt.Errorf("text is required")
	}
	payload, err := json.Marshal([]string{text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal text: %w", err)
	}
	q := url.Values{"model_name": {c.synthesisModel}, "language": {req.Language}}
	return c.submit(ctx, "/ai/model/audio/generate?"+q.Encode(), "application/json", bytes.NewReader(payload))
}

func (c *VachanClient) submit(ctx context.Context, pathAndQuery, contentType string, body io.Reader) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	respBody, err := c.do(ctx, http.MethodPost, pathAndQuery, contentType, body)
	if err != nil {
		return "", err
	}

	var env vachanEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return "", fmt.Errorf("failed to unmarshal submit response: %w", err)
	}
	var data vachanSubmitData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("failed to unmarshal submit data: %w", err)
	}
	jobID := rawID(data.JobID)
	if jobID == "" {
		return "", fmt.Errorf("submit response has no jobId: %s", string(respBody))
	}
	c.logger.Debug("job submitted", "job_id", jobID, "path", strings.SplitN(pathAndQuery, "?", 2)[0])
	return jobID, nil
}

// PollStatus fetches the job once. "job finished" and "Error" are terminal;
// anything else is pending.
func (c *VachanClient) PollStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	q := url.Values{"job_id": {jobID}}
	respBody, err := c.do(ctx, http.MethodGet, "/ai/model/job?"+q.Encode(), "", nil)
	if err != nil {
		return nil, err
	}

	var env vachanEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job response: %w", err)
	}
	var data vachanJobData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job data: %w", err)
	}

	st := &JobStatus{JobID: jobID}
	switch data.Status {
	case vachanStatusFinished:
		st.State = JobFinished
		if len(data.Output.Transcriptions) > 0 {
			st.Text = data.Output.Transcriptions[0].TranscribedText
		}
	case vachanStatusError:
		st.State = JobErrored
		st.Message = data.Output.Message
	default:
		st.State = JobPending
	}
	return st, nil
}

// FetchAudio downloads the job's asset zip and returns its first audio entry.
func (c *VachanClient) FetchAudio(ctx context.Context, jobID string) (*Audio, error) {
	q := url.Values{"job_id": {jobID}}
	respBody, err := c.do(ctx, http.MethodGet, "/ai/assets?"+q.Encode(), "", nil)
	if err != nil {
		return nil, err
	}
	return firstAudioInZip(respBody)
}

func (c *VachanClient) do(ctx context.Context, method, pathAndQuery, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathAndQuery, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.limiter.Record429(retryAfter)
		return nil, &RateLimitError{
			Message:    fmt.Sprintf("vachan rate limited: %s", string(respBody)),
			RetryAfter: retryAfter,
			StatusCode: resp.StatusCode,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Provider: VachanName, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// rawID accepts a job ID encoded as a JSON number or string.
func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

var audioExtensions = map[string]bool{"wav": true, "mp3": true, "ogg": true, "m4a": true, "webm": true, "flac": true}

func firstAudioInZip(data []byte) (*Audio, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open asset archive: %w", err)
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(f.Name), "."))
		if !audioExtensions[ext] {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		audio, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		return &Audio{Data: audio, Format: ext}, nil
	}
	return nil, fmt.Errorf("asset archive contains no audio")
}

var _ JobClient = (*VachanClient)(nil)
