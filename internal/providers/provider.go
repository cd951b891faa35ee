// Package providers talks to the job-based AI services that transcribe
// verse audio and synthesize speech from verse text.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrJobFailed matches every JobError.
	ErrJobFailed = errors.New("remote job failed")

	// ErrPollTimeout is returned when a job stays pending past the attempt limit.
	ErrPollTimeout = errors.New("remote job poll timed out")

	// ErrUnknownJob is returned when polling a job the provider never issued.
	ErrUnknownJob = errors.New("unknown remote job")

	// ErrNoProvider is returned when the registry has no active provider.
	ErrNoProvider = errors.New("no job provider configured")
)

// JobState is the coarse state of a remote job.
type JobState string

const (
	JobPending  JobState = "pending"
	JobFinished JobState = "finished"
	JobErrored  JobState = "error"
)

// JobStatus is one poll result.
type JobStatus struct {
	JobID string
	State JobState
	// Text holds the transcription of a finished transcription job.
	Text string
	// Message is the service's error message for failed jobs, verbatim.
	Message string
}

// Terminal reports whether polling can stop.
func (s *JobStatus) Terminal() bool {
	return s.State == JobFinished || s.State == JobErrored
}

// TranscriptionRequest submits one verse recording.
type TranscriptionRequest struct {
	Audio    []byte
	Filename string
	Language string
}

// SynthesisRequest submits one verse of text.
type SynthesisRequest struct {
	Text     string
	Language string
}

// Audio is synthesized speech.
type Audio struct {
	Data   []byte
	Format string // file extension without dot
}

// JobClient submits work to a remote service and reports on it.
type JobClient interface {
	Name() string
	SubmitTranscription(ctx context.Context, req TranscriptionRequest) (string, error)
	SubmitSynthesis(ctx context.Context, req SynthesisRequest) (string, error)
	PollStatus(ctx context.Context, jobID string) (*JobStatus, error)
	// FetchAudio downloads the output of a finished synthesis job.
	FetchAudio(ctx context.Context, jobID string) (*Audio, error)
}

// JobError is a terminal error reported by the service.
type JobError struct {
	JobID   string
	Message string
}

func (e *JobError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote job %s failed", e.JobID)
	}
	return fmt.Sprintf("remote job %s failed: %s", e.JobID, e.Message)
}

// Is lets errors.Is(err, ErrJobFailed) match.
func (e *JobError) Is(target error) bool {
	return target == ErrJobFailed
}

// RateLimitError is returned on HTTP 429.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}
