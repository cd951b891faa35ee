package providers

import (
	"context"
	"fmt"
	"sync"
)

// MockStep scripts the outcome of one submitted job.
type MockStep struct {
	// SubmitErr fails the submission itself.
	SubmitErr error
	// Pending is how many polls report the job as still running.
	Pending int
	// Fail ends the job in the error state with this message.
	Fail string
	// Text is returned for finished transcription jobs.
	Text string
	// Audio is returned for finished synthesis jobs.
	Audio []byte
}

// MockSubmission records one call to a Submit method.
type MockSubmission struct {
	Kind     string // "transcription" or "synthesis"
	JobID    string
	Filename string
	Text     string
	Language string
}

// MockJobClient is a scripted JobClient for tests. Each submission consumes
// the next step; once steps run out, jobs finish immediately with Default.
type MockJobClient struct {
	Default MockStep
	// Gate, when set, holds every submission until it is closed.
	Gate chan struct{}

	mu          sync.Mutex
	steps       []MockStep
	submissions []MockSubmission
	jobs        map[string]*mockJob
	next        int
}

type mockJob struct {
	step  MockStep
	polls int
}

// NewMockJobClient creates a mock that plays the given steps in order.
func NewMockJobClient(steps ...MockStep) *MockJobClient {
	return &MockJobClient{
		steps: steps,
		jobs:  make(map[string]*mockJob),
	}
}

// Name returns "mock".
func (m *MockJobClient) Name() string {
	return "mock"
}

// Push appends more scripted steps.
func (m *MockJobClient) Push(steps ...MockStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

// Submissions returns a copy of every submission so far.
func (m *MockJobClient) Submissions() []MockSubmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockSubmission, len(m.submissions))
	copy(out, m.submissions)
	return out
}

func (m *MockJobClient) submit(sub MockSubmission) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	step := m.Default
	if len(m.steps) > 0 {
		step = m.steps[0]
		m.steps = m.steps[1:]
	}
	if step.SubmitErr != nil {
		return "", step.SubmitErr
	}
	m.next++
	sub.JobID = fmt.Sprintf("mock-%d", m.next)
	m.submissions = append(m.submissions, sub)
	m.jobs[sub.JobID] = &mockJob{step: step}
	return sub.JobID, nil
}

func (m *MockJobClient) wait(ctx context.Context) error {
	if m.Gate == nil {
		return nil
	}
	select {
	case <-m.Gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MockJobClient) SubmitTranscription(ctx context.Context, req TranscriptionRequest) (string, error) {
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	return m.submit(MockSubmission{Kind: "transcription", Filename: req.Filename, Language: req.Language})
}

func (m *MockJobClient) SubmitSynthesis(ctx context.Context, req SynthesisRequest) (string, error) {
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	return m.submit(MockSubmission{Kind: "synthesis", Text: req.Text, Language: req.Language})
}

func (m *MockJobClient) PollStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	job.polls++
	if job.polls <= job.step.Pending {
		return &JobStatus{JobID: jobID, State: JobPending}, nil
	}
	if job.step.Fail != "" {
		return &JobStatus{JobID: jobID, State: JobErrored, Message: job.step.Fail}, nil
	}
	return &JobStatus{JobID: jobID, State: JobFinished, Text: job.step.Text}, nil
}

func (m *MockJobClient) FetchAudio(ctx context.Context, jobID string) (*Audio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	data := job.step.Audio
	if data == nil {
		data = []byte("RIFF\x00\x00\x00\x00WAVEfmt ")
	}
	return &Audio{Data: data, Format: "wav"}, nil
}

var _ JobClient = (*MockJobClient)(nil)
