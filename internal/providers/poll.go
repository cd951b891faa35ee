package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	DefaultPollInterval    = 10 * time.Second
	DefaultMaxPollAttempts = 360
)

var errStillPending = errors.New("job still pending")

// Poller waits for a submitted job to reach a terminal state.
type Poller struct {
	Client      JobClient
	Interval    time.Duration
	MaxAttempts uint
	Logger      *slog.Logger

	// OnPending is called after each poll that found the job still running.
	OnPending func(jobID string, attempt uint)
}

// Wait polls until the job finishes. A service-side failure returns a
// *JobError; running out of attempts returns ErrPollTimeout. Transport
// errors end the wait immediately.
func (p *Poller) Wait(ctx context.Context, jobID string) (*JobStatus, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = DefaultMaxPollAttempts
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var final *JobStatus
	err := retry.Do(
		func() error {
			st, err := p.Client.PollStatus(ctx, jobID)
			if err != nil {
				return err
			}
			if !st.Terminal() {
				return errStillPending
			}
			final = st
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errStillPending)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug("job pending", "job_id", jobID, "attempt", n+1)
			if p.OnPending != nil {
				p.OnPending(jobID, n+1)
			}
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, errStillPending) {
			return nil, fmt.Errorf("%w: job %s after %d polls", ErrPollTimeout, jobID, attempts)
		}
		return nil, fmt.Errorf("failed to poll job %s: %w", jobID, err)
	}

	if final.State == JobErrored {
		return final, &JobError{JobID: jobID, Message: final.Message}
	}
	return final, nil
}
