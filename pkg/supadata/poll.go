package supadata

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultPollInitial = time.Second
	defaultPollCap     = 5 * time.Second
	defaultPollTimeout = 30 * time.Second
)

// ErrJobPending is returned when a transcript job is still running after the
// poll timeout.
var ErrJobPending = eris.New("supadata: transcript job still pending")

// ErrJobFailed is returned when Supadata gives up on a transcript job.
var ErrJobFailed = eris.New("supadata: transcript job failed")

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	initial time.Duration
	cap     time.Duration
	timeout time.Duration
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.initial = d
	}
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.cap = d
	}
}

// WithPollTimeout bounds the total time spent polling.
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.timeout = d
	}
}

// PollTranscript polls TranscriptJob until the job completes, fails, or the
// poll timeout expires. Intervals double up to the cap.
func PollTranscript(ctx context.Context, client Client, jobID string, opts ...PollOption) (*JobResponse, error) {
	cfg := pollConfig{initial: defaultPollInitial, cap: defaultPollCap, timeout: defaultPollTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	deadline := time.NewTimer(cfg.timeout)
	defer deadline.Stop()

	interval := cfg.initial
	for {
		job, err := client.TranscriptJob(ctx, jobID)
		if err != nil {
			return nil, eris.Wrapf(err, "supadata: poll job %s", jobID)
		}

		switch job.Status {
		case JobCompleted:
			return job, nil
		case JobFailed:
			return nil, eris.Wrapf(ErrJobFailed, "job %s: %s", jobID, job.Error)
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrapf(ctx.Err(), "supadata: poll job %s", jobID)
		case <-deadline.C:
			return nil, eris.Wrapf(ErrJobPending, "job %s", jobID)
		case <-time.After(interval):
		}

		interval *= 2
		if interval > cfg.cap {
			interval = cfg.cap
		}
	}
}
