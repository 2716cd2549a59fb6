package resilience

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/ingest-cli/internal/model"
)

// LimiterStore persists rate limiter records with the same atomic
// read-modify-write contract as BreakerStore.
type LimiterStore interface {
	GetLimiter(ctx context.Context, provider string) (*model.LimiterState, error)
	UpdateLimiter(ctx context.Context, provider string, fn func(*model.LimiterState) error) (*model.LimiterState, error)
}

// RateLimiterConfig controls per-provider request spacing.
type RateLimiterConfig struct {
	// MinSpacing is the minimum interval between two requests to the same
	// provider. Zero disables limiting. Default: 2s.
	MinSpacing time.Duration

	// Overrides sets a provider-specific spacing.
	Overrides map[string]time.Duration
}

// Decision is the limiter's verdict for one request.
type Decision struct {
	Allowed bool
	// Wait is how long until the provider accepts a request when not allowed.
	Wait time.Duration
}

// RateLimiter enforces a minimum spacing between requests to each provider.
// Decisions depend only on the persisted last-request time and the clock.
type RateLimiter struct {
	cfg   RateLimiterConfig
	store LimiterStore

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter creates a limiter over store.
func NewRateLimiter(store LimiterStore, cfg RateLimiterConfig) *RateLimiter {
	if cfg.MinSpacing < 0 {
		cfg.MinSpacing = 0
	}
	return &RateLimiter{
		cfg:       cfg,
		store:     store,
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}
}

// SetClock replaces the limiter's time source and sleep function. A nil
// sleep keeps the current one.
func (rl *RateLimiter) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	rl.nowFunc = now
	if sleep != nil {
		rl.sleepFunc = sleep
	}
}

// Spacing returns the effective minimum spacing for provider.
func (rl *RateLimiter) Spacing(provider string) time.Duration {
	if d, ok := rl.cfg.Overrides[provider]; ok {
		return d
	}
	return rl.cfg.MinSpacing
}

// TryAcquire claims a request slot for provider if spacing allows it. An
// allowed decision records the request time.
func (rl *RateLimiter) TryAcquire(ctx context.Context, provider string) (Decision, error) {
	spacing := rl.Spacing(provider)
	var d Decision
	_, err := rl.store.UpdateLimiter(ctx, provider, func(s *model.LimiterState) error {
		now := rl.nowFunc()
		d = decide(s.LastRequestAt, now, spacing)
		if d.Allowed {
			s.LastRequestAt = timePtr(now)
		}
		return nil
	})
	if err != nil {
		return Decision{}, eris.Wrapf(err, "ratelimit: acquire %s", provider)
	}
	return d, nil
}

// Acquire waits for a slot, but never longer than maxWait in total. It
// returns the last rejected decision when the ceiling would be exceeded.
func (rl *RateLimiter) Acquire(ctx context.Context, provider string, maxWait time.Duration) (Decision, error) {
	var waited time.Duration
	for {
		d, err := rl.TryAcquire(ctx, provider)
		if err != nil || d.Allowed {
			return d, err
		}
		if waited+d.Wait > maxWait {
			return d, nil
		}
		if err := rl.sleepFunc(ctx, d.Wait); err != nil {
			return Decision{}, eris.Wrap(err, "ratelimit: wait")
		}
		waited += d.Wait
	}
}

// Peek reports the decision TryAcquire would make without claiming a slot.
func (rl *RateLimiter) Peek(ctx context.Context, provider string) (Decision, *time.Time, error) {
	s, err := rl.store.GetLimiter(ctx, provider)
	if err != nil {
		return Decision{}, nil, eris.Wrapf(err, "ratelimit: peek %s", provider)
	}
	var last *time.Time
	if s != nil {
		last = s.LastRequestAt
	}
	return decide(last, rl.nowFunc(), rl.Spacing(provider)), last, nil
}

// decide replays the last request into a single-token limiter refilling once
// per spacing, then asks it about now.
func decide(last *time.Time, now time.Time, spacing time.Duration) Decision {
	if spacing <= 0 || last == nil {
		return Decision{Allowed: true}
	}
	lim := rate.NewLimiter(rate.Every(spacing), 1)
	lim.AllowN(*last, 1)
	if lim.AllowN(now, 1) {
		return Decision{Allowed: true}
	}
	r := lim.ReserveN(now, 1)
	return Decision{Wait: r.DelayFrom(now)}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
