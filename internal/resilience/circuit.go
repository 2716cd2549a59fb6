// Package resilience provides the circuit breaker, rate limiter, and retry
// policy that guard every provider call.
package resilience

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/model"
)

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerStore persists breaker records. UpdateBreaker must run fn inside an
// atomic read-modify-write; a missing record is passed as a zero value with
// Provider set.
type BreakerStore interface {
	GetBreaker(ctx context.Context, provider string) (*model.BreakerState, error)
	UpdateBreaker(ctx context.Context, provider string, fn func(*model.BreakerState) error) (*model.BreakerState, error)
}

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive transient failures before
	// opening the circuit. Default: 3.
	FailureThreshold int

	// CoolDown is how long the circuit stays open before a single probe is
	// allowed. Default: 2h.
	CoolDown time.Duration

	// ProbeTimeout bounds how long an admitted half-open probe blocks other
	// callers. A probe older than this is presumed lost and a new one is
	// admitted. Default: 5m.
	ProbeTimeout time.Duration

	// OnStateChange is called when a provider's circuit changes phase.
	OnStateChange func(provider string, from, to model.BreakerPhase)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		CoolDown:         2 * time.Hour,
		ProbeTimeout:     5 * time.Minute,
	}
}

// Admission is the breaker's verdict for one call.
type Admission struct {
	Allowed bool
	// Probe is true when the call is the single half-open trial.
	Probe bool
	State model.BreakerState
}

// CircuitBreaker applies the closed/open/half-open state machine to persisted
// per-provider records. It holds no state of its own, so several processes
// sharing a store see the same breaker.
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	store BreakerStore

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker over store.
func NewCircuitBreaker(store BreakerStore, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 2 * time.Hour
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Minute
	}
	return &CircuitBreaker{
		cfg:     cfg,
		store:   store,
		nowFunc: time.Now,
	}
}

// SetClock replaces the breaker's time source.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.nowFunc = now
}

// Config returns the effective configuration.
func (cb *CircuitBreaker) Config() CircuitBreakerConfig {
	return cb.cfg
}

// Admit decides whether provider may be called now. Admitting the half-open
// probe is persisted so no other caller probes concurrently.
func (cb *CircuitBreaker) Admit(ctx context.Context, provider string) (Admission, error) {
	var adm Admission
	var from model.BreakerPhase
	st, err := cb.store.UpdateBreaker(ctx, provider, func(s *model.BreakerState) error {
		from = s.Phase()
		adm.Allowed, adm.Probe = cb.admit(s, cb.nowFunc())
		return nil
	})
	if err != nil {
		return Admission{}, eris.Wrapf(err, "breaker: admit %s", provider)
	}
	adm.State = *st
	cb.notify(provider, from, st.Phase())
	return adm, nil
}

// Record applies the result of a provider call. err is the final error after
// retries; nil means success.
func (cb *CircuitBreaker) Record(ctx context.Context, provider string, err error) (*model.BreakerState, error) {
	var from model.BreakerPhase
	st, uerr := cb.store.UpdateBreaker(ctx, provider, func(s *model.BreakerState) error {
		from = s.Phase()
		cb.record(s, cb.nowFunc(), err)
		return nil
	})
	if uerr != nil {
		return nil, eris.Wrapf(uerr, "breaker: record %s", provider)
	}
	cb.notify(provider, from, st.Phase())
	return st, nil
}

// Reset forces a provider's circuit back to closed.
func (cb *CircuitBreaker) Reset(ctx context.Context, provider string) error {
	var from model.BreakerPhase
	st, err := cb.store.UpdateBreaker(ctx, provider, func(s *model.BreakerState) error {
		from = s.Phase()
		*s = model.BreakerState{Provider: provider, State: model.BreakerClosed, UpdatedAt: cb.nowFunc()}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "breaker: reset %s", provider)
	}
	cb.notify(provider, from, st.Phase())
	return nil
}

// Release gives back a half-open probe that was admitted but never called,
// so the next caller may probe without waiting out ProbeTimeout.
func (cb *CircuitBreaker) Release(ctx context.Context, provider string) error {
	_, err := cb.store.UpdateBreaker(ctx, provider, func(s *model.BreakerState) error {
		if s.Phase() == model.BreakerHalfOpen {
			s.ProbeStartedAt = nil
			s.UpdatedAt = cb.nowFunc()
		}
		return nil
	})
	return eris.Wrapf(err, "breaker: release %s", provider)
}

// State returns the provider's effective phase without changing it. An open
// circuit whose cool-down has elapsed reports half-open.
func (cb *CircuitBreaker) State(ctx context.Context, provider string) (model.BreakerState, time.Duration, error) {
	st, err := cb.store.GetBreaker(ctx, provider)
	if err != nil {
		return model.BreakerState{}, 0, eris.Wrapf(err, "breaker: state %s", provider)
	}
	if st == nil {
		return model.BreakerState{Provider: provider, State: model.BreakerClosed}, 0, nil
	}
	out := *st
	out.State = out.Phase()
	var remaining time.Duration
	if out.State == model.BreakerOpen && out.OpenedAt != nil {
		remaining = out.OpenedAt.Add(cb.cfg.CoolDown).Sub(cb.nowFunc())
		if remaining <= 0 {
			remaining = 0
			out.State = model.BreakerHalfOpen
		}
	}
	return out, remaining, nil
}

// admit mutates s for an admission decision at now.
func (cb *CircuitBreaker) admit(s *model.BreakerState, now time.Time) (allowed, probe bool) {
	switch s.Phase() {
	case model.BreakerClosed:
		return true, false
	case model.BreakerOpen:
		if s.OpenedAt != nil && now.Before(s.OpenedAt.Add(cb.cfg.CoolDown)) {
			return false, false
		}
		s.State = model.BreakerHalfOpen
	case model.BreakerHalfOpen:
		if s.ProbeStartedAt != nil && now.Sub(*s.ProbeStartedAt) < cb.cfg.ProbeTimeout {
			return false, false
		}
	}
	s.ProbeStartedAt = timePtr(now)
	s.UpdatedAt = now
	return true, true
}

// record mutates s for a call result at now. Permanent failures neither
// extend nor reset the streak while closed, and resolve a half-open probe as
// healthy because the provider answered.
func (cb *CircuitBreaker) record(s *model.BreakerState, now time.Time, err error) {
	failed := err != nil && Classify(err).Transient()
	s.UpdatedAt = now

	switch s.Phase() {
	case model.BreakerHalfOpen:
		s.ProbeStartedAt = nil
		if failed {
			s.ConsecutiveFailures++
			s.LastFailureAt = timePtr(now)
			s.State = model.BreakerOpen
			s.OpenedAt = timePtr(now)
			return
		}
		s.State = model.BreakerClosed
		s.ConsecutiveFailures = 0
		s.OpenedAt = nil
	case model.BreakerOpen:
		// Late result from a call admitted before another caller opened the
		// circuit; only failures are noted.
		if failed {
			s.ConsecutiveFailures++
			s.LastFailureAt = timePtr(now)
		}
	default:
		s.State = model.BreakerClosed
		switch {
		case err == nil:
			s.ConsecutiveFailures = 0
		case failed:
			s.ConsecutiveFailures++
			s.LastFailureAt = timePtr(now)
			if s.ConsecutiveFailures >= cb.cfg.FailureThreshold {
				s.State = model.BreakerOpen
				s.OpenedAt = timePtr(now)
			}
		}
	}
}

func (cb *CircuitBreaker) notify(provider string, from, to model.BreakerPhase) {
	if from == to {
		return
	}
	zap.L().Info("breaker: state change",
		zap.String("provider", provider),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(provider, from, to)
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
