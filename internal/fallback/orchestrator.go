// Package fallback resolves a fetch request against an ordered list of
// providers, consulting the cache, each provider's circuit breaker and rate
// limiter, and the retry policy along the way.
package fallback

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/cache"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/resilience"
	"github.com/sells-group/ingest-cli/internal/store"
)

// AttemptLog persists attempt history for health reporting.
type AttemptLog interface {
	RecordAttempts(ctx context.Context, records []model.AttemptRecord) error
	ListAttempts(ctx context.Context, filter store.AttemptFilter) ([]model.AttemptRecord, error)
	CountFailures(ctx context.Context, provider string, since time.Time) (int, error)
}

// Config tunes orchestration policy.
type Config struct {
	Retry resilience.RetryConfig

	// MaxWait caps how long a rate-limited provider is waited for when it is
	// the last candidate or listed in WaitProviders. Default: 5s.
	MaxWait time.Duration

	// WaitProviders are always waited for (within MaxWait) instead of skipped.
	WaitProviders []string

	// FailureWindow is the look-back for ProviderHealth.RecentFailures.
	// Default: 24h.
	FailureWindow time.Duration
}

// Orchestrator runs the fallback chain for fetch requests.
type Orchestrator struct {
	registry *Registry
	cache    *cache.Cache
	breaker  *resilience.CircuitBreaker
	limiter  *resilience.RateLimiter
	log      AttemptLog
	cfg      Config
	wait     map[string]bool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
	newID   func() string
}

// New creates an Orchestrator. log may be nil to disable the attempt log.
func New(reg *Registry, c *cache.Cache, cb *resilience.CircuitBreaker, rl *resilience.RateLimiter, log AttemptLog, cfg Config) *Orchestrator {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Second
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 24 * time.Hour
	}
	wait := make(map[string]bool, len(cfg.WaitProviders))
	for _, p := range cfg.WaitProviders {
		wait[p] = true
	}
	return &Orchestrator{
		registry: reg,
		cache:    c,
		breaker:  cb,
		limiter:  rl,
		log:      log,
		cfg:      cfg,
		wait:     wait,
		nowFunc:  time.Now,
		newID:    uuid.NewString,
	}
}

// SetClock replaces the orchestrator's time source.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.nowFunc = now
}

// Registry returns the provider registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Fetch returns content for req from the cache or the first provider that
// succeeds. A non-empty order replaces the configured provider order for
// this call. When every provider fails the error is an
// *AllProvidersExhaustedError carrying the attempt history.
func (o *Orchestrator) Fetch(ctx context.Context, req model.FetchRequest, order ...string) (*model.FetchOutcome, error) {
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" {
		return nil, eris.Wrap(ErrInvalidRequest, "empty identifier")
	}
	if req.SourceType == "" {
		st, ok := model.DetectSourceType(req.Identifier)
		if !ok {
			return nil, eris.Wrapf(ErrInvalidRequest, "cannot detect source type of %q", req.Identifier)
		}
		req.SourceType = st
	}
	if !req.SourceType.Valid() {
		return nil, eris.Wrapf(ErrInvalidRequest, "unknown source type %q", req.SourceType)
	}

	candidates, err := o.registry.Resolve(req.SourceType, order)
	if err != nil {
		return nil, err
	}

	out := &model.FetchOutcome{
		RequestID:   o.newID(),
		Fingerprint: req.Fingerprint(),
		SourceType:  req.SourceType,
		Attempts:    []model.Attempt{},
	}

	if req.Option("no_cache", "") != "true" {
		if entry, ok := o.cache.Lookup(ctx, out.Fingerprint); ok {
			zap.L().Debug("fallback: cache hit",
				zap.String("fingerprint", out.Fingerprint),
				zap.String("provider", entry.Provider),
			)
			content := entry.Value
			out.Content = &content
			out.Provider = entry.Provider
			out.ServedFromCache = true
			return out, nil
		}
	}

	var errs []error
	for i, d := range candidates {
		last := i == len(candidates)-1
		attempts, content, ferr := o.try(ctx, req, d, last)
		out.Attempts = append(out.Attempts, attempts...)

		if ferr == nil && content != nil {
			out.Content = content
			out.Provider = d.Name
			o.cache.Store(ctx, req, d.Name, content)
			o.record(ctx, out)
			zap.L().Info("fallback: fetched",
				zap.String("request_id", out.RequestID),
				zap.String("source_type", string(req.SourceType)),
				zap.String("provider", d.Name),
				zap.String("attempts", out.Trail()),
			)
			return out, nil
		}
		if ferr != nil {
			errs = append(errs, ferr)
		}
		if ctx.Err() != nil {
			o.record(context.WithoutCancel(ctx), out)
			return nil, eris.Wrap(ctx.Err(), "fallback: fetch cancelled")
		}
	}

	o.record(ctx, out)
	exhausted := &AllProvidersExhaustedError{
		SourceType: req.SourceType,
		Identifier: req.Identifier,
		Attempts:   out.Attempts,
		Errors:     errs,
	}
	zap.L().Warn("fallback: all providers exhausted",
		zap.String("request_id", out.RequestID),
		zap.String("identifier", req.Identifier),
		zap.String("verdict", string(exhausted.Verdict())),
		zap.String("attempts", out.Trail()),
	)
	return nil, exhausted
}

// try runs one candidate through its breaker, limiter, and retry policy. It
// returns the attempts to append and either content or the provider's final
// error. Skips return neither.
func (o *Orchestrator) try(ctx context.Context, req model.FetchRequest, d Descriptor, last bool) ([]model.Attempt, *model.Content, error) {
	skip := func(reason string) []model.Attempt {
		zap.L().Debug("fallback: skipping provider",
			zap.String("provider", d.Name),
			zap.String("reason", reason),
		)
		return []model.Attempt{{Provider: d.Name, Result: model.AttemptSkipped, SkipReason: reason}}
	}

	if !d.Provider.Supports(req.Identifier) {
		return skip(model.SkipUnsupported), nil, nil
	}

	adm, err := o.breaker.Admit(ctx, d.Name)
	if err != nil {
		// Fail open on store errors.
		zap.L().Warn("fallback: breaker unavailable", zap.String("provider", d.Name), zap.Error(err))
		adm.Allowed = true
	}
	if !adm.Allowed {
		return skip(model.SkipBreakerOpen), nil, nil
	}

	var dec resilience.Decision
	if last || o.wait[d.Name] {
		dec, err = o.limiter.Acquire(ctx, d.Name, o.cfg.MaxWait)
	} else {
		dec, err = o.limiter.TryAcquire(ctx, d.Name)
	}
	if err != nil {
		if ctx.Err() != nil {
			o.release(context.WithoutCancel(ctx), d.Name, adm)
			return nil, nil, ctx.Err()
		}
		zap.L().Warn("fallback: rate limiter unavailable", zap.String("provider", d.Name), zap.Error(err))
		dec.Allowed = true
	}
	if !dec.Allowed {
		o.release(ctx, d.Name, adm)
		return skip(model.SkipRateLimited), nil, nil
	}

	retryCfg := o.cfg.Retry
	if adm.Probe {
		// A half-open trial is a single call.
		retryCfg.MaxAttempts = 1
	}
	retryCfg.OnRetry = resilience.RetryLogger(d.Name, req.Identifier)
	content, tries, ferr := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*model.Content, error) {
		c, err := d.Provider.Fetch(ctx, req)
		if err == nil && c == nil {
			return nil, resilience.Malformed("empty result")
		}
		return c, err
	})

	attempts := make([]model.Attempt, len(tries))
	for i, t := range tries {
		a := model.Attempt{Provider: d.Name, Try: t.N, Elapsed: t.Elapsed, Result: model.AttemptSucceeded}
		if t.Err != nil {
			a.Result = model.AttemptFailed
			a.Kind = string(t.Kind)
			a.Error = t.Err.Error()
		}
		attempts[i] = a
	}

	if ferr != nil && ctx.Err() != nil {
		// Cancelled by the caller, not a provider failure.
		o.release(context.WithoutCancel(ctx), d.Name, adm)
		return attempts, nil, resilience.AsProviderError(d.Name, ferr)
	}
	if _, rerr := o.breaker.Record(ctx, d.Name, ferr); rerr != nil {
		zap.L().Warn("fallback: record breaker result failed", zap.String("provider", d.Name), zap.Error(rerr))
	}
	if ferr != nil {
		return attempts, nil, resilience.AsProviderError(d.Name, ferr)
	}
	return attempts, content, nil
}

func (o *Orchestrator) release(ctx context.Context, provider string, adm resilience.Admission) {
	if !adm.Probe {
		return
	}
	if err := o.breaker.Release(ctx, provider); err != nil {
		zap.L().Warn("fallback: release probe failed", zap.String("provider", provider), zap.Error(err))
	}
}

func (o *Orchestrator) record(ctx context.Context, out *model.FetchOutcome) {
	if o.log == nil || len(out.Attempts) == 0 {
		return
	}
	now := o.nowFunc().UTC()
	records := make([]model.AttemptRecord, len(out.Attempts))
	for i, a := range out.Attempts {
		records[i] = model.AttemptRecord{
			ID:          o.newID(),
			RequestID:   out.RequestID,
			Fingerprint: out.Fingerprint,
			SourceType:  out.SourceType,
			Attempt:     a,
			CreatedAt:   now,
		}
	}
	if err := o.log.RecordAttempts(ctx, records); err != nil {
		zap.L().Warn("fallback: record attempts failed", zap.String("request_id", out.RequestID), zap.Error(err))
	}
}

// InvalidateCache removes the entry for fingerprint, or every entry when
// fingerprint is empty. It returns the number of entries removed.
func (o *Orchestrator) InvalidateCache(ctx context.Context, fingerprint string) (int, error) {
	if fingerprint == "" {
		return o.cache.Clear(ctx)
	}
	ok, err := o.cache.Invalidate(ctx, fingerprint)
	if err != nil || !ok {
		return 0, err
	}
	return 1, nil
}

// InvalidateRequest removes the cached entry matching req, if any.
func (o *Orchestrator) InvalidateRequest(ctx context.Context, req model.FetchRequest) (int, error) {
	if req.SourceType == "" {
		req.SourceType, _ = model.DetectSourceType(req.Identifier)
	}
	return o.InvalidateCache(ctx, req.Fingerprint())
}

// InspectHealth reports every registered provider's breaker and limiter
// state. It never changes state.
func (o *Orchestrator) InspectHealth(ctx context.Context) ([]model.ProviderHealth, error) {
	since := o.nowFunc().Add(-o.cfg.FailureWindow)
	descs := o.registry.Descriptors()
	out := make([]model.ProviderHealth, 0, len(descs))
	for _, d := range descs {
		h, err := o.health(ctx, d, since)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// ProviderHealth reports a single provider.
func (o *Orchestrator) ProviderHealth(ctx context.Context, name string) (model.ProviderHealth, error) {
	d, ok := o.registry.Lookup(name)
	if !ok {
		return model.ProviderHealth{}, &ConfigError{Msg: "unknown provider: " + name}
	}
	return o.health(ctx, d, o.nowFunc().Add(-o.cfg.FailureWindow))
}

func (o *Orchestrator) health(ctx context.Context, d Descriptor, since time.Time) (model.ProviderHealth, error) {
	st, remaining, err := o.breaker.State(ctx, d.Name)
	if err != nil {
		return model.ProviderHealth{}, err
	}
	h := model.ProviderHealth{
		Provider:            d.Name,
		SourceType:          d.SourceType,
		State:               st.State,
		ConsecutiveFailures: st.ConsecutiveFailures,
		OpenedAt:            st.OpenedAt,
		CoolDownRemaining:   remaining,
	}
	if _, last, err := o.limiter.Peek(ctx, d.Name); err == nil {
		h.LastRequestAt = last
	} else {
		zap.L().Debug("fallback: limiter state unavailable", zap.String("provider", d.Name), zap.Error(err))
	}
	if o.log != nil {
		n, err := o.log.CountFailures(ctx, d.Name, since)
		if err != nil {
			return model.ProviderHealth{}, eris.Wrapf(err, "fallback: count failures %s", d.Name)
		}
		h.RecentFailures = n
	}
	return h, nil
}

// ResetProvider closes a provider's circuit.
func (o *Orchestrator) ResetProvider(ctx context.Context, name string) error {
	if _, ok := o.registry.Lookup(name); !ok {
		return &ConfigError{Msg: "unknown provider: " + name}
	}
	return o.breaker.Reset(ctx, name)
}

// History returns recent attempts, newest first. An empty provider lists
// every provider.
func (o *Orchestrator) History(ctx context.Context, provider string, limit int) ([]model.AttemptRecord, error) {
	if o.log == nil {
		return nil, nil
	}
	if provider != "" {
		if _, ok := o.registry.Lookup(provider); !ok {
			return nil, &ConfigError{Msg: "unknown provider: " + provider}
		}
	}
	recs, err := o.log.ListAttempts(ctx, store.AttemptFilter{
		Provider: provider,
		Since:    o.nowFunc().Add(-o.cfg.FailureWindow),
		Limit:    limit,
	})
	return recs, eris.Wrap(err, "fallback: history")
}

// IsConfigError reports whether err is a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
