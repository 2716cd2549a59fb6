package fallback

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ingest-cli/internal/cache"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/resilience"
	"github.com/sells-group/ingest-cli/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const articleURL = "https://example.com/article"

// fakeProvider returns scripted results, one per call; the last result
// repeats once the script runs out.
type fakeProvider struct {
	name     string
	source   model.SourceType
	results  []func(ctx context.Context) (*model.Content, error)
	supports func(string) bool

	mu    sync.Mutex
	calls int
}

func (f *fakeProvider) Name() string                 { return f.name }
func (f *fakeProvider) SourceType() model.SourceType { return f.source }

func (f *fakeProvider) Supports(identifier string) bool {
	if f.supports == nil {
		return true
	}
	return f.supports(identifier)
}

func (f *fakeProvider) Fetch(ctx context.Context, _ model.FetchRequest) (*model.Content, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i](ctx)
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func succeed(body string) func(context.Context) (*model.Content, error) {
	return func(context.Context) (*model.Content, error) {
		return &model.Content{Title: body, Body: body}, nil
	}
}

func fail(kind resilience.Kind) func(context.Context) (*model.Content, error) {
	return func(context.Context) (*model.Content, error) {
		return nil, resilience.Errorf(kind, "scripted %s", kind)
	}
}

// hang blocks until the per-try deadline fires.
func hang(ctx context.Context) (*model.Content, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newProvider(name string, results ...func(context.Context) (*model.Content, error)) *fakeProvider {
	return &fakeProvider{name: name, source: model.SourceWeb, results: results}
}

type harness struct {
	orch    *Orchestrator
	store   *store.SQLiteStore
	breaker *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
	cache   *cache.Cache
	sleeps  []time.Duration

	mu  sync.Mutex
	now time.Time
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

type harnessOpts struct {
	spacing time.Duration
	maxWait time.Duration
	retry   resilience.RetryConfig
}

func newHarness(t *testing.T, opts harnessOpts, providers ...*fakeProvider) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	h := &harness{store: st, now: t0}

	reg := NewRegistry()
	for i, p := range providers {
		require.NoError(t, reg.Register(p, i))
	}

	h.breaker = resilience.NewCircuitBreaker(st, resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		CoolDown:         10 * time.Minute,
		ProbeTimeout:     time.Minute,
	})
	h.breaker.SetClock(h.clock)

	h.limiter = resilience.NewRateLimiter(st, resilience.RateLimiterConfig{MinSpacing: opts.spacing})
	h.limiter.SetClock(h.clock, func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		h.advance(d)
		return nil
	})

	h.cache = cache.New(st, cache.Config{TTL: 300 * time.Second})
	h.cache.SetClock(h.clock)

	retry := opts.retry
	if retry.MaxAttempts == 0 {
		retry = resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     1,
			AttemptTimeout: 100 * time.Millisecond,
		}
	}

	h.orch = New(reg, h.cache, h.breaker, h.limiter, st, Config{Retry: retry, MaxWait: opts.maxWait})
	h.orch.SetClock(h.clock)
	return h
}

func webReq() model.FetchRequest {
	return model.FetchRequest{SourceType: model.SourceWeb, Identifier: articleURL}
}

func attemptStrings(attempts []model.Attempt) []string {
	out := make([]string, len(attempts))
	for i, a := range attempts {
		out[i] = a.String()
	}
	return out
}

func openBreaker(t *testing.T, h *harness, provider string) {
	t.Helper()
	for i := 0; i < 3; i++ {
		_, err := h.breaker.Record(context.Background(), provider, resilience.Errorf(resilience.KindTransient, "down"))
		require.NoError(t, err)
	}
}

func TestFetch_FirstProviderSucceeds(t *testing.T) {
	a := newProvider("A", succeed("from A"))
	b := newProvider("B", succeed("from B"))
	h := newHarness(t, harnessOpts{}, a, b)

	out, err := h.orch.Fetch(context.Background(), webReq())
	require.NoError(t, err)
	assert.Equal(t, "A", out.Provider)
	assert.Equal(t, "from A", out.Content.Body)
	assert.False(t, out.ServedFromCache)
	assert.Equal(t, []string{"A succeeded"}, attemptStrings(out.Attempts))
	assert.NotEmpty(t, out.RequestID)
	assert.Equal(t, webReq().Fingerprint(), out.Fingerprint)
	assert.Equal(t, 0, b.Calls())
}

func TestFetch_OpenBreakerTimeoutThenRetrySuccess(t *testing.T) {
	a := newProvider("A", succeed("from A"))
	b := newProvider("B", hang, succeed("from B"))
	h := newHarness(t, harnessOpts{}, a, b)
	openBreaker(t, h, "A")

	out, err := h.orch.Fetch(context.Background(), webReq())
	require.NoError(t, err)

	assert.Equal(t, "B", out.Provider)
	assert.Equal(t, "from B", out.Content.Body)
	assert.Equal(t,
		[]string{"A skipped(breaker-open)", "B failed(timeout)", "B succeeded(retry)"},
		attemptStrings(out.Attempts))
	assert.Equal(t, 0, a.Calls(), "open breaker must prevent any call")
	assert.Equal(t, 2, b.Calls())

	// B succeeded, so its streak is back to zero.
	st, _, err := h.breaker.State(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, model.BreakerClosed, st.State)
	assert.Equal(t, 0, st.ConsecutiveFailures)

	entry, ok := h.cache.Lookup(context.Background(), out.Fingerprint)
	require.True(t, ok)
	assert.Equal(t, "B", entry.Provider)

	recs, err := h.store.ListAttempts(context.Background(), store.AttemptFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.Equal(t, out.RequestID, r.RequestID)
	}
}

func TestFetch_AllPermanentFailuresKeepBreakersClosed(t *testing.T) {
	a := newProvider("A", fail(resilience.KindNotFound))
	b := newProvider("B", fail(resilience.KindNotFound))
	h := newHarness(t, harnessOpts{}, a, b)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := h.orch.Fetch(ctx, webReq())
		require.Error(t, err)

		var exhausted *AllProvidersExhaustedError
		require.True(t, errors.As(err, &exhausted))
		assert.Equal(t, VerdictInvalidIdentifier, exhausted.Verdict())
		assert.Equal(t, resilience.KindNotFound, exhausted.Kind())
		assert.Equal(t, []string{"A failed(not_found)", "B failed(not_found)"}, attemptStrings(exhausted.Attempts))
	}

	// Permanent errors are never retried and never trip a breaker.
	assert.Equal(t, 4, a.Calls())
	assert.Equal(t, 4, b.Calls())
	for _, p := range []string{"A", "B"} {
		st, _, err := h.breaker.State(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, model.BreakerClosed, st.State, p)
		assert.Equal(t, 0, st.ConsecutiveFailures, p)
	}
}

func TestFetch_ExhaustedErrorUnwrapsProviderErrors(t *testing.T) {
	a := newProvider("A", fail(resilience.KindUnauthorized))
	h := newHarness(t, harnessOpts{}, a)

	_, err := h.orch.Fetch(context.Background(), webReq())
	require.Error(t, err)

	var pe *resilience.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "A", pe.Provider)
	assert.Equal(t, resilience.KindUnauthorized, pe.Kind)
	assert.Contains(t, err.Error(), "A failed(unauthorized)")
}

func TestFetch_ExhaustedKindUsesFinalTry(t *testing.T) {
	a := newProvider("A", fail(resilience.KindTimeout), fail(resilience.KindNotFound))
	b := newProvider("B", fail(resilience.KindNotFound))
	h := newHarness(t, harnessOpts{}, a, b)

	_, err := h.orch.Fetch(context.Background(), webReq())
	var exhausted *AllProvidersExhaustedError
	require.True(t, errors.As(err, &exhausted))

	require.Len(t, exhausted.Attempts, 3)
	assert.Equal(t, string(resilience.KindTimeout), exhausted.Attempts[0].Kind)
	assert.Equal(t, VerdictInvalidIdentifier, exhausted.Verdict())
	assert.Equal(t, resilience.KindNotFound, exhausted.Kind())
	assert.Equal(t, 2, a.Calls())
	assert.Equal(t, 1, b.Calls())
}

func TestFetch_NoProviderSupportsIdentifier(t *testing.T) {
	a := newProvider("A", succeed("from A"))
	a.supports = func(string) bool { return false }
	b := newProvider("B", succeed("from B"))
	b.supports = func(string) bool { return false }
	h := newHarness(t, harnessOpts{}, a, b)

	_, err := h.orch.Fetch(context.Background(), webReq())
	var exhausted *AllProvidersExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, []string{"A skipped(unsupported)", "B skipped(unsupported)"}, attemptStrings(exhausted.Attempts))
	assert.Equal(t, VerdictInvalidIdentifier, exhausted.Verdict())
	assert.Equal(t, resilience.Kind(""), exhausted.Kind())
	assert.Equal(t, 0, a.Calls())
	assert.Equal(t, 0, b.Calls())
}

func TestExhaustedVerdict_UnsupportedWithBreakerSkipIsUnhealthy(t *testing.T) {
	e := &AllProvidersExhaustedError{Attempts: []model.Attempt{
		{Provider: "A", Result: model.AttemptSkipped, SkipReason: model.SkipUnsupported},
		{Provider: "B", Result: model.AttemptSkipped, SkipReason: model.SkipBreakerOpen},
	}}
	assert.Equal(t, VerdictUnhealthy, e.Verdict())
	assert.Equal(t, resilience.Kind(""), e.Kind())
}

func TestFetch_OrderIsStable(t *testing.T) {
	a := newProvider("A", fail(resilience.KindTransient))
	b := newProvider("B", fail(resilience.KindTransient))
	c := newProvider("C", fail(resilience.KindTransient))
	h := newHarness(t, harnessOpts{retry: resilience.RetryConfig{MaxAttempts: 1}}, a, b, c)

	for i := 0; i < 2; i++ {
		_, err := h.orch.Fetch(context.Background(), webReq())
		var exhausted *AllProvidersExhaustedError
		require.True(t, errors.As(err, &exhausted))
		assert.Equal(t, []string{"A failed(transient)", "B failed(transient)", "C failed(transient)"},
			attemptStrings(exhausted.Attempts))
		assert.Equal(t, VerdictUnhealthy, exhausted.Verdict())
	}
}

func TestFetch_ExplicitOrderOverride(t *testing.T) {
	a := newProvider("A", succeed("from A"))
	b := newProvider("B", succeed("from B"))
	h := newHarness(t, harnessOpts{}, a, b)

	out, err := h.orch.Fetch(context.Background(), webReq(), "B", "A")
	require.NoError(t, err)
	assert.Equal(t, "B", out.Provider)
	assert.Equal(t, 0, a.Calls())
}

func TestFetch_UnknownProviderIsConfigError(t *testing.T) {
	a := newProvider("A", succeed("from A"))
	h := newHarness(t, harnessOpts{}, a)

	_, err := h.orch.Fetch(context.Background(), webReq(), "A", "nope")
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Equal(t, 0, a.Calls(), "config errors surface before any attempt")
}

func TestFetch_EmptyOrderIsConfigError(t *testing.T) {
	a := newProvider("A", succeed("x"))
	h := newHarness(t, harnessOpts{}, a)

	_, err := h.orch.Fetch(context.Background(), model.FetchRequest{SourceType: model.SourcePDF, Identifier: "https://x/a.pdf"})
	assert.True(t, IsConfigError(err))
}

func TestFetch_InvalidRequest(t *testing.T) {
	h := newHarness(t, harnessOpts{}, newProvider("A", succeed("x")))

	_, err := h.orch.Fetch(context.Background(), model.FetchRequest{SourceType: model.SourceWeb, Identifier: "   "})
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	_, err = h.orch.Fetch(context.Background(), model.FetchRequest{SourceType: "podcast", Identifier: "x"})
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestFetch_DetectsSourceType(t *testing.T) {
	a := newProvider("A", succeed("x"))
	h := newHarness(t, harnessOpts{}, a)

	out, err := h.orch.Fetch(context.Background(), model.FetchRequest{Identifier: articleURL})
	require.NoError(t, err)
	assert.Equal(t, model.SourceWeb, out.SourceType)
}

func TestFetch_RepeatServedFromCache(t *testing.T) {
	a := newProvider("A", succeed("from A"))
	h := newHarness(t, harnessOpts{}, a)
	ctx := context.Background()

	first, err := h.orch.Fetch(ctx, webReq())
	require.NoError(t, err)

	h.advance(299 * time.Second)
	second, err := h.orch.Fetch(ctx, webReq())
	require.NoError(t, err)

	assert.True(t, second.ServedFromCache)
	assert.Equal(t, "A", second.Provider)
	assert.Empty(t, second.Attempts)
	assert.Equal(t, first.Content.Body, second.Content.Body)
	assert.Equal(t, 1, a.Calls())

	h.advance(2 * time.Second)
	third, err := h.orch.Fetch(ctx, webReq())
	require.NoError(t, err)
	assert.False(t, third.ServedFromCache, "expired entries are misses")
	assert.Equal(t, 2, a.Calls())
}

func TestFetch_NoCacheOptionBypassesLookup(t *testing.T) {
	a := newProvider("A", succeed("from A"))
	h := newHarness(t, harnessOpts{}, a)
	ctx := context.Background()

	_, err := h.orch.Fetch(ctx, webReq())
	require.NoError(t, err)

	req := webReq()
	req.Options = map[string]string{"no_cache": "true"}
	out, err := h.orch.Fetch(ctx, req)
	require.NoError(t, err)
	assert.False(t, out.ServedFromCache)
	assert.Equal(t, 2, a.Calls())
}

func TestFetch_UnsupportedIdentifierSkipped(t *testing.T) {
	a := newProvider("A", succeed("from A"))
	a.supports = func(string) bool { return false }
	b := newProvider("B", succeed("from B"))
	h := newHarness(t, harnessOpts{}, a, b)

	out, err := h.orch.Fetch(context.Background(), webReq())
	require.NoError(t, err)
	assert.Equal(t, []string{"A skipped(unsupported)", "B succeeded"}, attemptStrings(out.Attempts))
}

func TestFetch_RateLimitedProviderSkippedWhenOthersRemain(t *testing.T) {
	a := newProvider("A", succeed("from A"))
	b := newProvider("B", succeed("from B"))
	h := newHarness(t, harnessOpts{spacing: 2 * time.Second}, a, b)
	ctx := context.Background()

	_, err := h.orch.Fetch(ctx, webReq())
	require.NoError(t, err)
	_, err = h.orch.InvalidateCache(ctx, "")
	require.NoError(t, err)

	h.advance(1500 * time.Millisecond)
	out, err := h.orch.Fetch(ctx, webReq())
	require.NoError(t, err)
	assert.Equal(t, []string{"A skipped(rate-limited)", "B succeeded"}, attemptStrings(out.Attempts))
	assert.Empty(t, h.sleeps)
}

func TestFetch_LastCandidateWaitsWithinCeiling(t *testing.T) {
	a := newProvider("A", succeed("from A"))
	h := newHarness(t, harnessOpts{spacing: 2 * time.Second, maxWait: time.Second}, a)
	ctx := context.Background()

	_, err := h.orch.Fetch(ctx, webReq())
	require.NoError(t, err)
	_, err = h.orch.InvalidateCache(ctx, "")
	require.NoError(t, err)

	h.advance(1500 * time.Millisecond)
	out, err := h.orch.Fetch(ctx, webReq())
	require.NoError(t, err)
	assert.Equal(t, []string{"A succeeded"}, attemptStrings(out.Attempts))
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, h.sleeps)
}

func TestFetch_LastCandidateSkippedBeyondCeiling(t *testing.T) {
	a := newProvider("A", succeed("from A"))
	h := newHarness(t, harnessOpts{spacing: 2 * time.Second, maxWait: 100 * time.Millisecond}, a)
	ctx := context.Background()

	_, err := h.orch.Fetch(ctx, webReq())
	require.NoError(t, err)
	_, err = h.orch.InvalidateCache(ctx, "")
	require.NoError(t, err)

	h.advance(1500 * time.Millisecond)
	_, err = h.orch.Fetch(ctx, webReq())
	var exhausted *AllProvidersExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, []string{"A skipped(rate-limited)"}, attemptStrings(exhausted.Attempts))
	assert.Equal(t, VerdictUnhealthy, exhausted.Verdict())
	assert.Equal(t, 1, a.Calls())
}

func TestFetch_HalfOpenProbeClosesBreaker(t *testing.T) {
	a := newProvider("A", succeed("from A"))
	h := newHarness(t, harnessOpts{}, a)
	ctx := context.Background()
	openBreaker(t, h, "A")

	_, err := h.orch.Fetch(ctx, webReq())
	require.Error(t, err)
	assert.Equal(t, 0, a.Calls())

	h.advance(11 * time.Minute)
	out, err := h.orch.Fetch(ctx, webReq())
	require.NoError(t, err)
	assert.Equal(t, "A", out.Provider)

	st, _, err := h.breaker.State(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, model.BreakerClosed, st.State)
}

func TestFetch_HalfOpenProbeMakesSingleCall(t *testing.T) {
	a := newProvider("A", fail(resilience.KindTransient))
	h := newHarness(t, harnessOpts{}, a)
	ctx := context.Background()
	openBreaker(t, h, "A")

	h.advance(11 * time.Minute)
	_, err := h.orch.Fetch(ctx, webReq())
	var exhausted *AllProvidersExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, []string{"A failed(transient)"}, attemptStrings(exhausted.Attempts))
	assert.Equal(t, 1, a.Calls())

	st, _, err := h.breaker.State(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, model.BreakerOpen, st.State)
}

func TestFetch_TransientFailuresOpenBreakerAcrossRequests(t *testing.T) {
	a := newProvider("A", fail(resilience.KindTransient))
	b := newProvider("B", succeed("from B"))
	h := newHarness(t, harnessOpts{retry: resilience.RetryConfig{MaxAttempts: 1}}, a, b)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req := webReq()
		req.Options = map[string]string{"no_cache": "true"}
		_, err := h.orch.Fetch(ctx, req)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, a.Calls())

	req := webReq()
	req.Options = map[string]string{"no_cache": "true"}
	out, err := h.orch.Fetch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"A skipped(breaker-open)", "B succeeded"}, attemptStrings(out.Attempts))
	assert.Equal(t, 3, a.Calls())
}

func TestFetch_CancelledContextDoesNotTripBreaker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := newProvider("A", func(context.Context) (*model.Content, error) {
		cancel()
		return nil, context.Canceled
	})
	b := newProvider("B", succeed("from B"))
	h := newHarness(t, harnessOpts{}, a, b)

	_, err := h.orch.Fetch(ctx, webReq())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, b.Calls())

	st, _, err := h.breaker.State(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 0, st.ConsecutiveFailures)
}

func TestInspectHealth(t *testing.T) {
	a := newProvider("A", fail(resilience.KindTransient))
	b := newProvider("B", succeed("from B"))
	h := newHarness(t, harnessOpts{retry: resilience.RetryConfig{MaxAttempts: 1}}, a, b)
	ctx := context.Background()

	_, err := h.orch.Fetch(ctx, webReq())
	require.NoError(t, err)
	openBreaker(t, h, "A")
	h.advance(4 * time.Minute)

	health, err := h.orch.InspectHealth(ctx)
	require.NoError(t, err)
	require.Len(t, health, 2)

	assert.Equal(t, "A", health[0].Provider)
	assert.Equal(t, model.BreakerOpen, health[0].State)
	assert.Equal(t, 6*time.Minute, health[0].CoolDownRemaining)
	assert.Equal(t, 1, health[0].RecentFailures)
	assert.Equal(t, model.SourceWeb, health[0].SourceType)

	assert.Equal(t, "B", health[1].Provider)
	assert.Equal(t, model.BreakerClosed, health[1].State)
	require.NotNil(t, health[1].LastRequestAt)
	assert.True(t, health[1].LastRequestAt.Equal(t0))

	// Inspection is read-only: the breaker is still open afterwards.
	again, err := h.orch.ProviderHealth(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, model.BreakerOpen, again.State)
}

func TestResetProvider(t *testing.T) {
	a := newProvider("A", succeed("from A"))
	h := newHarness(t, harnessOpts{}, a)
	ctx := context.Background()
	openBreaker(t, h, "A")

	require.NoError(t, h.orch.ResetProvider(ctx, "A"))
	out, err := h.orch.Fetch(ctx, webReq())
	require.NoError(t, err)
	assert.Equal(t, "A", out.Provider)

	assert.True(t, IsConfigError(h.orch.ResetProvider(ctx, "nope")))
}

func TestHistory(t *testing.T) {
	a := newProvider("A", fail(resilience.KindNotFound))
	b := newProvider("B", succeed("from B"))
	h := newHarness(t, harnessOpts{}, a, b)
	ctx := context.Background()

	_, err := h.orch.Fetch(ctx, webReq())
	require.NoError(t, err)

	recs, err := h.orch.History(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.AttemptFailed, recs[0].Result)
	assert.Equal(t, "not_found", recs[0].Kind)

	_, err = h.orch.History(ctx, "nope", 10)
	assert.True(t, IsConfigError(err))
}

func TestInvalidateCache(t *testing.T) {
	a := newProvider("A", succeed("from A"))
	h := newHarness(t, harnessOpts{}, a)
	ctx := context.Background()

	out, err := h.orch.Fetch(ctx, webReq())
	require.NoError(t, err)

	n, err := h.orch.InvalidateCache(ctx, out.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.orch.InvalidateCache(ctx, out.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = h.orch.Fetch(ctx, webReq())
	require.NoError(t, err)
	n, err = h.orch.InvalidateRequest(ctx, model.FetchRequest{Identifier: articleURL})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, a.Calls())
}
