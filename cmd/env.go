package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/cache"
	"github.com/sells-group/ingest-cli/internal/config"
	"github.com/sells-group/ingest-cli/internal/fallback"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/provider"
	"github.com/sells-group/ingest-cli/internal/resilience"
	"github.com/sells-group/ingest-cli/internal/store"
)

// fetchEnv holds the store, cache, and orchestrator shared by the fetch,
// batch, health, cache, and serve commands.
type fetchEnv struct {
	Store        store.Store
	Cache        *cache.Cache
	Orchestrator *fallback.Orchestrator
}

// Close releases the store.
func (e *fetchEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates the config for mode, opens the store, builds every
// configured provider, and wires the orchestrator. Callers should defer
// env.Close().
func initEnv(ctx context.Context, mode string) (*fetchEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	if err := cfg.ValidateOrders(provider.KnownNames()); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	providers, err := provider.Build(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "build providers")
	}

	env, err := newFetchEnv(st, providers, cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return env, nil
}

// newFetchEnv wires providers over st according to c.
func newFetchEnv(st store.Store, providers []provider.Provider, c *config.Config) (*fetchEnv, error) {
	reg := fallback.NewRegistry()
	for _, p := range providers {
		if err := reg.Register(p, provider.Priority(p.Name())); err != nil {
			return nil, err
		}
	}
	for name, order := range c.Sources.Orders() {
		sourceType, ok := model.ParseSourceType(name)
		if !ok {
			continue
		}
		reg.SetOrder(sourceType, order)
	}

	ch := cache.New(st, cache.Config{
		TTL:       time.Duration(c.Cache.TTLSecs) * time.Second,
		SourceTTL: sourceTTLs(c.Cache.SourceTTLSecs),
	})

	cbCfg := resilience.FromCircuitConfig(c.Breaker.FailureThreshold, c.Breaker.CoolDownSecs, c.Breaker.ProbeTimeoutSecs)
	cbCfg.OnStateChange = func(p string, from, to model.BreakerPhase) {
		zap.L().Info("circuit breaker state change",
			zap.String("provider", p),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}
	cb := resilience.NewCircuitBreaker(st, cbCfg)
	rl := resilience.NewRateLimiter(st, resilience.FromRateLimitConfig(c.RateLimit.MinSpacingMs, c.RateLimit.ProvidersMs))

	orch := fallback.New(reg, ch, cb, rl, st, fallback.Config{
		Retry: resilience.FromRetryConfig(
			c.Retry.MaxAttempts,
			c.Retry.InitialBackoffMs,
			c.Retry.MaxBackoffMs,
			c.Retry.Multiplier,
			c.Retry.JitterFraction,
			c.Retry.AttemptTimeoutSecs,
		),
		MaxWait:       time.Duration(c.RateLimit.MaxWaitMs) * time.Millisecond,
		WaitProviders: c.RateLimit.WaitProviders,
		FailureWindow: time.Duration(c.Fetch.FailureWindowHours) * time.Hour,
	})

	return &fetchEnv{Store: st, Cache: ch, Orchestrator: orch}, nil
}

func sourceTTLs(secs map[string]int) map[model.SourceType]time.Duration {
	if len(secs) == 0 {
		return nil
	}
	out := make(map[model.SourceType]time.Duration, len(secs))
	for name, s := range secs {
		st, ok := model.ParseSourceType(name)
		if !ok || s <= 0 {
			zap.L().Warn("ignoring cache ttl override", zap.String("source_type", name), zap.Int("secs", s))
			continue
		}
		out[st] = time.Duration(s) * time.Second
	}
	return out
}
