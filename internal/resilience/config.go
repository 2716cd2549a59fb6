package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier, jitterFraction float64, attemptTimeoutSecs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	if attemptTimeoutSecs > 0 {
		cfg.AttemptTimeout = time.Duration(attemptTimeoutSecs) * time.Second
	}
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
func FromCircuitConfig(failureThreshold, coolDownSecs, probeTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if coolDownSecs > 0 {
		cfg.CoolDown = time.Duration(coolDownSecs) * time.Second
	}
	if probeTimeoutSecs > 0 {
		cfg.ProbeTimeout = time.Duration(probeTimeoutSecs) * time.Second
	}
	return cfg
}

// FromRateLimitConfig converts config values to a RateLimiterConfig.
func FromRateLimitConfig(minSpacingMs int, overridesMs map[string]int) RateLimiterConfig {
	cfg := RateLimiterConfig{MinSpacing: time.Duration(minSpacingMs) * time.Millisecond}
	if len(overridesMs) > 0 {
		cfg.Overrides = make(map[string]time.Duration, len(overridesMs))
		for name, ms := range overridesMs {
			cfg.Overrides[name] = time.Duration(ms) * time.Millisecond
		}
	}
	return cfg
}
