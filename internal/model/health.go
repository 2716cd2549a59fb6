package model

import "time"

// BreakerPhase is the persisted circuit breaker state of a provider.
type BreakerPhase string

const (
	BreakerClosed   BreakerPhase = "closed"
	BreakerOpen     BreakerPhase = "open"
	BreakerHalfOpen BreakerPhase = "half_open"
)

// BreakerState is the persisted breaker record of one provider. The zero
// value is a closed breaker with no failures.
type BreakerState struct {
	Provider            string       `json:"provider"`
	State               BreakerPhase `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            *time.Time   `json:"opened_at,omitempty"`
	ProbeStartedAt      *time.Time   `json:"probe_started_at,omitempty"`
	LastFailureAt       *time.Time   `json:"last_failure_at,omitempty"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Phase returns the stored phase, treating an empty value as closed.
func (b *BreakerState) Phase() BreakerPhase {
	if b.State == "" {
		return BreakerClosed
	}
	return b.State
}

// LimiterState is the persisted rate limiter record of one provider.
type LimiterState struct {
	Provider      string     `json:"provider"`
	LastRequestAt *time.Time `json:"last_request_at,omitempty"`
}

// ProviderHealth is the read-only health snapshot exposed to operators.
type ProviderHealth struct {
	Provider            string        `json:"provider" yaml:"provider"`
	SourceType          SourceType    `json:"source_type" yaml:"source_type"`
	State               BreakerPhase  `json:"state" yaml:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures" yaml:"consecutive_failures"`
	RecentFailures      int           `json:"recent_failures" yaml:"recent_failures"`
	OpenedAt            *time.Time    `json:"opened_at,omitempty" yaml:"opened_at,omitempty"`
	CoolDownRemaining   time.Duration `json:"cool_down_remaining" yaml:"cool_down_remaining"`
	LastRequestAt       *time.Time    `json:"last_request_at,omitempty" yaml:"last_request_at,omitempty"`
}
