package model

import (
	"fmt"
	"strings"
	"time"
)

// AttemptResult is what happened to a single provider try.
type AttemptResult string

const (
	AttemptSucceeded AttemptResult = "succeeded"
	AttemptFailed    AttemptResult = "failed"
	AttemptSkipped   AttemptResult = "skipped"
)

// Skip reasons recorded when a provider is not called.
const (
	SkipBreakerOpen = "breaker-open"
	SkipRateLimited = "rate-limited"
	SkipUnsupported = "unsupported"
)

// Attempt records one provider try (or skip) within a fetch.
type Attempt struct {
	Provider   string        `json:"provider" yaml:"provider"`
	Try        int           `json:"try,omitempty" yaml:"try,omitempty"`
	Result     AttemptResult `json:"result" yaml:"result"`
	Kind       string        `json:"kind,omitempty" yaml:"kind,omitempty"`
	SkipReason string        `json:"skip_reason,omitempty" yaml:"skip_reason,omitempty"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	Elapsed    time.Duration `json:"elapsed" yaml:"elapsed"`
}

// String renders the attempt as e.g. "B failed(timeout)" or "A skipped(breaker-open)".
func (a Attempt) String() string {
	switch a.Result {
	case AttemptSkipped:
		return fmt.Sprintf("%s skipped(%s)", a.Provider, a.SkipReason)
	case AttemptFailed:
		return fmt.Sprintf("%s failed(%s)", a.Provider, a.Kind)
	default:
		if a.Try > 1 {
			return fmt.Sprintf("%s succeeded(retry)", a.Provider)
		}
		return fmt.Sprintf("%s succeeded", a.Provider)
	}
}

// FetchOutcome is the successful result of a fetch with full provenance.
type FetchOutcome struct {
	RequestID       string     `json:"request_id" yaml:"request_id"`
	Fingerprint     string     `json:"fingerprint" yaml:"fingerprint"`
	SourceType      SourceType `json:"source_type" yaml:"source_type"`
	Content         *Content   `json:"content" yaml:"content"`
	Provider        string     `json:"provider" yaml:"provider"`
	Attempts        []Attempt  `json:"attempts" yaml:"attempts"`
	ServedFromCache bool       `json:"served_from_cache" yaml:"served_from_cache"`
}

// Trail renders the attempt history on one line.
func (o *FetchOutcome) Trail() string {
	return FormatAttempts(o.Attempts)
}

// FormatAttempts joins attempts as "A skipped(breaker-open), B failed(timeout)".
func FormatAttempts(attempts []Attempt) string {
	parts := make([]string, len(attempts))
	for i, a := range attempts {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

// AttemptRecord is a persisted attempt row for observability.
type AttemptRecord struct {
	ID          string     `json:"id" yaml:"id"`
	RequestID   string     `json:"request_id" yaml:"request_id"`
	Fingerprint string     `json:"fingerprint" yaml:"fingerprint"`
	SourceType  SourceType `json:"source_type" yaml:"source_type"`
	Attempt     `yaml:",inline"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}
