package fallback

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/resilience"
)

// ErrInvalidRequest is returned for requests that can never succeed, such as
// an empty identifier.
var ErrInvalidRequest = eris.New("fallback: invalid request")

// ConfigError reports a provider order that cannot be resolved. It is raised
// before any provider is called.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "fallback: config: " + e.Msg
}

// Verdict summarizes why every provider failed.
type Verdict string

const (
	// VerdictInvalidIdentifier means every called provider rejected the
	// identifier with the same permanent kind.
	VerdictInvalidIdentifier Verdict = "invalid_identifier"
	// VerdictUnhealthy means nothing permanent was observed: providers were
	// skipped or failed transiently.
	VerdictUnhealthy Verdict = "unhealthy"
	VerdictMixed     Verdict = "mixed"
)

// AllProvidersExhaustedError is returned when no candidate produced content.
// Attempts holds the full history in order.
type AllProvidersExhaustedError struct {
	SourceType model.SourceType
	Identifier string
	Attempts   []model.Attempt
	// Errors holds the final error of each provider that was called.
	Errors []error
}

func (e *AllProvidersExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString("fallback: all providers exhausted for ")
	b.WriteString(string(e.SourceType))
	b.WriteString(" ")
	b.WriteString(e.Identifier)
	b.WriteString(": ")
	for i, a := range e.Attempts {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(a.String())
		if a.Error != "" {
			b.WriteString(": ")
			b.WriteString(a.Error)
		}
	}
	return b.String()
}

// Unwrap exposes the per-provider errors to errors.Is and errors.As.
func (e *AllProvidersExhaustedError) Unwrap() []error {
	return e.Errors
}

// finalAttempts returns the last try of each called provider in call
// order, and whether any provider was skipped for breaker or rate-limit
// reasons. Unsupported skips are counted separately.
func (e *AllProvidersExhaustedError) finalAttempts() (final []model.Attempt, healthSkip bool, unsupported int) {
	index := make(map[string]int)
	for _, a := range e.Attempts {
		if a.Result == model.AttemptSkipped {
			if a.SkipReason == model.SkipUnsupported {
				unsupported++
			} else {
				healthSkip = true
			}
			continue
		}
		if i, ok := index[a.Provider]; ok {
			final[i] = a
			continue
		}
		index[a.Provider] = len(final)
		final = append(final, a)
	}
	return final, healthSkip, unsupported
}

// Verdict classifies the exhaustion. Only the final try of each provider is
// considered. When no provider supports the identifier at all, the
// identifier is invalid.
func (e *AllProvidersExhaustedError) Verdict() Verdict {
	final, healthSkip, unsupported := e.finalAttempts()
	if len(final) == 0 && !healthSkip && unsupported > 0 {
		return VerdictInvalidIdentifier
	}

	var permanent, transient int
	kinds := make(map[string]bool)
	for _, a := range final {
		if resilience.Kind(a.Kind).Transient() {
			transient++
			continue
		}
		permanent++
		kinds[a.Kind] = true
	}

	switch {
	case permanent == 0:
		return VerdictUnhealthy
	case transient == 0 && !healthSkip && len(kinds) == 1:
		return VerdictInvalidIdentifier
	default:
		return VerdictMixed
	}
}

// Kind returns the permanent kind shared by the final try of every called
// provider when the verdict is VerdictInvalidIdentifier, otherwise "". It is
// also "" when no provider supported the identifier.
func (e *AllProvidersExhaustedError) Kind() resilience.Kind {
	if e.Verdict() != VerdictInvalidIdentifier {
		return ""
	}
	final, _, _ := e.finalAttempts()
	if len(final) == 0 {
		return ""
	}
	return resilience.Kind(final[0].Kind)
}
