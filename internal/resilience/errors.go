package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindRateLimited  Kind = "rate_limited"
	KindTimeout      Kind = "timeout"
	KindTransient    Kind = "transient"
	KindMalformed    Kind = "malformed"
)

// Transient reports whether failures of this kind are worth retrying and
// count against the provider's breaker.
func (k Kind) Transient() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindTransient:
		return true
	}
	return false
}

// ProviderError is the typed failure a provider returns.
type ProviderError struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewError wraps err as a provider failure of the given kind.
func NewError(kind Kind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Err: err}
}

// Errorf builds a provider failure of the given kind from a format string.
func Errorf(kind Kind, format string, args ...any) *ProviderError {
	return &ProviderError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// NotFound is shorthand for a NotFound provider error.
func NotFound(format string, args ...any) *ProviderError {
	return Errorf(KindNotFound, format, args...)
}

// Malformed is shorthand for a Malformed provider error.
func Malformed(format string, args ...any) *ProviderError {
	return Errorf(KindMalformed, format, args...)
}

// StatusCoder is implemented by API client errors that carry the HTTP status
// of the failed call.
type StatusCoder interface {
	HTTPStatus() int
}

// KindForStatus maps an unsuccessful HTTP status to a failure kind.
func KindForStatus(statusCode int) Kind {
	switch {
	case statusCode == http.StatusNotFound, statusCode == http.StatusGone:
		return KindNotFound
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden,
		statusCode == http.StatusPaymentRequired:
		return KindUnauthorized
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusGatewayTimeout:
		return KindTimeout
	case statusCode >= 500:
		return KindTransient
	default:
		return KindMalformed
	}
}

// FromHTTPStatus maps an unsuccessful HTTP status to a provider failure.
func FromHTTPStatus(statusCode int, body string) *ProviderError {
	kind := KindForStatus(statusCode)
	if len(body) > 200 {
		body = body[:200]
	}
	return &ProviderError{Kind: kind, StatusCode: statusCode, Err: fmt.Errorf("http %d: %s", statusCode, strings.TrimSpace(body))}
}

// Classify returns the failure kind of err. Typed provider errors keep their
// kind; deadline overruns are timeouts; everything else is treated as a
// transient failure.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return KindForStatus(sc.HTTPStatus())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	return KindTransient
}

// AsProviderError returns err as a *ProviderError, classifying and wrapping it
// when needed, and stamps the provider name.
func AsProviderError(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		cp := *pe
		if cp.Provider == "" {
			cp.Provider = provider
		}
		return &cp
	}
	out := &ProviderError{Provider: provider, Kind: Classify(err), Err: err}
	var sc StatusCoder
	if errors.As(err, &sc) {
		out.StatusCode = sc.HTTPStatus()
	}
	return out
}
