package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
)

func TestKind_Transient(t *testing.T) {
	transient := []Kind{KindRateLimited, KindTimeout, KindTransient}
	permanent := []Kind{KindNotFound, KindUnauthorized, KindMalformed}
	for _, k := range transient {
		if !k.Transient() {
			t.Errorf("%s should be transient", k)
		}
	}
	for _, k := range permanent {
		if k.Transient() {
			t.Errorf("%s should be permanent", k)
		}
	}
}

func TestFromHTTPStatus(t *testing.T) {
	cases := map[int]Kind{
		400: KindMalformed,
		401: KindUnauthorized,
		402: KindUnauthorized,
		403: KindUnauthorized,
		404: KindNotFound,
		408: KindTimeout,
		410: KindNotFound,
		422: KindMalformed,
		429: KindRateLimited,
		500: KindTransient,
		502: KindTransient,
		503: KindTransient,
		504: KindTimeout,
	}
	for status, want := range cases {
		err := FromHTTPStatus(status, "body")
		if err.Kind != want {
			t.Errorf("status %d: expected %s, got %s", status, want, err.Kind)
		}
		if err.StatusCode != status {
			t.Errorf("status %d: lost status code", status)
		}
	}
}

func TestFromHTTPStatus_TruncatesBody(t *testing.T) {
	err := FromHTTPStatus(500, strings.Repeat("x", 1000))
	if len(err.Error()) > 260 {
		t.Errorf("expected truncated message, got %d bytes", len(err.Error()))
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil) != "" {
		t.Error("nil error should have no kind")
	}

	wrapped := fmt.Errorf("fetch: %w", NotFound("gone"))
	if got := Classify(wrapped); got != KindNotFound {
		t.Errorf("expected wrapped kind to survive, got %s", got)
	}

	if got := Classify(fmt.Errorf("call: %w", context.DeadlineExceeded)); got != KindTimeout {
		t.Errorf("expected deadline to be a timeout, got %s", got)
	}

	if got := Classify(&net.DNSError{IsTimeout: true, Err: "timeout"}); got != KindTimeout {
		t.Errorf("expected net timeout to be a timeout, got %s", got)
	}

	if got := Classify(errors.New("something odd")); got != KindTransient {
		t.Errorf("expected unclassified error to be transient, got %s", got)
	}
}

func TestAsProviderError(t *testing.T) {
	if AsProviderError("A", nil) != nil {
		t.Error("expected nil for nil error")
	}

	pe := AsProviderError("A", errors.New("boom"))
	if pe.Provider != "A" || pe.Kind != KindTransient {
		t.Errorf("unexpected wrap: %+v", pe)
	}

	orig := Malformed("bad json")
	pe = AsProviderError("B", orig)
	if pe.Provider != "B" || pe.Kind != KindMalformed {
		t.Errorf("unexpected wrap: %+v", pe)
	}
	if orig.Provider != "" {
		t.Error("original error must not be mutated")
	}
	if !errors.Is(pe, pe.Err) {
		t.Error("expected unwrap to expose the cause")
	}
}

func TestProviderError_Message(t *testing.T) {
	err := &ProviderError{Provider: "jina", Kind: KindRateLimited, StatusCode: 429, Err: errors.New("quota")}
	want := "jina: rate_limited (status 429): quota"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

func TestClassify_StatusCoder(t *testing.T) {
	if got := Classify(fmt.Errorf("client: %w", statusErr(429))); got != KindRateLimited {
		t.Errorf("expected status 429 to be rate limited, got %s", got)
	}
	pe := AsProviderError("jina", statusErr(404))
	if pe.Kind != KindNotFound || pe.StatusCode != 404 {
		t.Errorf("unexpected wrap: %+v", pe)
	}
}
