package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/ingest-cli/internal/fallback"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/provider"
	"github.com/sells-group/ingest-cli/internal/resilience"
)

func TestExitCode(t *testing.T) {
	invalid := &fallback.AllProvidersExhaustedError{Attempts: []model.Attempt{
		{Provider: "a", Try: 1, Result: model.AttemptFailed, Kind: string(resilience.KindNotFound)},
	}}
	unhealthy := &fallback.AllProvidersExhaustedError{Attempts: []model.Attempt{
		{Provider: "a", Result: model.AttemptSkipped, SkipReason: model.SkipBreakerOpen},
	}}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"config", &fallback.ConfigError{Msg: "unknown provider: x"}, exitUsage},
		{"invalid request", eris.Wrap(fallback.ErrInvalidRequest, "empty identifier"), exitUsage},
		{"invalid identifier", invalid, exitInvalidIdentifier},
		{"unhealthy", unhealthy, exitUnavailable},
		{"other", context.Canceled, exitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestWriteStructured(t *testing.T) {
	health := []model.ProviderHealth{{Provider: "jina", SourceType: model.SourceWeb, State: model.BreakerClosed}}

	var buf bytes.Buffer
	require.NoError(t, writeStructured(&buf, "json", health))
	assert.Contains(t, buf.String(), `"provider": "jina"`)

	buf.Reset()
	require.NoError(t, writeStructured(&buf, "yaml", health))
	var decoded []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "jina", decoded[0]["provider"])
	assert.Equal(t, "closed", decoded[0]["state"])

	assert.Error(t, writeStructured(&buf, "xml", health))
}

func TestFormatOutcome(t *testing.T) {
	o := &model.FetchOutcome{
		Fingerprint: "abc123",
		SourceType:  model.SourceWeb,
		Provider:    "firecrawl",
		Content:     &model.Content{Title: "Hello", Body: "the body text", URL: "https://example.com"},
		Attempts: []model.Attempt{
			{Provider: "jina", Result: model.AttemptSkipped, SkipReason: model.SkipBreakerOpen},
			{Provider: "firecrawl", Try: 1, Result: model.AttemptSucceeded},
		},
	}

	var buf bytes.Buffer
	formatOutcome(&buf, o, false)
	out := buf.String()
	assert.Contains(t, out, "firecrawl")
	assert.Contains(t, out, "jina skipped(breaker-open), firecrawl succeeded")
	assert.Contains(t, out, "abc123")
	assert.NotContains(t, out, "the body text")

	buf.Reset()
	formatOutcome(&buf, o, true)
	assert.Contains(t, buf.String(), "the body text")
}

func TestFormatExhausted(t *testing.T) {
	e := &fallback.AllProvidersExhaustedError{
		Identifier: "https://example.com/x",
		Attempts: []model.Attempt{
			{Provider: "web_direct", Try: 1, Result: model.AttemptFailed, Kind: "not_found", Error: "404"},
			{Provider: "jina", Result: model.AttemptSkipped, SkipReason: model.SkipRateLimited},
		},
	}

	var buf bytes.Buffer
	formatExhausted(&buf, e)
	out := buf.String()
	assert.Contains(t, out, "https://example.com/x")
	assert.Contains(t, out, "web_direct")
	assert.Contains(t, out, "rate-limited")
}

func TestFormatHealth(t *testing.T) {
	opened := time.Now().Add(-time.Minute)
	health := []model.ProviderHealth{
		{Provider: "jina", SourceType: model.SourceWeb, State: model.BreakerOpen, ConsecutiveFailures: 3, OpenedAt: &opened, CoolDownRemaining: 90 * time.Second},
		{Provider: "firecrawl", SourceType: model.SourceWeb, State: model.BreakerClosed},
	}

	var buf bytes.Buffer
	formatHealth(&buf, health)
	out := buf.String()
	assert.Contains(t, out, "PROVIDER")
	assert.Contains(t, out, "open")
	assert.Contains(t, out, "1m30s")
}

func TestFormatProviders(t *testing.T) {
	reg := fallback.NewRegistry()
	for _, p := range []*stubProvider{
		{name: provider.JinaName, source: model.SourceWeb},
		{name: provider.WebDirectName, source: model.SourceWeb},
		{name: provider.PDFDirectName, source: model.SourcePDF},
	} {
		require.NoError(t, reg.Register(p, provider.Priority(p.name)))
	}
	reg.SetOrder(model.SourceWeb, []string{provider.JinaName})

	var buf bytes.Buffer
	formatProviders(&buf, reg)
	out := buf.String()
	assert.Regexp(t, `web\s+1\s+jina`, out)
	assert.Regexp(t, `web\s+-\s+web_direct`, out)
	assert.Regexp(t, `pdf\s+1\s+pdf_direct`, out)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
}
