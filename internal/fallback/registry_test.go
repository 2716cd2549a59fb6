package fallback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ingest-cli/internal/model"
)

func TestRegistry_DefaultOrderByPriority(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newProvider("jina"), 2))
	require.NoError(t, reg.Register(newProvider("web_direct"), 1))
	require.NoError(t, reg.Register(newProvider("firecrawl"), 2))

	assert.Equal(t, []string{"web_direct", "firecrawl", "jina"}, reg.Order(model.SourceWeb))
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newProvider("jina"), 0))
	err := reg.Register(newProvider("jina"), 1)
	assert.True(t, IsConfigError(err))
}

func TestRegistry_SetOrderDropsUnavailable(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newProvider("jina"), 0))
	require.NoError(t, reg.Register(newProvider("web_direct"), 1))
	pdf := newProvider("pdf_direct")
	pdf.source = model.SourcePDF
	require.NoError(t, reg.Register(pdf, 0))

	reg.SetOrder(model.SourceWeb, []string{"firecrawl", "web_direct", "pdf_direct", "jina", "web_direct"})
	assert.Equal(t, []string{"web_direct", "jina"}, reg.Order(model.SourceWeb))
}

func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newProvider("jina"), 0))
	pdf := newProvider("pdf_direct")
	pdf.source = model.SourcePDF
	require.NoError(t, reg.Register(pdf, 0))

	ds, err := reg.Resolve(model.SourceWeb, nil)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "jina", ds[0].Name)

	_, err = reg.Resolve(model.SourceWeb, []string{"pdf_direct"})
	assert.True(t, IsConfigError(err), "cross-source override is rejected")

	_, err = reg.Resolve(model.SourceYouTube, nil)
	assert.True(t, IsConfigError(err))
}

func TestRegistry_Descriptors(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newProvider("jina"), 0))
	require.NoError(t, reg.Register(newProvider("web_direct"), 1))
	yt := newProvider("youtube_direct")
	yt.source = model.SourceYouTube
	require.NoError(t, reg.Register(yt, 0))
	reg.SetOrder(model.SourceWeb, []string{"web_direct"})

	var names []string
	for _, d := range reg.Descriptors() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"youtube_direct", "web_direct", "jina"}, names)
}

func TestVerdict(t *testing.T) {
	failed := func(p, kind string) model.Attempt {
		return model.Attempt{Provider: p, Result: model.AttemptFailed, Kind: kind}
	}
	skipped := func(p, reason string) model.Attempt {
		return model.Attempt{Provider: p, Result: model.AttemptSkipped, SkipReason: reason}
	}

	tests := []struct {
		name     string
		attempts []model.Attempt
		want     Verdict
	}{
		{"same permanent kind", []model.Attempt{failed("A", "not_found"), failed("B", "not_found")}, VerdictInvalidIdentifier},
		{"unsupported skip ignored", []model.Attempt{skipped("A", model.SkipUnsupported), failed("B", "not_found")}, VerdictInvalidIdentifier},
		{"all skipped", []model.Attempt{skipped("A", model.SkipBreakerOpen), skipped("B", model.SkipRateLimited)}, VerdictUnhealthy},
		{"all transient", []model.Attempt{failed("A", "timeout"), failed("A", "timeout"), failed("B", "transient")}, VerdictUnhealthy},
		{"permanent plus health skip", []model.Attempt{skipped("A", model.SkipBreakerOpen), failed("B", "not_found")}, VerdictMixed},
		{"different permanent kinds", []model.Attempt{failed("A", "not_found"), failed("B", "unauthorized")}, VerdictMixed},
		{"final try decides", []model.Attempt{failed("A", "timeout"), failed("A", "not_found")}, VerdictInvalidIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &AllProvidersExhaustedError{Attempts: tt.attempts}
			assert.Equal(t, tt.want, e.Verdict())
		})
	}
}
