package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ingest-cli/internal/fetcher"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/resilience"
	"github.com/sells-group/ingest-cli/pkg/firecrawl"
	"github.com/sells-group/ingest-cli/pkg/jina"
	"github.com/sells-group/ingest-cli/pkg/supadata"
)

const articleHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<title>Fallback | Field Notes</title>
<meta property="og:title" content="Designing Fallback Chains">
<meta property="og:site_name" content="Field Notes">
<meta name="description" content="How ordered providers keep ingestion running.">
<meta name="author" content="Ada Park">
<meta property="article:published_time" content="2024-05-02T10:00:00Z">
</head>
<body>
<nav><a href="/">Home</a> <a href="/about">About</a></nav>
<article>
<h1>Designing Fallback Chains</h1>
<p>Every content source fails eventually. Video platforms throttle anonymous clients, scraping APIs run out of credits, and document servers disappear for maintenance windows that nobody announced in advance.</p>
<p>An ordered chain of providers turns those failures into a routine event. The first provider that returns usable content wins, and every attempt along the way is recorded so operators can see which sources are degrading.</p>
<p>Circuit breakers stop the chain from hammering a provider that is clearly down, while per-provider spacing keeps the healthy ones from being pushed into rate limits of their own.</p>
</article>
<footer>Copyright Field Notes</footer>
</body>
</html>`

func newWebFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 5 * time.Second})
}

func webRequest(u string) model.FetchRequest {
	return model.FetchRequest{SourceType: model.SourceWeb, Identifier: u}
}

func TestRawURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://github.com/acme/tools/blob/main/docs/README.md", "https://raw.githubusercontent.com/acme/tools/main/docs/README.md", true},
		{"https://raw.githubusercontent.com/acme/tools/main/notes.txt", "https://raw.githubusercontent.com/acme/tools/main/notes.txt", true},
		{"https://example.com/changelog.MD", "https://example.com/changelog.MD", true},
		{"https://github.com/acme/tools", "", false},
		{"https://example.com/post", "", false},
		{"/tmp/notes.md", "", false},
	}
	for _, tt := range tests {
		got, ok := rawURL(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestWebRaw_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte("# Release Notes\n\n- faster fallback\n"))
	}))
	defer srv.Close()

	p := NewWebRaw(newWebFetcher())
	c, err := p.Fetch(context.Background(), webRequest(srv.URL+"/notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "Release Notes", c.Title)
	assert.Equal(t, "# Release Notes\n\n- faster fallback", c.Body)
}

func TestWebRaw_RejectsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>login</html>"))
	}))
	defer srv.Close()

	_, err := NewWebRaw(newWebFetcher()).Fetch(context.Background(), webRequest(srv.URL+"/notes.txt"))
	require.Error(t, err)
	assert.Equal(t, resilience.KindMalformed, resilience.Classify(err))
}

func TestWebRaw_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewWebRaw(newWebFetcher()).Fetch(context.Background(), webRequest(srv.URL+"/missing.md"))
	require.Error(t, err)
	assert.Equal(t, resilience.KindNotFound, resilience.Classify(err))
}

func TestWebDirect_Article(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	c, err := NewWebDirect(newWebFetcher()).Fetch(context.Background(), webRequest(srv.URL+"/post"))
	require.NoError(t, err)
	assert.Equal(t, "Designing Fallback Chains", c.Title)
	assert.Contains(t, c.Body, "Every content source fails eventually.")
	assert.Equal(t, "Field Notes", c.SiteName)
	assert.Equal(t, "en", c.Language)
	assert.Equal(t, srv.URL+"/post", c.URL)
	assert.Equal(t, "How ordered providers keep ingestion running.", c.Metadata["description"])
	require.NotNil(t, c.PublishedAt)
	assert.Equal(t, 2024, c.PublishedAt.Year())
}

func TestWebDirect_Blocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cf-Ray", "8a1b2c")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("Just a moment..."))
	}))
	defer srv.Close()

	_, err := NewWebDirect(newWebFetcher()).Fetch(context.Background(), webRequest(srv.URL))
	require.Error(t, err)
	assert.Equal(t, resilience.KindUnauthorized, resilience.Classify(err))
	assert.Contains(t, err.Error(), "cloudflare")
}

func TestWebDirect_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewWebDirect(newWebFetcher()).Fetch(context.Background(), webRequest(srv.URL))
	require.Error(t, err)
	assert.Equal(t, resilience.KindTransient, resilience.Classify(err))
}

func TestWebDirect_UnsupportedType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer srv.Close()

	_, err := NewWebDirect(newWebFetcher()).Fetch(context.Background(), webRequest(srv.URL))
	require.Error(t, err)
	assert.Equal(t, resilience.KindMalformed, resilience.Classify(err))
}

func TestWebDirect_ThinPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><div id=app></div></body></html>"))
	}))
	defer srv.Close()

	_, err := NewWebDirect(newWebFetcher()).Fetch(context.Background(), webRequest(srv.URL))
	require.Error(t, err)
	assert.Equal(t, resilience.KindMalformed, resilience.Classify(err))
}

func TestCleanText(t *testing.T) {
	in := "  First   line \n\n\n   second\tline\n\nthird  "
	assert.Equal(t, "First line\n\nsecond line\n\nthird", cleanText(in))
}

func TestParseTime(t *testing.T) {
	assert.NotNil(t, parseTime("2024-05-02T10:00:00Z"))
	assert.NotNil(t, parseTime("2024-05-02"))
	assert.Nil(t, parseTime("last tuesday"))
	assert.Nil(t, parseTime(""))
}

type fakeJina struct {
	resp *jina.ReadResponse
	err  error
}

func (f fakeJina) Read(context.Context, string) (*jina.ReadResponse, error) { return f.resp, f.err }

func TestJina_Fetch(t *testing.T) {
	body := strings.Repeat("Fallback chains keep ingestion running. ", 5)
	p := NewJina(fakeJina{resp: &jina.ReadResponse{Code: 200, Data: jina.ReadData{
		Title:         "Designing Fallback Chains",
		URL:           "https://example.com/post",
		Content:       body,
		Description:   "desc",
		PublishedTime: "2024-05-02T10:00:00Z",
	}}})

	c, err := p.Fetch(context.Background(), webRequest("https://example.com/post"))
	require.NoError(t, err)
	assert.Equal(t, "Designing Fallback Chains", c.Title)
	assert.Equal(t, strings.TrimSpace(body), c.Body)
	assert.Equal(t, "desc", c.Metadata["description"])
	assert.NotNil(t, c.PublishedAt)
}

func TestNeedsFallback(t *testing.T) {
	long := strings.Repeat("useful words here ", 20)
	tests := []struct {
		name string
		resp *jina.ReadResponse
		want bool
	}{
		{"nil", nil, true},
		{"bad code", &jina.ReadResponse{Code: 451, Data: jina.ReadData{Content: long}}, true},
		{"short", &jina.ReadResponse{Code: 200, Data: jina.ReadData{Content: "tiny"}}, true},
		{"challenge", &jina.ReadResponse{Code: 200, Data: jina.ReadData{Content: "Just a moment... " + long}}, true},
		{"good", &jina.ReadResponse{Code: 200, Data: jina.ReadData{Content: long}}, false},
		{"long page mentioning cloudflare", &jina.ReadResponse{Code: 200, Data: jina.ReadData{Content: "cloudflare " + strings.Repeat(long, 5)}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, needsFallback(tt.resp) != "")
		})
	}
}

func TestJina_Errors(t *testing.T) {
	p := NewJina(fakeJina{err: &jina.APIError{StatusCode: http.StatusTooManyRequests}})
	_, err := p.Fetch(context.Background(), webRequest("https://example.com"))
	require.Error(t, err)
	assert.Equal(t, resilience.KindRateLimited, resilience.Classify(err))

	p = NewJina(fakeJina{resp: &jina.ReadResponse{Code: 200, Data: jina.ReadData{Content: "short"}}})
	_, err = p.Fetch(context.Background(), webRequest("https://example.com"))
	require.Error(t, err)
	assert.Equal(t, resilience.KindMalformed, resilience.Classify(err))
}

func TestFirecrawl_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/scrape", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"markdown":"` + strings.Repeat("Fallback chains keep ingestion running. ", 4) +
			`","metadata":{"title":"Designing Fallback Chains","language":"en","sourceURL":"https://example.com/post","statusCode":200}}}`))
	}))
	defer srv.Close()

	p := NewFirecrawl(firecrawl.NewClient("fc-key", firecrawl.WithBaseURL(srv.URL)), 30000)
	c, err := p.Fetch(context.Background(), webRequest("https://example.com/post"))
	require.NoError(t, err)
	assert.Equal(t, "Designing Fallback Chains", c.Title)
	assert.Equal(t, "en", c.Language)
	assert.Equal(t, "https://example.com/post", c.URL)
}

func TestFirecrawl_TargetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"markdown":"","metadata":{"statusCode":404,"error":"Not Found"}}}`))
	}))
	defer srv.Close()

	p := NewFirecrawl(firecrawl.NewClient("fc-key", firecrawl.WithBaseURL(srv.URL)), 0)
	_, err := p.Fetch(context.Background(), webRequest("https://example.com/gone"))
	require.Error(t, err)
	assert.Equal(t, resilience.KindNotFound, resilience.Classify(err))
}

func TestFirecrawl_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	p := NewFirecrawl(firecrawl.NewClient("fc-key", firecrawl.WithBaseURL(srv.URL)), 0)
	_, err := p.Fetch(context.Background(), webRequest("https://example.com"))
	require.Error(t, err)
	assert.Equal(t, resilience.KindMalformed, resilience.Classify(err))
}

func TestSupadataWeb_Fetch(t *testing.T) {
	f := &fakeSupadata{web: &supadata.WebScrapeResponse{
		URL:         "https://example.com/post",
		Name:        "Designing Fallback Chains",
		Content:     strings.Repeat("Fallback chains keep ingestion running. ", 4),
		Description: "desc",
	}}
	c, err := NewSupadataWeb(f).Fetch(context.Background(), webRequest("https://example.com/post"))
	require.NoError(t, err)
	assert.Equal(t, "Designing Fallback Chains", c.Title)
	assert.Equal(t, "desc", c.Metadata["description"])

	f.web.Content = "thin"
	_, err = NewSupadataWeb(f).Fetch(context.Background(), webRequest("https://example.com/post"))
	require.Error(t, err)
	assert.Equal(t, resilience.KindMalformed, resilience.Classify(err))
}

type fakeRenderer struct {
	html string
	err  error
}

func (f fakeRenderer) Render(context.Context, string) (string, error) { return f.html, f.err }

func TestBrowser_Fetch(t *testing.T) {
	p := NewBrowser(fakeRenderer{html: articleHTML})
	c, err := p.Fetch(context.Background(), webRequest("https://example.com/spa"))
	require.NoError(t, err)
	assert.Equal(t, "Designing Fallback Chains", c.Title)
	assert.Equal(t, "https://example.com/spa", c.URL)
}

func TestBrowser_ChromeMissing(t *testing.T) {
	p := NewBrowser(fakeRenderer{err: &exec.Error{Name: "google-chrome", Err: exec.ErrNotFound}})
	_, err := p.Fetch(context.Background(), webRequest("https://example.com/spa"))
	require.Error(t, err)
	assert.Equal(t, resilience.KindMalformed, resilience.Classify(err))
}

func TestBrowser_RenderTimeout(t *testing.T) {
	p := NewBrowser(fakeRenderer{err: context.DeadlineExceeded})
	_, err := p.Fetch(context.Background(), webRequest("https://example.com/spa"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, resilience.KindTimeout, resilience.Classify(err))
}

func TestWebProviders_Supports(t *testing.T) {
	ps := []Provider{
		NewWebDirect(newWebFetcher()),
		NewJina(fakeJina{}),
		NewFirecrawl(nil, 0),
		NewSupadataWeb(nil),
		NewBrowser(nil),
	}
	for _, p := range ps {
		assert.Equal(t, model.SourceWeb, p.SourceType(), p.Name())
		assert.True(t, p.Supports("https://example.com/post"), p.Name())
		assert.False(t, p.Supports("/tmp/post.html"), p.Name())
	}
}
