package provider

import (
	"context"
	"mime"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/fetcher"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/resilience"
)

var rawExts = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
}

// rawURL returns the URL serving identifier verbatim. GitHub blob pages are
// rewritten to raw.githubusercontent.com.
func rawURL(identifier string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(identifier))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Host)

	if host == "github.com" || host == "www.github.com" {
		// /owner/repo/blob/ref/path...
		parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 4)
		if len(parts) == 4 && parts[2] == "blob" {
			return "https://raw.githubusercontent.com/" + parts[0] + "/" + parts[1] + "/" + parts[3], true
		}
		return "", false
	}
	if host == "raw.githubusercontent.com" || host == "gist.githubusercontent.com" {
		return u.String(), true
	}
	if rawExts[strings.ToLower(path.Ext(u.Path))] {
		return u.String(), true
	}
	return "", false
}

// WebRaw fetches plain text and markdown files as they are.
type WebRaw struct {
	client *fetcher.HTTPFetcher
}

// NewWebRaw creates the web_raw provider.
func NewWebRaw(f *fetcher.HTTPFetcher) *WebRaw {
	return &WebRaw{client: f}
}

func (p *WebRaw) Name() string                 { return WebRawName }
func (p *WebRaw) SourceType() model.SourceType { return model.SourceWeb }

// Supports reports whether identifier is a raw file URL or a GitHub blob.
func (p *WebRaw) Supports(identifier string) bool {
	_, ok := rawURL(identifier)
	return ok
}

func (p *WebRaw) Fetch(ctx context.Context, req model.FetchRequest) (*model.Content, error) {
	target, ok := rawURL(req.Identifier)
	if !ok {
		return nil, resilience.Malformed("not a raw file url: %q", req.Identifier)
	}
	resp, err := p.client.Get(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(resp.Body) {
		return nil, resilience.Malformed("%s is not UTF-8 text", target)
	}
	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if ct == "text/html" {
		return nil, resilience.Malformed("%s served html, not a raw file", target)
	}
	body := strings.TrimSpace(string(resp.Body))
	if body == "" {
		return nil, resilience.Malformed("%s is empty", target)
	}

	return &model.Content{
		Title: firstNonEmpty(markdownTitle(body), path.Base(resp.URL)),
		Body:  body,
		URL:   req.Identifier,
		Metadata: map[string]string{
			"raw_url": target,
		},
	}, nil
}

// markdownTitle returns the first level-one heading.
func markdownTitle(body string) string {
	for _, line := range strings.SplitN(body, "\n", 50) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

// WebDirect fetches a page over plain HTTP and extracts the article.
type WebDirect struct {
	client *fetcher.HTTPFetcher
}

// NewWebDirect creates the web_direct provider.
func NewWebDirect(f *fetcher.HTTPFetcher) *WebDirect {
	return &WebDirect{client: f}
}

func (p *WebDirect) Name() string                    { return WebDirectName }
func (p *WebDirect) SourceType() model.SourceType    { return model.SourceWeb }
func (p *WebDirect) Supports(identifier string) bool { return model.IsRemote(identifier) }

// Fetch downloads the page. Anti-bot interstitials are reported as
// Unauthorized so the chain moves on to a provider that can get through.
func (p *WebDirect) Fetch(ctx context.Context, req model.FetchRequest) (*model.Content, error) {
	resp, err := p.client.Get(ctx, req.Identifier, map[string]string{
		"Accept":          "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
	})
	if resp != nil {
		if blocked, bt := DetectBlock(resp.StatusCode, resp.Header, resp.Body); blocked {
			zap.L().Debug("web_direct: blocked", zap.String("url", req.Identifier), zap.String("block", string(bt)))
			return nil, resilience.Errorf(resilience.KindUnauthorized, "blocked by %s", bt)
		}
	}
	if err != nil {
		return nil, err
	}

	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case ct == "text/plain" || ct == "text/markdown":
		body := strings.TrimSpace(string(resp.Body))
		if len(body) < minArticleChars {
			return nil, resilience.Malformed("page too short (%d chars)", len(body))
		}
		return &model.Content{Title: path.Base(resp.URL), Body: body, URL: resp.URL}, nil
	case ct != "" && ct != "text/html" && ct != "application/xhtml+xml":
		return nil, resilience.Malformed("unsupported content type %q", ct)
	}

	return extractArticle(resp.Body, resp.URL)
}
