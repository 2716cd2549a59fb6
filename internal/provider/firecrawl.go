package provider

import (
	"context"
	"strings"

	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/resilience"
	"github.com/sells-group/ingest-cli/pkg/firecrawl"
)

// Firecrawl scrapes pages through the Firecrawl API.
type Firecrawl struct {
	client firecrawl.Client
	// timeoutMs is the server-side page timeout.
	timeoutMs int
}

// NewFirecrawl creates the firecrawl provider.
func NewFirecrawl(client firecrawl.Client, timeoutMs int) *Firecrawl {
	return &Firecrawl{client: client, timeoutMs: timeoutMs}
}

func (p *Firecrawl) Name() string                    { return FirecrawlName }
func (p *Firecrawl) SourceType() model.SourceType    { return model.SourceWeb }
func (p *Firecrawl) Supports(identifier string) bool { return model.IsRemote(identifier) }

func (p *Firecrawl) Fetch(ctx context.Context, req model.FetchRequest) (*model.Content, error) {
	resp, err := p.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:             req.Identifier,
		Formats:         []string{"markdown"},
		OnlyMainContent: true,
		Timeout:         p.timeoutMs,
	})
	if err != nil {
		return nil, apiError(err)
	}
	if !resp.Success {
		return nil, resilience.Malformed("firecrawl: %s", firstNonEmpty(resp.Error, "scrape unsuccessful"))
	}

	md := resp.Data.Metadata
	if md.StatusCode >= 400 {
		return nil, resilience.FromHTTPStatus(md.StatusCode, md.Error)
	}
	body := strings.TrimSpace(resp.Data.Markdown)
	if len(body) < minArticleChars {
		return nil, resilience.Malformed("firecrawl: content too short (%d chars)", len(body))
	}

	c := &model.Content{
		Title:       md.Title,
		Body:        body,
		URL:         firstNonEmpty(md.URL, md.SourceURL, req.Identifier),
		Language:    md.Language,
		PublishedAt: parseTime(md.PublishedTime),
	}
	if md.Description != "" {
		c.Metadata = map[string]string{"description": md.Description}
	}
	return c, nil
}
