package provider

import (
	"context"
	"path"
	"strings"

	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/resilience"
	"github.com/sells-group/ingest-cli/pkg/supadata"
)

// SupadataWeb reads pages through Supadata's web scrape endpoint.
type SupadataWeb struct {
	client supadata.Client
}

// NewSupadataWeb creates the supadata_web provider.
func NewSupadataWeb(client supadata.Client) *SupadataWeb {
	return &SupadataWeb{client: client}
}

func (p *SupadataWeb) Name() string                    { return SupadataWebName }
func (p *SupadataWeb) SourceType() model.SourceType    { return model.SourceWeb }
func (p *SupadataWeb) Supports(identifier string) bool { return model.IsRemote(identifier) }

func (p *SupadataWeb) Fetch(ctx context.Context, req model.FetchRequest) (*model.Content, error) {
	resp, err := p.client.WebScrape(ctx, req.Identifier)
	if err != nil {
		return nil, apiError(err)
	}
	body := strings.TrimSpace(resp.Content)
	if len(body) < minArticleChars {
		return nil, resilience.Malformed("supadata: content too short (%d chars)", len(body))
	}
	c := &model.Content{
		Title: resp.Name,
		Body:  body,
		URL:   firstNonEmpty(resp.OgURL, resp.URL, req.Identifier),
	}
	if resp.Description != "" {
		c.Metadata = map[string]string{"description": resp.Description}
	}
	return c, nil
}

// SupadataPDF extracts remote PDFs through Supadata's document scraper.
type SupadataPDF struct {
	client supadata.Client
}

// NewSupadataPDF creates the supadata_pdf provider.
func NewSupadataPDF(client supadata.Client) *SupadataPDF {
	return &SupadataPDF{client: client}
}

func (p *SupadataPDF) Name() string                 { return SupadataPDFName }
func (p *SupadataPDF) SourceType() model.SourceType { return model.SourcePDF }

// Supports accepts remote PDF URLs only.
func (p *SupadataPDF) Supports(identifier string) bool {
	return model.IsRemote(identifier) && model.IsPDF(identifier)
}

func (p *SupadataPDF) Fetch(ctx context.Context, req model.FetchRequest) (*model.Content, error) {
	resp, err := p.client.Scrape(ctx, supadata.ScrapeRequest{URL: req.Identifier})
	if err != nil {
		return nil, apiError(err)
	}
	body := strings.TrimSpace(resp.Body())
	if body == "" {
		return nil, resilience.Malformed("supadata: no text extracted from %s", req.Identifier)
	}
	return &model.Content{
		Title:       firstNonEmpty(resp.Title, path.Base(req.Identifier)),
		Body:        body,
		Author:      resp.Author,
		URL:         req.Identifier,
		PublishedAt: parseTime(resp.DatePublished),
		Metadata:    map[string]string{"extractor": "supadata"},
	}, nil
}
