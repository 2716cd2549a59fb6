package provider

import (
	"context"
	"strconv"
	"strings"

	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/resilience"
	"github.com/sells-group/ingest-cli/pkg/jina"
)

// challengeSignatures mark bot-challenge pages Jina sometimes returns as
// content.
var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"cloudflare",
	"attention required",
}

// needsFallback reports why a Jina response holds no usable content, or ""
// when it does.
func needsFallback(resp *jina.ReadResponse) string {
	if resp == nil {
		return "empty response"
	}
	if resp.Code != 0 && resp.Code != 200 {
		return "reader code " + strconv.Itoa(resp.Code)
	}

	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < minArticleChars {
		return "content too short"
	}

	if len(content) < 1000 {
		lower := strings.ToLower(content)
		for _, sig := range challengeSignatures {
			if strings.Contains(lower, sig) {
				return "challenge page: " + sig
			}
		}
	}
	return ""
}

// Jina reads pages through the Jina AI Reader.
type Jina struct {
	client jina.Client
}

// NewJina creates the jina provider.
func NewJina(client jina.Client) *Jina {
	return &Jina{client: client}
}

func (p *Jina) Name() string                    { return JinaName }
func (p *Jina) SourceType() model.SourceType    { return model.SourceWeb }
func (p *Jina) Supports(identifier string) bool { return model.IsRemote(identifier) }

func (p *Jina) Fetch(ctx context.Context, req model.FetchRequest) (*model.Content, error) {
	resp, err := p.client.Read(ctx, req.Identifier)
	if err != nil {
		return nil, apiError(err)
	}
	if reason := needsFallback(resp); reason != "" {
		return nil, resilience.Malformed("jina: %s", reason)
	}

	c := &model.Content{
		Title:       resp.Data.Title,
		Body:        strings.TrimSpace(resp.Data.Content),
		URL:         firstNonEmpty(resp.Data.URL, req.Identifier),
		PublishedAt: parseTime(resp.Data.PublishedTime),
	}
	if resp.Data.Description != "" {
		c.Metadata = map[string]string{"description": resp.Data.Description}
	}
	return c, nil
}
