package provider

import (
	"bytes"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/resilience"
)

// minArticleChars is the shortest extracted text accepted as a page body.
const minArticleChars = 100

// pageMeta is what the document head says about a page.
type pageMeta struct {
	title       string
	description string
	siteName    string
	author      string
	language    string
	published   *time.Time
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func readMeta(doc *goquery.Document) pageMeta {
	m := pageMeta{
		title:       metaContent(doc, "meta[property='og:title']", "meta[name='twitter:title']"),
		description: metaContent(doc, "meta[name='description']", "meta[property='og:description']"),
		siteName:    metaContent(doc, "meta[property='og:site_name']"),
		author:      metaContent(doc, "meta[name='author']", "meta[property='article:author']"),
	}
	if m.title == "" {
		m.title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if m.title == "" {
		m.title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		m.language = strings.TrimSpace(lang)
	}
	m.published = parseTime(metaContent(doc, "meta[property='article:published_time']", "meta[name='date']"))
	return m
}

// extractArticle turns an HTML page into content: readability finds the main
// text and goquery fills in what the head declares.
func extractArticle(body []byte, pageURL string) (*model.Content, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, resilience.Malformed("parse page url: %v", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, resilience.NewError(resilience.KindMalformed, eris.Wrap(err, "parse html"))
	}
	meta := readMeta(doc)

	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return nil, resilience.NewError(resilience.KindMalformed, eris.Wrap(err, "readability"))
	}
	text := cleanText(article.TextContent)
	if len(text) < minArticleChars {
		return nil, resilience.Malformed("extracted text too short (%d chars)", len(text))
	}

	c := &model.Content{
		Title:       firstNonEmpty(meta.title, article.Title),
		Body:        text,
		Author:      firstNonEmpty(article.Byline, meta.author),
		SiteName:    firstNonEmpty(article.SiteName, meta.siteName),
		URL:         pageURL,
		Language:    firstNonEmpty(meta.language, article.Language),
		PublishedAt: article.PublishedTime,
	}
	if c.PublishedAt == nil {
		c.PublishedAt = meta.published
	}
	if d := firstNonEmpty(meta.description, article.Excerpt); d != "" {
		c.Metadata = map[string]string{"description": d}
	}
	return c, nil
}

// cleanText trims every line and collapses runs of blank lines.
func cleanText(s string) string {
	var b strings.Builder
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank = b.Len() > 0
			continue
		}
		if blank {
			b.WriteString("\n\n")
		} else if b.Len() > 0 {
			b.WriteByte('\n')
		}
		blank = false
		b.WriteString(line)
	}
	return b.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	time.RFC1123,
	time.RFC1123Z,
}

// parseTime accepts the date formats providers commonly return.
func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
