// Package supadata provides a client for the Supadata transcript and scrape API.
package supadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.supadata.ai/v1"

// Client defines the Supadata API operations.
type Client interface {
	// Transcript returns a YouTube transcript as plain text. When Supadata
	// queues the work it returns a response with JobID set and no content.
	Transcript(ctx context.Context, req TranscriptRequest) (*TranscriptResponse, error)
	// TranscriptJob returns the state of a queued transcript job.
	TranscriptJob(ctx context.Context, jobID string) (*JobResponse, error)
	// WebScrape returns a web page rendered as markdown.
	WebScrape(ctx context.Context, pageURL string) (*WebScrapeResponse, error)
	// Scrape extracts a document, such as a PDF, behind a URL.
	Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error)
}

// TranscriptRequest selects a video and transcript language.
type TranscriptRequest struct {
	URL  string
	Lang string
}

// TranscriptResponse is the body of GET /youtube/transcript.
type TranscriptResponse struct {
	Content        string   `json:"content"`
	Lang           string   `json:"lang"`
	AvailableLangs []string `json:"availableLangs"`
	JobID          string   `json:"jobId"`
}

// Job states reported by TranscriptJob.
const (
	JobQueued    = "queued"
	JobActive    = "active"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobResponse is the body of GET /transcript/{jobId}.
type JobResponse struct {
	Status  string `json:"status"`
	Content string `json:"content"`
	Lang    string `json:"lang"`
	Error   string `json:"error"`
}

// WebScrapeResponse is the body of GET /web/scrape.
type WebScrapeResponse struct {
	URL             string `json:"url"`
	Content         string `json:"content"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	OgURL           string `json:"ogUrl"`
	CountCharacters int    `json:"countCharacters"`
}

// ScrapeRequest is the body of POST /scrape.
type ScrapeRequest struct {
	URL      string `json:"url"`
	RenderJS bool   `json:"render_js"`
	BlockAds bool   `json:"block_ads"`
}

// ScrapeResponse is the body of POST /scrape. The text lands in one of
// Content, Markdown or Text depending on the document type.
type ScrapeResponse struct {
	Content       string `json:"content"`
	Markdown      string `json:"markdown"`
	Text          string `json:"text"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	DatePublished string `json:"date_published"`
}

// Body returns the first non-empty text field.
func (r *ScrapeResponse) Body() string {
	switch {
	case r.Content != "":
		return r.Content
	case r.Markdown != "":
		return r.Markdown
	default:
		return r.Text
	}
}

// APIError is returned when Supadata responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supadata: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Supadata client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Transcript(ctx context.Context, req TranscriptRequest) (*TranscriptResponse, error) {
	q := url.Values{}
	q.Set("url", req.URL)
	q.Set("text", "true")
	if req.Lang != "" {
		q.Set("lang", req.Lang)
	}
	var resp TranscriptResponse
	if err := c.get(ctx, "/youtube/transcript?"+q.Encode(), &resp); err != nil {
		return nil, eris.Wrap(err, "supadata: transcript")
	}
	return &resp, nil
}

func (c *httpClient) TranscriptJob(ctx context.Context, jobID string) (*JobResponse, error) {
	var resp JobResponse
	if err := c.get(ctx, "/transcript/"+url.PathEscape(jobID), &resp); err != nil {
		return nil, eris.Wrapf(err, "supadata: transcript job %s", jobID)
	}
	return &resp, nil
}

func (c *httpClient) WebScrape(ctx context.Context, pageURL string) (*WebScrapeResponse, error) {
	q := url.Values{}
	q.Set("url", pageURL)
	var resp WebScrapeResponse
	if err := c.get(ctx, "/web/scrape?"+q.Encode(), &resp); err != nil {
		return nil, eris.Wrap(err, "supadata: web scrape")
	}
	return &resp, nil
}

func (c *httpClient) Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error) {
	buf, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "supadata: marshal scrape request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scrape", bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "supadata: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp ScrapeResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, eris.Wrap(err, "supadata: scrape")
	}
	return &resp, nil
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(data) > 200 {
			data = data[:200]
		}
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
