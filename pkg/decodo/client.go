// Package decodo provides a client for the Decodo scraper API's YouTube
// subtitle target.
package decodo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://scraper-api.decodo.com/v2"

// Client defines the Decodo scraper operations.
type Client interface {
	Subtitles(ctx context.Context, videoID, lang string) (*Subtitles, error)
}

// Subtitles holds the timed caption events of one video.
type Subtitles struct {
	Events []Event `json:"events"`
}

// Event is a caption cue made of one or more segments.
type Event struct {
	StartMs    int       `json:"tStartMs"`
	DurationMs int       `json:"dDurationMs"`
	Segs       []Segment `json:"segs"`
}

// Segment is a run of caption text.
type Segment struct {
	UTF8 string `json:"utf8"`
}

// Text flattens every segment into one space separated transcript.
func (s *Subtitles) Text() string {
	var parts []string
	for _, ev := range s.Events {
		for _, seg := range ev.Segs {
			t := strings.TrimSpace(seg.UTF8)
			if t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " ")
}

type scrapeRequest struct {
	Target       string `json:"target"`
	Query        string `json:"query"`
	LanguageCode string `json:"language_code,omitempty"`
}

type scrapeResult struct {
	Content struct {
		Subtitles Subtitles `json:"subtitles"`
	} `json:"content"`
	Data struct {
		Subtitles Subtitles `json:"subtitles"`
	} `json:"data"`
}

type scrapeResponse struct {
	Results json.RawMessage `json:"results"`
}

// APIError is returned when Decodo responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("decodo: HTTP %d: %s", e.StatusCode, e.Body)
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
	// token is the pre-encoded Basic auth credential Decodo issues.
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates a Decodo client.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Subtitles(ctx context.Context, videoID, lang string) (*Subtitles, error) {
	buf, err := json.Marshal(scrapeRequest{Target: "youtube_subtitles", Query: videoID, LanguageCode: lang})
	if err != nil {
		return nil, eris.Wrap(err, "decodo: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scrape", bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "decodo: create request")
	}
	req.Header.Set("Authorization", "Basic "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "decodo: execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "decodo: read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(data) > 200 {
			data = data[:200]
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var out scrapeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "decodo: decode response")
	}
	return parseResults(out.Results)
}

// parseResults accepts results as a single object or a list of objects and
// returns the first subtitle track found.
func parseResults(raw json.RawMessage) (*Subtitles, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &Subtitles{}, nil
	}

	var results []scrapeResult
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &results); err != nil {
			return nil, eris.Wrap(err, "decodo: decode results")
		}
	} else {
		var one scrapeResult
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, eris.Wrap(err, "decodo: decode results")
		}
		results = append(results, one)
	}

	for _, r := range results {
		if len(r.Data.Subtitles.Events) > 0 {
			return &r.Data.Subtitles, nil
		}
		if len(r.Content.Subtitles.Events) > 0 {
			return &r.Content.Subtitles, nil
		}
	}
	return &Subtitles{}, nil
}
