// Package youtube reads caption tracks from public YouTube watch pages and
// video metadata from the YouTube Data API.
package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://www.youtube.com"

var (
	// ErrNoCaptions means the video exists but has no caption tracks.
	ErrNoCaptions = eris.New("youtube: no caption tracks")
	// ErrUnavailable means the video is private, removed, or never existed.
	ErrUnavailable = eris.New("youtube: video unavailable")
	// ErrLoginRequired means the video needs a signed-in viewer.
	ErrLoginRequired = eris.New("youtube: login required")
	// ErrBotCheck means YouTube challenged the caller as automated traffic.
	ErrBotCheck = eris.New("youtube: bot check")
)

// APIError is returned for a non-200 response from youtube.com.
type APIError struct {
	StatusCode int
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("youtube: HTTP %d from %s", e.StatusCode, e.URL)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// CaptionTrack is one entry of the player's caption list.
type CaptionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
	Name         struct {
		SimpleText string `json:"simpleText"`
	} `json:"name"`
}

// Generated reports whether the track is an automatic speech recognition track.
func (t CaptionTrack) Generated() bool { return t.Kind == "asr" }

// VideoDetails is the subset of the player response describing the video.
type VideoDetails struct {
	VideoID          string `json:"videoId"`
	Title            string `json:"title"`
	Author           string `json:"author"`
	LengthSeconds    string `json:"lengthSeconds"`
	ShortDescription string `json:"shortDescription"`
}

// WatchPage is what the watch page reveals about a video.
type WatchPage struct {
	Details VideoDetails
	Tracks  []CaptionTrack
}

// Track picks the best caption track for lang: a manual track in lang, then a
// generated one in lang, then any English track, then the first track.
func (w *WatchPage) Track(lang string) (CaptionTrack, bool) {
	if len(w.Tracks) == 0 {
		return CaptionTrack{}, false
	}
	match := func(want string, generated bool) (CaptionTrack, bool) {
		for _, t := range w.Tracks {
			if strings.EqualFold(strings.SplitN(t.LanguageCode, "-", 2)[0], want) && t.Generated() == generated {
				return t, true
			}
		}
		return CaptionTrack{}, false
	}
	for _, want := range []string{lang, "en"} {
		if want == "" {
			continue
		}
		if t, ok := match(want, false); ok {
			return t, true
		}
		if t, ok := match(want, true); ok {
			return t, true
		}
	}
	return w.Tracks[0], true
}

// Client fetches watch pages and caption tracks.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL overrides https://www.youtube.com (for testing).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithUserAgent overrides the browser User-Agent sent to youtube.com.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a watch page client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:   defaultBaseURL,
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		http:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WatchPage loads the watch page for videoID and extracts the caption tracks.
// A page without tracks yields ErrNoCaptions.
func (c *Client) WatchPage(ctx context.Context, videoID string) (*WatchPage, error) {
	body, err := c.get(ctx, c.baseURL+"/watch?v="+url.QueryEscape(videoID)+"&hl=en")
	if err != nil {
		return nil, err
	}
	return parseWatchPage(body)
}

// Transcript downloads a caption track and returns its text as one string.
func (c *Client) Transcript(ctx context.Context, track CaptionTrack) (string, error) {
	trackURL := track.BaseURL
	if strings.HasPrefix(trackURL, "/") {
		trackURL = c.baseURL + trackURL
	}
	body, err := c.get(ctx, trackURL)
	if err != nil {
		return "", err
	}
	return parseTimedText(body)
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "youtube: create request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "youtube: execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, URL: req.URL.Path}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "youtube: read response body")
	}
	return body, nil
}

type playabilityStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func parseWatchPage(body []byte) (*WatchPage, error) {
	page := &WatchPage{}

	var status playabilityStatus
	if found, err := decodeAfter(body, `"playabilityStatus":`, &status); err != nil {
		return nil, err
	} else if found {
		switch status.Status {
		case "ERROR", "UNPLAYABLE":
			return nil, eris.Wrap(ErrUnavailable, status.Reason)
		case "LOGIN_REQUIRED":
			if strings.Contains(strings.ToLower(status.Reason), "not a bot") {
				return nil, eris.Wrap(ErrBotCheck, status.Reason)
			}
			return nil, eris.Wrap(ErrLoginRequired, status.Reason)
		}
	}

	if _, err := decodeAfter(body, `"videoDetails":`, &page.Details); err != nil {
		return nil, err
	}
	if _, err := decodeAfter(body, `"captionTracks":`, &page.Tracks); err != nil {
		return nil, err
	}
	if len(page.Tracks) == 0 {
		return page, ErrNoCaptions
	}
	return page, nil
}

// decodeAfter decodes the JSON value that follows marker in body.
func decodeAfter(body []byte, marker string, out any) (bool, error) {
	i := bytes.Index(body, []byte(marker))
	if i < 0 {
		return false, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body[i+len(marker):]))
	if err := dec.Decode(out); err != nil {
		return true, eris.Wrapf(err, "youtube: decode %s", strings.Trim(marker, `":`))
	}
	return true, nil
}

type timedText struct {
	Texts []struct {
		Text string `xml:",chardata"`
	} `xml:"text"`
	Body struct {
		Paragraphs []struct {
			Text  string   `xml:",chardata"`
			Spans []string `xml:"s"`
		} `xml:"p"`
	} `xml:"body"`
}

// parseTimedText accepts both the classic <transcript><text> format and the
// srv3 <timedtext><body><p> format.
func parseTimedText(body []byte) (string, error) {
	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", eris.Wrap(err, "youtube: decode timed text")
	}

	var parts []string
	add := func(s string) {
		s = strings.Join(strings.Fields(html.UnescapeString(s)), " ")
		if s != "" {
			parts = append(parts, s)
		}
	}
	for _, t := range tt.Texts {
		add(t.Text)
	}
	for _, p := range tt.Body.Paragraphs {
		if len(p.Spans) > 0 {
			add(strings.Join(p.Spans, ""))
			continue
		}
		add(p.Text)
	}
	return strings.Join(parts, " "), nil
}
