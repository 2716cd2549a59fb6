package model

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// FetchRequest asks for the content behind a single identifier.
type FetchRequest struct {
	SourceType SourceType        `json:"source_type"`
	Identifier string            `json:"identifier"`
	Options    map[string]string `json:"options,omitempty"`
}

// Option returns the named option or def when unset.
func (r FetchRequest) Option(key, def string) string {
	if v, ok := r.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// volatileOptions never change the fetched content and are left out of the
// fingerprint.
var volatileOptions = map[string]bool{
	"no_cache": true,
	"timeout":  true,
	"order":    true,
}

// Fingerprint returns a stable hash of the source type, normalized identifier,
// and content-relevant options. Equivalent requests always share a fingerprint.
func (r FetchRequest) Fingerprint() string {
	keys := make([]string, 0, len(r.Options))
	for k := range r.Options {
		if !volatileOptions[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(r.SourceType))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeIdentifier(r.SourceType, r.Identifier)))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(r.Options[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeIdentifier canonicalizes an identifier for fingerprinting. YouTube
// URLs collapse to their video ID; URLs get a lowercase scheme and host and
// lose their fragment.
func NormalizeIdentifier(st SourceType, identifier string) string {
	identifier = norm.NFC.String(strings.TrimSpace(identifier))
	if st == SourceYouTube {
		if id, ok := YouTubeVideoID(identifier); ok {
			return id
		}
	}
	u, err := url.Parse(identifier)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return identifier
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// Content is the normalized result every provider returns.
type Content struct {
	Title       string            `json:"title" yaml:"title"`
	Body        string            `json:"body" yaml:"body"`
	Author      string            `json:"author,omitempty" yaml:"author,omitempty"`
	SiteName    string            `json:"site_name,omitempty" yaml:"site_name,omitempty"`
	URL         string            `json:"url,omitempty" yaml:"url,omitempty"`
	Language    string            `json:"language,omitempty" yaml:"language,omitempty"`
	PublishedAt *time.Time        `json:"published_at,omitempty" yaml:"published_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// WordCount returns the number of whitespace separated words in the body.
func (c *Content) WordCount() int {
	if c == nil {
		return 0
	}
	return len(strings.Fields(c.Body))
}

// CacheEntry is a previously fetched result keyed by request fingerprint.
type CacheEntry struct {
	Fingerprint string        `json:"fingerprint"`
	SourceType  SourceType    `json:"source_type"`
	Identifier  string        `json:"identifier"`
	Provider    string        `json:"provider"`
	Value       Content       `json:"value"`
	FetchedAt   time.Time     `json:"fetched_at"`
	TTL         time.Duration `json:"ttl"`
}

// ExpiresAt returns the instant the entry stops being valid.
func (e *CacheEntry) ExpiresAt() time.Time {
	return e.FetchedAt.Add(e.TTL)
}

// ValidAt reports whether the entry is still valid at now.
func (e *CacheEntry) ValidAt(now time.Time) bool {
	return now.Before(e.ExpiresAt())
}

// CacheStats summarizes the cache contents.
type CacheStats struct {
	Total    int            `json:"total" yaml:"total"`
	Valid    int            `json:"valid" yaml:"valid"`
	Expired  int            `json:"expired" yaml:"expired"`
	BySource map[string]int `json:"by_source,omitempty" yaml:"by_source,omitempty"`
}
