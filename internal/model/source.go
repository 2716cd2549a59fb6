package model

import (
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// SourceType identifies the kind of content a request asks for.
type SourceType string

const (
	SourceYouTube  SourceType = "youtube"
	SourceWeb      SourceType = "web"
	SourcePDF      SourceType = "pdf"
	SourceDocument SourceType = "document"
)

// AllSourceTypes returns every supported source type in detection order.
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceYouTube,
		SourcePDF,
		SourceDocument,
		SourceWeb,
	}
}

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceYouTube, SourceWeb, SourcePDF, SourceDocument:
		return true
	}
	return false
}

// ParseSourceType converts a user-supplied name into a SourceType.
func ParseSourceType(s string) (SourceType, bool) {
	st := SourceType(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	"youtu.be":          true,
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// YouTubeVideoID extracts the 11 character video ID from a YouTube URL or a
// bare ID. It returns false when no ID can be found.
func YouTubeVideoID(identifier string) (string, bool) {
	identifier = strings.TrimSpace(identifier)
	if videoIDPattern.MatchString(identifier) {
		return identifier, true
	}
	u, err := url.Parse(identifier)
	if err != nil || !youtubeHosts[strings.ToLower(u.Host)] {
		return "", false
	}

	var id string
	switch {
	case strings.EqualFold(u.Host, "youtu.be"):
		id = strings.Trim(u.Path, "/")
	case u.Query().Get("v") != "":
		id = u.Query().Get("v")
	default:
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 && (parts[0] == "embed" || parts[0] == "shorts" || parts[0] == "live" || parts[0] == "v") {
			id = parts[1]
		}
	}
	if !videoIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

// IsYouTubeURL reports whether identifier points at a YouTube video.
func IsYouTubeURL(identifier string) bool {
	u, err := url.Parse(strings.TrimSpace(identifier))
	if err != nil || !youtubeHosts[strings.ToLower(u.Host)] {
		return false
	}
	_, ok := YouTubeVideoID(identifier)
	return ok
}

// IsPDF reports whether identifier is a URL or path ending in .pdf.
func IsPDF(identifier string) bool {
	identifier = strings.TrimSpace(identifier)
	if u, err := url.Parse(identifier); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
	}
	return strings.HasSuffix(strings.ToLower(identifier), ".pdf")
}

// IsRemote reports whether identifier is an http(s) URL.
func IsRemote(identifier string) bool {
	u, err := url.Parse(strings.TrimSpace(identifier))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// DetectSourceType picks a source type for identifier. YouTube wins over PDF,
// PDF over local documents, and anything else that looks like a URL is web.
func DetectSourceType(identifier string) (SourceType, bool) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", false
	}
	if IsYouTubeURL(identifier) {
		return SourceYouTube, true
	}
	if IsPDF(identifier) {
		return SourcePDF, true
	}
	if strings.HasPrefix(strings.ToLower(identifier), "ftp://") || looksLikePath(identifier) {
		return SourceDocument, true
	}
	if IsRemote(identifier) {
		return SourceWeb, true
	}
	return "", false
}

func looksLikePath(identifier string) bool {
	if strings.HasPrefix(identifier, "/") || strings.HasPrefix(identifier, "./") ||
		strings.HasPrefix(identifier, "../") || strings.HasPrefix(identifier, "~/") {
		return true
	}
	if strings.Contains(identifier, "://") {
		return false
	}
	if _, err := os.Stat(identifier); err == nil {
		return true
	}
	return documentExts[strings.ToLower(filepath.Ext(identifier))]
}

var documentExts = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".rst":      true,
	".csv":      true,
	".json":     true,
	".xlsx":     true,
}
