// Package provider implements the concrete content sources: transcript
// scrapers and APIs, web readers, PDF extractors, and document readers.
package provider

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/resilience"
)

// Provider fetches content for a single identifier. Failures should be
// *resilience.ProviderError values so callers can tell transient problems
// from permanent ones.
type Provider interface {
	Name() string
	SourceType() model.SourceType
	Supports(identifier string) bool
	Fetch(ctx context.Context, req model.FetchRequest) (*model.Content, error)
}

// Provider names.
const (
	YouTubeDirectName      = "youtube_direct"
	SupadataTranscriptName = "supadata_transcript"
	DecodoName             = "decodo"
	WebRawName             = "web_raw"
	WebDirectName          = "web_direct"
	JinaName               = "jina"
	FirecrawlName          = "firecrawl"
	SupadataWebName        = "supadata_web"
	BrowserName            = "browser"
	PDFDirectName          = "pdf_direct"
	MistralOCRName         = "mistral_ocr"
	SupadataPDFName        = "supadata_pdf"
	LocalFileName          = "local_file"
	XLSXName               = "xlsx"
	FTPName                = "ftp"
)

// DefaultOrders is the provider order used per source type when none is
// configured.
var DefaultOrders = map[model.SourceType][]string{
	model.SourceYouTube:  {YouTubeDirectName, SupadataTranscriptName, DecodoName},
	model.SourceWeb:      {WebRawName, WebDirectName, JinaName, FirecrawlName, SupadataWebName, BrowserName},
	model.SourcePDF:      {PDFDirectName, MistralOCRName, SupadataPDFName},
	model.SourceDocument: {LocalFileName, XLSXName, FTPName},
}

// KnownNames returns every provider name this package can build.
func KnownNames() map[string]model.SourceType {
	out := make(map[string]model.SourceType)
	for st, names := range DefaultOrders {
		for _, n := range names {
			out[n] = st
		}
	}
	return out
}

// apiError marks undecodable API responses as malformed. Other errors are
// left for resilience.Classify.
func apiError(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return resilience.NewError(resilience.KindMalformed, err)
	}
	return err
}
