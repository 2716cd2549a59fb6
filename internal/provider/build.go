package provider

import (
	"context"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/config"
	"github.com/sells-group/ingest-cli/internal/fetcher"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/ocr"
	"github.com/sells-group/ingest-cli/internal/transcript"
	"github.com/sells-group/ingest-cli/pkg/decodo"
	"github.com/sells-group/ingest-cli/pkg/firecrawl"
	"github.com/sells-group/ingest-cli/pkg/jina"
	"github.com/sells-group/ingest-cli/pkg/supadata"
	"github.com/sells-group/ingest-cli/pkg/youtube"
)

// Priority returns name's position in its source type's default order, or
// -1 for unknown names.
func Priority(name string) int {
	for _, names := range DefaultOrders {
		for i, n := range names {
			if n == name {
				return i
			}
		}
	}
	return -1
}

// Build constructs every provider cfg has credentials for, grouped by source
// type in default order. Providers that need a missing key are skipped with a
// warning.
func Build(ctx context.Context, cfg *config.Config) ([]Provider, error) {
	built := make(map[string]Provider)
	skip := func(name, reason string) {
		zap.L().Warn("provider: not configured, skipping",
			zap.String("provider", name),
			zap.String("reason", reason),
		)
	}

	web := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxBytes:  int64(cfg.Fetch.MaxBodyMB) << 20,
	})

	// Transcripts.
	topts := TranscriptOptions{
		Lang: cfg.YouTube.Lang,
		Rules: transcript.Rules{
			MinLength:        cfg.YouTube.MinLength,
			MinAvgWordLength: cfg.YouTube.MinAvgWordLength,
			MaxRepetition:    cfg.YouTube.MaxRepetition,
			MinRelevance:     cfg.YouTube.MinRelevance,
		},
	}
	if cfg.YouTube.APIKey != "" {
		api, err := youtube.NewDataAPI(ctx, cfg.YouTube.APIKey)
		if err != nil {
			return nil, err
		}
		topts.Metadata = api
	}
	built[YouTubeDirectName] = NewYouTubeDirect(youtube.NewClient(), topts)

	var sd supadata.Client
	if cfg.Supadata.APIKey != "" {
		var opts []supadata.Option
		if cfg.Supadata.BaseURL != "" {
			opts = append(opts, supadata.WithBaseURL(cfg.Supadata.BaseURL))
		}
		sd = supadata.NewClient(cfg.Supadata.APIKey, opts...)
		var poll []supadata.PollOption
		if cfg.Supadata.PollTimeoutSecs > 0 {
			poll = append(poll, supadata.WithPollTimeout(time.Duration(cfg.Supadata.PollTimeoutSecs)*time.Second))
		}
		built[SupadataTranscriptName] = NewSupadataTranscript(sd, topts, poll...)
		built[SupadataWebName] = NewSupadataWeb(sd)
		built[SupadataPDFName] = NewSupadataPDF(sd)
	} else {
		for _, n := range []string{SupadataTranscriptName, SupadataWebName, SupadataPDFName} {
			skip(n, "supadata.api_key not set")
		}
	}

	if cfg.Decodo.APIKey != "" {
		var opts []decodo.Option
		if cfg.Decodo.BaseURL != "" {
			opts = append(opts, decodo.WithBaseURL(cfg.Decodo.BaseURL))
		}
		built[DecodoName] = NewDecodoTranscript(decodo.NewClient(cfg.Decodo.APIKey, opts...), topts)
	} else {
		skip(DecodoName, "decodo.api_key not set")
	}

	// Web.
	built[WebRawName] = NewWebRaw(web)
	built[WebDirectName] = NewWebDirect(web)
	if cfg.Jina.Enabled {
		opts := []jina.Option{jina.WithServerTimeout(time.Duration(cfg.Fetch.TimeoutSecs) * time.Second)}
		if cfg.Jina.BaseURL != "" {
			opts = append(opts, jina.WithBaseURL(cfg.Jina.BaseURL))
		}
		built[JinaName] = NewJina(jina.NewClient(cfg.Jina.Key, opts...))
	} else {
		skip(JinaName, "jina.enabled is false")
	}
	if cfg.Firecrawl.Key != "" {
		var opts []firecrawl.Option
		if cfg.Firecrawl.BaseURL != "" {
			opts = append(opts, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
		}
		built[FirecrawlName] = NewFirecrawl(firecrawl.NewClient(cfg.Firecrawl.Key, opts...), cfg.Fetch.TimeoutSecs*1000)
	} else {
		skip(FirecrawlName, "firecrawl.key not set")
	}
	if cfg.Browser.Enabled {
		built[BrowserName] = NewBrowser(ChromeRenderer{
			Timeout: time.Duration(cfg.Browser.TimeoutSecs) * time.Second,
			Settle:  time.Duration(cfg.Browser.SettleMs) * time.Millisecond,
		})
	} else {
		skip(BrowserName, "browser.enabled is false")
	}

	// PDF.
	if _, err := exec.LookPath(cfg.PDF.PdfToTextPath); err != nil {
		zap.L().Warn("provider: pdftotext not found, pdf_direct will fail",
			zap.String("path", cfg.PDF.PdfToTextPath),
		)
	}
	pdfFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxBytes:  int64(cfg.PDF.MaxSizeMB) << 20,
	})
	built[PDFDirectName] = NewPDFDirect(pdfFetcher, ocr.NewPdfToText(cfg.PDF.PdfToTextPath, cfg.PDF.MaxPages))
	if cfg.Mistral.APIKey != "" {
		built[MistralOCRName] = NewMistralOCR(ocr.NewMistralOCR(cfg.Mistral.APIKey, cfg.Mistral.Model))
	} else {
		skip(MistralOCRName, "mistral.api_key not set")
	}

	// Documents.
	maxDoc := int64(cfg.PDF.MaxSizeMB) << 20
	built[LocalFileName] = NewLocalFile(maxDoc)
	built[XLSXName] = NewXLSX()
	built[FTPName] = NewFTP(fetcher.NewFTPFetcher(fetcher.FTPOptions{
		Timeout:  time.Duration(cfg.FTP.TimeoutSecs) * time.Second,
		User:     cfg.FTP.User,
		Password: cfg.FTP.Password,
	}), maxDoc)

	var out []Provider
	for _, st := range model.AllSourceTypes() {
		for _, name := range DefaultOrders[st] {
			if p, ok := built[name]; ok {
				out = append(out, p)
			}
		}
	}
	return out, nil
}
