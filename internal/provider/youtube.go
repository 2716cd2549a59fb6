package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/resilience"
	"github.com/sells-group/ingest-cli/internal/transcript"
	"github.com/sells-group/ingest-cli/pkg/decodo"
	"github.com/sells-group/ingest-cli/pkg/supadata"
	"github.com/sells-group/ingest-cli/pkg/youtube"
)

// TranscriptOptions are shared by the transcript providers.
type TranscriptOptions struct {
	// Lang is the preferred transcript language. A request option "lang"
	// overrides it.
	Lang string
	// Metadata looks up titles. When nil, titles come from the watch page
	// where available, else a placeholder.
	Metadata youtube.MetadataSource
	Rules    transcript.Rules
}

func (o TranscriptOptions) lang(req model.FetchRequest) string {
	def := o.Lang
	if def == "" {
		def = "en"
	}
	return req.Option("lang", def)
}

// videoInfo is what the transcript providers know about a video besides the
// transcript itself.
type videoInfo struct {
	id          string
	title       string
	channel     string
	description string
	published   *time.Time
	placeholder bool
}

func placeholderTitle(id string) string {
	return "Video " + id
}

// resolveVideo returns metadata for id, preferring the Data API, then the
// watch page details, then a placeholder title.
func resolveVideo(ctx context.Context, src youtube.MetadataSource, id string, details *youtube.VideoDetails) videoInfo {
	info := videoInfo{id: id}
	if src != nil {
		md, err := src.VideoMetadata(ctx, id)
		if err == nil {
			info.title = md.Title
			info.channel = md.ChannelTitle
			info.description = md.Description
			info.published = md.PublishedAt
			return info
		}
		zap.L().Debug("youtube: metadata lookup failed", zap.String("video_id", id), zap.Error(err))
	}
	if details != nil && details.Title != "" {
		info.title = details.Title
		info.channel = details.Author
		info.description = details.ShortDescription
		return info
	}
	info.title = placeholderTitle(id)
	info.placeholder = true
	return info
}

// gate runs the transcript quality rules. A placeholder title carries no
// signal, so relevance is only checked against real titles.
func gate(text string, info videoInfo, rules transcript.Rules) error {
	if info.placeholder {
		rules.MinRelevance = 0
	}
	if issue := transcript.Check(text, info.title, rules); issue != "" {
		return resilience.Malformed("transcript rejected: %s", issue)
	}
	return nil
}

func transcriptContent(info videoInfo, text, lang, source string) *model.Content {
	return &model.Content{
		Title:       info.title,
		Body:        text,
		Author:      info.channel,
		SiteName:    "YouTube",
		URL:         "https://www.youtube.com/watch?v=" + info.id,
		Language:    lang,
		PublishedAt: info.published,
		Metadata: map[string]string{
			"video_id":          info.id,
			"transcript_source": source,
		},
	}
}

// transcriptError maps client sentinels to failure kinds. Anything else is
// left for resilience.Classify.
func transcriptError(err error) error {
	switch {
	case errors.Is(err, youtube.ErrNoCaptions), errors.Is(err, youtube.ErrUnavailable),
		errors.Is(err, supadata.ErrJobFailed):
		return resilience.NewError(resilience.KindNotFound, err)
	case errors.Is(err, youtube.ErrBotCheck):
		return resilience.NewError(resilience.KindRateLimited, err)
	case errors.Is(err, youtube.ErrLoginRequired):
		return resilience.NewError(resilience.KindUnauthorized, err)
	case errors.Is(err, supadata.ErrJobPending):
		return resilience.NewError(resilience.KindTransient, err)
	}
	return apiError(err)
}

func videoID(req model.FetchRequest) (string, error) {
	id, ok := model.YouTubeVideoID(req.Identifier)
	if !ok {
		return "", resilience.Malformed("not a YouTube video: %q", req.Identifier)
	}
	return id, nil
}

func supportsVideo(identifier string) bool {
	_, ok := model.YouTubeVideoID(identifier)
	return ok
}

// YouTubeDirect reads captions straight from youtube.com.
type YouTubeDirect struct {
	client *youtube.Client
	opts   TranscriptOptions
}

// NewYouTubeDirect creates the youtube_direct provider.
func NewYouTubeDirect(client *youtube.Client, opts TranscriptOptions) *YouTubeDirect {
	return &YouTubeDirect{client: client, opts: opts}
}

func (p *YouTubeDirect) Name() string                    { return YouTubeDirectName }
func (p *YouTubeDirect) SourceType() model.SourceType    { return model.SourceYouTube }
func (p *YouTubeDirect) Supports(identifier string) bool { return supportsVideo(identifier) }

// Fetch picks the best caption track for the requested language and
// downloads it.
func (p *YouTubeDirect) Fetch(ctx context.Context, req model.FetchRequest) (*model.Content, error) {
	id, err := videoID(req)
	if err != nil {
		return nil, err
	}
	page, err := p.client.WatchPage(ctx, id)
	if err != nil {
		return nil, transcriptError(err)
	}
	track, ok := page.Track(p.opts.lang(req))
	if !ok {
		return nil, transcriptError(eris.Wrapf(youtube.ErrNoCaptions, "video %s", id))
	}
	text, err := p.client.Transcript(ctx, track)
	if err != nil {
		return nil, transcriptError(err)
	}

	info := resolveVideo(ctx, p.opts.Metadata, id, &page.Details)
	if err := gate(text, info, p.opts.Rules); err != nil {
		return nil, err
	}

	source := "manual"
	if track.Generated() {
		source = "generated"
	}
	zap.L().Debug("youtube_direct: transcript fetched",
		zap.String("video_id", id),
		zap.String("lang", track.LanguageCode),
		zap.String("source", source),
		zap.Int("chars", len(text)),
	)
	return transcriptContent(info, text, track.LanguageCode, source), nil
}

// SupadataTranscript fetches transcripts from the Supadata API.
type SupadataTranscript struct {
	client supadata.Client
	opts   TranscriptOptions
	poll   []supadata.PollOption
}

// NewSupadataTranscript creates the supadata_transcript provider. Poll
// options bound how long a queued transcript job is waited for.
func NewSupadataTranscript(client supadata.Client, opts TranscriptOptions, poll ...supadata.PollOption) *SupadataTranscript {
	return &SupadataTranscript{client: client, opts: opts, poll: poll}
}

func (p *SupadataTranscript) Name() string                    { return SupadataTranscriptName }
func (p *SupadataTranscript) SourceType() model.SourceType    { return model.SourceYouTube }
func (p *SupadataTranscript) Supports(identifier string) bool { return supportsVideo(identifier) }

// Fetch requests the transcript and waits for it when Supadata queues a job.
func (p *SupadataTranscript) Fetch(ctx context.Context, req model.FetchRequest) (*model.Content, error) {
	id, err := videoID(req)
	if err != nil {
		return nil, err
	}
	lang := p.opts.lang(req)
	resp, err := p.client.Transcript(ctx, supadata.TranscriptRequest{
		URL:  "https://www.youtube.com/watch?v=" + id,
		Lang: lang,
	})
	if err != nil {
		return nil, transcriptError(err)
	}

	text, gotLang := resp.Content, resp.Lang
	if resp.JobID != "" && text == "" {
		job, err := supadata.PollTranscript(ctx, p.client, resp.JobID, p.poll...)
		if err != nil {
			return nil, transcriptError(err)
		}
		text, gotLang = job.Content, job.Lang
	}
	if text == "" {
		return nil, resilience.NotFound("supadata returned no transcript for %s", id)
	}
	if gotLang == "" {
		gotLang = lang
	}

	info := resolveVideo(ctx, p.opts.Metadata, id, nil)
	if err := gate(text, info, p.opts.Rules); err != nil {
		return nil, err
	}
	return transcriptContent(info, text, gotLang, "supadata"), nil
}

// DecodoTranscript fetches subtitles through the Decodo scraper API.
type DecodoTranscript struct {
	client decodo.Client
	opts   TranscriptOptions
}

// NewDecodoTranscript creates the decodo provider.
func NewDecodoTranscript(client decodo.Client, opts TranscriptOptions) *DecodoTranscript {
	return &DecodoTranscript{client: client, opts: opts}
}

func (p *DecodoTranscript) Name() string                    { return DecodoName }
func (p *DecodoTranscript) SourceType() model.SourceType    { return model.SourceYouTube }
func (p *DecodoTranscript) Supports(identifier string) bool { return supportsVideo(identifier) }

// Fetch downloads subtitles and flattens their segments.
func (p *DecodoTranscript) Fetch(ctx context.Context, req model.FetchRequest) (*model.Content, error) {
	id, err := videoID(req)
	if err != nil {
		return nil, err
	}
	lang := p.opts.lang(req)
	subs, err := p.client.Subtitles(ctx, id, lang)
	if err != nil {
		return nil, transcriptError(err)
	}
	text := subs.Text()
	if text == "" {
		return nil, resilience.NotFound("decodo returned no subtitles for %s", id)
	}

	info := resolveVideo(ctx, p.opts.Metadata, id, nil)
	if err := gate(text, info, p.opts.Rules); err != nil {
		return nil, err
	}
	return transcriptContent(info, text, lang, "decodo"), nil
}
