package youtube

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"google.golang.org/api/option"
	ytapi "google.golang.org/api/youtube/v3"
)

// Metadata describes a video.
type Metadata struct {
	Title        string
	ChannelTitle string
	Description  string
	PublishedAt  *time.Time
}

// MetadataSource looks up video metadata.
type MetadataSource interface {
	VideoMetadata(ctx context.Context, videoID string) (*Metadata, error)
}

// DataAPI reads metadata from the YouTube Data API v3.
type DataAPI struct {
	svc *ytapi.Service
}

// NewDataAPI creates a Data API metadata source authenticated by API key.
// Extra client options are appended, which tests use to point at a fake
// endpoint.
func NewDataAPI(ctx context.Context, apiKey string, opts ...option.ClientOption) (*DataAPI, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := ytapi.NewService(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "youtube: create data api service")
	}
	return &DataAPI{svc: svc}, nil
}

// VideoMetadata returns the snippet of videoID. Unknown IDs yield ErrUnavailable.
func (d *DataAPI) VideoMetadata(ctx context.Context, videoID string) (*Metadata, error) {
	resp, err := d.svc.Videos.List([]string{"snippet"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return nil, eris.Wrapf(err, "youtube: videos.list %s", videoID)
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return nil, eris.Wrapf(ErrUnavailable, "video %s not found", videoID)
	}

	sn := resp.Items[0].Snippet
	md := &Metadata{
		Title:        sn.Title,
		ChannelTitle: sn.ChannelTitle,
		Description:  sn.Description,
	}
	if ts, err := time.Parse(time.RFC3339, sn.PublishedAt); err == nil {
		md.PublishedAt = &ts
	}
	return md, nil
}
