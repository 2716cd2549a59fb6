package provider

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/resilience"
)

// Renderer returns the HTML of a page after its scripts have run.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// ChromeRenderer renders pages in headless Chrome. Chrome or Chromium must
// be installed.
type ChromeRenderer struct {
	Timeout time.Duration
	// Settle is how long scripts get to run after the body is ready.
	Settle time.Duration
}

// Render navigates a fresh browser to pageURL and returns the rendered HTML.
func (r ChromeRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, timeout)
	defer cancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(r.Settle),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", eris.Wrapf(err, "browser: render %s", pageURL)
	}
	return html, nil
}

// Browser renders JavaScript-heavy pages before extracting the article.
type Browser struct {
	renderer Renderer
}

// NewBrowser creates the browser provider.
func NewBrowser(r Renderer) *Browser {
	return &Browser{renderer: r}
}

func (p *Browser) Name() string                    { return BrowserName }
func (p *Browser) SourceType() model.SourceType    { return model.SourceWeb }
func (p *Browser) Supports(identifier string) bool { return model.IsRemote(identifier) }

func (p *Browser) Fetch(ctx context.Context, req model.FetchRequest) (*model.Content, error) {
	html, err := p.renderer.Render(ctx, req.Identifier)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, resilience.NewError(resilience.KindMalformed, eris.Wrap(err, "browser: chrome not installed"))
		}
		return nil, err
	}
	zap.L().Debug("browser: rendered", zap.String("url", req.Identifier), zap.Int("bytes", len(html)))

	if blocked, bt := DetectBlock(200, nil, []byte(html)); blocked {
		return nil, resilience.Errorf(resilience.KindUnauthorized, "blocked by %s", bt)
	}
	return extractArticle([]byte(html), req.Identifier)
}
