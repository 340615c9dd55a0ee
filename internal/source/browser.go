package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/jensholdgaard/tradewatch/internal/config"
	"github.com/jensholdgaard/tradewatch/internal/store"
)

// Browser renders JavaScript-heavy pages in headless Chrome. Without a
// Chrome binary it yields no documents instead of failing.
type Browser struct {
	urls       []string
	chromePath string
	userAgent  string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewBrowser returns a Browser fetcher for the configured URLs.
func NewBrowser(cfg config.ScraperConfig, logger *slog.Logger) *Browser {
	return &Browser{
		urls:       cfg.BrowserURLs,
		chromePath: cfg.ChromePath,
		userAgent:  cfg.UserAgent,
		timeout:    cfg.RequestTimeout,
		logger:     logger,
	}
}

func (b *Browser) Name() string         { return "browser" }
func (b *Browser) Source() store.Source { return store.SourceCommunity }
func (b *Browser) Targets() []string    { return b.urls }

// Fetch renders target and returns its visible text as one document.
func (b *Browser) Fetch(ctx context.Context, target string) ([]Document, error) {
	bin := b.chromePath
	if bin == "" {
		bin = findChromeBinary()
	}
	if bin == "" {
		b.logger.WarnContext(ctx, "chrome not found, skipping browser source", slog.String("url", target))
		return nil, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(bin),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if b.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.userAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...any) {}))
	defer cancelBrowser()

	timeout := b.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(browserCtx, 3*timeout)
	defer cancel()

	var title, text string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.Evaluate(`document.body.innerText`, &text),
	)
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", target, err)
	}

	b.logger.InfoContext(ctx, "page rendered",
		slog.String("url", target),
		slog.String("title", title),
		slog.Int("bytes", len(text)),
	)
	// Title stays empty so the trade check runs on the body.
	return []Document{{
		Body:    cleanLines(text),
		URL:     target,
		Author:  store.Unknown,
		Contact: "Web: " + title,
	}}, nil
}

func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}
	for _, name := range []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	for _, p := range []string{"/usr/bin/google-chrome-stable", "/usr/bin/chromium", "/snap/bin/chromium"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
