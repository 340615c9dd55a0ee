package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/jensholdgaard/tradewatch/internal/config"
	"github.com/jensholdgaard/tradewatch/internal/store"
)

// Steam fetches trade topics from Steam community discussion boards.
type Steam struct {
	urls       []string
	maxTopics  int
	maxRetries int
	userAgent  string
	client     *http.Client
	limiter    *rate.Limiter
	isTrade    TitleFilter
	logger     *slog.Logger
}

// NewSteam returns a Steam fetcher. Requests are spaced by the configured
// delay and retried with exponential backoff.
func NewSteam(cfg config.ScraperConfig, isTrade TitleFilter, logger *slog.Logger) *Steam {
	limit := rate.Inf
	if cfg.RequestDelay > 0 {
		limit = rate.Every(cfg.RequestDelay)
	}
	return &Steam{
		urls:       cfg.SteamURLs,
		maxTopics:  cfg.MaxTopics,
		maxRetries: cfg.MaxRetries,
		userAgent:  cfg.UserAgent,
		client:     &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(limit, 1),
		isTrade:    isTrade,
		logger:     logger,
	}
}

func (s *Steam) Name() string         { return "steam" }
func (s *Steam) Source() store.Source { return store.SourceCommunity }
func (s *Steam) Targets() []string    { return s.urls }

// Fetch lists topics at target and returns one document per post in each
// trade-looking topic.
func (s *Steam) Fetch(ctx context.Context, target string) ([]Document, error) {
	page, err := s.get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("fetching steam discussions %s: %w", target, err)
	}

	base, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parsing steam url %s: %w", target, err)
	}

	type steamTopic struct{ title, url string }
	var topics []steamTopic
	page.Find("div.forum_topic").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if s.maxTopics > 0 && len(topics) >= s.maxTopics {
			return false
		}
		link := sel.Find("a.forum_topic_title")
		if link.Length() == 0 {
			link = sel.Find("a.forum_topic_overlay")
		}
		title := strings.TrimSpace(sel.Find("div.forum_topic_name").Text())
		if title == "" {
			title = strings.TrimSpace(link.Text())
		}
		href, ok := link.Attr("href")
		if !ok || !s.isTrade(title) {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		topics = append(topics, steamTopic{title: title, url: base.ResolveReference(ref).String()})
		return true
	})

	var docs []Document
	for _, t := range topics {
		if ctx.Err() != nil {
			break
		}
		posts, err := s.topicPosts(ctx, t.title, t.url)
		if err != nil {
			s.logger.WarnContext(ctx, "steam topic fetch failed",
				slog.String("url", t.url),
				slog.Any("error", err),
			)
			continue
		}
		docs = append(docs, posts...)
	}

	s.logger.InfoContext(ctx, "steam discussions fetched",
		slog.String("url", target),
		slog.Int("topics", len(topics)),
		slog.Int("documents", len(docs)),
	)
	return docs, nil
}

func (s *Steam) topicPosts(ctx context.Context, title, topicURL string) ([]Document, error) {
	page, err := s.get(ctx, topicURL)
	if err != nil {
		return nil, err
	}
	var docs []Document
	page.Find("div.forum_post_content").Each(func(_ int, sel *goquery.Selection) {
		body := blockText(sel)
		if body == "" {
			return
		}
		author := strings.TrimSpace(sel.Find("a.forum_op_author, a.commentthread_author_link").First().Text())
		if author == "" {
			author = store.Unknown
		}
		docs = append(docs, Document{
			Title:   title,
			Body:    body,
			URL:     topicURL,
			Author:  author,
			Contact: "Steam: " + author,
		})
	})
	return docs, nil
}

// get waits for the rate limiter and retries transient failures. Client
// errors other than 429 are not retried.
func (s *Steam) get(ctx context.Context, pageURL string) (*goquery.Document, error) {
	var doc *goquery.Document
	op := func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if s.userAgent != "" {
			req.Header.Set("User-Agent", s.userAgent)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, resp.Body)
			err := fmt.Errorf("unexpected status %s", resp.Status)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		doc, err = goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("parsing html: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(s.maxRetries, 0))), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return doc, nil
}
