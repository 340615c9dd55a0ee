package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/jensholdgaard/tradewatch/internal/config"
	"github.com/jensholdgaard/tradewatch/internal/store"
)

// Forum fetches topics from an Invision-style community forum board.
type Forum struct {
	baseURL   string
	boards    []string
	maxTopics int
	delay     time.Duration
	timeout   time.Duration
	userAgent string
	isTrade   TitleFilter
	logger    *slog.Logger
}

// NewForum returns a Forum fetcher over the configured boards.
func NewForum(cfg config.ScraperConfig, isTrade TitleFilter, logger *slog.Logger) *Forum {
	return &Forum{
		baseURL:   strings.TrimRight(cfg.ForumBaseURL, "/"),
		boards:    cfg.ForumBoards,
		maxTopics: cfg.MaxTopics,
		delay:     cfg.RequestDelay,
		timeout:   cfg.RequestTimeout,
		userAgent: cfg.UserAgent,
		isTrade:   isTrade,
		logger:    logger,
	}
}

func (f *Forum) Name() string         { return "forum" }
func (f *Forum) Source() store.Source { return store.SourceForum }

// Targets returns the absolute board URLs.
func (f *Forum) Targets() []string {
	targets := make([]string, 0, len(f.boards))
	for _, b := range f.boards {
		if strings.HasPrefix(b, "http://") || strings.HasPrefix(b, "https://") {
			targets = append(targets, b)
			continue
		}
		targets = append(targets, f.baseURL+"/"+strings.TrimLeft(b, "/"))
	}
	return targets
}

type topic struct {
	title    string
	url      string
	author   string
	postedAt time.Time
}

func (f *Forum) collector() (*colly.Collector, error) {
	c := colly.NewCollector(
		colly.UserAgent(f.userAgent),
		colly.MaxDepth(1),
	)
	if f.timeout > 0 {
		c.SetRequestTimeout(f.timeout)
	}
	if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Delay: f.delay}); err != nil {
		return nil, fmt.Errorf("setting forum rate limit: %w", err)
	}
	return c, nil
}

// Fetch reads the board listing at target, keeps trade-looking topics and
// fetches each topic's first post.
func (f *Forum) Fetch(ctx context.Context, target string) ([]Document, error) {
	c, err := f.collector()
	if err != nil {
		return nil, err
	}

	var topics []topic
	c.OnHTML("div.ipsDataItem", func(e *colly.HTMLElement) {
		if f.maxTopics > 0 && len(topics) >= f.maxTopics {
			return
		}
		link := e.DOM.Find("a[data-linktype='topic']").First()
		if link.Length() == 0 {
			return
		}
		title := strings.TrimSpace(link.Text())
		if !f.isTrade(title) {
			return
		}
		href, _ := link.Attr("href")
		t := topic{
			title:    title,
			url:      e.Request.AbsoluteURL(href),
			author:   strings.TrimSpace(e.DOM.Find("a[data-linktype='profile']").First().Text()),
			postedAt: parseTime(e.DOM.Find("time").First()),
		}
		topics = append(topics, t)
	})

	f.logger.DebugContext(ctx, "visiting forum board", slog.String("url", target))
	if err := c.Visit(target); err != nil {
		return nil, fmt.Errorf("visiting forum board %s: %w", target, err)
	}

	docs := make([]Document, 0, len(topics))
	for _, t := range topics {
		if ctx.Err() != nil {
			break
		}
		body, err := f.topicBody(c.Clone(), t.url)
		if err != nil {
			f.logger.WarnContext(ctx, "forum topic fetch failed",
				slog.String("url", t.url),
				slog.Any("error", err),
			)
			continue
		}
		if body == "" {
			continue
		}
		author := t.author
		if author == "" {
			author = store.Unknown
		}
		docs = append(docs, Document{
			Title:    t.title,
			Body:     body,
			URL:      t.url,
			Author:   author,
			Contact:  "Forum: " + author,
			PostedAt: t.postedAt,
		})
	}

	f.logger.InfoContext(ctx, "forum board fetched",
		slog.String("url", target),
		slog.Int("topics", len(topics)),
		slog.Int("documents", len(docs)),
	)
	return docs, nil
}

// topicBody visits url with a clone of the board collector, which shares
// its rate limit.
func (f *Forum) topicBody(c *colly.Collector, url string) (string, error) {
	var body string
	c.OnHTML("div.ipsType_richText", func(e *colly.HTMLElement) {
		if body == "" {
			body = blockText(e.DOM)
		}
	})
	if err := c.Visit(url); err != nil {
		return "", err
	}
	return body, nil
}

func parseTime(sel *goquery.Selection) time.Time {
	v, ok := sel.Attr("datetime")
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
