// Package source fetches raw trade text from forums, community pages and
// chat channels.
package source

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jensholdgaard/tradewatch/internal/store"
)

// Document is one piece of fetched text that may contain trade mentions.
type Document struct {
	Title    string
	Body     string
	URL      string
	Author   string
	Contact  string
	PostedAt time.Time
}

// Fetcher retrieves documents from one kind of origin.
type Fetcher interface {
	// Name labels the fetcher in scrape history.
	Name() string
	// Source is the listing source recorded for documents it returns.
	Source() store.Source
	// Targets lists what one pipeline run fetches, e.g. board URLs or
	// channel IDs.
	Targets() []string
	// Fetch returns the documents found at target. A returned error fails
	// the target; per-document problems are logged and skipped.
	Fetch(ctx context.Context, target string) ([]Document, error)
}

// TitleFilter reports whether a title is worth fetching in full.
type TitleFilter func(title string) bool

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "tr": true, "blockquote": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "table": true, "pre": true,
}

// blockText returns the visible text of sel with one line per block
// element or <br>, so line-level extraction sees the post's own layout.
func blockText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			switch name := goquery.NodeName(c); {
			case name == "#text":
				b.WriteString(c.Text())
			case name == "br":
				b.WriteByte('\n')
			case name == "script" || name == "style":
			case blockElements[name]:
				b.WriteByte('\n')
				walk(c)
				b.WriteByte('\n')
			default:
				walk(c)
			}
		})
	}
	walk(sel)
	return cleanLines(b.String())
}

// cleanLines collapses runs of whitespace within lines and drops empty
// lines.
func cleanLines(s string) string {
	var lines []string
	for line := range strings.Lines(s) {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
