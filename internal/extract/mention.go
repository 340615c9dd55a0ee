package extract

import (
	"iter"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jensholdgaard/tradewatch/internal/config"
)

// Mention is one item, amount and unit found in free text, before it is
// classified or stored.
type Mention struct {
	Name    string
	Amount  float64
	Unit    string  // canonical unit name
	Price   float64 // Amount in major units
	Quality *int
	Server  string // empty when no configured server is named
}

// Extractor finds item mentions in trade text.
type Extractor struct {
	items   *regexp.Regexp
	quality *regexp.Regexp
	intent  *regexp.Regexp
	servers []string
	norm    *Normalizer
}

// NewExtractor compiles the mention patterns from the market tables.
func NewExtractor(cfg config.MarketConfig, norm *Normalizer) *Extractor {
	return &Extractor{
		items:   itemPattern(cfg.ItemSuffixes, norm.Aliases()),
		quality: regexp.MustCompile(`(?i)\b(?:` + alternation(cfg.QualityMarkers) + `)\s*[:=]?\s*(\d+)`),
		intent:  regexp.MustCompile(`(?i)^(?:(?:` + alternation(cfg.IntentMarkers) + `)\b[\s:\-]*)+`),
		servers: cfg.Servers,
		norm:    norm,
	}
}

// itemPattern matches descriptive words ending in a known item suffix,
// an optional separator, a numeric amount and an optional unit token.
func itemPattern(suffixes, units []string) *regexp.Regexp {
	expr := `(?i)([A-Za-z\s]*(?:` + alternation(suffixes) + `)(?:es|s)?)\b` +
		`\s*[:\-]?\s*` +
		`(\d+(?:\.\d+)?)`
	if len(units) > 0 {
		expr += `(?:\s*(` + alternation(units) + `)\b)?`
	} else {
		expr += `()`
	}
	return regexp.MustCompile(expr)
}

// alternation quotes words and joins them longest first so that longer
// tokens win over their prefixes.
func alternation(words []string) string {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, w)
		}
	}
	sort.SliceStable(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	for i, w := range quoted {
		quoted[i] = regexp.QuoteMeta(w)
	}
	if len(quoted) == 0 {
		// Matches nothing.
		return `[^\x00-\x{10FFFF}]`
	}
	return strings.Join(quoted, "|")
}

// Mentions returns the mentions in text, line by line. Quality and server
// found anywhere on a line are attached to every mention on that line. A
// line naming no server falls back to a server named in title.
//
// The sequence holds no state between iterations; ranging over it twice
// re-scans text.
func (e *Extractor) Mentions(text, title string) iter.Seq[Mention] {
	return func(yield func(Mention) bool) {
		titleServer := e.server(title)
		for line := range strings.Lines(text) {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			matches := e.items.FindAllStringSubmatch(line, -1)
			if len(matches) == 0 {
				continue
			}

			quality := e.lineQuality(line)
			server := e.server(line)
			if server == "" {
				server = titleServer
			}

			for _, m := range matches {
				mention, ok := e.mention(m)
				if !ok {
					continue
				}
				mention.Quality = quality
				mention.Server = server
				if !yield(mention) {
					return
				}
			}
		}
	}
}

func (e *Extractor) mention(m []string) (Mention, bool) {
	name := e.cleanName(m[1])
	if name == "" {
		return Mention{}, false
	}
	price, err := e.norm.Normalize(m[2], m[3])
	if err != nil {
		return Mention{}, false
	}
	unit, err := e.norm.Unit(m[3])
	if err != nil {
		return Mention{}, false
	}
	amount, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Mention{}, false
	}
	return Mention{Name: name, Amount: amount, Unit: unit, Price: price}, true
}

// cleanName collapses whitespace and strips leading intent markers such as
// "WTS".
func (e *Extractor) cleanName(raw string) string {
	name := strings.Join(strings.Fields(raw), " ")
	name = e.intent.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

func (e *Extractor) lineQuality(line string) *int {
	m := e.quality.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	q, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &q
}

// server returns the first configured server named in s, or "".
func (e *Extractor) server(s string) string {
	s = strings.ToLower(s)
	for _, srv := range e.servers {
		if srv != "" && strings.Contains(s, strings.ToLower(srv)) {
			return srv
		}
	}
	return ""
}
