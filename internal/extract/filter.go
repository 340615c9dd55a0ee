package extract

import (
	"strings"

	"github.com/jensholdgaard/tradewatch/internal/config"
)

// Filter decides whether a title or short text looks like a trade post.
type Filter struct {
	keywords []string
}

// NewFilter returns a Filter over the configured trade keywords.
func NewFilter(cfg config.MarketConfig) *Filter {
	f := &Filter{}
	for _, k := range cfg.TradeKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			f.keywords = append(f.keywords, k)
		}
	}
	return f
}

// IsTrade reports whether text contains any trade keyword, ignoring case.
func (f *Filter) IsTrade(text string) bool {
	text = strings.ToLower(text)
	for _, k := range f.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
