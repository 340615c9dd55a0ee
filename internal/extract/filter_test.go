package extract_test

import (
	"testing"

	"github.com/jensholdgaard/tradewatch/internal/config"
	"github.com/jensholdgaard/tradewatch/internal/extract"
)

func TestFilter_IsTrade(t *testing.T) {
	f := extract.NewFilter(config.DefaultMarket())

	tests := []struct {
		text string
		want bool
	}{
		{"WTS fine sword", true},
		{"looking for guildmates", false},
		{"Want To Buy: bricks", true},
		{"Selling my old stuff", true},
		{"price check on rare bone", true},
		{"50 SILVER for a horse", true},
		{"", false},
		{"new player question", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := f.IsTrade(tt.text); got != tt.want {
				t.Errorf("IsTrade(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestFilter_ConfiguredKeywords(t *testing.T) {
	f := extract.NewFilter(config.MarketConfig{TradeKeywords: []string{"  Auction "}})
	if !f.IsTrade("big AUCTION tonight") {
		t.Error("configured keyword not matched")
	}
	if f.IsTrade("wts sword") {
		t.Error("default keyword matched with custom table")
	}
}
