package commands_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/tradewatch/internal/bot/commands"
	"github.com/jensholdgaard/tradewatch/internal/market"
	"github.com/jensholdgaard/tradewatch/internal/pipeline"
	"github.com/jensholdgaard/tradewatch/internal/store"
)

type mockMarket struct {
	summary *market.PriceSummary
	stats   *store.Stats
	recs    []market.Recommendation
	err     error

	gotName  string
	gotLimit int
}

func (m *mockMarket) PriceCheck(_ context.Context, name string, limit int) (*market.PriceSummary, error) {
	m.gotName, m.gotLimit = name, limit
	return m.summary, m.err
}

func (m *mockMarket) Stats(context.Context) (*store.Stats, error) { return m.stats, m.err }

func (m *mockMarket) Recommendations(context.Context) ([]market.Recommendation, error) {
	return m.recs, m.err
}

func (m *mockMarket) Categories() []string { return []string{"tools", "weapons", "misc"} }

type mockTrigger struct {
	err error
}

func (m *mockTrigger) Start(context.Context) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return "run-42", nil
}

func newHandlers(m commands.Market, tr commands.Trigger) *commands.Handlers {
	return commands.NewHandlers(context.Background(), m, tr, "silver",
		slog.New(slog.NewTextHandler(io.Discard, nil)), noop.NewTracerProvider())
}

func command(name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) discordgo.ApplicationCommandInteractionData {
	return discordgo.ApplicationCommandInteractionData{Name: name, Options: opts}
}

func stringOpt(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func TestSlashCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range commands.SlashCommands() {
		names[c.Name] = true
	}
	for _, want := range []string{"price", "market-stats", "recommend", "categories", "scrape"} {
		if !names[want] {
			t.Errorf("missing command %q", want)
		}
	}
}

func TestReply(t *testing.T) {
	ql := 70
	tests := []struct {
		name    string
		market  *mockMarket
		trigger *mockTrigger
		data    discordgo.ApplicationCommandInteractionData
		want    []string
	}{
		{
			name: "price with listings",
			market: &mockMarket{summary: &market.PriceSummary{
				Query: "hammer", Count: 2, Min: 3, Max: 5, Avg: 4,
				Listings: []store.Listing{
					{Name: "iron hammer", Price: 3, Server: "Xanadu", Seller: "bob", Quality: &ql},
				},
			}},
			data: command("price", stringOpt("item", " hammer ")),
			want: []string{"**hammer**: 2 listings", "min 3.00 / avg 4.00 / max 5.00 silver", "iron hammer: 3.00 silver on Xanadu by bob (ql 70)"},
		},
		{
			name:   "price without listings",
			market: &mockMarket{summary: &market.PriceSummary{Query: "lamp"}},
			data:   command("price", stringOpt("item", "lamp")),
			want:   []string{"No priced listings found for **lamp**"},
		},
		{
			name:   "price without item",
			market: &mockMarket{},
			data:   command("price"),
			want:   []string{"which item"},
		},
		{
			name:   "price failure",
			market: &mockMarket{err: errors.New("db down")},
			data:   command("price", stringOpt("item", "rope")),
			want:   []string{"Price lookup failed"},
		},
		{
			name: "stats in category order",
			market: &mockMarket{stats: &store.Stats{
				TotalActive: 3, Trending: 2, AvgProfit: 12.5,
				ByCategory: map[string]int{"weapons": 1, "tools": 2},
				AvgPrice:   map[string]float64{"tools": 4},
			}},
			data: command("market-stats"),
			want: []string{"3 active listings, 2 updated in the last 24h, avg margin 12.5%", "- tools: 2, avg 4.00 silver\n- weapons: 1\n"},
		},
		{
			name: "recommendations",
			market: &mockMarket{recs: []market.Recommendation{
				{Name: "long sword", Category: "weapons", AvgPrice: 20, Frequency: 3, Profit: "6-9 silver"},
			}},
			data: command("recommend"),
			want: []string{"1. long sword (weapons): avg 20.00 silver, seen 3 times, est. profit 6-9 silver"},
		},
		{
			name:   "no recommendations",
			market: &mockMarket{},
			data:   command("recommend"),
			want:   []string{"Not enough repeated listings"},
		},
		{
			name:   "categories",
			market: &mockMarket{},
			data:   command("categories"),
			want:   []string{"tools, weapons, misc"},
		},
		{
			name:    "scrape started",
			market:  &mockMarket{},
			trigger: &mockTrigger{},
			data:    command("scrape"),
			want:    []string{"Scrape started (run `run-42`)"},
		},
		{
			name:    "scrape already running",
			market:  &mockMarket{},
			trigger: &mockTrigger{err: pipeline.ErrRunInProgress},
			data:    command("scrape"),
			want:    []string{"already running"},
		},
		{
			name:   "unknown",
			market: &mockMarket{},
			data:   command("unknown-command"),
			want:   []string{"Unknown command"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := tt.trigger
			if tr == nil {
				tr = &mockTrigger{}
			}
			got := newHandlers(tt.market, tr).Reply(context.Background(), tt.data)
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("reply %q does not contain %q", got, want)
				}
			}
		})
	}
}

func TestReply_PriceTrimsAndLimits(t *testing.T) {
	m := &mockMarket{summary: &market.PriceSummary{}}
	newHandlers(m, &mockTrigger{}).Reply(context.Background(), command("price", stringOpt("item", "  rope ")))
	if m.gotName != "rope" || m.gotLimit != 5 {
		t.Errorf("PriceCheck(%q, %d)", m.gotName, m.gotLimit)
	}
}

func TestReply_Truncates(t *testing.T) {
	recs := make([]market.Recommendation, 0, 200)
	for range 200 {
		recs = append(recs, market.Recommendation{Name: strings.Repeat("x", 40), Category: "misc", Profit: "5-8 silver"})
	}
	got := newHandlers(&mockMarket{recs: recs}, &mockTrigger{}).Reply(context.Background(), command("recommend"))
	if len(got) > 2000 {
		t.Errorf("reply is %d bytes, want at most 2000", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated reply should end with ellipsis: %q", got[len(got)-20:])
	}
}
