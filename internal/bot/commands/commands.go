// Package commands implements the market slash commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/tradewatch/internal/market"
	"github.com/jensholdgaard/tradewatch/internal/pipeline"
	"github.com/jensholdgaard/tradewatch/internal/store"
)

// maxMessage is Discord's content limit for one message.
const maxMessage = 2000

// priceListings is how many listings /price shows.
const priceListings = 5

// Market is what the commands read from.
type Market interface {
	PriceCheck(ctx context.Context, name string, limit int) (*market.PriceSummary, error)
	Stats(ctx context.Context) (*store.Stats, error)
	Recommendations(ctx context.Context) ([]market.Recommendation, error)
	Categories() []string
}

// Trigger starts a pipeline run in the background.
type Trigger interface {
	Start(ctx context.Context) (string, error)
}

// Handlers process Discord interactions.
type Handlers struct {
	market    Market
	trigger   Trigger
	runCtx    context.Context
	majorUnit string
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewHandlers creates new command handlers. runCtx governs scrapes started
// with /scrape.
func NewHandlers(runCtx context.Context, m Market, trigger Trigger, majorUnit string, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		market:    m,
		trigger:   trigger,
		runCtx:    runCtx,
		majorUnit: majorUnit,
		logger:    logger,
		tracer:    tp.Tracer("github.com/jensholdgaard/tradewatch/internal/bot/commands"),
	}
}

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "price",
			Description: "Look up current asking prices for an item",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "item",
					Description: "Item name or part of it",
					Required:    true,
				},
			},
		},
		{
			Name:        "market-stats",
			Description: "Show market totals per category",
		},
		{
			Name:        "recommend",
			Description: "Show frequently traded items worth producing",
		},
		{
			Name:        "categories",
			Description: "List item categories",
		},
		{
			Name:        "scrape",
			Description: "Refresh listings from every source now",
		},
	}
}

// InteractionCreate handles incoming slash command interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	msg := h.Reply(context.Background(), i.ApplicationCommandData())
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
		},
	}); err != nil {
		h.logger.Error("responding to interaction failed", slog.Any("error", err))
	}
}

// Reply computes the response text for one command.
func (h *Handlers) Reply(ctx context.Context, data discordgo.ApplicationCommandInteractionData) string {
	ctx, span := h.tracer.Start(ctx, "InteractionCreate",
		trace.WithAttributes(attribute.String("command", data.Name)),
	)
	defer span.End()

	var msg string
	switch data.Name {
	case "price":
		msg = h.handlePrice(ctx, optionString(data.Options, "item"))
	case "market-stats":
		msg = h.handleStats(ctx)
	case "recommend":
		msg = h.handleRecommend(ctx)
	case "categories":
		msg = "**Categories:** " + strings.Join(h.market.Categories(), ", ")
	case "scrape":
		msg = h.handleScrape(ctx)
	default:
		msg = "Unknown command"
	}
	return truncate(msg, maxMessage)
}

func (h *Handlers) handlePrice(ctx context.Context, item string) string {
	item = strings.TrimSpace(item)
	if item == "" {
		return "Tell me which item to look up."
	}
	sum, err := h.market.PriceCheck(ctx, item, priceListings)
	if err != nil {
		h.logger.ErrorContext(ctx, "price check failed", slog.String("item", item), slog.Any("error", err))
		return "Price lookup failed, try again later."
	}
	if sum.Count == 0 {
		return fmt.Sprintf("No priced listings found for **%s**.", item)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**: %d listings, min %.2f / avg %.2f / max %.2f %s\n",
		item, sum.Count, sum.Min, sum.Avg, sum.Max, h.majorUnit)
	for _, l := range sum.Listings {
		fmt.Fprintf(&b, "- %s: %.2f %s on %s by %s", l.Name, l.Price, h.majorUnit, l.Server, l.Seller)
		if l.Quality != nil {
			fmt.Fprintf(&b, " (ql %d)", *l.Quality)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (h *Handlers) handleStats(ctx context.Context) string {
	st, err := h.market.Stats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "stats failed", slog.Any("error", err))
		return "Market stats are unavailable right now."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Market:** %d active listings, %d updated in the last 24h, avg margin %.1f%%\n",
		st.TotalActive, st.Trending, st.AvgProfit)
	for _, cat := range h.market.Categories() {
		n, ok := st.ByCategory[cat]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s: %d", cat, n)
		if avg, ok := st.AvgPrice[cat]; ok {
			fmt.Fprintf(&b, ", avg %.2f %s", avg, h.majorUnit)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (h *Handlers) handleRecommend(ctx context.Context) string {
	recs, err := h.market.Recommendations(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "recommendations failed", slog.Any("error", err))
		return "Recommendations are unavailable right now."
	}
	if len(recs) == 0 {
		return "Not enough repeated listings to recommend anything yet."
	}

	var b strings.Builder
	b.WriteString("**Worth producing:**\n")
	for idx, r := range recs {
		fmt.Fprintf(&b, "%d. %s (%s): avg %.2f %s, seen %d times, est. profit %s\n",
			idx+1, r.Name, r.Category, r.AvgPrice, h.majorUnit, r.Frequency, r.Profit)
	}
	return b.String()
}

func (h *Handlers) handleScrape(ctx context.Context) string {
	runID, err := h.trigger.Start(h.runCtx)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		return "A scrape is already running."
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "starting scrape failed", slog.Any("error", err))
		return "Could not start a scrape."
	}
	return fmt.Sprintf("Scrape started (run `%s`).", runID)
}

func optionString(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, o := range opts {
		if o.Name == name && o.Type == discordgo.ApplicationCommandOptionString {
			return o.StringValue()
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := strings.LastIndexByte(s[:n-3], '\n')
	if cut <= 0 {
		cut = n - 3
	}
	return s[:cut] + "..."
}
