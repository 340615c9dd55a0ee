package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/tradewatch/internal/store"
)

// MessageLister is the slice of the Discord session the fetcher needs.
type MessageLister interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// Discord reads recent messages from market channels.
type Discord struct {
	session  MessageLister
	guildID  string
	channels []string
	limit    int
	logger   *slog.Logger
}

// NewDiscord returns a Discord fetcher over channels.
func NewDiscord(session MessageLister, guildID string, channels []string, limit int, logger *slog.Logger) *Discord {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return &Discord{
		session:  session,
		guildID:  guildID,
		channels: channels,
		limit:    limit,
		logger:   logger,
	}
}

func (d *Discord) Name() string         { return "discord" }
func (d *Discord) Source() store.Source { return store.SourceCommunity }
func (d *Discord) Targets() []string    { return d.channels }

// Fetch returns one document per non-empty message in the channel.
func (d *Discord) Fetch(ctx context.Context, channelID string) ([]Document, error) {
	msgs, err := d.session.ChannelMessages(channelID, d.limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("reading discord channel %s: %w", channelID, err)
	}

	docs := make([]Document, 0, len(msgs))
	for _, m := range msgs {
		if m.Content == "" || (m.Author != nil && m.Author.Bot) {
			continue
		}
		author := store.Unknown
		if m.Author != nil && m.Author.Username != "" {
			author = m.Author.Username
		}
		docs = append(docs, Document{
			Body:     m.Content,
			URL:      fmt.Sprintf("https://discord.com/channels/%s/%s/%s", d.guildID, channelID, m.ID),
			Author:   author,
			Contact:  "Discord: " + author,
			PostedAt: m.Timestamp,
		})
	}

	d.logger.InfoContext(ctx, "discord channel read",
		slog.String("channel_id", channelID),
		slog.Int("messages", len(msgs)),
		slog.Int("documents", len(docs)),
	)
	return docs, nil
}
