package source_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/tradewatch/internal/source"
)

type fakeLister struct {
	msgs      []*discordgo.Message
	err       error
	gotLimit  int
	gotChanID string
}

func (f *fakeLister) ChannelMessages(channelID string, limit int, _, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.gotChanID = channelID
	f.gotLimit = limit
	return f.msgs, f.err
}

func TestDiscord_Fetch(t *testing.T) {
	posted := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	lister := &fakeLister{msgs: []*discordgo.Message{
		{ID: "m1", Content: "WTS iron hammer 3s", Author: &discordgo.User{Username: "carol"}, Timestamp: posted},
		{ID: "m2", Content: "price bot says hi", Author: &discordgo.User{Username: "bot", Bot: true}},
		{ID: "m3", Content: "", Author: &discordgo.User{Username: "dave"}},
		{ID: "m4", Content: "selling rope 20c"},
	}}

	d := source.NewDiscord(lister, "g1", []string{"c1"}, 500, discardLogger())
	docs, err := d.Fetch(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if lister.gotLimit != 100 || lister.gotChanID != "c1" {
		t.Errorf("ChannelMessages(%q, %d)", lister.gotChanID, lister.gotLimit)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if docs[0].URL != "https://discord.com/channels/g1/c1/m1" {
		t.Errorf("URL = %q", docs[0].URL)
	}
	if docs[0].Contact != "Discord: carol" || !docs[0].PostedAt.Equal(posted) {
		t.Errorf("first document = %+v", docs[0])
	}
	if docs[1].Author != "unknown" {
		t.Errorf("Author = %q, want unknown", docs[1].Author)
	}
}

func TestDiscord_FetchError(t *testing.T) {
	lister := &fakeLister{err: errors.New("missing access")}
	d := source.NewDiscord(lister, "g1", []string{"c1"}, 10, discardLogger())
	if _, err := d.Fetch(context.Background(), "c1"); err == nil {
		t.Fatal("expected error")
	}
}
