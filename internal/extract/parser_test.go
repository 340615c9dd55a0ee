package extract_test

import (
	"slices"
	"testing"
	"time"

	"github.com/jensholdgaard/tradewatch/internal/config"
	"github.com/jensholdgaard/tradewatch/internal/extract"
	"github.com/jensholdgaard/tradewatch/internal/store"
)

func TestParser_EndToEnd(t *testing.T) {
	p := extract.NewParser(config.DefaultMarket())
	observed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	meta := extract.Meta{
		Source:      store.SourceForum,
		URL:         "https://forum.wurmonline.com/topic/1",
		Seller:      "Bob",
		ObservedAt:  observed,
		Description: "WTS tools",
		Contact:     "Forum: Bob",
	}

	got := slices.Collect(p.Listings("WTS iron hammer 3s ql70 Xanadu", "", meta))
	if len(got) != 1 {
		t.Fatalf("got %d listings, want 1", len(got))
	}
	l := got[0]

	if l.Name != "iron hammer" {
		t.Errorf("Name = %q, want %q", l.Name, "iron hammer")
	}
	if l.Category != "tools" {
		t.Errorf("Category = %q, want tools", l.Category)
	}
	if l.Price != 3.0 {
		t.Errorf("Price = %v, want 3", l.Price)
	}
	if l.Quality == nil || *l.Quality != 70 {
		t.Errorf("Quality = %v, want 70", l.Quality)
	}
	if l.Server != "Xanadu" {
		t.Errorf("Server = %q, want Xanadu", l.Server)
	}
	if l.Status != store.StatusActive {
		t.Errorf("Status = %q, want active", l.Status)
	}
	if l.Quantity != 1 {
		t.Errorf("Quantity = %d, want 1", l.Quantity)
	}
	if l.Source != store.SourceForum || l.URL != meta.URL || l.Seller != "Bob" {
		t.Errorf("metadata not carried: %+v", l)
	}
	if !l.ObservedAt.Equal(observed) || l.Contact != "Forum: Bob" || l.Description != "WTS tools" {
		t.Errorf("metadata not carried: %+v", l)
	}
	if l.Location != store.Unknown {
		t.Errorf("Location = %q, want unknown", l.Location)
	}
}

func TestParser_Listings(t *testing.T) {
	p := extract.NewParser(config.DefaultMarket())

	tests := []struct {
		name  string
		text  string
		title string
		want  []string
	}{
		{"title filters out non-trade", "iron axe 4s", "guild recruitment", nil},
		{"title admits body", "iron axe 4s\nrope 20c", "Selling stuff", []string{"iron axe", "rope"}},
		{"body checked without title", "wtb long sword 10s", "", []string{"long sword"}},
		{"body without keyword", "long sword 10s", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var names []string
			for l := range p.Listings(tt.text, tt.title, extract.Meta{Source: store.SourceCommunity}) {
				names = append(names, l.Name)
			}
			if !slices.Equal(names, tt.want) {
				t.Errorf("names = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestBuilder_Build(t *testing.T) {
	b := extract.NewBuilder(extract.NewClassifier(config.DefaultMarket()))

	l := b.Build(extract.Mention{Name: "xyzzy", Price: 0}, extract.Meta{Source: store.SourceManual})
	if l.Category != "misc" {
		t.Errorf("Category = %q, want misc", l.Category)
	}
	if l.Server != store.Unknown || l.Seller != store.Unknown {
		t.Errorf("Server/Seller = %q/%q, want unknown", l.Server, l.Seller)
	}
	if l.Status != store.StatusActive || l.Quantity != 1 {
		t.Errorf("Status/Quantity = %q/%d, want active/1", l.Status, l.Quantity)
	}
	if err := l.Normalize(); err != nil {
		t.Errorf("built listing fails validation: %v", err)
	}
}
