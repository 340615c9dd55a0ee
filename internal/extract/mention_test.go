package extract_test

import (
	"slices"
	"testing"

	"github.com/jensholdgaard/tradewatch/internal/config"
	"github.com/jensholdgaard/tradewatch/internal/extract"
)

func newExtractor() *extract.Extractor {
	cfg := config.DefaultMarket()
	return extract.NewExtractor(cfg, extract.NewNormalizer(cfg))
}

func TestExtractor_Mentions(t *testing.T) {
	e := newExtractor()

	type want struct {
		name    string
		amount  float64
		unit    string
		price   float64
		quality int // 0 means none
		server  string
	}

	tests := []struct {
		name  string
		text  string
		title string
		want  []want
	}{
		{
			name: "sword with quality and server",
			text: "fine sword: 5s, ql 50, Independence server",
			want: []want{{"fine sword", 5, "silver", 5, 50, "Independence"}},
		},
		{
			name: "intent marker stripped",
			text: "WTS iron hammer 3s ql70 Xanadu",
			want: []want{{"iron hammer", 3, "silver", 3, 70, "Xanadu"}},
		},
		{
			name: "unit defaults to major",
			text: "long bow - 12",
			want: []want{{"long bow", 12, "silver", 12, 0, ""}},
		},
		{
			name: "minor and coarse units",
			text: "rope 50c\nbrick 2 iron",
			want: []want{
				{"rope", 50, "copper", 0.5, 0, ""},
				{"brick", 2, "iron", 40, 0, ""},
			},
		},
		{
			name: "line attributes shared by every mention",
			text: "oak chest 10s, small lamp 2s QL 30 on Cadence",
			want: []want{
				{"oak chest", 10, "silver", 10, 30, "Cadence"},
				{"small lamp", 2, "silver", 2, 30, "Cadence"},
			},
		},
		{
			name: "plural suffix kept",
			text: "arrows: 1.5 silver",
			want: []want{{"arrows", 1.5, "silver", 1.5, 0, ""}},
		},
		{
			name:  "title supplies server",
			text:  "iron axe 4s\nbread 10c Pristine",
			title: "WTS on Xanadu",
			want: []want{
				{"iron axe", 4, "silver", 4, 0, "Xanadu"},
				{"bread", 10, "copper", 0.1, 0, "Pristine"},
			},
		},
		{
			name: "no item suffix",
			text: "looking for a horse 5s",
		},
		{
			name: "blank lines only",
			text: "\n\n   \n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := slices.Collect(e.Mentions(tt.text, tt.title))
			if len(got) != len(tt.want) {
				t.Fatalf("got %d mentions %+v, want %d", len(got), got, len(tt.want))
			}
			for i, w := range tt.want {
				m := got[i]
				if m.Name != w.name {
					t.Errorf("[%d] Name = %q, want %q", i, m.Name, w.name)
				}
				if m.Amount != w.amount {
					t.Errorf("[%d] Amount = %v, want %v", i, m.Amount, w.amount)
				}
				if m.Unit != w.unit {
					t.Errorf("[%d] Unit = %q, want %q", i, m.Unit, w.unit)
				}
				if diff := m.Price - w.price; diff > 1e-9 || diff < -1e-9 {
					t.Errorf("[%d] Price = %v, want %v", i, m.Price, w.price)
				}
				switch {
				case w.quality == 0 && m.Quality != nil:
					t.Errorf("[%d] Quality = %d, want none", i, *m.Quality)
				case w.quality != 0 && (m.Quality == nil || *m.Quality != w.quality):
					t.Errorf("[%d] Quality = %v, want %d", i, m.Quality, w.quality)
				}
				if m.Server != w.server {
					t.Errorf("[%d] Server = %q, want %q", i, m.Server, w.server)
				}
			}
		})
	}
}

func TestExtractor_MentionsRestartable(t *testing.T) {
	e := newExtractor()
	seq := e.Mentions("iron axe 4s\nlong sword 9s", "")

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("got %d then %d mentions, want 2 both times", len(first), len(second))
	}
	for i := range first {
		if first[i].Name != second[i].Name || first[i].Price != second[i].Price {
			t.Errorf("iteration %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestExtractor_MentionsStopsEarly(t *testing.T) {
	e := newExtractor()
	n := 0
	for range e.Mentions("iron axe 4s\nlong sword 9s\nrope 1s", "") {
		n++
		if n == 1 {
			break
		}
	}
	if n != 1 {
		t.Errorf("ranged over %d mentions after break, want 1", n)
	}
}

func TestExtractor_UnitsFollowNormalizer(t *testing.T) {
	cfg := config.DefaultMarket()
	e := extract.NewExtractor(cfg, extract.NewNormalizer(config.MarketConfig{
		MajorUnit:  "silver",
		Currencies: []config.Currency{{Unit: "silver", Aliases: []string{"s"}, Factor: 1}},
	}))
	got := slices.Collect(e.Mentions("brick 2 iron\nrope 3s", ""))
	if len(got) != 2 {
		t.Fatalf("got %d mentions %+v", len(got), got)
	}
	// "iron" is not a unit here, so the amount stays in major units.
	if got[0].Name != "brick" || got[0].Price != 2 {
		t.Errorf("first mention = %+v", got[0])
	}
	if got[1].Name != "rope" || got[1].Price != 3 {
		t.Errorf("second mention = %+v", got[1])
	}
}
