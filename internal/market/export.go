package market

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/tradewatch/internal/store"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts "json" (the default when empty) or "csv".
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

var csvHeader = []string{
	"id", "name", "category", "price", "cost", "quality", "enchantments", "server", "seller",
	"location", "quantity", "timestamp", "source", "url", "description", "contact", "status",
	"created_at", "updated_at",
}

// Export writes every active listing to w and returns how many were written.
func (m *Manager) Export(ctx context.Context, w io.Writer, format Format) (int, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Export", trace.WithAttributes(attribute.String("format", string(format))))
	defer span.End()

	listings, err := m.listings.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading active listings: %w", err)
	}
	if listings == nil {
		listings = []store.Listing{}
	}

	switch format {
	case FormatCSV:
		err = writeCSV(w, listings)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(listings)
	}
	if err != nil {
		return 0, fmt.Errorf("encoding export: %w", err)
	}

	m.logger.InfoContext(ctx, "listings exported",
		slog.Int("count", len(listings)),
		slog.String("format", string(format)),
	)
	return len(listings), nil
}

func writeCSV(w io.Writer, listings []store.Listing) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, l := range listings {
		record := []string{
			l.ID, l.Name, l.Category, formatFloat(l.Price), optFloat(l.Cost), optInt(l.Quality),
			optString(l.Enchantments), l.Server, l.Seller, l.Location, strconv.Itoa(l.Quantity),
			l.ObservedAt.UTC().Format(time.RFC3339), string(l.Source), l.URL, l.Description, l.Contact,
			string(l.Status), l.CreatedAt.UTC().Format(time.RFC3339), l.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func optFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return formatFloat(*f)
}

func optInt(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}

func optString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
