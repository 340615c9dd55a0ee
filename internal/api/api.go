// Package api serves the market over HTTP.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	validator "github.com/go-playground/validator/v10"

	"github.com/jensholdgaard/tradewatch/internal/health"
	"github.com/jensholdgaard/tradewatch/internal/market"
	"github.com/jensholdgaard/tradewatch/internal/store"
)

// Market is the read and write surface the API needs.
type Market interface {
	Search(ctx context.Context, q store.Query) ([]store.Listing, error)
	Get(ctx context.Context, id string) (*store.Listing, error)
	AddManual(ctx context.Context, l *store.Listing) (bool, error)
	MarkSold(ctx context.Context, id string) error
	Stats(ctx context.Context) (*store.Stats, error)
	Recommendations(ctx context.Context) ([]market.Recommendation, error)
	History(ctx context.Context, limit int) ([]store.ScrapeRun, error)
	Export(ctx context.Context, w io.Writer, format market.Format) (int, error)
}

// Trigger starts a pipeline run in the background.
type Trigger interface {
	Start(ctx context.Context) (string, error)
}

// Server holds the handler dependencies.
type Server struct {
	market   Market
	trigger  Trigger
	health   *health.Handler
	validate *validator.Validate
	logger   *slog.Logger
	// runCtx bounds scrapes started over HTTP; request contexts end with
	// the response.
	runCtx  context.Context
	timeout time.Duration
}

// NewServer returns a Server. runCtx governs pipeline runs started through
// POST /api/scrape.
func NewServer(runCtx context.Context, m Market, trigger Trigger, h *health.Handler, logger *slog.Logger) *Server {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{
		market:   m,
		trigger:  trigger,
		health:   h,
		validate: v,
		logger:   logger,
		runCtx:   runCtx,
		timeout:  10 * time.Second,
	}
}

// Router returns the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health.LivenessHandler())
	r.Get("/readyz", s.health.ReadinessHandler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/items", s.listItems)
		r.Post("/items", s.addItem)
		r.Post("/add-item", s.addItem)
		r.Get("/items/{id}", s.getItem)
		r.Post("/items/{id}/sold", s.markSold)
		r.Get("/stats", s.stats)
		r.Get("/recommendations", s.recommendations)
		r.Get("/history", s.history)
		r.Get("/export", s.export)
		r.Post("/scrape", s.scrape)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.InfoContext(r.Context(), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// log returns the logger annotated for one request.
func (s *Server) log(r *http.Request, op string) *slog.Logger {
	return s.logger.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}
