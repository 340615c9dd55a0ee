package api

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jensholdgaard/tradewatch/internal/market"
	"github.com/jensholdgaard/tradewatch/internal/pipeline"
	"github.com/jensholdgaard/tradewatch/internal/store"
)

// AddItemRequest is the body of POST /api/items.
type AddItemRequest struct {
	Name         string   `json:"name" validate:"required"`
	Category     string   `json:"category"`
	Price        *float64 `json:"price" validate:"required,gte=0"`
	Cost         *float64 `json:"cost" validate:"omitempty,gte=0"`
	Quality      *int     `json:"quality" validate:"omitempty,gte=0"`
	Enchantments *string  `json:"enchantments"`
	Server       string   `json:"server" validate:"required"`
	Seller       string   `json:"seller"`
	Location     string   `json:"location"`
	Quantity     int      `json:"quantity" validate:"omitempty,min=1"`
	Description  string   `json:"description"`
	Contact      string   `json:"contact"`
}

// AddItemResponse reports the stored listing.
type AddItemResponse struct {
	Response
	Created bool          `json:"created"`
	Item    store.Listing `json:"item"`
}

// ScrapeResponse reports a started pipeline run.
type ScrapeResponse struct {
	Response
	RunID string `json:"run_id"`
}

const defaultHistoryLimit = 20

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	log := s.log(r, "api.listItems")
	qs := r.URL.Query()

	q := store.Query{
		Server:   qs.Get("server"),
		Category: qs.Get("category"),
		Search:   qs.Get("search"),
		SortBy:   qs.Get("sort"),
		Desc:     !strings.EqualFold(qs.Get("order"), "asc"),
	}
	if v := qs.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errResponse("limit must be a positive integer"))
			return
		}
		q.Limit = limit
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	items, err := s.market.Search(ctx, q)
	if err != nil {
		log.ErrorContext(ctx, "searching listings failed", slog.Any("error", err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errResponse("internal error"))
		return
	}
	if items == nil {
		items = []store.Listing{}
	}
	render.JSON(w, r, items)
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	id, ok := s.listingID(w, r)
	if !ok {
		return
	}
	l, err := s.market.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, r, "api.getItem", err)
		return
	}
	render.JSON(w, r, l)
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request) {
	log := s.log(r, "api.addItem")

	var req AddItemRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.WarnContext(r.Context(), "decoding request body failed", slog.Any("error", err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResponse("failed to decode request"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		render.Status(r, http.StatusBadRequest)
		if errors.As(err, &verrs) {
			render.JSON(w, r, validationError(verrs))
			return
		}
		render.JSON(w, r, errResponse(err.Error()))
		return
	}

	l := store.Listing{
		Name:         strings.TrimSpace(req.Name),
		Category:     req.Category,
		Price:        *req.Price,
		Cost:         req.Cost,
		Quality:      req.Quality,
		Enchantments: req.Enchantments,
		Server:       req.Server,
		Seller:       cmp.Or(req.Seller, "manual"),
		Location:     req.Location,
		Quantity:     req.Quantity,
		Source:       store.SourceManual,
		Description:  req.Description,
		Contact:      req.Contact,
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	created, err := s.market.AddManual(ctx, &l)
	if err != nil {
		s.storeError(w, r, "api.addItem", err)
		return
	}

	log.InfoContext(ctx, "manual listing stored",
		slog.String("listing_id", l.ID),
		slog.Bool("created", created),
	)
	if created {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, AddItemResponse{
		Response: okResponse("item added successfully"),
		Created:  created,
		Item:     l,
	})
}

func (s *Server) markSold(w http.ResponseWriter, r *http.Request) {
	id, ok := s.listingID(w, r)
	if !ok {
		return
	}
	if err := s.market.MarkSold(r.Context(), id); err != nil {
		s.storeError(w, r, "api.markSold", err)
		return
	}
	render.JSON(w, r, okResponse("item marked sold"))
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.market.Stats(r.Context())
	if err != nil {
		s.storeError(w, r, "api.stats", err)
		return
	}
	render.JSON(w, r, st)
}

func (s *Server) recommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := s.market.Recommendations(r.Context())
	if err != nil {
		s.storeError(w, r, "api.recommendations", err)
		return
	}
	render.JSON(w, r, recs)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errResponse("limit must be a positive integer"))
			return
		}
		limit = min(n, store.MaxLimit)
	}
	runs, err := s.market.History(r.Context(), limit)
	if err != nil {
		s.storeError(w, r, "api.history", err)
		return
	}
	if runs == nil {
		runs = []store.ScrapeRun{}
	}
	render.JSON(w, r, runs)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	log := s.log(r, "api.export")
	format, err := market.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResponse(err.Error()))
		return
	}

	name := "market_export_" + time.Now().UTC().Format("20060102_150405") + "." + string(format)
	switch format {
	case market.FormatCSV:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	default:
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)

	// Headers are committed once the first byte is written, so a failure
	// mid-stream can only be logged.
	if _, err := s.market.Export(r.Context(), w, format); err != nil {
		log.ErrorContext(r.Context(), "export failed", slog.Any("error", err))
	}
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	log := s.log(r, "api.scrape")
	runID, err := s.trigger.Start(s.runCtx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, errResponse("a scrape is already in progress"))
		return
	case err != nil:
		log.ErrorContext(r.Context(), "starting scrape failed", slog.Any("error", err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errResponse("internal error"))
		return
	}

	log.InfoContext(r.Context(), "scrape started", slog.String("run_id", runID))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, ScrapeResponse{Response: okResponse("scraping started"), RunID: runID})
}

func (s *Server) listingID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := uuid.Validate(id); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResponse("invalid id"))
		return "", false
	}
	return id, true
}

// storeError maps store sentinels to HTTP statuses.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, errResponse("item not found"))
	case errors.Is(err, store.ErrInvalidTransition):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, errResponse(err.Error()))
	case errors.Is(err, store.ErrInvalidListing):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResponse(err.Error()))
	default:
		s.log(r, op).ErrorContext(r.Context(), "request failed", slog.Any("error", err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errResponse("internal error"))
	}
}
