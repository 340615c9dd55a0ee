// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/render"

	"github.com/jensholdgaard/tradewatch/internal/clock"
	"github.com/jensholdgaard/tradewatch/internal/store"
)

// Status represents a health check result.
type Status struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Checker defines a named health check function.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// StoreChecker reports whether the listing store answers.
func StoreChecker(repos *store.Repositories) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			if repos.Ping == nil {
				return nil
			}
			return repos.Ping(ctx)
		},
	}
}

// Handler provides HTTP health check endpoints.
type Handler struct {
	mu       sync.RWMutex
	ready    bool
	checkers []Checker
	clock    clock.Clock
	timeout  time.Duration
}

// NewHandler creates a new health handler with the given checkers.
func NewHandler(clk clock.Clock, checkers ...Checker) *Handler {
	return &Handler{checkers: checkers, clock: clk, timeout: 5 * time.Second}
}

// SetReady marks the service as ready to receive traffic.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

func (h *Handler) now() string {
	return h.clock.Now().UTC().Format(time.RFC3339)
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, Status{Status: "ok", Timestamp: h.now()})
	}
}

// ReadinessHandler returns HTTP 200 once the service is marked ready and
// every checker passes.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		ready := h.ready
		h.mu.RUnlock()

		if !ready {
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, Status{Status: "not_ready", Timestamp: h.now()})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		checks := make(map[string]string, len(h.checkers))
		allOK := true
		for _, c := range h.checkers {
			if err := c.Check(ctx); err != nil {
				checks[c.Name] = err.Error()
				allOK = false
				continue
			}
			checks[c.Name] = "ok"
		}

		status := "ready"
		if !allOK {
			status = "not_ready"
			render.Status(r, http.StatusServiceUnavailable)
		}
		render.JSON(w, r, Status{Status: status, Checks: checks, Timestamp: h.now()})
	}
}
