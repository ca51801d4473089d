// Package health provides HTTP health and readiness check handlers.
//
// The package exposes two endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 unless a required [Checker]
//     fails.
//
// A failing optional checker marks the service "degraded" but keeps it ready.
// lingoloom uses this for dependencies it can work without, such as the
// moderation API (the offline lexicon takes over) or the embeddings backend
// (answers are then matched exactly only).
//
// Responses are JSON objects with a top-level "status" field ("ok",
// "degraded" or "fail") and a "checks" map containing the result of each
// named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Status values reported in the JSON body.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "llm",
	// "moderation"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error

	// Optional marks a dependency the service can run without.
	Optional bool
}

// Report is the JSON response body for health endpoints.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz endpoints. It is safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK})
}

// Readyz runs every checker concurrently, each with a [checkTimeout]
// deadline derived from the request context. It answers 503 if a required
// checker fails and 200 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.Evaluate(r.Context())
	status := http.StatusOK
	if res.Status == StatusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Evaluate runs all checkers and aggregates their results.
func (h *Handler) Evaluate(ctx context.Context) Report {
	var (
		mu       sync.Mutex
		checks   = make(map[string]string, len(h.checkers))
		failed   bool
		degraded bool
	)

	// Checkers report failures through the map, never through the group, so
	// one failure does not cancel its siblings.
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			err := c.Check(cctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				checks[c.Name] = StatusOK
			case c.Optional:
				checks[c.Name] = StatusDegraded + ": " + err.Error()
				degraded = true
			default:
				checks[c.Name] = StatusFail + ": " + err.Error()
				failed = true
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Report{Status: StatusOK, Checks: checks}
	switch {
	case failed:
		res.Status = StatusFail
	case degraded:
		res.Status = StatusDegraded
	}
	return res
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
