// Package health provides liveness and readiness checks.
//
// The package exposes two endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 only when every registered
//     [Checker] passes.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker. The same
// checks back the CLI "check" command through [Handler.Run].
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/snacstream/pkg/codec"
)

// checkTimeout is the maximum time a single check may take before its
// context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. Check returns nil when the
// dependency is healthy.
type Checker struct {
	// Name is a short label for this check (e.g. "codec", "tokens/lmstudio").
	// It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Pinger is implemented by anything with a cheap reachability probe: token
// sources, the run journal.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CodecChecker reports whether the codec adapter holds a loaded model.
func CodecChecker(a *codec.Adapter) Checker {
	return Checker{Name: "codec", Check: func(context.Context) error {
		if !a.Ready() {
			return codec.ErrModelUnavailable
		}
		return nil
	}}
}

// PingChecker wraps p as a Checker called name.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// AnyOf passes when at least one of checkers passes. It is used for a token
// source with fallbacks, where one reachable backend is enough.
func AnyOf(name string, checkers ...Checker) Checker {
	return Checker{Name: name, Check: func(ctx context.Context) error {
		var errs []error
		for _, c := range checkers {
			err := c.Check(ctx)
			if err == nil {
				return nil
			}
			errs = append(errs, errors.New(c.Name+": "+err.Error()))
		}
		if len(errs) == 0 {
			return errors.New("no checks configured")
		}
		return errors.Join(errs...)
	}}
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. It is safe for concurrent use; the
// checker list is fixed at construction time.
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

// Run evaluates every checker concurrently, each with its own [checkTimeout]
// deadline, and returns the error (or nil) per checker name.
func (h *Handler) Run(ctx context.Context) map[string]error {
	out := make(map[string]error, len(h.checkers))
	var mu sync.Mutex
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			err := c.Check(cctx)
			mu.Lock()
			out[c.Name] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every registered [Checker] passes.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for name, err := range h.Run(r.Context()) {
		if err != nil {
			res.Checks[name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
