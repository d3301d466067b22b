// Package health serves the liveness and readiness endpoints.
//
//   - /healthz reports that the process can serve HTTP.
//   - /readyz runs every registered [Checker] concurrently and answers 503
//     when any of them fails.
//
// Both endpoints answer with {"status": "ok"|"fail", "checks": {...}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz answers 200 only when every checker passes within [checkTimeout].
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
	)

	// Failures are collected per check, so the group never cancels siblings.
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				return err
			}
			checks[c.Name] = "ok"
			return nil
		})
	}
	err := g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if err != nil {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// ErrNotReady is returned by [Flag] checks until the flag is set.
var ErrNotReady = errors.New("not ready")

// Flag is a readiness bit flipped by the component that owns it, such as the
// Discord gateway once it has identified.
type Flag struct {
	mu    sync.RWMutex
	ready bool
}

// Set updates the flag.
func (f *Flag) Set(ready bool) {
	f.mu.Lock()
	f.ready = ready
	f.mu.Unlock()
}

// Checker returns a [Checker] named name that fails while the flag is unset.
func (f *Flag) Checker(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		f.mu.RLock()
		defer f.mu.RUnlock()
		if !f.ready {
			return ErrNotReady
		}
		return nil
	}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
