// Package health serves liveness and readiness endpoints for a gateway
// process. Liveness answers "is the process up" and never consults
// dependencies; readiness runs a set of named checks (keystore
// reachability, breaker states, anything registered) and reports degraded
// with a 503 when any of them fails, so load balancers stop routing to an
// instance whose coordination backend is gone.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kelpline/breakwater/breaker"
	"github.com/kelpline/breakwater/internal/logging"
	"github.com/kelpline/breakwater/keystore"
)

// CheckFunc probes one dependency. A nil return means healthy. The context
// carries the per-probe deadline; implementations must respect it.
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name string
	fn   CheckFunc
}

// Handler aggregates named readiness checks behind HTTP endpoints. The zero
// value is not usable; construct with New.
type Handler struct {
	timeout time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	checks []namedCheck
}

// Option configures a Handler.
type Option func(*Handler)

// WithTimeout bounds how long one readiness pass may take across all
// checks. Defaults to 2s.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithLogger sets the logger used to report failing checks.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// New creates a Handler with no checks registered. A Handler without checks
// reports ready, so a bare gateway still serves its endpoints.
func New(opts ...Option) *Handler {
	h := &Handler{
		timeout: 2 * time.Second,
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Add registers a named check. Registration order is the order checks run
// and the order they appear in responses. Adding a name twice replaces the
// earlier check.
func (h *Handler) Add(name string, fn CheckFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, c := range h.checks {
		if c.name == name {
			h.checks[i].fn = fn
			return
		}
	}
	h.checks = append(h.checks, namedCheck{name: name, fn: fn})
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Liveness reports whether the process is running. It never touches
// dependencies, so a wedged Redis cannot make an orchestrator restart an
// otherwise healthy instance.
func (h *Handler) Liveness() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowRead(w, r) {
			return
		}
		writeReport(w, http.StatusOK, report{Status: "ok"})
	})
}

// Readiness runs every registered check and reports per-check outcomes.
// All passing yields 200; any failure yields 503 with the failing checks'
// errors in the body.
func (h *Handler) Readiness() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowRead(w, r) {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		h.mu.RLock()
		checks := make([]namedCheck, len(h.checks))
		copy(checks, h.checks)
		h.mu.RUnlock()

		rep := report{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for _, c := range checks {
			if err := c.fn(ctx); err != nil {
				rep.Checks[c.name] = err.Error()
				rep.Status = "degraded"
				status = http.StatusServiceUnavailable
				h.log.Warn("readiness check failed", "check", c.name, "error", err)
				continue
			}
			rep.Checks[c.name] = "ok"
		}
		writeReport(w, status, rep)
	})
}

func allowRead(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", strings.Join([]string{http.MethodGet, http.MethodHead}, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeReport(w http.ResponseWriter, status int, rep report) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rep)
}

// StoreCheck probes keystore connectivity.
func StoreCheck(store keystore.Store) CheckFunc {
	return store.Ping
}

// BreakerCheck fails when any breaker in the registry is open, naming the
// affected dependencies. Half-open breakers count as recovering and do not
// fail the check.
func BreakerCheck(reg *breaker.Registry) CheckFunc {
	return func(ctx context.Context) error {
		var open []string
		for _, snap := range reg.Snapshots() {
			if snap.State == breaker.Open.String() {
				open = append(open, snap.Name)
			}
		}
		if len(open) > 0 {
			return fmt.Errorf("circuits open: %s", strings.Join(open, ", "))
		}
		return nil
	}
}
