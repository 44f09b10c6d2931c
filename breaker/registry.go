package breaker

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kelpline/breakwater/internal/logging"
	"github.com/kelpline/breakwater/metrics"
)

// Registry owns the named breakers of one process. It is constructed
// explicitly by the composition root; there is no package-level registry, so
// isolated instances can coexist and tests can substitute clocks.
type Registry struct {
	mu       sync.Mutex
	defaults Config
	breakers map[string]*Breaker

	log     *slog.Logger
	mc      *metrics.Collector
	nowFunc func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for state-transition logs.
func WithLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// WithMetrics publishes breaker state to the collector.
func WithMetrics(mc *metrics.Collector) RegistryOption {
	return func(r *Registry) { r.mc = mc }
}

// WithNowFunc sets the clock handed to every breaker the registry creates.
func WithNowFunc(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.nowFunc = now }
}

// NewRegistry creates a registry whose Get-created breakers use defaults.
func NewRegistry(defaults Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		defaults: defaults.withDefaults(),
		breakers: make(map[string]*Breaker),
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for name, creating it with the registry defaults
// on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	return r.add(name, r.defaults)
}

// Configure creates or replaces the breaker for name with its own config.
// Replacing resets the breaker to Closed.
func (r *Registry) Configure(name string, cfg Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.add(name, cfg)
}

// add creates and registers a breaker. Must be called with r.mu held.
func (r *Registry) add(name string, cfg Config) *Breaker {
	b := New(name, cfg)
	if r.nowFunc != nil {
		b.nowFunc = r.nowFunc
	}
	b.onStateChange = r.stateChanged
	r.breakers[name] = b
	r.mc.RecordBreakerState(name, int(Closed))
	return b
}

func (r *Registry) stateChanged(name string, from, to State) {
	r.mc.RecordBreakerState(name, int(to))
	if to == Open {
		r.log.Warn("breaker opened", "dependency", name)
		return
	}
	r.log.Info("breaker state changed", "dependency", name, "from", from.String(), "to", to.String())
}

// Snapshots returns a point-in-time view of every breaker, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	breakers := make([]*Breaker, 0, len(names))
	slices.Sort(names)
	for _, name := range names {
		breakers = append(breakers, r.breakers[name])
	}
	r.mu.Unlock()

	// Snapshot outside the registry lock; each breaker locks itself.
	out := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Snapshot())
	}
	return out
}

// Handler serves the registry as a read-only JSON status endpoint.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			w.Header().Set("Allow", strings.Join([]string{http.MethodGet, http.MethodHead}, ", "))
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(r.Snapshots()); err != nil {
			r.log.Error("encoding breaker snapshots", "error", err)
		}
	})
}
