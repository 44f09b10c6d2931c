// Package breaker provides a minimal, thread-safe circuit breaker guarding
// one named upstream dependency.
//
// States:
//   - Closed: requests flow normally; failures are counted.
//   - Open: requests fail fast with ErrOpen; after RecoveryTimeout the next
//     request runs as a single half-open probe.
//   - HalfOpen: exactly one probe is in flight; success closes the breaker,
//     failure reopens it and restarts the recovery timer.
//
// Breaker state is process-local on purpose. A fresh instance starts Closed
// and trusts the dependency until proven otherwise.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without invoking the
// operation. It is distinct from anything the upstream returns, so callers
// can branch on it (for example to serve a stale cache entry).
var ErrOpen = errors.New("breaker: circuit open")

// State represents the current circuit breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// String returns the wire name of the state as used in snapshots and logs.
func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config holds the circuit breaker parameters.
type Config struct {
	// FailureThreshold is the failure count at which the breaker trips to
	// Open. The counter is cumulative and resets only on success, so a
	// failed half-open probe re-trips immediately.
	FailureThreshold int

	// RecoveryTimeout is how long after the last failure the breaker
	// stays Open before admitting a probe.
	RecoveryTimeout time.Duration

	// MonitoringPeriod is reserved for windowed failure counting. The
	// current design uses the simple cumulative counter above.
	MonitoringPeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	return c
}

// Snapshot is a read-only view of one breaker, as served by the registry's
// status endpoint.
type Snapshot struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	LastFailureTime time.Time `json:"lastFailureTime,omitzero"`
	LastSuccessTime time.Time `json:"lastSuccessTime,omitzero"`
}

// Breaker guards calls to one named dependency. All methods are safe for
// concurrent use.
type Breaker struct {
	name string
	cfg  Config

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	lastSuccess time.Time
	probing     bool // a half-open trial is in flight

	nowFunc func() time.Time // for testing; defaults to time.Now

	// onStateChange is invoked with the mutex held on every transition;
	// it must not call back into the breaker.
	onStateChange func(name string, from, to State)
}

// New creates a Breaker guarding the named dependency.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:    name,
		cfg:     cfg.withDefaults(),
		state:   Closed,
		nowFunc: time.Now,
	}
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs op under the breaker. When the breaker is Open it returns
// ErrOpen without invoking op; otherwise op's own error is returned
// unchanged and recorded as the outcome.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	settled := false
	defer func() {
		if !settled {
			// op panicked; settle the trial as a failure so a
			// half-open probe slot cannot leak.
			b.OnFailure()
		}
	}()
	err := op(ctx)
	settled = true
	if err != nil {
		b.OnFailure()
		return err
	}
	b.OnSuccess()
	return nil
}

// Do runs op under breaker b and returns its value. It exists because
// methods cannot introduce type parameters.
func Do[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Allow reports whether a call may proceed, returning ErrOpen otherwise.
// Callers that use Allow directly instead of Execute must pair every nil
// return with exactly one OnSuccess or OnFailure, or a half-open probe slot
// is lost.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.now().Sub(b.lastFailure) < b.cfg.RecoveryTimeout {
			return ErrOpen
		}
		// Recovery elapsed: this call becomes the single probe.
		b.setState(HalfOpen)
		b.probing = true
		return nil
	default: // HalfOpen
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	}
}

// OnSuccess records a successful call. It resets the failure counter and
// closes the breaker if a half-open probe just succeeded.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.lastSuccess = b.now()
	b.probing = false
	if b.state != Closed {
		b.setState(Closed)
	}
}

// OnFailure records a failed call. Reaching the failure threshold trips the
// breaker from any state; a tripped half-open probe restarts the recovery
// timer.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	b.probing = false
	if b.failures >= b.cfg.FailureThreshold && b.state != Open {
		b.setState(Open)
	}
}

// State returns the breaker's effective state. Inspecting an Open breaker
// whose recovery timeout has elapsed reports HalfOpen without consuming the
// probe slot.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.effectiveState()
}

// Snapshot returns a read-only view of the breaker for the status endpoint.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:            b.name,
		State:           b.effectiveState().String(),
		Failures:        b.failures,
		LastFailureTime: b.lastFailure,
		LastSuccessTime: b.lastSuccess,
	}
}

// effectiveState folds an elapsed recovery timeout into the reported state.
// Must be called with b.mu held.
func (b *Breaker) effectiveState() State {
	if b.state == Open && b.now().Sub(b.lastFailure) >= b.cfg.RecoveryTimeout {
		return HalfOpen
	}
	return b.state
}

// setState transitions the breaker and fires the change hook. Must be called
// with b.mu held.
func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	if b.onStateChange != nil && from != to {
		b.onStateChange(b.name, from, to)
	}
}

func (b *Breaker) now() time.Time {
	if b.nowFunc != nil {
		return b.nowFunc()
	}
	return time.Now()
}
