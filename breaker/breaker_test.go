package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream unavailable")

func newTestBreaker(name string, cfg Config) (*Breaker, *time.Time) {
	b := New(name, cfg)
	now := time.Now()
	b.nowFunc = func() time.Time { return now }
	return b, &now
}

func failN(ctx context.Context, t *testing.T, b *Breaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := b.Execute(ctx, func(context.Context) error { return errUpstream })
		if !errors.Is(err, errUpstream) {
			t.Fatalf("failure %d: got %v, want upstream error unchanged", i+1, err)
		}
	}
}

func TestClosedToOpen(t *testing.T) {
	b, _ := newTestBreaker("storefront", Config{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	})

	if s := b.State(); s != Closed {
		t.Fatalf("expected Closed, got %v", s)
	}

	failN(t.Context(), t, b, 2)
	if s := b.State(); s != Closed {
		t.Fatalf("expected Closed after 2 failures, got %v", s)
	}

	failN(t.Context(), t, b, 1) // 3rd failure trips
	if s := b.State(); s != Open {
		t.Fatalf("expected Open after 3 failures, got %v", s)
	}
}

func TestOpenRejectsWithoutInvoking(t *testing.T) {
	b, _ := newTestBreaker("storefront", Config{
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
	})

	failN(t.Context(), t, b, 1)

	var invoked bool
	err := b.Execute(t.Context(), func(context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("got %v, want ErrOpen", err)
	}
	if invoked {
		t.Fatal("operation must not run while the breaker is open")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker("storefront", Config{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	})
	ctx := t.Context()

	failN(ctx, t, b, 2)
	if err := b.Execute(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// Counter reset; two more failures must not trip.
	failN(ctx, t, b, 2)
	if s := b.State(); s != Closed {
		t.Fatalf("expected Closed, got %v", s)
	}
}

// Threshold 3, recovery 30s: three failures open the breaker; t+10s is
// rejected without running the operation; t+31s runs as the half-open probe
// and its success closes the breaker.
func TestRecoveryScenario(t *testing.T) {
	b, now := newTestBreaker("storefront", Config{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	})
	ctx := t.Context()

	failN(ctx, t, b, 3)
	if s := b.State(); s != Open {
		t.Fatalf("expected Open, got %v", s)
	}

	*now = now.Add(10 * time.Second)
	var invoked bool
	err := b.Execute(ctx, func(context.Context) error { invoked = true; return nil })
	if !errors.Is(err, ErrOpen) || invoked {
		t.Fatalf("at t+10s: err=%v invoked=%v, want ErrOpen without invocation", err, invoked)
	}

	*now = now.Add(21 * time.Second) // t+31s
	if s := b.State(); s != HalfOpen {
		t.Fatalf("expected HalfOpen once recovery elapsed, got %v", s)
	}
	err = b.Execute(ctx, func(context.Context) error { invoked = true; return nil })
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !invoked {
		t.Fatal("probe should have run")
	}
	if s := b.State(); s != Closed {
		t.Fatalf("expected Closed after successful probe, got %v", s)
	}
}

func TestFailedProbeReopensAndRestartsTimer(t *testing.T) {
	b, now := newTestBreaker("storefront", Config{
		FailureThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
	})
	ctx := t.Context()

	failN(ctx, t, b, 2)
	*now = now.Add(31 * time.Second)

	failN(ctx, t, b, 1) // probe fails
	if s := b.State(); s != Open {
		t.Fatalf("expected Open after failed probe, got %v", s)
	}

	// The timer restarted at the probe failure; 20s later still open.
	*now = now.Add(20 * time.Second)
	if err := b.Execute(ctx, func(context.Context) error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("got %v, want ErrOpen while the restarted timer runs", err)
	}

	*now = now.Add(11 * time.Second)
	if err := b.Execute(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe after restarted timer: %v", err)
	}
	if s := b.State(); s != Closed {
		t.Fatalf("expected Closed, got %v", s)
	}
}

func TestHalfOpenAdmitsExactlyOneProbe(t *testing.T) {
	b, now := newTestBreaker("storefront", Config{
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
	})
	ctx := t.Context()

	failN(ctx, t, b, 1)
	*now = now.Add(31 * time.Second)

	var invocations atomic.Int32
	release := make(chan struct{})
	probeStarted := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(ctx, func(context.Context) error {
			invocations.Add(1)
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	// While the probe is in flight every other caller is rejected.
	for range 5 {
		err := b.Execute(ctx, func(context.Context) error {
			invocations.Add(1)
			return nil
		})
		if !errors.Is(err, ErrOpen) {
			t.Fatalf("concurrent call during probe: got %v, want ErrOpen", err)
		}
	}
	close(release)
	wg.Wait()

	if n := invocations.Load(); n != 1 {
		t.Fatalf("operation ran %d times during half-open, want 1", n)
	}
	if s := b.State(); s != Closed {
		t.Fatalf("expected Closed after probe success, got %v", s)
	}
}

func TestDoReturnsValue(t *testing.T) {
	b, _ := newTestBreaker("storefront", Config{FailureThreshold: 1, RecoveryTimeout: time.Second})

	got, err := Do(t.Context(), b, func(context.Context) (string, error) {
		return "inventory", nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "inventory" {
		t.Fatalf("got %q, want %q", got, "inventory")
	}

	failN(t.Context(), t, b, 1)
	if _, err := Do(t.Context(), b, func(context.Context) (string, error) { return "x", nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("got %v, want ErrOpen", err)
	}
}

func TestPanickingOperationSettlesAsFailure(t *testing.T) {
	b, _ := newTestBreaker("storefront", Config{
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
	})

	func() {
		defer func() { _ = recover() }()
		_ = b.Execute(t.Context(), func(context.Context) error { panic("boom") })
	}()

	if s := b.State(); s != Open {
		t.Fatalf("expected Open after panicking call, got %v", s)
	}
}

func TestSnapshotFields(t *testing.T) {
	b, now := newTestBreaker("payments", Config{
		FailureThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
	})
	ctx := t.Context()

	if err := b.Execute(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	successAt := *now

	*now = now.Add(time.Second)
	failN(ctx, t, b, 2)
	failureAt := *now

	snap := b.Snapshot()
	if snap.Name != "payments" {
		t.Fatalf("name = %q, want %q", snap.Name, "payments")
	}
	if snap.State != "open" {
		t.Fatalf("state = %q, want %q", snap.State, "open")
	}
	if snap.Failures != 2 {
		t.Fatalf("failures = %d, want 2", snap.Failures)
	}
	if !snap.LastSuccessTime.Equal(successAt) {
		t.Fatalf("lastSuccessTime = %v, want %v", snap.LastSuccessTime, successAt)
	}
	if !snap.LastFailureTime.Equal(failureAt) {
		t.Fatalf("lastFailureTime = %v, want %v", snap.LastFailureTime, failureAt)
	}
}
