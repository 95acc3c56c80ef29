package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("edgar unavailable")

func failingCall(context.Context) error { return errUpstream }
func okCall(context.Context) error      { return nil }

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker(cfg)
	now := time.Now()
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuit_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failingCall); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: expected upstream error, got %v", i, err)
		}
	}
	if cb.State() != CircuitOpen {
		t.Errorf("expected open after 3 failures, got %v", cb.State())
	}

	var called bool
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("open circuit must not invoke the call")
	}
}

func TestCircuit_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	ctx := context.Background()

	_ = cb.Execute(ctx, failingCall)
	_ = cb.Execute(ctx, failingCall)
	_ = cb.Execute(ctx, okCall)
	_ = cb.Execute(ctx, failingCall)
	_ = cb.Execute(ctx, failingCall)

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed (streak broken by success), got %v", cb.State())
	}
}

func TestCircuit_HalfOpenProbeCloses(t *testing.T) {
	cb, now := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     10 * time.Second,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, failingCall)
	_ = cb.Execute(ctx, failingCall)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %v", cb.State())
	}

	*now = now.Add(11 * time.Second)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after reset timeout, got %v", cb.State())
	}

	if err := cb.Execute(ctx, okCall); err != nil {
		t.Fatalf("probe should be admitted: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %v", cb.State())
	}
}

func TestCircuit_FailedProbeReopens(t *testing.T) {
	cb, now := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     10 * time.Second,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, failingCall)
	_ = cb.Execute(ctx, failingCall)

	*now = now.Add(11 * time.Second)
	if err := cb.Execute(ctx, failingCall); !errors.Is(err, errUpstream) {
		t.Fatalf("probe should be admitted, got %v", err)
	}
	if cb.State() != CircuitOpen {
		t.Errorf("expected reopened circuit, got %v", cb.State())
	}

	if err := cb.Execute(ctx, okCall); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected rejection right after failed probe, got %v", err)
	}
}

func TestCircuit_ShouldTripFiltersErrors(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ShouldTrip:       IsTransient,
	})
	ctx := context.Background()

	// Permanent errors (404s and friends) never count toward the threshold.
	for i := 0; i < 10; i++ {
		_ = cb.Execute(ctx, failingCall)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("permanent errors must not trip the breaker, got %v", cb.State())
	}

	transient := func(context.Context) error {
		return NewTransientError(errors.New("503"), 503)
	}
	_ = cb.Execute(ctx, transient)
	_ = cb.Execute(ctx, transient)
	if cb.State() != CircuitOpen {
		t.Errorf("expected open after transient failures, got %v", cb.State())
	}
}

func TestCircuit_OnStateChange(t *testing.T) {
	var transitions []string
	cfg := CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Second,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	}
	cb, now := newTestBreaker(cfg)
	ctx := context.Background()

	_ = cb.Execute(ctx, failingCall)
	*now = now.Add(11 * time.Second)
	_ = cb.Execute(ctx, okCall)

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestCircuit_Reset(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	ctx := context.Background()

	_ = cb.Execute(ctx, failingCall)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %v", cb.State())
	}

	cb.Reset()
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after reset, got %v", cb.State())
	}
	if err := cb.Execute(ctx, okCall); err != nil {
		t.Errorf("expected call through reset circuit, got %v", err)
	}
}

func TestExecuteVal_PassesValueThrough(t *testing.T) {
	cb, _ := newTestBreaker(DefaultCircuitBreakerConfig())

	val, err := ExecuteVal(context.Background(), cb, func(context.Context) ([]byte, error) {
		return []byte("filing body"), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(val) != "filing body" {
		t.Errorf("val = %q", val)
	}
}

func TestCircuitState_String(t *testing.T) {
	if CircuitClosed.String() != "closed" || CircuitOpen.String() != "open" ||
		CircuitHalfOpen.String() != "half-open" || CircuitState(99).String() != "unknown" {
		t.Error("unexpected state string")
	}
}
