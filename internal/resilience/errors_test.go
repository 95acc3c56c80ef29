package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("document missing"), false},
		{"transient error", NewTransientError(errors.New("503"), 503), true},
		{"wrapped transient", fmt.Errorf("fetch: %w", NewTransientError(errors.New("429"), 429)), true},
		{"connection reset", syscall.ECONNRESET, true},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"reset by string", errors.New("read tcp: connection reset by peer"), true},
		{"dns by string", errors.New("lookup www.sec.gov: no such host"), true},
		{"io timeout by string", errors.New("read: i/o timeout"), true},
		{"not found is permanent", errors.New("http 404 not found"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be transient", code)
		}
	}
	for _, code := range []int{200, 301, 400, 403, 404, 501} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be permanent", code)
		}
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("gateway timeout")
	te := NewTransientError(inner, 504)

	if !errors.Is(te, inner) {
		t.Error("expected errors.Is to see through TransientError")
	}
	if te.Error() != inner.Error() {
		t.Errorf("Error() = %q, want %q", te.Error(), inner.Error())
	}
}

func TestRetryAfterHint(t *testing.T) {
	te := NewTransientError(errors.New("throttled"), 429)
	te.RetryAfter = 10 * time.Second

	wrapped := fmt.Errorf("fetch feed: %w", te)
	if got := RetryAfterHint(wrapped); got != 10*time.Second {
		t.Errorf("RetryAfterHint = %v, want 10s", got)
	}
	if got := RetryAfterHint(errors.New("plain")); got != 0 {
		t.Errorf("RetryAfterHint on plain error = %v, want 0", got)
	}
	if got := RetryAfterHint(nil); got != 0 {
		t.Errorf("RetryAfterHint(nil) = %v, want 0", got)
	}
}
