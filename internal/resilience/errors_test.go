package resilience

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("bad payload"), false},
		{"transient wrapper", NewTransientError(errors.New("503"), 503), true},
		{"non-retryable wrapper", NewTransientError(errors.New("bad request"), 400), false},
		{"wrapped transient", fmt.Errorf("call failed: %w", NewTransientError(errors.New("429"), 429)), true},
		{"connection reset string", errors.New("read tcp: connection reset by peer"), true},
		{"io timeout string", errors.New("dial tcp: i/o timeout"), true},
		{"no such host", errors.New("lookup api.perplexity.ai: no such host"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTransientStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !TransientStatus(code) {
			t.Errorf("expected %d transient", code)
		}
	}
	for _, code := range []int{200, 201, 301, 400, 401, 403, 404, 422} {
		if TransientStatus(code) {
			t.Errorf("expected %d not transient", code)
		}
	}
}

func TestTransientError_Retryable(t *testing.T) {
	tests := []struct {
		name string
		err  *TransientError
		want bool
	}{
		{"retryable status", NewTransientError(errors.New("upstream 503"), 503), true},
		{"client error status", NewTransientError(errors.New("bad request"), 400), false},
		{"no status, network failure", NewTransientError(errors.New("dial tcp: i/o timeout"), 0), true},
		{"no status, plain failure", NewTransientError(errors.New("bad payload"), 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)
	if !errors.Is(te, inner) {
		t.Error("expected errors.Is to see through TransientError")
	}
	if te.Error() != "root cause" {
		t.Errorf("unexpected message %q", te.Error())
	}
}
