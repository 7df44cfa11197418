package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestStatusErrorUnwrap(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{401, ErrUnauthorized},
		{403, ErrUnauthorized},
		{404, ErrNotFound},
		{500, ErrUnavailable},
		{503, ErrUnavailable},
	}
	for _, tt := range tests {
		err := fmt.Errorf("wrapped: %w", &StatusError{Op: "list history", StatusCode: tt.code})
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected %v in chain", tt.code, tt.want)
		}
	}

	bad := &StatusError{Op: "upload", StatusCode: 400, Message: "Missing required column: type"}
	if errors.Is(bad, ErrUnauthorized) || errors.Is(bad, ErrUnavailable) || errors.Is(bad, ErrNotFound) {
		t.Fatalf("400 should not match any sentinel")
	}
	if got := Message(fmt.Errorf("x: %w", bad)); got != "Missing required column: type" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestNetworkErrorMatchesCause(t *testing.T) {
	err := fmt.Errorf("verify: %w", &NetworkError{Op: "verify login", Err: context.DeadlineExceeded})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cause in chain")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", &NetworkError{Op: "x", Err: errors.New("connection refused")}, true},
		{"bad gateway", &StatusError{StatusCode: 502}, true},
		{"unavailable", &StatusError{StatusCode: 503}, true},
		{"internal error", &StatusError{StatusCode: 500}, false},
		{"unauthorized", &StatusError{StatusCode: 401}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}
