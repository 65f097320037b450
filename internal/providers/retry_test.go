package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/sony/gobreaker"
)

func TestShouldRetry(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		want   bool
	}{
		{"deadline exceeded", context.DeadlineExceeded, 0, true},
		{"429", nil, http.StatusTooManyRequests, true},
		{"408", nil, http.StatusRequestTimeout, true},
		{"500", nil, 500, true},
		{"503", nil, 503, true},
		{"400", nil, 400, false},
		{"401", nil, 401, false},
		{"404", nil, 404, false},
		{"transport error no status", errors.New("connection refused"), 0, true},
		{"success", nil, 200, false},
	}
	for _, tc := range cases {
		if got := ShouldRetry(tc.err, tc.status); got != tc.want {
			t.Fatalf("%s: ShouldRetry = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRetryableStatusError(t *testing.T) {
	if Retryable(&StatusError{Provider: "telegram", Op: "getMe", Status: 502}) != true {
		t.Fatalf("502 must be retryable")
	}
	if Retryable(&StatusError{Provider: "telegram", Op: "getMe", Status: 401}) != false {
		t.Fatalf("401 must not be retryable")
	}
}

func TestRetryableBreakerRejections(t *testing.T) {
	if !Retryable(gobreaker.ErrOpenState) {
		t.Fatalf("open breaker must be retryable")
	}
	if !Retryable(gobreaker.ErrTooManyRequests) {
		t.Fatalf("half-open rejection must be retryable")
	}
}

func TestRetryableNil(t *testing.T) {
	if Retryable(nil) {
		t.Fatalf("nil error is not retryable")
	}
}
