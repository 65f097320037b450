package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sony/gobreaker"
)

// StatusError is a non-2xx answer from a provider API.
type StatusError struct {
	Provider string
	Op       string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Op, e.Status, e.Body)
}

// ShouldRetry classifies a provider call failure. Timeouts, 408/429 and
// 5xx are transient; everything else needs intervention, not retries.
func ShouldRetry(err error, httpStatus int) bool {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return true
		}
	}
	if httpStatus == http.StatusTooManyRequests || httpStatus == http.StatusRequestTimeout {
		return true
	}
	if httpStatus >= 500 && httpStatus <= 599 {
		return true
	}
	// A pure transport error (connection refused, DNS) with no status yet.
	if err != nil && httpStatus == 0 {
		var se *StatusError
		return !errors.As(err, &se)
	}
	return false
}

// Retryable reports whether a provider call failure warrants another
// attempt. Breaker rejections are transient by definition: the provider
// is being protected, not broken.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return ShouldRetry(err, se.Status)
	}
	return ShouldRetry(err, 0)
}
