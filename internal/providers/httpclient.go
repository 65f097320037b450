package providers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// HTTPClient wraps provider HTTP calls with the shared hardening: a
// per-call timeout, a local rate limiter, and a circuit breaker so one
// unresponsive provider cannot exhaust the job concurrency budget.
type HTTPClient struct {
	HTTP    *http.Client
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker
	Timeout time.Duration
}

func NewHTTPClient(name string, timeout time.Duration, rps float64, burst int) *HTTPClient {
	return &HTTPClient{
		HTTP:    &http.Client{Timeout: timeout},
		Limiter: rate.NewLimiter(rate.Limit(rps), burst),
		Breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 3,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
		}),
		Timeout: timeout,
	}
}

type readResult struct {
	status int
	body   []byte
}

// DoRead performs the request and drains the body. 5xx answers surface as
// a *StatusError so the breaker counts them, but the status and body are
// still returned to the caller.
func (c *HTTPClient) DoRead(ctx context.Context, req *http.Request, provider, op string) (int, []byte, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	call := func() (any, error) {
		cctx := ctx
		cancel := func() {}
		if c.Timeout > 0 {
			cctx, cancel = context.WithTimeout(ctx, c.Timeout)
		}
		defer cancel()

		resp, err := c.HTTP.Do(req.WithContext(cctx))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		r := readResult{status: resp.StatusCode, body: b}
		if resp.StatusCode >= 500 {
			return r, &StatusError{Provider: provider, Op: op, Status: resp.StatusCode, Body: trim(b)}
		}
		return r, nil
	}

	var resAny any
	var err error
	if c.Breaker != nil {
		resAny, err = c.Breaker.Execute(call)
	} else {
		resAny, err = call()
	}

	r, _ := resAny.(readResult)
	return r.status, r.body, err
}

func trim(b []byte) string {
	const max = 256
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
