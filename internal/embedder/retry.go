package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RetryPolicy bounds how often and how long a provider call is retried
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy makes three attempts, backing off from 100ms to 5s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Initial: 100 * time.Millisecond, Max: 5 * time.Second}
}

// delay returns the wait before attempt n+1; the wait doubles each time
func (r RetryPolicy) delay(n int) time.Duration {
	d := r.Initial << n
	if d <= 0 || d > r.Max {
		return r.Max
	}
	return d
}

// errInvalidRequest marks a request that could not be built
var errInvalidRequest = errors.New("invalid request")

// statusError is a non-200 answer from an embedding endpoint
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.code, e.body)
}

// retryable reports whether another attempt could succeed. Throttling,
// server errors and transport failures qualify; other 4xx answers do not.
func retryable(err error) bool {
	if errors.Is(err, errInvalidRequest) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

// do calls fn until it succeeds, returns a non-retryable error, runs out
// of attempts or ctx ends
func do[T any](ctx context.Context, r RetryPolicy, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(r.Attempts, 1)

	var err error
	for n := 0; n < attempts; n++ {
		var v T
		if v, err = fn(); err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !retryable(err) || n == attempts-1 {
			break
		}

		t := time.NewTimer(r.delay(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
	return zero, err
}
