package metrics

import (
	"context"
	"net/http"
	"time"
)

type operationKey struct{}

// WithOperation labels outgoing requests made with ctx for InstrumentTransport.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey{}, operation)
}

func operationFrom(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey{}).(string); ok {
		return op
	}
	return "unknown"
}

// InstrumentTransport wraps an http.RoundTripper so every request an explorer
// makes is counted and timed. The explorer parameter should be the stable
// explorer id (e.g., "blockstream").
func InstrumentTransport(m *Metrics, explorer string, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()

		resp, err := next.RoundTrip(r)

		status := "error"
		if err == nil {
			status = StatusClass(resp.StatusCode)
		}
		if m != nil {
			m.RecordExplorerRequest(explorer, operationFrom(r.Context()), status, time.Since(start).Seconds())
		}
		return resp, err
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
