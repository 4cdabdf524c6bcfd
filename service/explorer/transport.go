package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brojonat/walletcore/service/metrics"
	"github.com/google/uuid"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 16 << 20

// Request executes req against the explorer's base URL using the current
// config snapshot. Failures go through HandleRequestError: when req.Type has a
// fallback it is returned JSON-encoded, otherwise the *errs.RequestError.
func (e *Explorer[R]) Request(ctx context.Context, req Request) ([]byte, error) {
	raw, err := e.do(ctx, e.cfg.Load(), req)
	if err == nil {
		return raw, nil
	}
	fb, err := e.HandleRequestError(ctx, err, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fb)
}

// fetch applies the operation throttle before executing req.
func (e *Explorer[R]) fetch(ctx context.Context, cfg *Config, req Request) ([]byte, error) {
	if err := e.throttle(ctx, req.Type); err != nil {
		return nil, e.requestError(cfg, err, req)
	}
	return e.do(ctx, cfg, req)
}

func (e *Explorer[R]) do(ctx context.Context, cfg *Config, req Request) ([]byte, error) {
	if req.Options.RequestID == "" {
		req.Options.RequestID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	httpReq, err := newHTTPRequest(metrics.WithOperation(ctx, string(req.Type)), cfg, req)
	if err != nil {
		return nil, e.requestError(cfg, err, req)
	}

	e.logger.DebugContext(ctx, "explorer request",
		"operation", req.Type,
		"method", httpReq.Method,
		"url", httpReq.URL.Redacted(),
		"request_id", req.Options.RequestID)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, e.requestError(cfg, err, req)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, e.requestError(cfg, err, req)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, e.requestError(cfg, &statusError{code: resp.StatusCode, body: body}, req)
	}
	return body, nil
}

func newHTTPRequest(ctx context.Context, cfg *Config, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(resolveURL(cfg.BaseURL, req.URL))
	if err != nil {
		return nil, fmt.Errorf("invalid request url: %w", err)
	}

	var (
		body        io.Reader
		contentType = req.Options.ContentType
	)
	switch {
	case req.Options.Body != nil:
		data, ct, err := encodeBody(req.Options.Body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
		if contentType == "" {
			contentType = ct
		}
	case len(req.Params) > 0 && method != http.MethodGet && method != http.MethodDelete:
		data, err := json.Marshal(req.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params: %w", err)
		}
		body = bytes.NewReader(data)
		if contentType == "" {
			contentType = "application/json"
		}
	}

	if body == nil && len(req.Params) > 0 {
		q := u.Query()
		for k, v := range req.Params {
			switch vals := v.(type) {
			case []string:
				q[k] = vals
			default:
				q.Set(k, fmt.Sprint(v))
			}
		}
		u.RawQuery = q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Options.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("X-Request-Id", req.Options.RequestID)
	return httpReq, nil
}

func encodeBody(v any) ([]byte, string, error) {
	switch b := v.(type) {
	case string:
		return []byte(b), "text/plain", nil
	case []byte:
		return b, "application/octet-stream", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode body: %w", err)
		}
		return data, "application/json", nil
	}
}

// resolveURL joins a relative request path onto base. Absolute URLs pass
// through unchanged.
func resolveURL(base, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if ref == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(ref, "/")
}

// throttle waits for the operation's limiter and records the request time.
// Only info and transactions lookups are throttled.
func (e *Explorer[R]) throttle(ctx context.Context, op Operation) error {
	var (
		lim  = e.infoLimiter
		last = &e.lastInfo
	)
	switch op {
	case OpInfo:
	case OpTransactions:
		lim, last = e.txsLimiter, &e.lastTxs
	default:
		return nil
	}

	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return fmt.Errorf("%w: throttle: %v", context.DeadlineExceeded, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		e.metrics.RecordThrottleWait(e.ID(), string(op), waited.Seconds())
	}
	last.Store(time.Now().UnixNano())
	return nil
}
