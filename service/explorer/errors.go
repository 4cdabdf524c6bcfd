package explorer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/brojonat/walletcore/service/errs"
	"github.com/brojonat/walletcore/service/transaction"
)

type statusError struct {
	code int
	body []byte
}

func (e *statusError) Error() string {
	body := string(e.body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("unexpected status %d: %s", e.code, body)
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return fmt.Sprintf("failed to decode response: %v", e.err) }
func (e *decodeError) Unwrap() error { return e.err }

func decodeFailure(err error) error { return &decodeError{err: err} }

// Classify maps a transport, status or decode failure to an error kind.
func Classify(err error) (errs.Kind, int) {
	var (
		status *statusError
		netErr net.Error
		decErr *decodeError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return errs.KindCanceled, 0
	case errors.Is(err, context.DeadlineExceeded):
		return errs.KindTimeout, 0
	case errors.As(err, &netErr) && netErr.Timeout():
		return errs.KindTimeout, 0
	case errors.Is(err, errs.ErrRateLimited):
		return errs.KindRateLimited, statusCode(status, err)
	case errors.Is(err, errs.ErrNotFound):
		return errs.KindNotFound, statusCode(status, err)
	case errors.Is(err, errs.ErrServer):
		return errs.KindServerError, statusCode(status, err)
	case errors.As(err, &status):
		switch {
		case status.code == http.StatusTooManyRequests:
			return errs.KindRateLimited, status.code
		case status.code >= http.StatusInternalServerError:
			return errs.KindServerError, status.code
		case status.code == http.StatusNotFound:
			return errs.KindNotFound, status.code
		default:
			return errs.KindMalformedResponse, status.code
		}
	case errors.As(err, &decErr):
		return errs.KindMalformedResponse, 0
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return errs.KindServerError, 0
	case errors.As(err, &netErr):
		return errs.KindServerError, 0
	default:
		return errs.KindMalformedResponse, 0
	}
}

func statusCode(status *statusError, err error) int {
	if errors.As(err, &status) {
		return status.code
	}
	return 0
}

func (e *Explorer[R]) requestError(cfg *Config, err error, req Request) *errs.RequestError {
	var reqErr *errs.RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	kind, code := Classify(err)
	req.URL = resolveURL(cfg.BaseURL, req.URL)
	return &errs.RequestError{
		Kind:       kind,
		Request:    req.Descriptor(),
		StatusCode: code,
		Explorer:   cfg.ID,
		Cause:      err,
	}
}

// HandleRequestError classifies err. Recoverable failures of operations with
// a safe fallback return that fallback and a nil error; everything else
// returns the *errs.RequestError.
func (e *Explorer[R]) HandleRequestError(ctx context.Context, err error, req Request) (any, error) {
	reqErr := e.requestError(e.cfg.Load(), err, req)
	e.metrics.RecordExplorerFailure(reqErr.Explorer, string(req.Type), string(reqErr.Kind))

	attrs := []any{
		"operation", req.Type,
		"url", reqErr.Request.URL,
		"kind", reqErr.Kind,
		"status", reqErr.StatusCode,
		"error", reqErr.Cause,
	}

	if reqErr.Recoverable() && FallbackAllowed(ctx) {
		if fb, ok := Fallback(req.Type); ok {
			e.logger.WarnContext(ctx, "explorer request failed, using fallback", attrs...)
			e.metrics.RecordExplorerFallback(reqErr.Explorer, string(req.Type))
			return fb, nil
		}
	}
	switch {
	case reqErr.Kind == errs.KindCanceled:
		e.logger.DebugContext(ctx, "explorer request canceled", attrs...)
	case reqErr.Recoverable():
		e.logger.WarnContext(ctx, "explorer request failed", attrs...)
	default:
		e.logger.ErrorContext(ctx, "explorer request failed", attrs...)
	}
	return nil, reqErr
}

// Fallback returns the safe result for a recoverable failure of op. Single
// transactions, broadcasts and blocks have none.
func Fallback(op Operation) (any, bool) {
	switch op {
	case OpInfo:
		return &Info{Balance: "0"}, true
	case OpTransactions:
		return []*transaction.Transaction{}, true
	case OpUTXO:
		return []UTXO{}, true
	default:
		return nil, false
	}
}

func recoverAs[T any, R any](ctx context.Context, e *Explorer[R], err error, req Request) (T, error) {
	var zero T
	fb, herr := e.HandleRequestError(ctx, err, req)
	if herr != nil {
		return zero, herr
	}
	v, ok := fb.(T)
	if !ok {
		return zero, &errs.WalletError{
			Kind:   errs.KindInternal,
			Origin: e.ID(),
			Cause:  fmt.Errorf("fallback for %s has type %T", req.Type, fb),
		}
	}
	return v, nil
}

type noFallbackKey struct{}

// WithoutFallback makes recoverable failures of calls made with ctx return
// their *errs.RequestError instead of the operation fallback, so a caller can
// move on to another provider.
func WithoutFallback(ctx context.Context) context.Context {
	return context.WithValue(ctx, noFallbackKey{}, true)
}

// FallbackAllowed reports whether calls made with ctx may return an
// operation fallback.
func FallbackAllowed(ctx context.Context) bool {
	off, _ := ctx.Value(noFallbackKey{}).(bool)
	return !off
}
