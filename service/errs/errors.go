// Package errs defines the typed failures shared by explorers, the provider
// registry and the transaction model.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Request kinds decide between fallback and fatal
// propagation; the remaining kinds are programmer or data-integrity errors.
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindRateLimited       Kind = "rate-limited"
	KindServerError       Kind = "server-error"
	KindMalformedResponse Kind = "malformed-response"
	KindNotFound          Kind = "not-found"

	// KindCanceled marks a call the caller abandoned. It never falls back.
	KindCanceled Kind = "canceled"

	KindConstruction    Kind = "construction"
	KindConfiguration   Kind = "configuration"
	KindInvalidArgument Kind = "invalid-argument"
	KindInternal        Kind = "internal"
)

// Recoverable reports whether failures of this kind resolve to an
// operation fallback instead of surfacing to the caller.
func (k Kind) Recoverable() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindServerError:
		return true
	default:
		return false
	}
}

// Failover reports whether a caller should try the next provider registered
// for the same operation.
func (k Kind) Failover() bool {
	return k == KindTimeout || k == KindServerError
}

var (
	ErrConstruction    = errors.New("invalid transaction")
	ErrMissingTicker   = fmt.Errorf("%w: ticker is required", ErrConstruction)
	ErrMissingDateTime = fmt.Errorf("%w: datetime is required", ErrConstruction)

	ErrNoProvider      = errors.New("no provider registered")
	ErrUnknownExplorer = errors.New("unknown explorer")

	// Normalizers return these to steer classification of a decoded body.
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited")
	ErrServer      = errors.New("upstream server error")
	ErrUnsupported = errors.New("operation not supported")
)

// Descriptor is the request that produced a RequestError.
type Descriptor struct {
	URL     string         `json:"url"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	Type    string         `json:"type"`
	Options map[string]any `json:"options,omitempty"`
}

// RequestError is a classified failure of one explorer request.
type RequestError struct {
	Kind       Kind
	Request    Descriptor
	StatusCode int
	Explorer   string
	Cause      error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s %s request to %s failed (%s)", e.Request.Type, e.Request.Method, e.Request.URL, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *RequestError) Unwrap() error { return e.Cause }

// Recoverable reports whether the failure is transient.
func (e *RequestError) Recoverable() bool { return e.Kind.Recoverable() }

// Failover reports whether the next provider for the operation should be tried.
func (e *RequestError) Failover() bool { return e.Kind.Failover() }

// WalletError is raised by wallet-side logic: registry lookups, configuration
// and transaction construction. Origin names the component that raised it.
type WalletError struct {
	Kind   Kind
	Origin string
	Cause  error
}

func (e *WalletError) Error() string {
	if e.Origin == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Origin, e.Kind, e.Cause)
}

func (e *WalletError) Unwrap() error { return e.Cause }

// ExternalError wraps failures of collaborators outside the explorer request
// path, such as the history store or the event publisher.
type ExternalError struct {
	Kind   Kind
	Origin string
	Cause  error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: external %s error: %v", e.Origin, e.Kind, e.Cause)
}

func (e *ExternalError) Unwrap() error { return e.Cause }

// Configuration returns a configuration WalletError raised by origin.
func Configuration(origin string, format string, args ...any) *WalletError {
	return &WalletError{Kind: KindConfiguration, Origin: origin, Cause: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind carried by err, or "" when err is untyped.
func KindOf(err error) Kind {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind
	}
	var walletErr *WalletError
	if errors.As(err, &walletErr) {
		return walletErr.Kind
	}
	var extErr *ExternalError
	if errors.As(err, &extErr) {
		return extErr.Kind
	}
	if errors.Is(err, ErrConstruction) {
		return KindConstruction
	}
	return ""
}

// IsRecoverable reports whether err is a transient request failure.
func IsRecoverable(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Recoverable()
}

// ShouldFailover reports whether err warrants trying the next provider.
func ShouldFailover(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Failover()
}
