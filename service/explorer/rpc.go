package explorer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/brojonat/walletcore/service/errs"
)

// JSON-RPC error codes with a dedicated classification.
const (
	rpcCodeInternal    = -32603
	rpcCodeNotFound    = -32004
	rpcCodeRateLimited = -32005
	rpcCodeSkippedSlot = -32009
)

type rpcEnvelope struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RPCRequest builds a JSON-RPC 2.0 call posted to url (relative to the base
// URL when empty).
func RPCRequest(url, method string, params ...any) Request {
	if params == nil {
		params = []any{}
	}
	return Request{
		URL:    url,
		Method: http.MethodPost,
		Params: map[string]any{"method": method, "params": params},
		Options: Options{
			Body: rpcEnvelope{JSONRPC: "2.0", ID: 1, Method: method, Params: params},
		},
	}
}

// DecodeRPC unmarshals the result of a JSON-RPC response into out. Error
// members and null results come back as errors the explorer classifies.
func DecodeRPC(raw []byte, out any) error {
	var env struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("invalid rpc envelope: %w", err)
	}
	if env.Error != nil {
		return classifyRPCError(env.Error)
	}
	if len(env.Result) == 0 || bytes.Equal(bytes.TrimSpace(env.Result), []byte("null")) {
		return fmt.Errorf("%w: null rpc result", errs.ErrNotFound)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("invalid rpc result: %w", err)
	}
	return nil
}

func classifyRPCError(e *RPCError) error {
	msg := strings.ToLower(e.Message)
	switch {
	case e.Code == rpcCodeRateLimited || e.Code == http.StatusTooManyRequests ||
		strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return fmt.Errorf("%w: %w", errs.ErrRateLimited, e)
	case e.Code == rpcCodeNotFound || e.Code == rpcCodeSkippedSlot || strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %w", errs.ErrNotFound, e)
	case e.Code == rpcCodeInternal:
		return fmt.Errorf("%w: %w", errs.ErrServer, e)
	default:
		return e
	}
}

// AsRPCError extracts the JSON-RPC error carried by err.
func AsRPCError(err error) (*RPCError, bool) {
	var rpcErr *RPCError
	ok := errors.As(err, &rpcErr)
	return rpcErr, ok
}

// RPCCall is one member of a JSON-RPC batch.
type RPCCall struct {
	Method string
	Params []any
}

// RPCBatchRequest builds a JSON-RPC batch. Members get ids 1..n in call
// order.
func RPCBatchRequest(url string, calls ...RPCCall) Request {
	envs := make([]rpcEnvelope, len(calls))
	methods := make([]string, len(calls))
	for i, c := range calls {
		params := c.Params
		if params == nil {
			params = []any{}
		}
		envs[i] = rpcEnvelope{JSONRPC: "2.0", ID: i + 1, Method: c.Method, Params: params}
		methods[i] = c.Method
	}
	return Request{
		URL:     url,
		Method:  http.MethodPost,
		Params:  map[string]any{"batch": methods},
		Options: Options{Body: envs},
	}
}

// SplitRPCBatch returns the response envelopes of an n-member batch in call
// order, each ready for DecodeRPC. Servers that reject the whole batch answer
// with a single envelope whose error is returned.
func SplitRPCBatch(raw []byte, n int) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := DecodeRPC(trimmed, nil); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("expected batch response, got a single envelope")
	}

	var members []json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, fmt.Errorf("invalid rpc batch: %w", err)
	}
	out := make([]json.RawMessage, n)
	for _, m := range members {
		var head struct {
			ID int `json:"id"`
		}
		if err := json.Unmarshal(m, &head); err != nil {
			return nil, fmt.Errorf("invalid rpc batch member: %w", err)
		}
		if head.ID < 1 || head.ID > n {
			return nil, fmt.Errorf("rpc batch member with unexpected id %d", head.ID)
		}
		out[head.ID-1] = m
	}
	for i, m := range out {
		if m == nil {
			return nil, fmt.Errorf("rpc batch member %d missing", i+1)
		}
	}
	return out, nil
}
