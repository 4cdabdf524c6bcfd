package explorer

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/brojonat/walletcore/service/errs"
)

// Operation tags a request with the explorer operation it serves. The tag
// selects the fallback shape when a recoverable failure occurs.
type Operation string

const (
	OpInfo         Operation = "info"
	OpTransaction  Operation = "transaction"
	OpTransactions Operation = "transactions"
	OpUTXO         Operation = "utxo"
	OpSend         Operation = "send"
	OpLatestBlock  Operation = "latest_block"
	OpBlock        Operation = "block"
	OpSocket       Operation = "socket"
)

// Request describes one HTTP call. Params become the query string for GET
// requests and the JSON body for other methods unless Options.Body is set.
type Request struct {
	URL     string
	Method  string
	Params  map[string]any
	Type    Operation
	Options Options
}

// Options carry per-request transport settings.
type Options struct {
	Headers map[string]string
	// Body is sent as-is when it is a string or []byte, JSON encoded otherwise.
	Body        any
	ContentType string
	RequestID   string
}

// Descriptor converts r into the form carried by a RequestError.
func (r Request) Descriptor() errs.Descriptor {
	opts := map[string]any{}
	if len(r.Options.Headers) > 0 {
		opts["headers"] = redactHeaders(r.Options.Headers)
	}
	if r.Options.RequestID != "" {
		opts["requestId"] = r.Options.RequestID
	}
	if r.Options.Body != nil {
		opts["body"] = r.Options.Body
	}
	if len(opts) == 0 {
		opts = nil
	}
	method := r.Method
	if method == "" {
		method = "GET"
	}
	return errs.Descriptor{
		URL:     r.URL,
		Method:  method,
		Params:  redactParams(r.Params),
		Type:    string(r.Type),
		Options: opts,
	}
}

func redactParams(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		switch strings.ToLower(k) {
		case "apikey", "api_key", "api-key", "key":
			out[k] = "REDACTED"
		default:
			out[k] = v
		}
	}
	return out
}

func redactHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		switch k {
		case "Authorization", "X-Api-Key", "X-API-Key":
			out[k] = "REDACTED"
		default:
			out[k] = v
		}
	}
	return out
}

// Asset selects a token instead of the coin's native asset.
type Asset struct {
	Ticker   string `json:"ticker" mapstructure:"ticker"`
	Contract string `json:"contract" mapstructure:"contract"`
	Decimals int32  `json:"decimals" mapstructure:"decimals"`
}

type InfoQuery struct {
	Address string
	Asset   *Asset
}

type TransactionQuery struct {
	Address string
	TxID    string
	Asset   *Asset
}

// TransactionsQuery selects one page of history. Offset, PageNum and Cursor
// are only sent to sources that can paginate. PageNum is zero-based.
type TransactionsQuery struct {
	Address string
	Offset  int
	Limit   int
	PageNum int
	Cursor  string
	Asset   *Asset
}

type UTXOQuery struct {
	Address string
}

type SendQuery struct {
	RawTx string
}

type BlockQuery struct {
	Hash   string
	Height *uint64
}

// Scope is what decoders and extractors know about the call that produced a
// raw record.
type Scope struct {
	Address string
	Asset   *Asset
	Coin    Coin
	// Tip is the chain height at request time, zero when unknown.
	Tip uint64
}

// Info is the balance answer. Balance is in minimal units.
type Info struct {
	Balance string          `json:"balance"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

// UTXO is one unspent output. Value is in minimal units.
type UTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Value         string `json:"value"`
	Address       string `json:"address,omitempty"`
	Script        string `json:"script,omitempty"`
	Height        uint64 `json:"height,omitempty"`
	Confirmations int64  `json:"confirmations"`
}

type SendResult struct {
	TxID string          `json:"txid"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

type Block struct {
	Hash       string    `json:"hash"`
	Height     uint64    `json:"height"`
	ParentHash string    `json:"parentHash,omitempty"`
	Time       time.Time `json:"time"`
	TxIDs      []string  `json:"txids,omitempty"`
}
