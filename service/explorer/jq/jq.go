// Package jq is a declarative adapter: every request path and every field
// extractor comes from the explorer's options, with responses shaped by jq
// expressions. Expressions see the record as input and have $address (the
// queried address) and $tip (the chain height, 0 when unknown) bound.
//
// A BlockCypher-style source:
//
//	className: jq
//	baseUrl: https://api.blockcypher.com/v1/btc/main
//	options:
//	  info: {path: "/addrs/{address}/balance", select: ".final_balance"}
//	  txs:  {path: "/addrs/{address}/full", params: {limit: "{limit}", before: "{cursor}"}, select: ".txs[]"}
//	  tx:   {path: "/txs/{txid}"}
//	  fields:
//	    hash: .hash
//	    incoming: '[.outputs[] | select(.addresses | index($address))] | length > 0'
//	    value: '[.outputs[] | select(.addresses | index($address)) | .value] | add'
//	    datetime: .confirmed
//	    confirmations: .confirmations
//	    fee: .fees
package jq

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/walletcore/service/errs"
	"github.com/brojonat/walletcore/service/explorer"
	"github.com/brojonat/walletcore/service/provider"
	"github.com/shopspring/decimal"
)

const ClassName = "jq"

// Module registers the jq adapter kind. Which usages an instance can serve
// depends on its endpoints, so the default covers only the common ones.
func Module() provider.Module {
	return provider.Module{
		ClassName:    ClassName,
		DefaultUsage: []provider.Usage{provider.UsageBalance, provider.UsageHistory, provider.UsageTx},
		New: func(cfg explorer.Config, coin explorer.Coin, deps explorer.Deps) (explorer.Provider, error) {
			return New(cfg, coin, deps)
		},
	}
}

// Endpoint describes one request. Path and string params may reference
// {address}, {txid}, {limit}, {offset}, {page}, {cursor}, {contract},
// {hash} and {height}; params that expand to "" are dropped.
type Endpoint struct {
	Path   string         `json:"path"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
	// BodyField wraps a broadcast's raw transaction in a JSON object under
	// this key. Without it the raw transaction is sent as a text body.
	BodyField string `json:"bodyField"`
	Select    string `json:"select"`
}

// Fields holds one expression per transaction extractor.
type Fields struct {
	Hash          string `json:"hash"`
	Incoming      string `json:"incoming"`
	OtherSide     string `json:"otherSide"`
	Value         string `json:"value"`
	DateTime      string `json:"datetime"`
	Confirmations string `json:"confirmations"`
	Fee           string `json:"fee"`
	Memo          string `json:"memo"`
	Nonce         string `json:"nonce"`
	Type          string `json:"type"`
}

// Socket configures push subscriptions. Subscribe is evaluated against null
// and its output sent as the subscribe frame; Select picks the transaction
// records out of each pushed frame.
type Socket struct {
	Subscribe string `json:"subscribe"`
	Select    string `json:"select"`
}

// Options is the decoded options block of a jq explorer. Block selects
// must yield objects with hash, height, parentHash and time keys; UTXO
// selects yield objects with txid, vout, value, height and optionally
// confirmations.
type Options struct {
	Info        Endpoint `json:"info"`
	Tx          Endpoint `json:"tx"`
	Txs         Endpoint `json:"txs"`
	UTXO        Endpoint `json:"utxo"`
	Send        Endpoint `json:"send"`
	LatestBlock Endpoint `json:"latestBlock"`
	Block       Endpoint `json:"block"`
	Fields      Fields   `json:"fields"`
	Socket      Socket   `json:"socket"`
	// CurrencyUnits marks sources that report amounts in currency units
	// rather than minimal units.
	CurrencyUnits bool `json:"currencyUnits"`
}

// ParseOptions decodes a config options map.
func ParseOptions(raw map[string]any) (Options, error) {
	var opts Options
	data, err := json.Marshal(raw)
	if err != nil {
		return opts, fmt.Errorf("failed to encode options: %w", err)
	}
	if err := json.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("failed to decode options: %w", err)
	}
	return opts, nil
}

// New creates a jq explorer from cfg.Options.
func New(cfg explorer.Config, coin explorer.Coin, deps explorer.Deps) (*explorer.Explorer[any], error) {
	opts, err := ParseOptions(cfg.Options)
	if err != nil {
		return nil, errs.Configuration(cfg.Identifier(), "%v", err)
	}
	n, err := NewNormalizer(opts, coin.Decimals)
	if err != nil {
		return nil, &errs.WalletError{Kind: errs.KindConfiguration, Origin: cfg.Identifier(), Cause: err}
	}
	return explorer.New[any](cfg, coin, n, deps)
}

// Normalizer evaluates compiled Options.
type Normalizer struct {
	opts     Options
	decimals int32

	selects map[explorer.Operation]*program

	hash, incoming, otherSide, value, datetime *program
	confirmations, fee, memo, nonce, txType    *program

	subscribe, frame *program
}

var (
	_ explorer.Normalizer[any]       = (*Normalizer)(nil)
	_ explorer.BlockNormalizer       = (*Normalizer)(nil)
	_ explorer.TipAware              = (*Normalizer)(nil)
	_ explorer.SocketNormalizer[any] = (*Normalizer)(nil)
)

// NewNormalizer compiles every expression in opts. All compile errors are
// reported together.
func NewNormalizer(opts Options, decimals int32) (*Normalizer, error) {
	n := &Normalizer{opts: opts, decimals: decimals, selects: map[explorer.Operation]*program{}}
	var problems []error
	compileField := func(src string) *program {
		p, err := compile(src)
		if err != nil {
			problems = append(problems, err)
		}
		return p
	}

	for op, ep := range map[explorer.Operation]Endpoint{
		explorer.OpInfo:         opts.Info,
		explorer.OpTransaction:  opts.Tx,
		explorer.OpTransactions: opts.Txs,
		explorer.OpUTXO:         opts.UTXO,
		explorer.OpSend:         opts.Send,
		explorer.OpLatestBlock:  opts.LatestBlock,
		explorer.OpBlock:        opts.Block,
	} {
		n.selects[op] = compileField(ep.Select)
	}

	f := opts.Fields
	n.hash = compileField(f.Hash)
	n.incoming = compileField(f.Incoming)
	n.otherSide = compileField(f.OtherSide)
	n.value = compileField(f.Value)
	n.datetime = compileField(f.DateTime)
	n.confirmations = compileField(f.Confirmations)
	n.fee = compileField(f.Fee)
	n.memo = compileField(f.Memo)
	n.nonce = compileField(f.Nonce)
	n.txType = compileField(f.Type)
	n.subscribe = compileField(opts.Socket.Subscribe)
	n.frame = compileField(opts.Socket.Select)

	if n.hash == nil {
		problems = append(problems, errors.New("fields.hash is required"))
	}
	if n.value == nil {
		problems = append(problems, errors.New("fields.value is required"))
	}
	if n.datetime == nil {
		problems = append(problems, errors.New("fields.datetime is required"))
	}
	if err := errors.Join(problems...); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Normalizer) request(op explorer.Operation, ep Endpoint, vars map[string]string) (explorer.Request, error) {
	if ep.Path == "" {
		return explorer.Request{}, fmt.Errorf("no %s endpoint configured: %w", op, errs.ErrUnsupported)
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)

	req := explorer.Request{URL: r.Replace(ep.Path), Method: strings.ToUpper(ep.Method)}
	if len(ep.Params) > 0 {
		req.Params = make(map[string]any, len(ep.Params))
		for k, v := range ep.Params {
			s, ok := v.(string)
			if !ok {
				req.Params[k] = v
				continue
			}
			if s = r.Replace(s); s != "" {
				req.Params[k] = s
			}
		}
	}
	return req, nil
}

func (n *Normalizer) decodeFirst(op explorer.Operation, raw []byte, s explorer.Scope) (any, error) {
	body, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return n.selects[op].first(body, s)
}

// firstOrSelf is first for configured selects and the whole body otherwise.
func (n *Normalizer) firstOrSelf(op explorer.Operation, raw []byte, s explorer.Scope) (any, error) {
	if n.selects[op] == nil {
		return decode(raw)
	}
	return n.decodeFirst(op, raw, s)
}

func (n *Normalizer) amount(v any) (decimal.Decimal, error) {
	d, err := toDecimal(v)
	if err != nil {
		return decimal.Zero, err
	}
	if n.opts.CurrencyUnits {
		d = d.Shift(n.decimals)
	}
	return d, nil
}

func contract(a *explorer.Asset) string {
	if a == nil {
		return ""
	}
	return a.Contract
}

func (n *Normalizer) NeedsTip(op explorer.Operation) bool {
	if n.opts.LatestBlock.Path == "" {
		return false
	}
	switch op {
	case explorer.OpTransaction, explorer.OpTransactions, explorer.OpUTXO:
		return true
	default:
		return false
	}
}

func (n *Normalizer) InfoRequest(_ *explorer.Config, q explorer.InfoQuery) (explorer.Request, error) {
	if q.Address == "" {
		return explorer.Request{}, errors.New("address is required")
	}
	return n.request(explorer.OpInfo, n.opts.Info, map[string]string{
		"address": q.Address, "contract": contract(q.Asset),
	})
}

// DecodeInfo treats a null balance as zero.
func (n *Normalizer) DecodeInfo(raw []byte, s explorer.Scope) (*explorer.Info, error) {
	v, err := n.firstOrSelf(explorer.OpInfo, raw, s)
	if err != nil {
		return nil, err
	}
	balance, err := n.amount(v)
	if err != nil {
		return nil, err
	}
	return &explorer.Info{Balance: balance.String(), Raw: raw}, nil
}

func (n *Normalizer) TransactionRequest(_ *explorer.Config, q explorer.TransactionQuery) (explorer.Request, error) {
	if q.TxID == "" {
		return explorer.Request{}, errors.New("txid is required")
	}
	return n.request(explorer.OpTransaction, n.opts.Tx, map[string]string{
		"txid": q.TxID, "address": q.Address, "contract": contract(q.Asset),
	})
}

func (n *Normalizer) DecodeTransaction(raw []byte, s explorer.Scope) (any, error) {
	rec, err := n.firstOrSelf(explorer.OpTransaction, raw, s)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errs.ErrNotFound
	}
	return rec, nil
}

func (n *Normalizer) TransactionsRequest(_ *explorer.Config, q explorer.TransactionsQuery) (explorer.Request, error) {
	if q.Address == "" {
		return explorer.Request{}, errors.New("address is required")
	}
	return n.request(explorer.OpTransactions, n.opts.Txs, map[string]string{
		"address":  q.Address,
		"limit":    strconv.Itoa(q.Limit),
		"offset":   strconv.Itoa(q.Offset),
		"page":     strconv.Itoa(q.PageNum),
		"cursor":   q.Cursor,
		"contract": contract(q.Asset),
	})
}

func (n *Normalizer) DecodeTransactions(raw []byte, s explorer.Scope) ([]any, error) {
	body, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return n.selects[explorer.OpTransactions].records(body, s)
}

func (n *Normalizer) UTXORequest(_ *explorer.Config, q explorer.UTXOQuery) (explorer.Request, error) {
	if q.Address == "" {
		return explorer.Request{}, errors.New("address is required")
	}
	return n.request(explorer.OpUTXO, n.opts.UTXO, map[string]string{"address": q.Address})
}

func (n *Normalizer) DecodeUTXOs(raw []byte, s explorer.Scope) ([]explorer.UTXO, error) {
	body, err := decode(raw)
	if err != nil {
		return nil, err
	}
	recs, err := n.selects[explorer.OpUTXO].records(body, s)
	if err != nil {
		return nil, err
	}
	out := make([]explorer.UTXO, 0, len(recs))
	for _, rec := range recs {
		m, ok := rec.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("utxo select yielded %T, want object", rec)
		}
		value, err := n.amount(m["value"])
		if err != nil {
			return nil, err
		}
		vout, _ := toInt64(m["vout"])
		height, _ := toInt64(m["height"])
		u := explorer.UTXO{
			TxID:    toString(m["txid"]),
			Vout:    uint32(vout),
			Value:   value.String(),
			Address: s.Address,
			Script:  toString(m["script"]),
			Height:  uint64(max(height, 0)),
		}
		if c, ok := toInt64(m["confirmations"]); ok {
			u.Confirmations = max(c, 0)
		} else if height > 0 && s.Tip >= uint64(height) {
			u.Confirmations = int64(s.Tip-uint64(height)) + 1
		}
		out = append(out, u)
	}
	return out, nil
}

func (n *Normalizer) SendRequest(_ *explorer.Config, q explorer.SendQuery) (explorer.Request, error) {
	raw := strings.TrimSpace(q.RawTx)
	if raw == "" {
		return explorer.Request{}, errors.New("raw transaction is required")
	}
	req, err := n.request(explorer.OpSend, n.opts.Send, nil)
	if err != nil {
		return req, err
	}
	if req.Method == "" {
		req.Method = "POST"
	}
	if field := n.opts.Send.BodyField; field != "" {
		req.Options.Body = map[string]string{field: raw}
	} else {
		req.Options.Body = raw
	}
	return req, nil
}

// DecodeSend accepts a JSON response shaped by the send select, or a bare
// txid in a text body.
func (n *Normalizer) DecodeSend(raw []byte) (*explorer.SendResult, error) {
	body, err := decode(raw)
	if err != nil {
		txid := strings.TrimSpace(string(raw))
		if txid == "" || strings.ContainsAny(txid, " \n\t{[") {
			return nil, fmt.Errorf("unrecognized broadcast response: %w", err)
		}
		return &explorer.SendResult{TxID: txid, Raw: json.RawMessage(strconv.Quote(txid))}, nil
	}
	if p := n.selects[explorer.OpSend]; p != nil {
		if body, err = p.first(body, explorer.Scope{}); err != nil {
			return nil, err
		}
	}
	txid := toString(body)
	if txid == "" {
		return nil, errors.New("broadcast response carries no txid")
	}
	return &explorer.SendResult{TxID: txid, Raw: raw}, nil
}

func (n *Normalizer) LatestBlockRequest(*explorer.Config) (explorer.Request, error) {
	return n.request(explorer.OpLatestBlock, n.opts.LatestBlock, nil)
}

func (n *Normalizer) DecodeLatestBlock(raw []byte) (*explorer.Block, error) {
	v, err := n.firstOrSelf(explorer.OpLatestBlock, raw, explorer.Scope{})
	if err != nil {
		return nil, err
	}
	return toBlock(v, nil)
}

func (n *Normalizer) BlockRequest(_ *explorer.Config, q explorer.BlockQuery) (explorer.Request, error) {
	vars := map[string]string{"hash": q.Hash}
	switch {
	case q.Height != nil:
		vars["height"] = strconv.FormatUint(*q.Height, 10)
	case q.Hash == "":
		return explorer.Request{}, errors.New("block hash or height is required")
	}
	return n.request(explorer.OpBlock, n.opts.Block, vars)
}

func (n *Normalizer) DecodeBlock(raw []byte, q explorer.BlockQuery) (*explorer.Block, error) {
	v, err := n.firstOrSelf(explorer.OpBlock, raw, explorer.Scope{})
	if err != nil {
		return nil, err
	}
	return toBlock(v, q.Height)
}

func toBlock(v any, height *uint64) (*explorer.Block, error) {
	m, ok := v.(map[string]any)
	if !ok {
		if v == nil {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("block select yielded %T, want object", v)
	}
	b := &explorer.Block{
		Hash:       toString(m["hash"]),
		ParentHash: toString(m["parentHash"]),
		Time:       toTime(m["time"]),
	}
	if h, ok := toInt64(m["height"]); ok && h >= 0 {
		b.Height = uint64(h)
	} else if height != nil {
		b.Height = *height
	}
	return b, nil
}

// SubscribeMessage evaluates the subscribe expression. String outputs are
// sent verbatim, anything else JSON encoded.
func (n *Normalizer) SubscribeMessage(address string) ([]byte, error) {
	if n.subscribe == nil {
		return nil, fmt.Errorf("no socket.subscribe configured: %w", errs.ErrUnsupported)
	}
	v, err := n.subscribe.first(nil, explorer.Scope{Address: address})
	if err != nil {
		return nil, err
	}
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(v)
}

func (n *Normalizer) DecodeSocketMessage(raw []byte, s explorer.Scope) ([]any, error) {
	if n.frame == nil {
		return nil, fmt.Errorf("no socket.select configured: %w", errs.ErrUnsupported)
	}
	body, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return n.frame.records(body, s)
}

func (n *Normalizer) TxHash(rec any) string {
	v, _ := n.hash.first(rec, explorer.Scope{})
	return toString(v)
}

func (n *Normalizer) TxDirection(rec any, s explorer.Scope) bool {
	v, _ := n.incoming.first(rec, s)
	return truthy(v)
}

func (n *Normalizer) TxOtherSideAddress(rec any, s explorer.Scope) string {
	v, _ := n.otherSide.first(rec, s)
	return toString(v)
}

func (n *Normalizer) TxValue(rec any, s explorer.Scope) (decimal.Decimal, error) {
	v, err := n.value.first(rec, s)
	if err != nil {
		return decimal.Zero, err
	}
	return n.amount(v)
}

// TxDateTime returns the zero time when the expression yields nothing
// usable, which fails construction.
func (n *Normalizer) TxDateTime(rec any) time.Time {
	v, err := n.datetime.first(rec, explorer.Scope{})
	if err != nil {
		return time.Time{}
	}
	return toTime(v)
}

func (n *Normalizer) TxConfirmations(rec any, s explorer.Scope) int64 {
	v, _ := n.confirmations.first(rec, s)
	c, _ := toInt64(v)
	return max(c, 0)
}

func (n *Normalizer) TxFee(rec any) (decimal.Decimal, error) {
	v, err := n.fee.first(rec, explorer.Scope{})
	if err != nil {
		return decimal.Zero, err
	}
	return n.amount(v)
}

func (n *Normalizer) TxMemo(rec any) string {
	v, _ := n.memo.first(rec, explorer.Scope{})
	return toString(v)
}

func (n *Normalizer) TxNonce(rec any) *uint64 {
	v, _ := n.nonce.first(rec, explorer.Scope{})
	i, ok := toInt64(v)
	if !ok || i < 0 {
		return nil
	}
	nonce := uint64(i)
	return &nonce
}

func (n *Normalizer) TxType(rec any, s explorer.Scope) string {
	v, _ := n.txType.first(rec, s)
	return toString(v)
}
