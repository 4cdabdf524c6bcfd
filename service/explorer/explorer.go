// Package explorer is the generic adapter between a coin and one remote
// blockchain data source. An Explorer owns the transport, throttling, error
// classification and transaction building; a Normalizer supplies the
// source-specific request shapes and field extraction.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brojonat/walletcore/service/errs"
	"github.com/brojonat/walletcore/service/metrics"
	"github.com/brojonat/walletcore/service/transaction"
	"github.com/brojonat/walletcore/service/units"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Explorer serves one (coin, source) pair.
type Explorer[R any] struct {
	norm    Normalizer[R]
	coin    Coin
	cfg     atomic.Pointer[Config]
	client  *http.Client
	dialer  *websocket.Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics

	infoLimiter *rate.Limiter
	txsLimiter  *rate.Limiter
	lastInfo    atomic.Int64
	lastTxs     atomic.Int64

	socketMu sync.Mutex
	socket   *socketClient
}

var (
	_ Provider       = (*Explorer[struct{}])(nil)
	_ SocketProvider = (*Explorer[struct{}])(nil)
)

// New creates an Explorer for coin backed by norm.
func New[R any](cfg Config, coin Coin, norm Normalizer[R], deps Deps) (*Explorer[R], error) {
	cfg = cfg.WithDefaults()
	if coin.Ticker == "" {
		return nil, errs.Configuration(cfg.ID, "coin ticker is required")
	}
	if norm == nil {
		return nil, errs.Configuration(cfg.ID, "normalizer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, &errs.WalletError{Kind: errs.KindConfiguration, Origin: cfg.ID, Cause: err}
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	transport := deps.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	dialer := deps.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: cfg.Timeout, Proxy: http.ProxyFromEnvironment}
	}

	e := &Explorer[R]{
		norm:        norm,
		coin:        coin,
		client:      &http.Client{Transport: metrics.InstrumentTransport(deps.Metrics, cfg.ID, transport)},
		dialer:      dialer,
		logger:      logger.With("explorer", cfg.ID, "ticker", coin.Ticker),
		metrics:     deps.Metrics,
		infoLimiter: rate.NewLimiter(rate.Inf, 1),
		txsLimiter:  rate.NewLimiter(rate.Inf, 1),
	}
	e.apply(&cfg)
	return e, nil
}

func (e *Explorer[R]) apply(cfg *Config) {
	e.infoLimiter.SetLimit(every(cfg.InfoThrottle))
	e.txsLimiter.SetLimit(every(cfg.TxsThrottle))
	e.cfg.Store(cfg)
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// Name returns the adapter class name.
func (e *Explorer[R]) Name() string { return e.cfg.Load().ClassName }

// ID returns the configured instance id.
func (e *Explorer[R]) ID() string { return e.cfg.Load().ID }

func (e *Explorer[R]) CanPaginate() bool { return e.cfg.Load().CanPaginate }

func (e *Explorer[R]) TxLimit() int { return e.cfg.Load().TxLimit }

func (e *Explorer[R]) Coin() Coin { return e.coin }

// Config returns a copy of the current config snapshot.
func (e *Explorer[R]) Config() Config { return e.cfg.Load().WithDefaults() }

// UpdateParams replaces the config snapshot. Requests already in flight keep
// the snapshot they started with. The class name and id cannot change.
func (e *Explorer[R]) UpdateParams(next Config) error {
	cur := e.cfg.Load()
	if next.ClassName == "" {
		next.ClassName = cur.ClassName
	}
	if next.ID == "" {
		next.ID = cur.ID
	}
	if next.ClassName != cur.ClassName || next.ID != cur.ID {
		return errs.Configuration(cur.ID, "cannot change explorer identity to %s/%s", next.ClassName, next.ID)
	}
	next = next.WithDefaults()
	if err := next.Validate(); err != nil {
		return &errs.WalletError{Kind: errs.KindConfiguration, Origin: cur.ID, Cause: err}
	}
	e.apply(&next)
	e.logger.Info("explorer params updated", "base_url", next.BaseURL)
	return nil
}

// LastRequestTime returns when the throttled operation op last went out.
func (e *Explorer[R]) LastRequestTime(op Operation) time.Time {
	var nanos int64
	switch op {
	case OpInfo:
		nanos = e.lastInfo.Load()
	case OpTransactions:
		nanos = e.lastTxs.Load()
	}
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// ToMinimalUnit converts a currency amount with the coin's decimals.
func (e *Explorer[R]) ToMinimalUnit(amount string) (decimal.Decimal, error) {
	return units.ToMinimal(amount, e.coin.Decimals)
}

// ToCurrencyUnit converts a minimal-unit amount with the coin's decimals.
func (e *Explorer[R]) ToCurrencyUnit(minimal decimal.Decimal) string {
	return units.ToCurrency(minimal, e.coin.Decimals)
}

func (e *Explorer[R]) scope(address string, asset *Asset, tip uint64) Scope {
	return Scope{Address: address, Asset: asset, Coin: e.coin, Tip: tip}
}

// GetInfo fetches the balance of q.Address.
func (e *Explorer[R]) GetInfo(ctx context.Context, q InfoQuery) (*Info, error) {
	cfg := e.cfg.Load()
	req, err := e.norm.InfoRequest(cfg, q)
	if err != nil {
		return nil, e.builderError(OpInfo, err)
	}
	req.Type = OpInfo

	raw, err := e.fetch(ctx, cfg, req)
	if err != nil {
		return recoverAs[*Info](ctx, e, err, req)
	}
	info, err := e.norm.DecodeInfo(raw, e.scope(q.Address, q.Asset, 0))
	if err != nil {
		return recoverAs[*Info](ctx, e, decodeFailure(err), req)
	}
	return info, nil
}

// GetTransaction fetches and normalizes one transaction. There is no
// fallback; recoverable failures return a *errs.RequestError.
func (e *Explorer[R]) GetTransaction(ctx context.Context, q TransactionQuery) (*transaction.Transaction, error) {
	return e.getTransaction(ctx, q, func() uint64 { return e.tipFor(ctx, OpTransaction) })
}

// getTransaction takes the chain tip lazily so hydration can share the tip
// its listing already fetched.
func (e *Explorer[R]) getTransaction(ctx context.Context, q TransactionQuery, tipFn func() uint64) (*transaction.Transaction, error) {
	cfg := e.cfg.Load()
	req, err := e.norm.TransactionRequest(cfg, q)
	if err != nil {
		return nil, e.builderError(OpTransaction, err)
	}
	req.Type = OpTransaction

	tip := tipFn()
	raw, err := e.do(ctx, cfg, req)
	if err != nil {
		return recoverAs[*transaction.Transaction](ctx, e, err, req)
	}
	rec, err := e.norm.DecodeTransaction(raw, e.scope(q.Address, q.Asset, tip))
	if err != nil {
		return recoverAs[*transaction.Transaction](ctx, e, decodeFailure(err), req)
	}
	tx, err := e.build(rec, e.scope(q.Address, q.Asset, tip))
	if err != nil {
		return nil, e.buildError(ctx, err, req)
	}
	return tx, nil
}

// GetTransactions fetches one page of history for q.Address. Offset, page
// and cursor are dropped for sources that cannot paginate; Limit defaults to
// TxLimit.
func (e *Explorer[R]) GetTransactions(ctx context.Context, q TransactionsQuery) ([]*transaction.Transaction, error) {
	cfg := e.cfg.Load()
	if q.Limit <= 0 {
		q.Limit = cfg.TxLimit
	}
	if !cfg.CanPaginate {
		q.Offset, q.PageNum, q.Cursor = 0, 0, ""
	}
	req, err := e.norm.TransactionsRequest(cfg, q)
	if err != nil {
		return nil, e.builderError(OpTransactions, err)
	}
	req.Type = OpTransactions

	tip := e.tipFor(ctx, OpTransactions)
	raw, err := e.fetch(ctx, cfg, req)
	if err != nil {
		return recoverAs[[]*transaction.Transaction](ctx, e, err, req)
	}
	s := e.scope(q.Address, q.Asset, tip)
	recs, err := e.norm.DecodeTransactions(raw, s)
	if err != nil {
		return recoverAs[[]*transaction.Transaction](ctx, e, decodeFailure(err), req)
	}

	hydrator, hydrate := any(e.norm).(Hydrator[R])
	// One tip serves the whole listing.
	hydrateTip, haveTip := tip, e.needsTip(OpTransactions) || !e.needsTip(OpTransaction)
	sharedTip := func() uint64 {
		if !haveTip {
			hydrateTip, haveTip = e.tipFor(ctx, OpTransaction), true
		}
		return hydrateTip
	}
	txs := make([]*transaction.Transaction, 0, len(recs))
	fetched := 0
	for _, rec := range recs {
		if hydrate && ctx.Err() == nil {
			if tq, ok := hydrator.HydrateQuery(rec, s); ok {
				if fetched > 0 && !sleepCtx(ctx, cfg.HydrateInterval) {
					hydrate = false
				} else {
					fetched++
					tx, err := e.getTransaction(ctx, tq, sharedTip)
					if err == nil {
						txs = append(txs, tx)
						continue
					}
					e.logger.WarnContext(ctx, "failed to hydrate listed transaction, keeping listing record",
						"txid", tq.TxID, "error", err)
				}
			}
		}
		tx, err := e.build(rec, s)
		if err != nil {
			return nil, e.buildError(ctx, err, req)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// GetUnspentOutputs lists the unspent outputs of q.Address.
func (e *Explorer[R]) GetUnspentOutputs(ctx context.Context, q UTXOQuery) ([]UTXO, error) {
	cfg := e.cfg.Load()
	req, err := e.norm.UTXORequest(cfg, q)
	if err != nil {
		return nil, e.builderError(OpUTXO, err)
	}
	req.Type = OpUTXO

	tip := e.tipFor(ctx, OpUTXO)
	raw, err := e.do(ctx, cfg, req)
	if err != nil {
		return recoverAs[[]UTXO](ctx, e, err, req)
	}
	utxos, err := e.norm.DecodeUTXOs(raw, e.scope(q.Address, nil, tip))
	if err != nil {
		return recoverAs[[]UTXO](ctx, e, decodeFailure(err), req)
	}
	if utxos == nil {
		utxos = []UTXO{}
	}
	return utxos, nil
}

// SendTransaction broadcasts a signed transaction.
func (e *Explorer[R]) SendTransaction(ctx context.Context, q SendQuery) (*SendResult, error) {
	cfg := e.cfg.Load()
	req, err := e.norm.SendRequest(cfg, q)
	if err != nil {
		return nil, e.builderError(OpSend, err)
	}
	req.Type = OpSend

	raw, err := e.do(ctx, cfg, req)
	if err != nil {
		return recoverAs[*SendResult](ctx, e, err, req)
	}
	res, err := e.norm.DecodeSend(raw)
	if err != nil {
		return recoverAs[*SendResult](ctx, e, decodeFailure(err), req)
	}
	e.logger.InfoContext(ctx, "transaction broadcast", "txid", res.TxID)
	return res, nil
}

// GetLatestBlock returns nil when the source does not expose blocks.
func (e *Explorer[R]) GetLatestBlock(ctx context.Context) (*Block, error) {
	bn, ok := any(e.norm).(BlockNormalizer)
	if !ok {
		return nil, nil
	}
	cfg := e.cfg.Load()
	req, err := bn.LatestBlockRequest(cfg)
	if err != nil {
		return nil, e.builderError(OpLatestBlock, err)
	}
	req.Type = OpLatestBlock

	raw, err := e.do(ctx, cfg, req)
	if err != nil {
		return recoverAs[*Block](ctx, e, err, req)
	}
	block, err := bn.DecodeLatestBlock(raw)
	if err != nil {
		return recoverAs[*Block](ctx, e, decodeFailure(err), req)
	}
	return block, nil
}

// GetBlock returns nil when the source does not expose blocks.
func (e *Explorer[R]) GetBlock(ctx context.Context, q BlockQuery) (*Block, error) {
	bn, ok := any(e.norm).(BlockNormalizer)
	if !ok {
		return nil, nil
	}
	cfg := e.cfg.Load()
	req, err := bn.BlockRequest(cfg, q)
	if err != nil {
		return nil, e.builderError(OpBlock, err)
	}
	req.Type = OpBlock

	raw, err := e.do(ctx, cfg, req)
	if err != nil {
		return recoverAs[*Block](ctx, e, err, req)
	}
	block, err := bn.DecodeBlock(raw, q)
	if err != nil {
		return recoverAs[*Block](ctx, e, decodeFailure(err), req)
	}
	return block, nil
}

// tipFor fetches the chain height for normalizers that need it. A failure
// leaves the tip unknown rather than failing the operation.
func (e *Explorer[R]) tipFor(ctx context.Context, op Operation) uint64 {
	if !e.needsTip(op) {
		return 0
	}
	block, err := e.GetLatestBlock(WithoutFallback(ctx))
	if err != nil || block == nil {
		e.logger.DebugContext(ctx, "chain tip unavailable", "operation", op, "error", err)
		return 0
	}
	return block.Height
}

func (e *Explorer[R]) needsTip(op Operation) bool {
	ta, ok := any(e.norm).(TipAware)
	return ok && ta.NeedsTip(op)
}

func (e *Explorer[R]) build(rec R, s Scope) (*transaction.Transaction, error) {
	tx, err := BuildTransaction[R](e.norm, rec, s, e.ID())
	if err != nil {
		e.metrics.RecordTransactionsNormalized(e.ID(), "error", 1)
		return nil, err
	}
	e.metrics.RecordTransactionsNormalized(e.ID(), "ok", 1)
	return tx, nil
}

func (e *Explorer[R]) builderError(op Operation, err error) error {
	kind := errs.KindInvalidArgument
	if errors.Is(err, errs.ErrUnsupported) {
		kind = errs.KindConfiguration
	}
	return &errs.WalletError{Kind: kind, Origin: e.ID(), Cause: fmt.Errorf("build %s request: %w", op, err)}
}

// buildError surfaces construction failures as wallet errors and any other
// extraction failure as a malformed response.
func (e *Explorer[R]) buildError(ctx context.Context, err error, req Request) error {
	if errors.Is(err, errs.ErrConstruction) {
		e.logger.ErrorContext(ctx, "failed to build transaction", "operation", req.Type, "error", err)
		return &errs.WalletError{Kind: errs.KindConstruction, Origin: e.ID(), Cause: err}
	}
	_, herr := e.HandleRequestError(WithoutFallback(ctx), decodeFailure(err), req)
	return herr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
