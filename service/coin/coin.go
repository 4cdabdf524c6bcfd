// Package coin composes one coin's configuration, its explorer providers and
// the optional history store and event publisher into the operations a
// wallet calls.
package coin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/walletcore/service/config"
	"github.com/brojonat/walletcore/service/errs"
	"github.com/brojonat/walletcore/service/explorer"
	"github.com/brojonat/walletcore/service/metrics"
	"github.com/brojonat/walletcore/service/nats"
	"github.com/brojonat/walletcore/service/provider"
	"github.com/brojonat/walletcore/service/transaction"
	"golang.org/x/sync/errgroup"
)

// DefaultWatchBuffer is the capacity of the channel Watch returns.
const DefaultWatchBuffer = 64

// HasProviders resolves usages to providers. *provider.Registry satisfies it.
type HasProviders interface {
	GetProvider(u provider.Usage) (explorer.Provider, error)
	Providers(u provider.Usage) []explorer.Provider
}

// HasTokens looks up configured tokens. *config.CoinConfig satisfies it.
type HasTokens interface {
	Token(ticker string) (*explorer.Asset, bool)
}

// HasHistoryStore is implemented by coins that persist history.
type HasHistoryStore interface {
	HistoryStore() HistoryStore
}

// HistoryStore persists normalized transactions per watched address.
type HistoryStore interface {
	SaveTransactions(ctx context.Context, address string, txs []*transaction.Transaction) error
	ListTransactions(ctx context.Context, ticker, address string, limit int) ([]transaction.HistoryRecord, error)
}

var (
	_ HasProviders    = (*provider.Registry)(nil)
	_ HasTokens       = (*config.CoinConfig)(nil)
	_ HasTokens       = (*Context)(nil)
	_ HasHistoryStore = (*Context)(nil)
)

// Options are the optional collaborators of a Context.
type Options struct {
	Store       HistoryStore
	Publisher   nats.Publisher
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	WatchBuffer int
}

// Context is one configured coin.
type Context struct {
	cfg       *config.CoinConfig
	providers HasProviders
	settings  config.Provider
	store     HistoryStore
	publisher nats.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	buffer    int
}

// New builds a Context over already loaded providers.
func New(cfg *config.CoinConfig, providers HasProviders, opts Options) (*Context, error) {
	if cfg == nil {
		return nil, errs.Configuration("coin", "coin config is required")
	}
	if providers == nil {
		return nil, errs.Configuration(cfg.Ticker, "providers are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := opts.WatchBuffer
	if buffer <= 0 {
		buffer = DefaultWatchBuffer
	}
	return &Context{
		cfg:       cfg,
		providers: providers,
		settings:  cfg.Settings,
		store:     opts.Store,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    logger.With("ticker", cfg.Ticker),
		buffer:    buffer,
	}, nil
}

// Load builds a registry from cfg.Explorers restricted to mods and wraps it in
// a Context. Close releases the registry.
func Load(cfg *config.CoinConfig, mods []provider.Module, deps explorer.Deps, opts Options) (*Context, error) {
	if cfg == nil {
		return nil, errs.Configuration("coin", "coin config is required")
	}
	if deps.Logger == nil {
		deps.Logger = opts.Logger
	}
	if deps.Metrics == nil {
		deps.Metrics = opts.Metrics
	}
	reg := provider.NewRegistry(opts.Logger)
	if err := reg.SetExplorerModules(mods...); err != nil {
		return nil, err
	}
	if err := reg.LoadExplorers(cfg.Coin(), cfg.Explorers, deps); err != nil {
		return nil, err
	}
	return New(cfg, reg, opts)
}

func (c *Context) Ticker() string { return c.cfg.Ticker }

func (c *Context) Config() *config.CoinConfig { return c.cfg }

// Providers returns the provider set the Context resolves usages with.
func (c *Context) Providers() HasProviders { return c.providers }

func (c *Context) HistoryStore() HistoryStore { return c.store }

func (c *Context) Token(ticker string) (*explorer.Asset, bool) { return c.cfg.Token(ticker) }

// Close releases the providers when they hold resources.
func (c *Context) Close() error {
	if closer, ok := c.providers.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// call runs fn against the providers registered for u in priority order.
// Every provider but the last runs without fallbacks so a failover-worthy
// failure moves on to the next one. A recoverable failure that does not
// warrant failover resolves to the operation fallback when ctx allows it.
func call[T any](ctx context.Context, c *Context, u provider.Usage, op explorer.Operation, fn func(context.Context, explorer.Provider) (T, error)) (T, error) {
	var zero T
	ps := c.providers.Providers(u)
	if len(ps) == 0 {
		if _, err := c.providers.GetProvider(u); err != nil {
			return zero, err
		}
		return zero, &errs.WalletError{
			Kind:   errs.KindConfiguration,
			Origin: c.cfg.Ticker,
			Cause:  fmt.Errorf("%w for %q", errs.ErrNoProvider, u),
		}
	}

	for i, p := range ps {
		if i == len(ps)-1 {
			v, err := fn(ctx, p)
			if errors.Is(err, errNotServed) {
				return zero, nil
			}
			return v, err
		}

		v, err := fn(explorer.WithoutFallback(ctx), p)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, errNotServed) {
			c.logger.DebugContext(ctx, "provider does not serve operation, trying next",
				"usage", u, "operation", op, "explorer", p.ID())
			continue
		}
		if !errs.IsRecoverable(err) {
			return zero, err
		}
		if !errs.ShouldFailover(err) {
			if fb, ok := fallbackFor[T](ctx, op); ok {
				return fb, nil
			}
			return zero, err
		}

		c.logger.WarnContext(ctx, "provider failed, trying next",
			"usage", u,
			"explorer", p.ID(),
			"next", ps[i+1].ID(),
			"error", err,
		)
		c.metrics.RecordProviderFailover(string(u), p.ID())
	}
	return zero, nil
}

func fallbackFor[T any](ctx context.Context, op explorer.Operation) (T, bool) {
	var zero T
	if !explorer.FallbackAllowed(ctx) {
		return zero, false
	}
	fb, ok := explorer.Fallback(op)
	if !ok {
		return zero, false
	}
	v, ok := fb.(T)
	return v, ok
}

// tokenUsage prefers providers registered for token queries.
func (c *Context) tokenUsage(fallback provider.Usage) provider.Usage {
	if len(c.providers.Providers(provider.UsageToken)) > 0 {
		return provider.UsageToken
	}
	return fallback
}

// Balance returns the native balance of address in minimal units.
func (c *Context) Balance(ctx context.Context, address string) (*explorer.Info, error) {
	return call(ctx, c, provider.UsageBalance, explorer.OpInfo,
		func(ctx context.Context, p explorer.Provider) (*explorer.Info, error) {
			return p.GetInfo(ctx, explorer.InfoQuery{Address: address})
		})
}

// TokenBalance returns the balance of a configured token.
func (c *Context) TokenBalance(ctx context.Context, address, ticker string) (*explorer.Info, error) {
	asset, err := c.asset(ticker)
	if err != nil {
		return nil, err
	}
	return call(ctx, c, c.tokenUsage(provider.UsageBalance), explorer.OpInfo,
		func(ctx context.Context, p explorer.Provider) (*explorer.Info, error) {
			return p.GetInfo(ctx, explorer.InfoQuery{Address: address, Asset: asset})
		})
}

// History returns one page of history. Results are saved to the history
// store when one is configured; store failures are logged.
func (c *Context) History(ctx context.Context, q explorer.TransactionsQuery) ([]*transaction.Transaction, error) {
	usage := provider.UsageHistory
	if q.Asset != nil {
		usage = c.tokenUsage(usage)
	}
	txs, err := call(ctx, c, usage, explorer.OpTransactions,
		func(ctx context.Context, p explorer.Provider) ([]*transaction.Transaction, error) {
			return p.GetTransactions(ctx, q)
		})
	if err != nil {
		return nil, err
	}
	c.save(ctx, q.Address, txs)
	return txs, nil
}

// HistoryPages walks up to maxPages pages of history from the first history
// provider that can serve them.
func (c *Context) HistoryPages(ctx context.Context, q explorer.TransactionsQuery, maxPages int) ([]*transaction.Transaction, error) {
	txs, err := call(ctx, c, provider.UsageHistory, explorer.OpTransactions,
		func(ctx context.Context, p explorer.Provider) ([]*transaction.Transaction, error) {
			return explorer.Paginate(ctx, p, q, maxPages)
		})
	if err != nil {
		return txs, err
	}
	c.save(ctx, q.Address, txs)
	return txs, nil
}

// TokenHistory returns one page of history of a configured token.
func (c *Context) TokenHistory(ctx context.Context, q explorer.TransactionsQuery, ticker string) ([]*transaction.Transaction, error) {
	asset, err := c.asset(ticker)
	if err != nil {
		return nil, err
	}
	q.Asset = asset
	return c.History(ctx, q)
}

func (c *Context) Transaction(ctx context.Context, address, txid string) (*transaction.Transaction, error) {
	return call(ctx, c, provider.UsageTx, explorer.OpTransaction,
		func(ctx context.Context, p explorer.Provider) (*transaction.Transaction, error) {
			return p.GetTransaction(ctx, explorer.TransactionQuery{Address: address, TxID: txid})
		})
}

func (c *Context) UnspentOutputs(ctx context.Context, address string) ([]explorer.UTXO, error) {
	return call(ctx, c, provider.UsageUTXO, explorer.OpUTXO,
		func(ctx context.Context, p explorer.Provider) ([]explorer.UTXO, error) {
			return p.GetUnspentOutputs(ctx, explorer.UTXOQuery{Address: address})
		})
}

// Send broadcasts a signed transaction.
func (c *Context) Send(ctx context.Context, rawTx string) (*explorer.SendResult, error) {
	return call(ctx, c, provider.UsageSend, explorer.OpSend,
		func(ctx context.Context, p explorer.Provider) (*explorer.SendResult, error) {
			return p.SendTransaction(ctx, explorer.SendQuery{RawTx: rawTx})
		})
}

// LatestBlock asks the node providers in order, skipping those that do not
// expose blocks. It returns nil when none does.
func (c *Context) LatestBlock(ctx context.Context) (*explorer.Block, error) {
	return call(ctx, c, provider.UsageNode, explorer.OpLatestBlock,
		func(ctx context.Context, p explorer.Provider) (*explorer.Block, error) {
			return served(p.GetLatestBlock(ctx))
		})
}

func (c *Context) Block(ctx context.Context, q explorer.BlockQuery) (*explorer.Block, error) {
	return call(ctx, c, provider.UsageNode, explorer.OpBlock,
		func(ctx context.Context, p explorer.Provider) (*explorer.Block, error) {
			return served(p.GetBlock(ctx, q))
		})
}

// errNotServed tells call that a provider answered without serving the
// operation, so the next provider should be asked.
var errNotServed = errors.New("operation not served by provider")

func served(b *explorer.Block, err error) (*explorer.Block, error) {
	if err == nil && b == nil {
		return nil, errNotServed
	}
	return b, err
}

// Snapshot is the state of one address across its native and token assets.
type Snapshot struct {
	Address       string                                `json:"address"`
	Balance       *explorer.Info                        `json:"balance,omitempty"`
	History       []*transaction.Transaction            `json:"history"`
	TokenBalances map[string]*explorer.Info             `json:"tokenBalances,omitempty"`
	TokenHistory  map[string][]*transaction.Transaction `json:"tokenHistory,omitempty"`
}

// Snapshot fetches the balance and history of address and of each token
// concurrently. A failing branch does not cancel the others; the snapshot
// holds whatever succeeded and the failures are joined.
func (c *Context) Snapshot(ctx context.Context, address string, tokens ...string) (*Snapshot, error) {
	snap := &Snapshot{
		Address:       address,
		TokenBalances: make(map[string]*explorer.Info, len(tokens)),
		TokenHistory:  make(map[string][]*transaction.Transaction, len(tokens)),
	}
	tokenBalances := make([]*explorer.Info, len(tokens))
	tokenHistories := make([][]*transaction.Transaction, len(tokens))
	branchErrs := make([]error, 2+2*len(tokens))

	var g errgroup.Group
	g.Go(func() error {
		snap.Balance, branchErrs[0] = c.Balance(ctx, address)
		return nil
	})
	g.Go(func() error {
		snap.History, branchErrs[1] = c.History(ctx, explorer.TransactionsQuery{Address: address})
		return nil
	})
	for i, ticker := range tokens {
		g.Go(func() error {
			tokenBalances[i], branchErrs[2+2*i] = c.TokenBalance(ctx, address, ticker)
			return nil
		})
		g.Go(func() error {
			tokenHistories[i], branchErrs[3+2*i] = c.TokenHistory(ctx, explorer.TransactionsQuery{Address: address}, ticker)
			return nil
		})
	}
	_ = g.Wait()

	for i, ticker := range tokens {
		if tokenBalances[i] != nil {
			snap.TokenBalances[ticker] = tokenBalances[i]
		}
		if tokenHistories[i] != nil {
			snap.TokenHistory[ticker] = tokenHistories[i]
		}
	}
	return snap, errors.Join(branchErrs...)
}

// CachedHistory re-hydrates the stored history of address, newest first.
// Records that no longer validate are skipped.
func (c *Context) CachedHistory(ctx context.Context, address string, limit int) ([]*transaction.Transaction, error) {
	if c.store == nil {
		return nil, errs.Configuration(c.cfg.Ticker, "no history store configured")
	}
	records, err := c.store.ListTransactions(ctx, c.cfg.Ticker, address, limit)
	if err != nil {
		return nil, &errs.ExternalError{Kind: errs.KindInternal, Origin: "history-store", Cause: err}
	}
	txs := make([]*transaction.Transaction, 0, len(records))
	for _, r := range records {
		tx, err := transaction.FromHistory(r)
		if err != nil {
			c.logger.WarnContext(ctx, "skipping stored transaction", "txid", r.TxID, "error", err)
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// Watch subscribes to pushed transactions for address through the first
// socket provider that connects. Each transaction is saved, published and
// then delivered on the returned channel, which closes when ctx is done or
// the socket drops.
func (c *Context) Watch(ctx context.Context, address string) (<-chan *transaction.Transaction, error) {
	if !c.cfg.Socket {
		return nil, errs.Configuration(c.cfg.Ticker, "socket updates are disabled")
	}

	sp, err := c.connect(ctx, address)
	if err != nil {
		return nil, err
	}

	out := make(chan *transaction.Transaction, c.buffer)
	go func() {
		defer close(out)
		defer func() {
			if err := sp.Close(); err != nil {
				c.logger.Warn("failed to close socket", "explorer", sp.ID(), "error", err)
			}
		}()

		in := sp.SocketTransactions()
		for {
			select {
			case <-ctx.Done():
				return
			case tx, ok := <-in:
				if !ok {
					c.logger.WarnContext(ctx, "socket closed", "explorer", sp.ID(), "address", address)
					return
				}
				c.save(ctx, address, []*transaction.Transaction{tx})
				c.publish(ctx, address, tx)
				select {
				case out <- tx:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *Context) connect(ctx context.Context, address string) (explorer.SocketProvider, error) {
	ps := c.providers.Providers(provider.UsageSocket)
	if len(ps) == 0 {
		_, err := c.providers.GetProvider(provider.UsageSocket)
		return nil, err
	}

	var connectErrs []error
	for _, p := range ps {
		sp, ok := p.(explorer.SocketProvider)
		if !ok {
			continue
		}
		if err := sp.SetSocketClient(ctx, ""); err != nil {
			c.logger.WarnContext(ctx, "socket connect failed", "explorer", p.ID(), "error", err)
			connectErrs = append(connectErrs, err)
			continue
		}
		if err := sp.Subscribe(ctx, address); err != nil {
			c.logger.WarnContext(ctx, "socket subscribe failed", "explorer", p.ID(), "error", err)
			connectErrs = append(connectErrs, err)
			_ = sp.Close()
			continue
		}
		c.logger.InfoContext(ctx, "watching address", "explorer", p.ID(), "address", address)
		return sp, nil
	}
	if len(connectErrs) == 0 {
		return nil, errs.Configuration(c.cfg.Ticker, "no socket provider supports push updates")
	}
	return nil, errors.Join(connectErrs...)
}

func (c *Context) save(ctx context.Context, address string, txs []*transaction.Transaction) {
	if c.store == nil || len(txs) == 0 {
		return
	}
	if err := c.store.SaveTransactions(ctx, address, txs); err != nil {
		c.logger.ErrorContext(ctx, "failed to save transactions", "address", address, "count", len(txs), "error", err)
	}
}

func (c *Context) publish(ctx context.Context, address string, tx *transaction.Transaction) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishTransaction(ctx, nats.FromTransaction(address, tx)); err != nil {
		c.logger.ErrorContext(ctx, "failed to publish transaction", "address", address, "txid", tx.TxID(), "error", err)
	}
}

func (c *Context) asset(ticker string) (*explorer.Asset, error) {
	asset, ok := c.cfg.Token(ticker)
	if !ok {
		return nil, &errs.WalletError{
			Kind:   errs.KindInvalidArgument,
			Origin: c.cfg.Ticker,
			Cause:  fmt.Errorf("unknown token %q", ticker),
		}
	}
	return asset, nil
}

// TxWebURL renders the block explorer link for txid, or "" when the coin
// has no txWebUrl template.
func (c *Context) TxWebURL(txid string) string {
	if c.cfg.TxWebURL == "" {
		return ""
	}
	return strings.ReplaceAll(c.cfg.TxWebURL, "{txid}", txid)
}

// FeeData returns the feeData section of the coin config.
func (c *Context) FeeData() map[string]any {
	if c.settings == nil || !c.settings.IsSet("feeData") {
		return nil
	}
	return c.settings.GetStringMap("feeData")
}

// Outgoing describes a transfer this wallet just broadcast.
type Outgoing struct {
	To     string
	Amount string
	Fee    string
	Memo   string
}

// ProvisionalTransaction builds the unconfirmed history entry shown between
// a successful Send and the first explorer sighting of the transaction.
func (c *Context) ProvisionalTransaction(res *explorer.SendResult, o Outgoing) (*transaction.Transaction, error) {
	if res == nil || res.TxID == "" {
		return nil, &errs.WalletError{
			Kind:   errs.KindInvalidArgument,
			Origin: c.cfg.Ticker,
			Cause:  errors.New("send result has no txid"),
		}
	}
	return transaction.New(transaction.Params{
		TxID:             res.TxID,
		Ticker:           c.cfg.Ticker,
		WalletID:         c.cfg.WalletID,
		Direction:        transaction.DirectionOut,
		OtherSideAddress: o.To,
		Amount:           o.Amount,
		Fee:              o.Fee,
		Memo:             o.Memo,
		DateTime:         time.Now(),
		Explorer:         "local",
	})
}
