package explorer

import (
	"context"
	"time"

	"github.com/brojonat/walletcore/service/transaction"
	"github.com/shopspring/decimal"
)

// Normalizer adapts one source protocol to the explorer operations. R is the
// raw transaction record the source returns. Builders never perform I/O and
// decoders never see transport errors; both return plain errors or errs
// sentinels and leave classification to the Explorer.
type Normalizer[R any] interface {
	InfoRequest(cfg *Config, q InfoQuery) (Request, error)
	DecodeInfo(raw []byte, s Scope) (*Info, error)

	TransactionRequest(cfg *Config, q TransactionQuery) (Request, error)
	DecodeTransaction(raw []byte, s Scope) (R, error)

	TransactionsRequest(cfg *Config, q TransactionsQuery) (Request, error)
	DecodeTransactions(raw []byte, s Scope) ([]R, error)

	UTXORequest(cfg *Config, q UTXOQuery) (Request, error)
	DecodeUTXOs(raw []byte, s Scope) ([]UTXO, error)

	SendRequest(cfg *Config, q SendQuery) (Request, error)
	DecodeSend(raw []byte) (*SendResult, error)

	TxExtractor[R]
}

// TxExtractor maps a raw record to the fields of a transaction. Value and
// fee are in minimal units.
type TxExtractor[R any] interface {
	TxHash(rec R) string
	TxDirection(rec R, s Scope) bool
	TxOtherSideAddress(rec R, s Scope) string
	TxValue(rec R, s Scope) (decimal.Decimal, error)
	// TxDateTime returns the zero time when the record carries none.
	TxDateTime(rec R) time.Time
	TxConfirmations(rec R, s Scope) int64
	TxFee(rec R) (decimal.Decimal, error)
	TxMemo(rec R) string
	TxNonce(rec R) *uint64
	TxType(rec R, s Scope) string
}

// BlockNormalizer is implemented by sources that expose blocks. Explorers
// whose normalizer does not implement it answer block queries with nil.
type BlockNormalizer interface {
	LatestBlockRequest(cfg *Config) (Request, error)
	DecodeLatestBlock(raw []byte) (*Block, error)
	BlockRequest(cfg *Config, q BlockQuery) (Request, error)
	// DecodeBlock receives the query for sources whose block payload omits
	// the height it was fetched by.
	DecodeBlock(raw []byte, q BlockQuery) (*Block, error)
}

// TipAware is implemented by normalizers that derive confirmations from the
// chain height. The explorer fetches the latest block before decoding the
// operations NeedsTip reports.
type TipAware interface {
	NeedsTip(op Operation) bool
}

// Hydrator is implemented by normalizers whose history listing carries only
// ids. Each listed record is re-fetched through GetTransaction.
type Hydrator[R any] interface {
	HydrateQuery(rec R, s Scope) (TransactionQuery, bool)
}

// SocketNormalizer is implemented by sources with a push channel.
type SocketNormalizer[R any] interface {
	SubscribeMessage(address string) ([]byte, error)
	// DecodeSocketMessage returns no records for frames that are not
	// transaction notifications.
	DecodeSocketMessage(raw []byte, s Scope) ([]R, error)
}

// Provider is the source-agnostic view of an Explorer the registry stores.
type Provider interface {
	Name() string
	ID() string
	Config() Config
	UpdateParams(cfg Config) error
	CanPaginate() bool
	TxLimit() int

	GetInfo(ctx context.Context, q InfoQuery) (*Info, error)
	GetTransaction(ctx context.Context, q TransactionQuery) (*transaction.Transaction, error)
	GetTransactions(ctx context.Context, q TransactionsQuery) ([]*transaction.Transaction, error)
	GetUnspentOutputs(ctx context.Context, q UTXOQuery) ([]UTXO, error)
	SendTransaction(ctx context.Context, q SendQuery) (*SendResult, error)
	GetLatestBlock(ctx context.Context) (*Block, error)
	GetBlock(ctx context.Context, q BlockQuery) (*Block, error)
}

// SocketProvider is a Provider with a push channel.
type SocketProvider interface {
	Provider
	SetSocketClient(ctx context.Context, endpoint string) error
	Subscribe(ctx context.Context, address string) error
	SocketTransactions() <-chan *transaction.Transaction
	Close() error
}
