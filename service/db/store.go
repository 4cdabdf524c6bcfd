package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/walletcore/service/metrics"
	"github.com/brojonat/walletcore/service/transaction"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const table = "wallet_transactions"

// Schema creates the history table. Migrate applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS wallet_transactions (
    ticker        TEXT        NOT NULL,
    address       TEXT        NOT NULL,
    txid          TEXT        NOT NULL,
    wallet_id     TEXT,
    incoming      BOOLEAN     NOT NULL,
    other_side    TEXT,
    amount        TEXT        NOT NULL,
    fee           TEXT,
    memo          TEXT,
    confirmations BIGINT      NOT NULL DEFAULT 0,
    block_time    TIMESTAMPTZ NOT NULL,
    explorer      TEXT,
    nonce         BIGINT,
    tx_type       TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (ticker, address, txid)
);
CREATE INDEX IF NOT EXISTS wallet_transactions_block_time_idx
    ON wallet_transactions (ticker, address, block_time DESC);
`

// Store persists normalized transactions per watched address in Postgres.
// Saving a transaction that is already stored refreshes its confirmations.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewStore creates a new Store with the given database connection pool.
// metrics may be nil.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, metrics: m, logger: logger}
}

// Connect opens a pool for databaseURL and verifies it.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Migrate creates the history table when it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, Schema)
	s.metrics.RecordDBQuery("migrate", table, time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const upsertTransaction = `
INSERT INTO wallet_transactions (
    ticker, address, txid, wallet_id, incoming, other_side, amount, fee, memo,
    confirmations, block_time, explorer, nonce, tx_type
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (ticker, address, txid) DO UPDATE SET
    confirmations = GREATEST(wallet_transactions.confirmations, EXCLUDED.confirmations),
    fee = COALESCE(EXCLUDED.fee, wallet_transactions.fee),
    explorer = EXCLUDED.explorer,
    updated_at = NOW()`

// SaveTransactions upserts txs seen on address in one batch.
func (s *Store) SaveTransactions(ctx context.Context, address string, txs []*transaction.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, tx := range txs {
		batch.Queue(upsertTransaction,
			tx.Ticker(),
			address,
			tx.TxID(),
			pgtextFromString(tx.WalletID()),
			tx.Incoming(),
			pgtextFromString(tx.OtherSideAddress()),
			tx.Amount(),
			pgtextFromString(tx.Fee()),
			pgtextFromString(tx.Memo()),
			tx.Confirmations(),
			pgtype.Timestamptz{Time: tx.DateTime(), Valid: true},
			pgtextFromString(tx.Explorer()),
			pgint8FromUint64Ptr(tx.Nonce()),
			pgtextFromString(tx.TxType()),
		)
	}

	start := time.Now()
	err := s.pool.SendBatch(ctx, batch).Close()
	s.metrics.RecordDBQuery("upsert", table, time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("failed to save %d transactions for %s: %w", len(txs), address, err)
	}

	s.metrics.RecordTransactionsWritten(txs[0].Ticker(), len(txs))
	s.logger.DebugContext(ctx, "saved transactions", "address", address, "count", len(txs))
	return nil
}

const listTransactions = `
SELECT txid, ticker, wallet_id, incoming, other_side, amount, fee, memo,
       confirmations, block_time, explorer, nonce, tx_type
FROM wallet_transactions
WHERE ticker = $1 AND address = $2
ORDER BY block_time DESC, txid
LIMIT $3`

// ListTransactions returns the stored history of address, newest first. A
// non-positive limit returns everything.
func (s *Store) ListTransactions(ctx context.Context, ticker, address string, limit int) ([]transaction.HistoryRecord, error) {
	var lim pgtype.Int8
	if limit > 0 {
		lim = pgtype.Int8{Int64: int64(limit), Valid: true}
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, listTransactions, ticker, address, lim)
	if err != nil {
		s.metrics.RecordDBQuery("list", table, time.Since(start).Seconds(), err)
		return nil, fmt.Errorf("failed to list transactions for %s: %w", address, err)
	}

	records, err := pgx.CollectRows(rows, scanRecord)
	s.metrics.RecordDBQuery("list", table, time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to scan transactions for %s: %w", address, err)
	}
	return records, nil
}

// CountTransactions counts the stored transactions of address.
func (s *Store) CountTransactions(ctx context.Context, ticker, address string) (int64, error) {
	var n int64
	start := time.Now()
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM wallet_transactions WHERE ticker = $1 AND address = $2`,
		ticker, address,
	).Scan(&n)
	s.metrics.RecordDBQuery("count", table, time.Since(start).Seconds(), err)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions for %s: %w", address, err)
	}
	return n, nil
}

// DeleteTransactionsOlderThan deletes transactions of every address whose
// block time is before the given time and returns how many were removed.
func (s *Store) DeleteTransactionsOlderThan(ctx context.Context, before time.Time) (int64, error) {
	start := time.Now()
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM wallet_transactions WHERE block_time < $1`,
		pgtype.Timestamptz{Time: before, Valid: true},
	)
	s.metrics.RecordDBQuery("delete", table, time.Since(start).Seconds(), err)
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.CollectableRow) (transaction.HistoryRecord, error) {
	var (
		r         transaction.HistoryRecord
		walletID  pgtype.Text
		incoming  bool
		otherSide pgtype.Text
		fee       pgtype.Text
		memo      pgtype.Text
		blockTime pgtype.Timestamptz
		explorer  pgtype.Text
		nonce     pgtype.Int8
		txType    pgtype.Text
	)
	err := row.Scan(
		&r.TxID, &r.Ticker, &walletID, &incoming, &otherSide, &r.Amount, &fee, &memo,
		&r.Confirmations, &blockTime, &explorer, &nonce, &txType,
	)
	if err != nil {
		return r, err
	}

	r.WalletID = walletID.String
	r.Direction = incoming
	r.Recipient = otherSide.String
	r.Fee = fee.String
	r.Memo = memo.String
	if blockTime.Valid {
		r.Timestamp = blockTime.Time.UnixMilli()
	}
	r.Explorer = explorer.String
	r.Nonce = uint64PtrFromPgint8(nonce)
	r.TxType = txType.String
	return r, nil
}

func pgtextFromString(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func pgint8FromUint64Ptr(n *uint64) pgtype.Int8 {
	if n == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: int64(*n), Valid: true}
}

func uint64PtrFromPgint8(n pgtype.Int8) *uint64 {
	if !n.Valid {
		return nil
	}
	v := uint64(n.Int64)
	return &v
}
