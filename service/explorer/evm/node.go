// Package evm adapts EVM chains: a node speaking Ethereum JSON-RPC and the
// Etherscan family of indexer APIs.
package evm

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/brojonat/walletcore/service/errs"
	"github.com/brojonat/walletcore/service/explorer"
	"github.com/brojonat/walletcore/service/provider"
	"github.com/brojonat/walletcore/service/units"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

const NodeClassName = "evm"

// NodeModule registers the JSON-RPC node adapter kind. Nodes do not index
// history by address, so history is left to an indexer.
func NodeModule() provider.Module {
	return provider.Module{
		ClassName: NodeClassName,
		DefaultUsage: []provider.Usage{
			provider.UsageBalance, provider.UsageTx, provider.UsageSend, provider.UsageNode,
		},
		New: func(cfg explorer.Config, coin explorer.Coin, deps explorer.Deps) (explorer.Provider, error) {
			return NewNode(cfg, coin, deps)
		},
	}
}

func NewNode(cfg explorer.Config, coin explorer.Coin, deps explorer.Deps) (*explorer.Explorer[NodeTx], error) {
	return explorer.New[NodeTx](cfg, coin, &NodeNormalizer{}, deps)
}

// NodeNormalizer implements the Ethereum JSON-RPC dialect.
type NodeNormalizer struct{}

var (
	_ explorer.Normalizer[NodeTx] = (*NodeNormalizer)(nil)
	_ explorer.BlockNormalizer    = (*NodeNormalizer)(nil)
	_ explorer.TipAware           = (*NodeNormalizer)(nil)
)

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid evm address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid hash %q", s)
	}
	return common.BytesToHash(b), nil
}

func isToken(s explorer.Scope) bool {
	return s.Asset != nil && s.Asset.Contract != ""
}

func (n *NodeNormalizer) NeedsTip(op explorer.Operation) bool {
	return op == explorer.OpTransaction
}

// InfoRequest reads the native balance, or calls balanceOf on the asset
// contract.
func (n *NodeNormalizer) InfoRequest(_ *explorer.Config, q explorer.InfoQuery) (explorer.Request, error) {
	addr, err := parseAddress(q.Address)
	if err != nil {
		return explorer.Request{}, err
	}
	if q.Asset != nil && q.Asset.Contract != "" {
		contract, err := parseAddress(q.Asset.Contract)
		if err != nil {
			return explorer.Request{}, err
		}
		data, err := packBalanceOf(addr)
		if err != nil {
			return explorer.Request{}, err
		}
		call := map[string]string{"to": contract.Hex(), "data": hexutil.Encode(data)}
		return explorer.RPCRequest("", "eth_call", call, "latest"), nil
	}
	return explorer.RPCRequest("", "eth_getBalance", addr.Hex(), "latest"), nil
}

func (n *NodeNormalizer) DecodeInfo(raw []byte, s explorer.Scope) (*explorer.Info, error) {
	if isToken(s) {
		var out hexutil.Bytes
		if err := explorer.DecodeRPC(raw, &out); err != nil {
			return nil, err
		}
		balance, err := unpackBalance(out)
		if err != nil {
			return nil, err
		}
		return &explorer.Info{Balance: balance.String(), Raw: raw}, nil
	}
	var balance hexutil.Big
	if err := explorer.DecodeRPC(raw, &balance); err != nil {
		return nil, err
	}
	return &explorer.Info{Balance: balance.ToInt().String(), Raw: raw}, nil
}

// TransactionRequest batches the transaction with its receipt.
func (n *NodeNormalizer) TransactionRequest(_ *explorer.Config, q explorer.TransactionQuery) (explorer.Request, error) {
	hash, err := parseHash(q.TxID)
	if err != nil {
		return explorer.Request{}, err
	}
	return explorer.RPCBatchRequest("",
		explorer.RPCCall{Method: "eth_getTransactionByHash", Params: []any{hash.Hex()}},
		explorer.RPCCall{Method: "eth_getTransactionReceipt", Params: []any{hash.Hex()}},
	), nil
}

func (n *NodeNormalizer) DecodeTransaction(raw []byte, _ explorer.Scope) (NodeTx, error) {
	members, err := explorer.SplitRPCBatch(raw, 2)
	if err != nil {
		return NodeTx{}, err
	}
	var tx NodeTx
	if err := explorer.DecodeRPC(members[0], &tx); err != nil {
		return NodeTx{}, err
	}
	var receipt Receipt
	switch err := explorer.DecodeRPC(members[1], &receipt); {
	case err == nil:
		tx.Receipt = &receipt
	case errors.Is(err, errs.ErrNotFound):
		// pending
	default:
		return NodeTx{}, err
	}
	return tx, nil
}

func (n *NodeNormalizer) TransactionsRequest(*explorer.Config, explorer.TransactionsQuery) (explorer.Request, error) {
	return explorer.Request{}, fmt.Errorf("nodes do not list history by address: %w", errs.ErrUnsupported)
}

func (n *NodeNormalizer) DecodeTransactions([]byte, explorer.Scope) ([]NodeTx, error) {
	return nil, errs.ErrUnsupported
}

func (n *NodeNormalizer) UTXORequest(*explorer.Config, explorer.UTXOQuery) (explorer.Request, error) {
	return explorer.Request{}, fmt.Errorf("evm chains have no unspent outputs: %w", errs.ErrUnsupported)
}

func (n *NodeNormalizer) DecodeUTXOs([]byte, explorer.Scope) ([]explorer.UTXO, error) {
	return nil, errs.ErrUnsupported
}

// SendRequest checks that the payload decodes as a signed transaction before
// broadcasting it.
func (n *NodeNormalizer) SendRequest(_ *explorer.Config, q explorer.SendQuery) (explorer.Request, error) {
	raw := strings.TrimSpace(q.RawTx)
	if !strings.HasPrefix(raw, "0x") {
		raw = "0x" + raw
	}
	data, err := hexutil.Decode(raw)
	if err != nil {
		return explorer.Request{}, fmt.Errorf("raw transaction must be hex encoded: %w", err)
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(data); err != nil {
		return explorer.Request{}, fmt.Errorf("invalid raw transaction: %w", err)
	}
	return explorer.RPCRequest("", "eth_sendRawTransaction", raw), nil
}

func (n *NodeNormalizer) DecodeSend(raw []byte) (*explorer.SendResult, error) {
	var hash common.Hash
	if err := explorer.DecodeRPC(raw, &hash); err != nil {
		return nil, err
	}
	return &explorer.SendResult{TxID: hash.Hex(), Raw: raw}, nil
}

func (n *NodeNormalizer) LatestBlockRequest(*explorer.Config) (explorer.Request, error) {
	return explorer.RPCRequest("", "eth_getBlockByNumber", "latest", false), nil
}

func (n *NodeNormalizer) DecodeLatestBlock(raw []byte) (*explorer.Block, error) {
	return decodeBlock(raw)
}

func (n *NodeNormalizer) BlockRequest(_ *explorer.Config, q explorer.BlockQuery) (explorer.Request, error) {
	switch {
	case q.Hash != "":
		hash, err := parseHash(q.Hash)
		if err != nil {
			return explorer.Request{}, err
		}
		return explorer.RPCRequest("", "eth_getBlockByHash", hash.Hex(), false), nil
	case q.Height != nil:
		return explorer.RPCRequest("", "eth_getBlockByNumber", hexutil.EncodeUint64(*q.Height), false), nil
	default:
		return explorer.Request{}, fmt.Errorf("block hash or height is required")
	}
}

func (n *NodeNormalizer) DecodeBlock(raw []byte, _ explorer.BlockQuery) (*explorer.Block, error) {
	return decodeBlock(raw)
}

func decodeBlock(raw []byte) (*explorer.Block, error) {
	var b rpcBlock
	if err := explorer.DecodeRPC(raw, &b); err != nil {
		return nil, err
	}
	if b.Number == nil {
		return nil, fmt.Errorf("block without number")
	}
	txids := make([]string, len(b.Transactions))
	for i, h := range b.Transactions {
		txids[i] = h.Hex()
	}
	return &explorer.Block{
		Hash:       b.Hash.Hex(),
		Height:     b.Number.ToInt().Uint64(),
		ParentHash: b.ParentHash.Hex(),
		Time:       time.Unix(int64(b.Timestamp), 0).UTC(),
		TxIDs:      txids,
	}, nil
}

// tokenTransfer finds the movement of the scoped asset, preferring receipt
// logs over call data.
func (tx NodeTx) tokenTransfer(s explorer.Scope) (TokenTransfer, bool) {
	contract := common.HexToAddress(s.Asset.Contract)
	addr := common.HexToAddress(s.Address)
	if tx.Receipt != nil {
		for _, l := range tx.Receipt.Logs {
			t, ok := decodeTransferLog(l)
			if ok && t.Contract == contract && (t.From == addr || t.To == addr) {
				return t, true
			}
		}
	}
	if tx.To != nil && *tx.To == contract {
		return decodeTransferInput(contract, tx.From, tx.Input)
	}
	return TokenTransfer{}, false
}

func (n *NodeNormalizer) TxHash(tx NodeTx) string { return tx.Hash.Hex() }

func (n *NodeNormalizer) TxDirection(tx NodeTx, s explorer.Scope) bool {
	addr := common.HexToAddress(s.Address)
	if isToken(s) {
		t, ok := tx.tokenTransfer(s)
		return ok && t.To == addr && t.From != addr
	}
	return tx.To != nil && *tx.To == addr && tx.From != addr
}

func (n *NodeNormalizer) TxOtherSideAddress(tx NodeTx, s explorer.Scope) string {
	from, to := tx.From, tx.To
	if isToken(s) {
		t, ok := tx.tokenTransfer(s)
		if !ok {
			return ""
		}
		from, to = t.From, &t.To
	}
	if n.TxDirection(tx, s) {
		return from.Hex()
	}
	if to == nil {
		return ""
	}
	return to.Hex()
}

func (n *NodeNormalizer) TxValue(tx NodeTx, s explorer.Scope) (decimal.Decimal, error) {
	if isToken(s) {
		t, ok := tx.tokenTransfer(s)
		if !ok {
			return decimal.Zero, nil
		}
		return units.FromBig(t.Value), nil
	}
	if tx.Value == nil {
		return decimal.Zero, nil
	}
	return units.FromBig(tx.Value.ToInt()), nil
}

// TxDateTime uses blockTimestamp when the node includes it; older nodes omit
// it and the observation time is used.
func (n *NodeNormalizer) TxDateTime(tx NodeTx) time.Time {
	if tx.BlockTimestamp != nil && *tx.BlockTimestamp > 0 {
		return time.Unix(int64(*tx.BlockTimestamp), 0)
	}
	return time.Now()
}

func (n *NodeNormalizer) TxConfirmations(tx NodeTx, s explorer.Scope) int64 {
	if tx.BlockNumber == nil {
		return 0
	}
	height := tx.BlockNumber.ToInt().Uint64()
	if s.Tip == 0 || s.Tip < height {
		return 1
	}
	return int64(s.Tip-height) + 1
}

// TxFee is gas used times the effective price once mined, and the gas limit
// times the offered price while pending.
func (n *NodeNormalizer) TxFee(tx NodeTx) (decimal.Decimal, error) {
	if r := tx.Receipt; r != nil && r.EffectiveGasPrice != nil {
		fee := new(big.Int).Mul(new(big.Int).SetUint64(uint64(r.GasUsed)), r.EffectiveGasPrice.ToInt())
		return units.FromBig(fee), nil
	}
	if tx.GasPrice == nil {
		return decimal.Zero, nil
	}
	fee := new(big.Int).Mul(new(big.Int).SetUint64(uint64(tx.Gas)), tx.GasPrice.ToInt())
	return units.FromBig(fee), nil
}

func (n *NodeNormalizer) TxMemo(NodeTx) string { return "" }

func (n *NodeNormalizer) TxNonce(tx NodeTx) *uint64 {
	nonce := uint64(tx.Nonce)
	return &nonce
}

func (n *NodeNormalizer) TxType(tx NodeTx, s explorer.Scope) string {
	switch {
	case tx.Receipt != nil && tx.Receipt.Status == 0:
		return "failed"
	case isToken(s):
		return "token_transfer"
	case len(tx.Input) > 0:
		return "contract_call"
	default:
		return "transfer"
	}
}
