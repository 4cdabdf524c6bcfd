package evm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/walletcore/service/errs"
	"github.com/brojonat/walletcore/service/explorer"
	"github.com/brojonat/walletcore/service/provider"
	"github.com/brojonat/walletcore/service/units"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

const EtherscanClassName = "etherscan"

// EtherscanModule registers the Etherscan indexer adapter kind.
func EtherscanModule() provider.Module {
	return provider.Module{
		ClassName: EtherscanClassName,
		DefaultUsage: []provider.Usage{
			provider.UsageBalance, provider.UsageHistory, provider.UsageToken,
		},
		New: func(cfg explorer.Config, coin explorer.Coin, deps explorer.Deps) (explorer.Provider, error) {
			return NewEtherscan(cfg, coin, deps)
		},
	}
}

// NewEtherscan creates an Etherscan explorer. options.chainId selects the
// chain on the multichain v2 API.
func NewEtherscan(cfg explorer.Config, coin explorer.Coin, deps explorer.Deps) (*explorer.Explorer[ScanTx], error) {
	return explorer.New[ScanTx](cfg, coin, &EtherscanNormalizer{}, deps)
}

// EtherscanNormalizer implements the Etherscan account API.
type EtherscanNormalizer struct{}

var _ explorer.Normalizer[ScanTx] = (*EtherscanNormalizer)(nil)

func (n *EtherscanNormalizer) params(cfg *explorer.Config, extra map[string]any) map[string]any {
	out := map[string]any{}
	if cfg.APIKey != "" {
		out["apikey"] = cfg.APIKey
	}
	if chain := cfg.OptionString("chainId", ""); chain != "" {
		out["chainid"] = chain
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

type scanEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// decodeScan unwraps the status envelope. A "0" status carries either an
// empty listing, a rate limit notice or a request error in result.
func decodeScan(raw []byte, out any) error {
	var env scanEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("invalid etherscan envelope: %w", err)
	}
	if env.Status == "0" {
		var text string
		_ = json.Unmarshal(env.Result, &text)
		msg := strings.ToLower(env.Message + " " + text)
		switch {
		case strings.Contains(msg, "no transactions found"), strings.Contains(msg, "no records found"):
			return json.Unmarshal([]byte("[]"), out)
		case strings.Contains(msg, "rate limit"):
			return fmt.Errorf("%w: %s", errs.ErrRateLimited, text)
		default:
			return fmt.Errorf("etherscan error: %s: %s", env.Message, text)
		}
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("invalid etherscan result: %w", err)
	}
	return nil
}

func (n *EtherscanNormalizer) InfoRequest(cfg *explorer.Config, q explorer.InfoQuery) (explorer.Request, error) {
	if _, err := parseAddress(q.Address); err != nil {
		return explorer.Request{}, err
	}
	if q.Asset != nil && q.Asset.Contract != "" {
		if _, err := parseAddress(q.Asset.Contract); err != nil {
			return explorer.Request{}, err
		}
		return explorer.Request{Params: n.params(cfg, map[string]any{
			"module": "account", "action": "tokenbalance", "address": q.Address,
			"contractaddress": q.Asset.Contract, "tag": "latest",
		})}, nil
	}
	return explorer.Request{Params: n.params(cfg, map[string]any{
		"module": "account", "action": "balance", "address": q.Address, "tag": "latest",
	})}, nil
}

func (n *EtherscanNormalizer) DecodeInfo(raw []byte, _ explorer.Scope) (*explorer.Info, error) {
	var balance string
	if err := decodeScan(raw, &balance); err != nil {
		return nil, err
	}
	d, err := units.ParseMinimal(balance)
	if err != nil {
		return nil, err
	}
	return &explorer.Info{Balance: d.String(), Raw: raw}, nil
}

// TransactionRequest is unsupported: the account API has no lookup by hash.
func (n *EtherscanNormalizer) TransactionRequest(*explorer.Config, explorer.TransactionQuery) (explorer.Request, error) {
	return explorer.Request{}, fmt.Errorf("etherscan has no transaction lookup: %w", errs.ErrUnsupported)
}

func (n *EtherscanNormalizer) DecodeTransaction([]byte, explorer.Scope) (ScanTx, error) {
	return ScanTx{}, errs.ErrUnsupported
}

// TransactionsRequest lists txlist, or tokentx for an asset, newest first.
// Etherscan pages are one-based.
func (n *EtherscanNormalizer) TransactionsRequest(cfg *explorer.Config, q explorer.TransactionsQuery) (explorer.Request, error) {
	if _, err := parseAddress(q.Address); err != nil {
		return explorer.Request{}, err
	}
	params := map[string]any{
		"module":     "account",
		"action":     "txlist",
		"address":    q.Address,
		"startblock": 0,
		"endblock":   99999999,
		"page":       q.PageNum + 1,
		"offset":     q.Limit,
		"sort":       "desc",
	}
	if q.Asset != nil && q.Asset.Contract != "" {
		if _, err := parseAddress(q.Asset.Contract); err != nil {
			return explorer.Request{}, err
		}
		params["action"] = "tokentx"
		params["contractaddress"] = q.Asset.Contract
	}
	return explorer.Request{Params: n.params(cfg, params)}, nil
}

func (n *EtherscanNormalizer) DecodeTransactions(raw []byte, _ explorer.Scope) ([]ScanTx, error) {
	var txs []ScanTx
	if err := decodeScan(raw, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (n *EtherscanNormalizer) UTXORequest(*explorer.Config, explorer.UTXOQuery) (explorer.Request, error) {
	return explorer.Request{}, fmt.Errorf("evm chains have no unspent outputs: %w", errs.ErrUnsupported)
}

func (n *EtherscanNormalizer) DecodeUTXOs([]byte, explorer.Scope) ([]explorer.UTXO, error) {
	return nil, errs.ErrUnsupported
}

// SendRequest goes through the proxy module, which answers in JSON-RPC form.
func (n *EtherscanNormalizer) SendRequest(cfg *explorer.Config, q explorer.SendQuery) (explorer.Request, error) {
	raw := strings.TrimSpace(q.RawTx)
	if !strings.HasPrefix(raw, "0x") {
		raw = "0x" + raw
	}
	if _, err := hexutil.Decode(raw); err != nil {
		return explorer.Request{}, fmt.Errorf("raw transaction must be hex encoded: %w", err)
	}
	return explorer.Request{Params: n.params(cfg, map[string]any{
		"module": "proxy", "action": "eth_sendRawTransaction", "hex": raw,
	})}, nil
}

func (n *EtherscanNormalizer) DecodeSend(raw []byte) (*explorer.SendResult, error) {
	var hash common.Hash
	if err := explorer.DecodeRPC(raw, &hash); err != nil {
		return nil, err
	}
	return &explorer.SendResult{TxID: hash.Hex(), Raw: raw}, nil
}

func (n *EtherscanNormalizer) TxHash(tx ScanTx) string { return tx.Hash }

func (n *EtherscanNormalizer) TxDirection(tx ScanTx, s explorer.Scope) bool {
	return strings.EqualFold(tx.To, s.Address) && !strings.EqualFold(tx.From, s.Address)
}

func (n *EtherscanNormalizer) TxOtherSideAddress(tx ScanTx, s explorer.Scope) string {
	if n.TxDirection(tx, s) {
		return tx.From
	}
	if tx.To == "" {
		return tx.ContractAddress
	}
	return tx.To
}

func (n *EtherscanNormalizer) TxValue(tx ScanTx, _ explorer.Scope) (decimal.Decimal, error) {
	return units.ParseMinimal(tx.Value)
}

// TxDateTime returns the zero time for rows without a timestamp, which
// fails transaction construction.
func (n *EtherscanNormalizer) TxDateTime(tx ScanTx) time.Time {
	secs, err := strconv.ParseInt(tx.TimeStamp, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

func (n *EtherscanNormalizer) TxConfirmations(tx ScanTx, _ explorer.Scope) int64 {
	c, _ := strconv.ParseInt(tx.Confirmations, 10, 64)
	return c
}

func (n *EtherscanNormalizer) TxFee(tx ScanTx) (decimal.Decimal, error) {
	if tx.GasUsed == "" || tx.GasPrice == "" {
		return decimal.Zero, nil
	}
	used, err := units.ParseMinimal(tx.GasUsed)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := units.ParseMinimal(tx.GasPrice)
	if err != nil {
		return decimal.Zero, err
	}
	return used.Mul(price), nil
}

func (n *EtherscanNormalizer) TxMemo(ScanTx) string { return "" }

func (n *EtherscanNormalizer) TxNonce(tx ScanTx) *uint64 {
	nonce, err := strconv.ParseUint(tx.Nonce, 10, 64)
	if err != nil {
		return nil
	}
	return &nonce
}

func (n *EtherscanNormalizer) TxType(tx ScanTx, s explorer.Scope) string {
	switch {
	case tx.IsError == "1":
		return "failed"
	case isToken(s) || tx.TokenSymbol != "":
		return "token_transfer"
	case tx.FunctionName != "" || (tx.Input != "" && tx.Input != "0x"):
		return "contract_call"
	default:
		return "transfer"
	}
}
