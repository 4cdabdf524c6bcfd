// Package esplora adapts Esplora REST APIs (Blockstream, mempool.space) and
// the mempool.space push socket.
package esplora

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/walletcore/service/explorer"
	"github.com/brojonat/walletcore/service/provider"
	"github.com/brojonat/walletcore/service/units"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const ClassName = "esplora"

// PageSize is the number of confirmed transactions Esplora returns per
// history page.
const PageSize = 25

// Module registers the esplora adapter kind.
func Module() provider.Module {
	return provider.Module{
		ClassName: ClassName,
		DefaultUsage: []provider.Usage{
			provider.UsageBalance, provider.UsageHistory, provider.UsageTx,
			provider.UsageUTXO, provider.UsageSend, provider.UsageNode,
		},
		New: func(cfg explorer.Config, coin explorer.Coin, deps explorer.Deps) (explorer.Provider, error) {
			return New(cfg, coin, deps)
		},
	}
}

// New creates an Esplora explorer. options.network selects the address
// format: mainnet (default), testnet, signet or regtest.
func New(cfg explorer.Config, coin explorer.Coin, deps explorer.Deps) (*explorer.Explorer[Tx], error) {
	n, err := NewNormalizer(cfg.OptionString("network", "mainnet"))
	if err != nil {
		return nil, err
	}
	if cfg.TxLimit == 0 {
		cfg.TxLimit = PageSize
	}
	return explorer.New[Tx](cfg, coin, n, deps)
}

// Normalizer implements the Esplora dialect.
type Normalizer struct {
	params *chaincfg.Params
}

var (
	_ explorer.Normalizer[Tx]       = (*Normalizer)(nil)
	_ explorer.BlockNormalizer      = (*Normalizer)(nil)
	_ explorer.TipAware             = (*Normalizer)(nil)
	_ explorer.SocketNormalizer[Tx] = (*Normalizer)(nil)
)

func NewNormalizer(network string) (*Normalizer, error) {
	params, err := networkParams(network)
	if err != nil {
		return nil, err
	}
	return &Normalizer{params: params}, nil
}

func networkParams(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(network) {
	case "", "mainnet", "main", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3", "test":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", network)
	}
}

// validateAddress rejects addresses of other networks. DecodeAddress alone
// takes a bech32 address's network from its own prefix.
func (n *Normalizer) validateAddress(address string) error {
	addr, err := btcutil.DecodeAddress(address, n.params)
	if err != nil {
		return fmt.Errorf("invalid %s address %q: %w", n.params.Name, address, err)
	}
	if !addr.IsForNet(n.params) {
		return fmt.Errorf("address %q is not a %s address", address, n.params.Name)
	}
	return nil
}

func validateTxID(txid string) error {
	if _, err := chainhash.NewHashFromStr(txid); err != nil || len(txid) != chainhash.MaxHashStringSize {
		return fmt.Errorf("invalid txid %q", txid)
	}
	return nil
}

func (n *Normalizer) NeedsTip(op explorer.Operation) bool {
	switch op {
	case explorer.OpTransaction, explorer.OpTransactions, explorer.OpUTXO:
		return true
	default:
		return false
	}
}

func (n *Normalizer) InfoRequest(_ *explorer.Config, q explorer.InfoQuery) (explorer.Request, error) {
	if err := n.validateAddress(q.Address); err != nil {
		return explorer.Request{}, err
	}
	return explorer.Request{URL: "/address/" + q.Address}, nil
}

// DecodeInfo sums confirmed and mempool stats.
func (n *Normalizer) DecodeInfo(raw []byte, _ explorer.Scope) (*explorer.Info, error) {
	var info addressInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, err
	}
	balance := units.FromUint64(info.ChainStats.FundedTxoSum).
		Sub(units.FromUint64(info.ChainStats.SpentTxoSum)).
		Add(units.FromUint64(info.MempoolStats.FundedTxoSum)).
		Sub(units.FromUint64(info.MempoolStats.SpentTxoSum))
	return &explorer.Info{Balance: balance.String(), Raw: raw}, nil
}

func (n *Normalizer) TransactionRequest(_ *explorer.Config, q explorer.TransactionQuery) (explorer.Request, error) {
	if err := validateTxID(q.TxID); err != nil {
		return explorer.Request{}, err
	}
	return explorer.Request{URL: "/tx/" + q.TxID}, nil
}

func (n *Normalizer) DecodeTransaction(raw []byte, _ explorer.Scope) (Tx, error) {
	var tx Tx
	if err := json.Unmarshal(raw, &tx); err != nil {
		return Tx{}, err
	}
	if tx.TxID == "" {
		return Tx{}, fmt.Errorf("transaction without txid")
	}
	return tx, nil
}

// TransactionsRequest pages with the last seen txid; offsets are not
// supported by Esplora.
func (n *Normalizer) TransactionsRequest(_ *explorer.Config, q explorer.TransactionsQuery) (explorer.Request, error) {
	if err := n.validateAddress(q.Address); err != nil {
		return explorer.Request{}, err
	}
	if q.Cursor != "" {
		if err := validateTxID(q.Cursor); err != nil {
			return explorer.Request{}, err
		}
		return explorer.Request{URL: "/address/" + q.Address + "/txs/chain/" + q.Cursor}, nil
	}
	return explorer.Request{URL: "/address/" + q.Address + "/txs"}, nil
}

func (n *Normalizer) DecodeTransactions(raw []byte, _ explorer.Scope) ([]Tx, error) {
	var txs []Tx
	if err := json.Unmarshal(raw, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (n *Normalizer) UTXORequest(_ *explorer.Config, q explorer.UTXOQuery) (explorer.Request, error) {
	if err := n.validateAddress(q.Address); err != nil {
		return explorer.Request{}, err
	}
	return explorer.Request{URL: "/address/" + q.Address + "/utxo"}, nil
}

func (n *Normalizer) DecodeUTXOs(raw []byte, s explorer.Scope) ([]explorer.UTXO, error) {
	var utxos []utxo
	if err := json.Unmarshal(raw, &utxos); err != nil {
		return nil, err
	}
	out := make([]explorer.UTXO, 0, len(utxos))
	for _, u := range utxos {
		out = append(out, explorer.UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Value:         strconv.FormatUint(u.Value, 10),
			Address:       s.Address,
			Height:        u.Status.BlockHeight,
			Confirmations: confirmations(u.Status, s.Tip),
		})
	}
	return out, nil
}

// SendRequest posts the raw transaction hex as a text body.
func (n *Normalizer) SendRequest(_ *explorer.Config, q explorer.SendQuery) (explorer.Request, error) {
	raw := strings.TrimSpace(q.RawTx)
	if _, err := hex.DecodeString(raw); err != nil || raw == "" {
		return explorer.Request{}, fmt.Errorf("raw transaction must be hex encoded")
	}
	return explorer.Request{URL: "/tx", Method: "POST", Options: explorer.Options{Body: raw}}, nil
}

func (n *Normalizer) DecodeSend(raw []byte) (*explorer.SendResult, error) {
	txid := strings.TrimSpace(string(raw))
	if err := validateTxID(txid); err != nil {
		return nil, err
	}
	return &explorer.SendResult{TxID: txid, Raw: json.RawMessage(strconv.Quote(txid))}, nil
}

func (n *Normalizer) LatestBlockRequest(*explorer.Config) (explorer.Request, error) {
	return explorer.Request{URL: "/blocks"}, nil
}

func (n *Normalizer) DecodeLatestBlock(raw []byte) (*explorer.Block, error) {
	var blocks []block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("empty block list")
	}
	return toBlock(blocks[0]), nil
}

func (n *Normalizer) BlockRequest(_ *explorer.Config, q explorer.BlockQuery) (explorer.Request, error) {
	if q.Hash == "" {
		return explorer.Request{}, fmt.Errorf("block hash is required")
	}
	if _, err := chainhash.NewHashFromStr(q.Hash); err != nil {
		return explorer.Request{}, fmt.Errorf("invalid block hash %q: %w", q.Hash, err)
	}
	return explorer.Request{URL: "/block/" + q.Hash}, nil
}

func (n *Normalizer) DecodeBlock(raw []byte, _ explorer.BlockQuery) (*explorer.Block, error) {
	var b block
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return toBlock(b), nil
}

func toBlock(b block) *explorer.Block {
	return &explorer.Block{
		Hash:       b.ID,
		Height:     b.Height,
		ParentHash: b.PreviousBlockHash,
		Time:       time.Unix(b.Timestamp, 0).UTC(),
	}
}

// SubscribeMessage asks mempool.space to push transactions touching address.
func (n *Normalizer) SubscribeMessage(address string) ([]byte, error) {
	if err := n.validateAddress(address); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"track-address": address})
}

func (n *Normalizer) DecodeSocketMessage(raw []byte, _ explorer.Scope) ([]Tx, error) {
	var frame pushFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	return append(frame.AddressTransactions, frame.BlockTransactions...), nil
}

func confirmations(s Status, tip uint64) int64 {
	switch {
	case !s.Confirmed:
		return 0
	case tip == 0 || tip < s.BlockHeight:
		return 1
	default:
		return int64(tip-s.BlockHeight) + 1
	}
}
