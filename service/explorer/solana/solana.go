// Package solana adapts Solana JSON-RPC nodes (public mainnet, Helius,
// QuickNode) to the explorer operations.
package solana

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/brojonat/walletcore/service/errs"
	"github.com/brojonat/walletcore/service/explorer"
	"github.com/brojonat/walletcore/service/provider"
	"github.com/brojonat/walletcore/service/units"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

const ClassName = "solana"

// MaxSignaturesPerCall is the node limit of getSignaturesForAddress.
const MaxSignaturesPerCall = 1000

// Module registers the solana adapter kind.
func Module() provider.Module {
	return provider.Module{
		ClassName: ClassName,
		DefaultUsage: []provider.Usage{
			provider.UsageBalance, provider.UsageHistory, provider.UsageTx,
			provider.UsageSend, provider.UsageNode, provider.UsageToken,
		},
		New: func(cfg explorer.Config, coin explorer.Coin, deps explorer.Deps) (explorer.Provider, error) {
			return New(cfg, coin, deps)
		},
	}
}

// New creates a Solana explorer. options.commitment selects the commitment
// level sent with every call (default "confirmed").
func New(cfg explorer.Config, coin explorer.Coin, deps explorer.Deps) (*explorer.Explorer[Tx], error) {
	commitment := cfg.OptionString("commitment", string(rpc.CommitmentConfirmed))
	switch rpc.CommitmentType(commitment) {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
	default:
		return nil, fmt.Errorf("unknown commitment %q", commitment)
	}
	return explorer.New[Tx](cfg, coin, &Normalizer{commitment: commitment}, deps)
}

// Normalizer implements the Solana JSON-RPC dialect.
type Normalizer struct {
	commitment string
}

var (
	_ explorer.Normalizer[Tx] = (*Normalizer)(nil)
	_ explorer.BlockNormalizer = (*Normalizer)(nil)
	_ explorer.TipAware        = (*Normalizer)(nil)
	_ explorer.Hydrator[Tx]    = (*Normalizer)(nil)
)

func validateAddress(address string) error {
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("invalid solana address %q: %w", address, err)
	}
	return nil
}

func validateSignature(sig string) error {
	if _, err := solana.SignatureFromBase58(sig); err != nil {
		return fmt.Errorf("invalid solana signature %q: %w", sig, err)
	}
	return nil
}

func (n *Normalizer) opts(extra map[string]any) map[string]any {
	out := map[string]any{"commitment": n.commitment}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func (n *Normalizer) NeedsTip(op explorer.Operation) bool {
	return op == explorer.OpTransaction || op == explorer.OpTransactions
}

// InfoRequest asks for the lamport balance, or for an asset the token
// accounts the address owns for its mint.
func (n *Normalizer) InfoRequest(_ *explorer.Config, q explorer.InfoQuery) (explorer.Request, error) {
	if err := validateAddress(q.Address); err != nil {
		return explorer.Request{}, err
	}
	if q.Asset != nil && q.Asset.Contract != "" {
		if err := validateAddress(q.Asset.Contract); err != nil {
			return explorer.Request{}, err
		}
		return explorer.RPCRequest("", "getTokenAccountsByOwner",
			q.Address,
			map[string]any{"mint": q.Asset.Contract},
			n.opts(map[string]any{"encoding": "jsonParsed"}),
		), nil
	}
	return explorer.RPCRequest("", "getBalance", q.Address, n.opts(nil)), nil
}

type balanceResult struct {
	Value uint64 `json:"value"`
}

type tokenAccountsResult struct {
	Value []struct {
		Pubkey  string `json:"pubkey"`
		Account struct {
			Data struct {
				Parsed struct {
					Info struct {
						TokenAmount struct {
							Amount   string `json:"amount"`
							Decimals int32  `json:"decimals"`
						} `json:"tokenAmount"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"account"`
	} `json:"value"`
}

func (n *Normalizer) DecodeInfo(raw []byte, s explorer.Scope) (*explorer.Info, error) {
	if s.Asset != nil && s.Asset.Contract != "" {
		var res tokenAccountsResult
		if err := explorer.DecodeRPC(raw, &res); err != nil {
			return nil, err
		}
		total := units.FromUint64(0)
		for _, acct := range res.Value {
			amount, err := units.ParseMinimal(acct.Account.Data.Parsed.Info.TokenAmount.Amount)
			if err != nil {
				return nil, fmt.Errorf("token account %s: %w", acct.Pubkey, err)
			}
			total = total.Add(amount)
		}
		return &explorer.Info{Balance: total.String(), Raw: raw}, nil
	}

	var res balanceResult
	if err := explorer.DecodeRPC(raw, &res); err != nil {
		return nil, err
	}
	return &explorer.Info{Balance: units.FromUint64(res.Value).String(), Raw: raw}, nil
}

func (n *Normalizer) TransactionRequest(_ *explorer.Config, q explorer.TransactionQuery) (explorer.Request, error) {
	if err := validateSignature(q.TxID); err != nil {
		return explorer.Request{}, err
	}
	return explorer.RPCRequest("", "getTransaction", q.TxID, n.opts(map[string]any{
		"encoding":                       string(solana.EncodingBase64),
		"maxSupportedTransactionVersion": 0,
	})), nil
}

func (n *Normalizer) DecodeTransaction(raw []byte, _ explorer.Scope) (Tx, error) {
	var res rpc.GetTransactionResult
	if err := explorer.DecodeRPC(raw, &res); err != nil {
		return Tx{}, err
	}
	return parseTransactionResult(&res)
}

// TransactionsRequest lists signatures newest first. The cursor is the last
// signature of the previous page.
func (n *Normalizer) TransactionsRequest(_ *explorer.Config, q explorer.TransactionsQuery) (explorer.Request, error) {
	if err := validateAddress(q.Address); err != nil {
		return explorer.Request{}, err
	}
	limit := min(q.Limit, MaxSignaturesPerCall)
	opts := map[string]any{"limit": limit}
	if q.Cursor != "" {
		if err := validateSignature(q.Cursor); err != nil {
			return explorer.Request{}, err
		}
		opts["before"] = q.Cursor
	}
	return explorer.RPCRequest("", "getSignaturesForAddress", q.Address, n.opts(opts)), nil
}

func (n *Normalizer) DecodeTransactions(raw []byte, _ explorer.Scope) ([]Tx, error) {
	var sigs []*rpc.TransactionSignature
	if err := explorer.DecodeRPC(raw, &sigs); err != nil {
		return nil, err
	}
	out := make([]Tx, 0, len(sigs))
	for _, sig := range sigs {
		if sig == nil {
			continue
		}
		out = append(out, signatureToTx(sig))
	}
	return out, nil
}

// HydrateQuery re-fetches listed signatures. Failed transactions keep their
// listing metadata.
func (n *Normalizer) HydrateQuery(tx Tx, s explorer.Scope) (explorer.TransactionQuery, bool) {
	if tx.Hydrated || tx.Err != "" {
		return explorer.TransactionQuery{}, false
	}
	return explorer.TransactionQuery{Address: s.Address, TxID: tx.Signature, Asset: s.Asset}, true
}

// UTXORequest is unsupported; Solana is account based.
func (n *Normalizer) UTXORequest(*explorer.Config, explorer.UTXOQuery) (explorer.Request, error) {
	return explorer.Request{}, fmt.Errorf("solana has no unspent outputs: %w", errs.ErrUnsupported)
}

func (n *Normalizer) DecodeUTXOs([]byte, explorer.Scope) ([]explorer.UTXO, error) {
	return nil, errs.ErrUnsupported
}

// SendRequest submits a base64 encoded signed transaction.
func (n *Normalizer) SendRequest(_ *explorer.Config, q explorer.SendQuery) (explorer.Request, error) {
	raw := strings.TrimSpace(q.RawTx)
	if raw == "" {
		return explorer.Request{}, fmt.Errorf("raw transaction is required")
	}
	if _, err := base64.StdEncoding.DecodeString(raw); err != nil {
		return explorer.Request{}, fmt.Errorf("raw transaction must be base64 encoded: %w", err)
	}
	return explorer.RPCRequest("", "sendTransaction", raw, map[string]any{
		"encoding":            string(solana.EncodingBase64),
		"preflightCommitment": n.commitment,
	}), nil
}

func (n *Normalizer) DecodeSend(raw []byte) (*explorer.SendResult, error) {
	var sig string
	if err := explorer.DecodeRPC(raw, &sig); err != nil {
		return nil, err
	}
	if err := validateSignature(sig); err != nil {
		return nil, err
	}
	return &explorer.SendResult{TxID: sig, Raw: raw}, nil
}

// LatestBlockRequest reads the slot and blockhash at the configured
// commitment. Block heights are slots throughout this adapter.
func (n *Normalizer) LatestBlockRequest(*explorer.Config) (explorer.Request, error) {
	return explorer.RPCRequest("", "getLatestBlockhash", n.opts(nil)), nil
}

func (n *Normalizer) DecodeLatestBlock(raw []byte) (*explorer.Block, error) {
	var res struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := explorer.DecodeRPC(raw, &res); err != nil {
		return nil, err
	}
	if res.Context.Slot == 0 {
		return nil, fmt.Errorf("latest blockhash without slot")
	}
	return &explorer.Block{Hash: res.Value.Blockhash, Height: res.Context.Slot}, nil
}

// BlockRequest fetches a block by slot. Lookups by hash are not offered by
// the node API.
func (n *Normalizer) BlockRequest(_ *explorer.Config, q explorer.BlockQuery) (explorer.Request, error) {
	if q.Height == nil {
		return explorer.Request{}, fmt.Errorf("solana blocks are addressed by slot")
	}
	return explorer.RPCRequest("", "getBlock", *q.Height, n.opts(map[string]any{
		"encoding":                       "json",
		"transactionDetails":             "signatures",
		"rewards":                        false,
		"maxSupportedTransactionVersion": 0,
	})), nil
}

func (n *Normalizer) DecodeBlock(raw []byte, q explorer.BlockQuery) (*explorer.Block, error) {
	var res struct {
		Blockhash         string   `json:"blockhash"`
		PreviousBlockhash string   `json:"previousBlockhash"`
		BlockTime         *int64   `json:"blockTime"`
		Signatures        []string `json:"signatures"`
	}
	if err := explorer.DecodeRPC(raw, &res); err != nil {
		return nil, err
	}
	b := &explorer.Block{
		Hash:       res.Blockhash,
		ParentHash: res.PreviousBlockhash,
		TxIDs:      res.Signatures,
	}
	if q.Height != nil {
		b.Height = *q.Height
	}
	if res.BlockTime != nil {
		b.Time = time.Unix(*res.BlockTime, 0).UTC()
	}
	return b, nil
}
