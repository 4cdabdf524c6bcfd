package esplora

import (
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/brojonat/walletcore/service/explorer"
	"github.com/brojonat/walletcore/service/units"
	"github.com/shopspring/decimal"
)

// flows returns what address spent as inputs and received as outputs.
func flows(tx Tx, address string) (spent, received uint64) {
	for _, in := range tx.Vin {
		if in.Prevout != nil && in.Prevout.ScriptPubKeyAddress == address {
			spent += in.Prevout.Value
		}
	}
	for _, out := range tx.Vout {
		if out.ScriptPubKeyAddress == address {
			received += out.Value
		}
	}
	return spent, received
}

func (n *Normalizer) TxHash(tx Tx) string { return tx.TxID }

// TxDirection is incoming when the address gains value.
func (n *Normalizer) TxDirection(tx Tx, s explorer.Scope) bool {
	spent, received := flows(tx, s.Address)
	return received > spent
}

func (n *Normalizer) TxOtherSideAddress(tx Tx, s explorer.Scope) string {
	if n.TxDirection(tx, s) {
		for _, in := range tx.Vin {
			if in.Prevout != nil && in.Prevout.ScriptPubKeyAddress != "" && in.Prevout.ScriptPubKeyAddress != s.Address {
				return in.Prevout.ScriptPubKeyAddress
			}
		}
		return ""
	}
	for _, out := range tx.Vout {
		if out.ScriptPubKeyAddress != "" && out.ScriptPubKeyAddress != s.Address {
			return out.ScriptPubKeyAddress
		}
	}
	return ""
}

// TxValue is the net amount received, or for outgoing transactions the sum
// paid to other addresses, excluding change and fee.
func (n *Normalizer) TxValue(tx Tx, s explorer.Scope) (decimal.Decimal, error) {
	spent, received := flows(tx, s.Address)
	if received > spent {
		return units.FromUint64(received - spent), nil
	}
	var paid uint64
	for _, out := range tx.Vout {
		if out.ScriptPubKeyAddress != s.Address {
			paid += out.Value
		}
	}
	return units.FromUint64(paid), nil
}

// TxDateTime uses the block time; mempool transactions are stamped now.
func (n *Normalizer) TxDateTime(tx Tx) time.Time {
	if tx.Status.Confirmed && tx.Status.BlockTime > 0 {
		return time.Unix(tx.Status.BlockTime, 0)
	}
	return time.Now()
}

func (n *Normalizer) TxConfirmations(tx Tx, s explorer.Scope) int64 {
	return confirmations(tx.Status, s.Tip)
}

func (n *Normalizer) TxFee(tx Tx) (decimal.Decimal, error) {
	return units.FromUint64(tx.Fee), nil
}

// TxMemo decodes the first printable OP_RETURN payload.
func (n *Normalizer) TxMemo(tx Tx) string {
	for _, out := range tx.Vout {
		if out.ScriptPubKeyType != "op_return" {
			continue
		}
		fields := strings.Fields(out.ScriptPubKeyAsm)
		if len(fields) == 0 {
			continue
		}
		data, err := hex.DecodeString(fields[len(fields)-1])
		if err != nil || len(data) == 0 || !utf8.Valid(data) {
			continue
		}
		return string(data)
	}
	return ""
}

func (n *Normalizer) TxNonce(Tx) *uint64 { return nil }

func (n *Normalizer) TxType(tx Tx, _ explorer.Scope) string {
	for _, in := range tx.Vin {
		if in.IsCoinbase {
			return "coinbase"
		}
	}
	return "transfer"
}
