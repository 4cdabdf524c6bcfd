package solana

import (
	"slices"
	"time"

	"github.com/brojonat/walletcore/service/explorer"
	"github.com/brojonat/walletcore/service/units"
	"github.com/shopspring/decimal"
)

func isToken(s explorer.Scope) bool {
	return s.Asset != nil && s.Asset.Contract != ""
}

// flow returns the signed change of the scoped asset for the address and the
// counterparty of the movement. Hydrated records prefer the balance changes
// reported by the node over instruction parsing.
func flow(tx Tx, s explorer.Scope) (decimal.Decimal, string) {
	if isToken(s) {
		return tokenFlow(tx, s.Address, s.Asset.Contract)
	}
	return nativeFlow(tx, s.Address)
}

func nativeFlow(tx Tx, address string) (decimal.Decimal, string) {
	var counterparty string
	delta := decimal.Zero
	for _, t := range tx.Transfers {
		if t.Token {
			continue
		}
		amount := units.FromUint64(t.Amount)
		switch {
		case t.Destination == address && t.Source != address:
			delta = delta.Add(amount)
			if counterparty == "" {
				counterparty = t.Source
			}
		case t.Source == address && t.Destination != address:
			delta = delta.Sub(amount)
			if counterparty == "" {
				counterparty = t.Destination
			}
		}
	}

	idx := slices.Index(tx.Keys, address)
	if idx >= 0 && idx < len(tx.PreBalances) && idx < len(tx.PostBalances) {
		balance := units.FromUint64(tx.PostBalances[idx]).Sub(units.FromUint64(tx.PreBalances[idx]))
		// The first account pays the fee.
		if idx == 0 {
			balance = balance.Add(units.FromUint64(tx.Fee))
		}
		delta = balance
	}
	return delta, counterparty
}

func tokenFlow(tx Tx, address, mint string) (decimal.Decimal, string) {
	delta := decimal.Zero
	found := false
	for _, d := range tx.TokenDeltas {
		if d.Owner == address && d.Mint == mint {
			delta = delta.Add(d.Delta)
			found = true
		}
	}
	var counterparty string
	for _, d := range tx.TokenDeltas {
		if d.Owner != address && d.Mint == mint && d.Delta.Sign() != delta.Sign() {
			counterparty = d.Owner
			break
		}
	}
	if found {
		return delta, counterparty
	}

	// Without balance metadata only outgoing transfers signed by the
	// address can be attributed.
	for _, t := range tx.Transfers {
		if t.Token && t.Authority == address && (t.Mint == "" || t.Mint == mint) {
			delta = delta.Sub(units.FromUint64(t.Amount))
		}
	}
	return delta, counterparty
}

func (n *Normalizer) TxHash(tx Tx) string { return tx.Signature }

func (n *Normalizer) TxDirection(tx Tx, s explorer.Scope) bool {
	delta, _ := flow(tx, s)
	return delta.IsPositive()
}

func (n *Normalizer) TxOtherSideAddress(tx Tx, s explorer.Scope) string {
	_, counterparty := flow(tx, s)
	return counterparty
}

// TxValue is zero for failed transactions; only the fee moved.
func (n *Normalizer) TxValue(tx Tx, s explorer.Scope) (decimal.Decimal, error) {
	if tx.Err != "" {
		return decimal.Zero, nil
	}
	delta, _ := flow(tx, s)
	return delta.Abs(), nil
}

func (n *Normalizer) TxDateTime(tx Tx) time.Time {
	if tx.BlockTime > 0 {
		return time.Unix(tx.BlockTime, 0)
	}
	return time.Now()
}

// TxConfirmations counts slots since the transaction's slot. Without a tip
// the commitment status decides between pending and one confirmation.
func (n *Normalizer) TxConfirmations(tx Tx, s explorer.Scope) int64 {
	switch {
	case s.Tip > 0 && tx.Slot > 0 && s.Tip >= tx.Slot:
		return int64(s.Tip-tx.Slot) + 1
	case tx.ConfirmationStatus == "processed":
		return 0
	default:
		return 1
	}
}

func (n *Normalizer) TxFee(tx Tx) (decimal.Decimal, error) {
	return units.FromUint64(tx.Fee), nil
}

func (n *Normalizer) TxMemo(tx Tx) string { return tx.Memo }

func (n *Normalizer) TxNonce(Tx) *uint64 { return nil }

func (n *Normalizer) TxType(tx Tx, _ explorer.Scope) string {
	if tx.Err != "" {
		return "failed"
	}
	for _, t := range tx.Transfers {
		if t.Token {
			return "token_transfer"
		}
	}
	return "transfer"
}
