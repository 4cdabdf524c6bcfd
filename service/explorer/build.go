package explorer

import (
	"fmt"

	"github.com/brojonat/walletcore/service/transaction"
	"github.com/brojonat/walletcore/service/units"
)

// BuildTransaction maps one raw record through x into a Transaction. Single
// lookups, history pages and socket pushes all go through it. Token amounts
// use the asset's ticker and decimals; fees are always in the native coin.
func BuildTransaction[R any](x TxExtractor[R], rec R, s Scope, explorerID string) (*transaction.Transaction, error) {
	ticker, decimals := s.Coin.Ticker, s.Coin.Decimals
	if s.Asset != nil && s.Asset.Ticker != "" {
		ticker, decimals = s.Asset.Ticker, s.Asset.Decimals
	}

	value, err := x.TxValue(rec, s)
	if err != nil {
		return nil, fmt.Errorf("failed to extract value of %s: %w", x.TxHash(rec), err)
	}
	fee, err := x.TxFee(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to extract fee of %s: %w", x.TxHash(rec), err)
	}

	var feeText string
	if !fee.IsZero() {
		feeText = units.ToCurrency(fee, s.Coin.Decimals)
	}

	return transaction.New(transaction.Params{
		TxID:             x.TxHash(rec),
		Ticker:           ticker,
		WalletID:         s.Coin.WalletID,
		Direction:        transaction.DirectionFromBool(x.TxDirection(rec, s)),
		OtherSideAddress: x.TxOtherSideAddress(rec, s),
		Amount:           units.ToCurrency(value.Abs(), decimals),
		Memo:             x.TxMemo(rec),
		Fee:              feeText,
		Confirmations:    x.TxConfirmations(rec, s),
		DateTime:         x.TxDateTime(rec),
		Explorer:         explorerID,
		Nonce:            x.TxNonce(rec),
		TxType:           x.TxType(rec, s),
	})
}
