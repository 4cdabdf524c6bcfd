package transaction

import (
	"fmt"
	"time"

	"github.com/brojonat/walletcore/service/errs"
)

// HistoryRecord is the persisted shape of a normalized transaction. Direction
// is either a bool or one of the "in"/"out" labels older records carry.
type HistoryRecord struct {
	TxID          string  `json:"txid"`
	Ticker        string  `json:"ticker"`
	WalletID      string  `json:"walletId,omitempty"`
	Direction     any     `json:"direction"`
	Recipient     string  `json:"recepient,omitempty"`
	Amount        string  `json:"amount"`
	Memo          string  `json:"memo,omitempty"`
	Fee           string  `json:"fee,omitempty"`
	Confirmations int64   `json:"confirmations"`
	Timestamp     int64   `json:"timestamp"`
	Explorer      string  `json:"explorer,omitempty"`
	Nonce         *uint64 `json:"nonce,omitempty"`
	TxType        string  `json:"txType,omitempty"`
}

// FromHistory re-hydrates a previously normalized record. The datetime is
// recomputed from the stored timestamp.
func FromHistory(r HistoryRecord) (*Transaction, error) {
	if r.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: history record %q has no timestamp", errs.ErrMissingDateTime, r.TxID)
	}

	return New(Params{
		TxID:             r.TxID,
		Ticker:           r.Ticker,
		WalletID:         r.WalletID,
		Direction:        historyDirection(r.Direction),
		OtherSideAddress: r.Recipient,
		Amount:           r.Amount,
		Memo:             r.Memo,
		Fee:              r.Fee,
		Confirmations:    r.Confirmations,
		DateTime:         time.UnixMilli(r.Timestamp),
		Timestamp:        r.Timestamp,
		Explorer:         r.Explorer,
		Nonce:            r.Nonce,
		TxType:           r.TxType,
	})
}

func historyDirection(v any) Direction {
	switch d := v.(type) {
	case bool:
		return DirectionFromBool(d)
	case string:
		return ParseDirection(d)
	case Direction:
		return d
	default:
		return DirectionUnknown
	}
}
