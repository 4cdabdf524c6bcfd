package nats

import (
	"time"

	"github.com/brojonat/walletcore/service/transaction"
)

// TransactionEvent is published to "txns.{ticker}.{address}" for every
// transaction seen on a watched address.
type TransactionEvent struct {
	TxID     string `json:"txid"`
	Ticker   string `json:"ticker"`
	WalletID string `json:"wallet_id,omitempty"`

	// Address is the watched address; Incoming is relative to it.
	Address          string `json:"address"`
	Incoming         bool   `json:"incoming"`
	OtherSideAddress string `json:"other_side_address,omitempty"`

	Amount        string `json:"amount"`
	Fee           string `json:"fee,omitempty"`
	Memo          string `json:"memo,omitempty"`
	Confirmations int64  `json:"confirmations"`
	Status        string `json:"status"`
	TxType        string `json:"tx_type,omitempty"`
	Explorer      string `json:"explorer"`

	DateTime    time.Time `json:"datetime"`
	PublishedAt time.Time `json:"published_at"`
}

// FromTransaction converts a normalized transaction seen on address into
// an event.
func FromTransaction(address string, tx *transaction.Transaction) *TransactionEvent {
	return &TransactionEvent{
		TxID:             tx.TxID(),
		Ticker:           tx.Ticker(),
		WalletID:         tx.WalletID(),
		Address:          address,
		Incoming:         tx.Incoming(),
		OtherSideAddress: tx.OtherSideAddress(),
		Amount:           tx.Amount(),
		Fee:              tx.Fee(),
		Memo:             tx.Memo(),
		Confirmations:    tx.Confirmations(),
		Status:           tx.Status().Text,
		TxType:           tx.TxType(),
		Explorer:         tx.Explorer(),
		DateTime:         tx.DateTime(),
		PublishedAt:      time.Now().UTC(),
	}
}

// Subject returns the subject e is published on.
func (e *TransactionEvent) Subject() string {
	return SubjectPrefix + "." + e.Ticker + "." + e.Address
}

// MsgID identifies the event for JetStream deduplication. A transaction
// pushed twice for the same address within the stream's duplicate window is
// stored once.
func (e *TransactionEvent) MsgID() string {
	return e.Ticker + ":" + e.Address + ":" + e.TxID
}
