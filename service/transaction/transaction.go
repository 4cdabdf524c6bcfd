// Package transaction holds the canonical, source-agnostic transaction record
// every explorer normalizes into.
package transaction

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/walletcore/service/errs"
)

const (
	StatusConfirmed = "Confirmed"
	StatusPending   = "Pending"

	// ConfirmedColor is the display color attached to confirmed transactions.
	ConfirmedColor = "#06CE91"

	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Direction is the side of a transfer as reported by a source. It collapses
// to a bool (true = incoming) at construction.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionIn
	DirectionOut
)

// DirectionFromBool maps an incoming flag to a Direction.
func DirectionFromBool(incoming bool) Direction {
	if incoming {
		return DirectionIn
	}
	return DirectionOut
}

// ParseDirection accepts the "in"/"out" labels used by history records.
func ParseDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in", "incoming", "true":
		return DirectionIn
	case "out", "outgoing", "false":
		return DirectionOut
	default:
		return DirectionUnknown
	}
}

// Status is the displayed state of a transaction.
type Status struct {
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
}

// Params are the inputs to New. Either DateTime or DateTimeText must be set.
type Params struct {
	TxID             string
	Ticker           string
	WalletID         string
	Direction        Direction
	OtherSideAddress string
	Amount           string
	Memo             string
	Fee              string
	Confirmations    int64
	DateTime         time.Time
	DateTimeText     string
	// Timestamp overrides the epoch milliseconds derived from DateTime.
	Timestamp int64
	Explorer  string
	Nonce     *uint64
	TxType    string
}

// Transaction is immutable after construction. Rebuild it when the underlying
// record changes.
type Transaction struct {
	txid             string
	ticker           string
	walletID         string
	direction        bool
	otherSideAddress string
	amount           string
	memo             string
	fee              string
	confirmations    int64
	datetime         time.Time
	date             string
	time             string
	timestamp        int64
	explorer         string
	nonce            *uint64
	txType           string
}

// New validates params and builds a Transaction.
func New(p Params) (*Transaction, error) {
	if strings.TrimSpace(p.Ticker) == "" {
		return nil, errs.ErrMissingTicker
	}

	dt := p.DateTime
	if dt.IsZero() {
		if strings.TrimSpace(p.DateTimeText) == "" {
			return nil, errs.ErrMissingDateTime
		}
		parsed, err := ParseDateTime(p.DateTimeText)
		if err != nil {
			return nil, err
		}
		dt = parsed
	}
	dt = dt.UTC()

	timestamp := p.Timestamp
	if timestamp == 0 {
		timestamp = dt.UnixMilli()
	}

	confirmations := p.Confirmations
	if confirmations < 0 {
		confirmations = 0
	}

	return &Transaction{
		txid:             p.TxID,
		ticker:           p.Ticker,
		walletID:         p.WalletID,
		direction:        p.Direction == DirectionIn,
		otherSideAddress: p.OtherSideAddress,
		amount:           p.Amount,
		memo:             p.Memo,
		fee:              p.Fee,
		confirmations:    confirmations,
		datetime:         dt,
		date:             dt.Format(DateLayout),
		time:             dt.Format(TimeLayout),
		timestamp:        timestamp,
		explorer:         p.Explorer,
		nonce:            p.Nonce,
		txType:           p.TxType,
	}, nil
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
}

// ParseDateTime parses the datetime strings sources commonly return. Bare
// integers are read as in FromUnix.
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return FromUnix(n), nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable datetime %q", errs.ErrConstruction, s)
}

// FromUnix reads n as unix milliseconds when it exceeds 1e12 and as unix
// seconds otherwise. 1e12 seconds lies far past any block time, while 1e12
// milliseconds is September 2001.
func FromUnix(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func (t *Transaction) TxID() string             { return t.txid }
func (t *Transaction) Ticker() string           { return t.ticker }
func (t *Transaction) WalletID() string         { return t.walletID }
func (t *Transaction) Incoming() bool           { return t.direction }
func (t *Transaction) OtherSideAddress() string { return t.otherSideAddress }
func (t *Transaction) Amount() string           { return t.amount }
func (t *Transaction) Memo() string             { return t.memo }
func (t *Transaction) Fee() string              { return t.fee }
func (t *Transaction) Confirmations() int64     { return t.confirmations }
func (t *Transaction) DateTime() time.Time      { return t.datetime }
func (t *Transaction) Date() string             { return t.date }
func (t *Transaction) Time() string             { return t.time }
func (t *Transaction) Timestamp() int64         { return t.timestamp }
func (t *Transaction) Explorer() string         { return t.explorer }
func (t *Transaction) Nonce() *uint64           { return t.nonce }
func (t *Transaction) TxType() string           { return t.txType }

// Hash returns the chain-native transaction id.
func (t *Transaction) Hash() string { return t.txid }

// Status is derived from confirmations on every call.
func (t *Transaction) Status() Status {
	if t.confirmations > 1 {
		return Status{Text: StatusConfirmed, Color: ConfirmedColor}
	}
	return Status{Text: StatusPending}
}

// Record returns the serializable history form of t.
func (t *Transaction) Record() HistoryRecord {
	return HistoryRecord{
		TxID:          t.txid,
		Ticker:        t.ticker,
		WalletID:      t.walletID,
		Direction:     t.direction,
		Recipient:     t.otherSideAddress,
		Amount:        t.amount,
		Memo:          t.memo,
		Fee:           t.fee,
		Confirmations: t.confirmations,
		Timestamp:     t.timestamp,
		Explorer:      t.explorer,
		Nonce:         t.nonce,
		TxType:        t.txType,
	}
}

// MarshalJSON encodes the history record plus the derived display fields.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		HistoryRecord
		DateTime time.Time `json:"datetime"`
		Date     string    `json:"date"`
		Time     string    `json:"time"`
		Status   Status    `json:"status"`
	}{
		HistoryRecord: t.Record(),
		DateTime:      t.datetime,
		Date:          t.date,
		Time:          t.time,
		Status:        t.Status(),
	})
}
