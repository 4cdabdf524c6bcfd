package esplora

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/brojonat/walletcore/service/errs"
	"github.com/brojonat/walletcore/service/explorer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	me   = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"
	peer = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	tip  = 800009
)

var (
	btc     = explorer.Coin{Ticker: "BTC", Decimals: 8}
	inTxID  = strings.Repeat("aa", 32)
	outTxID = strings.Repeat("bb", 32)
)

func incomingTx() Tx {
	return Tx{
		TxID: inTxID,
		Fee:  1000,
		Vin:  []Input{{TxID: strings.Repeat("cc", 32), Prevout: &Output{ScriptPubKeyAddress: peer, Value: 150000}}},
		Vout: []Output{
			{ScriptPubKeyAddress: me, Value: 100000},
			{ScriptPubKeyAddress: peer, Value: 49000},
		},
		Status: Status{Confirmed: true, BlockHeight: 800000, BlockTime: 1700000000},
	}
}

func outgoingTx() Tx {
	return Tx{
		TxID: outTxID,
		Fee:  1000,
		Vin:  []Input{{TxID: inTxID, Prevout: &Output{ScriptPubKeyAddress: me, Value: 200000}}},
		Vout: []Output{
			{ScriptPubKeyAddress: peer, Value: 120000},
			{ScriptPubKeyAddress: me, Value: 79000},
			{ScriptPubKeyType: "op_return", ScriptPubKeyAsm: "OP_RETURN OP_PUSHBYTES_5 68656c6c6f"},
		},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newServer(t *testing.T, mux *http.ServeMux) *httptest.Server {
	t.Helper()
	mux.HandleFunc("GET /blocks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []block{{ID: strings.Repeat("00", 32), Height: tip, Timestamp: 1700005000}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newExplorer(t *testing.T, url string) *explorer.Explorer[Tx] {
	t.Helper()
	e, err := New(explorer.Config{ClassName: ClassName, BaseURL: url, CanPaginate: true}, btc,
		explorer.Deps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	return e
}

func TestGetInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /address/{addr}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, me, r.PathValue("addr"))
		writeJSON(w, addressInfo{
			Address:      me,
			ChainStats:   addressStats{FundedTxoSum: 300000, SpentTxoSum: 100000},
			MempoolStats: addressStats{FundedTxoSum: 5000},
		})
	})
	e := newExplorer(t, newServer(t, mux).URL)

	info, err := e.GetInfo(t.Context(), explorer.InfoQuery{Address: me})
	require.NoError(t, err)
	assert.Equal(t, "205000", info.Balance)

	_, err = e.GetInfo(t.Context(), explorer.InfoQuery{Address: "not-an-address"})
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestGetTransactions(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	record := func(r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, r.URL.Path)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /address/{addr}/txs", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, []Tx{incomingTx(), outgoingTx()})
	})
	mux.HandleFunc("GET /address/{addr}/txs/chain/{cursor}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, []Tx{})
	})
	e := newExplorer(t, newServer(t, mux).URL)

	txs, err := e.GetTransactions(t.Context(), explorer.TransactionsQuery{Address: me})
	require.NoError(t, err)
	require.Len(t, txs, 2)

	in := txs[0]
	assert.True(t, in.Incoming())
	assert.Equal(t, "0.001", in.Amount())
	assert.Equal(t, peer, in.OtherSideAddress())
	assert.Equal(t, int64(10), in.Confirmations())
	assert.Equal(t, "0.00001", in.Fee())
	assert.Equal(t, int64(1700000000), in.DateTime().Unix())

	out := txs[1]
	assert.False(t, out.Incoming())
	assert.Equal(t, "0.0012", out.Amount())
	assert.Equal(t, peer, out.OtherSideAddress())
	assert.Equal(t, "hello", out.Memo())
	assert.Equal(t, int64(0), out.Confirmations())
	assert.Equal(t, "Pending", out.Status().Text)

	txs, err = e.GetTransactions(t.Context(), explorer.TransactionsQuery{Address: me, Cursor: outTxID})
	require.NoError(t, err)
	assert.Empty(t, txs)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/address/" + me + "/txs", "/address/" + me + "/txs/chain/" + outTxID}, paths)
}

func TestGetTransactions_ServerErrorFallsBack(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /address/{addr}/txs", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})
	e := newExplorer(t, newServer(t, mux).URL)

	txs, err := e.GetTransactions(t.Context(), explorer.TransactionsQuery{Address: me})
	require.NoError(t, err)
	assert.Empty(t, txs)

	_, err = e.GetTransactions(explorer.WithoutFallback(t.Context()), explorer.TransactionsQuery{Address: me})
	assert.Equal(t, errs.KindServerError, errs.KindOf(err))
}

func TestGetTransaction(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tx/{txid}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("txid") != inTxID {
			http.Error(w, "Transaction not found", http.StatusNotFound)
			return
		}
		writeJSON(w, incomingTx())
	})
	e := newExplorer(t, newServer(t, mux).URL)

	tx, err := e.GetTransaction(t.Context(), explorer.TransactionQuery{TxID: inTxID, Address: me})
	require.NoError(t, err)
	assert.Equal(t, inTxID, tx.TxID())
	assert.Equal(t, "BTC", tx.Ticker())

	_, err = e.GetTransaction(t.Context(), explorer.TransactionQuery{TxID: outTxID, Address: me})
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	_, err = e.GetTransaction(t.Context(), explorer.TransactionQuery{TxID: "xyz"})
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestGetUnspentOutputs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /address/{addr}/utxo", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []utxo{
			{TxID: inTxID, Vout: 0, Value: 100000, Status: Status{Confirmed: true, BlockHeight: 800000}},
			{TxID: outTxID, Vout: 1, Value: 79000},
		})
	})
	e := newExplorer(t, newServer(t, mux).URL)

	utxos, err := e.GetUnspentOutputs(t.Context(), explorer.UTXOQuery{Address: me})
	require.NoError(t, err)
	require.Len(t, utxos, 2)
	assert.Equal(t, explorer.UTXO{TxID: inTxID, Value: "100000", Address: me, Height: 800000, Confirmations: 10}, utxos[0])
	assert.Equal(t, int64(0), utxos[1].Confirmations)
}

func TestSendTransaction(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tx", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "0100deadbeef", string(body))
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(outTxID))
	})
	e := newExplorer(t, newServer(t, mux).URL)

	res, err := e.SendTransaction(t.Context(), explorer.SendQuery{RawTx: " 0100deadbeef\n"})
	require.NoError(t, err)
	assert.Equal(t, outTxID, res.TxID)

	_, err = e.SendTransaction(t.Context(), explorer.SendQuery{RawTx: "zz"})
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestBlocks(t *testing.T) {
	hash := strings.Repeat("11", 32)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /block/{hash}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, block{ID: r.PathValue("hash"), Height: 800000, Timestamp: 1700000000, PreviousBlockHash: strings.Repeat("22", 32)})
	})
	e := newExplorer(t, newServer(t, mux).URL)

	latest, err := e.GetLatestBlock(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(tip), latest.Height)

	b, err := e.GetBlock(t.Context(), explorer.BlockQuery{Hash: hash})
	require.NoError(t, err)
	assert.Equal(t, hash, b.Hash)
	assert.Equal(t, uint64(800000), b.Height)
	assert.Equal(t, strings.Repeat("22", 32), b.ParentHash)

	_, err = e.GetBlock(t.Context(), explorer.BlockQuery{})
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestSocketFrame(t *testing.T) {
	e := newExplorer(t, "http://127.0.0.1:1")

	frame, err := json.Marshal(pushFrame{AddressTransactions: []Tx{incomingTx()}})
	require.NoError(t, err)
	txs, err := e.GetSocketTransaction(frame, me)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Incoming())
	assert.Equal(t, "0.001", txs[0].Amount())

	txs, err = e.GetSocketTransaction([]byte(`{"mempoolInfo":{"size":1}}`), me)
	require.NoError(t, err)
	assert.Empty(t, txs)

	n, err := NewNormalizer("mainnet")
	require.NoError(t, err)
	msg, err := n.SubscribeMessage(me)
	require.NoError(t, err)
	assert.JSONEq(t, `{"track-address":"`+me+`"}`, string(msg))
}

func TestNetworks(t *testing.T) {
	_, err := NewNormalizer("signet")
	assert.NoError(t, err)
	_, err = New(explorer.Config{ClassName: ClassName, BaseURL: "http://x", Options: map[string]any{"network": "dogecoin"}}, btc, explorer.Deps{})
	assert.Error(t, err)

	n, err := NewNormalizer("testnet")
	require.NoError(t, err)
	_, err = n.InfoRequest(nil, explorer.InfoQuery{Address: me})
	assert.Error(t, err, "mainnet address on testnet")
	_, err = n.InfoRequest(nil, explorer.InfoQuery{Address: "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"})
	assert.Error(t, err, "mainnet base58 address on testnet")

	const testnetAddr = "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"
	_, err = n.InfoRequest(nil, explorer.InfoQuery{Address: testnetAddr})
	assert.NoError(t, err)

	mainnet, err := NewNormalizer("mainnet")
	require.NoError(t, err)
	_, err = mainnet.InfoRequest(nil, explorer.InfoQuery{Address: testnetAddr})
	assert.Error(t, err, "testnet address on mainnet")
}
