package evm

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/brojonat/walletcore/service/errs"
	"github.com/brojonat/walletcore/service/explorer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scanServer serves fixed bodies per action and records the last query.
type scanServer struct {
	mu    sync.Mutex
	query url.Values
}

func (s *scanServer) last() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

func newScanServer(t *testing.T, bodies map[string]string) (*scanServer, *httptest.Server) {
	t.Helper()
	ss := &scanServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ss.mu.Lock()
		ss.query = r.URL.Query()
		ss.mu.Unlock()
		body, ok := bodies[r.URL.Query().Get("action")]
		if !ok {
			http.Error(w, "unknown action", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return ss, srv
}

func newScan(t *testing.T, url string) *explorer.Explorer[ScanTx] {
	t.Helper()
	e, err := NewEtherscan(explorer.Config{
		ClassName:   EtherscanClassName,
		BaseURL:     url,
		APIKey:      "secret",
		CanPaginate: true,
		Options:     map[string]any{"chainId": "1"},
	}, eth, explorer.Deps{Logger: discardLogger()})
	require.NoError(t, err)
	return e
}

const txlist = `{"status":"1","message":"OK","result":[
 {"blockNumber":"100","timeStamp":"1700000000","hash":"0xin","nonce":"3","from":"0x2222222222222222222222222222222222222222","to":"0x1111111111111111111111111111111111111111","value":"500000000000000000","gas":"21000","gasPrice":"1000000000","gasUsed":"21000","isError":"0","input":"0x","confirmations":"12"},
 {"blockNumber":"99","timeStamp":"1699999000","hash":"0xout","nonce":"4","from":"0x1111111111111111111111111111111111111111","to":"0x2222222222222222222222222222222222222222","value":"0","gas":"50000","gasPrice":"1000000000","gasUsed":"30000","isError":"1","input":"0xa9059cbb","functionName":"transfer(address,uint256)","confirmations":"13"}
]}`

func TestEtherscan_GetTransactions(t *testing.T) {
	ss, srv := newScanServer(t, map[string]string{"txlist": txlist})
	e := newScan(t, srv.URL)

	txs, err := e.GetTransactions(t.Context(), explorer.TransactionsQuery{Address: wallet.Hex(), Limit: 2, PageNum: 1})
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.True(t, txs[0].Incoming())
	assert.Equal(t, "0.5", txs[0].Amount())
	assert.Equal(t, "0x2222222222222222222222222222222222222222", txs[0].OtherSideAddress())
	assert.Equal(t, int64(12), txs[0].Confirmations())
	assert.Equal(t, "0.000021", txs[0].Fee())
	assert.Equal(t, "Confirmed", txs[0].Status().Text)

	assert.False(t, txs[1].Incoming())
	assert.Equal(t, "failed", txs[1].TxType())

	q := ss.last()
	assert.Equal(t, "2", q.Get("page"))
	assert.Equal(t, "2", q.Get("offset"))
	assert.Equal(t, "desc", q.Get("sort"))
	assert.Equal(t, "secret", q.Get("apikey"))
	assert.Equal(t, "1", q.Get("chainid"))
}

func TestEtherscan_StatusZero(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantLen  int
		wantKind errs.Kind
	}{
		{"no transactions", `{"status":"0","message":"No transactions found","result":[]}`, 0, ""},
		{"rate limited falls back", `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`, 0, ""},
		{"invalid key", `{"status":"0","message":"NOTOK","result":"Invalid API Key"}`, 0, errs.KindMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newScanServer(t, map[string]string{"txlist": tt.body})
			txs, err := newScan(t, srv.URL).GetTransactions(t.Context(), explorer.TransactionsQuery{Address: wallet.Hex()})
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, errs.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, txs, tt.wantLen)
		})
	}

	_, srv := newScanServer(t, map[string]string{"txlist": `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`})
	_, err := newScan(t, srv.URL).GetTransactions(explorer.WithoutFallback(t.Context()), explorer.TransactionsQuery{Address: wallet.Hex()})
	assert.Equal(t, errs.KindRateLimited, errs.KindOf(err))
}

func TestEtherscan_TokenHistoryAndBalance(t *testing.T) {
	ss, srv := newScanServer(t, map[string]string{
		"tokentx": `{"status":"1","message":"OK","result":[
 {"blockNumber":"100","timeStamp":"1700000000","hash":"0xtok","nonce":"1","from":"0x2222222222222222222222222222222222222222","to":"0x1111111111111111111111111111111111111111","contractAddress":"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48","value":"2500000","gas":"60000","gasPrice":"1","gasUsed":"50000","tokenSymbol":"USDC","tokenDecimal":"6","confirmations":"3"}]}`,
		"tokenbalance": `{"status":"1","message":"OK","result":"7000000"}`,
	})
	e := newScan(t, srv.URL)
	asset := &explorer.Asset{Ticker: "USDC", Contract: usdc.Hex(), Decimals: 6}

	txs, err := e.GetTransactions(t.Context(), explorer.TransactionsQuery{Address: wallet.Hex(), Asset: asset})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "USDC", txs[0].Ticker())
	assert.Equal(t, "2.5", txs[0].Amount())
	assert.Equal(t, "token_transfer", txs[0].TxType())
	assert.Equal(t, usdc.Hex(), ss.last().Get("contractaddress"))

	info, err := e.GetInfo(t.Context(), explorer.InfoQuery{Address: wallet.Hex(), Asset: asset})
	require.NoError(t, err)
	assert.Equal(t, "7000000", info.Balance)
}

func TestEtherscan_Unsupported(t *testing.T) {
	e := newScan(t, "http://127.0.0.1:1")
	_, err := e.GetTransaction(t.Context(), explorer.TransactionQuery{TxID: txHash.Hex()})
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))

	_, err = e.GetInfo(t.Context(), explorer.InfoQuery{Address: "nope"})
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestEtherscan_ErrorRedactsKey(t *testing.T) {
	_, srv := newScanServer(t, map[string]string{"txlist": `{"status":"0","message":"NOTOK","result":"Invalid API Key"}`})
	_, err := newScan(t, srv.URL).GetTransactions(t.Context(), explorer.TransactionsQuery{Address: wallet.Hex()})

	var reqErr *errs.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "REDACTED", reqErr.Request.Params["apikey"])
	assert.Equal(t, "txlist", reqErr.Request.Params["action"])
}
