package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brojonat/walletcore/service/errs"
	"github.com/brojonat/walletcore/service/units"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecord struct {
	Hash  string `json:"hash"`
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
	Fee   string `json:"fee"`
	Time  int64  `json:"time"`
	Confs int64  `json:"confs"`
}

// fakeNormalizer speaks a tiny REST dialect served by the tests.
type fakeNormalizer struct{}

func (fakeNormalizer) InfoRequest(_ *Config, q InfoQuery) (Request, error) {
	if q.Address == "" {
		return Request{}, errors.New("address is required")
	}
	return Request{URL: "/balance/" + q.Address}, nil
}

func (fakeNormalizer) DecodeInfo(raw []byte, _ Scope) (*Info, error) {
	var body struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	return &Info{Balance: body.Balance, Raw: raw}, nil
}

func (fakeNormalizer) TransactionRequest(_ *Config, q TransactionQuery) (Request, error) {
	return Request{URL: "/tx/" + q.TxID}, nil
}

func (fakeNormalizer) DecodeTransaction(raw []byte, _ Scope) (fakeRecord, error) {
	var rec fakeRecord
	err := json.Unmarshal(raw, &rec)
	return rec, err
}

func (fakeNormalizer) TransactionsRequest(_ *Config, q TransactionsQuery) (Request, error) {
	return Request{
		URL:    "/txs/" + q.Address,
		Params: map[string]any{"limit": q.Limit, "offset": q.Offset},
	}, nil
}

func (fakeNormalizer) DecodeTransactions(raw []byte, _ Scope) ([]fakeRecord, error) {
	var recs []fakeRecord
	err := json.Unmarshal(raw, &recs)
	return recs, err
}

func (fakeNormalizer) UTXORequest(_ *Config, q UTXOQuery) (Request, error) {
	return Request{URL: "/utxo/" + q.Address}, nil
}

func (fakeNormalizer) DecodeUTXOs(raw []byte, _ Scope) ([]UTXO, error) {
	var utxos []UTXO
	err := json.Unmarshal(raw, &utxos)
	return utxos, err
}

func (fakeNormalizer) SendRequest(_ *Config, q SendQuery) (Request, error) {
	return Request{URL: "/tx", Method: http.MethodPost, Options: Options{Body: q.RawTx}}, nil
}

func (fakeNormalizer) DecodeSend(raw []byte) (*SendResult, error) {
	return &SendResult{TxID: strings.TrimSpace(string(raw))}, nil
}

func (fakeNormalizer) TxHash(r fakeRecord) string                  { return r.Hash }
func (fakeNormalizer) TxDirection(r fakeRecord, s Scope) bool      { return r.To == s.Address }
func (fakeNormalizer) TxMemo(fakeRecord) string                    { return "" }
func (fakeNormalizer) TxNonce(fakeRecord) *uint64                  { return nil }
func (fakeNormalizer) TxType(fakeRecord, Scope) string             { return "transfer" }
func (fakeNormalizer) TxConfirmations(r fakeRecord, _ Scope) int64 { return r.Confs }

func (n fakeNormalizer) TxOtherSideAddress(r fakeRecord, s Scope) string {
	if n.TxDirection(r, s) {
		return r.From
	}
	return r.To
}

func (fakeNormalizer) TxValue(r fakeRecord, _ Scope) (decimal.Decimal, error) {
	return units.ParseMinimal(r.Value)
}

func (fakeNormalizer) TxDateTime(r fakeRecord) time.Time {
	if r.Time == 0 {
		return time.Time{}
	}
	return time.Unix(r.Time, 0)
}

func (fakeNormalizer) TxFee(r fakeRecord) (decimal.Decimal, error) {
	return units.ParseMinimal(r.Fee)
}

type hydratingNormalizer struct{ fakeNormalizer }

func (hydratingNormalizer) HydrateQuery(r fakeRecord, s Scope) (TransactionQuery, bool) {
	return TransactionQuery{Address: s.Address, TxID: r.Hash}, true
}

type blockNormalizer struct{ fakeNormalizer }

// tipHydratingNormalizer needs the chain tip only for single transactions,
// so a hydrated listing has to fetch it for its re-fetches.
type tipHydratingNormalizer struct{ blockNormalizer }

func (tipHydratingNormalizer) HydrateQuery(r fakeRecord, s Scope) (TransactionQuery, bool) {
	return TransactionQuery{Address: s.Address, TxID: r.Hash}, true
}

func (blockNormalizer) NeedsTip(op Operation) bool { return op == OpTransaction }

func (blockNormalizer) LatestBlockRequest(*Config) (Request, error) {
	return Request{URL: "/tip"}, nil
}

func (blockNormalizer) DecodeLatestBlock(raw []byte) (*Block, error) {
	var b Block
	err := json.Unmarshal(raw, &b)
	return &b, err
}

func (blockNormalizer) BlockRequest(_ *Config, q BlockQuery) (Request, error) {
	return Request{URL: "/block/" + q.Hash}, nil
}

func (blockNormalizer) DecodeBlock(raw []byte, _ BlockQuery) (*Block, error) {
	var b Block
	err := json.Unmarshal(raw, &b)
	return &b, err
}

// TxConfirmations derives confirmations from the tip the explorer fetched.
func (blockNormalizer) TxConfirmations(r fakeRecord, s Scope) int64 {
	if s.Tip == 0 {
		return 0
	}
	return int64(s.Tip) - r.Confs + 1
}

var testCoin = Coin{Ticker: "BTC", Decimals: 8, WalletID: "btc-main"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExplorer[R any](t *testing.T, baseURL string, norm Normalizer[R], mutate ...func(*Config)) *Explorer[R] {
	t.Helper()
	cfg := Config{ClassName: "fake", BaseURL: baseURL, Timeout: time.Second}
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := New(cfg, testCoin, norm, Deps{Logger: testLogger()})
	require.NoError(t, err)
	return e
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func statusHandler(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"error":"nope"}`))
	}
}

func slowHandler(w http.ResponseWriter, r *http.Request) {
	select {
	case <-time.After(2 * time.Second):
	case <-r.Context().Done():
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{ClassName: "fake"}, testCoin, Normalizer[fakeRecord](fakeNormalizer{}), Deps{})
	require.Error(t, err)
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))

	_, err = New(Config{ClassName: "fake", BaseURL: "http://x"}, Coin{}, Normalizer[fakeRecord](fakeNormalizer{}), Deps{})
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))

	e, err := New(Config{ClassName: "fake", BaseURL: "http://x/"}, testCoin, Normalizer[fakeRecord](fakeNormalizer{}), Deps{})
	require.NoError(t, err)
	assert.Equal(t, "fake", e.ID())
	assert.Equal(t, DefaultTxLimit, e.TxLimit())
	assert.Equal(t, DefaultRequestTimeout, e.Config().Timeout)
	assert.Equal(t, "http://x", e.Config().BaseURL)
}

func TestGetInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/balance/addr1", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		respondJSON(w, map[string]string{"balance": "12000"})
	}))
	defer srv.Close()

	e := newTestExplorer(t, srv.URL, Normalizer[fakeRecord](fakeNormalizer{}), func(c *Config) {
		c.Headers = map[string]string{"X-Api-Key": "secret"}
	})

	info, err := e.GetInfo(t.Context(), InfoQuery{Address: "addr1"})
	require.NoError(t, err)
	assert.Equal(t, "12000", info.Balance)
	assert.Equal(t, "0.00012", e.ToCurrencyUnit(decimal.RequireFromString(info.Balance)))

	minimal, err := e.ToMinimalUnit("0.00012")
	require.NoError(t, err)
	assert.Equal(t, info.Balance, minimal.String())
}

func TestRecoverableFailuresFallBack(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"timeout", slowHandler},
		{"rate limited", statusHandler(http.StatusTooManyRequests)},
		{"server error", statusHandler(http.StatusServiceUnavailable)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			e := newTestExplorer(t, srv.URL, Normalizer[fakeRecord](fakeNormalizer{}), func(c *Config) {
				c.Timeout = 50 * time.Millisecond
			})

			info, err := e.GetInfo(t.Context(), InfoQuery{Address: "a"})
			require.NoError(t, err)
			assert.Equal(t, "0", info.Balance)

			txs, err := e.GetTransactions(t.Context(), TransactionsQuery{Address: "a"})
			require.NoError(t, err)
			assert.NotNil(t, txs)
			assert.Empty(t, txs)

			utxos, err := e.GetUnspentOutputs(t.Context(), UTXOQuery{Address: "a"})
			require.NoError(t, err)
			assert.NotNil(t, utxos)
			assert.Empty(t, utxos)
		})
	}
}

func TestRecoverableFailuresWithoutFallback(t *testing.T) {
	srv := httptest.NewServer(statusHandler(http.StatusBadGateway))
	defer srv.Close()

	e := newTestExplorer(t, srv.URL, Normalizer[fakeRecord](fakeNormalizer{}))

	_, err := e.GetTransactions(WithoutFallback(t.Context()), TransactionsQuery{Address: "a"})
	require.Error(t, err)

	var reqErr *errs.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, errs.KindServerError, reqErr.Kind)
	assert.True(t, reqErr.Failover())
	assert.Equal(t, http.StatusBadGateway, reqErr.StatusCode)
	assert.Equal(t, "fake", reqErr.Explorer)
}

func TestRequestDelegatesToFallback(t *testing.T) {
	srv := httptest.NewServer(statusHandler(http.StatusTooManyRequests))
	defer srv.Close()

	e := newTestExplorer(t, srv.URL, Normalizer[fakeRecord](fakeNormalizer{}))

	raw, err := e.Request(t.Context(), Request{URL: "/txs/a", Type: OpTransactions})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))

	raw, err = e.Request(t.Context(), Request{URL: "/balance/a", Type: OpInfo})
	require.NoError(t, err)
	assert.JSONEq(t, `{"balance":"0"}`, string(raw))

	_, err = e.Request(WithoutFallback(t.Context()), Request{URL: "/txs/a", Type: OpTransactions})
	assert.Equal(t, errs.KindRateLimited, errs.KindOf(err))

	// Single transactions have no fallback.
	_, err = e.Request(t.Context(), Request{URL: "/tx/h1", Type: OpTransaction})
	assert.Equal(t, errs.KindRateLimited, errs.KindOf(err))
}

func TestCallerCancellationIsNotAFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(slowHandler))
	defer srv.Close()

	e := newTestExplorer(t, srv.URL, Normalizer[fakeRecord](fakeNormalizer{}))

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(50*time.Millisecond, cancel)

	txs, err := e.GetTransactions(ctx, TransactionsQuery{Address: "a"})
	require.Error(t, err)
	assert.Nil(t, txs)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, errs.KindCanceled, errs.KindOf(err))
	assert.False(t, errs.IsRecoverable(err))
}

func TestFatalFailures(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantKind errs.Kind
	}{
		{"bad request", statusHandler(http.StatusBadRequest), errs.KindMalformedResponse},
		{"not found", statusHandler(http.StatusNotFound), errs.KindNotFound},
		{"unparseable body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>oops</html>"))
		}, errs.KindMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			e := newTestExplorer(t, srv.URL, Normalizer[fakeRecord](fakeNormalizer{}))

			txs, err := e.GetTransactions(t.Context(), TransactionsQuery{Address: "addr9", Limit: 10})
			require.Error(t, err)
			assert.Nil(t, txs)

			var reqErr *errs.RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, tt.wantKind, reqErr.Kind)
			assert.False(t, reqErr.Recoverable())
			assert.Equal(t, string(OpTransactions), reqErr.Request.Type)
			assert.Equal(t, srv.URL+"/txs/addr9", reqErr.Request.URL)
			assert.Equal(t, http.MethodGet, reqErr.Request.Method)
			assert.Equal(t, 10, reqErr.Request.Params["limit"])
		})
	}
}

func TestGetTransaction_NoFallback(t *testing.T) {
	srv := httptest.NewServer(statusHandler(http.StatusServiceUnavailable))
	defer srv.Close()

	e := newTestExplorer(t, srv.URL, Normalizer[fakeRecord](fakeNormalizer{}))

	tx, err := e.GetTransaction(t.Context(), TransactionQuery{Address: "a", TxID: "t1"})
	assert.Nil(t, tx)
	assert.True(t, errs.IsRecoverable(err))
	assert.Equal(t, errs.KindServerError, errs.KindOf(err))
}

func TestSingleAndListPathsAgree(t *testing.T) {
	rec := fakeRecord{Hash: "t1", From: "other", To: "me", Value: "150000000", Fee: "2000", Time: 1704067200, Confs: 3}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/txs/"):
			respondJSON(w, []fakeRecord{rec})
		case strings.HasPrefix(r.URL.Path, "/tx/"):
			respondJSON(w, rec)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := newTestExplorer(t, srv.URL, Normalizer[fakeRecord](fakeNormalizer{}))

	single, err := e.GetTransaction(t.Context(), TransactionQuery{Address: "me", TxID: "t1"})
	require.NoError(t, err)
	list, err := e.GetTransactions(t.Context(), TransactionsQuery{Address: "me"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	assert.Equal(t, single.Record(), list[0].Record())
	assert.Equal(t, "1.5", single.Amount())
	assert.Equal(t, "0.00002", single.Fee())
	assert.True(t, single.Incoming())
	assert.Equal(t, "other", single.OtherSideAddress())
	assert.Equal(t, "BTC", single.Ticker())
	assert.Equal(t, "btc-main", single.WalletID())
	assert.Equal(t, "fake", single.Explorer())
	assert.Equal(t, "Confirmed", single.Status().Text)
}

func TestConstructionFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, []fakeRecord{{Hash: "t1", Value: "1"}})
	}))
	defer srv.Close()

	e := newTestExplorer(t, srv.URL, Normalizer[fakeRecord](fakeNormalizer{}))

	_, err := e.GetTransactions(t.Context(), TransactionsQuery{Address: "me"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrMissingDateTime)
	assert.Equal(t, errs.KindConstruction, errs.KindOf(err))
}

func TestBuilderErrors(t *testing.T) {
	e := newTestExplorer(t, "http://127.0.0.1:1", Normalizer[fakeRecord](fakeNormalizer{}))

	_, err := e.GetInfo(t.Context(), InfoQuery{})
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestConnectionRefusedIsServerError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e := newTestExplorer(t, url, Normalizer[fakeRecord](fakeNormalizer{}))

	_, err := e.GetInfo(WithoutFallback(t.Context()), InfoQuery{Address: "a"})
	assert.Equal(t, errs.KindServerError, errs.KindOf(err))
}

func TestPaginationParams(t *testing.T) {
	var (
		mu      sync.Mutex
		offsets []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		offsets = append(offsets, r.URL.Query().Get("offset"))
		mu.Unlock()
		respondJSON(w, []fakeRecord{})
	}))
	defer srv.Close()

	e := newTestExplorer(t, srv.URL, Normalizer[fakeRecord](fakeNormalizer{}))
	_, err := e.GetTransactions(t.Context(), TransactionsQuery{Address: "a", Offset: 20})
	require.NoError(t, err)

	require.NoError(t, e.UpdateParams(Config{BaseURL: srv.URL, CanPaginate: true}))
	_, err = e.GetTransactions(t.Context(), TransactionsQuery{Address: "a", Offset: 20})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"0", "20"}, offsets)
}

func TestPaginate(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		size := 2
		if n == 3 {
			size = 1
		}
		recs := make([]fakeRecord, size)
		for i := range recs {
			recs[i] = fakeRecord{Hash: fmt.Sprintf("p%d-%d", n, i), Value: "1", Time: 1704067200}
		}
		respondJSON(w, recs)
	}))
	defer srv.Close()

	e := newTestExplorer(t, srv.URL, Normalizer[fakeRecord](fakeNormalizer{}), func(c *Config) {
		c.CanPaginate = true
		c.TxLimit = 2
	})

	txs, err := Paginate(t.Context(), e, TransactionsQuery{Address: "a"}, 10)
	require.NoError(t, err)
	assert.Len(t, txs, 5)
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(0)
	txs, err = Paginate(t.Context(), e, TransactionsQuery{Address: "a"}, 1)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestUpdateParams(t *testing.T) {
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]string{"balance": "1"})
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]string{"balance": "2"})
	}))
	defer second.Close()

	e := newTestExplorer(t, first.URL, Normalizer[fakeRecord](fakeNormalizer{}))

	info, err := e.GetInfo(t.Context(), InfoQuery{Address: "a"})
	require.NoError(t, err)
	assert.Equal(t, "1", info.Balance)

	require.NoError(t, e.UpdateParams(Config{BaseURL: second.URL}))
	info, err = e.GetInfo(t.Context(), InfoQuery{Address: "a"})
	require.NoError(t, err)
	assert.Equal(t, "2", info.Balance)

	err = e.UpdateParams(Config{ClassName: "other", BaseURL: second.URL})
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
	err = e.UpdateParams(Config{})
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
	assert.Equal(t, second.URL, e.Config().BaseURL)
}

func TestThrottle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]string{"balance": "1"})
	}))
	defer srv.Close()

	e := newTestExplorer(t, srv.URL, Normalizer[fakeRecord](fakeNormalizer{}), func(c *Config) {
		c.InfoThrottle = 100 * time.Millisecond
	})
	assert.True(t, e.LastRequestTime(OpInfo).IsZero())

	start := time.Now()
	for range 2 {
		_, err := e.GetInfo(t.Context(), InfoQuery{Address: "a"})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.False(t, e.LastRequestTime(OpInfo).IsZero())
	assert.True(t, e.LastRequestTime(OpTransactions).IsZero())
}

func TestHydration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/txs/me":
			respondJSON(w, []fakeRecord{
				{Hash: "h1", Time: 1704067200},
				{Hash: "h2", Time: 1704067300},
			})
		case "/tx/h1":
			respondJSON(w, fakeRecord{Hash: "h1", From: "x", To: "me", Value: "500", Time: 1704067200, Confs: 9})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	e := newTestExplorer(t, srv.URL, Normalizer[fakeRecord](hydratingNormalizer{}), func(c *Config) {
		c.HydrateInterval = time.Millisecond
	})

	txs, err := e.GetTransactions(t.Context(), TransactionsQuery{Address: "me"})
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, "0.000005", txs[0].Amount())
	assert.Equal(t, int64(9), txs[0].Confirmations())

	// h2 failed to hydrate and keeps its listing metadata.
	assert.Equal(t, "h2", txs[1].TxID())
	assert.Equal(t, "0", txs[1].Amount())
	assert.Equal(t, int64(0), txs[1].Confirmations())
}

func TestHydration_FetchesTipOnce(t *testing.T) {
	var tips, fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/tip":
			tips.Add(1)
			respondJSON(w, Block{Hash: "tip", Height: 100})
		case r.URL.Path == "/txs/me":
			respondJSON(w, []fakeRecord{{Hash: "h1"}, {Hash: "h2"}, {Hash: "h3"}})
		case strings.HasPrefix(r.URL.Path, "/tx/"):
			fetches.Add(1)
			hash := strings.TrimPrefix(r.URL.Path, "/tx/")
			respondJSON(w, fakeRecord{Hash: hash, From: "x", To: "me", Value: "1", Time: 1704067200})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	e := newTestExplorer(t, srv.URL, Normalizer[fakeRecord](tipHydratingNormalizer{}), func(c *Config) {
		c.HydrateInterval = time.Millisecond
	})

	txs, err := e.GetTransactions(t.Context(), TransactionsQuery{Address: "me"})
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, int32(3), fetches.Load())
	assert.Equal(t, int32(1), tips.Load())

	_, err = e.GetTransaction(t.Context(), TransactionQuery{Address: "me", TxID: "h1"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), tips.Load())
}

func TestBlocks(t *testing.T) {
	e := newTestExplorer(t, "http://127.0.0.1:1", Normalizer[fakeRecord](fakeNormalizer{}))
	block, err := e.GetLatestBlock(t.Context())
	assert.NoError(t, err)
	assert.Nil(t, block)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tip":
			respondJSON(w, Block{Hash: "tip", Height: 110})
		case "/tx/t1":
			respondJSON(w, fakeRecord{Hash: "t1", Value: "1", Time: 1704067200, Confs: 100})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	be := newTestExplorer(t, srv.URL, Normalizer[fakeRecord](blockNormalizer{}))
	block, err = be.GetLatestBlock(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(110), block.Height)

	tx, err := be.GetTransaction(t.Context(), TransactionQuery{TxID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, int64(11), tx.Confirmations())

	_, err = be.GetBlock(t.Context(), BlockQuery{Hash: "missing"})
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestSendTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "deadbeef", string(body))
		_, _ = w.Write([]byte("txid123"))
	}))
	defer srv.Close()

	e := newTestExplorer(t, srv.URL, Normalizer[fakeRecord](fakeNormalizer{}))
	res, err := e.SendTransaction(t.Context(), SendQuery{RawTx: "deadbeef"})
	require.NoError(t, err)
	assert.Equal(t, "txid123", res.TxID)
}

func TestDescriptorRedaction(t *testing.T) {
	d := Request{
		URL:     "https://api.example/x",
		Params:  map[string]any{"apikey": "k", "address": "a"},
		Type:    OpInfo,
		Options: Options{Headers: map[string]string{"Authorization": "Bearer t"}},
	}.Descriptor()

	assert.Equal(t, "GET", d.Method)
	assert.Equal(t, "REDACTED", d.Params["apikey"])
	assert.Equal(t, "a", d.Params["address"])
	assert.Equal(t, map[string]string{"Authorization": "REDACTED"}, d.Options["headers"])
}
