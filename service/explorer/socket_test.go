package explorer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/walletcore/service/errs"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type socketNormalizer struct{ fakeNormalizer }

func (socketNormalizer) SubscribeMessage(address string) ([]byte, error) {
	return json.Marshal(map[string]string{"track": address})
}

func (socketNormalizer) DecodeSocketMessage(raw []byte, _ Scope) ([]fakeRecord, error) {
	var frame struct {
		Txs []fakeRecord `json:"txs"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	return frame.Txs, nil
}

func TestSocket(t *testing.T) {
	subscribed := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(msg)

		frames := []string{
			`{"type":"keepalive"}`,
			`not json`,
			`{"txs":[{"hash":"p1","from":"x","to":"me","value":"2500","time":1704067200}]}`,
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	e := newTestExplorer(t, srv.URL, Normalizer[fakeRecord](socketNormalizer{}), func(c *Config) {
		c.SocketURL = wsURL
	})

	require.NoError(t, e.SetSocketClient(t.Context(), ""))
	require.NoError(t, e.Subscribe(t.Context(), "me"))

	select {
	case msg := <-subscribed:
		assert.JSONEq(t, `{"track":"me"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription never arrived")
	}

	select {
	case tx := <-e.SocketTransactions():
		require.NotNil(t, tx)
		assert.Equal(t, "p1", tx.TxID())
		assert.True(t, tx.Incoming())
		assert.Equal(t, "0.000025", tx.Amount())
		assert.Equal(t, "Pending", tx.Status().Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no transaction pushed")
	}

	ch := e.SocketTransactions()
	require.NoError(t, e.Close())
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after Close")
	}
	assert.Nil(t, e.SocketTransactions())
}

func TestSocketUnsupported(t *testing.T) {
	e := newTestExplorer(t, "http://127.0.0.1:1", Normalizer[fakeRecord](fakeNormalizer{}))

	err := e.SetSocketClient(t.Context(), "ws://127.0.0.1:1")
	require.ErrorIs(t, err, errs.ErrUnsupported)
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))

	err = e.Subscribe(t.Context(), "me")
	assert.ErrorIs(t, err, errs.ErrUnsupported)
}

func TestSocketNotConnected(t *testing.T) {
	e := newTestExplorer(t, "http://127.0.0.1:1", Normalizer[fakeRecord](socketNormalizer{}))

	err := e.Subscribe(t.Context(), "me")
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))

	err = e.SetSocketClient(t.Context(), "")
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))
	assert.NoError(t, e.Close())
}

func TestGetSocketTransaction(t *testing.T) {
	e := newTestExplorer(t, "http://127.0.0.1:1", Normalizer[fakeRecord](socketNormalizer{}))

	txs, err := e.GetSocketTransaction([]byte(`{"txs":[{"hash":"a","from":"me","to":"y","value":"1","time":1704067200}]}`), "me")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.False(t, txs[0].Incoming())
	assert.Equal(t, "y", txs[0].OtherSideAddress())

	_, err = e.GetSocketTransaction([]byte(`{`), "me")
	assert.Error(t, err)
}
