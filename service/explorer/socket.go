package explorer

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brojonat/walletcore/service/errs"
	"github.com/brojonat/walletcore/service/transaction"
	"github.com/gorilla/websocket"
)

// socketBuffer is the capacity of the pushed transaction channel.
const socketBuffer = 64

type socketClient struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	out       chan *transaction.Transaction
	done      chan struct{}
	address   atomic.Pointer[string]
	closeOnce sync.Once
}

func (sc *socketClient) trackedAddress() string {
	if a := sc.address.Load(); a != nil {
		return *a
	}
	return ""
}

func (sc *socketClient) close() error {
	var err error
	sc.closeOnce.Do(func() {
		close(sc.done)
		sc.writeMu.Lock()
		_ = sc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		sc.writeMu.Unlock()
		err = sc.conn.Close()
	})
	return err
}

func (e *Explorer[R]) socketNormalizer() (SocketNormalizer[R], error) {
	sn, ok := any(e.norm).(SocketNormalizer[R])
	if !ok {
		return nil, e.builderError(OpSocket, errs.ErrUnsupported)
	}
	return sn, nil
}

// SetSocketClient dials the push channel. An empty endpoint uses the
// configured socketUrl. A previous connection is closed.
func (e *Explorer[R]) SetSocketClient(ctx context.Context, endpoint string) error {
	if _, err := e.socketNormalizer(); err != nil {
		return err
	}
	cfg := e.cfg.Load()
	if endpoint == "" {
		endpoint = cfg.SocketURL
	}
	if endpoint == "" {
		return errs.Configuration(cfg.ID, "socketUrl is not configured")
	}

	header := http.Header{}
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}
	conn, _, err := e.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return e.requestError(cfg, fmt.Errorf("failed to connect to websocket: %w", err),
			Request{URL: endpoint, Type: OpSocket})
	}

	sc := &socketClient{
		conn: conn,
		out:  make(chan *transaction.Transaction, socketBuffer),
		done: make(chan struct{}),
	}

	e.socketMu.Lock()
	prev := e.socket
	e.socket = sc
	e.socketMu.Unlock()
	if prev != nil {
		_ = prev.close()
	}

	go e.readLoop(sc)
	e.logger.InfoContext(ctx, "socket connected", "endpoint", endpoint)
	return nil
}

func (e *Explorer[R]) currentSocket() *socketClient {
	e.socketMu.Lock()
	defer e.socketMu.Unlock()
	return e.socket
}

// Subscribe asks the push channel for notifications about address.
func (e *Explorer[R]) Subscribe(ctx context.Context, address string) error {
	sn, err := e.socketNormalizer()
	if err != nil {
		return err
	}
	sc := e.currentSocket()
	if sc == nil {
		return errs.Configuration(e.ID(), "socket is not connected")
	}
	msg, err := sn.SubscribeMessage(address)
	if err != nil {
		return e.builderError(OpSocket, err)
	}
	sc.address.Store(&address)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(e.cfg.Load().Timeout)
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if err := sc.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := sc.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", address, err)
	}
	e.logger.DebugContext(ctx, "socket subscribed", "address", address)
	return nil
}

// SocketTransactions returns the channel pushed transactions are delivered
// on. It is closed when the socket closes; nil when no socket is connected.
func (e *Explorer[R]) SocketTransactions() <-chan *transaction.Transaction {
	if sc := e.currentSocket(); sc != nil {
		return sc.out
	}
	return nil
}

// GetSocketTransaction normalizes one push frame. Frames that carry no
// transaction yield an empty slice.
func (e *Explorer[R]) GetSocketTransaction(raw []byte, address string) ([]*transaction.Transaction, error) {
	sn, err := e.socketNormalizer()
	if err != nil {
		return nil, err
	}
	s := e.scope(address, nil, 0)
	recs, err := sn.DecodeSocketMessage(raw, s)
	if err != nil {
		return nil, decodeFailure(err)
	}
	txs := make([]*transaction.Transaction, 0, len(recs))
	for _, rec := range recs {
		tx, err := e.build(rec, s)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// Close tears down the socket, if any.
func (e *Explorer[R]) Close() error {
	e.socketMu.Lock()
	sc := e.socket
	e.socket = nil
	e.socketMu.Unlock()
	if sc == nil {
		return nil
	}
	return sc.close()
}

func (e *Explorer[R]) readLoop(sc *socketClient) {
	defer close(sc.out)
	for {
		_, msg, err := sc.conn.ReadMessage()
		if err != nil {
			select {
			case <-sc.done:
			default:
				e.logger.Warn("socket read failed", "error", err)
			}
			return
		}

		txs, err := e.GetSocketTransaction(msg, sc.trackedAddress())
		if err != nil {
			e.metrics.RecordSocketMessage(e.ID(), "error")
			e.logger.Warn("dropping malformed socket message", "error", err)
			continue
		}
		if len(txs) == 0 {
			e.metrics.RecordSocketMessage(e.ID(), "ignored")
			continue
		}
		e.metrics.RecordSocketMessage(e.ID(), "ok")

		for _, tx := range txs {
			select {
			case sc.out <- tx:
			case <-sc.done:
				return
			}
		}
	}
}
