package substrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mrz1836/herald/internal/chain"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

const (
	writeWait       = 10 * time.Second
	subscriptionBuf = 16
)

// ErrConnectionClosed indicates the websocket closed while a call or subscription was active.
var ErrConnectionClosed = errors.New("rpc connection closed")

// connectionLost reports a dropped websocket. The next call redials.
func connectionLost() error {
	return heralderr.WithCause(heralderr.ErrChainDisconnected, ErrConnectionClosed)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcMessage covers both responses and subscription notifications.
type rpcMessage struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params *struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcConn multiplexes JSON-RPC calls and subscriptions over one websocket.
type rpcConn struct {
	ws     *websocket.Conn
	nextID atomic.Uint64

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan rpcMessage
	subs    map[string]chan json.RawMessage
	early   map[string][]json.RawMessage // notifications that arrived before their subscription was registered
	opening int                          // subscribe calls awaiting their subscription id
	closed  bool
	done    chan struct{}
}

func dialRPC(ctx context.Context, url string) (*rpcConn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	c := &rpcConn{
		ws:      ws,
		pending: make(map[uint64]chan rpcMessage),
		subs:    make(map[string]chan json.RawMessage),
		early:   make(map[string][]json.RawMessage),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// call performs a request and decodes its result into out (which may be nil).
func (c *rpcConn) call(ctx context.Context, method string, out any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	id := c.nextID.Add(1)
	reply := make(chan rpcMessage, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return connectionLost()
	}
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return err
	}

	select {
	case msg := <-reply:
		if msg.Error != nil {
			return fmt.Errorf("%s: %w", method, msg.Error)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(msg.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
		return nil
	case <-c.done:
		return connectionLost()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// subscription is a live JSON-RPC subscription.
type subscription struct {
	conn        *rpcConn
	id          string
	unsubscribe string
	C           <-chan json.RawMessage
}

// subscribe starts a subscription and returns its notification stream.
// The stream is closed when the connection closes or Close is called.
func (c *rpcConn) subscribe(ctx context.Context, method, unsubscribe string, params ...any) (*subscription, error) {
	c.mu.Lock()
	c.opening++
	c.mu.Unlock()

	var subID string
	err := c.call(ctx, method, &subID, params...)

	ch := make(chan json.RawMessage, subscriptionBuf)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.opening--
	registered := err == nil && !c.closed
	if registered {
		for _, early := range c.early[subID] {
			push(ch, early)
		}
		delete(c.early, subID)
		c.subs[subID] = ch
	}
	if c.opening == 0 {
		clear(c.early)
	}

	switch {
	case err != nil:
		return nil, err
	case !registered:
		return nil, connectionLost()
	}
	return &subscription{conn: c, id: subID, unsubscribe: unsubscribe, C: ch}, nil
}

// Close detaches the subscription and asks the node to drop it.
func (s *subscription) Close() {
	s.conn.mu.Lock()
	ch, ok := s.conn.subs[s.id]
	if ok {
		delete(s.conn.subs, s.id)
		close(ch)
	}
	s.conn.mu.Unlock()

	if ok && s.unsubscribe != "" {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		_ = s.conn.call(ctx, s.unsubscribe, nil, s.id)
	}
}

func (c *rpcConn) write(req rpcRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(req); err != nil {
		return chain.WrapRetryable(fmt.Errorf("writing %s: %w", req.Method, err))
	}
	return nil
}

func (c *rpcConn) readLoop() {
	defer c.shutdown()

	for {
		var msg rpcMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}

		switch {
		case msg.ID != nil:
			c.mu.Lock()
			reply, ok := c.pending[*msg.ID]
			c.mu.Unlock()
			if ok {
				reply <- msg
			}
		case msg.Params != nil:
			c.dispatch(msg.Params.Subscription, msg.Params.Result)
		}
	}
}

func (c *rpcConn) dispatch(subID string, result json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.subs[subID]
	if !ok {
		if c.opening > 0 {
			c.early[subID] = append(c.early[subID], result)
		}
		return
	}
	push(ch, result)
}

// push delivers without blocking; a full buffer drops its oldest entry.
func push(ch chan json.RawMessage, msg json.RawMessage) {
	for {
		select {
		case ch <- msg:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (c *rpcConn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
}

func (c *rpcConn) close() {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	_ = c.ws.Close()
	c.shutdown()
}
