// stream/connection.go
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"ironbeam_auto_go/logs"
	"ironbeam_auto_go/metrics"
)

var (
	// ErrClosed is returned for operations on a deliberately closed connection.
	ErrClosed = errors.New("stream: connection closed")
	// ErrMaxReconnects is reported when the reconnect budget is exhausted.
	// It is fatal: the owning executor must stop rather than keep amending
	// with stale data.
	ErrMaxReconnects = errors.New("stream: max reconnect attempts exhausted")
)

// Config tunes one Connection.
type Config struct {
	// URL provisions the websocket URL to dial. It is called again on
	// every reconnect attempt, since each stream session is single-use.
	URL func(ctx context.Context) (string, error)

	HandshakeTimeout time.Duration // default 15s
	WriteTimeout     time.Duration // default 10s

	// KeepAliveTimeout is the maximum silence tolerated from the server.
	// The server is expected to ping within this window; silence beyond it
	// counts as a transport error and triggers reconnection. Default 45s.
	KeepAliveTimeout time.Duration

	InitialBackoff       time.Duration // default 1s
	MaxBackoff           time.Duration // default 30s
	MaxReconnectAttempts int           // default 10
}

func (c *Config) withDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = 45 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
}

// Connection manages one streaming session: connect, subscribe, dispatch
// and automatic reconnection with subscription restoration. Handlers are
// invoked from the single read loop, so within one category they run in
// registration order and never concurrently.
type Connection struct {
	cfg Config

	mu     sync.Mutex
	conn   *websocket.Conn
	state  ConnState
	subs   map[Kind][]string
	reqID  int64
	closed bool

	handlerMu       sync.RWMutex
	quoteHandlers   []QuoteHandler
	depthHandlers   []DepthHandler
	tradeHandlers   []TradeHandler
	controlHandlers []ControlHandler

	done    chan struct{}
	fatalCh chan error
	wg      sync.WaitGroup
}

// NewConnection creates an unconnected stream connection.
func NewConnection(cfg Config) *Connection {
	cfg.withDefaults()
	return &Connection{
		cfg:     cfg,
		state:   StateDisconnected,
		subs:    make(map[Kind][]string),
		done:    make(chan struct{}),
		fatalCh: make(chan error, 1),
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Fatal delivers at most one fatal connection error (reconnect budget
// exhausted). The owning executor selects on it.
func (c *Connection) Fatal() <-chan error {
	return c.fatalCh
}

// OnQuote registers a handler for quote updates.
func (c *Connection) OnQuote(h QuoteHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.quoteHandlers = append(c.quoteHandlers, h)
}

// OnDepth registers a handler for depth updates.
func (c *Connection) OnDepth(h DepthHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.depthHandlers = append(c.depthHandlers, h)
}

// OnTrade registers a handler for trade prints.
func (c *Connection) OnTrade(h TradeHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.tradeHandlers = append(c.tradeHandlers, h)
}

// OnControl registers a handler for control messages.
func (c *Connection) OnControl(h ControlHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.controlHandlers = append(c.controlHandlers, h)
}

// Connect establishes the session, retrying with backoff like any other
// (re)connection episode, and starts the read loop. It returns once the
// session is up or the attempt budget is spent.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("stream: connect in state %s", c.state)
	}
	c.mu.Unlock()

	if err := c.establish(ctx); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.readLoop()
	return nil
}

// Subscribe records the subscription and, if connected, issues it on the
// wire. Recorded subscriptions survive reconnects: the full set is
// re-issued after every successful handshake.
func (c *Connection) Subscribe(kind Kind, symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	existing := make(map[string]struct{}, len(c.subs[kind]))
	for _, s := range c.subs[kind] {
		existing[s] = struct{}{}
	}
	var added []string
	for _, s := range symbols {
		if _, ok := existing[s]; !ok {
			c.subs[kind] = append(c.subs[kind], s)
			added = append(added, s)
		}
	}

	if c.conn == nil || len(added) == 0 {
		return nil
	}
	return c.sendRequest("subscribe", kind, added)
}

// Unsubscribe removes symbols from the tracked set and, if connected,
// issues the unsubscribe on the wire.
func (c *Connection) Unsubscribe(kind Kind, symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	drop := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		drop[s] = struct{}{}
	}
	kept := c.subs[kind][:0]
	for _, s := range c.subs[kind] {
		if _, ok := drop[s]; !ok {
			kept = append(kept, s)
		}
	}
	c.subs[kind] = kept

	if c.conn == nil {
		return nil
	}
	return c.sendRequest("unsubscribe", kind, symbols)
}

// Close shuts the connection down deliberately and waits for the read
// loop to exit. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.state = transition(c.state, evClose)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteTimeout))
		_ = conn.Close()
	}

	c.wg.Wait()
	return nil
}

// --------------------------------------------------------------------------
// internals
// --------------------------------------------------------------------------

// sendRequest writes a subscribe/unsubscribe frame. Caller must hold c.mu.
func (c *Connection) sendRequest(request string, kind Kind, symbols []string) error {
	c.reqID++
	frame := clientRequest{
		ID:      c.reqID,
		Request: request,
		Kind:    kind,
		Symbols: symbols,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", request, err)
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s request: %w", request, err)
	}
	return nil
}

// establish runs one connection episode: dial, handshake, restore
// subscriptions, with capped exponential backoff between attempts. On
// exhausting the budget the state machine lands in DISCONNECTED and
// ErrMaxReconnects is returned.
func (c *Connection) establish(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		c.setState(evDial)

		lastErr = c.dialOnce(ctx)
		if lastErr == nil {
			c.setState(evHandshakeOK)
			return nil
		}
		if errors.Is(lastErr, ErrClosed) {
			return ErrClosed
		}

		c.setState(evTransportError)
		wait := bo.NextBackOff()
		logs.Warnf("[Stream] Connect attempt %d/%d failed: %v (next try in %s)",
			attempt, c.cfg.MaxReconnectAttempts, lastErr, wait)

		select {
		case <-c.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	c.setState(evGiveUp)
	return fmt.Errorf("%w (%d attempts, last error: %v)",
		ErrMaxReconnects, c.cfg.MaxReconnectAttempts, lastErr)
}

// dialOnce performs a single dial + handshake + subscription restore.
func (c *Connection) dialOnce(ctx context.Context) error {
	url, err := c.cfg.URL(ctx)
	if err != nil {
		return fmt.Errorf("resolve stream url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.KeepAliveTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.KeepAliveTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData),
			time.Now().Add(c.cfg.WriteTimeout))
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close()
		return ErrClosed
	}
	c.conn = conn

	// Restore every tracked subscription on the fresh session.
	for kind, symbols := range c.subs {
		if len(symbols) == 0 {
			continue
		}
		if err := c.sendRequest("subscribe", kind, symbols); err != nil {
			conn.Close()
			c.conn = nil
			return fmt.Errorf("restore %s subscriptions: %w", kind, err)
		}
	}
	return nil
}

// readLoop reads frames for the lifetime of the connection, reconnecting
// in place on transport errors.
func (c *Connection) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}

			c.setState(evTransportError)
			logs.Warnf("[Stream] Transport error, reconnecting: %v", err)
			conn.Close()

			// Drop the dead socket so Subscribe/Unsubscribe during the
			// backoff window record only; the restore on the fresh session
			// issues them.
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()

			if rerr := c.establish(context.Background()); rerr != nil {
				if !errors.Is(rerr, ErrClosed) {
					c.fail(rerr)
				}
				return
			}
			metrics.ReconnectsTotal.Inc()
			logs.Infof("[Stream] Reconnected, %d subscription kinds restored", c.subCount())
			continue
		}

		conn.SetReadDeadline(time.Now().Add(c.cfg.KeepAliveTimeout))
		c.dispatch(raw)
	}
}

func (c *Connection) subCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, symbols := range c.subs {
		if len(symbols) > 0 {
			n++
		}
	}
	return n
}

// dispatch classifies one frame by payload shape and fans it out to the
// registered handlers in insertion order. A panicking handler is isolated
// and does not stop delivery to the remaining handlers.
func (c *Connection) dispatch(raw []byte) {
	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logs.Debugf("[Stream] Dropping unparseable frame: %v", err)
		return
	}

	c.handlerMu.RLock()
	quoteHandlers := c.quoteHandlers
	depthHandlers := c.depthHandlers
	tradeHandlers := c.tradeHandlers
	controlHandlers := c.controlHandlers
	c.handlerMu.RUnlock()

	switch {
	case len(msg.Quotes) > 0:
		metrics.StreamMessagesTotal.WithLabelValues("quote").Inc()
		for _, q := range msg.Quotes {
			for _, h := range quoteHandlers {
				q, h := q, h
				invoke("quote", func() { h(q) })
			}
		}
	case len(msg.Depths) > 0:
		metrics.StreamMessagesTotal.WithLabelValues("depth").Inc()
		for _, d := range msg.Depths {
			for _, h := range depthHandlers {
				d, h := d, h
				invoke("depth", func() { h(d) })
			}
		}
	case len(msg.Trades) > 0:
		metrics.StreamMessagesTotal.WithLabelValues("trade").Inc()
		for _, t := range msg.Trades {
			for _, h := range tradeHandlers {
				t, h := t, h
				invoke("trade", func() { h(t) })
			}
		}
	case msg.Type != "":
		metrics.StreamMessagesTotal.WithLabelValues("control").Inc()
		if msg.Type == "ping" {
			c.answerPing()
		}
		ctrl := Control{Type: msg.Type}
		for _, h := range controlHandlers {
			h := h
			invoke("control", func() { h(ctrl) })
		}
	}
}

// answerPing replies to an application-level ping frame.
func (c *Connection) answerPing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
		logs.Debugf("[Stream] Failed to answer ping: %v", err)
	}
}

// invoke runs one handler with panic isolation.
func invoke(category string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("[Stream] %s handler panicked: %v", category, r)
		}
	}()
	fn()
}

func (c *Connection) setState(ev connEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := transition(c.state, ev)
	if next != c.state {
		logs.Debugf("[Stream] State %s -> %s", c.state, next)
		c.state = next
	}
}

// fail reports a fatal connection error to the owner, at most once.
func (c *Connection) fail(err error) {
	logs.Errorf("[Stream] Fatal: %v", err)
	select {
	case c.fatalCh <- err:
	default:
	}
}
