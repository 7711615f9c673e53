// executor/async.go
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ironbeam_auto_go/broker"
	"ironbeam_auto_go/logs"
	"ironbeam_auto_go/position"
	"ironbeam_auto_go/profit"
	"ironbeam_auto_go/risk"
	"ironbeam_auto_go/stream"
)

// AsyncExecutor drives the management engines from pushed stream quotes
// instead of polling. Quotes are handled one at a time on the stream's
// read loop, so evaluations for a symbol are strictly sequential and the
// engines need no locking.
//
// A fatal stream failure (reconnect budget exhausted) stops the executor
// cleanly; the owner observes it via Done and Err.
type AsyncExecutor struct {
	client      broker.Client
	accountID   string
	streamCfg   stream.Config
	callTimeout time.Duration

	mu       sync.Mutex
	reg      *registry
	conn     *stream.Connection
	running  bool
	fatalErr error
	stopCh   chan struct{}
	done     chan struct{}
}

// NewAsyncExecutor creates a stream-driven executor for one account.
// streamCfg.URL is ignored; the executor provisions stream sessions
// through the broker client. callTimeout falls back to 5s.
func NewAsyncExecutor(client broker.Client, accountID string, streamCfg stream.Config, callTimeout time.Duration) *AsyncExecutor {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &AsyncExecutor{
		client:      client,
		accountID:   accountID,
		streamCfg:   streamCfg,
		callTimeout: callTimeout,
		reg:         newRegistry(),
	}
}

// Manage registers a filled position for management, validating configs
// first. While running, the position's symbol is subscribed immediately.
func (x *AsyncExecutor) Manage(st *position.State, beCfg *risk.AutoBreakevenConfig, tpCfg *profit.RunningTPConfig) error {
	e, err := newEntry(st, beCfg, tpCfg)
	if err != nil {
		return err
	}

	x.mu.Lock()
	if err := x.reg.add(e); err != nil {
		x.mu.Unlock()
		return err
	}
	conn := x.conn
	running := x.running
	x.mu.Unlock()

	logs.Infof("[AsyncExecutor] Managing order %s (%s %s @ %.4f)",
		st.OrderID, st.Side, st.Symbol, st.EntryPrice)

	if running && conn != nil {
		if err := conn.Subscribe(stream.KindQuote, []string{st.Symbol}); err != nil {
			return fmt.Errorf("subscribe quotes for %s: %w", st.Symbol, err)
		}
	}
	return nil
}

// Release stops managing a position. The symbol is unsubscribed once no
// other managed position needs it.
func (x *AsyncExecutor) Release(orderID string) {
	x.mu.Lock()
	e, ok := x.reg.entries[orderID]
	if !ok {
		x.mu.Unlock()
		return
	}
	x.reg.remove(orderID)
	stillNeeded := len(x.reg.bySymbol(e.st.Symbol)) > 0
	conn := x.conn
	x.mu.Unlock()

	logs.Infof("[AsyncExecutor] Released order %s", orderID)
	if conn != nil && !stillNeeded {
		if err := conn.Unsubscribe(stream.KindQuote, []string{e.st.Symbol}); err != nil {
			logs.Warnf("[AsyncExecutor] Unsubscribe %s failed: %v", e.st.Symbol, err)
		}
	}
}

// Start establishes the stream session, registers the quote handler and
// subscribes every managed symbol. It returns once the connection is up;
// message handling runs on the stream's read loop.
func (x *AsyncExecutor) Start(ctx context.Context) error {
	x.mu.Lock()
	if x.running {
		x.mu.Unlock()
		return fmt.Errorf("executor: already running")
	}

	cfg := x.streamCfg
	cfg.URL = func(ctx context.Context) (string, error) {
		return x.client.StreamURL(ctx)
	}
	conn := stream.NewConnection(cfg)
	conn.OnQuote(x.handleQuote)

	x.conn = conn
	x.running = true
	x.stopCh = make(chan struct{})
	x.done = make(chan struct{})
	symbols := x.reg.symbols()
	x.mu.Unlock()

	if err := conn.Connect(ctx); err != nil {
		x.mu.Lock()
		x.running = false
		x.conn = nil
		x.mu.Unlock()
		return fmt.Errorf("start stream: %w", err)
	}

	if len(symbols) > 0 {
		if err := conn.Subscribe(stream.KindQuote, symbols); err != nil {
			conn.Close()
			x.mu.Lock()
			x.running = false
			x.conn = nil
			x.mu.Unlock()
			return fmt.Errorf("subscribe quotes: %w", err)
		}
	}

	go x.watch(conn)
	logs.Infof("[AsyncExecutor] Started (%d symbols subscribed)", len(symbols))
	return nil
}

// Stop closes the stream connection and waits for its graceful shutdown.
// No amendment is submitted after Stop returns. Idempotent and safe to
// call at any time.
func (x *AsyncExecutor) Stop() {
	conn, ok := x.beginStop()
	if !ok {
		// Someone else (Stop or a fatal failure) is already shutting
		// down; wait for it to finish.
		x.mu.Lock()
		done := x.done
		x.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}

	conn.Close()
	close(x.done)
	logs.Infof("[AsyncExecutor] Stopped")
}

// Done is closed when the executor has stopped, whether by Stop or by a
// fatal stream failure. Valid after a successful Start.
func (x *AsyncExecutor) Done() <-chan struct{} {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.done
}

// Err returns the fatal stream error that stopped the executor, if any.
func (x *AsyncExecutor) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.fatalErr
}

// beginStop flips the running flag exactly once and hands the connection
// to the winning caller.
func (x *AsyncExecutor) beginStop() (*stream.Connection, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.running {
		return nil, false
	}
	x.running = false
	close(x.stopCh)
	return x.conn, true
}

// watch waits for a fatal stream failure and shuts the executor down.
func (x *AsyncExecutor) watch(conn *stream.Connection) {
	select {
	case <-x.stopCh:
		return
	case err := <-conn.Fatal():
		x.mu.Lock()
		x.fatalErr = err
		x.mu.Unlock()
		logs.Errorf("[AsyncExecutor] Stream failed, stopping: %v", err)

		if c, ok := x.beginStop(); ok {
			c.Close()
			close(x.done)
		}
	}
}

// handleQuote is the stream quote callback. It runs on the read loop, so
// at most one invocation is in flight per executor.
func (x *AsyncExecutor) handleQuote(q broker.Quote) {
	price, ok := q.Price()
	if !ok {
		return
	}

	x.mu.Lock()
	if !x.running {
		x.mu.Unlock()
		return
	}
	entries := x.reg.bySymbol(q.Symbol)
	x.mu.Unlock()

	for _, e := range entries {
		ctx, cancel := context.WithTimeout(context.Background(), x.callTimeout)
		evaluateEntry(ctx, x.client, e, price)
		cancel()
	}
}
