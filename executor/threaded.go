// executor/threaded.go
package executor

import (
	"context"
	"sync"
	"time"

	"ironbeam_auto_go/broker"
	"ironbeam_auto_go/logs"
	"ironbeam_auto_go/metrics"
	"ironbeam_auto_go/position"
	"ironbeam_auto_go/profit"
	"ironbeam_auto_go/risk"
)

const (
	defaultPollInterval = time.Second
	defaultCallTimeout  = 5 * time.Second
)

// ThreadedExecutor drives the management engines by polling quotes and
// positions over REST on a fixed interval. The poll loop runs on its own
// goroutine; Start and Stop are idempotent and callable from any thread.
//
// A tick whose work outlasts the interval causes the next tick to be
// skipped, never queued, so a slow broker cannot build a backlog.
type ThreadedExecutor struct {
	client      broker.Client
	accountID   string
	interval    time.Duration
	callTimeout time.Duration

	mu      sync.Mutex
	reg     *registry
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewThreadedExecutor creates a polling executor for one account.
// interval and callTimeout fall back to 1s and 5s when non-positive.
func NewThreadedExecutor(client broker.Client, accountID string, interval, callTimeout time.Duration) *ThreadedExecutor {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &ThreadedExecutor{
		client:      client,
		accountID:   accountID,
		interval:    interval,
		callTimeout: callTimeout,
		reg:         newRegistry(),
	}
}

// Manage registers a filled position for management. Configs are
// validated here, before the position is accepted; a nil config disables
// that engine.
func (x *ThreadedExecutor) Manage(st *position.State, beCfg *risk.AutoBreakevenConfig, tpCfg *profit.RunningTPConfig) error {
	e, err := newEntry(st, beCfg, tpCfg)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.reg.add(e); err != nil {
		return err
	}
	logs.Infof("[ThreadedExecutor] Managing order %s (%s %s @ %.4f)",
		st.OrderID, st.Side, st.Symbol, st.EntryPrice)
	return nil
}

// Release stops managing a position and drops its state.
func (x *ThreadedExecutor) Release(orderID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.reg.remove(orderID) {
		logs.Infof("[ThreadedExecutor] Released order %s", orderID)
	}
}

// Start launches the poll loop. Calling Start on a running executor is a
// no-op.
func (x *ThreadedExecutor) Start() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.running {
		logs.Warnf("[ThreadedExecutor] Already running")
		return
	}
	x.running = true
	x.stopCh = make(chan struct{})
	x.wg.Add(1)
	go x.runLoop(x.stopCh)
	logs.Infof("[ThreadedExecutor] Started (poll interval %s)", x.interval)
}

// Stop halts the poll loop and waits for the worker goroutine to exit.
// No amendment is submitted after Stop returns. Idempotent.
func (x *ThreadedExecutor) Stop() {
	x.mu.Lock()
	if !x.running {
		x.mu.Unlock()
		return
	}
	x.running = false
	close(x.stopCh)
	x.mu.Unlock()

	x.wg.Wait()
	logs.Infof("[ThreadedExecutor] Stopped")
}

func (x *ThreadedExecutor) runLoop(stopCh <-chan struct{}) {
	defer x.wg.Done()

	ticker := time.NewTicker(x.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			x.poll(stopCh)
			// Drop a tick that became due while polling: overruns skip,
			// they never queue.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// poll runs one evaluation pass over every managed position.
func (x *ThreadedExecutor) poll(stopCh <-chan struct{}) {
	x.mu.Lock()
	entries := x.reg.snapshot()
	symbols := x.reg.symbols()
	x.mu.Unlock()

	if len(entries) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), x.callTimeout)
	positions, err := x.client.GetPositions(ctx, x.accountID)
	cancel()
	if err != nil {
		logs.Errorf("[ThreadedExecutor] Position fetch failed, skipping tick: %v", err)
		return
	}

	open := make(map[string]bool)
	for _, p := range positions {
		if p.Quantity != 0 {
			open[p.Symbol] = true
		}
	}

	// Positions gone flat are no longer ours to manage.
	for _, e := range entries {
		if !open[e.st.Symbol] {
			logs.Infof("[ThreadedExecutor] Position on %s is flat, releasing order %s",
				e.st.Symbol, e.st.OrderID)
			x.Release(e.st.OrderID)
		}
	}

	ctx, cancel = context.WithTimeout(context.Background(), x.callTimeout)
	quotes, err := x.client.GetQuotes(ctx, symbols)
	cancel()
	if err != nil {
		logs.Errorf("[ThreadedExecutor] Quote fetch failed, skipping tick: %v", err)
		return
	}

	prices := make(map[string]float64, len(quotes))
	for _, q := range quotes {
		if p, ok := q.Price(); ok {
			prices[q.Symbol] = p
		}
	}

	for _, e := range entries {
		select {
		case <-stopCh:
			return
		default:
		}
		if !open[e.st.Symbol] {
			continue
		}
		price, ok := prices[e.st.Symbol]
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), x.callTimeout)
		evaluateEntry(ctx, x.client, e, price)
		cancel()
	}

	metrics.PollTicksTotal.Inc()
}
