// executor/executor.go
// Shared registry and evaluation path for both execution models.
package executor

import (
	"context"
	"errors"
	"fmt"

	"ironbeam_auto_go/broker"
	"ironbeam_auto_go/logs"
	"ironbeam_auto_go/metrics"
	"ironbeam_auto_go/position"
	"ironbeam_auto_go/profit"
	"ironbeam_auto_go/risk"
	"ironbeam_auto_go/utils"
)

// entry binds one managed position to its engines. At least one engine is
// always present.
type entry struct {
	st *position.State
	be *risk.BreakevenEngine
	tp *profit.TakeProfitEngine
}

// newEntry validates the configs and builds the engines. A nil config
// disables that engine; both nil is a registration error.
func newEntry(st *position.State, beCfg *risk.AutoBreakevenConfig, tpCfg *profit.RunningTPConfig) (*entry, error) {
	if st == nil {
		return nil, fmt.Errorf("executor: nil position state")
	}
	if beCfg == nil && tpCfg == nil {
		return nil, fmt.Errorf("executor: position %s registered without any management config", st.OrderID)
	}

	e := &entry{st: st}
	if beCfg != nil {
		be, err := risk.NewBreakevenEngine(*beCfg)
		if err != nil {
			return nil, fmt.Errorf("executor: position %s: %w", st.OrderID, err)
		}
		e.be = be
	}
	if tpCfg != nil {
		tp, err := profit.NewTakeProfitEngine(*tpCfg)
		if err != nil {
			return nil, fmt.Errorf("executor: position %s: %w", st.OrderID, err)
		}
		e.tp = tp
	}
	return e, nil
}

// registry holds managed positions keyed by order id, preserving
// registration order for deterministic evaluation.
type registry struct {
	entries map[string]*entry
	order   []string
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*entry)}
}

func (r *registry) add(e *entry) error {
	id := e.st.OrderID
	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("executor: order %s is already managed", id)
	}
	r.entries[id] = e
	r.order = append(r.order, id)
	metrics.ManagedPositions.Set(float64(len(r.entries)))
	return nil
}

func (r *registry) remove(orderID string) bool {
	if _, ok := r.entries[orderID]; !ok {
		return false
	}
	delete(r.entries, orderID)
	for i, id := range r.order {
		if id == orderID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	metrics.ManagedPositions.Set(float64(len(r.entries)))
	return true
}

// snapshot returns all entries in registration order.
func (r *registry) snapshot() []*entry {
	out := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

// bySymbol returns the managed entries for one symbol, in registration order.
func (r *registry) bySymbol(symbol string) []*entry {
	var out []*entry
	for _, id := range r.order {
		if e := r.entries[id]; e.st.Symbol == symbol {
			out = append(out, e)
		}
	}
	return out
}

// symbols returns the distinct managed symbols, in first-seen order.
func (r *registry) symbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, id := range r.order {
		sym := r.entries[id].st.Symbol
		if _, ok := seen[sym]; !ok {
			seen[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	return out
}

// evaluateEntry runs both engines for one position against one price and
// submits any resulting amendment. Failures (including panics from
// evaluation) are logged and contained so the caller can move on to the
// next position.
func evaluateEntry(ctx context.Context, client broker.Client, e *entry, price float64) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("[Executor] Evaluation of order %s panicked: %v", e.st.OrderID, r)
		}
	}()

	if e.be != nil {
		if move := e.be.Evaluate(e.st, price); move != nil {
			submitStopLoss(ctx, client, e.st, move)
		}
	}
	if e.tp != nil {
		if move := e.tp.Evaluate(e.st, price); move != nil {
			submitTakeProfit(ctx, client, e.st, move)
		}
	}
}

// submitStopLoss sends the move to the broker and applies it to the
// position state only once the broker accepts it. A transient failure
// leaves the state untouched, so the engine proposes the move again on
// the next evaluation; a venue rejection is recorded as applied so the
// same refused price is never resubmitted.
func submitStopLoss(ctx context.Context, client broker.Client, st *position.State, move *risk.StopLossMove) {
	p := utils.AdjustPriceToTickSize(move.NewStopLoss, st.TickSize)
	if st.CurrentStopLoss != nil && utils.FloatEquals(p, utils.AdjustPriceToTickSize(*st.CurrentStopLoss, st.TickSize)) {
		// Rounds onto the leg already working at the venue.
		move.Apply(st)
		logs.Debugf("[Executor] Stop loss move for order %s rounds to the working leg %.4f, not submitted",
			move.OrderID, p)
		return
	}
	if err := client.UpdateStopLoss(ctx, move.AccountID, move.OrderID, move.Quantity, p); err != nil {
		metrics.AmendmentsTotal.WithLabelValues("stop_loss", amendResult(err)).Inc()
		if errors.Is(err, broker.ErrInvalidRequest) {
			move.Apply(st)
			logs.Errorf("[Executor] Stop loss amendment for order %s rejected: %v", move.OrderID, err)
			return
		}
		logs.Errorf("[Executor] Stop loss amendment for order %s failed, retrying on the next evaluation: %v",
			move.OrderID, err)
		return
	}
	move.Apply(st)
	metrics.AmendmentsTotal.WithLabelValues("stop_loss", "ok").Inc()
	logs.Infof("[Executor] %s", move.Description())
}

func submitTakeProfit(ctx context.Context, client broker.Client, st *position.State, move *profit.TakeProfitMove) {
	p := utils.AdjustPriceToTickSize(move.NewTakeProfit, st.TickSize)
	if st.CurrentTakeProfit != nil && utils.FloatEquals(p, utils.AdjustPriceToTickSize(*st.CurrentTakeProfit, st.TickSize)) {
		move.Apply(st)
		logs.Debugf("[Executor] Take profit move for order %s rounds to the working leg %.4f, not submitted",
			move.OrderID, p)
		return
	}
	if err := client.UpdateTakeProfit(ctx, move.AccountID, move.OrderID, move.Quantity, p); err != nil {
		metrics.AmendmentsTotal.WithLabelValues("take_profit", amendResult(err)).Inc()
		if errors.Is(err, broker.ErrInvalidRequest) {
			move.Apply(st)
			logs.Errorf("[Executor] Take profit amendment for order %s rejected: %v", move.OrderID, err)
			return
		}
		logs.Errorf("[Executor] Take profit amendment for order %s failed, retrying on the next evaluation: %v",
			move.OrderID, err)
		return
	}
	move.Apply(st)
	metrics.AmendmentsTotal.WithLabelValues("take_profit", "ok").Inc()
	logs.Infof("[Executor] %s", move.Description())
}

func amendResult(err error) string {
	if errors.Is(err, broker.ErrInvalidRequest) {
		return "rejected"
	}
	return "error"
}
