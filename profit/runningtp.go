// profit/runningtp.go
package profit

import (
	"fmt"
	"sort"

	"ironbeam_auto_go/position"
)

// RunningTPConfig describes how the take profit of a position is advanced
// as price moves favorably. The three mechanisms are independent and may
// all be active at once; each evaluation applies the single most
// favorable candidate among those that fire.
type RunningTPConfig struct {
	// Trailing extreme: TP follows the high-water mark at a fixed offset.
	EnableTrailing   bool    `yaml:"enable_trailing"`
	TrailOffsetTicks float64 `yaml:"trail_offset_ticks"`

	// Profit levels: crossing each trigger extends the current TP by a
	// fixed amount. Triggers are strictly ascending and fire once each.
	EnableProfitLevels  bool                 `yaml:"enable_profit_levels"`
	ProfitLevelTriggers []float64            `yaml:"profit_level_triggers"`
	ProfitTriggerMode   position.TriggerMode `yaml:"profit_trigger_mode"`
	ExtendByTicks       float64              `yaml:"extend_by_ticks"`

	// Support/resistance: TP jumps to the nearest configured level beyond
	// the current TP in the favorable direction.
	EnableSRLevels bool      `yaml:"enable_sr_levels"`
	SRLevels       []float64 `yaml:"sr_levels"`

	Enabled bool `yaml:"enabled"`
}

// Validate rejects malformed configurations at registration time.
func (c *RunningTPConfig) Validate() error {
	if !c.EnableTrailing && !c.EnableProfitLevels && !c.EnableSRLevels {
		return fmt.Errorf("running_tp: at least one mechanism must be enabled")
	}
	if c.EnableTrailing && c.TrailOffsetTicks <= 0 {
		return fmt.Errorf("running_tp: trail_offset_ticks must be positive when trailing is enabled")
	}
	if c.EnableProfitLevels {
		if c.ProfitTriggerMode != position.Ticks && c.ProfitTriggerMode != position.Percentage {
			return fmt.Errorf("running_tp: profit_trigger_mode must be 'ticks' or 'percentage', got %q", c.ProfitTriggerMode)
		}
		if len(c.ProfitLevelTriggers) == 0 {
			return fmt.Errorf("running_tp: profit_level_triggers must not be empty when profit levels are enabled")
		}
		for i, lvl := range c.ProfitLevelTriggers {
			if lvl <= 0 {
				return fmt.Errorf("running_tp: profit level trigger %d must be positive, got %.4f", i, lvl)
			}
			if i > 0 && lvl <= c.ProfitLevelTriggers[i-1] {
				return fmt.Errorf("running_tp: profit level triggers must be strictly ascending (trigger %d: %.4f <= %.4f)",
					i, lvl, c.ProfitLevelTriggers[i-1])
			}
		}
		if c.ExtendByTicks <= 0 {
			return fmt.Errorf("running_tp: extend_by_ticks must be positive when profit levels are enabled")
		}
	}
	if c.EnableSRLevels && len(c.SRLevels) == 0 {
		return fmt.Errorf("running_tp: sr_levels must not be empty when support/resistance is enabled")
	}
	return nil
}

// candidate is one proposed take profit with its originating strategy.
type candidate struct {
	price  float64
	source string
}

// TakeProfitEngine advances take profits for one running-TP configuration.
// Like the breakeven engine it holds no per-position state.
type TakeProfitEngine struct {
	cfg RunningTPConfig
}

// NewTakeProfitEngine validates cfg and builds an engine for it.
func NewTakeProfitEngine(cfg RunningTPConfig) (*TakeProfitEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	levels := append([]float64(nil), cfg.SRLevels...)
	sort.Float64s(levels)
	cfg.SRLevels = levels
	return &TakeProfitEngine{cfg: cfg}, nil
}

// Evaluate feeds one price observation through all enabled mechanisms and
// returns at most one move: the candidate furthest in the favorable
// direction among those that strictly improve the current take profit.
//
// The high-water mark reflects the observed price and is folded in
// unconditionally. Everything tied to the amendment itself (the TP leg,
// the trigger a profit-level move consumes) is recorded by Apply once the
// broker accepts the move; until then the same move is proposed again on
// every evaluation. A crossed trigger whose extension is not the move
// being submitted has no amendment to wait for and is burned right away.
func (e *TakeProfitEngine) Evaluate(st *position.State, price float64) *TakeProfitMove {
	if !e.cfg.Enabled {
		return nil
	}

	st.ObserveExtreme(price)

	var cands []candidate
	if e.cfg.EnableTrailing {
		if c, ok := e.trailingCandidate(st); ok {
			cands = append(cands, c)
		}
	}
	plLevel := -1
	if e.cfg.EnableProfitLevels {
		c, level, ok := e.profitLevelCandidate(st, price)
		plLevel = level
		if ok {
			cands = append(cands, c)
		}
	}
	if e.cfg.EnableSRLevels {
		if c, ok := e.srCandidate(st); ok {
			cands = append(cands, c)
		}
	}

	best, ok := pickBest(st.Side, st.CurrentTakeProfit, cands)

	if plLevel >= 0 && (!ok || best.source != SourceProfitLevel) {
		st.FiredProfitLevels = append(st.FiredProfitLevels, plLevel)
	}
	if !ok {
		return nil
	}

	move := &TakeProfitMove{
		AccountID:     st.AccountID,
		OrderID:       st.OrderID,
		Quantity:      st.Quantity,
		NewTakeProfit: best.price,
		Source:        best.source,
		level:         -1,
	}
	if best.source == SourceProfitLevel {
		move.level = plLevel
	}
	return move
}

// trailingCandidate proposes high-water mark plus the trail offset.
func (e *TakeProfitEngine) trailingCandidate(st *position.State) (candidate, bool) {
	if st.HighWaterMark == nil {
		return candidate{}, false
	}
	return candidate{
		price:  *st.HighWaterMark + st.Side.Sign()*e.cfg.TrailOffsetTicks,
		source: SourceTrailing,
	}, true
}

// profitLevelCandidate checks the lowest unfired profit trigger and, once
// its threshold is crossed, proposes extending the current TP. It returns
// the crossed trigger index (-1 if none) so the caller can decide when the
// trigger is burned; a crossed trigger with no current TP to extend yields
// no candidate.
func (e *TakeProfitEngine) profitLevelCandidate(st *position.State, price float64) (candidate, int, bool) {
	next := len(st.FiredProfitLevels)
	if next >= len(e.cfg.ProfitLevelTriggers) {
		return candidate{}, -1, false
	}

	profit := st.FavorableExcursion(price)
	if e.cfg.ProfitTriggerMode == position.Percentage {
		profit = profit / st.EntryPrice * 100
	}
	if profit < e.cfg.ProfitLevelTriggers[next] {
		return candidate{}, -1, false
	}

	if st.CurrentTakeProfit == nil {
		return candidate{}, next, false
	}
	return candidate{
		price:  *st.CurrentTakeProfit + st.Side.Sign()*e.cfg.ExtendByTicks,
		source: SourceProfitLevel,
	}, next, true
}

// srCandidate proposes the nearest configured level strictly beyond the
// current take profit in the favorable direction. Without a current TP the
// high-water mark anchors the search instead.
func (e *TakeProfitEngine) srCandidate(st *position.State) (candidate, bool) {
	anchor := st.CurrentTakeProfit
	if anchor == nil {
		anchor = st.HighWaterMark
	}
	if anchor == nil {
		return candidate{}, false
	}

	if st.Side == position.Long {
		for _, lvl := range e.cfg.SRLevels { // ascending
			if lvl > *anchor {
				return candidate{price: lvl, source: SourceSRLevel}, true
			}
		}
		return candidate{}, false
	}
	for i := len(e.cfg.SRLevels) - 1; i >= 0; i-- {
		if e.cfg.SRLevels[i] < *anchor {
			return candidate{price: e.cfg.SRLevels[i], source: SourceSRLevel}, true
		}
	}
	return candidate{}, false
}

// pickBest is the pure selection rule: among candidates that strictly
// improve on current (nil current accepts any), the one furthest in the
// favorable direction wins.
func pickBest(side position.Side, current *float64, cands []candidate) (candidate, bool) {
	var best candidate
	found := false
	for _, c := range cands {
		if current != nil && (c.price-*current)*side.Sign() <= 0 {
			continue
		}
		if !found || (c.price-best.price)*side.Sign() > 0 {
			best = c
			found = true
		}
	}
	return best, found
}
