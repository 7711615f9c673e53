// risk/breakeven.go
package risk

import (
	"fmt"

	"ironbeam_auto_go/position"
)

// MaxBreakevenLevels caps the number of configured breakeven moves.
const MaxBreakevenLevels = 3

// AutoBreakevenConfig describes the breakeven ladder for one position.
//
// Example for a LONG at 5000 with trigger_levels [20, 40, 60] and
// sl_offsets [10, 30, 50]:
//
//	price @ 5020 -> SL to 5010
//	price @ 5040 -> SL to 5030
//	price @ 5060 -> SL to 5050
type AutoBreakevenConfig struct {
	// TriggerMode is "ticks" (raw price distance) or "percentage"
	// (profit as a percentage of the entry price).
	TriggerMode position.TriggerMode `yaml:"trigger_mode"`

	// TriggerLevels holds the profit thresholds at which the stop is
	// moved, strictly ascending, at most three.
	TriggerLevels []float64 `yaml:"trigger_levels"`

	// SLOffsets holds the stop placements relative to entry, one per
	// trigger level, strictly ascending.
	SLOffsets []float64 `yaml:"sl_offsets"`

	Enabled bool `yaml:"enabled"`
}

// Validate rejects malformed ladders before any position is accepted for
// management.
func (c *AutoBreakevenConfig) Validate() error {
	if c.TriggerMode != position.Ticks && c.TriggerMode != position.Percentage {
		return fmt.Errorf("auto_breakeven: trigger_mode must be 'ticks' or 'percentage', got %q", c.TriggerMode)
	}
	if len(c.TriggerLevels) == 0 {
		return fmt.Errorf("auto_breakeven: at least one trigger level is required")
	}
	if len(c.TriggerLevels) > MaxBreakevenLevels {
		return fmt.Errorf("auto_breakeven: at most %d trigger levels allowed, got %d", MaxBreakevenLevels, len(c.TriggerLevels))
	}
	if len(c.TriggerLevels) != len(c.SLOffsets) {
		return fmt.Errorf("auto_breakeven: trigger_levels (%d) and sl_offsets (%d) must have the same length",
			len(c.TriggerLevels), len(c.SLOffsets))
	}
	for i, lvl := range c.TriggerLevels {
		if lvl <= 0 {
			return fmt.Errorf("auto_breakeven: trigger level %d must be positive, got %.4f", i, lvl)
		}
		if i > 0 && lvl <= c.TriggerLevels[i-1] {
			return fmt.Errorf("auto_breakeven: trigger levels must be strictly ascending (level %d: %.4f <= %.4f)",
				i, lvl, c.TriggerLevels[i-1])
		}
	}
	for i, off := range c.SLOffsets {
		if i > 0 && off <= c.SLOffsets[i-1] {
			return fmt.Errorf("auto_breakeven: sl_offsets must be strictly ascending (offset %d: %.4f <= %.4f)",
				i, off, c.SLOffsets[i-1])
		}
	}
	return nil
}

// BreakevenEngine decides stop loss moves for one breakeven configuration.
// The engine itself is stateless; all per-position bookkeeping lives in
// position.State, so one engine instance can serve many positions with
// the same config.
type BreakevenEngine struct {
	cfg AutoBreakevenConfig
}

// NewBreakevenEngine validates cfg and builds an engine for it.
func NewBreakevenEngine(cfg AutoBreakevenConfig) (*BreakevenEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BreakevenEngine{cfg: cfg}, nil
}

// Evaluate feeds one price observation through the breakeven ladder.
//
// Only the lowest unfired level is considered per call: a price jump that
// overshoots several levels still fires them one per tick, on successive
// calls. A returned move does not touch the state; the caller applies it
// once the broker has accepted the amendment, and until then the same
// move is proposed again on every evaluation. A level whose computed stop
// would not improve on the current one has no amendment to wait for, so
// it is burned right away and the ladder keeps advancing.
func (e *BreakevenEngine) Evaluate(st *position.State, price float64) *StopLossMove {
	if !e.cfg.Enabled {
		return nil
	}

	next := len(st.FiredBreakevenLevels)
	if next >= len(e.cfg.TriggerLevels) {
		return nil // ladder exhausted
	}

	profit := st.FavorableExcursion(price)
	if e.cfg.TriggerMode == position.Percentage {
		profit = profit / st.EntryPrice * 100
	}
	if profit < e.cfg.TriggerLevels[next] {
		return nil
	}

	newSL := st.EntryPrice + st.Side.Sign()*e.cfg.SLOffsets[next]
	if !st.ImprovesStopLoss(newSL) {
		st.FiredBreakevenLevels = append(st.FiredBreakevenLevels, next)
		return nil
	}

	return &StopLossMove{
		AccountID:   st.AccountID,
		OrderID:     st.OrderID,
		Quantity:    st.Quantity,
		NewStopLoss: newSL,
		Level:       next,
	}
}
