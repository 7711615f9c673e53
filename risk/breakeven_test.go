package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironbeam_auto_go/position"
)

func ladderConfig() AutoBreakevenConfig {
	return AutoBreakevenConfig{
		TriggerMode:   position.Ticks,
		TriggerLevels: []float64{20, 40, 60},
		SLOffsets:     []float64{10, 30, 50},
		Enabled:       true,
	}
}

func longState() *position.State {
	return &position.State{
		OrderID:    "ORD1",
		AccountID:  "ACC1",
		Symbol:     "XCME:ES.H25",
		Side:       position.Long,
		EntryPrice: 5000,
		Quantity:   2,
	}
}

func TestBreakevenLadderLong(t *testing.T) {
	engine, err := NewBreakevenEngine(ladderConfig())
	require.NoError(t, err)
	st := longState()

	move := engine.Evaluate(st, 5020)
	require.NotNil(t, move)
	assert.Equal(t, 5010.0, move.NewStopLoss)
	assert.Equal(t, 0, move.Level)
	assert.Equal(t, "ACC1", move.AccountID)
	assert.Equal(t, "ORD1", move.OrderID)
	assert.Equal(t, 2, move.Quantity)
	move.Apply(st)
	require.NotNil(t, st.CurrentStopLoss)
	assert.Equal(t, 5010.0, *st.CurrentStopLoss)

	move = engine.Evaluate(st, 5040)
	require.NotNil(t, move)
	assert.Equal(t, 5030.0, move.NewStopLoss)
	assert.Equal(t, 1, move.Level)
	move.Apply(st)

	move = engine.Evaluate(st, 5060)
	require.NotNil(t, move)
	assert.Equal(t, 5050.0, move.NewStopLoss)
	assert.Equal(t, 2, move.Level)
	move.Apply(st)

	// Ladder exhausted, further ticks do nothing.
	assert.Nil(t, engine.Evaluate(st, 5070))
	assert.Equal(t, []int{0, 1, 2}, st.FiredBreakevenLevels)
}

func TestBreakevenLadderShortMirror(t *testing.T) {
	engine, err := NewBreakevenEngine(ladderConfig())
	require.NoError(t, err)
	st := longState()
	st.Side = position.Short

	move := engine.Evaluate(st, 4980)
	require.NotNil(t, move)
	assert.Equal(t, 4990.0, move.NewStopLoss)
	move.Apply(st)

	move = engine.Evaluate(st, 4940)
	require.NotNil(t, move)
	assert.Equal(t, 4970.0, move.NewStopLoss)
}

func TestBreakevenOvershootFiresOneLevelPerCall(t *testing.T) {
	engine, err := NewBreakevenEngine(ladderConfig())
	require.NoError(t, err)
	st := longState()

	// A single jump past all thresholds still walks the ladder one step
	// per applied evaluation.
	move := engine.Evaluate(st, 5070)
	require.NotNil(t, move)
	assert.Equal(t, 0, move.Level)
	move.Apply(st)

	move = engine.Evaluate(st, 5070)
	require.NotNil(t, move)
	assert.Equal(t, 1, move.Level)
	move.Apply(st)

	move = engine.Evaluate(st, 5070)
	require.NotNil(t, move)
	assert.Equal(t, 2, move.Level)
	move.Apply(st)

	assert.Nil(t, engine.Evaluate(st, 5070))
}

func TestBreakevenMoveProposedAgainUntilApplied(t *testing.T) {
	engine, err := NewBreakevenEngine(ladderConfig())
	require.NoError(t, err)
	st := longState()

	// An evaluation leaves no trace until its move is applied: a broker
	// failure just means the identical move comes back on the next tick.
	first := engine.Evaluate(st, 5020)
	require.NotNil(t, first)
	assert.Empty(t, st.FiredBreakevenLevels)
	assert.Nil(t, st.CurrentStopLoss)

	second := engine.Evaluate(st, 5020)
	require.NotNil(t, second)
	assert.Equal(t, first.Level, second.Level)
	assert.Equal(t, first.NewStopLoss, second.NewStopLoss)

	second.Apply(st)
	move := engine.Evaluate(st, 5040)
	require.NotNil(t, move)
	assert.Equal(t, 1, move.Level)
}

func TestBreakevenLevelBurnedWhenStopDoesNotImprove(t *testing.T) {
	engine, err := NewBreakevenEngine(ladderConfig())
	require.NoError(t, err)
	st := longState()
	st.SetStopLoss(5020) // already tighter than the level 0 placement

	assert.Nil(t, engine.Evaluate(st, 5020))
	assert.Equal(t, []int{0}, st.FiredBreakevenLevels, "level burns even without an amendment")
	assert.Equal(t, 5020.0, *st.CurrentStopLoss)

	// Level 1 places the stop at 5030, which does improve.
	move := engine.Evaluate(st, 5040)
	require.NotNil(t, move)
	assert.Equal(t, 5030.0, move.NewStopLoss)
}

func TestBreakevenNoTriggerBelowThreshold(t *testing.T) {
	engine, err := NewBreakevenEngine(ladderConfig())
	require.NoError(t, err)
	st := longState()

	assert.Nil(t, engine.Evaluate(st, 5019))
	assert.Nil(t, engine.Evaluate(st, 4980))
	assert.Empty(t, st.FiredBreakevenLevels)
}

func TestBreakevenPercentageMode(t *testing.T) {
	cfg := AutoBreakevenConfig{
		TriggerMode:   position.Percentage,
		TriggerLevels: []float64{2, 4},
		SLOffsets:     []float64{10, 30},
		Enabled:       true,
	}
	engine, err := NewBreakevenEngine(cfg)
	require.NoError(t, err)
	st := longState()

	assert.Nil(t, engine.Evaluate(st, 5099), "below the 2 percent trigger")

	move := engine.Evaluate(st, 5100) // exactly +2%
	require.NotNil(t, move)
	assert.Equal(t, 5010.0, move.NewStopLoss)
	move.Apply(st)

	move = engine.Evaluate(st, 5200) // +4%
	require.NotNil(t, move)
	assert.Equal(t, 5030.0, move.NewStopLoss)
}

func TestBreakevenDisabledEngineDoesNothing(t *testing.T) {
	cfg := ladderConfig()
	engine, err := NewBreakevenEngine(cfg)
	require.NoError(t, err)
	engine.cfg.Enabled = false

	st := longState()
	assert.Nil(t, engine.Evaluate(st, 5070))
	assert.Empty(t, st.FiredBreakevenLevels)
}

func TestAutoBreakevenConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*AutoBreakevenConfig)
	}{
		{"bad trigger mode", func(c *AutoBreakevenConfig) { c.TriggerMode = "points" }},
		{"no levels", func(c *AutoBreakevenConfig) { c.TriggerLevels = nil; c.SLOffsets = nil }},
		{"too many levels", func(c *AutoBreakevenConfig) {
			c.TriggerLevels = []float64{10, 20, 30, 40}
			c.SLOffsets = []float64{1, 2, 3, 4}
		}},
		{"length mismatch", func(c *AutoBreakevenConfig) { c.SLOffsets = []float64{10} }},
		{"non-positive trigger", func(c *AutoBreakevenConfig) { c.TriggerLevels[0] = 0 }},
		{"triggers not ascending", func(c *AutoBreakevenConfig) { c.TriggerLevels = []float64{40, 40, 60} }},
		{"offsets not ascending", func(c *AutoBreakevenConfig) { c.SLOffsets = []float64{30, 10, 50} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := ladderConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
			_, err := NewBreakevenEngine(cfg)
			assert.Error(t, err)
		})
	}

	valid := ladderConfig()
	assert.NoError(t, valid.Validate())
}
