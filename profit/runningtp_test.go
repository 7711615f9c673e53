package profit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ironbeam_auto_go/position"
)

func longState() *position.State {
	return &position.State{
		OrderID:    "ORD1",
		AccountID:  "ACC1",
		Symbol:     "XCME:ES.H25",
		Side:       position.Long,
		EntryPrice: 5000,
		Quantity:   1,
	}
}

func TestTrailingFollowsHighWaterMark(t *testing.T) {
	engine, err := NewTakeProfitEngine(RunningTPConfig{
		EnableTrailing:   true,
		TrailOffsetTicks: 50,
		Enabled:          true,
	})
	require.NoError(t, err)
	st := longState()

	move := engine.Evaluate(st, 5000)
	require.NotNil(t, move)
	assert.Equal(t, 5050.0, move.NewTakeProfit)
	assert.Equal(t, SourceTrailing, move.Source)
	move.Apply(st)

	move = engine.Evaluate(st, 5060)
	require.NotNil(t, move)
	assert.Equal(t, 5110.0, move.NewTakeProfit)
	move.Apply(st)

	// Price pulls back: the high-water mark holds and the TP stays put.
	assert.Nil(t, engine.Evaluate(st, 5040))
	require.NotNil(t, st.CurrentTakeProfit)
	assert.Equal(t, 5110.0, *st.CurrentTakeProfit)

	move = engine.Evaluate(st, 5080)
	require.NotNil(t, move)
	assert.Equal(t, 5130.0, move.NewTakeProfit)
}

func TestTrailingShortMirror(t *testing.T) {
	engine, err := NewTakeProfitEngine(RunningTPConfig{
		EnableTrailing:   true,
		TrailOffsetTicks: 50,
		Enabled:          true,
	})
	require.NoError(t, err)
	st := longState()
	st.Side = position.Short

	move := engine.Evaluate(st, 4940)
	require.NotNil(t, move)
	assert.Equal(t, 4890.0, move.NewTakeProfit)
	move.Apply(st)

	assert.Nil(t, engine.Evaluate(st, 4960), "adverse move must not loosen the TP")

	move = engine.Evaluate(st, 4920)
	require.NotNil(t, move)
	assert.Equal(t, 4870.0, move.NewTakeProfit)
}

func TestTrailingIdempotentOncePriceApplied(t *testing.T) {
	engine, err := NewTakeProfitEngine(RunningTPConfig{
		EnableTrailing:   true,
		TrailOffsetTicks: 50,
		Enabled:          true,
	})
	require.NoError(t, err)
	st := longState()

	move := engine.Evaluate(st, 5060)
	require.NotNil(t, move)
	move.Apply(st)
	assert.Nil(t, engine.Evaluate(st, 5060))
	assert.Nil(t, engine.Evaluate(st, 5060))
}

func TestTrailingMoveProposedAgainUntilApplied(t *testing.T) {
	engine, err := NewTakeProfitEngine(RunningTPConfig{
		EnableTrailing:   true,
		TrailOffsetTicks: 50,
		Enabled:          true,
	})
	require.NoError(t, err)
	st := longState()

	// Without an applied amendment the TP leg stays unset and the same
	// move comes back, so a broker failure is retried on the next tick.
	first := engine.Evaluate(st, 5060)
	require.NotNil(t, first)
	assert.Nil(t, st.CurrentTakeProfit)

	second := engine.Evaluate(st, 5060)
	require.NotNil(t, second)
	assert.Equal(t, first.NewTakeProfit, second.NewTakeProfit)
}

func TestProfitLevelsExtendCurrentTP(t *testing.T) {
	engine, err := NewTakeProfitEngine(RunningTPConfig{
		EnableProfitLevels:  true,
		ProfitLevelTriggers: []float64{30, 60},
		ProfitTriggerMode:   position.Ticks,
		ExtendByTicks:       20,
		Enabled:             true,
	})
	require.NoError(t, err)
	st := longState()
	st.SetTakeProfit(5100)

	move := engine.Evaluate(st, 5030)
	require.NotNil(t, move)
	assert.Equal(t, 5120.0, move.NewTakeProfit)
	assert.Equal(t, SourceProfitLevel, move.Source)
	move.Apply(st)

	// Same price again: the trigger is consumed, nothing more fires.
	assert.Nil(t, engine.Evaluate(st, 5030))

	move = engine.Evaluate(st, 5060)
	require.NotNil(t, move)
	assert.Equal(t, 5140.0, move.NewTakeProfit)
	move.Apply(st)
	assert.Equal(t, []int{0, 1}, st.FiredProfitLevels)

	assert.Nil(t, engine.Evaluate(st, 5090), "all triggers consumed")
}

func TestProfitLevelTriggerSurvivesUnappliedMove(t *testing.T) {
	engine, err := NewTakeProfitEngine(RunningTPConfig{
		EnableProfitLevels:  true,
		ProfitLevelTriggers: []float64{30},
		ProfitTriggerMode:   position.Ticks,
		ExtendByTicks:       20,
		Enabled:             true,
	})
	require.NoError(t, err)
	st := longState()
	st.SetTakeProfit(5100)

	first := engine.Evaluate(st, 5030)
	require.NotNil(t, first)
	assert.Empty(t, st.FiredProfitLevels, "trigger burns only when the move is applied")

	second := engine.Evaluate(st, 5030)
	require.NotNil(t, second)
	assert.Equal(t, 5120.0, second.NewTakeProfit)

	second.Apply(st)
	assert.Equal(t, []int{0}, st.FiredProfitLevels)
	assert.Nil(t, engine.Evaluate(st, 5030))
}

func TestProfitLevelTriggerBurnedWithoutCurrentTP(t *testing.T) {
	engine, err := NewTakeProfitEngine(RunningTPConfig{
		EnableProfitLevels:  true,
		ProfitLevelTriggers: []float64{30},
		ProfitTriggerMode:   position.Ticks,
		ExtendByTicks:       20,
		Enabled:             true,
	})
	require.NoError(t, err)
	st := longState() // no TP leg on the bracket

	assert.Nil(t, engine.Evaluate(st, 5030))
	assert.Equal(t, []int{0}, st.FiredProfitLevels, "trigger burns with nothing to extend")
}

func TestProfitLevelTriggerBurnedWhenAnotherCandidateWins(t *testing.T) {
	engine, err := NewTakeProfitEngine(RunningTPConfig{
		EnableTrailing:      true,
		TrailOffsetTicks:    50,
		EnableProfitLevels:  true,
		ProfitLevelTriggers: []float64{20},
		ProfitTriggerMode:   position.Ticks,
		ExtendByTicks:       5,
		Enabled:             true,
	})
	require.NoError(t, err)
	st := longState()
	st.SetTakeProfit(5100)

	// Trailing proposes 5110, the crossed trigger only 5105: trailing wins
	// and the losing trigger burns right away, with no amendment to wait for.
	move := engine.Evaluate(st, 5060)
	require.NotNil(t, move)
	assert.Equal(t, SourceTrailing, move.Source)
	assert.Equal(t, 5110.0, move.NewTakeProfit)
	assert.Equal(t, []int{0}, st.FiredProfitLevels)
}

func TestSRLevelsJumpToNearestBeyondTP(t *testing.T) {
	engine, err := NewTakeProfitEngine(RunningTPConfig{
		EnableSRLevels: true,
		SRLevels:       []float64{5250, 5050, 5150}, // deliberately unsorted
		Enabled:        true,
	})
	require.NoError(t, err)
	st := longState()
	st.SetTakeProfit(5100)

	move := engine.Evaluate(st, 5010)
	require.NotNil(t, move)
	assert.Equal(t, 5150.0, move.NewTakeProfit, "nearest level above the current TP")
	assert.Equal(t, SourceSRLevel, move.Source)
	move.Apply(st)

	move = engine.Evaluate(st, 5010)
	require.NotNil(t, move)
	assert.Equal(t, 5250.0, move.NewTakeProfit)
	move.Apply(st)

	assert.Nil(t, engine.Evaluate(st, 5010), "no level left beyond the TP")
}

func TestSRLevelsAnchorOnHighWaterMarkWithoutTP(t *testing.T) {
	engine, err := NewTakeProfitEngine(RunningTPConfig{
		EnableSRLevels: true,
		SRLevels:       []float64{5050, 5150},
		Enabled:        true,
	})
	require.NoError(t, err)
	st := longState()

	move := engine.Evaluate(st, 5060)
	require.NotNil(t, move)
	assert.Equal(t, 5150.0, move.NewTakeProfit, "first level above the observed extreme")
}

func TestSRLevelsShort(t *testing.T) {
	engine, err := NewTakeProfitEngine(RunningTPConfig{
		EnableSRLevels: true,
		SRLevels:       []float64{4850, 4950},
		Enabled:        true,
	})
	require.NoError(t, err)
	st := longState()
	st.Side = position.Short
	st.SetTakeProfit(4900)

	move := engine.Evaluate(st, 4990)
	require.NotNil(t, move)
	assert.Equal(t, 4850.0, move.NewTakeProfit)
}

func TestMostFavorableCandidateWins(t *testing.T) {
	cfg := RunningTPConfig{
		EnableTrailing:   true,
		TrailOffsetTicks: 50,
		EnableSRLevels:   true,
		SRLevels:         []float64{5150},
		Enabled:          true,
	}
	engine, err := NewTakeProfitEngine(cfg)
	require.NoError(t, err)
	st := longState()
	st.SetTakeProfit(5100)

	// Trailing proposes 5170, the S/R level 5150: trailing wins.
	move := engine.Evaluate(st, 5120)
	require.NotNil(t, move)
	assert.Equal(t, 5170.0, move.NewTakeProfit)
	assert.Equal(t, SourceTrailing, move.Source)

	// With a tighter trail the S/R jump wins instead.
	cfg.TrailOffsetTicks = 10
	engine, err = NewTakeProfitEngine(cfg)
	require.NoError(t, err)
	st = longState()
	st.SetTakeProfit(5100)

	move = engine.Evaluate(st, 5120)
	require.NotNil(t, move)
	assert.Equal(t, 5150.0, move.NewTakeProfit)
	assert.Equal(t, SourceSRLevel, move.Source)
}

func TestPickBest(t *testing.T) {
	cur := 5100.0

	// Candidates that do not strictly improve are discarded.
	_, ok := pickBest(position.Long, &cur, []candidate{
		{price: 5100, source: SourceTrailing},
		{price: 5050, source: SourceSRLevel},
	})
	assert.False(t, ok)

	best, ok := pickBest(position.Long, &cur, []candidate{
		{price: 5120, source: SourceTrailing},
		{price: 5150, source: SourceSRLevel},
		{price: 5090, source: SourceProfitLevel},
	})
	require.True(t, ok)
	assert.Equal(t, 5150.0, best.price)

	// Short side: furthest favorable means lowest.
	best, ok = pickBest(position.Short, &cur, []candidate{
		{price: 5080, source: SourceTrailing},
		{price: 5050, source: SourceSRLevel},
	})
	require.True(t, ok)
	assert.Equal(t, 5050.0, best.price)

	// Nil current accepts any candidate.
	best, ok = pickBest(position.Long, nil, []candidate{{price: 4900, source: SourceTrailing}})
	require.True(t, ok)
	assert.Equal(t, 4900.0, best.price)
}

func TestNewTakeProfitEngineDoesNotMutateCallerSlice(t *testing.T) {
	levels := []float64{5250, 5050, 5150}
	_, err := NewTakeProfitEngine(RunningTPConfig{
		EnableSRLevels: true,
		SRLevels:       levels,
		Enabled:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{5250, 5050, 5150}, levels)
}

func TestRunningTPConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  RunningTPConfig
	}{
		{"nothing enabled", RunningTPConfig{Enabled: true}},
		{"trailing without offset", RunningTPConfig{EnableTrailing: true, Enabled: true}},
		{"profit levels without triggers", RunningTPConfig{
			EnableProfitLevels: true, ProfitTriggerMode: position.Ticks, ExtendByTicks: 10, Enabled: true,
		}},
		{"profit levels bad mode", RunningTPConfig{
			EnableProfitLevels: true, ProfitLevelTriggers: []float64{10}, ProfitTriggerMode: "points",
			ExtendByTicks: 10, Enabled: true,
		}},
		{"profit levels not ascending", RunningTPConfig{
			EnableProfitLevels: true, ProfitLevelTriggers: []float64{30, 30}, ProfitTriggerMode: position.Ticks,
			ExtendByTicks: 10, Enabled: true,
		}},
		{"profit levels without extension", RunningTPConfig{
			EnableProfitLevels: true, ProfitLevelTriggers: []float64{30}, ProfitTriggerMode: position.Ticks,
			Enabled: true,
		}},
		{"sr without levels", RunningTPConfig{EnableSRLevels: true, Enabled: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.cfg.Validate())
		})
	}

	valid := RunningTPConfig{EnableTrailing: true, TrailOffsetTicks: 25, Enabled: true}
	assert.NoError(t, valid.Validate())
}
