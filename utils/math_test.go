package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloatEquals(t *testing.T) {
	assert.True(t, FloatEquals(0.1+0.2, 0.3))
	assert.True(t, FloatEquals(5010.0, 5010.0))
	assert.False(t, FloatEquals(5010.0, 5010.25))
}

func TestAdjustPriceToTickSize(t *testing.T) {
	cases := []struct {
		price, tick, want float64
	}{
		{5010.1, 0.25, 5010.0},
		{5010.2, 0.25, 5010.25},
		{5010.375, 0.25, 5010.5},
		{20100.4, 0.5, 20100.5},
		{5010.1, 0, 5010.1},   // no grid configured
		{5010.1, -1, 5010.1},  // nonsense tick sizes are ignored
		{68.42, 0.01, 68.42},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, AdjustPriceToTickSize(tc.price, tc.tick), Epsilon,
			"price %.4f tick %.2f", tc.price, tc.tick)
	}
}
