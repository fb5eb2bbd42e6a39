package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolatilityWilderATR(t *testing.T) {
	v := NewVolatility(3, time.Minute)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	bars := [][]string{
		{"100", "106", "94", "100"},  // first bar: TR is its range, 12
		{"100", "110", "100", "108"}, // TR 10
		{"108", "112", "104", "110"}, // TR 8
		{"110", "112", "108", "110"}, // TR 4
	}
	for i, b := range bars {
		at := t0.Add(time.Duration(i) * time.Minute)
		for j, px := range b {
			v.Observe("BTCUSDT", d(px), at.Add(time.Duration(j)*time.Second))
		}
	}
	// last bar still open: ATR over the first three bars is (12+10+8)/3
	got, ok := v.ATR("BTCUSDT")
	require.True(t, ok)
	assert.True(t, got.Equal(d("10")), got.String())

	// closing the fourth bar applies Wilder smoothing: (10*2+4)/3 = 8
	v.Observe("BTCUSDT", d("110"), t0.Add(4*time.Minute))
	got, _ = v.ATR("BTCUSDT")
	assert.True(t, got.Equal(d("8")), got.String())
}

func TestVolatilityNotReadyAndStaleTicks(t *testing.T) {
	v := NewVolatility(14, time.Minute)
	t0 := time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC)
	v.Observe("ETHUSDT", d("3000"), t0)
	v.Observe("ETHUSDT", d("1"), t0.Add(-5*time.Minute)) // stale, ignored

	_, ok := v.ATR("ETHUSDT")
	assert.False(t, ok)
	_, ok = v.ATR("SOLUSDT")
	assert.False(t, ok)
}
