package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMAAndEMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 4.5, SMA(values, 2), 1e-9)
	assert.Zero(t, SMA(values, 6))

	// seed SMA(1,2,3)=2, then k=0.5: 3, 4
	assert.InDelta(t, 4.0, EMA(values, 3), 1e-9)
}

func TestRSI(t *testing.T) {
	assert.Zero(t, RSI([]float64{1, 2}, 2))
	assert.InDelta(t, 100.0, RSI([]float64{1, 2, 3, 4}, 3), 1e-9)
	assert.InDelta(t, 60.0, RSI([]float64{10, 9, 8, 7, 8, 10}[1:], 4), 1e-9)
}

func TestWindowKeepsNewest(t *testing.T) {
	w := NewWindow(3)
	for _, p := range []float64{1, 2, 3, 4} {
		w.Push("BTCUSDT", p)
	}
	got := w.Push("BTCUSDT", 5)
	assert.Equal(t, []float64{3, 4, 5}, got)
	assert.Equal(t, 3, w.Len("BTCUSDT"))
	assert.Zero(t, w.Len("ETHUSDT"))

	got[0] = 99
	assert.Equal(t, []float64{4, 5, 6}, w.Push("BTCUSDT", 6))
}
