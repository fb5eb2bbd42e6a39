package signal

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"trading-sim/internal/indicators"
	"trading-sim/internal/instrument"
	"trading-sim/internal/order"
)

// MACross emits a buy on a golden cross of the fast over the slow moving
// average and a sell on a death cross. Confidence grows with RSI momentum in
// the direction of the cross: 0.5 at RSI 50, 1.0 at RSI 100 for a buy.
type MACross struct {
	Fast      int
	Slow      int
	RSIPeriod int
	Timeframe string

	window *indicators.Window
	trend  map[string]int
}

// NewMACross creates the strategy; periods that are unset or inverted fall
// back to 10/30 with a 14-period RSI.
func NewMACross(fast, slow, rsiPeriod int, timeframe string) *MACross {
	if fast <= 0 || slow <= fast {
		fast, slow = 10, 30
	}
	if rsiPeriod <= 0 {
		rsiPeriod = 14
	}
	if timeframe == "" {
		timeframe = "tick"
	}
	size := slow
	if rsiPeriod+1 > size {
		size = rsiPeriod + 1
	}
	return &MACross{
		Fast:      fast,
		Slow:      slow,
		RSIPeriod: rsiPeriod,
		Timeframe: timeframe,
		window:    indicators.NewWindow(size),
		trend:     make(map[string]int),
	}
}

func (m *MACross) Name() string {
	return fmt.Sprintf("ma_cross_%d_%d", m.Fast, m.Slow)
}

// OnTick feeds one price. It returns a signal only on the tick where the
// averages cross; the first full window just records the trend.
func (m *MACross) OnTick(symbol string, price decimal.Decimal, at time.Time) (Signal, bool) {
	symbol = instrument.Normalize(symbol)
	prices := m.window.Push(symbol, price.InexactFloat64())
	if len(prices) < m.Slow {
		return Signal{}, false
	}

	fast := indicators.SMA(prices, m.Fast)
	slow := indicators.SMA(prices, m.Slow)
	trend := 0
	switch {
	case fast > slow:
		trend = 1
	case fast < slow:
		trend = -1
	}
	prev, seen := m.trend[symbol]
	if trend != 0 {
		m.trend[symbol] = trend
	}
	if !seen || trend == 0 || trend == prev {
		return Signal{}, false
	}

	side := order.Buy
	momentum := 0.0
	if rsi := indicators.RSI(prices, m.RSIPeriod); rsi > 0 {
		momentum = (rsi - 50) / 50
	}
	if trend < 0 {
		side = order.Sell
		momentum = -momentum
	}
	confidence := math.Max(0, math.Min(1, 0.5+0.5*momentum))

	return Signal{
		Symbol:     symbol,
		Side:       side,
		Confidence: confidence,
		Timeframe:  m.Timeframe,
		Source:     m.Name(),
		Note:       fmt.Sprintf("MA%d %.2f vs MA%d %.2f", m.Fast, fast, m.Slow, slow),
		At:         at,
	}, true
}
