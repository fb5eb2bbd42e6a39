package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-sim/internal/instrument"
)

type bar struct {
	start                  time.Time
	open, high, low, close decimal.Decimal
}

// atr is Wilder's average true range over completed bars.
type atr struct {
	period    int
	value     decimal.Decimal
	count     int
	warmupSum decimal.Decimal
	prevClose decimal.Decimal
	hasPrev   bool
}

func (a *atr) update(b bar) {
	// The first bar has no previous close; its true range is its own range.
	tr := b.high.Sub(b.low)
	if a.hasPrev {
		tr = decimal.Max(tr, b.high.Sub(a.prevClose).Abs(), b.low.Sub(a.prevClose).Abs())
	}
	p := decimal.NewFromInt(int64(a.period))
	if a.count < a.period {
		a.warmupSum = a.warmupSum.Add(tr)
		a.count++
		if a.count == a.period {
			a.value = a.warmupSum.Div(p)
		}
	} else {
		a.value = a.value.Mul(p.Sub(one)).Add(tr).Div(p)
	}
	a.prevClose = b.close
	a.hasPrev = true
}

func (a *atr) ready() bool { return a.count >= a.period }

type series struct {
	cur *bar
	atr atr
}

var one = decimal.NewFromInt(1)

// Volatility aggregates price ticks into fixed-interval bars per symbol and
// keeps a streaming ATR over them. Ticks older than the open bar are ignored.
type Volatility struct {
	mu       sync.Mutex
	period   int
	interval time.Duration
	series   map[string]*series
}

// NewVolatility creates a tracker with the ATR period and bar interval.
func NewVolatility(period int, interval time.Duration) *Volatility {
	if period < 1 {
		period = 14
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Volatility{period: period, interval: interval, series: make(map[string]*series)}
}

// Observe feeds one tick.
func (v *Volatility) Observe(symbol string, price decimal.Decimal, at time.Time) {
	if !price.IsPositive() {
		return
	}
	symbol = instrument.Normalize(symbol)
	start := at.Truncate(v.interval)

	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.series[symbol]
	if !ok {
		s = &series{atr: atr{period: v.period}}
		v.series[symbol] = s
	}
	switch {
	case s.cur == nil:
		s.cur = &bar{start: start, open: price, high: price, low: price, close: price}
	case start.Before(s.cur.start):
		return
	case start.After(s.cur.start):
		s.atr.update(*s.cur)
		s.cur = &bar{start: start, open: price, high: price, low: price, close: price}
	default:
		s.cur.high = decimal.Max(s.cur.high, price)
		s.cur.low = decimal.Min(s.cur.low, price)
		s.cur.close = price
	}
}

// ATR returns the current value, false until period bars have completed.
func (v *Volatility) ATR(symbol string) (decimal.Decimal, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.series[instrument.Normalize(symbol)]
	if !ok || !s.atr.ready() {
		return decimal.Zero, false
	}
	return s.atr.value, true
}
