package market

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-sim/internal/events"
	"trading-sim/internal/instrument"
)

// MockFeed generates synthetic ticks for local development: an independent
// random walk per symbol, each step at most StepPct percent of the price.
type MockFeed struct {
	Bus         *events.Bus
	Symbols     []string
	StartPrices map[string]decimal.Decimal
	StartPrice  decimal.Decimal
	StepPct     float64
	Interval    time.Duration
	Seed        int64
	Log         *zap.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]decimal.Decimal
}

func (m *MockFeed) init() {
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"BTCUSDT"}
	}
	if !m.StartPrice.IsPositive() {
		m.StartPrice = decimal.NewFromInt(100)
	}
	if m.StepPct <= 0 {
		m.StepPct = 0.1
	}
	if m.Interval <= 0 {
		m.Interval = time.Second
	}
	seed := m.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	m.rng = rand.New(rand.NewSource(seed))
	m.prices = make(map[string]decimal.Decimal, len(m.Symbols))
	for i, sym := range m.Symbols {
		sym = instrument.Normalize(sym)
		m.Symbols[i] = sym
		p, ok := m.StartPrices[sym]
		if !ok || !p.IsPositive() {
			p = m.StartPrice
		}
		m.prices[sym] = p
	}
}

// Next advances every symbol by one step and returns the new ticks.
func (m *MockFeed) Next(at time.Time) []Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rng == nil {
		m.init()
	}
	ticks := make([]Tick, 0, len(m.Symbols))
	for _, sym := range m.Symbols {
		step := (m.rng.Float64()*2 - 1) * m.StepPct / 100
		p := m.prices[sym].Mul(decimal.NewFromFloat(1 + step)).Round(8)
		if !p.IsPositive() {
			p = m.prices[sym]
		}
		m.prices[sym] = p
		ticks = append(ticks, Tick{Symbol: sym, Price: p, Time: at})
	}
	return ticks
}

// Start publishes ticks on the bus every Interval until ctx is done.
func (m *MockFeed) Start(ctx context.Context) {
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	if m.Bus == nil {
		log.Warn("mock feed: bus not set")
		return
	}
	m.mu.Lock()
	if m.rng == nil {
		m.init()
	}
	interval := m.Interval
	m.mu.Unlock()
	log.Info("mock feed started", zap.Strings("symbols", m.Symbols), zap.Duration("interval", interval))

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				for _, tick := range m.Next(now) {
					m.Bus.Publish(events.EventPriceTick, tick)
				}
			}
		}
	}()
}
