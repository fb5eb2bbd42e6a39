package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-sim/internal/events"
	"trading-sim/internal/monitor"
	"trading-sim/internal/signal"
)

// PriceUpdater receives every tick.
type PriceUpdater interface {
	UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal) error
}

// Strategy turns ticks into signals.
type Strategy interface {
	OnTick(symbol string, price decimal.Decimal, at time.Time) (signal.Signal, bool)
}

// Pump moves ticks from the bus into the engine and, when a strategy is
// set, its signals into the signal queue.
type Pump struct {
	Bus      *events.Bus
	Prices   PriceUpdater
	Strategy Strategy
	Signals  *signal.Queue
	Metrics  *monitor.SystemMetrics
	Log      *zap.Logger
	Buffer   int
}

// Start subscribes to price ticks and returns; the pump stops with ctx.
func (p *Pump) Start(ctx context.Context) {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
		p.Log = log
	}
	if p.Bus == nil || p.Prices == nil {
		log.Warn("tick pump not fully configured; skipping")
		return
	}
	buf := p.Buffer
	if buf <= 0 {
		buf = 1024
	}
	ch, unsub := p.Bus.Subscribe(events.EventPriceTick, buf)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				tick, ok := asTick(msg)
				if !ok {
					log.Debug("tick pump: unexpected payload", zap.Any("payload", msg))
					continue
				}
				p.Apply(ctx, tick)
			}
		}
	}()
}

// Apply forwards one tick.
func (p *Pump) Apply(ctx context.Context, t Tick) {
	if p.Metrics != nil {
		p.Metrics.IncrementTicks()
		defer monitor.NewTimer(p.Metrics.TickLatency).Stop()
	}
	if err := p.Prices.UpdatePrice(ctx, t.Symbol, t.Price); err != nil {
		if p.Metrics != nil {
			p.Metrics.IncrementErrors()
		}
		p.logger().Warn("tick not applied",
			zap.String("symbol", t.Symbol), zap.Stringer("price", t.Price), zap.Error(err))
	}
	if p.Strategy == nil || p.Signals == nil {
		return
	}
	if s, ok := p.Strategy.OnTick(t.Symbol, t.Price, t.Time); ok {
		if err := p.Signals.TryEnqueue(s); err != nil {
			p.logger().Warn("signal dropped", zap.String("symbol", s.Symbol), zap.Error(err))
		}
	}
}

func (p *Pump) logger() *zap.Logger {
	if p.Log == nil {
		return zap.NewNop()
	}
	return p.Log
}

func asTick(msg any) (Tick, bool) {
	switch t := msg.(type) {
	case Tick:
		return t, true
	case *Tick:
		if t != nil {
			return *t, true
		}
	}
	return Tick{}, false
}
