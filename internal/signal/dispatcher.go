package signal

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trading-sim/internal/engine"
	"trading-sim/internal/events"
	"trading-sim/internal/monitor"
)

// Placer is the part of the engine a dispatcher needs.
type Placer interface {
	PlaceOrder(ctx context.Context, account string, req engine.OrderRequest) (engine.PlaceResult, error)
}

// Outcome reports what happened to one signal.
type Outcome struct {
	Signal   Signal              `json:"signal"`
	Accepted bool                `json:"accepted"`
	Reason   string              `json:"reason,omitempty"`
	Result   *engine.PlaceResult `json:"result,omitempty"`
}

// Dispatcher turns accepted signals into order proposals.
type Dispatcher struct {
	Engine          Placer
	Filter          Filter
	Account         string // used when a signal names no account
	DefaultLeverage int

	Bus     *events.Bus
	Metrics *monitor.SystemMetrics
	Log     *zap.Logger
}

// Handle filters s and, when it passes, places it. A signal below the
// threshold is not an error.
func (d *Dispatcher) Handle(ctx context.Context, s Signal) (Outcome, error) {
	log := d.logger()
	out := Outcome{Signal: s}
	if err := s.Validate(); err != nil {
		return out, err
	}
	if d.Bus != nil {
		d.Bus.Publish(events.EventStrategySignal, s)
	}

	if !d.Filter.Accept(s) {
		out.Reason = fmt.Sprintf("confidence %.2f not above threshold %.2f", s.Confidence, d.Filter.Threshold)
		d.count(false)
		log.Debug("signal dropped",
			zap.String("symbol", s.Symbol), zap.String("side", string(s.Side)),
			zap.Float64("confidence", s.Confidence))
		return out, nil
	}
	out.Accepted = true
	d.count(true)

	account := s.Account
	if account == "" {
		account = d.Account
	}
	lev := d.DefaultLeverage
	if lev < 1 {
		lev = 1
	}
	res, err := d.Engine.PlaceOrder(ctx, account, s.Request(lev))
	if err != nil {
		out.Reason = err.Error()
		if d.Metrics != nil {
			d.Metrics.IncrementErrors()
		}
		var rej *engine.RejectionError
		if errors.As(err, &rej) && d.Bus != nil {
			d.Bus.Publish(events.EventRiskAlert, map[string]any{
				"account": account,
				"symbol":  s.Symbol,
				"source":  s.Source,
				"reasons": rej.Reasons,
			})
		}
		log.Info("signal not executed",
			zap.String("account", account), zap.String("symbol", s.Symbol),
			zap.String("kind", engine.Kind(err)), zap.Error(err))
		return out, err
	}
	out.Result = &res
	if d.Metrics != nil {
		d.Metrics.IncrementOrders()
	}
	log.Info("signal executed",
		zap.String("account", account), zap.String("symbol", s.Symbol),
		zap.String("source", s.Source), zap.Uint64("order_id", res.Order.ID))
	return out, nil
}

// Run handles queued signals until ctx is done or q is closed.
func (d *Dispatcher) Run(ctx context.Context, q *Queue) {
	q.Drain(ctx, func(s Signal) {
		_, _ = d.Handle(ctx, s)
	})
}

func (d *Dispatcher) count(accepted bool) {
	if d.Metrics != nil {
		d.Metrics.IncrementSignals(accepted)
	}
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}
