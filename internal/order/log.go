package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trading-sim/internal/instrument"
)

// Config bounds what Create accepts. Per-symbol limits come from Catalog and
// fall back to MinSize and MaxLeverage.
type Config struct {
	MinSize     decimal.Decimal
	MaxLeverage int
	Catalog     *instrument.Catalog
	// Now stamps orders; time.Now when nil.
	Now func() time.Time
}

// Log records orders for one account and drives their single transition out
// of the created state. It is not safe for concurrent use; the owning engine
// serializes access.
type Log struct {
	cfg    Config
	filler Filler
	nextID uint64
	orders map[uint64]*Order
	seq    []uint64
}

// NewLog creates an order log that fills through filler.
func NewLog(cfg Config, filler Filler) *Log {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxLeverage < 1 {
		cfg.MaxLeverage = 1
	}
	return &Log{cfg: cfg, filler: filler, orders: make(map[uint64]*Order)}
}

// Limits returns the effective minimum size and maximum leverage for symbol.
func (l *Log) Limits(symbol string) (minSize decimal.Decimal, maxLeverage int) {
	minSize, maxLeverage = l.cfg.MinSize, l.cfg.MaxLeverage
	if l.cfg.Catalog == nil {
		return minSize, maxLeverage
	}
	spec := l.cfg.Catalog.Get(symbol)
	if spec.MinSize.IsPositive() {
		minSize = spec.MinSize
	}
	if spec.MaxLeverage > 0 && spec.MaxLeverage < maxLeverage {
		maxLeverage = spec.MaxLeverage
	}
	return minSize, maxLeverage
}

// Validate checks spec without recording anything.
func (l *Log) Validate(s Spec) error {
	symbol := instrument.Normalize(s.Symbol)
	if symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidOrder)
	}
	if s.Side != Buy && s.Side != Sell {
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, s.Side)
	}
	switch s.Type {
	case Market, Limit, Stop, TakeProfit:
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidOrder, s.Type)
	}
	if !s.Size.IsPositive() {
		return fmt.Errorf("%w: size must be positive", ErrInvalidOrder)
	}
	minSize, maxLeverage := l.Limits(symbol)
	if s.Size.LessThan(minSize) {
		return fmt.Errorf("%w: size %s below minimum %s", ErrInvalidOrder, s.Size, minSize)
	}
	if s.Leverage < 1 || s.Leverage > maxLeverage {
		return fmt.Errorf("%w: leverage %d outside [1, %d]", ErrInvalidOrder, s.Leverage, maxLeverage)
	}
	if s.Type != Market && !s.Price.IsPositive() {
		return fmt.Errorf("%w: %s order requires a price", ErrInvalidOrder, s.Type)
	}
	if s.Type.NeedsStopPrice() && !s.StopPrice.IsPositive() {
		return fmt.Errorf("%w: %s order requires a stop price", ErrInvalidOrder, s.Type)
	}
	if s.Price.IsNegative() || s.StopPrice.IsNegative() {
		return fmt.Errorf("%w: negative price", ErrInvalidOrder)
	}
	return nil
}

// Create validates spec and records it with the next id. Nothing is recorded
// on a validation error.
func (l *Log) Create(s Spec) (Order, error) {
	if err := l.Validate(s); err != nil {
		return Order{}, err
	}
	l.nextID++
	now := l.cfg.Now()
	o := &Order{
		ID:         l.nextID,
		Symbol:     instrument.Normalize(s.Symbol),
		Side:       s.Side,
		Type:       s.Type,
		Size:       s.Size,
		Price:      s.Price,
		StopPrice:  s.StopPrice,
		Leverage:   s.Leverage,
		ReduceOnly: s.ReduceOnly,
		Status:     StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	l.orders[o.ID] = o
	l.seq = append(l.seq, o.ID)
	return *o, nil
}

// Fill asks the fill model for an execution price and fee at referencePrice
// and records it.
func (l *Log) Fill(ctx context.Context, id uint64, referencePrice decimal.Decimal) (Order, error) {
	fill, err := l.Quote(ctx, id, referencePrice)
	if err != nil {
		return Order{}, err
	}
	return l.ApplyFill(id, fill)
}

// Quote runs the fill model for a pending order without recording the
// result. Callers that must check the fill first record it with ApplyFill
// or drop the order with Reject.
func (l *Log) Quote(ctx context.Context, id uint64, referencePrice decimal.Decimal) (Fill, error) {
	if !referencePrice.IsPositive() {
		return Fill{}, fmt.Errorf("%w: reference price %s", ErrInvalidOrder, referencePrice)
	}
	o, err := l.pending(id)
	if err != nil {
		return Fill{}, err
	}
	if l.filler == nil {
		return Fill{}, fmt.Errorf("%w: no fill model configured", ErrFillRejected)
	}
	return l.filler.Fill(ctx, *o, referencePrice)
}

// ApplyFill records an externally supplied fill.
func (l *Log) ApplyFill(id uint64, f Fill) (Order, error) {
	if !f.Price.IsPositive() || f.Fee.IsNegative() {
		return Order{}, fmt.Errorf("%w: price=%s fee=%s", ErrFillRejected, f.Price, f.Fee)
	}
	o, err := l.pending(id)
	if err != nil {
		return Order{}, err
	}
	o.Status = StatusFilled
	o.ReferencePrice = f.ReferencePrice
	o.FillPrice = f.Price
	o.Fee = f.Fee
	o.UpdatedAt = l.cfg.Now()
	return *o, nil
}

// Cancel moves a created order to cancelled.
func (l *Log) Cancel(id uint64) (Order, error) {
	return l.finish(id, StatusCancelled, "")
}

// Reject moves a created order to rejected with reason.
func (l *Log) Reject(id uint64, reason string) (Order, error) {
	return l.finish(id, StatusRejected, reason)
}

func (l *Log) finish(id uint64, status Status, reason string) (Order, error) {
	o, err := l.pending(id)
	if err != nil {
		return Order{}, err
	}
	o.Status = status
	o.Reason = reason
	o.UpdatedAt = l.cfg.Now()
	return *o, nil
}

func (l *Log) pending(id uint64) (*Order, error) {
	o, ok := l.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if o.Status.Terminal() {
		return nil, fmt.Errorf("%w: order %d is %s", ErrOrderTerminal, id, o.Status)
	}
	return o, nil
}

// Get returns a copy of the order.
func (l *Log) Get(id uint64) (Order, bool) {
	o, ok := l.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// List returns orders in creation order. limit <= 0 returns all; otherwise the
// most recent limit orders.
func (l *Log) List(limit int) []Order {
	ids := l.seq
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, *l.orders[id])
	}
	return out
}

// Reset forgets all orders but keeps ids increasing.
func (l *Log) Reset() {
	l.orders = make(map[uint64]*Order)
	l.seq = nil
}
