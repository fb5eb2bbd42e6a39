package position

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trading-sim/internal/instrument"
)

// Trigger identifies a protective level hit by a tick.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerStopLoss
	TriggerTakeProfit
)

func (t Trigger) String() string {
	switch t {
	case TriggerStopLoss:
		return "stop_loss"
	case TriggerTakeProfit:
		return "take_profit"
	}
	return "none"
}

// SetProtection replaces the stop-loss, take-profit and trailing offset of an
// open position. Zero disables a level.
func (b *Book) SetProtection(symbol string, stopLoss, takeProfit, trailingOffset decimal.Decimal) (Position, error) {
	if stopLoss.IsNegative() || takeProfit.IsNegative() ||
		trailingOffset.IsNegative() || trailingOffset.GreaterThanOrEqual(one) {
		return Position{}, fmt.Errorf("%w: protection sl=%s tp=%s trail=%s",
			ErrInvalidPosition, stopLoss, takeProfit, trailingOffset)
	}
	pos, ok := b.positions[instrument.Normalize(symbol)]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	pos.StopLoss = stopLoss
	pos.TakeProfit = takeProfit
	pos.TrailingOffset = trailingOffset
	return *pos, nil
}

// evaluateProtection ratchets the trailing stop and reports which level, if
// any, price has reached. The stop is checked before the take-profit.
func (p *Position) evaluateProtection(price decimal.Decimal) Trigger {
	if p.TrailingOffset.IsPositive() {
		p.trail(price)
	}
	if p.StopLoss.IsPositive() {
		if (p.Side == Long && price.LessThanOrEqual(p.StopLoss)) ||
			(p.Side == Short && price.GreaterThanOrEqual(p.StopLoss)) {
			return TriggerStopLoss
		}
	}
	if p.TakeProfit.IsPositive() {
		if (p.Side == Long && price.GreaterThanOrEqual(p.TakeProfit)) ||
			(p.Side == Short && price.LessThanOrEqual(p.TakeProfit)) {
			return TriggerTakeProfit
		}
	}
	return TriggerNone
}

// trail moves the stop with the best price seen; it never loosens it.
func (p *Position) trail(price decimal.Decimal) {
	if p.Side == Long {
		if price.GreaterThan(p.HighWaterMark) {
			p.HighWaterMark = price
			stop := price.Mul(one.Sub(p.TrailingOffset))
			if stop.GreaterThan(p.StopLoss) {
				p.StopLoss = stop
			}
		}
		return
	}
	if price.LessThan(p.HighWaterMark) {
		p.HighWaterMark = price
		stop := price.Mul(one.Add(p.TrailingOffset))
		if p.StopLoss.IsZero() || stop.LessThan(p.StopLoss) {
			p.StopLoss = stop
		}
	}
}
