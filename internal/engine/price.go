package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-sim/internal/balance"
	"trading-sim/internal/events"
	"trading-sim/internal/instrument"
	"trading-sim/internal/position"
)

// UpdatePrice marks the position for symbol to price. Ticks are applied in
// arrival order with no sequencing: a late tick still re-marks the position.
// A crossed liquidation price is settled here, and a hit stop-loss or
// take-profit closes the position at the tick price.
func (e *Engine) UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal) (TickResult, error) {
	if !price.IsPositive() {
		return TickResult{}, invalid("price %s", price)
	}
	now := e.now()
	if e.ownsVol {
		e.vol.Observe(symbol, price, now)
	}

	e.mu.Lock()
	res, err := e.updatePriceLocked(ctx, instrument.Normalize(symbol), price, now)
	trip := e.checkPortfolioLocked()
	e.mu.Unlock()

	e.trip(trip)
	if err != nil {
		e.logFailure("price update failed", err, zap.String("symbol", symbol), zap.Stringer("price", price))
	}
	return res, err
}

func (e *Engine) updatePriceLocked(ctx context.Context, symbol string, price decimal.Decimal, now time.Time) (TickResult, error) {
	e.marks[symbol] = price
	res := TickResult{Symbol: symbol, Price: price}

	m, err := e.book.MarkToMarket(symbol, price, now)
	if err != nil {
		return res, e.bookError(err)
	}
	switch {
	case m.Liquidation != nil:
		cr, err := e.settleLiquidationLocked(*m.Liquidation)
		if err != nil {
			return res, err
		}
		res.Liquidation = m.Liquidation
		res.Closed = &cr
	case m.Position != nil:
		res.Position = m.Position
		e.emit(events.EventPositionUpdated, symbol, 0, *m.Position)
		if m.Trigger == position.TriggerNone {
			break
		}
		reason := CloseStopLoss
		if m.Trigger == position.TriggerTakeProfit {
			reason = CloseTakeProfit
		}
		cr, err := e.closeLocked(ctx, symbol, price, reason)
		if err != nil {
			return res, err
		}
		res.Closed = &cr
	}
	return res, nil
}

// settleLiquidationLocked applies a liquidation returned by the book: margin
// released, P&L realized at the liquidation price, liquidation fee charged.
func (e *Engine) settleLiquidationLocked(liq position.Liquidation) (CloseResult, error) {
	pos := liq.Position
	fee, err := e.settleLocked(pos.Margin, liq.RealizedPnL, liq.Fee)
	if err != nil {
		e.log.Error("liquidation settlement failed",
			zap.String("symbol", pos.Symbol), zap.Stringer("pnl", liq.RealizedPnL), zap.Error(err))
		return CloseResult{}, conflict(err)
	}
	liq.Fee = fee
	e.tracker.RecordRealized(liq.RealizedPnL.Sub(fee))

	e.emit(events.EventPositionLiquidated, pos.Symbol, 0, liq)
	e.cfg.Metrics.ObserveLiquidation(e.cfg.Account, pos.Symbol)
	e.cfg.Metrics.ObserveClose(e.cfg.Account, string(CloseLiquidated))
	e.cfg.Metrics.ObserveFee(e.cfg.Account, fee.InexactFloat64())

	e.log.Warn("position liquidated",
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Stringer("size", pos.Size),
		zap.Stringer("entry_price", pos.EntryPrice),
		zap.Stringer("price", liq.Price),
		zap.Stringer("mark_price", liq.MarkPrice),
		zap.Stringer("pnl", liq.RealizedPnL),
		zap.Stringer("fee", fee))

	return CloseResult{
		Position:    pos,
		ExitPrice:   liq.Price,
		RealizedPnL: liq.RealizedPnL,
		Fee:         fee,
		Reason:      CloseLiquidated,
	}, nil
}

// settleLocked releases margin, realizes pnl and charges fee in one ledger
// step. A fee larger than what the account has left is capped at the
// remainder; the charged fee is returned.
func (e *Engine) settleLocked(margin, pnl, fee decimal.Decimal) (decimal.Decimal, error) {
	err := e.ledger.Settle(margin, pnl, fee)
	if err == nil {
		return fee, nil
	}
	if !errors.Is(err, balance.ErrInsufficientBalance) {
		return decimal.Zero, err
	}
	bal := e.ledger.Snapshot()
	left := bal.Total.Add(pnl).Sub(bal.Locked.Sub(margin))
	if left.IsNegative() {
		left = decimal.Zero
	}
	capped := decimal.Min(fee, left)
	e.log.Warn("fee capped at remaining equity", zap.Stringer("fee", fee), zap.Stringer("charged", capped))
	if err := e.ledger.Settle(margin, pnl, capped); err != nil {
		return decimal.Zero, fmt.Errorf("settle with capped fee: %w", err)
	}
	return capped, nil
}
