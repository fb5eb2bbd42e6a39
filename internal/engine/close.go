package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-sim/internal/events"
	"trading-sim/internal/instrument"
	"trading-sim/internal/order"
	"trading-sim/internal/position"
)

// ClosePosition closes the position for symbol through a reduce-only market
// order filled at exitPrice (the last mark when zero). An exit price at or
// past the liquidation price liquidates instead.
func (e *Engine) ClosePosition(ctx context.Context, symbol string, exitPrice decimal.Decimal) (CloseResult, error) {
	if err := ctx.Err(); err != nil {
		return CloseResult{}, err
	}
	if exitPrice.IsNegative() {
		return CloseResult{}, invalid("exit price %s", exitPrice)
	}
	symbol = instrument.Normalize(symbol)

	e.mu.Lock()
	res, err := e.closePosition(ctx, symbol, exitPrice)
	trip := e.checkPortfolioLocked()
	e.mu.Unlock()

	e.trip(trip)
	if err != nil {
		e.logFailure("close rejected", err, zap.String("symbol", symbol), zap.Stringer("price", exitPrice))
	}
	return res, err
}

func (e *Engine) closePosition(ctx context.Context, symbol string, exitPrice decimal.Decimal) (CloseResult, error) {
	pos, ok := e.book.Get(symbol)
	if !ok {
		return CloseResult{}, conflict(fmt.Errorf("%w: %s", position.ErrNoPosition, symbol))
	}
	if exitPrice.IsZero() {
		exitPrice = e.markLocked(pos)
	}
	return e.closeLocked(ctx, symbol, exitPrice, CloseManual)
}

// closeLocked realizes P&L at the closing order's execution price, settles
// the ledger and only then drops the position from the book, so a failed
// settlement leaves the position open.
func (e *Engine) closeLocked(ctx context.Context, symbol string, exitPrice decimal.Decimal, reason CloseReason) (CloseResult, error) {
	pos, ok := e.book.Get(symbol)
	if !ok {
		return CloseResult{}, conflict(fmt.Errorf("%w: %s", position.ErrNoPosition, symbol))
	}
	now := e.now()

	if pos.Crossed(exitPrice) {
		m, err := e.book.MarkToMarket(symbol, exitPrice, now)
		if err != nil {
			return CloseResult{}, e.bookError(err)
		}
		e.marks[symbol] = exitPrice
		if m.Liquidation != nil {
			return e.settleLiquidationLocked(*m.Liquidation)
		}
	}

	created, err := e.orders.Create(order.Spec{
		Symbol:     symbol,
		Side:       closingSide(pos.Side),
		Type:       order.Market,
		Size:       pos.Size,
		Leverage:   pos.Leverage,
		ReduceOnly: true,
	})
	if err != nil {
		return CloseResult{}, conflict(err)
	}
	e.emit(events.EventOrderCreated, symbol, created.ID, created)

	fill, err := e.orders.Quote(ctx, created.ID, exitPrice)
	if err != nil {
		e.rejectLocked(created.ID, err)
		return CloseResult{}, fmt.Errorf("%w: %w", ErrExecution, err)
	}

	pnl := pos.PnLAt(fill.Price)
	fee, err := e.settleLocked(pos.Margin, pnl, fill.Fee)
	if err != nil {
		e.rejectLocked(created.ID, err)
		return CloseResult{}, conflict(err)
	}
	closed, _, err := e.book.Close(symbol, fill.Price, now)
	if err != nil {
		return CloseResult{}, conflict(err)
	}
	fill.Fee = fee
	filled, err := e.orders.ApplyFill(created.ID, fill)
	if err != nil {
		return CloseResult{}, conflict(err)
	}
	e.marks[symbol] = exitPrice
	e.tracker.RecordRealized(pnl.Sub(fee))

	res := CloseResult{
		Position:    closed,
		Order:       &filled,
		ExitPrice:   filled.FillPrice,
		RealizedPnL: pnl,
		Fee:         fee,
		Reason:      reason,
	}
	e.emit(events.EventOrderFilled, symbol, filled.ID, filled)
	e.emit(events.EventPositionClosed, symbol, filled.ID, res)
	e.cfg.Metrics.ObserveOrder(e.cfg.Account, string(filled.Status))
	e.cfg.Metrics.ObserveClose(e.cfg.Account, string(reason))
	e.cfg.Metrics.ObserveFee(e.cfg.Account, fee.InexactFloat64())

	e.log.Info("position closed",
		zap.String("symbol", symbol),
		zap.Uint64("order_id", filled.ID),
		zap.String("side", string(pos.Side)),
		zap.Stringer("size", pos.Size),
		zap.Stringer("price", filled.FillPrice),
		zap.Stringer("pnl", pnl),
		zap.Stringer("fee", fee),
		zap.String("reason", string(reason)))
	return res, nil
}
