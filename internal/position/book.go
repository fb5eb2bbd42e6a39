package position

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"trading-sim/internal/instrument"
)

// Config parameterizes a Book.
type Config struct {
	// LiquidationFeeRate is charged on size*entryPrice when a position is liquidated.
	LiquidationFeeRate decimal.Decimal
	// Catalog supplies the maintenance margin rate per symbol.
	Catalog *instrument.Catalog
}

// OpenParams describes a filled opening order.
type OpenParams struct {
	Symbol     string
	Side       Side
	Size       decimal.Decimal
	Margin     decimal.Decimal
	Leverage   int
	EntryPrice decimal.Decimal

	StopLoss       decimal.Decimal
	TakeProfit     decimal.Decimal
	TrailingOffset decimal.Decimal
	Time           time.Time
}

// Liquidation describes a forced close performed by MarkToMarket. The caller
// settles it on the ledger: release Margin, apply RealizedPnL, charge Fee.
type Liquidation struct {
	Position    Position
	Price       decimal.Decimal // liquidation price used to realize P&L
	MarkPrice   decimal.Decimal // tick that crossed it
	RealizedPnL decimal.Decimal
	Fee         decimal.Decimal
}

// Mark is the outcome of MarkToMarket.
type Mark struct {
	// Position is the updated position, nil if none was open or it was liquidated.
	Position    *Position
	Liquidation *Liquidation
	Trigger     Trigger
}

// Book holds open positions keyed by symbol. It never touches the ledger;
// callers serialize access together with the ledger and order log.
type Book struct {
	cfg       Config
	positions map[string]*Position
}

// NewBook creates an empty book.
func NewBook(cfg Config) *Book {
	if cfg.Catalog == nil {
		cfg.Catalog = instrument.NewCatalog(instrument.Spec{MaintenanceMarginRate: decimal.New(5, -3)})
	}
	return &Book{cfg: cfg, positions: make(map[string]*Position)}
}

// Open records a new position and computes its liquidation price.
func (b *Book) Open(p OpenParams) (Position, error) {
	symbol := instrument.Normalize(p.Symbol)
	switch {
	case symbol == "":
		return Position{}, fmt.Errorf("%w: empty symbol", ErrInvalidPosition)
	case p.Side != Long && p.Side != Short:
		return Position{}, fmt.Errorf("%w: side %q", ErrInvalidPosition, p.Side)
	case !p.Size.IsPositive():
		return Position{}, fmt.Errorf("%w: size %s", ErrInvalidPosition, p.Size)
	case !p.Margin.IsPositive():
		return Position{}, fmt.Errorf("%w: margin %s", ErrInvalidPosition, p.Margin)
	case p.Leverage < 1:
		return Position{}, fmt.Errorf("%w: leverage %d", ErrInvalidPosition, p.Leverage)
	case !p.EntryPrice.IsPositive():
		return Position{}, fmt.Errorf("%w: entry price %s", ErrInvalidPosition, p.EntryPrice)
	case p.TrailingOffset.IsNegative() || p.TrailingOffset.GreaterThanOrEqual(one):
		return Position{}, fmt.Errorf("%w: trailing offset %s", ErrInvalidPosition, p.TrailingOffset)
	}
	if _, ok := b.positions[symbol]; ok {
		return Position{}, fmt.Errorf("%w: %s", ErrPositionExists, symbol)
	}

	at := p.Time
	if at.IsZero() {
		at = time.Now()
	}
	mmr := b.cfg.Catalog.Get(symbol).MaintenanceMarginRate
	pos := &Position{
		Symbol:                symbol,
		Side:                  p.Side,
		Size:                  p.Size,
		Margin:                p.Margin,
		Leverage:              p.Leverage,
		EntryPrice:            p.EntryPrice,
		MaintenanceMarginRate: mmr,
		LiquidationPrice:      LiquidationPrice(p.Side, p.EntryPrice, p.Leverage, mmr),
		StopLoss:              p.StopLoss,
		TakeProfit:            p.TakeProfit,
		TrailingOffset:        p.TrailingOffset,
		HighWaterMark:         p.EntryPrice,
		OpenedAt:              at,
	}
	pos.mark(p.EntryPrice, at)
	b.positions[symbol] = pos
	return *pos, nil
}

// MarkToMarket revalues the position for symbol at price. A price at or past
// the liquidation price removes the position and returns the Liquidation to
// settle. Otherwise protective stop/take-profit levels are evaluated and a hit
// is reported through Mark.Trigger; the position stays open for the caller to close.
func (b *Book) MarkToMarket(symbol string, price decimal.Decimal, at time.Time) (Mark, error) {
	if !price.IsPositive() {
		return Mark{}, fmt.Errorf("%w: price %s", ErrInvalidPosition, price)
	}
	symbol = instrument.Normalize(symbol)
	pos, ok := b.positions[symbol]
	if !ok {
		return Mark{}, nil
	}
	if at.IsZero() {
		at = time.Now()
	}

	if pos.Crossed(price) {
		pos.mark(price, at)
		delete(b.positions, symbol)
		liq := &Liquidation{
			Position:    *pos,
			Price:       pos.LiquidationPrice,
			MarkPrice:   price,
			RealizedPnL: pos.PnLAt(pos.LiquidationPrice),
			Fee:         pos.Notional().Mul(b.cfg.LiquidationFeeRate),
		}
		return Mark{Liquidation: liq}, nil
	}

	pos.mark(price, at)
	trigger := pos.evaluateProtection(price)
	out := *pos
	return Mark{Position: &out, Trigger: trigger}, nil
}

// Close removes the position and returns it with the P&L realized at exitPrice.
// Settling the ledger is the caller's job.
func (b *Book) Close(symbol string, exitPrice decimal.Decimal, at time.Time) (Position, decimal.Decimal, error) {
	if !exitPrice.IsPositive() {
		return Position{}, decimal.Zero, fmt.Errorf("%w: exit price %s", ErrInvalidPosition, exitPrice)
	}
	symbol = instrument.Normalize(symbol)
	pos, ok := b.positions[symbol]
	if !ok {
		return Position{}, decimal.Zero, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	if at.IsZero() {
		at = time.Now()
	}
	pos.mark(exitPrice, at)
	delete(b.positions, symbol)
	return *pos, pos.PnLAt(exitPrice), nil
}

// SetLeverage changes leverage, margin and the derived liquidation price.
// Margin is recomputed as notional/leverage; the caller moves the difference
// on the ledger. The previous state is returned for that purpose.
func (b *Book) SetLeverage(symbol string, leverage int) (before, after Position, err error) {
	if leverage < 1 {
		return Position{}, Position{}, fmt.Errorf("%w: leverage %d", ErrInvalidPosition, leverage)
	}
	symbol = instrument.Normalize(symbol)
	pos, ok := b.positions[symbol]
	if !ok {
		return Position{}, Position{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	before = *pos
	pos.Leverage = leverage
	pos.Margin = pos.Notional().Div(decimal.NewFromInt(int64(leverage)))
	pos.LiquidationPrice = LiquidationPrice(pos.Side, pos.EntryPrice, leverage, pos.MaintenanceMarginRate)
	return before, *pos, nil
}

// Get returns a copy of the position for symbol.
func (b *Book) Get(symbol string) (Position, bool) {
	pos, ok := b.positions[instrument.Normalize(symbol)]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// List returns copies of all open positions ordered by symbol.
func (b *Book) List() []Position {
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len returns the number of open positions.
func (b *Book) Len() int { return len(b.positions) }

// TotalMargin sums the margin of open positions.
func (b *Book) TotalMargin() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range b.positions {
		sum = sum.Add(p.Margin)
	}
	return sum
}

// Exposure returns total open notional at entry and the unrealized P&L at the last marks.
func (b *Book) Exposure() (notional, unrealized decimal.Decimal) {
	notional, unrealized = decimal.Zero, decimal.Zero
	for _, p := range b.positions {
		notional = notional.Add(p.Notional())
		unrealized = unrealized.Add(p.UnrealizedPnL)
	}
	return notional, unrealized
}

// Clear drops every position. Used by simulation resets only.
func (b *Book) Clear() {
	b.positions = make(map[string]*Position)
}
