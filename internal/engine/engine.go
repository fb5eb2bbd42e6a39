package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-sim/internal/balance"
	"trading-sim/internal/events"
	"trading-sim/internal/instrument"
	"trading-sim/internal/monitor"
	"trading-sim/internal/order"
	"trading-sim/internal/position"
	"trading-sim/internal/risk"
)

// Config holds the collaborators and limits of one account engine.
type Config struct {
	Account        string
	Mode           Mode
	InitialBalance decimal.Decimal

	Catalog            *instrument.Catalog
	LiquidationFeeRate decimal.Decimal
	MinOrderSize       decimal.Decimal
	MaxLeverage        int
	Risk               risk.Config

	// Filler executes orders. Required in live mode; simulated mode defaults
	// to a SimulatedFiller with time-seeded slippage.
	Filler order.Filler
	// Volatility is shared across accounts when set; the engine then never
	// feeds it. A nil Volatility gives the engine its own, fed by UpdatePrice.
	Volatility *risk.Volatility
	// Breaker is the emergency flag, usually shared process-wide.
	Breaker *risk.Breaker
	Emitter *events.Emitter

	ActivitySize int
	Now          func() time.Time
	Logger       *zap.Logger
	Metrics      *monitor.Collectors
}

// Engine serializes every mutation of one account's ledger, book and order
// log behind a single mutex.
type Engine struct {
	cfg Config
	log *zap.Logger
	now func() time.Time

	mu       sync.Mutex
	ledger   *balance.Ledger
	book     *position.Book
	orders   *order.Log
	gate     *risk.Gate
	tracker  *risk.Tracker
	vol      *risk.Volatility
	ownsVol  bool
	marks    map[string]decimal.Decimal
	breaker  *risk.Breaker
	emitter  *events.Emitter
	activity *events.Ring

	unlisten []func()
}

// New builds an engine and subscribes it to the breaker, so a trip anywhere
// closes this account's positions. Call Close to unsubscribe.
func New(cfg Config) (*Engine, error) {
	if cfg.Account == "" {
		return nil, errors.New("engine: account required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSimulated
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Catalog == nil {
		cfg.Catalog = instrument.NewCatalog(instrument.Spec{
			MaxLeverage:           100,
			MaintenanceMarginRate: decimal.New(5, -3),
		})
	}
	if cfg.MaxLeverage < 1 {
		cfg.MaxLeverage = 100
	}
	if cfg.Filler == nil {
		if cfg.Mode == ModeLive {
			return nil, errors.New("engine: live mode requires an exchange-backed filler")
		}
		cfg.Filler = order.NewSimulatedFiller(cfg.Catalog, nil, decimal.Zero)
	}
	if cfg.Breaker == nil {
		cfg.Breaker = risk.NewBreaker()
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NewEmitter()
	}
	log := cfg.Logger.With(zap.String("account", cfg.Account))

	var (
		ledger *balance.Ledger
		err    error
	)
	if cfg.Mode == ModeLive {
		ledger, err = balance.NewLiveLedger(cfg.InitialBalance, log)
	} else {
		ledger, err = balance.NewLedger(cfg.InitialBalance, log)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	vol, ownsVol := cfg.Volatility, false
	if vol == nil {
		vol, ownsVol = risk.NewVolatility(0, 0), true
	}

	e := &Engine{
		cfg:    cfg,
		log:    log,
		now:    cfg.Now,
		ledger: ledger,
		book: position.NewBook(position.Config{
			LiquidationFeeRate: cfg.LiquidationFeeRate,
			Catalog:            cfg.Catalog,
		}),
		orders: order.NewLog(order.Config{
			MinSize:     cfg.MinOrderSize,
			MaxLeverage: cfg.MaxLeverage,
			Catalog:     cfg.Catalog,
			Now:         cfg.Now,
		}, cfg.Filler),
		gate:     risk.NewGate(cfg.Risk, cfg.Catalog, vol),
		tracker:  risk.NewTracker(cfg.InitialBalance, cfg.Now),
		vol:      vol,
		ownsVol:  ownsVol,
		marks:    make(map[string]decimal.Decimal),
		breaker:  cfg.Breaker,
		emitter:  cfg.Emitter,
		activity: events.NewRing(cfg.ActivitySize),
	}
	e.unlisten = append(e.unlisten,
		e.breaker.OnTrip(e.onEmergency),
		e.breaker.OnReset(e.onEmergencyReset),
	)
	e.publishAccountMetrics()
	return e, nil
}

// Close detaches the engine from the breaker.
func (e *Engine) Close() {
	e.mu.Lock()
	fns := e.unlisten
	e.unlisten = nil
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Account returns the account id.
func (e *Engine) Account() string { return e.cfg.Account }

// Mode returns the fill mode.
func (e *Engine) Mode() Mode { return e.cfg.Mode }

// PlaceOrder runs a proposal through the risk gate, locks margin, fills the
// order and opens the position. A rejected proposal changes no balance or
// position.
func (e *Engine) PlaceOrder(ctx context.Context, req OrderRequest) (PlaceResult, error) {
	start := time.Now()
	res, trip, err := e.placeOrder(ctx, req)
	e.trip(trip)
	e.cfg.Metrics.ObservePlaceLatency(time.Since(start))
	if err != nil {
		e.cfg.Metrics.ObserveRejection(Kind(err))
		e.logFailure("order rejected", err,
			zap.String("symbol", req.Symbol), zap.String("side", string(req.Side)),
			zap.Stringer("size", req.Size), zap.Stringer("price", req.Price))
	}
	return res, err
}

func (e *Engine) placeOrder(ctx context.Context, req OrderRequest) (PlaceResult, *risk.Trip, error) {
	if err := ctx.Err(); err != nil {
		return PlaceResult{}, nil, err
	}
	if e.breaker.Active() {
		return PlaceResult{}, nil, ErrEmergencyStop
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Another account may have tripped the breaker while this one waited.
	if e.breaker.Active() {
		return PlaceResult{}, nil, ErrEmergencyStop
	}

	symbol := instrument.Normalize(req.Symbol)
	if req.Type == "" {
		req.Type = order.Market
	}
	side, ok := positionSide(req.Side)
	if !ok {
		return PlaceResult{}, nil, invalid("side %q", req.Side)
	}
	ref, err := e.referencePriceLocked(symbol, req)
	if err != nil {
		return PlaceResult{}, nil, err
	}

	spec := order.Spec{
		Symbol:    symbol,
		Side:      req.Side,
		Type:      req.Type,
		Size:      req.Size,
		Price:     req.Price,
		StopPrice: req.StopPrice,
		Leverage:  req.Leverage,
	}
	candidate := spec
	if candidate.Size.IsZero() {
		candidate.Size, _ = e.orders.Limits(symbol)
		if !candidate.Size.IsPositive() {
			candidate.Size = decimal.NewFromInt(1)
		}
	}
	if err := e.orders.Validate(candidate); err != nil {
		return PlaceResult{}, nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if _, exists := e.book.Get(symbol); exists {
		return PlaceResult{}, nil, conflict(fmt.Errorf("%w: %s", position.ErrPositionExists, symbol))
	}

	a := e.gate.Assess(e.stateLocked(), risk.Proposal{
		Symbol:     symbol,
		Side:       side,
		Price:      ref,
		Leverage:   req.Leverage,
		Size:       req.Size,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	})
	trip := e.breach(a.Portfolio)
	if !a.CanOpenPosition {
		return PlaceResult{Assessment: a}, trip, rejection(a)
	}

	margin := a.RequiredMargin
	if wc, ok := e.cfg.Filler.(interface {
		WorstCaseFee(order.Order, decimal.Decimal) decimal.Decimal
	}); ok {
		fee := wc.WorstCaseFee(order.Order{Symbol: symbol, Side: req.Side, Type: req.Type, Size: a.Size}, ref)
		if available := e.ledger.Available(); margin.Add(fee).GreaterThan(available) {
			return PlaceResult{Assessment: a}, trip, fmt.Errorf("%w: margin %s plus fee %s exceeds available %s",
				ErrInsufficientMargin, margin, fee, available)
		}
	}
	if !e.ledger.LockMargin(margin) {
		return PlaceResult{Assessment: a}, trip, fmt.Errorf("%w: required %s, available %s",
			ErrInsufficientMargin, margin, e.ledger.Available())
	}

	spec.Size = a.Size
	created, err := e.orders.Create(spec)
	if err != nil {
		e.releaseLocked(margin)
		return PlaceResult{Assessment: a}, trip, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	e.emit(events.EventOrderCreated, symbol, created.ID, created)

	fill, err := e.orders.Quote(ctx, created.ID, ref)
	if err != nil {
		e.rejectLocked(created.ID, err)
		e.releaseLocked(margin)
		return PlaceResult{Assessment: a}, trip, fmt.Errorf("%w: %w", ErrExecution, err)
	}
	margin, err = e.fundFeeLocked(margin, fill.Fee)
	if err != nil {
		e.rejectLocked(created.ID, err)
		e.releaseLocked(margin)
		return PlaceResult{Assessment: a}, trip, err
	}

	now := e.now()
	pos, err := e.book.Open(position.OpenParams{
		Symbol:         symbol,
		Side:           side,
		Size:           created.Size,
		Margin:         margin,
		Leverage:       created.Leverage,
		EntryPrice:     fill.Price,
		StopLoss:       a.StopLoss,
		TakeProfit:     a.TakeProfit,
		TrailingOffset: req.TrailingOffset,
		Time:           now,
	})
	if err != nil {
		e.rejectLocked(created.ID, err)
		e.releaseLocked(margin)
		return PlaceResult{Assessment: a}, trip, e.bookError(err)
	}
	filled, err := e.orders.ApplyFill(created.ID, fill)
	if err != nil {
		_, _, _ = e.book.Close(symbol, fill.Price, now)
		e.releaseLocked(margin)
		return PlaceResult{Assessment: a}, trip, conflict(err)
	}
	if err := e.ledger.DeductFee(filled.Fee); err != nil {
		// fundFeeLocked left enough available for the fee.
		e.log.Error("fee deduction failed after funding", zap.Uint64("order_id", filled.ID), zap.Error(err))
	}
	e.tracker.RecordRealized(filled.Fee.Neg())
	e.marks[symbol] = filled.FillPrice

	e.emit(events.EventOrderFilled, symbol, filled.ID, filled)
	e.emit(events.EventPositionOpened, symbol, filled.ID, pos)
	e.cfg.Metrics.ObserveOrder(e.cfg.Account, string(filled.Status))
	e.cfg.Metrics.ObserveFee(e.cfg.Account, filled.Fee.InexactFloat64())
	e.publishAccountMetricsLocked()

	e.log.Info("position opened",
		zap.String("symbol", symbol),
		zap.Uint64("order_id", filled.ID),
		zap.String("side", string(side)),
		zap.Stringer("size", pos.Size),
		zap.Stringer("price", pos.EntryPrice),
		zap.Int("leverage", pos.Leverage),
		zap.Stringer("margin", pos.Margin),
		zap.Stringer("liquidation_price", pos.LiquidationPrice),
		zap.Stringer("fee", filled.Fee))

	return PlaceResult{Order: filled, Position: pos, Assessment: a}, trip, nil
}

// Assess runs the risk gate for req without acting on it.
func (e *Engine) Assess(ctx context.Context, req OrderRequest) (risk.Assessment, error) {
	if err := ctx.Err(); err != nil {
		return risk.Assessment{}, err
	}
	side, ok := positionSide(req.Side)
	if !ok {
		return risk.Assessment{}, invalid("side %q", req.Side)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	symbol := instrument.Normalize(req.Symbol)
	if req.Type == "" {
		req.Type = order.Market
	}
	ref, err := e.referencePriceLocked(symbol, req)
	if err != nil {
		return risk.Assessment{}, err
	}
	return e.gate.Assess(e.stateLocked(), risk.Proposal{
		Symbol:     symbol,
		Side:       side,
		Price:      ref,
		Leverage:   req.Leverage,
		Size:       req.Size,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	}), nil
}

// SetLeverage changes an open position's leverage and moves the margin
// difference on the ledger. A leverage whose liquidation price the last mark
// has already crossed is refused.
func (e *Engine) SetLeverage(ctx context.Context, symbol string, leverage int) (position.Position, error) {
	if err := ctx.Err(); err != nil {
		return position.Position{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	symbol = instrument.Normalize(symbol)
	if _, maxLeverage := e.orders.Limits(symbol); leverage < 1 || leverage > maxLeverage {
		return position.Position{}, invalid("leverage %d outside [1, %d]", leverage, maxLeverage)
	}
	pos, ok := e.book.Get(symbol)
	if !ok {
		return position.Position{}, conflict(fmt.Errorf("%w: %s", position.ErrNoPosition, symbol))
	}

	candidate := pos
	candidate.LiquidationPrice = position.LiquidationPrice(pos.Side, pos.EntryPrice, leverage, pos.MaintenanceMarginRate)
	if mark := e.markLocked(pos); candidate.Crossed(mark) {
		return position.Position{}, invalid("leverage %d puts liquidation at %s, past mark %s",
			leverage, candidate.LiquidationPrice, mark)
	}

	delta := pos.Notional().Div(decimal.NewFromInt(int64(leverage))).Sub(pos.Margin)
	if delta.IsPositive() && !e.ledger.LockMargin(delta) {
		return position.Position{}, fmt.Errorf("%w: leverage %d needs %s more margin, available %s",
			ErrInsufficientMargin, leverage, delta, e.ledger.Available())
	}
	_, after, err := e.book.SetLeverage(symbol, leverage)
	if err != nil {
		if delta.IsPositive() {
			e.releaseLocked(delta)
		}
		return position.Position{}, e.bookError(err)
	}
	if delta.IsNegative() {
		if err := e.ledger.ReleaseMargin(delta.Neg()); err != nil {
			return position.Position{}, conflict(err)
		}
	}

	e.emit(events.EventPositionUpdated, symbol, 0, after)
	e.log.Info("leverage changed",
		zap.String("symbol", symbol),
		zap.Int("from", pos.Leverage),
		zap.Int("to", leverage),
		zap.Stringer("margin", after.Margin),
		zap.Stringer("liquidation_price", after.LiquidationPrice))
	return after, nil
}

// SetProtection replaces the stop-loss, take-profit and trailing offset of an
// open position. Zero disables a level.
func (e *Engine) SetProtection(symbol string, stopLoss, takeProfit, trailingOffset decimal.Decimal) (position.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.book.SetProtection(symbol, stopLoss, takeProfit, trailingOffset)
	if err != nil {
		return position.Position{}, e.bookError(err)
	}
	e.emit(events.EventPositionUpdated, pos.Symbol, 0, pos)
	return pos, nil
}

// CancelOrder cancels an order that has not been filled.
func (e *Engine) CancelOrder(ctx context.Context, id uint64) (order.Order, error) {
	if err := ctx.Err(); err != nil {
		return order.Order{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.orders.Cancel(id)
	if err != nil {
		return order.Order{}, conflict(err)
	}
	e.emit(events.EventOrderCancelled, o.Symbol, o.ID, o)
	e.cfg.Metrics.ObserveOrder(e.cfg.Account, string(o.Status))
	return o, nil
}

// Snapshot returns balance, positions and portfolio gauges.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	state := e.stateLocked()
	pf := e.gate.Portfolio(state)
	e.mu.Unlock()

	active, trip := e.breaker.Status()
	return Snapshot{
		Account:   e.cfg.Account,
		Mode:      e.cfg.Mode,
		Balance:   state.Balance,
		Positions: state.Positions,
		Portfolio: pf,
		Equity:    state.Equity,
		Emergency: Emergency{Active: active, Trip: trip},
		At:        e.now(),
	}
}

// Positions lists open positions ordered by symbol.
func (e *Engine) Positions() []position.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.List()
}

// Orders lists the most recent orders, oldest first.
func (e *Engine) Orders(limit int) []order.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.List(limit)
}

// Activity lists recent lifecycle records, oldest first. Position updates
// from price ticks are not kept.
func (e *Engine) Activity(limit int) []events.Record {
	return e.activity.List(limit)
}

// Balance returns the ledger snapshot.
func (e *Engine) Balance() balance.Balance {
	return e.ledger.Snapshot()
}

// ResetSimulation discards all positions, orders and activity and restarts
// the ledger at initial (the configured balance when zero). Live accounts
// cannot be reset.
func (e *Engine) ResetSimulation(ctx context.Context, initial decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if initial.IsZero() {
		initial = e.cfg.InitialBalance
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ledger.Reset(initial); err != nil {
		if errors.Is(err, balance.ErrResetNotAllowed) {
			return conflict(err)
		}
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	e.book.Clear()
	e.orders.Reset()
	e.tracker.Reset(initial)
	e.activity.Reset()
	e.emit(events.EventSimulationReset, "", 0, e.ledger.Snapshot())
	e.publishAccountMetricsLocked()
	e.log.Info("simulation reset", zap.Stringer("initial", initial))
	return nil
}

// ResetEmergency clears the emergency flag. It reports whether the flag was set.
func (e *Engine) ResetEmergency() bool {
	if !e.breaker.Reset() {
		return false
	}
	e.emit(events.EventEmergencyReset, "", 0, nil)
	e.cfg.Metrics.SetEmergency(false)
	e.log.Info("emergency stop cleared")
	return true
}

// stateLocked builds the gate's view and advances the equity tracker.
func (e *Engine) stateLocked() risk.State {
	bal := e.ledger.Snapshot()
	_, unrealized := e.book.Exposure()
	return risk.State{
		Balance:   bal,
		Positions: e.book.List(),
		Equity:    e.tracker.Observe(bal.Total.Add(unrealized)),
	}
}

// referencePriceLocked is the request price, else the last mark for market orders.
func (e *Engine) referencePriceLocked(symbol string, req OrderRequest) (decimal.Decimal, error) {
	if req.Price.IsNegative() {
		return decimal.Zero, invalid("negative price %s", req.Price)
	}
	if req.Price.IsPositive() {
		return req.Price, nil
	}
	if req.Type != order.Market {
		return decimal.Zero, invalid("%s order requires a price", req.Type)
	}
	if mark, ok := e.marks[symbol]; ok {
		return mark, nil
	}
	return decimal.Zero, invalid("no price for %s", symbol)
}

func (e *Engine) markLocked(pos position.Position) decimal.Decimal {
	if mark, ok := e.marks[pos.Symbol]; ok {
		return mark
	}
	if pos.MarkPrice.IsPositive() {
		return pos.MarkPrice
	}
	return pos.EntryPrice
}

func (e *Engine) releaseLocked(amount decimal.Decimal) {
	if err := e.ledger.ReleaseMargin(amount); err != nil {
		e.log.Error("margin release failed", zap.Stringer("amount", amount), zap.Error(err))
	}
}

// fundFeeLocked makes sure the fee of a fill can be paid once margin is
// locked and returns the margin the position should carry. A simulated fill
// the account cannot pay for is refused with ErrInsufficientMargin. A live
// fill has already happened on the exchange, so the shortfall is taken out
// of the position's margin instead.
func (e *Engine) fundFeeLocked(margin, fee decimal.Decimal) (decimal.Decimal, error) {
	available := e.ledger.Available()
	if !fee.GreaterThan(available) {
		return margin, nil
	}
	shortfall := fee.Sub(available)
	if e.cfg.Mode != ModeLive || !shortfall.LessThan(margin) {
		return margin, fmt.Errorf("%w: margin %s plus fee %s exceeds available %s",
			ErrInsufficientMargin, margin, fee, available.Add(margin))
	}
	if err := e.ledger.ReleaseMargin(shortfall); err != nil {
		return margin, conflict(err)
	}
	e.log.Warn("confirmed fee exceeds free balance; paid from position margin",
		zap.Stringer("fee", fee), zap.Stringer("shortfall", shortfall), zap.Stringer("margin", margin.Sub(shortfall)))
	return margin.Sub(shortfall), nil
}

func (e *Engine) rejectLocked(id uint64, cause error) {
	o, err := e.orders.Reject(id, cause.Error())
	if err != nil {
		e.log.Error("order reject failed", zap.Uint64("order_id", id), zap.Error(err))
		return
	}
	e.emit(events.EventOrderRejected, o.Symbol, o.ID, o)
	e.cfg.Metrics.ObserveOrder(e.cfg.Account, string(o.Status))
}

// bookError classifies a position book failure.
func (e *Engine) bookError(err error) error {
	switch {
	case errors.Is(err, position.ErrInvalidPosition):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	default:
		return conflict(err)
	}
}

// breach turns a portfolio breach into a pending trip. Trips are raised by
// the caller after e.mu is released because breaker listeners lock engines.
func (e *Engine) breach(pf risk.Portfolio) *risk.Trip {
	if !pf.Breach || e.breaker.Active() {
		return nil
	}
	msgs := make([]string, 0, len(pf.Reasons))
	for _, r := range pf.Reasons {
		if r.Code == risk.CodeMaxDrawdown || r.Code == risk.CodeMaxDailyLoss || r.Code == risk.CodeNoEquity {
			msgs = append(msgs, r.Message)
		}
	}
	return &risk.Trip{Account: e.cfg.Account, Reason: strings.Join(msgs, "; "), At: e.now()}
}

// checkPortfolioLocked re-evaluates the account-wide gates after a change.
func (e *Engine) checkPortfolioLocked() *risk.Trip {
	pf := e.gate.Portfolio(e.stateLocked())
	e.cfg.Metrics.SetAccount(e.cfg.Account, pf.Equity.InexactFloat64(), e.book.Len())
	return e.breach(pf)
}

// trip raises the emergency flag. Must not be called with e.mu held.
func (e *Engine) trip(t *risk.Trip) {
	if t == nil || !e.breaker.Trip(*t) {
		return
	}
	e.cfg.Metrics.SetEmergency(true)
	e.emit(events.EventEmergencyTripped, "", 0, *t)
	e.log.Error("emergency stop tripped", zap.String("reason", t.Reason))
}

// onEmergency closes every open position at its last mark.
func (e *Engine) onEmergency(t risk.Trip) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, pos := range e.book.List() {
		if _, err := e.closeLocked(context.Background(), pos.Symbol, e.markLocked(pos), CloseEmergency); err != nil {
			e.log.Error("emergency close failed", zap.String("symbol", pos.Symbol), zap.Error(err))
		}
	}
	e.publishAccountMetricsLocked()
}

// onEmergencyReset starts drawdown and daily loss over from current equity,
// otherwise a flat account could never clear a drawdown breach.
func (e *Engine) onEmergencyReset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	bal := e.ledger.Snapshot()
	_, unrealized := e.book.Exposure()
	e.tracker.Reset(bal.Total.Add(unrealized))
}

func (e *Engine) emit(typ events.Event, symbol string, orderID uint64, data any) events.Record {
	rec := e.emitter.Emit(events.Record{
		Type:    typ,
		Account: e.cfg.Account,
		Symbol:  symbol,
		OrderID: orderID,
		Time:    e.now(),
		Data:    data,
	})
	if typ != events.EventPositionUpdated {
		e.activity.Append(rec)
	}
	return rec
}

func (e *Engine) publishAccountMetrics() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishAccountMetricsLocked()
}

func (e *Engine) publishAccountMetricsLocked() {
	if e.cfg.Metrics == nil {
		return
	}
	_, unrealized := e.book.Exposure()
	equity := e.ledger.Snapshot().Total.Add(unrealized)
	e.cfg.Metrics.SetAccount(e.cfg.Account, equity.InexactFloat64(), e.book.Len())
}

// logFailure logs by error kind: conflicts loudly, expected rejections quietly.
func (e *Engine) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("kind", Kind(err)), zap.Error(err))
	switch {
	case errors.Is(err, ErrStateConflict):
		e.log.Error(msg, fields...)
	case errors.Is(err, ErrExecution):
		e.log.Warn(msg, fields...)
	default:
		e.log.Info(msg, fields...)
	}
}

func positionSide(s order.Side) (position.Side, bool) {
	switch s {
	case order.Buy:
		return position.Long, true
	case order.Sell:
		return position.Short, true
	}
	return "", false
}

func closingSide(s position.Side) order.Side {
	if s == position.Long {
		return order.Sell
	}
	return order.Buy
}
