package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trading-sim/internal/instrument"
	"trading-sim/internal/position"
)

var hundred = decimal.NewFromInt(100)

// sizePrecision bounds recommended sizes for instruments without a lot step.
const sizePrecision = 8

// VolatilitySource supplies the current ATR for a symbol.
type VolatilitySource interface {
	ATR(symbol string) (decimal.Decimal, bool)
}

// Gate evaluates proposals. It holds no account state; Assess is a pure
// function of its inputs and the volatility source.
type Gate struct {
	cfg     Config
	catalog *instrument.Catalog
	vol     VolatilitySource
}

// NewGate creates a gate. vol may be nil, in which case the fallback
// volatility is always used.
func NewGate(cfg Config, catalog *instrument.Catalog, vol VolatilitySource) *Gate {
	if catalog == nil {
		catalog = instrument.NewCatalog(instrument.Spec{})
	}
	return &Gate{cfg: cfg, catalog: catalog, vol: vol}
}

// Config returns the gate limits.
func (g *Gate) Config() Config { return g.cfg }

// Assess computes protective levels, the permitted size and the go/no-go
// decision for p.
func (g *Gate) Assess(s State, p Proposal) Assessment {
	symbol := instrument.Normalize(p.Symbol)
	a := Assessment{
		Symbol:          symbol,
		Side:            p.Side,
		Price:           p.Price,
		Leverage:        p.Leverage,
		CanOpenPosition: true,
		AssessedAt:      s.Equity.At,
	}
	if a.AssessedAt.IsZero() {
		a.AssessedAt = time.Now()
	}

	switch {
	case symbol == "":
		a.block(CodeInvalidProposal, "symbol required")
	case p.Side != position.Long && p.Side != position.Short:
		a.block(CodeInvalidProposal, fmt.Sprintf("invalid side %q", p.Side))
	case !p.Price.IsPositive():
		a.block(CodeInvalidProposal, "price must be positive")
	case p.Leverage < 1:
		a.block(CodeInvalidProposal, "leverage must be at least 1")
	case p.Size.IsNegative():
		a.block(CodeInvalidProposal, "size must not be negative")
	}
	if !a.CanOpenPosition {
		a.Portfolio = g.Portfolio(s)
		a.Reasons = append(a.Reasons, a.Portfolio.Reasons...)
		return a
	}

	for _, pos := range s.Positions {
		if pos.Symbol == symbol {
			a.block(CodePositionExists, fmt.Sprintf("position already open for %s", symbol))
			break
		}
	}

	g.protectiveLevels(&a, p)
	g.size(&a, s, p)

	a.Portfolio = g.Portfolio(s)
	for _, r := range a.Portfolio.Reasons {
		a.Reasons = append(a.Reasons, r)
		if r.Blocking {
			a.CanOpenPosition = false
		}
	}
	return a
}

// protectiveLevels sets stop-loss, take-profit and risk/reward.
func (g *Gate) protectiveLevels(a *Assessment, p Proposal) {
	atr, ok := decimal.Zero, false
	if g.vol != nil {
		atr, ok = g.vol.ATR(a.Symbol)
	}
	if !ok || !atr.IsPositive() {
		atr = p.Price.Mul(g.cfg.FallbackVolatilityPct).Div(hundred)
		a.warn(CodeVolatilityFallback,
			fmt.Sprintf("volatility not ready, using %s%% of price", g.cfg.FallbackVolatilityPct))
	}
	a.ATR = atr

	stopDist := atr.Mul(g.cfg.StopATRMultiplier)
	tpDist := atr.Mul(g.cfg.TakeProfitATRMultiplier)
	if p.Side == position.Long {
		a.StopLoss = p.Price.Sub(stopDist)
		a.TakeProfit = p.Price.Add(tpDist)
	} else {
		a.StopLoss = p.Price.Add(stopDist)
		a.TakeProfit = p.Price.Sub(tpDist)
	}

	if p.StopLoss.IsPositive() {
		a.StopLoss = p.StopLoss
	}
	if p.TakeProfit.IsPositive() {
		a.TakeProfit = p.TakeProfit
	}

	if !a.StopLoss.IsPositive() {
		a.StopLoss = decimal.Zero
		a.warn(CodeStopDisabled, "stop-loss distance exceeds price; stop disabled")
	}
	if !a.TakeProfit.IsPositive() {
		a.TakeProfit = decimal.Zero
	}

	long := p.Side == position.Long
	if a.StopLoss.IsPositive() &&
		((long && a.StopLoss.GreaterThanOrEqual(p.Price)) || (!long && a.StopLoss.LessThanOrEqual(p.Price))) {
		a.block(CodeInvalidProposal, fmt.Sprintf("stop-loss %s on wrong side of price %s", a.StopLoss, p.Price))
	}
	if a.TakeProfit.IsPositive() &&
		((long && a.TakeProfit.LessThanOrEqual(p.Price)) || (!long && a.TakeProfit.GreaterThanOrEqual(p.Price))) {
		a.block(CodeInvalidProposal, fmt.Sprintf("take-profit %s on wrong side of price %s", a.TakeProfit, p.Price))
	}

	a.RiskReward = RiskReward(p.Price, a.StopLoss, a.TakeProfit)
}

// size computes the recommended size and the size to trade.
func (g *Gate) size(a *Assessment, s State, p Proposal) {
	spec := g.catalog.Get(a.Symbol)
	lev := decimal.NewFromInt(int64(p.Leverage))

	budget := s.Balance.Total.Mul(g.cfg.MaxRiskPerTradePct).Div(hundred)
	maxMargin := decimal.Min(budget, s.Balance.Available)
	if maxMargin.IsNegative() {
		maxMargin = decimal.Zero
	}
	rec := maxMargin.Mul(lev).Div(p.Price)
	if spec.SizeStep.IsPositive() {
		rec = spec.FloorToStep(rec)
	} else {
		rec = rec.Truncate(sizePrecision)
	}
	a.RecommendedSize = rec

	size := rec
	if p.Size.IsPositive() {
		size = p.Size
		margin := MarginFor(size, p.Price, p.Leverage)
		if margin.GreaterThan(s.Balance.Available) {
			a.Size = size
			a.RequiredMargin = margin
			a.block(CodeInsufficientMargin,
				fmt.Sprintf("insufficient margin: required %s, available %s", margin, s.Balance.Available))
			return
		}
		if size.GreaterThan(rec) {
			a.warn(CodeSizeReduced,
				fmt.Sprintf("size %s exceeds per-trade risk limit, reduced to %s", size, rec))
			size = rec
		}
	}

	a.Size = size
	a.RequiredMargin = MarginFor(size, p.Price, p.Leverage)
	if size.LessThan(spec.MinSize) || !size.IsPositive() {
		a.block(CodeSizeBelowMinimum,
			fmt.Sprintf("size below minimum: %s < %s", size, spec.MinSize))
	}
}

// Portfolio evaluates the account-wide gates, independent of any proposal.
func (g *Gate) Portfolio(s State) Portfolio {
	var pf Portfolio
	notional, unrealized := decimal.Zero, decimal.Zero
	for _, pos := range s.Positions {
		notional = notional.Add(pos.Notional())
		unrealized = unrealized.Add(pos.UnrealizedPnL)
	}
	pf.OpenNotional = notional
	pf.UnrealizedPnL = unrealized
	pf.Equity = s.Balance.Total.Add(unrealized)
	pf.PeakEquity = decimal.Max(s.Equity.Peak, pf.Equity)
	pf.DailyPnL = s.Equity.DailyRealized.Add(unrealized)

	if !pf.Equity.IsPositive() {
		pf.Breach = true
		pf.Reasons = append(pf.Reasons, Reason{Code: CodeNoEquity, Message: "account equity exhausted", Blocking: true})
		return pf
	}

	if pf.PeakEquity.IsPositive() {
		pf.DrawdownPct = pf.PeakEquity.Sub(pf.Equity).Div(pf.PeakEquity).Mul(hundred)
	}
	if g.cfg.MaxDrawdownPct.IsPositive() && pf.DrawdownPct.GreaterThanOrEqual(g.cfg.MaxDrawdownPct) {
		pf.Breach = true
		pf.Reasons = append(pf.Reasons, Reason{
			Code:     CodeMaxDrawdown,
			Message:  fmt.Sprintf("drawdown %s%% reached limit %s%%", pf.DrawdownPct.StringFixed(2), g.cfg.MaxDrawdownPct),
			Blocking: true,
		})
	}

	if s.Equity.DayStart.IsPositive() && pf.DailyPnL.IsNegative() {
		pf.DailyLossPct = pf.DailyPnL.Neg().Div(s.Equity.DayStart).Mul(hundred)
	}
	if g.cfg.MaxDailyLossPct.IsPositive() && pf.DailyLossPct.GreaterThanOrEqual(g.cfg.MaxDailyLossPct) {
		pf.Breach = true
		pf.Reasons = append(pf.Reasons, Reason{
			Code:     CodeMaxDailyLoss,
			Message:  fmt.Sprintf("daily loss %s%% reached limit %s%%", pf.DailyLossPct.StringFixed(2), g.cfg.MaxDailyLossPct),
			Blocking: true,
		})
	}

	pf.LeverageUtilization = notional.Div(pf.Equity)
	if g.cfg.MaxLeverageUtilization.IsPositive() && pf.LeverageUtilization.GreaterThan(g.cfg.MaxLeverageUtilization) {
		pf.Reasons = append(pf.Reasons, Reason{
			Code: CodeLeverageUtilization,
			Message: fmt.Sprintf("leverage utilization %sx exceeds cap %sx",
				pf.LeverageUtilization.StringFixed(2), g.cfg.MaxLeverageUtilization),
			Blocking: true,
		})
	}
	return pf
}

// MarginFor is size*price/leverage.
func MarginFor(size, price decimal.Decimal, leverage int) decimal.Decimal {
	if leverage < 1 {
		leverage = 1
	}
	return size.Mul(price).Div(decimal.NewFromInt(int64(leverage)))
}

// RiskReward is |takeProfit-price| / |price-stopLoss|; zero when either level is unset.
func RiskReward(price, stopLoss, takeProfit decimal.Decimal) decimal.Decimal {
	if !stopLoss.IsPositive() || !takeProfit.IsPositive() {
		return decimal.Zero
	}
	risk := price.Sub(stopLoss).Abs()
	if risk.IsZero() {
		return decimal.Zero
	}
	return takeProfit.Sub(price).Abs().Div(risk)
}
