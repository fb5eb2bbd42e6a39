// Package risk decides whether a proposed trade may open and at what size,
// places ATR-scaled protective levels, and guards the portfolio with
// drawdown, daily-loss and leverage-utilization breakers.
package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"trading-sim/internal/balance"
	"trading-sim/internal/position"
)

// Config holds the gate's limits. Percentages are expressed as 0-100.
type Config struct {
	MaxRiskPerTradePct     decimal.Decimal
	MaxDrawdownPct         decimal.Decimal
	MaxDailyLossPct        decimal.Decimal
	MaxLeverageUtilization decimal.Decimal // open notional / equity

	StopATRMultiplier       decimal.Decimal // k
	TakeProfitATRMultiplier decimal.Decimal // m
	// FallbackVolatilityPct stands in for ATR, as a percent of price, until
	// enough bars have been seen.
	FallbackVolatilityPct decimal.Decimal
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxRiskPerTradePct:      decimal.NewFromInt(2),
		MaxDrawdownPct:          decimal.NewFromInt(20),
		MaxDailyLossPct:         decimal.NewFromInt(5),
		MaxLeverageUtilization:  decimal.NewFromInt(20),
		StopATRMultiplier:       decimal.NewFromInt(2),
		TakeProfitATRMultiplier: decimal.NewFromInt(3),
		FallbackVolatilityPct:   decimal.NewFromInt(1),
	}
}

// Proposal is a trade the caller would like to open.
type Proposal struct {
	Symbol   string
	Side     position.Side
	Price    decimal.Decimal
	Leverage int
	// Size is optional; zero asks the gate for its recommended size.
	Size decimal.Decimal
	// StopLoss and TakeProfit optionally override the ATR levels.
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// State is the read-only account view the gate evaluates against.
type State struct {
	Balance   balance.Balance
	Positions []position.Position
	Equity    Equity
}

// Code classifies a reason.
type Code string

const (
	CodeInvalidProposal     Code = "INVALID_PROPOSAL"
	CodePositionExists      Code = "POSITION_EXISTS"
	CodeSizeBelowMinimum    Code = "SIZE_BELOW_MINIMUM"
	CodeInsufficientMargin  Code = "INSUFFICIENT_MARGIN"
	CodeSizeReduced         Code = "SIZE_REDUCED"
	CodeVolatilityFallback  Code = "VOLATILITY_FALLBACK"
	CodeStopDisabled        Code = "STOP_DISABLED"
	CodeMaxDrawdown         Code = "MAX_DRAWDOWN"
	CodeMaxDailyLoss        Code = "MAX_DAILY_LOSS"
	CodeLeverageUtilization Code = "LEVERAGE_UTILIZATION"
	CodeNoEquity            Code = "NO_EQUITY"
)

// Reason is a rejection (Blocking) or a warning.
type Reason struct {
	Code     Code   `json:"code"`
	Message  string `json:"message"`
	Blocking bool   `json:"blocking"`
}

// Portfolio summarizes the account-wide gates.
type Portfolio struct {
	Equity              decimal.Decimal `json:"equity"`
	PeakEquity          decimal.Decimal `json:"peak_equity"`
	DrawdownPct         decimal.Decimal `json:"drawdown_pct"`
	DailyPnL            decimal.Decimal `json:"daily_pnl"`
	DailyLossPct        decimal.Decimal `json:"daily_loss_pct"`
	OpenNotional        decimal.Decimal `json:"open_notional"`
	UnrealizedPnL       decimal.Decimal `json:"unrealized_pnl"`
	LeverageUtilization decimal.Decimal `json:"leverage_utilization"`
	// Breach is set when drawdown or daily loss hit their limit; the caller
	// must raise the emergency flag.
	Breach  bool     `json:"breach"`
	Reasons []Reason `json:"reasons,omitempty"`
}

// Assessment is the gate's answer to a Proposal. It is recomputed on every
// proposal and never stored.
type Assessment struct {
	Symbol   string          `json:"symbol"`
	Side     position.Side   `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Leverage int             `json:"leverage"`

	RecommendedSize decimal.Decimal `json:"recommended_size"`
	// Size is what should be traded: the requested size, capped at the
	// recommendation, or the recommendation when none was requested.
	Size           decimal.Decimal `json:"size"`
	RequiredMargin decimal.Decimal `json:"required_margin"`

	ATR        decimal.Decimal `json:"atr"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	RiskReward decimal.Decimal `json:"risk_reward"`

	CanOpenPosition bool      `json:"can_open_position"`
	Reasons         []Reason  `json:"reasons,omitempty"`
	Portfolio       Portfolio `json:"portfolio"`
	AssessedAt      time.Time `json:"assessed_at"`
}

// Has reports whether a reason with code is present.
func (a Assessment) Has(code Code) bool {
	for _, r := range a.Reasons {
		if r.Code == code {
			return true
		}
	}
	return false
}

// Blocking returns the blocking reasons.
func (a Assessment) Blocking() []Reason {
	var out []Reason
	for _, r := range a.Reasons {
		if r.Blocking {
			out = append(out, r)
		}
	}
	return out
}

func (a *Assessment) block(code Code, msg string) {
	a.Reasons = append(a.Reasons, Reason{Code: code, Message: msg, Blocking: true})
	a.CanOpenPosition = false
}

func (a *Assessment) warn(code Code, msg string) {
	a.Reasons = append(a.Reasons, Reason{Code: code, Message: msg})
}
