// Package signal carries strategy signals to the engine. Signals at or below
// the confidence threshold are dropped before a proposal is ever built; the
// risk gate never sees them.
package signal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trading-sim/internal/engine"
	"trading-sim/internal/order"
)

// DefaultThreshold is the minimum confidence a signal must exceed.
const DefaultThreshold = 0.75

var ErrInvalidSignal = errors.New("invalid signal")

// Signal is a directional call from a strategy.
type Signal struct {
	Symbol     string     `json:"symbol"`
	Side       order.Side `json:"side"`
	Confidence float64    `json:"confidence"`
	Timeframe  string     `json:"timeframe"`
	Source     string     `json:"source,omitempty"`
	Account    string     `json:"account,omitempty"`
	Note       string     `json:"note,omitempty"`

	// Optional execution hints; zero values defer to the engine and risk gate.
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	Leverage   int             `json:"leverage"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`

	At time.Time `json:"at"`
}

// Validate checks the fields every signal must carry.
func (s Signal) Validate() error {
	switch {
	case strings.TrimSpace(s.Symbol) == "":
		return fmt.Errorf("%w: symbol required", ErrInvalidSignal)
	case s.Side != order.Buy && s.Side != order.Sell:
		return fmt.Errorf("%w: side %q", ErrInvalidSignal, s.Side)
	case s.Confidence < 0 || s.Confidence > 1:
		return fmt.Errorf("%w: confidence %v outside [0, 1]", ErrInvalidSignal, s.Confidence)
	case s.Leverage < 0:
		return fmt.Errorf("%w: leverage %d", ErrInvalidSignal, s.Leverage)
	}
	return nil
}

// Request converts the signal into a market order request.
func (s Signal) Request(defaultLeverage int) engine.OrderRequest {
	lev := s.Leverage
	if lev == 0 {
		lev = defaultLeverage
	}
	return engine.OrderRequest{
		Symbol:     s.Symbol,
		Side:       s.Side,
		Type:       order.Market,
		Size:       s.Size,
		Price:      s.Price,
		Leverage:   lev,
		StopLoss:   s.StopLoss,
		TakeProfit: s.TakeProfit,
	}
}

// Filter drops low-confidence signals.
type Filter struct {
	Threshold float64
}

// NewFilter returns a filter; a threshold outside (0, 1) uses DefaultThreshold.
func NewFilter(threshold float64) Filter {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultThreshold
	}
	return Filter{Threshold: threshold}
}

// Accept reports whether s is strictly above the threshold.
func (f Filter) Accept(s Signal) bool {
	return s.Confidence > f.Threshold
}
