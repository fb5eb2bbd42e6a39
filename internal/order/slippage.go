package order

import (
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// SlippageSource yields a fraction in [0, 1] of the configured maximum slippage.
type SlippageSource interface {
	Sample() decimal.Decimal
}

// RandSlippage draws uniformly from a seeded generator.
type RandSlippage struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandSlippage seeds the generator; seed 0 uses the current time.
func NewRandSlippage(seed int64) *RandSlippage {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandSlippage{rng: rand.New(rand.NewSource(seed))}
}

func (r *RandSlippage) Sample() decimal.Decimal {
	r.mu.Lock()
	v := r.rng.Float64()
	r.mu.Unlock()
	return decimal.NewFromFloat(v)
}

// FixedSlippage always returns the same fraction, clamped to [0, 1].
type FixedSlippage float64

func (f FixedSlippage) Sample() decimal.Decimal {
	switch {
	case f < 0:
		return decimal.Zero
	case f > 1:
		return one
	}
	return decimal.NewFromFloat(float64(f))
}
