package order

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"trading-sim/internal/instrument"
)

// Fill is the execution of an order: price and fee, plus the reference it
// was computed from.
type Fill struct {
	ReferencePrice decimal.Decimal
	Price          decimal.Decimal
	Fee            decimal.Decimal
}

// Filler turns an order and reference price into a Fill. Simulated accounts
// compute it; live accounts wait for the exchange to confirm it.
type Filler interface {
	Fill(ctx context.Context, o Order, referencePrice decimal.Decimal) (Fill, error)
}

// FeeRate returns the fee rate for an order: maker for limit orders, taker otherwise.
func FeeRate(spec instrument.Spec, t Type) decimal.Decimal {
	if t == Limit {
		return spec.MakerFeeRate
	}
	return spec.TakerFeeRate
}

// SimulatedFiller applies side-biased slippage and the catalog fee schedule.
type SimulatedFiller struct {
	Catalog     *instrument.Catalog
	Slippage    SlippageSource
	MaxSlippage decimal.Decimal // fraction of the reference price, e.g. 0.001
}

// NewSimulatedFiller creates a filler; a nil source means no slippage.
func NewSimulatedFiller(catalog *instrument.Catalog, src SlippageSource, maxSlippage decimal.Decimal) *SimulatedFiller {
	if src == nil {
		src = FixedSlippage(0)
	}
	if catalog == nil {
		catalog = instrument.NewCatalog(instrument.Spec{})
	}
	return &SimulatedFiller{Catalog: catalog, Slippage: src, MaxSlippage: maxSlippage}
}

// Fill prices buys up and sells down by a sampled fraction of MaxSlippage.
func (f *SimulatedFiller) Fill(_ context.Context, o Order, ref decimal.Decimal) (Fill, error) {
	slip := f.MaxSlippage.Mul(f.Slippage.Sample())
	price := ref.Mul(one.Add(slip))
	if o.Side == Sell {
		price = ref.Mul(one.Sub(slip))
	}
	fee := o.Size.Mul(price).Mul(FeeRate(f.Catalog.Get(o.Symbol), o.Type))
	return Fill{ReferencePrice: ref, Price: price, Fee: fee}, nil
}

// WorstCaseFee is the largest fee Fill could charge for an order at ref.
func (f *SimulatedFiller) WorstCaseFee(o Order, ref decimal.Decimal) decimal.Decimal {
	price := ref.Mul(one.Add(f.MaxSlippage))
	return o.Size.Mul(price).Mul(FeeRate(f.Catalog.Get(o.Symbol), o.Type))
}

// Confirmation is what an exchange reports for an executed order.
type Confirmation struct {
	Price decimal.Decimal
	Fee   decimal.Decimal
}

// ExchangeAdapter submits an order to a live venue and blocks until it is confirmed.
type ExchangeAdapter interface {
	Confirm(ctx context.Context, o Order, referencePrice decimal.Decimal) (Confirmation, error)
}

// ConfirmedFiller takes price and fee from exchange confirmations. A
// confirmation further than MaxDeviation from the reference is refused;
// zero disables the check.
type ConfirmedFiller struct {
	Adapter      ExchangeAdapter
	MaxDeviation decimal.Decimal
	// Catalog supplies the fee schedule used to bound fees before an order
	// is sent. Nil disables the bound.
	Catalog *instrument.Catalog
}

// WorstCaseFee estimates the fee an exchange will charge from the catalog
// rate at the furthest accepted price. The venue may still charge more.
func (f *ConfirmedFiller) WorstCaseFee(o Order, ref decimal.Decimal) decimal.Decimal {
	if f.Catalog == nil {
		return decimal.Zero
	}
	price := ref.Mul(one.Add(f.MaxDeviation))
	return o.Size.Mul(price).Mul(FeeRate(f.Catalog.Get(o.Symbol), o.Type))
}

// Fill waits for the adapter and validates its confirmation.
func (f *ConfirmedFiller) Fill(ctx context.Context, o Order, ref decimal.Decimal) (Fill, error) {
	c, err := f.Adapter.Confirm(ctx, o, ref)
	if err != nil {
		return Fill{}, fmt.Errorf("%w: exchange: %v", ErrFillRejected, err)
	}
	if !c.Price.IsPositive() || c.Fee.IsNegative() {
		return Fill{}, fmt.Errorf("%w: confirmation price=%s fee=%s", ErrFillRejected, c.Price, c.Fee)
	}
	if f.MaxDeviation.IsPositive() {
		dev := c.Price.Sub(ref).Abs().Div(ref)
		if dev.GreaterThan(f.MaxDeviation) {
			return Fill{}, fmt.Errorf("%w: confirmed price %s deviates %s from reference %s",
				ErrFillRejected, c.Price, dev, ref)
		}
	}
	return Fill{ReferencePrice: ref, Price: c.Price, Fee: c.Fee}, nil
}
