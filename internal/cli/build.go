package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-sim/internal/engine"
	"trading-sim/internal/instrument"
	"trading-sim/internal/monitor"
	"trading-sim/internal/order"
	"trading-sim/internal/risk"
	"trading-sim/pkg/config"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func riskConfig(rc config.RiskConfig) risk.Config {
	return risk.Config{
		MaxRiskPerTradePct:      dec(rc.MaxRiskPerTradePct),
		MaxDrawdownPct:          dec(rc.MaxDrawdownPct),
		MaxDailyLossPct:         dec(rc.MaxDailyLossPct),
		MaxLeverageUtilization:  dec(rc.MaxLeverageUtilization),
		StopATRMultiplier:       dec(rc.StopATRMultiplier),
		TakeProfitATRMultiplier: dec(rc.TakeProfitATRMultiplier),
		FallbackVolatilityPct:   dec(rc.FallbackVolatilityPct),
	}
}

// engineConfig turns the process configuration into the template every
// account engine is built from.
func engineConfig(cfg *config.Config, catalog *instrument.Catalog, metrics *monitor.Collectors, log *zap.Logger) (engine.Config, error) {
	ec := engine.Config{
		Mode:               engine.Mode(cfg.Mode),
		InitialBalance:     dec(cfg.Sim.InitialBalance),
		Catalog:            catalog,
		LiquidationFeeRate: dec(cfg.Sim.LiquidationFeeRate),
		MinOrderSize:       dec(cfg.Sim.MinOrderSize),
		MaxLeverage:        cfg.Sim.MaxLeverage,
		Risk:               riskConfig(cfg.Risk),
		Volatility:         risk.NewVolatility(cfg.Risk.ATRPeriod, cfg.Risk.ATRInterval),
		Logger:             log,
		Metrics:            metrics,
	}
	switch ec.Mode {
	case engine.ModeSimulated:
		ec.Filler = order.NewSimulatedFiller(catalog,
			order.NewRandSlippage(cfg.Sim.SlippageSeed), dec(cfg.Sim.MaxSlippage))
	case engine.ModeLive:
		return engine.Config{}, fmt.Errorf("live mode needs an exchange adapter; none is configured in this build")
	default:
		return engine.Config{}, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	return ec, nil
}
