package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SIM_MODE", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeSimulated, cfg.Mode)
	assert.Equal(t, 10000.0, cfg.Sim.InitialBalance)
	assert.Equal(t, 0.005, cfg.Sim.MaintenanceMarginRate)
	assert.Equal(t, 0.75, cfg.SignalConfidenceThreshold)
	assert.Equal(t, time.Minute, cfg.Risk.ATRInterval)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SIM_INITIAL_BALANCE", "2500")
	t.Setenv("SIM_MAX_LEVERAGE", "20")
	t.Setenv("RISK_ATR_INTERVAL", "5m")
	t.Setenv("SYMBOLS", "btcusdt, solusdt ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2500.0, cfg.Sim.InitialBalance)
	assert.Equal(t, 20, cfg.Sim.MaxLeverage)
	assert.Equal(t, 5*time.Minute, cfg.Risk.ATRInterval)
	assert.Equal(t, []string{"btcusdt", "solusdt"}, cfg.Symbols)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "paper" }},
		{"zero balance", func(c *Config) { c.Sim.InitialBalance = 0 }},
		{"fee rate out of range", func(c *Config) { c.Sim.TakerFeeRate = 1.5 }},
		{"liquidation fee above maintenance", func(c *Config) { c.Sim.LiquidationFeeRate = 0.01 }},
		{"leverage below one", func(c *Config) { c.Sim.MaxLeverage = 0 }},
		{"risk per trade zero", func(c *Config) { c.Risk.MaxRiskPerTradePct = 0 }},
		{"threshold above one", func(c *Config) { c.SignalConfidenceThreshold = 1.2 }},
		{"unknown strategy", func(c *Config) { c.SignalStrategy = "grid" }},
		{"signal leverage above max", func(c *Config) { c.SignalLeverage = 500 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestCatalogFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
instruments:
  - symbol: BTCUSDT
    max_leverage: 125
    size_step: 0.001
  - symbol: DOGEUSDT
    max_leverage: 20
    min_size: 10
    maintenance_margin_rate: 0.01
`), 0o644))

	cfg := Default()
	cfg.InstrumentsPath = path
	cat, err := cfg.Catalog()
	require.NoError(t, err)

	btc := cat.Get("BTCUSDT")
	assert.Equal(t, 125, btc.MaxLeverage)
	assert.True(t, btc.MaintenanceMarginRate.Equal(decimal.RequireFromString("0.005")))

	doge := cat.Get("dogeusdt")
	assert.Equal(t, 20, doge.MaxLeverage)
	assert.True(t, doge.MinSize.Equal(decimal.NewFromInt(10)))
	assert.True(t, doge.MaintenanceMarginRate.Equal(decimal.RequireFromString("0.01")))
}

func TestLoadInstrumentsRejectsMissingSymbol(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instruments:\n  - max_leverage: 5\n"), 0o644))
	_, err := LoadInstruments(path)
	assert.Error(t, err)
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
initial_balance: 10000
steps:
  - tick: {symbol: BTCUSDT, price: 50000}
  - order: {symbol: BTCUSDT, side: buy, type: market, size: 0.01, leverage: 10}
  - close: {symbol: BTCUSDT, price: 50500}
`), 0o644))

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "replay", sc.Account)
	require.Len(t, sc.Steps, 3)
	assert.NotNil(t, sc.Steps[0].Tick)
	assert.Equal(t, 10, sc.Steps[1].Order.Leverage)
	assert.Equal(t, 50500.0, sc.Steps[2].Close.Price)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("steps:\n  - {}\n"), 0o644))
	_, err = LoadScenario(bad)
	assert.Error(t, err)
}
