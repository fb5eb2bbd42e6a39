package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Execution modes.
const (
	ModeSimulated = "simulated"
	ModeLive      = "live"
)

// Config holds environment-driven settings for the simulation service.
type Config struct {
	Port     string
	GRPCPort string

	// Logging
	LogLevel string
	LogDev   bool

	// Execution
	Mode string // simulated or live

	// Market data
	Symbols         []string
	UseMockFeed     bool
	InstrumentsPath string

	// Persistence sink
	DBPath             string
	EventBatchSize     int
	EventFlushInterval time.Duration

	// Auth
	JWTSecret string

	// Signals at or below this confidence are dropped before reaching the engine.
	SignalConfidenceThreshold float64
	SignalStrategy            string // "ma_cross" or empty for API-only signals
	SignalLeverage            int

	// Accounts without positions idle this long are dropped; zero keeps them.
	AccountIdleTTL time.Duration

	Sim  SimConfig
	Risk RiskConfig
}

// SimConfig covers margin, fee and fill modelling.
type SimConfig struct {
	InitialBalance        float64
	MaintenanceMarginRate float64 // decimal, 0.005 = 0.5%
	LiquidationFeeRate    float64
	MakerFeeRate          float64
	TakerFeeRate          float64
	MaxSlippage           float64 // fraction of reference price, 0.001 = 0.1%
	SlippageSeed          int64   // 0 seeds from the clock
	MinOrderSize          float64
	MaxLeverage           int
}

// RiskConfig covers the risk gate and circuit breakers. Percent fields are
// whole percents (2 = 2%).
type RiskConfig struct {
	MaxRiskPerTradePct      float64
	MaxDrawdownPct          float64
	MaxDailyLossPct         float64
	MaxLeverageUtilization  float64 // open notional / equity
	ATRPeriod               int
	ATRInterval             time.Duration
	StopATRMultiplier       float64
	TakeProfitATRMultiplier float64
	FallbackVolatilityPct   float64
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:                      "8080",
		GRPCPort:                  "9090",
		LogLevel:                  "info",
		Mode:                      ModeSimulated,
		Symbols:                   []string{"BTCUSDT", "ETHUSDT"},
		UseMockFeed:               true,
		DBPath:                    "./data/sim_events.db",
		EventBatchSize:            50,
		EventFlushInterval:        500 * time.Millisecond,
		JWTSecret:                 "dev-secret",
		SignalConfidenceThreshold: 0.75,
		SignalLeverage:            5,
		AccountIdleTTL:            24 * time.Hour,
		Sim: SimConfig{
			InitialBalance:        10000,
			MaintenanceMarginRate: 0.005,
			LiquidationFeeRate:    0.005,
			MakerFeeRate:          0.0002,
			TakerFeeRate:          0.0005,
			MaxSlippage:           0.001,
			MinOrderSize:          0.001,
			MaxLeverage:           100,
		},
		Risk: RiskConfig{
			MaxRiskPerTradePct:      2,
			MaxDrawdownPct:          20,
			MaxDailyLossPct:         5,
			MaxLeverageUtilization:  20,
			ATRPeriod:               14,
			ATRInterval:             time.Minute,
			StopATRMultiplier:       2,
			TakeProfitATRMultiplier: 3,
			FallbackVolatilityPct:   1,
		},
	}
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the service still starts when .env is missing.
	_ = godotenv.Load()

	def := Default()
	cfg := &Config{
		Port:                      getEnv("PORT", def.Port),
		GRPCPort:                  getEnv("GRPC_PORT", def.GRPCPort),
		LogLevel:                  getEnv("LOG_LEVEL", def.LogLevel),
		LogDev:                    getEnv("LOG_DEV", "false") == "true",
		Mode:                      strings.ToLower(getEnv("SIM_MODE", def.Mode)),
		Symbols:                   splitAndTrim(getEnv("SYMBOLS", strings.Join(def.Symbols, ","))),
		UseMockFeed:               getEnv("USE_MOCK_FEED", "true") == "true",
		InstrumentsPath:           getEnv("INSTRUMENTS_PATH", ""),
		DBPath:                    getEnv("DB_PATH", def.DBPath),
		EventBatchSize:            getEnvInt("EVENT_BATCH_SIZE", def.EventBatchSize),
		EventFlushInterval:        getEnvDuration("EVENT_FLUSH_INTERVAL", def.EventFlushInterval),
		JWTSecret:                 getEnv("JWT_SECRET", def.JWTSecret),
		SignalConfidenceThreshold: getEnvFloat("SIGNAL_CONFIDENCE_THRESHOLD", def.SignalConfidenceThreshold),
		SignalStrategy:            strings.ToLower(getEnv("SIGNAL_STRATEGY", "")),
		SignalLeverage:            getEnvInt("SIGNAL_LEVERAGE", def.SignalLeverage),
		AccountIdleTTL:            getEnvDuration("ACCOUNT_IDLE_TTL", def.AccountIdleTTL),
		Sim: SimConfig{
			InitialBalance:        getEnvFloat("SIM_INITIAL_BALANCE", def.Sim.InitialBalance),
			MaintenanceMarginRate: getEnvFloat("SIM_MAINTENANCE_MARGIN_RATE", def.Sim.MaintenanceMarginRate),
			LiquidationFeeRate:    getEnvFloat("SIM_LIQUIDATION_FEE_RATE", def.Sim.LiquidationFeeRate),
			MakerFeeRate:          getEnvFloat("SIM_MAKER_FEE_RATE", def.Sim.MakerFeeRate),
			TakerFeeRate:          getEnvFloat("SIM_TAKER_FEE_RATE", def.Sim.TakerFeeRate),
			MaxSlippage:           getEnvFloat("SIM_MAX_SLIPPAGE", def.Sim.MaxSlippage),
			SlippageSeed:          int64(getEnvInt("SIM_SLIPPAGE_SEED", 0)),
			MinOrderSize:          getEnvFloat("SIM_MIN_ORDER_SIZE", def.Sim.MinOrderSize),
			MaxLeverage:           getEnvInt("SIM_MAX_LEVERAGE", def.Sim.MaxLeverage),
		},
		Risk: RiskConfig{
			MaxRiskPerTradePct:      getEnvFloat("RISK_MAX_RISK_PER_TRADE_PCT", def.Risk.MaxRiskPerTradePct),
			MaxDrawdownPct:          getEnvFloat("RISK_MAX_DRAWDOWN_PCT", def.Risk.MaxDrawdownPct),
			MaxDailyLossPct:         getEnvFloat("RISK_MAX_DAILY_LOSS_PCT", def.Risk.MaxDailyLossPct),
			MaxLeverageUtilization:  getEnvFloat("RISK_MAX_LEVERAGE_UTILIZATION", def.Risk.MaxLeverageUtilization),
			ATRPeriod:               getEnvInt("RISK_ATR_PERIOD", def.Risk.ATRPeriod),
			ATRInterval:             getEnvDuration("RISK_ATR_INTERVAL", def.Risk.ATRInterval),
			StopATRMultiplier:       getEnvFloat("RISK_STOP_ATR_MULT", def.Risk.StopATRMultiplier),
			TakeProfitATRMultiplier: getEnvFloat("RISK_TAKE_PROFIT_ATR_MULT", def.Risk.TakeProfitATRMultiplier),
			FallbackVolatilityPct:   getEnvFloat("RISK_FALLBACK_VOLATILITY_PCT", def.Risk.FallbackVolatilityPct),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Mode != ModeSimulated && c.Mode != ModeLive {
		return fmt.Errorf("config: unknown SIM_MODE %q", c.Mode)
	}
	if c.Sim.InitialBalance <= 0 {
		return fmt.Errorf("config: initial balance must be positive, got %v", c.Sim.InitialBalance)
	}
	rates := map[string]float64{
		"maintenance margin rate": c.Sim.MaintenanceMarginRate,
		"liquidation fee rate":    c.Sim.LiquidationFeeRate,
		"maker fee rate":          c.Sim.MakerFeeRate,
		"taker fee rate":          c.Sim.TakerFeeRate,
		"max slippage":            c.Sim.MaxSlippage,
	}
	for name, r := range rates {
		if r < 0 || r >= 1 {
			return fmt.Errorf("config: %s must be in [0,1), got %v", name, r)
		}
	}
	// A liquidation fee above the maintenance margin would charge more than the
	// equity left in the position at the liquidation price.
	if c.Sim.LiquidationFeeRate > c.Sim.MaintenanceMarginRate {
		return fmt.Errorf("config: liquidation fee rate %v exceeds maintenance margin rate %v",
			c.Sim.LiquidationFeeRate, c.Sim.MaintenanceMarginRate)
	}
	if c.Sim.MaxLeverage < 1 {
		return fmt.Errorf("config: max leverage must be >= 1, got %d", c.Sim.MaxLeverage)
	}
	if c.Sim.MinOrderSize <= 0 {
		return fmt.Errorf("config: min order size must be positive, got %v", c.Sim.MinOrderSize)
	}
	if c.Risk.MaxRiskPerTradePct <= 0 || c.Risk.MaxRiskPerTradePct > 100 {
		return fmt.Errorf("config: max risk per trade must be in (0,100], got %v", c.Risk.MaxRiskPerTradePct)
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDailyLossPct <= 0 {
		return fmt.Errorf("config: drawdown and daily loss limits must be positive")
	}
	if c.Risk.ATRPeriod < 1 || c.Risk.ATRInterval <= 0 {
		return fmt.Errorf("config: ATR period and interval must be positive")
	}
	if c.SignalStrategy != "" && c.SignalStrategy != "ma_cross" {
		return fmt.Errorf("config: unknown SIGNAL_STRATEGY %q", c.SignalStrategy)
	}
	if c.SignalLeverage < 1 || c.SignalLeverage > c.Sim.MaxLeverage {
		return fmt.Errorf("config: signal leverage must be in [1,%d], got %d", c.Sim.MaxLeverage, c.SignalLeverage)
	}
	if c.SignalConfidenceThreshold < 0 || c.SignalConfidenceThreshold > 1 {
		return fmt.Errorf("config: signal confidence threshold must be in [0,1], got %v", c.SignalConfidenceThreshold)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
