package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"trading-sim/internal/instrument"
)

// InstrumentEntry is one contract in the YAML catalog. Zero values inherit
// the global simulation settings.
type InstrumentEntry struct {
	Symbol                string  `yaml:"symbol"`
	MaxLeverage           int     `yaml:"max_leverage"`
	MinSize               float64 `yaml:"min_size"`
	SizeStep              float64 `yaml:"size_step"`
	MakerFeeRate          float64 `yaml:"maker_fee_rate"`
	TakerFeeRate          float64 `yaml:"taker_fee_rate"`
	MaintenanceMarginRate float64 `yaml:"maintenance_margin_rate"`
}

// InstrumentFile represents the top-level YAML structure.
type InstrumentFile struct {
	Instruments []InstrumentEntry `yaml:"instruments"`
}

// LoadInstruments reads instrument overrides from a YAML file.
func LoadInstruments(path string) ([]InstrumentEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file InstrumentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse instruments %s: %w", path, err)
	}
	for i, in := range file.Instruments {
		if in.Symbol == "" {
			return nil, fmt.Errorf("instrument #%d: symbol is required", i)
		}
		if in.MaxLeverage < 0 || in.MinSize < 0 || in.SizeStep < 0 {
			return nil, fmt.Errorf("instrument %s: negative limits", in.Symbol)
		}
	}
	return file.Instruments, nil
}

// Catalog builds the instrument catalog from the global settings plus the
// optional YAML file at InstrumentsPath.
func (c *Config) Catalog() (*instrument.Catalog, error) {
	cat := instrument.NewCatalog(instrument.Spec{
		MaxLeverage:           c.Sim.MaxLeverage,
		MinSize:               decimal.NewFromFloat(c.Sim.MinOrderSize),
		MakerFeeRate:          decimal.NewFromFloat(c.Sim.MakerFeeRate),
		TakerFeeRate:          decimal.NewFromFloat(c.Sim.TakerFeeRate),
		MaintenanceMarginRate: decimal.NewFromFloat(c.Sim.MaintenanceMarginRate),
	})
	if c.InstrumentsPath == "" {
		return cat, nil
	}

	entries, err := LoadInstruments(c.InstrumentsPath)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		cat.Set(instrument.Spec{
			Symbol:                e.Symbol,
			MaxLeverage:           e.MaxLeverage,
			MinSize:               decimal.NewFromFloat(e.MinSize),
			SizeStep:              decimal.NewFromFloat(e.SizeStep),
			MakerFeeRate:          decimal.NewFromFloat(e.MakerFeeRate),
			TakerFeeRate:          decimal.NewFromFloat(e.TakerFeeRate),
			MaintenanceMarginRate: decimal.NewFromFloat(e.MaintenanceMarginRate),
		})
	}
	return cat, nil
}
