package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of ticks, orders and closes replayed
// against a single simulated account.
type Scenario struct {
	Account        string  `yaml:"account"`
	InitialBalance float64 `yaml:"initial_balance"`
	Steps          []Step  `yaml:"steps"`
}

// Step holds exactly one action.
type Step struct {
	Tick  *TickStep  `yaml:"tick,omitempty"`
	Order *OrderStep `yaml:"order,omitempty"`
	Close *CloseStep `yaml:"close,omitempty"`
}

type TickStep struct {
	Symbol string    `yaml:"symbol"`
	Price  float64   `yaml:"price"`
	Time   time.Time `yaml:"time"`
}

type OrderStep struct {
	Symbol    string  `yaml:"symbol"`
	Side      string  `yaml:"side"`
	Type      string  `yaml:"type"`
	Size      float64 `yaml:"size"`
	Price     float64 `yaml:"price"`
	StopPrice float64 `yaml:"stop_price"`
	Leverage  int     `yaml:"leverage"`
}

type CloseStep struct {
	Symbol string  `yaml:"symbol"`
	Price  float64 `yaml:"price"`
}

// LoadScenario reads and checks a replay scenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if sc.Account == "" {
		sc.Account = "replay"
	}
	for i, st := range sc.Steps {
		n := 0
		if st.Tick != nil {
			n++
		}
		if st.Order != nil {
			n++
		}
		if st.Close != nil {
			n++
		}
		if n != 1 {
			return nil, fmt.Errorf("scenario step %d: expected exactly one of tick/order/close, got %d", i, n)
		}
	}
	return &sc, nil
}
