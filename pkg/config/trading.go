package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TradingConfig describes what the agent trades and how candle cycles run.
type TradingConfig struct {
	Symbols   []string      `yaml:"symbols"`
	Intervals []string      `yaml:"intervals"`
	Cooldown  time.Duration `yaml:"cooldown"`

	// Paper-trading simulation
	PaperFeeRate     float64 `yaml:"paper_fee_rate"`     // decimal, e.g. 0.0004 = 4 bps
	PaperSlippageBps float64 `yaml:"paper_slippage_bps"` // basis points applied on simulated fills
}

// LoadTrading reads the trading definition from a YAML file.
func LoadTrading(path string) (*TradingConfig, error) {
	var cfg TradingConfig
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// No file means run on defaults.
	} else if err != nil {
		return nil, fmt.Errorf("read trading config: %w", err)
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse trading config: %w", err)
	}

	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []string{"BTCUSDT"}
	}
	if len(cfg.Intervals) == 0 {
		cfg.Intervals = []string{"5m"}
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	for _, iv := range cfg.Intervals {
		if _, err := ParseInterval(iv); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// ParseInterval converts an exchange interval token ("5m", "4h", "1d")
// into a duration.
func ParseInterval(interval string) (time.Duration, error) {
	if interval == "" {
		return 0, fmt.Errorf("empty interval")
	}
	unit := interval[len(interval)-1]
	n, err := time.ParseDuration(interval)
	if err == nil && n > 0 && (unit == 's' || unit == 'm' || unit == 'h') {
		return n, nil
	}
	// time.ParseDuration does not understand days/weeks.
	var count int
	if _, err := fmt.Sscanf(interval[:len(interval)-1], "%d", &count); err != nil || count <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	switch unit {
	case 'd':
		return time.Duration(count) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(count) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
}
