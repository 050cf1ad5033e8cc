package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading agent.
type Config struct {
	Port string

	// Binance USDT-M futures
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string

	// Database
	DBPath string

	// Trading definitions (symbols, intervals, cooldown) live in a YAML file.
	TradingConfigPath string

	// Price feed
	EnablePriceFeed bool

	// Reconciliation
	ReconcileInterval time.Duration

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:              getEnv("PORT", "8080"),
		BinanceTestnet:    getEnv("BINANCE_TESTNET", "false") == "true",
		BinanceAPIKey:     os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:  os.Getenv("BINANCE_API_SECRET"),
		DBPath:            getEnv("DB_PATH", "./data/trading.db"),
		TradingConfigPath: getEnv("TRADING_CONFIG_PATH", "./trading.yaml"),
		EnablePriceFeed:   getEnv("ENABLE_PRICE_FEED", "true") == "true",
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", time.Hour),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "console"),
		LogFile:           os.Getenv("LOG_FILE"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
