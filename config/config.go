package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the process-wide configuration record. It is built once at
// start-up and passed by value into each component.
type Config struct {
	ExchangeConfig ExchangeConfig `json:"exchange"`
	LLMConfig      LLMConfig      `json:"llm"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	TrackerConfig  TrackerConfig  `json:"tracker"`
	ScannerConfig  ScannerConfig  `json:"scanner"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

// ExchangeConfig holds spot exchange market-data settings.
// Only public endpoints are used; no API keys are required.
type ExchangeConfig struct {
	BaseURL       string  `json:"base_url"`
	WSBaseURL     string  `json:"ws_base_url"`
	RequestsPerMin int    `json:"requests_per_min"` // public limit; limiter keeps 30% headroom
	RESTTimeout   Seconds `json:"rest_timeout_sec"`
}

// LLMConfig holds the text-in/text-out LLM settings.
type LLMConfig struct {
	Provider      string  `json:"provider"` // "claude", "openai", or "deepseek"
	APIKey        string  `json:"api_key"`
	Model         string  `json:"model"`
	MaxTokens     int     `json:"max_tokens"`
	Temperature   float64 `json:"temperature"`
	Timeout       Seconds `json:"timeout_sec"`
	MaxConcurrent int     `json:"max_concurrent"`
	MinIntervalMs int     `json:"min_interval_ms"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host      string  `json:"host"`
	Port      int     `json:"port"`
	User      string  `json:"user"`
	Password  string  `json:"password"`
	Database  string  `json:"database"`
	SSLMode   string  `json:"ssl_mode"`
	OpTimeout Seconds `json:"op_timeout_sec"`
}

// RedisConfig holds optional Redis settings for scanner cooldowns.
// When disabled the scanners fall back to an in-memory cooldown cache.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// TrackerConfig holds price-tracker settings.
type TrackerConfig struct {
	QueueSize           int     `json:"queue_size"`
	ExpirySweepInterval Seconds `json:"expiry_sweep_interval_sec"`
	// WorstCaseTiebreak resolves a same-candle SL+TP collision as SL hit.
	// Intrabar order is unknown on closed candles, so the default is true.
	WorstCaseTiebreak bool `json:"worst_case_tiebreak"`
}

// ScannerConfig holds scheduled-scanner settings.
type ScannerConfig struct {
	Enabled             bool    `json:"enabled"`
	MarketScanInterval  Seconds `json:"market_scan_interval_sec"`
	BotScanInterval     Seconds `json:"bot_scan_interval_sec"`
	MinQuoteVolume      float64 `json:"min_quote_volume"`
	BotScoreThreshold   float64 `json:"bot_score_threshold"`
	WorkerCount         int     `json:"worker_count"`
	CooldownPerUser     Seconds `json:"cooldown_per_user_sec"`
	ScannerUserID       int64   `json:"scanner_user_id"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Output     string `json:"output"` // "stdout", "stderr", or file path
	JSONFormat bool   `json:"json_format"`
}

// Seconds is a duration configured as an integer number of seconds.
type Seconds int

// Duration converts the configured seconds to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		ExchangeConfig: ExchangeConfig{
			BaseURL:        "https://api.binance.com",
			WSBaseURL:      "wss://stream.binance.com:9443",
			RequestsPerMin: 1200,
			RESTTimeout:    10,
		},
		LLMConfig: LLMConfig{
			Provider:      "claude",
			Model:         "claude-sonnet-4-20250514",
			MaxTokens:     4096,
			Temperature:   0.3,
			Timeout:       60,
			MaxConcurrent: 4,
			MinIntervalMs: 1000,
		},
		DatabaseConfig: DatabaseConfig{
			Host:      "localhost",
			Port:      5432,
			User:      "postgres",
			Database:  "signals",
			SSLMode:   "disable",
			OpTimeout: 5,
		},
		RedisConfig: RedisConfig{
			Addr: "localhost:6379",
		},
		TrackerConfig: TrackerConfig{
			QueueSize:           1024,
			ExpirySweepInterval: 300,
			WorstCaseTiebreak:   true,
		},
		ScannerConfig: ScannerConfig{
			Enabled:            true,
			MarketScanInterval: 900,
			BotScanInterval:    1800,
			MinQuoteVolume:     5_000_000,
			BotScoreThreshold:  70,
			WorkerCount:        10,
			CooldownPerUser:    3600,
		},
		LoggingConfig: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
	}
}

// Load reads configuration from a JSON file and applies environment
// overrides. A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets secrets and deployment endpoints come from the
// environment instead of the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("EXCHANGE_BASE_URL"); v != "" {
		c.ExchangeConfig.BaseURL = v
	}
	if v := os.Getenv("EXCHANGE_WS_URL"); v != "" {
		c.ExchangeConfig.WSBaseURL = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLMConfig.Provider = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLMConfig.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLMConfig.Model = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		c.DatabaseConfig.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.DatabaseConfig.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.DatabaseConfig.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.DatabaseConfig.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.DatabaseConfig.Database = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisConfig.Enabled = true
		c.RedisConfig.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisConfig.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LoggingConfig.Level = v
	}
}

func (c *Config) validate() error {
	if c.ExchangeConfig.BaseURL == "" {
		return fmt.Errorf("exchange base_url is required")
	}
	if c.LLMConfig.MaxConcurrent <= 0 {
		return fmt.Errorf("llm max_concurrent must be positive")
	}
	if c.TrackerConfig.QueueSize <= 0 {
		return fmt.Errorf("tracker queue_size must be positive")
	}
	if c.ScannerConfig.WorkerCount <= 0 {
		return fmt.Errorf("scanner worker_count must be positive")
	}
	return nil
}
