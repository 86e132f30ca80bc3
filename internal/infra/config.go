package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every application setting. LoadConfig reads the file,
// then environment variables override the sensitive or
// deployment-specific values.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		WSURL           string   `yaml:"ws_url"`
		APIKey          string   `yaml:"api_key"`
		Instruments     []string `yaml:"instruments"`
		PingIntervalSec int      `yaml:"ping_interval_sec"`
		InboxSize       int      `yaml:"inbox_size"`
	} `yaml:"feed"`

	Catalog struct {
		Path string `yaml:"path"`
	} `yaml:"catalog"`

	// Reference holds per-instrument contract metadata, keyed by
	// instrument id. Instruments subscribed without an entry fall back
	// to linear USDT defaults.
	Reference map[string]InstrumentRef `yaml:"reference"`

	Account struct {
		ID              string   `yaml:"id"`
		Type            string   `yaml:"type"` // CASH or MARGIN
		DefaultLeverage float64  `yaml:"default_leverage"`
		InitialBalances []string `yaml:"initial_balances"` // "1000000.00 USDT"
	} `yaml:"account"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// InstrumentRef is the contract metadata of one instrument as carried
// in the config file. Fee and margin rates are decimal strings.
type InstrumentRef struct {
	PricePrecision uint8  `yaml:"price_precision"`
	SizePrecision  uint8  `yaml:"size_precision"`
	BaseCurrency   string `yaml:"base_currency"`
	QuoteCurrency  string `yaml:"quote_currency"`
	IsInverse      bool   `yaml:"is_inverse"`
	Multiplier     string `yaml:"multiplier"`
	MakerFee       string `yaml:"maker_fee"`
	TakerFee       string `yaml:"taker_fee"`
	MarginInit     string `yaml:"margin_init"`
	MarginMaint    string `yaml:"margin_maint"`
}

// LoadConfig reads and parses the config file, applies environment
// overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Feed.WSURL == "" || (!hasPrefix(c.Feed.WSURL, "ws://") && !hasPrefix(c.Feed.WSURL, "wss://")) {
		return fmt.Errorf("invalid feed WS URL: %s", c.Feed.WSURL)
	}
	if len(c.Feed.Instruments) == 0 {
		return fmt.Errorf("at least one instrument is required")
	}
	if c.Feed.InboxSize <= 0 {
		return fmt.Errorf("inbox size must be positive")
	}
	if c.Feed.PingIntervalSec <= 0 {
		return fmt.Errorf("ping interval must be positive")
	}

	if c.Account.ID == "" {
		return fmt.Errorf("account id is required")
	}
	switch c.Account.Type {
	case "CASH", "MARGIN":
	default:
		return fmt.Errorf("account type must be CASH or MARGIN, got %q", c.Account.Type)
	}
	if c.Account.Type == "MARGIN" && c.Account.DefaultLeverage < 1 {
		return fmt.Errorf("default leverage must be >= 1, got %v", c.Account.DefaultLeverage)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv applies environment variables over file values.
// Environment always wins, keeping secrets out of config files.
func overrideWithEnv(cfg *Config) {
	if cfg.Feed.APIKey != "" {
		fmt.Println("WARNING: API key found in config file.")
		fmt.Println("   Recommendation: use the MARKETCORE_FEED_KEY environment variable instead.")
	}

	if v := os.Getenv("MARKETCORE_FEED_URL"); v != "" {
		cfg.Feed.WSURL = v
	}
	if v := os.Getenv("MARKETCORE_FEED_KEY"); v != "" {
		cfg.Feed.APIKey = v
	}
	if v := os.Getenv("MARKETCORE_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("MARKETCORE_ACCOUNT_ID"); v != "" {
		cfg.Account.ID = v
	}
	if v := os.Getenv("MARKETCORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
