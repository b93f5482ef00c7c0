package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration. Fee rates are plain
// fractions in [0,1]; they are converted to decimals at the policy boundary.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Database struct {
		File string `yaml:"file"`
	} `yaml:"database"`

	Market struct {
		TransactionFee   float64  `yaml:"transaction_fee"`
		CancellationFee  float64  `yaml:"cancellation_fee"`
		OverviewPageSize int      `yaml:"overview_page_size"`
		BannedItems      []string `yaml:"banned_items"` // content hashes or material kinds
	} `yaml:"market"`

	Notify struct {
		Enabled    bool   `yaml:"enabled"`
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"notify"`

	Sched struct {
		BackgroundWorkers int `yaml:"background_workers"`
		QueueSize         int `yaml:"queue_size"`
	} `yaml:"sched"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides and validates the result.
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
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.File == "" {
		c.Database.File = "data/market.db"
	}
	if c.Market.OverviewPageSize == 0 {
		c.Market.OverviewPageSize = 45 // 5 rows * 9 columns in the host UI
	}
	if c.Sched.BackgroundWorkers == 0 {
		c.Sched.BackgroundWorkers = 4
	}
	if c.Sched.QueueSize == 0 {
		c.Sched.QueueSize = 256
	}
	if c.Notify.ListenAddr == "" {
		c.Notify.ListenAddr = "localhost:8765"
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Market.TransactionFee < 0 || c.Market.TransactionFee > 1 {
		return fmt.Errorf("transaction fee must be within [0,1], got %v", c.Market.TransactionFee)
	}
	if c.Market.CancellationFee < 0 || c.Market.CancellationFee > 1 {
		return fmt.Errorf("cancellation fee must be within [0,1], got %v", c.Market.CancellationFee)
	}
	if c.Market.OverviewPageSize <= 0 {
		return fmt.Errorf("overview page size must be positive")
	}
	if c.Sched.BackgroundWorkers <= 0 {
		return fmt.Errorf("background workers must be positive")
	}
	return nil
}

// overrideWithEnv overrides file settings from the environment when present.
func overrideWithEnv(cfg *Config) {
	if file := os.Getenv("MARKET_DB_FILE"); file != "" {
		cfg.Database.File = file
	}
	if addr := os.Getenv("MARKET_NOTIFY_ADDR"); addr != "" {
		cfg.Notify.ListenAddr = addr
	}
	if level := os.Getenv("MARKET_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
