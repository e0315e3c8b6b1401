package infra

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"cluster_go/internal/domain"
)

// Config holds the application-level settings. Secrets can be overridden
// through environment variables after the file is loaded.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		BaseURL       string   `yaml:"base_url"`
		Token         string   `yaml:"token"`
		Groups        []string `yaml:"groups"`
		Symbol        string   `yaml:"symbol"`
		TimeoutSec    int      `yaml:"timeout_sec"`
		SeenMaxAgeMin int      `yaml:"seen_max_age_min"`
		LookbackSec   int      `yaml:"lookback_sec"`
	} `yaml:"feed"`

	Candles struct {
		WSURL  string `yaml:"ws_url"`
		Symbol string `yaml:"symbol"`
	} `yaml:"candles"`

	Execution struct {
		Mode         string  `yaml:"mode"` // "paper"
		StartBalance float64 `yaml:"start_balance"`
		ContractSize float64 `yaml:"contract_size"`
		VolumeMin    float64 `yaml:"volume_min"`
		VolumeMax    float64 `yaml:"volume_max"`
		VolumeStep   float64 `yaml:"volume_step"`
		Digits       int     `yaml:"digits"`
	} `yaml:"execution"`

	Loop struct {
		PollIntervalMS int    `yaml:"poll_interval_ms"`
		CandleHistory  int    `yaml:"candle_history"`
		HeartbeatSec   int    `yaml:"heartbeat_sec"`
		SnapshotPath   string `yaml:"snapshot_path"`
	} `yaml:"loop"`

	Risk struct {
		DailyLossTotal     float64 `yaml:"daily_loss_total"`
		DailyLossPerEngine float64 `yaml:"daily_loss_per_engine"`
		Timezone           string  `yaml:"timezone"`
	} `yaml:"risk"`

	Session struct {
		Enabled bool   `yaml:"enabled"`
		Start   string `yaml:"start"`
		End     string `yaml:"end"`
	} `yaml:"session"`

	Zones struct {
		Path      string `yaml:"path"`
		ReloadSec int    `yaml:"reload_sec"`
	} `yaml:"zones"`

	Breaker struct {
		FailureThreshold int `yaml:"failure_threshold"`
		SuccessThreshold int `yaml:"success_threshold"`
		OpenForSec       int `yaml:"open_for_sec"`
	} `yaml:"breaker"`

	Metrics struct {
		Addr string `yaml:"addr"` // e.g. ":9090", empty disables the server
	} `yaml:"metrics"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the application config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigNotFound, err)
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
	if c.Feed.BaseURL == "" {
		return &domain.ConfigError{Field: "feed.base_url", Err: fmt.Errorf("required")}
	}
	if c.Feed.Symbol == "" {
		return &domain.ConfigError{Field: "feed.symbol", Err: fmt.Errorf("required")}
	}
	if c.Candles.WSURL != "" && !hasPrefix(c.Candles.WSURL, "ws://") && !hasPrefix(c.Candles.WSURL, "wss://") {
		return &domain.ConfigError{Field: "candles.ws_url", Err: fmt.Errorf("not a websocket url: %s", c.Candles.WSURL)}
	}
	if c.Loop.PollIntervalMS <= 0 {
		return &domain.ConfigError{Field: "loop.poll_interval_ms", Err: fmt.Errorf("must be positive")}
	}
	if c.Risk.Timezone != "" {
		if _, err := time.LoadLocation(c.Risk.Timezone); err != nil {
			return &domain.ConfigError{Field: "risk.timezone", Err: err}
		}
	}
	if c.Execution.Mode != "" && c.Execution.Mode != "paper" {
		return &domain.ConfigError{Field: "execution.mode", Err: fmt.Errorf("unknown mode %q", c.Execution.Mode)}
	}
	return nil
}

// PollInterval returns the loop interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Loop.PollIntervalMS) * time.Millisecond
}

// EventLookback returns how far back each feed poll asks for.
func (c *Config) EventLookback() time.Duration {
	if c.Feed.LookbackSec <= 0 {
		return time.Minute
	}
	return time.Duration(c.Feed.LookbackSec) * time.Second
}

// LossLocation resolves the daily-reset timezone, defaulting to
// Europe/London and falling back to UTC when the zone database is missing.
func (c *Config) LossLocation() *time.Location {
	name := c.Risk.Timezone
	if name == "" {
		name = "Europe/London"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv applies environment overrides for secrets.
func overrideWithEnv(cfg *Config) {
	if token := os.Getenv("CLUSTER_FEED_TOKEN"); token != "" {
		cfg.Feed.Token = token
	}
	if url := os.Getenv("CLUSTER_FEED_URL"); url != "" {
		cfg.Feed.BaseURL = url
	}
}
