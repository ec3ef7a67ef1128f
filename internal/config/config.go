// Package config defines all configuration for the trading core.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via PROP_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Runner     RunnerConfig     `mapstructure:"runner"`
	Sweep      SweepConfig      `mapstructure:"sweep"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Notifier   NotifierConfig   `mapstructure:"notifier"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	API        APIConfig        `mapstructure:"api"`
}

// BrokerConfig holds upstream broker credentials and endpoints.
// IBTag is the institutional routing prefix embedded in every block order's
// client_order_id for volume-rebate attribution.
type BrokerConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	SecretKey string        `mapstructure:"secret_key"`
	BaseURL   string        `mapstructure:"base_url"`
	StreamURL string        `mapstructure:"stream_url"`
	IBTag     string        `mapstructure:"ib_tag"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// WebhookConfig covers the signal ingress endpoint.
//   - AuthToken: value required in the X-API-Token header.
//   - RatePerSecond / Burst: per-source token-bucket throttle.
type WebhookConfig struct {
	AuthToken     string  `mapstructure:"auth_token"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         float64 `mapstructure:"burst"`
}

// DatabaseConfig selects the ledger backend. Driver is "sqlite" or "postgres";
// DSN is a file path for sqlite or a connection string for postgres.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RunnerConfig tunes the periodic strategy runner.
//   - Interval: cadence between strategy sweeps (market hours only).
//   - BarLookback: how many bars to load per symbol.
//   - MinBars: skip symbols with fewer bars than this.
type RunnerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	BarLookback int           `mapstructure:"bar_lookback"`
	MinBars     int           `mapstructure:"min_bars"`
}

// SweepConfig tunes the prop-firm account sweeps.
// WarnRatio is the fraction of max total drawdown that triggers a warning
// alert (0.80 = warn at 80% of the limit). EODTime is "HH:MM" US/Eastern.
type SweepConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	WarnRatio float64       `mapstructure:"warn_ratio"`
	EODTime   string        `mapstructure:"eod_time"`
}

// RiskConfig carries process-level risk fallbacks. The authoritative limits
// live in the ledger's active RiskConfig row; these only cover degraded modes.
//   - FallbackEquity: equity assumed when the broker account fetch fails.
type RiskConfig struct {
	FallbackEquity float64 `mapstructure:"fallback_equity"`
}

// NotifierConfig holds the Discord webhook. Empty URL disables alerts.
type NotifierConfig struct {
	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`
}

// EncryptionConfig holds the Fernet key for at-rest credential encryption.
type EncryptionConfig struct {
	Key string `mapstructure:"key"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig controls the ingress HTTP server.
type APIConfig struct {
	Port int `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: PROP_BROKER_API_KEY, PROP_BROKER_SECRET_KEY,
// PROP_WEBHOOK_AUTH_TOKEN, PROP_ENCRYPTION_KEY, PROP_DISCORD_WEBHOOK_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PROP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("PROP_BROKER_API_KEY"); key != "" {
		cfg.Broker.APIKey = key
	}
	if secret := os.Getenv("PROP_BROKER_SECRET_KEY"); secret != "" {
		cfg.Broker.SecretKey = secret
	}
	if tok := os.Getenv("PROP_WEBHOOK_AUTH_TOKEN"); tok != "" {
		cfg.Webhook.AuthToken = tok
	}
	if key := os.Getenv("PROP_ENCRYPTION_KEY"); key != "" {
		cfg.Encryption.Key = key
	}
	if url := os.Getenv("PROP_DISCORD_WEBHOOK_URL"); url != "" {
		cfg.Notifier.DiscordWebhookURL = url
	}
	if os.Getenv("PROP_DRY_RUN") == "true" || os.Getenv("PROP_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Broker.Timeout == 0 {
		c.Broker.Timeout = 5 * time.Second
	}
	if c.Broker.IBTag == "" {
		c.Broker.IBTag = "PFRM_IB"
	}
	if c.Webhook.RatePerSecond == 0 {
		c.Webhook.RatePerSecond = 2
	}
	if c.Webhook.Burst == 0 {
		c.Webhook.Burst = 10
	}
	if c.Runner.Interval == 0 {
		c.Runner.Interval = time.Minute
	}
	if c.Runner.BarLookback == 0 {
		c.Runner.BarLookback = 250
	}
	if c.Runner.MinBars == 0 {
		c.Runner.MinBars = 50
	}
	if c.Sweep.Interval == 0 {
		c.Sweep.Interval = 15 * time.Minute
	}
	if c.Sweep.WarnRatio == 0 {
		c.Sweep.WarnRatio = 0.80
	}
	if c.Sweep.EODTime == "" {
		c.Sweep.EODTime = "16:15"
	}
	if c.Risk.FallbackEquity == 0 {
		c.Risk.FallbackEquity = 100_000
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Broker.BaseURL == "" {
		return fmt.Errorf("broker.base_url is required")
	}
	if !c.DryRun && c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required (set PROP_BROKER_API_KEY)")
	}
	if !c.DryRun && c.Broker.SecretKey == "" {
		return fmt.Errorf("broker.secret_key is required (set PROP_BROKER_SECRET_KEY)")
	}
	if c.Webhook.AuthToken == "" {
		return fmt.Errorf("webhook.auth_token is required (set PROP_WEBHOOK_AUTH_TOKEN)")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Sweep.WarnRatio <= 0 || c.Sweep.WarnRatio > 1 {
		return fmt.Errorf("sweep.warn_ratio must be in (0, 1], got %v", c.Sweep.WarnRatio)
	}
	if _, err := ParseClock(c.Sweep.EODTime); err != nil {
		return fmt.Errorf("sweep.eod_time: %w", err)
	}
	return nil
}

// ParseClock parses an "HH:MM" wall-clock string into hour and minute.
func ParseClock(s string) ([2]int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return [2]int{}, fmt.Errorf("expected HH:MM, got %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return [2]int{}, fmt.Errorf("out of range: %q", s)
	}
	return [2]int{h, m}, nil
}
