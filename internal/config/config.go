// Package config defines the top-level configuration for the nomeriq price
// core and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by NOMERIQ_* environment
// variables.
type Config struct {
	TraderMade TraderMadeConfig `toml:"tradermade"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Feed       FeedConfig       `toml:"feed"`
	Quotes     QuotesConfig     `toml:"quotes"`
	Trigger    TriggerConfig    `toml:"trigger"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// TraderMadeConfig holds upstream feed endpoints and credentials.
type TraderMadeConfig struct {
	WSURL string `toml:"ws_url"`
	// RESTURL is the API root for on-demand lookups.
	RESTURL string `toml:"rest_url"`
	// APIKey is the static key; APIKeyFile, when set, is polled periodically
	// and takes precedence so rotated keys are picked up without a restart.
	APIKey         string `toml:"api_key"`
	APIKeyFile     string `toml:"api_key_file"`
	RESTTimeoutSec int    `toml:"rest_timeout_sec"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// FeedConfig holds the ingestion worker's timers and subscription sources.
type FeedConfig struct {
	FlushIntervalMS   int               `toml:"flush_interval_ms"`
	ResyncIntervalSec int               `toml:"resync_interval_sec"`
	CredentialPollSec int               `toml:"credential_poll_sec"`
	BaseBackoffMS     int               `toml:"base_backoff_ms"`
	MaxBackoffSec     int               `toml:"max_backoff_sec"`
	StaticSymbols     []string          `toml:"static_symbols"`
	SymbolOverrides   map[string]string `toml:"symbol_overrides"`
}

// QuotesConfig holds the cache reader's staleness and refresh-lock
// parameters. The thresholds are configuration, not fixed constants.
type QuotesConfig struct {
	StalenessSec      int `toml:"staleness_sec"`
	LockTTLSec        int `toml:"lock_ttl_sec"`
	LockRetryDelayMS  int `toml:"lock_retry_delay_ms"`
	LockRetryAttempts int `toml:"lock_retry_attempts"`
}

// TriggerConfig holds the evaluator's re-poll backstop parameters.
type TriggerConfig struct {
	RepollSec    int `toml:"repoll_sec"`
	StalenessSec int `toml:"staleness_sec"`
}

// NotifyConfig holds notification channel credentials and event filtering.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		TraderMade: TraderMadeConfig{
			WSURL:          "wss://marketdata.tradermade.com/feedadv",
			RESTURL:        "https://marketdata.tradermade.com/api/v1",
			RESTTimeoutSec: 10,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "nomeriq",
			SSLMode:       "disable",
			PoolMaxConns:  8,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   16,
			MaxRetries: 3,
		},
		Feed: FeedConfig{
			FlushIntervalMS:   250,
			ResyncIntervalSec: 30,
			CredentialPollSec: 60,
			BaseBackoffMS:     2000,
			MaxBackoffSec:     60,
		},
		Quotes: QuotesConfig{
			StalenessSec:      10,
			LockTTLSec:        15,
			LockRetryDelayMS:  300,
			LockRetryAttempts: 5,
		},
		Trigger: TriggerConfig{
			RepollSec:    10,
			StalenessSec: 10,
		},
		Notify: NotifyConfig{
			Events: []string{"position_closed"},
		},
	}
}

// Validate checks the configuration for the selected mode and returns a
// descriptive error for the first problem found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "feed", "evaluate", "full":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.TraderMade.WSURL == "" {
		return fmt.Errorf("config: tradermade.ws_url is required")
	}
	if c.TraderMade.RESTURL == "" {
		return fmt.Errorf("config: tradermade.rest_url is required")
	}
	if c.TraderMade.APIKey == "" && c.TraderMade.APIKeyFile == "" {
		return fmt.Errorf("config: tradermade.api_key or api_key_file is required")
	}

	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		return fmt.Errorf("config: postgres connection parameters are incomplete")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required")
	}

	if c.Feed.FlushIntervalMS <= 0 {
		return fmt.Errorf("config: feed.flush_interval_ms must be positive")
	}
	if c.Quotes.StalenessSec <= 0 {
		return fmt.Errorf("config: quotes.staleness_sec must be positive")
	}
	if c.Quotes.LockRetryAttempts <= 0 {
		return fmt.Errorf("config: quotes.lock_retry_attempts must be positive")
	}

	return nil
}

// FlushInterval returns the worker flush interval as a duration.
func (c FeedConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// ResyncInterval returns the subscription recompute interval.
func (c FeedConfig) ResyncInterval() time.Duration {
	return time.Duration(c.ResyncIntervalSec) * time.Second
}

// CredentialPoll returns the API key poll interval.
func (c FeedConfig) CredentialPoll() time.Duration {
	return time.Duration(c.CredentialPollSec) * time.Second
}

// BaseBackoff returns the initial reconnect delay.
func (c FeedConfig) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffMS) * time.Millisecond
}

// MaxBackoff returns the reconnect delay cap.
func (c FeedConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSec) * time.Second
}

// Staleness returns the consumer-side freshness threshold.
func (c QuotesConfig) Staleness() time.Duration {
	return time.Duration(c.StalenessSec) * time.Second
}

// LockTTL returns the refresh lock's time-to-live.
func (c QuotesConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSec) * time.Second
}

// LockRetryDelay returns the lock loser's poll delay.
func (c QuotesConfig) LockRetryDelay() time.Duration {
	return time.Duration(c.LockRetryDelayMS) * time.Millisecond
}

// Repoll returns the evaluator's backstop interval.
func (c TriggerConfig) Repoll() time.Duration {
	return time.Duration(c.RepollSec) * time.Second
}

// Staleness returns the evaluator's freshness threshold.
func (c TriggerConfig) Staleness() time.Duration {
	return time.Duration(c.StalenessSec) * time.Second
}
