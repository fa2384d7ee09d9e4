package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies NOMERIQ_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known NOMERIQ_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "NOMERIQ_MODE")
	setStr(&cfg.LogLevel, "NOMERIQ_LOG_LEVEL")

	setStr(&cfg.TraderMade.WSURL, "NOMERIQ_TRADERMADE_WS_URL")
	setStr(&cfg.TraderMade.RESTURL, "NOMERIQ_TRADERMADE_REST_URL")
	setStr(&cfg.TraderMade.APIKey, "NOMERIQ_TRADERMADE_API_KEY")
	setStr(&cfg.TraderMade.APIKeyFile, "NOMERIQ_TRADERMADE_API_KEY_FILE")
	setInt(&cfg.TraderMade.RESTTimeoutSec, "NOMERIQ_TRADERMADE_REST_TIMEOUT_SEC")

	setStr(&cfg.Postgres.DSN, "NOMERIQ_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "NOMERIQ_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "NOMERIQ_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "NOMERIQ_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "NOMERIQ_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "NOMERIQ_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "NOMERIQ_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "NOMERIQ_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "NOMERIQ_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "NOMERIQ_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "NOMERIQ_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "NOMERIQ_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "NOMERIQ_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "NOMERIQ_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "NOMERIQ_REDIS_MAX_RETRIES")

	setInt(&cfg.Feed.FlushIntervalMS, "NOMERIQ_FEED_FLUSH_INTERVAL_MS")
	setInt(&cfg.Feed.ResyncIntervalSec, "NOMERIQ_FEED_RESYNC_INTERVAL_SEC")
	setInt(&cfg.Feed.CredentialPollSec, "NOMERIQ_FEED_CREDENTIAL_POLL_SEC")
	setInt(&cfg.Feed.BaseBackoffMS, "NOMERIQ_FEED_BASE_BACKOFF_MS")
	setInt(&cfg.Feed.MaxBackoffSec, "NOMERIQ_FEED_MAX_BACKOFF_SEC")
	setStrSlice(&cfg.Feed.StaticSymbols, "NOMERIQ_FEED_STATIC_SYMBOLS")

	setInt(&cfg.Quotes.StalenessSec, "NOMERIQ_QUOTES_STALENESS_SEC")
	setInt(&cfg.Quotes.LockTTLSec, "NOMERIQ_QUOTES_LOCK_TTL_SEC")
	setInt(&cfg.Quotes.LockRetryDelayMS, "NOMERIQ_QUOTES_LOCK_RETRY_DELAY_MS")
	setInt(&cfg.Quotes.LockRetryAttempts, "NOMERIQ_QUOTES_LOCK_RETRY_ATTEMPTS")

	setInt(&cfg.Trigger.RepollSec, "NOMERIQ_TRIGGER_REPOLL_SEC")
	setInt(&cfg.Trigger.StalenessSec, "NOMERIQ_TRIGGER_STALENESS_SEC")

	setStr(&cfg.Notify.TelegramToken, "NOMERIQ_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOMERIQ_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOMERIQ_NOTIFY_DISCORD_WEBHOOK_URL")
	setStrSlice(&cfg.Notify.Events, "NOMERIQ_NOTIFY_EVENTS")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStrSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
