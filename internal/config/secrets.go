package config

import (
	"context"
	"os"
	"strings"
)

// APIKeySource resolves the upstream API key on every call so the ingestion
// worker's periodic credential poll observes rotations. When a key file is
// configured it takes precedence over the static key; the worker forces a
// reconnect whenever the resolved key changes.
type APIKeySource struct {
	staticKey string
	keyFile   string
}

// NewAPIKeySource creates a key source from the TraderMade configuration.
func NewAPIKeySource(cfg TraderMadeConfig) *APIKeySource {
	return &APIKeySource{
		staticKey: cfg.APIKey,
		keyFile:   cfg.APIKeyFile,
	}
}

// APIKey returns the current key. A missing or empty key file falls back to
// the static key; an empty result idles the worker.
func (s *APIKeySource) APIKey(_ context.Context) (string, error) {
	if s.keyFile != "" {
		data, err := os.ReadFile(s.keyFile)
		if err != nil {
			if os.IsNotExist(err) {
				return s.staticKey, nil
			}
			return "", err
		}
		if key := strings.TrimSpace(string(data)); key != "" {
			return key, nil
		}
	}
	return s.staticKey, nil
}

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.TraderMade.APIKey)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Feed.StaticSymbols != nil {
		out.Feed.StaticSymbols = append([]string(nil), cfg.Feed.StaticSymbols...)
	}
	if cfg.Feed.SymbolOverrides != nil {
		out.Feed.SymbolOverrides = make(map[string]string, len(cfg.Feed.SymbolOverrides))
		for k, v := range cfg.Feed.SymbolOverrides {
			out.Feed.SymbolOverrides[k] = v
		}
	}

	return out
}

func redact(field *string) {
	if *field != "" {
		*field = "***"
	}
}
