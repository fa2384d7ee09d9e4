package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	rediscache "github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/cache/redis"
	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/config"
	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/notify"
	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/platform/tradermade"
	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	QuoteStore  domain.QuoteStore
	SignalStore domain.SignalStore
	RefreshLock domain.RefreshLock
	QuoteBus    domain.QuoteBus
	Fetcher     domain.PriceFetcher
	KeySource   *config.APIKeySource
	Notifier    *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.QuoteStore = postgres.NewQuoteStore(pool)
	deps.SignalStore = postgres.NewSignalStore(pool)

	// --- Redis ---
	redisClient, err := rediscache.New(ctx, rediscache.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RefreshLock = rediscache.NewRefreshLock(redisClient)
	deps.QuoteBus = rediscache.NewQuoteBus(redisClient)

	// --- Upstream provider ---
	// The key source is shared by the streaming worker and the REST client;
	// both resolve it per use so a rotated key needs no restart.
	deps.KeySource = config.NewAPIKeySource(cfg.TraderMade)
	deps.Fetcher = tradermade.NewRESTClient(
		cfg.TraderMade.RESTURL,
		deps.KeySource,
		time.Duration(cfg.TraderMade.RESTTimeoutSec)*time.Second,
	)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
