package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/feed"
	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/platform/tradermade"
	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/service"
)

// newWorker builds the ingestion worker from the wired dependencies.
func (a *App) newWorker(deps *Dependencies) *feed.Worker {
	dial := func(ctx context.Context, apiKey string) (feed.StreamConn, error) {
		client := tradermade.NewStreamClient(a.cfg.TraderMade.WSURL, apiKey)
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}

	return feed.NewWorker(
		feed.WorkerConfig{
			Provider:       domain.ProviderTraderMade,
			StaticSymbols:  a.cfg.Feed.StaticSymbols,
			Overrides:      domain.SymbolOverrides(a.cfg.Feed.SymbolOverrides),
			FlushInterval:  a.cfg.Feed.FlushInterval(),
			ResyncInterval: a.cfg.Feed.ResyncInterval(),
			CredentialPoll: a.cfg.Feed.CredentialPoll(),
			BaseBackoff:    a.cfg.Feed.BaseBackoff(),
			MaxBackoff:     a.cfg.Feed.MaxBackoff(),
		},
		dial,
		deps.KeySource,
		deps.SignalStore,
		deps.QuoteStore,
		deps.QuoteBus,
		a.logger,
	)
}

// newServices builds the quote reader and trigger evaluator.
func (a *App) newServices(deps *Dependencies) (*service.QuoteService, *service.TriggerService) {
	quoteSvc := service.NewQuoteService(
		deps.QuoteStore,
		deps.RefreshLock,
		deps.Fetcher,
		deps.QuoteBus,
		service.QuoteServiceConfig{
			Provider:          domain.ProviderTraderMade,
			Staleness:         a.cfg.Quotes.Staleness(),
			LockTTL:           a.cfg.Quotes.LockTTL(),
			LockRetryDelay:    a.cfg.Quotes.LockRetryDelay(),
			LockRetryAttempts: a.cfg.Quotes.LockRetryAttempts,
		},
		a.logger,
	)

	triggerSvc := service.NewTriggerService(
		deps.SignalStore,
		quoteSvc,
		deps.QuoteBus,
		deps.Notifier,
		service.TriggerServiceConfig{
			Provider:  domain.ProviderTraderMade,
			Overrides: domain.SymbolOverrides(a.cfg.Feed.SymbolOverrides),
			Repoll:    a.cfg.Trigger.Repoll(),
			Staleness: a.cfg.Trigger.Staleness(),
		},
		a.logger,
	)

	return quoteSvc, triggerSvc
}

// FeedMode runs the ingestion worker singleton.
func (a *App) FeedMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting feed mode")
	return a.newWorker(deps).Run(ctx)
}

// EvaluateMode runs the quote-change listener and trigger evaluator.
func (a *App) EvaluateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting evaluate mode")
	_, triggerSvc := a.newServices(deps)
	return triggerSvc.Run(ctx)
}

// FullMode runs the ingestion worker and the trigger evaluator in one
// process, for dev and single-node deployments.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	worker := a.newWorker(deps)
	g.Go(func() error { return worker.Run(ctx) })

	_, triggerSvc := a.newServices(deps)
	g.Go(func() error { return triggerSvc.Run(ctx) })

	return g.Wait()
}
