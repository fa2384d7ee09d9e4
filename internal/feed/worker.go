// Package feed implements the ingestion worker: the singleton process that
// holds the one streaming connection to the upstream provider, keeps its
// subscription list synchronized with the active live positions, and flushes
// buffered ticks into the quote store.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
)

// State is the worker's connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateSubscribing  State = "subscribing"
	StateStreaming    State = "streaming"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// errCredentialsRotated signals that the polled API key changed and the
// current connection must be replaced.
var errCredentialsRotated = errors.New("credentials rotated")

// StreamConn is the live connection surface the worker drives. A connection
// is used until its Err channel fires; the worker then dials a fresh one.
type StreamConn interface {
	Subscribe(ctx context.Context, symbols []string) error
	Unsubscribe(ctx context.Context, symbols []string) error
	Ticks() <-chan domain.Quote
	Err() <-chan error
	Close() error
}

// Dialer opens a fresh streaming connection authenticated with apiKey.
type Dialer func(ctx context.Context, apiKey string) (StreamConn, error)

// KeySource is polled periodically for the upstream API key. A changed key
// forces a reconnect; an empty key idles the worker.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// WorkerConfig holds the worker's timers and subscription parameters.
type WorkerConfig struct {
	Provider       domain.Provider
	StaticSymbols  []string
	Overrides      domain.SymbolOverrides
	FlushInterval  time.Duration
	ResyncInterval time.Duration
	CredentialPoll time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

func (c *WorkerConfig) applyDefaults() {
	if c.Provider == "" {
		c.Provider = domain.ProviderTraderMade
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 250 * time.Millisecond
	}
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = 30 * time.Second
	}
	if c.CredentialPoll <= 0 {
		c.CredentialPoll = time.Minute
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
}

// Worker is the ingestion worker. Its tick buffer, acknowledged subscription
// set, and timers are single-owner state touched only by Run's goroutine.
type Worker struct {
	cfg     WorkerConfig
	dial    Dialer
	keys    KeySource
	signals domain.SignalStore
	quotes  domain.QuoteStore
	bus     domain.QuoteBus
	logger  *slog.Logger

	buffer  *TickBuffer
	acked   SubscriptionSet
	attempt int

	stateMu sync.Mutex
	state   State
}

// NewWorker creates an ingestion worker.
func NewWorker(cfg WorkerConfig, dial Dialer, keys KeySource, signals domain.SignalStore, quotes domain.QuoteStore, bus domain.QuoteBus, logger *slog.Logger) *Worker {
	cfg.applyDefaults()
	return &Worker{
		cfg:     cfg,
		dial:    dial,
		keys:    keys,
		signals: signals,
		quotes:  quotes,
		bus:     bus,
		logger:  logger.With(slog.String("component", "ingestion_worker")),
		buffer:  NewTickBuffer(),
		acked:   SubscriptionSet{},
		state:   StateDisconnected,
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.state
}

// Run connects, streams, and reconnects with exponential backoff until ctx is
// cancelled. On shutdown it flushes any buffered ticks synchronously before
// closing the connection.
func (w *Worker) Run(ctx context.Context) error {
	var badKey string

	for {
		if ctx.Err() != nil {
			return w.shutdown(ctx.Err())
		}

		apiKey, err := w.keys.APIKey(ctx)
		if err != nil || apiKey == "" || apiKey == badKey {
			// No usable credentials: idle without subscriptions until the
			// periodic check observes a refreshed key.
			w.setState(StateDisconnected)
			if err != nil {
				w.logger.Warn("credential source failed", slog.String("error", err.Error()))
			}
			if !w.sleep(ctx, w.cfg.CredentialPoll) {
				return w.shutdown(ctx.Err())
			}
			continue
		}

		conn, err := w.connect(ctx, apiKey)
		if err != nil {
			if ctx.Err() != nil {
				return w.shutdown(ctx.Err())
			}
			w.setState(StateReconnecting)
			delay := w.backoff()
			w.logger.Warn("connect failed, backing off",
				slog.String("error", err.Error()),
				slog.Duration("delay", delay),
				slog.Int("attempt", w.attempt),
			)
			if !w.sleep(ctx, delay) {
				return w.shutdown(ctx.Err())
			}
			continue
		}
		w.attempt = 0
		badKey = ""

		err = w.stream(ctx, conn, apiKey)
		_ = conn.Close()

		switch {
		case ctx.Err() != nil:
			return w.shutdown(ctx.Err())
		case errors.Is(err, errCredentialsRotated):
			w.logger.Info("api key rotated, reconnecting")
		case errors.Is(err, domain.ErrUnauthorized):
			// The key was rejected mid-stream; idle until it changes.
			w.logger.Error("upstream rejected credentials, idling until key refresh")
			badKey = apiKey
		default:
			w.setState(StateReconnecting)
			w.logger.Warn("stream ended, reconnecting", slog.String("error", err.Error()))
		}
	}
}

// connect dials a fresh connection and subscribes it to the full desired set.
// A new connection never assumes server-side session persistence.
func (w *Worker) connect(ctx context.Context, apiKey string) (StreamConn, error) {
	w.setState(StateConnecting)

	conn, err := w.dial(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	w.setState(StateConnected)

	desired, err := w.desiredSet(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	w.setState(StateSubscribing)
	w.acked = SubscriptionSet{}
	if err := conn.Subscribe(ctx, desired.Symbols()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	w.acked = desired

	w.setState(StateStreaming)
	w.logger.Info("streaming", slog.Int("symbols", len(desired)))
	return conn, nil
}

// stream is the inner loop: buffer ticks, flush on the flush timer, resync
// subscriptions on the resync timer, and watch for credential rotation. It
// returns when the connection dies, the key changes, or ctx is cancelled.
func (w *Worker) stream(ctx context.Context, conn StreamConn, apiKey string) error {
	flushTicker := time.NewTicker(w.cfg.FlushInterval)
	defer flushTicker.Stop()
	resyncTicker := time.NewTicker(w.cfg.ResyncInterval)
	defer resyncTicker.Stop()
	credTicker := time.NewTicker(w.cfg.CredentialPoll)
	defer credTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case q := <-conn.Ticks():
			w.buffer.Add(q)

		case err := <-conn.Err():
			return err

		case <-flushTicker.C:
			w.flush(ctx)

		case <-resyncTicker.C:
			w.resync(ctx, conn)

		case <-credTicker.C:
			key, err := w.keys.APIKey(ctx)
			if err != nil {
				w.logger.Warn("credential poll failed", slog.String("error", err.Error()))
				continue
			}
			if key != apiKey {
				return errCredentialsRotated
			}
		}
	}
}

// flush drains the buffer into one batched upsert. On failure the rows are
// restored and retried on the next flush tick; the store's monotonic
// observed_at guard makes the retry duplicate-safe.
func (w *Worker) flush(ctx context.Context) {
	batch := w.buffer.Drain()
	if len(batch) == 0 {
		return
	}

	if err := w.quotes.UpsertBatch(ctx, batch); err != nil {
		w.logger.Warn("flush failed, retaining ticks",
			slog.Int("ticks", len(batch)),
			slog.String("error", err.Error()),
		)
		w.buffer.Restore(batch)
		return
	}

	if err := w.bus.PublishQuotes(ctx, batch); err != nil {
		// Push is a best-effort latency optimization; readers re-poll.
		w.logger.Debug("publish quotes failed", slog.String("error", err.Error()))
	}
}

// resync recomputes the desired subscription set and sends the control
// messages needed to converge the acknowledged set onto it.
func (w *Worker) resync(ctx context.Context, conn StreamConn) {
	desired, err := w.desiredSet(ctx)
	if err != nil {
		w.logger.Warn("subscription resync failed", slog.String("error", err.Error()))
		return
	}

	diff := DiffSubscriptions(w.acked, desired)
	if diff.Empty() {
		return
	}

	if len(diff.Subscribe) > 0 {
		if err := conn.Subscribe(ctx, diff.Subscribe); err != nil {
			w.logger.Warn("subscribe failed", slog.String("error", err.Error()))
			return
		}
		for _, sym := range diff.Subscribe {
			w.acked[sym] = struct{}{}
		}
	}
	if len(diff.Unsubscribe) > 0 {
		if err := conn.Unsubscribe(ctx, diff.Unsubscribe); err != nil {
			w.logger.Warn("unsubscribe failed", slog.String("error", err.Error()))
			return
		}
		for _, sym := range diff.Unsubscribe {
			delete(w.acked, sym)
		}
	}

	w.logger.Info("subscriptions resynced",
		slog.Int("added", len(diff.Subscribe)),
		slog.Int("removed", len(diff.Unsubscribe)),
		slog.Int("total", len(w.acked)),
	)
}

// desiredSet computes the union of symbols referenced by active live
// positions and the statically configured ones.
func (w *Worker) desiredSet(ctx context.Context) (SubscriptionSet, error) {
	positions, err := w.signals.ListActiveLive(ctx)
	if err != nil {
		return nil, err
	}
	return ComputeSubscriptionSet(positions, w.cfg.StaticSymbols, w.cfg.Provider, w.cfg.Overrides), nil
}

// shutdown flushes any remaining buffered ticks synchronously, using a fresh
// context since the run context is already cancelled.
func (w *Worker) shutdown(cause error) error {
	w.setState(StateClosed)

	if w.buffer.Len() > 0 {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		batch := w.buffer.Drain()
		if err := w.quotes.UpsertBatch(flushCtx, batch); err != nil {
			w.logger.Error("final flush failed",
				slog.Int("ticks", len(batch)),
				slog.String("error", err.Error()),
			)
		}
	}

	w.logger.Info("ingestion worker stopped")
	return cause
}

// backoff returns the next reconnect delay: min(max, base*2^attempt).
func (w *Worker) backoff() time.Duration {
	delay := w.cfg.BaseBackoff << w.attempt
	if delay <= 0 || delay > w.cfg.MaxBackoff {
		delay = w.cfg.MaxBackoff
	}
	w.attempt++
	return delay
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (w *Worker) setState(s State) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if w.state != s {
		w.logger.Debug("state change", slog.String("from", string(w.state)), slog.String("to", string(s)))
		w.state = s
	}
}
