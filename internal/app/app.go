package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"stock-alerts/internal/alerting"
	"stock-alerts/internal/config"
	"stock-alerts/internal/dedup"
	"stock-alerts/internal/fetcher"
	"stock-alerts/internal/market"
	"stock-alerts/internal/ratelimit"
	"stock-alerts/internal/scheduler"
	"stock-alerts/internal/service"
	"stock-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newFetchers builds one rate-limited, retrying client per asset class.
func (a *App) newFetchers() map[market.Kind]fetcher.QuoteFetcher {
	clk := clock.New()
	retryOpts := fetcher.RetryOptions{
		MaxAttempts:     a.Config.Fetch.MaxAttempts,
		InitialInterval: a.Config.Fetch.InitialBackoff,
		MaxInterval:     a.Config.Fetch.MaxBackoff,
	}

	av := fetcher.NewAlphaVantage(fetcher.AlphaVantageOptions{
		BaseURL: a.Config.Providers.AlphaVantage.BaseURL,
		APIKey:  a.Config.Providers.AlphaVantage.APIKey,
		Timeout: a.Config.Providers.AlphaVantage.RequestTimeout,
	}, a.Logger)
	avLimiter := ratelimit.NewPerMinute(
		a.Config.Providers.AlphaVantage.MaxRequestsPerMinute,
		a.Config.Providers.AlphaVantage.Burst,
		clk,
	)

	cg := fetcher.NewCoinGecko(fetcher.CoinGeckoOptions{
		BaseURL: a.Config.Providers.CoinGecko.BaseURL,
		APIKey:  a.Config.Providers.CoinGecko.APIKey,
		Timeout: a.Config.Providers.CoinGecko.RequestTimeout,
	}, a.Logger)
	cgLimiter := ratelimit.NewPerMinute(
		a.Config.Providers.CoinGecko.MaxRequestsPerMinute,
		a.Config.Providers.CoinGecko.Burst,
		clk,
	)

	return map[market.Kind]fetcher.QuoteFetcher{
		market.KindEquity: fetcher.NewRetrying(av, avLimiter, retryOpts, a.Logger),
		market.KindCrypto: fetcher.NewRetrying(cg, cgLimiter, retryOpts, a.Logger),
	}
}

func (a *App) newNotifier() (*alerting.EmailNotifier, error) {
	return alerting.NewEmailNotifier(alerting.EmailOptions{
		Host:          a.Config.Email.Host,
		Port:          a.Config.Email.Port,
		Sender:        a.Config.Email.Sender,
		Password:      a.Config.Email.Password,
		Recipient:     a.Config.Email.Recipient,
		MaxAttempts:   a.Config.Email.MaxAttempts,
		RetryInterval: a.Config.Email.RetryInterval,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

// newService assembles the full evaluation pipeline. sched may be nil for
// one-shot commands that call Tick directly.
func (a *App) newService(sched *scheduler.Scheduler, store *storage.Store, notifier alerting.Notifier) (*service.Service, *dedup.Deduper, error) {
	watches, err := a.Config.Watches()
	if err != nil {
		return nil, nil, err
	}

	var recordStore dedup.RecordStore
	var alertLog storage.AlertLog
	if store != nil {
		recordStore = store
		alertLog = store
	}
	deduper := dedup.New(recordStore, a.Logger)

	svc := service.New(service.Options{
		Scheduler:            sched,
		Watches:              watches,
		Fetchers:             a.newFetchers(),
		Deduper:              deduper,
		Notifier:             notifier,
		AlertLog:             alertLog,
		MaxConcurrentFetches: a.Config.Scheduler.MaxConcurrentFetches,
	}, a.Logger)
	return svc, deduper, nil
}

// Run executes the long-running monitoring service until a shutdown
// signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; cooldown records will not survive restarts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, nil, a.Logger)

	svc, deduper, err := a.newService(sched, store, notifier)
	if err != nil {
		return err
	}
	if err := deduper.Load(ctx); err != nil {
		return fmt.Errorf("load notification records: %w", err)
	}

	// Best effort: lets the operator confirm the channel works end to end.
	startupBody := fmt.Sprintf("stockalerts monitoring started at %s", time.Now().UTC().Format(time.RFC3339))
	if err := notifier.Send(ctx, "stockalerts started", startupBody); err != nil {
		a.Logger.Warn().Err(err).Msg("startup notification failed")
	}

	a.Logger.Info().Int("instruments", len(a.Config.Watchlist)).Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// Check runs a single polling pass and exits.
func (a *App) Check(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}

	svc, deduper, err := a.newService(nil, store, notifier)
	if err != nil {
		return err
	}
	if err := deduper.Load(ctx); err != nil {
		return fmt.Errorf("load notification records: %w", err)
	}

	return svc.Tick(ctx, time.Now().UTC())
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
