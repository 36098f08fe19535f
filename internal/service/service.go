package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stock-alerts/internal/alerting"
	"stock-alerts/internal/dedup"
	"stock-alerts/internal/fetcher"
	"stock-alerts/internal/market"
	"stock-alerts/internal/scheduler"
	"stock-alerts/internal/storage"
)

// Service orchestrates the polling loop: fetch each watched instrument,
// evaluate its rules, suppress duplicates, and dispatch notifications.
type Service struct {
	scheduler *scheduler.Scheduler
	watches   []market.Watch
	fetchers  map[market.Kind]fetcher.QuoteFetcher
	deduper   *dedup.Deduper
	notifier  alerting.Notifier
	alertLog  storage.AlertLog
	logger    zerolog.Logger

	maxConcurrentFetches int
}

// Options aggregate the service dependencies.
type Options struct {
	Scheduler            *scheduler.Scheduler
	Watches              []market.Watch
	Fetchers             map[market.Kind]fetcher.QuoteFetcher
	Deduper              *dedup.Deduper
	Notifier             alerting.Notifier
	AlertLog             storage.AlertLog
	MaxConcurrentFetches int
}

// New constructs the monitoring service.
func New(opts Options, logger zerolog.Logger) *Service {
	maxFetches := opts.MaxConcurrentFetches
	if maxFetches <= 0 {
		maxFetches = 4
	}
	return &Service{
		scheduler:            opts.Scheduler,
		watches:              opts.Watches,
		fetchers:             opts.Fetchers,
		deduper:              opts.Deduper,
		notifier:             opts.Notifier,
		alertLog:             opts.AlertLog,
		logger:               logger.With().Str("component", "service").Logger(),
		maxConcurrentFetches: maxFetches,
	}
}

// Run begins the polling loop and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.Tick)
}

// Tick executes one full pass: concurrent fetches bounded by the worker
// limit, then sequential evaluate/dedup/notify. A failed fetch skips only
// that instrument; every other instrument in the pass still runs.
func (s *Service) Tick(ctx context.Context, now time.Time) error {
	quotes := make([]*market.Quote, len(s.watches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrentFetches)
	for i, watch := range s.watches {
		i, watch := i, watch
		g.Go(func() error {
			quote, err := s.fetchOne(gctx, watch.Instrument)
			if err != nil {
				s.logger.Warn().Err(err).
					Str("symbol", watch.Instrument.Symbol).
					Str("kind", string(watch.Instrument.Kind)).
					Msg("instrument skipped this tick")
				return nil
			}
			quotes[i] = &quote
			return nil
		})
	}
	_ = g.Wait()

	for i, watch := range s.watches {
		quote := quotes[i]
		if quote == nil {
			continue
		}
		for _, rule := range watch.Rules {
			event, triggered := market.Evaluate(*quote, rule)
			if !triggered {
				continue
			}
			s.dispatch(ctx, watch.Instrument, event, now)
		}
	}
	return nil
}

func (s *Service) fetchOne(ctx context.Context, inst market.Instrument) (market.Quote, error) {
	f, ok := s.fetchers[inst.Kind]
	if !ok {
		return market.Quote{}, fmt.Errorf("no fetcher configured for kind %q", inst.Kind)
	}
	return f.Fetch(ctx, inst)
}

// dispatch sends one triggered alert unless its rule is cooling down. The
// dedup record is updated only after the notifier confirms delivery.
func (s *Service) dispatch(ctx context.Context, inst market.Instrument, event market.AlertEvent, now time.Time) {
	ruleID := event.Rule.ID()

	if !s.deduper.ShouldNotify(event.Rule, now) {
		s.logger.Debug().Str("rule", ruleID).Msg("alert suppressed by cooldown")
		return
	}

	note := alerting.Notification{Event: event, Instrument: inst}
	if err := s.notifier.Notify(ctx, note); err != nil {
		if alerting.IsPermanent(err) {
			// The only notification channel is itself broken; the logs are
			// all the operator has left.
			s.logger.Error().Err(err).Str("rule", ruleID).Msg("notification channel rejected delivery; alert NOT sent")
		} else {
			s.logger.Warn().Err(err).Str("rule", ruleID).Msg("alert delivery failed; will retry on next eligible tick")
		}
		return
	}

	s.deduper.RecordSent(ctx, event.Rule, now)

	if s.alertLog != nil {
		entry := storage.AlertLogEntry{
			RuleID:    ruleID,
			Symbol:    inst.Symbol,
			Condition: string(event.Rule.Condition),
			Threshold: event.Rule.Threshold,
			Price:     event.Price,
			SentAt:    now,
		}
		if _, err := s.alertLog.InsertAlert(ctx, entry); err != nil {
			s.logger.Error().Err(err).Str("rule", ruleID).Msg("failed to persist alert log entry")
		}
	}

	s.logger.Info().
		Str("rule", ruleID).
		Str("price", event.Price.String()).
		Str("threshold", event.Rule.Threshold.String()).
		Msg("alert sent")
}
