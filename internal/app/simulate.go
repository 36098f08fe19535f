package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stock-alerts/internal/dedup"
	"stock-alerts/internal/fetcher"
	"stock-alerts/internal/market"
	"stock-alerts/internal/service"
)

// SimulateAlert feeds an injected price through the evaluation pipeline
// for one configured symbol, dispatching real notifications for any rule
// it triggers. Useful for verifying SMTP settings end to end.
func (a *App) SimulateAlert(ctx context.Context, symbol string, price decimal.Decimal) error {
	watches, err := a.Config.Watches()
	if err != nil {
		return err
	}

	var selected *market.Watch
	for i := range watches {
		if strings.EqualFold(watches[i].Instrument.Symbol, symbol) {
			selected = &watches[i]
			break
		}
	}
	if selected == nil {
		return fmt.Errorf("symbol %q is not in the watchlist", symbol)
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}

	svc := service.New(service.Options{
		Watches: []market.Watch{*selected},
		Fetchers: map[market.Kind]fetcher.QuoteFetcher{
			selected.Instrument.Kind: &staticFetcher{price: price},
		},
		Deduper:  dedup.New(nil, a.Logger),
		Notifier: notifier,
	}, a.Logger)

	return svc.Tick(ctx, time.Now().UTC())
}

type staticFetcher struct {
	price decimal.Decimal
}

func (s *staticFetcher) Name() string { return "simulated" }

func (s *staticFetcher) Fetch(ctx context.Context, inst market.Instrument) (market.Quote, error) {
	return market.Quote{
		Instrument: inst,
		Price:      s.price,
		Currency:   inst.Currency,
		ObservedAt: time.Now().UTC(),
	}, nil
}

var _ fetcher.QuoteFetcher = (*staticFetcher)(nil)
