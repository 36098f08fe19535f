package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stock-alerts/internal/alerting"
	"stock-alerts/internal/dedup"
	"stock-alerts/internal/fetcher"
	"stock-alerts/internal/market"
)

type fakeFetcher struct {
	mu     sync.Mutex
	prices map[string][]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		prices: make(map[string][]string),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) Fetch(ctx context.Context, inst market.Instrument) (market.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls[inst.Symbol]
	f.calls[inst.Symbol]++

	if err := f.errs[inst.Symbol]; err != nil {
		return market.Quote{}, err
	}

	series := f.prices[inst.Symbol]
	if idx >= len(series) {
		idx = len(series) - 1
	}
	return market.Quote{
		Instrument: inst,
		Price:      decimal.RequireFromString(series[idx]),
		Currency:   inst.Currency,
		ObservedAt: time.Now().UTC(),
	}, nil
}

type captureNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
	err   error
}

func (c *captureNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.notes = append(c.notes, note)
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notes)
}

func aaplWatch() market.Watch {
	inst := market.Instrument{Symbol: "AAPL", Kind: market.KindEquity, Currency: "USD"}
	return market.Watch{
		Instrument: inst,
		Rules: []market.Rule{{
			Instrument: inst,
			Condition:  market.PriceAbove,
			Threshold:  decimal.RequireFromString("150.00"),
			Cooldown:   time.Hour,
		}},
	}
}

func btcWatch() market.Watch {
	inst := market.Instrument{Symbol: "BTC", Kind: market.KindCrypto, Currency: "USD"}
	return market.Watch{
		Instrument: inst,
		Rules: []market.Rule{{
			Instrument: inst,
			Condition:  market.PriceBelow,
			Threshold:  decimal.RequireFromString("20000"),
			Cooldown:   time.Hour,
		}},
	}
}

func newService(watches []market.Watch, fetchers map[market.Kind]fetcher.QuoteFetcher, notifier alerting.Notifier) *Service {
	return New(Options{
		Watches:  watches,
		Fetchers: fetchers,
		Deduper:  dedup.New(nil, zerolog.Nop()),
		Notifier: notifier,
	}, zerolog.Nop())
}

func TestEndToEndCooldownScenario(t *testing.T) {
	fake := newFakeFetcher()
	fake.prices["AAPL"] = []string{"149.00", "151.00", "152.00", "153.00"}
	notifier := &captureNotifier{}

	svc := newService([]market.Watch{aaplWatch()},
		map[market.Kind]fetcher.QuoteFetcher{market.KindEquity: fake}, notifier)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ticks := []struct {
		at   time.Time
		want int
	}{
		{base, 0},                        // 149.00: below threshold
		{base.Add(10 * time.Minute), 1},  // 151.00: fires and sends
		{base.Add(20 * time.Minute), 1},  // 152.00: fires, cooldown suppresses
		{base.Add(80 * time.Minute), 2},  // 153.00: cooldown elapsed, sends again
	}

	for i, tick := range ticks {
		if err := svc.Tick(context.Background(), tick.at); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if got := notifier.count(); got != tick.want {
			t.Fatalf("tick %d: %d notifications, want %d", i, got, tick.want)
		}
	}

	first := notifier.notes[0]
	if first.Instrument.Symbol != "AAPL" {
		t.Fatalf("notification for %q, want AAPL", first.Instrument.Symbol)
	}
	if !first.Event.Price.Equal(decimal.RequireFromString("151.00")) {
		t.Fatalf("first notification price %s, want 151.00", first.Event.Price)
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	fake := newFakeFetcher()
	fake.prices["BTC"] = []string{"19500"}
	fake.errs["AAPL"] = &fetcher.Error{
		Provider: "fake", Symbol: "AAPL", Reason: fetcher.ReasonTransient, Err: errors.New("upstream timeout"),
	}
	notifier := &captureNotifier{}

	svc := newService([]market.Watch{aaplWatch(), btcWatch()},
		map[market.Kind]fetcher.QuoteFetcher{
			market.KindEquity: fake,
			market.KindCrypto: fake,
		}, notifier)

	if err := svc.Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("tick must not fail on a single instrument error: %v", err)
	}

	if got := notifier.count(); got != 1 {
		t.Fatalf("BTC alert should still be sent when AAPL fetch fails, got %d notifications", got)
	}
	if notifier.notes[0].Instrument.Symbol != "BTC" {
		t.Fatalf("notification for %q, want BTC", notifier.notes[0].Instrument.Symbol)
	}
}

type flakyFetcher struct {
	mu       sync.Mutex
	failures int
	calls    int
	price    string
}

func (f *flakyFetcher) Name() string { return "flaky" }

func (f *flakyFetcher) Fetch(ctx context.Context, inst market.Instrument) (market.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return market.Quote{}, &fetcher.Error{
			Provider: "flaky", Symbol: inst.Symbol, Reason: fetcher.ReasonTransient, Err: errors.New("timeout"),
		}
	}
	return market.Quote{
		Instrument: inst,
		Price:      decimal.RequireFromString(f.price),
		Currency:   inst.Currency,
		ObservedAt: time.Now().UTC(),
	}, nil
}

func TestTransientUpstreamRecoversWithinTick(t *testing.T) {
	flaky := &flakyFetcher{failures: 2, price: "19500"}
	retrying := fetcher.NewRetrying(flaky, nil, fetcher.RetryOptions{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}, zerolog.Nop())
	notifier := &captureNotifier{}

	svc := newService([]market.Watch{btcWatch()},
		map[market.Kind]fetcher.QuoteFetcher{market.KindCrypto: retrying}, notifier)

	if err := svc.Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if flaky.calls != 3 {
		t.Fatalf("expected 2 transient failures then success, got %d attempts", flaky.calls)
	}
	if got := notifier.count(); got != 1 {
		t.Fatalf("exactly one alert should be sent, got %d", got)
	}
}

func TestFailedSendDoesNotSuppressRetry(t *testing.T) {
	fake := newFakeFetcher()
	fake.prices["AAPL"] = []string{"151.00"}
	notifier := &captureNotifier{err: &alerting.Error{Err: errors.New("relay throttled")}}

	svc := newService([]market.Watch{aaplWatch()},
		map[market.Kind]fetcher.QuoteFetcher{market.KindEquity: fake}, notifier)

	base := time.Now().UTC()
	if err := svc.Tick(context.Background(), base); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if notifier.count() != 0 {
		t.Fatal("send should have failed")
	}

	// Delivery recovers: the very next tick must be eligible again because
	// no dedup record was written for the failed send.
	notifier.mu.Lock()
	notifier.err = nil
	notifier.mu.Unlock()

	if err := svc.Tick(context.Background(), base.Add(time.Minute)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := notifier.count(); got != 1 {
		t.Fatalf("recovered channel should deliver on the next tick, got %d notifications", got)
	}
}

type memoryRecordStore struct {
	mu      sync.Mutex
	records map[string]time.Time
}

func (s *memoryRecordStore) LoadNotificationRecords(ctx context.Context) (map[string]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out, nil
}

func (s *memoryRecordStore) UpsertNotificationRecord(ctx context.Context, ruleID string, sentAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = make(map[string]time.Time)
	}
	s.records[ruleID] = sentAt
	return nil
}

// signalDuringSendNotifier delivers successfully but cancels the run
// context first, like a SIGTERM arriving while the relay handshake is
// in flight.
type signalDuringSendNotifier struct {
	cancel context.CancelFunc
	sent   int
}

func (n *signalDuringSendNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	n.cancel()
	n.sent++
	return nil
}

func TestShutdownDuringSendKeepsDurableRecord(t *testing.T) {
	store := &memoryRecordStore{}
	fake := newFakeFetcher()
	fake.prices["AAPL"] = []string{"151.00"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifier := &signalDuringSendNotifier{cancel: cancel}

	svc := New(Options{
		Watches:  []market.Watch{aaplWatch()},
		Fetchers: map[market.Kind]fetcher.QuoteFetcher{market.KindEquity: fake},
		Deduper:  dedup.New(store, zerolog.Nop()),
		Notifier: notifier,
	}, zerolog.Nop())

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := svc.Tick(ctx, base); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if notifier.sent != 1 {
		t.Fatalf("expected one delivery, got %d", notifier.sent)
	}
	store.mu.Lock()
	persisted := len(store.records)
	store.mu.Unlock()
	if persisted != 1 {
		t.Fatal("delivered alert must be durably recorded even when the run context is cancelled mid-send")
	}

	// Simulated restart inside the cooldown: the reloaded records must
	// suppress a re-alert at the same price.
	restarted := dedup.New(store, zerolog.Nop())
	if err := restarted.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	rule := aaplWatch().Rules[0]
	if restarted.ShouldNotify(rule, base.Add(10*time.Minute)) {
		t.Fatal("restart inside the cooldown must not re-alert")
	}
}

func TestMissingFetcherSkipsInstrument(t *testing.T) {
	fake := newFakeFetcher()
	fake.prices["BTC"] = []string{"19500"}
	notifier := &captureNotifier{}

	svc := newService([]market.Watch{aaplWatch(), btcWatch()},
		map[market.Kind]fetcher.QuoteFetcher{market.KindCrypto: fake}, notifier)

	if err := svc.Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := notifier.count(); got != 1 {
		t.Fatalf("instrument without a fetcher must be skipped, not fatal; got %d notifications", got)
	}
}
