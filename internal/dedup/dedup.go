package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stock-alerts/internal/market"
)

// RecordStore persists notification records so cooldowns survive a
// process restart.
type RecordStore interface {
	LoadNotificationRecords(ctx context.Context) (map[string]time.Time, error)
	UpsertNotificationRecord(ctx context.Context, ruleID string, sentAt time.Time) error
}

// Deduper suppresses repeat notifications for a rule inside its cooldown
// window. State is keyed by rule identity, so multiple rules on the same
// instrument fire independently. The check and the record update are
// guarded by one mutex so concurrent ticks cannot double-notify.
type Deduper struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
	store    RecordStore
	logger   zerolog.Logger
}

// New constructs a Deduper. store may be nil for memory-only operation.
func New(store RecordStore, logger zerolog.Logger) *Deduper {
	return &Deduper{
		lastSent: make(map[string]time.Time),
		store:    store,
		logger:   logger.With().Str("component", "dedup").Logger(),
	}
}

// Load hydrates in-memory state from the record store, so a restart inside
// a cooldown window does not re-alert.
func (d *Deduper) Load(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	records, err := d.store.LoadNotificationRecords(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for ruleID, sentAt := range records {
		d.lastSent[ruleID] = sentAt
	}
	d.logger.Info().Int("records", len(records)).Msg("notification records loaded")
	return nil
}

// ShouldNotify reports whether a notification for rule may go out at now:
// either no prior send exists, or the cooldown has fully elapsed.
func (d *Deduper) ShouldNotify(rule market.Rule, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	last, ok := d.lastSent[rule.ID()]
	if !ok {
		return true
	}
	return now.Sub(last) >= rule.Cooldown
}

// RecordSent marks a confirmed delivery. Callers must invoke it only after
// the notifier reports success; a failed send must stay eligible for the
// next tick. The durable upsert is best effort: the memory record already
// prevents a storm within this run.
func (d *Deduper) RecordSent(ctx context.Context, rule market.Rule, now time.Time) {
	d.mu.Lock()
	d.lastSent[rule.ID()] = now
	d.mu.Unlock()

	if d.store == nil {
		return
	}
	// The delivery already happened; a shutdown signal cancelling the
	// caller's context must not lose the durable record, or a restart
	// inside the cooldown would re-alert.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.store.UpsertNotificationRecord(ctx, rule.ID(), now); err != nil {
		d.logger.Error().Err(err).Str("rule", rule.ID()).Msg("failed to persist notification record")
	}
}
