package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS notification_records (
        rule_id      TEXT PRIMARY KEY,
        last_sent_at TIMESTAMPTZ NOT NULL
    );
    CREATE TABLE IF NOT EXISTS alert_log (
        id         BIGSERIAL PRIMARY KEY,
        rule_id    TEXT NOT NULL,
        symbol     TEXT NOT NULL,
        condition  TEXT NOT NULL,
        threshold  NUMERIC NOT NULL,
        price      NUMERIC NOT NULL,
        sent_at    TIMESTAMPTZ NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	upsertNotificationRecordSQL = `INSERT INTO notification_records (rule_id, last_sent_at)
    VALUES ($1, $2)
    ON CONFLICT (rule_id) DO UPDATE
    SET last_sent_at = EXCLUDED.last_sent_at;`

	listNotificationRecordsSQL = `SELECT rule_id, last_sent_at FROM notification_records;`

	insertAlertSQL = `INSERT INTO alert_log (
        rule_id, symbol, condition, threshold, price, sent_at
    ) VALUES ($1, $2, $3, $4, $5, $6)
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id, rule_id, symbol, condition, threshold::text, price::text, sent_at, created_at
    FROM alert_log
    ORDER BY sent_at DESC
    LIMIT $1;`
)

// NotificationRecordStore defines durable cooldown bookkeeping.
type NotificationRecordStore interface {
	LoadNotificationRecords(ctx context.Context) (map[string]time.Time, error)
	UpsertNotificationRecord(ctx context.Context, ruleID string, sentAt time.Time) error
}

// AlertLog defines alert audit persistence.
type AlertLog interface {
	InsertAlert(ctx context.Context, entry AlertLogEntry) (AlertLogEntry, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertLogEntry, error)
}

// Store aggregates access to notification records and the alert log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the two tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// LoadNotificationRecords returns every persisted cooldown record.
func (s *Store) LoadNotificationRecords(ctx context.Context) (map[string]time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listNotificationRecordsSQL)
	if err != nil {
		return nil, fmt.Errorf("list notification records: %w", err)
	}
	defer rows.Close()

	records := make(map[string]time.Time)
	for rows.Next() {
		var ruleID string
		var sentAt time.Time
		if err := rows.Scan(&ruleID, &sentAt); err != nil {
			return nil, fmt.Errorf("scan notification record: %w", err)
		}
		records[ruleID] = sentAt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification records: %w", err)
	}
	return records, nil
}

// UpsertNotificationRecord stores the latest confirmed delivery for a rule.
func (s *Store) UpsertNotificationRecord(ctx context.Context, ruleID string, sentAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, upsertNotificationRecordSQL, ruleID, sentAt); err != nil {
		return fmt.Errorf("upsert notification record: %w", err)
	}
	return nil
}

// InsertAlert appends a delivered alert to the audit log.
func (s *Store) InsertAlert(ctx context.Context, entry AlertLogEntry) (AlertLogEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertLogEntry{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		entry.RuleID,
		entry.Symbol,
		entry.Condition,
		entry.Threshold.String(),
		entry.Price.String(),
		entry.SentAt,
	)
	if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return AlertLogEntry{}, fmt.Errorf("insert alert: %w", err)
	}
	return entry, nil
}

// ListRecentAlerts returns the newest delivered alerts, most recent first.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertLogEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRecentAlertsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	defer rows.Close()

	var entries []AlertLogEntry
	for rows.Next() {
		var entry AlertLogEntry
		var threshold, price string
		if err := rows.Scan(&entry.ID, &entry.RuleID, &entry.Symbol, &entry.Condition, &threshold, &price, &entry.SentAt, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if entry.Threshold, err = parseDecimal(threshold); err != nil {
			return nil, err
		}
		if entry.Price, err = parseDecimal(price); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return entries, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

var (
	_ NotificationRecordStore = (*Store)(nil)
	_ AlertLog                = (*Store)(nil)
)
