package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertLogEntry is an audit row for one delivered alert.
type AlertLogEntry struct {
	ID        int64
	RuleID    string
	Symbol    string
	Condition string
	Threshold decimal.Decimal
	Price     decimal.Decimal
	SentAt    time.Time
	CreatedAt time.Time
}
