package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies the asset class of a watched instrument.
type Kind string

const (
	KindEquity Kind = "equity"
	KindCrypto Kind = "crypto"
)

// ParseKind converts a configuration string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindEquity:
		return KindEquity, nil
	case KindCrypto:
		return KindCrypto, nil
	default:
		return "", fmt.Errorf("unknown instrument kind %q", s)
	}
}

// Instrument is a tradable asset being monitored.
type Instrument struct {
	Symbol   string
	Kind     Kind
	Currency string
}

// Quote is a single observed price reading for one instrument.
type Quote struct {
	Instrument Instrument
	Price      decimal.Decimal
	Currency   string
	ObservedAt time.Time
}

// Condition names the direction of a threshold rule.
type Condition string

const (
	PriceAbove Condition = "price_above"
	PriceBelow Condition = "price_below"
)

// ParseCondition converts a configuration string into a Condition.
func ParseCondition(s string) (Condition, error) {
	switch Condition(strings.ToLower(strings.TrimSpace(s))) {
	case PriceAbove:
		return PriceAbove, nil
	case PriceBelow:
		return PriceBelow, nil
	default:
		return "", fmt.Errorf("unknown alert condition %q", s)
	}
}

// Rule is a configured threshold condition on one instrument's price.
type Rule struct {
	Instrument Instrument
	Condition  Condition
	Threshold  decimal.Decimal
	Cooldown   time.Duration
}

// ID returns the stable identity used for cooldown bookkeeping. Rules on
// the same instrument with different conditions or thresholds are
// independent.
func (r Rule) ID() string {
	return fmt.Sprintf("%s|%s|%s", strings.ToUpper(r.Instrument.Symbol), r.Condition, r.Threshold.String())
}

// AlertEvent records that a rule's condition was satisfied by a quote.
type AlertEvent struct {
	Rule  Rule
	Price decimal.Decimal
	At    time.Time
}

// Watch groups an instrument with the rules configured on it.
type Watch struct {
	Instrument Instrument
	Rules      []Rule
}
