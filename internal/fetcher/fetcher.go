package fetcher

import (
	"context"
	"errors"
	"fmt"

	"stock-alerts/internal/market"
)

// Reason classifies an upstream failure for retry purposes.
type Reason string

const (
	// ReasonTransient covers timeouts, 5xx responses, and rate limiting.
	ReasonTransient Reason = "transient"
	// ReasonPermanent covers invalid symbols and rejected credentials.
	ReasonPermanent Reason = "permanent"
)

// Error wraps an upstream fetch failure with its classification.
type Error struct {
	Provider string
	Symbol   string
	Reason   Reason
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: fetch %s (%s): %v", e.Provider, e.Symbol, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a fetch failure worth retrying.
func IsTransient(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Reason == ReasonTransient
}

// IsPermanent reports whether err is a fetch failure retrying cannot fix.
func IsPermanent(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Reason == ReasonPermanent
}

// QuoteFetcher retrieves the current price of one instrument from an
// upstream provider.
type QuoteFetcher interface {
	Name() string
	Fetch(ctx context.Context, inst market.Instrument) (market.Quote, error)
}
