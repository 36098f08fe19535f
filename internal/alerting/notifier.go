package alerting

import (
	"context"
	"errors"
	"fmt"

	"stock-alerts/internal/market"
)

// Notification carries one triggered alert to a delivery channel.
type Notification struct {
	Event      market.AlertEvent
	Instrument market.Instrument
}

// Notifier delivers alert notifications.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// Error wraps a delivery failure with its retry classification.
type Error struct {
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("notify (%s): %v", kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a delivery failure that retrying
// cannot fix, such as rejected relay credentials.
func IsPermanent(err error) bool {
	var ne *Error
	return errors.As(err, &ne) && ne.Permanent
}
