package alerting

import (
	"fmt"
	"strings"
	"time"

	"stock-alerts/internal/market"
)

func directionWord(c market.Condition) string {
	if c == market.PriceBelow {
		return "below"
	}
	return "above"
}

func renderSubject(note Notification) string {
	return fmt.Sprintf("%s Alert: price %s %s",
		strings.ToUpper(note.Instrument.Symbol),
		directionWord(note.Event.Rule.Condition),
		note.Event.Rule.Threshold.StringFixed(2),
	)
}

func renderBody(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("%s (%s) traded at %s %s at %s.\n",
		strings.ToUpper(note.Instrument.Symbol),
		note.Instrument.Kind,
		note.Event.Price.StringFixed(2),
		note.Instrument.Currency,
		note.Event.At.UTC().Format(time.RFC3339),
	))
	builder.WriteString(fmt.Sprintf("This crosses the configured %s threshold of %s %s.\n",
		directionWord(note.Event.Rule.Condition),
		note.Event.Rule.Threshold.StringFixed(2),
		note.Instrument.Currency,
	))
	builder.WriteString(fmt.Sprintf("Next alert for this rule after the %s cooldown.\n", note.Event.Rule.Cooldown))
	return builder.String()
}
