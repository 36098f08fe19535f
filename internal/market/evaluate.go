package market

// Evaluate reports whether quote satisfies rule. Comparisons are strict so
// a price resting exactly on the threshold never fires; only a genuine
// crossing does. Pure function, safe for concurrent use.
func Evaluate(quote Quote, rule Rule) (AlertEvent, bool) {
	var triggered bool
	switch rule.Condition {
	case PriceAbove:
		triggered = quote.Price.GreaterThan(rule.Threshold)
	case PriceBelow:
		triggered = quote.Price.LessThan(rule.Threshold)
	}
	if !triggered {
		return AlertEvent{}, false
	}
	return AlertEvent{Rule: rule, Price: quote.Price, At: quote.ObservedAt}, true
}
