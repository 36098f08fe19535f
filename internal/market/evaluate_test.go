package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func makeQuote(price string) Quote {
	return Quote{
		Instrument: Instrument{Symbol: "AAPL", Kind: KindEquity, Currency: "USD"},
		Price:      decimal.RequireFromString(price),
		Currency:   "USD",
		ObservedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEvaluatePriceAbove(t *testing.T) {
	rule := Rule{
		Instrument: Instrument{Symbol: "AAPL", Kind: KindEquity},
		Condition:  PriceAbove,
		Threshold:  decimal.RequireFromString("150"),
		Cooldown:   time.Hour,
	}

	cases := []struct {
		price string
		want  bool
	}{
		{"149.99", false},
		{"150", false},
		{"150.00", false},
		{"150.0001", true},
		{"151", true},
	}

	for _, tc := range cases {
		event, got := Evaluate(makeQuote(tc.price), rule)
		if got != tc.want {
			t.Fatalf("price %s: triggered=%v, want %v", tc.price, got, tc.want)
		}
		if got && !event.Price.Equal(decimal.RequireFromString(tc.price)) {
			t.Fatalf("event price %s does not match quote %s", event.Price, tc.price)
		}
	}
}

func TestEvaluatePriceBelow(t *testing.T) {
	rule := Rule{
		Instrument: Instrument{Symbol: "BTC", Kind: KindCrypto},
		Condition:  PriceBelow,
		Threshold:  decimal.RequireFromString("20000"),
		Cooldown:   time.Hour,
	}

	cases := []struct {
		price string
		want  bool
	}{
		{"20000.01", false},
		{"20000", false},
		{"19999.99", true},
		{"19500", true},
	}

	for _, tc := range cases {
		if _, got := Evaluate(makeQuote(tc.price), rule); got != tc.want {
			t.Fatalf("price %s: triggered=%v, want %v", tc.price, got, tc.want)
		}
	}
}

func TestEvaluateCarriesQuoteTimestamp(t *testing.T) {
	rule := Rule{Condition: PriceAbove, Threshold: decimal.NewFromInt(1)}
	quote := makeQuote("2")

	event, ok := Evaluate(quote, rule)
	if !ok {
		t.Fatal("expected trigger")
	}
	if !event.At.Equal(quote.ObservedAt) {
		t.Fatalf("event timestamp %s, want quote observation time %s", event.At, quote.ObservedAt)
	}
}

func TestRuleIDIndependentPerRule(t *testing.T) {
	inst := Instrument{Symbol: "aapl", Kind: KindEquity}
	above := Rule{Instrument: inst, Condition: PriceAbove, Threshold: decimal.NewFromInt(150)}
	below := Rule{Instrument: inst, Condition: PriceBelow, Threshold: decimal.NewFromInt(150)}

	if above.ID() == below.ID() {
		t.Fatalf("distinct rules on one instrument must have distinct ids: %s", above.ID())
	}
	if above.ID() != "AAPL|price_above|150" {
		t.Fatalf("unexpected rule id %q", above.ID())
	}
}

func TestParseKindAndCondition(t *testing.T) {
	if _, err := ParseKind("bond"); err == nil {
		t.Fatal("unknown kind should error")
	}
	if k, err := ParseKind(" Equity "); err != nil || k != KindEquity {
		t.Fatalf("ParseKind: %v %v", k, err)
	}
	if _, err := ParseCondition("crosses"); err == nil {
		t.Fatal("unknown condition should error")
	}
	if c, err := ParseCondition("PRICE_BELOW"); err != nil || c != PriceBelow {
		t.Fatalf("ParseCondition: %v %v", c, err)
	}
}
