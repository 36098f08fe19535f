package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stock-alerts/internal/market"
)

const alphaVantagePriceField = "05. price"

// AlphaVantageOptions parameterise the equity quote client.
type AlphaVantageOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// AlphaVantage fetches equity quotes from the Alpha Vantage GLOBAL_QUOTE
// endpoint.
type AlphaVantage struct {
	opts    AlphaVantageOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewAlphaVantage constructs an equity quote client.
func NewAlphaVantage(opts AlphaVantageOptions, logger zerolog.Logger) *AlphaVantage {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.alphavantage.co"
	}

	return &AlphaVantage{
		opts:    opts,
		logger:  logger.With().Str("component", "alphavantage_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name identifies the provider for rate limiting and logging.
func (a *AlphaVantage) Name() string { return "alphavantage" }

// Fetch retrieves the current price for an equity symbol.
func (a *AlphaVantage) Fetch(ctx context.Context, inst market.Instrument) (market.Quote, error) {
	if a.opts.APIKey == "" {
		return market.Quote{}, a.wrap(inst, ReasonPermanent, errors.New("api key not configured"))
	}

	query := url.Values{}
	query.Set("function", "GLOBAL_QUOTE")
	query.Set("symbol", inst.Symbol)
	query.Set("apikey", a.opts.APIKey)
	endpoint := a.baseURL + "/query?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return market.Quote{}, a.wrap(inst, ReasonPermanent, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return market.Quote{}, a.wrap(inst, ReasonTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return market.Quote{}, a.wrap(inst, ReasonTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		return market.Quote{}, a.wrap(inst, classifyStatus(resp.StatusCode), fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var payload struct {
		GlobalQuote  map[string]string `json:"Global Quote"`
		Note         string            `json:"Note"`
		Information  string            `json:"Information"`
		ErrorMessage string            `json:"Error Message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return market.Quote{}, a.wrap(inst, ReasonTransient, fmt.Errorf("decode response: %w", err))
	}

	// Alpha Vantage reports free-tier throttling inside an HTTP 200 body.
	if payload.Note != "" || payload.Information != "" {
		msg := payload.Note
		if msg == "" {
			msg = payload.Information
		}
		return market.Quote{}, a.wrap(inst, ReasonTransient, fmt.Errorf("provider throttled: %s", truncate(msg, 120)))
	}
	if payload.ErrorMessage != "" {
		return market.Quote{}, a.wrap(inst, ReasonPermanent, errors.New(truncate(payload.ErrorMessage, 120)))
	}

	raw := payload.GlobalQuote[alphaVantagePriceField]
	if raw == "" {
		// An empty quote object is what the API returns for unknown symbols.
		return market.Quote{}, a.wrap(inst, ReasonPermanent, errors.New("no price in response; symbol may be invalid"))
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return market.Quote{}, a.wrap(inst, ReasonPermanent, fmt.Errorf("parse price %q: %w", raw, err))
	}

	quote := market.Quote{
		Instrument: inst,
		Price:      price,
		Currency:   displayCurrency(inst),
		ObservedAt: time.Now().UTC(),
	}

	a.logger.Debug().Str("symbol", inst.Symbol).Str("price", price.String()).Msg("equity quote fetched")
	return quote, nil
}

func (a *AlphaVantage) wrap(inst market.Instrument, reason Reason, err error) error {
	return &Error{Provider: a.Name(), Symbol: inst.Symbol, Reason: reason, Err: err}
}

func classifyStatus(status int) Reason {
	switch {
	case status == http.StatusTooManyRequests:
		return ReasonTransient
	case status >= 500:
		return ReasonTransient
	default:
		return ReasonPermanent
	}
}

func displayCurrency(inst market.Instrument) string {
	if inst.Currency != "" {
		return strings.ToUpper(inst.Currency)
	}
	return "USD"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ QuoteFetcher = (*AlphaVantage)(nil)
