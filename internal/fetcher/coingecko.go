package fetcher

import (
	"context"
	"encoding/json"
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

// coinIDs maps common ticker symbols to CoinGecko coin ids. Symbols not
// listed here are looked up by their lowercased form.
var coinIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
	"XRP":  "ripple",
	"LTC":  "litecoin",
	"DOT":  "polkadot",
}

// CoinGeckoOptions parameterise the crypto quote client.
type CoinGeckoOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// CoinGecko fetches crypto quotes from the CoinGecko simple price endpoint.
type CoinGecko struct {
	opts    CoinGeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoinGecko constructs a crypto quote client.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name identifies the provider for rate limiting and logging.
func (c *CoinGecko) Name() string { return "coingecko" }

// Fetch retrieves the current price for a crypto symbol.
func (c *CoinGecko) Fetch(ctx context.Context, inst market.Instrument) (market.Quote, error) {
	coinID := coinIDs[strings.ToUpper(inst.Symbol)]
	if coinID == "" {
		coinID = strings.ToLower(inst.Symbol)
	}
	vs := strings.ToLower(displayCurrency(inst))

	query := url.Values{}
	query.Set("ids", coinID)
	query.Set("vs_currencies", vs)
	endpoint := c.baseURL + "/simple/price?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return market.Quote{}, c.wrap(inst, ReasonPermanent, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return market.Quote{}, c.wrap(inst, ReasonTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return market.Quote{}, c.wrap(inst, ReasonTransient, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return market.Quote{}, c.wrap(inst, ReasonPermanent, fmt.Errorf("credentials rejected (status %d)", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return market.Quote{}, c.wrap(inst, classifyStatus(resp.StatusCode), fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var payload map[string]map[string]json.Number
	if err := json.Unmarshal(body, &payload); err != nil {
		return market.Quote{}, c.wrap(inst, ReasonTransient, fmt.Errorf("decode response: %w", err))
	}

	raw, ok := payload[coinID][vs]
	if !ok {
		return market.Quote{}, c.wrap(inst, ReasonPermanent, fmt.Errorf("coin %q not in response; symbol may be invalid", coinID))
	}

	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return market.Quote{}, c.wrap(inst, ReasonPermanent, fmt.Errorf("parse price %q: %w", raw, err))
	}

	quote := market.Quote{
		Instrument: inst,
		Price:      price,
		Currency:   displayCurrency(inst),
		ObservedAt: time.Now().UTC(),
	}

	c.logger.Debug().Str("symbol", inst.Symbol).Str("coin_id", coinID).Str("price", price.String()).Msg("crypto quote fetched")
	return quote, nil
}

func (c *CoinGecko) wrap(inst market.Instrument, reason Reason, err error) error {
	return &Error{Provider: c.Name(), Symbol: inst.Symbol, Reason: reason, Err: err}
}

var _ QuoteFetcher = (*CoinGecko)(nil)
