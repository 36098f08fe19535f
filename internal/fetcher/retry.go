package fetcher

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"stock-alerts/internal/market"
)

// Limiter gates outbound calls to one provider. Acquire blocks until a
// call slot is free or the context is cancelled.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// RetryOptions bound the retry behaviour for transient failures.
type RetryOptions struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Retrying wraps a QuoteFetcher with a per-provider rate limiter and
// bounded exponential backoff with jitter. Every attempt, retries
// included, consumes one rate-limit slot. Permanent failures propagate
// immediately.
type Retrying struct {
	next    QuoteFetcher
	limiter Limiter
	opts    RetryOptions
	logger  zerolog.Logger
}

// NewRetrying decorates next with rate limiting and retries.
func NewRetrying(next QuoteFetcher, limiter Limiter, opts RetryOptions, logger zerolog.Logger) *Retrying {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = time.Second
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 30 * time.Second
	}
	return &Retrying{
		next:    next,
		limiter: limiter,
		opts:    opts,
		logger:  logger.With().Str("component", "retrying_fetcher").Str("provider", next.Name()).Logger(),
	}
}

// Name reports the wrapped provider's name.
func (r *Retrying) Name() string { return r.next.Name() }

// Fetch retrieves a quote, retrying transient upstream failures.
func (r *Retrying) Fetch(ctx context.Context, inst market.Instrument) (market.Quote, error) {
	var quote market.Quote
	attempt := 0

	op := func() error {
		attempt++
		if r.limiter != nil {
			if err := r.limiter.Acquire(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		q, err := r.next.Fetch(ctx, inst)
		if err != nil {
			if IsTransient(err) {
				r.logger.Warn().Err(err).Str("symbol", inst.Symbol).Int("attempt", attempt).Msg("transient fetch failure, will retry")
				return err
			}
			return backoff.Permanent(err)
		}
		quote = q
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.opts.InitialInterval
	policy.MaxInterval = r.opts.MaxInterval

	wrapped := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.opts.MaxAttempts-1)), ctx)
	if err := backoff.Retry(op, wrapped); err != nil {
		return market.Quote{}, err
	}
	return quote, nil
}

var _ QuoteFetcher = (*Retrying)(nil)
