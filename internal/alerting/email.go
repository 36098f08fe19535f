package alerting

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

// EmailOptions parameterise the SMTP relay connection.
type EmailOptions struct {
	Host          string
	Port          int
	Sender        string
	Password      string
	Recipient     string
	MaxAttempts   int
	RetryInterval time.Duration
}

// EmailNotifier delivers alerts over an authenticated SMTP relay with
// STARTTLS. Transient delivery failures are retried a bounded number of
// times; credential rejections surface immediately as permanent.
type EmailNotifier struct {
	opts   EmailOptions
	client *mail.Client
	logger zerolog.Logger
}

// NewEmailNotifier builds the SMTP notifier.
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) (*EmailNotifier, error) {
	if opts.Port <= 0 {
		opts.Port = 587
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 2 * time.Second
	}

	client, err := mail.NewClient(opts.Host,
		mail.WithPort(opts.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(opts.Sender),
		mail.WithPassword(opts.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	return &EmailNotifier{
		opts:   opts,
		client: client,
		logger: logger.With().Str("component", "alert_email").Logger(),
	}, nil
}

// Notify renders the alert and sends it to the configured recipient.
func (n *EmailNotifier) Notify(ctx context.Context, note Notification) error {
	return n.Send(ctx, renderSubject(note), renderBody(note))
}

// Send delivers an arbitrary message. Used for alerts and for the
// startup notification.
func (n *EmailNotifier) Send(ctx context.Context, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(n.opts.Sender); err != nil {
		return &Error{Permanent: true, Err: fmt.Errorf("sender address: %w", err)}
	}
	if err := msg.To(n.opts.Recipient); err != nil {
		return &Error{Permanent: true, Err: fmt.Errorf("recipient address: %w", err)}
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	attempt := 0
	op := func() error {
		attempt++
		err := n.client.DialAndSendWithContext(ctx, msg)
		if err == nil {
			return nil
		}
		classified := classifySMTP(err)
		if IsPermanent(classified) {
			return backoff.Permanent(classified)
		}
		n.logger.Warn().Err(err).Int("attempt", attempt).Msg("transient delivery failure, will retry")
		return classified
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = n.opts.RetryInterval
	wrapped := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(n.opts.MaxAttempts-1)), ctx)

	if err := backoff.Retry(op, wrapped); err != nil {
		return err
	}

	n.logger.Info().Str("subject", subject).Str("recipient", n.opts.Recipient).Msg("email delivered")
	return nil
}

// classifySMTP maps an SMTP failure into the notify error taxonomy. A 5xx
// reply (authentication rejected, relay refused) cannot be fixed by
// retrying; 4xx replies and connection-level errors can.
func classifySMTP(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 {
			return &Error{Permanent: true, Err: err}
		}
		return &Error{Err: err}
	}
	return &Error{Err: err}
}

var _ Notifier = (*EmailNotifier)(nil)
