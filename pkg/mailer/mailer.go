// Package mailer delivers license emails over SMTP. It implements
// fulfillment.Notifier and maps every transport failure into the
// transient/permanent taxonomy at this boundary, so the webhook flows never
// inspect SMTP error shapes.
package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"github.com/ragvault/fulfillment/pkg/fulfillment"
)

const (
	defaultHost = "smtp.zoho.com"
	defaultPort = 465
)

// Config configures the SMTP mailer.
type Config struct {
	// Host is the SMTP server. Defaults to smtp.zoho.com.
	Host string

	// Port is the SMTP port. Defaults to 465 (implicit TLS).
	Port int

	// Username and Password authenticate against the SMTP server.
	Username string
	Password string

	// From is the sender address. Defaults to Username.
	From string

	// FromName is the sender display name.
	FromName string

	// Logger is used for delivery outcomes. Defaults to a disabled logger.
	Logger zerolog.Logger
}

// SMTP sends license emails through an SMTP relay.
type SMTP struct {
	client   *mail.Client
	from     string
	fromName string
	log      zerolog.Logger
}

// NewSMTP builds an SMTP mailer. Credentials are validated lazily at send
// time; only structurally invalid configuration fails here.
func NewSMTP(cfg Config) (*SMTP, error) {
	host := cfg.Host
	if host == "" {
		host = defaultHost
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	if from == "" {
		return nil, fmt.Errorf("mailer: no sender address configured")
	}

	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
	}
	if port == 465 {
		opts = append(opts, mail.WithSSL())
	}

	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mailer: %w", err)
	}

	return &SMTP{
		client:   client,
		from:     from,
		fromName: cfg.FromName,
		log:      cfg.Logger,
	}, nil
}

// Deliver renders the license message and hands it to the SMTP transport.
// The signed artifact is embedded verbatim in both the HTML and plain-text
// parts. Address errors are permanent; everything the transport itself
// reports is surfaced as transient so the provider's retry redelivers.
func (s *SMTP) Deliver(ctx context.Context, d fulfillment.Delivery) error {
	msg := mail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.from); err != nil {
		return fulfillment.Permanent("mail.from", err)
	}
	if err := msg.To(d.Email); err != nil {
		return fulfillment.Permanent("mail.recipient", err)
	}

	msg.Subject(fmt.Sprintf("Your RagVault %s License Key", DisplayTier(d.Tier)))

	text, err := renderText(d)
	if err != nil {
		return fulfillment.Permanent("mail.render", err)
	}
	html, err := renderHTML(d)
	if err != nil {
		return fulfillment.Permanent("mail.render", err)
	}
	msg.SetBodyString(mail.TypeTextPlain, text)
	msg.AddAlternativeString(mail.TypeTextHTML, html)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		s.log.Error().Err(err).Str("recipient", d.Email).Msg("license email delivery failed")
		return classifySendError(err)
	}

	s.log.Info().Str("recipient", d.Email).Str("tier", d.Tier).Msg("license email sent")
	return nil
}

// classifySendError maps SMTP transport failures into the taxonomy. Any
// response the server sent back, and any dial/connection failure, is
// retryable: the idempotency ledger upstream prevents a double send.
func classifySendError(err error) error {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		return fulfillment.Transient("mail.send", err)
	}
	return fulfillment.Transient("mail.dial", err)
}
