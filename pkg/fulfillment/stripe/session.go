package stripe

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/ragvault/fulfillment/pkg/fulfillment"
)

// handleSessionCompleted fulfills one-time purchases from
// checkout.session.completed events. The customer record is the fulfillment
// subject carrying the ledger markers.
func (p *Provider) handleSessionCompleted(ctx context.Context, event *stripe.Event) (ackResult, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return ackResult{}, fulfillment.Permanent("webhook.decode", err)
	}

	log := p.log.With().Str("event_id", event.ID).Str("session_id", session.ID).Logger()

	if session.Mode != stripe.CheckoutSessionModePayment {
		// Subscription sessions are fulfilled on invoice.paid instead: the
		// session-completed and invoice-paid signals race, and the invoice
		// carries the authoritative billing period for license validity.
		log.Info().Str("mode", string(session.Mode)).Msg("session is not a one-time payment, deferring to invoice flow")
		return ackResult{Info: "ignored"}, nil
	}

	customerID := ""
	if session.Customer != nil {
		customerID = session.Customer.ID
	}

	var customerMeta map[string]string
	var customerEmail, customerName string
	if customerID != "" {
		cust, err := p.backend.Customer(ctx, customerID)
		if err != nil {
			return ackResult{}, err
		}
		customerMeta = cust.Metadata
		customerEmail = cust.Email
		customerName = cust.Name

		decision, err := p.customerLedger.TryBegin(ctx, customerID, session.ID)
		if err != nil {
			return ackResult{}, err
		}
		switch decision {
		case fulfillment.SkipDuplicate:
			log.Info().Msg("session already fulfilled, skipping")
			return ackResult{Info: "duplicate session"}, nil
		case fulfillment.SkipProcessing:
			log.Info().Msg("session already in flight, skipping")
			return ackResult{Info: "concurrent session"}, nil
		}
	}

	log.Debug().
		Interface("session_metadata", session.Metadata).
		Interface("customer_metadata", customerMeta).
		Msg("metadata audit")

	// Canonical fallback order: event metadata, then subject metadata,
	// then tier default.
	sources := []map[string]string{session.Metadata, customerMeta}
	tier := fulfillment.NormalizeTier(firstValue(sources, "tier"))
	seats := fulfillment.ClampSeats(firstValue(sources, "seats"), tier)

	email := firstNonEmpty(sessionDetailEmail(&session), session.CustomerEmail, customerEmail)
	name := firstNonEmpty(sessionDetailName(&session), customerName)
	org := firstNonEmpty(firstValue(sources, "org"), name, email, "Customer")

	if email == "" {
		log.Error().Err(fulfillment.ErrNoRecipientEmail).Msg("license cannot be delivered")
		if customerID != "" {
			p.customerLedger.Release(ctx, customerID)
		}
		return ackResult{Warning: "no email found"}, nil
	}

	key, err := p.signer.Issue(tier, org, seats, p.oneTimeValidityDays, 0)
	if err != nil {
		if customerID != "" {
			p.customerLedger.Release(ctx, customerID)
		}
		return ackResult{}, fulfillment.Permanent("license.issue", err)
	}

	expiresAt := p.now().UTC().Add(time.Duration(p.oneTimeValidityDays) * 24 * time.Hour)
	err = p.notifier.Deliver(ctx, fulfillment.Delivery{
		Email:      email,
		Name:       name,
		Tier:       tier,
		LicenseKey: key,
		Seats:      seats,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		p.metrics.RecordEmailDelivery("error")
		if !fulfillment.IsTransient(err) && customerID != "" {
			// Permanent delivery failure: clear the marker so a future,
			// different event for this customer is not blocked.
			p.customerLedger.Release(ctx, customerID)
		}
		return ackResult{}, err
	}
	p.metrics.RecordEmailDelivery("success")

	if customerID != "" {
		if err := p.customerLedger.Commit(ctx, customerID, session.ID, false); err != nil {
			return ackResult{}, err
		}
	}

	p.metrics.RecordLicenseIssued(tier)
	log.Info().
		Str("recipient", email).
		Str("tier", tier).
		Int("seats", seats).
		Msg("one-time license delivered")
	return ackResult{}, nil
}

func sessionDetailEmail(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil {
		return session.CustomerDetails.Email
	}
	return ""
}

func sessionDetailName(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil {
		return session.CustomerDetails.Name
	}
	return ""
}
