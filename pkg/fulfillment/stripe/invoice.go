package stripe

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/ragvault/fulfillment/pkg/fulfillment"
)

// handleInvoicePaid fulfills subscription creations and renewals from
// invoice.paid events. The subscription is the fulfillment subject carrying
// the ledger markers and the renewal counter.
func (p *Provider) handleInvoicePaid(ctx context.Context, event *stripe.Event) (ackResult, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return ackResult{}, fulfillment.Permanent("webhook.decode", err)
	}

	subscriptionID := subscriptionIDFromInvoice(event.Data.Raw)

	log := p.log.With().
		Str("event_id", event.ID).
		Str("invoice_id", invoice.ID).
		Str("subscription_id", subscriptionID).
		Logger()

	if subscriptionID == "" {
		log.Info().Msg("invoice has no linked subscription, ignoring")
		return ackResult{Info: "ignored"}, nil
	}

	reason := string(invoice.BillingReason)
	isCycle := reason == billingReasonSubscriptionCycle
	if reason != billingReasonSubscriptionCreate && !isCycle {
		log.Warn().Str("billing_reason", reason).Msg("unusual billing reason, proceeding")
	}

	sub, err := p.backend.Subscription(ctx, subscriptionID)
	if err != nil {
		return ackResult{}, err
	}

	var customerMeta map[string]string
	var customerEmail, customerName string
	if invoice.Customer != nil && invoice.Customer.ID != "" {
		cust, err := p.backend.Customer(ctx, invoice.Customer.ID)
		if err != nil {
			return ackResult{}, err
		}
		customerMeta = cust.Metadata
		customerEmail = cust.Email
		customerName = cust.Name
	}

	decision, err := p.subscriptionLedger.TryBegin(ctx, subscriptionID, invoice.ID)
	if err != nil {
		return ackResult{}, err
	}
	switch decision {
	case fulfillment.SkipDuplicate:
		log.Info().Msg("invoice already fulfilled, skipping")
		return ackResult{Info: "duplicate invoice"}, nil
	case fulfillment.SkipProcessing:
		log.Info().Msg("invoice already in flight, skipping")
		return ackResult{Info: "concurrent invoice"}, nil
	}

	log.Debug().
		Interface("invoice_metadata", invoice.Metadata).
		Interface("subscription_metadata", sub.Metadata).
		Interface("customer_metadata", customerMeta).
		Msg("metadata audit")

	// Canonical fallback order: event metadata, then subject (subscription)
	// metadata, then customer metadata, then tier default.
	sources := []map[string]string{invoice.Metadata, sub.Metadata, customerMeta}
	tier := fulfillment.NormalizeTier(firstValue(sources, "tier"))
	seats := fulfillment.ClampSeats(firstValue(sources, "seats"), tier)

	email := firstNonEmpty(invoice.CustomerEmail, customerEmail)
	name := firstNonEmpty(invoice.CustomerName, customerName)
	org := firstNonEmpty(firstValue(sources, "org"), customerName, customerEmail, "Customer")

	if email == "" {
		log.Error().Err(fulfillment.ErrNoRecipientEmail).Msg("license cannot be delivered")
		p.subscriptionLedger.Release(ctx, subscriptionID)
		return ackResult{Warning: "no email found"}, nil
	}

	// License validity follows the authoritative billing period.
	validityDays := validityDaysUntil(subscriptionPeriodEnd(sub), p.now())
	if validityDays == 1 && subscriptionPeriodEnd(sub) == 0 {
		log.Warn().Msg("subscription has no period end, issuing minimum validity")
	}

	renewalCount := fulfillment.RenewalCount(sub.Metadata)
	licenseRenewal := renewalCount
	if isCycle {
		// Each distinct cycle invoice advances the counter by exactly one;
		// the issued license carries the advanced value.
		licenseRenewal = renewalCount + 1
	}

	key, err := p.signer.Issue(tier, org, seats, validityDays, licenseRenewal)
	if err != nil {
		p.subscriptionLedger.Release(ctx, subscriptionID)
		return ackResult{}, fulfillment.Permanent("license.issue", err)
	}

	expiresAt := p.now().UTC().Add(time.Duration(validityDays) * 24 * time.Hour)
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
		if !fulfillment.IsTransient(err) {
			p.subscriptionLedger.Release(ctx, subscriptionID)
		}
		return ackResult{}, err
	}
	p.metrics.RecordEmailDelivery("success")

	if err := p.subscriptionLedger.Commit(ctx, subscriptionID, invoice.ID, isCycle); err != nil {
		return ackResult{}, err
	}

	p.metrics.RecordLicenseIssued(tier)
	log.Info().
		Str("recipient", email).
		Str("tier", tier).
		Str("billing_reason", reason).
		Int("seats", seats).
		Int("renewal_count", licenseRenewal).
		Msg("subscription license delivered")
	return ackResult{}, nil
}

// subscriptionIDFromInvoice digs the linked subscription id out of the raw
// event payload. The subscription field is sometimes null when the invoice
// is created before the subscription is fully linked, so line items are
// scanned as a fallback.
func subscriptionIDFromInvoice(raw json.RawMessage) string {
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return ""
	}

	if id := expandableID(data["subscription"]); id != "" {
		return id
	}

	lines, _ := data["lines"].(map[string]interface{})
	items, _ := lines["data"].([]interface{})
	for _, it := range items {
		line, _ := it.(map[string]interface{})
		if line == nil {
			continue
		}
		if id := expandableID(line["subscription"]); id != "" {
			return id
		}
		// Newer API versions link the subscription under the line parent.
		parent, _ := line["parent"].(map[string]interface{})
		details, _ := parent["subscription_item_details"].(map[string]interface{})
		if id := expandableID(details["subscription"]); id != "" {
			return id
		}
	}
	return ""
}

// expandableID resolves a Stripe expandable reference, which arrives either
// as a bare id string or as an expanded object.
func expandableID(v interface{}) string {
	switch ref := v.(type) {
	case string:
		return ref
	case map[string]interface{}:
		id, _ := ref["id"].(string)
		return id
	default:
		return ""
	}
}

// subscriptionPeriodEnd returns the latest current-period end across the
// subscription's items, zero when absent.
func subscriptionPeriodEnd(sub *stripe.Subscription) int64 {
	var end int64
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.CurrentPeriodEnd > end {
				end = item.CurrentPeriodEnd
			}
		}
	}
	return end
}

// validityDaysUntil converts a period-end timestamp into whole license
// validity days, clamped to at least one.
func validityDaysUntil(periodEnd int64, now time.Time) int {
	if periodEnd <= 0 {
		return 1
	}
	secs := periodEnd - now.Unix()
	days := int((secs + 86399) / 86400)
	if days < 1 {
		days = 1
	}
	return days
}
