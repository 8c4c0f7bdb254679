package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/ragvault/fulfillment/internal/httpx"
	"github.com/ragvault/fulfillment/pkg/fulfillment"
)

// ackResult is a non-error fulfillment outcome, mapped onto the 200 ack.
type ackResult struct {
	// Info marks skip outcomes ("duplicate session", "concurrent invoice",
	// "ignored") for the provider's event log.
	Info string

	// Warning marks acknowledged permanent conditions ("no email found").
	Warning string
}

func (r ackResult) status() string {
	switch {
	case r.Warning != "":
		return "warning"
	case r.Info != "":
		return r.Info
	default:
		return "success"
	}
}

// handleWebhook processes one inbound billing event and answers with the
// ack contract: 400 bad signature (terminal), 200 handled (including
// acknowledged permanent failures), 500 transient (provider will retry).
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		p.log.Error().Msg("critical: STRIPE_WEBHOOK_SECRET not configured, rejecting event")
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	select {
	case <-r.Context().Done():
		http.Error(w, "request timeout", http.StatusRequestTimeout)
		return
	default:
	}

	// Signature verification is byte-exact over the raw payload, so the
	// body must be read unparsed.
	body, err := httpx.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, httpx.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError("payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError("invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")

	// Stripe pins webhook payloads to the account's API version, which can
	// trail the SDK's; verification is over raw bytes, so the mismatch is
	// tolerated and each handler decodes defensively.
	event, err := webhook.ConstructEventWithOptions(body, sig, string(p.webhookSecret),
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		// Terminal per delivery attempt: an identical retry cannot verify
		// differently, and no business logic runs for unverified payloads.
		p.log.Warn().Err(err).Str("remote", httpx.ClientIP(r)).Msg("webhook signature verification failed")
		p.metrics.RecordWebhookError("auth_failed")
		_ = httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	res, err := p.processEvent(r.Context(), &event)
	if err != nil {
		if fulfillment.IsTransient(err) {
			p.log.Warn().Err(err).Str("event_id", event.ID).Str("event_type", eventType).
				Msg("transient fulfillment failure, requesting redelivery")
			p.metrics.RecordWebhookEvent(eventType, "error")
			p.metrics.RecordWebhookError("transient")
			p.metrics.RecordWebhookProcessingDuration(eventType, time.Since(startTime))
			_ = httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "transient failure, retrying"})
			return
		}

		// Permanent failures are acknowledged so the provider stops
		// retrying; the incident is logged for manual follow-up.
		p.log.Error().Err(err).Str("event_id", event.ID).Str("event_type", eventType).
			Msg("permanent fulfillment failure, acknowledging to stop retries")
		p.metrics.RecordWebhookEvent(eventType, "error")
		p.metrics.RecordWebhookError("permanent")
		p.metrics.RecordWebhookProcessingDuration(eventType, time.Since(startTime))
		_ = httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"received": true, "error": "permanent failure"})
		return
	}

	ack := map[string]interface{}{"received": true}
	if res.Info != "" {
		ack["info"] = res.Info
	}
	if res.Warning != "" {
		ack["warning"] = res.Warning
	}
	_ = httpx.WriteJSON(w, http.StatusOK, ack)

	p.metrics.RecordWebhookEvent(eventType, res.status())
	p.metrics.RecordWebhookProcessingDuration(eventType, time.Since(startTime))
}

// processEvent dispatches a verified event by kind. Unknown kinds are
// acknowledged and ignored for forward compatibility with provider
// event-catalog growth.
func (p *Provider) processEvent(ctx context.Context, event *stripe.Event) (ackResult, error) {
	switch event.Type {
	case "checkout.session.completed":
		if err := p.requireWiring(); err != nil {
			return ackResult{}, err
		}
		return p.handleSessionCompleted(ctx, event)
	case "invoice.paid":
		if err := p.requireWiring(); err != nil {
			return ackResult{}, err
		}
		return p.handleInvoicePaid(ctx, event)
	default:
		p.log.Debug().Str("event_type", string(event.Type)).Msg("ignoring unhandled event type")
		return ackResult{Info: "ignored"}, nil
	}
}

// requireWiring fails an event permanently when fulfillment dependencies
// are unconfigured. Logged critical; the process itself keeps serving.
func (p *Provider) requireWiring() error {
	var missing []error
	if p.signer == nil {
		missing = append(missing, fulfillment.ErrSignerNotConfigured)
	}
	if p.notifier == nil {
		missing = append(missing, fulfillment.ErrNotifierNotConfigured)
	}
	if len(missing) == 0 {
		return nil
	}
	err := errors.Join(missing...)
	p.log.Error().Err(err).Msg("critical: fulfillment dependencies not configured")
	return fulfillment.Permanent("config", err)
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
