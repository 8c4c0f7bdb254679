package fulfillment

import "time"

// Metrics defines the interface for tracking fulfillment operations.
// All methods are optional - components should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the billing provider.
	// eventType: The provider event type (e.g., "checkout.session.completed")
	// status: "success", "error", "ignored", "duplicate", "concurrent"
	RecordWebhookEvent(eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: "auth_failed", "invalid_payload", "transient", "permanent", ...
	RecordWebhookError(errorType string)

	// RecordLicenseIssued records a successfully issued and delivered license.
	RecordLicenseIssued(tier string)

	// RecordEmailDelivery records an outbound license email attempt.
	// status: "success" or "error"
	RecordEmailDelivery(status string)

	// RecordCheckoutSession records a checkout-session creation attempt.
	// status: "success", "error", "invalid_tier"
	RecordCheckoutSession(tier, status string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_ string)                               {}
func (n *NoopMetrics) RecordLicenseIssued(_ string)                              {}
func (n *NoopMetrics) RecordEmailDelivery(_ string)                              {}
func (n *NoopMetrics) RecordCheckoutSession(_, _ string)                         {}
