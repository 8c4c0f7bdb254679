// Package stripe implements the fulfillment event router, checkout session
// builder, and ledger subject stores against the Stripe API.
package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v83"

	"github.com/ragvault/fulfillment/internal/httpx"
	"github.com/ragvault/fulfillment/pkg/fulfillment"
	"github.com/ragvault/fulfillment/pkg/license"
)

const (
	maxWebhookBodyBytes  = 256 * 1024
	maxCheckoutBodyBytes = 16 * 1024

	defaultRateLimitRequests = 100
	defaultRateLimitWindow   = time.Minute

	defaultOneTimeValidityDays = 90

	checkoutModePayment      = "payment"
	checkoutModeSubscription = "subscription"

	billingReasonSubscriptionCreate = "subscription_create"
	billingReasonSubscriptionCycle  = "subscription_cycle"
)

// Backend is the slice of the Stripe API the fulfillment flows depend on.
// The production implementation wraps the official client; tests substitute
// an in-memory fake. Every implementation must classify its failures into
// the fulfillment error taxonomy.
type Backend interface {
	Customer(ctx context.Context, id string) (*stripe.Customer, error)
	UpdateCustomerMetadata(ctx context.Context, id string, md map[string]string) (*stripe.Customer, error)
	Subscription(ctx context.Context, id string) (*stripe.Subscription, error)
	UpdateSubscriptionMetadata(ctx context.Context, id string, md map[string]string) (*stripe.Subscription, error)
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
}

// Config configures the Stripe fulfillment provider.
type Config struct {
	// StripeAPIKey authenticates outbound Stripe API calls.
	StripeAPIKey string

	// WebhookSecret verifies inbound event signatures. When empty the
	// webhook endpoint answers 503 rather than processing anything.
	WebhookSecret string

	// Prices maps tier names to Stripe price IDs; its key set is the set of
	// purchasable tiers.
	Prices map[string]string

	// CheckoutMode selects hosted-session mode, "payment" (default) or
	// "subscription", per deployment.
	CheckoutMode string

	// SiteURL is the marketing-site origin for checkout redirects and CORS.
	SiteURL string

	// Signer issues the license artifact.
	Signer *license.Signer

	// Notifier delivers the license email.
	Notifier fulfillment.Notifier

	// OneTimeValidityDays is the license validity for one-time purchases.
	// Defaults to 90.
	OneTimeValidityDays int

	// StaleAfter overrides the ledger's stale-processing threshold.
	StaleAfter time.Duration

	// Backend overrides the Stripe API access, for tests.
	Backend Backend

	// Now overrides the clock, for tests.
	Now func() time.Time

	Logger  zerolog.Logger
	Metrics fulfillment.Metrics
}

// Provider routes billing events to the fulfillment flows and builds
// checkout sessions. Each request is handled by an independent, stateless
// execution; all coordination state lives in Stripe metadata through the
// ledgers.
type Provider struct {
	backend             Backend
	webhookSecret       []byte
	prices              map[string]string
	checkoutMode        string
	siteURL             string
	signer              *license.Signer
	notifier            fulfillment.Notifier
	oneTimeValidityDays int
	customerLedger      *fulfillment.Ledger
	subscriptionLedger  *fulfillment.Ledger
	rateLimiter         *httpx.RateLimiter
	now                 func() time.Time
	log                 zerolog.Logger
	metrics             fulfillment.Metrics
}

// NewProvider wires a Provider. Missing credentials do not fail
// construction: the process must keep serving, with each affected event
// failing per the normal error classification.
func NewProvider(cfg Config) *Provider {
	backend := cfg.Backend
	if backend == nil {
		backend = &apiBackend{client: stripe.NewClient(strings.TrimSpace(cfg.StripeAPIKey))}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &fulfillment.NoopMetrics{}
	}

	mode := cfg.CheckoutMode
	if mode != checkoutModeSubscription {
		mode = checkoutModePayment
	}

	validityDays := cfg.OneTimeValidityDays
	if validityDays <= 0 {
		validityDays = defaultOneTimeValidityDays
	}

	ledgerCfg := fulfillment.LedgerConfig{
		StaleAfter: cfg.StaleAfter,
		Now:        now,
		Logger:     cfg.Logger,
	}

	return &Provider{
		backend:             backend,
		webhookSecret:       []byte(strings.TrimSpace(cfg.WebhookSecret)),
		prices:              cfg.Prices,
		checkoutMode:        mode,
		siteURL:             strings.TrimRight(cfg.SiteURL, "/"),
		signer:              cfg.Signer,
		notifier:            cfg.Notifier,
		oneTimeValidityDays: validityDays,
		customerLedger:      fulfillment.NewLedger(customerStore{backend: backend}, ledgerCfg),
		subscriptionLedger:  fulfillment.NewLedger(subscriptionStore{backend: backend}, ledgerCfg),
		rateLimiter:         httpx.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		now:                 now,
		log:                 cfg.Logger,
		metrics:             metrics,
	}
}

// WebhookHandler returns the HTTP handler for Stripe webhook events.
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// CheckoutHandler returns the HTTP handler that creates hosted checkout
// sessions for the marketing site.
func (p *Provider) CheckoutHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleCheckout))
}

// apiBackend implements Backend over the official Stripe client. Failures
// are classified into the fulfillment taxonomy here, at the boundary.
type apiBackend struct {
	client *stripe.Client
}

func (b *apiBackend) Customer(ctx context.Context, id string) (*stripe.Customer, error) {
	cust, err := b.client.V1Customers.Retrieve(ctx, id, nil)
	if err != nil {
		return nil, classifyStripeError("customers.retrieve", err)
	}
	return cust, nil
}

func (b *apiBackend) UpdateCustomerMetadata(ctx context.Context, id string, md map[string]string) (*stripe.Customer, error) {
	params := &stripe.CustomerUpdateParams{}
	for k, v := range md {
		params.AddMetadata(k, v)
	}
	cust, err := b.client.V1Customers.Update(ctx, id, params)
	if err != nil {
		return nil, classifyStripeError("customers.update", err)
	}
	return cust, nil
}

func (b *apiBackend) Subscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	sub, err := b.client.V1Subscriptions.Retrieve(ctx, id, nil)
	if err != nil {
		return nil, classifyStripeError("subscriptions.retrieve", err)
	}
	return sub, nil
}

func (b *apiBackend) UpdateSubscriptionMetadata(ctx context.Context, id string, md map[string]string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionUpdateParams{}
	for k, v := range md {
		params.AddMetadata(k, v)
	}
	sub, err := b.client.V1Subscriptions.Update(ctx, id, params)
	if err != nil {
		return nil, classifyStripeError("subscriptions.update", err)
	}
	return sub, nil
}

func (b *apiBackend) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	session, err := b.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, classifyStripeError("checkout.sessions.create", err)
	}
	return session, nil
}

// classifyStripeError wraps a Stripe API failure with its retry class.
// Rate limits, API errors, and connection failures are retryable; invalid
// requests and authentication failures are not.
func classifyStripeError(op string, err error) error {
	if fulfillment.IsTransient(err) {
		return fulfillment.Transient(op, err)
	}
	return fulfillment.Permanent(op, err)
}

// customerStore adapts customer metadata to the ledger's SubjectStore for
// the one-time purchase path.
type customerStore struct {
	backend Backend
}

func (s customerStore) Fetch(ctx context.Context, id string) (map[string]string, error) {
	cust, err := s.backend.Customer(ctx, id)
	if err != nil {
		return nil, err
	}
	return cust.Metadata, nil
}

func (s customerStore) Merge(ctx context.Context, id string, fields map[string]string) error {
	// Fresh read immediately before the write so unrelated keys added since
	// the caller's fetch survive the merge.
	cust, err := s.backend.Customer(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.backend.UpdateCustomerMetadata(ctx, id, overlay(cust.Metadata, fields))
	return err
}

// subscriptionStore adapts subscription metadata to the ledger's
// SubjectStore for the recurring path.
type subscriptionStore struct {
	backend Backend
}

func (s subscriptionStore) Fetch(ctx context.Context, id string) (map[string]string, error) {
	sub, err := s.backend.Subscription(ctx, id)
	if err != nil {
		return nil, err
	}
	return sub.Metadata, nil
}

func (s subscriptionStore) Merge(ctx context.Context, id string, fields map[string]string) error {
	sub, err := s.backend.Subscription(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.backend.UpdateSubscriptionMetadata(ctx, id, overlay(sub.Metadata, fields))
	return err
}

func overlay(base, fields map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(fields))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// firstValue walks metadata sources in fallback order and returns the first
// non-empty value for key.
func firstValue(sources []map[string]string, key string) string {
	for _, src := range sources {
		if src == nil {
			continue
		}
		if v := src[key]; v != "" {
			return v
		}
	}
	return ""
}
