package stripe

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v83"

	"github.com/ragvault/fulfillment/internal/httpx"
	"github.com/ragvault/fulfillment/pkg/fulfillment"
)

type checkoutRequest struct {
	Tier  string `json:"tier"`
	Seats int    `json:"seats"`
}

// handleCheckout validates a purchase intent and creates a hosted payment
// session. The {tier, seats} pair is embedded as provider-side metadata on
// the session and, in recurring mode, the subscription. That metadata is the
// only channel by which the webhook later learns what was purchased.
func (p *Provider) handleCheckout(w http.ResponseWriter, r *http.Request) {
	p.setCORSHeaders(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		_ = httpx.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	body, err := httpx.ReadBodyStrict(w, r, maxCheckoutBodyBytes)
	if err != nil {
		_ = httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		_ = httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	tier := fulfillment.NormalizeTier(req.Tier)
	priceID, ok := p.prices[tier]
	if strings.TrimSpace(req.Tier) == "" || !ok || priceID == "" {
		p.metrics.RecordCheckoutSession(tier, "invalid_tier")
		_ = httpx.WriteJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("Invalid tier. Must be one of: %s", strings.Join(p.validTiers(), ", ")),
		})
		return
	}

	seats := fulfillment.ClampSeatCount(req.Seats, tier)

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(p.checkoutMode),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:               stripe.String(p.siteURL + "/index.html#purchase-success"),
		CancelURL:                stripe.String(p.siteURL + "/index.html#pricing"),
		BillingAddressCollection: stripe.String("required"),
	}
	params.Metadata = map[string]string{
		"tier":  tier,
		"seats": strconv.Itoa(seats),
	}
	if p.checkoutMode == checkoutModeSubscription {
		params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
		params.SubscriptionData.AddMetadata("tier", tier)
		params.SubscriptionData.AddMetadata("seats", strconv.Itoa(seats))
	}

	session, err := p.backend.CreateCheckoutSession(r.Context(), params)
	if err != nil {
		p.log.Error().Err(err).Str("tier", tier).Msg("failed to create checkout session")
		p.metrics.RecordCheckoutSession(tier, "error")
		_ = httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create checkout session"})
		return
	}

	p.metrics.RecordCheckoutSession(tier, "success")
	p.log.Info().Str("tier", tier).Int("seats", seats).Str("session_id", session.ID).Msg("checkout session created")
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"url": session.URL})
}

func (p *Provider) validTiers() []string {
	tiers := make([]string, 0, len(p.prices))
	for tier := range p.prices {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	return tiers
}

// setCORSHeaders allows the marketing site to call checkout cross-origin.
func (p *Provider) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", p.siteURL)
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}
