package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultSiteURL, cfg.SiteURL)
	assert.Equal(t, DefaultSMTPHost, cfg.SMTPHost)
	assert.Equal(t, DefaultSMTPPort, cfg.SMTPPort)
	assert.Equal(t, DefaultCheckoutMode, cfg.CheckoutMode)
	assert.Equal(t, DefaultSigningAlg, cfg.LicenseSigningAlg)
	assert.Equal(t, DefaultOneTimeValidity, cfg.OneTimeValidityDays)
	assert.Equal(t, DefaultStaleAfter, cfg.StaleAfter)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_PRICE_TEAM", "price_team")
	t.Setenv("SMTP_PORT", "587")
	t.Setenv("FULFILLMENT_STALE_AFTER_SECONDS", "120")

	cfg := Load()

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "sk_test_123", cfg.StripeSecretKey)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, 120*time.Second, cfg.StaleAfter)
}

func TestMailFromDefaultsToSMTPUser(t *testing.T) {
	t.Setenv("SMTP_USER", "licenses@ragvault.net")

	cfg := Load()
	assert.Equal(t, "licenses@ragvault.net", cfg.MailFrom)
}

func TestUnparsableIntFallsBack(t *testing.T) {
	t.Setenv("SMTP_PORT", "not-a-number")

	cfg := Load()
	assert.Equal(t, DefaultSMTPPort, cfg.SMTPPort)
}

func TestMissingRequired(t *testing.T) {
	cfg := &Config{LicenseSigningAlg: "RS256"}
	missing := cfg.MissingRequired()

	assert.Contains(t, missing, "STRIPE_SECRET_KEY")
	assert.Contains(t, missing, "STRIPE_WEBHOOK_SECRET")
	assert.Contains(t, missing, "SMTP_USER")
	assert.Contains(t, missing, "SMTP_PASSWORD")
	assert.Contains(t, missing, "LICENSE_PRIVATE_KEY")
	assert.NotContains(t, missing, "LICENSE_SIGNING_SECRET")
}

func TestMissingRequiredHMAC(t *testing.T) {
	cfg := &Config{
		LicenseSigningAlg:   "HS256",
		StripeSecretKey:     "sk",
		StripeWebhookSecret: "whsec",
		SMTPUser:            "u",
		SMTPPassword:        "p",
	}
	assert.Equal(t, []string{"LICENSE_SIGNING_SECRET"}, cfg.MissingRequired())

	cfg.LicenseSigningSecret = "secret"
	assert.Empty(t, cfg.MissingRequired())
}

func TestPricesOmitsUnconfiguredTiers(t *testing.T) {
	cfg := &Config{PriceTeam: "price_team"}
	assert.Equal(t, map[string]string{"team": "price_team"}, cfg.Prices())

	cfg.PriceOrganization = "price_org"
	assert.Equal(t, map[string]string{"team": "price_team", "organization": "price_org"}, cfg.Prices())
}
