// Package config builds the process-wide configuration from the
// environment, once, at startup. Components receive the values they need
// through their own Config structs; nothing reads the environment ad hoc.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for optional settings.
const (
	DefaultListenAddr      = ":8080"
	DefaultSiteURL         = "https://www.ragvault.net"
	DefaultSMTPHost        = "smtp.zoho.com"
	DefaultSMTPPort        = 465
	DefaultMailFromName    = "RagVault"
	DefaultCheckoutMode    = "payment"
	DefaultSigningAlg      = "RS256"
	DefaultOneTimeValidity = 90
	DefaultStaleAfter      = 300 * time.Second
)

// Config holds all application configuration. Immutable after Load.
type Config struct {
	// Server
	ListenAddr string
	SiteURL    string
	LogLevel   string

	// Billing provider
	StripeSecretKey     string
	StripeWebhookSecret string
	PriceTeam           string
	PriceOrganization   string
	CheckoutMode        string

	// License signing
	LicenseSigningAlg    string
	LicensePrivateKey    string
	LicenseSigningSecret string

	// Mail transport
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	MailFrom     string
	MailFromName string

	// Fulfillment tuning
	OneTimeValidityDays int
	StaleAfter          time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr: getEnv("LISTEN_ADDR", DefaultListenAddr),
		SiteURL:    getEnv("SITE_URL", DefaultSiteURL),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PriceTeam:           os.Getenv("STRIPE_PRICE_TEAM"),
		PriceOrganization:   os.Getenv("STRIPE_PRICE_ORG"),
		CheckoutMode:        getEnv("CHECKOUT_MODE", DefaultCheckoutMode),

		LicenseSigningAlg:    getEnv("LICENSE_SIGNING_ALG", DefaultSigningAlg),
		LicensePrivateKey:    os.Getenv("LICENSE_PRIVATE_KEY"),
		LicenseSigningSecret: os.Getenv("LICENSE_SIGNING_SECRET"),

		SMTPHost:     getEnv("SMTP_HOST", DefaultSMTPHost),
		SMTPPort:     getEnvInt("SMTP_PORT", DefaultSMTPPort),
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		MailFromName: getEnv("MAIL_FROM_NAME", DefaultMailFromName),

		OneTimeValidityDays: getEnvInt("ONE_TIME_VALIDITY_DAYS", DefaultOneTimeValidity),
		StaleAfter:          time.Duration(getEnvInt("FULFILLMENT_STALE_AFTER_SECONDS", int(DefaultStaleAfter/time.Second))) * time.Second,
	}
	cfg.MailFrom = getEnv("MAIL_FROM", cfg.SMTPUser)

	return cfg
}

// MissingRequired lists the absent secrets an operating deployment needs.
// Callers log the result as critical; the process keeps serving and each
// affected event fails per the normal classification.
func (c *Config) MissingRequired() []string {
	var missing []string
	if c.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.SMTPUser == "" {
		missing = append(missing, "SMTP_USER")
	}
	if c.SMTPPassword == "" {
		missing = append(missing, "SMTP_PASSWORD")
	}
	switch c.LicenseSigningAlg {
	case "HS256", "hs256":
		if c.LicenseSigningSecret == "" {
			missing = append(missing, "LICENSE_SIGNING_SECRET")
		}
	default:
		if c.LicensePrivateKey == "" {
			missing = append(missing, "LICENSE_PRIVATE_KEY")
		}
	}
	return missing
}

// Prices maps tier names to configured Stripe price IDs. Tiers without a
// configured price are omitted, so checkout rejects them.
func (c *Config) Prices() map[string]string {
	prices := make(map[string]string)
	if c.PriceTeam != "" {
		prices["team"] = c.PriceTeam
	}
	if c.PriceOrganization != "" {
		prices["organization"] = c.PriceOrganization
	}
	return prices
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
