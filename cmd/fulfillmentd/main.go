// Command fulfillmentd serves the checkout and webhook endpoints that turn
// Stripe billing events into signed, emailed license keys.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ragvault/fulfillment/internal/config"
	"github.com/ragvault/fulfillment/pkg/fulfillment"
	prommetrics "github.com/ragvault/fulfillment/pkg/fulfillment/metrics/prometheus"
	stripeprovider "github.com/ragvault/fulfillment/pkg/fulfillment/stripe"
	"github.com/ragvault/fulfillment/pkg/license"
	"github.com/ragvault/fulfillment/pkg/mailer"
)

func main() {
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	// Missing secrets are critical but not fatal: the process keeps
	// serving and each affected event fails per the normal classification.
	if missing := cfg.MissingRequired(); len(missing) > 0 {
		log.Error().Strs("missing", missing).Msg("critical: required configuration absent")
	}

	var signer *license.Signer
	signer, err = license.NewSigner(license.Config{
		Algorithm:     cfg.LicenseSigningAlg,
		PrivateKeyPEM: cfg.LicensePrivateKey,
		Secret:        cfg.LicenseSigningSecret,
	})
	if err != nil {
		log.Error().Err(err).Msg("critical: license signer unavailable")
		signer = nil
	}

	var notifier fulfillment.Notifier
	smtp, err := mailer.NewSMTP(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
		FromName: cfg.MailFromName,
		Logger:   log,
	})
	if err != nil {
		log.Error().Err(err).Msg("critical: mail transport unavailable")
	} else {
		notifier = smtp
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := prommetrics.NewMetrics(registry, "ragvault")

	provider := stripeprovider.NewProvider(stripeprovider.Config{
		StripeAPIKey:        cfg.StripeSecretKey,
		WebhookSecret:       cfg.StripeWebhookSecret,
		Prices:              cfg.Prices(),
		CheckoutMode:        cfg.CheckoutMode,
		SiteURL:             cfg.SiteURL,
		Signer:              signer,
		Notifier:            notifier,
		OneTimeValidityDays: cfg.OneTimeValidityDays,
		StaleAfter:          cfg.StaleAfter,
		Logger:              log,
		Metrics:             metrics,
	})

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle("/api/checkout", provider.CheckoutHandler())
	r.Handle("/api/webhook", provider.WebhookHandler())
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("fulfillment server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
