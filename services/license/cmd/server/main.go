package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	appcli "github.com/Thomasjeferr/pluguin-getway-cripto/internal/cli"
	"github.com/Thomasjeferr/pluguin-getway-cripto/internal/logging"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/db"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/httpx"
	"github.com/Thomasjeferr/pluguin-getway-cripto/services/license/internal/api"
	"github.com/Thomasjeferr/pluguin-getway-cripto/services/license/internal/license"
	"github.com/Thomasjeferr/pluguin-getway-cripto/services/license/internal/store"
	"github.com/Thomasjeferr/pluguin-getway-cripto/services/license/internal/stripeclient"
)

func main() {
	app := &cli.App{
		Name:   "license-server",
		Usage:  "Validate plugin licenses and keep them in sync with Stripe billing",
		Flags:  appcli.LicenseServerFlags,
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := appcli.NewLicenseServerConfigFromCLI(c)
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	pool, err := db.Connect(connectCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		return err
	}
	defer pool.Close()

	var (
		subs    license.SubscriptionChecker
		billing *stripeclient.Checker
	)
	if cfg.StripeSecretKey != "" {
		checker, err := stripeclient.New(cfg.StripeSecretKey, nil)
		if err != nil {
			return err
		}
		subs, billing = checker, checker
	} else {
		logger.Warn("stripe secret key not set; paid plans are checked against stored expiry only and checkout is disabled")
	}

	h := api.New(store.New(pool), subs, cfg.StripeWebhookSecret, logger.Named("api"))
	if billing != nil {
		h.EnableCheckout(billing, api.CheckoutConfig{
			PriceMonthly: cfg.PriceMonthlyCents,
			PriceYearly:  cfg.PriceYearlyCents,
			Currency:     cfg.CheckoutCurrency,
			SuccessURL:   cfg.CheckoutSuccessURL,
			CancelURL:    cfg.CheckoutCancelURL,
		})
	}

	r := chi.NewRouter()
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.RequestID, middleware.Recoverer, httpx.AccessLog(logger.Named("http")))
	r.Get("/health", httpx.Health)
	h.Routes(r, httpx.NewFixedWindowLimiter(cfg.ValidatePerMinute, time.Minute))

	logger.Info("license server starting", zap.String("addr", cfg.ListenAddr), zap.Bool("stripe", subs != nil), zap.Bool("trust_proxy", cfg.TrustProxy))
	return httpx.Serve(ctx, cfg.ListenAddr, r, logger)
}
