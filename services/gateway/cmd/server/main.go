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
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	appcli "github.com/Thomasjeferr/pluguin-getway-cripto/internal/cli"
	"github.com/Thomasjeferr/pluguin-getway-cripto/internal/logging"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/authn"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/binancepay"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/db"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/httpx"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/licenseclient"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/replay"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/resilient"
	"github.com/Thomasjeferr/pluguin-getway-cripto/services/gateway/internal/api"
	"github.com/Thomasjeferr/pluguin-getway-cripto/services/gateway/internal/orders"
	"github.com/Thomasjeferr/pluguin-getway-cripto/services/gateway/internal/webhooks"
)

func main() {
	app := &cli.App{
		Name:   "binance-pix-gateway",
		Usage:  "Take Pix payments through Binance Pay behind a license check",
		Flags:  appcli.GatewayFlags,
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// unlicensed refuses every payment; it stands in when no license is set up.
type unlicensed struct{}

func (unlicensed) Active(context.Context) (bool, error) { return false, nil }

func run(c *cli.Context) error {
	cfg := appcli.NewGatewayConfigFromCLI(c)
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
		verdicts resilient.VerdictStore = resilient.NewMemoryStore()
		guard    replay.Guard           = replay.NewMemoryGuard(nil)
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		verdicts = resilient.NewRedisStore(rdb, "gateway:")
		guard = replay.NewRedisGuard(rdb)
	} else {
		logger.Warn("redis url not set; license verdicts and webhook nonces are kept in memory")
	}

	binanceRC, err := resilient.New(
		resilient.WithName("binancepay"),
		resilient.WithPolicy(cfg.Retry),
		resilient.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	pay, err := binancepay.NewClient(cfg.BinanceBaseURL, binancepay.Auth{
		CertificateSN: cfg.BinanceCertificateSN,
		Secret:        cfg.BinanceSecret,
	}, binanceRC, logger.Named("binancepay"))
	if err != nil {
		return err
	}

	var (
		gate    orders.LicenseGate = unlicensed{}
		licStat api.LicenseStatus
	)
	if cfg.LicenseConfigured() {
		licenseRC, err := resilient.New(
			resilient.WithName("license"),
			resilient.WithPolicy(cfg.Retry),
			resilient.WithVerdictStore(verdicts),
			resilient.WithDegradedTTL(cfg.DegradedTTL),
			resilient.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		lc, err := licenseclient.NewClient(cfg.LicenseServerURL, licenseRC)
		if err != nil {
			return err
		}
		g := licenseclient.NewGuard(lc, licenseclient.Credentials{
			Email:      cfg.LicenseEmail,
			LicenseKey: cfg.LicenseKey,
			Domain:     cfg.SiteDomain,
			Product:    cfg.Product,
		}, cfg.FastPathTTL, logger.Named("license"))
		if _, err := g.Refresh(ctx); err != nil {
			logger.Warn("initial license check failed", zap.Error(err))
		}
		go g.RunPeriodic(ctx, cfg.LicenseCheckInterval)
		gate, licStat = g, g
	} else {
		logger.Warn("license not configured; new payments are refused")
	}

	repo := orders.NewStore(pool)
	svc := orders.NewService(repo, pay, gate, orders.Config{
		DefaultTimeoutMinutes: appcli.ClampOrderTimeout(cfg.OrderTimeoutMinutes),
		WebhookURL:            cfg.WebhookURL,
	}, logger.Named("orders"))
	go svc.RunExpirySweeper(ctx, cfg.ExpirySweepInterval)

	ingress, err := webhooks.NewIngressHandler(
		webhooks.NewStore(pool),
		svc,
		guard,
		[]webhooks.Key{{CertificateSN: cfg.BinanceCertificateSN, Secret: cfg.BinanceSecret}},
		cfg.WebhookTolerance,
		logger.Named("webhooks"),
	)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, httpx.AccessLog(logger.Named("http")))
	r.Get("/health", httpx.Health)
	tokens := authn.NewTokens(cfg.APITokens...)
	if !tokens.Enabled() {
		logger.Warn("no api token configured; order creation is open to any caller")
	}
	for _, tok := range cfg.APITokens {
		logger.Info("api token accepted", zap.String("fingerprint", authn.Fingerprint(tok)))
	}
	api.New(svc, licStat, ingress.HandleBinancePay, tokens, logger.Named("api")).Routes(r)

	logger.Info("gateway starting",
		zap.String("addr", cfg.ListenAddr),
		zap.Bool("redis", cfg.RedisURL != ""),
		zap.Bool("license", cfg.LicenseConfigured()),
	)
	return httpx.Serve(ctx, cfg.ListenAddr, r, logger)
}
