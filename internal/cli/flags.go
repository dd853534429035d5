package cli

import (
	"time"

	"github.com/urfave/cli/v2"
)

var (
	ListenAddrFlag = &cli.StringFlag{
		Name:    "listen-addr",
		Usage:   "HTTP listen address",
		Value:   ":8080",
		EnvVars: []string{"LISTEN_ADDR"},
	}

	LogLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		Usage:   "Log level (debug, info, warn, error)",
		EnvVars: []string{"LOG_LEVEL"},
	}

	DebugFlag = &cli.BoolFlag{
		Name:    "debug",
		Usage:   "Human-readable development logging",
		EnvVars: []string{"DEBUG"},
	}

	DatabaseURLFlag = &cli.StringFlag{
		Name:     "database-url",
		Usage:    "PostgreSQL connection string",
		EnvVars:  []string{"DATABASE_URL"},
		Required: true,
	}

	RedisURLFlag = &cli.StringFlag{
		Name:    "redis-url",
		Usage:   "Redis URL for the verdict cache and nonce guard; in-memory when empty",
		EnvVars: []string{"REDIS_URL"},
	}
)

// License server.
var (
	StripeSecretKeyFlag = &cli.StringFlag{
		Name:    "stripe-secret-key",
		Usage:   "Stripe API key used to check subscriptions; expiry dates only when empty",
		EnvVars: []string{"STRIPE_SECRET_KEY"},
	}

	StripeWebhookSecretFlag = &cli.StringFlag{
		Name:     "stripe-webhook-secret",
		Usage:    "Stripe endpoint signing secret (whsec_...)",
		EnvVars:  []string{"STRIPE_WEBHOOK_SECRET"},
		Required: true,
	}

	ValidateRateFlag = &cli.IntFlag{
		Name:    "validate-rate-per-minute",
		Usage:   "Validation requests allowed per client IP per minute",
		Value:   30,
		EnvVars: []string{"VALIDATE_RATE_PER_MINUTE"},
	}

	PriceMonthlyFlag = &cli.Int64Flag{
		Name:    "price-monthly-cents",
		Usage:   "Monthly plan price in minor currency units",
		Value:   9700,
		EnvVars: []string{"PRICE_MONTHLY_CENTS"},
	}

	PriceYearlyFlag = &cli.Int64Flag{
		Name:    "price-yearly-cents",
		Usage:   "Yearly plan price in minor currency units",
		Value:   99700,
		EnvVars: []string{"PRICE_YEARLY_CENTS"},
	}

	CheckoutCurrencyFlag = &cli.StringFlag{
		Name:    "checkout-currency",
		Usage:   "ISO currency code for checkout prices",
		Value:   "brl",
		EnvVars: []string{"CHECKOUT_CURRENCY"},
	}

	CheckoutSuccessURLFlag = &cli.StringFlag{
		Name:    "checkout-success-url",
		Usage:   "Page Stripe returns buyers to after paying",
		Value:   "http://localhost:8080/payment-success",
		EnvVars: []string{"CHECKOUT_SUCCESS_URL"},
	}

	CheckoutCancelURLFlag = &cli.StringFlag{
		Name:    "checkout-cancel-url",
		Usage:   "Page Stripe returns buyers to when they cancel",
		Value:   "http://localhost:8080/buy",
		EnvVars: []string{"CHECKOUT_CANCEL_URL"},
	}

	TrustProxyFlag = &cli.BoolFlag{
		Name:    "trust-proxy",
		Usage:   "Take the client IP from X-Forwarded-For/X-Real-IP; only behind a proxy that sets them",
		EnvVars: []string{"TRUST_PROXY"},
	}
)

// Payment gateway.
var (
	BinanceBaseURLFlag = &cli.StringFlag{
		Name:    "binance-base-url",
		Usage:   "Binance Pay API base URL",
		Value:   "https://bpay.binanceapi.com",
		EnvVars: []string{"BINANCE_PAY_BASE_URL"},
	}

	BinanceCertificateSNFlag = &cli.StringFlag{
		Name:     "binance-certificate-sn",
		Usage:    "Binance Pay API key (certificate serial number)",
		EnvVars:  []string{"BINANCE_PAY_CERTIFICATE_SN"},
		Required: true,
	}

	BinanceSecretFlag = &cli.StringFlag{
		Name:     "binance-secret",
		Usage:    "Binance Pay API secret",
		EnvVars:  []string{"BINANCE_PAY_SECRET"},
		Required: true,
	}

	WebhookURLFlag = &cli.StringFlag{
		Name:    "webhook-url",
		Usage:   "Public URL Binance Pay posts notifications to",
		EnvVars: []string{"BINANCE_PAY_WEBHOOK_URL"},
	}

	WebhookToleranceFlag = &cli.DurationFlag{
		Name:    "webhook-tolerance",
		Usage:   "Accepted clock skew for notification timestamps; 0 disables the check",
		Value:   5 * time.Minute,
		EnvVars: []string{"BINANCE_PAY_WEBHOOK_TOLERANCE"},
	}

	APITokensFlag = &cli.StringSliceFlag{
		Name:    "api-token",
		Usage:   "Bearer token accepted on order creation; repeat or comma-separate for several. Unset leaves it open",
		EnvVars: []string{"GATEWAY_API_TOKENS"},
	}

	OrderTimeoutFlag = &cli.IntFlag{
		Name:    "order-timeout-minutes",
		Usage:   "Minutes an unpaid order stays open (5..120)",
		Value:   DefaultOrderTimeoutMinutes,
		EnvVars: []string{"ORDER_TIMEOUT_MINUTES"},
	}

	ExpirySweepFlag = &cli.DurationFlag{
		Name:    "expiry-sweep-interval",
		Usage:   "How often overdue orders are canceled",
		Value:   time.Minute,
		EnvVars: []string{"EXPIRY_SWEEP_INTERVAL"},
	}

	LicenseServerURLFlag = &cli.StringFlag{
		Name:    "license-server-url",
		Usage:   "License server base URL",
		EnvVars: []string{"LICENSE_SERVER_URL"},
	}

	LicenseEmailFlag = &cli.StringFlag{
		Name:    "license-email",
		Usage:   "Email the license was issued to",
		EnvVars: []string{"LICENSE_EMAIL"},
	}

	LicenseKeyFlag = &cli.StringFlag{
		Name:    "license-key",
		Usage:   "License key (LIVEX-...)",
		EnvVars: []string{"LICENSE_KEY"},
	}

	SiteDomainFlag = &cli.StringFlag{
		Name:    "site-domain",
		Usage:   "Domain the license is bound to",
		EnvVars: []string{"SITE_DOMAIN"},
	}

	ProductFlag = &cli.StringFlag{
		Name:    "product",
		Usage:   "Product slug sent with license checks",
		Value:   "binance-pix",
		EnvVars: []string{"LICENSE_PRODUCT"},
	}

	FastPathTTLFlag = &cli.DurationFlag{
		Name:    "license-fast-path-ttl",
		Usage:   "Age below which a cached valid verdict skips the network",
		Value:   2 * time.Hour,
		EnvVars: []string{"LICENSE_FAST_PATH_TTL"},
	}

	DegradedTTLFlag = &cli.DurationFlag{
		Name:    "license-degraded-ttl",
		Usage:   "Age below which a cached verdict is served while the license server is down",
		Value:   24 * time.Hour,
		EnvVars: []string{"LICENSE_DEGRADED_TTL"},
	}

	LicenseCheckIntervalFlag = &cli.DurationFlag{
		Name:    "license-check-interval",
		Usage:   "Background license re-validation interval",
		Value:   24 * time.Hour,
		EnvVars: []string{"LICENSE_CHECK_INTERVAL"},
	}

	MaxAttemptsFlag = &cli.IntFlag{
		Name:    "retry-max-attempts",
		Usage:   "Attempts per outbound call, first included",
		Value:   3,
		EnvVars: []string{"RETRY_MAX_ATTEMPTS"},
	}

	BaseDelayFlag = &cli.DurationFlag{
		Name:    "retry-base-delay",
		Usage:   "Delay before the second attempt; doubles after each retry",
		Value:   time.Second,
		EnvVars: []string{"RETRY_BASE_DELAY"},
	}

	MaxDelayFlag = &cli.DurationFlag{
		Name:    "retry-max-delay",
		Usage:   "Upper bound for a single retry delay",
		Value:   30 * time.Second,
		EnvVars: []string{"RETRY_MAX_DELAY"},
	}

	AttemptTimeoutFlag = &cli.DurationFlag{
		Name:    "attempt-timeout",
		Usage:   "Deadline for a single outbound attempt",
		Value:   30 * time.Second,
		EnvVars: []string{"ATTEMPT_TIMEOUT"},
	}
)

var CommonFlags = []cli.Flag{ListenAddrFlag, LogLevelFlag, DebugFlag, DatabaseURLFlag}

var LicenseServerFlags = append(append([]cli.Flag{}, CommonFlags...),
	StripeSecretKeyFlag, StripeWebhookSecretFlag, ValidateRateFlag, TrustProxyFlag,
	PriceMonthlyFlag, PriceYearlyFlag, CheckoutCurrencyFlag, CheckoutSuccessURLFlag, CheckoutCancelURLFlag)

var GatewayFlags = append(append([]cli.Flag{}, CommonFlags...),
	RedisURLFlag,
	BinanceBaseURLFlag, BinanceCertificateSNFlag, BinanceSecretFlag, WebhookURLFlag, WebhookToleranceFlag,
	APITokensFlag, OrderTimeoutFlag, ExpirySweepFlag,
	LicenseServerURLFlag, LicenseEmailFlag, LicenseKeyFlag, SiteDomainFlag, ProductFlag,
	FastPathTTLFlag, DegradedTTLFlag, LicenseCheckIntervalFlag,
	MaxAttemptsFlag, BaseDelayFlag, MaxDelayFlag, AttemptTimeoutFlag,
)
