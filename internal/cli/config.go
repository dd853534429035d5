package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/resilient"
)

const (
	DefaultOrderTimeoutMinutes = 15
	MinOrderTimeoutMinutes     = 5
	MaxOrderTimeoutMinutes     = 120
)

type Common struct {
	ListenAddr  string
	LogLevel    string
	Debug       bool
	DatabaseURL string
}

func newCommon(c *cli.Context) Common {
	return Common{
		ListenAddr:  c.String(ListenAddrFlag.Name),
		LogLevel:    c.String(LogLevelFlag.Name),
		Debug:       c.Bool(DebugFlag.Name),
		DatabaseURL: c.String(DatabaseURLFlag.Name),
	}
}

type LicenseServerConfig struct {
	Common
	StripeSecretKey     string
	StripeWebhookSecret string
	ValidatePerMinute   int
	TrustProxy          bool

	PriceMonthlyCents  int64
	PriceYearlyCents   int64
	CheckoutCurrency   string
	CheckoutSuccessURL string
	CheckoutCancelURL  string
}

func NewLicenseServerConfigFromCLI(c *cli.Context) *LicenseServerConfig {
	return &LicenseServerConfig{
		Common:              newCommon(c),
		StripeSecretKey:     c.String(StripeSecretKeyFlag.Name),
		StripeWebhookSecret: c.String(StripeWebhookSecretFlag.Name),
		ValidatePerMinute:   c.Int(ValidateRateFlag.Name),
		TrustProxy:          c.Bool(TrustProxyFlag.Name),
		PriceMonthlyCents:   c.Int64(PriceMonthlyFlag.Name),
		PriceYearlyCents:    c.Int64(PriceYearlyFlag.Name),
		CheckoutCurrency:    c.String(CheckoutCurrencyFlag.Name),
		CheckoutSuccessURL:  c.String(CheckoutSuccessURLFlag.Name),
		CheckoutCancelURL:   c.String(CheckoutCancelURLFlag.Name),
	}
}

func (c *LicenseServerConfig) Validate() error {
	if strings.TrimSpace(c.StripeWebhookSecret) == "" {
		return errors.New("stripe webhook secret is required")
	}
	if c.ValidatePerMinute < 0 {
		return fmt.Errorf("validate rate must not be negative, got %d", c.ValidatePerMinute)
	}
	if c.PriceMonthlyCents <= 0 || c.PriceYearlyCents <= 0 {
		return errors.New("plan prices must be positive")
	}
	return nil
}

type GatewayConfig struct {
	Common
	RedisURL string

	BinanceBaseURL       string
	BinanceCertificateSN string
	BinanceSecret        string
	WebhookURL           string
	WebhookTolerance     time.Duration
	APITokens            []string

	OrderTimeoutMinutes int
	ExpirySweepInterval time.Duration

	LicenseServerURL     string
	LicenseEmail         string
	LicenseKey           string
	SiteDomain           string
	Product              string
	FastPathTTL          time.Duration
	DegradedTTL          time.Duration
	LicenseCheckInterval time.Duration

	Retry resilient.RetryPolicy
}

func NewGatewayConfigFromCLI(c *cli.Context) *GatewayConfig {
	return &GatewayConfig{
		Common:               newCommon(c),
		RedisURL:             c.String(RedisURLFlag.Name),
		BinanceBaseURL:       c.String(BinanceBaseURLFlag.Name),
		BinanceCertificateSN: c.String(BinanceCertificateSNFlag.Name),
		BinanceSecret:        c.String(BinanceSecretFlag.Name),
		WebhookURL:           c.String(WebhookURLFlag.Name),
		WebhookTolerance:     c.Duration(WebhookToleranceFlag.Name),
		APITokens:            c.StringSlice(APITokensFlag.Name),
		OrderTimeoutMinutes:  ClampOrderTimeout(c.Int(OrderTimeoutFlag.Name)),
		ExpirySweepInterval:  c.Duration(ExpirySweepFlag.Name),
		LicenseServerURL:     c.String(LicenseServerURLFlag.Name),
		LicenseEmail:         c.String(LicenseEmailFlag.Name),
		LicenseKey:           c.String(LicenseKeyFlag.Name),
		SiteDomain:           c.String(SiteDomainFlag.Name),
		Product:              c.String(ProductFlag.Name),
		FastPathTTL:          c.Duration(FastPathTTLFlag.Name),
		DegradedTTL:          c.Duration(DegradedTTLFlag.Name),
		LicenseCheckInterval: c.Duration(LicenseCheckIntervalFlag.Name),
		Retry: resilient.RetryPolicy{
			MaxAttempts:    c.Int(MaxAttemptsFlag.Name),
			BaseDelay:      c.Duration(BaseDelayFlag.Name),
			MaxDelay:       c.Duration(MaxDelayFlag.Name),
			AttemptTimeout: c.Duration(AttemptTimeoutFlag.Name),
			Retryable:      resilient.DefaultRetryable,
		},
	}
}

func (c *GatewayConfig) Validate() error {
	if strings.TrimSpace(c.BinanceCertificateSN) == "" || strings.TrimSpace(c.BinanceSecret) == "" {
		return errors.New("binance pay certificate sn and secret are required")
	}
	if c.FastPathTTL <= 0 || c.DegradedTTL <= 0 {
		return errors.New("license cache windows must be positive")
	}
	if c.FastPathTTL > c.DegradedTTL {
		return fmt.Errorf("fast path ttl %s exceeds degraded ttl %s", c.FastPathTTL, c.DegradedTTL)
	}
	if c.ExpirySweepInterval <= 0 {
		return errors.New("expiry sweep interval must be positive")
	}
	if c.LicenseCheckInterval <= 0 {
		return errors.New("license check interval must be positive")
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	return nil
}

// LicenseConfigured reports whether license checks can run at all.
func (c *GatewayConfig) LicenseConfigured() bool {
	return strings.TrimSpace(c.LicenseServerURL) != "" &&
		strings.TrimSpace(c.LicenseEmail) != "" &&
		strings.TrimSpace(c.LicenseKey) != ""
}

// ClampOrderTimeout keeps an order timeout inside 5..120 minutes, treating
// anything shorter than the minimum as unset.
func ClampOrderTimeout(minutes int) int {
	switch {
	case minutes < MinOrderTimeoutMinutes:
		return DefaultOrderTimeoutMinutes
	case minutes > MaxOrderTimeoutMinutes:
		return MaxOrderTimeoutMinutes
	default:
		return minutes
	}
}
