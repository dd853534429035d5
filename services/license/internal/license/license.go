package license

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

type Plan string

const (
	PlanTrial   Plan = "trial"
	PlanMonthly Plan = "monthly"
	PlanYearly  Plan = "yearly"
)

func ParsePlan(raw string) (Plan, bool) {
	switch p := Plan(strings.ToLower(strings.TrimSpace(raw))); p {
	case PlanTrial, PlanMonthly, PlanYearly:
		return p, true
	default:
		return "", false
	}
}

func (p Plan) Paid() bool { return p == PlanMonthly || p == PlanYearly }

const (
	KeyPrefix        = "LIVEX-"
	DefaultProduct   = "binance-pix"
	DefaultTrialDays = 7
)

var ErrNotFound = errors.New("license not found")

type License struct {
	ID                   string     `json:"id"`
	Email                string     `json:"email"`
	Key                  string     `json:"-"`
	ProductSlug          string     `json:"product_slug"`
	Plan                 Plan       `json:"plan"`
	Active               bool       `json:"active"`
	Domain               string     `json:"domain,omitempty"`
	TrialExpiresAt       *time.Time `json:"trial_expires_at,omitempty"`
	PlanExpiresAt        *time.Time `json:"plan_expires_at,omitempty"`
	StripeCustomerID     string     `json:"-"`
	StripeSubscriptionID string     `json:"-"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

type Product struct {
	Slug      string
	Name      string
	TrialDays int
	Active    bool
}

// Activity is an audit row describing a change to a license.
type Activity struct {
	Email       string
	Action      string
	Description string
	Actor       string
	Metadata    map[string]any
}

const (
	ActionCreated          = "created"
	ActionPlanChanged      = "plan_changed"
	ActionTrialExpired     = "trial_expired"
	ActionDomainRegistered = "domain_registered"
	ActionDeactivated      = "deactivated"
)

type Subscription struct {
	ID               string
	Status           string
	CurrentPeriodEnd time.Time
}

// Live reports whether the subscription still entitles the holder.
func (s Subscription) Live() bool { return s.Status == "active" || s.Status == "trialing" }

// SubscriptionChecker looks up a billing subscription by id.
type SubscriptionChecker interface {
	Subscription(ctx context.Context, id string) (Subscription, error)
}

// CheckoutRequest describes a hosted subscription checkout for one product.
// UnitAmount is in minor units of Currency.
type CheckoutRequest struct {
	Email       string
	Plan        Plan
	ProductSlug string
	ProductName string
	UnitAmount  int64
	Currency    string
	TrialDays   int
	SuccessURL  string
	CancelURL   string
}

type CheckoutSession struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// CheckoutCreator opens a billing checkout whose completion event carries
// the email, plan and product the license is issued for.
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
}

// ExpiryFor returns the trial and plan expiry a fresh purchase of plan gets.
func ExpiryFor(plan Plan, now time.Time, trialDays int) (trial, paid *time.Time) {
	if trialDays <= 0 {
		trialDays = DefaultTrialDays
	}
	var t time.Time
	switch plan {
	case PlanTrial:
		t = now.AddDate(0, 0, trialDays)
		return &t, nil
	case PlanMonthly:
		t = now.Add(30 * 24 * time.Hour)
	case PlanYearly:
		t = now.Add(365 * 24 * time.Hour)
	default:
		return nil, nil
	}
	return nil, &t
}

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateKey returns LIVEX-XXXX-XXXX-XXXX-XXXX.
func GenerateKey() (string, error) {
	var b strings.Builder
	b.WriteString(KeyPrefix)
	max := big.NewInt(int64(len(keyAlphabet)))
	for g := 0; g < 4; g++ {
		if g > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < 4; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("generate license key: %w", err)
			}
			b.WriteByte(keyAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}

// NormalizeDomain strips scheme, port and a leading "www." and lowercases.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "" || d == "localhost" {
		return d
	}
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndexByte(d, ':'); i >= 0 && isDigits(d[i+1:]) {
		d = d[:i]
	}
	return strings.TrimPrefix(d, "www.")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var domainPattern = regexp.MustCompile(`^([a-z0-9]+(-[a-z0-9]+)*\.)+[a-z]{2,}$`)

func ValidDomain(d string) bool { return domainPattern.MatchString(d) }

// DomainAllowed reports whether requested may use a license bound to bound.
// Subdomains of the bound domain are allowed.
func DomainAllowed(bound, requested string) bool {
	b := NormalizeDomain(bound)
	r := NormalizeDomain(requested)
	return b == r || strings.HasSuffix(r, "."+b)
}
