// Package stripeclient adapts the Stripe API to license.SubscriptionChecker
// and license.CheckoutCreator.
package stripeclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/Thomasjeferr/pluguin-getway-cripto/services/license/internal/license"
)

type Checker struct {
	api *client.API
}

// New builds a checker for secretKey. backends may be nil to use Stripe's
// production endpoints.
func New(secretKey string, backends *stripe.Backends) (*Checker, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, errors.New("stripe secret key is empty")
	}
	api := &client.API{}
	api.Init(secretKey, backends)
	return &Checker{api: api}, nil
}

func (c *Checker) Subscription(ctx context.Context, id string) (license.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return license.Subscription{}, fmt.Errorf("stripe get subscription %s: %w", id, err)
	}
	out := license.Subscription{ID: sub.ID, Status: string(sub.Status)}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	return out, nil
}

// CreateCheckout registers a product and a recurring price for the plan and
// opens a subscription checkout session for them. Trials bill the monthly
// price once TrialDays have passed.
func (c *Checker) CreateCheckout(ctx context.Context, req license.CheckoutRequest) (license.CheckoutSession, error) {
	interval, label := stripe.PriceRecurringIntervalMonth, "Monthly"
	switch req.Plan {
	case license.PlanYearly:
		interval, label = stripe.PriceRecurringIntervalYear, "Yearly"
	case license.PlanTrial:
		label = "Trial"
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = string(stripe.CurrencyBRL)
	}

	pp := &stripe.ProductParams{
		Name:        stripe.String(req.ProductName + " - " + label),
		Description: stripe.String("Subscription to " + req.ProductName),
	}
	pp.Context = ctx
	pp.AddMetadata("product_slug", req.ProductSlug)
	pp.AddMetadata("plan", string(req.Plan))
	prod, err := c.api.Products.New(pp)
	if err != nil {
		return license.CheckoutSession{}, fmt.Errorf("stripe create product: %w", err)
	}

	priceParams := &stripe.PriceParams{
		Product:    stripe.String(prod.ID),
		UnitAmount: stripe.Int64(req.UnitAmount),
		Currency:   stripe.String(currency),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(string(interval)),
		},
	}
	priceParams.Context = ctx
	priceParams.AddMetadata("product_slug", req.ProductSlug)
	priceParams.AddMetadata("plan", string(req.Plan))
	price, err := c.api.Prices.New(priceParams)
	if err != nil {
		return license.CheckoutSession{}, fmt.Errorf("stripe create price: %w", err)
	}

	sp := &stripe.CheckoutSessionParams{
		CustomerEmail:      stripe.String(req.Email),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(price.ID), Quantity: stripe.Int64(1)},
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if req.Plan == license.PlanTrial && req.TrialDays > 0 {
		sp.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(int64(req.TrialDays)),
		}
	}
	sp.Context = ctx
	sp.AddMetadata("email", req.Email)
	sp.AddMetadata("plan", string(req.Plan))
	sp.AddMetadata("product", req.ProductSlug)
	sp.AddMetadata("plugin_slug", req.ProductSlug)
	sess, err := c.api.CheckoutSessions.New(sp)
	if err != nil {
		return license.CheckoutSession{}, fmt.Errorf("stripe create checkout session: %w", err)
	}
	return license.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}
