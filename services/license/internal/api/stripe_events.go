package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/Thomasjeferr/pluguin-getway-cripto/services/license/internal/license"
)

const webhookSource = "stripe_webhook"

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func (h *Handler) applyCheckout(ctx context.Context, sess *stripe.CheckoutSession) error {
	var detailsEmail string
	if sess.CustomerDetails != nil {
		detailsEmail = sess.CustomerDetails.Email
	}
	email := strings.ToLower(firstNonEmpty(sess.CustomerEmail, detailsEmail, sess.Metadata["email"]))
	if email == "" {
		h.logger.Warn("checkout session without email", zap.String("session_id", sess.ID))
		return nil
	}
	plan, ok := license.ParsePlan(sess.Metadata["plan"])
	if !ok {
		plan = license.PlanMonthly
	}
	slug := strings.ToLower(firstNonEmpty(sess.Metadata["product"], sess.Metadata["plugin_slug"], license.DefaultProduct))

	trialDays := license.DefaultTrialDays
	product, err := h.store.Product(ctx, slug)
	if err != nil {
		return fmt.Errorf("load product %s: %w", slug, err)
	}
	if product != nil && product.TrialDays > 0 {
		trialDays = product.TrialDays
	}

	var customerID, subscriptionID string
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		subscriptionID = sess.Subscription.ID
	}

	now := h.now()
	trial, paid := license.ExpiryFor(plan, now, trialDays)

	lic, err := h.store.FindByEmailProduct(ctx, email, slug)
	if errors.Is(err, license.ErrNotFound) {
		key, err := license.GenerateKey()
		if err != nil {
			return err
		}
		lic = &license.License{
			Email:                email,
			Key:                  key,
			ProductSlug:          slug,
			Plan:                 plan,
			Active:               true,
			TrialExpiresAt:       trial,
			PlanExpiresAt:        paid,
			StripeCustomerID:     customerID,
			StripeSubscriptionID: subscriptionID,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := h.store.CreateLicense(ctx, lic); err != nil {
			return fmt.Errorf("create license: %w", err)
		}
		h.recordActivity(ctx, []license.Activity{{
			Email:       email,
			Action:      license.ActionCreated,
			Description: fmt.Sprintf("License created via Stripe - plan: %s", plan),
			Actor:       "system",
			Metadata:    map[string]any{"plan": string(plan), "product": slug, "source": webhookSource},
		}})
		h.logger.Info("license created from checkout", zap.String("license_id", lic.ID), zap.String("plan", string(plan)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("find license: %w", err)
	}

	oldPlan := lic.Plan
	lic.Plan = plan
	lic.Active = true
	lic.TrialExpiresAt = trial
	lic.PlanExpiresAt = paid
	if customerID != "" {
		lic.StripeCustomerID = customerID
	}
	if subscriptionID != "" {
		lic.StripeSubscriptionID = subscriptionID
	}
	lic.UpdatedAt = now
	if err := h.store.SaveLicense(ctx, lic); err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	if oldPlan != plan {
		h.recordActivity(ctx, []license.Activity{{
			Email:       email,
			Action:      license.ActionPlanChanged,
			Description: fmt.Sprintf("Plan changed from %s to %s via Stripe", oldPlan, plan),
			Actor:       "system",
			Metadata:    map[string]any{"old_plan": string(oldPlan), "new_plan": string(plan), "source": webhookSource},
		}})
	}
	h.logger.Info("license renewed from checkout", zap.String("license_id", lic.ID), zap.String("plan", string(plan)))
	return nil
}

func (h *Handler) applySubscriptionDeleted(ctx context.Context, sub *stripe.Subscription) error {
	lic, err := h.store.FindBySubscription(ctx, sub.ID)
	if errors.Is(err, license.ErrNotFound) {
		h.logger.Warn("canceled subscription has no license", zap.String("subscription_id", sub.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("find license by subscription: %w", err)
	}
	return h.deactivate(ctx, lic,
		fmt.Sprintf("Subscription %s canceled in Stripe", sub.ID),
		map[string]any{"subscription_id": sub.ID, "source": webhookSource})
}

func (h *Handler) applyPaymentFailed(ctx context.Context, inv *stripe.Invoice) error {
	var lic *license.License
	err := license.ErrNotFound
	if inv.Subscription != nil && inv.Subscription.ID != "" {
		lic, err = h.store.FindBySubscription(ctx, inv.Subscription.ID)
	}
	if errors.Is(err, license.ErrNotFound) && inv.Customer != nil && inv.Customer.ID != "" {
		lic, err = h.store.FindByCustomer(ctx, inv.Customer.ID)
	}
	if errors.Is(err, license.ErrNotFound) {
		h.logger.Warn("failed invoice has no license", zap.String("invoice_id", inv.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("find license for invoice: %w", err)
	}

	h.logger.Warn("invoice payment failed",
		zap.String("license_id", lic.ID),
		zap.Int64("attempt_count", inv.AttemptCount),
		zap.Int64("amount_due", inv.AmountDue),
	)
	if inv.AttemptCount < FailedPaymentLimit {
		return nil
	}
	return h.deactivate(ctx, lic,
		fmt.Sprintf("License deactivated after %d failed payment attempts", inv.AttemptCount),
		map[string]any{"invoice_id": inv.ID, "attempt_count": inv.AttemptCount, "source": webhookSource})
}

func (h *Handler) deactivate(ctx context.Context, lic *license.License, desc string, meta map[string]any) error {
	if !lic.Active {
		return nil
	}
	lic.Active = false
	lic.UpdatedAt = h.now()
	if err := h.store.SaveLicense(ctx, lic); err != nil {
		return fmt.Errorf("deactivate license: %w", err)
	}
	h.recordActivity(ctx, []license.Activity{{
		Email:       lic.Email,
		Action:      license.ActionDeactivated,
		Description: desc,
		Actor:       "system",
		Metadata:    meta,
	}})
	h.logger.Info("license deactivated", zap.String("license_id", lic.ID))
	return nil
}
