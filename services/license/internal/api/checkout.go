package api

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/httpx"
	"github.com/Thomasjeferr/pluguin-getway-cripto/services/license/internal/license"
)

const maxCheckoutBodyBytes = 16 << 10

// CheckoutConfig prices the plans sold through /create-checkout-session.
// Amounts are in minor units of Currency.
type CheckoutConfig struct {
	PriceMonthly int64
	PriceYearly  int64
	Currency     string
	SuccessURL   string
	CancelURL    string
}

// EnableCheckout turns on hosted checkout. Without it the route answers 400.
func (h *Handler) EnableCheckout(c license.CheckoutCreator, cfg CheckoutConfig) {
	h.checkout = c
	h.checkoutCfg = cfg
}

type checkoutRequest struct {
	Email      string `json:"email"`
	PlanID     string `json:"planId"`
	Product    string `json:"product"`
	PluginSlug string `json:"plugin_slug"`
}

func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckoutBodyBytes)).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid input: malformed JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		fail(w, http.StatusBadRequest, "Invalid input: invalid email")
		return
	}
	plan, ok := license.ParsePlan(req.PlanID)
	if !ok || strings.TrimSpace(req.PlanID) != string(plan) {
		fail(w, http.StatusBadRequest, "Invalid input: planId must be monthly, yearly or trial")
		return
	}
	if h.checkout == nil {
		fail(w, http.StatusBadRequest, "Stripe is not configured")
		return
	}

	ctx := r.Context()
	slug := validateRequest{Product: strings.TrimSpace(req.Product), PluginSlug: strings.TrimSpace(req.PluginSlug)}.product()
	name, trialDays := slug, license.DefaultTrialDays
	p, err := h.store.Product(ctx, slug)
	if err != nil {
		h.logger.Error("product lookup failed", zap.String("product", slug), zap.Error(err))
		fail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if p != nil {
		slug, name = p.Slug, p.Name
		if p.TrialDays > 0 {
			trialDays = p.TrialDays
		}
	}

	amount := h.checkoutCfg.PriceMonthly
	if plan == license.PlanYearly {
		amount = h.checkoutCfg.PriceYearly
	}
	sess, err := h.checkout.CreateCheckout(ctx, license.CheckoutRequest{
		Email:       email,
		Plan:        plan,
		ProductSlug: slug,
		ProductName: name,
		UnitAmount:  amount,
		Currency:    h.checkoutCfg.Currency,
		TrialDays:   trialDays,
		SuccessURL:  successURL(h.checkoutCfg.SuccessURL, plan),
		CancelURL:   withQuery(h.checkoutCfg.CancelURL, "plan="+url.QueryEscape(string(plan))+"&canceled=true"),
	})
	if err != nil {
		h.logger.Error("checkout session failed", zap.String("plan", string(plan)), zap.String("product", slug), zap.Error(err))
		fail(w, http.StatusBadGateway, "Could not start checkout")
		return
	}
	h.logger.Info("checkout session created", zap.String("session_id", sess.ID), zap.String("plan", string(plan)), zap.String("product", slug))
	httpx.WriteJSON(w, http.StatusOK, sess)
}

// successURL keeps Stripe's {CHECKOUT_SESSION_ID} placeholder unescaped.
func successURL(base string, plan license.Plan) string {
	return withQuery(base, "session_id={CHECKOUT_SESSION_ID}&plan="+url.QueryEscape(string(plan)))
}

func withQuery(base, query string) string {
	if strings.Contains(base, "?") {
		return base + "&" + query
	}
	return base + "?" + query
}
