package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/httpx"
	pkgwebhooks "github.com/Thomasjeferr/pluguin-getway-cripto/pkg/webhooks"
	"github.com/Thomasjeferr/pluguin-getway-cripto/services/license/internal/license"
)

const (
	maxValidateBodyBytes = 16 << 10
	maxWebhookBodyBytes  = 1 << 20

	// FailedPaymentLimit is the invoice attempt count that suspends a license.
	FailedPaymentLimit = 3
)

type Store interface {
	FindLicense(ctx context.Context, email, key, product string) (*license.License, error)
	FindByEmailProduct(ctx context.Context, email, product string) (*license.License, error)
	FindBySubscription(ctx context.Context, subscriptionID string) (*license.License, error)
	FindByCustomer(ctx context.Context, customerID string) (*license.License, error)
	CreateLicense(ctx context.Context, l *license.License) error
	SaveLicense(ctx context.Context, l *license.License) error
	Product(ctx context.Context, slug string) (*license.Product, error)
	RecordActivity(ctx context.Context, a license.Activity) error
	RecordStripeEvent(ctx context.Context, eventID, eventType string) (bool, error)
	ForgetStripeEvent(ctx context.Context, eventID string) error
}

type Handler struct {
	store         Store
	subs          license.SubscriptionChecker
	verifier      pkgwebhooks.Verifier
	webhookSecret string
	checkout      license.CheckoutCreator
	checkoutCfg   CheckoutConfig
	logger        *zap.Logger
	now           func() time.Time
}

// New wires the handlers. subs may be nil when Stripe is not configured, in
// which case paid plans are checked against their stored expiry only.
func New(store Store, subs license.SubscriptionChecker, webhookSecret string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:         store,
		subs:          subs,
		verifier:      pkgwebhooks.NewStripeVerifier(pkgwebhooks.DefaultStripeTolerance),
		webhookSecret: webhookSecret,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) Routes(r chi.Router, limiter *httpx.FixedWindowLimiter) {
	r.With(httpx.RateLimit(limiter, "validate", tooManyRequests)).Post("/api/validate", h.Validate)
	r.Post("/webhook/stripe", h.StripeWebhook)
	r.With(httpx.RateLimit(limiter, "checkout", tooManyRequests)).Post("/create-checkout-session", h.CreateCheckoutSession)
}

func tooManyRequests(w http.ResponseWriter, r *http.Request) {
	fail(w, http.StatusTooManyRequests, "Too many requests. Please wait a moment.")
}

func fail(w http.ResponseWriter, status int, msg string) {
	httpx.WriteJSON(w, status, map[string]any{"success": false, "message": msg})
}

type validateRequest struct {
	Email      string `json:"email"`
	LicenseKey string `json:"license_key"`
	Domain     string `json:"domain"`
	Product    string `json:"product"`
	PluginSlug string `json:"plugin_slug"`
}

func (req *validateRequest) normalize() []string {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.LicenseKey = strings.TrimSpace(req.LicenseKey)
	req.Domain = strings.ToLower(strings.TrimSpace(req.Domain))
	req.Product = strings.TrimSpace(req.Product)
	req.PluginSlug = strings.TrimSpace(req.PluginSlug)

	var problems []string
	if addr, err := mail.ParseAddress(req.Email); err != nil || addr.Address != req.Email {
		problems = append(problems, "invalid email")
	}
	if n := len(req.LicenseKey); n < 10 || n > 100 || !strings.HasPrefix(req.LicenseKey, license.KeyPrefix) {
		problems = append(problems, "invalid license key format")
	}
	if len(req.Domain) > 255 {
		problems = append(problems, "invalid domain")
	}
	if len(req.Product) > 50 {
		problems = append(problems, "invalid product")
	}
	if len(req.PluginSlug) > 50 {
		problems = append(problems, "invalid plugin slug")
	}
	return problems
}

func (req validateRequest) product() string {
	for _, v := range []string{req.Product, req.PluginSlug} {
		if v != "" {
			return strings.ToLower(v)
		}
	}
	return license.DefaultProduct
}

type licenseData struct {
	Plan           license.Plan `json:"plan"`
	Active         bool         `json:"active"`
	TrialExpiresAt *time.Time   `json:"trialExpiresAt"`
	PlanExpiresAt  *time.Time   `json:"planExpiresAt"`
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxValidateBodyBytes)).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid input: malformed JSON body")
		return
	}
	if problems := req.normalize(); len(problems) > 0 {
		fail(w, http.StatusBadRequest, "Invalid input: "+strings.Join(problems, ", "))
		return
	}

	ctx := r.Context()
	lic, err := h.store.FindLicense(ctx, req.Email, req.LicenseKey, req.product())
	if err != nil {
		if errors.Is(err, license.ErrNotFound) {
			fail(w, http.StatusUnauthorized, "Invalid license")
			return
		}
		h.logger.Error("license lookup failed", zap.Error(err))
		fail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	d := license.Evaluate(ctx, lic, req.Domain, h.now(), h.subs)
	if d.Changed {
		if err := h.store.SaveLicense(ctx, lic); err != nil {
			h.logger.Error("license save failed", zap.String("license_id", lic.ID), zap.Error(err))
			fail(w, http.StatusInternalServerError, "Internal server error")
			return
		}
	}
	h.recordActivity(ctx, d.Activity)

	if !d.Allowed {
		fail(w, d.Status, d.Message)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": licenseData{
			Plan:           lic.Plan,
			Active:         lic.Active,
			TrialExpiresAt: lic.TrialExpiresAt,
			PlanExpiresAt:  lic.PlanExpiresAt,
		},
	})
}

func (h *Handler) recordActivity(ctx context.Context, rows []license.Activity) {
	for _, a := range rows {
		if err := h.store.RecordActivity(ctx, a); err != nil {
			h.logger.Warn("activity log write failed", zap.String("action", a.Action), zap.Error(err))
		}
	}
}

func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "payload exceeds 1MB limit", nil)
			return
		}
		httpx.WriteError(w, http.StatusBadRequest, "BAD_BODY", err.Error(), nil)
		return
	}

	result, err := h.verifier.Verify(r.Header, rawBody, h.now(), h.webhookSecret)
	if err != nil {
		h.logger.Error("stripe webhook verifier misconfigured", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "VERIFIER_ERROR", "webhook secret not configured", nil)
		return
	}
	if !result.Valid {
		h.logger.Warn("stripe webhook rejected", zap.String("provider", h.verifier.Provider()), zap.String("reason", string(result.Reason)))
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "webhook signature rejected", map[string]any{"reason": result.Reason})
		return
	}

	ctx := r.Context()
	log := h.logger.With(zap.String("provider", h.verifier.Provider()), zap.String("event_id", result.ProviderEventID), zap.String("event_type", result.EventType))
	if result.ProviderEventID != "" {
		fresh, err := h.store.RecordStripeEvent(ctx, result.ProviderEventID, result.EventType)
		if err != nil {
			log.Error("stripe event dedupe failed", zap.Error(err))
			httpx.WriteError(w, http.StatusInternalServerError, "DB_ERROR", "could not record event", nil)
			return
		}
		if !fresh {
			log.Info("duplicate stripe event ignored")
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
			return
		}
	}

	if err := h.dispatch(ctx, rawBody); err != nil {
		log.Error("stripe event processing failed", zap.Error(err))
		if result.ProviderEventID != "" {
			if ferr := h.store.ForgetStripeEvent(ctx, result.ProviderEventID); ferr != nil {
				log.Warn("could not release stripe event for retry", zap.Error(ferr))
			}
		}
		httpx.WriteError(w, http.StatusInternalServerError, "PROCESSING_ERROR", "event processing failed", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (h *Handler) dispatch(ctx context.Context, rawBody []byte) error {
	var event stripe.Event
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return err
	}
	if event.Data == nil {
		return nil
	}
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return err
		}
		return h.applyCheckout(ctx, &sess)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return err
		}
		return h.applySubscriptionDeleted(ctx, &sub)
	case stripe.EventTypeInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return err
		}
		return h.applyPaymentFailed(ctx, &inv)
	default:
		h.logger.Debug("stripe event ignored", zap.String("event_type", string(event.Type)))
		return nil
	}
}
