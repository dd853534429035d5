package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/authn"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/binancepay"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/httpx"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/licenseclient"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/resilient"
	"github.com/Thomasjeferr/pluguin-getway-cripto/services/gateway/internal/orders"
)

type Orders interface {
	Create(ctx context.Context, in orders.CreateInput) (*orders.Order, bool, error)
	Status(ctx context.Context, id string) (orders.StatusView, error)
	Pix(ctx context.Context, id string) (orders.PixView, error)
}

// LicenseStatus reports the outcome of the most recent license check.
type LicenseStatus interface {
	Status() licenseclient.Status
}

type Handler struct {
	orders  Orders
	license LicenseStatus
	webhook http.HandlerFunc
	tokens  *authn.Tokens
	logger  *zap.Logger
}

// New wires the handlers. license may be nil, in which case the license
// status endpoint reports an unconfigured installation. Order creation
// requires one of tokens when any is configured.
func New(o Orders, license LicenseStatus, webhook http.HandlerFunc, tokens *authn.Tokens, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{orders: o, license: license, webhook: webhook, tokens: tokens, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.With(h.tokens.Require).Post("/orders", h.CreateOrder)
	r.Get("/orders/{order_id}/status", h.OrderStatus)
	r.Get("/orders/{order_id}/pix", h.OrderPix)
	r.Get("/license/status", h.LicenseState)
	if h.webhook != nil {
		r.Post("/webhooks/binancepay", h.webhook)
	}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.CreateInput
	if err := httpx.ReadJSON(w, r, &in); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	o, created, err := h.orders.Create(r.Context(), in)
	if err != nil {
		h.writeCreateError(w, in.MerchantTradeNo, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, map[string]any{"order": o, "created": created})
}

func (h *Handler) writeCreateError(w http.ResponseWriter, tradeNo string, err error) {
	var apiErr *binancepay.APIError
	var rerr *resilient.Error
	switch {
	case errors.Is(err, orders.ErrInvalidOrder):
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_ORDER", err.Error(), nil)
	case errors.Is(err, orders.ErrUnlicensed):
		httpx.WriteError(w, http.StatusForbidden, "UNLICENSED", "payments are disabled until a valid license is configured", nil)
	case errors.As(err, &apiErr):
		h.logger.Warn("binance rejected order", zap.String("merchant_trade_no", tradeNo), zap.String("code", apiErr.Code))
		httpx.WriteError(w, http.StatusBadGateway, "PAYMENT_PROVIDER_REJECTED", apiErr.Message, map[string]any{"code": apiErr.Code})
	case errors.As(err, &rerr):
		h.logger.Warn("binance unavailable", zap.String("merchant_trade_no", tradeNo), zap.String("kind", string(rerr.Kind)))
		httpx.WriteError(w, http.StatusBadGateway, "PAYMENT_PROVIDER_UNAVAILABLE", "payment provider could not be reached", map[string]any{"kind": rerr.Kind})
	default:
		h.logger.Error("create order failed", zap.String("merchant_trade_no", tradeNo), zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "INTERNAL", "could not create order", nil)
	}
}

func (h *Handler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.orders.Status(r.Context(), chi.URLParam(r, "order_id"))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) OrderPix(w http.ResponseWriter, r *http.Request) {
	view, err := h.orders.Pix(r.Context(), chi.URLParam(r, "order_id"))
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case errors.Is(err, orders.ErrPixUnavailable):
		httpx.WriteError(w, http.StatusNotFound, "PIX_UNAVAILABLE", "no pix code for this order", nil)
	default:
		h.logger.Error("order lookup failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "INTERNAL", "could not load order", nil)
	}
}

func (h *Handler) LicenseState(w http.ResponseWriter, r *http.Request) {
	if h.license == nil {
		httpx.WriteJSON(w, http.StatusOK, licenseclient.Status{State: licenseclient.StateUnconfigured})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.license.Status())
}
