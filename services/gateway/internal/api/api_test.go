package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/authn"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/binancepay"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/licenseclient"
	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/resilient"
	"github.com/Thomasjeferr/pluguin-getway-cripto/services/gateway/internal/orders"
)

type fakeOrders struct {
	createErr error
	created   bool
	lastInput orders.CreateInput
	views     map[string]orders.StatusView
	pix       map[string]orders.PixView
	pixErr    error
}

func (f *fakeOrders) Create(ctx context.Context, in orders.CreateInput) (*orders.Order, bool, error) {
	f.lastInput = in
	if f.createErr != nil {
		return nil, false, f.createErr
	}
	return &orders.Order{ID: "ord_1", MerchantTradeNo: in.MerchantTradeNo, Amount: in.Amount, Currency: in.Currency, Status: orders.StatusOnHold}, f.created, nil
}

func (f *fakeOrders) Status(ctx context.Context, id string) (orders.StatusView, error) {
	v, ok := f.views[id]
	if !ok {
		return orders.StatusView{}, orders.ErrNotFound
	}
	return v, nil
}

func (f *fakeOrders) Pix(ctx context.Context, id string) (orders.PixView, error) {
	if f.pixErr != nil {
		return orders.PixView{}, f.pixErr
	}
	v, ok := f.pix[id]
	if !ok {
		return orders.PixView{}, orders.ErrNotFound
	}
	return v, nil
}

type fixedLicense licenseclient.Status

func (f fixedLicense) Status() licenseclient.Status { return licenseclient.Status(f) }

func newRouter(o Orders, license LicenseStatus, webhook http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	New(o, license, webhook, nil, nil).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env.Error.Code
}

const createBody = `{"merchant_trade_no":"1001","amount":"49.90","currency":"BRL","description":"Pedido 1001"}`

func TestCreateOrderStatusCodes(t *testing.T) {
	o := &fakeOrders{created: true}
	h := newRouter(o, nil, nil)

	rr := do(t, h, http.MethodPost, "/orders", createBody)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "1001", o.lastInput.MerchantTradeNo)

	var out struct {
		Order   orders.Order `json:"order"`
		Created bool         `json:"created"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.True(t, out.Created)
	require.Equal(t, orders.StatusOnHold, out.Order.Status)

	o.created = false
	rr = do(t, h, http.MethodPost, "/orders", createBody)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestCreateOrderRequiresConfiguredToken(t *testing.T) {
	r := chi.NewRouter()
	New(&fakeOrders{created: true}, nil, nil, authn.NewTokens("shop-token"), nil).Routes(r)

	rr := do(t, r, http.MethodPost, "/orders", createBody)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(createBody))
	req.Header.Set("Authorization", "Bearer shop-token")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(t, r, http.MethodGet, "/license/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestCreateOrderRejectsUnknownFields(t *testing.T) {
	rr := do(t, newRouter(&fakeOrders{}, nil, nil), http.MethodPost, "/orders", `{"merchant_trade_no":"1","surprise":true}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "BAD_JSON", errorCode(t, rr))
}

func TestCreateOrderErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid", fmt.Errorf("%w: amount must be a positive decimal", orders.ErrInvalidOrder), http.StatusBadRequest, "INVALID_ORDER"},
		{"unlicensed", orders.ErrUnlicensed, http.StatusForbidden, "UNLICENSED"},
		{"api rejected", &binancepay.APIError{HTTPStatus: 400, Status: "FAIL", Code: "400201", Message: "merchantTradeNo is invalid or duplicated"}, http.StatusBadGateway, "PAYMENT_PROVIDER_REJECTED"},
		{"unavailable", fmt.Errorf("binancepay: /order: %w", &resilient.Error{Kind: resilient.KindRemoteUnavailable, Cause: resilient.CauseServerError, Attempts: 3}), http.StatusBadGateway, "PAYMENT_PROVIDER_UNAVAILABLE"},
		{"internal", errors.New("insert order: connection reset"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, newRouter(&fakeOrders{createErr: tc.err}, nil, nil), http.MethodPost, "/orders", createBody)
			require.Equal(t, tc.status, rr.Code)
			require.Equal(t, tc.code, errorCode(t, rr))
		})
	}
}

func TestOrderStatus(t *testing.T) {
	o := &fakeOrders{views: map[string]orders.StatusView{
		"ord_1": {Paid: true, Status: orders.StatusPaid},
	}}
	h := newRouter(o, nil, nil)

	rr := do(t, h, http.MethodGet, "/orders/ord_1/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"paid":true,"status":"paid"}`, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/orders/missing/status", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "NOT_FOUND", errorCode(t, rr))
}

func TestOrderPix(t *testing.T) {
	o := &fakeOrders{pix: map[string]orders.PixView{
		"ord_1": {PixCode: "https://pay.binance.com/checkout/abc", IsURL: true},
	}}
	h := newRouter(o, nil, nil)

	rr := do(t, h, http.MethodGet, "/orders/ord_1/pix", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"pix_code":"https://pay.binance.com/checkout/abc","is_url":true}`, rr.Body.String())

	o.pixErr = orders.ErrPixUnavailable
	rr = do(t, h, http.MethodGet, "/orders/ord_1/pix", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "PIX_UNAVAILABLE", errorCode(t, rr))

	o.pixErr = errors.New("db down")
	rr = do(t, h, http.MethodGet, "/orders/ord_1/pix", "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestLicenseState(t *testing.T) {
	rr := do(t, newRouter(&fakeOrders{}, nil, nil), http.MethodGet, "/license/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"state":"unconfigured"`)

	h := newRouter(&fakeOrders{}, fixedLicense{State: licenseclient.StateDegraded, Degraded: 2}, nil)
	rr = do(t, h, http.MethodGet, "/license/status", "")
	require.Contains(t, rr.Body.String(), `"state":"degraded"`)
	require.Contains(t, rr.Body.String(), `"degraded_total":2`)
}

func TestWebhookRouteMounted(t *testing.T) {
	called := false
	h := newRouter(&fakeOrders{}, nil, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	rr := do(t, h, http.MethodPost, "/webhooks/binancepay", `{}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, called)
}
