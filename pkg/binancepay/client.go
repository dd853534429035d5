package binancepay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/resilient"
)

const (
	DefaultBaseURL = "https://bpay.binanceapi.com"

	pathCreateOrder = "/binancepay/openapi/v2/order"
	pathQueryOrder  = "/binancepay/openapi/v2/order/query"
)

// Client talks to the merchant API. Calls go through a resilient.Client and
// never degrade: an order cannot be answered from cache.
type Client struct {
	baseURL string
	auth    Auth
	rc      *resilient.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, auth Auth, rc *resilient.Client, logger *zap.Logger) (*Client, error) {
	if err := auth.Validate(); err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, errors.New("binancepay: nil resilient client")
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		rc:      rc,
		logger:  logger,
	}, nil
}

func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Env == nil {
		req.Env = &Env{TerminalType: TerminalTypeWeb}
	}
	env, err := c.call(ctx, pathCreateOrder, req)
	if err != nil {
		return nil, err
	}
	out, err := decodeOrderResult(env.Data)
	if err != nil {
		return nil, err
	}
	c.logger.Info("binance order created",
		zap.String("merchant_trade_no", req.MerchantTradeNo),
		zap.String("prepay_id", out.PrepayID),
	)
	return out, nil
}

func (c *Client) QueryOrder(ctx context.Context, merchantTradeNo string) (*OrderStatus, error) {
	merchantTradeNo = strings.TrimSpace(merchantTradeNo)
	if merchantTradeNo == "" {
		return nil, errors.New("binancepay: merchantTradeNo is required")
	}
	env, err := c.call(ctx, pathQueryOrder, map[string]string{"merchantTradeNo": merchantTradeNo})
	if err != nil {
		return nil, err
	}
	var st OrderStatus
	if err := json.Unmarshal(env.Data, &st); err != nil {
		return nil, fmt.Errorf("binancepay: decode order status: %w", err)
	}
	return &st, nil
}

func (c *Client) call(ctx context.Context, path string, in any) (*envelope, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("binancepay: encode request: %w", err)
	}
	url := c.baseURL + path
	res, err := c.rc.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if err := c.auth.Apply(req, body); err != nil {
			return nil, err
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if res.Failed() {
		// A rejected call usually still carries the API's own error envelope.
		if res.Response != nil && len(res.Response.Body) > 0 {
			if _, apiErr := decodeEnvelope(res.Response.StatusCode, res.Response.Body); apiErr != nil {
				var ae *APIError
				if errors.As(apiErr, &ae) {
					return nil, fmt.Errorf("%w: %w", ae, res.Err)
				}
			}
		}
		c.logger.Warn("binance call failed",
			zap.String("path", path),
			zap.String("kind", string(res.Err.Kind)),
			zap.Int("attempts", res.Attempts),
		)
		return nil, fmt.Errorf("binancepay: %s: %w", path, res.Err)
	}
	return decodeEnvelope(res.Response.StatusCode, res.Response.Body)
}
