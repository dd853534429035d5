package binancepay

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	StatusSuccess = "SUCCESS"
	StatusFail    = "FAIL"

	GoodsTypeVirtual     = "02"
	GoodsCategoryOthers  = "D000"
	TerminalTypeWeb      = "WEB"
	OrderStatusPaid      = "PAID"
	OrderStatusCanceled  = "CANCELED"
	OrderStatusExpired   = "EXPIRED"
	OrderStatusInitial   = "INITIAL"
	OrderStatusPending   = "PENDING"
	OrderStatusRefunded  = "REFUNDED"
	OrderStatusRefunding = "REFUNDING"
)

type Env struct {
	TerminalType string `json:"terminalType"`
}

type Goods struct {
	GoodsType        string `json:"goodsType"`
	GoodsCategory    string `json:"goodsCategory"`
	ReferenceGoodsID string `json:"referenceGoodsId"`
	GoodsName        string `json:"goodsName"`
}

type OrderRequest struct {
	Env             *Env   `json:"env,omitempty"`
	MerchantTradeNo string `json:"merchantTradeNo"`
	OrderAmount     string `json:"orderAmount"`
	Currency        string `json:"currency"`
	Goods           Goods  `json:"goods"`
	ReturnURL       string `json:"returnUrl,omitempty"`
	CancelURL       string `json:"cancelUrl,omitempty"`
	WebhookURL      string `json:"webhookUrl,omitempty"`
}

func (r OrderRequest) Validate() error {
	if strings.TrimSpace(r.MerchantTradeNo) == "" {
		return fmt.Errorf("binancepay: merchantTradeNo is required")
	}
	if strings.TrimSpace(r.Currency) == "" {
		return fmt.Errorf("binancepay: currency is required")
	}
	if _, err := strconv.ParseFloat(r.OrderAmount, 64); err != nil {
		return fmt.Errorf("binancepay: orderAmount %q is not a decimal", r.OrderAmount)
	}
	return nil
}

// FormatAmount renders minor units with two decimals, e.g. 1234 -> "12.34".
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

type envelope struct {
	Status       string          `json:"status"`
	Code         string          `json:"code"`
	ErrorMessage string          `json:"errorMessage"`
	Data         json.RawMessage `json:"data"`
}

// APIError is a well-formed response whose status is not SUCCESS.
type APIError struct {
	HTTPStatus int
	Status     string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binancepay: api error: http=%d status=%s code=%s message=%s", e.HTTPStatus, e.Status, e.Code, e.Message)
}

type OrderResult struct {
	PrepayID     string         `json:"prepayId"`
	TerminalType string         `json:"terminalType"`
	ExpireTime   int64          `json:"expireTime"`
	QRCodeLink   string         `json:"qrcodeLink"`
	QRContent    string         `json:"qrContent"`
	CheckoutURL  string         `json:"checkoutUrl"`
	DeeplinkURL  string         `json:"deeplink"`
	UniversalURL string         `json:"universalUrl"`
	Raw          map[string]any `json:"-"`
}

var pixCodeFields = []string{"pixCode", "prepayId", "qrContent", "qrCodeText", "code", "qrCode"}

// PixCode returns the first candidate field holding a copyable payment code
// rather than a URL.
func (o *OrderResult) PixCode() string {
	if o == nil {
		return ""
	}
	for _, field := range pixCodeFields {
		v, ok := o.Raw[field].(string)
		if !ok || v == "" {
			continue
		}
		if strings.HasPrefix(v, "http") {
			continue
		}
		return v
	}
	return ""
}

type OrderStatus struct {
	MerchantID      json.Number `json:"merchantId"`
	PrepayID        string      `json:"prepayId"`
	TransactionID   string      `json:"transactionId"`
	MerchantTradeNo string      `json:"merchantTradeNo"`
	Status          string      `json:"status"`
	Currency        string      `json:"currency"`
	OrderAmount     string      `json:"orderAmount"`
	OpenUserID      string      `json:"openUserId"`
	CreateTime      int64       `json:"createTime"`
	TransactTime    int64       `json:"transactTime"`
}

func (s *OrderStatus) Paid() bool { return s != nil && s.Status == OrderStatusPaid }

func decodeEnvelope(httpStatus int, body []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("binancepay: decode response: %w", err)
	}
	if env.Status != StatusSuccess {
		return nil, &APIError{HTTPStatus: httpStatus, Status: env.Status, Code: env.Code, Message: env.ErrorMessage}
	}
	return &env, nil
}

func decodeOrderResult(data json.RawMessage) (*OrderResult, error) {
	out := &OrderResult{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("binancepay: decode order: %w", err)
	}
	if err := json.Unmarshal(data, &out.Raw); err != nil {
		return nil, fmt.Errorf("binancepay: decode order: %w", err)
	}
	return out, nil
}
