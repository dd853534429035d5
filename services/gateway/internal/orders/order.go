package orders

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusOnHold    Status = "on-hold"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Open reports whether the order still waits for a payment.
func (s Status) Open() bool { return s == StatusPending || s == StatusOnHold }

var (
	ErrNotFound       = errors.New("order not found")
	ErrInvalidOrder   = errors.New("invalid order")
	ErrUnlicensed     = errors.New("payment gateway is not licensed")
	ErrPixUnavailable = errors.New("pix code not available")
)

type Order struct {
	ID              string          `json:"id"`
	MerchantTradeNo string          `json:"merchant_trade_no"`
	Amount          string          `json:"amount"`
	Currency        string          `json:"currency"`
	Description     string          `json:"description,omitempty"`
	Status          Status          `json:"status"`
	PrepayID        string          `json:"prepay_id,omitempty"`
	CheckoutURL     string          `json:"checkout_url,omitempty"`
	QRCodeLink      string          `json:"qr_code,omitempty"`
	PixCode         string          `json:"pix_code,omitempty"`
	TimeoutMinutes  int             `json:"timeout_minutes"`
	Notification    json.RawMessage `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
}

// ExpiresAt is the moment an unpaid order is canceled. Stored timeouts under
// five minutes fall back to defaultMinutes.
func (o *Order) ExpiresAt(defaultMinutes int) time.Time {
	m := o.TimeoutMinutes
	if m < 5 {
		m = defaultMinutes
	}
	return o.CreatedAt.Add(time.Duration(m) * time.Minute)
}

// StatusView is what the checkout page polls.
type StatusView struct {
	Paid    bool   `json:"paid"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

var statusMessages = map[Status]string{
	StatusCancelled: "The payment was cancelled.",
	StatusFailed:    "The payment failed.",
	StatusRefunded:  "The payment was refunded.",
}

func (o *Order) View() StatusView {
	return StatusView{Paid: o.Status == StatusPaid, Status: o.Status, Message: statusMessages[o.Status]}
}

type PixView struct {
	PixCode string `json:"pix_code"`
	IsURL   bool   `json:"is_url,omitempty"`
}

// Pix returns the copyable code, falling back to the hosted checkout URL.
func (o *Order) Pix() (PixView, error) {
	if o.PixCode != "" {
		return PixView{PixCode: o.PixCode}, nil
	}
	if o.CheckoutURL != "" {
		return PixView{PixCode: o.CheckoutURL, IsURL: true}, nil
	}
	return PixView{}, ErrPixUnavailable
}
