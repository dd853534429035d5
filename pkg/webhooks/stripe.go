package webhooks

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	stripeSignatureHeader  = "Stripe-Signature"
	stripeScheme           = "stripe-v1"
	DefaultStripeTolerance = 300 * time.Second
)

type stripeVerifier struct {
	tolerance time.Duration
}

// NewStripeVerifier checks Stripe-Signature v1 headers. The timestamp window
// is measured against receivedAt rather than the wall clock.
func NewStripeVerifier(tolerance time.Duration) Verifier {
	return &stripeVerifier{tolerance: tolerance}
}

func (v *stripeVerifier) Provider() string { return "stripe" }

func (v *stripeVerifier) Verify(headers http.Header, rawBody []byte, receivedAt time.Time, secret string) (VerificationResult, error) {
	if strings.TrimSpace(secret) == "" {
		return VerificationResult{}, ErrEmptySecret
	}
	header := strings.TrimSpace(strings.Join(headers.Values(stripeSignatureHeader), ","))
	res := VerificationResult{
		Scheme:    stripeScheme,
		EventType: "unknown",
		Details: map[string]any{
			"signature_header_present": header != "",
			"tolerance_seconds":        int64(v.tolerance / time.Second),
		},
	}
	if header == "" {
		res.Reason = ReasonMissingHeaders
		return res, nil
	}

	ts, ok := stripeTimestamp(header)
	if !ok {
		res.Reason = ReasonBadTimestamp
		return res, nil
	}
	res.Details["parsed_timestamp"] = ts
	d := skew(receivedAt, time.Unix(ts, 0))
	res.Details["skew_seconds"] = int64(d / time.Second)

	if err := webhook.ValidatePayloadIgnoringTolerance(rawBody, header, secret); err != nil {
		switch {
		case errors.Is(err, webhook.ErrNoValidSignature):
			res.Reason = ReasonSignatureMismatch
		default:
			res.Reason = ReasonMalformedSignature
		}
		return res, nil
	}
	if v.tolerance > 0 && d > v.tolerance {
		res.Reason = ReasonOutsideTolerance
		return res, nil
	}

	res.Valid = true
	var evt stripe.Event
	if err := json.Unmarshal(rawBody, &evt); err == nil {
		res.ProviderEventID = strings.TrimSpace(evt.ID)
		if t := strings.TrimSpace(string(evt.Type)); t != "" {
			res.EventType = t
		}
	}
	return res, nil
}

func stripeTimestamp(header string) (int64, bool) {
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.TrimSpace(k) != "t" {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil || ts <= 0 {
			return 0, false
		}
		return ts, true
	}
	return 0, false
}
