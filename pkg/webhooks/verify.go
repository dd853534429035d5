package webhooks

import (
	"errors"
	"net/http"
	"time"
)

var ErrEmptySecret = errors.New("webhook verifier secret is empty")

// Reason explains why a delivery did not verify. It is for logs and receipts
// only and is never echoed to the sender.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonMissingHeaders     Reason = "missing_headers"
	ReasonUnknownKey         Reason = "unknown_key"
	ReasonBadTimestamp       Reason = "bad_timestamp"
	ReasonOutsideTolerance   Reason = "outside_tolerance"
	ReasonSignatureMismatch  Reason = "signature_mismatch"
	ReasonMalformedSignature Reason = "malformed_signature"
)

type VerificationResult struct {
	Valid           bool           `json:"valid"`
	Scheme          string         `json:"scheme"`
	Reason          Reason         `json:"reason,omitempty"`
	Details         map[string]any `json:"details"`
	ProviderEventID string         `json:"provider_event_id,omitempty"`
	EventType       string         `json:"event_type,omitempty"`
	// Nonce is the sender's per-message nonce when the scheme has one.
	Nonce string `json:"nonce,omitempty"`
}

type Verifier interface {
	Provider() string
	Verify(headers http.Header, rawBody []byte, receivedAt time.Time, secret string) (VerificationResult, error)
}

func skew(receivedAt, sentAt time.Time) time.Duration {
	d := receivedAt.Sub(sentAt)
	if d < 0 {
		d = -d
	}
	return d
}
