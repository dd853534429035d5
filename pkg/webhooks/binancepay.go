package webhooks

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/binancepay"
)

const binancePayScheme = "binancepay-hmac-sha512"

type binancePayVerifier struct {
	certificateSN string
	tolerance     time.Duration
}

// NewBinancePayVerifier accepts deliveries signed for certificateSN only. A
// zero tolerance disables the timestamp window check.
func NewBinancePayVerifier(certificateSN string, tolerance time.Duration) Verifier {
	return &binancePayVerifier{certificateSN: strings.TrimSpace(certificateSN), tolerance: tolerance}
}

func (v *binancePayVerifier) Provider() string { return "binancepay" }

func (v *binancePayVerifier) Verify(headers http.Header, rawBody []byte, receivedAt time.Time, secret string) (VerificationResult, error) {
	if strings.TrimSpace(secret) == "" || v.certificateSN == "" {
		return VerificationResult{}, ErrEmptySecret
	}

	rawTS := headers.Get(binancepay.HeaderTimestamp)
	nonce := headers.Get(binancepay.HeaderNonce)
	sig := headers.Get(binancepay.HeaderSignature)
	certSN := headers.Get(binancepay.HeaderCertificateSN)

	res := VerificationResult{
		Scheme: binancePayScheme,
		Nonce:  nonce,
		Details: map[string]any{
			"timestamp_present":      rawTS != "",
			"nonce_present":          nonce != "",
			"signature_present":      sig != "",
			"certificate_sn_present": certSN != "",
		},
		EventType: "unknown",
	}
	if rawTS == "" || nonce == "" || sig == "" || certSN == "" {
		res.Reason = ReasonMissingHeaders
		return res, nil
	}
	if subtle.ConstantTimeCompare([]byte(certSN), []byte(v.certificateSN)) != 1 {
		res.Reason = ReasonUnknownKey
		return res, nil
	}

	ts, ok := binancepay.ParseTimestamp(rawTS)
	if !ok {
		res.Reason = ReasonBadTimestamp
		return res, nil
	}
	res.Details["timestamp_ms"] = ts
	if v.tolerance > 0 {
		d := skew(receivedAt, time.UnixMilli(ts))
		res.Details["skew_ms"] = d.Milliseconds()
		if d > v.tolerance {
			res.Reason = ReasonOutsideTolerance
			return res, nil
		}
	}
	if !binancepay.ValidNonce(nonce) || len(sig) != binancepay.SignatureLength {
		res.Reason = ReasonMalformedSignature
		return res, nil
	}
	if !binancepay.Verify(ts, nonce, rawBody, secret, sig) {
		res.Reason = ReasonSignatureMismatch
		return res, nil
	}

	res.Valid = true
	if n, err := binancepay.ParseNotification(rawBody); err == nil {
		res.ProviderEventID = n.EventID()
		if n.BizType != "" {
			res.EventType = n.BizType
		}
		res.Details["biz_status"] = n.BizStatus
		res.Details["merchant_trade_no"] = n.MerchantTradeNo
	}
	return res, nil
}
