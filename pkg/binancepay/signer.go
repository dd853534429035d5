package binancepay

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderTimestamp     = "BinancePay-Timestamp"
	HeaderNonce         = "BinancePay-Nonce"
	HeaderSignature     = "BinancePay-Signature"
	HeaderCertificateSN = "BinancePay-Certificate-SN"

	NonceLength     = 32
	SignatureLength = sha512.Size * 2

	nonceAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	ErrMissingSecret        = errors.New("binancepay: secret key is empty")
	ErrMissingCertificateSN = errors.New("binancepay: certificate serial number is empty")
)

// SigningContext is the per-message input to the signature. It is never reused
// across messages; build a new one (and so a new nonce) for every request.
type SigningContext struct {
	timestampMillis int64
	nonce           string
	payload         []byte
}

// NewSigningContext stamps payload with now and a fresh random nonce.
func NewSigningContext(now time.Time, payload []byte) (SigningContext, error) {
	nonce, err := NewNonce()
	if err != nil {
		return SigningContext{}, err
	}
	return SigningContextOf(now.UnixMilli(), nonce, payload), nil
}

// SigningContextOf wraps values received from a peer, e.g. webhook headers.
func SigningContextOf(timestampMillis int64, nonce string, payload []byte) SigningContext {
	p := make([]byte, len(payload))
	copy(p, payload)
	return SigningContext{timestampMillis: timestampMillis, nonce: nonce, payload: p}
}

func (s SigningContext) TimestampMillis() int64 { return s.timestampMillis }

func (s SigningContext) Nonce() string { return s.nonce }

func (s SigningContext) Payload() []byte {
	p := make([]byte, len(s.payload))
	copy(p, s.payload)
	return p
}

func (s SigningContext) Sign(secret string) string {
	return Sign(s.timestampMillis, s.nonce, s.payload, secret)
}

func (s SigningContext) Verify(secret, received string) bool {
	return Verify(s.timestampMillis, s.nonce, s.payload, secret, received)
}

// NewNonce returns NonceLength characters drawn uniformly from [a-zA-Z0-9].
func NewNonce() (string, error) {
	var b strings.Builder
	b.Grow(NonceLength)
	max := big.NewInt(int64(len(nonceAlphabet)))
	for i := 0; i < NonceLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("binancepay: generate nonce: %w", err)
		}
		b.WriteByte(nonceAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func ValidNonce(nonce string) bool {
	if len(nonce) != NonceLength {
		return false
	}
	for i := 0; i < len(nonce); i++ {
		if strings.IndexByte(nonceAlphabet, nonce[i]) < 0 {
			return false
		}
	}
	return true
}

// Sign returns the uppercase hex HMAC-SHA512 of
// timestamp "\n" nonce "\n" payload "\n" keyed by secret.
func Sign(timestampMillis int64, nonce string, payload []byte, secret string) string {
	return strings.ToUpper(hex.EncodeToString(mac(strconv.FormatInt(timestampMillis, 10), nonce, payload, secret)))
}

// Verify reports whether received is the signature of the given inputs.
// Malformed input of any kind is a mismatch, never an error.
func Verify(timestampMillis int64, nonce string, payload []byte, secret, received string) bool {
	if secret == "" || timestampMillis <= 0 || !ValidNonce(nonce) {
		return false
	}
	if len(received) != SignatureLength {
		return false
	}
	got, err := hex.DecodeString(received)
	if err != nil {
		return false
	}
	expected := mac(strconv.FormatInt(timestampMillis, 10), nonce, payload, secret)
	return hmac.Equal(expected, got)
}

func mac(timestamp, nonce string, payload []byte, secret string) []byte {
	m := hmac.New(sha512.New, []byte(secret))
	_, _ = m.Write([]byte(timestamp))
	_, _ = m.Write([]byte{'\n'})
	_, _ = m.Write([]byte(nonce))
	_, _ = m.Write([]byte{'\n'})
	_, _ = m.Write(payload)
	_, _ = m.Write([]byte{'\n'})
	return m.Sum(nil)
}

// ParseTimestamp accepts only the canonical decimal form, so that the string
// re-derived for verification is byte-identical to the one the peer signed.
func ParseTimestamp(raw string) (int64, bool) {
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ts <= 0 {
		return 0, false
	}
	if strconv.FormatInt(ts, 10) != raw {
		return 0, false
	}
	return ts, true
}
