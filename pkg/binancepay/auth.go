package binancepay

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Auth signs outbound merchant API requests.
type Auth struct {
	CertificateSN string
	Secret        string
	Now           func() time.Time
}

func (a Auth) Validate() error {
	if strings.TrimSpace(a.CertificateSN) == "" {
		return ErrMissingCertificateSN
	}
	if strings.TrimSpace(a.Secret) == "" {
		return ErrMissingSecret
	}
	return nil
}

// Apply stamps req with a fresh signing context for body. It must be called
// once per attempt; a retried request gets a new nonce and timestamp.
func (a Auth) Apply(req *http.Request, body []byte) error {
	if err := a.Validate(); err != nil {
		return err
	}
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}
	sc, err := NewSigningContext(now, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(sc.TimestampMillis(), 10))
	req.Header.Set(HeaderNonce, sc.Nonce())
	req.Header.Set(HeaderCertificateSN, a.CertificateSN)
	req.Header.Set(HeaderSignature, sc.Sign(a.Secret))
	return nil
}
