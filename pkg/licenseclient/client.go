// Package licenseclient checks a plugin license against the license server
// through a resilient.Client, so an unreachable server degrades to the last
// known verdict instead of disabling payments.
package licenseclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/resilient"
)

const (
	DefaultProduct     = "binance-pix"
	DefaultFastPathTTL = 2 * time.Hour
	ValidatePath       = "/api/validate"
)

var ErrMissingCredentials = errors.New("licenseclient: email and license key are required")

type Credentials struct {
	Email      string
	LicenseKey string
	Domain     string
	Product    string
	PluginSlug string
}

func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.Email) != "" && strings.TrimSpace(c.LicenseKey) != ""
}

// CacheKey identifies the verdict slot for these credentials. The raw key
// never leaves the process in a store key.
func (c Credentials) CacheKey() string {
	h := sha256.New()
	for _, part := range []string{c.Email, c.LicenseKey, c.Domain, c.product()} {
		h.Write([]byte(strings.ToLower(strings.TrimSpace(part))))
		h.Write([]byte{0})
	}
	return "license:" + hex.EncodeToString(h.Sum(nil))[:32]
}

func (c Credentials) product() string {
	if p := strings.TrimSpace(c.Product); p != "" {
		return p
	}
	return DefaultProduct
}

type LicenseData struct {
	Plan           string     `json:"plan"`
	Active         bool       `json:"active"`
	TrialExpiresAt *time.Time `json:"trialExpiresAt"`
	PlanExpiresAt  *time.Time `json:"planExpiresAt"`
}

type validateRequest struct {
	Email      string `json:"email"`
	LicenseKey string `json:"license_key"`
	Domain     string `json:"domain"`
	Product    string `json:"product"`
	PluginSlug string `json:"plugin_slug"`
}

type validateResponse struct {
	Success *bool        `json:"success"`
	Message string       `json:"message"`
	Error   string       `json:"error"`
	Data    *LicenseData `json:"data"`
}

// Verdict is a resilient.Result plus whatever the server said about the
// license. Message and Data are empty when the answer came from cache.
type Verdict struct {
	resilient.Result
	Message string
	Data    *LicenseData
}

type Client struct {
	endpoint string
	rc       *resilient.Client
}

func NewClient(baseURL string, rc *resilient.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("licenseclient: invalid server url %q", baseURL)
	}
	if rc == nil {
		return nil, errors.New("licenseclient: nil resilient client")
	}
	return &Client{endpoint: strings.TrimRight(u.String(), "/") + ValidatePath, rc: rc}, nil
}

func (c *Client) Validate(ctx context.Context, creds Credentials) (Verdict, error) {
	if !creds.Complete() {
		return Verdict{}, ErrMissingCredentials
	}
	body, err := json.Marshal(validateRequest{
		Email:      strings.TrimSpace(creds.Email),
		LicenseKey: strings.TrimSpace(creds.LicenseKey),
		Domain:     NormalizeDomain(creds.Domain),
		Product:    creds.product(),
		PluginSlug: strings.TrimSpace(creds.PluginSlug),
	})
	if err != nil {
		return Verdict{}, err
	}

	var decoded validateResponse
	res, err := c.rc.Verify(ctx, creds.CacheKey(),
		func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json")
			return req, nil
		},
		func(resp *resilient.Response) (bool, error) {
			if err := json.Unmarshal(resp.Body, &decoded); err != nil {
				return false, fmt.Errorf("decode validate response: %w", err)
			}
			if decoded.Success == nil {
				return false, errors.New("validate response has no success flag")
			}
			return *decoded.Success, nil
		},
	)
	if err != nil {
		return Verdict{}, err
	}

	v := Verdict{Result: res}
	switch {
	case res.Succeeded():
		v.Message = firstNonEmpty(decoded.Message, decoded.Error)
		v.Data = decoded.Data
	case res.Failed() && res.Response != nil:
		// 4xx answers from the server carry a reason worth showing.
		var rejected validateResponse
		if json.Unmarshal(res.Response.Body, &rejected) == nil {
			v.Message = firstNonEmpty(rejected.Error, rejected.Message)
		}
	}
	return v, nil
}

// NormalizeDomain reduces a site URL or host to a bare lowercase host without
// port, which is what the server binds licenses to.
func NormalizeDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	return strings.TrimSuffix(s, ".")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
