// Package authn checks static bearer tokens on merchant-facing endpoints.
package authn

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/httpx"
)

var ErrUnauthorized = errors.New("unauthorized")

// Tokens holds SHA-256 digests of the accepted tokens, never the tokens.
type Tokens struct {
	hashes [][]byte
}

func NewTokens(tokens ...string) *Tokens {
	t := &Tokens{}
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		sum := sha256.Sum256([]byte(tok))
		t.hashes = append(t.hashes, sum[:])
	}
	return t
}

// Enabled is false when no token was configured; Require then lets every
// request through.
func (t *Tokens) Enabled() bool { return t != nil && len(t.hashes) > 0 }

// Authenticate checks an Authorization header value.
func (t *Tokens) Authenticate(authorization string) error {
	token, ok := parseBearerToken(authorization)
	if !ok {
		return ErrUnauthorized
	}
	sum := sha256.Sum256([]byte(token))
	match := 0
	for _, h := range t.hashes {
		match |= subtle.ConstantTimeCompare(h, sum[:])
	}
	if match != 1 {
		return ErrUnauthorized
	}
	return nil
}

func (t *Tokens) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.Enabled() {
			if err := t.Authenticate(r.Header.Get("Authorization")); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="gateway"`)
				httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid bearer token", nil)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Fingerprint is a short, loggable identifier for a token.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])[:12]
}

func parseBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
