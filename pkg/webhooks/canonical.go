package webhooks

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// Digests fingerprint a delivery so a receipt can prove what was received
// without storing the signature material itself.
type Digests struct {
	HeadersJSON []byte
	BodySHA     string
	HeadersSHA  string
	RequestSHA  string
}

var redactedHeaders = map[string]bool{
	"binancepay-signature": true,
	"stripe-signature":     true,
	"authorization":        true,
	"cookie":               true,
}

// CanonicalHeaders renders h as JSON with lowercase keys and sorted values.
// Signature and credential headers are reduced to a presence marker.
func CanonicalHeaders(h http.Header) ([]byte, error) {
	canonical := make(map[string][]string, len(h))
	for k, vs := range h {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		if redactedHeaders[key] {
			canonical[key] = []string{"<redacted>"}
			continue
		}
		values := canonical[key]
		for _, v := range vs {
			values = append(values, strings.TrimSpace(v))
		}
		sort.Strings(values)
		canonical[key] = values
	}

	keys := make([]string, 0, len(canonical))
	for k := range canonical {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := marshalRaw(k)
		if err != nil {
			return nil, err
		}
		vb, err := marshalRaw(canonical[k])
		if err != nil {
			return nil, err
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// marshalRaw encodes v without HTML escaping so markers like <redacted>
// stay readable in stored receipts.
func marshalRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

func Digest(method, path string, h http.Header, rawBody []byte) (Digests, error) {
	headersJSON, err := CanonicalHeaders(h)
	if err != nil {
		return Digests{}, err
	}
	var envelope bytes.Buffer
	envelope.Grow(len(method) + len(path) + len(headersJSON) + len(rawBody) + 3)
	envelope.WriteString(method)
	envelope.WriteByte('\n')
	envelope.WriteString(path)
	envelope.WriteByte('\n')
	envelope.Write(headersJSON)
	envelope.WriteByte('\n')
	envelope.Write(rawBody)
	return Digests{
		HeadersJSON: headersJSON,
		BodySHA:     sha256Hex(rawBody),
		HeadersSHA:  sha256Hex(headersJSON),
		RequestSHA:  sha256Hex(envelope.Bytes()),
	}, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
