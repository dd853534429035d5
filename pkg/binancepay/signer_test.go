package binancepay

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
	"testing"
	"time"
)

const (
	goldenSecret = "k"
	goldenTS     = int64(1700000000000)
	goldenNonce  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ012345"
	goldenSig    = "222F19B35E40347FAB36B462379AB4CA1B2C139E44FAAB126662F4C973A61A8503302EDEEDA2B288251B820C540CAA320261E7AE25606C4EF81F3BB41450B49D"
	emptyObjSig  = "BD0B0375D7280D7CEFA6E6A623F53C6E9852E0B8CC2B2D1E316C94327DD9AB36394D0CDE3AB06C09F3C45EF36C6C8D5F19245F8E7B5C89B55088801582D00119"
)

func TestSignGoldenVector(t *testing.T) {
	got := Sign(goldenTS, goldenNonce, []byte(`{"a":1}`), goldenSecret)
	if got != goldenSig {
		t.Fatalf("signature mismatch\n got %s\nwant %s", got, goldenSig)
	}
	if len(got) != SignatureLength {
		t.Fatalf("expected %d chars, got %d", SignatureLength, len(got))
	}
	if got != strings.ToUpper(got) {
		t.Fatalf("expected uppercase hex")
	}
}

func TestSignEmptyObjectPayload(t *testing.T) {
	if got := Sign(goldenTS, goldenNonce, []byte(`{}`), goldenSecret); got != emptyObjSig {
		t.Fatalf("unexpected signature for {}: %s", got)
	}
}

func TestSignIsDeterministic(t *testing.T) {
	payload := []byte(`{"merchantTradeNo":"ORDER1","orderAmount":"10.00"}`)
	a := Sign(goldenTS, goldenNonce, payload, "secret")
	b := Sign(goldenTS, goldenNonce, payload, "secret")
	if a != b {
		t.Fatalf("expected identical signatures, got %s and %s", a, b)
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	payloads := [][]byte{nil, []byte(`{}`), []byte(`{"a":1}`), []byte("line1\nline2"), []byte(strings.Repeat("x", 4096))}
	for _, p := range payloads {
		sc, err := NewSigningContext(time.UnixMilli(goldenTS), p)
		if err != nil {
			t.Fatalf("new signing context: %v", err)
		}
		sig := sc.Sign("secret")
		if !sc.Verify("secret", sig) {
			t.Fatalf("round trip failed for payload %q", p)
		}
		if !Verify(sc.TimestampMillis(), sc.Nonce(), p, "secret", strings.ToLower(sig)) {
			t.Fatalf("lowercase hex of a valid signature should verify")
		}
	}
}

func TestVerifyRejectsEveryAlteredByte(t *testing.T) {
	payload := []byte(`{"a":1}`)
	for i := 0; i < len(goldenSig); i++ {
		b := []byte(goldenSig)
		if b[i] == '0' {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
		if Verify(goldenTS, goldenNonce, payload, goldenSecret, string(b)) {
			t.Fatalf("altered signature at %d verified", i)
		}
	}
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	payload := []byte(`{"a":1}`)
	cases := map[string]func() bool{
		"empty secret":    func() bool { return Verify(goldenTS, goldenNonce, payload, "", goldenSig) },
		"wrong secret":    func() bool { return Verify(goldenTS, goldenNonce, payload, "K", goldenSig) },
		"short signature": func() bool { return Verify(goldenTS, goldenNonce, payload, goldenSecret, goldenSig[:64]) },
		"non hex":         func() bool { return Verify(goldenTS, goldenNonce, payload, goldenSecret, strings.Repeat("Z", 128)) },
		"empty signature": func() bool { return Verify(goldenTS, goldenNonce, payload, goldenSecret, "") },
		"bad nonce":       func() bool { return Verify(goldenTS, "short", payload, goldenSecret, goldenSig) },
		"zero timestamp":  func() bool { return Verify(0, goldenNonce, payload, goldenSecret, goldenSig) },
		"other payload":   func() bool { return Verify(goldenTS, goldenNonce, []byte(`{"a":2}`), goldenSecret, goldenSig) },
		"other timestamp": func() bool { return Verify(goldenTS+1, goldenNonce, payload, goldenSecret, goldenSig) },
	}
	for name, fn := range cases {
		if fn() {
			t.Fatalf("%s: expected verify=false", name)
		}
	}
}

// The comparison in Verify must go through hmac.Equal so its cost does not
// depend on where two signatures first differ.
func TestVerifyUsesConstantTimeCompare(t *testing.T) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "signer.go", nil, 0)
	if err != nil {
		t.Fatalf("parse signer.go: %v", err)
	}
	var usesEqual bool
	ast.Inspect(f, func(n ast.Node) bool {
		fn, ok := n.(*ast.FuncDecl)
		if !ok || fn.Name.Name != "Verify" || fn.Recv != nil {
			return true
		}
		ast.Inspect(fn.Body, func(n ast.Node) bool {
			sel, ok := n.(*ast.SelectorExpr)
			if ok {
				if x, ok := sel.X.(*ast.Ident); ok && x.Name == "hmac" && sel.Sel.Name == "Equal" {
					usesEqual = true
				}
			}
			if bin, ok := n.(*ast.BinaryExpr); ok && bin.Op == token.EQL {
				if id, ok := bin.X.(*ast.Ident); ok && (id.Name == "expected" || id.Name == "got") {
					t.Fatalf("Verify compares signatures with ==")
				}
			}
			return true
		})
		return false
	})
	if !usesEqual {
		t.Fatalf("Verify does not call hmac.Equal")
	}
}

func TestNewNonce(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		n, err := NewNonce()
		if err != nil {
			t.Fatalf("nonce: %v", err)
		}
		if !ValidNonce(n) {
			t.Fatalf("invalid nonce %q", n)
		}
		if seen[n] {
			t.Fatalf("duplicate nonce %q", n)
		}
		seen[n] = true
	}
}

func TestValidNonce(t *testing.T) {
	if !ValidNonce(goldenNonce) {
		t.Fatalf("golden nonce should be valid")
	}
	for _, bad := range []string{"", "abc", goldenNonce + "A", "ABCDEFGHIJKLMNOPQRSTUVWXYZ01234-"} {
		if ValidNonce(bad) {
			t.Fatalf("expected %q to be invalid", bad)
		}
	}
}

func TestSigningContextCopiesPayload(t *testing.T) {
	p := []byte(`{"a":1}`)
	sc := SigningContextOf(goldenTS, goldenNonce, p)
	p[1] = 'X'
	if got := sc.Sign(goldenSecret); got != goldenSig {
		t.Fatalf("signing context should not observe caller mutation")
	}
	out := sc.Payload()
	out[0] = 'X'
	if string(sc.Payload()) != `{"a":1}` {
		t.Fatalf("payload accessor leaked internal slice")
	}
}

func TestParseTimestamp(t *testing.T) {
	if ts, ok := ParseTimestamp("1700000000000"); !ok || ts != goldenTS {
		t.Fatalf("expected canonical timestamp to parse, got %d %v", ts, ok)
	}
	for _, raw := range []string{"", "0", "-1", "01700000000000", "+1700000000000", " 1700000000000", "17e11"} {
		if _, ok := ParseTimestamp(raw); ok {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}
