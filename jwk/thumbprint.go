package jwk

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// Thumbprint computes the RFC 7638 JWK thumbprint: the required members for
// the key's kty, in strict lexicographic order, SHA-256'd and base64url
// (no padding) encoded.
//
// The member sets and their order are fixed by RFC 7638 §3.2/3.3:
//
//	RSA: e, kty, n
//	EC:  crv, kty, x, y
//	OKP: crv, kty, x
//
// Building the JSON by hand (rather than via encoding/json) guarantees this
// exact member order and the absence of incidental whitespace, which is
// what a generic marshaler cannot promise.
func Thumbprint(k *Key) (string, error) {
	members, err := minimalJSON(k)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(members))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

func minimalJSON(k *Key) (string, error) {
	raw := k.Raw()

	getStr := func(key string) (string, bool) {
		v, ok := raw.Get(key)
		if !ok {
			return "", false
		}
		switch val := v.(type) {
		case string:
			return val, true
		case []byte:
			return base64.RawURLEncoding.EncodeToString(val), true
		case fmt.Stringer:
			return val.String(), true
		default:
			return "", false
		}
	}

	switch k.KeyType() {
	case "RSA":
		e, ok1 := getStr("e")
		n, ok2 := getStr("n")
		if !ok1 || !ok2 {
			return "", fmt.Errorf("RSA jwk missing required thumbprint member")
		}
		return buildJSON("e", e, "kty", "RSA", "n", n), nil
	case "EC":
		crv, ok1 := getStr("crv")
		x, ok2 := getStr("x")
		y, ok3 := getStr("y")
		if !ok1 || !ok2 || !ok3 {
			return "", fmt.Errorf("EC jwk missing required thumbprint member")
		}
		return buildJSON("crv", crv, "kty", "EC", "x", x, "y", y), nil
	case "OKP":
		crv, ok1 := getStr("crv")
		x, ok2 := getStr("x")
		if !ok1 || !ok2 {
			return "", fmt.Errorf("OKP jwk missing required thumbprint member")
		}
		return buildJSON("crv", crv, "kty", "OKP", "x", x), nil
	default:
		return "", fmt.Errorf("unsupported key type for JWK thumbprint: %s", k.KeyType())
	}
}

// buildJSON assembles a JSON object literal from key/value pairs that must
// already be given in lexicographic key order.
func buildJSON(pairs ...string) string {
	var b strings.Builder
	b.WriteByte('{')
	for i := 0; i < len(pairs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(pairs[i])
		b.WriteString(`":"`)
		b.WriteString(pairs[i+1])
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
