// Package token decodes the compact JWS serialization and exposes a typed
// claim map, without performing any cryptographic verification (spec.md
// §4.1) or claim-semantic checks.
package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedToken is wrapped into every structural decode failure.
var ErrMalformedToken = errors.New("malformed token")

// maxTokenDots bounds the number of '.' characters accepted in a raw token
// before even attempting to split it, mitigating CVE-2025-27144 (excessive
// dot segments causing quadratic parsing cost). A well-formed compact JWS
// has exactly 2 dots; this count is a cheap early rejection before the
// split, and the split that follows still rejects anything other than
// exactly 3 parts.
const maxTokenDots = 5

// Decoded is a parsed-but-unverified compact JWS: header and body as
// generic JSON maps, the raw signature bytes, and the exact signing input
// (header_b64 + "." + body_b64) the verifier must hash.
type Decoded struct {
	Header       map[string]any
	Body         map[string]any
	Signature    []byte
	SigningInput []byte
	HeaderB64    string
	BodyB64      string
	SignatureB64 string
}

// Limits bounds the decoder's acceptance of an input token. The engine
// decodes every token with DefaultLimits, before the issuer is known;
// issuer.Config.Parser is not consulted.
type Limits struct {
	MaxTokenBytes int
}

// DefaultLimits matches the teacher's CVE-2025-27144 mitigation: a 1MB cap
// on total token size.
var DefaultLimits = Limits{MaxTokenBytes: 1024 * 1024}

// Decode parses raw into a Decoded view. It never verifies the signature.
func Decode(raw string, limits Limits) (*Decoded, error) {
	if limits.MaxTokenBytes > 0 && len(raw) > limits.MaxTokenBytes {
		return nil, fmt.Errorf("%w: token exceeds %d bytes", ErrMalformedToken, limits.MaxTokenBytes)
	}
	if strings.Count(raw, ".") > maxTokenDots {
		return nil, fmt.Errorf("%w: excessive dot segments", ErrMalformedToken)
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 dot-separated parts, got %d", ErrMalformedToken, len(parts))
	}
	headerB64, bodyB64, sigB64 := parts[0], parts[1], parts[2]

	headerBytes, err := base64.RawURLEncoding.DecodeString(headerB64)
	if err != nil {
		return nil, fmt.Errorf("%w: header is not valid base64url: %v", ErrMalformedToken, err)
	}
	bodyBytes, err := base64.RawURLEncoding.DecodeString(bodyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: body is not valid base64url: %v", ErrMalformedToken, err)
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not valid base64url: %v", ErrMalformedToken, err)
	}

	var header map[string]any
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("%w: header is not a JSON object: %v", ErrMalformedToken, err)
	}
	var body map[string]any
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		return nil, fmt.Errorf("%w: body is not a JSON object: %v", ErrMalformedToken, err)
	}

	return &Decoded{
		Header:       header,
		Body:         body,
		Signature:    sigBytes,
		SigningInput: []byte(headerB64 + "." + bodyB64),
		HeaderB64:    headerB64,
		BodyB64:      bodyB64,
		SignatureB64: sigB64,
	}, nil
}

// HeaderString returns header[key] as a string, or "" with ok=false if
// absent or not a string.
func (d *Decoded) HeaderString(key string) (string, bool) {
	v, ok := d.Header[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// HasHeader reports whether the header carries the given member at all,
// regardless of its type — used for the embedded-jwk CVE-2018-0114 check,
// where the member is a nested object rather than a string.
func (d *Decoded) HasHeader(key string) bool {
	_, ok := d.Header[key]
	return ok
}
