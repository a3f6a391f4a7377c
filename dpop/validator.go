// Package dpop validates RFC 9449 DPoP proofs: header/body/signature checks,
// jti replay protection, iat freshness, ath binding, and JWK-thumbprint
// binding against an access token's cnf.jkt claim (spec.md §4.8).
package dpop

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cuioss/OAuthSheriff/issuer"
	"github.com/cuioss/OAuthSheriff/jwk"
	"github.com/cuioss/OAuthSheriff/security"
	"github.com/cuioss/OAuthSheriff/token"
)

const (
	dpopHeaderName  = "dpop"
	dpopTyp         = "dpop+jwt"
	maxProofBytes   = 8 * 1024
	iatLowerSkew    = -60 * time.Second
)

// Failure carries the security event a DPoP check failed with, so callers
// can map it onto the engine's ValidationError taxonomy without string
// matching.
type Failure struct {
	Event   security.EventType
	Message string
}

func (f *Failure) Error() string { return f.Message }

func fail(event security.EventType, format string, args ...any) *Failure {
	return &Failure{Event: event, Message: fmt.Sprintf(format, args...)}
}

// ProofValidator validates DPoP proofs for one issuer's access tokens,
// sharing a single process-wide ReplayStore (RFC 9449 §11.1 requires jti
// uniqueness across issuers, not just within one).
type ProofValidator struct {
	cfg     issuer.DpopConfig
	allowed func(alg string) bool
	replay  *ReplayStore
	events  *security.Counter
}

// NewProofValidator constructs a ProofValidator. allowed reports whether an
// algorithm is acceptable for proof signatures (the issuer's asymmetric
// allowlist).
func NewProofValidator(cfg issuer.DpopConfig, allowed func(alg string) bool, replay *ReplayStore, events *security.Counter) *ProofValidator {
	return &ProofValidator{cfg: cfg, allowed: allowed, replay: replay, events: events}
}

// Headers is the lowercased HTTP header view the validator reads from,
// matching spec.md §4.8's "HTTP header map (lowercased names)" input.
type Headers map[string][]string

// Validate runs the full §4.8 algorithm. cnfJKT is the access token's
// cnf.jkt claim, if present; rawAccessToken is the original compact token
// string used to compute ath.
func (v *ProofValidator) Validate(headers Headers, cnfJKT string, hasCnfJKT bool, rawAccessToken string) error {
	proof, err := v.extractProofHeader(headers)
	if err != nil {
		return v.reject(err)
	}

	switch {
	case proof == "" && !v.cfg.Required && !hasCnfJKT:
		return nil // bearer mode, no DPoP binding in play
	case proof == "" && v.cfg.Required:
		if !hasCnfJKT {
			return v.reject(fail(security.EventDpopCnfMissing, "DPoP is required but access token does not carry cnf.jkt"))
		}
		return v.reject(fail(security.EventDpopProofMissing, "DPoP proof is required but the DPoP header is missing"))
	case proof == "" && hasCnfJKT:
		return v.reject(fail(security.EventDpopProofMissing, "access token is DPoP-bound but the DPoP header is missing"))
	case proof != "" && !hasCnfJKT:
		return v.reject(fail(security.EventDpopCnfMissing, "DPoP proof present but access token does not carry cnf.jkt"))
	}

	decoded, err := token.Decode(proof, token.Limits{MaxTokenBytes: maxProofBytes})
	if err != nil {
		return v.reject(fail(security.EventDpopProofInvalid, "malformed DPoP proof: %v", err))
	}

	if err := v.checkHeader(decoded); err != nil {
		return v.reject(err)
	}

	embeddedKey, err := v.embeddedKey(decoded)
	if err != nil {
		return v.reject(err)
	}

	alg, _ := decoded.HeaderString("alg")
	if err := jwk.Verify(embeddedKey, alg, decoded.SigningInput, decoded.Signature); err != nil {
		return v.reject(fail(security.EventDpopProofInvalid, "DPoP proof signature verification failed: %v", err))
	}

	if err := v.checkClaims(decoded, rawAccessToken); err != nil {
		return v.reject(err)
	}

	thumbprint, err := jwk.Thumbprint(embeddedKey)
	if err != nil {
		return v.reject(fail(security.EventDpopProofInvalid, "failed to compute DPoP proof JWK thumbprint: %v", err))
	}
	if thumbprint != cnfJKT {
		return v.reject(fail(security.EventDpopThumbprintMismatch,
			"DPoP proof JWK thumbprint %q does not match token cnf.jkt %q", thumbprint, cnfJKT))
	}

	return nil
}

func (v *ProofValidator) extractProofHeader(headers Headers) (string, error) {
	values := headers[dpopHeaderName]
	if len(values) == 0 {
		return "", nil
	}
	if len(values) > 1 {
		return "", fail(security.EventDpopProofInvalid, "multiple DPoP headers found; RFC 9449 requires exactly one")
	}
	proof := values[0]
	if len(proof) > maxProofBytes {
		return "", fail(security.EventDpopProofInvalid, "DPoP proof exceeds maximum size of %d bytes", maxProofBytes)
	}
	return proof, nil
}

func (v *ProofValidator) checkHeader(decoded *token.Decoded) error {
	typ, _ := decoded.HeaderString("typ")
	if !strings.EqualFold(typ, dpopTyp) {
		return fail(security.EventDpopProofInvalid, "DPoP proof typ must be %q but was %q", dpopTyp, typ)
	}

	alg, ok := decoded.HeaderString("alg")
	if !ok || !v.allowed(alg) {
		return fail(security.EventDpopProofInvalid, "DPoP proof algorithm %q is not supported", alg)
	}

	if !decoded.HasHeader("jwk") {
		return fail(security.EventDpopProofInvalid, "DPoP proof header is missing required jwk field")
	}
	return nil
}

func (v *ProofValidator) embeddedKey(decoded *token.Decoded) (*jwk.Key, error) {
	raw, ok := decoded.Header["jwk"]
	if !ok {
		return nil, fail(security.EventDpopProofInvalid, "DPoP proof header is missing required jwk field")
	}
	jwkMap, ok := raw.(map[string]any)
	if !ok {
		return nil, fail(security.EventDpopProofInvalid, "DPoP proof jwk header must be a JSON object")
	}
	jwkJSON, err := json.Marshal(jwkMap)
	if err != nil {
		return nil, fail(security.EventDpopProofInvalid, "failed to re-marshal DPoP proof jwk header: %v", err)
	}
	key, err := jwk.ParseFromJSON(jwkJSON)
	if err != nil {
		return nil, fail(security.EventDpopProofInvalid, "failed to parse DPoP proof jwk header: %v", err)
	}
	return key, nil
}

func (v *ProofValidator) checkClaims(decoded *token.Decoded, rawAccessToken string) error {
	jti, _ := decoded.Body["jti"].(string)
	if jti == "" {
		return fail(security.EventDpopProofInvalid, "DPoP proof is missing required claim: jti")
	}
	if !v.replay.CheckAndStore(jti) {
		return fail(security.EventDpopReplayDetected, "DPoP proof replay detected for jti %q", jti)
	}

	iat, ok := numericClaim(decoded.Body["iat"])
	if !ok {
		return fail(security.EventDpopProofInvalid, "DPoP proof is missing required claim: iat")
	}
	age := time.Since(time.Unix(iat, 0))
	maxAge := v.cfg.ProofMaxAge
	if age < iatLowerSkew || age > maxAge {
		return fail(security.EventDpopProofExpired, "DPoP proof iat is outside the acceptable freshness window")
	}

	ath, _ := decoded.Body["ath"].(string)
	if ath == "" {
		return fail(security.EventDpopProofInvalid, "DPoP proof is missing required claim: ath")
	}
	if expected := accessTokenHash(rawAccessToken); expected != ath {
		return fail(security.EventDpopAthMismatch, "DPoP proof ath does not match the access token hash")
	}
	return nil
}

func numericClaim(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func accessTokenHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (v *ProofValidator) reject(err error) error {
	if f, ok := err.(*Failure); ok {
		v.events.Increment(f.Event)
	}
	return err
}
