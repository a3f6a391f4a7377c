// Package pipeline orchestrates decode → issuer resolution → header check →
// signature verification → claim validation → DPoP check → cache store for
// each token kind the engine validates (spec.md §4.2).
package pipeline

import (
	"fmt"
	"strings"

	"github.com/cuioss/OAuthSheriff/apierror"
	"github.com/cuioss/OAuthSheriff/issuer"
	"github.com/cuioss/OAuthSheriff/security"
	"github.com/cuioss/OAuthSheriff/token"
)

// HeaderValidator checks a decoded token's JOSE header against an issuer's
// configuration, in the fixed order spec.md §4.3 requires: alg → kid →
// embedded-jwk → typ. Grounded on TokenHeaderValidator.java's
// validateAlgorithm/validateKeyId/validateNoEmbeddedJwk/validateTokenType
// sequence.
type HeaderValidator struct {
	events *security.Counter
}

// NewHeaderValidator constructs a HeaderValidator reporting through events.
func NewHeaderValidator(events *security.Counter) *HeaderValidator {
	return &HeaderValidator{events: events}
}

// Validate runs the ordered header checks for cfg against decoded.
func (h *HeaderValidator) Validate(cfg *issuer.Config, decoded *token.Decoded) error {
	alg, ok := decoded.HeaderString("alg")
	if !ok || alg == "" {
		h.events.Increment(security.EventMissingClaim)
		return apierror.MissingClaim("alg")
	}
	if !cfg.AlgorithmAllowed(alg) {
		h.events.Increment(security.EventUnsupportedAlgorithm)
		return apierror.New(apierror.CodeUnsupportedAlgorithm,
			fmt.Sprintf("unsupported algorithm %q", alg), nil)
	}

	if _, ok := decoded.HeaderString("kid"); !ok {
		h.events.Increment(security.EventMissingClaim)
		return apierror.New(apierror.CodeMissingClaim,
			"missing required key ID (kid) claim in token header: "+observedHeaders(decoded), nil)
	}

	if decoded.HasHeader("jwk") {
		h.events.Increment(security.EventEmbeddedJwkForbidden)
		return apierror.New(apierror.CodeEmbeddedJwkForbidden,
			"embedded jwk header is not allowed", nil)
	}

	if cfg.ExpectedTokenType != "" {
		typ, _ := decoded.HeaderString("typ")
		if !strings.EqualFold(typ, cfg.ExpectedTokenType) {
			h.events.Increment(security.EventTokenTypeMismatch)
			return apierror.New(apierror.CodeTokenTypeMismatch,
				fmt.Sprintf("token type %q does not match expected type %q", typ, cfg.ExpectedTokenType), nil)
		}
	}

	return nil
}

// observedHeaders builds a short diagnostic listing of the header members
// actually present, for the kid-missing error message.
func observedHeaders(decoded *token.Decoded) string {
	var b strings.Builder
	b.WriteString("available header claims:")
	found := false
	for _, name := range []string{"alg", "kid", "typ"} {
		if v, ok := decoded.HeaderString(name); ok {
			if found {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, " %s=%s", name, v)
			found = true
		}
	}
	if !found {
		b.WriteString(" none")
	}
	return b.String()
}
