package pipeline

import (
	"fmt"
	"time"

	"github.com/cuioss/OAuthSheriff/apierror"
	"github.com/cuioss/OAuthSheriff/issuer"
	"github.com/cuioss/OAuthSheriff/security"
	"github.com/cuioss/OAuthSheriff/token"
)

// ClaimValidator checks a decoded token's registered claims against an
// issuer's configuration and applies the process-wide claim-mapper registry,
// in the order sub → exp → nbf → iat → aud → azp → nonce, followed by mapper
// application (spec.md §4.7). Grounded on validator.go's
// validateClaimsWithLeeway leeway-comparison idiom, adapted from jwt.Claims
// to ClaimMap.
type ClaimValidator struct {
	events  *security.Counter
	mappers *token.Registry
	now     func() time.Time
}

// NewClaimValidator constructs a ClaimValidator. mappers may be nil.
func NewClaimValidator(events *security.Counter, mappers *token.Registry) *ClaimValidator {
	return &ClaimValidator{events: events, mappers: mappers, now: time.Now}
}

// ExpectedNonce carries the nonce an identity-token pipeline invocation
// expects, when applicable (spec.md §4.6's identity-token variant).
type ExpectedNonce struct {
	Value    string
	Required bool
}

// Validate runs the ordered claim checks for cfg against claims, then
// applies the mapper registry in place. nonce is the zero value for token
// kinds that don't carry one (access, refresh).
func (v *ClaimValidator) Validate(cfg *issuer.Config, claims token.ClaimMap, nonce ExpectedNonce) error {
	now := v.now()
	skew := cfg.ClockSkew

	if err := v.checkSubject(claims); err != nil {
		return err
	}
	if err := v.checkExpiry(claims, now, skew); err != nil {
		return err
	}
	if err := v.checkNotBefore(claims, now, skew); err != nil {
		return err
	}
	if err := v.checkIssuedAt(cfg, claims, now, skew); err != nil {
		return err
	}

	multiAudience, err := v.checkAudience(cfg, claims)
	if err != nil {
		return err
	}
	if err := v.checkAZP(cfg, claims, multiAudience); err != nil {
		return err
	}
	if err := v.checkNonce(claims, nonce); err != nil {
		return err
	}

	if v.mappers != nil {
		if err := v.mappers.Apply(claims); err != nil {
			v.events.Increment(security.EventClaimMappingFailed)
			return apierror.New(apierror.CodeClaimMappingFailed, "claim mapper failed", err)
		}
	}
	return nil
}

func (v *ClaimValidator) checkSubject(claims token.ClaimMap) error {
	cv, ok := claims.Get("sub")
	if !ok || cv.Kind != token.KindString || cv.String == "" {
		v.events.Increment(security.EventMissingClaim)
		return apierror.MissingClaim("sub")
	}
	return nil
}

func (v *ClaimValidator) checkExpiry(claims token.ClaimMap, now time.Time, skew time.Duration) error {
	cv, ok := claims.Get("exp")
	if !ok || cv.Kind != token.KindTime {
		v.events.Increment(security.EventMissingClaim)
		return apierror.MissingClaim("exp")
	}
	if now.Add(-skew).After(cv.Time) {
		v.events.Increment(security.EventExpired)
		return apierror.New(apierror.CodeExpired,
			fmt.Sprintf("token expired at %s", cv.Time.Format(time.RFC3339)), nil)
	}
	return nil
}

func (v *ClaimValidator) checkNotBefore(claims token.ClaimMap, now time.Time, skew time.Duration) error {
	cv, ok := claims.Get("nbf")
	if !ok || cv.Kind != token.KindTime {
		return nil
	}
	if now.Add(skew).Before(cv.Time) {
		v.events.Increment(security.EventNotYetValid)
		return apierror.New(apierror.CodeNotYetValid,
			fmt.Sprintf("token not valid until %s", cv.Time.Format(time.RFC3339)), nil)
	}
	return nil
}

func (v *ClaimValidator) checkIssuedAt(cfg *issuer.Config, claims token.ClaimMap, now time.Time, skew time.Duration) error {
	cv, ok := claims.Get("iat")
	if !ok || cv.Kind != token.KindTime {
		return nil
	}
	if now.Add(skew).Before(cv.Time) {
		v.events.Increment(security.EventNotYetValid)
		return apierror.New(apierror.CodeNotYetValid, "token issued in the future", nil)
	}
	if cfg.MaxTokenAge > 0 && cv.Time.Add(cfg.MaxTokenAge).Before(now.Add(-skew)) {
		v.events.Increment(security.EventExpired)
		return apierror.New(apierror.CodeExpired,
			fmt.Sprintf("token age exceeds maximum of %s", cfg.MaxTokenAge), nil)
	}
	return nil
}

// checkAudience returns whether the token's "aud" claim carries more than
// one value, needed by checkAZP's multi-audience azp requirement.
func (v *ClaimValidator) checkAudience(cfg *issuer.Config, claims token.ClaimMap) (bool, error) {
	tokenAud := claims.StringSet("aud")
	if len(cfg.ExpectedAudiences) == 0 {
		return len(tokenAud) > 1, nil
	}
	if len(tokenAud) == 0 {
		v.events.Increment(security.EventAudienceMismatch)
		return false, apierror.New(apierror.CodeAudienceMismatch, "token carries no audience claim", nil)
	}

	expected := make(map[string]struct{}, len(cfg.ExpectedAudiences))
	for _, a := range cfg.ExpectedAudiences {
		expected[a] = struct{}{}
	}
	matched := false
	for _, a := range tokenAud {
		if _, ok := expected[a]; ok {
			matched = true
			break
		}
	}
	if !matched {
		v.events.Increment(security.EventAudienceMismatch)
		return false, apierror.New(apierror.CodeAudienceMismatch,
			fmt.Sprintf("token audience %v does not match any of %v", tokenAud, cfg.ExpectedAudiences), nil)
	}
	return len(tokenAud) > 1, nil
}

func (v *ClaimValidator) checkAZP(cfg *issuer.Config, claims token.ClaimMap, multiAudience bool) error {
	azp, hasAZP := claims.Get("azp")
	azpVal := ""
	if hasAZP {
		azpVal = azp.String
	}

	if cfg.ExpectedAZP != "" {
		if !hasAZP || azpVal != cfg.ExpectedAZP {
			v.events.Increment(security.EventAudienceMismatch)
			return apierror.New(apierror.CodeAudienceMismatch,
				fmt.Sprintf("authorized party %q does not match expected %q", azpVal, cfg.ExpectedAZP), nil)
		}
		return nil
	}

	if multiAudience && !hasAZP {
		v.events.Increment(security.EventAudienceMismatch)
		return apierror.New(apierror.CodeAudienceMismatch,
			"azp claim is required when the token carries multiple audiences", nil)
	}
	return nil
}

func (v *ClaimValidator) checkNonce(claims token.ClaimMap, nonce ExpectedNonce) error {
	if !nonce.Required {
		return nil
	}
	cv, ok := claims.Get("nonce")
	if !ok || cv.String != nonce.Value {
		v.events.Increment(security.EventNonceMismatch)
		return apierror.New(apierror.CodeNonceMismatch, "nonce does not match the expected value", nil)
	}
	return nil
}
