package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/cuioss/OAuthSheriff/apierror"
	"github.com/cuioss/OAuthSheriff/cache"
	"github.com/cuioss/OAuthSheriff/dpop"
	"github.com/cuioss/OAuthSheriff/issuer"
	"github.com/cuioss/OAuthSheriff/jwk"
	"github.com/cuioss/OAuthSheriff/security"
	"github.com/cuioss/OAuthSheriff/token"
)

// KeyResolver resolves a verification key by kid for one issuer. Satisfied
// by *jwks.Loader without this package importing it directly, so pipeline
// stays agnostic of the key-source kind (inline/file/HTTP/well-known).
type KeyResolver interface {
	GetKey(ctx context.Context, kid string) (*jwk.Key, error)
}

// DpopChecker validates a DPoP proof for one issuer's access tokens.
// Satisfied by *dpop.ProofValidator.
type DpopChecker interface {
	Validate(headers dpop.Headers, cnfJKT string, hasCnfJKT bool, rawAccessToken string) error
}

// IssuerResources bundles everything a pipeline needs for one resolved
// issuer: its trust configuration, key source, and (for access tokens) DPoP
// enforcement. Dpop is nil when the issuer has no DPoP configuration at all.
type IssuerResources struct {
	Config *issuer.Config
	Keys   KeyResolver
	Dpop   DpopChecker
}

// ResourceResolver maps an "iss" claim value to its IssuerResources, per
// spec.md §4.2 step 2. Returns a non-nil error for unresolvable identifiers,
// which the pipeline reports as apierror.CodeUnknownIssuer.
type ResourceResolver func(identifier string) (*IssuerResources, error)

// Result is the outcome of a fully validated token, in the common shape the
// root engine turns into its token-kind-specific content types.
type Result struct {
	Issuer    string
	Claims    token.ClaimMap
	ExpiresAt time.Time
	HasCnfJKT bool
	CnfJKT    string
}

// base holds what every pipeline variant shares: decode limits, the header
// and claim validators, issuer resolution, and event accounting.
type base struct {
	events    *security.Counter
	header    *HeaderValidator
	claims    *ClaimValidator
	resources ResourceResolver
	limits    token.Limits
}

func newBase(events *security.Counter, header *HeaderValidator, claims *ClaimValidator, resources ResourceResolver, limits token.Limits) base {
	return base{events: events, header: header, claims: claims, resources: resources, limits: limits}
}

// decodeAndResolve runs steps 1-2 of spec.md §4.2, shared by every pipeline
// variant: decode the compact JWS, extract "iss", and resolve its resources.
func (b *base) decodeAndResolve(raw string) (*token.Decoded, token.ClaimMap, *IssuerResources, error) {
	decoded, err := token.Decode(raw, b.limits)
	if err != nil {
		b.events.Increment(security.EventMalformedToken)
		return nil, nil, nil, apierror.New(apierror.CodeMalformedToken, "failed to decode token", err)
	}

	claims := token.NewClaimMap(decoded.Body)
	iss, ok := claims.Get("iss")
	if !ok || iss.String == "" {
		b.events.Increment(security.EventMissingClaim)
		return nil, nil, nil, apierror.MissingClaim("iss")
	}

	res, err := b.resources(iss.String)
	if err != nil {
		b.events.Increment(security.EventUnknownIssuer)
		return nil, nil, nil, apierror.New(apierror.CodeUnknownIssuer,
			fmt.Sprintf("issuer %q is unknown or disabled", iss.String), err)
	}
	return decoded, claims, res, nil
}

// verifySignature runs step 4 of spec.md §4.2: resolve the header's kid
// against the issuer's key source and verify the signature.
func (b *base) verifySignature(ctx context.Context, decoded *token.Decoded, res *IssuerResources) error {
	alg, _ := decoded.HeaderString("alg")
	kid, _ := decoded.HeaderString("kid")

	key, err := res.Keys.GetKey(ctx, kid)
	if err != nil {
		b.events.Increment(security.EventKeyNotFound)
		return apierror.New(apierror.CodeKeyNotFound,
			fmt.Sprintf("no verification key found for kid %q", kid), err)
	}

	if err := jwk.Verify(key, alg, decoded.SigningInput, decoded.Signature); err != nil {
		switch err {
		case jwk.ErrAlgorithmKeyMismatch:
			b.events.Increment(security.EventAlgorithmKeyMismatch)
			return apierror.New(apierror.CodeAlgorithmKeyMismatch, "algorithm does not match key type", err)
		default:
			b.events.Increment(security.EventBadSignature)
			return apierror.New(apierror.CodeBadSignature, "signature verification failed", err)
		}
	}
	return nil
}

// AccessTokenPipeline implements spec.md §4.2's access-token variant:
// decode → issuer resolve → header → signature → claims → DPoP → cache.
// Grounded on validator.go's ValidateToken sequence, generalized with a
// DPoP post-check and a result cache neither the teacher nor go-jose need.
type AccessTokenPipeline struct {
	base
	cache *cache.Cache
}

// NewAccessTokenPipeline constructs an AccessTokenPipeline. c may be nil to
// disable result caching entirely.
func NewAccessTokenPipeline(events *security.Counter, header *HeaderValidator, claims *ClaimValidator, resources ResourceResolver, limits token.Limits, c *cache.Cache) *AccessTokenPipeline {
	return &AccessTokenPipeline{base: newBase(events, header, claims, resources, limits), cache: c}
}

// Validate runs the full access-token pipeline over raw, using headers for
// the DPoP proof (lowercased HTTP header names; may be empty for bearer-only
// issuers).
func (p *AccessTokenPipeline) Validate(ctx context.Context, raw string, headers dpop.Headers) (*Result, error) {
	decoded, claims, res, err := p.decodeAndResolve(raw)
	if err != nil {
		return nil, err
	}

	cnfJKT, hasCnfJKT := claims.CnfJKT()

	if p.cache == nil {
		return p.build(ctx, raw, decoded, claims, res, headers)
	}

	fp := cache.Fingerprint(raw)
	needsDpopCheck := res.Dpop != nil || hasCnfJKT
	dpopCheck := func() error {
		if res.Dpop == nil {
			return nil
		}
		if err := res.Dpop.Validate(headers, cnfJKT, hasCnfJKT, raw); err != nil {
			return mapDpopFailure(err)
		}
		return nil
	}

	entry, err := p.cache.GetOrBuild(fp, needsDpopCheck, dpopCheck, func() (*cache.Entry, error) {
		result, err := p.build(ctx, raw, decoded, claims, res, headers)
		if err != nil {
			return nil, err
		}
		return &cache.Entry{
			Content:   result,
			ExpiresAt: result.ExpiresAt,
			HasCnfJKT: result.HasCnfJKT,
			CnfJKT:    result.CnfJKT,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return entry.Content.(*Result), nil
}

func (p *AccessTokenPipeline) build(ctx context.Context, raw string, decoded *token.Decoded, claims token.ClaimMap, res *IssuerResources, headers dpop.Headers) (*Result, error) {
	if err := p.header.Validate(res.Config, decoded); err != nil {
		return nil, err
	}
	if err := p.verifySignature(ctx, decoded, res); err != nil {
		return nil, err
	}
	if err := p.claims.Validate(res.Config, claims, ExpectedNonce{}); err != nil {
		return nil, err
	}

	cnfJKT, hasCnfJKT := claims.CnfJKT()
	if res.Dpop != nil || hasCnfJKT {
		if res.Dpop == nil {
			p.events.Increment(security.EventDpopCnfMissing)
			return nil, apierror.New(apierror.CodeDpopCnfMissing,
				"token carries cnf.jkt but issuer has no DPoP configuration", nil)
		}
		if err := res.Dpop.Validate(headers, cnfJKT, hasCnfJKT, raw); err != nil {
			return nil, mapDpopFailure(err)
		}
	}

	exp, _ := claims.Get("exp")
	return &Result{
		Issuer:    res.Config.Identifier,
		Claims:    claims,
		ExpiresAt: exp.Time,
		HasCnfJKT: hasCnfJKT,
		CnfJKT:    cnfJKT,
	}, nil
}

// mapDpopFailure turns a *dpop.Failure into the matching apierror code.
func mapDpopFailure(err error) error {
	f, ok := err.(*dpop.Failure)
	if !ok {
		return apierror.New(apierror.CodeDpopProofInvalid, "DPoP validation failed", err)
	}
	code := dpopEventCode(f.Event)
	return apierror.New(code, f.Message, nil)
}

func dpopEventCode(event security.EventType) apierror.ErrorCode {
	switch event {
	case security.EventDpopCnfMissing:
		return apierror.CodeDpopCnfMissing
	case security.EventDpopProofMissing:
		return apierror.CodeDpopProofMissing
	case security.EventDpopProofExpired:
		return apierror.CodeDpopProofExpired
	case security.EventDpopAthMismatch:
		return apierror.CodeDpopAthMismatch
	case security.EventDpopThumbprintMismatch:
		return apierror.CodeDpopThumbprintMismatch
	case security.EventDpopReplayDetected:
		return apierror.CodeDpopReplayDetected
	default:
		return apierror.CodeDpopProofInvalid
	}
}

// IdentityTokenPipeline implements spec.md §4.2's identity-token variant:
// same as AccessTokenPipeline minus DPoP, plus nonce comparison.
type IdentityTokenPipeline struct {
	base
}

// NewIdentityTokenPipeline constructs an IdentityTokenPipeline.
func NewIdentityTokenPipeline(events *security.Counter, header *HeaderValidator, claims *ClaimValidator, resources ResourceResolver, limits token.Limits) *IdentityTokenPipeline {
	return &IdentityTokenPipeline{base: newBase(events, header, claims, resources, limits)}
}

// Validate runs the identity-token pipeline over raw. expectedNonce is
// compared against the token's "nonce" claim when non-empty.
func (p *IdentityTokenPipeline) Validate(ctx context.Context, raw string, expectedNonce string) (*Result, error) {
	decoded, claims, res, err := p.decodeAndResolve(raw)
	if err != nil {
		return nil, err
	}

	if err := p.header.Validate(res.Config, decoded); err != nil {
		return nil, err
	}
	if err := p.verifySignature(ctx, decoded, res); err != nil {
		return nil, err
	}

	nonce := ExpectedNonce{Value: expectedNonce, Required: expectedNonce != ""}
	if err := p.claims.Validate(res.Config, claims, nonce); err != nil {
		return nil, err
	}

	exp, _ := claims.Get("exp")
	return &Result{Issuer: res.Config.Identifier, Claims: claims, ExpiresAt: exp.Time}, nil
}

// RefreshTokenPipeline implements spec.md §4.2's refresh-token variant:
// best-effort decode, no signature or claim validation beyond structural
// well-formedness.
type RefreshTokenPipeline struct {
	limits token.Limits
}

// NewRefreshTokenPipeline constructs a RefreshTokenPipeline.
func NewRefreshTokenPipeline(limits token.Limits) *RefreshTokenPipeline {
	return &RefreshTokenPipeline{limits: limits}
}

// RefreshResult is a refresh token's decoded view: the raw string always,
// and a claim map when the token happens to be JWT-shaped.
type RefreshResult struct {
	Raw    string
	Claims token.ClaimMap
	IsJWT  bool
}

// Validate decodes raw as a best-effort JWT. A structural decode failure is
// not an error here: refresh tokens are frequently opaque, non-JWT strings.
func (p *RefreshTokenPipeline) Validate(raw string) *RefreshResult {
	decoded, err := token.Decode(raw, p.limits)
	if err != nil {
		return &RefreshResult{Raw: raw}
	}
	return &RefreshResult{Raw: raw, Claims: token.NewClaimMap(decoded.Body), IsJWT: true}
}
