// Package oauthsheriff is the public façade for the validation engine:
// construct one with New, then call ValidateAccessToken / ValidateIDToken /
// ValidateRefreshToken from as many goroutines as needed (spec.md §5, §6).
package oauthsheriff

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/cuioss/OAuthSheriff/cache"
	"github.com/cuioss/OAuthSheriff/dpop"
	"github.com/cuioss/OAuthSheriff/internal/oidc"
	"github.com/cuioss/OAuthSheriff/issuer"
	"github.com/cuioss/OAuthSheriff/jwks"
	"github.com/cuioss/OAuthSheriff/pipeline"
	"github.com/cuioss/OAuthSheriff/security"
	"github.com/cuioss/OAuthSheriff/token"
)

// Engine validates access, identity, and refresh tokens against a fixed set
// of trusted issuers. It is safe for concurrent use by any number of
// goroutines (spec.md §5's "parallel and thread-safe" scheduling model).
type Engine struct {
	registry *issuer.Registry
	access   *pipeline.AccessTokenPipeline
	identity *pipeline.IdentityTokenPipeline
	refresh  *pipeline.RefreshTokenPipeline
	events   *security.Counter
	logger   Logger
	closers  []func()
}

// New constructs an Engine from the given options. At least one WithIssuer
// is required.
func New(opts ...Option) (*Engine, error) {
	cfg := &engineConfig{cacheCapacity: 10000}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if len(cfg.issuers) == 0 {
		return nil, ErrNoIssuers
	}

	mappers, err := token.NewRegistry(cfg.mappers...)
	if err != nil {
		return nil, fmt.Errorf("oauthsheriff: claim mapper registry: %w", err)
	}

	metrics := cfg.metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	events := security.NewCounter(metrics)

	e := &Engine{
		registry: issuer.NewRegistry(0),
		events:   events,
		logger:   cfg.logger,
	}

	replay := dpop.NewReplayStore(issuer.DefaultDpopConfig.ReplayCacheTTL, issuer.DefaultDpopConfig.ReplayCacheSize)
	e.closers = append(e.closers, replay.Close)

	resources := make(map[string]*pipeline.IssuerResources, len(cfg.issuers))
	maxSkew := cfg.issuers[0].ClockSkew
	for _, icfg := range cfg.issuers {
		if icfg.ClockSkew > maxSkew {
			maxSkew = icfg.ClockSkew
		}

		client := cfg.httpClient
		if client == nil {
			client = &http.Client{Timeout: icfg.HTTP.ReadTimeout}
		}

		keys, statusFn, err := e.buildKeyResolver(icfg, client, events)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("oauthsheriff: issuer %q: %w", icfg.Identifier, err)
		}

		var checker pipeline.DpopChecker
		if icfg.Dpop != nil {
			checker = dpop.NewProofValidator(*icfg.Dpop, icfg.AlgorithmAllowed, replay, events)
		}

		e.registry.Attach(icfg, statusFn)
		if icfg.Enabled {
			resources[icfg.Identifier] = &pipeline.IssuerResources{Config: icfg, Keys: keys, Dpop: checker}
		}
	}

	resolve := func(identifier string) (*pipeline.IssuerResources, error) {
		res, ok := resources[identifier]
		if !ok {
			return nil, issuer.ErrUnknownIssuer
		}
		return res, nil
	}

	header := pipeline.NewHeaderValidator(events)
	claims := pipeline.NewClaimValidator(events, mappers)

	var resultCache *cache.Cache
	if cfg.cacheCapacity > 0 {
		resultCache = cache.New(cfg.cacheCapacity, maxSkew)
	}

	e.access = pipeline.NewAccessTokenPipeline(events, header, claims, resolve, token.DefaultLimits, resultCache)
	e.identity = pipeline.NewIdentityTokenPipeline(events, header, claims, resolve, token.DefaultLimits)
	e.refresh = pipeline.NewRefreshTokenPipeline(token.DefaultLimits)

	return e, nil
}

// buildKeyResolver selects the §4.5 variant matching icfg.KeySourceKind and
// returns a pipeline.KeyResolver plus its issuer.StatusFunc.
func (e *Engine) buildKeyResolver(icfg *issuer.Config, client *http.Client, events *security.Counter) (pipeline.KeyResolver, issuer.StatusFunc, error) {
	switch icfg.KeySourceKind {
	case issuer.KeySourceInline:
		set, err := jwks.NewStaticKeySet(icfg.InlineJWKS)
		if err != nil {
			return nil, nil, err
		}
		return set, set.Status, nil

	case issuer.KeySourceFile:
		raw, err := os.ReadFile(icfg.KeySourceLocation)
		if err != nil {
			return nil, nil, fmt.Errorf("read key source file: %w", err)
		}
		set, err := jwks.NewStaticKeySet(raw)
		if err != nil {
			return nil, nil, err
		}
		return set, set.Status, nil

	case issuer.KeySourceWellKnown:
		issuerURL, err := url.Parse(icfg.KeySourceLocation)
		if err != nil {
			return nil, nil, fmt.Errorf("parse well-known issuer url: %w", err)
		}
		resolver := oidc.NewResolver(issuerURL, client, icfg.Retry)
		uriResolver := func(ctx context.Context) (string, error) {
			doc, err := resolver.Document(ctx)
			if err != nil {
				events.Increment(security.EventWellKnownFetchFailed)
				return "", err
			}
			if _, mismatch, rerr := oidc.ResolveIssuer(doc.Issuer, icfg.Identifier); rerr == nil && mismatch {
				events.Increment(security.EventIssuerMismatch)
			}
			return doc.JWKSURI, nil
		}
		loader := jwks.NewDiscoveredLoader(icfg, client, events, uriResolver)
		e.closers = append(e.closers, loader.Close)
		return loader, loader.Status, nil

	default: // issuer.KeySourceHTTP
		loader := jwks.NewLoader(icfg, client, events)
		e.closers = append(e.closers, loader.Close)
		return loader, loader.Status, nil
	}
}

// ValidateAccessToken runs the full access-token pipeline (spec.md §4.2).
// headers carries the request's lowercased HTTP header names, used for DPoP
// proof extraction; pass nil for issuers that never require DPoP.
func (e *Engine) ValidateAccessToken(ctx context.Context, raw string, headers map[string][]string) (*AccessTokenContent, error) {
	result, err := e.access.Validate(ctx, raw, dpop.Headers(headers))
	if err != nil {
		return nil, err
	}
	exp, _ := result.Claims.Get("exp")
	return &AccessTokenContent{
		Issuer:    result.Issuer,
		Subject:   subjectOf(result.Claims),
		ExpiresAt: exp.Time,
		HasCnfJKT: result.HasCnfJKT,
		CnfJKT:    result.CnfJKT,
		Claims:    result.Claims,
	}, nil
}

// ValidateIDToken runs the identity-token pipeline. expectedNonce is
// compared against the token's "nonce" claim when non-empty.
func (e *Engine) ValidateIDToken(ctx context.Context, raw string, expectedNonce string) (*IdentityTokenContent, error) {
	result, err := e.identity.Validate(ctx, raw, expectedNonce)
	if err != nil {
		return nil, err
	}
	return &IdentityTokenContent{
		Issuer:    result.Issuer,
		Subject:   subjectOf(result.Claims),
		ExpiresAt: result.ExpiresAt,
		Claims:    result.Claims,
	}, nil
}

// ValidateRefreshToken runs the refresh-token pipeline (best-effort decode,
// never an error for an opaque, non-JWT string).
func (e *Engine) ValidateRefreshToken(raw string) *RefreshTokenContent {
	result := e.refresh.Validate(raw)
	return &RefreshTokenContent{Raw: result.Raw, IsJWT: result.IsJWT, Claims: result.Claims}
}

// IssuerStatus reports every configured issuer's health, for the
// Engine::issuer_status() health surface spec.md §6 requires.
func (e *Engine) IssuerStatus() []issuer.StatusEntry {
	return e.registry.Statuses()
}

// Close stops every background goroutine the Engine owns: each JWKS
// loader's background refresh, and the DPoP replay store's eviction sweep.
func (e *Engine) Close() {
	for _, fn := range e.closers {
		fn()
	}
}
