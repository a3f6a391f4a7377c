package oauthsheriff

import (
	"errors"
	"net/http"

	"github.com/cuioss/OAuthSheriff/issuer"
	"github.com/cuioss/OAuthSheriff/token"
)

// engineConfig accumulates Option settings before New validates and freezes
// them into an Engine. Grounded on the teacher's core/option.go /
// validator/option.go functional-options convention.
type engineConfig struct {
	issuers       []*issuer.Config
	mappers       []token.Mapper
	cacheCapacity int
	httpClient    *http.Client
	logger        Logger
	metrics       Metrics
}

// Option configures an Engine at construction time.
type Option func(*engineConfig) error

// Sentinel errors for configuration validation, mirroring the teacher's
// ErrValidatorNil/ErrLoggerNil family in option.go.
var (
	ErrNoIssuers       = errors.New("oauthsheriff: at least one issuer must be configured (use WithIssuer)")
	ErrIssuerNil       = errors.New("oauthsheriff: issuer config cannot be nil")
	ErrIssuerNoID      = errors.New("oauthsheriff: issuer config must set Identifier")
	ErrDuplicateIssuer = errors.New("oauthsheriff: duplicate issuer identifier")
	ErrMapperNil       = errors.New("oauthsheriff: claim mapper cannot be nil")
)

// WithIssuer registers one issuer's trust configuration. At least one is
// required.
func WithIssuer(cfg *issuer.Config) Option {
	return func(c *engineConfig) error {
		if cfg == nil {
			return ErrIssuerNil
		}
		if cfg.Identifier == "" {
			return ErrIssuerNoID
		}
		for _, existing := range c.issuers {
			if existing.Identifier == cfg.Identifier {
				return ErrDuplicateIssuer
			}
		}
		c.issuers = append(c.issuers, cfg)
		return nil
	}
}

// WithClaimMapper registers a claim mapper in the engine-wide registry
// (spec.md §4.7).
func WithClaimMapper(m token.Mapper) Option {
	return func(c *engineConfig) error {
		if m == nil {
			return ErrMapperNil
		}
		c.mappers = append(c.mappers, m)
		return nil
	}
}

// WithAccessTokenCacheCapacity bounds the access-token result cache
// (spec.md §4.9). 0 disables caching entirely.
//
// Default: 10000.
func WithAccessTokenCacheCapacity(capacity int) Option {
	return func(c *engineConfig) error {
		c.cacheCapacity = capacity
		return nil
	}
}

// WithHTTPClient sets one *http.Client shared by every issuer's JWKS and
// well-known fetches, in place of the per-issuer clients New otherwise
// builds. The supplied client's own timeouts apply to those fetches.
//
// Default: a separate client per issuer, with issuer.Config.HTTP.ReadTimeout
// as its timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(c *engineConfig) error {
		if client == nil {
			return errors.New("oauthsheriff: http client cannot be nil")
		}
		c.httpClient = client
		return nil
	}
}

// WithLogger sets the Engine's Logger. The Engine keeps it but does not
// write to it; the validation pipelines, key loaders and caches log nothing.
//
// Default: nil (silent).
func WithLogger(logger Logger) Option {
	return func(c *engineConfig) error {
		c.logger = logger
		return nil
	}
}

// WithMetrics sets the Metrics backend the security event counter reports
// through, in addition to its in-memory tally.
//
// Default: NoopMetrics.
func WithMetrics(metrics Metrics) Option {
	return func(c *engineConfig) error {
		c.metrics = metrics
		return nil
	}
}
