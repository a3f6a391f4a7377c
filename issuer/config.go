// Package issuer defines the immutable per-issuer trust configuration and
// the registry that resolves an "iss" claim to one, grounded on
// spec.md §3's "Issuer configuration" data model.
package issuer

import "time"

// KeySourceKind selects how an issuer's verification keys are obtained.
type KeySourceKind int

const (
	KeySourceInline KeySourceKind = iota
	KeySourceFile
	KeySourceHTTP
	KeySourceWellKnown
)

// RetryConfig controls the exponential-backoff-with-jitter retry adapter
// wrapping JWKS/well-known HTTP fetches (spec.md §4.5.1).
type RetryConfig struct {
	Enabled       bool
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterEnabled bool
}

// DefaultRetryConfig mirrors the teacher's HTTP client defaults, extended
// with the multiplier/jitter knobs the original Java's ResilientHttpAdapter
// exposes.
var DefaultRetryConfig = RetryConfig{
	Enabled:       true,
	MaxAttempts:   3,
	InitialDelay:  200 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	Multiplier:    2.0,
	JitterEnabled: true,
}

// DpopConfig carries the per-issuer DPoP enforcement settings (spec.md §3).
type DpopConfig struct {
	Required          bool
	ProofMaxAge       time.Duration
	ReplayCacheSize   int
	ReplayCacheTTL    time.Duration
}

// DefaultDpopConfig matches spec.md §3's stated defaults.
var DefaultDpopConfig = DpopConfig{
	Required:        false,
	ProofMaxAge:     300 * time.Second,
	ReplayCacheSize: 10000,
	ReplayCacheTTL:  300 * time.Second,
}

// ParserLimits holds per-issuer parser limits. The engine does not apply
// them: tokens are decoded with token.DefaultLimits before the issuer is
// resolved.
type ParserLimits struct {
	MaxTokenBytes  int
	MaxHeaderBytes int
	MaxDepth       int
}

// DefaultParserLimits matches the teacher's 1MB CVE-2025-27144 mitigation.
var DefaultParserLimits = ParserLimits{
	MaxTokenBytes:  1024 * 1024,
	MaxHeaderBytes: 16 * 1024,
	MaxDepth:       16,
}

// HTTPConfig controls JWKS/well-known fetch transport (spec.md §6).
type HTTPConfig struct {
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	MaxResponseBytes   int64
	CacheTTL           time.Duration
	BackgroundRefresh  bool
	RefreshInterval    time.Duration
	GracePeriod        time.Duration
	MaxRetiredKeySets  int
}

// DefaultHTTPConfig mirrors the teacher's jwxCache defaults (30s client
// timeout, 15min cache TTL) extended with key-rotation grace settings from
// HttpJwksLoader.java.
var DefaultHTTPConfig = HTTPConfig{
	ConnectTimeout:    10 * time.Second,
	ReadTimeout:       30 * time.Second,
	MaxResponseBytes:  1024 * 1024,
	CacheTTL:          15 * time.Minute,
	BackgroundRefresh: true,
	RefreshInterval:   15 * time.Minute,
	GracePeriod:       10 * time.Minute,
	MaxRetiredKeySets: 3,
}

// Config is an issuer's immutable trust configuration. It is built once at
// engine construction (or on first sight for dynamic multi-issuer setups)
// and never mutated afterward; rotation replaces the JWKS loader's internal
// keyset, not this Config.
type Config struct {
	Identifier string
	Enabled    bool

	KeySourceKind KeySourceKind
	KeySourceLocation string // file path, HTTP URL, or well-known URL
	InlineJWKS    []byte

	ExpectedAudiences []string
	ExpectedAZP       string
	ExpectedTokenType string

	AlgorithmAllowlist []string

	ClockSkew  time.Duration
	MaxTokenAge time.Duration // 0 = unbounded

	// Dpop is nil when this issuer has no DPoP configuration at all, in
	// which case it accepts bearer tokens without looking at any DPoP
	// header, and rejects tokens that carry cnf.jkt (DpopCnfMissing).
	Dpop *DpopConfig

	Parser ParserLimits
	Retry  RetryConfig
	HTTP   HTTPConfig
}

// AlgorithmAllowed reports whether alg is in this issuer's preference list.
func (c *Config) AlgorithmAllowed(alg string) bool {
	for _, a := range c.AlgorithmAllowlist {
		if a == alg {
			return true
		}
	}
	return false
}

// RequiresDpop reports whether DPoP enforcement is configured for this
// issuer at all (independent of any given token's cnf.jkt).
func (c *Config) RequiresDpop() bool {
	return c.Dpop != nil && c.Dpop.Required
}
