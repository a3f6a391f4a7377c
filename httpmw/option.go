package httpmw

import (
	"errors"

	"github.com/cuioss/OAuthSheriff"
)

// Middleware wraps an *oauthsheriff.Engine as net/http middleware.
// Constructed once via New and reused across requests; CheckJWT is safe for
// concurrent use since the Engine itself is.
type Middleware struct {
	engine              *oauthsheriff.Engine
	credentialsOptional bool
	validateOnOptions   bool
	errorHandler        ErrorHandler
	tokenExtractor      TokenExtractor
	exclusionURLs       map[string]struct{}
	logger              oauthsheriff.Logger
}

// Option configures a Middleware at construction time, mirroring the
// teacher's functional-options convention.
type Option func(*Middleware) error

// Sentinel errors for Option validation, mirroring the teacher's
// ErrErrorHandlerNil/ErrTokenExtractorNil/ErrExclusionUrlsEmpty family.
var (
	ErrEngineNil          = errors.New("httpmw: engine cannot be nil")
	ErrErrorHandlerNil    = errors.New("httpmw: error handler cannot be nil")
	ErrTokenExtractorNil  = errors.New("httpmw: token extractor cannot be nil")
	ErrExclusionURLsEmpty = errors.New("httpmw: exclusion urls cannot be empty")
	ErrLoggerNil          = errors.New("httpmw: logger cannot be nil")
)

// New builds a Middleware wrapping engine. Defaults: credentials required,
// OPTIONS requests skip validation, DefaultErrorHandler,
// AuthHeaderTokenExtractor, no exclusions.
func New(engine *oauthsheriff.Engine, opts ...Option) (*Middleware, error) {
	if engine == nil {
		return nil, ErrEngineNil
	}
	m := &Middleware{
		engine:         engine,
		errorHandler:   DefaultErrorHandler,
		tokenExtractor: AuthHeaderTokenExtractor,
		exclusionURLs:  map[string]struct{}{},
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WithCredentialsOptional lets requests without a token through with no
// claims in the context, instead of failing with ErrTokenMissing.
//
// Default: false (credentials required).
func WithCredentialsOptional(optional bool) Option {
	return func(m *Middleware) error {
		m.credentialsOptional = optional
		return nil
	}
}

// WithValidateOnOptions validates OPTIONS requests instead of always
// passing them through.
//
// Default: false.
func WithValidateOnOptions(validate bool) Option {
	return func(m *Middleware) error {
		m.validateOnOptions = validate
		return nil
	}
}

// WithErrorHandler overrides DefaultErrorHandler.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(m *Middleware) error {
		if handler == nil {
			return ErrErrorHandlerNil
		}
		m.errorHandler = handler
		return nil
	}
}

// WithTokenExtractor overrides AuthHeaderTokenExtractor, e.g. with
// MultiTokenExtractor for cookie/header fallback chains.
func WithTokenExtractor(extractor TokenExtractor) Option {
	return func(m *Middleware) error {
		if extractor == nil {
			return ErrTokenExtractorNil
		}
		m.tokenExtractor = extractor
		return nil
	}
}

// WithExclusionUrls skips validation entirely for the given request paths
// (exact match against r.URL.Path).
func WithExclusionUrls(urls ...string) Option {
	return func(m *Middleware) error {
		if len(urls) == 0 {
			return ErrExclusionURLsEmpty
		}
		for _, u := range urls {
			m.exclusionURLs[u] = struct{}{}
		}
		return nil
	}
}

// WithLogger attaches a logger for debug/error reporting during CheckJWT.
func WithLogger(logger oauthsheriff.Logger) Option {
	return func(m *Middleware) error {
		if logger == nil {
			return ErrLoggerNil
		}
		m.logger = logger
		return nil
	}
}
