// Package httpmw adapts an *oauthsheriff.Engine into net/http middleware:
// extract the access token from a request, validate it (passing the
// lowercased request headers on so the Engine can find a DPoP proof), and
// store the result in the request context (ambient scaffolding, spec.md §1's
// "no HTTP transport beyond JWKS/well-known fetch" leaves request-side
// transport wiring to embedders; this package is that wiring).
package httpmw

import (
	"errors"
	"net/http"
	"strings"
)

// TokenExtractor pulls the raw access token out of an incoming request. An
// empty string with a nil error means "no token present".
type TokenExtractor func(r *http.Request) (string, error)

// ErrMultipleAuthHeaders is returned when a request carries more than one
// Authorization header.
var ErrMultipleAuthHeaders = errors.New("httpmw: multiple Authorization headers found")

// AuthHeaderTokenExtractor reads the token from a "Bearer {token}"
// Authorization header. This is the default extractor.
func AuthHeaderTokenExtractor(r *http.Request) (string, error) {
	values := r.Header.Values("Authorization")
	if len(values) == 0 {
		return "", nil
	}
	if len(values) > 1 {
		return "", ErrMultipleAuthHeaders
	}
	const prefix = "Bearer "
	header := values[0]
	if !strings.HasPrefix(header, prefix) {
		return "", nil
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}

// CookieTokenExtractor reads the token from the named cookie.
func CookieTokenExtractor(cookieName string) TokenExtractor {
	return func(r *http.Request) (string, error) {
		c, err := r.Cookie(cookieName)
		if err != nil {
			return "", nil
		}
		return c.Value, nil
	}
}

// ParameterTokenExtractor reads the token from the named URL query
// parameter.
func ParameterTokenExtractor(param string) TokenExtractor {
	return func(r *http.Request) (string, error) {
		return r.URL.Query().Get(param), nil
	}
}

// MultiTokenExtractor tries each extractor in order, returning the first
// non-empty token found. An extractor's error short-circuits the chain.
func MultiTokenExtractor(extractors ...TokenExtractor) TokenExtractor {
	return func(r *http.Request) (string, error) {
		for _, extractor := range extractors {
			token, err := extractor(r)
			if err != nil {
				return "", err
			}
			if token != "" {
				return token, nil
			}
		}
		return "", nil
	}
}
