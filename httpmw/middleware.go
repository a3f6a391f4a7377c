package httpmw

import (
	"net/http"
)

// CheckJWT returns a net/http middleware that validates the request's
// access token via the wrapped Engine before calling next. On success, the
// validated content is available from the request context via GetClaims.
//
// Order of operations, mirroring the teacher's CheckJWT: exclusion-URL skip,
// then OPTIONS skip (unless WithValidateOnOptions), then extraction,
// validation, and either the error handler or next.
func (m *Middleware) CheckJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, excluded := m.exclusionURLs[r.URL.Path]; excluded {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions && !m.validateOnOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := m.tokenExtractor(r)
		if err != nil {
			m.logf(logError, "token extraction failed", "error", err)
			m.errorHandler(w, r, &invalidError{details: err})
			return
		}

		if token == "" {
			if m.credentialsOptional {
				next.ServeHTTP(w, r)
				return
			}
			m.logf(logWarn, "no token provided and credentials are required")
			m.errorHandler(w, r, ErrTokenMissing)
			return
		}

		headers := make(map[string][]string, len(r.Header)+1)
		for k, v := range r.Header {
			headers[lower(k)] = v
		}

		content, err := m.engine.ValidateAccessToken(r.Context(), token, headers)
		if err != nil {
			m.logf(logError, "access token validation failed", "error", err)
			m.errorHandler(w, r, &invalidError{details: err})
			return
		}
		m.logf(logDebug, "access token validated successfully")

		ctx := SetClaims(r.Context(), content)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type logLevel int

const (
	logDebug logLevel = iota
	logWarn
	logError
)

func (m *Middleware) logf(level logLevel, msg string, args ...any) {
	if m.logger == nil {
		return
	}
	switch level {
	case logDebug:
		m.logger.Debug(msg, args...)
	case logWarn:
		m.logger.Warn(msg, args...)
	case logError:
		m.logger.Error(msg, args...)
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
