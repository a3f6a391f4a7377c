package httpmw

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cuioss/OAuthSheriff"
)

// Sentinel errors surfaced to an ErrorHandler.
var (
	// ErrTokenMissing is passed when credentials are required but no token
	// was present in the request.
	ErrTokenMissing = errors.New("httpmw: token missing")

	// ErrTokenInvalid is passed when the Engine rejected the token. The
	// underlying *oauthsheriff.ValidationError is available via errors.As.
	ErrTokenInvalid = errors.New("httpmw: token invalid")
)

// invalidError wraps a validation failure so it matches ErrTokenInvalid via
// errors.Is while still exposing the underlying error via Unwrap.
type invalidError struct {
	details error
}

func (e *invalidError) Error() string        { return e.details.Error() }
func (e *invalidError) Unwrap() error        { return e.details }
func (e *invalidError) Is(target error) bool { return target == ErrTokenInvalid }

// ErrorHandler writes an HTTP response for a failed validation. err is
// either ErrTokenMissing or wraps ErrTokenInvalid (use errors.As to recover
// the *oauthsheriff.ValidationError).
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// DefaultErrorHandler writes a 401 for missing tokens and a 403 for invalid
// ones, with a small JSON body carrying the error code where available.
func DefaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")

	body := map[string]string{"error": err.Error()}

	var ve *oauthsheriff.ValidationError
	switch {
	case errors.Is(err, ErrTokenMissing):
		w.WriteHeader(http.StatusUnauthorized)
		body["error"] = "authorization required"
	case errors.As(err, &ve):
		w.WriteHeader(http.StatusForbidden)
		body["code"] = string(ve.Code)
		body["error"] = ve.Message
	default:
		w.WriteHeader(http.StatusForbidden)
	}

	_ = json.NewEncoder(w).Encode(body)
}
