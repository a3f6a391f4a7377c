package httpmw

import (
	"context"

	"github.com/cuioss/OAuthSheriff"
)

// contextKey is unexported so only this package can create context keys,
// eliminating collisions with other packages' context values.
type contextKey int

const claimsKey contextKey = iota

// SetClaims stores the validated access token content in the context.
func SetClaims(ctx context.Context, content *oauthsheriff.AccessTokenContent) context.Context {
	return context.WithValue(ctx, claimsKey, content)
}

// GetClaims retrieves the validated access token content stored by CheckJWT.
// ok is false when no token was validated for this request (e.g. the route
// is excluded, or credentials are optional and none were presented).
func GetClaims(ctx context.Context) (content *oauthsheriff.AccessTokenContent, ok bool) {
	content, ok = ctx.Value(claimsKey).(*oauthsheriff.AccessTokenContent)
	return
}

// HasClaims reports whether validated claims exist in the context, without
// retrieving them.
func HasClaims(ctx context.Context) bool {
	_, ok := GetClaims(ctx)
	return ok
}
