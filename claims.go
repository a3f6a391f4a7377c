package oauthsheriff

import (
	"time"

	"github.com/cuioss/OAuthSheriff/token"
)

// AccessTokenContent is the validated view of an access token returned by
// Engine.ValidateAccessToken (spec.md §6).
type AccessTokenContent struct {
	Issuer    string
	Subject   string
	ExpiresAt time.Time
	HasCnfJKT bool
	CnfJKT    string
	Claims    token.ClaimMap
}

// IdentityTokenContent is the validated view of an identity (ID) token
// returned by Engine.ValidateIDToken.
type IdentityTokenContent struct {
	Issuer    string
	Subject   string
	ExpiresAt time.Time
	Claims    token.ClaimMap
}

// RefreshTokenContent is the best-effort view of a refresh token returned by
// Engine.ValidateRefreshToken. Most refresh tokens are opaque; IsJWT reports
// whether Claims was actually populated.
type RefreshTokenContent struct {
	Raw    string
	IsJWT  bool
	Claims token.ClaimMap
}

func subjectOf(claims token.ClaimMap) string {
	cv, ok := claims.Get("sub")
	if !ok {
		return ""
	}
	return cv.String
}
