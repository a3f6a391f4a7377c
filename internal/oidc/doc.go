// Package oidc resolves an OIDC discovery document
// (<issuer>/.well-known/openid-configuration), lazily and once per issuer,
// and exposes the endpoints a JWKS loader or engine needs.
package oidc
