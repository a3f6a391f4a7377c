// Package jwk wraps lestrrat-go/jwx's key parsing with the engine's own
// RFC 7638 thumbprint computation and signature verification, including the
// ECDSA IEEE-P1363↔DER normalization spec.md §4.4 requires.
package jwk

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"

	jwxjwk "github.com/lestrrat-go/jwx/v2/jwk"
)

// Key wraps a parsed jwx key together with the fields needed for the
// thumbprint and the allowlist checks, so callers never reach back into jwx
// types directly.
type Key struct {
	ID        string
	Algorithm string
	raw       jwxjwk.Key
	public    crypto.PublicKey
}

// ParseFromSet extracts the key identified by kid from a jwx key set.
func ParseFromSet(set jwxjwk.Set, kid string) (*Key, error) {
	raw, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("kid %q not found in key set", kid)
	}
	return fromJWX(raw)
}

// ParseFromJSON parses a single embedded JWK, as found in a DPoP proof
// header (RFC 9449 §4.2) where the key is inline rather than referenced by
// kid.
func ParseFromJSON(raw []byte) (*Key, error) {
	k, err := jwxjwk.ParseKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse embedded jwk: %w", err)
	}
	return fromJWX(k)
}

func fromJWX(raw jwxjwk.Key) (*Key, error) {
	var pub any
	if err := raw.Raw(&pub); err != nil {
		return nil, fmt.Errorf("materialize public key: %w", err)
	}
	switch pub.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		// supported key types
	default:
		return nil, fmt.Errorf("unsupported key material type %T", pub)
	}
	return &Key{
		ID:        raw.KeyID(),
		Algorithm: raw.Algorithm().String(),
		raw:       raw,
		public:    pub,
	}, nil
}

// Public returns the underlying *rsa.PublicKey, *ecdsa.PublicKey, or
// ed25519.PublicKey.
func (k *Key) Public() crypto.PublicKey { return k.public }

// KeyType returns the JWK "kty" value (RSA, EC, OKP).
func (k *Key) KeyType() string { return string(k.raw.KeyType()) }

// Raw exposes the underlying jwx key for operations this wrapper doesn't
// cover (e.g. jwx's own Thumbprint, used as a cross-check in tests).
func (k *Key) Raw() jwxjwk.Key { return k.raw }
