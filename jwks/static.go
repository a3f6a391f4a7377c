package jwks

import (
	"context"
	"fmt"

	jwxjwk "github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/cuioss/OAuthSheriff/issuer"
	"github.com/cuioss/OAuthSheriff/jwk"
)

// StaticKeySet serves a fixed JWKS parsed once at construction, for
// KeySourceInline and KeySourceFile issuers (spec.md §4.5 lists these as
// key-source kinds alongside the HTTP/well-known variants the Loader
// handles; neither needs the Loader's fetch/retry/rotation machinery since
// the keys never change at runtime).
type StaticKeySet struct {
	keys map[string]*jwk.Key
}

// NewStaticKeySet parses raw as a JWKS document and holds every key it
// contains.
func NewStaticKeySet(raw []byte) (*StaticKeySet, error) {
	set, err := jwxjwk.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse static jwks: %w", err)
	}

	keys := make(map[string]*jwk.Key, set.Len())
	for i := 0; i < set.Len(); i++ {
		raw, ok := set.Key(i)
		if !ok {
			continue
		}
		parsed, err := jwk.ParseFromSet(set, raw.KeyID())
		if err != nil {
			continue
		}
		keys[raw.KeyID()] = parsed
	}
	return &StaticKeySet{keys: keys}, nil
}

// GetKey resolves kid against the fixed key set. Satisfies pipeline.KeyResolver.
func (s *StaticKeySet) GetKey(_ context.Context, kid string) (*jwk.Key, error) {
	key, ok := s.keys[kid]
	if !ok {
		return nil, fmt.Errorf("jwks: key %q not found in static key set", kid)
	}
	return key, nil
}

// Status always reports Ok: a StaticKeySet either failed to parse at
// construction (returned as an error from NewStaticKeySet) or is always
// ready.
func (s *StaticKeySet) Status() issuer.LoaderStatus {
	return issuer.StatusOk
}
