package oauthsheriff

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwxjwk "github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuioss/OAuthSheriff/issuer"
)

func genRSAKeyPairJSON(t *testing.T, kid string) (*rsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubJWK, err := jwxjwk.FromRaw(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pubJWK.Set(jwxjwk.KeyIDKey, kid))
	require.NoError(t, pubJWK.Set(jwxjwk.AlgorithmKey, "RS256"))

	set := jwxjwk.NewSet()
	require.NoError(t, set.AddKey(pubJWK))
	raw, err := json.Marshal(set)
	require.NoError(t, err)
	return priv, raw
}

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func signRS256(t *testing.T, priv *rsa.PrivateKey, header, body map[string]any) string {
	t.Helper()
	h, err := json.Marshal(header)
	require.NoError(t, err)
	p, err := json.Marshal(body)
	require.NoError(t, err)

	signingInput := b64(h) + "." + b64(p)
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	require.NoError(t, err)
	return signingInput + "." + b64(sig)
}

func inlineIssuerConfig(identifier string, jwks []byte) *issuer.Config {
	return &issuer.Config{
		Identifier:         identifier,
		Enabled:            true,
		KeySourceKind:      issuer.KeySourceInline,
		InlineJWKS:         jwks,
		AlgorithmAllowlist: []string{"RS256"},
		ClockSkew:          time.Minute,
	}
}

func TestNew_RequiresAtLeastOneIssuer(t *testing.T) {
	_, err := New()
	assert.ErrorIs(t, err, ErrNoIssuers)
}

func TestNew_RejectsNilIssuer(t *testing.T) {
	_, err := New(WithIssuer(nil))
	assert.ErrorIs(t, err, ErrIssuerNil)
}

func TestNew_RejectsDuplicateIssuer(t *testing.T) {
	_, priv := genRSAKeyPairJSON(t, "k1")
	cfg := inlineIssuerConfig("https://issuer.example", priv)
	_, err := New(WithIssuer(cfg), WithIssuer(cfg))
	assert.ErrorIs(t, err, ErrDuplicateIssuer)
}

func TestEngine_ValidateAccessToken_HappyPath(t *testing.T) {
	priv, jwksJSON := genRSAKeyPairJSON(t, "k1")
	engine, err := New(WithIssuer(inlineIssuerConfig("https://issuer.example", jwksJSON)))
	require.NoError(t, err)
	defer engine.Close()

	raw := signRS256(t, priv,
		map[string]any{"alg": "RS256", "kid": "k1"},
		map[string]any{
			"iss": "https://issuer.example",
			"sub": "user1",
			"exp": float64(time.Now().Add(time.Hour).Unix()),
		})

	content, err := engine.ValidateAccessToken(context.Background(), raw, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://issuer.example", content.Issuer)
	assert.Equal(t, "user1", content.Subject)
}

func TestEngine_ValidateAccessToken_UnknownIssuer(t *testing.T) {
	priv, jwksJSON := genRSAKeyPairJSON(t, "k1")
	engine, err := New(WithIssuer(inlineIssuerConfig("https://issuer.example", jwksJSON)))
	require.NoError(t, err)
	defer engine.Close()

	raw := signRS256(t, priv,
		map[string]any{"alg": "RS256", "kid": "k1"},
		map[string]any{
			"iss": "https://other.example",
			"sub": "user1",
			"exp": float64(time.Now().Add(time.Hour).Unix()),
		})

	_, err = engine.ValidateAccessToken(context.Background(), raw, nil)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, CodeUnknownIssuer, ve.Code)
}

func TestEngine_ValidateIDToken_NonceMismatch(t *testing.T) {
	priv, jwksJSON := genRSAKeyPairJSON(t, "k1")
	engine, err := New(WithIssuer(inlineIssuerConfig("https://issuer.example", jwksJSON)))
	require.NoError(t, err)
	defer engine.Close()

	raw := signRS256(t, priv,
		map[string]any{"alg": "RS256", "kid": "k1"},
		map[string]any{
			"iss":   "https://issuer.example",
			"sub":   "user1",
			"exp":   float64(time.Now().Add(time.Hour).Unix()),
			"nonce": "abc",
		})

	_, err = engine.ValidateIDToken(context.Background(), raw, "xyz")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, CodeNonceMismatch, ve.Code)
}

func TestEngine_ValidateRefreshToken_OpaqueStringIsNotAnError(t *testing.T) {
	_, jwksJSON := genRSAKeyPairJSON(t, "k1")
	engine, err := New(WithIssuer(inlineIssuerConfig("https://issuer.example", jwksJSON)))
	require.NoError(t, err)
	defer engine.Close()

	content := engine.ValidateRefreshToken("opaque-refresh-token")
	assert.False(t, content.IsJWT)
	assert.Equal(t, "opaque-refresh-token", content.Raw)
}

func TestEngine_IssuerStatus_ReportsEveryConfiguredIssuer(t *testing.T) {
	_, jwksJSON := genRSAKeyPairJSON(t, "k1")
	engine, err := New(WithIssuer(inlineIssuerConfig("https://issuer.example", jwksJSON)))
	require.NoError(t, err)
	defer engine.Close()

	statuses := engine.IssuerStatus()
	require.Len(t, statuses, 1)
	assert.Equal(t, "https://issuer.example", statuses[0].Identifier)
	assert.True(t, statuses[0].Enabled)
}

func TestEngine_ValidateAccessToken_HTTPKeySource(t *testing.T) {
	priv, jwksJSON := genRSAKeyPairJSON(t, "k1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(jwksJSON)
	}))
	defer srv.Close()

	cfg := &issuer.Config{
		Identifier:         "https://issuer.example",
		Enabled:            true,
		KeySourceKind:      issuer.KeySourceHTTP,
		KeySourceLocation:  srv.URL,
		AlgorithmAllowlist: []string{"RS256"},
		ClockSkew:          time.Minute,
		Retry:              issuer.RetryConfig{Enabled: false},
		HTTP:               issuer.DefaultHTTPConfig,
	}
	cfg.HTTP.BackgroundRefresh = false

	engine, err := New(WithIssuer(cfg), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	defer engine.Close()

	raw := signRS256(t, priv,
		map[string]any{"alg": "RS256", "kid": "k1"},
		map[string]any{
			"iss": "https://issuer.example",
			"sub": "user1",
			"exp": float64(time.Now().Add(time.Hour).Unix()),
		})

	content, err := engine.ValidateAccessToken(context.Background(), raw, nil)
	require.NoError(t, err)
	assert.Equal(t, "user1", content.Subject)
}
