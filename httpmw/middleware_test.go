package httpmw

import (
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

	"github.com/cuioss/OAuthSheriff"
	"github.com/cuioss/OAuthSheriff/issuer"
)

func genKeyPair(t *testing.T, kid string) (*rsa.PrivateKey, []byte) {
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

func sign(t *testing.T, priv *rsa.PrivateKey, header, body map[string]any) string {
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

func testEngine(t *testing.T) (*oauthsheriff.Engine, *rsa.PrivateKey) {
	t.Helper()
	priv, jwksJSON := genKeyPair(t, "k1")
	engine, err := oauthsheriff.New(oauthsheriff.WithIssuer(&issuer.Config{
		Identifier:         "https://issuer.example",
		Enabled:            true,
		KeySourceKind:      issuer.KeySourceInline,
		InlineJWKS:         jwksJSON,
		AlgorithmAllowlist: []string{"RS256"},
		ClockSkew:          time.Minute,
	}))
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine, priv
}

func validAccessToken(t *testing.T, priv *rsa.PrivateKey) string {
	return sign(t, priv,
		map[string]any{"alg": "RS256", "kid": "k1"},
		map[string]any{
			"iss": "https://issuer.example",
			"sub": "user1",
			"exp": float64(time.Now().Add(time.Hour).Unix()),
		})
}

func TestCheckJWT_HappyPath(t *testing.T) {
	engine, priv := testEngine(t)
	mw, err := New(engine)
	require.NoError(t, err)

	var gotSubject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, ok := GetClaims(r.Context())
		require.True(t, ok)
		gotSubject = content.Subject
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+validAccessToken(t, priv))
	rec := httptest.NewRecorder()

	mw.CheckJWT(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user1", gotSubject)
}

func TestCheckJWT_MissingTokenRejected(t *testing.T) {
	engine, _ := testEngine(t)
	mw, err := New(engine)
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next should not be called")
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()

	mw.CheckJWT(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckJWT_MissingTokenOptionalCredentials(t *testing.T) {
	engine, _ := testEngine(t)
	mw, err := New(engine, WithCredentialsOptional(true))
	require.NoError(t, err)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.False(t, HasClaims(r.Context()))
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()

	mw.CheckJWT(next).ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckJWT_InvalidTokenRejected(t *testing.T) {
	engine, _ := testEngine(t)
	mw, err := New(engine)
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next should not be called")
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()

	mw.CheckJWT(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCheckJWT_ExclusionURLSkipsValidation(t *testing.T) {
	engine, _ := testEngine(t)
	mw, err := New(engine, WithExclusionUrls("/health"))
	require.NoError(t, err)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	mw.CheckJWT(next).ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckJWT_OptionsSkippedByDefault(t *testing.T) {
	engine, _ := testEngine(t)
	mw, err := New(engine)
	require.NoError(t, err)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodOptions, "/protected", nil)
	rec := httptest.NewRecorder()

	mw.CheckJWT(next).ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckJWT_CustomErrorHandler(t *testing.T) {
	engine, _ := testEngine(t)
	customCalled := false
	mw, err := New(engine, WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
		customCalled = true
		w.WriteHeader(http.StatusTeapot)
	}))
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next should not be called")
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()

	mw.CheckJWT(next).ServeHTTP(rec, req)

	assert.True(t, customCalled)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
