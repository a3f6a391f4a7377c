package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuioss/OAuthSheriff/issuer"
)

func TestResolver_FetchesOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(Document{
			Issuer:  "https://issuer.example",
			JWKSURI: "https://issuer.example/jwks.json",
		})
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	r := NewResolver(u, srv.Client(), issuer.RetryConfig{Enabled: false})

	for i := 0; i < 5; i++ {
		uri, err := r.JWKSURI(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "https://issuer.example/jwks.json", uri)
	}

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, issuer.StatusOk, r.Status())
}

func TestResolver_PermanentErrorCachedAcrossCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	r := NewResolver(u, srv.Client(), issuer.RetryConfig{Enabled: false})

	_, err1 := r.JWKSURI(context.Background())
	_, err2 := r.JWKSURI(context.Background())
	assert.Error(t, err1)
	assert.Error(t, err2)
	assert.Equal(t, issuer.StatusError, r.Status())
}

func TestResolveIssuer(t *testing.T) {
	id, mismatch, err := ResolveIssuer("https://discovered", "https://configured")
	require.NoError(t, err)
	assert.Equal(t, "https://configured", id)
	assert.True(t, mismatch)

	id, mismatch, err = ResolveIssuer("https://same", "https://same")
	require.NoError(t, err)
	assert.Equal(t, "https://same", id)
	assert.False(t, mismatch)

	id, _, err = ResolveIssuer("", "https://configured")
	require.NoError(t, err)
	assert.Equal(t, "https://configured", id)

	_, _, err = ResolveIssuer("", "")
	assert.Error(t, err)
}
