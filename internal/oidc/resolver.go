package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cuioss/OAuthSheriff/issuer"
)

// Document is the subset of the OIDC discovery document the engine needs.
type Document struct {
	Issuer                string `json:"issuer"`
	JWKSURI               string `json:"jwks_uri"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
}

type result struct {
	doc  *Document
	etag string
	err  error
}

// Resolver performs a single GET (no If-None-Match) against
// <issuer>/.well-known/openid-configuration, lazily and exactly once, then
// serves the cached result to every subsequent caller. Grounded on
// HttpWellKnownResolver.java's AtomicReference + "load exactly once" shape,
// expressed in Go with sync.Once.
//
// The HTTP fetch is wrapped in an exponential-backoff-with-jitter retry,
// matching spec.md §4.5's "resilient adapter" composition.
type Resolver struct {
	issuerURL *url.URL
	client    *http.Client
	retry     issuer.RetryConfig

	once   sync.Once
	loaded atomic.Pointer[result]
	status atomic.Int32 // issuer.LoaderStatus
}

// NewResolver constructs a Resolver for issuerURL.
func NewResolver(issuerURL *url.URL, client *http.Client, retry issuer.RetryConfig) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Resolver{issuerURL: issuerURL, client: client, retry: retry}
}

// Status reports the resolver's current LoaderStatus.
func (r *Resolver) Status() issuer.LoaderStatus {
	return issuer.LoaderStatus(r.status.Load())
}

func (r *Resolver) setStatus(s issuer.LoaderStatus) {
	r.status.Store(int32(s))
}

// ensureLoaded performs the discovery fetch on the first call only; every
// subsequent call observes the same result, including the same error.
func (r *Resolver) ensureLoaded(ctx context.Context) *result {
	r.once.Do(func() {
		r.setStatus(issuer.StatusLoading)
		doc, etag, err := r.fetchWithRetry(ctx)
		res := &result{doc: doc, etag: etag, err: err}
		r.loaded.Store(res)
		if err != nil {
			r.setStatus(issuer.StatusError)
		} else {
			r.setStatus(issuer.StatusOk)
		}
	})
	return r.loaded.Load()
}

func (r *Resolver) fetchWithRetry(ctx context.Context) (*Document, string, error) {
	u := *r.issuerURL
	u.Path = path.Join(u.Path, ".well-known/openid-configuration")

	var doc *Document
	var etag string

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build discovery request: %w", err))
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return fmt.Errorf("discovery request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
		}

		limited := io.LimitReader(resp.Body, 1<<20)
		var d Document
		if err := json.NewDecoder(limited).Decode(&d); err != nil {
			return backoff.Permanent(fmt.Errorf("decode discovery document: %w", err))
		}
		doc = &d
		etag = resp.Header.Get("ETag")
		return nil
	}

	if !r.retry.Enabled {
		if err := operation(); err != nil {
			return nil, "", err
		}
		return doc, etag, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.retry.InitialDelay
	bo.MaxInterval = r.retry.MaxDelay
	bo.Multiplier = r.retry.Multiplier
	bo.RandomizationFactor = 0
	if r.retry.JitterEnabled {
		bo.RandomizationFactor = 0.5
	}

	retryable := backoff.WithMaxRetries(bo, uint64(maxInt(0, r.retry.MaxAttempts-1)))
	if err := backoff.Retry(operation, backoff.WithContext(retryable, ctx)); err != nil {
		return nil, "", err
	}
	return doc, etag, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// JWKSURI returns the discovered jwks_uri, lazily resolving on first call.
func (r *Resolver) JWKSURI(ctx context.Context) (string, error) {
	res := r.ensureLoaded(ctx)
	if res.err != nil {
		return "", res.err
	}
	return res.doc.JWKSURI, nil
}

// Issuer returns the discovered issuer claim, lazily resolving on first call.
func (r *Resolver) Issuer(ctx context.Context) (string, error) {
	res := r.ensureLoaded(ctx)
	if res.err != nil {
		return "", res.err
	}
	return res.doc.Issuer, nil
}

// Document returns the full discovery document, lazily resolving on first
// call.
func (r *Resolver) Document(ctx context.Context) (*Document, error) {
	res := r.ensureLoaded(ctx)
	return res.doc, res.err
}

// ResolveIssuer implements spec.md §4.5.2's reconciliation rule: if both a
// configured issuer and a discovered issuer are present and differ, the
// configured value wins and the caller should emit an IssuerMismatch
// security event; if only one is present, use it; if neither, fail.
func ResolveIssuer(discovered, configured string) (string, bool, error) {
	switch {
	case configured != "" && discovered != "" && configured != discovered:
		return configured, true, nil // mismatch: configured wins
	case configured != "":
		return configured, false, nil
	case discovered != "":
		return discovered, false, nil
	default:
		return "", false, fmt.Errorf("no issuer available: neither configured nor discovered")
	}
}
