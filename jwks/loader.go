// Package jwks fetches and holds an issuer's verification keys, with
// ETag-aware conditional refresh, exponential-backoff retry, and a
// retired-keyset grace period across rotations (spec.md §4.5.1).
package jwks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	jwxjwk "github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/cuioss/OAuthSheriff/issuer"
	"github.com/cuioss/OAuthSheriff/jwk"
	"github.com/cuioss/OAuthSheriff/security"
)

// keyset is an immutable snapshot of one fetch's verification keys, plus
// enough HTTP-caching metadata to make the next fetch conditional.
type keyset struct {
	keys      map[string]*jwk.Key
	etag      string
	raw       []byte // for value-equality comparison across fetches
	fetchedAt time.Time
	cacheTTL  time.Duration // from Cache-Control: max-age, 0 if absent/invalid
}

func (k *keyset) get(kid string) (*jwk.Key, bool) {
	if k == nil {
		return nil, false
	}
	key, ok := k.keys[kid]
	return key, ok
}

// retired is a keyset that has been superseded by a rotation but is kept
// around for HTTPConfig.GracePeriod so in-flight tokens signed with the old
// key still verify (spec.md §4.5.1's "retired keyset grace period").
type retired struct {
	set      *keyset
	expireAt time.Time
}

// Loader fetches and caches one issuer's JWKS, following the
// Undefined → Loading → (Ok | Error) state machine, with background refresh
// and a bounded deque of retired keysets for rotation grace. Grounded on
// HttpJwksLoader.java's loader state machine, expressed in Go with
// atomics and a background goroutine instead of a scheduled executor.
type Loader struct {
	cfg    *issuer.Config
	client *http.Client
	events *security.Counter

	current atomic.Pointer[keyset]

	mu          sync.Mutex
	retiredSets []retired
	initOnce    sync.Once
	initErr     atomic.Pointer[string]

	status       atomic.Int32 // issuer.LoaderStatus
	stopRefresh  chan struct{}
	refreshOnce  sync.Once

	uriResolver func(ctx context.Context) (string, error)
}

// NewLoader constructs a Loader for cfg. The initial fetch is performed
// lazily, on first GetKey or EnsureLoaded call, never in the constructor.
// The JWKS URI is cfg.KeySourceLocation, used as-is (KeySourceHTTP).
func NewLoader(cfg *issuer.Config, client *http.Client, events *security.Counter) *Loader {
	return newLoader(cfg, client, events, nil)
}

// NewDiscoveredLoader constructs a Loader whose JWKS URI is resolved
// lazily via resolver (KeySourceWellKnown) instead of read directly from
// cfg.KeySourceLocation, grounded on HttpJwksLoader.java's well-known
// variant sharing the same fetch/retry/rotation machinery as the direct one.
func NewDiscoveredLoader(cfg *issuer.Config, client *http.Client, events *security.Counter, resolver func(ctx context.Context) (string, error)) *Loader {
	return newLoader(cfg, client, events, resolver)
}

func newLoader(cfg *issuer.Config, client *http.Client, events *security.Counter, uriResolver func(ctx context.Context) (string, error)) *Loader {
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTP.ReadTimeout}
	}
	return &Loader{
		cfg:         cfg,
		client:      client,
		events:      events,
		stopRefresh: make(chan struct{}),
		uriResolver: uriResolver,
	}
}

// Status reports the loader's LoaderStatus, suitable for wiring into
// issuer.Registry.SetStatusFunc.
func (l *Loader) Status() issuer.LoaderStatus {
	return issuer.LoaderStatus(l.status.Load())
}

func (l *Loader) setStatus(s issuer.LoaderStatus) {
	l.status.Store(int32(s))
}

// EnsureLoaded performs the initial fetch exactly once. Subsequent calls are
// no-ops once the first attempt has completed, successfully or not.
//
// This resolves the documented Open Question: when the initial load fails,
// the loader's status stays Undefined if background refresh is enabled
// (since a later refresh may still succeed), and becomes Error only when
// background refresh is disabled (a failed one-shot load has no recovery
// path, so Undefined would misrepresent it as "not yet attempted").
func (l *Loader) EnsureLoaded(ctx context.Context) error {
	l.initOnce.Do(func() {
		l.setStatus(issuer.StatusLoading)
		set, err := l.fetch(ctx, nil)
		if err != nil {
			msg := err.Error()
			l.initErr.Store(&msg)
			if l.cfg.HTTP.BackgroundRefresh {
				l.setStatus(issuer.StatusUndefined)
				l.startBackgroundRefresh()
			} else {
				l.setStatus(issuer.StatusError)
			}
			l.events.Increment(security.EventJwksFetchFailed)
			return
		}
		l.current.Store(set)
		l.setStatus(issuer.StatusOk)
		if l.cfg.HTTP.BackgroundRefresh {
			l.startBackgroundRefresh()
		}
	})

	if l.current.Load() == nil {
		if p := l.initErr.Load(); p != nil {
			return fmt.Errorf("jwks: initial load failed: %s", *p)
		}
	}
	return nil
}

// GetKey resolves kid against the current keyset, falling back to any
// still-valid retired keyset (spec.md §4.5.1's rotation grace period).
func (l *Loader) GetKey(ctx context.Context, kid string) (*jwk.Key, error) {
	if err := l.EnsureLoaded(ctx); err != nil {
		return nil, err
	}

	if key, ok := l.current.Load().get(kid); ok {
		return key, nil
	}

	l.mu.Lock()
	for _, r := range l.retiredSets {
		if time.Now().Before(r.expireAt) {
			if key, ok := r.set.get(kid); ok {
				l.mu.Unlock()
				return key, nil
			}
		}
	}
	l.mu.Unlock()

	l.events.Increment(security.EventKeyNotFound)
	return nil, fmt.Errorf("jwks: key %q not found", kid)
}

// Refresh forces an out-of-band re-fetch, used by the background refresh
// loop and available for manual invalidation.
func (l *Loader) Refresh(ctx context.Context) error {
	prev := l.current.Load()
	var etag string
	if prev != nil {
		etag = prev.etag
	}

	set, err := l.fetch(ctx, prevETag(etag))
	if err != nil {
		l.setStatus(issuer.StatusError)
		l.events.Increment(security.EventJwksFetchFailed)
		return err
	}
	if set == nil {
		// 304 Not Modified: nothing changed.
		l.setStatus(issuer.StatusOk)
		return nil
	}

	if prev != nil && bytes.Equal(prev.raw, set.raw) {
		// Value-equality no-op: same keys, the current keyset stays as it is.
		l.setStatus(issuer.StatusOk)
		return nil
	}

	l.rotate(prev, set)
	l.setStatus(issuer.StatusOk)
	return nil
}

func prevETag(etag string) *string {
	if etag == "" {
		return nil
	}
	return &etag
}

// rotate installs set as current and demotes prev to the retired deque,
// pruning expired and overflow entries per HTTPConfig.GracePeriod/
// MaxRetiredKeySets.
func (l *Loader) rotate(prev, set *keyset) {
	l.current.Store(set)
	if prev == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.retiredSets = append(l.retiredSets, retired{set: prev, expireAt: now.Add(l.cfg.HTTP.GracePeriod)})

	fresh := l.retiredSets[:0]
	for _, r := range l.retiredSets {
		if now.Before(r.expireAt) {
			fresh = append(fresh, r)
		}
	}
	l.retiredSets = fresh

	if max := l.cfg.HTTP.MaxRetiredKeySets; max > 0 && len(l.retiredSets) > max {
		l.retiredSets = l.retiredSets[len(l.retiredSets)-max:]
	}
}

func (l *Loader) startBackgroundRefresh() {
	l.refreshOnce.Do(func() {
		go func() {
			timer := time.NewTimer(l.nextRefreshInterval())
			defer timer.Stop()
			for {
				select {
				case <-timer.C:
					ctx, cancel := context.WithTimeout(context.Background(), l.cfg.HTTP.ReadTimeout)
					_ = l.Refresh(ctx)
					cancel()
					timer.Reset(l.nextRefreshInterval())
				case <-l.stopRefresh:
					return
				}
			}
		}()
	})
}

// nextRefreshInterval honors the server's Cache-Control max-age when it is
// shorter than the configured refresh interval, mirroring how a browser
// cache would respect an origin's freshness hint.
func (l *Loader) nextRefreshInterval() time.Duration {
	interval := l.cfg.HTTP.RefreshInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if set := l.current.Load(); set != nil && set.cacheTTL > 0 && set.cacheTTL < interval {
		return set.cacheTTL
	}
	return interval
}

// Close stops the background refresh goroutine, if running.
func (l *Loader) Close() {
	select {
	case <-l.stopRefresh:
	default:
		close(l.stopRefresh)
	}
}

// fetch performs one HTTP GET against the configured JWKS URI (sending
// If-None-Match when priorETag is non-nil), wrapped in the retry adapter,
// and parses the response into a keyset. A nil *keyset with a nil error
// means the server replied 304 Not Modified.
func (l *Loader) fetch(ctx context.Context, priorETag *string) (*keyset, error) {
	jwksURI := l.cfg.KeySourceLocation
	if l.uriResolver != nil {
		uri, err := l.uriResolver(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve jwks uri: %w", err)
		}
		jwksURI = uri
	}

	var result *keyset
	var notModified bool

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build jwks request: %w", err))
		}
		if priorETag != nil && *priorETag != "" {
			req.Header.Set("If-None-Match", *priorETag)
		}

		resp, err := l.client.Do(req)
		if err != nil {
			return fmt.Errorf("jwks request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotModified {
			notModified = true
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
		}

		maxBytes := l.cfg.HTTP.MaxResponseBytes
		if maxBytes <= 0 {
			maxBytes = 1024 * 1024
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read jwks response: %w", err))
		}

		set, err := jwxjwk.Parse(body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("parse jwks: %w", err))
		}

		keys := make(map[string]*jwk.Key, set.Len())
		for i := 0; i < set.Len(); i++ {
			raw, ok := set.Key(i)
			if !ok {
				continue
			}
			parsed, err := jwk.ParseFromSet(set, raw.KeyID())
			if err != nil {
				continue // skip keys of unsupported type; not a fetch-level failure
			}
			keys[raw.KeyID()] = parsed
		}

		var cacheTTL time.Duration
		if cc := resp.Header.Get("Cache-Control"); cc != "" {
			cacheTTL = parseCacheControl(cc)
		}

		result = &keyset{
			keys:      keys,
			etag:      resp.Header.Get("ETag"),
			raw:       body,
			fetchedAt: time.Now(),
			cacheTTL:  cacheTTL,
		}
		return nil
	}

	if !l.cfg.Retry.Enabled {
		if err := operation(); err != nil {
			return nil, err
		}
	} else {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = l.cfg.Retry.InitialDelay
		bo.MaxInterval = l.cfg.Retry.MaxDelay
		bo.Multiplier = l.cfg.Retry.Multiplier
		bo.RandomizationFactor = 0
		if l.cfg.Retry.JitterEnabled {
			bo.RandomizationFactor = 0.5
		}
		retryable := backoff.WithMaxRetries(bo, uint64(maxInt(0, l.cfg.Retry.MaxAttempts-1)))
		if err := backoff.Retry(operation, backoff.WithContext(retryable, ctx)); err != nil {
			return nil, err
		}
	}

	if notModified {
		return nil, nil
	}
	return result, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// parseCacheControl extracts the max-age directive from a Cache-Control
// header value, rejecting values outside a sane [1s, 7d] range.
func parseCacheControl(cacheControl string) time.Duration {
	const (
		maxAgePrefix = "max-age="
		minTTL       = 1 * time.Second
		maxTTL       = 7 * 24 * time.Hour
	)

	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if !strings.HasPrefix(directive, maxAgePrefix) {
			continue
		}
		seconds, err := strconv.ParseInt(strings.TrimPrefix(directive, maxAgePrefix), 10, 64)
		if err != nil || seconds <= 0 {
			continue
		}
		ttl := time.Duration(seconds) * time.Second
		if ttl < minTTL || ttl > maxTTL {
			return 0
		}
		return ttl
	}
	return 0
}
