package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutAndGet(t *testing.T) {
	c := New(10, 0)
	c.Put("fp1", &Entry{Content: "hello", ExpiresAt: time.Now().Add(time.Hour)})

	e, ok, err := c.Get("fp1", false, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", e.Content)
}

func TestCache_ExpiredEntryIsMiss(t *testing.T) {
	c := New(10, 0)
	c.Put("fp1", &Entry{Content: "hello", ExpiresAt: time.Now().Add(-time.Second)})

	_, ok, err := c.Get("fp1", false, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_LRUEviction(t *testing.T) {
	c := New(2, 0)
	c.Put("a", &Entry{ExpiresAt: time.Now().Add(time.Hour)})
	c.Put("b", &Entry{ExpiresAt: time.Now().Add(time.Hour)})

	// touch "a" so "b" becomes least-recently-used
	_, _, _ = c.Get("a", false, nil)
	c.Put("c", &Entry{ExpiresAt: time.Now().Add(time.Hour)})

	_, ok, _ := c.Get("b", false, nil)
	assert.False(t, ok)
	_, ok, _ = c.Get("a", false, nil)
	assert.True(t, ok)
	_, ok, _ = c.Get("c", false, nil)
	assert.True(t, ok)
}

func TestCache_HitWithDpopCheckPropagatesFailureWithoutPoisoning(t *testing.T) {
	c := New(10, 0)
	c.Put("fp1", &Entry{Content: "hello", ExpiresAt: time.Now().Add(time.Hour)})

	_, ok, err := c.Get("fp1", true, func() error { return errors.New("dpop replay") })
	assert.False(t, ok)
	assert.Error(t, err)

	// The entry itself must survive the failed DPoP check.
	e, ok, err := c.Get("fp1", false, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", e.Content)
}

func TestCache_GetOrBuild_CoalescesConcurrentBuilds(t *testing.T) {
	c := New(10, 0)
	var builds atomic.Int32

	var wg sync.WaitGroup
	results := make([]*Entry, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			e, err := c.GetOrBuild("fp1", false, nil, func() (*Entry, error) {
				builds.Add(1)
				time.Sleep(10 * time.Millisecond)
				return &Entry{Content: "built", ExpiresAt: time.Now().Add(time.Hour)}, nil
			})
			require.NoError(t, err)
			results[idx] = e
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	for _, e := range results {
		assert.Equal(t, "built", e.Content)
	}
}

func TestCache_GetOrBuild_FailureIsNotCached(t *testing.T) {
	c := New(10, 0)
	var attempts atomic.Int32

	_, err := c.GetOrBuild("fp1", false, nil, func() (*Entry, error) {
		attempts.Add(1)
		return nil, errors.New("build failed")
	})
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())

	_, err = c.GetOrBuild("fp1", false, nil, func() (*Entry, error) {
		attempts.Add(1)
		return &Entry{Content: "ok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
}
