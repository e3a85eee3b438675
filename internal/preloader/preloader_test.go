package preloader

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aalpar/deheap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yandecore/internal/cache"
	"yandecore/internal/model"
	"yandecore/internal/security"
	"yandecore/internal/session"
)

func newTestPreloader(t *testing.T, workers int, imgCache *cache.MemoryAwareLRUCache, onFailed func(Result)) *Preloader {
	t.Helper()
	validator := security.NewURLValidator([]string{"http", "https"}, []string{"127.0.0.1"})
	validator.BlockPrivateIPs = false
	validator.ResolveDNS = false
	sess := session.New(session.Config{MaxRetries: 1})

	p := New(Config{
		Workers:   workers,
		Session:   sess,
		Cache:     imgCache,
		Validator: validator,
		OnFailed:  onFailed,
	})
	t.Cleanup(p.Shutdown)
	return p
}

func onePixelPNG() []byte {
	// A minimal valid 1x1 PNG, same fixture shape used across the pack's
	// image-decoding tests.
	return []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
		0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
		0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
		0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
	}
}

func TestPreloadImmediateFetchesAndCachesImage(t *testing.T) {
	body := onePixelPNG()
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer srv.Close()

	imgCache := cache.NewMemoryAwareLRUCache(10, 10*1024*1024, nil)
	p := newTestPreloader(t, 2, imgCache, nil)

	post := model.Post{ID: 1, SampleURL: srv.URL}
	p.PreloadImmediate(post)

	require.Eventually(t, func() bool {
		return imgCache.Has(post.AssetID())
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&requests))
}

// TestEnqueueSkipsAlreadyCachedPost verifies enqueue never schedules a
// fetch for a post already present in the image cache (spec's
// already-cached skip for preload_immediate/next_page/batch).
func TestEnqueueSkipsAlreadyCachedPost(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Write(onePixelPNG())
	}))
	defer srv.Close()

	imgCache := cache.NewMemoryAwareLRUCache(10, 10*1024*1024, nil)
	post := model.Post{ID: 2, SampleURL: srv.URL}
	imgCache.Put(post.AssetID(), cachedImage{Bytes: 4})

	p := newTestPreloader(t, 2, imgCache, nil)
	p.PreloadImmediate(post)

	// Give the scheduler a chance to run, then confirm no fetch happened.
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&requests))

	p.mu.Lock()
	_, pending := p.pending[post.AssetID()]
	p.mu.Unlock()
	assert.False(t, pending)
}

// TestRunWorkerExitsWithoutFetchingWhenAlreadyCached covers the race
// window between enqueue's cache check and the worker actually running:
// even if a task makes it onto the heap, runWorker must not re-fetch a
// post that became cached in the meantime.
func TestRunWorkerExitsWithoutFetchingWhenAlreadyCached(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Write(onePixelPNG())
	}))
	defer srv.Close()

	imgCache := cache.NewMemoryAwareLRUCache(10, 10*1024*1024, nil)
	p := newTestPreloader(t, 2, imgCache, nil)

	post := model.Post{ID: 3, SampleURL: srv.URL}
	t2 := &task{postID: post.AssetID(), post: post, priority: PriorityImmediate}
	imgCache.Put(post.AssetID(), cachedImage{Bytes: 4})

	p.runWorker(t2)

	assert.EqualValues(t, 0, atomic.LoadInt32(&requests))
}

func TestBoostPriorityReturnsFalseForUnknownPost(t *testing.T) {
	p := newTestPreloader(t, 1, cache.NewMemoryAwareLRUCache(10, 1<<20, nil), nil)
	assert.False(t, p.BoostPriority("missing"))
}

func TestBoostPriorityReturnsTrueOnRealChange(t *testing.T) {
	p := newTestPreloader(t, 1, cache.NewMemoryAwareLRUCache(10, 1<<20, nil), nil)
	post := model.Post{ID: 4}

	// Pushed directly (not via enqueue/cond.Signal) so the scheduler
	// goroutine, already asleep on an empty heap, never races to pop
	// this task before the boost assertions below run.
	p.mu.Lock()
	tk := &task{postID: post.AssetID(), post: post, priority: PriorityPrefetch}
	p.pending[post.AssetID()] = tk
	deheap.Push(&p.heap, tk)
	p.mu.Unlock()

	assert.True(t, p.BoostPriority(post.AssetID()))
	assert.False(t, p.BoostPriority(post.AssetID())) // already PriorityImmediate now
}

func TestOnFailedCalledAfterPermanentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	results := make(chan Result, 1)
	imgCache := cache.NewMemoryAwareLRUCache(10, 1<<20, nil)
	p := newTestPreloader(t, 1, imgCache, func(r Result) { results <- r })

	post := model.Post{ID: 5, SampleURL: srv.URL}
	p.PreloadImmediate(post)

	select {
	case r := <-results:
		assert.Equal(t, post.AssetID(), r.PostID)
		assert.False(t, r.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("on_failed was never invoked")
	}
}
