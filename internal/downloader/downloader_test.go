package downloader

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yandecore/internal/eventbus"
	"yandecore/internal/model"
	"yandecore/internal/security"
)

func newTestManager(t *testing.T, bus *eventbus.Bus) *Manager {
	t.Helper()
	validator := security.NewURLValidator([]string{"http", "https"}, []string{"127.0.0.1", "example.com"})
	validator.BlockPrivateIPs = false // httptest servers bind to 127.0.0.1
	validator.ResolveDNS = false
	return New(Config{
		MaxWorkers: 2,
		MaxRetries: 2,
		ChunkSize:  1024,
		MaxFileMB:  10,
		Validator:  validator,
		Bus:        bus,
	})
}

func TestSubmitDownloadScenarioS1(t *testing.T) {
	body := []byte("hello world, this is a test payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	bus := eventbus.New(nil)
	m := newTestManager(t, bus)

	post := model.Post{ID: 42, Rating: model.RatingSafe, FileURL: srv.URL, Tags: "foo bar"}

	done := make(chan string, 1)
	token := m.SubmitDownload(post, dir, nil, func(postID, path string) {
		done <- path
	}, func(postID string, err error) {
		t.Errorf("unexpected failure: %v", err)
	})
	require.NotNil(t, token)

	select {
	case path := <-done:
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, body, data)
		assert.True(t, filepath.IsAbs(path))
		assert.Contains(t, path, "Safe")
	case <-time.After(5 * time.Second):
		t.Fatal("download did not complete in time")
	}
}

func TestSubmitDownloadRejectsDuplicate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	m := newTestManager(t, nil)
	post := model.Post{ID: 7, Rating: model.RatingSafe, FileURL: srv.URL}

	first := m.SubmitDownload(post, dir, nil, func(string, string) {}, func(string, error) {})
	require.NotNil(t, first)
	second := m.SubmitDownload(post, dir, nil, func(string, string) {}, func(string, error) {})
	assert.Nil(t, second)

	m.Shutdown(true, time.Second)
}

// TestSubmitDownloadScenarioS2ResumeAfterConnectionDrop covers resuming a
// transfer whose connection was severed mid-stream: the first attempt
// writes part of the body then the server hijacks and kills the raw
// connection, and the retry loop's next attempt must pick up with a
// Range request for the remaining bytes.
func TestSubmitDownloadScenarioS2ResumeAfterConnectionDrop(t *testing.T) {
	full := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	const cut = 10
	var attempt int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempt, 1) == 1 {
			w.Header().Set("Content-Length", strconv.Itoa(len(full)))
			w.WriteHeader(http.StatusOK)
			w.Write(full[:cut])
			w.(http.Flusher).Flush()

			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}

		require.Equal(t, fmt.Sprintf("bytes=%d-", cut), r.Header.Get("Range"))
		w.Header().Set("Content-Length", strconv.Itoa(len(full)-cut))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(full[cut:])
	}))
	defer srv.Close()

	dir := t.TempDir()
	m := newTestManager(t, nil)
	post := model.Post{ID: 77, Rating: model.RatingSafe, FileURL: srv.URL}

	done := make(chan string, 1)
	failed := make(chan error, 1)
	token := m.SubmitDownload(post, dir, nil, func(postID, path string) {
		done <- path
	}, func(postID string, err error) {
		failed <- err
	})
	require.NotNil(t, token)

	select {
	case path := <-done:
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, full, data)
	case err := <-failed:
		t.Fatalf("unexpected failure: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("resume did not complete in time")
	}

	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempt), int32(2))
}

func TestValidateRejectsEmptyURL(t *testing.T) {
	m := newTestManager(t, nil)
	err := m.validate(model.Post{ID: 1})
	require.Error(t, err)
	de, ok := AsDownloadError(err)
	require.True(t, ok)
	assert.Equal(t, KindValidation, de.Kind)
}

func TestPlanProducesSanitizedPathUnderRatingFolder(t *testing.T) {
	m := newTestManager(t, nil)
	dir := t.TempDir()
	post := model.Post{ID: 99, Rating: model.RatingExplicit, FileURL: "https://example.com/img/photo.png?x=1", Tags: "a b/c"}

	target, err := m.plan(post, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Explicit"), filepath.Dir(target))
	assert.Contains(t, filepath.Base(target), "99_")
	assert.NotContains(t, target, "..")
}

func TestCancelDownloadStopsInFlightTransfer(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("start"))
		w.(http.Flusher).Flush()
		<-block
	}))
	defer srv.Close()
	defer close(block)

	dir := t.TempDir()
	m := newTestManager(t, nil)
	post := model.Post{ID: 55, Rating: model.RatingSafe, FileURL: srv.URL}

	failed := make(chan error, 1)
	token := m.SubmitDownload(post, dir, nil, func(string, string) {}, func(postID string, err error) {
		failed <- err
	})
	require.NotNil(t, token)

	time.Sleep(50 * time.Millisecond)
	ok := m.CancelDownload(post.AssetID(), "user requested")
	assert.True(t, ok)

	select {
	case err := <-failed:
		de, ok := AsDownloadError(err)
		require.True(t, ok)
		assert.Equal(t, KindCancelled, de.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("cancellation did not propagate")
	}
}

func TestAsDownloadErrorUnwraps(t *testing.T) {
	err := notFoundf("missing %s", "thing")
	de, ok := AsDownloadError(err)
	require.True(t, ok)
	assert.Equal(t, KindNotFound, de.Kind)
	assert.False(t, de.Retryable())

	transient := transientf("flaky")
	de2, _ := AsDownloadError(transient)
	assert.True(t, de2.Retryable())
}
