package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"yandecore/internal/model"
	"yandecore/internal/security"
)

const (
	resumeSlackBytes = 5 * 1024 // §4.8 Stream: abort if on-disk exceeds expected total by more than this
	progressInterval = 100 * time.Millisecond
	initialBackoff   = 1 * time.Second
	maxBackoff       = 60 * time.Second
)

// execute runs the full per-task state machine described in §4.8:
// Validate -> Plan -> Attempt (retry loop) -> Finalize. The caller
// (runTask) handles Terminate bookkeeping once this returns.
func (m *Manager) execute(ctx context.Context, t *activeTask) error {
	post := t.task.Post

	if err := m.validate(post); err != nil {
		return err
	}

	target, err := m.plan(post, t.task.BaseDir)
	if err != nil {
		return err
	}
	t.finalPath = target

	if _, err := os.Stat(target); err == nil {
		if t.task.OnProgress != nil {
			t.task.OnProgress(t.task.PostID, 100.0)
		}
		return nil
	}

	return m.attemptLoop(ctx, t, target)
}

func (m *Manager) validate(post model.Post) error {
	if post.FileURL == "" {
		return validationf("post has no file_url")
	}
	if m.validator != nil && !m.validator.Validate(post.FileURL) {
		return validationf("file_url rejected by url validator: %s", post.FileURL)
	}
	return nil
}

func (m *Manager) plan(post model.Post, baseDir string) (string, error) {
	folder := post.Rating.Dir()
	ext := filepath.Ext(urlPath(post.FileURL))
	if ext == "" {
		ext = ".jpg"
	}
	tags := strings.Join(strings.Fields(post.Tags), "_")
	name := security.SanitizeFilename(fmt.Sprintf("%d_%s%s", post.ID, tags, ext), 200)

	target, err := security.JoinUnder(baseDir, folder, name)
	if err != nil {
		return "", validationf("plan target path: %w", err)
	}
	return target, nil
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}

func (m *Manager) attemptLoop(ctx context.Context, t *activeTask, target string) error {
	tmpPath := target + ".tmp"
	var lastErr error

	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if t.task.Cancel.IsCancelled() {
			return cancelledf("%s", t.task.Cancel.Reason())
		}

		if attempt > 0 {
			delay := backoff(attempt)
			timer := time.NewTimer(delay)
			select {
			case <-t.task.Cancel.Done():
				timer.Stop()
				return cancelledf("%s", t.task.Cancel.Reason())
			case <-timer.C:
			}
		}

		err := m.runOneAttempt(ctx, t, target, tmpPath)
		if err == nil {
			return nil
		}
		if t.task.Cancel.IsCancelled() {
			return cancelledf("%s", t.task.Cancel.Reason())
		}

		de, _ := AsDownloadError(err)
		if de != nil && !de.Retryable() {
			return err
		}
		lastErr = err
	}

	return lastErr
}

func backoff(attempt int) time.Duration {
	d := initialBackoff << uint(attempt-1)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// runOneAttempt performs PrepareResume -> Request -> Stream -> Verify ->
// Finalize for a single retry-loop iteration.
func (m *Manager) runOneAttempt(ctx context.Context, t *activeTask, target, tmpPath string) error {
	resumeFrom := int64(0)
	if fi, err := os.Stat(tmpPath); err == nil {
		resumeFrom = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.task.Post.FileURL, nil)
	if err != nil {
		return validationf("build request: %w", err)
	}
	if m.userAgent != "" {
		req.Header.Set("User-Agent", m.userAgent)
	}
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return transientf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return validationf("redirect blocked (status %d)", resp.StatusCode)

	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		if resumeFrom > 0 {
			if err := os.Rename(tmpPath, target); err != nil {
				return storageFaultf("finalize after 416: %w", err)
			}
			return nil
		}
		// Empty tmp with a 416 means the Range header itself was
		// rejected; discard it and retry fresh without Range.
		os.Remove(tmpPath)
		return transientf("server rejected range on empty file, retrying fresh")

	case resp.StatusCode == http.StatusPartialContent:
		return m.stream(ctx, t, resp, tmpPath, target, resumeFrom, true)

	case resp.StatusCode == http.StatusOK:
		return m.stream(ctx, t, resp, tmpPath, target, 0, false)

	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return notFoundf("remote file missing (status %d)", resp.StatusCode)

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return transientf("server error (status %d)", resp.StatusCode)

	default:
		return validationf("unexpected status %d", resp.StatusCode)
	}
}

func (m *Manager) stream(ctx context.Context, t *activeTask, resp *http.Response, tmpPath, target string, resumeFrom int64, appendMode bool) error {
	declared := resp.ContentLength
	var expectedTotal int64 = -1
	if declared >= 0 {
		expectedTotal = resumeFrom + declared
	}

	if expectedTotal > 0 {
		if err := m.diskGuard.Check(filepath.Dir(target), expectedTotal); err != nil {
			return err
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
		resumeFrom = 0
	}
	f, err := os.OpenFile(tmpPath, flags, 0o644)
	if err != nil {
		return storageFaultf("open tmp file: %w", err)
	}
	defer f.Close()

	// A stalled peer can leave resp.Body.Read blocked indefinitely; this
	// watcher closes the body as soon as the task is cancelled so the
	// read unblocks with an error instead of waiting for more bytes
	// that will never come.
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-t.task.Cancel.Done():
			resp.Body.Close()
		case <-stopWatch:
		}
	}()

	written := resumeFrom
	buf := make([]byte, m.chunkSize)
	lastProgress := time.Now()

	for {
		if t.task.Cancel.IsCancelled() {
			return cancelledf("%s", t.task.Cancel.Reason())
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := m.bandwidth.Wait(ctx, t.task.PostID, n); err != nil {
				return transientf("bandwidth wait: %w", err)
			}
			if _, err := f.Write(buf[:n]); err != nil {
				return storageFaultf("write chunk: %w", err)
			}
			written += int64(n)

			if expectedTotal > 0 && written > expectedTotal+resumeSlackBytes {
				return integrityMismatchf("received %d bytes, expected at most %d", written, expectedTotal+resumeSlackBytes)
			}

			if t.task.OnProgress != nil && expectedTotal > 0 && time.Since(lastProgress) >= progressInterval {
				pct := float64(written) / float64(expectedTotal) * 100.0
				t.task.OnProgress(t.task.PostID, pct)
				lastProgress = time.Now()
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return transientf("stream read: %w", readErr)
		}
	}

	if expectedTotal > 0 && written < expectedTotal {
		return transientf("incomplete: got %d of %d bytes", written, expectedTotal)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		return storageFaultf("finalize rename: %w", err)
	}
	if t.task.OnProgress != nil {
		t.task.OnProgress(t.task.PostID, 100.0)
	}
	return nil
}
