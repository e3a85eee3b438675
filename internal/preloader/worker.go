package preloader

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	"github.com/aalpar/deheap"
	"github.com/nfnt/resize"

	"yandecore/internal/eventbus"
)

// maxPreloadDimension is the longer-side threshold past which a decoded
// frame is downscaled before being cached, keeping the warm cache's
// memory footprint bounded regardless of source resolution.
const maxPreloadDimension = 2000

// runWorker executes one preload attempt for t: validate the URL, fetch
// it through the shared session, decode, downscale oversized frames, and
// insert the result into the shared image cache. Failures are retried up
// to maxWorkerRetries times at a demoted priority before being reported
// via on_failed.
func (p *Preloader) runWorker(t *task) {
	defer p.finishTask(t.postID)

	if p.imgCache != nil && p.imgCache.Has(t.postID) {
		return
	}

	start := time.Now()
	img, err := p.fetchAndDecode(t)
	elapsed := time.Since(start).Seconds()

	if err == nil {
		p.imgCache.Put(t.postID, cachedImage{Image: img, Bytes: bitmapMemoryBytes(img)})
		p.publish(eventbus.KindImagePreloaded, t.postID, nil)
		return
	}

	if isPermanentFailure(err) {
		p.reportFailure(t, err, elapsed)
		return
	}

	p.mu.Lock()
	p.retries[t.postID]++
	retryCount := p.retries[t.postID]
	p.mu.Unlock()

	if retryCount > maxWorkerRetries {
		p.reportFailure(t, err, elapsed)
		return
	}

	t.retries = retryCount
	p.mu.Lock()
	if !p.closed {
		t.priority = PriorityPrefetch + 10
		p.pending[t.postID] = t
		deheap.Push(&p.heap, t)
		p.cond.Signal()
	}
	p.mu.Unlock()
}

func (p *Preloader) fetchAndDecode(t *task) (image.Image, error) {
	url := t.post.PreloadURL()
	if url == "" {
		return nil, fmt.Errorf("preloader: post %s has no preload url", t.postID)
	}
	if p.validator != nil && !p.validator.Validate(url) {
		return nil, permanentError{fmt.Errorf("preloader: url rejected by validator: %s", url)}
	}

	resp, err := p.sess.Get(p.egCtx, url, nil, nil, 0)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, permanentError{fmt.Errorf("preloader: %s returned %d", url, resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("preloader: %s returned %d", url, resp.StatusCode)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, permanentError{fmt.Errorf("preloader: decode %s: %w", url, err)}
	}

	bounds := img.Bounds()
	longest := bounds.Dx()
	if bounds.Dy() > longest {
		longest = bounds.Dy()
	}
	if longest > maxPreloadDimension {
		img = resize.Thumbnail(maxPreloadDimension, maxPreloadDimension, img, resize.Lanczos3)
	}
	return img, nil
}

func bitmapMemoryBytes(img image.Image) int64 {
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}

// permanentError marks a failure that retrying cannot fix (malformed
// image, URL rejected by policy, 404/410 response).
type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

func isPermanentFailure(err error) bool {
	_, ok := err.(permanentError)
	return ok
}

func (p *Preloader) reportFailure(t *task, err error, elapsed float64) {
	p.mu.Lock()
	delete(p.retries, t.postID)
	p.mu.Unlock()

	result := Result{PostID: t.postID, Success: false, Error: err, RetryCount: t.retries, LoadTime: elapsed}
	p.publish(eventbus.KindImageFailed, t.postID, map[string]any{"error": err.Error()})
	if p.onFailed != nil {
		p.onFailed(result)
	}
}

func (p *Preloader) publish(kind eventbus.Kind, postID string, extra map[string]any) {
	if p.bus == nil {
		return
	}
	payload := map[string]any{"post_id": postID}
	for k, v := range extra {
		payload[k] = v
	}
	p.bus.Publish(eventbus.Event{Kind: kind, Payload: payload})
}
