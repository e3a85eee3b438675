package downloader

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"yandecore/internal/eventbus"
	"yandecore/internal/model"
	"yandecore/internal/security"
)

// Config configures a Manager.
type Config struct {
	MaxWorkers    int     // default 3
	MaxRetries    int     // default 3
	ChunkSize     int     // default 8192
	MaxFileMB     int     // default 512
	DiskMinFreeGB float64 // default 1.0
	UserAgent     string
	Validator     *security.URLValidator
	Bus           *eventbus.Bus
	Logger        *slog.Logger

	// FetchPost resolves a bare post id to its full descriptor, used by
	// SubmitResume to backfill a post whose file_url is not already
	// known (orphaned .tmp recovery, favorites missing a descriptor).
	// Injected rather than hardcoded to one remote API client, per the
	// ambient design's preference for capabilities passed in over
	// concrete dependencies baked into the type.
	FetchPost func(ctx context.Context, postID string) (model.Post, error)
}

// maxFailureLog bounds the persistent failure record so a library that
// keeps failing the same handful of posts doesn't grow it unbounded; it
// is a recent-history log, not an audit trail.
const maxFailureLog = 200

// Manager submits and executes resumable HTTP downloads per §4.8: a
// fixed-size worker pool, one state machine per task, and a bandwidth
// manager and disk guard shared across every in-flight download.
// Grounded on the teacher's internal/engine.Engine for the overall
// submit/cancel/shutdown surface, collapsed from a multi-chunk
// worker-swarm-per-file design to one goroutine running a single-stream
// resumable GET per task.
type Manager struct {
	mu          sync.Mutex
	active      map[string]*activeTask        // postID -> task, once registered
	resuming    map[string]*model.CancelToken // postID -> token, while SubmitResume is still resolving FetchPost
	failed      map[string]string             // postID -> last error, survives task/resume completion
	failedOrder []string                      // insertion order of failed, for maxFailureLog eviction
	sem         chan struct{}
	shutdown    bool

	eg             *errgroup.Group
	egCtx          context.Context
	shutdownCancel context.CancelFunc

	client    *http.Client
	bandwidth *BandwidthManager
	diskGuard *DiskGuard
	validator *security.URLValidator
	bus       *eventbus.Bus
	logger    *slog.Logger

	maxRetries int
	chunkSize  int
	userAgent  string
	fetchPost  func(ctx context.Context, postID string) (model.Post, error)
}

// New constructs a Manager.
func New(cfg Config) *Manager {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 3
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 8192
	}
	if cfg.MaxFileMB <= 0 {
		cfg.MaxFileMB = 512
	}
	if cfg.DiskMinFreeGB <= 0 {
		cfg.DiskMinFreeGB = 1.0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
		},
		// §4.8 Request: "explicitly allow_redirects=False (3xx is
		// treated as an error to prevent SSRF via redirect)".
		// ErrUseLastResponse stops following and hands back the raw
		// 3xx response instead of an error, so the state machine can
		// classify it itself alongside its other status-code checks.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(shutdownCtx)

	return &Manager{
		active:         make(map[string]*activeTask),
		resuming:       make(map[string]*model.CancelToken),
		failed:         make(map[string]string),
		sem:            make(chan struct{}, cfg.MaxWorkers),
		eg:             eg,
		egCtx:          egCtx,
		shutdownCancel: shutdownCancel,
		client:         client,
		bandwidth:      NewBandwidthManager(),
		diskGuard:      NewDiskGuard(cfg.DiskMinFreeGB, cfg.MaxFileMB),
		validator:      cfg.Validator,
		bus:            cfg.Bus,
		logger:         cfg.Logger,
		maxRetries:     cfg.MaxRetries,
		chunkSize:      cfg.ChunkSize,
		userAgent:      cfg.UserAgent,
		fetchPost:      cfg.FetchPost,
	}
}

// Bandwidth exposes the shared bandwidth manager so callers can adjust
// the global speed limit or per-task priority.
func (m *Manager) Bandwidth() *BandwidthManager { return m.bandwidth }

// SubmitDownload registers and schedules a download for post. Returns
// nil if a task for this post already exists.
func (m *Manager) SubmitDownload(post model.Post, baseDir string, onProgress func(string, float64), onComplete func(string, string), onError func(string, error)) *model.CancelToken {
	token := model.NewCancelToken()
	t, ok := m.registerTask(post, baseDir, token, onProgress, onComplete, onError)
	if !ok {
		return nil
	}

	m.publish(eventbus.KindDownloadStarted, t.task.PostID, nil)
	m.eg.Go(func() error {
		m.runTask(t)
		return nil
	})
	return token
}

// registerTask adds a new activeTask for post, failing if the manager is
// shutting down or a task for this post id is already active.
func (m *Manager) registerTask(post model.Post, baseDir string, token *model.CancelToken, onProgress func(string, float64), onComplete func(string, string), onError func(string, error)) (*activeTask, bool) {
	postID := post.AssetID()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return nil, false
	}
	if _, exists := m.active[postID]; exists {
		return nil, false
	}

	t := &activeTask{
		task: model.DownloadTask{
			PostID:     postID,
			Post:       post,
			BaseDir:    baseDir,
			Cancel:     token,
			OnProgress: onProgress,
			OnComplete: onComplete,
			OnError:    onError,
			CreatedAt:  time.Now(),
		},
		status: StatusPending,
	}
	m.active[postID] = t
	return t, true
}

// SubmitResume resolves postID to a full post descriptor via the
// injected FetchPost capability and hands it off to the same execution
// path SubmitDownload uses. Resolution and execution both run on a
// dedicated goroutine bound to the manager's worker pool, so a caller
// (startup recovery, in particular) is never blocked waiting for the
// remote lookup to finish; the returned token can cancel the resume at
// any point, including while FetchPost is still in flight.
func (m *Manager) SubmitResume(ctx context.Context, postID, baseDir string, onComplete func(string, string), onError func(string, error)) (*model.CancelToken, error) {
	if m.fetchPost == nil {
		return nil, storageFaultf("downloader: no FetchPost capability configured")
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, nil
	}
	if _, exists := m.active[postID]; exists {
		m.mu.Unlock()
		return nil, nil
	}
	if _, exists := m.resuming[postID]; exists {
		m.mu.Unlock()
		return nil, nil
	}
	token := model.NewCancelToken()
	m.resuming[postID] = token
	m.mu.Unlock()

	m.eg.Go(func() error {
		m.runResume(ctx, token, postID, baseDir, onComplete, onError)
		return nil
	})
	return token, nil
}

// runResume waits for a pool slot (throttling resolution to the same
// bound as in-flight downloads), resolves postID via FetchPost, then
// either hands off to the ordinary task-execution path or records the
// resolution failure. Grounded on the original's reconciliation pass
// submitting do_resume onto its worker executor rather than running it
// on the caller's thread; the persistent failure log below mirrors its
// failed_downloads dict surviving past task completion.
func (m *Manager) runResume(ctx context.Context, token *model.CancelToken, postID, baseDir string, onComplete func(string, string), onError func(string, error)) {
	select {
	case m.sem <- struct{}{}:
	case <-token.Done():
		m.clearResuming(postID)
		m.recordResumeFailure(postID, cancelledf("cancelled before resuming: %s", token.Reason()), onError)
		return
	}
	defer func() { <-m.sem }()

	post, err := m.fetchPost(ctx, postID)
	m.clearResuming(postID)
	if err != nil {
		m.recordResumeFailure(postID, transientf("resolve post %s: %w", postID, err), onError)
		return
	}

	t, ok := m.registerTask(post, baseDir, token, nil, onComplete, onError)
	if !ok {
		// A concurrent submission claimed this post id while we were
		// resolving it; drop silently rather than racing it.
		return
	}
	m.publish(eventbus.KindDownloadStarted, postID, nil)
	m.runTaskBody(t)
}

func (m *Manager) clearResuming(postID string) {
	m.mu.Lock()
	delete(m.resuming, postID)
	m.mu.Unlock()
}

func (m *Manager) recordResumeFailure(postID string, err error, onError func(string, error)) {
	m.recordFailure(postID, err)
	m.publish(eventbus.KindDownloadFailed, postID, map[string]any{"error": err.Error()})
	if onError != nil {
		onError(postID, err)
	}
}

func (m *Manager) recordFailure(postID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.failed[postID]; !exists {
		m.failedOrder = append(m.failedOrder, postID)
		if len(m.failedOrder) > maxFailureLog {
			oldest := m.failedOrder[0]
			m.failedOrder = m.failedOrder[1:]
			delete(m.failed, oldest)
		}
	}
	m.failed[postID] = err.Error()
}

func (m *Manager) clearFailure(postID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.failed[postID]; !ok {
		return
	}
	delete(m.failed, postID)
	for i, id := range m.failedOrder {
		if id == postID {
			m.failedOrder = append(m.failedOrder[:i], m.failedOrder[i+1:]...)
			break
		}
	}
}

// runTask waits for a free worker slot, then runs the task body. Used
// by SubmitDownload; SubmitResume's runResume acquires the slot itself
// before FetchPost so the lookup is throttled too, then calls
// runTaskBody directly.
func (m *Manager) runTask(t *activeTask) {
	select {
	case m.sem <- struct{}{}:
	case <-t.task.Cancel.Done():
		m.terminate(t, StatusCancelled, cancelledf("cancelled before scheduling: %s", t.task.Cancel.Reason()))
		return
	}
	defer func() { <-m.sem }()
	m.runTaskBody(t)
}

// runTaskBody executes the state machine for an already-registered,
// already-slotted task and terminates it. The caller is responsible for
// acquiring (and releasing) the manager's semaphore around this call.
func (m *Manager) runTaskBody(t *activeTask) {
	t.setStatus(StatusActive)

	ctx, cancel := context.WithCancel(m.egCtx)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-t.task.Cancel.Done():
			cancel()
		case <-stop:
		}
	}()

	err := m.execute(ctx, t)
	cancel()

	switch {
	case err == nil:
		m.terminate(t, StatusCompleted, nil)
	case t.task.Cancel.IsCancelled():
		m.terminate(t, StatusCancelled, cancelledf("%s", t.task.Cancel.Reason()))
	default:
		m.terminate(t, StatusFailed, err)
	}
}

func (m *Manager) terminate(t *activeTask, status Status, err error) {
	m.mu.Lock()
	delete(m.active, t.task.PostID)
	m.mu.Unlock()
	t.setStatus(status)

	switch status {
	case StatusCompleted:
		m.clearFailure(t.task.PostID)
		m.publish(eventbus.KindDownloadCompleted, t.task.PostID, nil)
		if t.task.OnComplete != nil {
			t.task.OnComplete(t.task.PostID, t.finalPath)
		}
	case StatusCancelled:
		m.publish(eventbus.KindDownloadCancelled, t.task.PostID, map[string]any{"reason": t.task.Cancel.Reason()})
		if t.task.OnError != nil && err != nil {
			t.task.OnError(t.task.PostID, err)
		}
	case StatusFailed:
		m.recordFailure(t.task.PostID, err)
		m.publish(eventbus.KindDownloadFailed, t.task.PostID, map[string]any{"error": err.Error()})
		if t.task.OnError != nil {
			t.task.OnError(t.task.PostID, err)
		}
	}
}

func (m *Manager) publish(kind eventbus.Kind, postID string, extra map[string]any) {
	if m.bus == nil {
		return
	}
	payload := map[string]any{"post_id": postID}
	for k, v := range extra {
		payload[k] = v
	}
	m.bus.Publish(eventbus.Event{Kind: kind, Payload: payload})
}

// CancelDownload cancels the in-flight, pending, or still-resolving
// (resuming) task for postID, if any, returning whether one was found.
func (m *Manager) CancelDownload(postID, reason string) bool {
	m.mu.Lock()
	t, active := m.active[postID]
	token, resuming := m.resuming[postID]
	m.mu.Unlock()

	switch {
	case active:
		t.task.Cancel.Cancel(reason)
		return true
	case resuming:
		token.Cancel(reason)
		return true
	default:
		return false
	}
}

// CancelAll cancels every active and resuming task and returns how many
// were cancelled.
func (m *Manager) CancelAll(reason string) int {
	m.mu.Lock()
	tokens := make([]*model.CancelToken, 0, len(m.active)+len(m.resuming))
	for _, t := range m.active {
		tokens = append(tokens, t.task.Cancel)
	}
	for _, token := range m.resuming {
		tokens = append(tokens, token)
	}
	m.mu.Unlock()

	for _, token := range tokens {
		token.Cancel(reason)
	}
	return len(tokens)
}

// StatusSnapshot is a point-in-time count of tasks by lifecycle state.
type StatusSnapshot struct {
	Pending  int
	Resuming int
	Active   int
	Failed   int
}

// GetStatus returns a point-in-time count of tasks by state. Resuming
// and Failed are read from persistent bookkeeping rather than the live
// active map: a resuming task has no activeTask entry yet (it may never
// get one, if FetchPost fails), and a failed task is removed from
// active the moment it terminates, so neither state would ever be
// observable if GetStatus only scanned active.
func (m *Manager) GetStatus() StatusSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := StatusSnapshot{
		Resuming: len(m.resuming),
		Failed:   len(m.failed),
	}
	for _, t := range m.active {
		switch t.getStatus() {
		case StatusPending:
			snap.Pending++
		case StatusActive:
			snap.Active++
		}
	}
	return snap
}

// Shutdown cancels every active and resuming task, stops accepting new
// submissions, and optionally waits up to timeout for in-flight work to
// drain. shutdownCancel also cancels egCtx, which every task's exec
// context is derived from, so in-flight HTTP reads unblock immediately
// instead of relying on CancelAll's per-task watcher goroutine alone.
func (m *Manager) Shutdown(wait bool, timeout time.Duration) {
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()

	m.CancelAll("shutdown")
	m.shutdownCancel()
	if !wait {
		return
	}

	done := make(chan struct{})
	go func() {
		m.eg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		m.logger.Warn("downloader: shutdown timed out waiting for tasks to drain")
	}
}
