package preloader

import (
	"context"
	"image"
	"log/slog"
	"sync"

	"github.com/aalpar/deheap"
	"golang.org/x/sync/errgroup"

	"yandecore/internal/cache"
	"yandecore/internal/eventbus"
	"yandecore/internal/model"
	"yandecore/internal/security"
	"yandecore/internal/session"
)

// maxWorkerRetries bounds the number of times a preload attempt is
// retried before the task is reported permanently failed via on_failed.
const maxWorkerRetries = 2

// cachedImage is what the preloader stores in the shared image LRU: a
// decoded (and possibly downscaled) frame plus its approximate memory
// footprint, so the cache's memory-aware eviction has something to
// charge against.
type cachedImage struct {
	Image image.Image
	Bytes int64
}

// CacheBytes implements cache.Sized.
func (c cachedImage) CacheBytes() int64 {
	return c.Bytes
}

// Config configures a Preloader.
type Config struct {
	Workers   int // default 8
	Session   *session.Session
	Cache     *cache.MemoryAwareLRUCache
	Bus       *eventbus.Bus
	Validator *security.URLValidator
	Logger    *slog.Logger
	OnFailed  func(Result)
}

// Preloader implements the priority-driven cache warm-up of §4.7: a
// min-heap of pending tasks, a pending/in-progress bookkeeping pair, and
// a fixed worker pool drained by a single dedicated scheduler goroutine
// (see scheduler.go). Grounded on the teacher's internal/queue package,
// generalized from FIFO download order to true priority order.
type Preloader struct {
	mu         sync.Mutex
	cond       *sync.Cond
	heap       taskHeap
	pending    map[string]*task
	inProgress map[string]struct{}
	retries    map[string]int
	seq        int64
	closed     bool
	done       chan struct{}
	slots      chan struct{}

	eg             *errgroup.Group
	egCtx          context.Context
	shutdownCancel context.CancelFunc

	sess      *session.Session
	imgCache  *cache.MemoryAwareLRUCache
	bus       *eventbus.Bus
	validator *security.URLValidator
	logger    *slog.Logger
	onFailed  func(Result)
}

// New constructs a Preloader and starts its scheduler goroutine.
func New(cfg Config) *Preloader {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(shutdownCtx)

	p := &Preloader{
		pending:        make(map[string]*task),
		inProgress:     make(map[string]struct{}),
		retries:        make(map[string]int),
		done:           make(chan struct{}),
		slots:          make(chan struct{}, workers),
		eg:             eg,
		egCtx:          egCtx,
		shutdownCancel: shutdownCancel,
		sess:           cfg.Session,
		imgCache:       cfg.Cache,
		bus:            cfg.Bus,
		validator:      cfg.Validator,
		logger:         cfg.Logger,
		onFailed:       cfg.OnFailed,
	}
	p.cond = sync.NewCond(&p.mu)
	deheap.Init(&p.heap)

	p.eg.Go(func() error {
		p.run()
		return nil
	})
	return p
}

// PreloadImmediate enqueues post at the highest priority, used when the
// user has just navigated to it.
func (p *Preloader) PreloadImmediate(post model.Post) {
	p.enqueue(post, PriorityImmediate)
}

// PreloadNextPage enqueues post at next-page priority, used for posts one
// navigation step away.
func (p *Preloader) PreloadNextPage(post model.Post) {
	p.enqueue(post, PriorityNextPage)
}

// PreloadBatch enqueues every post in posts at the given priority.
func (p *Preloader) PreloadBatch(posts []model.Post, priority int) {
	for _, post := range posts {
		p.enqueue(post, priority)
	}
}

func (p *Preloader) enqueue(post model.Post, priority int) {
	id := post.AssetID()

	if p.imgCache != nil && p.imgCache.Has(id) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if _, busy := p.inProgress[id]; busy {
		return
	}
	if existing, ok := p.pending[id]; ok {
		if priority < existing.priority {
			existing.priority = priority
			deheap.Fix(&p.heap, existing.index)
			p.cond.Signal()
		}
		return
	}

	p.seq++
	t := &task{postID: id, post: post, priority: priority, seq: p.seq}
	p.pending[id] = t
	deheap.Push(&p.heap, t)
	p.cond.Signal()
}

// BoostPriority moves an already-pending task to PriorityImmediate,
// re-heapifying in place, and reports whether that changed anything. A
// task already in progress, unknown, or already at PriorityImmediate is
// a no-op and returns false.
func (p *Preloader) BoostPriority(postID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.pending[postID]
	if !ok || t.priority == PriorityImmediate {
		return false
	}
	t.priority = PriorityImmediate
	deheap.Fix(&p.heap, t.index)
	p.cond.Signal()
	return true
}

// Cancel removes a pending (not yet started) task. A task already
// in-flight finishes its current attempt; it is not interrupted.
func (p *Preloader) Cancel(postID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.pending[postID]
	if !ok {
		return
	}
	if t.index >= 0 {
		deheap.Remove(&p.heap, t.index)
	}
	delete(p.pending, postID)
	delete(p.retries, postID)
}

// ClearPending drops every task that has not yet started.
func (p *Preloader) ClearPending() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heap = p.heap[:0]
	deheap.Init(&p.heap)
	p.pending = make(map[string]*task)
}

// Shutdown stops the scheduler goroutine and waits for in-flight workers
// to finish. Pending tasks are dropped. shutdownCancel also cancels
// egCtx, which every in-flight fetch is bound to, so a worker blocked on
// a slow response unblocks immediately instead of finishing its request
// before noticing closed.
func (p *Preloader) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()
	p.cond.Broadcast()
	p.shutdownCancel()
	p.eg.Wait()
}

func (p *Preloader) finishTask(postID string) {
	p.mu.Lock()
	delete(p.inProgress, postID)
	p.mu.Unlock()
}
