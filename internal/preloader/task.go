// Package preloader implements the priority-driven warm-up of the LRU
// cache described in §4.7: a min-heap keyed by (priority, insertion_seq), a
// pending map, an in-progress set, and a fixed worker pool drained by one
// dedicated scheduler goroutine. Grounded on the teacher's
// internal/queue (DownloadQueue/SmartScheduler) — the same
// queue-plus-scheduler-thread shape — generalized from FIFO download order
// to true priority order via github.com/aalpar/deheap (rclone's heap
// dependency), since the teacher's queue only ever needed a stable sort,
// never a real heap with priority boosting.
package preloader

import "yandecore/internal/model"

// Priority levels; lower numbers are serviced first.
const (
	PriorityImmediate = 0
	PriorityNextPage  = 10
	PriorityPrefetch  = 50
)

// Result is passed to the optional on_failed callback for permanently
// failed or retry-exhausted preload attempts.
type Result struct {
	PostID     string
	Success    bool
	Error      error
	RetryCount int
	LoadTime   float64 // seconds
}

// task is one heap/pending entry. index is maintained by taskHeap's Swap
// so BoostPriority/Cancel can call deheap.Fix/Remove in O(log n) instead
// of scanning the heap for the task.
type task struct {
	postID   string
	post     model.Post
	priority int
	seq      int64
	retries  int
	index    int
}
