package downloader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// BandwidthManager handles global speed limiting with zero overhead when
// disabled. Grounded on the teacher's internal/network.BandwidthManager,
// carried over unchanged: the teacher's per-task priority boost logic
// already fits a single-stream downloader as well as a multi-chunk one.
type BandwidthManager struct {
	globalLimiter *rate.Limiter
	limitEnabled  atomic.Bool
	mu            sync.RWMutex

	taskPriorities map[string]int // postID -> priority (1=low, 2=normal, 3=high)
}

// NewBandwidthManager creates a bandwidth manager with no limit.
func NewBandwidthManager() *BandwidthManager {
	return &BandwidthManager{
		globalLimiter:  rate.NewLimiter(rate.Inf, 0),
		taskPriorities: make(map[string]int),
	}
}

// SetLimit updates the global speed limit in bytes per second; 0 means
// unlimited.
func (bm *BandwidthManager) SetLimit(bytesPerSec int) {
	if bytesPerSec <= 0 {
		bm.limitEnabled.Store(false)
		bm.globalLimiter.SetLimit(rate.Inf)
		return
	}
	bm.limitEnabled.Store(true)
	bm.globalLimiter.SetLimit(rate.Limit(bytesPerSec))
	bm.globalLimiter.SetBurst(bytesPerSec)
}

// SetTaskPriority sets the bandwidth priority for a specific task.
func (bm *BandwidthManager) SetTaskPriority(postID string, priority int) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.taskPriorities[postID] = priority
}

// Wait blocks until n bytes may be consumed under the current limit.
// Returns immediately if limiting is disabled.
func (bm *BandwidthManager) Wait(ctx context.Context, postID string, n int) error {
	if !bm.limitEnabled.Load() {
		return nil
	}

	bm.mu.RLock()
	priority, ok := bm.taskPriorities[postID]
	bm.mu.RUnlock()
	if !ok {
		priority = 2
	}

	if err := bm.globalLimiter.WaitN(ctx, n); err != nil {
		return err
	}
	if priority == 1 {
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}
