package preloader

import "github.com/aalpar/deheap"

// run is the single dedicated scheduler goroutine: it owns the heap lock,
// blocks on the condition variable while the heap is empty, and otherwise
// waits for a free worker slot before popping the next task. This replaces
// the teacher's SmartScheduler, which scanned a queue snapshot for the
// first host-eligible candidate on every call from the engine's poll loop;
// the preloader has no per-host concurrency limit to enforce; a task's
// only gate is "is there a free worker", so popping is unconditional once
// a slot is available.
func (p *Preloader) run() {
	for {
		p.mu.Lock()
		for p.heap.Len() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed && p.heap.Len() == 0 {
			p.mu.Unlock()
			return
		}
		var t *task
		if p.heap.Len() > 0 {
			t = deheap.Pop(&p.heap).(*task)
		}
		if t != nil {
			delete(p.pending, t.postID)
			p.inProgress[t.postID] = struct{}{}
		}
		p.mu.Unlock()

		if t == nil {
			continue
		}

		select {
		case p.slots <- struct{}{}:
		case <-p.done:
			p.finishTask(t.postID)
			return
		}

		p.eg.Go(func() error {
			defer func() { <-p.slots }()
			p.runWorker(t)
			return nil
		})
	}
}
