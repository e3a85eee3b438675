package preloader

// taskHeap implements github.com/aalpar/deheap's Interface
// (Len/Less/Swap/Push/Pop — the same shape as container/heap.Interface)
// over *task, ordered by (priority, insertion seq) so lower priority
// numbers dispatch first and ties break in submission order. This is the
// teacher's internal/queue.DownloadQueue generalized from a
// sort.Slice-on-every-push FIFO ordering to a true priority heap: the
// teacher never needed boost_priority, so a full sort on every push was
// affordable there; the preloader's boost_priority needs real
// re-heapify, which is what a heap buys over a sorted slice.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
