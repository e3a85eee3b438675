// Package eventbus implements the process-wide typed publish/subscribe
// registry every other component publishes lifecycle events on: download
// progress, cache hits, preload results, settings changes. Dispatch is
// synchronous and in subscription order, on the publisher's own goroutine,
// so a subscriber that never blocks keeps the system's ordering guarantees
// intact; one that blocks stalls its publisher, the same tradeoff the
// source's threading-based bus makes.
package eventbus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Token owns a subscription's lifetime. Dispose is idempotent and
// guarantees the handler will not be invoked for any event dispatched after
// Dispose returns.
type Token struct {
	id    string
	kind  Kind
	owner string
	bus   *Bus
}

// Dispose cancels the subscription. Safe to call more than once and safe to
// call concurrently with Publish.
func (t *Token) Dispose() {
	if t.bus == nil {
		return
	}
	t.bus.remove(t.kind, t.id)
}

type subscriber struct {
	id      string
	owner   string
	handler Handler
	live    atomic.Bool
}

// Bus is a typed publish/subscribe registry. The zero value is not usable;
// construct with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]*subscriber
	logger      *slog.Logger

	published atomic.Int64
	delivered atomic.Int64
	errored   atomic.Int64
}

// New constructs a Bus. logger may be nil, in which case slog.Default is
// used for subscriber-panic reporting.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[Kind][]*subscriber),
		logger:      logger,
	}
}

var (
	processBus     *Bus
	processBusOnce sync.Once
	processBusMu   sync.Mutex
)

// Default returns the process-wide singleton bus, constructing it on first
// use. Tests that need a fresh bus should construct their own with New
// instead of relying on this accessor.
func Default() *Bus {
	processBusOnce.Do(func() {
		processBus = New(nil)
	})
	return processBus
}

// SetDefault substitutes the process-wide singleton, for tests that need a
// fake bus without threading one through every constructor.
func SetDefault(b *Bus) {
	processBusMu.Lock()
	defer processBusMu.Unlock()
	processBus = b
	processBusOnce.Do(func() {}) // mark as initialised
}

// Subscribe registers handler for events of the given kind. owner, if
// non-empty, tags the subscription so UnsubscribeAll(owner) can remove it
// in bulk.
func (b *Bus) Subscribe(kind Kind, handler Handler, owner string) *Token {
	s := &subscriber{id: uuid.NewString(), owner: owner, handler: handler}
	s.live.Store(true)

	b.mu.Lock()
	b.subscribers[kind] = append(b.subscribers[kind], s)
	b.mu.Unlock()

	return &Token{id: s.id, kind: kind, owner: owner, bus: b}
}

func (b *Bus) remove(kind Kind, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subscribers[kind]
	for i, s := range list {
		if s.id == id {
			s.live.Store(false)
			b.subscribers[kind] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll removes every subscription tagged with owner, atomically,
// and returns the count removed.
func (b *Bus) UnsubscribeAll(owner string) int {
	if owner == "" {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for kind, list := range b.subscribers {
		kept := list[:0:0]
		for _, s := range list {
			if s.owner == owner {
				s.live.Store(false)
				removed++
				continue
			}
			kept = append(kept, s)
		}
		b.subscribers[kind] = kept
	}
	return removed
}

// Publish dispatches event synchronously to every subscriber of its kind,
// in subscription order. A subscriber's panic is recovered, logged, and
// counted; it never propagates and never aborts delivery to the remaining
// subscribers.
func (b *Bus) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.published.Add(1)

	b.mu.RLock()
	// Copy the slice header under the lock so a concurrent Subscribe/Dispose
	// during dispatch cannot race with this read.
	list := make([]*subscriber, len(b.subscribers[event.Kind]))
	copy(list, b.subscribers[event.Kind])
	b.mu.RUnlock()

	for _, s := range list {
		if !s.live.Load() {
			continue
		}
		b.dispatchOne(s, event)
	}
}

func (b *Bus) dispatchOne(s *subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.errored.Add(1)
			b.logger.Error("eventbus subscriber panicked", "kind", event.Kind, "event_id", event.ID, "recover", r)
		}
	}()
	// Re-check liveness right before invocation: Dispose may have raced in
	// between the snapshot copy and this call.
	if !s.live.Load() {
		return
	}
	s.handler(event)
	b.delivered.Add(1)
}

// Stats returns a snapshot of the bus's publish/delivery counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Errored:   b.errored.Load(),
	}
}
