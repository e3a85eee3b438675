package eventbus

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDispatchesToSubscribersOfKindOnly(t *testing.T) {
	b := New(nil)
	var gotDownload, gotImage int32

	b.Subscribe(KindDownloadStarted, func(e Event) { atomic.AddInt32(&gotDownload, 1) }, "")
	b.Subscribe(KindImagePreloaded, func(e Event) { atomic.AddInt32(&gotImage, 1) }, "")

	b.Publish(Event{Kind: KindDownloadStarted})

	assert.EqualValues(t, 1, atomic.LoadInt32(&gotDownload))
	assert.EqualValues(t, 0, atomic.LoadInt32(&gotImage))
}

func TestPublishAssignsIDAndTimestampWhenUnset(t *testing.T) {
	b := New(nil)
	var received Event
	b.Subscribe(KindPostChanged, func(e Event) { received = e }, "")

	b.Publish(Event{Kind: KindPostChanged})

	assert.NotEmpty(t, received.ID)
	assert.False(t, received.Timestamp.IsZero())
}

// TestDisposeStopsFutureDelivery verifies the bus's testable property:
// after a token's Dispose returns, no further handler invocation occurs
// on that subscription.
func TestDisposeStopsFutureDelivery(t *testing.T) {
	b := New(nil)
	var calls int32
	token := b.Subscribe(KindCacheUpdated, func(e Event) { atomic.AddInt32(&calls, 1) }, "")

	b.Publish(Event{Kind: KindCacheUpdated})
	token.Dispose()
	b.Publish(Event{Kind: KindCacheUpdated})

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestDisposeIsIdempotent(t *testing.T) {
	b := New(nil)
	token := b.Subscribe(KindSettingsChanged, func(Event) {}, "")
	token.Dispose()
	assert.NotPanics(t, func() { token.Dispose() })
}

func TestUnsubscribeAllRemovesOnlyTaggedSubscriptions(t *testing.T) {
	b := New(nil)
	var ownerCalls, otherCalls int32
	b.Subscribe(KindModeChanged, func(Event) { atomic.AddInt32(&ownerCalls, 1) }, "owner-a")
	b.Subscribe(KindModeChanged, func(Event) { atomic.AddInt32(&otherCalls, 1) }, "owner-b")

	removed := b.UnsubscribeAll("owner-a")
	require.Equal(t, 1, removed)

	b.Publish(Event{Kind: KindModeChanged})

	assert.EqualValues(t, 0, atomic.LoadInt32(&ownerCalls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&otherCalls))
}

func TestSubscriberPanicIsRecoveredAndCountedWithoutStoppingDelivery(t *testing.T) {
	b := New(nil)
	var secondCalled bool
	b.Subscribe(KindWindowResized, func(Event) { panic("boom") }, "")
	b.Subscribe(KindWindowResized, func(Event) { secondCalled = true }, "")

	assert.NotPanics(t, func() { b.Publish(Event{Kind: KindWindowResized}) })

	assert.True(t, secondCalled)
	stats := b.Stats()
	assert.Equal(t, int64(1), stats.Errored)
	assert.Equal(t, int64(1), stats.Delivered)
}

func TestStatsCountPublishedAndDelivered(t *testing.T) {
	b := New(nil)
	b.Subscribe(KindFilterChanged, func(Event) {}, "")
	b.Subscribe(KindFilterChanged, func(Event) {}, "")

	b.Publish(Event{Kind: KindFilterChanged})
	b.Publish(Event{Kind: KindFilterChanged})

	stats := b.Stats()
	assert.Equal(t, int64(2), stats.Published)
	assert.Equal(t, int64(4), stats.Delivered)
}

func TestConcurrentSubscribeAndPublishDoesNotRace(t *testing.T) {
	b := New(nil)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token := b.Subscribe(KindViewChanged, func(Event) {}, "")
			b.Publish(Event{Kind: KindViewChanged})
			token.Dispose()
		}()
	}
	wg.Wait()
}
