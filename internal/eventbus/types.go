package eventbus

import "time"

// Kind is the closed enumeration of event kinds the core publishes.
type Kind string

const (
	KindImageLoaded       Kind = "image:loaded"
	KindImageFailed       Kind = "image:failed"
	KindImagePreloaded    Kind = "image:preloaded"
	KindDownloadStarted   Kind = "download:started"
	KindDownloadProgress  Kind = "download:progress"
	KindDownloadCompleted Kind = "download:completed"
	KindDownloadFailed    Kind = "download:failed"
	KindDownloadCancelled Kind = "download:cancelled"
	KindPostChanged       Kind = "post:changed"
	KindModeChanged       Kind = "mode:changed"
	KindWindowResized     Kind = "window:resized"
	KindFullscreenToggled Kind = "fullscreen:toggled"
	KindViewChanged       Kind = "view:changed"
	KindCacheUpdated      Kind = "cache:updated"
	KindFilterChanged     Kind = "filter:changed"
	KindSettingsChanged   Kind = "settings:changed"
	KindAppShutdown       Kind = "app:shutdown"
	KindLogEntry          Kind = "log:entry"
)

// Event is the unit of dispatch: a kind, a free-form payload, a monotonic
// timestamp and a short unique id.
type Event struct {
	ID        string
	Kind      Kind
	Payload   map[string]any
	Timestamp time.Time
}

// Handler receives dispatched events. A handler's panic is recovered,
// logged, and counted; it never aborts delivery to remaining subscribers.
type Handler func(Event)

// Stats are the bus's observable publish/delivery counters.
type Stats struct {
	Published int64
	Delivered int64
	Errored   int64
}
