// Package model holds the plain data types shared across the core: the
// remote service's post descriptor, its rating enum, and the small value
// types derived from it (asset ids, download tasks, cancellation tokens).
package model

import (
	"strconv"
	"sync"
	"time"
)

// Rating is the content's maturity classification.
type Rating string

const (
	RatingSafe        Rating = "Safe"
	RatingQuestionable Rating = "Questionable"
	RatingExplicit     Rating = "Explicit"
)

// ParseRating maps the remote service's short rating codes (s/q/e) and the
// long forms onto the closed Rating enumeration. Unrecognised input maps to
// RatingSafe, matching the source's conservative default.
func ParseRating(s string) Rating {
	switch s {
	case "s", "safe", "Safe":
		return RatingSafe
	case "q", "questionable", "Questionable":
		return RatingQuestionable
	case "e", "explicit", "Explicit":
		return RatingExplicit
	default:
		return RatingSafe
	}
}

// Dir returns the library subdirectory name for this rating.
func (r Rating) Dir() string {
	switch r {
	case RatingQuestionable:
		return "Questionable"
	case RatingExplicit:
		return "Explicit"
	default:
		return "Safe"
	}
}

// Post is the unit of traffic exchanged with the remote imageboard. Extra is
// excluded from JSON encoding and decoding (json:"-") and Post has no custom
// (un)marshaler, so fields of the source JSON that Post does not name are
// dropped on decode and are not written back.
type Post struct {
	ID         int64             `json:"id"`
	Rating     Rating            `json:"rating"`
	FileURL    string            `json:"file_url"`
	SampleURL  string            `json:"sample_url"`
	PreviewURL string            `json:"preview_url"`
	Tags       string            `json:"tags"`
	Score      int               `json:"score"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	FileSize   int64             `json:"file_size"`
	Extra      map[string]any    `json:"-"`
}

// AssetID returns the stringified post id used as every cache/task key.
func (p Post) AssetID() string {
	return strconv.FormatInt(p.ID, 10)
}

// Equal reports whether two posts refer to the same remote content; two
// posts are equal iff their ids match.
func (p Post) Equal(o Post) bool {
	return p.ID == o.ID
}

// PreloadURL selects sample_url, falling back to preview_url, the order the
// preloader prefers for warming thumbnails/decoded bitmaps.
func (p Post) PreloadURL() string {
	if p.SampleURL != "" {
		return p.SampleURL
	}
	return p.PreviewURL
}

// CancelToken is a level-triggered, latching cancellation signal. Once set
// it stays set; workers poll IsCancelled at every suspension point.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	reason    string
	ch        chan struct{}
}

// NewCancelToken returns a token in the not-cancelled state.
func NewCancelToken() *CancelToken {
	return &CancelToken{ch: make(chan struct{})}
}

// Cancel latches the token. Calling it more than once is a no-op after the
// first call; the first reason wins.
func (c *CancelToken) Cancel(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return
	}
	c.cancelled = true
	c.reason = reason
	close(c.ch)
}

// IsCancelled reports the current latch state. Monotonic: once true, every
// later call also returns true.
func (c *CancelToken) IsCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Reason returns the cancellation reason, or "" if not yet cancelled.
func (c *CancelToken) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Done returns a channel that closes when the token is cancelled, for use in
// select statements alongside other suspension points.
func (c *CancelToken) Done() <-chan struct{} {
	return c.ch
}

// DownloadTask is the in-memory record of a single submitted download.
// Exactly one may exist per post id at any time; terminal tasks are removed
// from the active map, after which a new task may be submitted for the same
// post id.
type DownloadTask struct {
	PostID    string
	Post      Post
	BaseDir   string
	Cancel    *CancelToken
	OnProgress func(postID string, percent float64)
	OnComplete func(postID string, path string)
	OnError    func(postID string, err error)
	CreatedAt time.Time
}

// FavoriteRecord is one entry of the persisted favorites map.
type FavoriteRecord struct {
	ID      int64     `json:"id"`
	Tags    string    `json:"tags"`
	Rating  Rating    `json:"rating"`
	FileURL string    `json:"file_url"`
	AddedAt time.Time `json:"added_at"`
}
