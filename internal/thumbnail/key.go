// Package thumbnail implements the two-level (in-memory LRU + on-disk
// content-addressed) cache for small preview bitmaps described in §4.6.
// The disk tier's atomic-write idiom and the memory tier's LRU are both
// grounded on this module's siblings (internal/store, internal/cache); the
// disk-cleanup single-flight guard is grounded on golang.org/x/sync, the
// same package onedrive-go and the go-utilpkg example use for exactly this
// "at most one background pass in flight" shape.
package thumbnail

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

// Key computes the content-addressed cache key: MD5(absolute_path : mtime
// : file_size : target_size : device_pixel_ratio : cache_version). Any
// change to an input changes the key, so cache.get is a pure function of
// exactly these values (§8 property 8).
func Key(absPath string, mtimeUnixNano int64, fileSize int64, targetSize int, devicePixelRatio float64, cacheVersion int) string {
	abs, err := filepath.Abs(absPath)
	if err != nil {
		abs = absPath
	}
	input := fmt.Sprintf("%s:%d:%d:%d:%g:%d", abs, mtimeUnixNano, fileSize, targetSize, devicePixelRatio, cacheVersion)
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}
