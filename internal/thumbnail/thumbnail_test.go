package thumbnail

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidBitmap(w, h int, c color.Color) Bitmap {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return Bitmap{Image: img, Bytes: bitmapBytes(img)}
}

func TestPutThenGetHitsMemory(t *testing.T) {
	dir := t.TempDir()
	c, err := New(Config{Dir: dir, CacheVersion: 1})
	require.NoError(t, err)

	mtime := time.Now()
	bmp := solidBitmap(8, 8, color.White)
	require.NoError(t, c.Put("/lib/Safe/1_tag.jpg", mtime, 1024, 256, 1.0, bmp))

	got, ok := c.Get("/lib/Safe/1_tag.jpg", mtime, 1024, 256, 1.0)
	assert.True(t, ok)
	assert.NotNil(t, got.Image)
}

func TestGetIsAFunctionOfExactInputs(t *testing.T) {
	dir := t.TempDir()
	c, err := New(Config{Dir: dir, CacheVersion: 1})
	require.NoError(t, err)

	mtime := time.Now()
	bmp := solidBitmap(8, 8, color.White)
	require.NoError(t, c.Put("/lib/Safe/1_tag.jpg", mtime, 1024, 256, 1.0, bmp))

	// Changing target_size alone must miss.
	_, ok := c.Get("/lib/Safe/1_tag.jpg", mtime, 1024, 512, 1.0)
	assert.False(t, ok)

	// Changing device_pixel_ratio alone must miss.
	_, ok = c.Get("/lib/Safe/1_tag.jpg", mtime, 1024, 256, 2.0)
	assert.False(t, ok)

	// Changing mtime alone must miss.
	_, ok = c.Get("/lib/Safe/1_tag.jpg", mtime.Add(time.Second), 1024, 256, 1.0)
	assert.False(t, ok)
}

func TestDiskTierServesAfterMemoryEviction(t *testing.T) {
	dir := t.TempDir()
	c, err := New(Config{Dir: dir, CacheVersion: 1, MemoryItems: 1})
	require.NoError(t, err)

	mtime := time.Now()
	require.NoError(t, c.Put("/a.jpg", mtime, 10, 64, 1.0, solidBitmap(4, 4, color.White)))
	require.NoError(t, c.Put("/b.jpg", mtime, 10, 64, 1.0, solidBitmap(4, 4, color.Black)))

	// /a.jpg was evicted from memory (capacity 1) but should still be
	// found via the disk tier.
	_, ok := c.Get("/a.jpg", mtime, 10, 64, 1.0)
	assert.True(t, ok)
}

func TestKeyChangesWithCacheVersion(t *testing.T) {
	k1 := Key("/a.jpg", 1, 10, 64, 1.0, 1)
	k2 := Key("/a.jpg", 1, 10, 64, 1.0, 2)
	assert.NotEqual(t, k1, k2)
}
