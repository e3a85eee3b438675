package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/singleflight"

	"yandecore/internal/cache"
)

// Bitmap wraps a decoded preview image with the byte-cost estimate the
// memory tier's LRU needs; it implements cache.Sized.
type Bitmap struct {
	Image image.Image
	Bytes int64
}

// CacheBytes implements cache.Sized.
func (b Bitmap) CacheBytes() int64 { return b.Bytes }

func bitmapBytes(img image.Image) int64 {
	bounds := img.Bounds()
	return int64(bounds.Dx()) * int64(bounds.Dy()) * 4
}

// Cache is the two-level thumbnail cache: a bounded in-memory LRU of
// decoded bitmaps in front of a content-addressed on-disk tier.
type Cache struct {
	mem        *cache.LRUCache
	dir        string
	maxDiskItems int
	cacheVersion int
	logger     *slog.Logger
	cleanupGroup singleflight.Group
}

// Config configures a Cache.
type Config struct {
	Dir          string
	MemoryItems  int // default 150
	MaxDiskItems int // default 2000
	CacheVersion int // schema version N in cache_dir/thumb_cache_v{N}
	Logger       *slog.Logger
}

// New constructs a thumbnail Cache rooted at cfg.Dir/thumb_cache_v{N}.
func New(cfg Config) (*Cache, error) {
	if cfg.MemoryItems <= 0 {
		cfg.MemoryItems = 150
	}
	if cfg.MaxDiskItems <= 0 {
		cfg.MaxDiskItems = 2000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	dir := filepath.Join(cfg.Dir, fmt.Sprintf("thumb_cache_v%d", cfg.CacheVersion))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{
		mem:          cache.NewLRUCache(cfg.MemoryItems),
		dir:          dir,
		maxDiskItems: cfg.MaxDiskItems,
		cacheVersion: cfg.CacheVersion,
		logger:       cfg.Logger,
	}, nil
}

var diskExtensions = []string{".webp", ".jpg", ".png"}

// Get looks up the thumbnail for (path, mtime, size) at targetSize /
// devicePixelRatio. On memory hit it promotes to MRU and returns a copy.
// On memory miss it probes disk; on disk hit it decodes, promotes into
// memory, touches the file's atime, and returns it. Otherwise returns
// (Bitmap{}, false).
func (c *Cache) Get(path string, mtime time.Time, size int64, targetSize int, devicePixelRatio float64) (Bitmap, bool) {
	key := Key(path, mtime.UnixNano(), size, targetSize, devicePixelRatio, c.cacheVersion)

	if v, ok := c.mem.Get(key); ok {
		src := v.(Bitmap)
		if src.Image == nil {
			return src, true
		}
		dst := image.NewRGBA(src.Image.Bounds())
		draw.Draw(dst, dst.Bounds(), src.Image, src.Image.Bounds().Min, draw.Src)
		return Bitmap{Image: dst, Bytes: src.Bytes}, true
	}

	for _, ext := range diskExtensions {
		diskPath := filepath.Join(c.dir, key+ext)
		f, err := os.Open(diskPath)
		if err != nil {
			continue
		}
		img, _, decErr := image.Decode(f)
		f.Close()
		if decErr != nil {
			c.logger.Warn("thumbnail: failed to decode disk entry", "path", diskPath, "error", decErr)
			continue
		}
		bmp := Bitmap{Image: img, Bytes: bitmapBytes(img)}
		c.mem.Put(key, bmp)
		now := time.Now()
		_ = os.Chtimes(diskPath, now, now)
		return bmp, true
	}

	return Bitmap{}, false
}

// Put inserts bmp into the memory tier (evicting as needed) and writes it
// to disk atomically via temp-file-then-rename. A disk-cleanup pass is
// scheduled if one is not already pending.
func (c *Cache) Put(path string, mtime time.Time, size int64, targetSize int, devicePixelRatio float64, bmp Bitmap) error {
	key := Key(path, mtime.UnixNano(), size, targetSize, devicePixelRatio, c.cacheVersion)
	c.mem.Put(key, bmp)

	diskPath := filepath.Join(c.dir, key+".png")
	var buf bytes.Buffer
	if err := png.Encode(&buf, bmp.Image); err != nil {
		return fmt.Errorf("thumbnail: encode: %w", err)
	}

	t, err := renameio.TempFile(c.dir, diskPath)
	if err != nil {
		return fmt.Errorf("thumbnail: create temp: %w", err)
	}
	defer t.Cleanup()
	if _, err := t.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("thumbnail: write temp: %w", err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("thumbnail: atomic replace: %w", err)
	}

	c.scheduleCleanup()
	return nil
}

// scheduleCleanup triggers a disk-cleanup pass unless one is already
// pending, using singleflight so concurrent Put calls collapse onto a
// single pass.
func (c *Cache) scheduleCleanup() {
	go func() {
		_, _, _ = c.cleanupGroup.Do("cleanup", func() (any, error) {
			c.cleanupDisk()
			return nil, nil
		})
	}()
}

type diskFile struct {
	path  string
	atime time.Time
}

// cleanupDisk enumerates the disk tier, sorts by atime ascending, and
// deletes the oldest files until at most maxDiskItems remain.
func (c *Cache) cleanupDisk() {
	var files []diskFile
	err := filepath.WalkDir(c.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		files = append(files, diskFile{path: p, atime: accessTime(info)})
		return nil
	})
	if err != nil {
		c.logger.Warn("thumbnail: cleanup walk failed", "dir", c.dir, "error", err)
		return
	}

	if len(files) <= c.maxDiskItems {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].atime.Before(files[j].atime) })
	toDelete := len(files) - c.maxDiskItems
	for i := 0; i < toDelete; i++ {
		if err := os.Remove(files[i].path); err != nil {
			c.logger.Warn("thumbnail: cleanup remove failed", "path", files[i].path, "error", err)
		}
	}
}
