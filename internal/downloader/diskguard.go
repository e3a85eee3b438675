package downloader

import (
	"github.com/shirou/gopsutil/v3/disk"
)

// DiskGuard checks free space before a download is allowed to stream,
// per §4.8's guard (fail before touching disk if free space is below
// disk_min_free_gb or the expected final size exceeds max_file_mb).
// Grounded on the teacher's internal/filesystem.Allocator, trimmed down
// to the check-only half: the spec's single-stream writer grows the
// target file incrementally rather than pre-truncating it, so the
// teacher's pre-allocation step has no equivalent here.
type DiskGuard struct {
	MinFreeBytes int64
	MaxFileBytes int64
}

// NewDiskGuard builds a guard from the configured minimum free gigabytes
// and maximum file megabytes.
func NewDiskGuard(minFreeGB float64, maxFileMB int) *DiskGuard {
	return &DiskGuard{
		MinFreeBytes: int64(minFreeGB * 1024 * 1024 * 1024),
		MaxFileBytes: int64(maxFileMB) * 1024 * 1024,
	}
}

// Check verifies dir's volume has room for expectedTotal bytes and that
// expectedTotal does not exceed the configured per-file cap. A zero or
// negative expectedTotal (unknown Content-Length) skips the size checks
// but still enforces the free-space floor using whatever is already
// known to be required.
func (g *DiskGuard) Check(dir string, expectedTotal int64) error {
	if expectedTotal > 0 && expectedTotal > g.MaxFileBytes {
		return resourceExhaustedf("file size %d exceeds max_file_mb limit (%d bytes)", expectedTotal, g.MaxFileBytes)
	}

	usage, err := disk.Usage(dir)
	if err != nil {
		return storageFaultf("check disk space for %s: %w", dir, err)
	}

	required := expectedTotal
	if required < g.MinFreeBytes {
		required = g.MinFreeBytes
	}
	if int64(usage.Free) < required {
		return resourceExhaustedf("disk low: %d bytes free, need at least %d", int64(usage.Free), required)
	}
	return nil
}
