package thumbnail

import (
	"os"
	"syscall"
	"time"
)

// accessTime extracts the file's atime for LRU-by-atime disk cleanup.
// It reads syscall.Stat_t.Atim, a field that exists on Linux only, so this
// file does not compile for Windows or macOS. ModTime is used when
// info.Sys() is not a *syscall.Stat_t.
func accessTime(info os.FileInfo) time.Time {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(stat.Atim.Sec, stat.Atim.Nsec)
	}
	return info.ModTime()
}
