package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// acquireFileLock takes an OS advisory lock (flock) on path+".lock",
// shared for reads, exclusive for writes. No file-locking library appears
// anywhere in the example pack, so this uses golang.org/x/sys/unix
// directly — already a transitive dependency of gopsutil across the
// corpus — rather than a hand-rolled syscall wrapper; see DESIGN.md.
func acquireFileLock(path string, exclusive bool) (func(), error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open lock file: %w", err)
	}

	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: flock: %w", err)
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
