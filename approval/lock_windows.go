//go:build windows

package approval

import (
	"log/slog"
	"os"

	"golang.org/x/sys/windows"
)

// withFileLock runs fn holding an exclusive LockFileEx lock on path.
func withFileLock(path string, fn func() error) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return &StoreError{Path: path, Op: "lock", Err: err}
	}
	defer f.Close()

	h := windows.Handle(f.Fd())
	if err := windows.LockFileEx(h, windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, &windows.Overlapped{}); err != nil {
		return &StoreError{Path: path, Op: "lock", Err: err}
	}
	defer func() {
		if err := windows.UnlockFileEx(h, 0, 1, 0, &windows.Overlapped{}); err != nil {
			slog.Error("failed to unlock approval state", "path", path, "error", err)
		}
	}()
	return fn()
}

// Directory handles cannot be flushed on Windows; MoveFileEx is already
// durable for a same-volume rename.
func syncDir(string) error {
	return nil
}
