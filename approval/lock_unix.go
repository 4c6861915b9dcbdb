//go:build !windows

package approval

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// withFileLock runs fn holding an exclusive flock on path.
func withFileLock(path string, fn func() error) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return &StoreError{Path: path, Op: "lock", Err: err}
	}
	defer f.Close()

	if err := flock(f, unix.LOCK_EX); err != nil {
		return &StoreError{Path: path, Op: "lock", Err: err}
	}
	defer func() {
		if err := flock(f, unix.LOCK_UN); err != nil {
			slog.Error("failed to unlock approval state", "path", path, "error", err)
		}
	}()
	return fn()
}

func flock(f *os.File, how int) error {
	fd := int(f.Fd())
	for {
		err := unix.Flock(fd, how)
		if err == nil || err != unix.EINTR {
			return err
		}
	}
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}
	defer d.Close()
	return d.Sync()
}
