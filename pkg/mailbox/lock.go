package mailbox

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"omegaclaw/pkg/utils"
)

// lockPath returns the sidecar lock file guarding path. Writes replace the
// target by rename, so the lock cannot live on the target inode itself.
func lockPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".lock")
}

// acquire takes an advisory lock on path's sidecar. how is unix.LOCK_SH or unix.LOCK_EX.
func acquire(path string, how int) (func(), error) {
	f, err := os.OpenFile(lockPath(path), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock for %s: %w", path, err)
	}
	for {
		err = unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

// readLocked reads path under a shared lock.
func readLocked(path string) ([]byte, error) {
	unlock, err := acquire(path, unix.LOCK_SH)
	if err != nil {
		return nil, err
	}
	defer unlock()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers check os.IsNotExist
	}
	return data, nil
}

// writeLocked replaces path wholesale under an exclusive lock.
func writeLocked(path string, data []byte) error {
	unlock, err := acquire(path, unix.LOCK_EX)
	if err != nil {
		return err
	}
	defer unlock()
	if err := utils.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// updateLocked performs a read-modify-write of path under one exclusive lock.
// fn receives nil when the file does not exist.
func updateLocked(path string, fn func(old []byte) ([]byte, error)) error {
	unlock, err := acquire(path, unix.LOCK_EX)
	if err != nil {
		return err
	}
	defer unlock()

	old, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	next, err := fn(old)
	if err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(path, next, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// appendLocked appends data to path under an exclusive lock.
func appendLocked(path string, data []byte) error {
	unlock, err := acquire(path, unix.LOCK_EX)
	if err != nil {
		return err
	}
	defer unlock()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return nil
}

// removeLocked deletes path and its sidecar under an exclusive lock.
func removeLocked(path string) error {
	unlock, err := acquire(path, unix.LOCK_EX)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	unlock()
	_ = os.Remove(lockPath(path))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
