// Package lockfile serializes runs of the backup sequence with a marker file.
//
// The lock is advisory: it is acquired by atomically creating the file and
// released by removing it. There is no expiry; a lock left behind by a
// crashed run has to be removed by hand.
package lockfile

import (
	"errors"
	"fmt"
	"os"

	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/util"
)

// ErrLockHeld is returned by Acquire when the lock file already exists.
var ErrLockHeld = errors.New("lockfile already exists!")

// Acquire creates the lock file at path. In dry run mode it does nothing.
func Acquire(path string, dryRun bool) error {
	plog.Debug("creating lock file", "path", path)
	if dryRun {
		return nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, util.PrivateFilePerms)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrLockHeld
		}
		return fmt.Errorf("failed to create lock file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to create lock file %s: %w", path, err)
	}
	plog.Debug("lock acquired")
	return nil
}

// Release removes the lock file at path. Releasing a lock that is not held
// is not an error. In dry run mode it does nothing.
func Release(path string, dryRun bool) error {
	plog.Debug("deleting lock file", "path", path)
	if dryRun {
		return nil
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file %s: %w", path, err)
	}
	plog.Debug("lock file removed")
	return nil
}

// Held reports whether the lock file at path exists.
func Held(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
