package upload

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/paulschiretz/zfs2cloud/pkg/layout"
	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/zfs"
)

// ErrNoSnapshots is returned when there is no snapshot to upload.
var ErrNoSnapshots = errors.New("cannot upload-intermediate-to-remote when there are no existing snapshots")

// ValidationError is returned when the requested snapshot does not belong to the configured filesystem.
type ValidationError struct {
	Snapshot   string
	Filesystem string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s should start with %s but doesn't", e.Snapshot, e.Filesystem)
}

// AmbiguousOrMissingIntermediateError is returned when a snapshot has no
// export folder, or both a full and an incremental one.
type AmbiguousOrMissingIntermediateError struct {
	Found []string
}

func (e *AmbiguousOrMissingIntermediateError) Error() string {
	return fmt.Sprintf("cannot find the snapshot intermediate or have too many candidates: %v", e.Found)
}

// Select returns the name of the export folder under baseDir that holds
// requested, or the newest snapshot if requested is empty. Exactly one of the
// snapshot's full and incremental folders must exist.
func Select(baseDir, fs string, snapshots []zfs.Snapshot, requested string) (string, error) {
	if len(snapshots) == 0 {
		return "", ErrNoSnapshots
	}

	name := requested
	if name == "" {
		name = snapshots[0].Name
	}
	if !strings.HasPrefix(name, fs) {
		return "", &ValidationError{Snapshot: name, Filesystem: fs}
	}

	candidates := layout.Candidates(name)
	plog.Debug(fmt.Sprintf("looking for either %v in the intermediate basedir", candidates))

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to read intermediate directory %s: %w", baseDir, err)
	}

	found := []string{}
	for _, entry := range entries {
		if entry.IsDir() && slices.Contains(candidates, entry.Name()) {
			found = append(found, entry.Name())
		}
	}
	if len(found) != 1 {
		return "", &AmbiguousOrMissingIntermediateError{Found: found}
	}
	return found[0], nil
}
