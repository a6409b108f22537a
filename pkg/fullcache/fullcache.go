// Package fullcache persists which snapshot was last exported in full.
// The file holds a two element JSON array: ["pool/fs@id", "YYYY-MM-DD HH:MM:SS"].
package fullcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/zfs2cloud/pkg/util"
)

// TimeLayout is the textual form of the creation time in the cache file.
const TimeLayout = "2006-01-02 15:04:05"

// Record identifies the last full export.
type Record struct {
	Snapshot string
	Creation time.Time
}

// Read returns the record stored at path. ok is false if the file does not exist.
func Read(path string) (rec Record, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("could not read full backup cache %s: %w", path, err)
	}

	var fields []string
	if err := json.Unmarshal(data, &fields); err != nil {
		return Record{}, false, fmt.Errorf("could not parse full backup cache %s: %w. It may be corrupt", path, err)
	}
	if len(fields) != 2 {
		return Record{}, false, fmt.Errorf("could not parse full backup cache %s: expected 2 fields, got %d", path, len(fields))
	}

	creation, err := time.ParseInLocation(TimeLayout, fields[1], time.Local)
	if err != nil {
		return Record{}, false, fmt.Errorf("could not parse creation time in full backup cache %s: %w", path, err)
	}
	return Record{Snapshot: fields[0], Creation: creation}, true, nil
}

// Encode renders rec the way it is stored on disk. The time is truncated to seconds.
func Encode(rec Record) ([]byte, error) {
	return json.Marshal([]string{rec.Snapshot, rec.Creation.Format(TimeLayout)})
}

// Write replaces the record at path. The new content is written to a
// temporary file in the same directory and renamed over the old one.
func Write(path string, rec Record) error {
	data, err := Encode(rec)
	if err != nil {
		return fmt.Errorf("could not encode full backup cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".last_full_backup-*")
	if err != nil {
		return fmt.Errorf("could not write full backup cache %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write full backup cache %s: %w", path, err)
	}
	if err := tmp.Chmod(util.PrivateFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write full backup cache %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not write full backup cache %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("could not replace full backup cache %s: %w", path, err)
	}
	return nil
}
