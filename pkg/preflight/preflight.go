// Package preflight holds the checks that run before the intermediate
// directory is written to. They report problems with a clearer message than
// a failing os.MkdirAll or chunk write would.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeTestName is the file created and removed by CheckWritable.
const writeTestName = ".zfs2cloud-writetest.tmp"

// CheckDirAccessible validates that path exists and is a directory.
func CheckDirAccessible(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("intermediate directory %s does not exist", path)
		}
		return fmt.Errorf("cannot access intermediate directory %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("intermediate path %s is not a directory", path)
	}
	return nil
}

// CheckWritable ensures files can be created in path by creating and deleting
// a temporary file.
func CheckWritable(path string) error {
	tempFile := filepath.Join(path, writeTestName)
	f, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("intermediate directory %s is not writable: %w", path, err)
	}
	f.Close()
	_ = os.Remove(tempFile)
	return nil
}

// CheckIntermediateDir runs the checks needed before an export. The write
// test is skipped in dry run mode.
func CheckIntermediateDir(path string, dryRun bool) error {
	if err := CheckDirAccessible(path); err != nil {
		return err
	}
	if dryRun {
		return nil
	}
	return CheckWritable(path)
}
