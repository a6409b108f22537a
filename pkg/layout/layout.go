// Package layout maps snapshots to their place in the intermediate directory.
//
// A snapshot "data/test@20200515121005" exported in full lands in
//
//	<basedir>/20200515121005-full/data-test@20200515121005.zfs.gpg.0000
//	<basedir>/20200515121005-full/data-test@20200515121005.zfs.gpg.0001
//
// and an incremental export of it in "<basedir>/20200515121005/".
package layout

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FullSuffix marks folders that hold a full export.
const FullSuffix = "-full"

// Extension is appended to the chunk file prefix.
const Extension = ".zfs.gpg."

// ChunkSuffixLength is the number of digits of a chunk's numeric suffix.
const ChunkSuffixLength = 4

// MaxChunks is the number of chunk names with ChunkSuffixLength digits.
// Names beyond it would no longer sort in write order.
const MaxChunks = 10000

// Folder returns the folder name of a snapshot export.
func Folder(snapshot string, full bool) string {
	_, id, _ := strings.Cut(snapshot, "@")
	if full {
		id += FullSuffix
	}
	return id
}

// FilePrefix returns the prefix shared by all chunk files of a snapshot export.
func FilePrefix(snapshot string) string {
	return strings.ReplaceAll(snapshot, "/", "-") + Extension
}

// Paths returns the folder and chunk prefix of an export, both rooted at baseDir.
func Paths(baseDir, snapshot string, full bool) (folder, prefix string) {
	folder = filepath.Join(baseDir, Folder(snapshot, full))
	return folder, filepath.Join(folder, FilePrefix(snapshot))
}

// Candidates returns both folder names a snapshot may have been exported to.
// Callers that search the intermediate directory must consider both because
// the choice between full and incremental is not recorded anywhere else.
func Candidates(snapshot string) []string {
	return []string{Folder(snapshot, false), Folder(snapshot, true)}
}

// ChunkName returns the file name of the n-th chunk. n must be below MaxChunks.
func ChunkName(prefix string, n int) string {
	return fmt.Sprintf("%s%0*d", prefix, ChunkSuffixLength, n)
}
