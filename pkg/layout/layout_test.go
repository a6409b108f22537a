package layout

import (
	"path/filepath"
	"testing"
)

func TestFolder(t *testing.T) {
	testCases := []struct {
		snapshot string
		full     bool
		want     string
	}{
		{"data/test@20200515121005", false, "20200515121005"},
		{"data/test@20200515121005", true, "20200515121005-full"},
		{"tank@manual", true, "manual-full"},
	}
	for _, tc := range testCases {
		if got := Folder(tc.snapshot, tc.full); got != tc.want {
			t.Errorf("Folder(%q, %v): expected %q, got %q", tc.snapshot, tc.full, tc.want, got)
		}
	}
}

func TestFilePrefix(t *testing.T) {
	if got := FilePrefix("data/test/nested@20200515121005"); got != "data-test-nested@20200515121005.zfs.gpg." {
		t.Errorf("unexpected prefix %q", got)
	}
}

func TestPaths(t *testing.T) {
	folder, prefix := Paths("/var/backups", "data/test@20200515121005", false)
	if folder != filepath.Join("/var/backups", "20200515121005") {
		t.Errorf("unexpected folder %s", folder)
	}
	if prefix != filepath.Join("/var/backups", "20200515121005", "data-test@20200515121005.zfs.gpg.") {
		t.Errorf("unexpected prefix %s", prefix)
	}
}

func TestCandidates(t *testing.T) {
	got := Candidates("data/test@20200515121005")
	if len(got) != 2 || got[0] != "20200515121005" || got[1] != "20200515121005-full" {
		t.Errorf("unexpected candidates %v", got)
	}
}

func TestChunkName(t *testing.T) {
	if got := ChunkName("p.", 0); got != "p.0000" {
		t.Errorf("unexpected chunk name %s", got)
	}
	if got := ChunkName("p.", 42); got != "p.0042" {
		t.Errorf("unexpected chunk name %s", got)
	}
	if got := ChunkName("p.", MaxChunks-1); got != "p.9999" {
		t.Errorf("unexpected chunk name %s", got)
	}
}
