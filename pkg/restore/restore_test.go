package restore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/runner/runnertest"
	"github.com/paulschiretz/zfs2cloud/pkg/streamcompression"
)

func writeChunks(t *testing.T, dir string, data []byte, size int) {
	t.Helper()
	for i := 0; len(data) > 0; i++ {
		n := min(size, len(data))
		name := filepath.Join(dir, fmt.Sprintf("data-test@1.zfs.gpg.%04d", i))
		if err := os.WriteFile(name, data[:n], 0600); err != nil {
			t.Fatal(err)
		}
		data = data[n:]
	}
}

func TestRestore(t *testing.T) {
	t.Setenv("ZFS_PATH", "zfs")
	t.Setenv("GPG_PATH", "gpg")

	testCases := []struct {
		name   string
		format streamcompression.Format
	}{
		{"Raw stream", streamcompression.None},
		{"Zstd stream", streamcompression.Zstd},
		{"Gzip stream", streamcompression.Gzip},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			payload := strings.Repeat("zfs stream ", 100)
			var encoded bytes.Buffer
			if err := streamcompression.Compress(&encoded, strings.NewReader(payload), tc.format, streamcompression.Default); err != nil {
				t.Fatal(err)
			}

			dir := t.TempDir()
			writeChunks(t, dir, encoded.Bytes(), 256)
			if err := os.Mkdir(filepath.Join(dir, "subdir"), 0700); err != nil {
				t.Fatal(err)
			}

			// The fake gpg passes its input through unchanged.
			fake := runnertest.New()
			if err := NewRestorer(fake).Restore(context.Background(), "data/restored", []string{dir}, []byte("123456"), false); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			recv, ok := fake.Find("zfs recv data/restored")
			if !ok {
				t.Fatalf("expected zfs recv, got %v", fake.Lines())
			}
			if string(recv.Stdin) != payload {
				t.Errorf("zfs recv got %d bytes, want %d", len(recv.Stdin), len(payload))
			}
			gpg, _ := fake.Find("gpg")
			if gpg.Line() != "gpg --decrypt --batch --passphrase-fd 3" || gpg.Secret != "123456" {
				t.Errorf("unexpected gpg call %q secret %q", gpg.Line(), gpg.Secret)
			}
		})
	}
}

func TestRestore_DryRun(t *testing.T) {
	dir := t.TempDir()
	writeChunks(t, dir, []byte("data"), 2)
	fake := runnertest.New()
	var logs bytes.Buffer
	plog.SetOutput(&logs)
	t.Cleanup(func() { plog.SetOutput(os.Stderr) })

	if err := NewRestorer(fake).Restore(context.Background(), "data/restored", []string{dir}, []byte("s3cr3t-passphrase"), true); err != nil {
		t.Fatal(err)
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("expected no commands in dry run, got %v", fake.Lines())
	}
	if strings.Contains(logs.String(), "s3cr3t-passphrase") || !strings.Contains(logs.String(), "--passphrase *****") {
		t.Errorf("expected the passphrase to be masked, got:\n%s", logs.String())
	}
}

func TestRestore_Failure(t *testing.T) {
	t.Setenv("GPG_PATH", "gpg")
	dir := t.TempDir()
	writeChunks(t, dir, bytes.Repeat([]byte("x"), 1<<16), 1<<14)
	fake := runnertest.New()
	fake.Errors["gpg"] = errors.New("bad passphrase")

	if err := NewRestorer(fake).Restore(context.Background(), "data/restored", []string{dir}, []byte("x"), false); err == nil {
		t.Error("expected decryption failure to propagate")
	}
}

func TestValidateFolders(t *testing.T) {
	dir := t.TempDir()
	if err := ValidateFolders([]string{dir}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	missing := filepath.Join(dir, "missing")
	if err := ValidateFolders([]string{dir, missing}); err == nil || !strings.Contains(err.Error(), missing+" is not a valid directory") {
		t.Errorf("expected missing folder error, got %v", err)
	}
	if err := ValidateFolders(nil); err == nil {
		t.Error("expected an error for no folders")
	}
}

func TestRestore_EmptyFolder(t *testing.T) {
	err := NewRestorer(runnertest.New()).Restore(context.Background(), "data/restored", []string{t.TempDir()}, []byte("x"), false)
	if err == nil || !strings.Contains(err.Error(), "no chunk files") {
		t.Errorf("expected empty folder error, got %v", err)
	}
}

func TestPromptPassphrase(t *testing.T) {
	orig := readPassword
	readPassword = func(int) ([]byte, error) { return []byte("123456"), nil }
	t.Cleanup(func() { readPassword = orig })

	var out bytes.Buffer
	pw, err := PromptPassphrase(&out)
	if err != nil {
		t.Fatal(err)
	}
	if string(pw) != "123456" {
		t.Errorf("unexpected passphrase %q", pw)
	}
	if !strings.HasPrefix(out.String(), "Encryption passphrase: ") {
		t.Errorf("unexpected prompt %q", out.String())
	}
}

func TestRestore_Metrics(t *testing.T) {
	t.Setenv("ZFS_PATH", "zfs")
	t.Setenv("GPG_PATH", "gpg")
	var logs bytes.Buffer
	plog.SetOutput(&logs)
	t.Cleanup(func() { plog.SetOutput(os.Stderr) })

	dir := t.TempDir()
	writeChunks(t, dir, []byte("0123456789"), 4)

	r := NewRestorer(runnertest.New(), WithMetrics(true))
	if err := r.Restore(context.Background(), "data/restored", []string{dir}, []byte("x"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := logs.String()
	if !strings.Contains(out, "Restore finished") || !strings.Contains(out, "chunks_written=3") {
		t.Errorf("expected a restore summary with 3 chunks, got:\n%s", out)
	}
}
