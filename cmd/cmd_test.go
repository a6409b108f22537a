package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulschiretz/zfs2cloud/pkg/config"
	"github.com/paulschiretz/zfs2cloud/pkg/flagparse"
	"github.com/paulschiretz/zfs2cloud/pkg/plog"
	"github.com/paulschiretz/zfs2cloud/pkg/runner/runnertest"
	"github.com/paulschiretz/zfs2cloud/pkg/step"
)

// writeConfig writes a minimal valid configuration with the given sequence
// and returns its path and the intermediate directory.
func writeConfig(t *testing.T, sequence string) (string, string) {
	t.Helper()
	t.Setenv("ZFS_PATH", "zfs")
	t.Setenv("GPG_PATH", "gpg1")

	dir := t.TempDir()
	baseDir := filepath.Join(dir, "intermediate")
	if err := os.Mkdir(baseDir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "rclone.conf"), []byte("#"), 0600); err != nil {
		t.Fatal(err)
	}
	body := "[main]\n" +
		"encryption_passphrase = 123456\n" +
		"zfs_fs = data/test\n" +
		"intermediate_basedir = " + baseDir + "\n" +
		"remote = b2:bucket/whatever\n" +
		"rclone_conf = ./rclone.conf\n\n" +
		"[backup_sequences]\n" + sequence
	path := filepath.Join(dir, "backup.ini")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path, baseDir
}

func quietLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	plog.SetOutput(&buf)
	t.Cleanup(func() { plog.SetOutput(os.Stderr) })
	return &buf
}

func TestLoadConfig_Errors(t *testing.T) {
	quietLogs(t)
	testCases := []struct {
		name          string
		flagMap       map[string]interface{}
		errorContains string
	}{
		{"No config", map[string]interface{}{}, "must specify --config or ZFS_BACKUP_CONFIG"},
		{"Missing file", map[string]interface{}{"config": filepath.Join(t.TempDir(), "nope.ini")}, "is not a valid file"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(tc.flagMap)
			var cfgErr *config.Error
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *config.Error, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.errorContains) {
				t.Errorf("expected error to contain %q, got %q", tc.errorContains, err.Error())
			}
		})
	}
}

func TestLoadConfig_MergesFlags(t *testing.T) {
	quietLogs(t)
	path, _ := writeConfig(t, "01 = lock\n")

	cfg, err := LoadConfig(map[string]interface{}{"config": path, "dry-run": true, "metrics": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Runtime.DryRun || !cfg.Runtime.Metrics {
		t.Errorf("expected runtime flags to be merged, got %+v", cfg.Runtime)
	}
	if len(cfg.Sequence) != 1 || cfg.Sequence[0].Kind != step.Lock {
		t.Errorf("unexpected sequence %+v", cfg.Sequence)
	}
}

func TestRunStep_Snapshot(t *testing.T) {
	quietLogs(t)
	path, _ := writeConfig(t, "01 = snapshot\n")
	fake := runnertest.New()

	if err := RunStep(context.Background(), map[string]interface{}{"config": path}, step.Snapshot, fake); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := fake.Mutations()
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "zfs snapshot data/test@") {
		t.Errorf("unexpected commands %v", lines)
	}
}

func TestRunStep_ExportOptions(t *testing.T) {
	quietLogs(t)
	path, _ := writeConfig(t, "01 = lock\n")
	fake := runnertest.New()
	fake.Outputs["zfs list"] = ""

	flagMap := map[string]interface{}{"config": path, flagparse.KeyStepOptions: step.Options{Incremental: true}}
	err := RunStep(context.Background(), flagMap, step.ExportIntermediate, fake)
	if err == nil || !strings.Contains(err.Error(), "no existing snapshots") {
		t.Errorf("expected the export to fail without snapshots, got %v", err)
	}
}

func TestRunPerform_DryRun(t *testing.T) {
	logs := quietLogs(t)
	path, baseDir := writeConfig(t, "01 = lock\n02 = snapshot\n03 = unlock\n")
	fake := runnertest.New()

	if err := RunPerform(context.Background(), map[string]interface{}{"config": path, "dry-run": true}, fake); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("expected no commands in dry run, got %v", fake.Lines())
	}
	if _, err := os.Stat(filepath.Join(baseDir, config.LockFileName)); !os.IsNotExist(err) {
		t.Error("dry run must not leave a lock file")
	}
	if !strings.Contains(logs.String(), "in dry run mode") {
		t.Errorf("expected dry run notice, got:\n%s", logs.String())
	}
}

func TestRunPerform_ConfigError(t *testing.T) {
	quietLogs(t)
	err := RunPerform(context.Background(), map[string]interface{}{}, runnertest.New())
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected *config.Error, got %v", err)
	}
}

func stubPrompt(t *testing.T, passphrase string, called *bool) {
	t.Helper()
	old := promptPassphrase
	promptPassphrase = func(io.Writer) ([]byte, error) {
		*called = true
		return []byte(passphrase), nil
	}
	t.Cleanup(func() { promptPassphrase = old })
}

func TestRunRestore(t *testing.T) {
	quietLogs(t)
	t.Setenv("ZFS_PATH", "zfs")
	t.Setenv("GPG_PATH", "gpg")

	var prompted bool
	stubPrompt(t, "123456", &prompted)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "data-test@1.zfs.gpg.0000"), []byte("stream"), 0600); err != nil {
		t.Fatal(err)
	}
	fake := runnertest.New()

	flagMap := map[string]interface{}{"zfs-fs": "data/restored", flagparse.KeyDirs: []string{dir}}
	if err := RunRestore(context.Background(), flagMap, fake); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !prompted {
		t.Error("expected the passphrase to be prompted for")
	}
	recv, ok := fake.Find("zfs recv data/restored")
	if !ok || string(recv.Stdin) != "stream" {
		t.Errorf("expected the stream to reach zfs recv, got %v", fake.Lines())
	}
}

func TestRunRestore_ValidatesBeforePrompt(t *testing.T) {
	quietLogs(t)
	var prompted bool
	stubPrompt(t, "x", &prompted)

	flagMap := map[string]interface{}{"zfs-fs": "data/restored", flagparse.KeyDirs: []string{filepath.Join(t.TempDir(), "missing")}}
	err := RunRestore(context.Background(), flagMap, runnertest.New())
	if err == nil || !strings.Contains(err.Error(), "is not a valid directory") {
		t.Errorf("expected invalid directory error, got %v", err)
	}
	if prompted {
		t.Error("the passphrase must not be asked for before the folders are validated")
	}
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	if err := RunVersion(&out, "zfs2cloud", "1.2.3"); err != nil {
		t.Fatal(err)
	}
	if out.String() != "zfs2cloud version 1.2.3\n" {
		t.Errorf("unexpected output %q", out.String())
	}
}
